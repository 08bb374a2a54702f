package circulation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/library-backend/internal/repo"
	"github.com/angelmondragon/library-backend/pkg/db/models"
	"github.com/angelmondragon/library-backend/pkg/enums"
	"github.com/angelmondragon/library-backend/pkg/pagination"
)

// Repository is the persistence surface of the ledger. Every mutating method
// is expected to run on a repository bound to an open transaction.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindStudent(ctx context.Context, id uuid.UUID) (*models.Student, error)
	FindBooks(ctx context.Context, ids []uuid.UUID) ([]models.Book, error)

	CreateTransaction(ctx context.Context, txn *models.Transaction) error
	LockTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	FindTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	FindApprovedByCodePrefix(ctx context.Context, prefix string) (*models.Transaction, error)
	ListItems(ctx context.Context, transactionID uuid.UUID) ([]models.TransactionItem, error)

	ResolvePending(ctx context.Context, id uuid.UUID, to enums.ApprovalStatus, approver *uuid.UUID, at time.Time) (int64, error)
	DecrementAvailable(ctx context.Context, bookID uuid.UUID, n int, enforceFloor bool) (int64, error)
	IncrementAvailable(ctx context.Context, bookID uuid.UUID, n int) error
	MarkItemReturned(ctx context.Context, transactionID, itemID uuid.UUID, at time.Time) (int64, error)
	CountBorrowedItems(ctx context.Context, transactionID uuid.UUID) (int64, error)
	SetAggregateStatus(ctx context.Context, id uuid.UUID, status enums.TransactionStatus, returnDate *time.Time) error

	ListPending(ctx context.Context, limit int, cursor *pagination.Cursor) ([]models.Transaction, error)
	ListForStudent(ctx context.Context, studentID uuid.UUID, filter LoanFilter, now time.Time, limit int, cursor *pagination.Cursor) ([]models.Transaction, error)
	Stats(ctx context.Context, now time.Time) (Stats, error)
}

type repository struct {
	repo.Base
}

// NewRepository builds a ledger repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Bind(tx)}
}

func (r *repository) FindStudent(ctx context.Context, id uuid.UUID) (*models.Student, error) {
	var student models.Student
	if err := r.DB(ctx).Where("id = ?", id).First(&student).Error; err != nil {
		return nil, err
	}
	return &student, nil
}

func (r *repository) FindBooks(ctx context.Context, ids []uuid.UUID) ([]models.Book, error) {
	var books []models.Book
	if len(ids) == 0 {
		return books, nil
	}
	if err := r.DB(ctx).Where("id IN ?", ids).Find(&books).Error; err != nil {
		return nil, err
	}
	return books, nil
}

// CreateTransaction inserts the transaction and its items in one statement batch.
func (r *repository) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	return r.DB(ctx).Create(txn).Error
}

// LockTransaction reads the bare row with SELECT ... FOR UPDATE.
func (r *repository) LockTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.ForUpdate(ctx).
		Where("id = ?", id).
		First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) FindTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.DB(ctx).
		Preload("Student").
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("borrowed_date ASC").Order("id ASC") }).
		Preload("Items.Book").
		Where("id = ?", id).
		First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// FindApprovedByCodePrefix returns the most recent approved transaction whose
// code starts with prefix. Callers must pass an alphanumeric prefix.
func (r *repository) FindApprovedByCodePrefix(ctx context.Context, prefix string) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.DB(ctx).
		Preload("Student").
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("borrowed_date ASC").Order("id ASC") }).
		Preload("Items.Book").
		Where("transaction_code LIKE ?", prefix+"%").
		Where("approval_status = ?", enums.ApprovalStatusApproved).
		Order("borrowed_date DESC").
		First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) ListItems(ctx context.Context, transactionID uuid.UUID) ([]models.TransactionItem, error) {
	var items []models.TransactionItem
	err := r.DB(ctx).
		Preload("Book").
		Where("transaction_id = ?", transactionID).
		Order("borrowed_date ASC").
		Order("id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// ResolvePending moves a pending transaction to its review outcome. Zero rows
// affected means another reviewer got there first.
func (r *repository) ResolvePending(ctx context.Context, id uuid.UUID, to enums.ApprovalStatus, approver *uuid.UUID, at time.Time) (int64, error) {
	res := r.DB(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND approval_status = ?", id, enums.ApprovalStatusPending).
		Updates(map[string]any{
			"approval_status": to,
			"approved_by":     approver,
			"approved_at":     at,
			"updated_at":      at,
		})
	return res.RowsAffected, res.Error
}

// DecrementAvailable takes n copies off the shelf. With enforceFloor the
// update only applies while enough copies remain.
func (r *repository) DecrementAvailable(ctx context.Context, bookID uuid.UUID, n int, enforceFloor bool) (int64, error) {
	q := r.DB(ctx).Model(&models.Book{}).Where("id = ?", bookID)
	if enforceFloor {
		q = q.Where("copies_available >= ?", n)
	}
	res := q.Updates(map[string]any{
		"copies_available": gorm.Expr("copies_available - ?", n),
		"updated_at":       time.Now().UTC(),
	})
	return res.RowsAffected, res.Error
}

// IncrementAvailable puts n copies back, never above copies_total.
func (r *repository) IncrementAvailable(ctx context.Context, bookID uuid.UUID, n int) error {
	return r.DB(ctx).
		Model(&models.Book{}).
		Where("id = ?", bookID).
		Updates(map[string]any{
			"copies_available": gorm.Expr(
				"CASE WHEN copies_available + ? > copies_total THEN copies_total ELSE copies_available + ? END", n, n),
			"updated_at": time.Now().UTC(),
		}).Error
}

// MarkItemReturned flips a borrowed item. Zero rows affected means the item
// was already returned by a concurrent call.
func (r *repository) MarkItemReturned(ctx context.Context, transactionID, itemID uuid.UUID, at time.Time) (int64, error) {
	res := r.DB(ctx).
		Model(&models.TransactionItem{}).
		Where("id = ? AND transaction_id = ? AND status = ?", itemID, transactionID, enums.TransactionStatusBorrowed).
		Updates(map[string]any{
			"status":      enums.TransactionStatusReturned,
			"return_date": at,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) CountBorrowedItems(ctx context.Context, transactionID uuid.UUID) (int64, error) {
	var count int64
	err := r.DB(ctx).
		Model(&models.TransactionItem{}).
		Where("transaction_id = ? AND status = ?", transactionID, enums.TransactionStatusBorrowed).
		Count(&count).Error
	return count, err
}

func (r *repository) SetAggregateStatus(ctx context.Context, id uuid.UUID, status enums.TransactionStatus, returnDate *time.Time) error {
	return r.DB(ctx).
		Model(&models.Transaction{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":      status,
			"return_date": returnDate,
			"updated_at":  time.Now().UTC(),
		}).Error
}

func (r *repository) ListPending(ctx context.Context, limit int, cursor *pagination.Cursor) ([]models.Transaction, error) {
	q := r.DB(ctx).
		Preload("Student").
		Preload("Items.Book").
		Where("approval_status = ?", enums.ApprovalStatusPending)
	q = applyCursor(q, cursor)

	var txns []models.Transaction
	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}

func (r *repository) ListForStudent(ctx context.Context, studentID uuid.UUID, filter LoanFilter, now time.Time, limit int, cursor *pagination.Cursor) ([]models.Transaction, error) {
	q := r.DB(ctx).
		Preload("Items.Book").
		Where("student_id = ?", studentID)

	switch filter {
	case LoanFilterActive:
		q = q.Where("status = ? AND approval_status = ?", enums.TransactionStatusBorrowed, enums.ApprovalStatusApproved)
	case LoanFilterReturned:
		q = q.Where("status = ?", enums.TransactionStatusReturned)
	case LoanFilterOverdue:
		q = q.Where("status = ? AND approval_status = ? AND due_date < ?",
			enums.TransactionStatusBorrowed, enums.ApprovalStatusApproved, now)
	}
	q = applyCursor(q, cursor)

	var txns []models.Transaction
	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}

func (r *repository) Stats(ctx context.Context, now time.Time) (Stats, error) {
	var stats Stats
	db := r.DB(ctx)

	var copies struct {
		Titles    int64
		Total     int64
		Available int64
	}
	if err := db.Model(&models.Book{}).
		Select("COUNT(*) AS titles, COALESCE(SUM(copies_total), 0) AS total, COALESCE(SUM(copies_available), 0) AS available").
		Scan(&copies).Error; err != nil {
		return Stats{}, err
	}
	stats.TotalBooks = copies.Titles
	stats.TotalCopies = copies.Total
	stats.AvailableCopies = copies.Available

	if err := db.Model(&models.Student{}).Count(&stats.TotalStudents).Error; err != nil {
		return Stats{}, err
	}
	if err := db.Model(&models.Student{}).
		Where("user_id IS NOT NULL AND is_approved = ?", false).
		Count(&stats.PendingRegistrations).Error; err != nil {
		return Stats{}, err
	}

	err := db.Model(&models.TransactionItem{}).
		Joins("JOIN transactions ON transactions.id = transaction_items.transaction_id").
		Where("transaction_items.status = ? AND transactions.approval_status = ?",
			enums.TransactionStatusBorrowed, enums.ApprovalStatusApproved).
		Count(&stats.BorrowedItems).Error
	if err != nil {
		return Stats{}, err
	}

	if err := db.Model(&models.Transaction{}).
		Where("approval_status = ?", enums.ApprovalStatusPending).
		Count(&stats.PendingTransactions).Error; err != nil {
		return Stats{}, err
	}

	if err := db.Model(&models.Transaction{}).
		Where("approval_status = ? AND status = ?", enums.ApprovalStatusApproved, enums.TransactionStatusBorrowed).
		Count(&stats.ActiveTransactions).Error; err != nil {
		return Stats{}, err
	}

	if err := db.Model(&models.Transaction{}).
		Where("approval_status = ? AND status = ? AND due_date < ?",
			enums.ApprovalStatusApproved, enums.TransactionStatusBorrowed, now).
		Count(&stats.OverdueTransactions).Error; err != nil {
		return Stats{}, err
	}

	return stats, nil
}

func applyCursor(q *gorm.DB, cursor *pagination.Cursor) *gorm.DB {
	if cursor == nil {
		return q
	}
	return q.Where("(created_at < ? OR (created_at = ? AND id < ?))", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
}
