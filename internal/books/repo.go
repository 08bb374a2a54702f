package books

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/library-backend/internal/repo"
	"github.com/angelmondragon/library-backend/pkg/db/models"
	"github.com/angelmondragon/library-backend/pkg/enums"
)

// Repository persists catalog rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, book *models.Book) error
	Save(ctx context.Context, book *models.Book) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Book, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.Book, error)
	FindByISBN(ctx context.Context, isbn string) (*models.Book, error)
	ExistingISBNs(ctx context.Context, isbns []string) (map[string]struct{}, error)
	List(ctx context.Context, filter listFilter, limit int, cursor *titleCursor) ([]models.Book, error)
	ListForExport(ctx context.Context, category string) ([]models.Book, error)
	Categories(ctx context.Context) ([]string, error)
	CountOutstandingCopies(ctx context.Context, bookID uuid.UUID) (int64, error)
}

type listFilter struct {
	Query    string
	Category string
	Shelved  bool
}

type repository struct {
	repo.Base
}

// NewRepository builds a catalog repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Bind(tx)}
}

func (r *repository) Create(ctx context.Context, book *models.Book) error {
	return r.DB(ctx).Create(book).Error
}

func (r *repository) Save(ctx context.Context, book *models.Book) error {
	return r.DB(ctx).Save(book).Error
}

func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.DB(ctx).Delete(&models.Book{}, "id = ?", id).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Book, error) {
	var book models.Book
	if err := r.DB(ctx).Where("id = ?", id).First(&book).Error; err != nil {
		return nil, err
	}
	return &book, nil
}

// LockByID reads the book holding its row lock until the surrounding
// transaction ends, so ledger stock updates cannot interleave.
func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.Book, error) {
	var book models.Book
	if err := r.ForUpdate(ctx).Where("id = ?", id).First(&book).Error; err != nil {
		return nil, err
	}
	return &book, nil
}

func (r *repository) FindByISBN(ctx context.Context, isbn string) (*models.Book, error) {
	var book models.Book
	if err := r.DB(ctx).Where("isbn = ?", isbn).First(&book).Error; err != nil {
		return nil, err
	}
	return &book, nil
}

func (r *repository) ExistingISBNs(ctx context.Context, isbns []string) (map[string]struct{}, error) {
	found := make(map[string]struct{})
	if len(isbns) == 0 {
		return found, nil
	}
	var rows []string
	if err := r.DB(ctx).Model(&models.Book{}).Where("isbn IN ?", isbns).Pluck("isbn", &rows).Error; err != nil {
		return nil, err
	}
	for _, isbn := range rows {
		found[isbn] = struct{}{}
	}
	return found, nil
}

func (r *repository) List(ctx context.Context, filter listFilter, limit int, cursor *titleCursor) ([]models.Book, error) {
	q := r.DB(ctx).Model(&models.Book{})
	if term := strings.ToLower(strings.TrimSpace(filter.Query)); term != "" {
		like := "%" + term + "%"
		q = q.Where("(LOWER(title) LIKE ? OR LOWER(author) LIKE ? OR LOWER(isbn) LIKE ?)", like, like, like)
	}
	if filter.Category != "" {
		q = q.Where("category = ?", filter.Category)
	}
	if filter.Shelved {
		q = q.Where("copies_total > 0")
	}
	if cursor != nil {
		q = q.Where("(title > ? OR (title = ? AND id > ?))", cursor.Title, cursor.Title, cursor.ID)
	}

	var books []models.Book
	if err := q.Order("title ASC").Order("id ASC").Limit(limit).Find(&books).Error; err != nil {
		return nil, err
	}
	return books, nil
}

func (r *repository) ListForExport(ctx context.Context, category string) ([]models.Book, error) {
	q := r.DB(ctx).Model(&models.Book{})
	if category != "" {
		q = q.Where("category = ?", category)
	}
	var books []models.Book
	if err := q.Order("title ASC").Order("id ASC").Find(&books).Error; err != nil {
		return nil, err
	}
	return books, nil
}

func (r *repository) Categories(ctx context.Context) ([]string, error) {
	var categories []string
	err := r.DB(ctx).
		Model(&models.Book{}).
		Distinct("category").
		Order("category ASC").
		Pluck("category", &categories).Error
	return categories, err
}

// CountOutstandingCopies counts items of this book still held by pending or
// approved transactions.
func (r *repository) CountOutstandingCopies(ctx context.Context, bookID uuid.UUID) (int64, error) {
	var count int64
	err := r.DB(ctx).
		Model(&models.TransactionItem{}).
		Joins("JOIN transactions ON transactions.id = transaction_items.transaction_id").
		Where("transaction_items.book_id = ? AND transaction_items.status = ? AND transactions.approval_status <> ?",
			bookID, enums.TransactionStatusBorrowed, enums.ApprovalStatusRejected).
		Count(&count).Error
	return count, err
}
