package circulation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/library-backend/pkg/db/models"
	"github.com/angelmondragon/library-backend/pkg/enums"
)

// MaintenanceRepository backs the scheduled jobs. Methods that write take the
// transaction explicitly so a job controls its own boundaries.
type MaintenanceRepository struct {
	db *gorm.DB
}

// NewMaintenanceRepository binds the scheduled-job queries to db.
func NewMaintenanceRepository(db *gorm.DB) *MaintenanceRepository {
	return &MaintenanceRepository{db: db}
}

// DeleteReturnedBefore removes fully returned transactions whose return date
// is older than cutoff, items first. It reports the transactions removed.
func (r *MaintenanceRepository) DeleteReturnedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	conn := r.conn(tx).WithContext(ctx)
	expired := conn.Model(&models.Transaction{}).
		Select("id").
		Where("status = ? AND return_date IS NOT NULL AND return_date < ?", enums.TransactionStatusReturned, cutoff)

	if err := conn.Where("transaction_id IN (?)", expired).Delete(&models.TransactionItem{}).Error; err != nil {
		return 0, err
	}
	res := conn.
		Where("status = ? AND return_date IS NOT NULL AND return_date < ?", enums.TransactionStatusReturned, cutoff).
		Delete(&models.Transaction{})
	return res.RowsAffected, res.Error
}

// ListDueReminders returns approved loans still out that were borrowed
// before cutoff and have not been reminded yet. Borrowers without an email
// are skipped.
func (r *MaintenanceRepository) ListDueReminders(ctx context.Context, cutoff time.Time, limit int) ([]models.Transaction, error) {
	var txns []models.Transaction
	err := r.db.WithContext(ctx).
		Preload("Student").
		Preload("Items", "status = ?", enums.TransactionStatusBorrowed).
		Preload("Items.Book").
		Joins("JOIN students ON students.id = transactions.student_id").
		Where("transactions.approval_status = ? AND transactions.status = ?",
			enums.ApprovalStatusApproved, enums.TransactionStatusBorrowed).
		Where("transactions.borrowed_date <= ? AND transactions.reminder_sent = ?", cutoff, false).
		Where("students.email IS NOT NULL AND students.email <> ''").
		Order("transactions.borrowed_date ASC").
		Limit(limit).
		Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}

// MarkReminderSent flags the transaction so it is not reminded again,
// whether or not the mail was delivered.
func (r *MaintenanceRepository) MarkReminderSent(ctx context.Context, tx *gorm.DB, id uuid.UUID) (int64, error) {
	res := r.conn(tx).WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND reminder_sent = ?", id, false).
		Update("reminder_sent", true)
	return res.RowsAffected, res.Error
}

func (r *MaintenanceRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}
