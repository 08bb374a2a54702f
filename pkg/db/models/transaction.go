package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/library-backend/pkg/enums"
)

// Transaction is one borrowing event for one student. Its Status is derived
// from Items and is only written by the ledger after counting borrowed rows.
type Transaction struct {
	ID             uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	Code           string                  `gorm:"column:transaction_code;not null;uniqueIndex:transactions_transaction_code_key"`
	StudentID      uuid.UUID               `gorm:"column:student_id;type:uuid;not null;index"`
	Student        *Student                `gorm:"foreignKey:StudentID;references:ID"`
	BorrowedDate   time.Time               `gorm:"column:borrowed_date;not null"`
	DueDate        time.Time               `gorm:"column:due_date;not null"`
	ReturnDate     *time.Time              `gorm:"column:return_date"`
	Status         enums.TransactionStatus `gorm:"column:status;type:text;not null;default:'borrowed'"`
	ApprovalStatus enums.ApprovalStatus    `gorm:"column:approval_status;type:text;not null;default:'pending'"`
	ApprovedByID   *uuid.UUID              `gorm:"column:approved_by;type:uuid"`
	ApprovedAt     *time.Time              `gorm:"column:approved_at"`
	CreatedByID    *uuid.UUID              `gorm:"column:created_by;type:uuid"`
	ReminderSent   bool                    `gorm:"column:reminder_sent;not null;default:false"`
	Items          []TransactionItem       `gorm:"foreignKey:TransactionID;constraint:OnDelete:CASCADE"`
	CreatedAt      time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (t *Transaction) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// IsOverdue reports whether the loan is still out past its due date.
func (t Transaction) IsOverdue(now time.Time) bool {
	return t.Status != enums.TransactionStatusReturned && now.After(t.DueDate)
}

// TransactionItem is one physical copy within a transaction.
type TransactionItem struct {
	ID            uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	TransactionID uuid.UUID               `gorm:"column:transaction_id;type:uuid;not null;index"`
	BookID        uuid.UUID               `gorm:"column:book_id;type:uuid;not null;index"`
	Book          *Book                   `gorm:"foreignKey:BookID"`
	Status        enums.TransactionStatus `gorm:"column:status;type:text;not null;default:'borrowed'"`
	BorrowedDate  time.Time               `gorm:"column:borrowed_date;not null"`
	ReturnDate    *time.Time              `gorm:"column:return_date"`
}

func (i *TransactionItem) BeforeCreate(*gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
