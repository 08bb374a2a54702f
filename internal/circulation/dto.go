package circulation

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/library-backend/pkg/db/models"
	"github.com/angelmondragon/library-backend/pkg/enums"
)

// CreateInput is a POS borrow request. A book id may repeat when the student
// borrows several copies of the same title.
type CreateInput struct {
	StudentID uuid.UUID   `json:"student_id" validate:"required"`
	BookIDs   []uuid.UUID `json:"book_ids" validate:"required,min=1,dive,required"`
}

// ReturnInput selects the items of one transaction being handed back.
type ReturnInput struct {
	TransactionID uuid.UUID   `json:"-"`
	ItemIDs       []uuid.UUID `json:"item_ids"`
}

// ReturnResult partitions the transaction's items after a return.
type ReturnResult struct {
	Transaction   TransactionDTO `json:"transaction"`
	Returned      []ItemDTO      `json:"returned"`
	StillBorrowed []ItemDTO      `json:"still_borrowed"`
	AllReturned   bool           `json:"all_returned"`
}

// LoanFilter narrows a student's loan history.
type LoanFilter string

const (
	LoanFilterAll      LoanFilter = "all"
	LoanFilterActive   LoanFilter = "active"
	LoanFilterReturned LoanFilter = "returned"
	LoanFilterOverdue  LoanFilter = "overdue"
)

// ParseLoanFilter maps raw query input to a LoanFilter, defaulting to all.
func ParseLoanFilter(value string) (LoanFilter, bool) {
	switch LoanFilter(value) {
	case "", LoanFilterAll:
		return LoanFilterAll, true
	case LoanFilterActive, LoanFilterReturned, LoanFilterOverdue:
		return LoanFilter(value), true
	}
	return "", false
}

// Stats are the dashboard counters.
type Stats struct {
	TotalBooks           int64 `json:"total_books"`
	TotalCopies          int64 `json:"total_copies"`
	AvailableCopies      int64 `json:"available_copies"`
	TotalStudents        int64 `json:"total_students"`
	PendingRegistrations int64 `json:"pending_registrations"`
	BorrowedItems        int64 `json:"borrowed_items"`
	PendingTransactions  int64 `json:"pending_transactions"`
	ActiveTransactions   int64 `json:"active_transactions"`
	OverdueTransactions  int64 `json:"overdue_transactions"`
}

// StudentSummary is the borrower shown alongside a transaction.
type StudentSummary struct {
	ID        uuid.UUID `json:"id"`
	StudentID string    `json:"student_id"`
	FullName  string    `json:"full_name"`
	Course    string    `json:"course"`
}

// BookSummary is the title shown on an item.
type BookSummary struct {
	ID     uuid.UUID `json:"id"`
	ISBN   string    `json:"isbn"`
	Title  string    `json:"title"`
	Author string    `json:"author"`
}

// ItemDTO is one borrowed copy.
type ItemDTO struct {
	ID           uuid.UUID               `json:"id"`
	BookID       uuid.UUID               `json:"book_id"`
	Book         *BookSummary            `json:"book,omitempty"`
	Status       enums.TransactionStatus `json:"status"`
	BorrowedDate time.Time               `json:"borrowed_date"`
	ReturnDate   *time.Time              `json:"return_date,omitempty"`
}

// TransactionDTO is the API view of a transaction.
type TransactionDTO struct {
	ID             uuid.UUID               `json:"id"`
	Code           string                  `json:"transaction_code"`
	StudentID      uuid.UUID               `json:"student_id"`
	Student        *StudentSummary         `json:"student,omitempty"`
	BorrowedDate   time.Time               `json:"borrowed_date"`
	DueDate        time.Time               `json:"due_date"`
	ReturnDate     *time.Time              `json:"return_date,omitempty"`
	Status         enums.TransactionStatus `json:"status"`
	ApprovalStatus enums.ApprovalStatus    `json:"approval_status"`
	ApprovedBy     *uuid.UUID              `json:"approved_by,omitempty"`
	ApprovedAt     *time.Time              `json:"approved_at,omitempty"`
	CreatedBy      *uuid.UUID              `json:"created_by,omitempty"`
	IsOverdue      bool                    `json:"is_overdue"`
	Items          []ItemDTO               `json:"items"`
}

// ListResult is one page of transactions.
type ListResult struct {
	Transactions []TransactionDTO `json:"transactions"`
	NextCursor   string           `json:"next_cursor,omitempty"`
}

func toItemDTO(item models.TransactionItem) ItemDTO {
	dto := ItemDTO{
		ID:           item.ID,
		BookID:       item.BookID,
		Status:       item.Status,
		BorrowedDate: item.BorrowedDate,
		ReturnDate:   item.ReturnDate,
	}
	if item.Book != nil {
		dto.Book = &BookSummary{
			ID:     item.Book.ID,
			ISBN:   item.Book.ISBN,
			Title:  item.Book.Title,
			Author: item.Book.Author,
		}
	}
	return dto
}

func toTransactionDTO(txn models.Transaction, now time.Time) TransactionDTO {
	dto := TransactionDTO{
		ID:             txn.ID,
		Code:           txn.Code,
		StudentID:      txn.StudentID,
		BorrowedDate:   txn.BorrowedDate,
		DueDate:        txn.DueDate,
		ReturnDate:     txn.ReturnDate,
		Status:         txn.Status,
		ApprovalStatus: txn.ApprovalStatus,
		ApprovedBy:     txn.ApprovedByID,
		ApprovedAt:     txn.ApprovedAt,
		CreatedBy:      txn.CreatedByID,
		IsOverdue:      txn.IsOverdue(now),
		Items:          make([]ItemDTO, 0, len(txn.Items)),
	}
	if txn.Student != nil {
		dto.Student = &StudentSummary{
			ID:        txn.Student.ID,
			StudentID: txn.Student.SchoolID,
			FullName:  txn.Student.FullName(),
			Course:    txn.Student.Course,
		}
	}
	for _, item := range txn.Items {
		dto.Items = append(dto.Items, toItemDTO(item))
	}
	return dto
}
