package books

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/library-backend/internal/access"
	"github.com/angelmondragon/library-backend/internal/auditlog"
	"github.com/angelmondragon/library-backend/pkg/db"
	"github.com/angelmondragon/library-backend/pkg/db/models"
	"github.com/angelmondragon/library-backend/pkg/csvimport"
	"github.com/angelmondragon/library-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/library-backend/pkg/errors"
	"github.com/angelmondragon/library-backend/pkg/metrics"
	"github.com/angelmondragon/library-backend/pkg/pagination"
)

const (
	isbnConstraint = "isbn"

	minYear = 1000
	maxYear = 9999
)

// Service manages the catalog.
type Service interface {
	Create(ctx context.Context, actor access.Actor, input CreateInput) (*BookDTO, error)
	Update(ctx context.Context, actor access.Actor, id uuid.UUID, input UpdateInput) (*BookDTO, error)
	Delete(ctx context.Context, actor access.Actor, id uuid.UUID) error
	Get(ctx context.Context, actor access.Actor, id uuid.UUID) (*BookDTO, error)
	FindByISBN(ctx context.Context, actor access.Actor, isbn string) (*BookDTO, error)
	List(ctx context.Context, actor access.Actor, input ListInput) (*ListResult, error)
	Categories(ctx context.Context, actor access.Actor) ([]string, error)
	Import(ctx context.Context, actor access.Actor, src io.Reader) (*csvimport.Report, error)
	Export(ctx context.Context, actor access.Actor, category string, dst io.Writer) (*ExportResult, error)
	Template(dst io.Writer) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type auditRecorder interface {
	Record(ctx context.Context, tx *gorm.DB, entry auditlog.Entry) error
}

type service struct {
	repo    Repository
	tx      txRunner
	audit   auditRecorder
	metrics *metrics.CirculationMetrics
}

// NewService wires the catalog service. metrics may be nil.
func NewService(repo Repository, tx txRunner, audit auditRecorder, m *metrics.CirculationMetrics) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("book repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if audit == nil {
		return nil, fmt.Errorf("audit recorder required")
	}
	return &service{repo: repo, tx: tx, audit: audit, metrics: m}, nil
}

func (s *service) Create(ctx context.Context, actor access.Actor, input CreateInput) (*BookDTO, error) {
	if err := actor.Require(access.ManageCatalog); err != nil {
		return nil, err
	}
	book := models.Book{
		ISBN:            strings.TrimSpace(input.ISBN),
		Title:           strings.TrimSpace(input.Title),
		Author:          strings.TrimSpace(input.Author),
		Category:        strings.TrimSpace(input.Category),
		Publisher:       trimOptional(input.Publisher),
		YearPublished:   input.YearPublished,
		CopiesTotal:     input.CopiesTotal,
		CopiesAvailable: input.CopiesTotal,
		Description:     trimOptional(input.Description),
	}
	if book.ISBN == "" || book.Title == "" || book.Author == "" || book.Category == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "isbn, title, author and category are required")
	}
	if book.CopiesTotal < 1 {
		return nil, pkgerrors.InvalidField("copies_total", "must be a positive integer")
	}
	if err := checkYear(book.YearPublished); err != nil {
		return nil, err
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, &book); err != nil {
			return mapWriteError(err)
		}
		return s.audit.Record(ctx, tx, auditlog.Entry{
			ActorID:     actor.ActorRef(),
			Action:      enums.AdminLogActionBookAdd,
			Description: "Added book: " + book.Title,
		})
	})
	if err != nil {
		return nil, err
	}
	dto := toDTO(book)
	return &dto, nil
}

func (s *service) Update(ctx context.Context, actor access.Actor, id uuid.UUID, input UpdateInput) (*BookDTO, error) {
	if err := actor.Require(access.ManageCatalog); err != nil {
		return nil, err
	}

	var updated models.Book
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		book, err := repo.LockByID(ctx, id)
		if err != nil {
			return lookupError(err)
		}

		if input.ISBN != nil {
			book.ISBN = strings.TrimSpace(*input.ISBN)
		}
		if input.Title != nil {
			book.Title = strings.TrimSpace(*input.Title)
		}
		if input.Author != nil {
			book.Author = strings.TrimSpace(*input.Author)
		}
		if input.Category != nil {
			book.Category = strings.TrimSpace(*input.Category)
		}
		if input.Publisher != nil {
			book.Publisher = trimOptional(input.Publisher)
		}
		if input.YearPublished != nil {
			if err := checkYear(input.YearPublished); err != nil {
				return err
			}
			book.YearPublished = input.YearPublished
		}
		if input.Description != nil {
			book.Description = trimOptional(input.Description)
		}
		if input.CopiesTotal != nil {
			if err := resizeStock(book, *input.CopiesTotal); err != nil {
				return err
			}
		}

		if err := repo.Save(ctx, book); err != nil {
			return mapWriteError(err)
		}
		updated = *book
		return s.audit.Record(ctx, tx, auditlog.Entry{
			ActorID:     actor.ActorRef(),
			Action:      enums.AdminLogActionBookEdit,
			Description: "Updated book: " + book.Title,
		})
	})
	if err != nil {
		return nil, err
	}
	dto := toDTO(updated)
	return &dto, nil
}

// resizeStock applies a new copies_total, moving the shelf count by the same
// delta so copies on loan stay accounted for.
func resizeStock(book *models.Book, total int) error {
	if total < 1 {
		return pkgerrors.InvalidField("copies_total", "must be a positive integer")
	}
	onLoan := book.CopiesTotal - book.CopiesAvailable
	if total < onLoan {
		return pkgerrors.New(pkgerrors.CodeValidation, "copies_total cannot be lower than copies on loan").
			WithDetails(map[string]any{"on_loan": onLoan})
	}
	book.CopiesTotal = total
	book.CopiesAvailable = total - onLoan
	return nil
}

func checkYear(year *int) error {
	if year != nil && (*year < minYear || *year > maxYear) {
		return pkgerrors.InvalidField("year_published", fmt.Sprintf("must be between %d and %d", minYear, maxYear))
	}
	return nil
}

func (s *service) Delete(ctx context.Context, actor access.Actor, id uuid.UUID) error {
	if err := actor.Require(access.ManageCatalog); err != nil {
		return err
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		book, err := repo.LockByID(ctx, id)
		if err != nil {
			return lookupError(err)
		}
		outstanding, err := repo.CountOutstandingCopies(ctx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to check loans")
		}
		if outstanding > 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "book has copies in open transactions").
				WithDetails(map[string]any{"outstanding": outstanding})
		}
		if err := repo.Delete(ctx, id); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to delete book")
		}
		return s.audit.Record(ctx, tx, auditlog.Entry{
			ActorID:     actor.ActorRef(),
			Action:      enums.AdminLogActionBookDelete,
			Description: "Deleted book: " + book.Title,
		})
	})
}

func (s *service) Get(ctx context.Context, actor access.Actor, id uuid.UUID) (*BookDTO, error) {
	if !actor.Role.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authenticated actor required")
	}
	book, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err)
	}
	dto := toDTO(*book)
	return &dto, nil
}

// FindByISBN is the POS scanner lookup.
func (s *service) FindByISBN(ctx context.Context, actor access.Actor, isbn string) (*BookDTO, error) {
	if !actor.Can(access.OriginateTransactions) && !actor.Can(access.ManageCatalog) {
		return nil, actor.Require(access.OriginateTransactions)
	}
	isbn = strings.TrimSpace(isbn)
	if isbn == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "isbn is required")
	}
	book, err := s.repo.FindByISBN(ctx, isbn)
	if err != nil {
		return nil, lookupError(err)
	}
	dto := toDTO(*book)
	return &dto, nil
}

func (s *service) List(ctx context.Context, actor access.Actor, input ListInput) (*ListResult, error) {
	if !actor.Role.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authenticated actor required")
	}
	cursor, err := parseTitleCursor(input.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	filter := listFilter{
		Query:    input.Query,
		Category: strings.TrimSpace(input.Category),
		Shelved:  input.Shelved || !actor.Can(access.ManageCatalog),
	}

	limit := pagination.NormalizeLimit(input.Limit)
	rows, err := s.repo.List(ctx, filter, limit+1, cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to list books")
	}

	result := &ListResult{Books: make([]BookDTO, 0, len(rows))}
	if len(rows) > limit {
		last := rows[limit-1]
		result.NextCursor = encodeTitleCursor(titleCursor{Title: last.Title, ID: last.ID})
		rows = rows[:limit]
	}
	for _, row := range rows {
		result.Books = append(result.Books, toDTO(row))
	}
	return result, nil
}

func (s *service) Categories(ctx context.Context, actor access.Actor) ([]string, error) {
	if !actor.Role.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authenticated actor required")
	}
	categories, err := s.repo.Categories(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to list categories")
	}
	return categories, nil
}

func mapWriteError(err error) error {
	if db.IsUniqueViolation(err, isbnConstraint) {
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "a book with this ISBN already exists")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to save book")
}

func lookupError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "book not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to load book")
}

func trimOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
