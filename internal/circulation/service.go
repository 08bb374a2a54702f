package circulation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/library-backend/internal/access"
	"github.com/angelmondragon/library-backend/internal/auditlog"
	"github.com/angelmondragon/library-backend/pkg/db"
	"github.com/angelmondragon/library-backend/pkg/db/models"
	"github.com/angelmondragon/library-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/library-backend/pkg/errors"
	"github.com/angelmondragon/library-backend/pkg/logger"
	"github.com/angelmondragon/library-backend/pkg/metrics"
	"github.com/angelmondragon/library-backend/pkg/pagination"
)

const (
	defaultMaxCodeAttempts = 5
	codeConstraint         = "transaction_code"
)

var errCodeCollision = errors.New("transaction code collision")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type auditRecorder interface {
	Record(ctx context.Context, tx *gorm.DB, entry auditlog.Entry) error
}

// Service is the transaction ledger: it owns approval state and the
// copies_available counts that approvals and returns move.
type Service interface {
	Create(ctx context.Context, actor access.Actor, input CreateInput) (*TransactionDTO, error)
	Approve(ctx context.Context, actor access.Actor, transactionID uuid.UUID) (*TransactionDTO, error)
	Reject(ctx context.Context, actor access.Actor, transactionID uuid.UUID) (*TransactionDTO, error)
	ReturnItems(ctx context.Context, actor access.Actor, input ReturnInput) (*ReturnResult, error)
	FindByCode(ctx context.Context, actor access.Actor, codePrefix string) (*TransactionDTO, error)
	Get(ctx context.Context, actor access.Actor, transactionID uuid.UUID) (*TransactionDTO, error)
	ListPending(ctx context.Context, actor access.Actor, params pagination.Params) (*ListResult, error)
	ListForStudent(ctx context.Context, actor access.Actor, studentID uuid.UUID, filter LoanFilter, params pagination.Params) (*ListResult, error)
	Stats(ctx context.Context, actor access.Actor) (*Stats, error)
}

// Options tunes the ledger.
type Options struct {
	LoanPeriod time.Duration
	// EnforceStockFloor makes approval fail when a book has fewer copies on
	// the shelf than the transaction needs. When false, approval decrements
	// unconditionally and only the schema CHECK constraint stops oversell.
	EnforceStockFloor bool
	MaxCodeAttempts   int
	Codes             CodeGenerator
	Now               func() time.Time
	Metrics           *metrics.CirculationMetrics
	Logger            *logger.Logger
}

type service struct {
	repo  Repository
	tx    txRunner
	audit auditRecorder

	loanPeriod      time.Duration
	enforceFloor    bool
	maxCodeAttempts int
	codes           CodeGenerator
	now             func() time.Time
	metrics         *metrics.CirculationMetrics
	logg            *logger.Logger
}

// NewService builds the ledger with the required dependencies.
func NewService(repo Repository, tx txRunner, audit auditRecorder, opts Options) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("circulation repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if audit == nil {
		return nil, fmt.Errorf("audit recorder required")
	}
	if opts.LoanPeriod <= 0 {
		return nil, fmt.Errorf("loan period must be positive")
	}
	if opts.Codes == nil {
		return nil, fmt.Errorf("code generator required")
	}
	if opts.MaxCodeAttempts <= 0 {
		opts.MaxCodeAttempts = defaultMaxCodeAttempts
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &service{
		repo:            repo,
		tx:              tx,
		audit:           audit,
		loanPeriod:      opts.LoanPeriod,
		enforceFloor:    opts.EnforceStockFloor,
		maxCodeAttempts: opts.MaxCodeAttempts,
		codes:           opts.Codes,
		now:             opts.Now,
		metrics:         opts.Metrics,
		logg:            opts.Logger,
	}, nil
}

// IsOverdue reports whether txn is still out past its due date.
func IsOverdue(txn models.Transaction, now time.Time) bool {
	return txn.IsOverdue(now)
}

func (s *service) Create(ctx context.Context, actor access.Actor, input CreateInput) (*TransactionDTO, error) {
	if err := actor.Require(access.OriginateTransactions); err != nil {
		return nil, err
	}
	if input.StudentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "student id is required")
	}
	if len(input.BookIDs) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one book is required")
	}
	for _, id := range input.BookIDs {
		if id == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "book ids must not be empty")
		}
	}

	var created uuid.UUID
	for attempt := 1; attempt <= s.maxCodeAttempts; attempt++ {
		now := s.now().UTC()
		code, err := s.codes(now)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to generate transaction code")
		}

		err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			id, err := s.createInTx(ctx, s.repo.WithTx(tx), actor, input, code, now)
			created = id
			return err
		})
		if errors.Is(err, errCodeCollision) {
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"code": code, "attempt": attempt}), "transaction code collision, regenerating")
			continue
		}
		if err != nil {
			return nil, err
		}

		s.metrics.Record(metrics.EventCreated, 1)
		return s.load(ctx, created)
	}

	return nil, pkgerrors.New(pkgerrors.CodeIntegrity, "could not allocate a unique transaction code").
		WithDetails(map[string]any{"attempts": s.maxCodeAttempts})
}

func (s *service) createInTx(ctx context.Context, repo Repository, actor access.Actor, input CreateInput, code string, now time.Time) (uuid.UUID, error) {
	student, err := repo.FindStudent(ctx, input.StudentID)
	if err != nil {
		return uuid.Nil, lookupError(err, "student")
	}
	if !student.IsApproved {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "student is not approved").
			WithDetails(map[string]any{"student_id": student.SchoolID})
	}

	wanted := countCopies(input.BookIDs)
	books, err := repo.FindBooks(ctx, wanted.ids())
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to load books")
	}

	byID := make(map[uuid.UUID]models.Book, len(books))
	for _, book := range books {
		byID[book.ID] = book
	}

	var missing []string
	var unavailable []map[string]any
	for _, id := range wanted.ids() {
		book, ok := byID[id]
		if !ok {
			missing = append(missing, id.String())
			continue
		}
		if book.CopiesAvailable < wanted[id] {
			unavailable = append(unavailable, map[string]any{
				"book_id":   book.ID,
				"isbn":      book.ISBN,
				"title":     book.Title,
				"available": book.CopiesAvailable,
				"requested": wanted[id],
			})
		}
	}
	if len(missing) > 0 {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeNotFound, "book not found").
			WithDetails(map[string]any{"book_ids": missing})
	}
	if len(unavailable) > 0 {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "book is not available").
			WithDetails(map[string]any{"books": unavailable})
	}

	txn := &models.Transaction{
		Code:           code,
		StudentID:      student.ID,
		BorrowedDate:   now,
		DueDate:        now.Add(s.loanPeriod),
		Status:         enums.TransactionStatusBorrowed,
		ApprovalStatus: enums.ApprovalStatusPending,
		CreatedByID:    actor.ActorRef(),
		Items:          make([]models.TransactionItem, 0, len(input.BookIDs)),
	}
	for _, bookID := range input.BookIDs {
		txn.Items = append(txn.Items, models.TransactionItem{
			BookID:       bookID,
			Status:       enums.TransactionStatusBorrowed,
			BorrowedDate: now,
		})
	}

	if err := repo.CreateTransaction(ctx, txn); err != nil {
		if db.IsUniqueViolation(err, codeConstraint) {
			return uuid.Nil, errCodeCollision
		}
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to create transaction")
	}
	return txn.ID, nil
}

func (s *service) Approve(ctx context.Context, actor access.Actor, transactionID uuid.UUID) (*TransactionDTO, error) {
	if err := actor.Require(access.ReviewTransactions); err != nil {
		return nil, err
	}
	if transactionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id is required")
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := s.now().UTC()

		txn, err := s.lockPending(ctx, repo, transactionID)
		if err != nil {
			return err
		}
		items, err := repo.ListItems(ctx, txn.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to load transaction items")
		}

		if err := s.resolve(ctx, repo, txn, enums.ApprovalStatusApproved, actor, now); err != nil {
			return err
		}

		wanted := countItemCopies(items)
		for _, bookID := range wanted.ids() {
			rows, err := repo.DecrementAvailable(ctx, bookID, wanted[bookID], s.enforceFloor)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to update book availability")
			}
			if rows == 0 {
				s.metrics.Record(metrics.EventConflict, 1)
				return pkgerrors.New(pkgerrors.CodeStateConflict, "not enough copies available to approve").
					WithDetails(map[string]any{"book_id": bookID, "requested": wanted[bookID]})
			}
		}

		return s.audit.Record(ctx, tx, auditlog.Entry{
			ActorID:     actor.ActorRef(),
			Action:      enums.AdminLogActionTransactionApprove,
			Description: fmt.Sprintf("Approved transaction %s (%d book(s))", txn.Code, len(items)),
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Record(metrics.EventApproved, 1)
	return s.load(ctx, transactionID)
}

func (s *service) Reject(ctx context.Context, actor access.Actor, transactionID uuid.UUID) (*TransactionDTO, error) {
	if err := actor.Require(access.ReviewTransactions); err != nil {
		return nil, err
	}
	if transactionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id is required")
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		txn, err := s.lockPending(ctx, repo, transactionID)
		if err != nil {
			return err
		}
		if err := s.resolve(ctx, repo, txn, enums.ApprovalStatusRejected, actor, s.now().UTC()); err != nil {
			return err
		}

		return s.audit.Record(ctx, tx, auditlog.Entry{
			ActorID:     actor.ActorRef(),
			Action:      enums.AdminLogActionTransactionReject,
			Description: fmt.Sprintf("Rejected transaction %s", txn.Code),
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Record(metrics.EventRejected, 1)
	return s.load(ctx, transactionID)
}

func (s *service) lockPending(ctx context.Context, repo Repository, id uuid.UUID) (*models.Transaction, error) {
	txn, err := repo.LockTransaction(ctx, id)
	if err != nil {
		return nil, lookupError(err, "transaction")
	}
	if txn.ApprovalStatus != enums.ApprovalStatusPending {
		s.metrics.Record(metrics.EventConflict, 1)
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "transaction is not pending").
			WithDetails(map[string]any{"approval_status": txn.ApprovalStatus})
	}
	return txn, nil
}

func (s *service) resolve(ctx context.Context, repo Repository, txn *models.Transaction, to enums.ApprovalStatus, actor access.Actor, now time.Time) error {
	rows, err := repo.ResolvePending(ctx, txn.ID, to, actor.ActorRef(), now)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to update transaction")
	}
	if rows == 0 {
		s.metrics.Record(metrics.EventConflict, 1)
		return pkgerrors.New(pkgerrors.CodeStateConflict, "transaction is not pending")
	}
	return nil
}

func (s *service) ReturnItems(ctx context.Context, actor access.Actor, input ReturnInput) (*ReturnResult, error) {
	if err := actor.Require(access.ReturnItems); err != nil {
		return nil, err
	}
	if input.TransactionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id is required")
	}

	requested := uniqueIDs(input.ItemIDs)
	if len(requested) == 0 {
		txn, err := s.load(ctx, input.TransactionID)
		if err != nil {
			return nil, err
		}
		return partition(*txn, nil), nil
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := s.now().UTC()

		txn, err := repo.LockTransaction(ctx, input.TransactionID)
		if err != nil {
			return lookupError(err, "transaction")
		}
		if txn.ApprovalStatus != enums.ApprovalStatusApproved {
			s.metrics.Record(metrics.EventConflict, 1)
			return pkgerrors.New(pkgerrors.CodeStateConflict, "only approved transactions accept returns").
				WithDetails(map[string]any{"approval_status": txn.ApprovalStatus})
		}

		items, err := repo.ListItems(ctx, txn.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to load transaction items")
		}
		byID := make(map[uuid.UUID]models.TransactionItem, len(items))
		for _, item := range items {
			byID[item.ID] = item
		}

		returning := make([]models.TransactionItem, 0, len(requested))
		for _, id := range requested {
			item, ok := byID[id]
			if !ok {
				return pkgerrors.New(pkgerrors.CodeNotFound, "item does not belong to transaction").
					WithDetails(map[string]any{"item_id": id})
			}
			if item.Status != enums.TransactionStatusBorrowed {
				s.metrics.Record(metrics.EventConflict, 1)
				return pkgerrors.New(pkgerrors.CodeStateConflict, "item already returned").
					WithDetails(map[string]any{"item_id": id})
			}
			returning = append(returning, item)
		}

		for _, item := range returning {
			rows, err := repo.MarkItemReturned(ctx, txn.ID, item.ID, now)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to return item")
			}
			if rows == 0 {
				s.metrics.Record(metrics.EventConflict, 1)
				return pkgerrors.New(pkgerrors.CodeStateConflict, "item already returned").
					WithDetails(map[string]any{"item_id": item.ID})
			}
		}

		restock := countItemCopies(returning)
		for _, bookID := range restock.ids() {
			if err := repo.IncrementAvailable(ctx, bookID, restock[bookID]); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to update book availability")
			}
		}

		return s.recomputeStatus(ctx, repo, txn.ID, now)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Record(metrics.EventReturned, len(requested))
	txn, err := s.load(ctx, input.TransactionID)
	if err != nil {
		return nil, err
	}
	return partition(*txn, requested), nil
}

// recomputeStatus derives the aggregate status from the item rows visible
// inside the current transaction.
func (s *service) recomputeStatus(ctx context.Context, repo Repository, transactionID uuid.UUID, now time.Time) error {
	remaining, err := repo.CountBorrowedItems(ctx, transactionID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to count borrowed items")
	}

	status := enums.TransactionStatusBorrowed
	var returnDate *time.Time
	if remaining == 0 {
		status = enums.TransactionStatusReturned
		returnDate = &now
	}
	if err := repo.SetAggregateStatus(ctx, transactionID, status, returnDate); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to update transaction status")
	}
	return nil
}

func (s *service) FindByCode(ctx context.Context, actor access.Actor, codePrefix string) (*TransactionDTO, error) {
	if err := actor.Require(access.ReturnItems); err != nil {
		return nil, err
	}
	prefix := strings.ToUpper(strings.TrimSpace(codePrefix))
	if prefix == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction code is required")
	}
	for _, r := range prefix {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction code must be alphanumeric")
		}
	}

	txn, err := s.repo.FindApprovedByCodePrefix(ctx, prefix)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no borrowing found with this transaction code")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to look up transaction")
	}
	dto := toTransactionDTO(*txn, s.now().UTC())
	return &dto, nil
}

func (s *service) Get(ctx context.Context, actor access.Actor, transactionID uuid.UUID) (*TransactionDTO, error) {
	if !actor.Role.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authenticated actor required")
	}
	dto, err := s.load(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if err := canViewStudent(actor, dto.StudentID); err != nil {
		return nil, err
	}
	return dto, nil
}

func (s *service) ListPending(ctx context.Context, actor access.Actor, params pagination.Params) (*ListResult, error) {
	if err := actor.Require(access.ReviewTransactions); err != nil {
		return nil, err
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListPending(ctx, pagination.LimitWithBuffer(params.Limit), cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to list pending transactions")
	}
	return s.page(rows, params.Limit), nil
}

func (s *service) ListForStudent(ctx context.Context, actor access.Actor, studentID uuid.UUID, filter LoanFilter, params pagination.Params) (*ListResult, error) {
	if studentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "student id is required")
	}
	if err := canViewStudent(actor, studentID); err != nil {
		return nil, err
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	if filter == "" {
		filter = LoanFilterAll
	}
	rows, err := s.repo.ListForStudent(ctx, studentID, filter, s.now().UTC(), pagination.LimitWithBuffer(params.Limit), cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to list transactions")
	}
	return s.page(rows, params.Limit), nil
}

func (s *service) Stats(ctx context.Context, actor access.Actor) (*Stats, error) {
	if err := actor.Require(access.ViewDashboard); err != nil {
		return nil, err
	}
	stats, err := s.repo.Stats(ctx, s.now().UTC())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to compute circulation stats")
	}
	return &stats, nil
}

func (s *service) load(ctx context.Context, id uuid.UUID) (*TransactionDTO, error) {
	txn, err := s.repo.FindTransaction(ctx, id)
	if err != nil {
		return nil, lookupError(err, "transaction")
	}
	dto := toTransactionDTO(*txn, s.now().UTC())
	return &dto, nil
}

func (s *service) page(rows []models.Transaction, requested int) *ListResult {
	now := s.now().UTC()
	rows, next := pagination.Trim(rows, requested, func(txn models.Transaction) pagination.Cursor {
		return pagination.Cursor{CreatedAt: txn.CreatedAt, ID: txn.ID}
	})

	result := &ListResult{Transactions: make([]TransactionDTO, 0, len(rows)), NextCursor: next}
	for _, row := range rows {
		result.Transactions = append(result.Transactions, toTransactionDTO(row, now))
	}
	return result
}

// canViewStudent allows staff and POS operators to read any loan and students
// to read their own.
func canViewStudent(actor access.Actor, studentID uuid.UUID) error {
	if actor.Can(access.ReviewTransactions) || actor.Can(access.OriginateTransactions) {
		return nil
	}
	if actor.Can(access.ViewOwnLoans) && actor.StudentID != nil && *actor.StudentID == studentID {
		return nil
	}
	if !actor.Role.IsValid() {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "authenticated actor required")
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "not allowed to view these loans")
}

func partition(txn TransactionDTO, returnedIDs []uuid.UUID) *ReturnResult {
	touched := make(map[uuid.UUID]struct{}, len(returnedIDs))
	for _, id := range returnedIDs {
		touched[id] = struct{}{}
	}
	result := &ReturnResult{
		Transaction:   txn,
		Returned:      []ItemDTO{},
		StillBorrowed: []ItemDTO{},
		AllReturned:   txn.Status == enums.TransactionStatusReturned,
	}
	for _, item := range txn.Items {
		if _, ok := touched[item.ID]; ok {
			result.Returned = append(result.Returned, item)
			continue
		}
		if item.Status == enums.TransactionStatusBorrowed {
			result.StillBorrowed = append(result.StillBorrowed, item)
		}
	}
	return result
}

// copyCounts maps a book id to the number of copies a transaction holds.
type copyCounts map[uuid.UUID]int

// ids returns the keys in a stable order so concurrent approvals lock book
// rows in the same sequence.
func (c copyCounts) ids() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func countCopies(bookIDs []uuid.UUID) copyCounts {
	counts := make(copyCounts, len(bookIDs))
	for _, id := range bookIDs {
		counts[id]++
	}
	return counts
}

func countItemCopies(items []models.TransactionItem) copyCounts {
	counts := make(copyCounts, len(items))
	for _, item := range items {
		counts[item.BookID]++
	}
	return counts
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func lookupError(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, what+" not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to load "+what)
}
