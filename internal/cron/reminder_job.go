package cron

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/library-backend/pkg/db/models"
	"github.com/angelmondragon/library-backend/pkg/logger"
	"github.com/angelmondragon/library-backend/pkg/mail"
)

const (
	reminderAfterDays = 2
	reminderBatchSize = 200
	reminderSubject   = "Reminder: Return Your Borrowed Book"
)

type reminderRepo interface {
	ListDueReminders(ctx context.Context, cutoff time.Time, limit int) ([]models.Transaction, error)
	MarkReminderSent(ctx context.Context, tx *gorm.DB, id uuid.UUID) (int64, error)
}

// ReminderJobParams configure the borrowed-book reminder mail.
type ReminderJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository reminderRepo
	Mailer     mail.Sender
	AfterDays  int
	// SystemName signs the mail; it is read on every run so settings
	// changes apply without a restart.
	SystemName func() string
}

// NewReminderJob builds the job that mails students a few days after they
// borrow.
func NewReminderJob(params ReminderJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("reminder repository required")
	}
	if params.Mailer == nil {
		return nil, fmt.Errorf("mailer required")
	}
	after := params.AfterDays
	if after <= 0 {
		after = reminderAfterDays
	}
	systemName := params.SystemName
	if systemName == nil {
		systemName = func() string { return "Library Management System" }
	}
	return &reminderJob{
		logg:       params.Logger,
		db:         params.DB,
		repo:       params.Repository,
		mailer:     params.Mailer,
		afterDays:  after,
		systemName: systemName,
		now:        time.Now,
	}, nil
}

type reminderJob struct {
	logg       *logger.Logger
	db         txRunner
	repo       reminderRepo
	mailer     mail.Sender
	afterDays  int
	systemName func() string
	now        func() time.Time
}

func (j *reminderJob) Name() string { return "borrow-reminders" }

// Run mails every due reminder. Each transaction is flagged in its own
// transaction right after the send attempt, so one failure neither blocks
// the rest nor gets mailed again on the next cycle.
func (j *reminderJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-time.Duration(j.afterDays) * 24 * time.Hour)
	txns, err := j.repo.ListDueReminders(ctx, cutoff, reminderBatchSize)
	if err != nil {
		return fmt.Errorf("list due reminders: %w", err)
	}

	var (
		sent    int
		runErrs error
	)
	for _, txn := range txns {
		if err := j.remind(ctx, txn); err != nil {
			runErrs = multierr.Append(runErrs, fmt.Errorf("transaction %s: %w", txn.Code, err))
			continue
		}
		sent++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff,
		"due":     len(txns),
		"sent":    sent,
		"failed":  len(multierr.Errors(runErrs)),
		"subject": reminderSubject,
	})
	j.logg.Info(logCtx, "borrow reminders complete")
	return runErrs
}

func (j *reminderJob) remind(ctx context.Context, txn models.Transaction) error {
	if txn.Student == nil || txn.Student.Email == nil {
		return fmt.Errorf("borrower has no email")
	}
	msg := mail.Message{
		To:      *txn.Student.Email,
		ToName:  txn.Student.FullName(),
		Subject: reminderSubject,
		Body:    j.body(txn),
	}
	sendErr := j.mailer.Send(ctx, msg)
	// A loan gets one attempt; a failed send is reported but never retried.
	if err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := j.repo.MarkReminderSent(ctx, tx, txn.ID)
		return err
	}); err != nil {
		return multierr.Append(sendErr, fmt.Errorf("mark reminder: %w", err))
	}
	return sendErr
}

func (j *reminderJob) body(txn models.Transaction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\n\n", txn.Student.FullName())
	fmt.Fprintf(&b, "This is a reminder that you borrowed the following book(s) on %s:\n\n", txn.BorrowedDate.Format("2006-01-02"))
	for _, item := range txn.Items {
		if item.Book == nil {
			continue
		}
		fmt.Fprintf(&b, "Book: %s\nAuthor: %s\nISBN: %s\n\n", item.Book.Title, item.Book.Author, item.Book.ISBN)
	}
	fmt.Fprintf(&b, "Transaction Code: %s\n", txn.Code)
	fmt.Fprintf(&b, "Due Date: %s\n\n", txn.DueDate.Format("2006-01-02"))
	b.WriteString("Please remember to return the book(s) by the due date.\n\n")
	fmt.Fprintf(&b, "Thank you,\n%s\n", j.systemName())
	return b.String()
}
