package books

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"github.com/angelmondragon/library-backend/internal/access"
	"github.com/angelmondragon/library-backend/internal/auditlog"
	"github.com/angelmondragon/library-backend/pkg/csvimport"
	"github.com/angelmondragon/library-backend/pkg/db"
	"github.com/angelmondragon/library-backend/pkg/db/models"
	"github.com/angelmondragon/library-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/library-backend/pkg/errors"
)

const importKind = "books"

var importColumns = csvimport.Columns{
	"isbn":           {"ISBN"},
	"title":          {"Book Name", "book_title", "name"},
	"author":         {"Author"},
	"year_published": {"Date Published", "year", "published"},
	"category":       {"Category"},
	"copies_total":   {"Pieces", "copies", "quantity"},
	"publisher":      {"Publisher"},
	"description":    {"Description"},
}

var (
	templateHeader = []string{"ISBN", "Book Name", "Author", "Date Published", "Category", "Pieces", "Description"}
	templateSample = []string{"978-0-123456-78-9", "Sample Book Title", "John Doe", "2023", "Fiction", "5", "This is a sample book description"}
	exportHeader   = []string{"isbn", "title", "author", "category", "publisher", "year_published", "copies_total", "copies_available"}
)

type importRow struct {
	ISBN          string `csv:"isbn" validate:"required,max=20"`
	Title         string `csv:"title" validate:"required,max=255"`
	Author        string `csv:"author" validate:"required,max=255"`
	Category      string `csv:"category" validate:"required,max=100"`
	CopiesTotal   int    `csv:"copies_total" validate:"gte=1"`
	YearPublished *int   `csv:"year_published" validate:"omitempty,gte=1000,lte=9999"`
}

func parseImportRow(row csvimport.Row) (*models.Book, error) {
	parsed := importRow{
		ISBN:        row.Get("isbn"),
		Title:       row.Get("title"),
		Author:      row.Get("author"),
		Category:    row.Get("category"),
		CopiesTotal: 1,
	}
	if raw := row.Get("copies_total"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("copies_total must be a whole number")
		}
		parsed.CopiesTotal = n
	}
	if raw := row.Get("year_published"); raw != "" {
		year, err := parseYear(raw)
		if err != nil {
			return nil, err
		}
		parsed.YearPublished = &year
	}
	if err := csvimport.Validate(parsed); err != nil {
		return nil, err
	}

	book := &models.Book{
		ISBN:            parsed.ISBN,
		Title:           parsed.Title,
		Author:          parsed.Author,
		Category:        parsed.Category,
		YearPublished:   parsed.YearPublished,
		CopiesTotal:     parsed.CopiesTotal,
		CopiesAvailable: parsed.CopiesTotal,
	}
	if v := row.Get("publisher"); v != "" {
		book.Publisher = &v
	}
	if v := row.Get("description"); v != "" {
		book.Description = &v
	}
	return book, nil
}

// parseYear accepts "2023" as well as full dates such as "2023-05-01".
func parseYear(raw string) (int, error) {
	digits := raw
	if len(digits) > 4 {
		digits = digits[:4]
	}
	year, err := strconv.Atoi(digits)
	if err != nil || len(digits) != 4 {
		return 0, fmt.Errorf("year_published %q is not a year", raw)
	}
	return year, nil
}

// Import creates one book per valid row. Rows whose ISBN already exists are
// skipped and reported, never updated.
func (s *service) Import(ctx context.Context, actor access.Actor, src io.Reader) (*csvimport.Report, error) {
	if err := actor.Require(access.ManageCatalog); err != nil {
		return nil, err
	}
	rows, err := csvimport.Read(src, importColumns, "isbn", "title", "author", "category")
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid csv file")
	}

	isbns := make([]string, 0, len(rows))
	for _, row := range rows {
		if isbn := row.Get("isbn"); isbn != "" {
			isbns = append(isbns, isbn)
		}
	}
	existing, err := s.repo.ExistingISBNs(ctx, isbns)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to check existing books")
	}

	report := &csvimport.Report{Errors: []csvimport.RowError{}}
	for _, row := range rows {
		book, err := parseImportRow(row)
		if err != nil {
			report.Fail(row.Line, err.Error())
			continue
		}
		if _, dup := existing[book.ISBN]; dup {
			report.Fail(row.Line, fmt.Sprintf("book with ISBN %s already exists", book.ISBN))
			continue
		}
		if err := s.repo.Create(ctx, book); err != nil {
			if db.IsUniqueViolation(err, isbnConstraint) {
				report.Fail(row.Line, fmt.Sprintf("book with ISBN %s already exists", book.ISBN))
				continue
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to import books")
		}
		existing[book.ISBN] = struct{}{}
		report.Succeed()
	}

	s.metrics.RecordImport(importKind, report.Imported, report.Failed)
	if err := s.audit.Record(ctx, nil, auditlog.Entry{
		ActorID:     actor.ActorRef(),
		Action:      enums.AdminLogActionBookImport,
		Description: fmt.Sprintf("Imported %d books (%d failed)", report.Imported, report.Failed),
	}); err != nil {
		return nil, err
	}
	return report, nil
}

// Export writes the catalog, optionally limited to one category.
func (s *service) Export(ctx context.Context, actor access.Actor, category string, dst io.Writer) (*ExportResult, error) {
	if err := actor.Require(access.ManageCatalog); err != nil {
		return nil, err
	}
	category = strings.TrimSpace(category)
	books, err := s.repo.ListForExport(ctx, category)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to load books")
	}

	writer := csv.NewWriter(dst)
	if err := writer.Write(exportHeader); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to write export")
	}
	for _, book := range books {
		record := []string{
			book.ISBN,
			book.Title,
			book.Author,
			book.Category,
			deref(book.Publisher),
			"",
			strconv.Itoa(book.CopiesTotal),
			strconv.Itoa(book.CopiesAvailable),
		}
		if book.YearPublished != nil {
			record[5] = strconv.Itoa(*book.YearPublished)
		}
		if err := writer.Write(record); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to write export")
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to write export")
	}

	description := fmt.Sprintf("Exported %d books", len(books))
	if category != "" {
		description += " in " + category
	}
	if err := s.audit.Record(ctx, nil, auditlog.Entry{
		ActorID:     actor.ActorRef(),
		Action:      enums.AdminLogActionBookExport,
		Description: description,
	}); err != nil {
		return nil, err
	}
	return &ExportResult{Filename: ExportFilename(category), Rows: len(books)}, nil
}

// ExportFilename is books_<category>.csv, or all_books.csv without a filter.
func ExportFilename(category string) string {
	category = strings.TrimSpace(category)
	if category == "" {
		return "all_books.csv"
	}
	safe := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			return r
		}
		return '_'
	}, category)
	return "books_" + safe + ".csv"
}

// Template writes the import template with one sample row.
func (s *service) Template(dst io.Writer) error {
	return csvimport.WriteTemplate(dst, templateHeader, templateSample)
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
