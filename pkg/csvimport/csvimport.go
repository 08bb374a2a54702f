// Package csvimport reads spreadsheet uploads whose headers vary between
// template versions and collects per-row failures without aborting a run.
package csvimport

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MaxReportedErrors caps how many row errors are returned to the caller.
const MaxReportedErrors = 10

// ErrEmpty is returned when the upload has no header row.
var ErrEmpty = errors.New("csv file is empty")

// Columns maps a canonical field name to the header spellings accepted for it.
type Columns map[string][]string

// RowError describes why one data row was skipped. Row is the 1-based line
// number in the file, counting the header.
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// Report summarizes an import run.
type Report struct {
	Imported int        `json:"imported"`
	Failed   int        `json:"failed"`
	Errors   []RowError `json:"errors"`
}

// Succeed counts one imported row.
func (r *Report) Succeed() {
	r.Imported++
}

// Fail counts one skipped row and keeps its message while under the cap.
func (r *Report) Fail(row int, message string) {
	r.Failed++
	if len(r.Errors) < MaxReportedErrors {
		r.Errors = append(r.Errors, RowError{Row: row, Message: message})
	}
}

// Truncated reports whether some row errors were dropped from Errors.
func (r *Report) Truncated() bool {
	return r.Failed > len(r.Errors)
}

// Row is one data line keyed by canonical field name.
type Row struct {
	Line   int
	values map[string]string
}

// Get returns the trimmed value of field, or "" when the column is absent.
func (r Row) Get(field string) string {
	return r.values[field]
}

// Blank reports whether every cell on the line is empty.
func (r Row) Blank() bool {
	for _, v := range r.values {
		if v != "" {
			return false
		}
	}
	return true
}

// Read parses the upload, resolving header aliases against columns. It fails
// only when the file cannot be parsed or a required column is missing.
func Read(src io.Reader, columns Columns, required ...string) ([]Row, error) {
	reader := csv.NewReader(src)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	lookup := make(map[string]string)
	for field, aliases := range columns {
		lookup[NormalizeHeader(field)] = field
		for _, alias := range aliases {
			lookup[NormalizeHeader(alias)] = field
		}
	}

	positions := make(map[string]int, len(header))
	for i, raw := range header {
		if i == 0 {
			raw = strings.TrimPrefix(raw, "\ufeff")
		}
		field, ok := lookup[NormalizeHeader(raw)]
		if !ok {
			continue
		}
		if _, seen := positions[field]; !seen {
			positions[field] = i
		}
	}

	var missing []string
	for _, field := range required {
		if _, ok := positions[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}

	var rows []Row
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}

		values := make(map[string]string, len(positions))
		for field, idx := range positions {
			if idx < len(record) {
				values[field] = strings.TrimSpace(record[idx])
			}
		}
		row := Row{Line: line, values: values}
		if row.Blank() {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// NormalizeHeader folds "Book Name" and "book-name" into "book_name".
func NormalizeHeader(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	value = strings.NewReplacer(" ", "_", "-", "_").Replace(value)
	return value
}

// WriteTemplate writes a header row followed by example rows.
func WriteTemplate(w io.Writer, header []string, samples ...[]string) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, sample := range samples {
		if err := writer.Write(sample); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("csv"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

// Validate checks a decoded row struct and renders the failures as one line.
func Validate(row any) error {
	err := validate.Struct(row)
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return err
	}
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		parts = append(parts, fmt.Sprintf("%s %s", fe.Field(), message(fe)))
	}
	return errors.New(strings.Join(parts, "; "))
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be %s or more", fe.Param())
	case "lte":
		return fmt.Sprintf("must be %s or less", fe.Param())
	case "email":
		return "must be a valid email"
	}
	return "is invalid"
}
