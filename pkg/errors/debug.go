package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// ErrorDump is the log-only breakdown of an error chain. It is never sent to
// clients.
type ErrorDump struct {
	TopMessage string `json:"top_message"`
	Code       Code   `json:"code,omitempty"`

	Chain []string `json:"chain,omitempty"`

	Driver       string `json:"db_driver,omitempty"`
	DBCode       string `json:"db_code,omitempty"`
	DBConstraint string `json:"db_constraint,omitempty"`
	DBTable      string `json:"db_table,omitempty"`
	DBColumn     string `json:"db_column,omitempty"`
	DBDetail     string `json:"db_detail,omitempty"`
	DBMessage    string `json:"db_message,omitempty"`
}

// Dump walks err and extracts the typed code plus any database driver detail.
func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}

	d := ErrorDump{TopMessage: err.Error()}
	if te := As(err); te != nil {
		d.Code = te.Code()
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}

	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		d.Driver = "pgx"
		d.DBCode = pgxErr.Code
		d.DBConstraint = pgxErr.ConstraintName
		d.DBTable = pgxErr.TableName
		d.DBColumn = pgxErr.ColumnName
		d.DBDetail = pgxErr.Detail
		d.DBMessage = pgxErr.Message
		return d
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		d.Driver = "pq"
		d.DBCode = string(pqErr.Code)
		d.DBConstraint = pqErr.Constraint
		d.DBTable = pqErr.Table
		d.DBColumn = pqErr.Column
		d.DBDetail = pqErr.Detail
		d.DBMessage = pqErr.Message
		return d
	}

	if sqliteConstraint(err, &d) {
		return d
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		d.Driver, d.DBMessage = "gorm", "record not found"
	case errors.Is(err, gorm.ErrDuplicatedKey):
		d.Driver, d.DBMessage = "gorm", "duplicated key"
	}
	return d
}

// sqliteConstraint parses messages such as
// "UNIQUE constraint failed: books.isbn" into table and column.
func sqliteConstraint(err error, d *ErrorDump) bool {
	msg := err.Error()
	idx := strings.Index(msg, " constraint failed: ")
	if idx < 0 {
		return false
	}
	kind := msg[:idx]
	if sp := strings.LastIndex(kind, " "); sp >= 0 {
		kind = kind[sp+1:]
	}

	d.Driver = "sqlite"
	d.DBCode = kind
	d.DBMessage = msg
	target := strings.TrimSpace(msg[idx+len(" constraint failed: "):])
	if first, _, ok := strings.Cut(target, ","); ok {
		target = first
	}
	if table, column, ok := strings.Cut(target, "."); ok {
		d.DBTable = table
		d.DBColumn = column
	}
	return true
}
