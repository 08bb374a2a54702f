package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func TestDumpExtractsPostgresDetail(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "books_isbn_key", TableName: "books", Message: "duplicate key value"}
	err := Wrap(CodeIntegrity, fmt.Errorf("insert book: %w", pgErr), "isbn already exists")

	d := Dump(err)
	if d.Code != CodeIntegrity {
		t.Fatalf("expected integrity code got %s", d.Code)
	}
	if d.Driver != "pgx" || d.DBCode != "23505" || d.DBConstraint != "books_isbn_key" {
		t.Fatalf("unexpected pg dump %+v", d)
	}
	if len(d.Chain) < 3 {
		t.Fatalf("expected full chain got %v", d.Chain)
	}
}

func TestDumpParsesSQLiteConstraint(t *testing.T) {
	d := Dump(stdErrors.New("UNIQUE constraint failed: transactions.transaction_code"))
	if d.Driver != "sqlite" || d.DBCode != "UNIQUE" {
		t.Fatalf("unexpected sqlite dump %+v", d)
	}
	if d.DBTable != "transactions" || d.DBColumn != "transaction_code" {
		t.Fatalf("unexpected target %s.%s", d.DBTable, d.DBColumn)
	}
}

func TestDumpRecognisesGormSentinels(t *testing.T) {
	d := Dump(fmt.Errorf("load student: %w", gorm.ErrRecordNotFound))
	if d.Driver != "gorm" || d.DBMessage != "record not found" {
		t.Fatalf("unexpected dump %+v", d)
	}
	if got := Dump(nil); got.TopMessage != "" {
		t.Fatalf("nil error should produce empty dump")
	}
}
