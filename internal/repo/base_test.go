package repo

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:base_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	return conn
}

type ctxKey struct{}

func TestNewBaseStoresConnection(t *testing.T) {
	db := newTestDB(t)
	base := NewBase(db)

	if base.db != db {
		t.Fatalf("expected base db to match provided connection")
	}
}

func TestBaseDB_BindsContext(t *testing.T) {
	db := newTestDB(t)
	base := NewBase(db)

	ctx := context.WithValue(context.Background(), ctxKey{}, "value")
	withCtx := base.DB(ctx)
	if withCtx.Statement == nil || withCtx.Statement.Context != ctx {
		t.Fatalf("expected context to flow through")
	}

	if base.DB(nil) != db {
		t.Fatalf("expected nil context to return raw connection")
	}
}

func TestBaseBind(t *testing.T) {
	db := newTestDB(t)
	base := NewBase(db)

	if base.Bind(nil).db != db {
		t.Fatalf("nil tx should keep the original connection")
	}

	tx := db.Begin()
	defer tx.Rollback()
	if base.Bind(tx).db != tx {
		t.Fatalf("expected bound base to use the transaction")
	}
}

func TestForUpdateSkipsLockOnSQLite(t *testing.T) {
	db := newTestDB(t)
	base := NewBase(db)

	if got := base.Dialect(); got != "sqlite" {
		t.Fatalf("expected sqlite dialect, got %q", got)
	}
	stmt := base.ForUpdate(context.Background()).Session(&gorm.Session{DryRun: true}).
		Table("books").Where("id = ?", 1).Find(&[]map[string]any{}).Statement
	if sql := stmt.SQL.String(); strings.Contains(sql, "FOR UPDATE") {
		t.Fatalf("sqlite statement must not lock rows: %s", sql)
	}
}

func TestForUpdateLocksOnPostgres(t *testing.T) {
	db, err := gorm.Open(postgres.New(postgres.Config{DSN: "host=127.0.0.1 user=library dbname=library sslmode=disable"}), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
	})
	if err != nil {
		t.Fatalf("open dry-run postgres: %v", err)
	}
	base := NewBase(db)

	stmt := base.ForUpdate(context.Background()).
		Table("books").Where("id = ?", 1).Find(&[]map[string]any{}).Statement
	if sql := stmt.SQL.String(); !strings.HasSuffix(sql, "FOR UPDATE") {
		t.Fatalf("expected row lock, got %s", sql)
	}
}
