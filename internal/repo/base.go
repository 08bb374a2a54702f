package repo

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const sqliteDialect = "sqlite"

// Base is embedded by every repository. It carries the connection or the
// open transaction the repository is bound to.
type Base struct {
	db *gorm.DB
}

// NewBase constructs a Base repository backed by the provided GORM connection.
func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// DB returns the GORM connection bound to the supplied context (if any).
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}

// ForUpdate is DB with a row lock on the selected rows. SQLite has no row
// locks and serializes writers, so the clause is only added for Postgres.
func (b Base) ForUpdate(ctx context.Context) *gorm.DB {
	db := b.DB(ctx)
	if b.Dialect() == sqliteDialect {
		return db
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

// Dialect names the underlying driver, e.g. "postgres" or "sqlite".
func (b Base) Dialect() string {
	if b.db == nil || b.db.Dialector == nil {
		return ""
	}
	return b.db.Dialector.Name()
}

// Bind returns a Base running on tx, or b itself when tx is nil.
func (b Base) Bind(tx *gorm.DB) Base {
	if tx == nil {
		return b
	}
	return Base{db: tx}
}
