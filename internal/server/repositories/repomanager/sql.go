// Package repomanager provides a concrete RepositoryManager for the SQL
// record store (PostgreSQL through pgx, or SQLite), wiring together repository
// constructors and database migrations (via goose).
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/natskeeper/internal/dbx"
	"github.com/dmitrijs2005/natskeeper/internal/server/migrations"
	"github.com/dmitrijs2005/natskeeper/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/natskeeper/internal/server/repositories/operators"
	"github.com/dmitrijs2005/natskeeper/internal/server/repositories/users"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// SQLRepositoryManager vends SQL-backed repository implementations for one
// dialect and exposes a schema migration hook.
type SQLRepositoryManager struct {
	dialect dbx.Dialect
}

// Operators returns an operators.Repository bound to the provided DBTX.
func (m *SQLRepositoryManager) Operators(db dbx.DBTX) operators.Repository {
	return operators.NewSQLRepository(db, m.dialect)
}

// Accounts returns an accounts.Repository bound to the provided DBTX.
func (m *SQLRepositoryManager) Accounts(db dbx.DBTX) accounts.Repository {
	return accounts.NewSQLRepository(db, m.dialect)
}

// Users returns a users.Repository bound to the provided DBTX.
func (m *SQLRepositoryManager) Users(db dbx.DBTX) users.Repository {
	return users.NewSQLRepository(db, m.dialect)
}

// Dialect returns the SQL dialect the repositories are built for.
func (m *SQLRepositoryManager) Dialect() dbx.Dialect {
	return m.dialect
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func (m *SQLRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect(m.dialect.GooseDialect()); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

// NewSQLRepositoryManager constructs a RepositoryManager for a database/sql
// driver name ("pgx" or "sqlite").
func NewSQLRepositoryManager(driver string) *SQLRepositoryManager {
	return &SQLRepositoryManager{dialect: dbx.NewDialect(driver)}
}

// Open opens the database for driver and checks the connection. SQLite
// handles are limited to one connection so transactions serialize.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
