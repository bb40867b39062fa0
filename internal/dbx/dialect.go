package dbx

import (
	"github.com/jmoiron/sqlx"
)

// Dialect captures the per-driver differences the repositories care about:
// placeholder style and whether row-level locks are expressed in SQL.
//
// Queries are written with '?' placeholders and rebound for the driver.
type Dialect struct {
	Driver    string
	bindType  int
	forUpdate string
}

// NewDialect returns the dialect for a database/sql driver name.
// "pgx" and "postgres" lock rows with FOR UPDATE; sqlite serializes writers
// at the database level, so no clause is emitted there.
func NewDialect(driver string) Dialect {
	d := Dialect{Driver: driver, bindType: sqlx.BindType(driver)}
	switch driver {
	case "pgx", "postgres":
		d.bindType = sqlx.DOLLAR
		d.forUpdate = " FOR UPDATE"
	}
	if d.bindType == sqlx.UNKNOWN {
		d.bindType = sqlx.QUESTION
	}
	return d
}

// Rebind converts '?' placeholders to the driver's style.
func (d Dialect) Rebind(query string) string {
	return sqlx.Rebind(d.bindType, query)
}

// ForUpdate appends the row lock clause, if any, to a SELECT.
func (d Dialect) ForUpdate(query string) string {
	return query + d.forUpdate
}

// GooseDialect is the goose dialect name for the driver.
func (d Dialect) GooseDialect() string {
	switch d.Driver {
	case "pgx", "postgres":
		return "postgres"
	default:
		return "sqlite3"
	}
}
