// Package dialect captures the differences between the supported SQL
// backends: placeholder style, identifier quoting, RETURNING support,
// pattern matching and constraint error classification.
package dialect

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"sqlprovider/internal/sqlutil"
)

// Name identifies a backend family.
type Name string

const (
	MySQL    Name = "mysql"
	Postgres Name = "postgres"
	SQLite   Name = "sqlite"
)

// Dialect describes one backend family.
type Dialect struct {
	Name Name
	// SupportsReturning is true when INSERT/UPDATE/DELETE can return the
	// affected rows directly. Backends without it use a write then refetch.
	SupportsReturning bool
	// AutoIncrementContiguous is true when a single multi-row INSERT assigns
	// consecutive auto-increment ids starting at LastInsertId.
	AutoIncrementContiguous bool

	placeholder sq.PlaceholderFormat
}

// ForName returns the dialect for a backend family.
func ForName(name Name) (Dialect, error) {
	switch name {
	case MySQL:
		return Dialect{Name: MySQL, AutoIncrementContiguous: true, placeholder: sq.Question}, nil
	case Postgres:
		return Dialect{Name: Postgres, SupportsReturning: true, placeholder: sq.Dollar}, nil
	case SQLite:
		return Dialect{Name: SQLite, SupportsReturning: true, placeholder: sq.Question}, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported dialect %q", name)
	}
}

// ForDriver maps a database/sql driver name to its dialect.
func ForDriver(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "mysql", "tidb":
		return ForName(MySQL)
	case "postgres", "postgresql", "pq", "pgx":
		return ForName(Postgres)
	case "sqlite", "sqlite3":
		return ForName(SQLite)
	default:
		return Dialect{}, fmt.Errorf("unsupported driver %q", driver)
	}
}

// Builder returns a squirrel statement builder using this dialect's placeholders.
func (d Dialect) Builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(d.placeholder)
}

// PlaceholderFormat returns the dialect's placeholder format.
func (d Dialect) PlaceholderFormat() sq.PlaceholderFormat {
	return d.placeholder
}

// Quote quotes an identifier.
func (d Dialect) Quote(name string) string {
	if d.Name == MySQL {
		return sqlutil.QuoteIdentifier(name)
	}
	return sqlutil.QuoteIdentifierANSI(name)
}

// QuoteColumn returns table.column with both parts quoted.
func (d Dialect) QuoteColumn(table, column string) string {
	return sqlutil.Qualify(d.Quote(table), d.Quote(column))
}
