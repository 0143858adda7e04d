package dialect

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"

	"sqlprovider/internal/apperr"
)

const (
	mysqlErrDBAccessDenied     = 1044 // Access denied for user to database
	mysqlErrDupEntry           = 1062
	mysqlErrBadNull            = 1048
	mysqlErrTableAccessDenied  = 1142 // command denied to user for table
	mysqlErrColumnAccessDenied = 1143 // command denied to user for column
	mysqlErrNoDefault          = 1364
	mysqlErrRowIsReferenced    = 1451
	mysqlErrNoReferencedRow    = 1452
)

// ClassifyError maps a driver error to an apperr code. It recognizes the
// MySQL, lib/pq, mattn/go-sqlite3 and modernc.org/sqlite error types and
// returns "" for anything else.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case mysqlErrDupEntry:
			return apperr.CodeUniqueViolation
		case mysqlErrRowIsReferenced, mysqlErrNoReferencedRow:
			return apperr.CodeForeignKeyViolation
		case mysqlErrBadNull, mysqlErrNoDefault:
			return apperr.CodeNotNullViolation
		case mysqlErrDBAccessDenied, mysqlErrTableAccessDenied, mysqlErrColumnAccessDenied:
			return apperr.CodeAccessDenied
		}
		return ""
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return apperr.CodeUniqueViolation
		case "23503":
			return apperr.CodeForeignKeyViolation
		case "23502":
			return apperr.CodeNotNullViolation
		case "42501":
			return apperr.CodeAccessDenied
		}
		if pqErr.Code.Class() == "23" {
			return apperr.CodeConstraint
		}
		return ""
	}

	var mattnErr sqlite3.Error
	if errors.As(err, &mattnErr) {
		if mattnErr.Code != sqlite3.ErrConstraint {
			return ""
		}
		switch mattnErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return apperr.CodeUniqueViolation
		case sqlite3.ErrConstraintForeignKey:
			return apperr.CodeForeignKeyViolation
		case sqlite3.ErrConstraintNotNull:
			return apperr.CodeNotNullViolation
		}
		return apperr.CodeConstraint
	}

	var moderncErr *sqlite.Error
	if errors.As(err, &moderncErr) {
		code := moderncErr.Code()
		switch code {
		case sqlitelib.SQLITE_CONSTRAINT_UNIQUE, sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY:
			return apperr.CodeUniqueViolation
		case sqlitelib.SQLITE_CONSTRAINT_FOREIGNKEY:
			return apperr.CodeForeignKeyViolation
		case sqlitelib.SQLITE_CONSTRAINT_NOTNULL:
			return apperr.CodeNotNullViolation
		}
		if code&0xff == sqlitelib.SQLITE_CONSTRAINT {
			return apperr.CodeConstraint
		}
		return ""
	}

	return ""
}

// NormalizeError wraps a backend failure as a QueryError, attaching a
// constraint code when the driver error is recognized.
func NormalizeError(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	if code := ClassifyError(err); code != "" {
		return apperr.QueryCode(code, err, format, args...)
	}
	return apperr.Query(err, format, args...)
}

// IsConstraintCode reports whether code names a constraint violation.
func IsConstraintCode(code string) bool {
	return strings.HasSuffix(code, "_violation")
}
