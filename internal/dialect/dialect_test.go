package dialect

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlprovider/internal/apperr"
)

func mustDialect(t *testing.T, name Name) Dialect {
	t.Helper()
	d, err := ForName(name)
	require.NoError(t, err)
	return d
}

func TestForDriver(t *testing.T) {
	tests := []struct {
		driver    string
		name      Name
		returning bool
	}{
		{"mysql", MySQL, false},
		{"postgres", Postgres, true},
		{"pgx", Postgres, true},
		{"sqlite3", SQLite, true},
		{"sqlite", SQLite, true},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			d, err := ForDriver(tt.driver)
			require.NoError(t, err)
			assert.Equal(t, tt.name, d.Name)
			assert.Equal(t, tt.returning, d.SupportsReturning)
		})
	}

	_, err := ForDriver("oracle")
	assert.Error(t, err)
}

func TestQuote(t *testing.T) {
	assert.Equal(t, "`users`.`id`", mustDialect(t, MySQL).QuoteColumn("users", "id"))
	assert.Equal(t, `"users"."id"`, mustDialect(t, Postgres).QuoteColumn("users", "id"))
	assert.Equal(t, `"users"`, mustDialect(t, SQLite).Quote("users"))
}

func TestBuilderPlaceholders(t *testing.T) {
	sqlText, _, err := mustDialect(t, Postgres).Builder().Select("id").From("users").Where("id = ?", 1).ToSql()
	require.NoError(t, err)
	assert.Equal(t, "SELECT id FROM users WHERE id = $1", sqlText)

	sqlText, _, err = mustDialect(t, MySQL).Builder().Select("id").From("users").Where("id = ?", 1).ToSql()
	require.NoError(t, err)
	assert.Equal(t, "SELECT id FROM users WHERE id = ?", sqlText)
}

func TestPatternCondition(t *testing.T) {
	tests := []struct {
		name    string
		dialect Name
		pattern Pattern
		sql     string
		arg     string
	}{
		{"postgres contains insensitive", Postgres, Pattern{Value: "a%b", Anchor: AnchorContains}, `"t"."c" ILIKE ?`, `%a\%b%`},
		{"postgres prefix sensitive negated", Postgres, Pattern{Value: "ab", Anchor: AnchorPrefix, CaseSensitive: true, Negate: true}, `"t"."c" NOT LIKE ?`, `ab%`},
		{"mysql contains sensitive", MySQL, Pattern{Value: "ab", Anchor: AnchorContains, CaseSensitive: true}, "`t`.`c` LIKE BINARY ?", `%ab%`},
		{"mysql suffix insensitive", MySQL, Pattern{Value: "ab", Anchor: AnchorSuffix}, "LOWER(`t`.`c`) LIKE LOWER(?)", `%ab`},
		{"sqlite contains sensitive", SQLite, Pattern{Value: "a*b", Anchor: AnchorContains, CaseSensitive: true}, `"t"."c" GLOB ?`, `*a[*]b*`},
		{"sqlite raw like sensitive", SQLite, Pattern{Value: `a%\_b`, CaseSensitive: true}, `"t"."c" GLOB ?`, `a*_b`},
		{"sqlite prefix insensitive negated", SQLite, Pattern{Value: "ab", Anchor: AnchorPrefix, Negate: true}, `"t"."c" NOT LIKE ? ESCAPE '\'`, `ab%`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := mustDialect(t, tt.dialect)
			sqlText, args, err := d.PatternCondition(d.QuoteColumn("t", "c"), tt.pattern).ToSql()
			require.NoError(t, err)
			assert.Equal(t, tt.sql, sqlText)
			assert.Equal(t, []interface{}{tt.arg}, args)
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"mysql duplicate", &mysql.MySQLError{Number: 1062}, apperr.CodeUniqueViolation},
		{"mysql fk", &mysql.MySQLError{Number: 1452}, apperr.CodeForeignKeyViolation},
		{"mysql not null", &mysql.MySQLError{Number: 1048}, apperr.CodeNotNullViolation},
		{"mysql access", &mysql.MySQLError{Number: 1142}, apperr.CodeAccessDenied},
		{"mysql other", &mysql.MySQLError{Number: 1064}, ""},
		{"pq unique", &pq.Error{Code: "23505"}, apperr.CodeUniqueViolation},
		{"pq check", &pq.Error{Code: "23514"}, apperr.CodeConstraint},
		{"pq syntax", &pq.Error{Code: "42601"}, ""},
		{"sqlite unique", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}, apperr.CodeUniqueViolation},
		{"sqlite not null", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintNotNull}, apperr.CodeNotNullViolation},
		{"sqlite busy", sqlite3.Error{Code: sqlite3.ErrBusy}, ""},
		{"wrapped", fmt.Errorf("insert: %w", &mysql.MySQLError{Number: 1062}), apperr.CodeUniqueViolation},
		{"plain", errors.New("boom"), ""},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, ClassifyError(tt.err))
		})
	}
}

func TestNormalizeError(t *testing.T) {
	err := NormalizeError(&pq.Error{Code: "23505", Message: "duplicate key"}, "create %s", "users")
	require.Error(t, err)
	assert.True(t, apperr.IsQuery(err))
	assert.Equal(t, apperr.CodeUniqueViolation, apperr.CodeOf(err))
	assert.True(t, IsConstraintCode(apperr.CodeOf(err)))

	var pqErr *pq.Error
	assert.True(t, errors.As(err, &pqErr))

	plain := NormalizeError(errors.New("timeout"), "list users")
	assert.True(t, apperr.IsQuery(plain))
	assert.Empty(t, apperr.CodeOf(plain))

	already := apperr.Validation("bad")
	assert.Same(t, already, NormalizeError(already, "x"))

	assert.NoError(t, NormalizeError(nil, "x"))
}
