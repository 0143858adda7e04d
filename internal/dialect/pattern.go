package dialect

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"sqlprovider/internal/sqlutil"
)

// Anchor positions a literal substring inside a pattern.
type Anchor int

const (
	// AnchorNone passes the value through as a caller-written LIKE pattern.
	AnchorNone Anchor = iota
	AnchorContains
	AnchorPrefix
	AnchorSuffix
)

// Pattern describes one string-pattern comparison.
type Pattern struct {
	Value         string
	Anchor        Anchor
	CaseSensitive bool
	Negate        bool
}

// PatternCondition renders a pattern comparison against an already quoted column.
func (d Dialect) PatternCondition(column string, p Pattern) sq.Sqlizer {
	not := ""
	if p.Negate {
		not = "NOT "
	}

	switch d.Name {
	case Postgres:
		op := "LIKE"
		if !p.CaseSensitive {
			op = "ILIKE"
		}
		return sq.Expr(fmt.Sprintf("%s %s%s ?", column, not, op), likePattern(p))
	case MySQL:
		if p.CaseSensitive {
			return sq.Expr(fmt.Sprintf("%s %sLIKE BINARY ?", column, not), likePattern(p))
		}
		return sq.Expr(fmt.Sprintf("LOWER(%s) %sLIKE LOWER(?)", column, not), likePattern(p))
	default:
		// SQLite LIKE ignores ASCII case, GLOB does not.
		if p.CaseSensitive {
			return sq.Expr(fmt.Sprintf("%s %sGLOB ?", column, not), globPattern(p))
		}
		return sq.Expr(fmt.Sprintf("%s %sLIKE ? ESCAPE '\\'", column, not), likePattern(p))
	}
}

func likePattern(p Pattern) string {
	switch p.Anchor {
	case AnchorContains:
		return "%" + sqlutil.EscapeLike(p.Value) + "%"
	case AnchorPrefix:
		return sqlutil.EscapeLike(p.Value) + "%"
	case AnchorSuffix:
		return "%" + sqlutil.EscapeLike(p.Value)
	default:
		return p.Value
	}
}

func globPattern(p Pattern) string {
	switch p.Anchor {
	case AnchorContains:
		return "*" + sqlutil.EscapeGlob(p.Value) + "*"
	case AnchorPrefix:
		return sqlutil.EscapeGlob(p.Value) + "*"
	case AnchorSuffix:
		return "*" + sqlutil.EscapeGlob(p.Value)
	default:
		return likeToGlob(p.Value)
	}
}

// likeToGlob rewrites a LIKE pattern (% and _ wildcards, backslash escapes)
// into the equivalent GLOB pattern.
func likeToGlob(pattern string) string {
	var b strings.Builder
	b.Grow(len(pattern))
	escaped := false
	for _, r := range pattern {
		if escaped {
			b.WriteString(sqlutil.EscapeGlob(string(r)))
			escaped = false
			continue
		}
		switch r {
		case '\\':
			escaped = true
		case '%':
			b.WriteByte('*')
		case '_':
			b.WriteByte('?')
		default:
			b.WriteString(sqlutil.EscapeGlob(string(r)))
		}
	}
	if escaped {
		b.WriteString(sqlutil.EscapeGlob(`\`))
	}
	return b.String()
}
