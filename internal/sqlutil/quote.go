// Package sqlutil provides identifier and literal quoting for the supported SQL dialects.
package sqlutil

import "strings"

// QuoteIdentifier quotes a MySQL identifier (table name, column name, etc.)
// with backticks and escapes any backticks within the identifier.
func QuoteIdentifier(name string) string {
	escaped := strings.ReplaceAll(name, "`", "``")
	return "`" + escaped + "`"
}

// QuoteIdentifierANSI quotes an identifier with double quotes, as PostgreSQL
// and SQLite expect, doubling embedded double quotes.
func QuoteIdentifierANSI(name string) string {
	escaped := strings.ReplaceAll(name, `"`, `""`)
	return `"` + escaped + `"`
}

// Qualify joins an already-quoted table or alias with an already-quoted column.
func Qualify(quotedTable, quotedColumn string) string {
	if quotedTable == "" {
		return quotedColumn
	}
	return quotedTable + "." + quotedColumn
}

// QuoteString quotes a SQL string literal with single quotes and escapes
// any single quotes within the string by doubling them.
func QuoteString(s string) string {
	escaped := strings.ReplaceAll(s, "'", "''")
	return "'" + escaped + "'"
}

// EscapeLike escapes LIKE wildcards (% and _) and the escape character itself
// with a backslash so the value matches literally inside a pattern.
func EscapeLike(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(s)
}

// EscapeGlob wraps SQLite GLOB metacharacters in brackets so the value
// matches literally inside a GLOB pattern.
func EscapeGlob(s string) string {
	replacer := strings.NewReplacer(`[`, `[[]`, `*`, `[*]`, `?`, `[?]`)
	return replacer.Replace(s)
}
