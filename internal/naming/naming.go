package naming

import (
	"log/slog"
	"strings"
	"unicode"
)

// Namer applies pluralization and case conventions.
type Namer struct {
	config Config
	logger *slog.Logger
}

// New creates a Namer with the given configuration
func New(cfg Config, logger *slog.Logger) *Namer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Namer{
		config: cfg,
		logger: logger,
	}
}

// Default returns a Namer with default configuration
func Default() *Namer {
	return New(DefaultConfig(), nil)
}

// ForeignKeyFor returns the conventional foreign key column that points at
// table: the singular table name with an "_id" suffix.
// Example: "users" -> "user_id", "people" -> "person_id"
func (n *Namer) ForeignKeyFor(table string) string {
	return n.Singularize(ToSnakeCase(table)) + "_id"
}

// TrimIDSuffix strips a trailing "_id" (or "Id") from a relation or column name.
// Example: "author_id" -> "author", "authorId" -> "author"
func TrimIDSuffix(name string) (string, bool) {
	switch {
	case len(name) > 3 && strings.HasSuffix(strings.ToLower(name), "_id"):
		return name[:len(name)-3], true
	case len(name) > 2 && strings.HasSuffix(name, "Id"):
		return name[:len(name)-2], true
	default:
		return name, false
	}
}

// ToCamelCase converts snake_case to camelCase
// Example: "user_name" -> "userName"
func ToCamelCase(s string) string {
	parts := strings.Split(s, "_")
	for i := 1; i < len(parts); i++ {
		if len(parts[i]) > 0 {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, "")
}

// ToSnakeCase converts camelCase or PascalCase to snake_case. Runs of
// upper-case letters are treated as one word ("userID" -> "user_id").
func ToSnakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if prev != '_' && (unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower)) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// KeyVariants returns name followed by its snake_case and camelCase forms,
// without duplicates. Lookups try them in order.
func KeyVariants(name string) []string {
	variants := []string{name}
	for _, candidate := range []string{ToSnakeCase(name), ToCamelCase(name)} {
		if candidate == "" {
			continue
		}
		dup := false
		for _, existing := range variants {
			if existing == candidate {
				dup = true
				break
			}
		}
		if !dup {
			variants = append(variants, candidate)
		}
	}
	return variants
}

// Lookup finds key in record, falling back to the snake_case and camelCase
// variants of key. It returns the value and the variant that matched.
func Lookup(record map[string]interface{}, key string) (interface{}, string, bool) {
	if record == nil {
		return nil, "", false
	}
	for _, variant := range KeyVariants(key) {
		if value, ok := record[variant]; ok {
			return value, variant, true
		}
	}
	return nil, "", false
}
