// Package sqltype classifies declared column types into value categories.
// Declared types come from schema files and may use MySQL, PostgreSQL or
// SQLite spellings.
package sqltype

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Category is the value category of a column type.
type Category int

const (
	// String is the default for text, temporal and unknown types.
	String Category = iota
	Int
	Float
	Bool
	JSON
	UUID
)

func (c Category) String() string {
	switch c {
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case JSON:
		return "json"
	case UUID:
		return "uuid"
	default:
		return "string"
	}
}

// Classify maps a declared SQL type to its category. Matching is
// case-insensitive and ignores size specifiers like (10,2) and modifiers
// like UNSIGNED.
func Classify(sqlType string) Category {
	base := strings.ToLower(strings.TrimSpace(sqlType))
	if idx := strings.Index(base, "("); idx != -1 {
		base = strings.TrimSpace(base[:idx])
	}
	base = strings.TrimSuffix(base, " unsigned")

	switch base {
	case "tinyint", "smallint", "mediumint", "int", "integer", "bigint",
		"int2", "int4", "int8", "serial", "smallserial", "bigserial", "bit":
		return Int
	case "float", "double", "double precision", "real", "float4", "float8",
		"decimal", "numeric":
		return Float
	case "bool", "boolean":
		return Bool
	case "json", "jsonb":
		return JSON
	case "uuid":
		return UUID
	default:
		return String
	}
}

// ParseKey converts a key taken from a URL path to the value a column of
// the given category expects. UUIDs are normalized to lower case.
func ParseKey(c Category, raw string) (interface{}, error) {
	raw = strings.TrimSpace(raw)
	switch c {
	case Int:
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer key %q", raw)
		}
		return id, nil
	case UUID:
		parsed, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid UUID key %q", raw)
		}
		return parsed.String(), nil
	case String:
		return raw, nil
	default:
		return nil, fmt.Errorf("%s columns cannot be used as keys", c)
	}
}
