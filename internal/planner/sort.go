package planner

import (
	"strings"

	"sqlprovider/internal/apperr"
	"sqlprovider/internal/dialect"
	"sqlprovider/internal/schema"
)

// Sort orders by one field. Order is "asc" or "desc", case-insensitive;
// empty means asc.
type Sort struct {
	Field string `json:"field" mapstructure:"field"`
	Order string `json:"order" mapstructure:"order"`
}

// OrderTerm is a resolved sort key.
type OrderTerm struct {
	Table      string
	Column     string
	Descending bool
}

// SQL renders the term for d.
func (o OrderTerm) SQL(d dialect.Dialect) string {
	if o.Descending {
		return d.QuoteColumn(o.Table, o.Column) + " DESC"
	}
	return d.QuoteColumn(o.Table, o.Column) + " ASC"
}

// CompileSort resolves sorts in order. An unknown field or direction is a
// validation error since dropping a key would silently change the ordering.
func CompileSort(table *schema.Table, sorts []Sort) ([]OrderTerm, error) {
	if len(sorts) == 0 {
		return nil, nil
	}
	terms := make([]OrderTerm, 0, len(sorts))
	for _, s := range sorts {
		if s.Field == "" {
			return nil, apperr.Validation("sort field is required")
		}
		col, ok := table.ResolveColumn(s.Field)
		if !ok {
			return nil, apperr.Validation("cannot sort by unknown field %q on %s", s.Field, table.Name)
		}
		var desc bool
		switch strings.ToLower(s.Order) {
		case "", "asc":
		case "desc":
			desc = true
		default:
			return nil, apperr.Validation("invalid sort order %q for %s: must be asc or desc", s.Order, s.Field)
		}
		terms = append(terms, OrderTerm{Table: table.Name, Column: col.Name, Descending: desc})
	}
	return terms, nil
}

func orderClauses(d dialect.Dialect, terms []OrderTerm) []string {
	clauses := make([]string, len(terms))
	for i, term := range terms {
		clauses[i] = term.SQL(d)
	}
	return clauses
}
