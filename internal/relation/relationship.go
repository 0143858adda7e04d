// Package relation loads related records for a base record set, issuing one
// batched query per relationship instead of one per record.
package relation

import (
	"sort"
	"strings"

	"sqlprovider/internal/filter"
	"sqlprovider/internal/naming"
	"sqlprovider/internal/schema"
)

// Type is a relationship cardinality.
type Type string

const (
	HasOne        Type = "hasOne"
	HasMany       Type = "hasMany"
	BelongsTo     Type = "belongsTo"
	BelongsToMany Type = "belongsToMany"
)

// Relationship describes how records of one table reach records of another.
// Empty keys are filled by Infer.
type Relationship struct {
	Name            string `validate:"required"`
	Type            Type   `validate:"omitempty,oneof=hasOne hasMany belongsTo belongsToMany"`
	RelatedTable    string
	LocalKey        string
	RelatedKey      string
	ForeignKey      string
	PivotTable      string
	PivotLocalKey   string
	PivotRelatedKey string
	Conditions      []filter.Node
}

// Plural reports whether the relationship resolves to a list.
func (r Relationship) Plural() bool {
	return r.Type == HasMany || r.Type == BelongsToMany
}

// Key is the record key the loaded value is stored under. A belongsTo named
// after its own foreign key ("author_id") is stored under the stem
// ("author") so the key column is not overwritten.
func (r Relationship) Key() string {
	if r.Type == BelongsTo && r.Name == r.ForeignKey {
		if stem, ok := naming.TrimIDSuffix(r.Name); ok {
			return stem
		}
	}
	return r.Name
}

// Empty returns the degraded value for the relationship: an empty list for
// plural kinds, nil otherwise.
func (r Relationship) Empty() interface{} {
	if r.Plural() {
		return []map[string]interface{}{}
	}
	return nil
}

// Infer fills omitted fields of rel from naming conventions:
//
//   - a name ending in _id is a belongsTo of the pluralized stem
//   - a plural name is a hasMany keyed by singular(owner)+"_id"
//   - a singular name whose plural is a known table is a belongsTo
//   - anything else is a hasOne
//
// Explicitly set fields are never overwritten.
func Infer(n *naming.Namer, s *schema.Schema, owner *schema.Table, rel Relationship) Relationship {
	if n == nil {
		n = naming.Default()
	}
	name := rel.Name

	if rel.Type == "" {
		stem, hasIDSuffix := naming.TrimIDSuffix(name)
		switch {
		case hasIDSuffix:
			rel.Type = BelongsTo
			if rel.ForeignKey == "" {
				rel.ForeignKey = name
			}
			if rel.RelatedTable == "" {
				rel.RelatedTable = pickTable(s, n.Pluralize(naming.ToSnakeCase(stem)), naming.ToSnakeCase(stem))
			}
		case n.IsPlural(naming.ToSnakeCase(name)):
			rel.Type = HasMany
		case s.Has(n.Pluralize(naming.ToSnakeCase(name))):
			rel.Type = BelongsTo
		default:
			rel.Type = HasOne
		}
	}

	snake := naming.ToSnakeCase(name)
	if rel.RelatedTable == "" {
		switch rel.Type {
		case HasMany, BelongsToMany:
			rel.RelatedTable = pickTable(s, snake, n.Pluralize(snake))
		default:
			rel.RelatedTable = pickTable(s, n.Pluralize(snake), snake)
		}
	}

	ownerPK := "id"
	if owner != nil && owner.PrimaryKey != "" {
		ownerPK = owner.PrimaryKey
	}
	relatedPK := "id"
	if related, ok := s.Table(rel.RelatedTable); ok && related.PrimaryKey != "" {
		relatedPK = related.PrimaryKey
	}
	ownerName := ""
	if owner != nil {
		ownerName = owner.Name
	}

	switch rel.Type {
	case HasOne, HasMany:
		if rel.LocalKey == "" {
			rel.LocalKey = ownerPK
		}
		if rel.RelatedKey == "" {
			rel.RelatedKey = n.ForeignKeyFor(ownerName)
		}
	case BelongsTo:
		if rel.ForeignKey == "" {
			rel.ForeignKey = n.Singularize(snake) + "_id"
		}
		if rel.RelatedKey == "" {
			rel.RelatedKey = relatedPK
		}
	case BelongsToMany:
		if rel.LocalKey == "" {
			rel.LocalKey = ownerPK
		}
		if rel.RelatedKey == "" {
			rel.RelatedKey = relatedPK
		}
		if rel.PivotTable == "" {
			rel.PivotTable = pivotTableName(n, ownerName, rel.RelatedTable)
		}
		if rel.PivotLocalKey == "" {
			rel.PivotLocalKey = n.ForeignKeyFor(ownerName)
		}
		if rel.PivotRelatedKey == "" {
			rel.PivotRelatedKey = n.ForeignKeyFor(rel.RelatedTable)
		}
	}
	return rel
}

// pickTable returns the first candidate registered in s, or the first
// candidate when none is.
func pickTable(s *schema.Schema, candidates ...string) string {
	for _, candidate := range candidates {
		if t, ok := s.Table(candidate); ok {
			return t.Name
		}
	}
	return candidates[0]
}

// pivotTableName joins the singular table names alphabetically: posts and
// tags meet in post_tag.
func pivotTableName(n *naming.Namer, a, b string) string {
	parts := []string{
		n.Singularize(naming.ToSnakeCase(a)),
		n.Singularize(naming.ToSnakeCase(b)),
	}
	sort.Strings(parts)
	return strings.Join(parts, "_")
}
