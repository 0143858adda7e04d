// Package morph resolves polymorphic associations: base rows carrying a
// discriminator and an id are grouped by discriminator and each group is
// loaded from its own table in one query.
package morph

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"sqlprovider/internal/apperr"
	"sqlprovider/internal/relation"
	"sqlprovider/internal/schema"
)

// MaxNestingDepth bounds nested descriptor chains.
const MaxNestingDepth = 5

// TypeKey is added to records loaded through a pivot so callers can tell
// the heterogeneous entries apart.
const TypeKey = "__morph_type"

// CustomLoader replaces the default per-type loading. It receives the base
// rows and returns the value to attach for each row index; indexes missing
// from the result are attached as nil.
type CustomLoader func(ctx context.Context, rows []map[string]interface{}, desc *Descriptor) (map[int]interface{}, error)

// Descriptor configures one polymorphic association.
//
// Without a pivot, TypeField and IDField name base row fields and the
// association is single valued. With PivotTable set, TypeField and the
// pivot's PivotForeignKey (IDField when empty) are pivot columns, the pivot
// is joined to the base primary key through PivotLocalKey, and the
// association is a list.
type Descriptor struct {
	TypeField    string            `validate:"required"`
	IDField      string            `validate:"required"`
	RelationName string            `validate:"required"`
	Types        map[string]string `validate:"required,min=1,dive,keys,required,endkeys,required"`

	PivotTable      string
	PivotLocalKey   string `validate:"required_with=PivotTable"`
	PivotForeignKey string

	// Nested resolves a further association on the records loaded for a
	// type, keyed by type name.
	Nested map[string]*Descriptor
	// NestedRelations loads named relationships on the records loaded for
	// a type, keyed by type name.
	NestedRelations map[string][]string

	CustomLoader CustomLoader `validate:"-"`
}

// ManyToMany reports whether the association goes through a pivot table.
func (d *Descriptor) ManyToMany() bool {
	return d.PivotTable != ""
}

// pivotIDField is the pivot column holding the related id.
func (d *Descriptor) pivotIDField() string {
	if d.PivotForeignKey != "" {
		return d.PivotForeignKey
	}
	return d.IDField
}

// NewDescriptor validates d against s and returns it. Every mapped table,
// the pivot table and every nested descriptor are checked here so a bad
// descriptor never reaches a query.
func NewDescriptor(s *schema.Schema, d Descriptor) (*Descriptor, error) {
	desc := d
	if err := validateDescriptor(s, &desc, 0, map[*Descriptor]struct{}{}); err != nil {
		return nil, err
	}
	return &desc, nil
}

func validateDescriptor(s *schema.Schema, d *Descriptor, depth int, path map[*Descriptor]struct{}) error {
	if depth > MaxNestingDepth {
		return apperr.Validation("morph nesting exceeds maximum depth of %d", MaxNestingDepth)
	}
	if err := relation.Validator().Struct(d); err != nil {
		return apperr.Validation("invalid morph descriptor %q: %s", d.RelationName, describeValidation(err))
	}

	for typeName, tableName := range d.Types {
		if !s.Has(tableName) {
			return apperr.Schema("morph %s: type %q maps to unknown table %q", d.RelationName, typeName, tableName)
		}
	}

	if d.ManyToMany() {
		pivot, err := s.MustTable(d.PivotTable)
		if err != nil {
			return err
		}
		for _, field := range []string{d.PivotLocalKey, d.TypeField, d.pivotIDField()} {
			if _, err := pivot.MustResolveColumn(field); err != nil {
				return err
			}
		}
	}

	for typeName := range d.NestedRelations {
		if _, ok := d.Types[typeName]; !ok {
			return apperr.Validation("morph %s: nested relations declared for unknown type %q", d.RelationName, typeName)
		}
	}
	for typeName, nested := range d.Nested {
		if _, ok := d.Types[typeName]; !ok {
			return apperr.Validation("morph %s: nested descriptor declared for unknown type %q", d.RelationName, typeName)
		}
		if nested == nil {
			continue
		}
		if _, seen := path[nested]; seen || nested == d {
			return apperr.Validation("morph %s: circular nested descriptor", d.RelationName)
		}
		path[d] = struct{}{}
		if err := validateDescriptor(s, nested, depth+1, path); err != nil {
			return err
		}
		delete(path, d)
	}
	return nil
}

func describeValidation(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fe.Namespace()+" failed "+fe.Tag())
	}
	return strings.Join(parts, ", ")
}

// FromDefinition converts a declared morph. name is used as the relation
// name when the definition leaves it empty.
func FromDefinition(name string, def schema.MorphDefinition) Descriptor {
	relationName := def.RelationName
	if relationName == "" {
		relationName = name
	}
	return Descriptor{
		TypeField:       def.TypeField,
		IDField:         def.IDField,
		RelationName:    relationName,
		Types:           def.Types,
		PivotTable:      def.PivotTable,
		PivotLocalKey:   def.PivotLocalKey,
		PivotForeignKey: def.PivotForeignKey,
		NestedRelations: def.NestedRelations,
	}
}
