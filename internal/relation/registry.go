package relation

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	"sqlprovider/internal/apperr"
	"sqlprovider/internal/filter"
	"sqlprovider/internal/naming"
	"sqlprovider/internal/schema"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared struct validator used for descriptors.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Registry holds explicitly declared relationships per owner table. Lookups
// fall back to Infer for names that were not declared.
type Registry struct {
	schema   *schema.Schema
	namer    *naming.Namer
	declared map[string]map[string]Relationship
}

// NewRegistry creates an empty registry over s.
func NewRegistry(s *schema.Schema, n *naming.Namer) *Registry {
	if n == nil {
		n = naming.Default()
	}
	return &Registry{
		schema:   s,
		namer:    n,
		declared: make(map[string]map[string]Relationship),
	}
}

// Add declares a relationship on owner. The owner table must exist.
func (r *Registry) Add(owner string, rel Relationship) error {
	if err := Validator().Struct(rel); err != nil {
		return apperr.Configuration("relationship %s.%s: %v", owner, rel.Name, err)
	}
	table, err := r.schema.MustTable(owner)
	if err != nil {
		return err
	}
	if r.declared[table.Name] == nil {
		r.declared[table.Name] = make(map[string]Relationship)
	}
	if _, dup := r.declared[table.Name][rel.Name]; dup {
		return apperr.Configuration("relationship %s.%s declared twice", owner, rel.Name)
	}
	r.declared[table.Name][rel.Name] = Infer(r.namer, r.schema, table, rel)
	return nil
}

// Resolve returns the relationship called name on owner: the declared one
// when present, otherwise one inferred from naming conventions.
func (r *Registry) Resolve(owner *schema.Table, name string) Relationship {
	if owner != nil {
		if rel, ok := r.declared[owner.Name][name]; ok {
			return rel
		}
	}
	return Infer(r.namer, r.schema, owner, Relationship{Name: name})
}

// ResolveAll resolves each name in order.
func (r *Registry) ResolveAll(owner *schema.Table, names []string) []Relationship {
	rels := make([]Relationship, 0, len(names))
	for _, name := range names {
		rels = append(rels, r.Resolve(owner, name))
	}
	return rels
}

// Declared returns the declared relationship names for owner.
func (r *Registry) Declared(owner string) []string {
	names := make([]string, 0, len(r.declared[owner]))
	for name := range r.declared[owner] {
		names = append(names, name)
	}
	return names
}

// LoadDefinitions declares every relationship of a schema definition file.
func (r *Registry) LoadDefinitions(defs map[string][]schema.RelationDefinition) error {
	for owner, list := range defs {
		for _, def := range list {
			rel, err := FromDefinition(def)
			if err != nil {
				return fmt.Errorf("relationship %s.%s: %w", owner, def.Name, err)
			}
			if err := r.Add(owner, rel); err != nil {
				return err
			}
		}
	}
	return nil
}

// FromDefinition converts a raw definition.
func FromDefinition(def schema.RelationDefinition) (Relationship, error) {
	rel := Relationship{
		Name:            def.Name,
		Type:            Type(def.Type),
		RelatedTable:    def.RelatedTable,
		LocalKey:        def.LocalKey,
		RelatedKey:      def.RelatedKey,
		ForeignKey:      def.ForeignKey,
		PivotTable:      def.PivotTable,
		PivotLocalKey:   def.PivotLocalKey,
		PivotRelatedKey: def.PivotRelatedKey,
	}
	if len(def.Conditions) > 0 {
		raw := make([]interface{}, len(def.Conditions))
		for i, c := range def.Conditions {
			raw[i] = c
		}
		nodes, err := filter.Decode(raw)
		if err != nil {
			return Relationship{}, err
		}
		rel.Conditions = nodes
	}
	return rel, nil
}
