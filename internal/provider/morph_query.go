package provider

import (
	"context"

	"sqlprovider/internal/filter"
	"sqlprovider/internal/morph"
)

// MorphQuery reads base rows and resolves one polymorphic association on
// them.
type MorphQuery struct {
	query *Query
	desc  *morph.Descriptor
	types []string
	err   error
}

// MorphTo starts a polymorphic query on resource. The descriptor is
// validated immediately; a bad descriptor fails every terminal call.
func (p *DataProvider) MorphTo(resource string, desc morph.Descriptor) *MorphQuery {
	validated, err := morph.NewDescriptor(p.schema, desc)
	return &MorphQuery{query: p.From(resource), desc: validated, err: err}
}

// Where adds filter nodes on the base rows.
func (m *MorphQuery) Where(nodes ...filter.Node) *MorphQuery {
	m.query.Where(nodes...)
	return m
}

// WhereType keeps rows of one discriminator value.
func (m *MorphQuery) WhereType(typeName string) *MorphQuery {
	return m.WhereTypeIn(typeName)
}

// WhereTypeIn keeps rows whose discriminator is one of types. For pivot
// associations only pivot links of those types are loaded and attached.
func (m *MorphQuery) WhereTypeIn(types ...string) *MorphQuery {
	if m.desc != nil && !m.desc.ManyToMany() {
		values := make([]interface{}, len(types))
		for i, t := range types {
			values[i] = t
		}
		m.query.Where(filter.In(m.desc.TypeField, values...))
		return m
	}
	m.types = append(m.types, types...)
	return m
}

// OrderBy appends a sort key on the base rows.
func (m *MorphQuery) OrderBy(field, order string) *MorphQuery {
	m.query.OrderBy(field, order)
	return m
}

// Paginate selects a page of base rows.
func (m *MorphQuery) Paginate(page, pageSize int) *MorphQuery {
	m.query.Paginate(page, pageSize)
	return m
}

// Get fetches the base rows and attaches the association.
func (m *MorphQuery) Get(ctx context.Context) ([]map[string]interface{}, error) {
	if m.err != nil {
		return nil, m.err
	}
	rows, err := m.query.Get(ctx)
	if err != nil {
		return nil, err
	}
	return m.resolve(ctx, rows)
}

// First returns the first base row with its association, or nil.
func (m *MorphQuery) First(ctx context.Context) (map[string]interface{}, error) {
	if m.err != nil {
		return nil, m.err
	}
	row, err := m.query.First(ctx)
	if err != nil || row == nil {
		return nil, err
	}
	rows, err := m.resolve(ctx, []map[string]interface{}{row})
	if err != nil {
		return nil, err
	}
	return rows[0], nil
}

// Count returns the number of base rows matching the filters.
func (m *MorphQuery) Count(ctx context.Context) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	return m.query.Count(ctx)
}

func (m *MorphQuery) resolve(ctx context.Context, rows []map[string]interface{}) (out []map[string]interface{}, err error) {
	p := m.query.provider
	ctx, done := p.observe(ctx, "morphTo", m.query.resource)
	defer func() { done(len(out), err) }()

	table, err := p.table(m.query.resource)
	if err != nil {
		return nil, err
	}
	return p.morphs.Resolve(ctx, table, rows, m.desc, morph.OnlyTypes(m.types...))
}
