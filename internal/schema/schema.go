// Package schema holds the table and column descriptors the query layers
// compile against. Tables are normalized once at registration so column
// lookups never need to sniff the storage representation at query time.
package schema

import (
	"fmt"
	"sort"

	"sqlprovider/internal/apperr"
	"sqlprovider/internal/naming"
)

// Column describes a single table column.
type Column struct {
	// Name is the storage-level column name.
	Name string `yaml:"name"`
	// Field is the application-level field name. Defaults to Name.
	Field           string `yaml:"field"`
	DataType        string `yaml:"type"`
	IsPrimaryKey    bool   `yaml:"primary_key"`
	IsAutoIncrement bool   `yaml:"auto_increment"`
	IsNullable      bool   `yaml:"nullable"`
}

// Table is a normalized table descriptor.
type Table struct {
	Name       string
	Columns    []Column
	PrimaryKey string

	byField map[string]int
	byName  map[string]int
}

// NewTable normalizes columns and builds the lookup maps.
// The primary key is the first column flagged IsPrimaryKey, falling back to a
// column named "id".
func NewTable(name string, columns []Column) (*Table, error) {
	if name == "" {
		return nil, apperr.Configuration("table name is required")
	}
	if len(columns) == 0 {
		return nil, apperr.Configuration("table %s has no columns", name)
	}

	t := &Table{
		Name:    name,
		Columns: make([]Column, len(columns)),
		byField: make(map[string]int, len(columns)),
		byName:  make(map[string]int, len(columns)),
	}
	for i, col := range columns {
		if col.Name == "" {
			return nil, apperr.Configuration("table %s: column %d has no name", name, i)
		}
		if col.Field == "" {
			col.Field = col.Name
		}
		if _, dup := t.byName[col.Name]; dup {
			return nil, apperr.Configuration("table %s: duplicate column %s", name, col.Name)
		}
		if _, dup := t.byField[col.Field]; dup {
			return nil, apperr.Configuration("table %s: duplicate field %s", name, col.Field)
		}
		t.Columns[i] = col
		t.byName[col.Name] = i
		t.byField[col.Field] = i
		if col.IsPrimaryKey && t.PrimaryKey == "" {
			t.PrimaryKey = col.Field
		}
	}
	if t.PrimaryKey == "" {
		if idx, ok := t.byName["id"]; ok {
			t.Columns[idx].IsPrimaryKey = true
			t.PrimaryKey = t.Columns[idx].Field
		}
	}
	return t, nil
}

// ResolveColumn finds the column for an application field name. It tries the
// field map, then the storage column names, then the snake_case and camelCase
// variants of field against both. Returns false when nothing matches.
func (t *Table) ResolveColumn(field string) (*Column, bool) {
	if t == nil || field == "" {
		return nil, false
	}
	for _, candidate := range naming.KeyVariants(field) {
		if idx, ok := t.byField[candidate]; ok {
			return &t.Columns[idx], true
		}
		if idx, ok := t.byName[candidate]; ok {
			return &t.Columns[idx], true
		}
	}
	return nil, false
}

// MustResolveColumn is ResolveColumn returning a SchemaError on miss.
func (t *Table) MustResolveColumn(field string) (*Column, error) {
	col, ok := t.ResolveColumn(field)
	if !ok {
		return nil, apperr.Schema("column %q not found on table %s", field, t.Name)
	}
	return col, nil
}

// PrimaryKeyColumn returns the primary key column.
func (t *Table) PrimaryKeyColumn() (*Column, error) {
	if t.PrimaryKey == "" {
		return nil, apperr.Schema("table %s has no primary key", t.Name)
	}
	return t.MustResolveColumn(t.PrimaryKey)
}

// Fields returns the field names in column order.
func (t *Table) Fields() []string {
	fields := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		fields[i] = col.Field
	}
	return fields
}

// Schema is the registry of known tables.
type Schema struct {
	tables map[string]*Table
}

// New builds a schema from the given tables.
func New(tables ...*Table) (*Schema, error) {
	s := &Schema{tables: make(map[string]*Table, len(tables))}
	for _, t := range tables {
		if err := s.Register(t); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Register adds a table. Registering the same name twice is an error.
func (s *Schema) Register(t *Table) error {
	if t == nil {
		return apperr.Configuration("cannot register nil table")
	}
	if _, exists := s.tables[t.Name]; exists {
		return apperr.Configuration("table %s registered twice", t.Name)
	}
	s.tables[t.Name] = t
	return nil
}

// Table looks up a table by name, tolerating snake_case/camelCase variants.
func (s *Schema) Table(name string) (*Table, bool) {
	if s == nil {
		return nil, false
	}
	for _, candidate := range naming.KeyVariants(name) {
		if t, ok := s.tables[candidate]; ok {
			return t, true
		}
	}
	return nil, false
}

// MustTable is Table returning a SchemaError on miss.
func (s *Schema) MustTable(name string) (*Table, error) {
	t, ok := s.Table(name)
	if !ok {
		return nil, apperr.Schema("table %q not found", name)
	}
	return t, nil
}

// Has reports whether the table exists.
func (s *Schema) Has(name string) bool {
	_, ok := s.Table(name)
	return ok
}

// Tables returns all tables sorted by name.
func (s *Schema) Tables() []*Table {
	if s == nil {
		return nil
	}
	out := make([]*Table, 0, len(s.tables))
	for _, t := range s.tables {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (t *Table) String() string {
	return fmt.Sprintf("%s(%d columns)", t.Name, len(t.Columns))
}
