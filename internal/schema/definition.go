package schema

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Definition is the on-disk schema file.
//
//	tables:
//	  - name: users
//	    columns:
//	      - {name: id, type: int, primary_key: true, auto_increment: true}
//	      - {name: email, type: varchar}
//	relations:
//	  users:
//	    - {name: posts, type: hasMany, related_table: posts}
//	morphs:
//	  comments:
//	    commentable:
//	      type_field: commentable_type
//	      id_field: commentable_id
//	      types: {post: posts, video: videos}
type Definition struct {
	Tables    []TableDefinition                    `yaml:"tables"`
	Relations map[string][]RelationDefinition      `yaml:"relations"`
	Morphs    map[string]map[string]MorphDefinition `yaml:"morphs"`
}

// TableDefinition declares one table.
type TableDefinition struct {
	Name    string   `yaml:"name"`
	Columns []Column `yaml:"columns"`
}

// RelationDefinition declares a relationship in raw form. Omitted keys are
// inferred from naming conventions when the relationship is built.
type RelationDefinition struct {
	Name            string                   `yaml:"name"`
	Type            string                   `yaml:"type"`
	RelatedTable    string                   `yaml:"related_table"`
	LocalKey        string                   `yaml:"local_key"`
	RelatedKey      string                   `yaml:"related_key"`
	ForeignKey      string                   `yaml:"foreign_key"`
	PivotTable      string                   `yaml:"pivot_table"`
	PivotLocalKey   string                   `yaml:"pivot_local_key"`
	PivotRelatedKey string                   `yaml:"pivot_related_key"`
	Conditions      []map[string]interface{} `yaml:"conditions"`
}

// MorphDefinition declares a polymorphic relationship in raw form.
type MorphDefinition struct {
	TypeField       string              `yaml:"type_field"`
	IDField         string              `yaml:"id_field"`
	RelationName    string              `yaml:"relation_name"`
	Types           map[string]string   `yaml:"types"`
	PivotTable      string              `yaml:"pivot_table"`
	PivotLocalKey   string              `yaml:"pivot_local_key"`
	PivotForeignKey string              `yaml:"pivot_foreign_key"`
	NestedRelations map[string][]string `yaml:"nested_relations"`
}

// LoadFile reads and parses a schema definition file.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file %s: %w", path, err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse schema file %s: %w", path, err)
	}
	return def, nil
}

// Parse decodes a schema definition. Unknown keys are rejected.
func Parse(data []byte) (*Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var def Definition
	if err := dec.Decode(&def); err != nil {
		return nil, err
	}
	return &def, nil
}

// Build registers every declared table.
func (d *Definition) Build() (*Schema, error) {
	tables := make([]*Table, 0, len(d.Tables))
	for _, td := range d.Tables {
		t, err := NewTable(td.Name, td.Columns)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return New(tables...)
}
