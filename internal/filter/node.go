// Package filter compiles backend-agnostic filter trees into squirrel
// conditions against a schema table.
package filter

import "strings"

// Operator is a leaf comparison operator.
type Operator string

const (
	OpEq  Operator = "eq"
	OpNe  Operator = "ne"
	OpLt  Operator = "lt"
	OpLte Operator = "lte"
	OpGt  Operator = "gt"
	OpGte Operator = "gte"

	OpIn    Operator = "in"
	OpNotIn Operator = "nin"

	OpNull    Operator = "null"
	OpNotNull Operator = "nnull"

	OpBetween    Operator = "between"
	OpNotBetween Operator = "nbetween"

	// Raw LIKE patterns written by the caller.
	OpLike   Operator = "like"
	OpNLike  Operator = "nlike"
	OpILike  Operator = "ilike"
	OpNILike Operator = "nilike"

	// Substring operators. The trailing "s" marks the case-sensitive form.
	OpContains     Operator = "contains"
	OpNContains    Operator = "ncontains"
	OpContainsS    Operator = "containss"
	OpNContainsS   Operator = "ncontainss"
	OpStartsWith   Operator = "startswith"
	OpNStartsWith  Operator = "nstartswith"
	OpStartsWithS  Operator = "startswiths"
	OpNStartsWithS Operator = "nstartswiths"
	OpEndsWith     Operator = "endswith"
	OpNEndsWith    Operator = "nendswith"
	OpEndsWithS    Operator = "endswiths"
	OpNEndsWithS   Operator = "nendswiths"
)

var operatorAliases = map[string]Operator{
	"neq":        OpNe,
	"notin":      OpNotIn,
	"isnull":     OpNull,
	"isnotnull":  OpNotNull,
	"notbetween": OpNotBetween,
	"notlike":    OpNLike,
	"notilike":   OpNILike,
}

// ParseOperator normalizes an operator name, accepting the long-form aliases
// (notIn, isNull, isNotNull, notBetween, notLike). Unknown names are returned
// as-is with ok=false.
func ParseOperator(name string) (Operator, bool) {
	lower := strings.ToLower(name)
	if op, ok := operatorAliases[lower]; ok {
		return op, true
	}
	op := Operator(lower)
	_, ok := operatorTable[op]
	return op, ok
}

// Logical joins the children of a Group.
type Logical string

const (
	And Logical = "and"
	Or  Logical = "or"
)

// Node is either a Leaf or a *Group.
type Node interface {
	isNode()
}

// Leaf compares one field against a value.
type Leaf struct {
	Field    string
	Operator Operator
	Value    interface{}
}

// Group combines child nodes with AND or OR.
type Group struct {
	Operator Logical
	Children []Node
}

func (Leaf) isNode()   {}
func (*Group) isNode() {}

// Range is the value of a between / nbetween leaf.
type Range struct {
	Low  interface{}
	High interface{}
}

// Where builds a leaf.
func Where(field string, op Operator, value interface{}) Leaf {
	return Leaf{Field: field, Operator: op, Value: value}
}

// Eq builds an equality leaf.
func Eq(field string, value interface{}) Leaf {
	return Leaf{Field: field, Operator: OpEq, Value: value}
}

// In builds an in leaf.
func In(field string, values ...interface{}) Leaf {
	if values == nil {
		values = []interface{}{}
	}
	return Leaf{Field: field, Operator: OpIn, Value: values}
}

// Between builds a between leaf.
func Between(field string, low, high interface{}) Leaf {
	return Leaf{Field: field, Operator: OpBetween, Value: Range{Low: low, High: high}}
}

// AllOf groups nodes with AND.
func AllOf(children ...Node) *Group {
	return &Group{Operator: And, Children: children}
}

// AnyOf groups nodes with OR.
func AnyOf(children ...Node) *Group {
	return &Group{Operator: Or, Children: children}
}
