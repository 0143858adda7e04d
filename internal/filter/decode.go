package filter

import (
	"fmt"
	"reflect"
	"strings"

	"sqlprovider/internal/apperr"
)

// Decode converts loosely typed input (as produced by JSON or YAML decoding)
// into filter nodes. Accepted shapes are a single node map, a slice of node
// maps, or already-typed Nodes. A node map is either
//
//	{"field": "age", "operator": "gte", "value": 18}
//	{"operator": "or", "value": [ ...nodes ]}
//
// Cyclic input is rejected before interpretation.
func Decode(raw interface{}) ([]Node, error) {
	return DecodeWithDepth(raw, DefaultMaxDepth)
}

// DecodeWithDepth is Decode with an explicit group nesting limit.
func DecodeWithDepth(raw interface{}, maxDepth int) ([]Node, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if raw == nil {
		return nil, nil
	}
	// Each group level is a map holding a slice, plus the outer list.
	if err := checkRaw(raw, 2*maxDepth+4); err != nil {
		return nil, err
	}
	nodes, err := decodeList(raw, 0, maxDepth)
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

func decodeList(raw interface{}, depth, maxDepth int) ([]Node, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []Node:
		return v, nil
	case Node:
		return []Node{v}, nil
	case map[string]interface{}:
		node, err := decodeNode(v, depth, maxDepth)
		if err != nil {
			return nil, err
		}
		return []Node{node}, nil
	}

	rv := reflect.ValueOf(raw)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, apperr.Validation("filters must be a list of filter objects, got %T", raw)
	}
	nodes := make([]Node, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		item := rv.Index(i).Interface()
		switch typed := item.(type) {
		case Node:
			nodes = append(nodes, typed)
		case map[string]interface{}:
			node, err := decodeNode(typed, depth, maxDepth)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, node)
		default:
			m, ok := toStringMap(item)
			if !ok {
				return nil, apperr.Validation("filter entry %d must be an object, got %T", i, item)
			}
			node, err := decodeNode(m, depth, maxDepth)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, node)
		}
	}
	return nodes, nil
}

func decodeNode(m map[string]interface{}, depth, maxDepth int) (Node, error) {
	opRaw, hasOp := m["operator"]
	opName, _ := opRaw.(string)
	if !hasOp || opName == "" {
		return nil, apperr.Validation("filter is missing an operator")
	}

	if logical := Logical(strings.ToLower(opName)); logical == And || logical == Or {
		if _, isLeaf := m["field"]; !isLeaf {
			if depth+1 > maxDepth {
				return nil, apperr.Validation("filter nesting exceeds maximum depth of %d", maxDepth)
			}
			children, err := decodeList(m["value"], depth+1, maxDepth)
			if err != nil {
				return nil, err
			}
			return &Group{Operator: logical, Children: children}, nil
		}
	}

	field, _ := m["field"].(string)
	if field == "" {
		return nil, apperr.Validation("filter with operator %q is missing a field", opName)
	}
	// Unknown operators are kept so the compiler can reject them.
	op, _ := ParseOperator(opName)
	return Leaf{Field: field, Operator: op, Value: m["value"]}, nil
}

// toStringMap accepts map[interface{}]interface{} and other map types keyed by strings.
func toStringMap(v interface{}) (map[string]interface{}, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map {
		return nil, false
	}
	out := make(map[string]interface{}, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[fmt.Sprint(iter.Key().Interface())] = iter.Value().Interface()
	}
	return out, true
}
