package filter

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlprovider/internal/apperr"
)

func TestDecodeJSON(t *testing.T) {
	var raw interface{}
	require.NoError(t, json.Unmarshal([]byte(`[
		{"field": "age", "operator": "gte", "value": 18},
		{"operator": "or", "value": [
			{"field": "name", "operator": "eq", "value": "ann"},
			{"field": "deletedAt", "operator": "isNull"}
		]},
		{"field": "id", "operator": "notIn", "value": [1, 2]}
	]`), &raw))

	nodes, err := Decode(raw)
	require.NoError(t, err)
	require.Len(t, nodes, 3)

	assert.Equal(t, Leaf{Field: "age", Operator: OpGte, Value: 18.0}, nodes[0])
	group, ok := nodes[1].(*Group)
	require.True(t, ok)
	assert.Equal(t, Or, group.Operator)
	require.Len(t, group.Children, 2)
	assert.Equal(t, OpNull, group.Children[1].(Leaf).Operator)
	assert.Equal(t, OpNotIn, nodes[2].(Leaf).Operator)
}

func TestDecodeSingleObjectAndTypedNodes(t *testing.T) {
	nodes, err := Decode(map[string]interface{}{"field": "id", "operator": "eq", "value": 1})
	require.NoError(t, err)
	assert.Len(t, nodes, 1)

	nodes, err = Decode([]Node{Eq("id", 1)})
	require.NoError(t, err)
	assert.Len(t, nodes, 1)

	nodes, err = Decode(nil)
	require.NoError(t, err)
	assert.Nil(t, nodes)
}

func TestDecodeKeepsUnknownOperatorForCompiler(t *testing.T) {
	nodes, err := Decode([]interface{}{map[string]interface{}{"field": "id", "operator": "approx", "value": 1}})
	require.NoError(t, err)
	assert.Equal(t, Operator("approx"), nodes[0].(Leaf).Operator)
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  interface{}
	}{
		{"missing operator", []interface{}{map[string]interface{}{"field": "id"}}},
		{"missing field", []interface{}{map[string]interface{}{"operator": "eq"}}},
		{"not an object", []interface{}{"id = 1"}},
		{"scalar", 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.raw)
			require.Error(t, err)
			assert.True(t, apperr.IsValidation(err))
		})
	}
}

func TestDecodeRejectsCircularMaps(t *testing.T) {
	group := map[string]interface{}{"operator": "and"}
	group["value"] = []interface{}{group}

	_, err := Decode([]interface{}{group})
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	assert.Contains(t, err.Error(), "circular reference")
}

func TestDecodeRejectsSelfContainingSlice(t *testing.T) {
	list := []interface{}{nil}
	list[0] = list

	_, err := Decode(list)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circular reference")
}

func TestDecodeDepthLimit(t *testing.T) {
	var node interface{} = map[string]interface{}{"field": "id", "operator": "eq", "value": 1}
	for i := 0; i < DefaultMaxDepth+1; i++ {
		node = map[string]interface{}{"operator": "and", "value": []interface{}{node}}
	}
	_, err := Decode([]interface{}{node})
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
}

func TestParseOperator(t *testing.T) {
	op, ok := ParseOperator("isNotNull")
	assert.True(t, ok)
	assert.Equal(t, OpNotNull, op)

	op, ok = ParseOperator("NotBetween")
	assert.True(t, ok)
	assert.Equal(t, OpNotBetween, op)

	_, ok = ParseOperator("approx")
	assert.False(t, ok)
}
