package filter

import "sqlprovider/internal/dialect"

type opKind int

const (
	kindCompare opKind = iota
	kindSet
	kindNull
	kindRange
	kindPattern
)

type opSpec struct {
	kind    opKind
	negate  bool
	anchor  dialect.Anchor
	cs      bool
	compare string
}

var operatorTable = map[Operator]opSpec{
	OpEq:  {kind: kindCompare, compare: "="},
	OpNe:  {kind: kindCompare, compare: "<>"},
	OpLt:  {kind: kindCompare, compare: "<"},
	OpLte: {kind: kindCompare, compare: "<="},
	OpGt:  {kind: kindCompare, compare: ">"},
	OpGte: {kind: kindCompare, compare: ">="},

	OpIn:    {kind: kindSet},
	OpNotIn: {kind: kindSet, negate: true},

	OpNull:    {kind: kindNull},
	OpNotNull: {kind: kindNull, negate: true},

	OpBetween:    {kind: kindRange},
	OpNotBetween: {kind: kindRange, negate: true},

	OpLike:   {kind: kindPattern, anchor: dialect.AnchorNone, cs: true},
	OpNLike:  {kind: kindPattern, anchor: dialect.AnchorNone, cs: true, negate: true},
	OpILike:  {kind: kindPattern, anchor: dialect.AnchorNone},
	OpNILike: {kind: kindPattern, anchor: dialect.AnchorNone, negate: true},

	OpContains:     {kind: kindPattern, anchor: dialect.AnchorContains},
	OpNContains:    {kind: kindPattern, anchor: dialect.AnchorContains, negate: true},
	OpContainsS:    {kind: kindPattern, anchor: dialect.AnchorContains, cs: true},
	OpNContainsS:   {kind: kindPattern, anchor: dialect.AnchorContains, cs: true, negate: true},
	OpStartsWith:   {kind: kindPattern, anchor: dialect.AnchorPrefix},
	OpNStartsWith:  {kind: kindPattern, anchor: dialect.AnchorPrefix, negate: true},
	OpStartsWithS:  {kind: kindPattern, anchor: dialect.AnchorPrefix, cs: true},
	OpNStartsWithS: {kind: kindPattern, anchor: dialect.AnchorPrefix, cs: true, negate: true},
	OpEndsWith:     {kind: kindPattern, anchor: dialect.AnchorSuffix},
	OpNEndsWith:    {kind: kindPattern, anchor: dialect.AnchorSuffix, negate: true},
	OpEndsWithS:    {kind: kindPattern, anchor: dialect.AnchorSuffix, cs: true},
	OpNEndsWithS:   {kind: kindPattern, anchor: dialect.AnchorSuffix, cs: true, negate: true},
}
