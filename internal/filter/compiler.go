package filter

import (
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"

	"sqlprovider/internal/apperr"
	"sqlprovider/internal/dialect"
	"sqlprovider/internal/schema"
)

// Constant is a condition folded to a fixed truth value.
type Constant bool

const (
	AlwaysTrue  Constant = true
	AlwaysFalse Constant = false
)

// ToSql implements squirrel.Sqlizer.
func (c Constant) ToSql() (string, []interface{}, error) {
	if c {
		return "1=1", nil, nil
	}
	return "1=0", nil, nil
}

// Result is the outcome of compiling a filter list.
type Result struct {
	// Condition is nil when there was nothing to filter on.
	Condition sq.Sqlizer
	// MatchesNothing is set when the filter can never match a row, so the
	// caller can skip the query entirely.
	MatchesNothing bool
}

// Compiler turns filter nodes into squirrel conditions for one dialect.
// It holds no per-compilation state and is safe for concurrent use.
type Compiler struct {
	dialect  dialect.Dialect
	logger   *slog.Logger
	maxDepth int
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithLogger sets the logger used for skipped clauses.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Compiler) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMaxDepth overrides DefaultMaxDepth.
func WithMaxDepth(depth int) Option {
	return func(c *Compiler) {
		if depth > 0 {
			c.maxDepth = depth
		}
	}
}

// NewCompiler creates a compiler for the dialect.
func NewCompiler(d dialect.Dialect, opts ...Option) *Compiler {
	c := &Compiler{dialect: d, logger: slog.Default(), maxDepth: DefaultMaxDepth}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dialect returns the compiler's dialect.
func (c *Compiler) Dialect() dialect.Dialect {
	return c.dialect
}

// MaxDepth returns the group nesting limit.
func (c *Compiler) MaxDepth() int {
	return c.maxDepth
}

// Compile combines nodes with AND.
//
// Clauses naming unknown columns are skipped with a warning. Validation
// errors abort compilation, as do unknown operators. When every clause was
// skipped the result is AlwaysTrue; when the filter folds to false (an empty
// in list, for example) MatchesNothing is set.
func (c *Compiler) Compile(table *schema.Table, nodes []Node) (*Result, error) {
	if len(nodes) == 0 {
		return &Result{}, nil
	}
	if table == nil {
		return nil, apperr.Schema("cannot compile filters without a table")
	}
	if err := Check(nodes, c.maxDepth); err != nil {
		return nil, err
	}

	cond, err := c.compileGroup(table, And, nodes, 0)
	if err != nil {
		return nil, err
	}
	if cond == nil {
		return &Result{Condition: AlwaysTrue}, nil
	}
	if constant, ok := cond.(Constant); ok && !bool(constant) {
		return &Result{Condition: AlwaysFalse, MatchesNothing: true}, nil
	}
	return &Result{Condition: cond}, nil
}

// compileGroup returns nil when no child produced a usable condition.
func (c *Compiler) compileGroup(table *schema.Table, op Logical, children []Node, depth int) (sq.Sqlizer, error) {
	if depth > c.maxDepth {
		return nil, apperr.Validation("filter nesting exceeds maximum depth of %d", c.maxDepth)
	}
	parts := make([]sq.Sqlizer, 0, len(children))
	for _, child := range children {
		cond, err := c.compileNode(table, child, depth)
		if err != nil {
			if apperr.IsSchema(err) {
				c.logger.Warn("skipping filter clause",
					slog.String("table", table.Name),
					slog.String("error", err.Error()),
				)
				continue
			}
			return nil, err
		}
		if cond == nil {
			continue
		}
		parts = append(parts, cond)
	}
	return fold(op, parts), nil
}

func (c *Compiler) compileNode(table *schema.Table, node Node, depth int) (sq.Sqlizer, error) {
	switch n := node.(type) {
	case Leaf:
		return c.compileLeaf(table, n)
	case *Leaf:
		if n == nil {
			return nil, nil
		}
		return c.compileLeaf(table, *n)
	case *Group:
		if n == nil {
			return nil, nil
		}
		switch n.Operator {
		case And, Or:
		default:
			return nil, apperr.Validation("unknown logical operator %q", n.Operator)
		}
		return c.compileGroup(table, n.Operator, n.Children, depth+1)
	case nil:
		return nil, nil
	default:
		return nil, apperr.Validation("unsupported filter node %T", node)
	}
}

func (c *Compiler) compileLeaf(table *schema.Table, leaf Leaf) (sq.Sqlizer, error) {
	if leaf.Operator == "" {
		return nil, apperr.Validation("filter on %s is missing an operator", leaf.Field)
	}
	def, ok := operatorTable[leaf.Operator]
	if !ok {
		return nil, apperr.Query(nil, "unknown filter operator %q", leaf.Operator)
	}
	col, err := table.MustResolveColumn(leaf.Field)
	if err != nil {
		return nil, err
	}
	column := c.dialect.QuoteColumn(table.Name, col.Name)

	switch def.kind {
	case kindCompare:
		return compare(column, def.compare, leaf)
	case kindSet:
		values, err := listValues(leaf.Field, leaf.Operator, leaf.Value)
		if err != nil {
			return nil, err
		}
		if len(values) == 0 {
			// x IN () matches nothing, x NOT IN () matches everything.
			return Constant(def.negate), nil
		}
		if def.negate {
			return sq.NotEq{column: values}, nil
		}
		return sq.Eq{column: values}, nil
	case kindNull:
		isNull, err := nullFlag(leaf.Field, leaf.Operator, leaf.Value)
		if err != nil {
			return nil, err
		}
		if isNull != def.negate {
			return sq.Expr(column + " IS NULL"), nil
		}
		return sq.Expr(column + " IS NOT NULL"), nil
	case kindRange:
		low, high, err := rangeValues(leaf.Field, leaf.Operator, leaf.Value)
		if err != nil {
			return nil, err
		}
		if def.negate {
			return sq.Expr(column+" NOT BETWEEN ? AND ?", low, high), nil
		}
		return sq.Expr(column+" BETWEEN ? AND ?", low, high), nil
	case kindPattern:
		value, err := patternValue(leaf.Field, leaf.Operator, leaf.Value)
		if err != nil {
			return nil, err
		}
		return c.dialect.PatternCondition(column, dialect.Pattern{
			Value:         value,
			Anchor:        def.anchor,
			CaseSensitive: def.cs,
			Negate:        def.negate,
		}), nil
	}
	return nil, apperr.Query(nil, "unhandled filter operator %q", leaf.Operator)
}

func compare(column, op string, leaf Leaf) (sq.Sqlizer, error) {
	if leaf.Value == nil {
		switch leaf.Operator {
		case OpEq:
			return sq.Expr(column + " IS NULL"), nil
		case OpNe:
			return sq.Expr(column + " IS NOT NULL"), nil
		}
		return nil, apperr.Validation("operator %s on %s does not accept null", leaf.Operator, leaf.Field)
	}
	if _, err := listValues(leaf.Field, leaf.Operator, leaf.Value); err == nil {
		return nil, apperr.Validation("operator %s on %s does not accept a list value", leaf.Operator, leaf.Field)
	}
	return sq.Expr(fmt.Sprintf("%s %s ?", column, op), leaf.Value), nil
}

// fold combines parts, collapsing constants.
func fold(op Logical, parts []sq.Sqlizer) sq.Sqlizer {
	kept := make([]sq.Sqlizer, 0, len(parts))
	for _, part := range parts {
		constant, ok := part.(Constant)
		if !ok {
			kept = append(kept, part)
			continue
		}
		if op == And && !bool(constant) {
			return AlwaysFalse
		}
		if op == Or && bool(constant) {
			return AlwaysTrue
		}
	}

	if len(kept) == 0 {
		if len(parts) == 0 {
			return nil
		}
		// Every part was an absorbed constant.
		return Constant(op == And)
	}
	if len(kept) == 1 {
		return kept[0]
	}
	if op == Or {
		return sq.Or(kept)
	}
	return sq.And(kept)
}
