// Package provider is the public surface of the data layer: CRUD operations
// over registered tables, a fluent query, polymorphic queries, relationship
// loading, raw SQL and transactions.
package provider

import (
	"context"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"

	"sqlprovider/internal/apperr"
	"sqlprovider/internal/dbexec"
	"sqlprovider/internal/dialect"
	"sqlprovider/internal/filter"
	"sqlprovider/internal/morph"
	"sqlprovider/internal/observability"
	"sqlprovider/internal/planner"
	"sqlprovider/internal/relation"
	"sqlprovider/internal/schema"
)

// Limits bounds statement sizes and request shapes.
type Limits struct {
	InsertChunkSize   int `mapstructure:"insert_chunk_size"`
	MutationChunkSize int `mapstructure:"mutation_chunk_size"`
	MaxInClause       int `mapstructure:"max_in_clause"`
	DefaultPageSize   int `mapstructure:"default_page_size"`
	MaxFilterDepth    int `mapstructure:"max_filter_depth"`
}

// DefaultLimits returns the reference sizes.
func DefaultLimits() Limits {
	return Limits{
		InsertChunkSize:   planner.InsertChunkSize,
		MutationChunkSize: planner.MutationChunkSize,
		MaxInClause:       planner.MaxInClause,
		DefaultPageSize:   planner.DefaultPageSize,
		MaxFilterDepth:    filter.DefaultMaxDepth,
	}
}

func (l Limits) withDefaults() Limits {
	def := DefaultLimits()
	if l.InsertChunkSize <= 0 {
		l.InsertChunkSize = def.InsertChunkSize
	}
	if l.MutationChunkSize <= 0 {
		l.MutationChunkSize = def.MutationChunkSize
	}
	if l.MaxInClause <= 0 {
		l.MaxInClause = def.MaxInClause
	}
	if l.DefaultPageSize <= 0 {
		l.DefaultPageSize = def.DefaultPageSize
	}
	if l.MaxFilterDepth <= 0 {
		l.MaxFilterDepth = def.MaxFilterDepth
	}
	return l
}

// DataProvider executes generic requests against the tables of a schema.
type DataProvider struct {
	executor  dbexec.QueryExecutor
	beginner  dbexec.TxBeginner
	schema    *schema.Schema
	dialect   dialect.Dialect
	compiler  *filter.Compiler
	builder   *planner.Builder
	relations *relation.Loader
	registry  *relation.Registry
	morphs    *morph.Engine
	cache     *relation.Cache
	logger    *slog.Logger
	metrics   *observability.QueryMetrics
	limits    Limits
}

// Option configures a DataProvider.
type Option func(*DataProvider)

// WithLogger sets the logger shared by the compiler and loaders.
func WithLogger(logger *slog.Logger) Option {
	return func(p *DataProvider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics records operation metrics.
func WithMetrics(m *observability.QueryMetrics) Option {
	return func(p *DataProvider) { p.metrics = m }
}

// WithRegistry supplies declared relationships.
func WithRegistry(r *relation.Registry) Option {
	return func(p *DataProvider) {
		if r != nil {
			p.registry = r
		}
	}
}

// WithRelationCache passes c to every relationship load the provider makes.
func WithRelationCache(c *relation.Cache) Option {
	return func(p *DataProvider) { p.cache = c }
}

// WithLimits overrides chunk sizes and paging defaults. Zero fields keep
// their defaults.
func WithLimits(l Limits) Option {
	return func(p *DataProvider) { p.limits = l }
}

// WithBeginner sets the transaction source when the executor is not one.
func WithBeginner(b dbexec.TxBeginner) Option {
	return func(p *DataProvider) { p.beginner = b }
}

// New creates a provider over exec. Transactions are available when exec
// implements dbexec.TxBeginner or WithBeginner is given.
func New(exec dbexec.QueryExecutor, s *schema.Schema, d dialect.Dialect, opts ...Option) *DataProvider {
	p := &DataProvider{
		executor: exec,
		schema:   s,
		dialect:  d,
		logger:   slog.Default(),
		limits:   DefaultLimits(),
	}
	if b, ok := exec.(dbexec.TxBeginner); ok {
		p.beginner = b
	}
	for _, opt := range opts {
		opt(p)
	}
	p.limits = p.limits.withDefaults()
	if p.registry == nil {
		p.registry = relation.NewRegistry(s, nil)
	}

	p.compiler = filter.NewCompiler(d, filter.WithLogger(p.logger), filter.WithMaxDepth(p.limits.MaxFilterDepth))
	p.builder = planner.NewBuilder(d)
	p.relations = relation.NewLoader(exec, s, p.compiler,
		relation.WithLogger(p.logger),
		relation.WithMetrics(p.metrics),
		relation.WithMaxInClause(p.limits.MaxInClause),
	)
	p.morphs = morph.NewEngine(exec, s, p.builder,
		morph.WithLogger(p.logger),
		morph.WithMetrics(p.metrics),
		morph.WithRelations(p.relations, p.registry),
		morph.WithMaxInClause(p.limits.MaxInClause),
	)
	return p
}

// Schema returns the provider's schema.
func (p *DataProvider) Schema() *schema.Schema {
	return p.schema
}

// Dialect returns the provider's dialect.
func (p *DataProvider) Dialect() dialect.Dialect {
	return p.dialect
}

// Limits returns the effective limits after defaults.
func (p *DataProvider) Limits() Limits {
	return p.limits
}

// Registry returns the relationship registry.
func (p *DataProvider) Registry() *relation.Registry {
	return p.registry
}

func (p *DataProvider) table(resource string) (*schema.Table, error) {
	if resource == "" {
		return nil, apperr.Validation("resource is required")
	}
	return p.schema.MustTable(resource)
}

// exec returns the transaction in ctx or the provider executor.
func (p *DataProvider) exec(ctx context.Context) (dbexec.QueryExecutor, error) {
	exec := dbexec.ExecutorFromContext(ctx, p.executor)
	if exec == nil {
		return nil, apperr.Configuration("data provider has no executor")
	}
	return exec, nil
}

// observe opens a span for one operation; the returned func records the
// outcome and ends it.
func (p *DataProvider) observe(ctx context.Context, operation, table string) (context.Context, func(rows int, err error)) {
	ctx, span := observability.StartSpan(ctx, operation, table)
	start := time.Now()
	return ctx, func(rows int, err error) {
		kind := ""
		if err != nil {
			kind = string(apperr.KindQuery)
			if e, ok := apperr.As(err); ok {
				kind = string(e.Kind)
			}
		}
		p.metrics.RecordOperation(ctx, operation, table, time.Since(start), rows, kind)
		observability.EndSpan(span, err)
	}
}

// where compiles filters for table. ok is false when the filter can match no
// rows and the caller should skip the query.
func (p *DataProvider) where(table *schema.Table, nodes []filter.Node) (cond sq.Sqlizer, ok bool, err error) {
	if len(nodes) == 0 {
		return nil, true, nil
	}
	result, err := p.compiler.Compile(table, nodes)
	if err != nil {
		return nil, false, err
	}
	if result.MatchesNothing {
		return nil, false, nil
	}
	if result.Condition == nil || result.Condition == filter.AlwaysTrue {
		return nil, true, nil
	}
	return result.Condition, true, nil
}

func (p *DataProvider) query(ctx context.Context, planned planner.SQLQuery, format string, args ...interface{}) ([]map[string]interface{}, error) {
	exec, err := p.exec(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := dbexec.QueryRows(ctx, exec, planned.SQL, planned.Args, planned.Fields)
	if err != nil {
		return nil, dialect.NormalizeError(err, format, args...)
	}
	return rows, nil
}

func (p *DataProvider) execStatement(ctx context.Context, planned planner.SQLQuery, format string, args ...interface{}) (execResult, error) {
	exec, err := p.exec(ctx)
	if err != nil {
		return execResult{}, err
	}
	res, err := exec.ExecContext(ctx, planned.SQL, planned.Args...)
	if err != nil {
		return execResult{}, dialect.NormalizeError(err, format, args...)
	}
	out := execResult{lastInsertID: -1, rowsAffected: -1}
	if id, err := res.LastInsertId(); err == nil {
		out.lastInsertID = id
	}
	if n, err := res.RowsAffected(); err == nil {
		out.rowsAffected = n
	}
	return out, nil
}

type execResult struct {
	lastInsertID int64
	rowsAffected int64
}

// inTx runs fn in the context transaction, a new one when the provider can
// begin one, or directly otherwise.
func (p *DataProvider) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := dbexec.TxFromContext(ctx); ok || p.beginner != nil {
		return dbexec.RunInTx(ctx, p.beginner, func(ctx context.Context, _ dbexec.TxExecutor) error {
			return fn(ctx)
		})
	}
	p.logger.Debug("executor cannot begin transactions, running statements individually")
	return fn(ctx)
}

func (p *DataProvider) loadRelations(ctx context.Context, table *schema.Table, rows []map[string]interface{}, names []string) ([]map[string]interface{}, error) {
	if len(names) == 0 || len(rows) == 0 {
		return rows, nil
	}
	var opts []relation.LoadOption
	if p.cache != nil {
		opts = append(opts, relation.WithCache(p.cache))
	}
	return p.relations.Load(ctx, table, rows, p.registry.ResolveAll(table, names), opts...)
}
