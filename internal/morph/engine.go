package morph

import (
	"context"
	"log/slog"
	"time"

	"sqlprovider/internal/apperr"
	"sqlprovider/internal/dbexec"
	"sqlprovider/internal/dialect"
	"sqlprovider/internal/naming"
	"sqlprovider/internal/observability"
	"sqlprovider/internal/planner"
	"sqlprovider/internal/relation"
	"sqlprovider/internal/schema"
)

// Engine loads polymorphic associations for base rows.
type Engine struct {
	executor   dbexec.QueryExecutor
	schema     *schema.Schema
	builder    *planner.Builder
	relations  *relation.Loader
	registry   *relation.Registry
	logger     *slog.Logger
	metrics    *observability.QueryMetrics
	maxInCount int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics records per-type fan-out.
func WithMetrics(m *observability.QueryMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithRelations enables NestedRelations, resolved through registry and
// loaded with loader.
func WithRelations(loader *relation.Loader, registry *relation.Registry) Option {
	return func(e *Engine) {
		e.relations = loader
		e.registry = registry
	}
}

// WithMaxInClause bounds the number of ids bound into one IN list.
func WithMaxInClause(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxInCount = n
		}
	}
}

// NewEngine creates an engine planning statements with b.
func NewEngine(exec dbexec.QueryExecutor, s *schema.Schema, b *planner.Builder, opts ...Option) *Engine {
	e := &Engine{
		executor:   exec,
		schema:     s,
		builder:    b,
		logger:     slog.Default(),
		maxInCount: planner.MaxInClause,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ResolveOption tunes a single Resolve call.
type ResolveOption func(*resolveConfig)

type resolveConfig struct {
	types map[string]struct{}
}

// OnlyTypes keeps pivot links whose discriminator is one of types. The
// filter runs before the per-type queries, so other types are never fetched.
// It has no effect on direct associations, which filter the base rows instead.
func OnlyTypes(types ...string) ResolveOption {
	return func(cfg *resolveConfig) {
		if len(types) == 0 {
			return
		}
		cfg.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			cfg.types[t] = struct{}{}
		}
	}
}

// Resolve returns copies of rows with desc.RelationName attached.
//
// Rows are grouped by discriminator and each distinct known type costs one
// query against its table, however many rows carry it. A row whose type is
// not mapped or whose id has no match gets nil. Pivot associations cost one
// pivot query plus one query per type and attach a list.
//
// A type whose query fails is logged and left unmatched; the other types
// still resolve. Only context cancellation fails the call.
func (e *Engine) Resolve(ctx context.Context, table *schema.Table, rows []map[string]interface{}, desc *Descriptor, opts ...ResolveOption) ([]map[string]interface{}, error) {
	cfg := resolveConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return e.resolve(ctx, table, rows, desc, 0, cfg)
}

func (e *Engine) resolve(ctx context.Context, table *schema.Table, rows []map[string]interface{}, desc *Descriptor, depth int, cfg resolveConfig) ([]map[string]interface{}, error) {
	if desc == nil {
		return nil, apperr.Validation("morph descriptor is required")
	}
	if depth > MaxNestingDepth {
		return nil, apperr.Validation("morph nesting exceeds maximum depth of %d", MaxNestingDepth)
	}

	out := make([]map[string]interface{}, len(rows))
	for i, row := range rows {
		out[i] = cloneRecord(row)
	}
	if len(out) == 0 {
		return out, nil
	}

	switch {
	case desc.CustomLoader != nil:
		return e.resolveCustom(ctx, out, desc)
	case desc.ManyToMany():
		return e.resolvePivot(ctx, table, out, desc, depth, cfg)
	default:
		return e.resolveDirect(ctx, out, desc, depth)
	}
}

func (e *Engine) resolveCustom(ctx context.Context, rows []map[string]interface{}, desc *Descriptor) ([]map[string]interface{}, error) {
	data, err := desc.CustomLoader(ctx, rows, desc)
	if err != nil {
		if _, ok := apperr.As(err); ok {
			return nil, err
		}
		return nil, apperr.Query(err, "custom loader for %s failed", desc.RelationName)
	}
	for i, row := range rows {
		row[desc.RelationName] = data[i]
	}
	return rows, nil
}

// resolveDirect handles the single valued association.
func (e *Engine) resolveDirect(ctx context.Context, rows []map[string]interface{}, desc *Descriptor, depth int) ([]map[string]interface{}, error) {
	groups := groupByType(rows, desc.TypeField, desc.IDField)
	loaded, err := e.loadTypes(ctx, groups, desc, depth)
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		row[desc.RelationName] = nil
		typeName, id, ok := discriminator(row, desc.TypeField, desc.IDField)
		if !ok {
			continue
		}
		if match, found := loaded[typeName][planner.KeyOf(id)]; found {
			row[desc.RelationName] = cloneRecord(match)
		}
	}
	return rows, nil
}

// resolvePivot handles the many-to-many association. The pivot carries the
// discriminator and related id; the base side is joined by primary key.
func (e *Engine) resolvePivot(ctx context.Context, table *schema.Table, rows []map[string]interface{}, desc *Descriptor, depth int, cfg resolveConfig) ([]map[string]interface{}, error) {
	if table == nil {
		return nil, apperr.Schema("morph %s: base table is required for pivot loading", desc.RelationName)
	}
	basePK, err := table.PrimaryKeyColumn()
	if err != nil {
		return nil, err
	}
	pivot, err := e.schema.MustTable(desc.PivotTable)
	if err != nil {
		return nil, err
	}
	localCol, err := pivot.MustResolveColumn(desc.PivotLocalKey)
	if err != nil {
		return nil, err
	}
	typeCol, err := pivot.MustResolveColumn(desc.TypeField)
	if err != nil {
		return nil, err
	}
	idCol, err := pivot.MustResolveColumn(desc.pivotIDField())
	if err != nil {
		return nil, err
	}

	localValues := collectKeys(rows, basePK.Field)
	var links []map[string]interface{}
	if len(localValues) > 0 {
		links, err = e.fetch(ctx, desc.RelationName, pivot, localCol.Field, localValues)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			e.degrade(ctx, desc, pivot.Name, err)
			links = nil
		}
	}
	if cfg.types != nil {
		links = keepTypes(links, typeCol.Field, cfg.types)
	}

	groups := groupByType(links, typeCol.Field, idCol.Field)
	loaded, err := e.loadTypes(ctx, groups, desc, depth)
	if err != nil {
		return nil, err
	}

	byLocal := planner.GroupByField(links, localCol.Field)
	for _, row := range rows {
		list := []map[string]interface{}{}
		value, _, ok := naming.Lookup(row, basePK.Field)
		if ok && value != nil {
			for _, link := range byLocal[planner.KeyOf(value)] {
				typeName, id, ok := discriminator(link, typeCol.Field, idCol.Field)
				if !ok {
					continue
				}
				match, found := loaded[typeName][planner.KeyOf(id)]
				if !found {
					continue
				}
				record := cloneRecord(match)
				record[TypeKey] = typeName
				list = append(list, record)
			}
		}
		row[desc.RelationName] = list
	}
	return rows, nil
}

// typeGroup is the distinct ids seen for one discriminator value.
type typeGroup struct {
	name string
	ids  []interface{}
	seen map[string]struct{}
}

// groupByType partitions ids by discriminator in first-seen order.
func groupByType(rows []map[string]interface{}, typeField, idField string) []*typeGroup {
	var order []*typeGroup
	index := make(map[string]*typeGroup)
	for _, row := range rows {
		typeName, id, ok := discriminator(row, typeField, idField)
		if !ok {
			continue
		}
		group, exists := index[typeName]
		if !exists {
			group = &typeGroup{name: typeName, seen: make(map[string]struct{})}
			index[typeName] = group
			order = append(order, group)
		}
		key := planner.KeyOf(id)
		if _, dup := group.seen[key]; dup {
			continue
		}
		group.seen[key] = struct{}{}
		group.ids = append(group.ids, id)
	}
	return order
}

// loadTypes issues one query per mapped type and indexes the results by
// normalized primary key. Unmapped types are skipped. A type that fails to
// load is logged and left out of the result.
func (e *Engine) loadTypes(ctx context.Context, groups []*typeGroup, desc *Descriptor, depth int) (map[string]map[string]map[string]interface{}, error) {
	loaded := make(map[string]map[string]map[string]interface{}, len(groups))
	queried := 0
	for _, group := range groups {
		tableName, ok := desc.Types[group.name]
		if !ok {
			e.logger.Debug("unmapped morph type",
				slog.String("relation", desc.RelationName),
				slog.String("type", group.name),
			)
			continue
		}
		queried++
		index, err := e.loadType(ctx, group, tableName, desc, depth)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			e.degrade(ctx, desc, tableName, err)
			continue
		}
		loaded[group.name] = index
	}
	e.metrics.RecordMorphTypes(ctx, desc.RelationName, queried)
	return loaded, nil
}

func (e *Engine) loadType(ctx context.Context, group *typeGroup, tableName string, desc *Descriptor, depth int) (map[string]map[string]interface{}, error) {
	target, err := e.schema.MustTable(tableName)
	if err != nil {
		return nil, err
	}
	pk, err := target.PrimaryKeyColumn()
	if err != nil {
		return nil, err
	}
	records, err := e.fetch(ctx, desc.RelationName, target, pk.Field, group.ids)
	if err != nil {
		return nil, err
	}
	if nested := desc.Nested[group.name]; nested != nil {
		records, err = e.resolve(ctx, target, records, nested, depth+1, resolveConfig{})
		if err != nil {
			return nil, err
		}
	}
	if names := desc.NestedRelations[group.name]; len(names) > 0 {
		records, err = e.loadRelations(ctx, target, records, names)
		if err != nil {
			return nil, err
		}
	}

	index := make(map[string]map[string]interface{}, len(records))
	for _, record := range records {
		if id := record[pk.Field]; id != nil {
			index[planner.KeyOf(id)] = record
		}
	}
	return index, nil
}

func (e *Engine) degrade(ctx context.Context, desc *Descriptor, tableName string, cause error) {
	e.logger.Warn("morph type degraded",
		slog.String("relation", desc.RelationName),
		slog.String("table", tableName),
		slog.String("error", cause.Error()),
	)
	e.metrics.RecordRelationDegraded(ctx, "morph", relation.DegradeReason(cause))
}

func keepTypes(links []map[string]interface{}, typeField string, types map[string]struct{}) []map[string]interface{} {
	kept := links[:0:0]
	for _, link := range links {
		value, _, ok := naming.Lookup(link, typeField)
		if !ok {
			continue
		}
		if _, want := types[planner.KeyOf(value)]; want {
			kept = append(kept, link)
		}
	}
	return kept
}

func (e *Engine) loadRelations(ctx context.Context, table *schema.Table, records []map[string]interface{}, names []string) ([]map[string]interface{}, error) {
	if e.relations == nil {
		return nil, apperr.Configuration("nested relations on %s need a relation loader", table.Name)
	}
	var rels []relation.Relationship
	if e.registry != nil {
		rels = e.registry.ResolveAll(table, names)
	} else {
		for _, name := range names {
			rels = append(rels, relation.Relationship{Name: name})
		}
	}
	return e.relations.Load(ctx, table, records, rels)
}

// fetch selects rows of table whose field is in values, one query per
// IN-list chunk.
func (e *Engine) fetch(ctx context.Context, relationName string, table *schema.Table, field string, values []interface{}) ([]map[string]interface{}, error) {
	ctx, span := observability.StartSpan(ctx, "morph."+relationName, table.Name)
	start := time.Now()
	exec := dbexec.ExecutorFromContext(ctx, e.executor)

	rows := []map[string]interface{}{}
	for _, chunk := range planner.Chunk(values, e.maxInCount) {
		planned, err := e.builder.ByColumnIn(table, field, chunk, nil)
		if err != nil {
			observability.EndSpan(span, err)
			return nil, err
		}
		chunkRows, err := dbexec.QueryRows(ctx, exec, planned.SQL, planned.Args, planned.Fields)
		if err != nil {
			err = dialect.NormalizeError(err, "load %s rows for %s", table.Name, relationName)
			observability.EndSpan(span, err)
			return nil, err
		}
		rows = append(rows, chunkRows...)
	}
	observability.EndSpan(span, nil)
	e.metrics.RecordOperation(ctx, "morph", table.Name, time.Since(start), len(rows), "")
	return rows, nil
}

// discriminator reads the type and id of a row. Rows missing either are
// reported as not ok.
func discriminator(row map[string]interface{}, typeField, idField string) (string, interface{}, bool) {
	rawType, _, ok := naming.Lookup(row, typeField)
	if !ok || rawType == nil {
		return "", nil, false
	}
	id, _, ok := naming.Lookup(row, idField)
	if !ok || id == nil {
		return "", nil, false
	}
	return planner.KeyOf(rawType), id, true
}

func collectKeys(rows []map[string]interface{}, field string) []interface{} {
	seen := make(map[string]struct{}, len(rows))
	values := make([]interface{}, 0, len(rows))
	for _, row := range rows {
		value, _, ok := naming.Lookup(row, field)
		if !ok || value == nil {
			continue
		}
		key := planner.KeyOf(value)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		values = append(values, value)
	}
	return values
}

func cloneRecord(record map[string]interface{}) map[string]interface{} {
	if record == nil {
		return nil
	}
	out := make(map[string]interface{}, len(record))
	for k, v := range record {
		out[k] = v
	}
	return out
}
