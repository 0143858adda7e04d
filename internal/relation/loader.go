package relation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"

	"sqlprovider/internal/apperr"
	"sqlprovider/internal/dbexec"
	"sqlprovider/internal/dialect"
	"sqlprovider/internal/filter"
	"sqlprovider/internal/naming"
	"sqlprovider/internal/observability"
	"sqlprovider/internal/planner"
	"sqlprovider/internal/schema"
)

// Loader attaches related records to a base record set.
type Loader struct {
	executor   dbexec.QueryExecutor
	schema     *schema.Schema
	compiler   *filter.Compiler
	builder    *planner.Builder
	namer      *naming.Namer
	logger     *slog.Logger
	metrics    *observability.QueryMetrics
	maxInCount int
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger used for degraded relationships.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics records batch sizes and degradations.
func WithMetrics(m *observability.QueryMetrics) Option {
	return func(l *Loader) { l.metrics = m }
}

// WithNamer overrides the inflection rules used to infer defaults.
func WithNamer(n *naming.Namer) Option {
	return func(l *Loader) {
		if n != nil {
			l.namer = n
		}
	}
}

// WithMaxInClause bounds the number of values bound into one IN list.
func WithMaxInClause(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.maxInCount = n
		}
	}
}

// NewLoader creates a loader. The compiler's dialect is used for planning.
func NewLoader(exec dbexec.QueryExecutor, s *schema.Schema, compiler *filter.Compiler, opts ...Option) *Loader {
	l := &Loader{
		executor:   exec,
		schema:     s,
		compiler:   compiler,
		builder:    planner.NewBuilder(compiler.Dialect()),
		namer:      naming.Default(),
		logger:     slog.Default(),
		maxInCount: planner.MaxInClause,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadOption adjusts a single Load call.
type LoadOption func(*loadConfig)

type loadConfig struct {
	cache *Cache
}

// WithCache serves batch fetches from c and stores misses in it. Without
// this option nothing is cached.
func WithCache(c *Cache) LoadOption {
	return func(cfg *loadConfig) { cfg.cache = c }
}

// Load returns copies of records with every relationship in rels attached
// under its key. Each relationship costs one query over all records (two for
// belongsToMany), split only when the key set exceeds the IN-list bound.
//
// A relationship that cannot be resolved or fails to load is attached as nil
// or an empty list and logged; it never fails the other relationships. Only
// context cancellation is returned as an error.
func (l *Loader) Load(ctx context.Context, table *schema.Table, records []map[string]interface{}, rels []Relationship, opts ...LoadOption) ([]map[string]interface{}, error) {
	cfg := loadConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	out := make([]map[string]interface{}, len(records))
	for i, record := range records {
		out[i] = cloneRecord(record)
	}
	if len(out) == 0 {
		return out, nil
	}

	for _, rel := range rels {
		rel = Infer(l.namer, l.schema, table, rel)
		if err := l.loadOne(ctx, table, out, rel, cfg); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			l.degrade(ctx, table, out, rel, err)
		}
	}
	return out, nil
}

func (l *Loader) degrade(ctx context.Context, table *schema.Table, records []map[string]interface{}, rel Relationship, cause error) {
	owner := ""
	if table != nil {
		owner = table.Name
	}
	l.logger.Warn("relationship degraded",
		slog.String("table", owner),
		slog.String("relation", rel.Name),
		slog.String("type", string(rel.Type)),
		slog.String("error", cause.Error()),
	)
	l.metrics.RecordRelationDegraded(ctx, string(rel.Type), DegradeReason(cause))
	for _, record := range records {
		record[rel.Key()] = rel.Empty()
	}
}

// DegradeReason classifies a load failure for metrics.
func DegradeReason(err error) string {
	switch {
	case apperr.IsSchema(err):
		return "schema"
	case apperr.IsConfiguration(err):
		return "configuration"
	case apperr.IsValidation(err):
		return "validation"
	default:
		return "query"
	}
}

func (l *Loader) loadOne(ctx context.Context, owner *schema.Table, records []map[string]interface{}, rel Relationship, cfg loadConfig) error {
	related, err := l.schema.MustTable(rel.RelatedTable)
	if err != nil {
		return err
	}
	extra, matchesNothing, err := l.conditions(related, rel.Conditions)
	if err != nil {
		return err
	}

	switch rel.Type {
	case HasOne, HasMany:
		return l.loadDirect(ctx, owner, related, records, rel, rel.LocalKey, extra, matchesNothing, cfg)
	case BelongsTo:
		return l.loadDirect(ctx, owner, related, records, rel, rel.ForeignKey, extra, matchesNothing, cfg)
	case BelongsToMany:
		return l.loadThroughPivot(ctx, owner, related, records, rel, extra, matchesNothing, cfg)
	default:
		return apperr.Configuration("unsupported relationship type %q", rel.Type)
	}
}

func (l *Loader) conditions(related *schema.Table, nodes []filter.Node) (sq.Sqlizer, bool, error) {
	if len(nodes) == 0 {
		return nil, false, nil
	}
	result, err := l.compiler.Compile(related, nodes)
	if err != nil {
		return nil, false, err
	}
	if result.MatchesNothing {
		return nil, true, nil
	}
	if result.Condition == filter.AlwaysTrue {
		return nil, false, nil
	}
	return result.Condition, false, nil
}

// loadDirect handles the single-hop kinds: the record's sourceKey is matched
// against the related table's RelatedKey.
func (l *Loader) loadDirect(ctx context.Context, owner, related *schema.Table, records []map[string]interface{}, rel Relationship, sourceKey string, extra sq.Sqlizer, matchesNothing bool, cfg loadConfig) error {
	target, err := related.MustResolveColumn(rel.RelatedKey)
	if err != nil {
		return err
	}
	sourceField := recordField(owner, sourceKey)
	values := collectKeys(records, sourceField)

	var rows []map[string]interface{}
	if len(values) > 0 && !matchesNothing {
		rows, err = l.fetch(ctx, rel.Type, related, target.Field, values, extra, cfg)
		if err != nil {
			return err
		}
	}
	grouped := planner.GroupByField(rows, target.Field)

	key := rel.Key()
	for _, record := range records {
		value, _, ok := naming.Lookup(record, sourceField)
		if !ok || value == nil {
			record[key] = rel.Empty()
			continue
		}
		matches := grouped[planner.KeyOf(value)]
		if rel.Plural() {
			record[key] = cloneRows(matches)
			continue
		}
		if len(matches) == 0 {
			record[key] = nil
			continue
		}
		record[key] = cloneRecord(matches[0])
	}
	return nil
}

// loadThroughPivot resolves belongsToMany in two dependent phases: pivot
// rows by local key, then related rows by the pivot's related-side key.
func (l *Loader) loadThroughPivot(ctx context.Context, owner, related *schema.Table, records []map[string]interface{}, rel Relationship, extra sq.Sqlizer, matchesNothing bool, cfg loadConfig) error {
	if rel.PivotTable == "" {
		return apperr.Configuration("relationship %s has no pivot table", rel.Name)
	}
	pivot, err := l.schema.MustTable(rel.PivotTable)
	if err != nil {
		return err
	}
	pivotLocal, err := pivot.MustResolveColumn(rel.PivotLocalKey)
	if err != nil {
		return err
	}
	pivotRelated, err := pivot.MustResolveColumn(rel.PivotRelatedKey)
	if err != nil {
		return err
	}
	target, err := related.MustResolveColumn(rel.RelatedKey)
	if err != nil {
		return err
	}

	sourceField := recordField(owner, rel.LocalKey)
	values := collectKeys(records, sourceField)

	var pivotRows, relatedRows []map[string]interface{}
	if len(values) > 0 && !matchesNothing {
		pivotRows, err = l.fetch(ctx, rel.Type, pivot, pivotLocal.Field, values, nil, cfg)
		if err != nil {
			return err
		}
		relatedValues := planner.UniqueValues(pivotRows, pivotRelated.Field)
		if len(relatedValues) > 0 {
			relatedRows, err = l.fetch(ctx, rel.Type, related, target.Field, relatedValues, extra, cfg)
			if err != nil {
				return err
			}
		}
	}

	byLocal := planner.GroupByField(pivotRows, pivotLocal.Field)
	byRelated := planner.GroupByField(relatedRows, target.Field)

	key := rel.Key()
	for _, record := range records {
		value, _, ok := naming.Lookup(record, sourceField)
		if !ok || value == nil {
			record[key] = rel.Empty()
			continue
		}
		joined := []map[string]interface{}{}
		for _, link := range byLocal[planner.KeyOf(value)] {
			relatedKey := link[pivotRelated.Field]
			if relatedKey == nil {
				continue
			}
			for _, match := range byRelated[planner.KeyOf(relatedKey)] {
				joined = append(joined, cloneRecord(match))
			}
		}
		record[key] = joined
	}
	return nil
}

// fetch selects rows of table whose field is in values, chunked by the
// IN-list bound and served from the cache when one is configured.
func (l *Loader) fetch(ctx context.Context, relType Type, table *schema.Table, field string, values []interface{}, extra sq.Sqlizer, cfg loadConfig) ([]map[string]interface{}, error) {
	var cacheKey []byte
	if cfg.cache != nil {
		fingerprint, err := conditionFingerprint(extra)
		if err != nil {
			return nil, err
		}
		cacheKey = CacheKey(relType, table.Name, field, values, fingerprint)
		if rows, ok := cfg.cache.Get(cacheKey); ok {
			l.metrics.RecordCacheHit(ctx, string(relType))
			return rows, nil
		}
		l.metrics.RecordCacheMiss(ctx, string(relType))
	}

	ctx, span := observability.StartSpan(ctx, "relation."+string(relType), table.Name)
	start := time.Now()
	exec := dbexec.ExecutorFromContext(ctx, l.executor)

	rows := []map[string]interface{}{}
	chunks := planner.Chunk(values, l.maxInCount)
	for _, chunk := range chunks {
		planned, err := l.builder.ByColumnIn(table, field, chunk, extra)
		if err != nil {
			observability.EndSpan(span, err)
			return nil, err
		}
		chunkRows, err := dbexec.QueryRows(ctx, exec, planned.SQL, planned.Args, planned.Fields)
		if err != nil {
			err = dialect.NormalizeError(err, "load %s rows", table.Name)
			observability.EndSpan(span, err)
			return nil, err
		}
		rows = append(rows, chunkRows...)
	}
	observability.EndSpan(span, nil)

	l.metrics.RecordBatch(ctx, string(relType), len(values), len(chunks))
	l.metrics.RecordOperation(ctx, "relation."+string(relType), table.Name, time.Since(start), len(rows), "")

	if cfg.cache != nil {
		if err := cfg.cache.Set(cacheKey, rows); err != nil {
			l.logger.Debug("relation cache store failed",
				slog.String("table", table.Name),
				slog.String("error", err.Error()),
			)
		}
	}
	return rows, nil
}

func conditionFingerprint(extra sq.Sqlizer) (string, error) {
	if extra == nil {
		return "", nil
	}
	sqlText, args, err := extra.ToSql()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%v", sqlText, args), nil
}

// recordField maps a declared key to the field name records carry.
func recordField(table *schema.Table, key string) string {
	if table != nil {
		if col, ok := table.ResolveColumn(key); ok {
			return col.Field
		}
	}
	return key
}

func collectKeys(records []map[string]interface{}, field string) []interface{} {
	seen := make(map[string]struct{}, len(records))
	values := make([]interface{}, 0, len(records))
	for _, record := range records {
		value, _, ok := naming.Lookup(record, field)
		if !ok || value == nil {
			continue
		}
		normalized := planner.KeyOf(value)
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
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

func cloneRows(rows []map[string]interface{}) []map[string]interface{} {
	out := make([]map[string]interface{}, len(rows))
	for i, row := range rows {
		out[i] = cloneRecord(row)
	}
	return out
}
