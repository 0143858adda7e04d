package provider

import (
	"context"

	"sqlprovider/internal/apperr"
	"sqlprovider/internal/filter"
	"sqlprovider/internal/planner"
)

// Query is a fluent read over one resource. Builder methods return the
// same *Query; it is not safe for concurrent use while being built.
type Query struct {
	provider   *DataProvider
	resource   string
	filters    []filter.Node
	sorts      []planner.Sort
	pagination *planner.Pagination
	relations  []string
}

// From starts a fluent query on resource.
func (p *DataProvider) From(resource string) *Query {
	return &Query{provider: p, resource: resource}
}

// Where adds filter nodes, ANDed with the existing ones.
func (q *Query) Where(nodes ...filter.Node) *Query {
	q.filters = append(q.filters, nodes...)
	return q
}

// WhereField adds a single comparison.
func (q *Query) WhereField(field string, op filter.Operator, value interface{}) *Query {
	return q.Where(filter.Where(field, op, value))
}

// OrderBy appends a sort key. Earlier keys take precedence.
func (q *Query) OrderBy(field, order string) *Query {
	q.sorts = append(q.sorts, planner.Sort{Field: field, Order: order})
	return q
}

// Limit caps the number of rows. A limit of zero or less fails when the
// query runs.
func (q *Query) Limit(n int) *Query {
	pg := q.limitOffset()
	pg.Limit = &n
	return q
}

// Offset skips rows. Without Limit every remaining row is returned.
func (q *Query) Offset(n int) *Query {
	pg := q.limitOffset()
	pg.Offset = n
	return q
}

func (q *Query) limitOffset() *planner.Pagination {
	if q.pagination == nil || q.pagination.PageSize != nil {
		q.pagination = &planner.Pagination{}
	}
	return q.pagination
}

// Paginate selects a 1-indexed page. Pages below 1 read page 1; a page size
// of zero or less fails when the query runs.
func (q *Query) Paginate(page, pageSize int) *Query {
	pg := planner.Page(page, pageSize)
	q.pagination = &pg
	return q
}

// With names relationships to load onto the results.
func (q *Query) With(relations ...string) *Query {
	q.relations = append(q.relations, relations...)
	return q
}

func (q *Query) window() (planner.Window, error) {
	if q.pagination == nil {
		return planner.Window{}, nil
	}
	pg := *q.pagination
	if pg.Limit == nil && pg.PageSize != nil {
		normalized, err := planner.NormalizeListPagination(pg)
		if err != nil {
			return planner.Window{}, err
		}
		pg = normalized
	}
	return planner.CompilePagination(pg)
}

// Get runs the query.
func (q *Query) Get(ctx context.Context) (records []map[string]interface{}, err error) {
	p := q.provider
	ctx, done := p.observe(ctx, "query.get", q.resource)
	defer func() { done(len(records), err) }()

	table, err := p.table(q.resource)
	if err != nil {
		return nil, err
	}
	where, ok, err := p.where(table, q.filters)
	if err != nil {
		return nil, err
	}
	orderBy, err := planner.CompileSort(table, q.sorts)
	if err != nil {
		return nil, err
	}
	window, err := q.window()
	if err != nil {
		return nil, err
	}
	if !ok {
		return []map[string]interface{}{}, nil
	}

	planned, err := p.builder.Select(table, planner.SelectOptions{Where: where, OrderBy: orderBy, Window: window})
	if err != nil {
		return nil, err
	}
	rows, err := p.query(ctx, planned, "query %s", table.Name)
	if err != nil {
		return nil, err
	}
	return p.loadRelations(ctx, table, rows, q.relations)
}

// First returns the first matching row, or nil when nothing matches.
func (q *Query) First(ctx context.Context) (map[string]interface{}, error) {
	window, err := q.window()
	if err != nil {
		return nil, err
	}
	limit := 1
	one := *q
	one.pagination = &planner.Pagination{Limit: &limit, Offset: int(window.Offset)}
	rows, err := one.Get(ctx)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// Count returns the number of rows matching the filters. Sorting and
// pagination are ignored.
func (q *Query) Count(ctx context.Context) (total int64, err error) {
	p := q.provider
	ctx, done := p.observe(ctx, "query.count", q.resource)
	defer func() { done(1, err) }()

	table, err := p.table(q.resource)
	if err != nil {
		return 0, err
	}
	where, ok, err := p.where(table, q.filters)
	if err != nil || !ok {
		return 0, err
	}
	planned, err := p.builder.Count(table, where)
	if err != nil {
		return 0, err
	}
	return p.count(ctx, planned, table.Name)
}

// Sum returns the sum of field over matching rows; zero when none match.
func (q *Query) Sum(ctx context.Context, field string) (float64, error) {
	return q.numericAggregate(ctx, planner.AggSum, field)
}

// Avg returns the average of field over matching rows; zero when none match.
func (q *Query) Avg(ctx context.Context, field string) (float64, error) {
	return q.numericAggregate(ctx, planner.AggAvg, field)
}

// Min returns the smallest value of field, or nil when nothing matches.
func (q *Query) Min(ctx context.Context, field string) (interface{}, error) {
	return q.aggregate(ctx, planner.AggMin, field)
}

// Max returns the largest value of field, or nil when nothing matches.
func (q *Query) Max(ctx context.Context, field string) (interface{}, error) {
	return q.aggregate(ctx, planner.AggMax, field)
}

func (q *Query) numericAggregate(ctx context.Context, fn planner.AggregateFunc, field string) (float64, error) {
	value, err := q.aggregate(ctx, fn, field)
	if err != nil {
		return 0, err
	}
	n, ok := toFloat64(value)
	if !ok {
		return 0, apperr.Query(nil, "%s(%s) returned non-numeric %v", fn, field, value)
	}
	return n, nil
}

func (q *Query) aggregate(ctx context.Context, fn planner.AggregateFunc, field string) (value interface{}, err error) {
	p := q.provider
	ctx, done := p.observe(ctx, "query."+string(fn), q.resource)
	defer func() { done(1, err) }()

	table, err := p.table(q.resource)
	if err != nil {
		return nil, err
	}
	where, ok, err := p.where(table, q.filters)
	if err != nil || !ok {
		return nil, err
	}
	return p.aggregate(ctx, table, fn, field, where)
}
