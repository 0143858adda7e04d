package provider

import (
	"context"
	"strconv"

	sq "github.com/Masterminds/squirrel"
	"golang.org/x/sync/errgroup"

	"sqlprovider/internal/apperr"
	"sqlprovider/internal/dbexec"
	"sqlprovider/internal/filter"
	"sqlprovider/internal/planner"
	"sqlprovider/internal/schema"
)

// ListParams describes a list read.
type ListParams struct {
	Resource   string             `json:"resource"`
	Filters    []filter.Node      `json:"-"`
	Sorters    []planner.Sort     `json:"sorters,omitempty"`
	Pagination planner.Pagination `json:"pagination"`
	Relations  []string           `json:"with,omitempty"`
}

// ListResult is one page of records and the filtered total.
type ListResult struct {
	Data  []map[string]interface{} `json:"data"`
	Total int64                    `json:"total"`
}

// GetOneParams identifies one record.
type GetOneParams struct {
	Resource  string
	ID        interface{}
	Relations []string
}

// GetManyParams identifies several records.
type GetManyParams struct {
	Resource  string
	IDs       []interface{}
	Relations []string
}

// GetList returns a page of resource rows and the total matching the same
// filters. The page and the count run concurrently unless ctx carries a
// transaction. A filter that can match nothing returns an empty page
// without querying.
func (p *DataProvider) GetList(ctx context.Context, params ListParams) (result *ListResult, err error) {
	ctx, done := p.observe(ctx, "getList", params.Resource)
	defer func() {
		n := 0
		if result != nil {
			n = len(result.Data)
		}
		done(n, err)
	}()

	table, err := p.table(params.Resource)
	if err != nil {
		return nil, err
	}
	where, ok, err := p.where(table, params.Filters)
	if err != nil {
		return nil, err
	}
	orderBy, err := planner.CompileSort(table, params.Sorters)
	if err != nil {
		return nil, err
	}
	window, err := p.listWindow(params.Pagination)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &ListResult{Data: []map[string]interface{}{}, Total: 0}, nil
	}

	dataQuery, err := p.builder.Select(table, planner.SelectOptions{Where: where, OrderBy: orderBy, Window: window})
	if err != nil {
		return nil, err
	}
	countQuery, err := p.builder.Count(table, where)
	if err != nil {
		return nil, err
	}

	var (
		rows  []map[string]interface{}
		total int64
	)
	fetchRows := func(ctx context.Context) error {
		var err error
		rows, err = p.query(ctx, dataQuery, "list %s", table.Name)
		return err
	}
	fetchTotal := func(ctx context.Context) error {
		var err error
		total, err = p.count(ctx, countQuery, table.Name)
		return err
	}

	if _, inTx := dbexec.TxFromContext(ctx); inTx {
		if err := fetchRows(ctx); err != nil {
			return nil, err
		}
		if err := fetchTotal(ctx); err != nil {
			return nil, err
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return fetchRows(gctx) })
		g.Go(func() error { return fetchTotal(gctx) })
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	rows, err = p.loadRelations(ctx, table, rows, params.Relations)
	if err != nil {
		return nil, err
	}
	return &ListResult{Data: rows, Total: total}, nil
}

// listWindow applies the list-read pagination rules with the configured
// default page size.
func (p *DataProvider) listWindow(pg planner.Pagination) (planner.Window, error) {
	if !pg.Disabled() && pg.Limit == nil && pg.PageSize == nil {
		size := p.limits.DefaultPageSize
		pg.PageSize = &size
	}
	normalized, err := planner.NormalizeListPagination(pg)
	if err != nil {
		return planner.Window{}, err
	}
	return planner.CompilePagination(normalized)
}

func (p *DataProvider) count(ctx context.Context, planned planner.SQLQuery, table string) (int64, error) {
	rows, err := p.query(ctx, planned, "count %s", table)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	n, ok := toInt64(rows[0][planner.CountField])
	if !ok {
		return 0, apperr.Query(nil, "count %s returned %v", table, rows[0][planner.CountField])
	}
	return n, nil
}

// GetOne returns the record with the given id, or a not-found error.
func (p *DataProvider) GetOne(ctx context.Context, params GetOneParams) (record map[string]interface{}, err error) {
	ctx, done := p.observe(ctx, "getOne", params.Resource)
	defer func() { done(boolToRows(record != nil), err) }()

	table, err := p.table(params.Resource)
	if err != nil {
		return nil, err
	}
	record, err = p.fetchOne(ctx, table, params.ID)
	if err != nil {
		return nil, err
	}
	loaded, err := p.loadRelations(ctx, table, []map[string]interface{}{record}, params.Relations)
	if err != nil {
		return nil, err
	}
	return loaded[0], nil
}

// GetWithRelations is GetOne with relationship names.
func (p *DataProvider) GetWithRelations(ctx context.Context, resource string, id interface{}, relations []string) (map[string]interface{}, error) {
	return p.GetOne(ctx, GetOneParams{Resource: resource, ID: id, Relations: relations})
}

// GetMany returns the records with the given ids in the order the ids were
// given. Ids with no record are omitted.
func (p *DataProvider) GetMany(ctx context.Context, params GetManyParams) (records []map[string]interface{}, err error) {
	ctx, done := p.observe(ctx, "getMany", params.Resource)
	defer func() { done(len(records), err) }()

	table, err := p.table(params.Resource)
	if err != nil {
		return nil, err
	}
	if len(params.IDs) == 0 {
		return []map[string]interface{}{}, nil
	}
	records, err = p.fetchByIDs(ctx, table, params.IDs)
	if err != nil {
		return nil, err
	}
	return p.loadRelations(ctx, table, records, params.Relations)
}

func (p *DataProvider) fetchOne(ctx context.Context, table *schema.Table, id interface{}) (map[string]interface{}, error) {
	if id == nil {
		return nil, apperr.Validation("id is required")
	}
	planned, err := p.builder.ByIDs(table, []interface{}{id})
	if err != nil {
		return nil, err
	}
	rows, err := p.query(ctx, planned, "get %s", table.Name)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperr.NotFound(table.Name, id)
	}
	return rows[0], nil
}

// fetchByIDs loads ids in IN-list chunks and orders the result by ids.
func (p *DataProvider) fetchByIDs(ctx context.Context, table *schema.Table, ids []interface{}) ([]map[string]interface{}, error) {
	pk, err := table.PrimaryKeyColumn()
	if err != nil {
		return nil, err
	}
	var rows []map[string]interface{}
	for _, chunk := range planner.Chunk(ids, p.limits.MaxInClause) {
		planned, err := p.builder.ByIDs(table, chunk)
		if err != nil {
			return nil, err
		}
		chunkRows, err := p.query(ctx, planned, "get %s", table.Name)
		if err != nil {
			return nil, err
		}
		rows = append(rows, chunkRows...)
	}
	return orderByIDs(rows, pk.Field, ids), nil
}

// orderByIDs arranges rows to follow ids. Rows whose key is not in ids keep
// their relative order at the end.
func orderByIDs(rows []map[string]interface{}, field string, ids []interface{}) []map[string]interface{} {
	byKey := make(map[string]map[string]interface{}, len(rows))
	for _, row := range rows {
		byKey[planner.KeyOf(row[field])] = row
	}
	out := make([]map[string]interface{}, 0, len(rows))
	used := make(map[string]struct{}, len(rows))
	for _, id := range ids {
		key := planner.KeyOf(id)
		if _, dup := used[key]; dup {
			continue
		}
		if row, ok := byKey[key]; ok {
			out = append(out, row)
			used[key] = struct{}{}
		}
	}
	for _, row := range rows {
		if _, ok := used[planner.KeyOf(row[field])]; !ok {
			out = append(out, row)
		}
	}
	return out
}

// aggregate runs fn over field for the rows matching where.
func (p *DataProvider) aggregate(ctx context.Context, table *schema.Table, fn planner.AggregateFunc, field string, where sq.Sqlizer) (interface{}, error) {
	planned, err := p.builder.Aggregate(table, fn, field, where)
	if err != nil {
		return nil, err
	}
	rows, err := p.query(ctx, planned, "%s %s.%s", fn, table.Name, field)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0][planner.AggregateField], nil
}

func boolToRows(found bool) int {
	if found {
		return 1
	}
	return 0
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		return parsed, err == nil
	case []byte:
		parsed, err := strconv.ParseInt(string(n), 10, 64)
		return parsed, err == nil
	}
	return 0, false
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		return parsed, err == nil
	case []byte:
		parsed, err := strconv.ParseFloat(string(n), 64)
		return parsed, err == nil
	}
	if i, ok := toInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}
