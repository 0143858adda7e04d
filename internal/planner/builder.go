package planner

import (
	"fmt"
	"math"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"sqlprovider/internal/apperr"
	"sqlprovider/internal/dialect"
	"sqlprovider/internal/schema"
)

// SQLQuery represents a planned SQL statement with bound args. Fields names
// the result columns positionally for scanning; it is empty for statements
// that return no rows.
type SQLQuery struct {
	SQL    string
	Args   []interface{}
	Fields []string
}

// SelectOptions shapes a SELECT.
type SelectOptions struct {
	Where   sq.Sqlizer
	OrderBy []OrderTerm
	Window  Window
}

// Builder plans statements for one dialect.
type Builder struct {
	dialect dialect.Dialect
}

// NewBuilder creates a builder bound to d.
func NewBuilder(d dialect.Dialect) *Builder {
	return &Builder{dialect: d}
}

// Dialect returns the builder's dialect.
func (b *Builder) Dialect() dialect.Dialect {
	return b.dialect
}

func (b *Builder) table(t *schema.Table) string {
	return b.dialect.Quote(t.Name)
}

func (b *Builder) columns(t *schema.Table) []string {
	cols := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		cols[i] = b.dialect.QuoteColumn(t.Name, col.Name)
	}
	return cols
}

func (b *Builder) returning(t *schema.Table) string {
	cols := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		cols[i] = b.dialect.Quote(col.Name)
	}
	return "RETURNING " + strings.Join(cols, ", ")
}

func (b *Builder) primaryKey(t *schema.Table) (string, error) {
	pk, err := t.PrimaryKeyColumn()
	if err != nil {
		return "", err
	}
	return b.dialect.QuoteColumn(t.Name, pk.Name), nil
}

// Select plans a SELECT of every column with optional filter, order and window.
func (b *Builder) Select(t *schema.Table, opts SelectOptions) (SQLQuery, error) {
	query := b.dialect.Builder().Select(b.columns(t)...).From(b.table(t))
	if opts.Where != nil {
		query = query.Where(opts.Where)
	}
	if len(opts.OrderBy) > 0 {
		query = query.OrderBy(orderClauses(b.dialect, opts.OrderBy)...)
	}
	query = applyWindow(query, opts.Window)

	sqlText, args, err := query.ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: sqlText, Args: args, Fields: t.Fields()}, nil
}

func applyWindow(query sq.SelectBuilder, w Window) sq.SelectBuilder {
	switch {
	case w.Limit > 0:
		query = query.Limit(w.Limit)
	case w.Offset > 0:
		// MySQL and SQLite need a LIMIT before OFFSET.
		query = query.Limit(math.MaxInt64)
	}
	if w.Offset > 0 {
		query = query.Offset(w.Offset)
	}
	return query
}

// CountField is the scan key of Count results.
const CountField = "total"

// Count plans SELECT COUNT(*) with the filter only.
func (b *Builder) Count(t *schema.Table, where sq.Sqlizer) (SQLQuery, error) {
	query := b.dialect.Builder().Select("COUNT(*)").From(b.table(t))
	if where != nil {
		query = query.Where(where)
	}
	sqlText, args, err := query.ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: sqlText, Args: args, Fields: []string{CountField}}, nil
}

// AggregateFunc is a supported aggregate.
type AggregateFunc string

const (
	AggSum AggregateFunc = "SUM"
	AggAvg AggregateFunc = "AVG"
	AggMin AggregateFunc = "MIN"
	AggMax AggregateFunc = "MAX"
)

// AggregateField is the scan key of Aggregate results.
const AggregateField = "value"

// Aggregate plans SELECT fn(column) for field with the filter only.
func (b *Builder) Aggregate(t *schema.Table, fn AggregateFunc, field string, where sq.Sqlizer) (SQLQuery, error) {
	switch fn {
	case AggSum, AggAvg, AggMin, AggMax:
	default:
		return SQLQuery{}, apperr.Validation("unsupported aggregate %q", fn)
	}
	col, ok := t.ResolveColumn(field)
	if !ok {
		return SQLQuery{}, apperr.Validation("cannot aggregate unknown field %q on %s", field, t.Name)
	}
	query := b.dialect.Builder().
		Select(fmt.Sprintf("%s(%s)", fn, b.dialect.QuoteColumn(t.Name, col.Name))).
		From(b.table(t))
	if where != nil {
		query = query.Where(where)
	}
	sqlText, args, err := query.ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: sqlText, Args: args, Fields: []string{AggregateField}}, nil
}

// ByColumnIn plans a SELECT of rows whose field is in values, ANDed with an
// optional extra condition.
func (b *Builder) ByColumnIn(t *schema.Table, field string, values []interface{}, extra sq.Sqlizer) (SQLQuery, error) {
	col, err := t.MustResolveColumn(field)
	if err != nil {
		return SQLQuery{}, err
	}
	var where sq.Sqlizer = sq.Eq{b.dialect.QuoteColumn(t.Name, col.Name): values}
	if extra != nil {
		where = sq.And{where, extra}
	}
	return b.Select(t, SelectOptions{Where: where})
}

// ByIDs plans a SELECT by primary key values.
func (b *Builder) ByIDs(t *schema.Table, ids []interface{}) (SQLQuery, error) {
	if len(ids) == 0 {
		return SQLQuery{}, apperr.Validation("at least one id is required")
	}
	if _, err := b.primaryKey(t); err != nil {
		return SQLQuery{}, err
	}
	return b.ByColumnIn(t, t.PrimaryKey, ids, nil)
}

// ByIDRange plans a SELECT of the contiguous primary key range [low, high]
// ordered by key.
func (b *Builder) ByIDRange(t *schema.Table, low, high int64) (SQLQuery, error) {
	if low > high {
		return SQLQuery{}, apperr.Validation("invalid id range %d..%d", low, high)
	}
	pk, err := t.PrimaryKeyColumn()
	if err != nil {
		return SQLQuery{}, err
	}
	return b.Select(t, SelectOptions{
		Where:   sq.Expr(b.dialect.QuoteColumn(t.Name, pk.Name)+" BETWEEN ? AND ?", low, high),
		OrderBy: []OrderTerm{{Table: t.Name, Column: pk.Name}},
	})
}

// WriteOptions controls RETURNING on write statements.
type WriteOptions struct {
	Returning bool
}

// Insert plans a single-row INSERT. Fields in row must exist on the table.
func (b *Builder) Insert(t *schema.Table, row map[string]interface{}, opts WriteOptions) (SQLQuery, error) {
	return b.InsertBatch(t, []map[string]interface{}{row}, opts)
}

// InsertBatch plans a multi-row INSERT. Every row must set the same fields.
func (b *Builder) InsertBatch(t *schema.Table, rows []map[string]interface{}, opts WriteOptions) (SQLQuery, error) {
	if len(rows) == 0 {
		return SQLQuery{}, apperr.Validation("insert requires at least one row")
	}
	cols, err := ResolveRowColumns(t, rows[0])
	if err != nil {
		return SQLQuery{}, err
	}
	if len(cols) == 0 {
		return b.insertDefaults(t, len(rows), opts)
	}

	quoted := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = b.dialect.Quote(col.Column.Name)
	}
	insert := b.dialect.Builder().Insert(b.table(t)).Columns(quoted...)
	for i, row := range rows {
		if len(row) != len(cols) {
			return SQLQuery{}, apperr.Validation("row %d sets different fields than row 0", i)
		}
		values := make([]interface{}, len(cols))
		for j, col := range cols {
			value, ok := row[col.Key]
			if !ok {
				return SQLQuery{}, apperr.Validation("row %d is missing field %s", i, col.Key)
			}
			values[j] = value
		}
		insert = insert.Values(values...)
	}

	var fields []string
	if opts.Returning {
		insert = insert.Suffix(b.returning(t))
		fields = t.Fields()
	}
	sqlText, args, err := insert.ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: sqlText, Args: args, Fields: fields}, nil
}

func (b *Builder) insertDefaults(t *schema.Table, count int, opts WriteOptions) (SQLQuery, error) {
	if count != 1 {
		return SQLQuery{}, apperr.Validation("batch insert requires at least one field")
	}
	var sqlText string
	if b.dialect.Name == dialect.MySQL {
		sqlText = fmt.Sprintf("INSERT INTO %s () VALUES ()", b.table(t))
	} else {
		sqlText = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", b.table(t))
	}
	var fields []string
	if opts.Returning {
		sqlText += " " + b.returning(t)
		fields = t.Fields()
	}
	return SQLQuery{SQL: sqlText, Fields: fields}, nil
}

// UpdateByIDs plans an UPDATE of set on the rows with the given primary keys.
func (b *Builder) UpdateByIDs(t *schema.Table, set map[string]interface{}, ids []interface{}, opts WriteOptions) (SQLQuery, error) {
	if len(set) == 0 {
		return SQLQuery{}, apperr.Validation("update set cannot be empty")
	}
	if len(ids) == 0 {
		return SQLQuery{}, apperr.Validation("at least one id is required")
	}
	pk, err := b.primaryKey(t)
	if err != nil {
		return SQLQuery{}, err
	}
	cols, err := ResolveRowColumns(t, set)
	if err != nil {
		return SQLQuery{}, err
	}

	update := b.dialect.Builder().Update(b.table(t))
	for _, col := range cols {
		update = update.Set(b.dialect.Quote(col.Column.Name), set[col.Key])
	}
	update = update.Where(sq.Eq{pk: ids})

	var fields []string
	if opts.Returning {
		update = update.Suffix(b.returning(t))
		fields = t.Fields()
	}
	sqlText, args, err := update.ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: sqlText, Args: args, Fields: fields}, nil
}

// DeleteByIDs plans a DELETE of the rows with the given primary keys.
func (b *Builder) DeleteByIDs(t *schema.Table, ids []interface{}, opts WriteOptions) (SQLQuery, error) {
	if len(ids) == 0 {
		return SQLQuery{}, apperr.Validation("at least one id is required")
	}
	pk, err := b.primaryKey(t)
	if err != nil {
		return SQLQuery{}, err
	}
	del := b.dialect.Builder().Delete(b.table(t)).Where(sq.Eq{pk: ids})

	var fields []string
	if opts.Returning {
		del = del.Suffix(b.returning(t))
		fields = t.Fields()
	}
	sqlText, args, err := del.ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: sqlText, Args: args, Fields: fields}, nil
}

// RowColumn pairs an input key with its resolved column.
type RowColumn struct {
	Key    string
	Column *schema.Column
}

// ResolveRowColumns resolves the keys of row in table column order. Unknown
// keys are a schema error.
func ResolveRowColumns(t *schema.Table, row map[string]interface{}) ([]RowColumn, error) {
	byColumn := make(map[string]string, len(row))
	for key := range row {
		col, ok := t.ResolveColumn(key)
		if !ok {
			return nil, apperr.Schema("unknown field %q on %s", key, t.Name)
		}
		if prev, dup := byColumn[col.Name]; dup {
			return nil, apperr.Validation("fields %q and %q both set column %s", prev, key, col.Name)
		}
		byColumn[col.Name] = key
	}
	cols := make([]RowColumn, 0, len(row))
	for i := range t.Columns {
		if key, ok := byColumn[t.Columns[i].Name]; ok {
			cols = append(cols, RowColumn{Key: key, Column: &t.Columns[i]})
		}
	}
	return cols, nil
}
