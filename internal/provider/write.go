package provider

import (
	"context"

	"sqlprovider/internal/apperr"
	"sqlprovider/internal/planner"
	"sqlprovider/internal/schema"
)

// CreateParams describes a single insert.
type CreateParams struct {
	Resource  string
	Variables map[string]interface{}
}

// UpdateParams describes a single update by id.
type UpdateParams struct {
	Resource  string
	ID        interface{}
	Variables map[string]interface{}
}

// DeleteOneParams identifies the record to delete.
type DeleteOneParams struct {
	Resource string
	ID       interface{}
}

// CreateManyParams describes a batch insert. Every row must set the same
// fields.
type CreateManyParams struct {
	Resource  string
	Variables []map[string]interface{}
}

// UpdateManyParams applies the same change to several ids.
type UpdateManyParams struct {
	Resource  string
	IDs       []interface{}
	Variables map[string]interface{}
}

// DeleteManyParams identifies records to delete.
type DeleteManyParams struct {
	Resource string
	IDs      []interface{}
}

func (p *DataProvider) writeOptions() planner.WriteOptions {
	return planner.WriteOptions{Returning: p.dialect.SupportsReturning}
}

// Create inserts one row and returns it as stored. Backends without
// RETURNING re-read the row by the supplied or generated primary key.
func (p *DataProvider) Create(ctx context.Context, params CreateParams) (record map[string]interface{}, err error) {
	ctx, done := p.observe(ctx, "create", params.Resource)
	defer func() { done(boolToRows(record != nil), err) }()

	table, err := p.table(params.Resource)
	if err != nil {
		return nil, err
	}
	opts := p.writeOptions()
	planned, err := p.builder.Insert(table, params.Variables, opts)
	if err != nil {
		return nil, err
	}

	if opts.Returning {
		rows, err := p.query(ctx, planned, "create %s", table.Name)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, apperr.QueryCode(apperr.CodeNoRows, nil, "create %s returned no rows", table.Name)
		}
		return rows[0], nil
	}

	err = p.inTx(ctx, func(ctx context.Context) error {
		res, err := p.execStatement(ctx, planned, "create %s", table.Name)
		if err != nil {
			return err
		}
		id, err := insertedID(table, params.Variables, res)
		if err != nil {
			return err
		}
		record, err = p.fetchOne(ctx, table, id)
		if apperr.IsNotFound(err) {
			return apperr.QueryCode(apperr.CodeNoRows, err, "created %s row could not be loaded", table.Name)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// insertedID is the primary key of a row just inserted: the supplied value
// when the caller set it, the generated id otherwise.
func insertedID(table *schema.Table, row map[string]interface{}, res execResult) (interface{}, error) {
	pk, err := table.PrimaryKeyColumn()
	if err != nil {
		return nil, err
	}
	for key, value := range row {
		if col, ok := table.ResolveColumn(key); ok && col.Name == pk.Name && value != nil {
			return value, nil
		}
	}
	if res.lastInsertID <= 0 {
		return nil, apperr.QueryCode(apperr.CodeNoRows, nil, "create %s did not report an inserted id", table.Name)
	}
	return res.lastInsertID, nil
}

// Update applies variables to the row with the given id and returns the
// updated row. A missing row is a not-found error.
func (p *DataProvider) Update(ctx context.Context, params UpdateParams) (record map[string]interface{}, err error) {
	ctx, done := p.observe(ctx, "update", params.Resource)
	defer func() { done(boolToRows(record != nil), err) }()

	table, err := p.table(params.Resource)
	if err != nil {
		return nil, err
	}
	if params.ID == nil {
		return nil, apperr.Validation("id is required")
	}
	opts := p.writeOptions()
	planned, err := p.builder.UpdateByIDs(table, params.Variables, []interface{}{params.ID}, opts)
	if err != nil {
		return nil, err
	}

	if opts.Returning {
		rows, err := p.query(ctx, planned, "update %s", table.Name)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, apperr.NotFound(table.Name, params.ID)
		}
		return rows[0], nil
	}

	// Affected-row counts are unreliable when nothing changed, so the row is
	// re-read to decide whether it exists.
	err = p.inTx(ctx, func(ctx context.Context) error {
		if _, err := p.execStatement(ctx, planned, "update %s", table.Name); err != nil {
			return err
		}
		record, err = p.fetchOne(ctx, table, params.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// DeleteOne deletes the row with the given id and returns it as it was.
func (p *DataProvider) DeleteOne(ctx context.Context, params DeleteOneParams) (record map[string]interface{}, err error) {
	ctx, done := p.observe(ctx, "deleteOne", params.Resource)
	defer func() { done(boolToRows(record != nil), err) }()

	table, err := p.table(params.Resource)
	if err != nil {
		return nil, err
	}
	if params.ID == nil {
		return nil, apperr.Validation("id is required")
	}
	opts := p.writeOptions()
	planned, err := p.builder.DeleteByIDs(table, []interface{}{params.ID}, opts)
	if err != nil {
		return nil, err
	}

	if opts.Returning {
		rows, err := p.query(ctx, planned, "delete %s", table.Name)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, apperr.NotFound(table.Name, params.ID)
		}
		return rows[0], nil
	}

	err = p.inTx(ctx, func(ctx context.Context) error {
		record, err = p.fetchOne(ctx, table, params.ID)
		if err != nil {
			return err
		}
		res, err := p.execStatement(ctx, planned, "delete %s", table.Name)
		if err != nil {
			return err
		}
		if res.rowsAffected == 0 {
			return apperr.NotFound(table.Name, params.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// CreateMany inserts rows in chunks inside one transaction and returns the
// stored rows in input order.
func (p *DataProvider) CreateMany(ctx context.Context, params CreateManyParams) (records []map[string]interface{}, err error) {
	ctx, done := p.observe(ctx, "createMany", params.Resource)
	defer func() { done(len(records), err) }()

	table, err := p.table(params.Resource)
	if err != nil {
		return nil, err
	}
	if len(params.Variables) == 0 {
		return []map[string]interface{}{}, nil
	}

	created := make([]map[string]interface{}, 0, len(params.Variables))
	err = p.inTx(ctx, func(ctx context.Context) error {
		for _, chunk := range planner.Chunk(params.Variables, p.limits.InsertChunkSize) {
			rows, err := p.insertChunk(ctx, table, chunk)
			if err != nil {
				return err
			}
			p.metrics.RecordWriteChunk(ctx, "createMany")
			created = append(created, rows...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (p *DataProvider) insertChunk(ctx context.Context, table *schema.Table, chunk []map[string]interface{}) ([]map[string]interface{}, error) {
	opts := p.writeOptions()
	planned, err := p.builder.InsertBatch(table, chunk, opts)
	if err != nil {
		return nil, err
	}
	if opts.Returning {
		rows, err := p.query(ctx, planned, "create %s", table.Name)
		if err != nil {
			return nil, err
		}
		if len(rows) != len(chunk) {
			return nil, apperr.QueryCode(apperr.CodeNoRows, nil, "create %s returned %d of %d rows", table.Name, len(rows), len(chunk))
		}
		return rows, nil
	}

	res, err := p.execStatement(ctx, planned, "create %s", table.Name)
	if err != nil {
		return nil, err
	}

	if ids, ok := suppliedIDs(table, chunk); ok {
		return p.refetchCreated(ctx, table, ids, len(chunk))
	}
	if !p.dialect.AutoIncrementContiguous {
		return nil, apperr.Configuration("%s cannot re-read a batch insert without RETURNING or supplied ids", p.dialect.Name)
	}
	if res.lastInsertID <= 0 {
		return nil, apperr.QueryCode(apperr.CodeNoRows, nil, "create %s did not report an inserted id", table.Name)
	}
	// A multi-row insert reports the first generated id; the batch occupies
	// the following contiguous range.
	first := res.lastInsertID
	last := first + int64(len(chunk)) - 1
	rangeQuery, err := p.builder.ByIDRange(table, first, last)
	if err != nil {
		return nil, err
	}
	rows, err := p.query(ctx, rangeQuery, "reload created %s", table.Name)
	if err != nil {
		return nil, err
	}
	if len(rows) != len(chunk) {
		return nil, apperr.QueryCode(apperr.CodeNoRows, nil, "reloaded %d of %d created %s rows", len(rows), len(chunk), table.Name)
	}
	return rows, nil
}

func (p *DataProvider) refetchCreated(ctx context.Context, table *schema.Table, ids []interface{}, want int) ([]map[string]interface{}, error) {
	rows, err := p.fetchByIDs(ctx, table, ids)
	if err != nil {
		return nil, err
	}
	if len(rows) != want {
		return nil, apperr.QueryCode(apperr.CodeNoRows, nil, "reloaded %d of %d created %s rows", len(rows), want, table.Name)
	}
	return rows, nil
}

// suppliedIDs returns the primary keys of rows when every row sets one.
func suppliedIDs(table *schema.Table, rows []map[string]interface{}) ([]interface{}, bool) {
	pk, err := table.PrimaryKeyColumn()
	if err != nil {
		return nil, false
	}
	ids := make([]interface{}, 0, len(rows))
	for _, row := range rows {
		var id interface{}
		for key, value := range row {
			if col, ok := table.ResolveColumn(key); ok && col.Name == pk.Name {
				id = value
			}
		}
		if id == nil {
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, true
}

// UpdateMany applies variables to every id in chunks inside one transaction
// and returns the updated rows in id order. Ids with no row are omitted.
func (p *DataProvider) UpdateMany(ctx context.Context, params UpdateManyParams) (records []map[string]interface{}, err error) {
	ctx, done := p.observe(ctx, "updateMany", params.Resource)
	defer func() { done(len(records), err) }()

	table, err := p.table(params.Resource)
	if err != nil {
		return nil, err
	}
	if len(params.Variables) == 0 {
		return nil, apperr.Validation("update set cannot be empty")
	}
	if len(params.IDs) == 0 {
		return []map[string]interface{}{}, nil
	}
	pk, err := table.PrimaryKeyColumn()
	if err != nil {
		return nil, err
	}

	opts := p.writeOptions()
	var updated []map[string]interface{}
	err = p.inTx(ctx, func(ctx context.Context) error {
		for _, chunk := range planner.Chunk(params.IDs, p.limits.MutationChunkSize) {
			planned, err := p.builder.UpdateByIDs(table, params.Variables, chunk, opts)
			if err != nil {
				return err
			}
			var rows []map[string]interface{}
			if opts.Returning {
				rows, err = p.query(ctx, planned, "update %s", table.Name)
			} else {
				if _, err = p.execStatement(ctx, planned, "update %s", table.Name); err == nil {
					rows, err = p.fetchByIDs(ctx, table, chunk)
				}
			}
			if err != nil {
				return err
			}
			p.metrics.RecordWriteChunk(ctx, "updateMany")
			updated = append(updated, rows...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return orderByIDs(updated, pk.Field, params.IDs), nil
}

// DeleteMany deletes every id in chunks inside one transaction and returns
// the deleted rows in id order.
func (p *DataProvider) DeleteMany(ctx context.Context, params DeleteManyParams) (records []map[string]interface{}, err error) {
	ctx, done := p.observe(ctx, "deleteMany", params.Resource)
	defer func() { done(len(records), err) }()

	table, err := p.table(params.Resource)
	if err != nil {
		return nil, err
	}
	if len(params.IDs) == 0 {
		return []map[string]interface{}{}, nil
	}
	pk, err := table.PrimaryKeyColumn()
	if err != nil {
		return nil, err
	}

	opts := p.writeOptions()
	var deleted []map[string]interface{}
	err = p.inTx(ctx, func(ctx context.Context) error {
		for _, chunk := range planner.Chunk(params.IDs, p.limits.MutationChunkSize) {
			planned, err := p.builder.DeleteByIDs(table, chunk, opts)
			if err != nil {
				return err
			}
			var rows []map[string]interface{}
			if opts.Returning {
				rows, err = p.query(ctx, planned, "delete %s", table.Name)
			} else {
				if rows, err = p.fetchByIDs(ctx, table, chunk); err == nil {
					_, err = p.execStatement(ctx, planned, "delete %s", table.Name)
				}
			}
			if err != nil {
				return err
			}
			p.metrics.RecordWriteChunk(ctx, "deleteMany")
			deleted = append(deleted, rows...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return orderByIDs(deleted, pk.Field, params.IDs), nil
}
