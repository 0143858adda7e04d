package provider

import (
	"context"
	"strings"

	"sqlprovider/internal/apperr"
	"sqlprovider/internal/dbexec"
	"sqlprovider/internal/dialect"
)

// ExecuteRaw runs sqlText with args and returns the rows keyed by result
// column name. Statements that return no rows yield an empty slice.
func (p *DataProvider) ExecuteRaw(ctx context.Context, sqlText string, args ...interface{}) (rows []map[string]interface{}, err error) {
	ctx, done := p.observe(ctx, "executeRaw", "")
	defer func() { done(len(rows), err) }()

	if strings.TrimSpace(sqlText) == "" {
		return nil, apperr.Validation("raw query is empty")
	}
	exec, err := p.exec(ctx)
	if err != nil {
		return nil, err
	}
	rows, err = dbexec.QueryRows(ctx, exec, sqlText, args, nil)
	if err != nil {
		return nil, dialect.NormalizeError(err, "raw query failed")
	}
	return rows, nil
}

// Transaction runs fn in a transaction carried by the context passed to it.
// Provider calls made with that context join the transaction. It commits
// when fn returns nil and rolls back otherwise; a nested call joins the
// outer transaction.
func (p *DataProvider) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return apperr.Validation("transaction function is required")
	}
	if _, ok := dbexec.TxFromContext(ctx); !ok && p.beginner == nil {
		return apperr.Configuration("executor does not support transactions")
	}
	return dbexec.RunInTx(ctx, p.beginner, func(ctx context.Context, _ dbexec.TxExecutor) error {
		return fn(ctx)
	})
}
