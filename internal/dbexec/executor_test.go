package dbexec

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlprovider/internal/apperr"
)

func TestQueryRowsUsesFieldNames(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, user_id FROM posts")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id"}).
			AddRow(10, 1).
			AddRow(11, []byte("2")))

	rows, err := QueryRows(context.Background(), NewStandardExecutor(db), "SELECT id, user_id FROM posts", nil, []string{"id", "userId"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.EqualValues(t, 10, rows[0]["id"])
	assert.EqualValues(t, 1, rows[0]["userId"])
	assert.Equal(t, "2", rows[1]["userId"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryRowsFallsBackToColumnNames(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) AS total FROM posts")).
		WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow(3))

	rows, err := QueryRows(context.Background(), NewStandardExecutor(db), "SELECT COUNT(*) AS total FROM posts", nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 3, rows[0]["total"])
}

func TestQueryRowsEmptyResultIsNonNil(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"id"}))

	rows, err := QueryRows(context.Background(), NewStandardExecutor(db), "SELECT id FROM users", nil, []string{"id"})
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestRunInTxCommitsOnSuccess(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM users")).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	exec := NewStandardExecutor(db)
	err = RunInTx(context.Background(), exec, func(ctx context.Context, tx TxExecutor) error {
		inCtx, ok := TxFromContext(ctx)
		require.True(t, ok)
		assert.Same(t, tx, inCtx)
		_, err := ExecutorFromContext(ctx, exec).ExecContext(ctx, "DELETE FROM users")
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTxRollsBackAndReturnsErrorUnchanged(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	sentinel := errors.New("boom")
	err = RunInTx(context.Background(), NewStandardExecutor(db), func(ctx context.Context, tx TxExecutor) error {
		return sentinel
	})
	assert.Same(t, sentinel, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTxJoinsExistingTransaction(t *testing.T) {
	outer := &fakeTx{}
	ctx := WithTx(context.Background(), outer)

	var seen TxExecutor
	err := RunInTx(ctx, nil, func(ctx context.Context, tx TxExecutor) error {
		seen = tx
		return nil
	})
	require.NoError(t, err)
	assert.Same(t, outer, seen)
	assert.Zero(t, outer.commits)
}

func TestRunInTxWithoutBeginner(t *testing.T) {
	err := RunInTx(context.Background(), nil, func(ctx context.Context, tx TxExecutor) error {
		return nil
	})
	assert.True(t, apperr.IsConfiguration(err))
}

func TestRunInTxRollsBackOnPanic(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	assert.PanicsWithValue(t, "kaboom", func() {
		_ = RunInTx(context.Background(), NewStandardExecutor(db), func(ctx context.Context, tx TxExecutor) error {
			panic("kaboom")
		})
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTxBeginAndCommitFailuresAreQueryErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	exec := NewStandardExecutor(db)
	noop := func(ctx context.Context, tx TxExecutor) error { return nil }

	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))
	err = RunInTx(context.Background(), exec, noop)
	assert.True(t, apperr.IsQuery(err))
	assert.Contains(t, err.Error(), "begin transaction")

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))
	err = RunInTx(context.Background(), exec, noop)
	assert.True(t, apperr.IsQuery(err))
	assert.Contains(t, err.Error(), "commit transaction")
	assert.NoError(t, mock.ExpectationsWereMet())
}

type fakeTx struct {
	QueryExecutor
	commits int
}

func (f *fakeTx) Commit() error {
	f.commits++
	return nil
}

func (f *fakeTx) Rollback() error {
	return nil
}
