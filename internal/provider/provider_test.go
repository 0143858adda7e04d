package provider

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlprovider/internal/apperr"
	"sqlprovider/internal/dbexec"
	"sqlprovider/internal/dialect"
	"sqlprovider/internal/filter"
	"sqlprovider/internal/morph"
	"sqlprovider/internal/planner"
	"sqlprovider/internal/schema"
)

var (
	userCols    = []string{"id", "name", "email"}
	postCols    = []string{"id", "user_id", "title"}
	commentCols = []string{"id", "commentable_type", "commentable_id", "body"}
)

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	mk := func(name string, cols ...string) *schema.Table {
		columns := make([]schema.Column, len(cols))
		for i, c := range cols {
			columns[i] = schema.Column{Name: c, IsAutoIncrement: c == "id"}
		}
		table, err := schema.NewTable(name, columns)
		require.NoError(t, err)
		return table
	}
	s, err := schema.New(
		mk("users", userCols...),
		mk("posts", postCols...),
		mk("videos", "id", "url"),
		mk("comments", commentCols...),
		mk("tags", "id", "label"),
		mk("taggables", "tag_id", "taggable_type", "taggable_id"),
	)
	require.NoError(t, err)
	return s
}

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func newProvider(t *testing.T, name dialect.Name, opts ...Option) (*DataProvider, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	d, err := dialect.ForName(name)
	require.NoError(t, err)
	return New(dbexec.NewStandardExecutor(db), testSchema(t), d, opts...), mock
}

func expectQuery(mock sqlmock.Sqlmock, fragment string) *sqlmock.ExpectedQuery {
	return mock.ExpectQuery(regexp.QuoteMeta(fragment))
}

func TestGetListRunsPageAndCount(t *testing.T) {
	p, mock := newProvider(t, dialect.SQLite)
	mock.MatchExpectationsInOrder(false)
	expectQuery(mock, `FROM "users" WHERE "users"."name" = ? ORDER BY "users"."id" DESC LIMIT 5 OFFSET 5`).
		WithArgs("ann").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(6, "ann", "a6@x").AddRow(5, "ann", "a5@x"))
	expectQuery(mock, `SELECT COUNT(*) FROM "users" WHERE "users"."name" = ?`).
		WithArgs("ann").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

	result, err := p.GetList(context.Background(), ListParams{
		Resource:   "users",
		Filters:    []filter.Node{filter.Eq("name", "ann")},
		Sorters:    []planner.Sort{{Field: "id", Order: "DESC"}},
		Pagination: planner.Page(2, 5),
	})
	require.NoError(t, err)
	assert.EqualValues(t, 12, result.Total)
	require.Len(t, result.Data, 2)
	assert.Equal(t, "a6@x", result.Data[0]["email"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetListPaginationNormalization(t *testing.T) {
	p, mock := newProvider(t, dialect.SQLite)
	mock.MatchExpectationsInOrder(false)
	expectQuery(mock, `FROM "users" LIMIT 10`).WillReturnRows(sqlmock.NewRows(userCols))
	expectQuery(mock, `COUNT(*)`).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	result, err := p.GetList(context.Background(), ListParams{Resource: "users", Pagination: planner.Page(0, 10)})
	require.NoError(t, err)
	assert.NotNil(t, result.Data)
	assert.NoError(t, mock.ExpectationsWereMet())

	_, err = p.GetList(context.Background(), ListParams{Resource: "users", Pagination: planner.Page(1, 0)})
	assert.True(t, apperr.IsValidation(err))
}

func TestGetListRejectsZeroLimit(t *testing.T) {
	p, mock := newProvider(t, dialect.SQLite)

	_, err := p.GetList(context.Background(), ListParams{Resource: "users", Pagination: planner.LimitOffset(0, 0)})
	assert.True(t, apperr.IsValidation(err))
	_, err = p.From("users").Limit(0).Get(context.Background())
	assert.True(t, apperr.IsValidation(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFluentQueryOffsetWithoutLimit(t *testing.T) {
	p, mock := newProvider(t, dialect.SQLite)
	expectQuery(mock, `FROM "users" LIMIT 9223372036854775807 OFFSET 2`).
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(3, "cy", nil))

	records, err := p.From("users").Offset(2).Get(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetListDefaultPageSizeFromLimits(t *testing.T) {
	p, mock := newProvider(t, dialect.SQLite, WithLimits(Limits{DefaultPageSize: 3}))
	mock.MatchExpectationsInOrder(false)
	expectQuery(mock, `FROM "users" LIMIT 3`).WillReturnRows(sqlmock.NewRows(userCols))
	expectQuery(mock, `COUNT(*)`).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	_, err := p.GetList(context.Background(), ListParams{Resource: "users"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetListEmptyInSkipsQueries(t *testing.T) {
	p, mock := newProvider(t, dialect.SQLite)

	result, err := p.GetList(context.Background(), ListParams{
		Resource: "users",
		Filters:  []filter.Node{filter.In("id")},
	})
	require.NoError(t, err)
	assert.Empty(t, result.Data)
	assert.NotNil(t, result.Data)
	assert.Zero(t, result.Total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetListRejectsBadBetweenBeforeQuerying(t *testing.T) {
	p, mock := newProvider(t, dialect.SQLite)

	for _, value := range []interface{}{[]interface{}{1}, []interface{}{1, 2, 3}, []interface{}{9, 1}} {
		_, err := p.GetList(context.Background(), ListParams{
			Resource: "users",
			Filters:  []filter.Node{filter.Where("id", filter.OpBetween, value)},
		})
		assert.True(t, apperr.IsValidation(err), "value %v", value)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetListSkipsUnknownFilterFields(t *testing.T) {
	p, mock := newProvider(t, dialect.SQLite)
	mock.MatchExpectationsInOrder(false)
	expectQuery(mock, `FROM "users" LIMIT 10`).WillReturnRows(sqlmock.NewRows(userCols).AddRow(1, "ann", "a@x"))
	expectQuery(mock, `SELECT COUNT(*) FROM "users"`).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	result, err := p.GetList(context.Background(), ListParams{
		Resource: "users",
		Filters:  []filter.Node{filter.Eq("nickname", "x")},
	})
	require.NoError(t, err)
	assert.Len(t, result.Data, 1)
}

func TestGetListRejectsUnknownSortField(t *testing.T) {
	p, _ := newProvider(t, dialect.SQLite)
	_, err := p.GetList(context.Background(), ListParams{
		Resource: "users",
		Sorters:  []planner.Sort{{Field: "nickname"}},
	})
	assert.True(t, apperr.IsValidation(err))

	_, err = p.GetList(context.Background(), ListParams{Resource: "ghosts"})
	assert.True(t, apperr.IsSchema(err))
}

func TestGetListInsideTransactionRunsSequentially(t *testing.T) {
	p, mock := newProvider(t, dialect.SQLite)
	mock.ExpectBegin()
	expectQuery(mock, `FROM "users" LIMIT 10`).WillReturnRows(sqlmock.NewRows(userCols))
	expectQuery(mock, `COUNT(*)`).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectCommit()

	err := p.Transaction(context.Background(), func(ctx context.Context) error {
		_, err := p.GetList(ctx, ListParams{Resource: "users"})
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetListLoadsRelations(t *testing.T) {
	p, mock := newProvider(t, dialect.SQLite)
	mock.MatchExpectationsInOrder(false)
	expectQuery(mock, `FROM "users" LIMIT 10`).
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(1, "ann", "a@x").AddRow(2, "bob", "b@x"))
	expectQuery(mock, `COUNT(*)`).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	expectQuery(mock, `FROM "posts" WHERE "posts"."user_id" IN (?,?)`).
		WillReturnRows(sqlmock.NewRows(postCols).AddRow(10, 1, "a").AddRow(11, 1, "b").AddRow(12, 2, "c"))

	result, err := p.GetList(context.Background(), ListParams{Resource: "users", Relations: []string{"posts"}})
	require.NoError(t, err)
	assert.Len(t, result.Data[0]["posts"], 2)
	assert.Len(t, result.Data[1]["posts"], 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOneNotFound(t *testing.T) {
	p, mock := newProvider(t, dialect.SQLite)
	expectQuery(mock, `WHERE "users"."id" IN (?)`).WithArgs(999999).WillReturnRows(sqlmock.NewRows(userCols))

	record, err := p.GetOne(context.Background(), GetOneParams{Resource: "users", ID: 999999})
	require.Error(t, err)
	assert.Nil(t, record)
	assert.True(t, apperr.IsQuery(err))
	assert.True(t, apperr.IsNotFound(err))
}

func TestGetWithRelations(t *testing.T) {
	p, mock := newProvider(t, dialect.SQLite)
	expectQuery(mock, `FROM "posts" WHERE "posts"."id" IN (?)`).
		WillReturnRows(sqlmock.NewRows(postCols).AddRow(10, 1, "hello"))
	expectQuery(mock, `FROM "users" WHERE "users"."id" IN (?)`).
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(1, "ann", "a@x"))

	record, err := p.GetWithRelations(context.Background(), "posts", 10, []string{"user"})
	require.NoError(t, err)
	assert.Equal(t, "ann", record["user"].(map[string]interface{})["name"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetManyKeepsIDOrder(t *testing.T) {
	p, mock := newProvider(t, dialect.SQLite)
	expectQuery(mock, `WHERE "users"."id" IN (?,?,?)`).
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(1, "ann", "a@x").AddRow(3, "cy", "c@x"))

	records, err := p.GetMany(context.Background(), GetManyParams{Resource: "users", IDs: []interface{}{3, 2, 1}})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "cy", records[0]["name"])
	assert.Equal(t, "ann", records[1]["name"])
}

func TestCreateWithReturning(t *testing.T) {
	p, mock := newProvider(t, dialect.SQLite)
	expectQuery(mock, `INSERT INTO "users" ("name","email") VALUES (?,?) RETURNING "id", "name", "email"`).
		WithArgs("ann", "a@x").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(1, "ann", "a@x"))

	record, err := p.Create(context.Background(), CreateParams{
		Resource:  "users",
		Variables: map[string]interface{}{"name": "ann", "email": "a@x"},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, record["id"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRefetchesWithoutReturning(t *testing.T) {
	p, mock := newProvider(t, dialect.MySQL)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `users` (`name`,`email`) VALUES (?,?)")).
		WithArgs("ann", "a@x").
		WillReturnResult(sqlmock.NewResult(42, 1))
	expectQuery(mock, "WHERE `users`.`id` IN (?)").
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(42, "ann", "a@x"))
	mock.ExpectCommit()

	record, err := p.Create(context.Background(), CreateParams{
		Resource:  "users",
		Variables: map[string]interface{}{"name": "ann", "email": "a@x"},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 42, record["id"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePropagatesConstraintViolation(t *testing.T) {
	p, mock := newProvider(t, dialect.MySQL)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO").WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
	mock.ExpectRollback()

	_, err := p.Create(context.Background(), CreateParams{
		Resource:  "users",
		Variables: map[string]interface{}{"email": "a@x"},
	})
	require.Error(t, err)
	assert.True(t, apperr.IsQuery(err))
	assert.Equal(t, apperr.CodeUniqueViolation, apperr.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRejectsUnknownField(t *testing.T) {
	p, mock := newProvider(t, dialect.SQLite)
	_, err := p.Create(context.Background(), CreateParams{
		Resource:  "users",
		Variables: map[string]interface{}{"nickname": "x"},
	})
	assert.True(t, apperr.IsSchema(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateManyChunksWithIDRangeRefetch(t *testing.T) {
	p, mock := newProvider(t, dialect.MySQL, WithLimits(Limits{InsertChunkSize: 2}))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `users` (`name`) VALUES (?),(?)")).
		WithArgs("a", "b").
		WillReturnResult(sqlmock.NewResult(10, 2))
	expectQuery(mock, "WHERE `users`.`id` BETWEEN ? AND ? ORDER BY `users`.`id` ASC").
		WithArgs(int64(10), int64(11)).
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(10, "a", nil).AddRow(11, "b", nil))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `users` (`name`) VALUES (?)")).
		WithArgs("c").
		WillReturnResult(sqlmock.NewResult(12, 1))
	expectQuery(mock, "BETWEEN ? AND ?").
		WithArgs(int64(12), int64(12)).
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(12, "c", nil))
	mock.ExpectCommit()

	records, err := p.CreateMany(context.Background(), CreateManyParams{
		Resource: "users",
		Variables: []map[string]interface{}{
			{"name": "a"}, {"name": "b"}, {"name": "c"},
		},
	})
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, name := range []string{"a", "b", "c"} {
		assert.Equal(t, name, records[i]["name"])
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateManyChunksWithReturning(t *testing.T) {
	p, mock := newProvider(t, dialect.SQLite, WithLimits(Limits{InsertChunkSize: 2}))
	mock.ExpectBegin()
	expectQuery(mock, `VALUES (?),(?) RETURNING`).
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(1, "a", nil).AddRow(2, "b", nil))
	expectQuery(mock, `VALUES (?) RETURNING`).
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(3, "c", nil))
	mock.ExpectCommit()

	records, err := p.CreateMany(context.Background(), CreateManyParams{
		Resource:  "users",
		Variables: []map[string]interface{}{{"name": "a"}, {"name": "b"}, {"name": "c"}},
	})
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "c", records[2]["name"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateManyRollsBackOnChunkFailure(t *testing.T) {
	p, mock := newProvider(t, dialect.SQLite, WithLimits(Limits{InsertChunkSize: 1}))
	mock.ExpectBegin()
	expectQuery(mock, `RETURNING`).WillReturnRows(sqlmock.NewRows(userCols).AddRow(1, "a", nil))
	expectQuery(mock, `RETURNING`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := p.CreateMany(context.Background(), CreateManyParams{
		Resource:  "users",
		Variables: []map[string]interface{}{{"name": "a"}, {"name": "b"}},
	})
	assert.True(t, apperr.IsQuery(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateNotFound(t *testing.T) {
	p, mock := newProvider(t, dialect.SQLite)
	expectQuery(mock, `UPDATE "users" SET "name" = ? WHERE "users"."id" IN (?) RETURNING`).
		WithArgs("zed", 5).
		WillReturnRows(sqlmock.NewRows(userCols))

	_, err := p.Update(context.Background(), UpdateParams{
		Resource:  "users",
		ID:        5,
		Variables: map[string]interface{}{"name": "zed"},
	})
	assert.True(t, apperr.IsNotFound(err))
}

func TestUpdateRefetchesWithoutReturning(t *testing.T) {
	p, mock := newProvider(t, dialect.MySQL)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `users` SET `name` = ? WHERE `users`.`id` IN (?)")).
		WithArgs("zed", 5).
		WillReturnResult(sqlmock.NewResult(0, 0))
	expectQuery(mock, "WHERE `users`.`id` IN (?)").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(5, "zed", "z@x"))
	mock.ExpectCommit()

	record, err := p.Update(context.Background(), UpdateParams{
		Resource:  "users",
		ID:        5,
		Variables: map[string]interface{}{"name": "zed"},
	})
	require.NoError(t, err)
	assert.Equal(t, "zed", record["name"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRejectsEmptyVariables(t *testing.T) {
	p, _ := newProvider(t, dialect.SQLite)
	_, err := p.Update(context.Background(), UpdateParams{Resource: "users", ID: 1})
	assert.True(t, apperr.IsValidation(err))
}

func TestDeleteOneReadsBeforeDeletingWithoutReturning(t *testing.T) {
	p, mock := newProvider(t, dialect.MySQL)
	mock.ExpectBegin()
	expectQuery(mock, "WHERE `users`.`id` IN (?)").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(5, "zed", "z@x"))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `users` WHERE `users`.`id` IN (?)")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	record, err := p.DeleteOne(context.Background(), DeleteOneParams{Resource: "users", ID: 5})
	require.NoError(t, err)
	assert.Equal(t, "zed", record["name"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteOneNotFound(t *testing.T) {
	p, mock := newProvider(t, dialect.SQLite)
	expectQuery(mock, `DELETE FROM "users" WHERE "users"."id" IN (?) RETURNING`).
		WillReturnRows(sqlmock.NewRows(userCols))

	_, err := p.DeleteOne(context.Background(), DeleteOneParams{Resource: "users", ID: 5})
	assert.True(t, apperr.IsNotFound(err))
}

func TestUpdateManyChunksAndOrdersByID(t *testing.T) {
	p, mock := newProvider(t, dialect.SQLite, WithLimits(Limits{MutationChunkSize: 2}))
	mock.ExpectBegin()
	expectQuery(mock, `WHERE "users"."id" IN (?,?) RETURNING`).
		WithArgs("x", 3, 1).
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(1, "x", nil).AddRow(3, "x", nil))
	expectQuery(mock, `WHERE "users"."id" IN (?) RETURNING`).
		WithArgs("x", 2).
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(2, "x", nil))
	mock.ExpectCommit()

	records, err := p.UpdateMany(context.Background(), UpdateManyParams{
		Resource:  "users",
		IDs:       []interface{}{3, 1, 2},
		Variables: map[string]interface{}{"name": "x"},
	})
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.EqualValues(t, 3, records[0]["id"])
	assert.EqualValues(t, 1, records[1]["id"])
	assert.EqualValues(t, 2, records[2]["id"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteManyWithoutReturning(t *testing.T) {
	p, mock := newProvider(t, dialect.MySQL)
	mock.ExpectBegin()
	expectQuery(mock, "WHERE `users`.`id` IN (?,?)").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(1, "a", nil).AddRow(2, "b", nil))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `users` WHERE `users`.`id` IN (?,?)")).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	records, err := p.DeleteMany(context.Background(), DeleteManyParams{Resource: "users", IDs: []interface{}{1, 2}})
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFluentQuery(t *testing.T) {
	p, mock := newProvider(t, dialect.SQLite)
	expectQuery(mock, `WHERE "users"."id" > ? ORDER BY "users"."name" DESC, "users"."id" ASC LIMIT 5 OFFSET 10`).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(4, "zed", nil))

	records, err := p.From("users").
		WhereField("id", filter.OpGt, 3).
		OrderBy("name", "desc").
		OrderBy("id", "asc").
		Limit(5).
		Offset(10).
		Get(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFluentQueryTerminals(t *testing.T) {
	p, mock := newProvider(t, dialect.SQLite)
	expectQuery(mock, `FROM "users" WHERE "users"."name" = ? LIMIT 1 OFFSET 4`).
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(9, "ann", nil))
	expectQuery(mock, `SELECT COUNT(*) FROM "users" WHERE "users"."name" = ?`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(7)))
	expectQuery(mock, `SELECT SUM("users"."id") FROM "users"`).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("42"))
	expectQuery(mock, `SELECT MAX("users"."id") FROM "users"`).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(9))

	q := p.From("users").Where(filter.Eq("name", "ann")).Paginate(3, 2)
	first, err := q.First(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 9, first["id"])

	total, err := q.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 7, total)

	sum, err := q.Sum(context.Background(), "id")
	require.NoError(t, err)
	assert.Equal(t, 42.0, sum)

	max, err := q.Max(context.Background(), "id")
	require.NoError(t, err)
	assert.EqualValues(t, 9, max)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFluentQueryEmptyInReturnsNothing(t *testing.T) {
	p, mock := newProvider(t, dialect.SQLite)
	q := p.From("users").Where(filter.In("id"))

	records, err := q.Get(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)

	total, err := q.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, total)

	avg, err := q.Avg(context.Background(), "id")
	require.NoError(t, err)
	assert.Zero(t, avg)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMorphToGroupsByType(t *testing.T) {
	p, mock := newProvider(t, dialect.SQLite)
	expectQuery(mock, `FROM "comments"`).
		WillReturnRows(sqlmock.NewRows(commentCols).
			AddRow(1, "post", 1, "x").
			AddRow(2, "video", 1, "y").
			AddRow(3, "post", 1, "z"))
	expectQuery(mock, `FROM "posts" WHERE "posts"."id" IN (?)`).
		WillReturnRows(sqlmock.NewRows(postCols).AddRow(1, 1, "hello"))
	expectQuery(mock, `FROM "videos" WHERE "videos"."id" IN (?)`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "url"}).AddRow(1, "v.mp4"))

	records, err := p.MorphTo("comments", morphDescriptor()).Get(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "hello", records[0]["morphable"].(map[string]interface{})["title"])
	assert.Equal(t, "v.mp4", records[1]["morphable"].(map[string]interface{})["url"])
	assert.Equal(t, "hello", records[2]["morphable"].(map[string]interface{})["title"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMorphToWhereType(t *testing.T) {
	p, mock := newProvider(t, dialect.SQLite)
	expectQuery(mock, `WHERE "comments"."commentable_type" IN (?) ORDER BY "comments"."id" ASC LIMIT 10`).
		WithArgs("video").
		WillReturnRows(sqlmock.NewRows(commentCols).AddRow(2, "video", 1, "y"))
	expectQuery(mock, `FROM "videos"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "url"}).AddRow(1, "v.mp4"))

	record, err := p.MorphTo("comments", morphDescriptor()).
		WhereType("video").
		OrderBy("id", "asc").
		Paginate(1, 10).
		First(context.Background())
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.NotNil(t, record["morphable"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMorphToDegradesFailedType(t *testing.T) {
	p, mock := newProvider(t, dialect.SQLite)
	expectQuery(mock, `FROM "comments"`).
		WillReturnRows(sqlmock.NewRows(commentCols).
			AddRow(1, "post", 1, "x").
			AddRow(2, "video", 1, "y"))
	expectQuery(mock, `FROM "posts" WHERE "posts"."id" IN (?)`).
		WillReturnRows(sqlmock.NewRows(postCols).AddRow(1, 1, "hello"))
	expectQuery(mock, `FROM "videos" WHERE "videos"."id" IN (?)`).
		WillReturnError(errors.New("boom"))

	records, err := p.MorphTo("comments", morphDescriptor()).Get(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "hello", records[0]["morphable"].(map[string]interface{})["title"])
	assert.Nil(t, records[1]["morphable"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMorphToPivotWhereTypeLoadsOnlyThatType(t *testing.T) {
	p, mock := newProvider(t, dialect.SQLite)
	expectQuery(mock, `FROM "tags"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "label"}).AddRow(1, "go"))
	expectQuery(mock, `FROM "taggables" WHERE "taggables"."tag_id" IN (?)`).
		WillReturnRows(sqlmock.NewRows([]string{"tag_id", "taggable_type", "taggable_id"}).
			AddRow(1, "post", 10).
			AddRow(1, "video", 20))
	expectQuery(mock, `FROM "posts" WHERE "posts"."id" IN (?)`).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows(postCols).AddRow(10, 1, "p"))

	records, err := p.MorphTo("tags", morph.Descriptor{
		TypeField:       "taggable_type",
		IDField:         "taggable_id",
		RelationName:    "taggables",
		Types:           map[string]string{"post": "posts", "video": "videos"},
		PivotTable:      "taggables",
		PivotLocalKey:   "tag_id",
		PivotForeignKey: "taggable_id",
	}).WhereType("post").Get(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	list := records[0]["taggables"].([]map[string]interface{})
	require.Len(t, list, 1)
	assert.Equal(t, "p", list[0]["title"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMorphToInvalidDescriptorFailsFast(t *testing.T) {
	p, mock := newProvider(t, dialect.SQLite)
	desc := morphDescriptor()
	desc.Types["photo"] = "photos"

	_, err := p.MorphTo("comments", desc).Get(context.Background())
	assert.True(t, apperr.IsSchema(err))
	_, err = p.MorphTo("comments", desc).Count(context.Background())
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteRaw(t *testing.T) {
	p, mock := newProvider(t, dialect.SQLite)
	expectQuery(mock, `SELECT name, COUNT(*) AS n FROM users GROUP BY name`).
		WillReturnRows(sqlmock.NewRows([]string{"name", "n"}).AddRow("ann", 2))

	rows, err := p.ExecuteRaw(context.Background(), "SELECT name, COUNT(*) AS n FROM users GROUP BY name")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 2, rows[0]["n"])

	_, err = p.ExecuteRaw(context.Background(), "  ")
	assert.True(t, apperr.IsValidation(err))
}

func TestTransactionRollsBackOnError(t *testing.T) {
	p, mock := newProvider(t, dialect.SQLite)
	mock.ExpectBegin()
	expectQuery(mock, `INSERT INTO "users"`).WillReturnRows(sqlmock.NewRows(userCols).AddRow(1, "a", nil))
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := p.Transaction(context.Background(), func(ctx context.Context) error {
		if _, err := p.Create(ctx, CreateParams{Resource: "users", Variables: map[string]interface{}{"name": "a"}}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type queryOnlyExecutor struct {
	dbexec.QueryExecutor
}

func TestTransactionRequiresBeginner(t *testing.T) {
	db, _ := newMockDB(t)
	d, err := dialect.ForName(dialect.SQLite)
	require.NoError(t, err)
	p := New(queryOnlyExecutor{dbexec.NewStandardExecutor(db)}, testSchema(t), d)

	err = p.Transaction(context.Background(), func(context.Context) error { return nil })
	assert.True(t, apperr.IsConfiguration(err))
}

func morphDescriptor() morph.Descriptor {
	return morph.Descriptor{
		TypeField:    "commentable_type",
		IDField:      "commentable_id",
		RelationName: "morphable",
		Types:        map[string]string{"post": "posts", "video": "videos"},
	}
}
