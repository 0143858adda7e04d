package apperr

import (
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindsArePredicated(t *testing.T) {
	assert.True(t, IsValidation(Validation("bad %s", "between")))
	assert.True(t, IsSchema(Schema("unknown column %s", "x")))
	assert.True(t, IsQuery(Query(sql.ErrConnDone, "select failed")))
	assert.True(t, IsConfiguration(Configuration("no executor")))
	assert.False(t, IsValidation(Schema("x")))
	assert.False(t, IsValidation(nil))
}

func TestQueryKeepsCause(t *testing.T) {
	err := Query(sql.ErrConnDone, "list users")
	require.ErrorIs(t, err, sql.ErrConnDone)
	assert.Contains(t, err.Error(), "list users")
	assert.Contains(t, err.Error(), sql.ErrConnDone.Error())
}

func TestNotFoundSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("get one: %w", NotFound("users", 999999))
	assert.True(t, IsNotFound(err))
	assert.True(t, IsQuery(err))
	assert.Equal(t, CodeNotFound, CodeOf(err))
	assert.Contains(t, err.Error(), "999999")
}

func TestQueryCode(t *testing.T) {
	err := QueryCode(CodeUniqueViolation, sql.ErrNoRows, "insert users")
	assert.Equal(t, CodeUniqueViolation, CodeOf(err))
	assert.False(t, IsNotFound(err))
}
