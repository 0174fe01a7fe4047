package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpIs(t *testing.T) {
	t.Parallel()
	assert.True(t, OpInsert.Is(OpInsert|OpUpdate))
	assert.False(t, OpDelete.Is(OpInsert|OpUpdate))
	assert.False(t, OpDelete.Is(0))
}

func TestOpString(t *testing.T) {
	t.Parallel()
	for op, want := range map[Op]string{
		OpInsert:   "OpInsert",
		OpUpdate:   "OpUpdate",
		OpUpsert:   "OpUpsert",
		OpDelete:   "OpDelete",
		OpUndelete: "OpUndelete",
		OpMerge:    "OpMerge",
		OpPublish:  "OpPublish",
	} {
		assert.Equal(t, want, op.String())
	}
}

func TestOutcomeHelpers(t *testing.T) {
	t.Parallel()
	out := Success("003xx")
	assert.True(t, out.Success)
	assert.Equal(t, "003xx", out.ID)

	out = Failure("name is required", "VALIDATION_ERROR", "name")
	assert.False(t, out.Success)
	assert.Equal(t, "name is required (VALIDATION_ERROR)", out.Errors[0].Error())
	assert.Equal(t, []string{"name"}, out.Errors[0].Fields)

	bare := OutcomeError{Message: "boom"}
	assert.Equal(t, "boom", bare.Error())
}

func TestJoinErrors(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "", JoinErrors(nil))
	joined := JoinErrors([]OutcomeError{
		{Message: "first", StatusCode: "A"},
		{Message: "second", StatusCode: "B"},
	})
	assert.Equal(t, "first (A); second (B)", joined)
}
