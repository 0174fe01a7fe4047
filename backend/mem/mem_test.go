package mem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/unitwork/backend"
)

type entity struct {
	typ    string
	id     any
	fields map[string]any
}

func newEntity(typ string, fields map[string]any) *entity {
	if fields == nil {
		fields = make(map[string]any)
	}
	return &entity{typ: typ, fields: fields}
}

func (e *entity) EntityType() string { return e.typ }
func (e *entity) EntityID() any      { return e.id }
func (e *entity) SetEntityID(id any) { e.id = id }
func (e *entity) Field(name string) (any, bool) {
	v, ok := e.fields[name]
	return v, ok
}
func (e *entity) SetField(name string, value any) { e.fields[name] = value }
func (e *entity) Fields() map[string]any          { return e.fields }

func exec(t *testing.T, s *Store, op backend.Op, opts backend.ExecOptions, entities ...backend.Entity) []backend.RecordOutcome {
	t.Helper()
	outcomes, err := s.Execute(context.Background(), entities, op, opts)
	require.NoError(t, err)
	require.Len(t, outcomes, len(entities))
	return outcomes
}

func TestStoreInsertUpdate(t *testing.T) {
	t.Parallel()
	s := NewStore()
	e := newEntity("Account", map[string]any{"name": "acme"})
	out := exec(t, s, backend.OpInsert, backend.ExecOptions{}, e)[0]
	require.True(t, out.Success)
	require.NotNil(t, out.ID)

	e2 := newEntity("Account", map[string]any{"name": "renamed"})
	e2.SetEntityID(out.ID)
	out = exec(t, s, backend.OpUpdate, backend.ExecOptions{}, e2)[0]
	require.True(t, out.Success)
	row, ok := s.Get("Account", out.ID)
	require.True(t, ok)
	assert.Equal(t, "renamed", row["name"])

	// Updating a missing row fails per record, not per call.
	ghost := newEntity("Account", nil)
	ghost.SetEntityID("999")
	out = exec(t, s, backend.OpUpdate, backend.ExecOptions{}, ghost)[0]
	require.False(t, out.Success)
	assert.Equal(t, "NOT_FOUND", out.Errors[0].StatusCode)
}

func TestStoreUpsert(t *testing.T) {
	t.Parallel()
	s := NewStore()
	opts := backend.ExecOptions{ExternalIDField: "external_id"}

	created := exec(t, s, backend.OpUpsert, opts,
		newEntity("Account", map[string]any{"external_id": "a-1", "name": "first"}))[0]
	require.True(t, created.Success)

	updated := exec(t, s, backend.OpUpsert, opts,
		newEntity("Account", map[string]any{"external_id": "a-1", "name": "second"}))[0]
	require.True(t, updated.Success)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, 1, s.Len("Account"))

	missing := exec(t, s, backend.OpUpsert, opts, newEntity("Account", map[string]any{"name": "keyless"}))[0]
	require.False(t, missing.Success)
	assert.Equal(t, "MISSING_EXTERNAL_ID", missing.Errors[0].StatusCode)
}

func TestStoreDeleteUndelete(t *testing.T) {
	t.Parallel()
	s := NewStore()
	out := exec(t, s, backend.OpInsert, backend.ExecOptions{}, newEntity("Account", nil))[0]

	e := newEntity("Account", nil)
	e.SetEntityID(out.ID)
	require.True(t, exec(t, s, backend.OpDelete, backend.ExecOptions{}, e)[0].Success)
	_, live := s.Get("Account", out.ID)
	assert.False(t, live)
	_, binned := s.GetDeleted("Account", out.ID)
	assert.True(t, binned)

	require.True(t, exec(t, s, backend.OpUndelete, backend.ExecOptions{}, e)[0].Success)
	_, live = s.Get("Account", out.ID)
	assert.True(t, live)
}

func TestStoreMerge(t *testing.T) {
	t.Parallel()
	s := NewStore()
	master := exec(t, s, backend.OpInsert, backend.ExecOptions{}, newEntity("Account", nil))[0]
	dup := exec(t, s, backend.OpInsert, backend.ExecOptions{}, newEntity("Account", nil))[0]

	e := newEntity("Account", nil)
	e.SetEntityID(dup.ID)
	out := exec(t, s, backend.OpMerge, backend.ExecOptions{MergeMasterID: master.ID}, e)[0]
	require.True(t, out.Success)
	assert.Equal(t, master.ID, out.ID)
	assert.Equal(t, 1, s.Len("Account"))
}

func TestStorePublish(t *testing.T) {
	t.Parallel()
	s := NewStore()
	out := exec(t, s, backend.OpPublish, backend.ExecOptions{},
		newEntity("AccountRenamed", map[string]any{"account_id": "1"}))[0]
	require.True(t, out.Success)
	assert.Nil(t, out.ID)
	events := s.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "AccountRenamed", events[0].Type)
	assert.Equal(t, "1", events[0].Fields["account_id"])
}

func TestStoreSavepoint(t *testing.T) {
	t.Parallel()
	s := NewStore()
	ctx := context.Background()
	keep := exec(t, s, backend.OpInsert, backend.ExecOptions{}, newEntity("Account", map[string]any{"name": "keep"}))[0]

	sp, err := s.Savepoint(ctx)
	require.NoError(t, err)
	exec(t, s, backend.OpInsert, backend.ExecOptions{}, newEntity("Account", map[string]any{"name": "discard"}))
	exec(t, s, backend.OpPublish, backend.ExecOptions{}, newEntity("Noise", nil))
	require.Equal(t, 2, s.Len("Account"))

	require.NoError(t, sp.Rollback(ctx))
	assert.Equal(t, 1, s.Len("Account"))
	assert.Empty(t, s.Events())
	_, ok := s.Get("Account", keep.ID)
	assert.True(t, ok)

	// Identifier sequence rewinds with the snapshot, so the replayed
	// insert reuses the discarded identifier.
	replay := exec(t, s, backend.OpInsert, backend.ExecOptions{}, newEntity("Account", nil))[0]
	assert.Equal(t, "2", replay.ID)

	sp, err = s.Savepoint(ctx)
	require.NoError(t, err)
	exec(t, s, backend.OpInsert, backend.ExecOptions{}, newEntity("Account", nil))
	require.NoError(t, sp.Release(ctx))
	assert.Equal(t, 3, s.Len("Account"))
}

func TestStoreFailHook(t *testing.T) {
	t.Parallel()
	s := NewStore()
	s.FailHook = func(op backend.Op, e backend.Entity) *backend.OutcomeError {
		if op.Is(backend.OpInsert) {
			return &backend.OutcomeError{Message: "nope", StatusCode: "VETOED"}
		}
		return nil
	}
	out := exec(t, s, backend.OpInsert, backend.ExecOptions{}, newEntity("Account", nil))[0]
	require.False(t, out.Success)
	assert.Equal(t, "VETOED", out.Errors[0].StatusCode)
	assert.Equal(t, 0, s.Len("Account"))
}
