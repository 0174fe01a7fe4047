package mocking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/unitwork/backend"
)

type entity struct {
	typ string
	id  any
}

func (e *entity) EntityType() string       { return e.typ }
func (e *entity) EntityID() any            { return e.id }
func (e *entity) SetEntityID(id any)       { e.id = id }
func (e *entity) Field(string) (any, bool) { return nil, false }
func (e *entity) SetField(string, any)     {}
func (e *entity) Fields() map[string]any   { return nil }

func TestRegistryMatch(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg.Register("billing").ForOperation(backend.OpInsert).ForEntityType("Invoice")
	reg.Register("billing").ForOperation(backend.OpDelete)
	reg.Register("idle")

	assert.NotNil(t, reg.Match("billing", backend.OpInsert, "Invoice"))
	assert.Nil(t, reg.Match("billing", backend.OpInsert, "Account"))
	// Second rule under the same identifier has no type filter.
	assert.NotNil(t, reg.Match("billing", backend.OpDelete, "Account"))
	assert.Nil(t, reg.Match("billing", backend.OpUpdate, "Invoice"))
	// An unconfigured rule matches nothing.
	assert.Nil(t, reg.Match("idle", backend.OpInsert, "Invoice"))
	assert.Nil(t, reg.Match("unknown", backend.OpInsert, "Invoice"))
}

func TestRegistryMatchAllOperations(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg.Register("ext").ForAllOperations()
	for _, op := range []backend.Op{backend.OpInsert, backend.OpUpdate, backend.OpMerge, backend.OpPublish} {
		assert.NotNil(t, reg.Match("ext", op, "Anything"), op.String())
	}
}

func TestRuleSynthesize(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	ok := reg.Register("ok").ForAllOperations()
	bad := reg.Register("bad").ForAllOperations().InjectFailure()

	entities := []backend.Entity{&entity{typ: "Account"}, &entity{typ: "Account"}}
	gen := NewGenerator()

	outcomes := ok.rule.Synthesize(entities, gen)
	require.Len(t, outcomes, 2)
	assert.True(t, outcomes[0].Success)
	assert.NotEmpty(t, outcomes[0].ID)
	assert.NotEqual(t, outcomes[0].ID, outcomes[1].ID)

	outcomes = bad.rule.Synthesize(entities, gen)
	require.Len(t, outcomes, 2)
	assert.False(t, outcomes[0].Success)
	require.Len(t, outcomes[0].Errors, 1)
	assert.Equal(t, StatusInjectedFailure, outcomes[0].Errors[0].StatusCode)
}

func TestGeneratorDeterminism(t *testing.T) {
	t.Parallel()
	g1 := NewGenerator()
	g2 := NewGenerator()
	for i := 0; i < 3; i++ {
		assert.Equal(t, g1.Next("Account"), g2.Next("Account"))
	}
	// Sequences are independent per type.
	assert.Equal(t, g1.Next("Contact"), g2.Next("Contact"))

	first := NewGenerator().Next("OrderLine")
	g1.Reset()
	assert.Equal(t, first, g1.Next("OrderLine"))
}
