package unitwork

import (
	"maps"

	"github.com/syssam/unitwork/backend"
)

// Type and constant aliases re-exported from the backend contract package,
// so most callers only import unitwork.
type (
	// Op is the operation kind requested for a registered record.
	Op = backend.Op

	// Entity is the record contract managed by a unit of work.
	Entity = backend.Entity

	// RecordError is one structured failure reported for a record.
	RecordError = backend.OutcomeError
)

// Operation kinds supported by the unit of work.
const (
	OpInsert   = backend.OpInsert
	OpUpdate   = backend.OpUpdate
	OpUpsert   = backend.OpUpsert
	OpDelete   = backend.OpDelete
	OpUndelete = backend.OpUndelete
	OpMerge    = backend.OpMerge
	OpPublish  = backend.OpPublish
)

// MapEntity is a map-backed Entity implementation. It is the record type
// used by the bundled backends, the examples, and the tests; applications
// with their own record structs only need to satisfy the Entity interface.
type MapEntity struct {
	typ    string
	id     any
	fields map[string]any
}

// NewEntity returns a new un-persisted MapEntity of the given type.
func NewEntity(entityType string) *MapEntity {
	return &MapEntity{typ: entityType, fields: make(map[string]any)}
}

// NewEntityWithID returns a new MapEntity carrying an existing identifier.
func NewEntityWithID(entityType string, id any) *MapEntity {
	e := NewEntity(entityType)
	e.id = id
	return e
}

// EntityType returns the record's type name.
func (e *MapEntity) EntityType() string { return e.typ }

// EntityID returns the record's identifier, or nil if not persisted yet.
func (e *MapEntity) EntityID() any { return e.id }

// SetEntityID sets the record's identifier.
func (e *MapEntity) SetEntityID(id any) { e.id = id }

// Field returns the value of the named field and whether it is set.
func (e *MapEntity) Field(name string) (any, bool) {
	v, ok := e.fields[name]
	return v, ok
}

// SetField sets the value of the named field.
func (e *MapEntity) SetField(name string, value any) {
	e.fields[name] = value
}

// Set is a chainable SetField, convenient when building fixtures.
func (e *MapEntity) Set(name string, value any) *MapEntity {
	e.fields[name] = value
	return e
}

// Fields returns a copy of all set fields.
func (e *MapEntity) Fields() map[string]any {
	out := make(map[string]any, len(e.fields))
	maps.Copy(out, e.fields)
	return out
}

var _ backend.Entity = (*MapEntity)(nil)
