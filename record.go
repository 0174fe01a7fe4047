package unitwork

import "github.com/syssam/unitwork/backend"

// FieldOverride is one field value applied on top of an entity's own state
// when its bucket is dispatched. Overrides apply in declaration order, so a
// later override of the same field wins.
type FieldOverride struct {
	Field string
	Value any
}

// Relationship declares that a foreign-key field of a record must be
// populated with the identifier of a target record once that target
// resolves. The target is either a direct reference to an entity registered
// in the same unit of work, or an external-identifier (type, field, value)
// triple matching a keyed upsert registration.
type Relationship struct {
	// Field is the foreign-key field on the dependent record.
	Field string

	// Target is the directly referenced target entity. Nil for
	// external-identifier relationships.
	Target backend.Entity

	// TargetType, ExternalField and ExternalValue identify the target of
	// an external-identifier relationship. Unused when Target is set.
	TargetType    string
	ExternalField string
	ExternalValue any
}

// Record wraps an entity with field overrides, relationship declarations and
// an optional mock tag. Use it when a plain Entity is not enough:
//
//	uow.RegisterInsert(
//		unitwork.NewRecord(contact).
//			Set("Status", "Active").
//			RelateTo("account_id", account),
//	)
//
// A Record is a declaration, not a live handle; it is consumed at
// registration time.
type Record struct {
	entity    backend.Entity
	overrides []FieldOverride
	relations []Relationship
	mockTag   string
}

// NewRecord wraps the given entity.
func NewRecord(e backend.Entity) *Record {
	return &Record{entity: e}
}

// Set declares a field override applied when the record's bucket is
// dispatched. Later calls for the same field win.
func (r *Record) Set(field string, value any) *Record {
	r.overrides = append(r.overrides, FieldOverride{Field: field, Value: value})
	return r
}

// RelateTo declares that field must carry the identifier of target, an
// entity registered (or to be registered) in the same unit of work.
func (r *Record) RelateTo(field string, target backend.Entity) *Record {
	r.relations = append(r.relations, Relationship{Field: field, Target: target})
	return r
}

// RelateVia declares that field must carry the identifier of the record of
// targetType whose external-identifier field equals value. The target must
// be registered as a keyed upsert in the same unit of work; its identifier
// is not trusted until the upsert completes.
func (r *Record) RelateVia(field, targetType, externalField string, value any) *Record {
	r.relations = append(r.relations, Relationship{
		Field:         field,
		TargetType:    targetType,
		ExternalField: externalField,
		ExternalValue: value,
	})
	return r
}

// MockAs tags the record with a mock identifier. Buckets of records tagged
// with an identifier are matched against the mock rules registered under it.
func (r *Record) MockAs(identifier string) *Record {
	r.mockTag = identifier
	return r
}

// Entity returns the wrapped entity.
func (r *Record) Entity() backend.Entity { return r.entity }
