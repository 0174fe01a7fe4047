// Package backend defines the contract between the unit-of-work engine and
// the persistence layer that carries out record operations.
//
// The engine hands a Backend one bucket at a time: an ordered list of
// entities that all request the same operation kind and share the same
// execution characteristics. The backend must return exactly one
// RecordOutcome per input entity, in input order. What makes an individual
// record succeed or fail is backend business logic and out of scope here.
//
// Backends that can undo work expose the optional Transactional capability;
// the unit of work uses it to implement savepoint-backed commits and dry
// runs.
package backend

import (
	"context"
	"fmt"
	"strings"
)

// Op is the operation kind requested for a registered record. Ops are bit
// flags, so a mask of several kinds can be matched at once with Op.Is.
type Op uint8

// Operation kinds supported by the unit of work.
const (
	OpInsert Op = 1 << iota
	OpUpdate
	OpUpsert
	OpDelete
	OpUndelete
	OpMerge
	OpPublish
)

// Is reports whether op matches any kind in the given mask.
func (op Op) Is(mask Op) bool {
	return op&mask != 0
}

// String returns the operation name.
func (op Op) String() string {
	switch op {
	case OpInsert:
		return "OpInsert"
	case OpUpdate:
		return "OpUpdate"
	case OpUpsert:
		return "OpUpsert"
	case OpDelete:
		return "OpDelete"
	case OpUndelete:
		return "OpUndelete"
	case OpMerge:
		return "OpMerge"
	case OpPublish:
		return "OpPublish"
	default:
		return fmt.Sprintf("Op(%d)", uint8(op))
	}
}

// Entity is the minimal contract the unit of work requires of a managed
// record: a stable type name, a settable identifier, and named field access.
type Entity interface {
	// EntityType returns the record's type name (e.g. "Account").
	EntityType() string

	// EntityID returns the record's identifier, or nil if the record has
	// not been persisted yet.
	EntityID() any

	// SetEntityID sets the record's identifier. Called by the engine once
	// the backend (or a mock rule) resolves the record.
	SetEntityID(id any)

	// Field returns the value of the named field. The boolean reports
	// whether the field is set.
	Field(name string) (any, bool)

	// SetField sets the value of the named field.
	SetField(name string, value any)

	// Fields returns a copy of all set fields.
	Fields() map[string]any
}

// ExecOptions carries the per-call options of a single Execute invocation.
type ExecOptions struct {
	// AllowPartialSuccess indicates that individual record failures should
	// not fail sibling records in the same call.
	AllowPartialSuccess bool

	// ExternalIDField names the external-identifier field keyed upserts
	// match on. Set only for OpUpsert calls.
	ExternalIDField string

	// MergeMasterID is the identifier of the surviving master record. Set
	// only for OpMerge calls; the entities of the call are the duplicates
	// to fold into the master.
	MergeMasterID any

	// PermissionMode and SharingMode are passed through verbatim from the
	// unit-of-work configuration. Their interpretation is backend-specific.
	PermissionMode string
	SharingMode    string
}

// OutcomeError is one structured failure reported for a record.
type OutcomeError struct {
	// Message is the human-readable failure description.
	Message string

	// StatusCode is a backend-specific machine-readable code
	// (e.g. an SQLSTATE class, or "UNRESOLVED_DEPENDENCY").
	StatusCode string

	// Fields names the offending fields, if known.
	Fields []string
}

// Error returns the error string.
func (e OutcomeError) Error() string {
	if e.StatusCode != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.StatusCode)
	}
	return e.Message
}

// RecordOutcome is the per-entity result of a backend call.
type RecordOutcome struct {
	// ID is the resolved identifier of the record, if the operation
	// produced or confirmed one.
	ID any

	// Success reports whether the operation succeeded for this record.
	Success bool

	// Errors holds the structured failures for this record. Empty on
	// success.
	Errors []OutcomeError
}

// Failure returns a failed RecordOutcome carrying a single error.
func Failure(message, statusCode string, fields ...string) RecordOutcome {
	return RecordOutcome{
		Errors: []OutcomeError{{Message: message, StatusCode: statusCode, Fields: fields}},
	}
}

// Success returns a successful RecordOutcome carrying the resolved id.
func Success(id any) RecordOutcome {
	return RecordOutcome{ID: id, Success: true}
}

// Backend executes one bucket of same-kind record operations.
type Backend interface {
	// Execute performs op on the given entities and returns one outcome
	// per entity, ordered identically to the input. A non-nil error is
	// reserved for call-level failures (connectivity, contract violations);
	// per-record failures are reported through the outcomes.
	Execute(ctx context.Context, entities []Entity, op Op, opts ExecOptions) ([]RecordOutcome, error)
}

// Savepoint is a rollback point acquired from a Transactional backend.
type Savepoint interface {
	// Rollback undoes everything executed since the savepoint was acquired.
	Rollback(ctx context.Context) error

	// Release discards the savepoint, keeping the work executed since it
	// was acquired.
	Release(ctx context.Context) error
}

// Transactional is the optional capability of backends that can undo work.
// The unit of work requires it for savepoint-backed commits and dry runs.
type Transactional interface {
	// Savepoint acquires a new rollback point.
	Savepoint(ctx context.Context) (Savepoint, error)
}

// JoinErrors formats a list of outcome errors into a single string.
// Useful for backends and callers that log a record failure as one line.
func JoinErrors(errs []OutcomeError) string {
	if len(errs) == 0 {
		return ""
	}
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}
