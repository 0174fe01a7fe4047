package unitwork

import "github.com/syssam/unitwork/backend"

// Result is the caller-facing outcome tree of one commit. It groups record
// outcomes per (operation kind, entity type) pair, which is coarser than the
// execution bucketing: outcomes of several buckets of the same pair are
// merged into one OperationResult regardless of how many dependency layers
// it took to execute them.
//
// The tree is read-only once the commit returns.
type Result struct {
	ops   []*OperationResult
	byKey map[operationKey]*OperationResult
}

type operationKey struct {
	op  backend.Op
	typ string
}

func newResult() *Result {
	return &Result{byKey: make(map[operationKey]*OperationResult)}
}

// add appends one record outcome, creating the owning OperationResult on
// first use.
func (r *Result) add(op backend.Op, entityType string, rec *RecordResult) {
	key := operationKey{op: op, typ: entityType}
	or, ok := r.byKey[key]
	if !ok {
		or = &OperationResult{op: op, entityType: entityType}
		r.byKey[key] = or
		r.ops = append(r.ops, or)
	}
	or.records = append(or.records, rec)
}

// Operations returns all operation results, ordered by first dispatch.
func (r *Result) Operations() []*OperationResult {
	return r.ops
}

// Operation returns the result for the given (operation kind, entity type)
// pair, or nil if nothing of that pair was attempted.
func (r *Result) Operation(op Op, entityType string) *OperationResult {
	return r.byKey[operationKey{op: op, typ: entityType}]
}

// Records returns every record outcome in the result.
func (r *Result) Records() []*RecordResult {
	var out []*RecordResult
	for _, or := range r.ops {
		out = append(out, or.records...)
	}
	return out
}

// HasFailures reports whether any record in the result failed.
func (r *Result) HasFailures() bool {
	for _, or := range r.ops {
		if or.HasFailures() {
			return true
		}
	}
	return false
}

// Failures returns every failed record outcome in the result.
func (r *Result) Failures() []*RecordResult {
	var out []*RecordResult
	for _, or := range r.ops {
		out = append(out, or.Failures()...)
	}
	return out
}

// OperationResult groups record outcomes of one (operation kind, entity type)
// pair.
type OperationResult struct {
	op         backend.Op
	entityType string
	records    []*RecordResult
}

// Op returns the operation kind.
func (or *OperationResult) Op() Op { return or.op }

// EntityType returns the entity type name.
func (or *OperationResult) EntityType() string { return or.entityType }

// Records returns all record outcomes of the operation.
func (or *OperationResult) Records() []*RecordResult { return or.records }

// Successes returns the successful record outcomes.
func (or *OperationResult) Successes() []*RecordResult {
	var out []*RecordResult
	for _, rr := range or.records {
		if rr.Success() {
			out = append(out, rr)
		}
	}
	return out
}

// Failures returns the failed record outcomes.
func (or *OperationResult) Failures() []*RecordResult {
	var out []*RecordResult
	for _, rr := range or.records {
		if !rr.Success() {
			out = append(out, rr)
		}
	}
	return out
}

// HasFailures reports whether any record of the operation failed.
func (or *OperationResult) HasFailures() bool {
	for _, rr := range or.records {
		if !rr.Success() {
			return true
		}
	}
	return false
}

// RecordResult is the outcome of one registered record.
type RecordResult struct {
	entity  backend.Entity
	id      any
	success bool
	errors  []RecordError
	mocked  bool
}

// Entity returns the registered entity.
func (rr *RecordResult) Entity() Entity { return rr.entity }

// ID returns the resolved identifier, or nil if the record failed or the
// operation produces none.
func (rr *RecordResult) ID() any { return rr.id }

// Success reports whether the record's operation succeeded.
func (rr *RecordResult) Success() bool { return rr.success }

// Errors returns the structured failures of the record. Empty on success.
func (rr *RecordResult) Errors() []RecordError { return rr.errors }

// Mocked reports whether the outcome was synthesized by a mock rule rather
// than the backend.
func (rr *RecordResult) Mocked() bool { return rr.mocked }
