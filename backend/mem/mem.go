// Package mem provides an in-memory backend. It keeps full operation
// semantics, including soft deletion and savepoints, and is the backend of
// choice for tests and examples.
package mem

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/syssam/unitwork/backend"
)

// Event is a published event record.
type Event struct {
	Type   string
	Fields map[string]any
}

// Store is an in-memory backend. Rows live in per-type tables keyed by
// identifier; soft-deleted rows move to a recycle bin so they can be
// restored. Savepoints snapshot the whole store.
//
// Store is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	seq     int
	tables  map[string]map[string]map[string]any
	deleted map[string]map[string]map[string]any
	events  []Event

	// FailHook, when set, can veto a record before it is applied. It is
	// consulted once per record; a non-nil return becomes that record's
	// failure outcome. Intended for tests.
	FailHook func(op backend.Op, e backend.Entity) *backend.OutcomeError
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		tables:  make(map[string]map[string]map[string]any),
		deleted: make(map[string]map[string]map[string]any),
	}
}

var (
	_ backend.Backend       = (*Store)(nil)
	_ backend.Transactional = (*Store)(nil)
)

// Execute applies one operation to a batch of records and reports one
// outcome per record, in order. The batch is applied atomically with
// respect to other callers.
func (s *Store) Execute(_ context.Context, entities []backend.Entity, op backend.Op, opts backend.ExecOptions) ([]backend.RecordOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	outcomes := make([]backend.RecordOutcome, 0, len(entities))
	for _, e := range entities {
		if s.FailHook != nil {
			if oe := s.FailHook(op, e); oe != nil {
				outcomes = append(outcomes, backend.RecordOutcome{Errors: []backend.OutcomeError{*oe}})
				continue
			}
		}
		outcomes = append(outcomes, s.apply(e, op, opts))
	}
	return outcomes, nil
}

func (s *Store) apply(e backend.Entity, op backend.Op, opts backend.ExecOptions) backend.RecordOutcome {
	switch op {
	case backend.OpInsert:
		return s.insert(e)
	case backend.OpUpdate:
		return s.update(e)
	case backend.OpUpsert:
		return s.upsert(e, opts.ExternalIDField)
	case backend.OpDelete:
		return s.delete(e)
	case backend.OpUndelete:
		return s.undelete(e)
	case backend.OpMerge:
		return s.merge(e, opts.MergeMasterID)
	case backend.OpPublish:
		s.events = append(s.events, Event{Type: e.EntityType(), Fields: e.Fields()})
		return backend.Success(nil)
	default:
		return backend.Failure(fmt.Sprintf("unsupported operation %s", op), "UNSUPPORTED_OPERATION")
	}
}

func (s *Store) insert(e backend.Entity) backend.RecordOutcome {
	s.seq++
	id := strconv.Itoa(s.seq)
	s.table(s.tables, e.EntityType())[id] = e.Fields()
	return backend.Success(id)
}

func (s *Store) update(e backend.Entity) backend.RecordOutcome {
	id := idKey(e.EntityID())
	row, ok := s.table(s.tables, e.EntityType())[id]
	if !ok {
		return notFound(e)
	}
	for k, v := range e.Fields() {
		row[k] = v
	}
	return backend.Success(id)
}

func (s *Store) upsert(e backend.Entity, field string) backend.RecordOutcome {
	v, ok := e.Field(field)
	if !ok {
		return backend.Failure(fmt.Sprintf("missing value for external-id field %q", field), "MISSING_EXTERNAL_ID", field)
	}
	t := s.table(s.tables, e.EntityType())
	for id, row := range t {
		if row[field] == v {
			for k, fv := range e.Fields() {
				row[k] = fv
			}
			return backend.Success(id)
		}
	}
	return s.insert(e)
}

func (s *Store) delete(e backend.Entity) backend.RecordOutcome {
	id := idKey(e.EntityID())
	t := s.table(s.tables, e.EntityType())
	row, ok := t[id]
	if !ok {
		return notFound(e)
	}
	delete(t, id)
	s.table(s.deleted, e.EntityType())[id] = row
	return backend.Success(id)
}

func (s *Store) undelete(e backend.Entity) backend.RecordOutcome {
	id := idKey(e.EntityID())
	bin := s.table(s.deleted, e.EntityType())
	row, ok := bin[id]
	if !ok {
		return notFound(e)
	}
	delete(bin, id)
	s.table(s.tables, e.EntityType())[id] = row
	return backend.Success(id)
}

// merge removes a duplicate row; the surviving identifier is reported as
// the outcome identifier.
func (s *Store) merge(dup backend.Entity, masterID any) backend.RecordOutcome {
	id := idKey(dup.EntityID())
	t := s.table(s.tables, dup.EntityType())
	row, ok := t[id]
	if !ok {
		return notFound(dup)
	}
	delete(t, id)
	s.table(s.deleted, dup.EntityType())[id] = row
	return backend.Success(masterID)
}

func (s *Store) table(set map[string]map[string]map[string]any, typ string) map[string]map[string]any {
	t, ok := set[typ]
	if !ok {
		t = make(map[string]map[string]any)
		set[typ] = t
	}
	return t
}

func notFound(e backend.Entity) backend.RecordOutcome {
	return backend.Failure(fmt.Sprintf("%s %v not found", e.EntityType(), e.EntityID()), "NOT_FOUND")
}

func idKey(id any) string { return fmt.Sprint(id) }

// Get returns a live row by type and identifier.
func (s *Store) Get(typ string, id any) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.table(s.tables, typ)[idKey(id)]
	return row, ok
}

// GetDeleted returns a soft-deleted row by type and identifier.
func (s *Store) GetDeleted(typ string, id any) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.table(s.deleted, typ)[idKey(id)]
	return row, ok
}

// Len returns the number of live rows of a type.
func (s *Store) Len(typ string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tables[typ])
}

// Events returns all published events in emission order.
func (s *Store) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// snapshot is the serialized form of the store state.
type snapshot struct {
	Seq     int
	Tables  map[string]map[string]map[string]any
	Deleted map[string]map[string]map[string]any
	Events  []Event
}

// Savepoint captures the store state. Rollback restores it, Release
// discards the snapshot.
func (s *Store) Savepoint(context.Context) (backend.Savepoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := msgpack.Marshal(snapshot{
		Seq:     s.seq,
		Tables:  s.tables,
		Deleted: s.deleted,
		Events:  s.events,
	})
	if err != nil {
		return nil, fmt.Errorf("mem: encoding savepoint: %w", err)
	}
	return &savepoint{store: s, data: data}, nil
}

type savepoint struct {
	store *Store
	data  []byte
}

func (sp *savepoint) Rollback(context.Context) error {
	var snap snapshot
	if err := msgpack.Unmarshal(sp.data, &snap); err != nil {
		return fmt.Errorf("mem: decoding savepoint: %w", err)
	}
	sp.store.mu.Lock()
	defer sp.store.mu.Unlock()
	sp.store.seq = snap.Seq
	sp.store.tables = snap.Tables
	sp.store.deleted = snap.Deleted
	sp.store.events = snap.Events
	if sp.store.tables == nil {
		sp.store.tables = make(map[string]map[string]map[string]any)
	}
	if sp.store.deleted == nil {
		sp.store.deleted = make(map[string]map[string]map[string]any)
	}
	return nil
}

func (sp *savepoint) Release(context.Context) error {
	sp.data = nil
	return nil
}
