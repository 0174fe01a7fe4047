// Package unitwork batches heterogeneous record operations into a single
// logical transaction against a pluggable backend. Registrations build a
// dependency graph, commit computes a minimal dispatch schedule with a
// topological layering, and the outcome is reported as a hierarchical
// Result tree.
package unitwork

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/syssam/unitwork/backend"
	"github.com/syssam/unitwork/mocking"
)

// uowState is the lifecycle of a unit of work. An instance commits at most
// once; after a commit attempt it only serves result lookups.
type uowState uint8

const (
	stateIdle uowState = iota
	stateRunning
	stateCommitted
	stateAborted
)

// UnitOfWork accumulates record operations and commits them in as few
// backend calls as dependencies allow. It is not safe for concurrent use;
// use one instance per logical transaction.
type UnitOfWork struct {
	backend backend.Backend
	opts    Options
	log     *zap.Logger

	graph *graph
	mocks *mocking.Registry
	gen   *mocking.Generator

	state       uowState
	mockResults map[string]*Result
}

// New creates a unit of work committing against the given backend.
func New(b backend.Backend, opts ...Option) *UnitOfWork {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	log := o.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &UnitOfWork{
		backend:     b,
		opts:        o,
		log:         log,
		graph:       newGraph(o.CombineOnDuplicate),
		mocks:       mocking.NewRegistry(),
		gen:         mocking.NewGenerator(),
		mockResults: make(map[string]*Result),
	}
}

// RegisterInsert schedules records for creation. Records accepts Entity
// values or *Record wrappers carrying overrides and relationships.
func (u *UnitOfWork) RegisterInsert(records ...any) error {
	return u.register(backend.OpInsert, "", records)
}

// RegisterUpdate schedules records for modification. Each record must carry
// an identifier.
func (u *UnitOfWork) RegisterUpdate(records ...any) error {
	return u.register(backend.OpUpdate, "", records)
}

// RegisterUpsert schedules records for create-or-update matching on the
// given external-identifier field. Each record must carry a value for it.
func (u *UnitOfWork) RegisterUpsert(externalIDField string, records ...any) error {
	if externalIDField == "" {
		return fmt.Errorf("unitwork: upsert requires an external-id field")
	}
	return u.register(backend.OpUpsert, externalIDField, records)
}

// RegisterDelete schedules records for soft deletion. Each record must
// carry an identifier.
func (u *UnitOfWork) RegisterDelete(records ...any) error {
	return u.register(backend.OpDelete, "", records)
}

// RegisterUndelete schedules soft-deleted records for restoration. Each
// record must carry an identifier.
func (u *UnitOfWork) RegisterUndelete(records ...any) error {
	return u.register(backend.OpUndelete, "", records)
}

// RegisterPublish schedules event records for emission.
func (u *UnitOfWork) RegisterPublish(records ...any) error {
	return u.register(backend.OpPublish, "", records)
}

// RegisterMerge schedules duplicates to be folded into master. When master
// is itself registered in this unit of work, the merge waits for it.
func (u *UnitOfWork) RegisterMerge(master backend.Entity, duplicates ...backend.Entity) error {
	if err := u.writable(); err != nil {
		return err
	}
	if len(duplicates) == 0 {
		return fmt.Errorf("unitwork: merge of %s requires at least one duplicate", master.EntityType())
	}
	return u.graph.add(nodeSpec{
		entity:      master,
		op:          backend.OpMerge,
		mergeMaster: master,
		duplicates:  duplicates,
	})
}

func (u *UnitOfWork) register(op backend.Op, externalIDField string, records []any) error {
	if err := u.writable(); err != nil {
		return err
	}
	for _, raw := range records {
		spec := nodeSpec{op: op, externalIDField: externalIDField}
		switch v := raw.(type) {
		case *Record:
			spec.entity = v.entity
			spec.overrides = v.overrides
			spec.relations = v.relations
			spec.mockTag = v.mockTag
		case backend.Entity:
			spec.entity = v
		default:
			return fmt.Errorf("unitwork: cannot register %T, want an Entity or a *Record", raw)
		}
		if err := u.graph.add(spec); err != nil {
			return err
		}
	}
	return nil
}

func (u *UnitOfWork) writable() error {
	switch u.state {
	case stateRunning:
		return ErrRunning
	case stateCommitted, stateAborted:
		return ErrCommitted
	}
	return nil
}

// RegisterMock declares an interception rule for records tagged with the
// identifier. The returned builder narrows the rule; an unconfigured rule
// intercepts nothing.
func (u *UnitOfWork) RegisterMock(identifier string) *mocking.RuleBuilder {
	return u.mocks.Register(identifier)
}

// FetchMockResult returns the Result of records intercepted under the
// identifier during the last commit, or nil when nothing matched.
func (u *UnitOfWork) FetchMockResult(identifier string) *Result {
	return u.mockResults[identifier]
}

type commitMode uint8

const (
	commitPlain commitMode = iota
	commitSavepoint
	commitDryRun
)

// Commit executes all registered operations. On a record failure the
// commit stops (unless AllowPartialSuccess is set) and returns the
// accumulated Result wrapped in a CommitError; no rollback is attempted.
func (u *UnitOfWork) Commit(ctx context.Context) (*Result, error) {
	return u.commit(ctx, commitPlain)
}

// TransactionalCommit executes all registered operations under a backend
// savepoint, rolling the savepoint back when the commit aborts. It
// requires a Transactional backend and conflicts with AllowPartialSuccess.
func (u *UnitOfWork) TransactionalCommit(ctx context.Context) (*Result, error) {
	return u.commit(ctx, commitSavepoint)
}

// DryRun executes all registered operations under a backend savepoint and
// rolls it back unconditionally, reporting the Result the commit would
// have produced. It requires a Transactional backend.
func (u *UnitOfWork) DryRun(ctx context.Context) (*Result, error) {
	return u.commit(ctx, commitDryRun)
}

func (u *UnitOfWork) commit(ctx context.Context, mode commitMode) (*Result, error) {
	if err := u.writable(); err != nil {
		return nil, err
	}

	var tx backend.Transactional
	if mode != commitPlain {
		if mode == commitSavepoint && u.opts.AllowPartialSuccess {
			return nil, &ConfigurationConflictError{
				Reason: "allow-partial-success suppresses the failure that would trigger a savepoint rollback",
			}
		}
		var ok bool
		if tx, ok = u.backend.(backend.Transactional); !ok {
			return nil, &ConfigurationConflictError{
				Reason: fmt.Sprintf("backend %T does not support savepoints", u.backend),
			}
		}
	}

	// Structural problems surface before any backend call is made.
	buckets, err := u.graph.schedule()
	if err != nil {
		u.state = stateAborted
		return nil, err
	}
	u.state = stateRunning
	u.log.Debug("commit scheduled",
		zap.Int("registrations", len(u.graph.nodes)),
		zap.Int("buckets", len(buckets)))

	var sp backend.Savepoint
	if tx != nil {
		if sp, err = tx.Savepoint(ctx); err != nil {
			u.state = stateAborted
			return nil, err
		}
	}

	eng := &engine{backend: u.backend, opts: u.opts, log: u.log, mocks: u.mocks, gen: u.gen}
	res, mockResults, runErr := eng.execute(ctx, u.graph, buckets)
	u.mockResults = mockResults

	if mode == commitDryRun {
		u.state = stateCommitted
		if err := sp.Rollback(ctx); err != nil {
			u.state = stateAborted
			return res, &RollbackError{Err: err, Cause: runErr}
		}
		if runErr != nil {
			u.state = stateAborted
			return res, &CommitError{Result: res, Err: runErr}
		}
		return res, nil
	}

	if runErr != nil {
		u.state = stateAborted
		if sp != nil {
			if err := sp.Rollback(ctx); err != nil {
				return res, &RollbackError{Err: err, Cause: runErr}
			}
		}
		return res, &CommitError{Result: res, Err: runErr}
	}
	if sp != nil {
		if err := sp.Release(ctx); err != nil {
			u.state = stateAborted
			return res, err
		}
	}
	u.state = stateCommitted
	return res, nil
}
