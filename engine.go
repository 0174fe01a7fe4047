package unitwork

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/syssam/unitwork/backend"
	"github.com/syssam/unitwork/mocking"
)

// engine dispatches the bucket schedule of one commit. It resolves
// relationship fields as dependencies complete, consults the mock registry
// per bucket, and folds backend outcomes into the Result tree.
type engine struct {
	backend backend.Backend
	opts    Options
	log     *zap.Logger
	mocks   *mocking.Registry
	gen     *mocking.Generator
}

// execute runs the buckets in schedule order. The returned map carries the
// partial Result trees of mocked buckets, keyed by mock identifier. On an
// aborting failure the accumulated Result is returned alongside the error.
func (e *engine) execute(ctx context.Context, g *graph, buckets []*bucket) (*Result, map[string]*Result, error) {
	res := newResult()
	mockResults := make(map[string]*Result)

	for _, b := range buckets {
		entities, nodes := e.materialize(g, b, res)
		if len(nodes) == 0 {
			continue
		}

		var (
			outcomes []backend.RecordOutcome
			mocked   bool
		)
		if b.mockTag != "" {
			if rule := e.mocks.Match(b.mockTag, b.op, b.entityType); rule != nil {
				outcomes = rule.Synthesize(entities, e.gen)
				mocked = true
				e.log.Debug("bucket intercepted by mock rule",
					zap.String("identifier", b.mockTag),
					zap.Stringer("op", b.op),
					zap.String("entity_type", b.entityType),
					zap.Int("records", len(entities)))
			}
		}
		if !mocked {
			opts := backend.ExecOptions{
				AllowPartialSuccess: e.opts.AllowPartialSuccess,
				ExternalIDField:     b.externalIDField,
				PermissionMode:      e.opts.PermissionMode,
				SharingMode:         e.opts.SharingMode,
			}
			if b.op == backend.OpMerge {
				opts.MergeMasterID = e.masterID(g, b.nodes[0])
			}
			e.log.Debug("dispatching bucket",
				zap.Int("layer", b.layer),
				zap.Stringer("op", b.op),
				zap.String("entity_type", b.entityType),
				zap.Int("records", len(entities)))
			var err error
			outcomes, err = e.backend.Execute(ctx, entities, b.op, opts)
			if err != nil {
				return res, mockResults, err
			}
			if len(outcomes) != len(entities) {
				return res, mockResults, fmt.Errorf("unitwork: backend returned %d outcomes for %d records",
					len(outcomes), len(entities))
			}
		}

		failure := e.apply(g, b, nodes, outcomes, mocked, res, mockResults)
		if failure != nil && !e.opts.AllowPartialSuccess {
			return res, mockResults, failure
		}
	}
	return res, mockResults, nil
}

// materialize prepares a bucket's members for dispatch: applies field
// overrides, substitutes foreign-key fields with resolved target
// identifiers, and excludes members whose targets failed or never resolved,
// recording them as UnresolvedDependency failures.
//
// For merge buckets the dispatched entities are the duplicates; for all
// other buckets, the member entities themselves.
func (e *engine) materialize(g *graph, b *bucket, res *Result) ([]backend.Entity, []*node) {
	var (
		entities []backend.Entity
		nodes    []*node
	)
	for _, n := range b.nodes {
		if outErr, blocked := e.blockedBy(g, n); blocked {
			n.status = statusFailed
			res.add(b.op, b.entityType, &RecordResult{entity: n.entity, errors: []RecordError{outErr}})
			continue
		}
		for _, ov := range n.overrides {
			n.entity.SetField(ov.Field, ov.Value)
		}
		for i := range n.relations {
			rel := &n.relations[i]
			n.entity.SetField(rel.Field, g.targetOf(n, rel).resolvedID)
		}
		if b.op == backend.OpMerge {
			entities = append(entities, n.duplicates...)
		} else {
			entities = append(entities, n.entity)
		}
		nodes = append(nodes, n)
	}
	return entities, nodes
}

// blockedBy reports whether any of the node's dependencies failed or never
// resolved, returning the structured error to record for it.
func (e *engine) blockedBy(g *graph, n *node) (RecordError, bool) {
	for i := range n.relations {
		rel := &n.relations[i]
		if t := g.targetOf(n, rel); t.status != statusResolved {
			return RecordError{
				Message:    fmt.Sprintf("relationship %q did not resolve: %s", rel.Field, t.describe()),
				StatusCode: StatusUnresolvedDependency,
				Fields:     []string{rel.Field},
			}, true
		}
	}
	if n.op == backend.OpMerge {
		if h, ok := g.byEntity[n.mergeMaster]; ok {
			if t := g.nodes[h]; t.status != statusResolved {
				return RecordError{
					Message:    fmt.Sprintf("merge master did not resolve: %s", t.describe()),
					StatusCode: StatusUnresolvedDependency,
				}, true
			}
		}
	}
	return RecordError{}, false
}

// masterID resolves the surviving identifier of a merge node: the master's
// own resolved identifier when the master is registered in this unit of
// work, its literal identifier otherwise.
func (e *engine) masterID(g *graph, n *node) any {
	if h, ok := g.byEntity[n.mergeMaster]; ok {
		return g.nodes[h].resolvedID
	}
	return n.mergeMaster.EntityID()
}

// apply writes outcomes back into the nodes and the Result tree, and
// returns the first record failure of the bucket, if any.
func (e *engine) apply(g *graph, b *bucket, nodes []*node, outcomes []backend.RecordOutcome, mocked bool, res *Result, mockResults map[string]*Result) error {
	var failure error
	record := func(n *node, rr *RecordResult) {
		res.add(b.op, b.entityType, rr)
		if mocked {
			e.mockResult(mockResults, b.mockTag).add(b.op, b.entityType, rr)
		}
	}

	if b.op == backend.OpMerge {
		// One node per merge bucket; outcomes are per duplicate.
		n := nodes[0]
		rr := &RecordResult{entity: n.entity, success: true, mocked: mocked}
		for _, out := range outcomes {
			if !out.Success {
				rr.success = false
				rr.errors = append(rr.errors, out.Errors...)
			}
		}
		if rr.success {
			n.status = statusResolved
			n.resolvedID = e.masterID(g, n)
			rr.id = n.resolvedID
		} else {
			n.status = statusFailed
			if failure == nil {
				failure = &BackendOperationError{Op: b.op, EntityType: b.entityType, Outcome: firstError(rr.errors)}
			}
		}
		record(n, rr)
		return failure
	}

	for i, out := range outcomes {
		n := nodes[i]
		rr := &RecordResult{entity: n.entity, id: out.ID, success: out.Success, errors: out.Errors, mocked: mocked}
		if out.Success {
			n.status = statusResolved
			n.resolvedID = out.ID
			if out.ID != nil {
				n.entity.SetEntityID(out.ID)
			}
		} else {
			n.status = statusFailed
			if failure == nil {
				failure = &BackendOperationError{Op: b.op, EntityType: b.entityType, Outcome: firstError(out.Errors)}
			}
		}
		record(n, rr)
	}
	return failure
}

// mockResult returns the Result collecting mocked outcomes for an
// identifier, creating it on first use.
func (e *engine) mockResult(mockResults map[string]*Result, identifier string) *Result {
	r, ok := mockResults[identifier]
	if !ok {
		r = newResult()
		mockResults[identifier] = r
	}
	return r
}

// firstError returns the first structured error, or a generic one when the
// backend reported a failure with no detail.
func firstError(errs []backend.OutcomeError) backend.OutcomeError {
	if len(errs) > 0 {
		return errs[0]
	}
	return backend.OutcomeError{Message: "operation failed"}
}
