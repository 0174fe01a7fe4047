// Package mocking provides record-level interception of backend calls, so
// code built on a unit of work can be tested without touching the real
// persistence layer.
//
// Rules are registered under a caller-supplied identifier before execution
// and consulted per bucket at dispatch time. A matching rule synthesizes
// outcomes instead of calling the backend: successes with deterministic fake
// identifiers, or injected failures. Buckets whose identifier has no
// matching rule fall through to the real backend, even within the same
// commit.
package mocking

import (
	"github.com/syssam/unitwork/backend"
)

// Registry holds the mock rules of one unit of work, keyed by identifier.
// Rules are registered before execution and never mutated during it.
type Registry struct {
	rules map[string][]*Rule
}

// NewRegistry returns an empty rule registry.
func NewRegistry() *Registry {
	return &Registry{rules: make(map[string][]*Rule)}
}

// Register adds a new rule under the given identifier and returns a builder
// to scope it. A rule with no scoping call matches nothing.
func (r *Registry) Register(identifier string) *RuleBuilder {
	rule := &Rule{identifier: identifier, entityTypes: make(map[string]struct{})}
	r.rules[identifier] = append(r.rules[identifier], rule)
	return &RuleBuilder{rule: rule}
}

// Match returns the first rule under identifier matching the given operation
// kind and entity type, or nil when the bucket should reach the real backend.
func (r *Registry) Match(identifier string, op backend.Op, entityType string) *Rule {
	for _, rule := range r.rules[identifier] {
		if rule.matches(op, entityType) {
			return rule
		}
	}
	return nil
}

// Rule is one interception rule: an operation-kind filter, an entity-type
// filter, and a failure-injection flag.
type Rule struct {
	identifier  string
	allOps      bool
	ops         backend.Op
	entityTypes map[string]struct{}
	fail        bool
}

func (r *Rule) matches(op backend.Op, entityType string) bool {
	if !r.allOps && !op.Is(r.ops) {
		return false
	}
	if len(r.entityTypes) > 0 {
		if _, ok := r.entityTypes[entityType]; !ok {
			return false
		}
	}
	return true
}

// Synthesize produces one outcome per entity without calling the backend:
// unique fake identifiers on the success path, a structured injected error on
// the failure path.
func (r *Rule) Synthesize(entities []backend.Entity, gen *Generator) []backend.RecordOutcome {
	outcomes := make([]backend.RecordOutcome, len(entities))
	for i, e := range entities {
		if r.fail {
			outcomes[i] = backend.Failure("unitwork/mocking: injected failure", StatusInjectedFailure)
			continue
		}
		outcomes[i] = backend.Success(gen.Next(e.EntityType()))
	}
	return outcomes
}

// StatusInjectedFailure is the status code carried by failures synthesized
// through Rule.InjectFailure.
const StatusInjectedFailure = "MOCK_INJECTED_FAILURE"

// RuleBuilder scopes a registered rule. All methods return the builder for
// chaining:
//
//	uow.RegisterMock("provisioning").
//		ForOperation(unitwork.OpInsert).
//		ForEntityType("Account")
type RuleBuilder struct {
	rule *Rule
}

// ForAllOperations makes the rule match every operation kind.
func (b *RuleBuilder) ForAllOperations() *RuleBuilder {
	b.rule.allOps = true
	return b
}

// ForOperation adds an operation kind to the rule's filter. May be called
// multiple times.
func (b *RuleBuilder) ForOperation(op backend.Op) *RuleBuilder {
	b.rule.ops |= op
	return b
}

// ForEntityType adds an entity type to the rule's filter. May be called
// multiple times; an empty filter matches every type.
func (b *RuleBuilder) ForEntityType(entityType string) *RuleBuilder {
	b.rule.entityTypes[entityType] = struct{}{}
	return b
}

// InjectFailure makes matched buckets synthesize failed outcomes instead of
// successes.
func (b *RuleBuilder) InjectFailure() *RuleBuilder {
	b.rule.fail = true
	return b
}
