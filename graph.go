package unitwork

import (
	"fmt"
	"sort"

	"github.com/syssam/unitwork/backend"
)

// nodeStatus tracks a node through execution.
type nodeStatus uint8

const (
	statusPending nodeStatus = iota
	statusResolved
	statusFailed
)

// nodeSpec is the declarative payload of one registration.
type nodeSpec struct {
	entity    backend.Entity
	op        backend.Op
	overrides []FieldOverride
	relations []Relationship
	mockTag   string

	// externalIDField is the upsert match field. Set only for OpUpsert.
	externalIDField string

	// mergeMaster is the surviving record of a merge and duplicates the
	// records folded into it. Set only for OpMerge.
	mergeMaster backend.Entity
	duplicates  []backend.Entity
}

// node is one vertex in the unit-of-work graph. Nodes live in a flat arena
// and reference each other by index, never by pointer.
type node struct {
	handle int
	seq    int
	nodeSpec

	status     nodeStatus
	resolvedID any
}

// describe renders the node identity for error messages.
func (n *node) describe() string {
	if id := n.entity.EntityID(); id != nil {
		return fmt.Sprintf("%s %s(id=%v)", n.op, n.entity.EntityType(), id)
	}
	return fmt.Sprintf("%s %s(seq=%d)", n.op, n.entity.EntityType(), n.seq)
}

// identityKey is the registration identity of a node. Registering the same
// identity twice for the same operation kind is a conflict.
type identityKey struct {
	op  backend.Op
	typ string
	key any
}

// externalKey identifies a keyed-upsert registration by its
// external-identifier field and value.
type externalKey struct {
	typ   string
	field string
	value any
}

// edge is a directed dependency: dependent cannot execute before target.
// field is the foreign-key field populated with target's resolved
// identifier; it is empty for merge-master binding edges.
type edge struct {
	dependent int
	target    int
	field     string
}

// graph is the full node/edge set of one unit of work: a flat arena of
// nodes with edges as index pairs.
type graph struct {
	combine bool

	nodes      []*node
	index      map[identityKey]int
	byEntity   map[backend.Entity]int
	byExternal map[externalKey]int
	edges      []edge
}

func newGraph(combineOnDuplicate bool) *graph {
	return &graph{
		combine:    combineOnDuplicate,
		index:      make(map[identityKey]int),
		byEntity:   make(map[backend.Entity]int),
		byExternal: make(map[externalKey]int),
	}
}

// add registers one node, enforcing identity uniqueness (or folding the
// registration into the existing node when combine-on-duplicate is on).
func (g *graph) add(spec nodeSpec) error {
	key, err := g.identity(spec)
	if err != nil {
		return err
	}
	if h, ok := g.index[key]; ok {
		if !g.combine {
			return &DuplicateRegistrationError{Op: spec.op, EntityType: key.typ, Key: key.key}
		}
		g.fold(g.nodes[h], spec)
		return nil
	}

	n := &node{handle: len(g.nodes), seq: len(g.nodes), nodeSpec: spec}
	g.nodes = append(g.nodes, n)
	g.index[key] = n.handle
	if spec.op != backend.OpMerge {
		if _, ok := g.byEntity[spec.entity]; !ok {
			g.byEntity[spec.entity] = n.handle
		}
	}
	if spec.op == backend.OpUpsert {
		v, ok := externalIDValue(spec)
		if !ok {
			return fmt.Errorf("unitwork: upsert %s is missing a value for external-id field %q",
				spec.entity.EntityType(), spec.externalIDField)
		}
		g.byExternal[externalKey{typ: key.typ, field: spec.externalIDField, value: v}] = n.handle
	}
	return nil
}

// identity computes the registration identity of a spec: object identity for
// un-persisted inserts and publishes, primary key for update/delete/undelete,
// external-id value for keyed upserts, master identity for merges.
func (g *graph) identity(spec nodeSpec) (identityKey, error) {
	typ := spec.entity.EntityType()
	switch spec.op {
	case backend.OpInsert, backend.OpPublish:
		return identityKey{op: spec.op, typ: typ, key: spec.entity}, nil
	case backend.OpUpdate, backend.OpDelete, backend.OpUndelete:
		id := spec.entity.EntityID()
		if id == nil {
			return identityKey{}, fmt.Errorf("unitwork: %s %s requires an identifier", spec.op, typ)
		}
		return identityKey{op: spec.op, typ: typ, key: id}, nil
	case backend.OpUpsert:
		v, ok := externalIDValue(spec)
		if !ok {
			return identityKey{}, fmt.Errorf("unitwork: upsert %s is missing a value for external-id field %q",
				typ, spec.externalIDField)
		}
		return identityKey{op: spec.op, typ: typ, key: [2]any{spec.externalIDField, v}}, nil
	case backend.OpMerge:
		if id := spec.mergeMaster.EntityID(); id != nil {
			return identityKey{op: spec.op, typ: typ, key: id}, nil
		}
		return identityKey{op: spec.op, typ: typ, key: spec.mergeMaster}, nil
	default:
		return identityKey{}, fmt.Errorf("unitwork: unsupported operation %s", spec.op)
	}
}

// externalIDValue resolves the upsert match value, honoring overrides
// (last-wins) before the entity's own field state.
func externalIDValue(spec nodeSpec) (any, bool) {
	for i := len(spec.overrides) - 1; i >= 0; i-- {
		if spec.overrides[i].Field == spec.externalIDField {
			return spec.overrides[i].Value, true
		}
	}
	return spec.entity.Field(spec.externalIDField)
}

// fold merges a duplicate registration into the existing node: field
// overrides apply last-registration-wins, everything else is a union.
func (g *graph) fold(n *node, spec nodeSpec) {
	if spec.entity != n.entity {
		// The later registration's own field state joins the override
		// list ahead of its explicit overrides. Sorted for determinism.
		fields := spec.entity.Fields()
		names := make([]string, 0, len(fields))
		for name := range fields {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			n.overrides = append(n.overrides, FieldOverride{Field: name, Value: fields[name]})
		}
	}
	n.overrides = append(n.overrides, spec.overrides...)
	n.relations = append(n.relations, spec.relations...)
	n.duplicates = append(n.duplicates, spec.duplicates...)
	if spec.mockTag != "" {
		n.mockTag = spec.mockTag
	}
}

// resolveEdges turns relationship declarations into arena edges. Every
// target must be a node of this unit of work; a miss fails fast before any
// backend call.
func (g *graph) resolveEdges() error {
	g.edges = g.edges[:0]
	for _, n := range g.nodes {
		for i := range n.relations {
			rel := &n.relations[i]
			var (
				target int
				ok     bool
			)
			switch {
			case rel.Target != nil:
				target, ok = g.byEntity[rel.Target]
				if !ok {
					return &UnknownTargetError{EntityType: rel.Target.EntityType()}
				}
			default:
				target, ok = g.byExternal[externalKey{typ: rel.TargetType, field: rel.ExternalField, value: rel.ExternalValue}]
				if !ok {
					return &UnknownTargetError{EntityType: rel.TargetType, Field: rel.ExternalField, Value: rel.ExternalValue}
				}
			}
			g.edges = append(g.edges, edge{dependent: n.handle, target: target, field: rel.Field})
		}
		// A merge whose master is itself registered must wait for the
		// master's own operation to resolve its identifier.
		if n.op == backend.OpMerge {
			if target, ok := g.byEntity[n.mergeMaster]; ok && target != n.handle {
				g.edges = append(g.edges, edge{dependent: n.handle, target: target})
			}
		}
	}
	return nil
}

// targetOf returns the node a relationship resolved to. Valid only after
// resolveEdges.
func (g *graph) targetOf(n *node, rel *Relationship) *node {
	if rel.Target != nil {
		return g.nodes[g.byEntity[rel.Target]]
	}
	return g.nodes[g.byExternal[externalKey{typ: rel.TargetType, field: rel.ExternalField, value: rel.ExternalValue}]]
}
