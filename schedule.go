package unitwork

import (
	"sort"

	"github.com/syssam/unitwork/backend"
)

// bucket is a group of same-layer nodes sharing identical execution
// characteristics, executed in a single backend call.
type bucket struct {
	layer      int
	op         backend.Op
	entityType string

	// externalIDField is set for upsert buckets, mockTag for buckets
	// matched against mock rules. Merge buckets are split per distinct
	// master identity, so they hold exactly one node.
	externalIDField string
	mockTag         string

	nodes []*node
}

// bucketKey groups nodes within one layer.
type bucketKey struct {
	op              backend.Op
	typ             string
	externalIDField string
	mergeKey        any
	mockTag         string
}

// schedule computes the ordered bucket sequence for the graph using Kahn's
// algorithm: repeatedly extract the zero-in-degree layer, then group each
// layer by bucket key. The output length is the minimal number of backend
// calls for the graph. Cycles and unknown relationship targets fail here,
// before any backend call.
func (g *graph) schedule() ([]*bucket, error) {
	if err := g.resolveEdges(); err != nil {
		return nil, err
	}

	indegree := make([]int, len(g.nodes))
	dependents := make([][]edge, len(g.nodes))
	for _, e := range g.edges {
		indegree[e.dependent]++
		dependents[e.target] = append(dependents[e.target], e)
	}

	var (
		buckets   []*bucket
		scheduled int
	)
	current := make([]*node, 0, len(g.nodes))
	for _, n := range g.nodes {
		if indegree[n.handle] == 0 {
			current = append(current, n)
		}
	}

	for layer := 0; len(current) > 0; layer++ {
		sort.Slice(current, func(i, j int) bool { return current[i].seq < current[j].seq })
		buckets = append(buckets, g.bucketize(layer, current)...)
		scheduled += len(current)

		var next []*node
		for _, n := range current {
			for _, e := range dependents[n.handle] {
				indegree[e.dependent]--
				if indegree[e.dependent] == 0 {
					next = append(next, g.nodes[e.dependent])
				}
			}
		}
		current = next
	}

	if scheduled < len(g.nodes) {
		var stuck []string
		for _, n := range g.nodes {
			if indegree[n.handle] > 0 {
				stuck = append(stuck, n.describe())
			}
		}
		return nil, &CyclicDependencyError{Nodes: stuck}
	}
	return buckets, nil
}

// bucketize groups one layer's nodes by bucket key. Bucket order within the
// layer follows the earliest member's registration sequence, so schedules
// are deterministic.
func (g *graph) bucketize(layer int, nodes []*node) []*bucket {
	byKey := make(map[bucketKey]*bucket)
	var ordered []*bucket
	for _, n := range nodes {
		key := bucketKey{
			op:              n.op,
			typ:             n.entity.EntityType(),
			externalIDField: n.externalIDField,
			mockTag:         n.mockTag,
		}
		if n.op == backend.OpMerge {
			key.mergeKey = n.handle
		}
		b, ok := byKey[key]
		if !ok {
			b = &bucket{
				layer:           layer,
				op:              n.op,
				entityType:      key.typ,
				externalIDField: n.externalIDField,
				mockTag:         n.mockTag,
			}
			byKey[key] = b
			ordered = append(ordered, b)
		}
		b.nodes = append(b.nodes, n)
	}
	return ordered
}
