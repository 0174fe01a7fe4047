package mocking

import (
	"fmt"

	"github.com/go-openapi/inflect"
	"github.com/google/uuid"
)

// generator namespace for UUIDv5 derivation. Fixed so identifier sequences
// are reproducible across runs.
var namespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("unitwork/mocking"))

// Generator produces deterministic fake identifiers for synthesized
// outcomes. Identifiers are UUIDv5 values derived from the entity type and a
// per-type sequence number, so they are unique within a run and stable
// across runs with the same registration order.
//
// A Generator belongs to one run context; it is not safe for concurrent use.
type Generator struct {
	seq map[string]int
}

// NewGenerator returns a Generator with all sequences at zero.
func NewGenerator() *Generator {
	return &Generator{seq: make(map[string]int)}
}

// Next returns the next fake identifier for the given entity type.
func (g *Generator) Next(entityType string) string {
	key := inflect.Underscore(entityType)
	g.seq[key]++
	return uuid.NewSHA1(namespace, []byte(fmt.Sprintf("%s-%06d", key, g.seq[key]))).String()
}

// Reset rewinds every sequence to zero, so the next run reproduces the same
// identifier series.
func (g *Generator) Reset() {
	g.seq = make(map[string]int)
}
