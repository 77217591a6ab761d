package testutil

import (
	"fmt"
	"sync"
)

// SequenceIDs generates deterministic IDs "id-000001", "id-000002", ...
//
// Replaces the engine's UUIDv7 generator in tests so firing record IDs
// are stable across runs and usable in golden files.
//
// Thread-safety: safe for concurrent use.
type SequenceIDs struct {
	mu     sync.Mutex
	prefix string
	seq    int
}

// NewSequenceIDs creates a generator with the given prefix. An empty
// prefix defaults to "id".
func NewSequenceIDs(prefix string) *SequenceIDs {
	if prefix == "" {
		prefix = "id"
	}
	return &SequenceIDs{prefix: prefix}
}

// NewID returns the next ID in sequence. Implements engine.IDGenerator.
func (g *SequenceIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("%s-%06d", g.prefix, g.seq)
}

// Reset restarts the sequence, for scenario reruns.
func (g *SequenceIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq = 0
}
