// Package store holds live request contexts keyed by request id. Each
// context is mutated only by the single pipeline runner driving it; the
// store provides isolation between concurrently processed requests and
// eviction once a terminal state is reached.
package store

import (
	"fmt"
	"sync"

	"github.com/statdevs/leadmesh/core"
)

// InMemoryStore is a volatile context store backed by a process-local map.
// It is safe for concurrent access.
type InMemoryStore struct {
	mu       sync.RWMutex
	contexts map[string]*core.RequestContext
}

// NewInMemoryStore constructs an empty in-memory context store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{contexts: make(map[string]*core.RequestContext)}
}

// Create allocates a new request context in the Classifying state and
// registers it under its generated id.
func (s *InMemoryStore) Create(lead core.Lead, signals core.Signals) *core.RequestContext {
	rc := core.NewRequestContext(lead, signals)
	s.mu.Lock()
	s.contexts[rc.ID] = rc
	s.mu.Unlock()
	return rc
}

// Get returns the live context for the request id. The returned pointer is
// shared with the owning runner; callers outside the runner should use
// Snapshot instead.
func (s *InMemoryStore) Get(id string) (*core.RequestContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rc, ok := s.contexts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrContextNotFound, id)
	}
	return rc, nil
}

// Snapshot returns a deep copy of the context safe for external inspection.
func (s *InMemoryStore) Snapshot(id string) (*core.RequestContext, error) {
	rc, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return rc.Clone(), nil
}

// Evict removes a context from the live set, returning it for archival or
// report compilation. Eviction of an unknown id is an error.
func (s *InMemoryStore) Evict(id string) (*core.RequestContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rc, ok := s.contexts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrContextNotFound, id)
	}
	delete(s.contexts, id)
	return rc, nil
}

// Len returns the number of live contexts.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.contexts)
}

// IDs returns the ids of all live contexts.
func (s *InMemoryStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.contexts))
	for id := range s.contexts {
		ids = append(ids, id)
	}
	return ids
}
