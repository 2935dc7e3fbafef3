// Package scheduler drives the coordination lifecycle: it owns the
// active context store, applies external events and periodic rule
// evaluation under per-manuscript locks, and hands terminal contexts
// to the archive.
package scheduler

import (
	"sync"
	"time"

	"github.com/openjournal/peerflow/coordination"
)

// Store is the keyed arena of active coordination contexts. It is
// owned by the Scheduler; all mutation goes through Acquire/Release so
// at most one mutation is in flight per manuscript while distinct
// manuscripts proceed in parallel.
type Store struct {
	mu       sync.Mutex
	contexts map[string]*coordination.Context
	locks    map[string]chan struct{} // per-manuscript, capacity 1
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		contexts: make(map[string]*coordination.Context),
		locks:    make(map[string]chan struct{}),
	}
}

// Acquire takes the per-manuscript lock, waiting at most timeout.
// Callers hold the lock across one mutation and must Release it. A
// timeout yields ConcurrencyConflictError; the caller may retry.
func (s *Store) Acquire(manuscriptID string, timeout time.Duration) error {
	s.mu.Lock()
	lock, ok := s.locks[manuscriptID]
	if !ok {
		lock = make(chan struct{}, 1)
		s.locks[manuscriptID] = lock
	}
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case lock <- struct{}{}:
		return nil
	case <-timer.C:
		return &coordination.ConcurrencyConflictError{ManuscriptID: manuscriptID}
	}
}

// Release returns the per-manuscript lock.
func (s *Store) Release(manuscriptID string) {
	s.mu.Lock()
	lock, ok := s.locks[manuscriptID]
	s.mu.Unlock()
	if ok {
		select {
		case <-lock:
		default:
		}
	}
}

// Put registers or replaces a context. Callers hold the manuscript
// lock.
func (s *Store) Put(c *coordination.Context) {
	s.mu.Lock()
	s.contexts[c.ManuscriptID] = c
	s.mu.Unlock()
}

// Get returns the live context for mutation under the caller's lock.
func (s *Store) Get(manuscriptID string) (*coordination.Context, bool) {
	s.mu.Lock()
	c, ok := s.contexts[manuscriptID]
	s.mu.Unlock()
	return c, ok
}

// Snapshot returns a clone for read-only callers.
func (s *Store) Snapshot(manuscriptID string) (*coordination.Context, bool) {
	s.mu.Lock()
	c, ok := s.contexts[manuscriptID]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// Remove drops a context from the active set. The per-manuscript lock
// entry stays so late callers still serialize.
func (s *Store) Remove(manuscriptID string) {
	s.mu.Lock()
	delete(s.contexts, manuscriptID)
	s.mu.Unlock()
}

// ActiveIDs lists manuscripts currently under coordination.
func (s *Store) ActiveIDs() []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.contexts))
	for id := range s.contexts {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	return ids
}

// Len reports the number of active contexts.
func (s *Store) Len() int {
	s.mu.Lock()
	n := len(s.contexts)
	s.mu.Unlock()
	return n
}
