package matcher

import (
	"sort"
	"sync"

	"github.com/openjournal/peerflow/coordination"
)

// Pool holds the current reviewer snapshots. Scoring works on copies
// and needs no lock; only the check-and-increment of a reviewer's
// workload counter takes the pool lock, held just for that operation.
type Pool struct {
	mu        sync.Mutex
	reviewers map[string]coordination.ReviewerProfile
}

// NewPool creates an empty reviewer pool.
func NewPool() *Pool {
	return &Pool{reviewers: make(map[string]coordination.ReviewerProfile)}
}

// Replace swaps in a fresh snapshot from the external directory.
func (p *Pool) Replace(reviewers []coordination.ReviewerProfile) {
	next := make(map[string]coordination.ReviewerProfile, len(reviewers))
	for _, r := range reviewers {
		next[r.ID] = r
	}
	p.mu.Lock()
	p.reviewers = next
	p.mu.Unlock()
}

// Snapshot returns copies of all reviewers, ordered by id.
func (p *Pool) Snapshot() []coordination.ReviewerProfile {
	p.mu.Lock()
	out := make([]coordination.ReviewerProfile, 0, len(p.reviewers))
	for _, r := range p.reviewers {
		out = append(out, r)
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns one reviewer snapshot.
func (p *Pool) Get(id string) (coordination.ReviewerProfile, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.reviewers[id]
	return r, ok
}

// Reserve increments the workload counters for the given reviewers,
// checking capacity first. All-or-nothing: if any reviewer is unknown
// or already at capacity, nothing is reserved and the first offender
// is reported.
func (p *Pool) Reserve(ids []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, id := range ids {
		r, ok := p.reviewers[id]
		if !ok {
			return &coordination.NotFoundError{Kind: "reviewer", ID: id}
		}
		if r.WorkloadRatio() >= 1.0 {
			return &coordination.InsufficientReviewersError{Wanted: len(ids), Eligible: 0}
		}
	}

	for _, id := range ids {
		r := p.reviewers[id]
		r.CurrentWorkload++
		p.reviewers[id] = r
	}
	return nil
}

// Release decrements a reviewer's workload counter, used when an
// assignment is replaced or a coordination reaches a terminal stage.
func (p *Pool) Release(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.reviewers[id]
	if !ok {
		return
	}
	if r.CurrentWorkload > 0 {
		r.CurrentWorkload--
	}
	p.reviewers[id] = r
}
