// Package matcher scores and selects reviewers for manuscripts using
// weighted multi-criteria ranking. The scoring phase is pure and
// read-only over reviewer snapshots; workload reservation happens
// separately through the Pool.
package matcher

import (
	"math"
	"sort"
	"time"

	"github.com/openjournal/peerflow/coordination"
)

// weightTolerance is the allowed deviation of the weight sum from 1.0.
const weightTolerance = 1e-6

// Weights configures the contribution of each scoring criterion.
// The four weights must sum to 1.0 within tolerance.
type Weights struct {
	Expertise    float64 `json:"expertise" yaml:"expertise"`
	Workload     float64 `json:"workload" yaml:"workload"`
	Quality      float64 `json:"quality" yaml:"quality"`
	Availability float64 `json:"availability" yaml:"availability"`
}

// DefaultWeights returns the standard criterion weights.
func DefaultWeights() Weights {
	return Weights{
		Expertise:    0.35,
		Workload:     0.25,
		Quality:      0.20,
		Availability: 0.20,
	}
}

// Validate checks that the weights sum to 1.0 within tolerance.
func (w Weights) Validate() error {
	sum := w.Expertise + w.Workload + w.Quality + w.Availability
	if math.Abs(sum-1.0) > weightTolerance {
		return &coordination.ValidationError{
			Field:   "weights",
			Message: "criterion weights must sum to 1.0",
		}
	}
	return nil
}

// Matcher ranks reviewer candidates for manuscripts.
type Matcher struct {
	weights Weights
}

// New creates a matcher, failing on invalid weights.
func New(w Weights) (*Matcher, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &Matcher{weights: w}, nil
}

// Score computes the weighted match score of one reviewer for one
// manuscript. Pure; safe to call concurrently.
func (m *Matcher) Score(ms coordination.ManuscriptProfile, r coordination.ReviewerProfile) float64 {
	expertise := jaccard(ms.Topics(), r.Expertise)
	workload := 1.0 - r.WorkloadRatio()
	quality := r.QualityScore / 5.0

	return m.weights.Expertise*expertise +
		m.weights.Workload*workload +
		m.weights.Quality*quality +
		m.weights.Availability*r.Availability.Score()
}

// scored pairs a candidate with its computed score for ranking.
type scored struct {
	reviewer coordination.ReviewerProfile
	score    float64
}

// Match selects the top k eligible reviewers for a manuscript by
// greedy ranking. exclude lists reviewer ids that must not be
// considered, accumulated across the coordination's history. Fails
// with InsufficientReviewersError when fewer than k candidates survive
// the eligibility filter.
func (m *Matcher) Match(
	ms coordination.ManuscriptProfile,
	candidates []coordination.ReviewerProfile,
	k int,
	exclude map[string]struct{},
	now time.Time,
) ([]coordination.Assignment, error) {
	if k <= 0 {
		return nil, &coordination.ValidationError{Field: "k", Message: "reviewer count must be positive"}
	}

	eligible := filterEligible(candidates, exclude)
	if len(eligible) < k {
		return nil, &coordination.InsufficientReviewersError{Wanted: k, Eligible: len(eligible)}
	}

	ranked := make([]scored, 0, len(eligible))
	for _, r := range eligible {
		ranked = append(ranked, scored{reviewer: r, score: m.Score(ms, r)})
	}
	sortRanked(ranked)

	assignments := make([]coordination.Assignment, 0, k)
	for _, s := range ranked[:k] {
		assignments = append(assignments, newAssignment(s.reviewer.ID, now))
	}
	return assignments, nil
}

// filterEligible drops excluded reviewers, reviewers at or over
// capacity, and unavailable reviewers. Applied before any scoring.
func filterEligible(candidates []coordination.ReviewerProfile, exclude map[string]struct{}) []coordination.ReviewerProfile {
	eligible := make([]coordination.ReviewerProfile, 0, len(candidates))
	for _, r := range candidates {
		if _, skip := exclude[r.ID]; skip {
			continue
		}
		if r.WorkloadRatio() >= 1.0 {
			continue
		}
		if r.Availability == coordination.AvailabilityUnavailable {
			continue
		}
		eligible = append(eligible, r)
	}
	return eligible
}

// sortRanked orders by score descending with a deterministic tie-break:
// higher historical quality, then lower current workload, then
// lexicographic id.
func sortRanked(ranked []scored) {
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.reviewer.QualityScore != b.reviewer.QualityScore {
			return a.reviewer.QualityScore > b.reviewer.QualityScore
		}
		if a.reviewer.CurrentWorkload != b.reviewer.CurrentWorkload {
			return a.reviewer.CurrentWorkload < b.reviewer.CurrentWorkload
		}
		return a.reviewer.ID < b.reviewer.ID
	})
}

func newAssignment(reviewerID string, now time.Time) coordination.Assignment {
	return coordination.Assignment{
		ReviewerID:       reviewerID,
		AssignedAt:       now,
		InvitationStatus: coordination.InvitationPending,
		ReviewStatus:     coordination.ReviewNotStarted,
	}
}

// jaccard computes set similarity between manuscript topics and a
// reviewer's expertise list.
func jaccard(topics map[string]struct{}, expertise []string) float64 {
	if len(topics) == 0 || len(expertise) == 0 {
		return 0
	}

	seen := make(map[string]struct{}, len(expertise))
	intersection := 0
	for _, e := range expertise {
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		if _, ok := topics[e]; ok {
			intersection++
		}
	}

	union := len(topics) + len(seen) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
