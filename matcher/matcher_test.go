package matcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openjournal/peerflow/coordination"
)

var testNow = time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)

func testManuscript() coordination.ManuscriptProfile {
	return coordination.ManuscriptProfile{
		ID:           "m-1",
		Title:        "Graph neural networks for protein folding",
		SubjectAreas: []string{"machine-learning", "bioinformatics"},
		Keywords:     []string{"gnn"},
		Urgency:      coordination.UrgencyMedium,
		SubmittedAt:  testNow,
	}
}

func reviewer(id string, expertise []string, quality float64, workload, maxWorkload int, avail coordination.Availability) coordination.ReviewerProfile {
	return coordination.ReviewerProfile{
		ID:              id,
		Expertise:       expertise,
		QualityScore:    quality,
		CurrentWorkload: workload,
		MaxWorkload:     maxWorkload,
		Availability:    avail,
	}
}

func TestNew_WeightValidation(t *testing.T) {
	tests := []struct {
		name    string
		weights Weights
		wantErr bool
	}{
		{"defaults", DefaultWeights(), false},
		{"sum 0.8", Weights{Expertise: 0.2, Workload: 0.2, Quality: 0.2, Availability: 0.2}, true},
		{"sum 1.2", Weights{Expertise: 0.5, Workload: 0.3, Quality: 0.2, Availability: 0.2}, true},
		{"within tolerance", Weights{Expertise: 0.35, Workload: 0.25, Quality: 0.2, Availability: 0.2000000001}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.weights)
			if tt.wantErr {
				var verr *coordination.ValidationError
				require.ErrorAs(t, err, &verr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestMatch_CapacityFilterPrecedesRanking(t *testing.T) {
	m, err := New(DefaultWeights())
	require.NoError(t, err)

	// Five candidates; only two have spare capacity. The two with
	// capacity must be chosen regardless of how the others would score.
	candidates := []coordination.ReviewerProfile{
		reviewer("r-full-1", []string{"machine-learning", "bioinformatics", "gnn"}, 5.0, 3, 3, coordination.AvailabilityAvailable),
		reviewer("r-full-2", []string{"machine-learning", "bioinformatics", "gnn"}, 5.0, 4, 4, coordination.AvailabilityAvailable),
		reviewer("r-full-3", []string{"machine-learning", "bioinformatics", "gnn"}, 5.0, 2, 2, coordination.AvailabilityAvailable),
		reviewer("r-free-1", []string{"statistics"}, 2.0, 0, 3, coordination.AvailabilityAvailable),
		reviewer("r-free-2", []string{"databases"}, 1.5, 1, 3, coordination.AvailabilityLimited),
	}

	got, err := m.Match(testManuscript(), candidates, 2, nil, testNow)
	require.NoError(t, err)
	require.Len(t, got, 2)

	ids := []string{got[0].ReviewerID, got[1].ReviewerID}
	assert.ElementsMatch(t, []string{"r-free-1", "r-free-2"}, ids)
}

func TestMatch_GreedyTopK(t *testing.T) {
	m, err := New(DefaultWeights())
	require.NoError(t, err)

	// Expertise overlap drives the score apart: roughly 0.9 / 0.7 / 0.4
	// tiers once weighted.
	candidates := []coordination.ReviewerProfile{
		reviewer("r-high", []string{"machine-learning", "bioinformatics", "gnn"}, 5.0, 0, 5, coordination.AvailabilityAvailable),
		reviewer("r-mid", []string{"machine-learning"}, 4.0, 1, 5, coordination.AvailabilityAvailable),
		reviewer("r-low", []string{"geology"}, 2.0, 3, 5, coordination.AvailabilityLimited),
	}

	got, err := m.Match(testManuscript(), candidates, 2, nil, testNow)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "r-high", got[0].ReviewerID)
	assert.Equal(t, "r-mid", got[1].ReviewerID)

	for _, a := range got {
		assert.Equal(t, coordination.InvitationPending, a.InvitationStatus)
		assert.Equal(t, coordination.ReviewNotStarted, a.ReviewStatus)
		assert.Equal(t, testNow, a.AssignedAt)
	}
}

func TestMatch_DeterministicTieBreak(t *testing.T) {
	m, err := New(DefaultWeights())
	require.NoError(t, err)

	// Identical profiles except id: lexicographic id decides.
	same := func(id string) coordination.ReviewerProfile {
		return reviewer(id, []string{"machine-learning"}, 3.0, 1, 4, coordination.AvailabilityAvailable)
	}
	got, err := m.Match(testManuscript(), []coordination.ReviewerProfile{same("r-b"), same("r-a"), same("r-c")}, 2, nil, testNow)
	require.NoError(t, err)
	assert.Equal(t, "r-a", got[0].ReviewerID)
	assert.Equal(t, "r-b", got[1].ReviewerID)
}

func TestMatch_ExcludeAndInsufficient(t *testing.T) {
	m, err := New(DefaultWeights())
	require.NoError(t, err)

	candidates := []coordination.ReviewerProfile{
		reviewer("r-1", []string{"machine-learning"}, 3.0, 0, 3, coordination.AvailabilityAvailable),
		reviewer("r-2", []string{"machine-learning"}, 3.0, 0, 3, coordination.AvailabilityAvailable),
		reviewer("r-3", []string{"machine-learning"}, 3.0, 0, 3, coordination.AvailabilityUnavailable),
	}
	exclude := map[string]struct{}{"r-1": {}}

	_, err = m.Match(testManuscript(), candidates, 2, exclude, testNow)
	var insufficient *coordination.InsufficientReviewersError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 2, insufficient.Wanted)
	assert.Equal(t, 1, insufficient.Eligible)
}

func TestMatchGlobal_NoOverCommit(t *testing.T) {
	m, err := New(DefaultWeights())
	require.NoError(t, err)

	// One star reviewer with a single free slot, two manuscripts that
	// would both pick them greedily. Global mode gives the slot to one
	// manuscript and a fallback to the other.
	star := reviewer("r-star", []string{"machine-learning", "bioinformatics"}, 5.0, 2, 3, coordination.AvailabilityAvailable)
	backupA := reviewer("r-backup-a", []string{"machine-learning"}, 3.0, 0, 3, coordination.AvailabilityAvailable)
	backupB := reviewer("r-backup-b", []string{"bioinformatics"}, 3.0, 0, 3, coordination.AvailabilityAvailable)

	ms1 := testManuscript()
	ms2 := testManuscript()
	ms2.ID = "m-2"

	got, err := m.MatchGlobal(
		[]coordination.ManuscriptProfile{ms1, ms2},
		[]coordination.ReviewerProfile{star, backupA, backupB},
		1, nil, testNow,
	)
	require.NoError(t, err)
	require.Len(t, got[ms1.ID], 1)
	require.Len(t, got[ms2.ID], 1)

	starCount := 0
	for _, assignments := range got {
		for _, a := range assignments {
			if a.ReviewerID == "r-star" {
				starCount++
			}
		}
	}
	assert.Equal(t, 1, starCount, "the star reviewer's single slot must not be double-booked")
}

func TestMatchGlobal_PerManuscriptUniqueness(t *testing.T) {
	m, err := New(DefaultWeights())
	require.NoError(t, err)

	candidates := []coordination.ReviewerProfile{
		reviewer("r-1", []string{"machine-learning"}, 4.0, 0, 5, coordination.AvailabilityAvailable),
		reviewer("r-2", []string{"bioinformatics"}, 4.0, 0, 5, coordination.AvailabilityAvailable),
		reviewer("r-3", []string{"gnn"}, 4.0, 0, 5, coordination.AvailabilityAvailable),
	}

	got, err := m.MatchGlobal(
		[]coordination.ManuscriptProfile{testManuscript()},
		candidates, 2, nil, testNow,
	)
	require.NoError(t, err)
	require.Len(t, got["m-1"], 2)
	assert.NotEqual(t, got["m-1"][0].ReviewerID, got["m-1"][1].ReviewerID)
}

func TestMatchGlobal_Insufficient(t *testing.T) {
	m, err := New(DefaultWeights())
	require.NoError(t, err)

	candidates := []coordination.ReviewerProfile{
		reviewer("r-1", []string{"machine-learning"}, 4.0, 2, 3, coordination.AvailabilityAvailable),
	}

	ms1 := testManuscript()
	ms2 := testManuscript()
	ms2.ID = "m-2"

	_, err = m.MatchGlobal([]coordination.ManuscriptProfile{ms1, ms2}, candidates, 1, nil, testNow)
	var insufficient *coordination.InsufficientReviewersError
	require.ErrorAs(t, err, &insufficient)
}

func TestPool_ReserveAndRelease(t *testing.T) {
	pool := NewPool()
	pool.Replace([]coordination.ReviewerProfile{
		reviewer("r-1", nil, 3.0, 2, 3, coordination.AvailabilityAvailable),
		reviewer("r-2", nil, 3.0, 3, 3, coordination.AvailabilityAvailable),
	})

	require.NoError(t, pool.Reserve([]string{"r-1"}))
	r, ok := pool.Get("r-1")
	require.True(t, ok)
	assert.Equal(t, 3, r.CurrentWorkload)

	// r-1 is now full; reservation must fail without touching anything.
	err := pool.Reserve([]string{"r-1"})
	var insufficient *coordination.InsufficientReviewersError
	require.ErrorAs(t, err, &insufficient)

	err = pool.Reserve([]string{"r-unknown"})
	var notFound *coordination.NotFoundError
	require.ErrorAs(t, err, &notFound)

	pool.Release("r-1")
	r, _ = pool.Get("r-1")
	assert.Equal(t, 2, r.CurrentWorkload)
}

func TestJaccard(t *testing.T) {
	topics := map[string]struct{}{"a": {}, "b": {}, "c": {}}
	assert.InDelta(t, 0.5, jaccard(topics, []string{"a", "b", "d"}), 1e-9)
	assert.Zero(t, jaccard(topics, nil))
	assert.InDelta(t, 1.0, jaccard(topics, []string{"a", "b", "c"}), 1e-9)
}
