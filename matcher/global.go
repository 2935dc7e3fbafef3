package matcher

import (
	"math"
	"sort"
	"time"

	"github.com/openjournal/peerflow/coordination"
)

// MatchGlobal selects reviewers for several manuscripts sharing one
// candidate pool in a single call, maximizing total match weight while
// never over-committing a reviewer beyond remaining capacity. Callers
// opt into this mode explicitly; Match remains the default.
//
// The k slots per manuscript are filled in rounds. Each round solves a
// one-to-one assignment problem (Hungarian algorithm) between
// manuscripts and the reviewers still eligible for them, so within a
// round no reviewer is given to two manuscripts, and across rounds
// capacity and per-manuscript uniqueness are enforced by shrinking the
// eligible set.
//
// Fails with InsufficientReviewersError if any manuscript cannot reach
// k assignments; no partial result is returned.
func (m *Matcher) MatchGlobal(
	manuscripts []coordination.ManuscriptProfile,
	candidates []coordination.ReviewerProfile,
	k int,
	exclude map[string]map[string]struct{},
	now time.Time,
) (map[string][]coordination.Assignment, error) {
	if k <= 0 {
		return nil, &coordination.ValidationError{Field: "k", Message: "reviewer count must be positive"}
	}
	if len(manuscripts) == 0 {
		return map[string][]coordination.Assignment{}, nil
	}

	// Remaining capacity per reviewer, shared across manuscripts.
	remaining := make(map[string]int, len(candidates))
	byID := make(map[string]coordination.ReviewerProfile, len(candidates))
	for _, r := range candidates {
		if r.Availability == coordination.AvailabilityUnavailable {
			continue
		}
		slots := r.MaxWorkload - r.CurrentWorkload
		if slots <= 0 {
			continue
		}
		remaining[r.ID] = slots
		byID[r.ID] = r
	}

	// taken tracks reviewers already placed on each manuscript.
	taken := make(map[string]map[string]struct{}, len(manuscripts))
	result := make(map[string][]coordination.Assignment, len(manuscripts))
	for _, ms := range manuscripts {
		taken[ms.ID] = make(map[string]struct{})
		result[ms.ID] = make([]coordination.Assignment, 0, k)
	}

	// Stable reviewer ordering keeps the matrix, and therefore the
	// solution, deterministic.
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for round := 0; round < k; round++ {
		cost, feasible := m.buildCostMatrix(manuscripts, ids, byID, remaining, taken, exclude)

		rowToCol := hungarian(cost)

		for i, ms := range manuscripts {
			col := rowToCol[i]
			if col < 0 || col >= len(ids) || !feasible[i][col] {
				eligible := 0
				for j := range ids {
					if feasible[i][j] {
						eligible++
					}
				}
				return nil, &coordination.InsufficientReviewersError{
					Wanted:   k,
					Eligible: len(result[ms.ID]) + eligible,
				}
			}
			id := ids[col]
			result[ms.ID] = append(result[ms.ID], newAssignment(id, now))
			taken[ms.ID][id] = struct{}{}
			remaining[id]--
		}
	}

	return result, nil
}

// buildCostMatrix produces a square cost matrix for one assignment
// round. Infeasible pairs carry a prohibitive cost; feasible marks
// which cells represent real assignments.
func (m *Matcher) buildCostMatrix(
	manuscripts []coordination.ManuscriptProfile,
	ids []string,
	byID map[string]coordination.ReviewerProfile,
	remaining map[string]int,
	taken map[string]map[string]struct{},
	exclude map[string]map[string]struct{},
) ([][]float64, [][]bool) {
	n := len(manuscripts)
	if len(ids) > n {
		n = len(ids)
	}

	const forbidden = 1e9

	cost := make([][]float64, n)
	feasible := make([][]bool, n)
	for i := range cost {
		cost[i] = make([]float64, n)
		feasible[i] = make([]bool, n)
		for j := range cost[i] {
			cost[i][j] = forbidden
		}
	}

	for i, ms := range manuscripts {
		for j, id := range ids {
			if remaining[id] <= 0 {
				continue
			}
			if _, dup := taken[ms.ID][id]; dup {
				continue
			}
			if ex, ok := exclude[ms.ID]; ok {
				if _, skip := ex[id]; skip {
					continue
				}
			}
			// Hungarian minimizes; negate the score to maximize weight.
			cost[i][j] = 1.0 - m.Score(ms, byID[id])
			feasible[i][j] = true
		}
	}

	return cost, feasible
}

// hungarian solves the square assignment problem, returning the column
// chosen for each row. Standard O(n^3) potential-based implementation.
func hungarian(cost [][]float64) []int {
	n := len(cost)
	if n == 0 {
		return nil
	}

	const inf = math.MaxFloat64

	u := make([]float64, n+1)
	v := make([]float64, n+1)
	p := make([]int, n+1) // p[j] = row matched to column j (1-based)
	way := make([]int, n+1)

	for i := 1; i <= n; i++ {
		p[0] = i
		j0 := 0
		minv := make([]float64, n+1)
		used := make([]bool, n+1)
		for j := 0; j <= n; j++ {
			minv[j] = inf
		}

		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := 0
			for j := 1; j <= n; j++ {
				if used[j] {
					continue
				}
				cur := cost[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			for j := 0; j <= n; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if p[j0] == 0 {
				break
			}
		}

		for j0 != 0 {
			j1 := way[j0]
			p[j0] = p[j1]
			j0 = j1
		}
	}

	rowToCol := make([]int, n)
	for j := 1; j <= n; j++ {
		if p[j] > 0 {
			rowToCol[p[j]-1] = j - 1
		}
	}
	return rowToCol
}
