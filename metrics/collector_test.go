package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	"github.com/openjournal/peerflow/coordination"
)

func finishedContext(stage coordination.Stage, started time.Time, escalations int) *coordination.Context {
	ctx := coordination.NewContext(coordination.ManuscriptProfile{
		ID:           "ms-x",
		Title:        "t",
		SubjectAreas: []string{"s"},
		Urgency:      coordination.UrgencyLow,
	}, 1, started)
	ctx.Stage = stage
	ctx.EscalationCount = escalations
	return ctx
}

func TestSnapshotEmpty(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry(), 45)
	snap := c.Snapshot()
	assert.Zero(t, snap.SuccessRate)
	assert.Zero(t, snap.AvgCoordinationDays)
	assert.Zero(t, snap.EscalationRate)
	assert.Zero(t, snap.TimelineAdherence)
}

func TestSnapshotAggregates(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry(), 30)
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		c.Initiated()
	}

	// Two completions: one in 10 days, one in 40 (past the 30 day
	// target), the slow one escalated.
	c.Finished(finishedContext(coordination.StageCompleted, now.Add(-10*24*time.Hour), 0), now)
	c.Finished(finishedContext(coordination.StageCompleted, now.Add(-40*24*time.Hour), 2), now)
	c.Finished(finishedContext(coordination.StageCancelled, now.Add(-5*24*time.Hour), 0), now)

	snap := c.Snapshot()
	assert.Equal(t, 1, snap.ActiveManuscripts)
	assert.Equal(t, 2, snap.CompletedTotal)
	assert.Equal(t, 1, snap.CancelledTotal)
	assert.InDelta(t, 2.0/3.0, snap.SuccessRate, 1e-9)
	assert.InDelta(t, 25.0, snap.AvgCoordinationDays, 1e-9)
	assert.InDelta(t, 1.0/3.0, snap.EscalationRate, 1e-9)
	assert.InDelta(t, 0.5, snap.TimelineAdherence, 1e-9)
}

func TestTargetDaysDefault(t *testing.T) {
	c := NewCollector(nil, 0)
	assert.Equal(t, 45.0, c.targetDays)
}
