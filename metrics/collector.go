// Package metrics tracks coordination outcomes, both as prometheus
// series and as an aggregate snapshot served by the status API.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/openjournal/peerflow/coordination"
)

// Snapshot is the aggregate view returned by get_metrics.
//
// success_rate is completed over all finished manuscripts.
// escalation_rate is the share of finished manuscripts that needed at
// least one escalation. timeline_adherence is the share of completed
// manuscripts that finished within the target window.
type Snapshot struct {
	ActiveManuscripts   int     `json:"active_manuscripts"`
	CompletedTotal      int     `json:"completed_total"`
	CancelledTotal      int     `json:"cancelled_total"`
	SuccessRate         float64 `json:"success_rate"`
	AvgCoordinationDays float64 `json:"avg_coordination_days"`
	EscalationRate      float64 `json:"escalation_rate"`
	TimelineAdherence   float64 `json:"timeline_adherence"`
}

// Collector observes every coordination transition and keeps both the
// prometheus series and the running tallies behind Snapshot.
type Collector struct {
	targetDays float64

	initiated    prometheus.Counter
	completed    prometheus.Counter
	cancelled    prometheus.Counter
	escalations  prometheus.Counter
	reminders    prometheus.Counter
	conflicts    prometheus.Counter
	stageChanges *prometheus.CounterVec
	active       prometheus.Gauge
	duration     prometheus.Histogram

	mu             sync.Mutex
	activeCount    int
	completedCount int
	cancelledCount int
	escalatedDone  int // finished manuscripts that were escalated at least once
	onTimeDone     int // completed manuscripts within the target window
	totalDays      float64
}

// NewCollector registers the coordination series on reg. targetDays is
// the timeline-adherence window; values <= 0 fall back to 45 days.
func NewCollector(reg prometheus.Registerer, targetDays float64) *Collector {
	if targetDays <= 0 {
		targetDays = 45
	}
	c := &Collector{
		targetDays: targetDays,
		initiated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "peerflow_coordinations_initiated_total",
			Help: "Coordinations started.",
		}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "peerflow_coordinations_completed_total",
			Help: "Coordinations that reached COMPLETED.",
		}),
		cancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "peerflow_coordinations_cancelled_total",
			Help: "Coordinations that reached CANCELLED.",
		}),
		escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "peerflow_escalations_total",
			Help: "Escalations applied across all manuscripts.",
		}),
		reminders: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "peerflow_reminders_total",
			Help: "Reviewer reminders dispatched.",
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "peerflow_lock_conflicts_total",
			Help: "Lock acquisitions that timed out.",
		}),
		stageChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "peerflow_stage_transitions_total",
			Help: "Stage transitions by destination stage.",
		}, []string{"stage"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "peerflow_active_manuscripts",
			Help: "Manuscripts currently under coordination.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "peerflow_coordination_days",
			Help:    "Days from initiation to a terminal stage.",
			Buckets: []float64{1, 3, 7, 14, 21, 30, 45, 60, 90},
		}),
	}
	if reg != nil {
		reg.MustRegister(c.initiated, c.completed, c.cancelled, c.escalations,
			c.reminders, c.conflicts, c.stageChanges, c.active, c.duration)
	}
	return c
}

// Initiated records a new coordination entering the store.
func (c *Collector) Initiated() {
	c.initiated.Inc()
	c.active.Inc()
	c.mu.Lock()
	c.activeCount++
	c.mu.Unlock()
}

// StageChanged records one stage transition.
func (c *Collector) StageChanged(to coordination.Stage) {
	c.stageChanges.WithLabelValues(string(to)).Inc()
}

// Escalated records one escalation.
func (c *Collector) Escalated() {
	c.escalations.Inc()
}

// ReminderSent records one reminder dispatch.
func (c *Collector) ReminderSent() {
	c.reminders.Inc()
}

// LockConflict records a lock-acquisition timeout.
func (c *Collector) LockConflict() {
	c.conflicts.Inc()
}

// Finished records a context reaching a terminal stage and folds its
// run into the aggregates.
func (c *Collector) Finished(ctx *coordination.Context, now time.Time) {
	days := now.Sub(ctx.CreatedAt).Hours() / 24
	c.duration.Observe(days)
	c.active.Dec()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeCount > 0 {
		c.activeCount--
	}
	if ctx.EscalationCount > 0 {
		c.escalatedDone++
	}
	switch ctx.Stage {
	case coordination.StageCompleted:
		c.completed.Inc()
		c.completedCount++
		c.totalDays += days
		if days <= c.targetDays {
			c.onTimeDone++
		}
	case coordination.StageCancelled:
		c.cancelled.Inc()
		c.cancelledCount++
	}
}

// Snapshot returns the current aggregate view. Rates over an empty
// denominator report as zero.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	finished := c.completedCount + c.cancelledCount
	snap := Snapshot{
		ActiveManuscripts: c.activeCount,
		CompletedTotal:    c.completedCount,
		CancelledTotal:    c.cancelledCount,
	}
	if finished > 0 {
		snap.SuccessRate = float64(c.completedCount) / float64(finished)
		snap.EscalationRate = float64(c.escalatedDone) / float64(finished)
	}
	if c.completedCount > 0 {
		snap.AvgCoordinationDays = c.totalDays / float64(c.completedCount)
		snap.TimelineAdherence = float64(c.onTimeDone) / float64(c.completedCount)
	}
	return snap
}
