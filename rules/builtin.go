package rules

import (
	"fmt"
	"time"

	"github.com/openjournal/peerflow/coordination"
)

// reviewerReminder nudges reviewers whose review has sat unfinished
// past the reminder window, up to a capped number of times.
type reviewerReminder struct {
	cfg Config
}

func (r *reviewerReminder) ID() string         { return "reviewer-reminder" }
func (r *reviewerReminder) Priority() Priority { return PriorityMedium }

func (r *reviewerReminder) Evaluate(ctx *coordination.Context, now time.Time) []firing {
	if ctx.Stage != coordination.StageReviewInProgress {
		return nil
	}

	var firings []firing
	for _, a := range ctx.Assignments {
		if a.ReviewStatus == coordination.ReviewSubmitted {
			continue
		}
		if a.RemindersSent >= r.cfg.MaxReminders {
			continue
		}
		elapsed := now.Sub(a.AssignedAt)
		if elapsed < r.cfg.ReminderAfter {
			continue
		}

		firings = append(firings, firing{
			action: Action{
				Type:         ActionSendReminder,
				RuleID:       r.ID(),
				ManuscriptID: ctx.ManuscriptID,
				ReviewerID:   a.ReviewerID,
				Reason:       fmt.Sprintf("review outstanding for %s", elapsed.Truncate(time.Hour)),
			},
			assignmentID: a.ReviewerID,
			epoch:        int64(elapsed / r.cfg.ReminderAfter),
		})
	}
	return firings
}

// overdueEscalation escalates assignments that stayed unfinished after
// repeated reminders.
type overdueEscalation struct {
	cfg Config
}

func (r *overdueEscalation) ID() string         { return "overdue-escalation" }
func (r *overdueEscalation) Priority() Priority { return PriorityCritical }

func (r *overdueEscalation) Evaluate(ctx *coordination.Context, now time.Time) []firing {
	var firings []firing
	for _, a := range ctx.Assignments {
		if a.ReviewStatus == coordination.ReviewSubmitted {
			continue
		}
		if a.RemindersSent < r.cfg.MinRemindersBeforeEscalation {
			continue
		}
		if a.LastReminderAt == nil {
			continue
		}
		sinceReminder := now.Sub(*a.LastReminderAt)
		if sinceReminder < r.cfg.EscalateAfter {
			continue
		}

		firings = append(firings, firing{
			action: Action{
				Type:         ActionEscalate,
				RuleID:       r.ID(),
				ManuscriptID: ctx.ManuscriptID,
				ReviewerID:   a.ReviewerID,
				Reason:       fmt.Sprintf("no review %s after reminder %d", sinceReminder.Truncate(time.Hour), a.RemindersSent),
			},
			assignmentID: a.ReviewerID,
			epoch:        int64(sinceReminder / r.cfg.EscalateAfter),
		})
	}
	return firings
}

// qualityGate advances a coordination to quality assessment once every
// assigned review has been submitted.
type qualityGate struct{}

func (r *qualityGate) ID() string         { return "quality-gate" }
func (r *qualityGate) Priority() Priority { return PriorityHigh }

func (r *qualityGate) Evaluate(ctx *coordination.Context, now time.Time) []firing {
	if ctx.Stage != coordination.StageReviewInProgress && ctx.Stage != coordination.StageReviewSubmitted {
		return nil
	}
	if !ctx.AllReviewsSubmitted() {
		return nil
	}

	return []firing{{
		action: Action{
			Type:         ActionAssessQuality,
			RuleID:       r.ID(),
			ManuscriptID: ctx.ManuscriptID,
			Reason:       "all reviews submitted",
		},
	}}
}

// urgentFastTrack boosts scheduling priority for critical manuscripts,
// exactly once, at initiation. It never changes the stage.
type urgentFastTrack struct{}

func (r *urgentFastTrack) ID() string         { return "urgent-fast-track" }
func (r *urgentFastTrack) Priority() Priority { return PriorityHigh }

func (r *urgentFastTrack) Evaluate(ctx *coordination.Context, _ time.Time) []firing {
	if ctx.Stage != coordination.StageInitiated {
		return nil
	}
	if ctx.Manuscript.Urgency != coordination.UrgencyCritical {
		return nil
	}
	if ctx.Boosted {
		return nil
	}

	return []firing{{
		action: Action{
			Type:         ActionBoostPriority,
			RuleID:       r.ID(),
			ManuscriptID: ctx.ManuscriptID,
			Reason:       "critical urgency",
		},
	}}
}
