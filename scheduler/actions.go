package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/openjournal/peerflow/coordination"
	"github.com/openjournal/peerflow/platform"
	"github.com/openjournal/peerflow/rules"
)

// applyActions is the single application site for automation actions.
// The switch is exhaustive over the closed ActionType set; actions run
// in the order the engine produced them (priority order) against the
// caller's working clone, so a failure aborts the whole batch without
// touching stored state.
func (s *Scheduler) applyActions(ctx context.Context, c *coordination.Context, actions []rules.Action, now time.Time) error {
	for _, action := range actions {
		var err error
		switch action.Type {
		case rules.ActionSendReminder:
			err = s.applySendReminder(ctx, c, action, now)
		case rules.ActionEscalate:
			err = s.applyEscalate(ctx, c, action, now)
		case rules.ActionAssessQuality:
			err = s.applyAssessQuality(ctx, c, now)
		case rules.ActionAdvanceStage:
			err = s.applyAdvanceStage(ctx, c, now)
		case rules.ActionBoostPriority:
			c.Boosted = true
			c.Touch(now)
			s.logger.Info("priority boosted", "manuscript", c.ManuscriptID, "rule", action.RuleID)
		default:
			err = fmt.Errorf("unknown action type %q from rule %s", action.Type, action.RuleID)
		}
		if err != nil {
			return fmt.Errorf("apply %s: %w", action.Type, err)
		}
	}
	return nil
}

// applySendReminder bumps the assignment's reminder bookkeeping and
// queues the notification.
func (s *Scheduler) applySendReminder(ctx context.Context, c *coordination.Context, action rules.Action, now time.Time) error {
	a := c.AssignmentFor(action.ReviewerID)
	if a == nil || a.InvitationStatus == coordination.InvitationDeclined {
		// The slot was replaced or declined earlier in this batch; the
		// reminder is moot.
		s.logger.Debug("reminder target no longer assigned",
			"manuscript", c.ManuscriptID,
			"reviewer", action.ReviewerID)
		return nil
	}

	a.RemindersSent++
	reminded := now
	a.LastReminderAt = &reminded
	c.Touch(now)

	if s.dispatch != nil {
		s.dispatch.Enqueue(platform.Notification{
			TemplateID: "review-reminder",
			Recipient:  action.ReviewerID,
			Data: map[string]string{
				"manuscript_id": c.ManuscriptID,
				"title":         c.Manuscript.Title,
				"reminders":     fmt.Sprintf("%d", a.RemindersSent),
			},
		})
	}
	if s.collector != nil {
		s.collector.ReminderSent()
	}
	if s.publisher != nil {
		err := s.publisher.PublishReminder(ctx, coordination.ReminderEvent{
			ManuscriptID:  c.ManuscriptID,
			ReviewerID:    action.ReviewerID,
			RemindersSent: a.RemindersSent,
			Timestamp:     now,
		})
		if err != nil {
			s.logger.Warn("publish reminder", "manuscript", c.ManuscriptID, "error", err)
		}
	}
	return nil
}

// applyEscalate hands the stalled assignment to the intervention
// manager and persists the resulting record.
func (s *Scheduler) applyEscalate(ctx context.Context, c *coordination.Context, action rules.Action, now time.Time) error {
	rec, err := s.escalator.Escalate(c, action.ReviewerID, action.Reason, now)
	if err != nil {
		return err
	}

	if s.archive != nil {
		if archErr := s.archive.AppendIntervention(ctx, rec); archErr != nil {
			s.logger.Error("persist intervention record", "manuscript", c.ManuscriptID, "error", archErr)
		}
	}
	if s.collector != nil {
		s.collector.Escalated()
	}
	if s.publisher != nil {
		pubErr := s.publisher.PublishEscalation(ctx, coordination.EscalationEvent{
			ManuscriptID:    c.ManuscriptID,
			ReviewerID:      action.ReviewerID,
			Reason:          action.Reason,
			EscalationCount: c.EscalationCount,
			Timestamp:       now,
		})
		if pubErr != nil {
			s.logger.Warn("publish escalation", "manuscript", c.ManuscriptID, "error", pubErr)
		}
	}
	return nil
}

// applyAssessQuality advances the context into QUALITY_ASSESSMENT and
// runs the scorer. Scorer failures are boundary-caught; the stage
// advance stands either way.
func (s *Scheduler) applyAssessQuality(ctx context.Context, c *coordination.Context, now time.Time) error {
	if err := s.applyEvent(ctx, c, coordination.EventAllReviewsIn, now); err != nil {
		return err
	}
	s.assessQuality(ctx, c)
	return nil
}

// assessQuality invokes the opaque scorer. Failures never affect
// coordination state.
func (s *Scheduler) assessQuality(ctx context.Context, c *coordination.Context) {
	if s.scorer == nil {
		return
	}
	texts := make([]string, 0, len(c.Assignments))
	for _, a := range c.Assignments {
		if a.ReviewStatus == coordination.ReviewSubmitted {
			texts = append(texts, fmt.Sprintf("%s/%s", c.ManuscriptID, a.ReviewerID))
		}
	}
	score, err := s.scorer.Assess(ctx, texts)
	if err != nil {
		dispatchErr := &coordination.ExternalDispatchError{Collaborator: "scorer", Err: err}
		s.logger.Warn("quality assessment failed", "manuscript", c.ManuscriptID, "error", dispatchErr)
		return
	}
	s.logger.Info("quality assessed", "manuscript", c.ManuscriptID, "score", score)
}

// applyAdvanceStage nudges a context along its happy path, used when a
// rule wants a stage advance without a domain-specific event.
func (s *Scheduler) applyAdvanceStage(ctx context.Context, c *coordination.Context, now time.Time) error {
	ev, ok := advanceEvent(c.Stage)
	if !ok {
		return &coordination.InvalidTransitionError{From: c.Stage, Event: "advance"}
	}
	return s.applyEvent(ctx, c, ev, now)
}

// advanceEvent maps a stage to the event that moves it one step along
// the happy path, where that step needs no extra input.
func advanceEvent(stage coordination.Stage) (coordination.Event, bool) {
	switch stage {
	case coordination.StageInitiated:
		return coordination.EventReviewersMatched, true
	case coordination.StageReviewerAssignment:
		return coordination.EventInvitationsSent, true
	case coordination.StageInvitationAccepted:
		return coordination.EventReviewProgressUpdate, true
	case coordination.StageQualityAssessment, coordination.StageEditorialDecision:
		return coordination.EventDecisionMade, true
	default:
		return "", false
	}
}

// newInvitationNotification builds the reviewer invitation message.
func newInvitationNotification(c *coordination.Context, reviewerID string) platform.Notification {
	return platform.Notification{
		TemplateID: "reviewer-invitation",
		Recipient:  reviewerID,
		Data: map[string]string{
			"manuscript_id": c.ManuscriptID,
			"title":         c.Manuscript.Title,
			"urgency":       string(c.Manuscript.Urgency),
		},
	}
}
