package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openjournal/peerflow/coordination"
	"github.com/openjournal/peerflow/matcher"
	"github.com/openjournal/peerflow/metrics"
)

// Initiate starts coordinating a manuscript: validates input, matches
// k reviewers from the current pool snapshot, reserves their workload
// slots, and registers the context. No state is created on failure.
// Per-call weights override the scheduler's matcher; nil keeps it.
func (s *Scheduler) Initiate(ctx context.Context, ms coordination.ManuscriptProfile, k int, weights *matcher.Weights) (string, error) {
	if err := ms.Validate(); err != nil {
		return "", err
	}
	if k <= 0 {
		return "", &coordination.ValidationError{Field: "k", Message: "must request at least one reviewer"}
	}

	m := s.matcher
	if weights != nil {
		override, err := matcher.New(*weights)
		if err != nil {
			return "", err
		}
		m = override
	}

	if err := s.store.Acquire(ms.ID, s.cfg.LockTimeout); err != nil {
		if s.collector != nil {
			s.collector.LockConflict()
		}
		return "", err
	}
	defer s.store.Release(ms.ID)

	if _, exists := s.store.Get(ms.ID); exists {
		return "", &coordination.ValidationError{Field: "manuscript", Message: fmt.Sprintf("manuscript %s already under coordination", ms.ID)}
	}

	now := s.clock()
	assignments, err := m.Match(ms, s.pool.Snapshot(), k, nil, now)
	if err != nil {
		return "", err
	}

	ids := make([]string, len(assignments))
	for i, a := range assignments {
		ids[i] = a.ReviewerID
	}
	if err := s.pool.Reserve(ids); err != nil {
		return "", err
	}

	c := coordination.NewContext(ms, k, now)
	c.Assignments = assignments

	// Rules that watch the INITIATED stage (the critical-urgency fast
	// track) only ever see it here, before the stage advances.
	if boost := s.engine.Evaluate(c, now); len(boost) > 0 {
		if err := s.applyActions(ctx, c, boost, now); err != nil {
			s.releaseAll(ids)
			return "", err
		}
		s.engine.Commit(c.ManuscriptID, boost)
	}

	if err := s.applyEvent(ctx, c, coordination.EventReviewersMatched, now); err != nil {
		s.releaseAll(ids)
		return "", err
	}
	if err := s.applyEvent(ctx, c, coordination.EventInvitationsSent, now); err != nil {
		s.releaseAll(ids)
		return "", err
	}

	for _, a := range assignments {
		s.enqueueInvitation(c, a.ReviewerID)
	}

	s.store.Put(c)
	if s.collector != nil {
		s.collector.Initiated()
	}

	s.logger.Info("coordination initiated",
		"manuscript", ms.ID,
		"reviewers", ids,
		"urgency", ms.Urgency)
	return ms.ID, nil
}

func (s *Scheduler) releaseAll(ids []string) {
	for _, id := range ids {
		s.pool.Release(id)
	}
}

func (s *Scheduler) enqueueInvitation(c *coordination.Context, reviewerID string) {
	if s.dispatch == nil {
		return
	}
	s.dispatch.Enqueue(newInvitationNotification(c, reviewerID))
}

// GetStatus returns a read view of a coordination, falling back to the
// archive for terminal ones.
func (s *Scheduler) GetStatus(ctx context.Context, manuscriptID string) (*coordination.Context, error) {
	if c, ok := s.store.Snapshot(manuscriptID); ok {
		return c, nil
	}
	if s.archive != nil {
		rec, err := s.archive.Get(ctx, manuscriptID)
		if err != nil {
			return nil, err
		}
		return rec.Context.Clone(), nil
	}
	return nil, &coordination.NotFoundError{Kind: "coordination", ID: manuscriptID}
}

// SubmitReviewerResponse records an invitation accept or decline. Once
// every live invitation is accepted the review phase begins, which is
// what arms the time-based reminder and escalation rules. A
// decline frees the reviewer's slot and immediately tries to fill the
// vacancy from the pool, excluding everyone who ever held an
// assignment on this manuscript.
func (s *Scheduler) SubmitReviewerResponse(ctx context.Context, manuscriptID, reviewerID string, accepted bool) error {
	return s.withContext(ctx, manuscriptID, func(c *coordination.Context) error {
		a := c.AssignmentFor(reviewerID)
		if a == nil {
			return &coordination.NotFoundError{Kind: "assignment", ID: reviewerID}
		}
		if a.InvitationStatus != coordination.InvitationPending {
			return &coordination.ValidationError{Field: "reviewer_id", Message: fmt.Sprintf("reviewer %s already responded", reviewerID)}
		}

		now := s.clock()
		if accepted {
			a.InvitationStatus = coordination.InvitationAccepted
			switch c.Stage {
			case coordination.StageInvitationSent, coordination.StageInvitationAccepted:
				if err := s.applyEvent(ctx, c, coordination.EventInvitationResponse, now); err != nil {
					return err
				}
			default:
				// A refilled or replaced slot accepted while the
				// context is already past the invitation stages; the
				// assignment record is the acceptance.
				c.Touch(now)
			}
			if c.Stage == coordination.StageInvitationAccepted && c.AllInvitationsAccepted() {
				return s.applyEvent(ctx, c, coordination.EventReviewProgressUpdate, now)
			}
			return nil
		}

		a.InvitationStatus = coordination.InvitationDeclined
		s.pool.Release(reviewerID)
		s.refillDeclinedSlot(c, reviewerID, now)
		// When no replacement was found the decline may have been the
		// last outstanding invitation.
		if c.Stage == coordination.StageInvitationAccepted && c.AllInvitationsAccepted() {
			return s.applyEvent(ctx, c, coordination.EventReviewProgressUpdate, now)
		}
		c.Touch(now)
		return nil
	})
}

// refillDeclinedSlot replaces a declined assignment when an eligible
// reviewer exists. Declined reviewers stay excluded for the life of
// the coordination.
func (s *Scheduler) refillDeclinedSlot(c *coordination.Context, declinedID string, now time.Time) {
	exclude := make(map[string]struct{})
	for _, id := range c.AssignedReviewerIDs() {
		exclude[id] = struct{}{}
	}

	replacement, err := s.matcher.Match(c.Manuscript, s.pool.Snapshot(), 1, exclude, now)
	if err != nil {
		s.logger.Warn("no replacement for declined reviewer",
			"manuscript", c.ManuscriptID,
			"declined", declinedID,
			"error", err)
		return
	}

	next := replacement[0]
	if err := s.pool.Reserve([]string{next.ReviewerID}); err != nil {
		s.logger.Warn("reserve replacement reviewer", "reviewer", next.ReviewerID, "error", err)
		return
	}
	c.Assignments = append(c.Assignments, next)
	s.enqueueInvitation(c, next.ReviewerID)

	s.logger.Info("declined slot refilled",
		"manuscript", c.ManuscriptID,
		"declined", declinedID,
		"replacement", next.ReviewerID)
}

// SubmitReview marks a reviewer's review submitted and advances the
// stage: to REVIEW_SUBMITTED while reviews are outstanding, and to
// QUALITY_ASSESSMENT once the last one lands.
func (s *Scheduler) SubmitReview(ctx context.Context, manuscriptID, reviewerID string) error {
	return s.withContext(ctx, manuscriptID, func(c *coordination.Context) error {
		a := c.AssignmentFor(reviewerID)
		if a == nil || a.InvitationStatus != coordination.InvitationAccepted {
			return &coordination.NotFoundError{Kind: "assignment", ID: reviewerID}
		}
		if a.ReviewStatus == coordination.ReviewSubmitted {
			return &coordination.ValidationError{Field: "reviewer_id", Message: fmt.Sprintf("review by %s already submitted", reviewerID)}
		}

		now := s.clock()
		if c.Stage == coordination.StageInvitationAccepted {
			if err := s.applyEvent(ctx, c, coordination.EventReviewProgressUpdate, now); err != nil {
				return err
			}
		}

		a.ReviewStatus = coordination.ReviewSubmitted
		s.pool.Release(reviewerID)

		ev := coordination.EventReviewSubmitted
		if c.AllReviewsSubmitted() {
			ev = coordination.EventAllReviewsIn
		}
		if err := s.applyEvent(ctx, c, ev, now); err != nil {
			return err
		}
		if c.Stage == coordination.StageQualityAssessment {
			s.assessQuality(ctx, c)
		}
		return nil
	})
}

// Decide records an editorial decision: the first moves the context
// into EDITORIAL_DECISION, the second completes it.
func (s *Scheduler) Decide(ctx context.Context, manuscriptID string) error {
	return s.withContext(ctx, manuscriptID, func(c *coordination.Context) error {
		return s.applyEvent(ctx, c, coordination.EventDecisionMade, s.clock())
	})
}

// Cancel moves a coordination to CANCELLED from any non-terminal
// stage. Cancelling an already-finished coordination is a no-op, so
// the call is idempotent and appends at most one intervention record.
func (s *Scheduler) Cancel(ctx context.Context, manuscriptID, reason string) error {
	err := s.withContext(ctx, manuscriptID, func(c *coordination.Context) error {
		now := s.clock()
		if err := s.applyEvent(ctx, c, coordination.EventCancel, now); err != nil {
			return err
		}
		rec := s.escalator.RecordCancellation(manuscriptID, reason, now)
		if s.archive != nil {
			if err := s.archive.AppendIntervention(ctx, rec); err != nil {
				s.logger.Error("persist intervention record", "manuscript", manuscriptID, "error", err)
			}
		}
		return nil
	})
	if err != nil {
		var notFound *coordination.NotFoundError
		if errors.As(err, &notFound) {
			// Already archived: cancelling a finished coordination is
			// a no-op.
			if s.archive != nil {
				if _, archErr := s.archive.Get(ctx, manuscriptID); archErr == nil {
					return nil
				}
			}
		}
	}
	return err
}

// Metrics returns the aggregate coordination metrics.
func (s *Scheduler) Metrics() metrics.Snapshot {
	if s.collector == nil {
		return metrics.Snapshot{}
	}
	return s.collector.Snapshot()
}

// HandleWebhook routes one journal-platform event into the matching
// operation. Unknown manuscripts on non-creation events are logged and
// dropped rather than failing the feed.
func (s *Scheduler) HandleWebhook(ctx context.Context, ev *coordination.WebhookEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	switch ev.EventType {
	case coordination.WebhookSubmissionCreated:
		if s.source == nil {
			return fmt.Errorf("no manuscript source configured")
		}
		ms, err := s.source.GetManuscript(ctx, ev.SubmissionID)
		if err != nil {
			return fmt.Errorf("fetch manuscript %s: %w", ev.SubmissionID, err)
		}
		_, err = s.Initiate(ctx, ms, s.cfg.DefaultReviewers, nil)
		return err
	case coordination.WebhookReviewAssigned:
		return s.SubmitReviewerResponse(ctx, ev.SubmissionID, ev.ReviewerID, true)
	case coordination.WebhookReviewSubmitted:
		return s.SubmitReview(ctx, ev.SubmissionID, ev.ReviewerID)
	case coordination.WebhookDecisionMade:
		return s.Decide(ctx, ev.SubmissionID)
	default:
		return &coordination.ValidationError{Field: "event_type", Message: fmt.Sprintf("unhandled event type %q", ev.EventType)}
	}
}
