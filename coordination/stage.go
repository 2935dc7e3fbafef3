package coordination

import "time"

// Stage is the phase of a coordination's review lifecycle.
type Stage string

// Coordination stages. ESCALATED and CANCELLED are side-states
// reachable from any non-terminal stage; COMPLETED and CANCELLED are
// terminal.
const (
	StageInitiated          Stage = "INITIATED"
	StageReviewerAssignment Stage = "REVIEWER_ASSIGNMENT"
	StageInvitationSent     Stage = "INVITATION_SENT"
	StageInvitationAccepted Stage = "INVITATION_ACCEPTED"
	StageReviewInProgress   Stage = "REVIEW_IN_PROGRESS"
	StageReviewSubmitted    Stage = "REVIEW_SUBMITTED"
	StageQualityAssessment  Stage = "QUALITY_ASSESSMENT"
	StageEditorialDecision  Stage = "EDITORIAL_DECISION"
	StageCompleted          Stage = "COMPLETED"
	StageEscalated          Stage = "ESCALATED"
	StageCancelled          Stage = "CANCELLED"
)

// Terminal reports whether no further transitions are possible.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageCancelled
}

// Event is a stimulus applied to the stage state machine.
type Event string

// Stage machine events.
const (
	EventReviewersMatched     Event = "reviewers_matched"
	EventInvitationsSent      Event = "invitations_sent"
	EventInvitationResponse   Event = "invitation_response"
	EventReviewProgressUpdate Event = "review_progress_update"
	EventReviewSubmitted      Event = "review_submitted"
	EventAllReviewsIn         Event = "all_reviews_in"
	EventDecisionMade         Event = "decision_made"
	EventEscalate             Event = "escalate"
	EventResolveEscalation    Event = "resolve_escalation"
	EventCancel               Event = "cancel"
)

// transitions is the closed stage transition table. escalate, cancel
// and resolve_escalation are handled in Next because their targets are
// not a function of the source stage alone.
var transitions = map[Stage]map[Event]Stage{
	StageInitiated: {
		EventReviewersMatched: StageReviewerAssignment,
	},
	StageReviewerAssignment: {
		EventInvitationsSent: StageInvitationSent,
	},
	StageInvitationSent: {
		EventInvitationResponse: StageInvitationAccepted,
	},
	StageInvitationAccepted: {
		EventInvitationResponse:   StageInvitationAccepted,
		EventReviewProgressUpdate: StageReviewInProgress,
	},
	StageReviewInProgress: {
		EventReviewProgressUpdate: StageReviewInProgress,
		EventReviewSubmitted:      StageReviewSubmitted,
		EventAllReviewsIn:         StageQualityAssessment,
	},
	StageReviewSubmitted: {
		EventReviewSubmitted: StageReviewSubmitted,
		EventAllReviewsIn:    StageQualityAssessment,
	},
	StageQualityAssessment: {
		EventDecisionMade: StageEditorialDecision,
	},
	StageEditorialDecision: {
		EventDecisionMade: StageCompleted,
	},
}

// Next computes the stage that applying ev to from yields. It is a pure
// function: no I/O, no mutation. resume is consulted only for
// resolve_escalation and names the stage to return to; callers pass the
// EscalatedFrom recorded on the context.
//
// An event with no entry in the table fails with InvalidTransitionError
// and the caller must leave its context untouched.
func Next(from Stage, ev Event, resume Stage) (Stage, error) {
	if from.Terminal() {
		return from, &InvalidTransitionError{From: from, Event: ev}
	}

	switch ev {
	case EventCancel:
		return StageCancelled, nil
	case EventEscalate:
		if from == StageEscalated {
			return from, &InvalidTransitionError{From: from, Event: ev}
		}
		return StageEscalated, nil
	case EventResolveEscalation:
		if from != StageEscalated {
			return from, &InvalidTransitionError{From: from, Event: ev}
		}
		if resume == "" || resume.Terminal() || resume == StageEscalated {
			return from, &InvalidTransitionError{From: from, Event: ev}
		}
		return resume, nil
	}

	if from == StageEscalated {
		return from, &InvalidTransitionError{From: from, Event: ev}
	}

	next, ok := transitions[from][ev]
	if !ok {
		return from, &InvalidTransitionError{From: from, Event: ev}
	}
	return next, nil
}

// Apply runs ev against the context through Next and, on success,
// records the stage change. On failure the context is unchanged.
func Apply(c *Context, ev Event, now time.Time) error {
	next, err := Next(c.Stage, ev, c.EscalatedFrom)
	if err != nil {
		return err
	}

	switch ev {
	case EventEscalate:
		c.EscalatedFrom = c.Stage
	case EventResolveEscalation:
		c.EscalatedFrom = ""
	}

	c.RecordStage(next, now)
	return nil
}
