package coordination

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allStages = []Stage{
	StageInitiated, StageReviewerAssignment, StageInvitationSent,
	StageInvitationAccepted, StageReviewInProgress, StageReviewSubmitted,
	StageQualityAssessment, StageEditorialDecision, StageCompleted,
	StageEscalated, StageCancelled,
}

var allEvents = []Event{
	EventReviewersMatched, EventInvitationsSent, EventInvitationResponse,
	EventReviewProgressUpdate, EventReviewSubmitted, EventAllReviewsIn,
	EventDecisionMade, EventEscalate, EventResolveEscalation, EventCancel,
}

func TestNext_HappyPath(t *testing.T) {
	steps := []struct {
		ev   Event
		want Stage
	}{
		{EventReviewersMatched, StageReviewerAssignment},
		{EventInvitationsSent, StageInvitationSent},
		{EventInvitationResponse, StageInvitationAccepted},
		{EventReviewProgressUpdate, StageReviewInProgress},
		{EventReviewSubmitted, StageReviewSubmitted},
		{EventAllReviewsIn, StageQualityAssessment},
		{EventDecisionMade, StageEditorialDecision},
		{EventDecisionMade, StageCompleted},
	}

	stage := StageInitiated
	for _, step := range steps {
		next, err := Next(stage, step.ev, "")
		require.NoError(t, err, "event %s from %s", step.ev, stage)
		assert.Equal(t, step.want, next)
		stage = next
	}
}

func TestNext_QualityGateShortCircuit(t *testing.T) {
	// All reviews can land while the stage is still REVIEW_IN_PROGRESS;
	// the quality gate advances directly to QUALITY_ASSESSMENT.
	next, err := Next(StageReviewInProgress, EventAllReviewsIn, "")
	require.NoError(t, err)
	assert.Equal(t, StageQualityAssessment, next)
}

func TestNext_EscalateAndResolve(t *testing.T) {
	for _, s := range allStages {
		if s.Terminal() || s == StageEscalated {
			next, err := Next(s, EventEscalate, "")
			if s == StageEscalated {
				assert.Error(t, err, "escalate from ESCALATED")
			} else {
				assert.Error(t, err, "escalate from terminal %s", s)
			}
			_ = next
			continue
		}
		next, err := Next(s, EventEscalate, "")
		require.NoError(t, err, "escalate from %s", s)
		assert.Equal(t, StageEscalated, next)
	}

	// Resolution returns to the stage held at escalation time.
	next, err := Next(StageEscalated, EventResolveEscalation, StageReviewInProgress)
	require.NoError(t, err)
	assert.Equal(t, StageReviewInProgress, next)

	// A resume target must be a live stage.
	_, err = Next(StageEscalated, EventResolveEscalation, StageCompleted)
	assert.Error(t, err)
	_, err = Next(StageEscalated, EventResolveEscalation, "")
	assert.Error(t, err)
}

func TestNext_CancelFromAnyNonTerminal(t *testing.T) {
	for _, s := range allStages {
		next, err := Next(s, EventCancel, "")
		if s.Terminal() {
			assert.Error(t, err, "cancel from %s", s)
			continue
		}
		require.NoError(t, err, "cancel from %s", s)
		assert.Equal(t, StageCancelled, next)
	}
}

func TestNext_InvalidPairsRejectEverything(t *testing.T) {
	valid := func(s Stage, ev Event) bool {
		_, err := Next(s, ev, StageReviewInProgress)
		return err == nil
	}

	for _, s := range allStages {
		for _, ev := range allEvents {
			if valid(s, ev) {
				continue
			}
			_, err := Next(s, ev, StageReviewInProgress)
			var invalid *InvalidTransitionError
			require.ErrorAs(t, err, &invalid, "stage %s event %s", s, ev)
			assert.Equal(t, s, invalid.From)
			assert.Equal(t, ev, invalid.Event)
		}
	}
}

func TestApply_FailureLeavesContextUnchanged(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := NewContext(ManuscriptProfile{
		ID:           "m-1",
		Title:        "Spin dynamics",
		SubjectAreas: []string{"physics"},
		Urgency:      UrgencyMedium,
		SubmittedAt:  now,
	}, 2, now)

	before := ctx.Clone()

	err := Apply(ctx, EventDecisionMade, now.Add(time.Hour))
	require.Error(t, err)
	assert.True(t, reflect.DeepEqual(before, ctx), "failed transition must not mutate the context")
}

func TestApply_RecordsHistoryAndEscalationBookkeeping(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := NewContext(ManuscriptProfile{
		ID:           "m-2",
		Title:        "Catalysis review",
		SubjectAreas: []string{"chemistry"},
		Urgency:      UrgencyHigh,
		SubmittedAt:  now,
	}, 2, now)

	require.NoError(t, Apply(ctx, EventReviewersMatched, now.Add(time.Minute)))
	require.NoError(t, Apply(ctx, EventEscalate, now.Add(2*time.Minute)))
	assert.Equal(t, StageEscalated, ctx.Stage)
	assert.Equal(t, StageReviewerAssignment, ctx.EscalatedFrom)

	require.NoError(t, Apply(ctx, EventResolveEscalation, now.Add(3*time.Minute)))
	assert.Equal(t, StageReviewerAssignment, ctx.Stage)
	assert.Empty(t, ctx.EscalatedFrom)

	wantHistory := []Stage{
		StageInitiated, StageReviewerAssignment, StageEscalated, StageReviewerAssignment,
	}
	require.Len(t, ctx.StageHistory, len(wantHistory))
	for i, rec := range ctx.StageHistory {
		assert.Equal(t, wantHistory[i], rec.Stage)
	}
	assert.True(t, !ctx.UpdatedAt.Before(ctx.CreatedAt))
}
