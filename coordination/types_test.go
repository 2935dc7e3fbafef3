package coordination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManuscriptProfile_Validate(t *testing.T) {
	base := ManuscriptProfile{
		ID:           "m-1",
		Title:        "A title",
		SubjectAreas: []string{"biology"},
		Urgency:      UrgencyLow,
	}

	tests := []struct {
		name   string
		mutate func(*ManuscriptProfile)
		field  string
	}{
		{"missing id", func(m *ManuscriptProfile) { m.ID = "" }, "id"},
		{"missing title", func(m *ManuscriptProfile) { m.Title = "" }, "title"},
		{"bad urgency", func(m *ManuscriptProfile) { m.Urgency = "frantic" }, "urgency_level"},
		{"no subject areas", func(m *ManuscriptProfile) { m.SubjectAreas = nil }, "subject_areas"},
	}

	require.NoError(t, base.Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := base
			m.SubjectAreas = append([]string(nil), base.SubjectAreas...)
			tt.mutate(&m)
			err := m.Validate()
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestReviewerProfile_WorkloadRatio(t *testing.T) {
	assert.Equal(t, 0.5, ReviewerProfile{CurrentWorkload: 2, MaxWorkload: 4}.WorkloadRatio())
	assert.Equal(t, 1.0, ReviewerProfile{CurrentWorkload: 0, MaxWorkload: 0}.WorkloadRatio())
}

func TestContext_CloneIsIndependent(t *testing.T) {
	now := time.Now()
	last := now.Add(-time.Hour)
	ctx := NewContext(ManuscriptProfile{
		ID: "m-1", Title: "t", SubjectAreas: []string{"cs"}, Urgency: UrgencyLow,
	}, 2, now)
	ctx.Assignments = []Assignment{{
		ReviewerID:       "r-1",
		AssignedAt:       now,
		InvitationStatus: InvitationAccepted,
		ReviewStatus:     ReviewInProgress,
		LastReminderAt:   &last,
	}}

	cp := ctx.Clone()
	cp.Assignments[0].ReviewStatus = ReviewSubmitted
	*cp.Assignments[0].LastReminderAt = now
	cp.StageHistory = append(cp.StageHistory, StageRecord{Stage: StageCancelled, At: now})

	assert.Equal(t, ReviewInProgress, ctx.Assignments[0].ReviewStatus)
	assert.Equal(t, last, *ctx.Assignments[0].LastReminderAt)
	assert.Len(t, ctx.StageHistory, 1)
}

func TestContext_AllReviewsSubmitted(t *testing.T) {
	ctx := &Context{}
	assert.False(t, ctx.AllReviewsSubmitted(), "no assignments means nothing to gate on")

	ctx.Assignments = []Assignment{
		{ReviewerID: "a", ReviewStatus: ReviewSubmitted},
		{ReviewerID: "b", ReviewStatus: ReviewInProgress},
	}
	assert.False(t, ctx.AllReviewsSubmitted())

	ctx.Assignments[1].ReviewStatus = ReviewSubmitted
	assert.True(t, ctx.AllReviewsSubmitted())
}

func TestContext_AllReviewsSubmittedSkipsDeclined(t *testing.T) {
	// A declined slot never owes a review; it must not hold the
	// coordination at REVIEW_SUBMITTED forever.
	ctx := &Context{Assignments: []Assignment{
		{ReviewerID: "a", InvitationStatus: InvitationAccepted, ReviewStatus: ReviewSubmitted},
		{ReviewerID: "b", InvitationStatus: InvitationDeclined},
		{ReviewerID: "c", InvitationStatus: InvitationAccepted, ReviewStatus: ReviewSubmitted},
	}}
	assert.True(t, ctx.AllReviewsSubmitted())

	allDeclined := &Context{Assignments: []Assignment{
		{ReviewerID: "a", InvitationStatus: InvitationDeclined},
	}}
	assert.False(t, allDeclined.AllReviewsSubmitted(), "no live assignment means nothing submitted")
}

func TestContext_AllInvitationsAccepted(t *testing.T) {
	ctx := &Context{}
	assert.False(t, ctx.AllInvitationsAccepted())

	ctx.Assignments = []Assignment{
		{ReviewerID: "a", InvitationStatus: InvitationAccepted},
		{ReviewerID: "b", InvitationStatus: InvitationPending},
	}
	assert.False(t, ctx.AllInvitationsAccepted())

	ctx.Assignments[1].InvitationStatus = InvitationDeclined
	assert.True(t, ctx.AllInvitationsAccepted(), "declined slots do not block the review phase")

	ctx.Assignments[0].InvitationStatus = InvitationDeclined
	assert.False(t, ctx.AllInvitationsAccepted(), "at least one acceptance is required")
}

func TestContext_TouchIsMonotonic(t *testing.T) {
	now := time.Now()
	ctx := NewContext(ManuscriptProfile{
		ID: "m-1", Title: "t", SubjectAreas: []string{"cs"}, Urgency: UrgencyLow,
	}, 1, now)

	ctx.Touch(now.Add(-time.Hour))
	assert.Equal(t, now, ctx.UpdatedAt, "UpdatedAt must never move backwards")

	ctx.Touch(now.Add(time.Hour))
	assert.Equal(t, now.Add(time.Hour), ctx.UpdatedAt)
}
