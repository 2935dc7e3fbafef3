// Package coordination defines the domain model for peer-review
// coordination: manuscript and reviewer profiles, assignments, the
// per-manuscript coordination context, and the stage state machine
// that governs its lifecycle.
package coordination

import (
	"fmt"
	"time"
)

// Urgency represents the urgency level of a manuscript.
type Urgency string

// Manuscript urgency levels.
const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Valid reports whether the urgency is one of the known levels.
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyCritical:
		return true
	}
	return false
}

// Availability represents a reviewer's current availability.
type Availability string

// Reviewer availability states.
const (
	AvailabilityAvailable   Availability = "available"
	AvailabilityLimited     Availability = "limited"
	AvailabilityUnavailable Availability = "unavailable"
)

// Score returns the availability contribution used by the matcher.
func (a Availability) Score() float64 {
	switch a {
	case AvailabilityAvailable:
		return 1.0
	case AvailabilityLimited:
		return 0.5
	default:
		return 0.0
	}
}

// InvitationStatus tracks a reviewer's response to an invitation.
type InvitationStatus string

// Invitation statuses.
const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationDeclined InvitationStatus = "declined"
)

// ReviewStatus tracks progress of a single review.
type ReviewStatus string

// Review statuses.
const (
	ReviewNotStarted ReviewStatus = "not_started"
	ReviewInProgress ReviewStatus = "in_progress"
	ReviewSubmitted  ReviewStatus = "submitted"
)

// Health indicates whether a coordination is progressing normally.
type Health string

// Coordination health states. A context flips to degraded after
// repeated evaluation failures but its stage and data are untouched.
const (
	HealthOK       Health = "ok"
	HealthDegraded Health = "degraded"
)

// ManuscriptProfile describes a submitted manuscript. Immutable after
// creation; the coordinator only ever reads it.
type ManuscriptProfile struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	SubjectAreas []string  `json:"subject_areas"`
	Keywords     []string  `json:"keywords,omitempty"`
	Urgency      Urgency   `json:"urgency_level"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// Validate checks the profile before any coordination state is created.
func (m ManuscriptProfile) Validate() error {
	if m.ID == "" {
		return &ValidationError{Field: "id", Message: "manuscript id is required"}
	}
	if m.Title == "" {
		return &ValidationError{Field: "title", Message: "title is required"}
	}
	if !m.Urgency.Valid() {
		return &ValidationError{Field: "urgency_level", Message: fmt.Sprintf("unknown urgency %q", m.Urgency)}
	}
	if len(m.SubjectAreas) == 0 {
		return &ValidationError{Field: "subject_areas", Message: "at least one subject area is required"}
	}
	return nil
}

// Topics returns the union of subject areas and keywords, deduplicated.
// This is the manuscript side of the expertise similarity computed by
// the matcher.
func (m ManuscriptProfile) Topics() map[string]struct{} {
	topics := make(map[string]struct{}, len(m.SubjectAreas)+len(m.Keywords))
	for _, s := range m.SubjectAreas {
		topics[s] = struct{}{}
	}
	for _, k := range m.Keywords {
		topics[k] = struct{}{}
	}
	return topics
}

// ReviewerProfile is a snapshot of a reviewer taken from the external
// directory. It is read-only within a single matching call; the directory
// owns all mutation.
type ReviewerProfile struct {
	ID              string       `json:"id"`
	Expertise       []string     `json:"expertise"`
	QualityScore    float64      `json:"quality_score"`
	CurrentWorkload int          `json:"current_workload"`
	MaxWorkload     int          `json:"max_workload"`
	Availability    Availability `json:"availability"`
}

// WorkloadRatio returns current workload over capacity. A reviewer with
// no declared capacity is treated as fully loaded.
func (r ReviewerProfile) WorkloadRatio() float64 {
	if r.MaxWorkload <= 0 {
		return 1.0
	}
	return float64(r.CurrentWorkload) / float64(r.MaxWorkload)
}

// Assignment pairs one reviewer with one manuscript for one review
// cycle. A reviewer appears at most once per coordination.
type Assignment struct {
	ReviewerID       string           `json:"reviewer_id"`
	AssignedAt       time.Time        `json:"assigned_at"`
	InvitationStatus InvitationStatus `json:"invitation_status"`
	ReviewStatus     ReviewStatus     `json:"review_status"`
	RemindersSent    int              `json:"reminders_sent"`
	LastReminderAt   *time.Time       `json:"last_reminder_at,omitempty"`

	// Escalations counts how often this assignment has been escalated.
	// Living on the assignment keeps the ladder position inside the
	// context, so a discarded clone discards the step with it.
	Escalations int `json:"escalations,omitempty"`
}

// StageRecord is one entry in the append-only stage history.
type StageRecord struct {
	Stage Stage     `json:"stage"`
	At    time.Time `json:"at"`
}

// Context is the coordination state for one manuscript: the single
// source of truth for its review lifecycle. All mutation goes through
// the scheduler, one mutation in flight per manuscript.
type Context struct {
	ManuscriptID string            `json:"manuscript_id"`
	Manuscript   ManuscriptProfile `json:"manuscript"`

	Stage Stage `json:"stage"`

	// EscalatedFrom records the stage held when the context entered
	// ESCALATED, so resolution can return to it.
	EscalatedFrom Stage `json:"escalated_from,omitempty"`

	// RequiredReviewers is the reviewer count requested at initiation.
	RequiredReviewers int `json:"required_reviewers"`

	Assignments []Assignment `json:"assignments"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	EscalationCount int           `json:"escalation_count"`
	StageHistory    []StageRecord `json:"stage_history"`

	Health Health `json:"health"`

	// FailureStreak counts consecutive rule-evaluation failures; at
	// three the health flips to degraded.
	FailureStreak int `json:"failure_streak,omitempty"`

	// Boosted marks a critical manuscript fast-tracked by automation.
	// Scheduling hint only; it never changes the stage.
	Boosted bool `json:"boosted,omitempty"`
}

// NewContext creates a coordination context in the INITIATED stage.
func NewContext(m ManuscriptProfile, k int, now time.Time) *Context {
	return &Context{
		ManuscriptID:      m.ID,
		Manuscript:        m,
		Stage:             StageInitiated,
		RequiredReviewers: k,
		CreatedAt:         now,
		UpdatedAt:         now,
		StageHistory:      []StageRecord{{Stage: StageInitiated, At: now}},
		Health:            HealthOK,
	}
}

// Clone returns a deep copy. The scheduler mutates a clone and swaps it
// in only on success, so a failed transition leaves the stored context
// byte-for-byte unchanged.
func (c *Context) Clone() *Context {
	cp := *c
	cp.Assignments = make([]Assignment, len(c.Assignments))
	copy(cp.Assignments, c.Assignments)
	cp.StageHistory = make([]StageRecord, len(c.StageHistory))
	copy(cp.StageHistory, c.StageHistory)
	for i := range cp.Assignments {
		if c.Assignments[i].LastReminderAt != nil {
			t := *c.Assignments[i].LastReminderAt
			cp.Assignments[i].LastReminderAt = &t
		}
	}
	cp.Manuscript.SubjectAreas = append([]string(nil), c.Manuscript.SubjectAreas...)
	cp.Manuscript.Keywords = append([]string(nil), c.Manuscript.Keywords...)
	return &cp
}

// AssignmentFor returns the assignment for a reviewer, or nil.
func (c *Context) AssignmentFor(reviewerID string) *Assignment {
	for i := range c.Assignments {
		if c.Assignments[i].ReviewerID == reviewerID {
			return &c.Assignments[i]
		}
	}
	return nil
}

// AssignedReviewerIDs returns every reviewer id that ever held an
// assignment on this coordination, including declined ones.
func (c *Context) AssignedReviewerIDs() []string {
	ids := make([]string, 0, len(c.Assignments))
	for _, a := range c.Assignments {
		ids = append(ids, a.ReviewerID)
	}
	return ids
}

// AllReviewsSubmitted reports whether every live assignment has a
// submitted review. Declined assignments keep their slot in the list
// for exclusion tracking but never owe a review. False when no live
// assignment exists.
func (c *Context) AllReviewsSubmitted() bool {
	live := 0
	for _, a := range c.Assignments {
		if a.InvitationStatus == InvitationDeclined {
			continue
		}
		live++
		if a.ReviewStatus != ReviewSubmitted {
			return false
		}
	}
	return live > 0
}

// AllInvitationsAccepted reports whether every live assignment has an
// accepted invitation. False while any invitation is still pending or
// when no live assignment exists.
func (c *Context) AllInvitationsAccepted() bool {
	accepted := 0
	for _, a := range c.Assignments {
		switch a.InvitationStatus {
		case InvitationDeclined:
		case InvitationAccepted:
			accepted++
		default:
			return false
		}
	}
	return accepted > 0
}

// RecordStage appends to the stage history and bumps UpdatedAt. History
// only grows and UpdatedAt never moves backwards.
func (c *Context) RecordStage(s Stage, now time.Time) {
	c.Stage = s
	c.StageHistory = append(c.StageHistory, StageRecord{Stage: s, At: now})
	c.Touch(now)
}

// Touch advances UpdatedAt, keeping it monotonically non-decreasing.
func (c *Context) Touch(now time.Time) {
	if now.After(c.UpdatedAt) {
		c.UpdatedAt = now
	}
}

// InterventionRecord is one append-only entry in the intervention log.
type InterventionRecord struct {
	ManuscriptID string    `json:"manuscript_id"`
	ReviewerID   string    `json:"reviewer_id,omitempty"`
	Reason       string    `json:"reason"`
	ActionTaken  string    `json:"action_taken"`
	Timestamp    time.Time `json:"timestamp"`
}
