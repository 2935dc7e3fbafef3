package coordination

import (
	"encoding/json"
	"fmt"
	"time"
)

// WebhookEventType identifies the kind of inbound journal-platform event.
type WebhookEventType string

// Inbound webhook event types.
const (
	WebhookSubmissionCreated WebhookEventType = "submission_created"
	WebhookReviewAssigned    WebhookEventType = "review_assigned"
	WebhookReviewSubmitted   WebhookEventType = "review_submitted"
	WebhookDecisionMade      WebhookEventType = "decision_made"
)

// WebhookEvent is the envelope delivered by the journal platform feed.
type WebhookEvent struct {
	EventType    WebhookEventType `json:"event_type"`
	SubmissionID string           `json:"submission_id"`
	ReviewerID   string           `json:"reviewer_id,omitempty"`
	DecisionID   string           `json:"decision_id,omitempty"`
	Timestamp    time.Time        `json:"timestamp"`
}

// Validate checks the envelope before it is dispatched.
func (e *WebhookEvent) Validate() error {
	switch e.EventType {
	case WebhookSubmissionCreated, WebhookReviewAssigned, WebhookReviewSubmitted, WebhookDecisionMade:
	default:
		return &ValidationError{Field: "event_type", Message: fmt.Sprintf("unknown event type %q", e.EventType)}
	}
	if e.SubmissionID == "" {
		return &ValidationError{Field: "submission_id", Message: "submission_id is required"}
	}
	if (e.EventType == WebhookReviewAssigned || e.EventType == WebhookReviewSubmitted) && e.ReviewerID == "" {
		return &ValidationError{Field: "reviewer_id", Message: "reviewer_id is required for review events"}
	}
	return nil
}

// UnmarshalWebhookEvent decodes and validates a feed message.
func UnmarshalWebhookEvent(data []byte) (*WebhookEvent, error) {
	var e WebhookEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("unmarshal webhook event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// StageChangedEvent is published on every successful stage transition.
type StageChangedEvent struct {
	ManuscriptID string    `json:"manuscript_id"`
	From         Stage     `json:"from"`
	To           Stage     `json:"to"`
	Trigger      Event     `json:"trigger"`
	Timestamp    time.Time `json:"timestamp"`
}

// EscalationEvent is published when an assignment is escalated.
type EscalationEvent struct {
	ManuscriptID    string    `json:"manuscript_id"`
	ReviewerID      string    `json:"reviewer_id,omitempty"`
	Reason          string    `json:"reason"`
	EscalationCount int       `json:"escalation_count"`
	Timestamp       time.Time `json:"timestamp"`
}

// ReminderEvent is published when a reviewer reminder is dispatched.
type ReminderEvent struct {
	ManuscriptID  string    `json:"manuscript_id"`
	ReviewerID    string    `json:"reviewer_id"`
	RemindersSent int       `json:"reminders_sent"`
	Timestamp     time.Time `json:"timestamp"`
}
