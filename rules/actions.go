// Package rules evaluates the fixed automation rule set against a
// coordination context and a clock, producing actions for the
// scheduler to apply. Evaluation is deterministic given the context,
// the clock, and the record of boundaries already fired.
package rules

// ActionType is the closed set of automation actions. The scheduler
// applies them with an exhaustive switch; adding a type is a
// compile-time-visible change at that single site.
type ActionType string

// Automation action types.
const (
	ActionSendReminder  ActionType = "send_reminder"
	ActionEscalate      ActionType = "escalate"
	ActionAssessQuality ActionType = "assess_quality"
	ActionAdvanceStage  ActionType = "advance_stage"
	ActionBoostPriority ActionType = "boost_priority"
)

// Action is one automation decision produced by rule evaluation.
type Action struct {
	Type         ActionType
	RuleID       string
	ManuscriptID string

	// ReviewerID scopes assignment-level actions (reminders,
	// escalations); empty for context-level actions.
	ReviewerID string

	// Reason is a human-readable cause carried into notifications and
	// the intervention log.
	Reason string

	// boundary is the debounce key the engine consumes on Commit.
	boundary uint64
}
