package coordination

import "fmt"

// Inbound journal-platform events arrive on "journal.event.<type>" and
// outbound coordination lifecycle events are published on
// "coordination.event.<category>.<manuscript_id>", enabling type-safe
// subscribe and subject-based routing.

// JournalEventSubjectPrefix is the wildcard root of the inbound feed.
const JournalEventSubjectPrefix = "journal.event"

// JournalEventWildcard subscribes to every inbound platform event.
const JournalEventWildcard = JournalEventSubjectPrefix + ".>"

// JournalEventSubject returns the subject for one inbound event type.
func JournalEventSubject(t WebhookEventType) string {
	return fmt.Sprintf("%s.%s", JournalEventSubjectPrefix, t)
}

// Outbound lifecycle subjects.
const (
	stageChangedSubject = "coordination.event.stage-changed.%s"
	escalationSubject   = "coordination.event.escalation.%s"
	reminderSubject     = "coordination.event.reminder.%s"
)

// StageChangedSubject returns the per-manuscript stage change subject.
func StageChangedSubject(manuscriptID string) string {
	return fmt.Sprintf(stageChangedSubject, manuscriptID)
}

// EscalationSubject returns the per-manuscript escalation subject.
func EscalationSubject(manuscriptID string) string {
	return fmt.Sprintf(escalationSubject, manuscriptID)
}

// ReminderSubject returns the per-manuscript reminder subject.
func ReminderSubject(manuscriptID string) string {
	return fmt.Sprintf(reminderSubject, manuscriptID)
}
