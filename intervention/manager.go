// Package intervention applies the escalation policy for stalled
// assignments: first notify the editor, then replace the reviewer
// through the matcher.
package intervention

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openjournal/peerflow/coordination"
	"github.com/openjournal/peerflow/matcher"
	"github.com/openjournal/peerflow/platform"
)

// Actions recorded in the intervention log.
const (
	ActionEditorNotified         = "editor_notified"
	ActionReviewerReplaced       = "reviewer_replaced"
	ActionReplacementUnavailable = "replacement_unavailable"
	ActionCancelled              = "cancelled"
)

// editorRecipient is the template recipient for editor alerts.
const editorRecipient = "editorial-desk"

// Log receives intervention records. Append-only.
type Log interface {
	Append(rec coordination.InterventionRecord) error
	Records(manuscriptID string) []coordination.InterventionRecord
}

// MemoryLog is the in-process intervention log.
type MemoryLog struct {
	mu      sync.Mutex
	records map[string][]coordination.InterventionRecord
}

// NewMemoryLog creates an empty log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{records: make(map[string][]coordination.InterventionRecord)}
}

// Append adds one record.
func (l *MemoryLog) Append(rec coordination.InterventionRecord) error {
	l.mu.Lock()
	l.records[rec.ManuscriptID] = append(l.records[rec.ManuscriptID], rec)
	l.mu.Unlock()
	return nil
}

// Records returns copies of the records for one manuscript.
func (l *MemoryLog) Records(manuscriptID string) []coordination.InterventionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]coordination.InterventionRecord(nil), l.records[manuscriptID]...)
}

// Manager escalates stalled assignments. The first escalation for an
// assignment alerts the editor; a repeat escalation for the same
// assignment replaces the reviewer, excluding everyone who already
// held or declined an assignment on the manuscript.
type Manager struct {
	matcher    *matcher.Matcher
	pool       *matcher.Pool
	dispatcher *platform.Dispatcher
	log        Log
	logger     *slog.Logger
}

// NewManager wires the escalation policy.
func NewManager(m *matcher.Matcher, pool *matcher.Pool, d *platform.Dispatcher, log Log, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		matcher:    m,
		pool:       pool,
		dispatcher: d,
		log:        log,
		logger:     logger,
	}
}

// Escalate applies one escalation to the context. escalation_count
// grows by exactly one per call and exactly one record is appended.
// The context's stage passes through ESCALATED and returns to where it
// was, or to INVITATION_SENT when the reviewer is replaced. The ladder
// position lives on the assignment itself, so it commits or rolls back
// with the rest of the context.
func (m *Manager) Escalate(ctx *coordination.Context, reviewerID, reason string, now time.Time) (coordination.InterventionRecord, error) {
	if err := coordination.Apply(ctx, coordination.EventEscalate, now); err != nil {
		return coordination.InterventionRecord{}, err
	}
	ctx.EscalationCount++

	prior := 0
	if a := ctx.AssignmentFor(reviewerID); a != nil {
		prior = a.Escalations
		a.Escalations++
	}

	var rec coordination.InterventionRecord
	if prior == 0 {
		rec = m.notifyEditor(ctx, reviewerID, reason, now)
		if err := coordination.Apply(ctx, coordination.EventResolveEscalation, now); err != nil {
			return rec, err
		}
	} else {
		rec = m.replaceReviewer(ctx, reviewerID, reason, now)
	}

	if err := m.log.Append(rec); err != nil {
		m.logger.Error("append intervention record", "manuscript", ctx.ManuscriptID, "error", err)
	}
	return rec, nil
}

// RecordCancellation logs a cancellation intervention.
func (m *Manager) RecordCancellation(manuscriptID, reason string, now time.Time) coordination.InterventionRecord {
	rec := coordination.InterventionRecord{
		ManuscriptID: manuscriptID,
		Reason:       reason,
		ActionTaken:  ActionCancelled,
		Timestamp:    now,
	}
	if err := m.log.Append(rec); err != nil {
		m.logger.Error("append intervention record", "manuscript", manuscriptID, "error", err)
	}
	return rec
}

// notifyEditor handles a first escalation: alert only, no reassignment.
func (m *Manager) notifyEditor(ctx *coordination.Context, reviewerID, reason string, now time.Time) coordination.InterventionRecord {
	m.dispatcher.Enqueue(platform.Notification{
		TemplateID: "escalation-editor-alert",
		Recipient:  editorRecipient,
		Data: map[string]string{
			"manuscript_id": ctx.ManuscriptID,
			"reviewer_id":   reviewerID,
			"reason":        reason,
		},
	})

	m.logger.Info("escalation: editor notified",
		"manuscript", ctx.ManuscriptID,
		"reviewer", reviewerID,
		"reason", reason)

	return coordination.InterventionRecord{
		ManuscriptID: ctx.ManuscriptID,
		ReviewerID:   reviewerID,
		Reason:       reason,
		ActionTaken:  ActionEditorNotified,
		Timestamp:    now,
	}
}

// replaceReviewer handles a repeat escalation: swap in a fresh
// reviewer for the stalled slot, leaving the other assignments alone.
func (m *Manager) replaceReviewer(ctx *coordination.Context, reviewerID, reason string, now time.Time) coordination.InterventionRecord {
	exclude := make(map[string]struct{})
	for _, id := range ctx.AssignedReviewerIDs() {
		exclude[id] = struct{}{}
	}

	replacement, err := m.matcher.Match(ctx.Manuscript, m.pool.Snapshot(), 1, exclude, now)
	if err != nil {
		m.logger.Warn("no replacement reviewer available",
			"manuscript", ctx.ManuscriptID,
			"reviewer", reviewerID,
			"error", err)

		// Leave the assignment in place and return to the prior stage;
		// the editor alert still goes out.
		m.dispatcher.Enqueue(platform.Notification{
			TemplateID: "escalation-replacement-unavailable",
			Recipient:  editorRecipient,
			Data: map[string]string{
				"manuscript_id": ctx.ManuscriptID,
				"reviewer_id":   reviewerID,
			},
		})
		if applyErr := coordination.Apply(ctx, coordination.EventResolveEscalation, now); applyErr != nil {
			m.logger.Error("resolve escalation", "manuscript", ctx.ManuscriptID, "error", applyErr)
		}
		return coordination.InterventionRecord{
			ManuscriptID: ctx.ManuscriptID,
			ReviewerID:   reviewerID,
			Reason:       reason,
			ActionTaken:  ActionReplacementUnavailable,
			Timestamp:    now,
		}
	}

	next := replacement[0]
	if err := m.pool.Reserve([]string{next.ReviewerID}); err != nil {
		m.logger.Warn("reserve replacement reviewer", "reviewer", next.ReviewerID, "error", err)
	}
	m.pool.Release(reviewerID)

	for i := range ctx.Assignments {
		if ctx.Assignments[i].ReviewerID == reviewerID {
			ctx.Assignments[i] = next
			break
		}
	}

	// The slot re-enters the invitation flow so the replacement's
	// acceptance is a legal event; accepted reviews on the other slots
	// are untouched. When another assignment already accepted, the
	// context rests at INVITATION_ACCEPTED so their submissions stay
	// legal too.
	ctx.EscalatedFrom = coordination.StageReviewerAssignment
	if err := coordination.Apply(ctx, coordination.EventResolveEscalation, now); err != nil {
		m.logger.Error("resolve escalation", "manuscript", ctx.ManuscriptID, "error", err)
	}
	if err := coordination.Apply(ctx, coordination.EventInvitationsSent, now); err != nil {
		m.logger.Error("re-enter invitation stage", "manuscript", ctx.ManuscriptID, "error", err)
	}
	for i := range ctx.Assignments {
		if ctx.Assignments[i].InvitationStatus == coordination.InvitationAccepted {
			if err := coordination.Apply(ctx, coordination.EventInvitationResponse, now); err != nil {
				m.logger.Error("restore accepted stage", "manuscript", ctx.ManuscriptID, "error", err)
			}
			break
		}
	}

	m.dispatcher.Enqueue(platform.Notification{
		TemplateID: "reviewer-invitation",
		Recipient:  next.ReviewerID,
		Data: map[string]string{
			"manuscript_id": ctx.ManuscriptID,
			"title":         ctx.Manuscript.Title,
		},
	})

	m.logger.Info("escalation: reviewer replaced",
		"manuscript", ctx.ManuscriptID,
		"replaced", reviewerID,
		"replacement", next.ReviewerID)

	return coordination.InterventionRecord{
		ManuscriptID: ctx.ManuscriptID,
		ReviewerID:   reviewerID,
		Reason:       reason,
		ActionTaken:  fmt.Sprintf("%s:%s", ActionReviewerReplaced, next.ReviewerID),
		Timestamp:    now,
	}
}

