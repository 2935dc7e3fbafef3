// Package platform holds the boundary to external collaborators: the
// journal platform data source and webhook feed, the notification
// channel, the opaque quality scorer, and the reviewer directory.
// Coordination logic depends only on the interfaces here; the adapters
// are swappable and every failure is caught at this boundary.
package platform

import (
	"context"
	"time"

	"github.com/openjournal/peerflow/coordination"
)

// ManuscriptSource fetches manuscript profiles from the journal
// platform.
type ManuscriptSource interface {
	GetManuscript(ctx context.Context, id string) (coordination.ManuscriptProfile, error)
}

// ReviewerDirectory supplies reviewer pool snapshots. Reads are
// snapshots; the directory owns all reviewer mutation.
type ReviewerDirectory interface {
	ReviewerPool(ctx context.Context) ([]coordination.ReviewerProfile, error)
}

// Notifier delivers a templated notification. Best-effort,
// at-least-once; coordination logic never blocks on the result.
type Notifier interface {
	Send(ctx context.Context, templateID, recipient string, data map[string]string) (deliveryID string, err error)
}

// Scorer assesses submitted review texts and returns an aggregate
// quality score. Opaque; failures are ExternalDispatchError and
// non-fatal to coordination.
type Scorer interface {
	Assess(ctx context.Context, reviewTexts []string) (float64, error)
}

// EventHandler receives decoded journal webhook events.
type EventHandler interface {
	HandleWebhook(ctx context.Context, ev *coordination.WebhookEvent) error
}

// EventPublisher publishes outbound coordination lifecycle events.
type EventPublisher interface {
	PublishStageChanged(ctx context.Context, ev coordination.StageChangedEvent) error
	PublishEscalation(ctx context.Context, ev coordination.EscalationEvent) error
	PublishReminder(ctx context.Context, ev coordination.ReminderEvent) error
}

// Clock abstracts time for deterministic tests.
type Clock func() time.Time

// SystemClock is the wall clock.
func SystemClock() time.Time { return time.Now() }
