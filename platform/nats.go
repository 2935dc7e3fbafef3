package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/openjournal/peerflow/coordination"
)

// WebhookConsumer subscribes to the journal-platform event feed and
// routes decoded events into an EventHandler. Malformed or failing
// messages are logged and dropped; the feed never stalls on one bad
// event.
type WebhookConsumer struct {
	conn    *nats.Conn
	handler EventHandler
	logger  *slog.Logger
	sub     *nats.Subscription
}

// NewWebhookConsumer creates a stopped consumer.
func NewWebhookConsumer(conn *nats.Conn, handler EventHandler, logger *slog.Logger) *WebhookConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookConsumer{conn: conn, handler: handler, logger: logger}
}

// Start subscribes to the inbound feed wildcard.
func (c *WebhookConsumer) Start(ctx context.Context) error {
	sub, err := c.conn.Subscribe(coordination.JournalEventWildcard, func(msg *nats.Msg) {
		ev, err := coordination.UnmarshalWebhookEvent(msg.Data)
		if err != nil {
			c.logger.Warn("dropping malformed webhook event",
				"subject", msg.Subject,
				"error", err)
			return
		}
		if err := c.handler.HandleWebhook(ctx, ev); err != nil {
			c.logger.Error("webhook event handling failed",
				"subject", msg.Subject,
				"event_type", ev.EventType,
				"submission", ev.SubmissionID,
				"error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", coordination.JournalEventWildcard, err)
	}
	c.sub = sub

	c.logger.Info("webhook feed subscribed", "subject", coordination.JournalEventWildcard)
	return nil
}

// Stop unsubscribes from the feed.
func (c *WebhookConsumer) Stop() error {
	if c.sub == nil {
		return nil
	}
	return c.sub.Unsubscribe()
}

// NATSPublisher publishes outbound coordination lifecycle events on
// the per-manuscript subject taxonomy.
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher wraps a connection.
func NewNATSPublisher(conn *nats.Conn) *NATSPublisher {
	return &NATSPublisher{conn: conn}
}

// PublishStageChanged publishes a stage transition.
func (p *NATSPublisher) PublishStageChanged(_ context.Context, ev coordination.StageChangedEvent) error {
	return p.publish(coordination.StageChangedSubject(ev.ManuscriptID), ev)
}

// PublishEscalation publishes an escalation.
func (p *NATSPublisher) PublishEscalation(_ context.Context, ev coordination.EscalationEvent) error {
	return p.publish(coordination.EscalationSubject(ev.ManuscriptID), ev)
}

// PublishReminder publishes a reminder dispatch.
func (p *NATSPublisher) PublishReminder(_ context.Context, ev coordination.ReminderEvent) error {
	return p.publish(coordination.ReminderSubject(ev.ManuscriptID), ev)
}

func (p *NATSPublisher) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// notificationSubject carries outbound notifications to the journal
// platform's delivery service.
const notificationSubject = "journal.notify"

// notifyMessage is the wire shape of one notification request.
type notifyMessage struct {
	DeliveryID string            `json:"delivery_id"`
	TemplateID string            `json:"template_id"`
	Recipient  string            `json:"recipient"`
	Data       map[string]string `json:"data,omitempty"`
}

// NATSNotifier implements Notifier over the platform's notification
// subject. Delivery past the broker is the platform's concern;
// at-least-once comes from the dispatch layer's retries.
type NATSNotifier struct {
	conn *nats.Conn
}

// NewNATSNotifier wraps a connection.
func NewNATSNotifier(conn *nats.Conn) *NATSNotifier {
	return &NATSNotifier{conn: conn}
}

// Send publishes one notification request and returns its delivery id.
func (n *NATSNotifier) Send(_ context.Context, templateID, recipient string, data map[string]string) (string, error) {
	msg := notifyMessage{
		DeliveryID: uuid.New().String(),
		TemplateID: templateID,
		Recipient:  recipient,
		Data:       data,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal notification: %w", err)
	}
	if err := n.conn.Publish(notificationSubject, payload); err != nil {
		return "", fmt.Errorf("publish to %s: %w", notificationSubject, err)
	}
	return msg.DeliveryID, nil
}

// scorerSubject is the request subject for quality assessment.
const scorerSubject = "journal.quality.assess"

// NATSScorer implements Scorer over NATS request/reply. The model
// serving behind the subject is opaque to this service.
type NATSScorer struct {
	conn *nats.Conn
}

// NewNATSScorer wraps a connection.
func NewNATSScorer(conn *nats.Conn) *NATSScorer {
	return &NATSScorer{conn: conn}
}

// Assess submits review texts and returns the aggregate quality score.
func (s *NATSScorer) Assess(ctx context.Context, reviewTexts []string) (float64, error) {
	payload, err := json.Marshal(reviewTexts)
	if err != nil {
		return 0, fmt.Errorf("marshal review texts: %w", err)
	}
	reply, err := s.conn.RequestWithContext(ctx, scorerSubject, payload)
	if err != nil {
		return 0, &coordination.ExternalDispatchError{Collaborator: "scorer", Err: err}
	}

	var result struct {
		QualityScore float64 `json:"quality_score"`
	}
	if err := json.Unmarshal(reply.Data, &result); err != nil {
		return 0, fmt.Errorf("unmarshal quality score: %w", err)
	}
	return result.QualityScore, nil
}

// manuscriptSubject is the request subject for manuscript lookups.
const manuscriptSubject = "journal.manuscript.get"

// NATSManuscriptSource fetches manuscript profiles over NATS
// request/reply.
type NATSManuscriptSource struct {
	conn *nats.Conn
}

// NewNATSManuscriptSource wraps a connection.
func NewNATSManuscriptSource(conn *nats.Conn) *NATSManuscriptSource {
	return &NATSManuscriptSource{conn: conn}
}

// GetManuscript requests one manuscript profile from the platform.
func (s *NATSManuscriptSource) GetManuscript(ctx context.Context, id string) (coordination.ManuscriptProfile, error) {
	reply, err := s.conn.RequestWithContext(ctx, manuscriptSubject, []byte(id))
	if err != nil {
		return coordination.ManuscriptProfile{}, &coordination.ExternalDispatchError{Collaborator: "journal-platform", Err: err}
	}
	if len(reply.Data) == 0 {
		return coordination.ManuscriptProfile{}, &coordination.NotFoundError{Kind: "manuscript", ID: id}
	}

	var ms coordination.ManuscriptProfile
	if err := json.Unmarshal(reply.Data, &ms); err != nil {
		return coordination.ManuscriptProfile{}, fmt.Errorf("unmarshal manuscript %s: %w", id, err)
	}
	return ms, nil
}
