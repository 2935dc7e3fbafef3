package platform

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/openjournal/peerflow/coordination"
)

// Notification is one queued delivery request.
type Notification struct {
	TemplateID string
	Recipient  string
	Data       map[string]string
}

// Dispatcher is the fire-and-forget delivery layer in front of a
// Notifier. Enqueue never blocks the caller; deliveries are retried
// with backoff and failures are logged, never surfaced to coordination
// operations.
type Dispatcher struct {
	notifier Notifier
	logger   *slog.Logger

	queue      chan Notification
	maxRetries int
	backoff    time.Duration

	wg     sync.WaitGroup
	cancel context.CancelFunc

	mu      sync.Mutex
	running bool
}

// DispatcherConfig tunes the delivery layer.
type DispatcherConfig struct {
	QueueSize  int           `yaml:"queue_size"`
	MaxRetries int           `yaml:"max_retries"`
	Backoff    time.Duration `yaml:"backoff"`
}

// DefaultDispatcherConfig returns sensible delivery defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		QueueSize:  256,
		MaxRetries: 3,
		Backoff:    2 * time.Second,
	}
}

// NewDispatcher creates a stopped dispatcher.
func NewDispatcher(n Notifier, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultDispatcherConfig().QueueSize
	}
	return &Dispatcher{
		notifier:   n,
		logger:     logger,
		queue:      make(chan Notification, cfg.QueueSize),
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
	}
}

// Start launches the delivery worker.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true

	workerCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.wg.Add(1)
	go d.deliverLoop(workerCtx)
}

// Stop drains the worker.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
}

// Enqueue queues a notification without blocking. When the queue is
// full the notification is dropped and logged; the platform's own
// reminder cycle will produce another one.
func (d *Dispatcher) Enqueue(n Notification) {
	select {
	case d.queue <- n:
	default:
		d.logger.Warn("notification queue full, dropping",
			"template", n.TemplateID,
			"recipient", n.Recipient)
	}
}

func (d *Dispatcher) deliverLoop(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-d.queue:
			d.deliver(ctx, n)
		}
	}
}

// deliver attempts one notification with bounded retries.
func (d *Dispatcher) deliver(ctx context.Context, n Notification) {
	var lastErr error
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.backoff * time.Duration(attempt)):
			}
		}

		deliveryID, err := d.notifier.Send(ctx, n.TemplateID, n.Recipient, n.Data)
		if err == nil {
			d.logger.Debug("notification delivered",
				"template", n.TemplateID,
				"recipient", n.Recipient,
				"delivery_id", deliveryID)
			return
		}
		lastErr = &coordination.ExternalDispatchError{Collaborator: "notifier", Err: err}
	}

	d.logger.Error("notification delivery failed",
		"template", n.TemplateID,
		"recipient", n.Recipient,
		"error", lastErr)
}
