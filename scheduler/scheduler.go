package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openjournal/peerflow/coordination"
	"github.com/openjournal/peerflow/intervention"
	"github.com/openjournal/peerflow/matcher"
	"github.com/openjournal/peerflow/metrics"
	"github.com/openjournal/peerflow/platform"
	"github.com/openjournal/peerflow/rules"
	"github.com/openjournal/peerflow/storage"
)

// Archiver receives terminal contexts and persisted intervention
// records. *storage.Archive satisfies it; tests use an in-memory one.
type Archiver interface {
	Put(ctx context.Context, c *coordination.Context, now time.Time) error
	Get(ctx context.Context, manuscriptID string) (*storage.ArchivedContext, error)
	AppendIntervention(ctx context.Context, rec coordination.InterventionRecord) error
}

// Config tunes the scheduler.
type Config struct {
	// TickInterval drives periodic rule evaluation.
	TickInterval time.Duration `yaml:"tick_interval"`

	// LockTimeout bounds per-manuscript lock acquisition; timing out
	// yields ConcurrencyConflictError to the caller.
	LockTimeout time.Duration `yaml:"lock_timeout"`

	// Workers bounds concurrent per-manuscript evaluation jobs in one
	// tick.
	Workers int `yaml:"workers"`

	// DefaultReviewers is the k used for coordinations initiated from
	// the webhook feed.
	DefaultReviewers int `yaml:"default_reviewers"`
}

// DefaultConfig returns the standard scheduler settings.
func DefaultConfig() Config {
	return Config{
		TickInterval:     time.Minute,
		LockTimeout:      5 * time.Second,
		Workers:          8,
		DefaultReviewers: 2,
	}
}

// Validate checks the scheduler settings.
func (c Config) Validate() error {
	if c.TickInterval <= 0 {
		return &coordination.ValidationError{Field: "tick_interval", Message: "must be positive"}
	}
	if c.LockTimeout <= 0 {
		return &coordination.ValidationError{Field: "lock_timeout", Message: "must be positive"}
	}
	if c.Workers <= 0 {
		return &coordination.ValidationError{Field: "workers", Message: "must be positive"}
	}
	if c.DefaultReviewers <= 0 {
		return &coordination.ValidationError{Field: "default_reviewers", Message: "must be positive"}
	}
	return nil
}

// Scheduler owns the store and drives all coordination mutation: the
// exposed operations, the inbound webhook feed, and the periodic rule
// tick all funnel through its per-manuscript locks.
type Scheduler struct {
	cfg Config

	store     *Store
	matcher   *matcher.Matcher
	pool      *matcher.Pool
	engine    *rules.Engine
	escalator *intervention.Manager
	dispatch  *platform.Dispatcher
	archive   Archiver
	collector *metrics.Collector
	publisher platform.EventPublisher
	source    platform.ManuscriptSource
	scorer    platform.Scorer
	clock     platform.Clock
	logger    *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// Deps carries the scheduler's collaborators.
type Deps struct {
	Matcher   *matcher.Matcher
	Pool      *matcher.Pool
	Engine    *rules.Engine
	Escalator *intervention.Manager
	Dispatch  *platform.Dispatcher
	Archive   Archiver
	Collector *metrics.Collector
	Publisher platform.EventPublisher
	Source    platform.ManuscriptSource
	Scorer    platform.Scorer
	Clock     platform.Clock
	Logger    *slog.Logger
}

// New builds a stopped scheduler.
func New(cfg Config, deps Deps) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Clock == nil {
		deps.Clock = platform.SystemClock
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Scheduler{
		cfg:       cfg,
		store:     NewStore(),
		matcher:   deps.Matcher,
		pool:      deps.Pool,
		engine:    deps.Engine,
		escalator: deps.Escalator,
		dispatch:  deps.Dispatch,
		archive:   deps.Archive,
		collector: deps.Collector,
		publisher: deps.Publisher,
		source:    deps.Source,
		scorer:    deps.Scorer,
		clock:     deps.Clock,
		logger:    deps.Logger,
	}, nil
}

// Start launches the tick loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	s.running = true

	tickCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.tickLoop(tickCtx)

	s.logger.Info("scheduler started",
		"tick_interval", s.cfg.TickInterval,
		"workers", s.cfg.Workers)
	return nil
}

// Stop halts the tick loop and waits for in-flight jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// tickLoop periodically evaluates the automation rules over every
// active context.
func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	// Run immediately on start
	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick evaluates every active context once, bounded by the worker
// pool. Failures in one context never halt the others.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.clock()
	ids := s.store.ActiveIDs()
	if len(ids) == 0 {
		return
	}

	sem := make(chan struct{}, s.cfg.Workers)
	var wg sync.WaitGroup
	for _, id := range ids {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(manuscriptID string) {
			defer wg.Done()
			defer func() { <-sem }()
			s.evaluateOne(ctx, manuscriptID, now)
		}(id)
	}
	wg.Wait()
}

// evaluateOne runs the rule engine against one context and applies the
// resulting actions under its lock.
func (s *Scheduler) evaluateOne(ctx context.Context, manuscriptID string, now time.Time) {
	err := s.withContext(ctx, manuscriptID, func(c *coordination.Context) error {
		actions := s.engine.Evaluate(c, now)
		if len(actions) == 0 {
			return nil
		}
		if err := s.applyActions(ctx, c, actions, now); err != nil {
			return err
		}
		// Boundaries burn only with an applied batch: a failure above
		// leaves them open and the actions retry next tick.
		s.engine.Commit(c.ManuscriptID, actions)
		return nil
	})
	if err != nil {
		var notFound *coordination.NotFoundError
		if errors.As(err, &notFound) {
			return // archived between listing and locking
		}
		s.logger.Error("tick evaluation failed",
			"manuscript", manuscriptID,
			"error", err)
	}
}

// withContext runs fn against a clone of the stored context under the
// manuscript lock. When fn succeeds the clone is swapped in and, if
// terminal, handed to the archive; when fn fails the stored context is
// untouched and the failure streak advances.
func (s *Scheduler) withContext(ctx context.Context, manuscriptID string, fn func(*coordination.Context) error) error {
	if err := s.store.Acquire(manuscriptID, s.cfg.LockTimeout); err != nil {
		if s.collector != nil {
			s.collector.LockConflict()
		}
		return err
	}
	defer s.store.Release(manuscriptID)

	stored, ok := s.store.Get(manuscriptID)
	if !ok {
		return &coordination.NotFoundError{Kind: "coordination", ID: manuscriptID}
	}

	work := stored.Clone()
	if err := fn(work); err != nil {
		stored.FailureStreak++
		if stored.FailureStreak >= degradedThreshold {
			stored.Health = coordination.HealthDegraded
		}
		return err
	}

	work.FailureStreak = 0
	work.Health = coordination.HealthOK
	s.store.Put(work)

	if work.Stage.Terminal() {
		s.finish(ctx, work)
	}
	return nil
}

// degradedThreshold is the consecutive-failure count that flips a
// context's health to degraded.
const degradedThreshold = 3

// finish moves a terminal context out of the active set.
func (s *Scheduler) finish(ctx context.Context, c *coordination.Context) {
	now := s.clock()
	if s.archive != nil {
		if err := s.archive.Put(ctx, c, now); err != nil {
			s.logger.Error("archive context", "manuscript", c.ManuscriptID, "error", err)
		}
	}
	if s.collector != nil {
		s.collector.Finished(c, now)
	}
	s.engine.Forget(c.ManuscriptID)
	for _, id := range c.AssignedReviewerIDs() {
		if a := c.AssignmentFor(id); a != nil && a.InvitationStatus != coordination.InvitationDeclined && a.ReviewStatus != coordination.ReviewSubmitted {
			s.pool.Release(id)
		}
	}
	s.store.Remove(c.ManuscriptID)

	s.logger.Info("coordination finished",
		"manuscript", c.ManuscriptID,
		"stage", c.Stage,
		"escalations", c.EscalationCount)
}

// applyEvent advances the stage and publishes the transition.
func (s *Scheduler) applyEvent(ctx context.Context, c *coordination.Context, ev coordination.Event, now time.Time) error {
	from := c.Stage
	if err := coordination.Apply(c, ev, now); err != nil {
		return err
	}
	if s.collector != nil {
		s.collector.StageChanged(c.Stage)
	}
	if s.publisher != nil {
		pubErr := s.publisher.PublishStageChanged(ctx, coordination.StageChangedEvent{
			ManuscriptID: c.ManuscriptID,
			From:         from,
			To:           c.Stage,
			Trigger:      ev,
			Timestamp:    now,
		})
		if pubErr != nil {
			s.logger.Warn("publish stage change", "manuscript", c.ManuscriptID, "error", pubErr)
		}
	}
	return nil
}
