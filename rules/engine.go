package rules

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/openjournal/peerflow/coordination"
)

// Priority orders rule evaluation. Higher runs first.
type Priority int

// Rule priorities, critical highest.
const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// firing is a single rule hit: the action plus the idempotency scope
// it fired under.
type firing struct {
	action Action

	// assignmentID scopes the firing to one assignment; empty for
	// context-level rules.
	assignmentID string

	// epoch is the debounce boundary the firing belongs to. A rule
	// fires at most once per (context, rule, assignment, epoch).
	epoch int64
}

// Rule is one automation rule: a predicate plus action production over
// a context snapshot and the current time. Implementations must not
// mutate the context.
type Rule interface {
	ID() string
	Priority() Priority
	Evaluate(ctx *coordination.Context, now time.Time) []firing
}

// Config holds the rule timing knobs.
type Config struct {
	// ReminderAfter is how long a review may sit unfinished before the
	// reviewer is reminded, and the reminder debounce period.
	ReminderAfter time.Duration `yaml:"reminder_after"`

	// MaxReminders caps reminders per assignment.
	MaxReminders int `yaml:"max_reminders"`

	// EscalateAfter is how long after the last reminder an unfinished
	// review escalates, and the escalation debounce period.
	EscalateAfter time.Duration `yaml:"escalate_after"`

	// MinRemindersBeforeEscalation is how many reminders must have
	// gone out before escalation is considered.
	MinRemindersBeforeEscalation int `yaml:"min_reminders_before_escalation"`
}

// DefaultConfig returns the standard rule timings.
func DefaultConfig() Config {
	return Config{
		ReminderAfter:                7 * 24 * time.Hour,
		MaxReminders:                 3,
		EscalateAfter:                3 * 24 * time.Hour,
		MinRemindersBeforeEscalation: 2,
	}
}

// Validate checks the timing knobs.
func (c Config) Validate() error {
	if c.ReminderAfter <= 0 {
		return &coordination.ValidationError{Field: "reminder_after", Message: "must be positive"}
	}
	if c.EscalateAfter <= 0 {
		return &coordination.ValidationError{Field: "escalate_after", Message: "must be positive"}
	}
	if c.MaxReminders < 0 {
		return &coordination.ValidationError{Field: "max_reminders", Message: "must not be negative"}
	}
	return nil
}

// Engine evaluates the fixed rule set in priority order. It remembers
// which (context, rule, assignment, boundary) combinations have fired
// so a boundary is acted on at most once even if a tick repeats before
// the action's effect lands.
type Engine struct {
	rules []Rule

	mu    sync.Mutex
	fired map[string]map[uint64]struct{} // manuscript id -> fired boundary keys
}

// NewEngine builds an engine with the built-in rule set.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{fired: make(map[string]map[uint64]struct{})}
	e.rules = []Rule{
		&overdueEscalation{cfg: cfg},
		&urgentFastTrack{},
		&qualityGate{},
		&reviewerReminder{cfg: cfg},
	}
	sort.SliceStable(e.rules, func(i, j int) bool {
		return e.rules[i].Priority() > e.rules[j].Priority()
	})
	return e, nil
}

// Evaluate runs every rule against the context, in priority order, and
// returns the actions whose debounce boundary has not been committed
// before. Nothing is consumed here: the caller applies the batch and
// then hands it back through Commit, so a failed application leaves
// the boundary open for the next tick. The context is never mutated.
func (e *Engine) Evaluate(ctx *coordination.Context, now time.Time) []Action {
	if ctx.Stage.Terminal() {
		return nil
	}

	var actions []Action
	for _, r := range e.rules {
		for _, f := range r.Evaluate(ctx, now) {
			key := firedKey(r.ID(), f.assignmentID, f.epoch)
			if e.seen(ctx.ManuscriptID, key) {
				continue
			}
			f.action.boundary = key
			actions = append(actions, f.action)
		}
	}
	return actions
}

// Commit consumes the debounce boundaries of an applied batch. Called
// only after the actions' mutations have been swapped in.
func (e *Engine) Commit(manuscriptID string, actions []Action) {
	e.mu.Lock()
	defer e.mu.Unlock()
	keys, ok := e.fired[manuscriptID]
	if !ok {
		keys = make(map[uint64]struct{})
		e.fired[manuscriptID] = keys
	}
	for _, a := range actions {
		keys[a.boundary] = struct{}{}
	}
}

// Forget drops fired-boundary state for a manuscript, called when its
// coordination reaches a terminal stage.
func (e *Engine) Forget(manuscriptID string) {
	e.mu.Lock()
	delete(e.fired, manuscriptID)
	e.mu.Unlock()
}

// seen reports whether a boundary key was already committed.
func (e *Engine) seen(manuscriptID string, key uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.fired[manuscriptID][key]
	return ok
}

// firedKey hashes the per-manuscript idempotency scope of one firing.
func firedKey(ruleID, assignmentID string, epoch int64) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%d", ruleID, assignmentID, epoch)
	return h.Sum64()
}
