// Package storage persists finished coordination contexts and the
// intervention log in NATS KV.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/openjournal/peerflow/coordination"
)

// Bucket names.
const (
	BucketArchive       = "PEERFLOW_ARCHIVE"
	BucketInterventions = "PEERFLOW_INTERVENTIONS"
)

// ArchivedContext is the record written when a manuscript reaches a
// terminal stage. The live context is dropped from memory once this
// exists.
type ArchivedContext struct {
	Context    coordination.Context `json:"context"`
	ArchivedAt time.Time            `json:"archived_at"`
}

// CoordinationDays reports how long the coordination ran, in
// fractional days, for the metrics rollup.
func (a ArchivedContext) CoordinationDays() float64 {
	return a.Context.UpdatedAt.Sub(a.Context.CreatedAt).Hours() / 24
}

// Archive provides KV-backed storage for terminal contexts and
// intervention records.
type Archive struct {
	contexts      jetstream.KeyValue
	interventions jetstream.KeyValue
}

// NewArchive creates the archive, creating the KV buckets if they
// don't exist.
func NewArchive(ctx context.Context, js jetstream.JetStream) (*Archive, error) {
	contexts, err := getOrCreateBucket(ctx, js, BucketArchive)
	if err != nil {
		return nil, fmt.Errorf("create archive bucket: %w", err)
	}

	interventions, err := getOrCreateBucket(ctx, js, BucketInterventions)
	if err != nil {
		return nil, fmt.Errorf("create interventions bucket: %w", err)
	}

	return &Archive{
		contexts:      contexts,
		interventions: interventions,
	}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	// Bucket doesn't exist, create it
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("Peerflow %s storage", strings.ToLower(name)),
		History:     5, // Keep last 5 revisions
	})
}

// Put archives a terminal context. Re-archiving the same manuscript
// overwrites the previous record, which keeps Cancel idempotent.
func (a *Archive) Put(ctx context.Context, c *coordination.Context, now time.Time) error {
	if !c.Stage.Terminal() {
		return fmt.Errorf("archive %s: stage %s is not terminal", c.ManuscriptID, c.Stage)
	}

	rec := ArchivedContext{Context: *c.Clone(), ArchivedAt: now}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal archived context: %w", err)
	}

	if _, err := a.contexts.Put(ctx, kvKey(c.ManuscriptID), data); err != nil {
		return fmt.Errorf("store archived context: %w", err)
	}
	return nil
}

// Get retrieves an archived context by manuscript ID.
func (a *Archive) Get(ctx context.Context, manuscriptID string) (*ArchivedContext, error) {
	entry, err := a.contexts.Get(ctx, kvKey(manuscriptID))
	if err != nil {
		if isNotFound(err) {
			return nil, &coordination.NotFoundError{Kind: "manuscript", ID: manuscriptID}
		}
		return nil, fmt.Errorf("get archived context: %w", err)
	}

	var rec ArchivedContext
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal archived context: %w", err)
	}
	return &rec, nil
}

// List returns all archived contexts.
func (a *Archive) List(ctx context.Context) ([]*ArchivedContext, error) {
	keys, err := a.contexts.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil, nil
		}
		return nil, fmt.Errorf("list archive keys: %w", err)
	}

	out := make([]*ArchivedContext, 0, len(keys))
	for _, key := range keys {
		entry, err := a.contexts.Get(ctx, key)
		if err != nil {
			continue // Skip entries that fail to load
		}
		var rec ArchivedContext
		if err := json.Unmarshal(entry.Value(), &rec); err != nil {
			continue
		}
		out = append(out, &rec)
	}
	return out, nil
}

// AppendIntervention persists one intervention record. Records for a
// manuscript are stored as a single JSON array under its key.
func (a *Archive) AppendIntervention(ctx context.Context, rec coordination.InterventionRecord) error {
	key := kvKey(rec.ManuscriptID)

	var records []coordination.InterventionRecord
	entry, err := a.interventions.Get(ctx, key)
	switch {
	case err == nil:
		if err := json.Unmarshal(entry.Value(), &records); err != nil {
			return fmt.Errorf("unmarshal intervention log: %w", err)
		}
	case isNotFound(err):
		// first record for this manuscript
	default:
		return fmt.Errorf("get intervention log: %w", err)
	}

	records = append(records, rec)
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal intervention log: %w", err)
	}

	if _, err := a.interventions.Put(ctx, key, data); err != nil {
		return fmt.Errorf("store intervention log: %w", err)
	}
	return nil
}

// Interventions returns the persisted records for one manuscript, in
// append order. A manuscript with no interventions yields an empty
// slice, not an error.
func (a *Archive) Interventions(ctx context.Context, manuscriptID string) ([]coordination.InterventionRecord, error) {
	entry, err := a.interventions.Get(ctx, kvKey(manuscriptID))
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get intervention log: %w", err)
	}

	var records []coordination.InterventionRecord
	if err := json.Unmarshal(entry.Value(), &records); err != nil {
		return nil, fmt.Errorf("unmarshal intervention log: %w", err)
	}
	return records, nil
}

// kvKey maps a manuscript ID to a valid KV key. NATS KV keys only
// allow a limited character set, so anything else becomes an
// underscore.
func kvKey(manuscriptID string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, manuscriptID)
}

// isNotFound checks if an error indicates a key was not found.
func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "key not found")
}
