package platform

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/openjournal/peerflow/coordination"
)

// reviewerDoc is the on-disk shape of the reviewer pool file.
type reviewerDoc struct {
	Reviewers []reviewerEntry `yaml:"reviewers"`
}

type reviewerEntry struct {
	ID              string   `yaml:"id"`
	Expertise       []string `yaml:"expertise"`
	QualityScore    float64  `yaml:"quality_score"`
	CurrentWorkload int      `yaml:"current_workload"`
	MaxWorkload     int      `yaml:"max_workload"`
	Availability    string   `yaml:"availability"`
}

// FileDirectory is a ReviewerDirectory backed by a YAML file. The file
// is reloaded on change via fsnotify with debounce, so editors can
// update the pool without a restart.
type FileDirectory struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger

	mu        sync.RWMutex
	reviewers []coordination.ReviewerProfile

	onReload func([]coordination.ReviewerProfile)

	watcher *fsnotify.Watcher
	pending chan struct{}
	wg      sync.WaitGroup
}

// NewFileDirectory loads the pool file and prepares the watcher.
// onReload, if non-nil, receives every fresh snapshot, including the
// initial load.
func NewFileDirectory(path string, debounce time.Duration, onReload func([]coordination.ReviewerProfile), logger *slog.Logger) (*FileDirectory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	d := &FileDirectory{
		path:     path,
		debounce: debounce,
		logger:   logger,
		onReload: onReload,
		pending:  make(chan struct{}, 1),
	}
	if err := d.reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// ReviewerPool returns the current snapshot.
func (d *FileDirectory) ReviewerPool(_ context.Context) ([]coordination.ReviewerProfile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]coordination.ReviewerProfile(nil), d.reviewers...), nil
}

// Start begins watching the pool file for changes.
func (d *FileDirectory) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	d.watcher = fsw

	// Watch the directory: editors typically replace the file, which
	// swaps the inode a file-level watch would lose.
	if err := fsw.Add(filepath.Dir(d.path)); err != nil {
		fsw.Close()
		return err
	}

	d.wg.Add(1)
	go d.processEvents(ctx)

	d.logger.Info("reviewer directory watcher started",
		"path", d.path,
		"debounce", d.debounce)
	return nil
}

// Stop halts the watcher.
func (d *FileDirectory) Stop() error {
	if d.watcher == nil {
		return nil
	}
	err := d.watcher.Close()
	d.wg.Wait()
	return err
}

// processEvents handles fsnotify events with debouncing.
func (d *FileDirectory) processEvents(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(d.path) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				select {
				case d.pending <- struct{}{}:
				default:
				}
			}

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Error("reviewer directory watch error", "error", err)

		case <-ticker.C:
			select {
			case <-d.pending:
				if err := d.reload(); err != nil {
					d.logger.Error("reviewer directory reload failed",
						"path", d.path,
						"error", err)
				}
			default:
			}
		}
	}
}

// reload reads and applies the pool file.
func (d *FileDirectory) reload() error {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("read reviewer pool file: %w", err)
	}

	reviewers, err := parseReviewerDoc(data)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.reviewers = reviewers
	d.mu.Unlock()

	if d.onReload != nil {
		d.onReload(reviewers)
	}
	d.logger.Info("reviewer pool loaded", "path", d.path, "reviewers", len(reviewers))
	return nil
}

// parseReviewerDoc decodes and validates the pool file contents.
func parseReviewerDoc(data []byte) ([]coordination.ReviewerProfile, error) {
	var doc reviewerDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse reviewer pool file: %w", err)
	}

	reviewers := make([]coordination.ReviewerProfile, 0, len(doc.Reviewers))
	seen := make(map[string]struct{}, len(doc.Reviewers))
	for i, e := range doc.Reviewers {
		if e.ID == "" {
			return nil, &coordination.ValidationError{Field: fmt.Sprintf("reviewers[%d].id", i), Message: "reviewer id is required"}
		}
		if _, dup := seen[e.ID]; dup {
			return nil, &coordination.ValidationError{Field: fmt.Sprintf("reviewers[%d].id", i), Message: fmt.Sprintf("duplicate reviewer id %q", e.ID)}
		}
		seen[e.ID] = struct{}{}

		availability := coordination.Availability(e.Availability)
		if e.Availability == "" {
			availability = coordination.AvailabilityAvailable
		}

		reviewers = append(reviewers, coordination.ReviewerProfile{
			ID:              e.ID,
			Expertise:       e.Expertise,
			QualityScore:    e.QualityScore,
			CurrentWorkload: e.CurrentWorkload,
			MaxWorkload:     e.MaxWorkload,
			Availability:    availability,
		})
	}
	return reviewers, nil
}
