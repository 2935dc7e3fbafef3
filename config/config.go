// Package config provides configuration loading for the peerflow
// service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openjournal/peerflow/matcher"
	"github.com/openjournal/peerflow/platform"
	"github.com/openjournal/peerflow/rules"
	"github.com/openjournal/peerflow/scheduler"
)

// Config represents the complete peerflow configuration.
type Config struct {
	NATS       NATSConfig                `yaml:"nats"`
	HTTP       HTTPConfig                `yaml:"http"`
	Scheduler  scheduler.Config          `yaml:"scheduler"`
	Rules      rules.Config              `yaml:"rules"`
	Dispatcher platform.DispatcherConfig `yaml:"dispatcher"`
	Matcher    MatcherConfig             `yaml:"matcher"`
	Directory  DirectoryConfig           `yaml:"directory"`
	Metrics    MetricsConfig             `yaml:"metrics"`
}

// NATSConfig configures the NATS connection.
type NATSConfig struct {
	// URL is the NATS server URL.
	URL string `yaml:"url"`
	// Name identifies this client on the server.
	Name string `yaml:"name"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `yaml:"addr"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// MatcherConfig configures reviewer scoring.
type MatcherConfig struct {
	Weights matcher.Weights `yaml:"weights"`
}

// DirectoryConfig configures the reviewer pool file.
type DirectoryConfig struct {
	// Path is the YAML reviewer pool file.
	Path string `yaml:"path"`
	// Debounce is how long to wait for more changes before reloading.
	Debounce time.Duration `yaml:"debounce"`
}

// MetricsConfig configures the aggregate metrics.
type MetricsConfig struct {
	// TargetDays is the timeline-adherence window in days.
	TargetDays float64 `yaml:"target_days"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:  "nats://localhost:4222",
			Name: "peerflow",
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Scheduler:  scheduler.DefaultConfig(),
		Rules:      rules.DefaultConfig(),
		Dispatcher: platform.DefaultDispatcherConfig(),
		Matcher: MatcherConfig{
			Weights: matcher.DefaultWeights(),
		},
		Directory: DirectoryConfig{
			Path:     "reviewers.yaml",
			Debounce: 500 * time.Millisecond,
		},
		Metrics: MetricsConfig{
			TargetDays: 45,
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required")
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if c.Directory.Path == "" {
		return fmt.Errorf("directory.path is required")
	}
	if c.Metrics.TargetDays <= 0 {
		return fmt.Errorf("metrics.target_days must be positive")
	}
	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if err := c.Rules.Validate(); err != nil {
		return fmt.Errorf("rules: %w", err)
	}
	if err := c.Matcher.Weights.Validate(); err != nil {
		return fmt.Errorf("matcher: %w", err)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file, layered over the
// defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence
// for non-zero values).
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.Name != "" {
		c.NATS.Name = other.NATS.Name
	}

	if other.HTTP.Addr != "" {
		c.HTTP.Addr = other.HTTP.Addr
	}
	if other.HTTP.ShutdownTimeout != 0 {
		c.HTTP.ShutdownTimeout = other.HTTP.ShutdownTimeout
	}

	if other.Scheduler.TickInterval != 0 {
		c.Scheduler.TickInterval = other.Scheduler.TickInterval
	}
	if other.Scheduler.LockTimeout != 0 {
		c.Scheduler.LockTimeout = other.Scheduler.LockTimeout
	}
	if other.Scheduler.Workers != 0 {
		c.Scheduler.Workers = other.Scheduler.Workers
	}
	if other.Scheduler.DefaultReviewers != 0 {
		c.Scheduler.DefaultReviewers = other.Scheduler.DefaultReviewers
	}

	if other.Rules.ReminderAfter != 0 {
		c.Rules.ReminderAfter = other.Rules.ReminderAfter
	}
	if other.Rules.MaxReminders != 0 {
		c.Rules.MaxReminders = other.Rules.MaxReminders
	}
	if other.Rules.EscalateAfter != 0 {
		c.Rules.EscalateAfter = other.Rules.EscalateAfter
	}
	if other.Rules.MinRemindersBeforeEscalation != 0 {
		c.Rules.MinRemindersBeforeEscalation = other.Rules.MinRemindersBeforeEscalation
	}

	if other.Dispatcher.QueueSize != 0 {
		c.Dispatcher.QueueSize = other.Dispatcher.QueueSize
	}
	if other.Dispatcher.MaxRetries != 0 {
		c.Dispatcher.MaxRetries = other.Dispatcher.MaxRetries
	}
	if other.Dispatcher.Backoff != 0 {
		c.Dispatcher.Backoff = other.Dispatcher.Backoff
	}

	zero := matcher.Weights{}
	if other.Matcher.Weights != zero {
		c.Matcher.Weights = other.Matcher.Weights
	}

	if other.Directory.Path != "" {
		c.Directory.Path = other.Directory.Path
	}
	if other.Directory.Debounce != 0 {
		c.Directory.Debounce = other.Directory.Debounce
	}

	if other.Metrics.TargetDays != 0 {
		c.Metrics.TargetDays = other.Metrics.TargetDays
	}
}
