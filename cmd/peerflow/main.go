// Package main provides the peerflow binary entry point.
// Peerflow coordinates manuscript peer review over NATS: it matches
// reviewers, drives each manuscript through the review stages, and
// escalates stalled reviews.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/openjournal/peerflow/api"
	"github.com/openjournal/peerflow/config"
	"github.com/openjournal/peerflow/intervention"
	"github.com/openjournal/peerflow/matcher"
	"github.com/openjournal/peerflow/metrics"
	"github.com/openjournal/peerflow/platform"
	"github.com/openjournal/peerflow/rules"
	"github.com/openjournal/peerflow/scheduler"
	"github.com/openjournal/peerflow/storage"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "peerflow"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\n", r)
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "peerflow",
		Short: "Peer review coordination service",
		Long: `Peerflow is a peer review coordination service for journal platforms.

It provides:
- Reviewer matching against a hot-reloadable reviewer directory
- Stage tracking for every manuscript under review
- Automated reminders and escalation of stalled reviews
- An HTTP API and NATS webhook feed for the journal platform

All coordination events are published over NATS; completed
coordinations are archived in JetStream key-value buckets.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, logLevel)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	// Version command
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func run(configPath, logLevel string) error {
	// Configure logging
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Connect to NATS
	conn, err := nats.Connect(cfg.NATS.URL,
		nats.Name(cfg.NATS.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		return fmt.Errorf("connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer conn.Close()

	js, err := jetstream.New(conn)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}

	ctx := context.Background()
	archive, err := storage.NewArchive(ctx, js)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}

	slog.Info("Peerflow starting",
		"version", Version,
		"nats_url", cfg.NATS.URL)

	// Reviewer pool fed by the directory file; hot reloads replace the
	// whole snapshot.
	pool := matcher.NewPool()
	directory, err := platform.NewFileDirectory(cfg.Directory.Path, cfg.Directory.Debounce, pool.Replace, logger)
	if err != nil {
		return fmt.Errorf("open reviewer directory: %w", err)
	}
	if err := directory.Start(ctx); err != nil {
		return fmt.Errorf("watch reviewer directory: %w", err)
	}
	defer func() { _ = directory.Stop() }()

	match, err := matcher.New(cfg.Matcher.Weights)
	if err != nil {
		return fmt.Errorf("create matcher: %w", err)
	}

	engine, err := rules.NewEngine(cfg.Rules)
	if err != nil {
		return fmt.Errorf("create rules engine: %w", err)
	}

	notifier := platform.NewNATSNotifier(conn)
	dispatcher := platform.NewDispatcher(notifier, cfg.Dispatcher, logger)
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	escalator := intervention.NewManager(match, pool, dispatcher, intervention.NewMemoryLog(), logger)

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry, cfg.Metrics.TargetDays)

	sched, err := scheduler.New(cfg.Scheduler, scheduler.Deps{
		Matcher:   match,
		Pool:      pool,
		Engine:    engine,
		Escalator: escalator,
		Dispatch:  dispatcher,
		Archive:   archive,
		Collector: collector,
		Publisher: platform.NewNATSPublisher(conn),
		Source:    platform.NewNATSManuscriptSource(conn),
		Scorer:    platform.NewNATSScorer(conn),
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	consumer := platform.NewWebhookConsumer(conn, sched, logger)
	if err := consumer.Start(ctx); err != nil {
		return fmt.Errorf("subscribe to journal events: %w", err)
	}
	defer func() { _ = consumer.Stop() }()

	// HTTP API
	mux := http.NewServeMux()
	api.NewHandler(sched, registry, logger).RegisterHTTPHandlers("/api/v1", mux)
	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP API listening", "addr", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Setup signal handling
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	slog.Info("Peerflow ready")

	// Block until shutdown signal or server failure
	select {
	case <-signalCtx.Done():
		slog.Info("Received shutdown signal")
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Error stopping HTTP server", "error", err)
	}

	slog.Info("Peerflow shutdown complete")
	return nil
}

func loadConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromFile(configPath)
	}
	return config.DefaultConfig(), nil
}
