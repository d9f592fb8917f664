package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/digcoord/digcoord/internal/conflict"
	"github.com/digcoord/digcoord/internal/directory"
	"github.com/digcoord/digcoord/internal/eventbus"
	"github.com/digcoord/digcoord/internal/mailqueue"
	"github.com/digcoord/digcoord/internal/notification"
	"github.com/digcoord/digcoord/internal/scheduler"
	"github.com/digcoord/digcoord/internal/storage/postgres"
	"github.com/digcoord/digcoord/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordination daemon",
	Long: `Run the long-lived coordination daemon: event workers, conflict
detection, notification dispatch, and the daily deadline sweep.
Stops cleanly on SIGINT/SIGTERM, draining queued events first.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

func runServe(ctx context.Context) error {
	log := slog.Default()

	if err := telemetry.Init(ctx, "digcoord", version); err != nil {
		log.Warn("telemetry init failed", "error", err)
	}
	defer telemetry.Shutdown(context.Background())

	if cfg.Database.MigrateOnStart {
		if err := postgres.Migrate(ctx, cfg.Database.DSN); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	store, err := postgres.Open(ctx, cfg.Database.DSN, postgres.Options{
		MaxConns:       cfg.Database.MaxConns,
		ConnectTimeout: cfg.Database.ConnectTimeout,
	})
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	bus := eventbus.New()
	publisher := eventbus.NewPublisher(bus, cfg.Events.Workers, cfg.Events.QueueDepth)
	defer publisher.Close()

	detector := conflict.New(store, publisher, cfg.Detection.BufferMeters, log)
	detector.SoftBudget = cfg.Detection.SoftBudget
	detector.BatchConcurrency = cfg.Detection.BatchConcurrency
	bus.Register(conflict.NewEventHandler(detector))

	dir := newDirectory(log)
	queue := newMailQueue(log)
	bus.Register(notification.New(dir, queue, store, log))

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(store, publisher, cfg.Location(), cfg.Scheduler.TickHour, log)
		sched.Start(ctx)
		defer sched.Stop()
	}

	log.Info("digcoord daemon started",
		"version", version,
		"workers", cfg.Events.Workers,
		"buffer_meters", cfg.Detection.BufferMeters,
		"scheduler", cfg.Scheduler.Enabled)

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

// newDirectory picks the HTTP directory client, or the in-memory fake when no
// endpoint is configured (local development).
func newDirectory(log *slog.Logger) directory.Service {
	if cfg.Directory.URL == "" {
		log.Warn("no directory endpoint configured, using empty in-memory directory")
		return directory.NewMemory()
	}
	return directory.NewClient(cfg.Directory.URL, cfg.Directory.Timeout)
}

func newMailQueue(log *slog.Logger) mailqueue.Queue {
	if cfg.MailQueue.URL == "" {
		log.Warn("no mail queue endpoint configured, notifications stay in memory")
		return mailqueue.NewMemory()
	}
	return mailqueue.NewClient(cfg.MailQueue.URL, cfg.MailQueue.Timeout)
}
