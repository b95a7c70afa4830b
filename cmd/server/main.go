package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"

	"github.com/guichetec/backend/internal/broker"
	"github.com/guichetec/backend/internal/config"
	"github.com/guichetec/backend/internal/database"
	"github.com/guichetec/backend/internal/logging"
	"github.com/guichetec/backend/internal/report"
	"github.com/guichetec/backend/internal/router"
	"github.com/guichetec/backend/internal/scheduler"
	sentryscrub "github.com/guichetec/backend/internal/sentry"
	"github.com/guichetec/backend/internal/state"
)

func main() {
	// Load .env if present, then initialize structured logging (reads
	// LOGGING_LEVEL env var)
	_ = godotenv.Load()
	logging.Initialize()

	// Load configuration
	cfg := config.Load()

	// Optional error tracking
	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.SentryEnvironment,
			BeforeSend:  sentryscrub.ScrubEvent,
		})
		if err != nil {
			slog.Error("failed to initialize sentry", slog.String("error", err.Error()))
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Initialize the report archive database
	sqlDB, err := database.New(cfg.ReportDatabasePath)
	if err != nil {
		slog.Error("failed to open report database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer sqlDB.Close()

	// Run migrations
	if err := database.RunMigrations(sqlDB); err != nil {
		slog.Error("failed to run migrations", slog.String("error", err.Error()))
		os.Exit(1)
	}

	reportStore := report.NewStore(sqlDB)

	// Authoritative in-memory queue state and the broadcast hub
	store := state.New()
	hub := broker.New()

	// Daily reset poller
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go scheduler.New(store, hub, reportStore, cfg.ResetCheckInterval).Run(ctx)

	// Create router
	r := router.New(cfg, store, hub, reportStore)

	// Start server
	addr := ":" + cfg.Port
	slog.Info("starting server", slog.String("addr", addr))

	if err := http.ListenAndServe(addr, r); err != nil {
		slog.Error("server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
