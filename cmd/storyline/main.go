package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/storylineai/storyline/internal/api"
	"github.com/storylineai/storyline/internal/config"
	"github.com/storylineai/storyline/internal/database"
	"github.com/storylineai/storyline/internal/dialog"
	"github.com/storylineai/storyline/internal/identity"
	"github.com/storylineai/storyline/internal/metrics"
	"github.com/storylineai/storyline/internal/session"
	"github.com/storylineai/storyline/internal/session/pgstore"
	"github.com/storylineai/storyline/internal/story"
	"github.com/storylineai/storyline/internal/usage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting storyline",
		"http_port", cfg.HTTPPort,
		"data_dir", cfg.DataDir,
		"ai_stories", cfg.AIStories,
	)

	// Open database and run migrations.
	db, err := database.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	accounts := database.NewCallerAccountRepository(db)
	children := database.NewChildProfileRepository(db)
	usageRecords := database.NewUsageRecordRepository(db)
	stories := database.NewStoryRepository(db)
	admins := database.NewAdminUserRepository(db)

	seedCatalog(context.Background(), stories)

	// Dialog session store. A PostgreSQL DSN enables the shared store for
	// multi-instance deployments; otherwise sessions live in memory.
	var (
		store          session.Store
		sessionCounter metrics.SessionCounter
	)
	if cfg.SessionDBURL != "" {
		pg, err := pgstore.New(cfg.SessionDBURL, cfg.SessionTTL)
		if err != nil {
			slog.Error("failed to open session store", "error", err)
			os.Exit(1)
		}
		store = pg
		sessionCounter = pg
	} else {
		mem := session.NewMemoryStore(cfg.SessionTTL)
		store = mem
		sessionCounter = mem
	}
	defer store.Close()

	var generator story.Generator
	if cfg.AIStories {
		generator = story.NewAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIBase, cfg.OpenAIModel)
		slog.Info("ai story generation enabled", "model", cfg.OpenAIModel)
	}

	storySvc := story.NewService(stories, generator, cfg.RecentExclude, logger)
	resolver := identity.NewResolver(accounts, children, logger)
	ledger := usage.NewLedger(usageRecords, cfg.FreeTierQuota, logger)

	engine := dialog.NewEngine(dialog.Config{
		MaxRetries:      cfg.MaxRetries,
		FreeQuota:       cfg.FreeTierQuota,
		MinAge:          cfg.MinChildAge,
		MaxAge:          cfg.MaxChildAge,
		DefaultLanguage: cfg.DefaultLanguage,
		TurnTimeoutSec:  cfg.TurnTimeoutSec,
	}, store, resolver, ledger, storySvc, accounts, children, logger)

	// Prometheus metrics, collected at scrape time.
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(metrics.NewCollector(sessionCounter, accounts, children, stories, usageRecords, time.Now()))
	metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	handler, err := api.NewServer(cfg, engine, accounts, children, usageRecords, stories, admins, metricsHandler, logger)
	if err != nil {
		slog.Error("failed to create http server", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown with timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down server")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("storyline stopped")
}
