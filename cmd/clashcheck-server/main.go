// Package main provides the clashcheck HTTP API server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/clashcheck/internal/config"
	"github.com/raphaelgruber/clashcheck/internal/db"
	"github.com/raphaelgruber/clashcheck/internal/engine"
	"github.com/raphaelgruber/clashcheck/internal/metrics"
	"github.com/raphaelgruber/clashcheck/internal/server"
	"github.com/raphaelgruber/clashcheck/internal/service"
)

const version = "0.1.0"

func main() {
	// Parse flags
	wipeDB := flag.Bool("wipe", false, "wipe all data from database on startup (testing only)")
	flag.Parse()

	// Load configuration
	cfg := config.Load()

	// Setup logger (dual output: stderr text + file JSON)
	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() { _ = cleanup() }()

	logger.Info("clashcheck-server starting",
		"version", version,
		"port", cfg.ServerPort,
		"surrealdb_url", cfg.SurrealDBURL,
		"workers", cfg.Workers,
	)

	// Engine options are checked before anything connects
	eng, err := engine.New(cfg.EngineOptions())
	if err != nil {
		logger.Error("invalid engine configuration", "error", err)
		os.Exit(1)
	}

	collector := metrics.NewCollector()

	// Connect to database
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	dbClient, err := db.NewClient(ctx, cfg.DBConfig(), logger, collector)
	if err != nil {
		cancel()
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	if err := dbClient.InitSchema(ctx); err != nil {
		cancel()
		logger.Error("failed to initialize database schema", "error", err)
		os.Exit(1)
	}

	// Wipe database if requested (via flag or env var)
	if *wipeDB || os.Getenv("CLASHCHECK_WIPE_DB") == "true" {
		if err := dbClient.WipeData(ctx); err != nil {
			cancel()
			logger.Error("failed to wipe database", "error", err)
			os.Exit(1)
		}
		logger.Warn("database wiped")
	}
	cancel()
	defer func() {
		logger.Info("closing database connection")
		_ = dbClient.Close(context.Background())
	}()

	jobs := service.NewJobManager(dbClient, eng, collector, logger)
	jobs.SetProgressInterval(cfg.ProgressInterval)

	// Jobs left running by a previous process cannot be resumed
	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	if n, err := jobs.FailInterruptedJobs(ctx); err != nil {
		logger.Warn("failed to recover interrupted jobs", "error", err)
	} else if n > 0 {
		logger.Info("recovered interrupted jobs", "count", n)
	}
	cancel()

	review := service.NewReviewService(dbClient, jobs, logger)

	srv, err := server.New(server.Deps{
		Jobs:     jobs,
		Review:   review,
		Elements: dbClient,
		Database: dbClient,
		Metrics:  collector,
	}, logger)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second, // manifests can be large
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("API available", "url", fmt.Sprintf("http://localhost:%d/api", cfg.ServerPort))
		logger.Info("metrics available", "url", fmt.Sprintf("http://localhost:%d/metrics", cfg.ServerPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal or server failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		logger.Error("server error", "error", err)
	}

	// Graceful shutdown: stop accepting requests, then cancel running jobs
	ctx, cancel = context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if err := jobs.Shutdown(ctx); err != nil {
		logger.Error("jobs did not stop in time", "error", err)
	}

	logger.Info("shutdown complete")
}
