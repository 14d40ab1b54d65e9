// Package main provides the HTTP server and background worker for docingest.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/docingest/internal/app"
	"github.com/raphaelgruber/docingest/internal/config"
	"github.com/raphaelgruber/docingest/internal/server"
)

func main() {
	// Parse flags
	wipeDB := flag.Bool("wipe", false, "wipe all data from database on startup (testing only)")
	noWorker := flag.Bool("no-worker", false, "serve the API without running scheduled jobs")
	flag.Parse()

	if err := run(*wipeDB || os.Getenv("DOCINGEST_WIPE_DB") == "true", !*noWorker); err != nil {
		slog.Error("docingest-server failed", "error", err)
		os.Exit(1)
	}
}

func run(wipe, worker bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel, cfg.InstanceName)
	defer closeLog()
	slog.SetDefault(logger)

	logger.Info("starting docingest-server", "port", cfg.ServerPort)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	a, err := app.New(ctx, cfg, logger)
	cancel()
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			logger.Error("failed to close", "error", err)
		}
	}()

	if wipe {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := a.WipeData(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("wipe database: %w", err)
		}
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if worker {
		if err := a.Scheduler.Start(runCtx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	srv := server.New(a.IndexLogs, server.Options{
		Health:    a.Health,
		Collector: a.Collector(),
		Gatherer:  a.Registry,
	}, logger)

	if err := srv.ListenAndServe(runCtx, ":"+cfg.ServerPort); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
