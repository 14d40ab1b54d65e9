// Package app wires the configured stores, loaders and services together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/raphaelgruber/docingest/internal/config"
	"github.com/raphaelgruber/docingest/internal/db"
	"github.com/raphaelgruber/docingest/internal/llm"
	"github.com/raphaelgruber/docingest/internal/loader"
	"github.com/raphaelgruber/docingest/internal/lock"
	"github.com/raphaelgruber/docingest/internal/metrics"
	"github.com/raphaelgruber/docingest/internal/service"
	"github.com/raphaelgruber/docingest/internal/store"
)

// App holds every long-lived component of a running instance.
type App struct {
	Config   config.Config
	DB       *db.Client
	Registry *prometheus.Registry

	IndexLogs *service.IndexLogService
	Processor *service.Processor
	Intake    *service.Intake
	Resetter  *service.StalledResetter
	Scheduler *service.Scheduler

	deps   service.Deps
	logger *slog.Logger
}

// New connects to SurrealDB, prepares the schema and builds the services.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dbClient, err := db.NewClient(ctx, db.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	a, err := build(ctx, cfg, dbClient, logger)
	if err != nil {
		_ = dbClient.Close(ctx)
		return nil, err
	}
	return a, nil
}

func build(ctx context.Context, cfg config.Config, dbClient *db.Client, logger *slog.Logger) (*App, error) {
	if err := dbClient.InitSchema(ctx, cfg.EmbedDimension); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	embedder, err := llm.NewEmbedder(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}

	vectors, err := openVectorStore(cfg, dbClient, embedder, logger)
	if err != nil {
		return nil, err
	}

	var graph store.GraphStore
	if cfg.GraphEnabled {
		extractor, err := newExtractor(ctx, cfg)
		if err != nil {
			_ = vectors.Close()
			return nil, err
		}
		graph = store.NewSurrealGraphStore(dbClient, extractor, logger)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	fetcher := loader.NewFetcher(cfg.FetchRate, cfg.FetchTimeout, cfg.UserAgent)
	deps := service.Deps{
		Config: cfg,
		DB:     dbClient,
		Loaders: loader.NewFactory(loader.FactoryConfig{
			Chunking: cfg.Chunking,
			Fetcher:  fetcher,
			Confluence: loader.ConfluenceAuth{
				BaseURL:  cfg.ConfluenceURL,
				UserName: cfg.ConfluenceUser,
				APIKey:   cfg.ConfluenceAPIKey,
				Token:    cfg.ConfluenceToken,
			},
		}),
		Vectors:   vectors,
		Graph:     graph,
		Locker:    lock.NewLocker(dbClient, cfg.InstanceName, cfg.LockLease, logger),
		Collector: metrics.NewCollector(),
		Prom:      metrics.NewPrometheus(reg),
		Logger:    logger,
	}

	processor, err := service.NewProcessor(deps)
	if err != nil {
		_ = vectors.Close()
		return nil, err
	}
	logs := service.NewIndexLogService(deps)
	intake := service.NewIntake(deps, logs)
	resetter := service.NewStalledResetter(deps)

	logger.Info("ingestion pipeline ready",
		"vector_backend", cfg.VectorBackend,
		"graph", cfg.GraphEnabled,
		"embed_model", embedder.Model(),
		"dimension", embedder.Dimension())

	return &App{
		Config:    cfg,
		DB:        dbClient,
		Registry:  reg,
		IndexLogs: logs,
		Processor: processor,
		Intake:    intake,
		Resetter:  resetter,
		Scheduler: service.NewScheduler(deps, processor, intake, resetter),
		deps:      deps,
		logger:    logger,
	}, nil
}

func openVectorStore(cfg config.Config, dbClient *db.Client, embedder store.Embedder, logger *slog.Logger) (store.VectorStore, error) {
	switch cfg.VectorBackend {
	case config.VectorBackendBadger:
		vs, err := store.OpenBadgerVectorStore(cfg.BadgerDir, embedder, logger)
		if err != nil {
			return nil, fmt.Errorf("open badger vector store: %w", err)
		}
		return vs, nil
	case config.VectorBackendSQLite:
		vs, err := store.OpenSQLiteVectorStore(cfg.SQLitePath, embedder)
		if err != nil {
			return nil, fmt.Errorf("open sqlite vector store: %w", err)
		}
		return vs, nil
	case config.VectorBackendSurreal, "":
		return store.NewSurrealVectorStore(dbClient, embedder), nil
	default:
		return nil, fmt.Errorf("unsupported vector backend: %s", cfg.VectorBackend)
	}
}

// newExtractor uses the configured LLM, or capitalized-phrase rules when none is set.
func newExtractor(ctx context.Context, cfg config.Config) (store.EntityExtractor, error) {
	if cfg.LLMProvider == "" {
		return store.RuleExtractor{}, nil
	}
	model, err := llm.NewModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init model: %w", err)
	}
	return llm.NewEntityExtractor(model), nil
}

// Logger returns the application logger.
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// Collector returns the in-process timing collector.
func (a *App) Collector() *metrics.Collector {
	return a.deps.Collector
}

// Locker returns the distributed job locker.
func (a *App) Locker() *lock.Locker {
	return a.deps.Locker
}

// Health reports whether SurrealDB answers.
func (a *App) Health(ctx context.Context) error {
	return a.DB.Ping(ctx)
}

// WipeData deletes all data from the database. Use for testing only.
func (a *App) WipeData(ctx context.Context) error {
	return a.DB.WipeData(ctx)
}

// Close stops the scheduler and releases every connection.
func (a *App) Close(ctx context.Context) error {
	a.Scheduler.Stop()
	a.Processor.Close()
	return errors.Join(a.deps.Vectors.Close(), a.DB.Close(ctx))
}
