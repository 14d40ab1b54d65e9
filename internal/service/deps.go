// Package service orchestrates document ingestion: the index log API,
// the processing pipeline and the scheduled jobs that drive it.
package service

import (
	"log/slog"

	"github.com/raphaelgruber/docingest/internal/config"
	"github.com/raphaelgruber/docingest/internal/db"
	"github.com/raphaelgruber/docingest/internal/loader"
	"github.com/raphaelgruber/docingest/internal/lock"
	"github.com/raphaelgruber/docingest/internal/metrics"
	"github.com/raphaelgruber/docingest/internal/store"
)

// Deps holds the collaborators shared by the services. It is built once
// by the binaries and passed to every constructor.
type Deps struct {
	Config  config.Config
	DB      *db.Client
	Loaders *loader.Factory
	Vectors store.VectorStore
	// Graph is nil when the knowledge graph is disabled.
	Graph     store.GraphStore
	Locker    *lock.Locker
	Collector *metrics.Collector
	Prom      *metrics.Prometheus
	Logger    *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}
