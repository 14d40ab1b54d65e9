package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/raphaelgruber/docingest/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DOCINGEST_CONFIG", "")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "ws://localhost:8000/rpc", cfg.SurrealDBURL)
	assert.Equal(t, VectorBackendSurreal, cfg.VectorBackend)
	assert.Equal(t, 10, cfg.VectorBatchSize)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Minute, cfg.TickUnit)
	assert.Equal(t, 5*time.Minute, cfg.StalledThreshold())
	assert.Equal(t, models.DefaultChunkingConfig(), cfg.Chunking)
	assert.True(t, cfg.HierarchicalEnabled(models.SourceTypeDOCX))
	assert.False(t, cfg.HierarchicalEnabled(models.SourceTypeCSV))
	assert.NoError(t, cfg.Validate())
}

func TestDefaultInstanceNameIsUnique(t *testing.T) {
	t.Setenv("DOCINGEST_CONFIG", "")
	t.Setenv("INSTANCE_NAME", "")

	a, err := Load()
	require.NoError(t, err)
	b, err := Load()
	require.NoError(t, err)

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	assert.True(t, strings.HasPrefix(a.InstanceName, hostname+"-"), a.InstanceName)
	assert.Len(t, a.InstanceName, len(hostname)+9)
	assert.NotEqual(t, a.InstanceName, b.InstanceName)

	t.Setenv("INSTANCE_NAME", "worker-7")
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "worker-7", c.InstanceName)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DOCINGEST_CONFIG", "")
	t.Setenv("VECTOR_BACKEND", "badger")
	t.Setenv("TICK_UNIT", "2s")
	t.Setenv("MAX_RETRIES", "5")
	t.Setenv("GRAPH_ENABLED", "true")
	t.Setenv("HIERARCHICAL_TYPES", "pdf, bogus ,csv")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, VectorBackendBadger, cfg.VectorBackend)
	assert.Equal(t, 2*time.Second, cfg.TickUnit)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.True(t, cfg.GraphEnabled)
	assert.Equal(t, []models.SourceType{models.SourceTypePDF, models.SourceTypeCSV}, cfg.HierarchicalTypes)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestYAMLFileWithEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docingest.yaml")
	yaml := `
paths:
  input: /srv/in
  archive: /srv/archive
stores:
  vector_backend: sqlite
  graph_enabled: true
scheduler:
  tick_unit: 30s
  max_retries: 7
chunking:
  chunk_size: 800
  overlap: 80
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("DOCINGEST_CONFIG", path)
	t.Setenv("MAX_RETRIES", "2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/srv/in", cfg.InputPath)
	assert.Equal(t, "/srv/archive", cfg.ArchivePath)
	assert.Equal(t, "data/staging", cfg.StagingPath)
	assert.Equal(t, VectorBackendSQLite, cfg.VectorBackend)
	assert.True(t, cfg.GraphEnabled)
	assert.Equal(t, 30*time.Second, cfg.TickUnit)
	assert.Equal(t, 2, cfg.MaxRetries, "env wins over file")
	assert.Equal(t, 800, cfg.Chunking.ChunkSize)
	assert.Equal(t, 80, cfg.Chunking.ChunkOverlap)
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("paths: [unclosed"), 0o644))
	_, err = LoadFile(bad)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Setenv("DOCINGEST_CONFIG", "")
	base, err := Load()
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.VectorBackend = "redis" }},
		{"zero tick", func(c *Config) { c.TickUnit = 0 }},
		{"zero batch", func(c *Config) { c.VectorBatchSize = 0 }},
		{"overlap too large", func(c *Config) { c.Chunking.ChunkOverlap = c.Chunking.ChunkSize }},
		{"child larger than parent", func(c *Config) { c.Chunking.ChildChunkSize = c.Chunking.ParentChunkSize + 1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("document processed", "index_log_id", "abc")

	assert.Contains(t, stderr.String(), "document processed")
	assert.NotContains(t, stderr.String(), "hidden")

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(file.String())), &rec))
	assert.Equal(t, "abc", rec["index_log_id"])
}

func TestSetupLoggerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "worker.log")
	logger, cleanup := SetupLogger(path, slog.LevelInfo, "worker-1")
	logger.Info("hello")
	require.NoError(t, cleanup())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"instance":"worker-1"`)
}
