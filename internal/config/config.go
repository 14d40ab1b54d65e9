// Package config loads runtime configuration from environment variables
// and an optional YAML file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/raphaelgruber/docingest/internal/models"
)

// Provider constants for embedding and LLM backends.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
)

// Vector store backends.
const (
	VectorBackendSurreal = "surreal"
	VectorBackendBadger  = "badger"
	VectorBackendSQLite  = "sqlite"
)

// Config holds all configuration values.
type Config struct {
	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Directories
	InputPath   string
	StagingPath string
	ArchivePath string

	// Chunking
	Chunking          models.ChunkingConfig
	HierarchicalTypes []models.SourceType

	// Stores
	GraphEnabled    bool
	VectorBackend   string
	BadgerDir       string
	SQLitePath      string
	VectorBatchSize int
	EmbedWorkers    int

	// Scheduler
	TickUnit              time.Duration
	StalledThresholdUnits int
	MaxRetries            int
	ClaimBatchSize        int
	LockLease             time.Duration
	InstanceName          string
	WatchInput            bool

	// Embedding and LLM
	EmbedProvider   string
	EmbedModel      string
	EmbedDimension  int
	LLMProvider     string
	LLMModel        string
	OllamaHost      string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	AWSRegion       string

	// Fetching
	FetchRate        float64
	FetchTimeout     time.Duration
	UserAgent        string
	ConfluenceURL    string
	ConfluenceUser   string
	ConfluenceAPIKey string
	ConfluenceToken  string

	// Server and logging
	ServerPort string
	LogFile    string
	LogLevel   slog.Level
}

// Load reads configuration from environment variables. When DOCINGEST_CONFIG
// names a YAML file its values become the defaults that env vars override.
func Load() (Config, error) {
	fc := FileConfig{}
	if path := os.Getenv("DOCINGEST_CONFIG"); path != "" {
		loaded, err := LoadFile(path)
		if err != nil {
			return Config{}, err
		}
		fc = loaded
	}
	return fromEnv(fc), nil
}

// defaultInstanceName is the hostname plus a random suffix, so two workers
// on one host never share claims or locks.
func defaultInstanceName() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return hostname + "-" + uuid.NewString()[:8]
}

func fromEnv(fc FileConfig) Config {
	d := models.DefaultChunkingConfig()

	cfg := Config{
		SurrealDBURL:       getEnv("SURREALDB_URL", fc.str(fc.SurrealDB.URL, "ws://localhost:8000/rpc")),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", fc.str(fc.SurrealDB.Namespace, "docingest")),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", fc.str(fc.SurrealDB.Database, "index")),
		SurrealDBUser:      getEnv("SURREALDB_USER", fc.str(fc.SurrealDB.User, "root")),
		SurrealDBPass:      getEnv("SURREALDB_PASS", fc.str(fc.SurrealDB.Pass, "root")),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", fc.str(fc.SurrealDB.AuthLevel, "root")),

		InputPath:   getEnv("INPUT_PATH", fc.str(fc.Paths.Input, "data/input")),
		StagingPath: getEnv("STAGING_PATH", fc.str(fc.Paths.Staging, "data/staging")),
		ArchivePath: getEnv("ARCHIVE_PATH", fc.str(fc.Paths.Archive, "data/archive")),

		Chunking: models.ChunkingConfig{
			ChunkSize:       getEnvInt("CHUNK_SIZE", fc.num(fc.Chunking.ChunkSize, d.ChunkSize)),
			ChunkOverlap:    getEnvInt("CHUNK_OVERLAP", fc.num(fc.Chunking.Overlap, d.ChunkOverlap)),
			ParentChunkSize: getEnvInt("PARENT_CHUNK_SIZE", fc.num(fc.Chunking.ParentChunkSize, d.ParentChunkSize)),
			ParentOverlap:   getEnvInt("PARENT_OVERLAP", fc.num(fc.Chunking.ParentOverlap, d.ParentOverlap)),
			ChildChunkSize:  getEnvInt("CHILD_CHUNK_SIZE", fc.num(fc.Chunking.ChildChunkSize, d.ChildChunkSize)),
			ChildOverlap:    getEnvInt("CHILD_OVERLAP", fc.num(fc.Chunking.ChildOverlap, d.ChildOverlap)),
		},
		HierarchicalTypes: parseSourceTypes(getEnv("HIERARCHICAL_TYPES",
			fc.str(strings.Join(fc.Chunking.HierarchicalTypes, ","), "confluence,docx,json,web_page,knowledge_snippet,text"))),

		GraphEnabled:    getEnvBool("GRAPH_ENABLED", fc.boolean(fc.Stores.GraphEnabled, false)),
		VectorBackend:   getEnv("VECTOR_BACKEND", fc.str(fc.Stores.VectorBackend, VectorBackendSurreal)),
		BadgerDir:       getEnv("BADGER_DIR", fc.str(fc.Stores.BadgerDir, "data/vectors")),
		SQLitePath:      getEnv("SQLITE_PATH", fc.str(fc.Stores.SQLitePath, "data/vectors.db")),
		VectorBatchSize: getEnvInt("VECTOR_BATCH_SIZE", fc.num(fc.Stores.BatchSize, 10)),
		EmbedWorkers:    getEnvInt("EMBED_WORKERS", fc.num(fc.Stores.EmbedWorkers, 4)),

		TickUnit:              getEnvDuration("TICK_UNIT", fc.dur(fc.Scheduler.TickUnit, time.Minute)),
		StalledThresholdUnits: getEnvInt("STALLED_THRESHOLD_UNITS", fc.num(fc.Scheduler.StalledThresholdUnits, 5)),
		MaxRetries:            getEnvInt("MAX_RETRIES", fc.num(fc.Scheduler.MaxRetries, 3)),
		ClaimBatchSize:        getEnvInt("CLAIM_BATCH_SIZE", fc.num(fc.Scheduler.ClaimBatchSize, 20)),
		LockLease:             getEnvDuration("LOCK_LEASE", fc.dur(fc.Scheduler.LockLease, 10*time.Minute)),
		InstanceName:          getEnv("INSTANCE_NAME", fc.str(fc.Scheduler.InstanceName, defaultInstanceName())),
		WatchInput:            getEnvBool("WATCH_INPUT", fc.boolean(fc.Scheduler.WatchInput, false)),

		EmbedProvider:   getEnv("EMBED_PROVIDER", fc.str(fc.Models.EmbedProvider, ProviderOllama)),
		EmbedModel:      getEnv("EMBED_MODEL", fc.str(fc.Models.EmbedModel, "all-minilm:l6-v2")),
		EmbedDimension:  getEnvInt("EMBED_DIMENSION", fc.num(fc.Models.EmbedDimension, 384)),
		LLMProvider:     getEnv("LLM_PROVIDER", fc.str(fc.Models.LLMProvider, "")),
		LLMModel:        getEnv("LLM_MODEL", fc.str(fc.Models.LLMModel, "llama3.2")),
		OllamaHost:      getEnv("OLLAMA_HOST", fc.str(fc.Models.OllamaHost, "http://localhost:11434")),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		AWSRegion:       getEnv("AWS_REGION", fc.str(fc.Models.AWSRegion, "us-east-1")),

		FetchRate:        getEnvFloat("FETCH_RATE", fc.float(fc.Fetch.Rate, 2)),
		FetchTimeout:     getEnvDuration("FETCH_TIMEOUT", fc.dur(fc.Fetch.Timeout, 30*time.Second)),
		UserAgent:        getEnv("FETCH_USER_AGENT", fc.str(fc.Fetch.UserAgent, "docingest/1.0")),
		ConfluenceURL:    getEnv("CONFLUENCE_URL", fc.str(fc.Fetch.ConfluenceURL, "")),
		ConfluenceUser:   getEnv("CONFLUENCE_USER_NAME", ""),
		ConfluenceAPIKey: getEnv("CONFLUENCE_API_KEY", ""),
		ConfluenceToken:  getEnv("CONFLUENCE_TOKEN", ""),

		ServerPort: getEnv("SERVER_PORT", fc.str(fc.Server.Port, "8484")),
		LogFile:    getEnv("LOG_FILE", fc.str(fc.Server.LogFile, "/tmp/docingest.log")),
		LogLevel:   parseLogLevel(getEnv("LOG_LEVEL", fc.str(fc.Server.LogLevel, "INFO"))),
	}
	return cfg
}

// Validate checks values that would otherwise fail deep inside a job.
func (c Config) Validate() error {
	switch c.VectorBackend {
	case VectorBackendSurreal, VectorBackendBadger, VectorBackendSQLite:
	default:
		return fmt.Errorf("unsupported vector backend: %s", c.VectorBackend)
	}
	if c.TickUnit <= 0 {
		return fmt.Errorf("tick unit must be positive, got %s", c.TickUnit)
	}
	if c.VectorBatchSize < 1 {
		return fmt.Errorf("vector batch size must be at least 1, got %d", c.VectorBatchSize)
	}
	if c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("chunk overlap %d must be smaller than chunk size %d", c.Chunking.ChunkOverlap, c.Chunking.ChunkSize)
	}
	if c.Chunking.ChildChunkSize >= c.Chunking.ParentChunkSize {
		return fmt.Errorf("child chunk size %d must be smaller than parent chunk size %d", c.Chunking.ChildChunkSize, c.Chunking.ParentChunkSize)
	}
	return nil
}

// HierarchicalEnabled reports whether parent/child chunking is allowed for a source type.
func (c Config) HierarchicalEnabled(st models.SourceType) bool {
	for _, t := range c.HierarchicalTypes {
		if t == st {
			return true
		}
	}
	return false
}

// StalledThreshold is how long a row may stay in_progress before it is reset.
func (c Config) StalledThreshold() time.Duration {
	return time.Duration(c.StalledThresholdUnits) * c.TickUnit
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func parseSourceTypes(s string) []models.SourceType {
	var out []models.SourceType
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		st, err := models.ParseSourceType(part)
		if err != nil {
			slog.Warn("ignoring unknown hierarchical source type", "value", part)
			continue
		}
		out = append(out, st)
	}
	return out
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
