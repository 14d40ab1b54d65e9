package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig mirrors Config as an optional YAML document. Zero values mean
// "not set" and fall through to the built-in defaults.
type FileConfig struct {
	SurrealDB struct {
		URL       string `yaml:"url"`
		Namespace string `yaml:"namespace"`
		Database  string `yaml:"database"`
		User      string `yaml:"user"`
		Pass      string `yaml:"pass"`
		AuthLevel string `yaml:"auth_level"`
	} `yaml:"surrealdb"`

	Paths struct {
		Input   string `yaml:"input"`
		Staging string `yaml:"staging"`
		Archive string `yaml:"archive"`
	} `yaml:"paths"`

	Chunking struct {
		ChunkSize         int      `yaml:"chunk_size"`
		Overlap           int      `yaml:"overlap"`
		ParentChunkSize   int      `yaml:"parent_chunk_size"`
		ParentOverlap     int      `yaml:"parent_overlap"`
		ChildChunkSize    int      `yaml:"child_chunk_size"`
		ChildOverlap      int      `yaml:"child_overlap"`
		HierarchicalTypes []string `yaml:"hierarchical_types"`
	} `yaml:"chunking"`

	Stores struct {
		GraphEnabled  *bool  `yaml:"graph_enabled"`
		VectorBackend string `yaml:"vector_backend"`
		BadgerDir     string `yaml:"badger_dir"`
		SQLitePath    string `yaml:"sqlite_path"`
		BatchSize     int    `yaml:"batch_size"`
		EmbedWorkers  int    `yaml:"embed_workers"`
	} `yaml:"stores"`

	Scheduler struct {
		TickUnit              string `yaml:"tick_unit"`
		StalledThresholdUnits int    `yaml:"stalled_threshold_units"`
		MaxRetries            int    `yaml:"max_retries"`
		ClaimBatchSize        int    `yaml:"claim_batch_size"`
		LockLease             string `yaml:"lock_lease"`
		InstanceName          string `yaml:"instance_name"`
		WatchInput            *bool  `yaml:"watch_input"`
	} `yaml:"scheduler"`

	Models struct {
		EmbedProvider  string `yaml:"embed_provider"`
		EmbedModel     string `yaml:"embed_model"`
		EmbedDimension int    `yaml:"embed_dimension"`
		LLMProvider    string `yaml:"llm_provider"`
		LLMModel       string `yaml:"llm_model"`
		OllamaHost     string `yaml:"ollama_host"`
		AWSRegion      string `yaml:"aws_region"`
	} `yaml:"models"`

	Fetch struct {
		Rate          float64 `yaml:"rate"`
		Timeout       string  `yaml:"timeout"`
		UserAgent     string  `yaml:"user_agent"`
		ConfluenceURL string  `yaml:"confluence_url"`
	} `yaml:"fetch"`

	Server struct {
		Port     string `yaml:"port"`
		LogFile  string `yaml:"log_file"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"server"`
}

// LoadFile parses a YAML config file. Secrets are read from env only.
func LoadFile(path string) (FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read config file: %w", err)
	}

	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return FileConfig{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return fc, nil
}

func (FileConfig) str(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func (FileConfig) num(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}

func (FileConfig) float(v, def float64) float64 {
	if v != 0 {
		return v
	}
	return def
}

func (FileConfig) boolean(v *bool, def bool) bool {
	if v != nil {
		return *v
	}
	return def
}

func (FileConfig) dur(v string, def time.Duration) time.Duration {
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
