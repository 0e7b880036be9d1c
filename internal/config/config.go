// Package config provides configuration loading for contextdb.
//
// Configuration is assembled from built-in defaults, an optional YAML file,
// and CONTEXTDB_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete contextdb configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Data        DataConfig        `koanf:"data"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	Search      SearchConfig      `koanf:"search"`
	Manager     ManagerConfig     `koanf:"manager"`
	Events      EventsConfig      `koanf:"events"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	// CORSOrigins lists allowed browser origins. Wildcards such as
	// "chrome-extension://*" are accepted.
	CORSOrigins []string `koanf:"cors_origins"`
	// RateLimit is the sustained request rate per client IP (0 disables).
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`
	// MaxBodySize bounds request bodies, e.g. "2M".
	MaxBodySize string `koanf:"max_body_size"`
}

// DataConfig locates persistent state.
type DataConfig struct {
	// Dir holds the database index and file-based backend storage.
	Dir string `koanf:"dir"`
}

// VectorStoreConfig selects and configures the vector backend.
type VectorStoreConfig struct {
	Provider string        `koanf:"provider"` // chromem, qdrant, sqlite
	Chromem  ChromemConfig `koanf:"chromem"`
	Qdrant   QdrantConfig  `koanf:"qdrant"`
	SQLite   SQLiteConfig  `koanf:"sqlite"`
}

// ChromemConfig holds chromem-go settings.
type ChromemConfig struct {
	Compress bool `koanf:"compress"`
}

// QdrantConfig holds Qdrant connection settings.
type QdrantConfig struct {
	Host             string `koanf:"host"`
	Port             int    `koanf:"port"`
	APIKey           Secret `koanf:"api_key"`
	UseTLS           bool   `koanf:"use_tls"`
	CollectionPrefix string `koanf:"collection_prefix"`
	MaxRetries       int    `koanf:"max_retries"`
}

// SQLiteConfig holds SQLite backend settings.
type SQLiteConfig struct {
	BusyTimeout Duration `koanf:"busy_timeout"`
}

// EmbeddingsConfig selects and configures the embedding provider.
type EmbeddingsConfig struct {
	Provider string `koanf:"provider"` // fastembed, tei, openai, hash
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	APIKey   Secret `koanf:"api_key"`
	// Dimension overrides the model's known dimension. Required for
	// unknown models on remote providers.
	Dimension int    `koanf:"dimension"`
	CacheDir  string `koanf:"cache_dir"`
	// RequestsPerSecond throttles remote providers (0 disables).
	RequestsPerSecond float64  `koanf:"requests_per_second"`
	Burst             int      `koanf:"burst"`
	Timeout           Duration `koanf:"timeout"`
}

// SearchConfig holds search defaults.
type SearchConfig struct {
	DefaultLimit    int     `koanf:"default_limit"`
	MaxLimit        int     `koanf:"max_limit"`
	DefaultMinScore float64 `koanf:"default_min_score"`
}

// ManagerConfig tunes database lifecycle behavior.
type ManagerConfig struct {
	// DisableImplicitCreate rejects adds to unknown databases instead of
	// creating them on the fly.
	DisableImplicitCreate bool `koanf:"disable_implicit_create"`
	// ReconcileOnStart compares the index with backend storage at startup.
	ReconcileOnStart bool `koanf:"reconcile_on_start"`
}

// EventsConfig controls lifecycle event publishing over NATS.
type EventsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level    string `koanf:"level"`
	Format   string `koanf:"format"` // json or console
	Sampling bool   `koanf:"sampling"`
}

// TelemetryConfig holds OpenTelemetry exporter settings.
type TelemetryConfig struct {
	Enabled        bool    `koanf:"enabled"`
	ServiceName    string  `koanf:"service_name"`
	Endpoint       string  `koanf:"endpoint"`
	Protocol       string  `koanf:"protocol"` // grpc or http
	Insecure       bool    `koanf:"insecure"`
	SampleRate     float64 `koanf:"sample_rate"`
	MetricsEnabled bool    `koanf:"metrics_enabled"`
}

// Default returns the configuration used when nothing else is specified:
// loopback on port 8000, data under ./context_dbs, all-MiniLM-L6-v2
// embeddings.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8000,
			ShutdownTimeout: Duration(10 * time.Second),
			CORSOrigins:     []string{"*"},
			RateLimit:       20,
			RateBurst:       40,
			MaxBodySize:     "2M",
		},
		Data: DataConfig{
			Dir: "context_dbs",
		},
		VectorStore: VectorStoreConfig{
			Provider: "chromem",
			Qdrant: QdrantConfig{
				Host:             "localhost",
				Port:             6334,
				CollectionPrefix: "ctxdb_",
				MaxRetries:       3,
			},
			SQLite: SQLiteConfig{
				BusyTimeout: Duration(5 * time.Second),
			},
		},
		Embeddings: EmbeddingsConfig{
			Provider: "fastembed",
			Model:    "sentence-transformers/all-MiniLM-L6-v2",
			Burst:    1,
			Timeout:  Duration(30 * time.Second),
		},
		Search: SearchConfig{
			DefaultLimit:    5,
			MaxLimit:        50,
			DefaultMinScore: 0.3,
		},
		Manager: ManagerConfig{
			ReconcileOnStart: true,
		},
		Events: EventsConfig{
			URL:           "nats://localhost:4222",
			SubjectPrefix: "contextdb",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Sampling: true,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "contextdb",
			Endpoint:       "localhost:4317",
			Protocol:       "grpc",
			Insecure:       true,
			SampleRate:     1.0,
			MetricsEnabled: true,
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive, got %s", c.Server.ShutdownTimeout.Duration())
	}
	if c.Server.RateLimit < 0 {
		return errors.New("server rate limit must not be negative")
	}
	if c.Data.Dir == "" {
		return errors.New("data directory is required")
	}

	switch c.VectorStore.Provider {
	case "chromem", "sqlite":
	case "qdrant":
		if c.VectorStore.Qdrant.Host == "" {
			return errors.New("qdrant host is required")
		}
		if p := c.VectorStore.Qdrant.Port; p <= 0 || p > 65535 {
			return fmt.Errorf("invalid qdrant port: %d", p)
		}
	default:
		return fmt.Errorf("unsupported vectorstore provider: %q", c.VectorStore.Provider)
	}

	switch c.Embeddings.Provider {
	case "fastembed", "hash":
	case "tei", "openai":
		if c.Embeddings.BaseURL == "" && c.Embeddings.Provider == "tei" {
			return errors.New("embeddings base_url is required for tei")
		}
	default:
		return fmt.Errorf("unsupported embeddings provider: %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Model == "" {
		return errors.New("embeddings model is required")
	}
	if c.Embeddings.Dimension < 0 {
		return errors.New("embeddings dimension must not be negative")
	}

	if c.Search.MaxLimit <= 0 {
		return fmt.Errorf("search max_limit must be positive, got %d", c.Search.MaxLimit)
	}
	if c.Search.DefaultLimit <= 0 || c.Search.DefaultLimit > c.Search.MaxLimit {
		return fmt.Errorf("search default_limit must be in [1, %d], got %d", c.Search.MaxLimit, c.Search.DefaultLimit)
	}
	if c.Search.DefaultMinScore < 0 || c.Search.DefaultMinScore > 1 {
		return fmt.Errorf("search default_min_score must be in [0, 1], got %g", c.Search.DefaultMinScore)
	}

	if c.Events.Enabled && c.Events.URL == "" {
		return errors.New("events url is required when events are enabled")
	}
	if c.Telemetry.Enabled && c.Telemetry.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}
	return nil
}
