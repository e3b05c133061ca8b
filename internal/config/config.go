// Package config provides configuration management for engram.
// Values are resolved in three layers: built-in defaults, then an optional
// YAML file, then environment variables with the ENGRAM_ prefix. The env
// layer always wins so deployments can override a shared file per instance.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the engram service.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Vector     VectorConfig     `yaml:"vector"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Engine     EngineConfig     `yaml:"engine"`
	Decay      DecayConfig      `yaml:"decay"`
	Reflection ReflectionConfig `yaml:"reflection"`
	Session    SessionConfig    `yaml:"session"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Export     ExportConfig     `yaml:"export"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host      string  `yaml:"host"`       // Listen host (default: 127.0.0.1)
	Port      int     `yaml:"port"`       // Listen port (default: 7377)
	RateLimit float64 `yaml:"rate_limit"` // Requests per second per client (default: 20)
	RateBurst int     `yaml:"rate_burst"` // Token bucket burst per client (default: 40)
}

// StorageConfig contains row store configuration.
type StorageConfig struct {
	Engine      string `yaml:"engine"`       // Row store backend: sqlite, postgres (default: sqlite)
	DataPath    string `yaml:"data_path"`    // SQLite data directory (default: ./data)
	PostgresDSN string `yaml:"postgres_dsn"` // Postgres connection string
}

// VectorConfig contains vector index configuration.
type VectorConfig struct {
	Backend    string `yaml:"backend"`    // Index backend: chromem, pgvector (default: chromem)
	Path       string `yaml:"path"`       // chromem persistence path; empty keeps it in memory
	Dimensions int    `yaml:"dimensions"` // Embedding width for pgvector columns (default: 768)
}

// ProvidersConfig contains LLM provider configuration for embeddings,
// entity extraction, and reflection.
type ProvidersConfig struct {
	Provider   string        `yaml:"provider"`    // ollama or openai (default: ollama)
	BaseURL    string        `yaml:"base_url"`    // Provider endpoint override
	APIKey     string        `yaml:"api_key"`     // Hosted provider API key
	Model      string        `yaml:"model"`       // Completion model (default: qwen2.5:7b)
	EmbedModel string        `yaml:"embed_model"` // Embedding model (default: nomic-embed-text)
	Timeout    time.Duration `yaml:"timeout"`     // Per-request timeout (default: 30s)
	CacheSize  int           `yaml:"cache_size"`  // Embedding cache entries (default: 4096)
}

// EngineConfig contains enrichment pipeline knobs.
type EngineConfig struct {
	Workers         int           `yaml:"workers"`          // Enrichment workers (default: 4)
	QueueSize       int           `yaml:"queue_size"`       // Enrichment queue depth (default: 256)
	MaxRetries      int           `yaml:"max_retries"`      // Enrichment retries before dropping (default: 3)
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // Queue drain budget on shutdown (default: 30s)
}

// DecayConfig contains memory decay knobs. These apply live on reload.
type DecayConfig struct {
	Interval         time.Duration `yaml:"interval"`          // Per-user decay cadence (default: 24h)
	HalfLife         time.Duration `yaml:"half_life"`         // Base strength half-life (default: 720h)
	Aggressiveness   float64       `yaml:"aggressiveness"`    // Half-life divisor (default: 1.0)
	ArchiveThreshold float64       `yaml:"archive_threshold"` // Archive below this strength (default: 0.25)
	RecallBoost      float64       `yaml:"recall_boost"`      // Strength credit per past recall (default: 0.01)
	RecallBoostCap   float64       `yaml:"recall_boost_cap"`  // Max total recall credit (default: 0.3)
}

// ReflectionConfig contains episodic compression knobs. These apply live
// on reload.
type ReflectionConfig struct {
	Interval    time.Duration `yaml:"interval"`     // Per-user reflection cadence (default: 168h)
	MinAge      time.Duration `yaml:"min_age"`      // Only compress memories older than this (default: 336h)
	MaxStrength float64       `yaml:"max_strength"` // Only compress memories at or below this (default: 0.45)
	MinBatch    int           `yaml:"min_batch"`    // Skip batches smaller than this (default: 3)
	TokenBudget int           `yaml:"token_budget"` // Token cap per reflection prompt (default: 2000)
}

// SessionConfig contains session buffer configuration.
type SessionConfig struct {
	Backend  string        `yaml:"backend"`   // memory or redis (default: memory)
	RedisURL string        `yaml:"redis_url"` // Redis address (default: localhost:6379)
	Size     int           `yaml:"size"`      // Messages kept per session (default: 50)
	TTL      time.Duration `yaml:"ttl"`       // Session expiry (default: 24h)
}

// IngestConfig contains Kafka conversation ingest configuration.
type IngestConfig struct {
	KafkaEnabled bool     `yaml:"kafka_enabled"` // Enable the Kafka consumer (default: false)
	Brokers      []string `yaml:"brokers"`       // Kafka broker addresses
	Topic        string   `yaml:"topic"`         // Conversation topic (default: engram.conversations)
	GroupID      string   `yaml:"group_id"`      // Consumer group (default: engram)
}

// ExportConfig contains JSON snapshot export configuration.
type ExportConfig struct {
	Path      string `yaml:"path"`      // Snapshot directory (default: ./exports)
	Retention int    `yaml:"retention"` // Snapshots kept per user (default: 10)
}

// LoggingConfig contains log output configuration. Level applies live on
// reload.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error (default: info)
	Format string `yaml:"format"` // json or text (default: json)
}

// Load resolves configuration from defaults, the YAML file at path (if
// path is non-empty), and ENGRAM_ environment variables, in that order of
// precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:      "127.0.0.1",
			Port:      7377,
			RateLimit: 20,
			RateBurst: 40,
		},
		Storage: StorageConfig{
			Engine:   "sqlite",
			DataPath: "./data",
		},
		Vector: VectorConfig{
			Backend:    "chromem",
			Dimensions: 768,
		},
		Providers: ProvidersConfig{
			Provider:   "ollama",
			Model:      "qwen2.5:7b",
			EmbedModel: "nomic-embed-text",
			Timeout:    30 * time.Second,
			CacheSize:  4096,
		},
		Engine: EngineConfig{
			Workers:         4,
			QueueSize:       256,
			MaxRetries:      3,
			ShutdownTimeout: 30 * time.Second,
		},
		Decay: DecayConfig{
			Interval:         24 * time.Hour,
			HalfLife:         720 * time.Hour,
			Aggressiveness:   1.0,
			ArchiveThreshold: 0.25,
			RecallBoost:      0.01,
			RecallBoostCap:   0.3,
		},
		Reflection: ReflectionConfig{
			Interval:    168 * time.Hour,
			MinAge:      336 * time.Hour,
			MaxStrength: 0.45,
			MinBatch:    3,
			TokenBudget: 2000,
		},
		Session: SessionConfig{
			Backend:  "memory",
			RedisURL: "localhost:6379",
			Size:     50,
			TTL:      24 * time.Hour,
		},
		Ingest: IngestConfig{
			Topic:   "engram.conversations",
			GroupID: "engram",
		},
		Export: ExportConfig{
			Path:      "./exports",
			Retention: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// applyEnv overlays ENGRAM_ environment variables onto the config.
func (c *Config) applyEnv() {
	c.Server.Host = getEnv("ENGRAM_HOST", c.Server.Host)
	c.Server.Port = getEnvInt("ENGRAM_PORT", c.Server.Port)
	c.Server.RateLimit = getEnvFloat("ENGRAM_RATE_LIMIT", c.Server.RateLimit)
	c.Server.RateBurst = getEnvInt("ENGRAM_RATE_BURST", c.Server.RateBurst)

	c.Storage.Engine = getEnv("ENGRAM_STORAGE_ENGINE", c.Storage.Engine)
	c.Storage.DataPath = getEnv("ENGRAM_DATA_PATH", c.Storage.DataPath)
	c.Storage.PostgresDSN = getEnv("ENGRAM_POSTGRES_DSN", c.Storage.PostgresDSN)

	c.Vector.Backend = getEnv("ENGRAM_VECTOR_BACKEND", c.Vector.Backend)
	c.Vector.Path = getEnv("ENGRAM_VECTOR_PATH", c.Vector.Path)
	c.Vector.Dimensions = getEnvInt("ENGRAM_VECTOR_DIMENSIONS", c.Vector.Dimensions)

	c.Providers.Provider = getEnv("ENGRAM_LLM_PROVIDER", c.Providers.Provider)
	c.Providers.BaseURL = getEnv("ENGRAM_LLM_BASE_URL", c.Providers.BaseURL)
	c.Providers.APIKey = getEnv("ENGRAM_LLM_API_KEY", c.Providers.APIKey)
	c.Providers.Model = getEnv("ENGRAM_LLM_MODEL", c.Providers.Model)
	c.Providers.EmbedModel = getEnv("ENGRAM_EMBEDDING_MODEL", c.Providers.EmbedModel)
	c.Providers.Timeout = getEnvDuration("ENGRAM_LLM_TIMEOUT", c.Providers.Timeout)
	c.Providers.CacheSize = getEnvInt("ENGRAM_EMBEDDING_CACHE_SIZE", c.Providers.CacheSize)

	c.Engine.Workers = getEnvInt("ENGRAM_WORKERS", c.Engine.Workers)
	c.Engine.QueueSize = getEnvInt("ENGRAM_QUEUE_SIZE", c.Engine.QueueSize)
	c.Engine.MaxRetries = getEnvInt("ENGRAM_MAX_RETRIES", c.Engine.MaxRetries)
	c.Engine.ShutdownTimeout = getEnvDuration("ENGRAM_SHUTDOWN_TIMEOUT", c.Engine.ShutdownTimeout)

	c.Decay.Interval = getEnvDuration("ENGRAM_DECAY_INTERVAL", c.Decay.Interval)
	c.Decay.HalfLife = getEnvDuration("ENGRAM_DECAY_HALF_LIFE", c.Decay.HalfLife)
	c.Decay.Aggressiveness = getEnvFloat("ENGRAM_DECAY_AGGRESSIVENESS", c.Decay.Aggressiveness)
	c.Decay.ArchiveThreshold = getEnvFloat("ENGRAM_ARCHIVE_THRESHOLD", c.Decay.ArchiveThreshold)
	c.Decay.RecallBoost = getEnvFloat("ENGRAM_RECALL_BOOST", c.Decay.RecallBoost)
	c.Decay.RecallBoostCap = getEnvFloat("ENGRAM_RECALL_BOOST_CAP", c.Decay.RecallBoostCap)

	c.Reflection.Interval = getEnvDuration("ENGRAM_REFLECTION_INTERVAL", c.Reflection.Interval)
	c.Reflection.MinAge = getEnvDuration("ENGRAM_REFLECTION_MIN_AGE", c.Reflection.MinAge)
	c.Reflection.MaxStrength = getEnvFloat("ENGRAM_REFLECTION_MAX_STRENGTH", c.Reflection.MaxStrength)
	c.Reflection.MinBatch = getEnvInt("ENGRAM_REFLECTION_MIN_BATCH", c.Reflection.MinBatch)
	c.Reflection.TokenBudget = getEnvInt("ENGRAM_REFLECTION_TOKEN_BUDGET", c.Reflection.TokenBudget)

	c.Session.Backend = getEnv("ENGRAM_SESSION_BACKEND", c.Session.Backend)
	c.Session.RedisURL = getEnv("ENGRAM_REDIS_URL", c.Session.RedisURL)
	c.Session.Size = getEnvInt("ENGRAM_SESSION_SIZE", c.Session.Size)
	c.Session.TTL = getEnvDuration("ENGRAM_SESSION_TTL", c.Session.TTL)

	c.Ingest.KafkaEnabled = getEnvBool("ENGRAM_KAFKA_ENABLED", c.Ingest.KafkaEnabled)
	if brokers := os.Getenv("ENGRAM_KAFKA_BROKERS"); brokers != "" {
		c.Ingest.Brokers = splitCSV(brokers)
	}
	c.Ingest.Topic = getEnv("ENGRAM_KAFKA_TOPIC", c.Ingest.Topic)
	c.Ingest.GroupID = getEnv("ENGRAM_KAFKA_GROUP_ID", c.Ingest.GroupID)

	c.Export.Path = getEnv("ENGRAM_EXPORT_PATH", c.Export.Path)
	c.Export.Retention = getEnvInt("ENGRAM_EXPORT_RETENTION", c.Export.Retention)

	c.Logging.Level = getEnv("ENGRAM_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("ENGRAM_LOG_FORMAT", c.Logging.Format)
}

// Validate checks cross-field consistency. It is called by Load and again
// by the reload watcher before a new snapshot is published.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d is out of range", c.Server.Port)
	}
	switch c.Storage.Engine {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("config: storage.postgres_dsn is required for the postgres engine")
		}
	default:
		return fmt.Errorf("config: unknown storage.engine %q", c.Storage.Engine)
	}
	switch c.Vector.Backend {
	case "chromem":
	case "pgvector":
		if c.Storage.Engine != "postgres" {
			return fmt.Errorf("config: vector.backend pgvector requires the postgres storage engine")
		}
	default:
		return fmt.Errorf("config: unknown vector.backend %q", c.Vector.Backend)
	}
	switch c.Session.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: unknown session.backend %q", c.Session.Backend)
	}
	if c.Decay.Aggressiveness <= 0 {
		return fmt.Errorf("config: decay.aggressiveness must be positive")
	}
	if c.Decay.ArchiveThreshold < 0 || c.Decay.ArchiveThreshold >= 1 {
		return fmt.Errorf("config: decay.archive_threshold must be in [0, 1)")
	}
	if c.Reflection.MinBatch < 1 {
		return fmt.Errorf("config: reflection.min_batch must be at least 1")
	}
	if c.Ingest.KafkaEnabled && len(c.Ingest.Brokers) == 0 {
		return fmt.Errorf("config: ingest.brokers is required when Kafka ingest is enabled")
	}
	if c.Export.Retention < 1 {
		return fmt.Errorf("config: export.retention must be at least 1")
	}
	return nil
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default
// value. It recognizes "true", "1", "yes" and "false", "0", "no".
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable (Go syntax,
// e.g. "24h") or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitCSV(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
