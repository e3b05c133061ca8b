package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "sqlite", cfg.Storage.Engine)
	assert.Equal(t, "chromem", cfg.Vector.Backend)
	assert.Equal(t, 7377, cfg.Server.Port)
	assert.Equal(t, 720*time.Hour, cfg.Decay.HalfLife)
}

func TestLoadLayersYAMLOverDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
decay:
  half_life: 48h
  aggressiveness: 2.5
session:
  backend: redis
  redis_url: redis.internal:6379
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 48*time.Hour, cfg.Decay.HalfLife)
	assert.InDelta(t, 2.5, cfg.Decay.Aggressiveness, 1e-9)
	assert.Equal(t, "redis", cfg.Session.Backend)
	assert.Equal(t, "redis.internal:6379", cfg.Session.RedisURL)

	// Untouched sections keep their defaults.
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "sqlite", cfg.Storage.Engine)
}

func TestEnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
`)
	t.Setenv("ENGRAM_PORT", "9100")
	t.Setenv("ENGRAM_DECAY_AGGRESSIVENESS", "3.0")
	t.Setenv("ENGRAM_KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("ENGRAM_REFLECTION_MIN_AGE", "72h")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.InDelta(t, 3.0, cfg.Decay.Aggressiveness, 1e-9)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Ingest.Brokers)
	assert.Equal(t, 72*time.Hour, cfg.Reflection.MinAge)
}

func TestUnparseableEnvFallsBack(t *testing.T) {
	t.Setenv("ENGRAM_PORT", "not-a-port")
	t.Setenv("ENGRAM_DECAY_HALF_LIFE", "eventually")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7377, cfg.Server.Port)
	assert.Equal(t, 720*time.Hour, cfg.Decay.HalfLife)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.Server.Port = 0 }},
		{"unknown storage engine", func(c *Config) { c.Storage.Engine = "dynamo" }},
		{"postgres without dsn", func(c *Config) { c.Storage.Engine = "postgres" }},
		{"pgvector over sqlite", func(c *Config) { c.Vector.Backend = "pgvector" }},
		{"unknown session backend", func(c *Config) { c.Session.Backend = "memcached" }},
		{"zero aggressiveness", func(c *Config) { c.Decay.Aggressiveness = 0 }},
		{"threshold above one", func(c *Config) { c.Decay.ArchiveThreshold = 1.0 }},
		{"kafka without brokers", func(c *Config) { c.Ingest.KafkaEnabled = true }},
		{"zero export retention", func(c *Config) { c.Export.Retention = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestWatcherPublishesReloadedSnapshot(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: info
`)

	snapshots := make(chan *Config, 1)
	w := NewWatcher(path, func(cfg *Config) {
		select {
		case snapshots <- cfg:
		default:
		}
	})
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o644))

	select {
	case cfg := <-snapshots:
		assert.Equal(t, "debug", cfg.Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
}

func TestWatcherKeepsPreviousSnapshotOnInvalidFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
`)

	snapshots := make(chan *Config, 1)
	w := NewWatcher(path, func(cfg *Config) {
		select {
		case snapshots <- cfg:
		default:
		}
	})
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: -1\n"), 0o644))

	select {
	case cfg := <-snapshots:
		t.Fatalf("invalid config was published: %+v", cfg.Server)
	case <-time.After(time.Second):
		// No snapshot: the bad file was rejected.
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engram.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}
