// Command engram-server runs the engram memory daemon: the HTTP API, the
// websocket event feed, the optional Kafka conversation consumer, and the
// background maintenance scheduler.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/engramlabs/engram/internal/config"
	"github.com/engramlabs/engram/internal/engine"
	"github.com/engramlabs/engram/internal/events"
	"github.com/engramlabs/engram/internal/export"
	"github.com/engramlabs/engram/internal/ingest"
	"github.com/engramlabs/engram/internal/llm"
	"github.com/engramlabs/engram/internal/logging"
	"github.com/engramlabs/engram/internal/server"
	"github.com/engramlabs/engram/internal/session"
	"github.com/engramlabs/engram/internal/storage"
	"github.com/engramlabs/engram/internal/storage/postgres"
	"github.com/engramlabs/engram/internal/storage/sqlite"
	"github.com/engramlabs/engram/internal/vector"
	"github.com/engramlabs/engram/internal/vector/chromem"
	"github.com/engramlabs/engram/internal/vector/pgvector"
)

// maintenanceTick is how often the scheduler sweeps users. The decay and
// reflection jobs self-throttle per user, so a frequent tick only costs a
// few last-run lookups.
const maintenanceTick = 15 * time.Minute

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	log := logging.Component("main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to open row store")
	}
	defer store.Close()

	index, err := openIndex(cfg, store)
	if err != nil {
		log.WithError(err).Fatal("failed to open vector index")
	}

	providerCfg := llm.ProviderConfig{
		Provider:   cfg.Providers.Provider,
		BaseURL:    cfg.Providers.BaseURL,
		APIKey:     cfg.Providers.APIKey,
		Model:      cfg.Providers.Model,
		EmbedModel: cfg.Providers.EmbedModel,
		Timeout:    cfg.Providers.Timeout,
	}
	embedder, err := llm.NewEmbedder(providerCfg)
	if err != nil {
		log.WithError(err).Fatal("failed to create embedder")
	}
	cacheBytes := int64(cfg.Providers.CacheSize) * int64(cfg.Vector.Dimensions) * 4
	cached, err := llm.NewCachingEmbedder(embedder, cacheBytes)
	if err != nil {
		log.WithError(err).Fatal("failed to create embedding cache")
	}
	defer cached.Close()

	generator, err := llm.NewTextGenerator(providerCfg)
	if err != nil {
		log.WithError(err).Fatal("failed to create text generator")
	}

	sessions, err := openSessions(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to open session buffer")
	}
	if closer, ok := sessions.(io.Closer); ok {
		defer closer.Close()
	}

	svc, err := engine.New(engine.Deps{
		Store:     store,
		Index:     vector.WithBreaker(index),
		Embedder:  cached,
		Extractor: llm.NewExtractor(generator),
		Reflector: generator,
		Sessions:  sessions,
	}, engineConfig(cfg))
	if err != nil {
		log.WithError(err).Fatal("failed to create engine")
	}
	if err := svc.Start(ctx); err != nil {
		log.WithError(err).Fatal("failed to start engine")
	}

	broadcaster := events.NewBroadcaster()
	broadcaster.Attach(svc)
	defer broadcaster.Close()

	exporter := export.New(svc, cfg.Export.Path, cfg.Export.Retention)

	srv := server.New(svc, broadcaster, exporter, server.Options{
		Host:      cfg.Server.Host,
		Port:      cfg.Server.Port,
		RateLimit: cfg.Server.RateLimit,
		RateBurst: cfg.Server.RateBurst,
	})
	addr, err := srv.Start(ctx)
	if err != nil {
		log.WithError(err).Fatal("failed to start server")
	}
	log.WithField("addr", addr).Info("engram serving")

	if cfg.Ingest.KafkaEnabled {
		consumer := ingest.NewConsumer(ingest.ConsumerConfig{
			Brokers: cfg.Ingest.Brokers,
			Topic:   cfg.Ingest.Topic,
			GroupID: cfg.Ingest.GroupID,
		}, svc)
		defer consumer.Close()
		go func() {
			if err := consumer.Run(ctx); err != nil {
				log.WithError(err).Error("kafka consumer stopped")
			}
		}()
	}

	var watcher *config.Watcher
	if *configPath != "" {
		watcher = config.NewWatcher(*configPath, func(next *config.Config) {
			svc.UpdateMaintenanceConfig(engineConfig(next))
			logging.SetLevel(next.Logging.Level)
			log.Info("applied reloaded config")
		})
		if err := watcher.Start(); err != nil {
			log.WithError(err).Warn("config hot reload unavailable")
			watcher = nil
		}
	}

	go maintenanceLoop(ctx, svc, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")

	if watcher != nil {
		watcher.Stop()
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Engine.ShutdownTimeout)
	defer shutdownCancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("engine shutdown incomplete")
	}
}

// maintenanceLoop sweeps every user through decay, reflection, and entity
// merging. Each job throttles itself via per-user last-run stamps.
func maintenanceLoop(ctx context.Context, svc *engine.Service, log *logrus.Entry) {
	ticker := time.NewTicker(maintenanceTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := svc.MaintainAll(ctx); err != nil && ctx.Err() == nil {
				log.WithError(err).Error("maintenance sweep finished with errors")
			}
		}
	}
}

func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Engine {
	case "postgres":
		return postgres.New(cfg.Storage.PostgresDSN)
	default:
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		return sqlite.New(filepath.Join(cfg.Storage.DataPath, "engram.db"))
	}
}

func openIndex(cfg *config.Config, store storage.Store) (vector.Index, error) {
	switch cfg.Vector.Backend {
	case "pgvector":
		pg, ok := store.(*postgres.Store)
		if !ok {
			return nil, fmt.Errorf("pgvector backend requires the postgres store")
		}
		return pgvector.New(pg.DB())
	default:
		return chromem.New(cfg.Vector.Path)
	}
}

func openSessions(ctx context.Context, cfg *config.Config) (session.Buffer, error) {
	if cfg.Session.Backend == "redis" {
		return session.NewRedisBuffer(ctx, session.RedisConfig{
			Addr:     cfg.Session.RedisURL,
			Capacity: cfg.Session.Size,
			TTL:      cfg.Session.TTL,
		})
	}
	return session.NewMemoryBuffer(cfg.Session.Size, cfg.Session.TTL), nil
}

// engineConfig maps the file config onto the engine's knob set. Called
// again on every hot reload; only the decay and reflection fields take
// effect live.
func engineConfig(cfg *config.Config) engine.Config {
	ec := engine.DefaultConfig()
	ec.Workers = cfg.Engine.Workers
	ec.QueueSize = cfg.Engine.QueueSize
	ec.MaxRetries = cfg.Engine.MaxRetries
	ec.ShutdownTimeout = cfg.Engine.ShutdownTimeout
	ec.ArchiveThreshold = cfg.Decay.ArchiveThreshold
	ec.DecayAggressiveness = cfg.Decay.Aggressiveness
	ec.DecayHalfLife = cfg.Decay.HalfLife
	ec.DecayInterval = cfg.Decay.Interval
	ec.RecallBoost = cfg.Decay.RecallBoost
	ec.RecallBoostCap = cfg.Decay.RecallBoostCap
	ec.ReflectionInterval = cfg.Reflection.Interval
	ec.ReflectionMinAge = cfg.Reflection.MinAge
	ec.ReflectionMaxStrength = cfg.Reflection.MaxStrength
	ec.ReflectionMinBatch = cfg.Reflection.MinBatch
	ec.ReflectionTokenBudget = cfg.Reflection.TokenBudget
	return ec
}
