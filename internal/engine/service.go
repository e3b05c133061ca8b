// Package engine implements the long-term memory engine: ranked, decaying,
// interlinked knowledge recallable by vector similarity, tag, or time
// range. The Service facade owns the dedup/contradiction resolver, the
// entity graph, the recall ranker, and the decay/reflection maintenance
// jobs, with background enrichment running on a bounded worker pool.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/engramlabs/engram/internal/llm"
	"github.com/engramlabs/engram/internal/logging"
	"github.com/engramlabs/engram/internal/session"
	"github.com/engramlabs/engram/internal/storage"
	"github.com/engramlabs/engram/internal/vector"
	"github.com/engramlabs/engram/pkg/types"
)

// Service is the engine facade. All memory operations for every surface
// (HTTP API, Kafka ingest, CLI, scheduler) go through it.
type Service struct {
	cfg Config

	store     storage.Store
	index     vector.Index
	embedder  llm.Embedder
	extractor llm.EntityExtractor
	reflector llm.TextGenerator
	sessions  session.Buffer

	log *logrus.Entry

	// Enrichment pipeline
	queue        chan *enrichmentJob
	workerWG     sync.WaitGroup
	workerCtx    context.Context
	workerCancel context.CancelFunc

	// nameSimilarity decides when two entity names are the same thing
	// during the fuzzy merge pass.
	nameSimilarity NameSimilarity

	started      bool
	shuttingDown bool
	mu           sync.RWMutex

	// now is a hook for tests; production uses time.Now.
	now func() time.Time

	onMemoryStored       func(memoryID, userID string)
	onMemoryReinforced   func(memoryID, userID string)
	onMemoryContradicted func(newID, oldID, userID string)
	onMemoryArchived     func(memoryID, userID string)
	onReflectionDone     func(userID string, report types.ReflectReport)
}

// Deps carries the injected collaborators. Store, Index, and Embedder are
// required; Extractor, Reflector, and Sessions are optional and their
// features are skipped when absent.
type Deps struct {
	Store     storage.Store
	Index     vector.Index
	Embedder  llm.Embedder
	Extractor llm.EntityExtractor
	Reflector llm.TextGenerator
	Sessions  session.Buffer
}

// Config holds the engine's operational knobs.
type Config struct {
	// Workers is the number of enrichment worker goroutines (default: 4).
	Workers int

	// QueueSize is the enrichment queue buffer (default: 256).
	QueueSize int

	// MaxRetries is the maximum enrichment retry attempts (default: 3).
	MaxRetries int

	// ShutdownTimeout bounds the worker drain on shutdown (default: 30s).
	ShutdownTimeout time.Duration

	// SyncEnrichment runs enrichment inline before Store returns instead
	// of queueing it. Meant for tests and small deployments.
	SyncEnrichment bool

	// ArchiveThreshold is the strength below which decay archives a
	// memory (default: 0.25).
	ArchiveThreshold float64

	// DecayAggressiveness scales the forgetting curve; 1.0 is baseline,
	// larger forgets faster (default: 1.0).
	DecayAggressiveness float64

	// DecayHalfLife is the time for an unrecalled memory's strength to
	// halve at aggressiveness 1.0 (default: 720h, thirty days).
	DecayHalfLife time.Duration

	// DecayInterval is the minimum gap between decay passes per user
	// (default: 24h).
	DecayInterval time.Duration

	// RecallBoost is the per-recall decay offset; frequently recalled
	// memories age more slowly (default: 0.01).
	RecallBoost float64

	// RecallBoostCap bounds the total recall offset (default: 0.3).
	RecallBoostCap float64

	// ReflectionInterval is the minimum gap between reflection passes per
	// user (default: 168h, one week).
	ReflectionInterval time.Duration

	// ReflectionMinAge is how old an episodic memory must be before
	// reflection may consume it (default: 336h, two weeks).
	ReflectionMinAge time.Duration

	// ReflectionMaxStrength is the strength ceiling for reflection source
	// rows; stronger episodic memories are left alone (default: 0.45).
	ReflectionMaxStrength float64

	// ReflectionMinBatch is the minimum number of source rows worth a
	// reflection call (default: 3).
	ReflectionMinBatch int

	// ReflectionTokenBudget caps the prompt tokens per reflection call
	// (default: 2000).
	ReflectionTokenBudget int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workers:               4,
		QueueSize:             256,
		MaxRetries:            3,
		ShutdownTimeout:       30 * time.Second,
		ArchiveThreshold:      0.25,
		DecayAggressiveness:   1.0,
		DecayHalfLife:         720 * time.Hour,
		DecayInterval:         24 * time.Hour,
		RecallBoost:           0.01,
		RecallBoostCap:        0.3,
		ReflectionInterval:    168 * time.Hour,
		ReflectionMinAge:      336 * time.Hour,
		ReflectionMaxStrength: 0.45,
		ReflectionMinBatch:    3,
		ReflectionTokenBudget: 2000,
	}
}

// Validate checks the config for usable values.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("Workers must be >= 1, got %d", c.Workers)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("QueueSize must be >= 1, got %d", c.QueueSize)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MaxRetries must be >= 0, got %d", c.MaxRetries)
	}
	if c.ArchiveThreshold <= 0 || c.ArchiveThreshold >= 1 {
		return fmt.Errorf("ArchiveThreshold must be in (0,1), got %v", c.ArchiveThreshold)
	}
	if c.DecayAggressiveness <= 0 || c.DecayAggressiveness > 10 {
		return fmt.Errorf("DecayAggressiveness must be in (0,10], got %v", c.DecayAggressiveness)
	}
	if c.DecayHalfLife <= 0 {
		return fmt.Errorf("DecayHalfLife must be > 0, got %v", c.DecayHalfLife)
	}
	if c.ReflectionMinBatch < 1 {
		return fmt.Errorf("ReflectionMinBatch must be >= 1, got %d", c.ReflectionMinBatch)
	}
	if c.ReflectionTokenBudget < 100 {
		return fmt.Errorf("ReflectionTokenBudget must be >= 100, got %d", c.ReflectionTokenBudget)
	}
	return nil
}

// StoreOptions carries the optional fields of a rich store.
type StoreOptions struct {
	// Sector classifies the memory; empty defaults to semantic.
	Sector types.Sector

	// Tags are attached verbatim.
	Tags []string

	// SessionKey records the conversation that produced the memory.
	SessionKey string

	// EventAt is when the remembered fact occurred; zero defaults to now.
	EventAt time.Time

	// ValidUntil expires the memory; decay archives it past this instant.
	ValidUntil *time.Time
}

// New creates the engine service with injected dependencies.
func New(deps Deps, cfg Config) (*Service, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if deps.Index == nil {
		return nil, fmt.Errorf("vector index is required")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	return &Service{
		cfg:            cfg,
		store:          deps.Store,
		index:          deps.Index,
		embedder:       deps.Embedder,
		extractor:      deps.Extractor,
		reflector:      deps.Reflector,
		sessions:       deps.Sessions,
		log:            logging.Component("engine"),
		queue:          make(chan *enrichmentJob, cfg.QueueSize),
		nameSimilarity: ContainmentSimilarity,
		now:            time.Now,
	}, nil
}

// SetNameSimilarity swaps the entity-merge similarity heuristic.
func (s *Service) SetNameSimilarity(fn NameSimilarity) {
	if fn != nil {
		s.nameSimilarity = fn
	}
}

// SetNow overrides the engine's clock. Tests use it to steer decay and
// timeframe behavior; production keeps time.Now.
func (s *Service) SetNow(fn func() time.Time) {
	if fn != nil {
		s.now = fn
	}
}

// UpdateMaintenanceConfig applies the decay and reflection knobs from cfg
// live, for config hot reload. Pipeline knobs (workers, queue, retries)
// are fixed at Start and ignored here.
func (s *Service) UpdateMaintenanceConfig(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.ArchiveThreshold = cfg.ArchiveThreshold
	s.cfg.DecayAggressiveness = cfg.DecayAggressiveness
	s.cfg.DecayHalfLife = cfg.DecayHalfLife
	s.cfg.DecayInterval = cfg.DecayInterval
	s.cfg.RecallBoost = cfg.RecallBoost
	s.cfg.RecallBoostCap = cfg.RecallBoostCap
	s.cfg.ReflectionInterval = cfg.ReflectionInterval
	s.cfg.ReflectionMinAge = cfg.ReflectionMinAge
	s.cfg.ReflectionMaxStrength = cfg.ReflectionMaxStrength
	s.cfg.ReflectionMinBatch = cfg.ReflectionMinBatch
	s.cfg.ReflectionTokenBudget = cfg.ReflectionTokenBudget
}

// config returns a snapshot of the current knobs. Maintenance jobs read
// through this so a concurrent hot reload cannot tear a pass.
func (s *Service) config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Start launches the enrichment worker pool and the index backfill. Must
// be called before Store.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("engine already started")
	}

	s.workerCtx, s.workerCancel = context.WithCancel(ctx)

	if !s.cfg.SyncEnrichment {
		s.startWorkerPool(s.workerCtx)

		// Re-enqueue rows whose embeddings never landed (crash or
		// provider outage during a previous run).
		go s.backfillUnindexed(s.workerCtx)
	}

	s.started = true
	s.log.WithField("workers", s.cfg.Workers).Info("memory engine started")
	return nil
}

// Shutdown drains the enrichment queue and stops the workers. New stores
// are rejected as soon as it begins.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("engine not started")
	}
	s.started = false
	s.shuttingDown = true
	cancel := s.workerCancel
	s.mu.Unlock()

	// Cancel before closing the queue so workers stop requeueing into it.
	if cancel != nil {
		cancel()
	}

	if !s.cfg.SyncEnrichment {
		if err := s.stopWorkerPool(ctx); err != nil {
			s.log.WithError(err).Warn("worker pool shutdown incomplete")
		}
	}

	s.mu.Lock()
	s.shuttingDown = false
	s.mu.Unlock()
	s.log.Info("memory engine stopped")
	return nil
}

func (s *Service) ensureStarted() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return fmt.Errorf("engine not started")
	}
	return nil
}

// Store remembers content with default classification (semantic) and
// returns the memory id. Duplicate content reinforces the existing row and
// returns its id instead.
func (s *Service) Store(ctx context.Context, userID, content string, tags []string) (string, error) {
	return s.StoreRich(ctx, userID, content, StoreOptions{Tags: tags})
}

// StoreRich remembers content with full control over classification,
// provenance, and validity.
func (s *Service) StoreRich(ctx context.Context, userID, content string, opts StoreOptions) (string, error) {
	if err := s.ensureStarted(); err != nil {
		return "", err
	}
	if userID == "" {
		return "", fmt.Errorf("%w: user id is required", storage.ErrInvalidInput)
	}
	if content == "" {
		return "", fmt.Errorf("%w: content is required", storage.ErrInvalidInput)
	}

	sector := opts.Sector
	if sector == "" {
		sector = types.SectorSemantic
	}
	if !types.IsValidSector(sector) {
		return "", fmt.Errorf("%w: unknown sector %q", storage.ErrInvalidInput, sector)
	}

	now := s.now()
	eventAt := opts.EventAt
	if eventAt.IsZero() {
		eventAt = now
	}

	memory := &types.Memory{
		ID:           types.NewMemoryID(),
		UserID:       userID,
		Sector:       sector,
		Content:      content,
		Tags:         opts.Tags,
		SessionKey:   opts.SessionKey,
		EventAt:      eventAt,
		RememberedAt: now,
		ValidUntil:   opts.ValidUntil,
		Strength:     types.DefaultStrength,
	}

	return s.insertMemory(ctx, memory)
}

// Recall returns the recall texts of the memories matching the query. In
// degraded mode the session buffer fills in for the unreachable index.
func (s *Service) Recall(ctx context.Context, userID, query string, limit int, sessionKey string) ([]string, error) {
	results, err := s.RecallRich(ctx, userID, query, RecallOptions{Limit: limit})
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Memory.RecallText())
	}

	// Degraded fallback: recent conversation is the only other searchable
	// context when the index is unreachable.
	if s.IsDegraded() && sessionKey != "" && s.sessions != nil {
		if limit <= 0 {
			limit = defaultRecallLimit
		}
		if len(out) < limit {
			msgs, serr := s.sessions.Search(ctx, sessionKey, query, limit-len(out))
			if serr != nil {
				s.log.WithError(serr).Warn("session fallback scan failed")
			}
			for _, msg := range msgs {
				out = append(out, msg.Content)
			}
		}
	}

	return out, nil
}

// RecallRich returns scored memories matching the query, optionally
// enriched by graph traversal. Every returned memory is reinforced.
func (s *Service) RecallRich(ctx context.Context, userID, query string, opts RecallOptions) ([]ScoredMemory, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", storage.ErrInvalidInput)
	}

	results, err := s.search(ctx, userID, query, opts)
	if err != nil {
		return nil, err
	}

	if opts.GraphDepth > 0 {
		results = s.graphEnrichRecall(ctx, userID, results, opts.GraphDepth)
	}

	s.reinforceAll(ctx, results)
	return results, nil
}

// GetStats summarizes the user's memory population.
func (s *Service) GetStats(ctx context.Context, userID string) (*types.UserStats, error) {
	return s.store.GetStats(ctx, userID)
}

// ExportMemories snapshots everything the engine holds for the user.
func (s *Service) ExportMemories(ctx context.Context, userID string) (*types.Export, error) {
	return s.store.ExportUser(ctx, userID)
}

// ArchiveMemory archives a single memory on request from outside the
// engine. The row is kept; it just stops participating in recall.
func (s *Service) ArchiveMemory(ctx context.Context, id string) error {
	memory, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Archive(ctx, id); err != nil {
		return err
	}
	s.fireMemoryArchived(id, memory.UserID)
	return nil
}

// IsDegraded reports whether semantic recall is currently unavailable and
// reads are falling back to keyword scans.
func (s *Service) IsDegraded() bool {
	if d, ok := s.index.(interface{ Degraded() bool }); ok && d.Degraded() {
		return true
	}
	if d, ok := s.embedder.(interface{ Degraded() bool }); ok && d.Degraded() {
		return true
	}
	return false
}

// RunMaintenance runs the full maintenance cycle for one user: decay,
// reflection, and the entity merge pass. Each job self-throttles, so the
// scheduler can call this every tick.
func (s *Service) RunMaintenance(ctx context.Context, userID string) error {
	if _, err := s.Decay(ctx, userID); err != nil {
		return fmt.Errorf("decay failed: %w", err)
	}
	if _, err := s.Reflect(ctx, userID); err != nil {
		return fmt.Errorf("reflection failed: %w", err)
	}
	if _, err := s.MergeEntities(ctx, userID); err != nil {
		return fmt.Errorf("entity merge failed: %w", err)
	}
	return nil
}

// MaintainAll runs the maintenance cycle for every known user. One user's
// failure doesn't stop the sweep; the first error is returned after all
// users have been visited.
func (s *Service) MaintainAll(ctx context.Context) error {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list users for maintenance: %w", err)
	}

	var firstErr error
	for _, userID := range users {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.RunMaintenance(ctx, userID); err != nil {
			s.log.WithError(err).WithField("user_id", userID).Error("maintenance pass failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// SetOnMemoryStored registers a callback fired when a new memory row is
// created.
func (s *Service) SetOnMemoryStored(fn func(memoryID, userID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMemoryStored = fn
}

// SetOnMemoryReinforced registers a callback fired when a recall or a
// duplicate store strengthens a memory.
func (s *Service) SetOnMemoryReinforced(fn func(memoryID, userID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMemoryReinforced = fn
}

// SetOnMemoryContradicted registers a callback fired when new content
// supersedes an older memory.
func (s *Service) SetOnMemoryContradicted(fn func(newID, oldID, userID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMemoryContradicted = fn
}

// SetOnMemoryArchived registers a callback fired when a memory is
// archived, by decay or on request.
func (s *Service) SetOnMemoryArchived(fn func(memoryID, userID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMemoryArchived = fn
}

// SetOnReflectionCompleted registers a callback fired after a reflection
// pass produced new memories.
func (s *Service) SetOnReflectionCompleted(fn func(userID string, report types.ReflectReport)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReflectionDone = fn
}

func (s *Service) fireMemoryStored(memoryID, userID string) {
	s.mu.RLock()
	fn := s.onMemoryStored
	s.mu.RUnlock()
	if fn != nil {
		fn(memoryID, userID)
	}
}

func (s *Service) fireMemoryReinforced(memoryID, userID string) {
	s.mu.RLock()
	fn := s.onMemoryReinforced
	s.mu.RUnlock()
	if fn != nil {
		fn(memoryID, userID)
	}
}

func (s *Service) fireMemoryContradicted(newID, oldID, userID string) {
	s.mu.RLock()
	fn := s.onMemoryContradicted
	s.mu.RUnlock()
	if fn != nil {
		fn(newID, oldID, userID)
	}
}

func (s *Service) fireMemoryArchived(memoryID, userID string) {
	s.mu.RLock()
	fn := s.onMemoryArchived
	s.mu.RUnlock()
	if fn != nil {
		fn(memoryID, userID)
	}
}

func (s *Service) fireReflectionDone(userID string, report types.ReflectReport) {
	s.mu.RLock()
	fn := s.onReflectionDone
	s.mu.RUnlock()
	if fn != nil {
		fn(userID, report)
	}
}
