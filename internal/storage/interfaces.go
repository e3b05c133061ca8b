// Package storage provides composable storage interfaces for the engram
// engine.
//
// The storage layer is designed with small, focused interfaces that can be
// implemented independently and composed as needed: the resolver and ranker
// only need MemoryStore, the entity graph needs EntityStore, and the
// maintenance jobs need MaintenanceStore. Store composes all of them for
// code that wires a whole backend.
package storage

import (
	"context"
	"time"

	"github.com/engramlabs/engram/pkg/types"
)

// Maintenance job names used as JobRun keys.
const (
	JobDecay      = "decay"
	JobReflection = "reflection"
)

// MemoryStore provides CRUD and filtered scans over memory rows.
type MemoryStore interface {
	// Insert creates a memory row. The memory must carry an ID; strength is
	// clamped to [0,1] on write. Returns ErrInvalidInput on missing fields.
	Insert(ctx context.Context, memory *types.Memory) error

	// GetByID retrieves a memory by ID, archived or not.
	// Returns ErrNotFound if the memory doesn't exist.
	GetByID(ctx context.Context, id string) (*types.Memory, error)

	// GetByIDs retrieves the memories for the given IDs in one round trip.
	// Missing IDs are silently skipped; order of the result is unspecified.
	GetByIDs(ctx context.Context, ids []string) ([]types.Memory, error)

	// ListByUser retrieves a user's memories matching the filters, ordered
	// by strength descending (ties broken by remembered_at descending).
	ListByUser(ctx context.Context, userID string, f Filters) ([]types.Memory, error)

	// UpdateStrength records a recall: it sets the clamped strength,
	// increments recall_count, and stamps last_recalled_at.
	// Returns ErrNotFound if the memory doesn't exist.
	UpdateStrength(ctx context.Context, id string, strength float64) error

	// SetStrength writes a clamped strength without touching the recall
	// counters. Used by decay write-back and contradiction penalties.
	SetStrength(ctx context.Context, id string, strength float64) error

	// Archive marks a memory archived. Archiving an already-archived
	// memory is a no-op, not an error.
	Archive(ctx context.Context, id string) error

	// ArchiveBatch archives the given memories and reports how many rows
	// actually transitioned (already-archived rows are not counted).
	ArchiveBatch(ctx context.Context, ids []string) (int, error)

	// MarkIndexed records that the memory's embedding has landed in the
	// vector index, removing it from the backfill scan.
	MarkIndexed(ctx context.Context, id string) error

	// ListUnindexed returns live memories whose embeddings have not been
	// confirmed in the vector index, oldest first. Used by the enrichment
	// backfill after restarts or provider outages.
	ListUnindexed(ctx context.Context, limit int) ([]types.Memory, error)

	// GetStats summarizes a user's memory population: live counts per
	// sector, mean strength, and archived count.
	GetStats(ctx context.Context, userID string) (*types.UserStats, error)

	// ListUsers returns every user ID with at least one memory row,
	// archived included. The maintenance scheduler iterates this.
	ListUsers(ctx context.Context) ([]string, error)
}

// SearchStore provides the keyword fallback scan used when the vector index
// is cold or degraded.
type SearchStore interface {
	// KeywordSearch matches the query against content, summary, and tags of
	// the user's live memories and returns up to limit rows, most relevant
	// first. It never returns an error for an unmatchable query — just an
	// empty slice.
	KeywordSearch(ctx context.Context, userID, query string, limit int) ([]types.Memory, error)
}

// EntityStore persists the entity graph: entities and the append-only
// relation edges between entities and memories.
type EntityStore interface {
	// UpsertEntity inserts the entity or, when (user_id, type, name)
	// already exists, updates its attributes (last write wins) and returns
	// the canonical row with the original ID.
	UpsertEntity(ctx context.Context, entity *types.Entity) (*types.Entity, error)

	// GetEntity retrieves an entity by ID.
	// Returns ErrNotFound if the entity doesn't exist.
	GetEntity(ctx context.Context, id string) (*types.Entity, error)

	// ListEntitiesByUser returns all of a user's entities.
	ListEntitiesByUser(ctx context.Context, userID string) ([]types.Entity, error)

	// EntitiesForMemory returns the entities linked to a memory via
	// part_of edges.
	EntitiesForMemory(ctx context.Context, memoryID string) ([]types.Entity, error)

	// RelationsFrom returns all outbound edges of an entity.
	RelationsFrom(ctx context.Context, entityID string) ([]types.Relation, error)

	// ListRelationsByUser returns all of a user's relation edges.
	ListRelationsByUser(ctx context.Context, userID string) ([]types.Relation, error)

	// InsertRelation appends an edge. Inserting an edge whose ID already
	// exists is a no-op — edge IDs are deterministic, which makes
	// re-processing a memory idempotent.
	InsertRelation(ctx context.Context, rel *types.Relation) error

	// RepointRelations copies every edge of fromEntity onto toEntity
	// (fresh deterministic IDs, same kinds and targets) and reports how
	// many landed. The original edges are kept — merges never destroy
	// history.
	RepointRelations(ctx context.Context, fromEntityID, toEntityID string) (int, error)
}

// MaintenanceStore persists per-user maintenance state: settings overrides
// and job last-run throttling stamps.
type MaintenanceStore interface {
	// GetUserSettings returns the user's stored overrides. A user with no
	// stored row gets the zero value and no error.
	GetUserSettings(ctx context.Context, userID string) (types.UserSettings, error)

	// PutUserSettings upserts the user's overrides.
	PutUserSettings(ctx context.Context, settings types.UserSettings) error

	// LastJobRun returns when the named job last ran for the user, or the
	// zero time if it never has.
	LastJobRun(ctx context.Context, userID, job string) (time.Time, error)

	// SetJobRun stamps the named job's last run for the user.
	SetJobRun(ctx context.Context, userID, job string, at time.Time) error
}

// Store composes the full storage surface a backend provides.
type Store interface {
	MemoryStore
	SearchStore
	EntityStore
	MaintenanceStore

	// ExportUser snapshots everything the engine holds for one user:
	// all memories (archived included), entities, and relations.
	ExportUser(ctx context.Context, userID string) (*types.Export, error)

	// Close releases any resources held by the store.
	Close() error
}
