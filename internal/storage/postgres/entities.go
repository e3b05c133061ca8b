package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/engramlabs/engram/internal/storage"
	"github.com/engramlabs/engram/pkg/types"
)

const entityColumns = `id, user_id, type, name, attributes, created_at, updated_at`

const relationColumns = `id, user_id, from_entity, to_entity, to_memory, kind, created_at`

// UpsertEntity inserts the entity or updates attributes on the existing
// (user_id, type, name) row, returning the canonical row either way. The
// ON CONFLICT upsert keeps this race-free under the connection pool.
func (s *Store) UpsertEntity(ctx context.Context, entity *types.Entity) (*types.Entity, error) {
	if entity == nil || entity.UserID == "" || entity.Name == "" {
		return nil, fmt.Errorf("%w: entity user ID and name are required", storage.ErrInvalidInput)
	}
	if !types.IsValidEntityType(entity.Type) {
		return nil, fmt.Errorf("%w: unknown entity type %q", storage.ErrInvalidInput, entity.Type)
	}

	now := time.Now().UTC()
	attrsJSON, err := marshalAttributes(entity.Attributes)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to marshal attributes: %w", err)
	}

	if entity.ID == "" {
		entity.ID = types.NewEntityID(entity.Type)
	}

	// Last write wins on attributes; the stored ID stays canonical.
	var canonicalID string
	var createdAt time.Time
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO entities (id, user_id, type, name, attributes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (user_id, type, name) DO UPDATE
		SET attributes = EXCLUDED.attributes, updated_at = EXCLUDED.updated_at
		RETURNING id, created_at`,
		entity.ID, entity.UserID, string(entity.Type), entity.Name, attrsJSON, now,
	).Scan(&canonicalID, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to upsert entity: %w", err)
	}

	entity.ID = canonicalID
	entity.CreatedAt = createdAt
	entity.UpdatedAt = now
	return entity, nil
}

// GetEntity retrieves an entity by ID.
func (s *Store) GetEntity(ctx context.Context, id string) (*types.Entity, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE id = $1`, id)
	entity, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get entity: %w", err)
	}
	return entity, nil
}

// ListEntitiesByUser returns all of a user's entities.
func (s *Store) ListEntitiesByUser(ctx context.Context, userID string) ([]types.Entity, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user ID is required", storage.ErrInvalidInput)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list entities: %w", err)
	}
	defer rows.Close()

	return scanEntities(rows)
}

// EntitiesForMemory returns the entities linked to a memory via part_of
// edges.
func (s *Store) EntitiesForMemory(ctx context.Context, memoryID string) ([]types.Entity, error) {
	if memoryID == "" {
		return nil, fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.user_id, e.type, e.name, e.attributes, e.created_at, e.updated_at
		FROM entities e
		JOIN relations r ON r.from_entity = e.id
		WHERE r.to_memory = $1 AND r.kind = $2`,
		memoryID, string(types.RelPartOf))
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query memory entities: %w", err)
	}
	defer rows.Close()

	return scanEntities(rows)
}

// RelationsFrom returns all outbound edges of an entity.
func (s *Store) RelationsFrom(ctx context.Context, entityID string) ([]types.Relation, error) {
	if entityID == "" {
		return nil, fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+relationColumns+` FROM relations WHERE from_entity = $1 ORDER BY created_at`,
		entityID)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query relations: %w", err)
	}
	defer rows.Close()

	return scanRelations(rows)
}

// ListRelationsByUser returns all of a user's relation edges.
func (s *Store) ListRelationsByUser(ctx context.Context, userID string) ([]types.Relation, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user ID is required", storage.ErrInvalidInput)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+relationColumns+` FROM relations WHERE user_id = $1 ORDER BY created_at`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list relations: %w", err)
	}
	defer rows.Close()

	return scanRelations(rows)
}

// InsertRelation appends an edge; an existing ID makes it a no-op.
func (s *Store) InsertRelation(ctx context.Context, rel *types.Relation) error {
	_, err := s.insertRelation(ctx, rel)
	return err
}

// insertRelation reports whether a row actually landed, which RepointRelations
// uses to count copies.
func (s *Store) insertRelation(ctx context.Context, rel *types.Relation) (bool, error) {
	if rel == nil || rel.ID == "" || rel.FromEntity == "" {
		return false, fmt.Errorf("%w: relation ID and from entity are required", storage.ErrInvalidInput)
	}
	if !rel.Valid() {
		return false, fmt.Errorf("%w: relation must target exactly one of entity or memory", storage.ErrInvalidInput)
	}
	if !types.IsValidRelationKind(rel.Kind) {
		return false, fmt.Errorf("%w: unknown relation kind %q", storage.ErrInvalidInput, rel.Kind)
	}

	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO relations (id, user_id, from_entity, to_entity, to_memory, kind, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		rel.ID, rel.UserID, rel.FromEntity,
		nullString(rel.ToEntity), nullString(rel.ToMemory),
		string(rel.Kind), rel.CreatedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("postgres: failed to insert relation: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("postgres: failed to check relation insert: %w", err)
	}
	return n > 0, nil
}

// RepointRelations copies every edge of fromEntity onto toEntity. Self-loops
// that would result are skipped; originals are kept.
func (s *Store) RepointRelations(ctx context.Context, fromEntityID, toEntityID string) (int, error) {
	if fromEntityID == "" || toEntityID == "" {
		return 0, fmt.Errorf("%w: both entity IDs are required", storage.ErrInvalidInput)
	}

	edges, err := s.RelationsFrom(ctx, fromEntityID)
	if err != nil {
		return 0, err
	}

	copied := 0
	for _, edge := range edges {
		if edge.Target() == toEntityID {
			continue
		}

		var moved types.Relation
		if edge.PointsAtMemory() {
			moved = types.NewMemoryRelation(edge.UserID, toEntityID, edge.ToMemory, edge.Kind)
		} else {
			moved = types.NewRelation(edge.UserID, toEntityID, edge.ToEntity, edge.Kind)
		}

		inserted, err := s.insertRelation(ctx, &moved)
		if err != nil {
			return copied, fmt.Errorf("postgres: failed to repoint relation %s: %w", edge.ID, err)
		}
		if inserted {
			copied++
		}
	}
	return copied, nil
}

// scanEntity reads one entity row using the entityColumns order.
func scanEntity(row rowScanner) (*types.Entity, error) {
	var e types.Entity
	var attrsJSON sql.NullString

	err := row.Scan(&e.ID, &e.UserID, &e.Type, &e.Name, &attrsJSON, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if attrsJSON.Valid && attrsJSON.String != "" {
		if err := json.Unmarshal([]byte(attrsJSON.String), &e.Attributes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attributes: %w", err)
		}
	}
	return &e, nil
}

// scanEntities drains a result set of entity rows.
func scanEntities(rows *sql.Rows) ([]types.Entity, error) {
	var entities []types.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read entity rows: %w", err)
	}
	return entities, nil
}

// scanRelations drains a result set of relation rows.
func scanRelations(rows *sql.Rows) ([]types.Relation, error) {
	var relations []types.Relation
	for rows.Next() {
		var r types.Relation
		var toEntity, toMemory sql.NullString
		err := rows.Scan(&r.ID, &r.UserID, &r.FromEntity, &toEntity, &toMemory, &r.Kind, &r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan relation: %w", err)
		}
		r.ToEntity = toEntity.String
		r.ToMemory = toMemory.String
		relations = append(relations, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read relation rows: %w", err)
	}
	return relations, nil
}

// marshalAttributes encodes the attribute bag as JSON, or NULL when empty.
func marshalAttributes(attrs map[string]string) (interface{}, error) {
	if len(attrs) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
