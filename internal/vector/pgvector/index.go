// Package pgvector provides a vector index backed by the PostgreSQL
// pgvector extension, for deployments that already run the PostgreSQL
// storage backend and want the index in the same database.
package pgvector

import (
	"context"
	"database/sql"
	"fmt"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/engramlabs/engram/internal/vector"
)

// schema creates the embeddings table. The ivfflat index is created lazily
// because ivfflat needs at least one row to build from.
const schema = `
CREATE TABLE IF NOT EXISTS memory_embeddings (
    memory_id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    embedding vector NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_memory_embeddings_user ON memory_embeddings(user_id);

DO $$
BEGIN
  IF NOT EXISTS (
    SELECT 1 FROM pg_indexes WHERE indexname = 'idx_memory_embeddings_cosine'
  ) THEN
    IF EXISTS (SELECT 1 FROM memory_embeddings LIMIT 1) THEN
      EXECUTE 'CREATE INDEX idx_memory_embeddings_cosine ON memory_embeddings USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)';
    END IF;
  END IF;
END$$;
`

// Index implements vector.Index on a pgvector-enabled PostgreSQL database.
type Index struct {
	db *sql.DB
}

var _ vector.Index = (*Index)(nil)

// New prepares the embeddings table on an existing connection pool,
// typically the one the PostgreSQL storage backend already holds. The
// pgvector extension must be installable on the server.
func New(db *sql.DB) (*Index, error) {
	if _, err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return nil, fmt.Errorf("pgvector: extension not available: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("pgvector: failed to apply schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Add stores or replaces the embedding for a memory.
func (x *Index) Add(ctx context.Context, userID, memoryID string, embedding []float32) error {
	if memoryID == "" || len(embedding) == 0 {
		return fmt.Errorf("pgvector: memory ID and embedding are required")
	}

	_, err := x.db.ExecContext(ctx, `
		INSERT INTO memory_embeddings (memory_id, user_id, embedding, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (memory_id) DO UPDATE
		SET embedding = EXCLUDED.embedding, updated_at = NOW()`,
		memoryID, userID, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("pgvector: failed to store embedding: %w", err)
	}
	return nil
}

// Search returns up to limit nearest neighbors by cosine distance, most
// similar first.
func (x *Index) Search(ctx context.Context, userID string, embedding []float32, limit int) ([]vector.Hit, error) {
	if len(embedding) == 0 || limit <= 0 {
		return nil, nil
	}

	rows, err := x.db.QueryContext(ctx, `
		SELECT memory_id, 1 - (embedding <=> $1::vector) AS similarity
		FROM memory_embeddings
		WHERE user_id = $2
		ORDER BY embedding <=> $1::vector
		LIMIT $3`,
		pgvector.NewVector(embedding), userID, limit)
	if err != nil {
		return nil, fmt.Errorf("pgvector: query failed: %w", err)
	}
	defer rows.Close()

	var hits []vector.Hit
	for rows.Next() {
		var hit vector.Hit
		if err := rows.Scan(&hit.ID, &hit.Similarity); err != nil {
			return nil, fmt.Errorf("pgvector: failed to scan hit: %w", err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgvector: failed to read hits: %w", err)
	}
	return hits, nil
}

// Remove drops a memory's embedding; absent IDs are a no-op.
func (x *Index) Remove(ctx context.Context, userID, memoryID string) error {
	_, err := x.db.ExecContext(ctx,
		`DELETE FROM memory_embeddings WHERE memory_id = $1 AND user_id = $2`,
		memoryID, userID)
	if err != nil {
		return fmt.Errorf("pgvector: failed to delete embedding: %w", err)
	}
	return nil
}

// Count reports how many embeddings the user has indexed.
func (x *Index) Count(ctx context.Context, userID string) (int, error) {
	var count int
	err := x.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memory_embeddings WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("pgvector: failed to count embeddings: %w", err)
	}
	return count, nil
}
