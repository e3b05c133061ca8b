// Package postgres provides a PostgreSQL implementation of the storage
// interfaces, for deployments where the engine runs as a shared service
// rather than embedded in a single process.
package postgres

// Schema contains the SQL statements to create the database schema.
// Every statement is idempotent (IF NOT EXISTS) so the schema can be
// re-applied on every startup.
const Schema = `
-- Memories: one row per remembered item, per user.
CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    sector TEXT NOT NULL,
    content TEXT NOT NULL,
    summary TEXT,

    -- Tags (JSON array of strings)
    tags JSONB,

    -- Conversation session the memory was captured in, when known.
    session_key TEXT,

    -- When the remembered thing happened vs. when we stored it.
    event_at TIMESTAMPTZ NOT NULL,
    remembered_at TIMESTAMPTZ NOT NULL,
    valid_until TIMESTAMPTZ,

    -- Retention signals
    strength DOUBLE PRECISION NOT NULL DEFAULT 0.7,
    recall_count INTEGER NOT NULL DEFAULT 0,
    last_recalled_at TIMESTAMPTZ,
    archived BOOLEAN NOT NULL DEFAULT FALSE,

    -- Set when the embedding has landed in the vector index.
    indexed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_memories_user_strength ON memories(user_id, strength DESC);
CREATE INDEX IF NOT EXISTS idx_memories_user_sector ON memories(user_id, sector);
CREATE INDEX IF NOT EXISTS idx_memories_user_event_at ON memories(user_id, event_at);
CREATE INDEX IF NOT EXISTS idx_memories_session_key ON memories(user_id, session_key) WHERE session_key IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_memories_unindexed ON memories(remembered_at) WHERE indexed_at IS NULL AND archived = FALSE;

-- Entities: people, places, topics, projects, preferences.
CREATE TABLE IF NOT EXISTS entities (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    type TEXT NOT NULL,
    name TEXT NOT NULL,

    -- Free-form key/value attributes (JSON object)
    attributes JSONB,

    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    UNIQUE(user_id, type, name)
);

CREATE INDEX IF NOT EXISTS idx_entities_user ON entities(user_id);

-- Relations: append-only edges from an entity to another entity or to a
-- memory. Exactly one of to_entity / to_memory is set.
CREATE TABLE IF NOT EXISTS relations (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    from_entity TEXT NOT NULL,
    to_entity TEXT,
    to_memory TEXT,
    kind TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    FOREIGN KEY (from_entity) REFERENCES entities(id) ON DELETE CASCADE,
    CHECK ((to_entity IS NULL) <> (to_memory IS NULL))
);

CREATE INDEX IF NOT EXISTS idx_relations_user ON relations(user_id);
CREATE INDEX IF NOT EXISTS idx_relations_from ON relations(from_entity);
CREATE INDEX IF NOT EXISTS idx_relations_to_memory ON relations(to_memory) WHERE to_memory IS NOT NULL;

-- Per-user maintenance overrides. Zero-valued columns mean "use the
-- engine default".
CREATE TABLE IF NOT EXISTS user_settings (
    user_id TEXT PRIMARY KEY,
    archive_threshold DOUBLE PRECISION NOT NULL DEFAULT 0,
    decay_aggressiveness DOUBLE PRECISION NOT NULL DEFAULT 0,
    decay_interval_secs BIGINT NOT NULL DEFAULT 0,
    reflection_interval_secs BIGINT NOT NULL DEFAULT 0,
    reflection_min_age_secs BIGINT NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- Last-run stamps for the per-user maintenance jobs.
CREATE TABLE IF NOT EXISTS job_runs (
    user_id TEXT NOT NULL,
    job TEXT NOT NULL,
    last_run TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (user_id, job)
);
`

// MigrationFTS adds full-text search support to the memories table using
// PostgreSQL's tsvector/GIN approach. Safe to run multiple times.
const MigrationFTS = `
-- Add tsvector column if it doesn't already exist. A regular column (not
-- GENERATED) for compatibility across PostgreSQL versions.
DO $$
BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns
        WHERE table_name = 'memories' AND column_name = 'search_tsv'
    ) THEN
        ALTER TABLE memories ADD COLUMN search_tsv tsvector;
    END IF;
END
$$;

-- Populate the tsvector column for any existing rows.
UPDATE memories
SET search_tsv = to_tsvector('english',
    COALESCE(content, '') || ' ' || COALESCE(summary, '') || ' ' || COALESCE(tags::text, ''))
WHERE search_tsv IS NULL;

CREATE INDEX IF NOT EXISTS idx_memories_search_tsv ON memories USING GIN(search_tsv);

-- Trigger keeps search_tsv in sync on INSERT/UPDATE.
CREATE OR REPLACE FUNCTION memories_tsv_update()
RETURNS TRIGGER AS $$
BEGIN
    NEW.search_tsv := to_tsvector('english',
        COALESCE(NEW.content, '') || ' ' || COALESCE(NEW.summary, '') || ' ' || COALESCE(NEW.tags::text, ''));
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS memories_tsv_trigger ON memories;
CREATE TRIGGER memories_tsv_trigger
    BEFORE INSERT OR UPDATE OF content, summary, tags
    ON memories
    FOR EACH ROW
    EXECUTE FUNCTION memories_tsv_update();
`
