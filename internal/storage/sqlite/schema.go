// Package sqlite provides the embedded SQLite implementation of the storage
// interfaces.
package sqlite

// Schema contains the SQL statements to create the database schema. It is
// applied on every open; all statements are idempotent.
const Schema = `
-- Memories table: one row per remembered unit
CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    sector TEXT NOT NULL,
    content TEXT NOT NULL,
    summary TEXT,
    tags TEXT,            -- JSON array
    session_key TEXT,

    -- Time
    event_at TIMESTAMP NOT NULL,
    remembered_at TIMESTAMP NOT NULL,
    valid_until TIMESTAMP,

    -- Ranking signals
    strength REAL NOT NULL DEFAULT 0.7,
    recall_count INTEGER NOT NULL DEFAULT 0,
    last_recalled_at TIMESTAMP,

    -- Lifecycle
    archived INTEGER NOT NULL DEFAULT 0,

    -- Set once the embedding is confirmed in the vector index; rows with
    -- NULL here are picked up by the backfill scan.
    indexed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_memories_user_strength
    ON memories(user_id, archived, strength DESC);
CREATE INDEX IF NOT EXISTS idx_memories_user_sector
    ON memories(user_id, sector);
CREATE INDEX IF NOT EXISTS idx_memories_user_event
    ON memories(user_id, event_at);
CREATE INDEX IF NOT EXISTS idx_memories_session
    ON memories(session_key) WHERE session_key IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_memories_unindexed
    ON memories(remembered_at) WHERE indexed_at IS NULL;

-- Entities table: named things the user has mentioned
CREATE TABLE IF NOT EXISTS entities (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    type TEXT NOT NULL,
    name TEXT NOT NULL,
    attributes TEXT,      -- JSON object
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,

    UNIQUE(user_id, type, name)
);

CREATE INDEX IF NOT EXISTS idx_entities_user ON entities(user_id);

-- Relations table: append-only edges from entities to entities or memories
CREATE TABLE IF NOT EXISTS relations (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    from_entity TEXT NOT NULL,
    to_entity TEXT,
    to_memory TEXT,
    kind TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,

    FOREIGN KEY (from_entity) REFERENCES entities(id),
    CHECK ((to_entity IS NULL) <> (to_memory IS NULL))
);

CREATE INDEX IF NOT EXISTS idx_relations_from ON relations(from_entity);
CREATE INDEX IF NOT EXISTS idx_relations_memory
    ON relations(to_memory) WHERE to_memory IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_relations_user ON relations(user_id);

-- Per-user maintenance settings overrides
CREATE TABLE IF NOT EXISTS user_settings (
    user_id TEXT PRIMARY KEY,
    archive_threshold REAL NOT NULL DEFAULT 0,
    decay_aggressiveness REAL NOT NULL DEFAULT 0,
    decay_interval_secs INTEGER NOT NULL DEFAULT 0,
    reflection_interval_secs INTEGER NOT NULL DEFAULT 0,
    reflection_min_age_secs INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP NOT NULL
);

-- Job throttling stamps, one row per (user, job)
CREATE TABLE IF NOT EXISTS job_runs (
    user_id TEXT NOT NULL,
    job TEXT NOT NULL,
    last_run TIMESTAMP NOT NULL,
    PRIMARY KEY (user_id, job)
);

-- Full-text index over memory text, kept in sync by triggers. Backs the
-- keyword fallback when the vector index is cold or degraded.
CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
    content, summary, tags,
    content='memories', content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS memories_fts_insert AFTER INSERT ON memories BEGIN
    INSERT INTO memories_fts(rowid, content, summary, tags)
    VALUES (new.rowid, new.content, new.summary, new.tags);
END;

CREATE TRIGGER IF NOT EXISTS memories_fts_update
AFTER UPDATE OF content, summary, tags ON memories BEGIN
    INSERT INTO memories_fts(memories_fts, rowid, content, summary, tags)
    VALUES ('delete', old.rowid, old.content, old.summary, old.tags);
    INSERT INTO memories_fts(rowid, content, summary, tags)
    VALUES (new.rowid, new.content, new.summary, new.tags);
END;

CREATE TRIGGER IF NOT EXISTS memories_fts_delete AFTER DELETE ON memories BEGIN
    INSERT INTO memories_fts(memories_fts, rowid, content, summary, tags)
    VALUES ('delete', old.rowid, old.content, old.summary, old.tags);
END;
`
