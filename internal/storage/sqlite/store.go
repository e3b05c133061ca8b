package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/engramlabs/engram/internal/storage"
	"github.com/engramlabs/engram/pkg/types"
)

// Store implements storage.Store on an embedded SQLite database.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// New opens a SQLite store with WAL self-healing. If the initial open fails
// due to stale WAL files left behind by a crashed process, it verifies no
// other process holds them and retries once after removing the stale
// -shm/-wal files.
func New(dsn string) (*Store, error) {
	store, err := open(dsn)
	if err == nil {
		return store, nil
	}

	if !isRecoverableWALError(err) {
		return nil, err
	}

	dbPath := dbPathFromDSN(dsn)
	if dbPath == "" || dbPath == ":memory:" {
		return nil, err
	}
	if !isWALStale(dbPath) {
		return nil, err
	}

	removeStaleWAL(dbPath)

	store, retryErr := open(dsn)
	if retryErr != nil {
		return nil, fmt.Errorf("failed after WAL recovery: %w (original: %v)", retryErr, err)
	}

	logrus.Warnf("sqlite: recovered from stale WAL files for %s", dbPath)
	return store, nil
}

// open opens the database, configures WAL mode, and creates the schema.
func open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY under concurrent load; WAL
	// mode lets readers proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// memoryColumns is the canonical column list every memory query selects.
const memoryColumns = `id, user_id, sector, content, summary, tags, session_key,
	event_at, remembered_at, valid_until,
	strength, recall_count, last_recalled_at, archived`

// Insert creates a memory row.
func (s *Store) Insert(ctx context.Context, memory *types.Memory) error {
	if memory == nil || memory.ID == "" || memory.UserID == "" {
		return fmt.Errorf("%w: memory ID and user ID are required", storage.ErrInvalidInput)
	}
	if memory.Content == "" {
		return fmt.Errorf("%w: memory content is required", storage.ErrInvalidInput)
	}
	if !types.IsValidSector(memory.Sector) {
		return fmt.Errorf("%w: unknown sector %q", storage.ErrInvalidInput, memory.Sector)
	}

	now := time.Now().UTC()
	if memory.RememberedAt.IsZero() {
		memory.RememberedAt = now
	}
	if memory.EventAt.IsZero() {
		memory.EventAt = memory.RememberedAt
	}
	memory.Strength = types.ClampStrength(memory.Strength)

	tagsJSON, err := marshalTags(memory.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (
			id, user_id, sector, content, summary, tags, session_key,
			event_at, remembered_at, valid_until,
			strength, recall_count, last_recalled_at, archived
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		memory.ID,
		memory.UserID,
		string(memory.Sector),
		memory.Content,
		nullString(memory.Summary),
		tagsJSON,
		nullString(memory.SessionKey),
		memory.EventAt.UTC(),
		memory.RememberedAt.UTC(),
		nullTime(memory.ValidUntil),
		memory.Strength,
		memory.RecallCount,
		nullTime(memory.LastRecalledAt),
		memory.Archived,
	)
	if err != nil {
		return fmt.Errorf("failed to insert memory: %w", err)
	}
	return nil
}

// GetByID retrieves a memory by ID, archived or not.
func (s *Store) GetByID(ctx context.Context, id string) (*types.Memory, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)

	memory, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get memory: %w", err)
	}
	return memory, nil
}

// GetByIDs retrieves the memories for the given IDs; missing IDs are skipped.
func (s *Store) GetByIDs(ctx context.Context, ids []string) ([]types.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `SELECT ` + memoryColumns + ` FROM memories WHERE id IN (` + placeholders(len(ids)) + `)`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get memories: %w", err)
	}
	defer rows.Close()

	return scanMemories(rows)
}

// ListByUser retrieves a user's memories matching the filters, strongest
// first.
func (s *Store) ListByUser(ctx context.Context, userID string, f storage.Filters) ([]types.Memory, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user ID is required", storage.ErrInvalidInput)
	}
	f.Normalize()

	conditions := []string{"user_id = ?"}
	args := []interface{}{userID}

	if !f.IncludeArchived {
		conditions = append(conditions, "archived = 0")
	}
	if sectors := f.SectorStrings(); len(sectors) > 0 {
		conditions = append(conditions, "sector IN ("+placeholders(len(sectors))+")")
		for _, sec := range sectors {
			args = append(args, sec)
		}
	}
	if f.MinStrength > 0 {
		conditions = append(conditions, "strength >= ?")
		args = append(args, f.MinStrength)
	}
	if f.MaxStrength > 0 {
		conditions = append(conditions, "strength <= ?")
		args = append(args, f.MaxStrength)
	}
	if f.TagContains != "" {
		conditions = append(conditions, "tags IS NOT NULL AND LOWER(tags) LIKE '%' || ? || '%'")
		args = append(args, strings.ToLower(f.TagContains))
	}
	if f.SessionKey != "" {
		conditions = append(conditions, "session_key = ?")
		args = append(args, f.SessionKey)
	}
	if !f.After.IsZero() {
		conditions = append(conditions, "event_at >= ?")
		args = append(args, f.After.UTC())
	}
	if !f.Before.IsZero() {
		conditions = append(conditions, "event_at < ?")
		args = append(args, f.Before.UTC())
	}

	query := `SELECT ` + memoryColumns + ` FROM memories WHERE ` +
		strings.Join(conditions, " AND ") +
		` ORDER BY strength DESC, remembered_at DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}
	defer rows.Close()

	return scanMemories(rows)
}

// UpdateStrength records a recall: clamped strength write, recall_count
// increment, last_recalled_at stamp.
func (s *Store) UpdateStrength(ctx context.Context, id string, strength float64) error {
	if id == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE memories
		SET strength = ?, recall_count = recall_count + 1, last_recalled_at = ?
		WHERE id = ?`,
		types.ClampStrength(strength), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update strength: %w", err)
	}
	return requireRow(result)
}

// SetStrength writes a clamped strength without recall side effects.
func (s *Store) SetStrength(ctx context.Context, id string, strength float64) error {
	if id == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE memories SET strength = ? WHERE id = ?`,
		types.ClampStrength(strength), id)
	if err != nil {
		return fmt.Errorf("failed to set strength: %w", err)
	}
	return requireRow(result)
}

// Archive marks a memory archived; archiving twice is a no-op.
func (s *Store) Archive(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET archived = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to archive memory: %w", err)
	}
	return nil
}

// ArchiveBatch archives the given memories, reporting how many rows
// actually transitioned.
func (s *Store) ArchiveBatch(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE memories SET archived = 1 WHERE archived = 0 AND id IN (`+placeholders(len(ids))+`)`,
		args...)
	if err != nil {
		return 0, fmt.Errorf("failed to archive batch: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count archived rows: %w", err)
	}
	return int(n), nil
}

// MarkIndexed records that the memory's embedding reached the vector index.
func (s *Store) MarkIndexed(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE memories SET indexed_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark indexed: %w", err)
	}
	return requireRow(result)
}

// ListUnindexed returns live memories not yet confirmed in the vector
// index, oldest first.
func (s *Store) ListUnindexed(ctx context.Context, limit int) ([]types.Memory, error) {
	query := `SELECT ` + memoryColumns + ` FROM memories
		WHERE indexed_at IS NULL AND archived = 0
		ORDER BY remembered_at ASC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list unindexed memories: %w", err)
	}
	defer rows.Close()

	return scanMemories(rows)
}

// ListUsers returns every user ID with at least one memory row.
func (s *Store) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM memories ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read user rows: %w", err)
	}
	return users, nil
}

// GetStats summarizes a user's memory population.
func (s *Store) GetStats(ctx context.Context, userID string) (*types.UserStats, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user ID is required", storage.ErrInvalidInput)
	}

	stats := &types.UserStats{
		UserID:   userID,
		BySector: make(map[types.Sector]int),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sector, COUNT(*), SUM(strength)
		FROM memories WHERE user_id = ? AND archived = 0
		GROUP BY sector`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	var strengthSum float64
	for rows.Next() {
		var sector string
		var count int
		var sum float64
		if err := rows.Scan(&sector, &count, &sum); err != nil {
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		stats.BySector[types.Sector(sector)] = count
		stats.Total += count
		strengthSum += sum
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stats rows: %w", err)
	}
	if stats.Total > 0 {
		stats.MeanStrength = strengthSum / float64(stats.Total)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories WHERE user_id = ? AND archived = 1`,
		userID).Scan(&stats.Archived)
	if err != nil {
		return nil, fmt.Errorf("failed to count archived: %w", err)
	}

	return stats, nil
}

// ExportUser snapshots everything stored for one user.
func (s *Store) ExportUser(ctx context.Context, userID string) (*types.Export, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user ID is required", storage.ErrInvalidInput)
	}

	memories, err := s.ListByUser(ctx, userID, storage.Filters{IncludeArchived: true})
	if err != nil {
		return nil, err
	}
	entities, err := s.ListEntitiesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	relations, err := s.ListRelationsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &types.Export{
		UserID:     userID,
		ExportedAt: time.Now().UTC(),
		Memories:   memories,
		Entities:   entities,
		Relations:  relations,
	}, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for the shared scan helper.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanMemory reads one memory row using the memoryColumns order.
func scanMemory(row rowScanner) (*types.Memory, error) {
	var m types.Memory
	var summary, tagsJSON, sessionKey sql.NullString
	var validUntil, lastRecalledAt sql.NullTime

	err := row.Scan(
		&m.ID,
		&m.UserID,
		&m.Sector,
		&m.Content,
		&summary,
		&tagsJSON,
		&sessionKey,
		&m.EventAt,
		&m.RememberedAt,
		&validUntil,
		&m.Strength,
		&m.RecallCount,
		&lastRecalledAt,
		&m.Archived,
	)
	if err != nil {
		return nil, err
	}

	m.Summary = summary.String
	m.SessionKey = sessionKey.String
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &m.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	if validUntil.Valid {
		t := validUntil.Time
		m.ValidUntil = &t
	}
	if lastRecalledAt.Valid {
		t := lastRecalledAt.Time
		m.LastRecalledAt = &t
	}
	return &m, nil
}

// scanMemories drains a result set of memory rows.
func scanMemories(rows *sql.Rows) ([]types.Memory, error) {
	var memories []types.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		memories = append(memories, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read memory rows: %w", err)
	}
	return memories, nil
}

// requireRow converts a zero-rows-affected result into ErrNotFound.
func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// marshalTags encodes tags as a JSON array, or NULL when empty.
func marshalTags(tags []string) (interface{}, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// nullString converts "" to NULL.
func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nullTime converts a nil time pointer to NULL, normalizing to UTC.
func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// placeholders builds "?, ?, ..." for an IN clause of n values.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// dbPathFromDSN extracts the filesystem path from a SQLite DSN, handling
// file: URIs with query parameters.
func dbPathFromDSN(dsn string) string {
	if strings.HasPrefix(dsn, "file:") {
		u, err := url.Parse(dsn)
		if err != nil {
			return strings.TrimPrefix(strings.SplitN(dsn, "?", 2)[0], "file:")
		}
		if u.Opaque != "" {
			return u.Opaque
		}
		return u.Path
	}
	return strings.SplitN(dsn, "?", 2)[0]
}

// isRecoverableWALError returns true if the error matches patterns caused
// by stale WAL files from a crashed process.
func isRecoverableWALError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "disk I/O error") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "unable to open database")
}

// isWALStale checks whether -shm/-wal files exist for the database and no
// other process has them open.
func isWALStale(dbPath string) bool {
	shmPath := dbPath + "-shm"
	walPath := dbPath + "-wal"
	if !fileExists(shmPath) && !fileExists(walPath) {
		return false
	}

	lsofPath, err := exec.LookPath("lsof")
	if err != nil {
		// lsof not available — conservative fallback, do not touch the files.
		return false
	}

	cmd := exec.Command(lsofPath, "-t", dbPath, shmPath, walPath)
	output, err := cmd.Output()
	if err != nil {
		// lsof exits 1 when no process has the files open — stale.
		return true
	}
	return strings.TrimSpace(string(output)) == ""
}

// removeStaleWAL removes -shm and -wal files for the given database path.
func removeStaleWAL(dbPath string) {
	for _, suffix := range []string{"-shm", "-wal"} {
		path := dbPath + suffix
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logrus.Warnf("sqlite: failed to remove stale %s: %v", path, err)
		}
	}
}

// fileExists returns true if the path exists on disk.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
