package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/engramlabs/engram/internal/storage"
	"github.com/engramlabs/engram/pkg/types"
)

// KeywordSearch runs PostgreSQL full-text search over the user's live
// memories, most relevant first. Unmatchable queries fall back to a
// strength-ordered scan rather than erroring, so recall still returns
// something useful when the index is cold or the query is all noise.
func (s *Store) KeywordSearch(ctx context.Context, userID, query string, limit int) ([]types.Memory, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user ID is required", storage.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 10
	}

	if strings.TrimSpace(query) == "" {
		return s.strengthFallback(ctx, userID, limit)
	}

	// plainto_tsquery ANDs all terms. When that finds nothing we retry with
	// websearch_to_tsquery and explicit "or" operators so partial matches
	// still surface.
	memories, err := s.searchTSV(ctx, userID, "plainto_tsquery", query, limit)
	if err != nil {
		logrus.Warnf("postgres: keyword search failed, falling back to strength scan: %v", err)
		return s.strengthFallback(ctx, userID, limit)
	}
	if len(memories) > 0 {
		return memories, nil
	}

	terms := strings.Fields(query)
	if len(terms) > 1 {
		memories, err = s.searchTSV(ctx, userID, "websearch_to_tsquery", strings.Join(terms, " or "), limit)
		if err == nil && len(memories) > 0 {
			return memories, nil
		}
	}

	return s.strengthFallback(ctx, userID, limit)
}

// searchTSV runs one tsquery pass ranked by ts_rank. fn is the tsquery
// parser to use; it is interpolated, never user input.
func (s *Store) searchTSV(ctx context.Context, userID, fn, query string, limit int) ([]types.Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+`
		FROM memories
		WHERE search_tsv @@ `+fn+`('english', $1)
		  AND user_id = $2 AND archived = FALSE
		ORDER BY ts_rank(search_tsv, `+fn+`('english', $1)) DESC
		LIMIT $3`,
		query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: tsquery %q: %w", query, err)
	}
	defer rows.Close()

	return scanMemories(rows)
}

// strengthFallback returns the user's strongest live memories.
func (s *Store) strengthFallback(ctx context.Context, userID string, limit int) ([]types.Memory, error) {
	return s.ListByUser(ctx, userID, storage.Filters{Limit: limit})
}
