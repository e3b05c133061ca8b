package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/engramlabs/engram/internal/storage"
	"github.com/engramlabs/engram/pkg/types"
)

// KeywordSearch matches the query against the FTS index over content,
// summary, and tags. It backs recall when the vector index is cold or
// degraded, so it degrades rather than fails: an unusable query falls back
// to the user's strongest memories.
func (s *Store) KeywordSearch(ctx context.Context, userID, query string, limit int) ([]types.Memory, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user ID is required", storage.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 10
	}

	match := sanitiseFTSQuery(query)
	if match == "" {
		return s.ListByUser(ctx, userID, storage.Filters{Limit: limit})
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.user_id, m.sector, m.content, m.summary, m.tags, m.session_key,
			m.event_at, m.remembered_at, m.valid_until,
			m.strength, m.recall_count, m.last_recalled_at, m.archived
		FROM memories_fts f
		JOIN memories m ON m.rowid = f.rowid
		WHERE memories_fts MATCH ? AND m.user_id = ? AND m.archived = 0
		ORDER BY f.rank
		LIMIT ?`, match, userID, limit)
	if err != nil {
		// A MATCH expression the sanitiser let through can still be
		// rejected by FTS5; degrade to a strength-ordered scan.
		logrus.WithError(err).Warn("sqlite: keyword search failed, falling back to strength scan")
		return s.ListByUser(ctx, userID, storage.Filters{Limit: limit})
	}
	defer rows.Close()

	return scanMemories(rows)
}

// ftsStopWords are query words with no discriminative value.
var ftsStopWords = map[string]bool{
	"a": true, "an": true, "the": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true,
	"will": true, "would": true, "could": true, "should": true, "can": true,
	"to": true, "of": true, "in": true, "on": true, "at": true,
	"by": true, "for": true, "with": true, "from": true, "as": true,
	"about": true, "into": true, "over": true, "under": true,
	"what": true, "how": true, "when": true, "where": true, "why": true,
	"who": true, "which": true,
	"this": true, "that": true, "these": true, "those": true,
	"i": true, "you": true, "he": true, "she": true, "it": true, "we": true, "they": true,
	"my": true, "your": true, "their": true,
	"and": true, "or": true, "but": true, "if": true, "not": true,
	"s": true, "t": true, // post-apostrophe fragments, e.g. "MJ's" → "MJ" + "s"
}

// sanitiseFTSQuery turns free text into a safe FTS5 MATCH expression:
// special characters stripped, stop words dropped, remaining terms
// prefix-matched and OR'd so partial recollections still hit.
func sanitiseFTSQuery(query string) string {
	replacer := strings.NewReplacer(
		`"`, ` `,
		`'`, ` `,
		`(`, ` `,
		`)`, ` `,
		`*`, ` `,
		`-`, ` `,
		`^`, ` `,
		`?`, ` `,
		`:`, ` `,
		`.`, ` `,
		`,`, ` `,
	)
	cleaned := replacer.Replace(query)

	var terms []string
	for _, w := range strings.Fields(strings.ToLower(cleaned)) {
		if !ftsStopWords[w] && len(w) >= 2 {
			terms = append(terms, w+"*")
		}
	}
	return strings.Join(terms, " OR ")
}
