package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/engramlabs/engram/internal/storage"
	"github.com/engramlabs/engram/pkg/types"
)

const (
	// defaultRecallLimit applies when a caller asks for zero results.
	defaultRecallLimit = 10

	// candidateMultiplier over-fetches from the vector index so that
	// filters (archived, sector, strength) still leave enough survivors.
	candidateMultiplier = 3

	// similarityWeight and strengthWeight blend how close a memory is to
	// the query with how strong it currently is.
	similarityWeight = 0.7
	strengthWeight   = 0.3

	// minRerankQueryLen is the shortest query worth a similarity re-rank
	// on the timeframe path.
	minRerankQueryLen = 3
)

// RecallOptions narrows and shapes a rich recall.
type RecallOptions struct {
	// Limit caps the core result count (default 10).
	Limit int

	// Sectors restricts results to the given sectors.
	Sectors []types.Sector

	// MinStrength drops results below this strength.
	MinStrength float64

	// GraphDepth enables entity-graph enrichment up to this many hops.
	GraphDepth int

	// Tag switches to the exact tag facet: no vector search at all.
	Tag string

	// Timeframe is a named range (today, yesterday, this_week, last_week,
	// this_month, last_month) anchored on the current moment.
	Timeframe string
}

// ScoreBreakdown explains how a recall result was ranked. Observability
// only; it never feeds back into ordering.
type ScoreBreakdown struct {
	Similarity float64 `json:"similarity"` // Cosine similarity to the query, when computed
	Strength   float64 `json:"strength"`   // Memory strength at recall time
	Final      float64 `json:"final"`      // Blended ranking score
}

// ScoredMemory is one ranked recall result.
type ScoredMemory struct {
	Memory    types.Memory   `json:"memory"`
	Breakdown ScoreBreakdown `json:"breakdown"`
}

// search routes a query down one of three paths: the tag facet, the
// timeframe range, or the default semantic ranking.
func (s *Service) search(ctx context.Context, userID, query string, opts RecallOptions) ([]ScoredMemory, error) {
	if opts.Limit <= 0 {
		opts.Limit = defaultRecallLimit
	}
	if opts.Timeframe != "" && !IsValidTimeframe(opts.Timeframe) {
		return nil, fmt.Errorf("%w: unknown timeframe %q", storage.ErrInvalidInput, opts.Timeframe)
	}

	switch {
	case opts.Tag != "":
		return s.searchByTag(ctx, userID, opts)
	case opts.Timeframe != "":
		return s.searchByTimeframe(ctx, userID, query, opts)
	default:
		return s.searchSemantic(ctx, userID, query, opts)
	}
}

// searchByTag scans the row store for tag containment. Tags are an exact
// facet, not a similarity signal, so the vector index is never consulted.
func (s *Service) searchByTag(ctx context.Context, userID string, opts RecallOptions) ([]ScoredMemory, error) {
	memories, err := s.store.ListByUser(ctx, userID, storage.Filters{
		Sectors:     opts.Sectors,
		MinStrength: opts.MinStrength,
		TagContains: opts.Tag,
		Limit:       opts.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("tag search failed: %w", err)
	}
	return scoreByStrength(memories), nil
}

// searchByTimeframe scans an [after, before) event range. Results keep
// time order unless a non-trivial query was also supplied and more than
// one candidate remains, in which case they re-rank by similarity.
func (s *Service) searchByTimeframe(ctx context.Context, userID, query string, opts RecallOptions) ([]ScoredMemory, error) {
	after, before, err := ResolveTimeframe(opts.Timeframe, s.now())
	if err != nil {
		return nil, err
	}

	memories, err := s.store.ListByUser(ctx, userID, storage.Filters{
		Sectors:     opts.Sectors,
		MinStrength: opts.MinStrength,
		After:       after,
		Before:      before,
	})
	if err != nil {
		return nil, fmt.Errorf("timeframe search failed: %w", err)
	}

	// Newest first is the natural order for "what happened yesterday".
	sort.SliceStable(memories, func(i, j int) bool {
		return memories[i].EventAt.After(memories[j].EventAt)
	})

	results := scoreByStrength(memories)
	if len(strings.TrimSpace(query)) >= minRerankQueryLen && len(results) > 1 {
		results = s.rerankBySimilarity(ctx, userID, query, results)
	}

	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// rerankBySimilarity re-orders timeframe results by cosine similarity to
// the query, looking the similarities up in the vector index. Any failure
// keeps the existing time order.
func (s *Service) rerankBySimilarity(ctx context.Context, userID, query string, results []ScoredMemory) []ScoredMemory {
	embedding, err := s.embedder.EmbedOne(ctx, query)
	if err != nil {
		s.log.WithError(err).Debug("timeframe re-rank skipped, embedding unavailable")
		return results
	}

	hits, err := s.index.Search(ctx, userID, embedding, len(results)*candidateMultiplier)
	if err != nil {
		s.log.WithError(err).Debug("timeframe re-rank skipped, index unavailable")
		return results
	}

	similarity := make(map[string]float64, len(hits))
	for _, hit := range hits {
		similarity[hit.ID] = hit.Similarity
	}

	for i := range results {
		sim := similarity[results[i].Memory.ID]
		results[i].Breakdown.Similarity = sim
		results[i].Breakdown.Final = sim
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Breakdown.Final > results[j].Breakdown.Final
	})
	return results
}

// searchSemantic is the default path: embed the query, over-fetch nearest
// neighbors, filter, and blend similarity with strength. An empty or
// unreachable index falls back to a keyword scan so recall degrades to
// "less relevant" rather than "empty".
func (s *Service) searchSemantic(ctx context.Context, userID, query string, opts RecallOptions) ([]ScoredMemory, error) {
	if strings.TrimSpace(query) == "" {
		memories, err := s.store.ListByUser(ctx, userID, storage.Filters{
			Sectors:     opts.Sectors,
			MinStrength: opts.MinStrength,
			Limit:       opts.Limit,
		})
		if err != nil {
			return nil, fmt.Errorf("recall scan failed: %w", err)
		}
		return scoreByStrength(memories), nil
	}

	embedding, err := s.embedder.EmbedOne(ctx, query)
	if err != nil {
		s.log.WithError(err).WithField("user_id", userID).
			Warn("query embedding unavailable, falling back to keyword scan")
		return s.keywordFallback(ctx, userID, query, opts)
	}

	hits, err := s.index.Search(ctx, userID, embedding, opts.Limit*candidateMultiplier)
	if err != nil || len(hits) == 0 {
		if err != nil {
			s.log.WithError(err).WithField("user_id", userID).
				Warn("vector search unavailable, falling back to keyword scan")
		}
		return s.keywordFallback(ctx, userID, query, opts)
	}

	ids := make([]string, len(hits))
	similarity := make(map[string]float64, len(hits))
	for i, hit := range hits {
		ids[i] = hit.ID
		similarity[hit.ID] = hit.Similarity
	}

	memories, err := s.store.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to hydrate search results: %w", err)
	}

	results := make([]ScoredMemory, 0, len(memories))
	for _, m := range memories {
		if m.Archived || m.UserID != userID {
			continue
		}
		if !sectorAllowed(m.Sector, opts.Sectors) || m.Strength < opts.MinStrength {
			continue
		}
		sim := similarity[m.ID]
		results = append(results, ScoredMemory{
			Memory: m,
			Breakdown: ScoreBreakdown{
				Similarity: sim,
				Strength:   m.Strength,
				Final:      similarityWeight*sim + strengthWeight*m.Strength,
			},
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Breakdown.Final > results[j].Breakdown.Final
	})
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// keywordFallback is the cold-start and degraded-mode read path.
func (s *Service) keywordFallback(ctx context.Context, userID, query string, opts RecallOptions) ([]ScoredMemory, error) {
	memories, err := s.store.KeywordSearch(ctx, userID, query, opts.Limit*candidateMultiplier)
	if err != nil {
		return nil, fmt.Errorf("keyword fallback failed: %w", err)
	}

	results := make([]ScoredMemory, 0, len(memories))
	for _, m := range memories {
		if !sectorAllowed(m.Sector, opts.Sectors) || m.Strength < opts.MinStrength {
			continue
		}
		results = append(results, ScoredMemory{
			Memory:    m,
			Breakdown: ScoreBreakdown{Strength: m.Strength, Final: m.Strength},
		})
		if len(results) >= opts.Limit {
			break
		}
	}
	return results, nil
}

// reinforceAll nudges every recalled memory's strength upward: recall is a
// training signal. Failures are logged, never surfaced — the recall
// already succeeded.
func (s *Service) reinforceAll(ctx context.Context, results []ScoredMemory) {
	now := s.now()
	for i := range results {
		m := &results[i].Memory
		next := reinforced(m.Strength)
		if err := s.store.UpdateStrength(ctx, m.ID, next); err != nil {
			s.log.WithError(err).WithField("memory_id", m.ID).Warn("reinforcement write failed")
			continue
		}
		m.Strength = next
		m.RecallCount++
		m.LastRecalledAt = &now
		s.fireMemoryReinforced(m.ID, m.UserID)
	}
}

func scoreByStrength(memories []types.Memory) []ScoredMemory {
	results := make([]ScoredMemory, len(memories))
	for i, m := range memories {
		results[i] = ScoredMemory{
			Memory:    m,
			Breakdown: ScoreBreakdown{Strength: m.Strength, Final: m.Strength},
		}
	}
	return results
}

func sectorAllowed(sector types.Sector, allowed []types.Sector) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, s := range allowed {
		if s == sector {
			return true
		}
	}
	return false
}
