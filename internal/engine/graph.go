package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/engramlabs/engram/pkg/types"
)

const (
	// minExtractLength is the content length below which entity extraction
	// is skipped — trivially short text is not worth a model call.
	minExtractLength = 20

	// maxEnrichmentExtras caps how many additional memories graph
	// enrichment may append to a recall result.
	maxEnrichmentExtras = 10

	// fanOutPerDepth scales the per-hop edge budget: a depth-d traversal
	// follows at most d×5 edges per hop.
	fanOutPerDepth = 5
)

// NameSimilarity decides whether two normalized entity names refer to the
// same thing during the fuzzy merge pass. The containment default
// over-merges short common substrings ("box" into "mailbox"); deployments
// can swap in edit distance via Service.SetNameSimilarity.
type NameSimilarity func(a, b string) bool

// ContainmentSimilarity is the default merge heuristic: one normalized
// name contained in the other.
func ContainmentSimilarity(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// extractEntities pulls typed mentions out of content via the configured
// extractor. Short content short-circuits to empty without a call.
func (s *Service) extractEntities(ctx context.Context, content string) ([]types.EntityMention, error) {
	if s.extractor == nil {
		return nil, nil
	}
	if len(strings.TrimSpace(content)) < minExtractLength {
		return nil, nil
	}
	return s.extractor.Extract(ctx, content)
}

// linkEntitiesToMemory upserts the mentioned entities, attaches each to
// the memory with a part_of edge, and gives every pair of same-mention
// entities a default typed relationship. Edge ids are deterministic, so
// re-processing a memory is idempotent.
func (s *Service) linkEntitiesToMemory(ctx context.Context, userID, memoryID string, mentions []types.EntityMention) error {
	entities := make([]types.Entity, 0, len(mentions))
	var firstErr error

	for _, mention := range mentions {
		entity, err := s.store.UpsertEntity(ctx, &types.Entity{
			ID:     types.NewEntityID(mention.Type),
			UserID: userID,
			Type:   mention.Type,
			Name:   mention.Name,
		})
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to upsert entity %q: %w", mention.Name, err)
			}
			continue
		}
		entities = append(entities, *entity)

		edge := types.NewMemoryRelation(userID, entity.ID, memoryID, types.RelPartOf)
		if err := s.store.InsertRelation(ctx, &edge); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to link entity %q to memory: %w", mention.Name, err)
		}
	}

	// Entities mentioned together get a default relationship even without
	// explicit language describing it.
	for i := 0; i < len(entities); i++ {
		for j := i + 1; j < len(entities); j++ {
			for _, rel := range inferredRelations(userID, &entities[i], &entities[j]) {
				if err := s.store.InsertRelation(ctx, &rel); err != nil && firstErr == nil {
					firstErr = fmt.Errorf("failed to record inferred relation: %w", err)
				}
			}
		}
	}

	return firstErr
}

// inferredRelations derives the default edges between two entities
// extracted from the same memory. Symmetric kinds (knows, co_occurs) get
// both directions; prefers is oriented from the person and part_of from
// the topic.
func inferredRelations(userID string, a, b *types.Entity) []types.Relation {
	switch {
	case a.Type == types.EntityPerson && b.Type == types.EntityPerson:
		return []types.Relation{
			types.NewRelation(userID, a.ID, b.ID, types.RelKnows),
			types.NewRelation(userID, b.ID, a.ID, types.RelKnows),
		}
	case a.Type == types.EntityPerson && b.Type == types.EntityPreference:
		return []types.Relation{types.NewRelation(userID, a.ID, b.ID, types.RelPrefers)}
	case a.Type == types.EntityPreference && b.Type == types.EntityPerson:
		return []types.Relation{types.NewRelation(userID, b.ID, a.ID, types.RelPrefers)}
	case a.Type == types.EntityTopic && b.Type == types.EntityProject:
		return []types.Relation{types.NewRelation(userID, a.ID, b.ID, types.RelPartOf)}
	case a.Type == types.EntityProject && b.Type == types.EntityTopic:
		return []types.Relation{types.NewRelation(userID, b.ID, a.ID, types.RelPartOf)}
	default:
		return []types.Relation{
			types.NewRelation(userID, a.ID, b.ID, types.RelCoOccurs),
			types.NewRelation(userID, b.ID, a.ID, types.RelCoOccurs),
		}
	}
}

// graphEnrichRecall widens a ranked result set by following the entity
// graph: core memories → their entities → those entities' outbound edges
// (contradicts excluded), up to depth hops with a bounded per-hop fan-out.
// Extras append after the core list and are never re-ranked into it.
func (s *Service) graphEnrichRecall(ctx context.Context, userID string, core []ScoredMemory, depth int) []ScoredMemory {
	if depth <= 0 || len(core) == 0 {
		return core
	}

	seen := make(map[string]bool, len(core))
	for _, r := range core {
		seen[r.Memory.ID] = true
	}

	visitedEntities := make(map[string]bool)
	var frontier []string
	for _, r := range core {
		entities, err := s.store.EntitiesForMemory(ctx, r.Memory.ID)
		if err != nil {
			s.log.WithError(err).WithField("memory_id", r.Memory.ID).Debug("enrichment entity lookup failed")
			continue
		}
		for _, e := range entities {
			if !visitedEntities[e.ID] {
				visitedEntities[e.ID] = true
				frontier = append(frontier, e.ID)
			}
		}
	}

	edgeBudget := depth * fanOutPerDepth
	extras := make([]ScoredMemory, 0, maxEnrichmentExtras)

	for hop := 0; hop < depth && len(frontier) > 0 && len(extras) < maxEnrichmentExtras; hop++ {
		var next []string
		followed := 0

		for _, entityID := range frontier {
			if followed >= edgeBudget || len(extras) >= maxEnrichmentExtras {
				break
			}

			relations, err := s.store.RelationsFrom(ctx, entityID)
			if err != nil {
				s.log.WithError(err).WithField("entity_id", entityID).Debug("enrichment edge scan failed")
				continue
			}

			for _, rel := range relations {
				if followed >= edgeBudget || len(extras) >= maxEnrichmentExtras {
					break
				}
				// Contradicted memories are exactly what enrichment should
				// not resurface.
				if rel.Kind == types.RelContradicts {
					continue
				}
				followed++

				if rel.PointsAtMemory() {
					if seen[rel.ToMemory] {
						continue
					}
					memory, err := s.store.GetByID(ctx, rel.ToMemory)
					if err != nil || memory.Archived || memory.UserID != userID {
						continue
					}
					seen[memory.ID] = true
					extras = append(extras, ScoredMemory{
						Memory:    *memory,
						Breakdown: ScoreBreakdown{Strength: memory.Strength, Final: memory.Strength},
					})
					continue
				}

				if !visitedEntities[rel.ToEntity] {
					visitedEntities[rel.ToEntity] = true
					next = append(next, rel.ToEntity)
				}
			}
		}

		frontier = next
	}

	return append(core, extras...)
}

// MergeEntities runs the fuzzy entity merge pass: within each type, any
// pair whose normalized names the similarity heuristic equates is merged,
// re-pointing (copying) the shorter entity's relations onto the longer,
// canonical one. Returns the number of entities absorbed.
func (s *Service) MergeEntities(ctx context.Context, userID string) (int, error) {
	entities, err := s.store.ListEntitiesByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to list entities for merge: %w", err)
	}

	byType := make(map[types.EntityType][]types.Entity)
	for _, e := range entities {
		byType[e.Type] = append(byType[e.Type], e)
	}

	merged := 0
	for _, group := range byType {
		// Longest names first, so the canonical survivor of a containment
		// pair is always the more specific one.
		sort.SliceStable(group, func(i, j int) bool {
			return len(group[i].NormalizedName()) > len(group[j].NormalizedName())
		})

		absorbed := make(map[string]bool)
		for i := 0; i < len(group); i++ {
			if absorbed[group[i].ID] {
				continue
			}
			canonical := &group[i]
			for j := i + 1; j < len(group); j++ {
				if absorbed[group[j].ID] {
					continue
				}
				if !s.nameSimilarity(canonical.NormalizedName(), group[j].NormalizedName()) {
					continue
				}

				copied, err := s.store.RepointRelations(ctx, group[j].ID, canonical.ID)
				if err != nil {
					return merged, fmt.Errorf("failed to repoint relations of %q: %w", group[j].Name, err)
				}
				absorbed[group[j].ID] = true
				merged++

				s.log.WithFields(map[string]interface{}{
					"user_id":   userID,
					"canonical": canonical.Name,
					"absorbed":  group[j].Name,
					"edges":     copied,
				}).Info("merged near-duplicate entity")
			}
		}
	}

	return merged, nil
}
