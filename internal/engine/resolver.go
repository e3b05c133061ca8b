package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/engramlabs/engram/internal/storage"
	"github.com/engramlabs/engram/internal/vector"
	"github.com/engramlabs/engram/pkg/types"
)

const (
	// duplicateThreshold is the cosine similarity at which new content is
	// "the same fact" as an existing memory and collapses into a
	// reinforcement instead of a new row.
	duplicateThreshold = 0.92

	// contradictionThreshold is the lower edge of the contradiction band:
	// factual/semantic content at [contradictionThreshold,
	// duplicateThreshold) similarity is treated as an update superseding
	// the older memory.
	contradictionThreshold = 0.70

	// dedupCandidates is how many nearest neighbors the resolver examines.
	dedupCandidates = 10

	// reinforceStep moves strength toward 1.0 on each recall or duplicate
	// store. The gap halves roughly every seven reinforcements.
	reinforceStep = 0.1
)

// reinforced returns the post-recall strength: a step toward 1.0
// proportional to the remaining gap, so strength is monotonically
// non-decreasing and never exceeds 1.
func reinforced(strength float64) float64 {
	return types.ClampStrength(strength + reinforceStep*(1-strength))
}

// insertMemory runs the dedup/contradiction resolution and creates the row
// (or reinforces an existing one). Returns the id the caller should treat
// as "where this content lives now".
func (s *Service) insertMemory(ctx context.Context, memory *types.Memory) (string, error) {
	// Episodic and reflective content is allowed to repeat: conversation
	// history and auto-generated reflections skip resolution entirely.
	if memory.Sector.ResolutionExempt() {
		return s.createMemory(ctx, memory, nil)
	}

	embedding, err := s.embedder.EmbedOne(ctx, memory.Content)
	if err != nil {
		// Store never fails because enrichment is unavailable: insert
		// unresolved and let the worker retry the embedding.
		s.log.WithError(err).WithField("user_id", memory.UserID).
			Warn("embedding unavailable, storing without dedup check")
		return s.createMemory(ctx, memory, nil)
	}

	hits, err := s.index.Search(ctx, memory.UserID, embedding, dedupCandidates)
	if err != nil {
		if !errors.Is(err, vector.ErrDegraded) {
			s.log.WithError(err).WithField("user_id", memory.UserID).
				Warn("candidate search unavailable, storing without dedup check")
		}
		return s.createMemory(ctx, memory, embedding)
	}

	for _, hit := range hits {
		candidate, err := s.store.GetByID(ctx, hit.ID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue // index entry outlived its row
			}
			return "", fmt.Errorf("failed to load dedup candidate %s: %w", hit.ID, err)
		}
		if candidate.Archived || candidate.UserID != memory.UserID {
			continue
		}
		// Cross-sector matches are ignored unless the new memory is
		// episodic (episodic content may match anything).
		if candidate.Sector != memory.Sector && memory.Sector != types.SectorEpisodic {
			continue
		}

		switch {
		case hit.Similarity >= duplicateThreshold:
			// Same fact again: reinforce the existing row, create nothing.
			if err := s.store.UpdateStrength(ctx, candidate.ID, reinforced(candidate.Strength)); err != nil {
				return "", fmt.Errorf("failed to reinforce duplicate %s: %w", candidate.ID, err)
			}
			s.log.WithFields(map[string]interface{}{
				"memory_id":  candidate.ID,
				"user_id":    memory.UserID,
				"similarity": hit.Similarity,
			}).Debug("duplicate collapsed into reinforcement")
			s.fireMemoryReinforced(candidate.ID, memory.UserID)
			return candidate.ID, nil

		case hit.Similarity >= contradictionThreshold && memory.Sector.ContradictionEligible():
			return s.resolveContradiction(ctx, memory, embedding, candidate)
		}
	}

	return s.createMemory(ctx, memory, embedding)
}

// resolveContradiction inserts the newer content as a fresh memory, halves
// the contradicted one, and records the supersession edges through a
// shared entity when one can be found. History stays visible: nothing is
// deleted.
func (s *Service) resolveContradiction(ctx context.Context, memory *types.Memory, embedding []float32, old *types.Memory) (string, error) {
	id, err := s.createMemory(ctx, memory, embedding)
	if err != nil {
		return "", err
	}

	if err := s.store.SetStrength(ctx, old.ID, old.Strength/2); err != nil {
		return "", fmt.Errorf("failed to weaken contradicted memory %s: %w", old.ID, err)
	}

	log := s.log.WithFields(map[string]interface{}{
		"memory_id": id,
		"old_id":    old.ID,
		"user_id":   memory.UserID,
	})

	if shared := s.findSharedEntity(ctx, memory, old); shared != nil {
		contradicts := types.NewMemoryRelation(memory.UserID, shared.ID, old.ID, types.RelContradicts)
		updated := types.NewMemoryRelation(memory.UserID, shared.ID, id, types.RelUpdatedFrom)
		if err := s.store.InsertRelation(ctx, &contradicts); err != nil {
			log.WithError(err).Warn("failed to record contradicts edge")
		}
		if err := s.store.InsertRelation(ctx, &updated); err != nil {
			log.WithError(err).Warn("failed to record updated_from edge")
		}
		log = log.WithField("entity_id", shared.ID)
	}

	log.Info("contradiction resolved, newer memory supersedes")
	s.fireMemoryContradicted(id, old.ID, memory.UserID)
	return id, nil
}

// findSharedEntity locates an entity connecting the two sides of a
// contradiction: preferably one already linked to the old memory whose
// name appears in the new content, otherwise any of the user's entities
// named in either content.
func (s *Service) findSharedEntity(ctx context.Context, memory *types.Memory, old *types.Memory) *types.Entity {
	linked, err := s.store.EntitiesForMemory(ctx, old.ID)
	if err == nil {
		for i := range linked {
			if containsName(memory.Content, linked[i].Name) {
				return &linked[i]
			}
		}
	}

	all, err := s.store.ListEntitiesByUser(ctx, memory.UserID)
	if err != nil {
		return nil
	}
	for i := range all {
		if containsName(memory.Content, all[i].Name) || containsName(old.Content, all[i].Name) {
			return &all[i]
		}
	}
	return nil
}

func containsName(content, name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	return strings.Contains(strings.ToLower(content), strings.ToLower(name))
}

// createMemory writes the row and queues the detached enrichment work. The
// caller may already hold the content's embedding; passing it through
// saves the worker a provider call.
func (s *Service) createMemory(ctx context.Context, memory *types.Memory, embedding []float32) (string, error) {
	if err := s.store.Insert(ctx, memory); err != nil {
		return "", fmt.Errorf("failed to insert memory: %w", err)
	}

	s.fireMemoryStored(memory.ID, memory.UserID)
	s.enqueueEnrichment(ctx, &enrichmentJob{
		memoryID:  memory.ID,
		userID:    memory.UserID,
		content:   memory.Content,
		embedding: embedding,
	})
	return memory.ID, nil
}
