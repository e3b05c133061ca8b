package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/engramlabs/engram/internal/storage"
	"github.com/engramlabs/engram/pkg/types"
)

const (
	// profileStaticMinStrength gates the stable background slice: only
	// strong, settled facts belong there.
	profileStaticMinStrength = 0.75

	// profileStaticMinRecalls requires a fact to have proven itself by
	// being recalled before it counts as stable background.
	profileStaticMinRecalls = 2

	// profileSliceLimit caps each profile slice.
	profileSliceLimit = 5

	// profileDynamicWindow is how far back the recent slice looks.
	profileDynamicWindow = 24 // hours
)

// GetProfile assembles the user snapshot handed to the agent before a
// turn: stable background facts, recent non-episodic memories the
// background does not already cover, and query-specific recall when a
// query is given.
func (s *Service) GetProfile(ctx context.Context, userID, query, sessionKey string) (*types.Profile, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", storage.ErrInvalidInput)
	}

	profile := &types.Profile{
		Static:   []string{},
		Dynamic:  []string{},
		Memories: []string{},
	}
	now := s.now()

	// Static: high-strength, repeatedly recalled durable facts.
	stable, err := s.store.ListByUser(ctx, userID, storage.Filters{
		Sectors:     []types.Sector{types.SectorFactual, types.SectorSemantic},
		MinStrength: profileStaticMinStrength,
	})
	if err != nil {
		return nil, fmt.Errorf("profile static scan failed: %w", err)
	}

	covered := make(map[string]bool)
	for _, m := range stable {
		if m.RecallCount < profileStaticMinRecalls {
			continue
		}
		covered[m.ID] = true
		profile.Static = append(profile.Static, m.RecallText())
		if len(profile.Static) >= profileSliceLimit {
			break
		}
	}

	// Dynamic: what changed in the last day that Static does not cover.
	recent, err := s.store.ListByUser(ctx, userID, storage.Filters{
		Sectors: []types.Sector{
			types.SectorFactual,
			types.SectorSemantic,
			types.SectorProcedural,
			types.SectorReflective,
		},
		After: now.Add(-profileDynamicWindow * time.Hour),
	})
	if err != nil {
		return nil, fmt.Errorf("profile dynamic scan failed: %w", err)
	}
	for _, m := range recent {
		if covered[m.ID] {
			continue
		}
		profile.Dynamic = append(profile.Dynamic, m.RecallText())
		if len(profile.Dynamic) >= profileSliceLimit {
			break
		}
	}

	// Memories: query-specific recall, with the usual degraded fallbacks.
	if query != "" {
		recalled, err := s.Recall(ctx, userID, query, profileSliceLimit, sessionKey)
		if err != nil {
			s.log.WithError(err).WithField("user_id", userID).Warn("profile recall failed")
		} else {
			profile.Memories = recalled
		}
	}

	return profile, nil
}
