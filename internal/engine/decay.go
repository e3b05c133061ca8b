package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/engramlabs/engram/internal/storage"
	"github.com/engramlabs/engram/pkg/types"
)

// strengthWriteThreshold skips write-back when decay moved a strength by
// less than this; sub-millesimal drift is not worth a row update.
const strengthWriteThreshold = 0.001

// Decay runs the forgetting pass for one user: every live memory loses
// strength along a half-life curve over the time since its last recall,
// softened by how often it has been recalled; rows falling below the
// archive threshold (or past their validity window) are archived. The
// pass self-throttles to once per configured interval and is idempotent —
// interrupting and re-running it never double-ages a row because decay is
// computed from absolute timestamps, not from the previous pass.
func (s *Service) Decay(ctx context.Context, userID string) (types.DecayReport, error) {
	var report types.DecayReport
	if userID == "" {
		return report, fmt.Errorf("%w: user id is required", storage.ErrInvalidInput)
	}

	cfg := s.config()
	settings, err := s.userSettings(ctx, userID, cfg)
	if err != nil {
		return report, err
	}

	now := s.now()
	lastRun, err := s.store.LastJobRun(ctx, userID, storage.JobDecay)
	if err != nil {
		return report, fmt.Errorf("failed to read decay throttle: %w", err)
	}
	if !lastRun.IsZero() && now.Sub(lastRun) < settings.DecayInterval {
		return report, nil
	}

	memories, err := s.store.ListByUser(ctx, userID, storage.Filters{})
	if err != nil {
		return report, fmt.Errorf("decay scan failed: %w", err)
	}

	log := s.log.WithField("user_id", userID)

	for i := range memories {
		m := &memories[i]

		if m.Expired(now) {
			if err := s.store.Archive(ctx, m.ID); err != nil {
				log.WithError(err).WithField("memory_id", m.ID).Warn("failed to archive expired memory")
				continue
			}
			report.Archived++
			s.fireMemoryArchived(m.ID, userID)
			continue
		}

		raw, boosted := decayedStrength(m, now, settings.DecayAggressiveness, cfg)

		if boosted < settings.ArchiveThreshold {
			if err := s.store.Archive(ctx, m.ID); err != nil {
				log.WithError(err).WithField("memory_id", m.ID).Warn("failed to archive decayed memory")
				continue
			}
			report.Archived++
			s.fireMemoryArchived(m.ID, userID)
			continue
		}

		// Recall history held the memory above the threshold that raw
		// time decay would have pushed it below.
		if raw < settings.ArchiveThreshold {
			report.Reinforced++
		}

		if m.Strength-boosted >= strengthWriteThreshold {
			if err := s.store.SetStrength(ctx, m.ID, boosted); err != nil {
				log.WithError(err).WithField("memory_id", m.ID).Warn("decay write-back failed")
			}
		}
	}

	if err := s.store.SetJobRun(ctx, userID, storage.JobDecay, now); err != nil {
		log.WithError(err).Warn("failed to stamp decay run")
	}

	log.WithFields(map[string]interface{}{
		"scanned":    len(memories),
		"archived":   report.Archived,
		"reinforced": report.Reinforced,
	}).Info("decay pass completed")
	return report, nil
}

// decayedStrength computes the post-decay strength of a memory at now.
// It returns both the raw curve value and the recall-boosted value
// actually written; neither ever exceeds the pre-decay strength and both
// stay in [0,1].
//
// The curve is a half-life: strength × 2^(−hours / halfLife), with the
// half-life shrunk by the aggressiveness knob. The boost adds
// min(recallCount × RecallBoost, RecallBoostCap), so frequently recalled
// memories age more slowly. The exact shape is an implementation choice
// behind the configured knobs, not a contract.
func decayedStrength(m *types.Memory, now time.Time, aggressiveness float64, cfg Config) (raw, boosted float64) {
	anchor := m.RememberedAt
	if m.LastRecalledAt != nil {
		anchor = *m.LastRecalledAt
	}

	hours := now.Sub(anchor).Hours()
	if hours < 0 {
		hours = 0
	}

	halfLife := cfg.DecayHalfLife.Hours() / aggressiveness
	raw = m.Strength * math.Pow(2, -hours/halfLife)

	boost := math.Min(float64(m.RecallCount)*cfg.RecallBoost, cfg.RecallBoostCap)
	boosted = math.Min(types.ClampStrength(raw+boost), m.Strength)
	raw = types.ClampStrength(raw)
	return raw, boosted
}

// userSettings layers the user's stored overrides on top of the
// configured defaults.
func (s *Service) userSettings(ctx context.Context, userID string, cfg Config) (types.UserSettings, error) {
	stored, err := s.store.GetUserSettings(ctx, userID)
	if err != nil {
		return types.UserSettings{}, fmt.Errorf("failed to load user settings: %w", err)
	}
	return stored.Merge(types.UserSettings{
		ArchiveThreshold:    cfg.ArchiveThreshold,
		DecayAggressiveness: cfg.DecayAggressiveness,
		DecayInterval:       cfg.DecayInterval,
		ReflectionInterval:  cfg.ReflectionInterval,
		ReflectionMinAge:    cfg.ReflectionMinAge,
	}), nil
}
