package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/engramlabs/engram/internal/llm"
	"github.com/engramlabs/engram/internal/storage"
	"github.com/engramlabs/engram/pkg/types"
)

// reflectionEncoding is the tokenizer used for batch budgeting. The exact
// vocabulary matters less than a consistent count.
const reflectionEncoding = "cl100k_base"

// Reflect runs the compression pass for one user: old, low-strength
// episodic memories are batched under a token budget and compressed by
// the reflection model into reflective memories carrying the durable
// insight. Reflections insert through the normal dedup path, so repeated
// runs converge rather than pile up; consumed sources are archived. The
// pass self-throttles to once per configured interval.
func (s *Service) Reflect(ctx context.Context, userID string) (types.ReflectReport, error) {
	var report types.ReflectReport
	if userID == "" {
		return report, fmt.Errorf("%w: user id is required", storage.ErrInvalidInput)
	}
	if s.reflector == nil {
		return report, nil
	}

	cfg := s.config()
	settings, err := s.userSettings(ctx, userID, cfg)
	if err != nil {
		return report, err
	}

	now := s.now()
	lastRun, err := s.store.LastJobRun(ctx, userID, storage.JobReflection)
	if err != nil {
		return report, fmt.Errorf("failed to read reflection throttle: %w", err)
	}
	if !lastRun.IsZero() && now.Sub(lastRun) < settings.ReflectionInterval {
		return report, nil
	}

	sources, err := s.store.ListByUser(ctx, userID, storage.Filters{
		Sectors:     []types.Sector{types.SectorEpisodic},
		MaxStrength: cfg.ReflectionMaxStrength,
		Before:      now.Add(-settings.ReflectionMinAge),
	})
	if err != nil {
		return report, fmt.Errorf("reflection scan failed: %w", err)
	}

	log := s.log.WithField("user_id", userID)

	for _, batch := range batchByTokens(sources, cfg.ReflectionTokenBudget) {
		if len(batch) < cfg.ReflectionMinBatch {
			continue
		}

		contents := make([]string, len(batch))
		ids := make([]string, len(batch))
		for i, m := range batch {
			contents[i] = m.Content
			ids[i] = m.ID
		}

		response, err := s.reflector.Complete(ctx, llm.ReflectionPrompt(contents))
		if err != nil {
			log.WithError(err).Warn("reflection model call failed, batch left for next run")
			continue
		}
		summary := strings.TrimSpace(response)
		if summary == "" {
			log.Warn("reflection model returned empty summary, batch skipped")
			continue
		}

		reflective := &types.Memory{
			ID:           types.NewMemoryID(),
			UserID:       userID,
			Sector:       types.SectorReflective,
			Content:      summary,
			EventAt:      batch[len(batch)-1].EventAt,
			RememberedAt: now,
			Strength:     types.DefaultStrength,
		}
		if _, err := s.insertMemory(ctx, reflective); err != nil {
			log.WithError(err).Warn("failed to store reflection, batch left for next run")
			continue
		}

		archived, err := s.store.ArchiveBatch(ctx, ids)
		if err != nil {
			log.WithError(err).Warn("failed to archive reflected sources")
		}

		report.Reflected += archived
		report.Compressed++
	}

	if err := s.store.SetJobRun(ctx, userID, storage.JobReflection, now); err != nil {
		log.WithError(err).Warn("failed to stamp reflection run")
	}

	if report.Compressed > 0 {
		s.fireReflectionDone(userID, report)
	}
	log.WithFields(map[string]interface{}{
		"sources":    len(sources),
		"reflected":  report.Reflected,
		"compressed": report.Compressed,
	}).Info("reflection pass completed")
	return report, nil
}

// batchByTokens groups source memories into prompt-sized batches bounded
// by the configured token budget. Token counts come from tiktoken; if the
// encoding is unavailable a bytes/4 estimate stands in.
func batchByTokens(memories []types.Memory, tokenBudget int) [][]types.Memory {
	counter := tokenCounter()

	var batches [][]types.Memory
	var current []types.Memory
	used := 0

	for _, m := range memories {
		cost := counter(m.Content)
		if len(current) > 0 && used+cost > tokenBudget {
			batches = append(batches, current)
			current = nil
			used = 0
		}
		current = append(current, m)
		used += cost
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

func tokenCounter() func(string) int {
	enc, err := tiktoken.GetEncoding(reflectionEncoding)
	if err != nil {
		return func(text string) int { return len(text)/4 + 1 }
	}
	return func(text string) int {
		return len(enc.Encode(text, nil, nil))
	}
}
