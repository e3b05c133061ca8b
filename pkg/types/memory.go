package types

import "time"

// Memory represents a single unit of remembered content. Memories are the
// atomic rows of the engine: ranked by strength, aged by decay, linked by
// entities, and recallable by vector similarity, tag, or time range.
type Memory struct {
	// Core identification fields
	ID     string `json:"id"`      // Unique identifier (format: mem:<ulid>), immutable
	UserID string `json:"user_id"` // Owning user; memories never cross users
	Sector Sector `json:"sector"`  // Epistemic kind (episodic, semantic, factual, procedural, reflective)

	// Content
	Content    string   `json:"content"`               // Raw remembered text
	Summary    string   `json:"summary,omitempty"`     // Optional compressed form, preferred for recall output
	Tags       []string `json:"tags,omitempty"`        // User-defined tags, an exact-match facet
	SessionKey string   `json:"session_key,omitempty"` // Provenance: the conversation session that produced this

	// Time
	EventAt      time.Time  `json:"event_at"`              // When the remembered fact occurred
	RememberedAt time.Time  `json:"remembered_at"`         // When the memory was stored
	ValidUntil   *time.Time `json:"valid_until,omitempty"` // Optional expiry; decay archives past it

	// Ranking signals
	Strength       float64    `json:"strength"`                   // Current relevance/confidence, clamped to [0,1]
	RecallCount    int        `json:"recall_count"`               // Number of successful recalls
	LastRecalledAt *time.Time `json:"last_recalled_at,omitempty"` // Timestamp of most recent recall

	// Lifecycle
	Archived bool `json:"archived"` // Excluded from recall and dedup candidates; never hard-deleted
}

// DefaultStrength is the strength assigned to a freshly stored memory.
const DefaultStrength = 0.7

// ClampStrength bounds a strength value to the valid [0,1] range.
func ClampStrength(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Expired reports whether the memory's validity window has passed at now.
// Memories without a ValidUntil never expire.
func (m *Memory) Expired(now time.Time) bool {
	return m.ValidUntil != nil && !now.Before(*m.ValidUntil)
}

// RecallText returns the text a plain recall should surface: the summary
// when one exists, otherwise the full content.
func (m *Memory) RecallText() string {
	if m.Summary != "" {
		return m.Summary
	}
	return m.Content
}

// HasTag reports whether the memory carries a tag containing the given
// fragment (case-insensitive containment, matching the store's tag scans).
func (m *Memory) HasTag(fragment string) bool {
	if fragment == "" {
		return false
	}
	for _, t := range m.Tags {
		if containsFold(t, fragment) {
			return true
		}
	}
	return false
}
