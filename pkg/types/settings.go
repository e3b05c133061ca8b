package types

import "time"

// UserSettings holds the per-user maintenance knobs persisted alongside the
// memories. Zero-valued fields fall back to the configured defaults when the
// jobs run; Merge applies that layering.
type UserSettings struct {
	UserID string `json:"user_id"`

	// ArchiveThreshold is the strength below which decay archives a
	// memory. Valid range (0,1).
	ArchiveThreshold float64 `json:"archive_threshold,omitempty"`

	// DecayAggressiveness scales how fast strength falls with time. 1.0 is
	// the baseline curve; larger is more forgetful. Valid range (0,10].
	DecayAggressiveness float64 `json:"decay_aggressiveness,omitempty"`

	// DecayInterval is the minimum gap between decay passes for this user.
	DecayInterval time.Duration `json:"decay_interval,omitempty"`

	// ReflectionInterval is the minimum gap between reflection passes.
	ReflectionInterval time.Duration `json:"reflection_interval,omitempty"`

	// ReflectionMinAge is how old an episodic memory must be before
	// reflection may consume it.
	ReflectionMinAge time.Duration `json:"reflection_min_age,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Merge returns s with zero-valued knobs filled from defaults.
func (s UserSettings) Merge(defaults UserSettings) UserSettings {
	out := s
	if out.ArchiveThreshold == 0 {
		out.ArchiveThreshold = defaults.ArchiveThreshold
	}
	if out.DecayAggressiveness == 0 {
		out.DecayAggressiveness = defaults.DecayAggressiveness
	}
	if out.DecayInterval == 0 {
		out.DecayInterval = defaults.DecayInterval
	}
	if out.ReflectionInterval == 0 {
		out.ReflectionInterval = defaults.ReflectionInterval
	}
	if out.ReflectionMinAge == 0 {
		out.ReflectionMinAge = defaults.ReflectionMinAge
	}
	return out
}
