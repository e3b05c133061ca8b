package types

import "time"

// UserStats summarizes a user's memory population.
type UserStats struct {
	UserID       string         `json:"user_id"`
	Total        int            `json:"total"`         // Live (non-archived) memories
	BySector     map[Sector]int `json:"by_sector"`     // Live counts per sector
	MeanStrength float64        `json:"mean_strength"` // Mean strength of live memories
	Archived     int            `json:"archived"`      // Archived memory count
}

// DecayReport is returned by a decay pass.
type DecayReport struct {
	// Archived counts memories pushed below the archive threshold (or past
	// their validity window) and archived by this pass.
	Archived int `json:"archived"`

	// Reinforced counts memories whose recall history kept them above the
	// threshold despite raw time decay.
	Reinforced int `json:"reinforced"`
}

// ReflectReport is returned by a reflection pass.
type ReflectReport struct {
	// Reflected counts the old episodic memories consumed as source
	// material.
	Reflected int `json:"reflected"`

	// Compressed counts the new semantic/reflective memories produced.
	Compressed int `json:"compressed"`
}

// Export is a full snapshot of one user's memory space.
type Export struct {
	UserID     string     `json:"user_id"`
	ExportedAt time.Time  `json:"exported_at"`
	Memories   []Memory   `json:"memories"`
	Entities   []Entity   `json:"entities"`
	Relations  []Relation `json:"relations"`
}
