package storage

import (
	"errors"
	"time"

	"github.com/engramlabs/engram/pkg/types"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// Filters narrows a ListByUser scan. Zero values mean "no constraint".
type Filters struct {
	// Sectors restricts results to the given sectors. Empty means all.
	Sectors []types.Sector

	// MinStrength drops rows below this strength.
	MinStrength float64

	// MaxStrength drops rows above this strength when non-zero. The
	// reflection job uses it to find low-value episodic memories.
	MaxStrength float64

	// TagContains keeps rows carrying a tag that contains this fragment
	// (case-insensitive).
	TagContains string

	// SessionKey keeps rows stored under this session.
	SessionKey string

	// After keeps rows whose event_at is at or after this instant.
	After time.Time

	// Before keeps rows whose event_at is strictly before this instant.
	// Together with After this matches the [after, before) timeframe
	// ranges the ranker resolves.
	Before time.Time

	// IncludeArchived includes archived rows. By default they are
	// excluded from every scan.
	IncludeArchived bool

	// Limit caps the number of rows returned. Zero means no cap — the
	// maintenance jobs scan whole users.
	Limit int
}

// Normalize clamps filter values into their valid ranges.
func (f *Filters) Normalize() {
	if f.MinStrength < 0 {
		f.MinStrength = 0
	}
	if f.MinStrength > 1 {
		f.MinStrength = 1
	}
	if f.MaxStrength < 0 {
		f.MaxStrength = 0
	}
	if f.MaxStrength > 1 {
		f.MaxStrength = 1
	}
	if f.Limit < 0 {
		f.Limit = 0
	}
}

// SectorStrings converts the sector filter for SQL IN clauses.
func (f *Filters) SectorStrings() []string {
	if len(f.Sectors) == 0 {
		return nil
	}
	out := make([]string, len(f.Sectors))
	for i, s := range f.Sectors {
		out[i] = string(s)
	}
	return out
}
