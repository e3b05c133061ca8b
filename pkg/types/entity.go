package types

import (
	"strings"
	"time"
	"unicode"
)

// Entity represents a named thing the user has mentioned: a person, a
// project, a place, a preference, or a topic. Entities are unique per
// (user, type, name) and are upserted, never deleted — the fuzzy-merge
// maintenance pass folds near-duplicates into a canonical sibling instead.
type Entity struct {
	// Core identification fields
	ID     string     `json:"id"`      // Unique identifier (format: ent:<type>:<uuid>)
	UserID string     `json:"user_id"` // Owning user
	Type   EntityType `json:"type"`    // Entity type (person, project, place, preference, topic)
	Name   string     `json:"name"`    // Display name as extracted

	// Attributes is an optional key-value bag; last write wins on upsert.
	Attributes map[string]string `json:"attributes,omitempty"`

	// Bookkeeping
	CreatedAt time.Time `json:"created_at"` // First seen
	UpdatedAt time.Time `json:"updated_at"` // Last upsert
}

// EntityMention is a typed entity reference as produced by the extractor,
// before it has been upserted into the graph.
type EntityMention struct {
	Type EntityType `json:"type"`
	Name string     `json:"name"`
}

// NormalizedName returns the entity's name in canonical comparison form.
func (e *Entity) NormalizedName() string {
	return NormalizeEntityName(e.Name)
}

// NormalizeEntityName lowercases a name and strips punctuation so that
// "Dr. Smith" and "dr smith" compare equal. Interior whitespace collapses
// to single spaces; punctuation and symbols are dropped entirely.
func NormalizeEntityName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	lastSpace := true
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// containsFold reports whether s contains substr, ignoring case.
func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
