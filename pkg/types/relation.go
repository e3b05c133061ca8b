package types

import "time"

// Relation is a directed edge from an entity to either another entity or a
// specific memory. Exactly one of ToEntity/ToMemory is set. Edges are
// append-only: ids are derived deterministically from the edge contents, so
// re-processing the same memory re-derives the same ids and the insert is
// idempotent.
type Relation struct {
	// Core identification fields
	ID         string       `json:"id"`                  // Deterministic identifier (format: rel:<uuid5 over from|to|kind>)
	UserID     string       `json:"user_id"`             // Owning user
	FromEntity string       `json:"from_entity"`         // Source entity ID
	ToEntity   string       `json:"to_entity,omitempty"` // Target entity ID; empty when the edge points at a memory
	ToMemory   string       `json:"to_memory,omitempty"` // Target memory ID; empty when the edge points at an entity
	Kind       RelationKind `json:"relation"`            // Edge kind (prefers, knows, updated_from, part_of, contradicts, co_occurs)

	CreatedAt time.Time `json:"created_at"` // When the edge was first recorded
}

// Target returns whichever of ToEntity/ToMemory is set.
func (r *Relation) Target() string {
	if r.ToEntity != "" {
		return r.ToEntity
	}
	return r.ToMemory
}

// PointsAtMemory reports whether the edge targets a memory rather than
// another entity.
func (r *Relation) PointsAtMemory() bool {
	return r.ToMemory != ""
}

// Valid checks the exactly-one-target invariant.
func (r *Relation) Valid() bool {
	return (r.ToEntity == "") != (r.ToMemory == "")
}
