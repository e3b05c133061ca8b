// Package types defines the core data structures for the engram memory
// engine: memories, entities, relations, and the vocabularies that
// classify them.
package types

// Sector classifies a memory's epistemic kind.
type Sector string

// Sector constants.
const (
	// SectorEpisodic is a conversational event; allowed to repeat.
	SectorEpisodic Sector = "episodic"

	// SectorSemantic is durable general knowledge.
	SectorSemantic Sector = "semantic"

	// SectorFactual is a durable concrete fact about the user or world.
	SectorFactual Sector = "factual"

	// SectorProcedural is how-to knowledge.
	SectorProcedural Sector = "procedural"

	// SectorReflective is compressed insight produced by the reflection job.
	SectorReflective Sector = "reflective"
)

// ValidSectors contains all valid sector values.
var ValidSectors = []Sector{
	SectorEpisodic,
	SectorSemantic,
	SectorFactual,
	SectorProcedural,
	SectorReflective,
}

// IsValidSector checks whether s is a known sector value.
func IsValidSector(s Sector) bool {
	for _, v := range ValidSectors {
		if s == v {
			return true
		}
	}
	return false
}

// ResolutionExempt reports whether memories in this sector bypass
// dedup/contradiction resolution on insert. Conversation history and
// auto-generated reflections are allowed to repeat.
func (s Sector) ResolutionExempt() bool {
	return s == SectorEpisodic || s == SectorReflective
}

// ContradictionEligible reports whether this sector participates in the
// contradiction band. Only durable fact-like sectors supersede one
// another; casual conversation never weakens stored facts.
func (s Sector) ContradictionEligible() bool {
	return s == SectorFactual || s == SectorSemantic
}

// EntityType classifies a named entity.
type EntityType string

// Entity type constants.
const (
	EntityPerson     EntityType = "person"
	EntityProject    EntityType = "project"
	EntityPlace      EntityType = "place"
	EntityPreference EntityType = "preference"
	EntityTopic      EntityType = "topic"
)

// ValidEntityTypes contains all valid entity type values.
var ValidEntityTypes = []EntityType{
	EntityPerson,
	EntityProject,
	EntityPlace,
	EntityPreference,
	EntityTopic,
}

// IsValidEntityType checks whether t is a known entity type.
func IsValidEntityType(t EntityType) bool {
	for _, v := range ValidEntityTypes {
		if t == v {
			return true
		}
	}
	return false
}

// RelationKind classifies a directed edge in the entity graph.
type RelationKind string

// Relation kind constants.
const (
	// RelPrefers links a person to a preference they hold.
	RelPrefers RelationKind = "prefers"

	// RelKnows links two people mentioned together.
	RelKnows RelationKind = "knows"

	// RelUpdatedFrom links an entity to the memory that superseded an
	// older, contradicted one.
	RelUpdatedFrom RelationKind = "updated_from"

	// RelPartOf links an entity to a memory it appears in, or a topic to
	// the project it belongs to.
	RelPartOf RelationKind = "part_of"

	// RelContradicts links an entity to a memory that newer content has
	// contradicted.
	RelContradicts RelationKind = "contradicts"

	// RelCoOccurs is the default edge between entities extracted from the
	// same memory when no more specific kind applies.
	RelCoOccurs RelationKind = "co_occurs"
)

// ValidRelationKinds contains all valid relation kind values.
var ValidRelationKinds = []RelationKind{
	RelPrefers,
	RelKnows,
	RelUpdatedFrom,
	RelPartOf,
	RelContradicts,
	RelCoOccurs,
}

// IsValidRelationKind checks whether k is a known relation kind.
func IsValidRelationKind(k RelationKind) bool {
	for _, v := range ValidRelationKinds {
		if k == v {
			return true
		}
	}
	return false
}
