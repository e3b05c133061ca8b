package types

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// relationNamespace seeds the deterministic UUIDv5 derivation for relation
// ids so that identical edges always mint identical ids.
var relationNamespace = uuid.MustParse("9d3f1c52-7a0e-4b8f-9f34-6c2a8d5e0b17")

// NewMemoryID mints a time-sortable memory identifier.
func NewMemoryID() string {
	return fmt.Sprintf("mem:%s", ulid.Make())
}

// NewEntityID mints an entity identifier carrying its type for readability.
func NewEntityID(t EntityType) string {
	return fmt.Sprintf("ent:%s:%s", t, uuid.NewString())
}

// RelationID derives the deterministic identifier for an edge. The same
// (from, target, kind) triple always yields the same id, which is what makes
// relation inserts idempotent.
func RelationID(fromEntity, target string, kind RelationKind) string {
	name := fmt.Sprintf("%s|%s|%s", fromEntity, target, kind)
	return fmt.Sprintf("rel:%s", uuid.NewSHA1(relationNamespace, []byte(name)))
}

// NewRelation builds an entity→entity edge with its deterministic id.
func NewRelation(userID, fromEntity, toEntity string, kind RelationKind) Relation {
	return Relation{
		ID:         RelationID(fromEntity, toEntity, kind),
		UserID:     userID,
		FromEntity: fromEntity,
		ToEntity:   toEntity,
		Kind:       kind,
	}
}

// NewMemoryRelation builds an entity→memory edge with its deterministic id.
func NewMemoryRelation(userID, fromEntity, toMemory string, kind RelationKind) Relation {
	return Relation{
		ID:         RelationID(fromEntity, toMemory, kind),
		UserID:     userID,
		FromEntity: fromEntity,
		ToMemory:   toMemory,
		Kind:       kind,
	}
}
