package domain

import "github.com/google/uuid"

// Relation enumerates the edge kinds the versioning core writes. The
// relationship table itself is shared with the wider catalog; only the kinds
// below are owned here.
type Relation string

const (
	RelationContains Relation = "contains"
	RelationUses     Relation = "uses"
	RelationOwns     Relation = "owns"
)

// Relationship is a typed edge between two entities. Edges touched by
// per-type update hooks are written inside the same transaction as the entity
// update.
type Relationship struct {
	FromID   uuid.UUID `json:"fromId"`
	FromType string    `json:"fromType"`
	ToID     uuid.UUID `json:"toId"`
	ToType   string    `json:"toType"`
	Relation Relation  `json:"relation"`
}
