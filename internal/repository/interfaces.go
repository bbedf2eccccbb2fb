package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/metacat/internal/domain"
)

// EntityRecord is the persisted shape of a catalog entity: indexed metadata
// columns plus the full snapshot JSON.
type EntityRecord struct {
	ID         uuid.UUID
	EntityType string
	FQN        string
	Version    float64
	Deleted    bool
	UpdatedAt  time.Time
	UpdatedBy  string
	Snapshot   json.RawMessage
}

// EntityStore persists the current state of each entity.
type EntityStore interface {
	// Put upserts the current entity row.
	Put(ctx context.Context, rec EntityRecord) error
	// Get returns the current row or domain.ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (EntityRecord, error)
	// GetByFQN returns the current row for (entityType, fqn) or domain.ErrNotFound.
	GetByFQN(ctx context.Context, entityType, fqn string) (EntityRecord, error)
	// List returns current rows of one type, optionally including soft-deleted ones.
	List(ctx context.Context, entityType string, includeDeleted bool) ([]EntityRecord, error)
	// Delete removes the row entirely. Used only for hard deletes.
	Delete(ctx context.Context, id uuid.UUID) error
}

// VersionStore persists one immutable snapshot per (entity, version).
type VersionStore interface {
	// Put upserts the snapshot for (entityID, version). Idempotent;
	// overwriting is only legal for the entity's current version.
	Put(ctx context.Context, rec domain.VersionRecord) error
	// Get returns the snapshot or domain.ErrNotFound.
	Get(ctx context.Context, entityID uuid.UUID, version float64) (domain.VersionRecord, error)
	// List returns all version records for the entity, descending by version.
	List(ctx context.Context, entityID uuid.UUID) ([]domain.VersionRecord, error)
	// DeleteAll purges every snapshot of the entity. Used only for hard deletes.
	DeleteAll(ctx context.Context, entityID uuid.UUID) error
}

// RelationshipStore reads and writes typed edges between entities.
type RelationshipStore interface {
	Add(ctx context.Context, rel domain.Relationship) error
	// DeleteFrom removes all edges (fromID, fromType) -relation-> (*, toType).
	DeleteFrom(ctx context.Context, fromID uuid.UUID, fromType string, relation domain.Relation, toType string) error
	// DeleteTo removes all edges (*, *) -relation-> (toID, toType).
	DeleteTo(ctx context.Context, toID uuid.UUID, toType string, relation domain.Relation) error
	// DeleteAll removes every edge touching the entity, in either direction.
	DeleteAll(ctx context.Context, id uuid.UUID) error
	// FindTo lists edges that originate at (fromID, fromType) with the relation.
	FindTo(ctx context.Context, fromID uuid.UUID, fromType string, relation domain.Relation) ([]domain.Relationship, error)
}

// ChangeEventStore appends committed change events for external consumers.
type ChangeEventStore interface {
	Append(ctx context.Context, event domain.ChangeEvent) error
	// List returns events at or after since, ascending by timestamp, capped at limit.
	List(ctx context.Context, since time.Time, limit int) ([]domain.ChangeEvent, error)
}

// Store aggregates the individual stores and provides the transaction
// boundary. Everything executed inside WithTx sees a Store whose sub-stores
// share one transaction; the callback's error rolls everything back.
type Store interface {
	Entities() EntityStore
	Versions() VersionStore
	Relationships() RelationshipStore
	Events() ChangeEventStore
	WithTx(ctx context.Context, fn func(Store) error) error
}
