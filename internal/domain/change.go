package domain

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// FieldChange records one field-level difference between two entity
// snapshots. Name may be a dotted path for nested fields, e.g.
// "columns.user_id.dataLength". OldValue/NewValue hold the JSON encoding of
// the respective side; nil means the value was absent on that side.
type FieldChange struct {
	Name     string          `json:"name"`
	OldValue json.RawMessage `json:"oldValue,omitempty"`
	NewValue json.RawMessage `json:"newValue,omitempty"`
}

// ChangeDescription is the structured diff attached to an entity on every
// update. It is immutable once recorded and replaced wholesale by the next
// update.
type ChangeDescription struct {
	FieldsAdded     []FieldChange `json:"fieldsAdded,omitempty"`
	FieldsUpdated   []FieldChange `json:"fieldsUpdated,omitempty"`
	FieldsDeleted   []FieldChange `json:"fieldsDeleted,omitempty"`
	PreviousVersion float64       `json:"previousVersion"`
}

// IsEmpty reports whether the description records no field changes at all.
func (cd ChangeDescription) IsEmpty() bool {
	return len(cd.FieldsAdded) == 0 && len(cd.FieldsUpdated) == 0 && len(cd.FieldsDeleted) == 0
}

// Clone returns a deep copy of the change description.
func (cd ChangeDescription) Clone() ChangeDescription {
	out := ChangeDescription{PreviousVersion: cd.PreviousVersion}
	out.FieldsAdded = copyFieldChanges(cd.FieldsAdded)
	out.FieldsUpdated = copyFieldChanges(cd.FieldsUpdated)
	out.FieldsDeleted = copyFieldChanges(cd.FieldsDeleted)
	return out
}

// Equal compares two change descriptions structurally, including the JSON
// encodings of old and new values.
func (cd ChangeDescription) Equal(other ChangeDescription) bool {
	if cd.PreviousVersion != other.PreviousVersion {
		return false
	}
	return fieldChangesEqual(cd.FieldsAdded, other.FieldsAdded) &&
		fieldChangesEqual(cd.FieldsUpdated, other.FieldsUpdated) &&
		fieldChangesEqual(cd.FieldsDeleted, other.FieldsDeleted)
}

func copyFieldChanges(in []FieldChange) []FieldChange {
	if in == nil {
		return nil
	}
	out := make([]FieldChange, len(in))
	for i, fc := range in {
		out[i] = FieldChange{
			Name:     fc.Name,
			OldValue: bytes.Clone(fc.OldValue),
			NewValue: bytes.Clone(fc.NewValue),
		}
	}
	return out
}

func fieldChangesEqual(a, b []FieldChange) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name ||
			!bytes.Equal(a[i].OldValue, b[i].OldValue) ||
			!bytes.Equal(a[i].NewValue, b[i].NewValue) {
			return false
		}
	}
	return true
}

// EventType classifies a change event for downstream consumers.
type EventType string

const (
	EventEntityCreated     EventType = "entityCreated"
	EventEntityUpdated     EventType = "entityUpdated"
	EventEntitySoftDeleted EventType = "entitySoftDeleted"
	EventEntityRestored    EventType = "entityRestored"
	EventEntityHardDeleted EventType = "entityHardDeleted"
)

// ChangeEvent is the record emitted after an update transaction commits.
// Consumers (search reindex, webhooks, activity feeds) are external; delivery
// is at-least-once.
type ChangeEvent struct {
	ID                uuid.UUID          `json:"id"`
	EventType         EventType          `json:"eventType"`
	EntityType        string             `json:"entityType"`
	EntityID          uuid.UUID          `json:"entityId"`
	EntityFQN         string             `json:"entityFullyQualifiedName,omitempty"`
	PreviousVersion   float64            `json:"previousVersion"`
	CurrentVersion    float64            `json:"currentVersion"`
	UserName          string             `json:"userName,omitempty"`
	Timestamp         time.Time          `json:"timestamp"`
	ChangeDescription *ChangeDescription `json:"changeDescription,omitempty"`
	Entity            json.RawMessage    `json:"entity,omitempty"`
}
