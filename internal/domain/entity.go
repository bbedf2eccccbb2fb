package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entity type tags. Every versioned entity carries exactly one of these.
const (
	EntityTypeTable     = "table"
	EntityTypeDashboard = "dashboard"
	EntityTypeTopic     = "topic"
	EntityTypePipeline  = "pipeline"
	EntityTypeMlModel   = "mlmodel"
)

// EntityTypeChart tags chart references on dashboards. Charts are owned by
// the wider catalog and are not versioned here.
const EntityTypeChart = "chart"

// Entity is the capability interface every versioned catalog entity
// implements. It deliberately exposes only what the versioning core needs;
// persistence and transport representations live elsewhere.
type Entity interface {
	// EntityType returns the entity's type tag, e.g. "table".
	EntityType() string
	// Header returns the mutable common header shared by all entity types.
	Header() *EntityHeader
	// Clone returns a deep copy of the entity.
	Clone() Entity
}

// EntityHeader holds the fields common to all entity types. Version and
// ChangeDescription are owned by the updater and must not be written by
// anything else.
type EntityHeader struct {
	ID                 uuid.UUID          `json:"id"`
	Name               string             `json:"name"`
	FullyQualifiedName string             `json:"fullyQualifiedName,omitempty"`
	DisplayName        string             `json:"displayName,omitempty"`
	Description        string             `json:"description,omitempty"`
	Owner              *EntityReference   `json:"owner,omitempty"`
	Tags               []TagLabel         `json:"tags,omitempty"`
	Version            float64            `json:"version"`
	UpdatedAt          time.Time          `json:"updatedAt"`
	UpdatedBy          string             `json:"updatedBy,omitempty"`
	Deleted            bool               `json:"deleted,omitempty"`
	ChangeDescription  *ChangeDescription `json:"changeDescription,omitempty"`
}

// EntityReference is a lightweight pointer to another catalog entity.
type EntityReference struct {
	ID   uuid.UUID `json:"id"`
	Type string    `json:"type"`
	Name string    `json:"name,omitempty"`
}

// TagLabel is a classification tag applied to an entity or one of its fields.
type TagLabel struct {
	TagFQN string `json:"tagFQN"`
	Source string `json:"source,omitempty"`
}

// Ref builds an EntityReference for the given entity.
func Ref(e Entity) EntityReference {
	h := e.Header()
	return EntityReference{ID: h.ID, Type: e.EntityType(), Name: h.Name}
}

// MarshalEntity serializes an entity to its snapshot JSON.
func MarshalEntity(e Entity) (json.RawMessage, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s entity: %w", e.EntityType(), err)
	}
	return data, nil
}

func copyTags(tags []TagLabel) []TagLabel {
	if tags == nil {
		return nil
	}
	out := make([]TagLabel, len(tags))
	copy(out, tags)
	return out
}

func copyRef(ref *EntityReference) *EntityReference {
	if ref == nil {
		return nil
	}
	clone := *ref
	return &clone
}

func copyRefs(refs []EntityReference) []EntityReference {
	if refs == nil {
		return nil
	}
	out := make([]EntityReference, len(refs))
	copy(out, refs)
	return out
}

// cloneHeader deep-copies the header including the change description.
func cloneHeader(h EntityHeader) EntityHeader {
	h.Owner = copyRef(h.Owner)
	h.Tags = copyTags(h.Tags)
	if h.ChangeDescription != nil {
		cd := h.ChangeDescription.Clone()
		h.ChangeDescription = &cd
	}
	return h
}
