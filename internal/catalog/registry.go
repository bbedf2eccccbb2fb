package catalog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rpattn/metacat/internal/domain"
	"github.com/rpattn/metacat/internal/repository"
)

// Hooks bundles the per-type extension points of the updater. Each entity
// type registers a small set of pure functions instead of subclassing.
type Hooks struct {
	// Prepare validates the incoming entity and derives computed fields
	// (fully-qualified name, column FQN ordering). It runs before any diff or
	// write; a failure aborts the operation with zero side effects.
	Prepare func(e domain.Entity) error
	// SpecificDiff records the type's own field changes (columns, tasks,
	// hyperparameters) on top of the common header diff.
	SpecificDiff func(d *Differ, original, updated domain.Entity) error
	// Relationships maintains the type's relationship edges. Called inside
	// the update transaction.
	Relationships func(ctx context.Context, rels repository.RelationshipStore, e domain.Entity) error
}

// Registry maps entity-type tags to factories, hooks and version policies.
// It is an explicit dependency of the Catalog, not package-level state.
type Registry struct {
	factories map[string]func() domain.Entity
	hooks     map[string]Hooks
	policies  map[string]Policy
}

// NewRegistry returns a registry with the built-in entity types registered.
func NewRegistry() *Registry {
	r := &Registry{
		factories: map[string]func() domain.Entity{
			domain.EntityTypeTable:     func() domain.Entity { return &domain.Table{} },
			domain.EntityTypeDashboard: func() domain.Entity { return &domain.Dashboard{} },
			domain.EntityTypeTopic:     func() domain.Entity { return &domain.Topic{} },
			domain.EntityTypePipeline:  func() domain.Entity { return &domain.Pipeline{} },
			domain.EntityTypeMlModel:   func() domain.Entity { return &domain.MlModel{} },
		},
		hooks: map[string]Hooks{
			domain.EntityTypeTable:     tableHooks(),
			domain.EntityTypeDashboard: dashboardHooks(),
			domain.EntityTypeTopic:     topicHooks(),
			domain.EntityTypePipeline:  pipelineHooks(),
			domain.EntityTypeMlModel:   mlModelHooks(),
		},
		policies: defaultPolicies(),
	}
	return r
}

// Register adds or replaces an entity type. Intended for tests and plugins.
func (r *Registry) Register(entityType string, factory func() domain.Entity, hooks Hooks, policy Policy) {
	r.factories[entityType] = factory
	r.hooks[entityType] = hooks
	r.policies[entityType] = policy
}

// Decode unmarshals a snapshot into a fresh entity of the given type.
func (r *Registry) Decode(entityType string, snapshot json.RawMessage) (domain.Entity, error) {
	factory, ok := r.factories[entityType]
	if !ok {
		return nil, fmt.Errorf("unknown entity type %q", entityType)
	}
	e := factory()
	if err := json.Unmarshal(snapshot, e); err != nil {
		return nil, fmt.Errorf("failed to decode %s snapshot: %w", entityType, err)
	}
	return e, nil
}

// HooksFor returns the hooks registered for the type.
func (r *Registry) HooksFor(entityType string) (Hooks, error) {
	h, ok := r.hooks[entityType]
	if !ok {
		return Hooks{}, fmt.Errorf("unknown entity type %q", entityType)
	}
	return h, nil
}

// PolicyFor returns the version policy for the type. Unregistered types get
// an empty (all-minor) policy.
func (r *Registry) PolicyFor(entityType string) Policy {
	return r.policies[entityType]
}
