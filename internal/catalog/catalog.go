package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/metacat/internal/domain"
	"github.com/rpattn/metacat/internal/metrics"
	"github.com/rpattn/metacat/internal/repository"
)

// EventSink receives change events after the originating transaction has
// committed. Implementations must never fail the caller; delivery is
// at-least-once and fire-and-forget.
type EventSink interface {
	Emit(ctx context.Context, event domain.ChangeEvent)
}

// Catalog is the only component with write authority over entity versions
// and change descriptions. Every mutation runs load → prepare → diff →
// classify → persist → emit, with per-entity-id serialization and a single
// transaction around the persisted pieces.
type Catalog struct {
	registry *Registry
	store    repository.Store
	events   EventSink
	locks    *entityLocks
	logger   *slog.Logger
	metrics  *metrics.Recorder
	now      func() time.Time

	txAttempts int
	txBackoff  time.Duration
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithLogger sets the catalog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Catalog) { c.logger = logger }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(c *Catalog) { c.metrics = rec }
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) { c.now = now }
}

// WithTxRetry overrides the bounded retry applied to transient storage
// failures at the transaction boundary.
func WithTxRetry(attempts int, backoff time.Duration) Option {
	return func(c *Catalog) {
		if attempts > 0 {
			c.txAttempts = attempts
		}
		c.txBackoff = backoff
	}
}

// New creates a Catalog over the given store and type registry.
func New(store repository.Store, registry *Registry, events EventSink, opts ...Option) *Catalog {
	c := &Catalog{
		registry:   registry,
		store:      store,
		events:     events,
		locks:      newEntityLocks(),
		logger:     slog.Default(),
		now:        time.Now,
		txAttempts: 3,
		txBackoff:  200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Create registers a new entity. The entity starts at version 0.1 with one
// version record equal to its snapshot.
func (c *Catalog) Create(ctx context.Context, e domain.Entity, updatedBy string) (domain.Entity, error) {
	start := c.now()
	created, err := c.create(ctx, e, updatedBy)
	c.metrics.ObserveOperation(e.EntityType(), "create", start, err)
	return created, err
}

func (c *Catalog) create(ctx context.Context, e domain.Entity, updatedBy string) (domain.Entity, error) {
	hooks, err := c.registry.HooksFor(e.EntityType())
	if err != nil {
		return nil, err
	}

	working := e.Clone()
	if err := hooks.Prepare(working); err != nil {
		return nil, err
	}

	h := working.Header()
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}

	if existing, err := c.store.Entities().GetByFQN(ctx, working.EntityType(), h.FullyQualifiedName); err == nil {
		return nil, &domain.ConflictError{
			Reason: fmt.Sprintf("%s %q already exists as %s", working.EntityType(), h.FullyQualifiedName, existing.ID),
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	h.Version = domain.InitialVersion
	h.UpdatedAt = c.now()
	h.UpdatedBy = updatedBy
	h.Deleted = false
	h.ChangeDescription = nil

	snapshot, err := domain.MarshalEntity(working)
	if err != nil {
		return nil, err
	}

	err = c.runTx(ctx, func(s repository.Store) error {
		if err := s.Entities().Put(ctx, entityRecord(working, snapshot)); err != nil {
			return err
		}
		if err := s.Versions().Put(ctx, versionRecord(working, snapshot)); err != nil {
			return err
		}
		return c.storeRelationships(ctx, s, hooks, working)
	})
	if err != nil {
		return nil, err
	}

	c.emit(ctx, domain.EventEntityCreated, working, snapshot, 0, h.Version, nil)
	return working, nil
}

// Update applies a PUT or PATCH to an existing entity. A diff producing no
// field changes leaves the version untouched, writes nothing and emits no
// event, for every entity type alike.
func (c *Catalog) Update(ctx context.Context, id uuid.UUID, incoming domain.Entity, op Operation, updatedBy string) (domain.Entity, error) {
	start := c.now()
	updated, err := c.update(ctx, id, incoming, op, updatedBy)
	c.metrics.ObserveOperation(incoming.EntityType(), string(op), start, err)
	return updated, err
}

func (c *Catalog) update(ctx context.Context, id uuid.UUID, incoming domain.Entity, op Operation, updatedBy string) (domain.Entity, error) {
	unlock := c.locks.lock(id)
	defer unlock()

	rec, err := c.store.Entities().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Deleted {
		return nil, &domain.ConflictError{Reason: fmt.Sprintf("entity %s is soft-deleted; restore it first", id)}
	}
	if incoming.EntityType() != rec.EntityType {
		return nil, &domain.ValidationError{
			Field:  "entityType",
			Reason: fmt.Sprintf("entity %s is a %s, not a %s", id, rec.EntityType, incoming.EntityType()),
		}
	}

	original, err := c.registry.Decode(rec.EntityType, rec.Snapshot)
	if err != nil {
		return nil, err
	}
	origHeader := original.Header()

	hooks, err := c.registry.HooksFor(rec.EntityType)
	if err != nil {
		return nil, err
	}

	working := incoming.Clone()
	wh := working.Header()
	// Identity fields cannot change through an update.
	wh.ID = id
	wh.Name = origHeader.Name

	if err := hooks.Prepare(working); err != nil {
		return nil, err
	}

	differ := NewDiffer(op)
	if err := c.diffHeader(differ, origHeader, wh); err != nil {
		return nil, err
	}
	if hooks.SpecificDiff != nil {
		if err := hooks.SpecificDiff(differ, original, working); err != nil {
			return nil, err
		}
	}

	if !differ.HasChanges() {
		return original, nil
	}

	cd := differ.Changes(origHeader.Version)
	major := c.registry.PolicyFor(rec.EntityType).IsMajor(differ, cd)
	newVersion := domain.NextVersion(origHeader.Version, major)
	if newVersion <= origHeader.Version {
		return nil, &domain.InvariantError{
			EntityID: id,
			Reason:   fmt.Sprintf("computed version %s does not advance %s", domain.FormatVersion(newVersion), domain.FormatVersion(origHeader.Version)),
		}
	}

	wh.Version = newVersion
	wh.UpdatedAt = c.now()
	wh.UpdatedBy = updatedBy
	wh.Deleted = false
	wh.ChangeDescription = &cd

	snapshot, err := domain.MarshalEntity(working)
	if err != nil {
		return nil, err
	}

	err = c.runTx(ctx, func(s repository.Store) error {
		if err := s.Entities().Put(ctx, entityRecord(working, snapshot)); err != nil {
			return err
		}
		if err := s.Versions().Put(ctx, versionRecord(working, snapshot)); err != nil {
			return err
		}
		return c.storeRelationships(ctx, s, hooks, working)
	})
	if err != nil {
		return nil, err
	}

	c.emit(ctx, domain.EventEntityUpdated, working, snapshot, origHeader.Version, newVersion, &cd)
	return working, nil
}

// Get returns the current state of an entity, soft-deleted or not.
func (c *Catalog) Get(ctx context.Context, id uuid.UUID) (domain.Entity, error) {
	rec, err := c.store.Entities().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.registry.Decode(rec.EntityType, rec.Snapshot)
}

// List returns the current entities of one type, sorted by FQN.
func (c *Catalog) List(ctx context.Context, entityType string, includeDeleted bool) ([]domain.Entity, error) {
	records, err := c.store.Entities().List(ctx, entityType, includeDeleted)
	if err != nil {
		return nil, err
	}
	entities := make([]domain.Entity, len(records))
	for i, rec := range records {
		e, err := c.registry.Decode(rec.EntityType, rec.Snapshot)
		if err != nil {
			return nil, err
		}
		entities[i] = e
	}
	return entities, nil
}

// GetVersion returns the snapshot of an entity at a specific version.
func (c *Catalog) GetVersion(ctx context.Context, id uuid.UUID, version float64) (domain.Entity, error) {
	rec, err := c.store.Versions().Get(ctx, id, domain.RoundVersion(version))
	if err != nil {
		return nil, err
	}
	return c.registry.Decode(rec.EntityType, rec.Snapshot)
}

// ListVersions returns every recorded version of the entity, newest first.
func (c *Catalog) ListVersions(ctx context.Context, id uuid.UUID) ([]domain.Entity, error) {
	records, err := c.store.Versions().List(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("entity %s: %w", id, domain.ErrNotFound)
	}

	// The newest record must be the entity's current version; anything else
	// means the history is corrupt.
	if rec, err := c.store.Entities().Get(ctx, id); err == nil {
		if domain.RoundVersion(rec.Version) != domain.RoundVersion(records[0].Version) {
			return nil, &domain.InvariantError{
				EntityID: id,
				Reason: fmt.Sprintf("current version %s has no matching head snapshot (newest is %s)",
					domain.FormatVersion(rec.Version), domain.FormatVersion(records[0].Version)),
			}
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	entities := make([]domain.Entity, len(records))
	for i, vr := range records {
		e, err := c.registry.Decode(vr.EntityType, vr.Snapshot)
		if err != nil {
			return nil, err
		}
		entities[i] = e
	}
	return entities, nil
}

// Delete removes an entity. A soft delete is a recorded update flipping the
// deleted flag; a hard delete purges the entity, its version history and its
// relationship edges.
func (c *Catalog) Delete(ctx context.Context, id uuid.UUID, hard bool, updatedBy string) error {
	unlock := c.locks.lock(id)
	defer unlock()

	rec, err := c.store.Entities().Get(ctx, id)
	if err != nil {
		return err
	}

	start := c.now()
	if hard {
		err = c.hardDelete(ctx, rec)
		c.metrics.ObserveOperation(rec.EntityType, "hardDelete", start, err)
		return err
	}
	err = c.softDelete(ctx, rec, updatedBy)
	c.metrics.ObserveOperation(rec.EntityType, "softDelete", start, err)
	return err
}

func (c *Catalog) hardDelete(ctx context.Context, rec repository.EntityRecord) error {
	err := c.runTx(ctx, func(s repository.Store) error {
		if err := s.Entities().Delete(ctx, rec.ID); err != nil {
			return err
		}
		if err := s.Versions().DeleteAll(ctx, rec.ID); err != nil {
			return err
		}
		return s.Relationships().DeleteAll(ctx, rec.ID)
	})
	if err != nil {
		return err
	}

	e, decodeErr := c.registry.Decode(rec.EntityType, rec.Snapshot)
	if decodeErr != nil {
		c.logger.Error("hard-deleted entity snapshot undecodable", "entity", rec.ID, "error", decodeErr)
		return nil
	}
	c.emit(ctx, domain.EventEntityHardDeleted, e, rec.Snapshot, rec.Version, rec.Version, nil)
	return nil
}

func (c *Catalog) softDelete(ctx context.Context, rec repository.EntityRecord, updatedBy string) error {
	if rec.Deleted {
		return nil
	}
	_, err := c.flipDeleted(ctx, rec, true, updatedBy, domain.EventEntitySoftDeleted)
	return err
}

// Restore brings a soft-deleted entity back, recorded as an update with a
// dedicated deleted-flag change.
func (c *Catalog) Restore(ctx context.Context, id uuid.UUID, updatedBy string) (domain.Entity, error) {
	unlock := c.locks.lock(id)
	defer unlock()

	rec, err := c.store.Entities().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.Deleted {
		return c.registry.Decode(rec.EntityType, rec.Snapshot)
	}
	return c.flipDeleted(ctx, rec, false, updatedBy, domain.EventEntityRestored)
}

// flipDeleted records the deleted-flag transition as a minor versioned
// update. Caller holds the entity lock.
func (c *Catalog) flipDeleted(ctx context.Context, rec repository.EntityRecord, deleted bool, updatedBy string, eventType domain.EventType) (domain.Entity, error) {
	original, err := c.registry.Decode(rec.EntityType, rec.Snapshot)
	if err != nil {
		return nil, err
	}

	working := original.Clone()
	wh := working.Header()

	differ := NewDiffer(OperationPatch)
	if _, err := differ.RecordChange("deleted", !deleted, deleted); err != nil {
		return nil, err
	}
	cd := differ.Changes(wh.Version)

	wh.Deleted = deleted
	wh.Version = domain.NextVersion(wh.Version, false)
	wh.UpdatedAt = c.now()
	wh.UpdatedBy = updatedBy
	wh.ChangeDescription = &cd

	snapshot, err := domain.MarshalEntity(working)
	if err != nil {
		return nil, err
	}

	err = c.runTx(ctx, func(s repository.Store) error {
		if err := s.Entities().Put(ctx, entityRecord(working, snapshot)); err != nil {
			return err
		}
		return s.Versions().Put(ctx, versionRecord(working, snapshot))
	})
	if err != nil {
		return nil, err
	}

	c.emit(ctx, eventType, working, snapshot, cd.PreviousVersion, wh.Version, &cd)
	return working, nil
}

// diffHeader records changes to the fields shared by all entity types.
func (c *Catalog) diffHeader(d *Differ, orig, upd *domain.EntityHeader) error {
	if _, err := d.RecordChange("displayName", strOrNil(orig.DisplayName), strOrNil(upd.DisplayName)); err != nil {
		return err
	}
	if _, err := d.RecordDescription("description", orig.Description, &upd.Description); err != nil {
		return err
	}
	if !sameRef(orig.Owner, upd.Owner) {
		if _, err := d.RecordChange("owner", orig.Owner, upd.Owner); err != nil {
			return err
		}
	}
	return diffTags(d, "tags", orig.Tags, upd.Tags)
}

// storeRelationships maintains the owner edge plus the type's own edges,
// inside the caller's transaction.
func (c *Catalog) storeRelationships(ctx context.Context, s repository.Store, hooks Hooks, e domain.Entity) error {
	h := e.Header()
	rels := s.Relationships()
	if err := rels.DeleteTo(ctx, h.ID, e.EntityType(), domain.RelationOwns); err != nil {
		return err
	}
	if h.Owner != nil {
		err := rels.Add(ctx, domain.Relationship{
			FromID:   h.Owner.ID,
			FromType: h.Owner.Type,
			ToID:     h.ID,
			ToType:   e.EntityType(),
			Relation: domain.RelationOwns,
		})
		if err != nil {
			return err
		}
	}
	if hooks.Relationships != nil {
		return hooks.Relationships(ctx, rels, e)
	}
	return nil
}

// runTx executes fn inside one transaction, retrying bounded times when the
// failure is a transient storage error.
func (c *Catalog) runTx(ctx context.Context, fn func(repository.Store) error) error {
	var err error
	for attempt := 0; attempt < c.txAttempts; attempt++ {
		err = c.store.WithTx(ctx, fn)
		if err == nil || !domain.IsTransient(err) {
			return err
		}
		if attempt < c.txAttempts-1 {
			c.logger.Warn("retrying transaction after transient storage error",
				"attempt", attempt+1, "error", err)
			select {
			case <-time.After(c.txBackoff << attempt):
			case <-ctx.Done():
				return fmt.Errorf("transaction cancelled: %w", ctx.Err())
			}
		}
	}
	return err
}

func (c *Catalog) emit(ctx context.Context, eventType domain.EventType, e domain.Entity, snapshot json.RawMessage, previous, current float64, cd *domain.ChangeDescription) {
	if c.events == nil {
		return
	}
	h := e.Header()
	var cdCopy *domain.ChangeDescription
	if cd != nil {
		clone := cd.Clone()
		cdCopy = &clone
	}
	c.events.Emit(ctx, domain.ChangeEvent{
		ID:                uuid.New(),
		EventType:         eventType,
		EntityType:        e.EntityType(),
		EntityID:          h.ID,
		EntityFQN:         h.FullyQualifiedName,
		PreviousVersion:   previous,
		CurrentVersion:    current,
		UserName:          h.UpdatedBy,
		Timestamp:         c.now(),
		ChangeDescription: cdCopy,
		Entity:            snapshot,
	})
	c.metrics.EventEmitted(string(eventType))
}

func entityRecord(e domain.Entity, snapshot json.RawMessage) repository.EntityRecord {
	h := e.Header()
	return repository.EntityRecord{
		ID:         h.ID,
		EntityType: e.EntityType(),
		FQN:        h.FullyQualifiedName,
		Version:    h.Version,
		Deleted:    h.Deleted,
		UpdatedAt:  h.UpdatedAt,
		UpdatedBy:  h.UpdatedBy,
		Snapshot:   snapshot,
	}
}

func versionRecord(e domain.Entity, snapshot json.RawMessage) domain.VersionRecord {
	h := e.Header()
	return domain.VersionRecord{
		EntityID:   h.ID,
		EntityType: e.EntityType(),
		Version:    domain.RoundVersion(h.Version),
		Snapshot:   snapshot,
		UpdatedAt:  h.UpdatedAt,
	}
}
