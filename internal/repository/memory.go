package repository

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/metacat/internal/domain"
)

// MemoryStore is an in-memory Store used by tests and local development.
// Transactions operate on a copy of the whole dataset and swap it in on
// success, so a failing callback leaves no partial state behind.
type MemoryStore struct {
	mu      sync.Mutex
	data    *memData
	putErrs []error
}

type memData struct {
	entities map[uuid.UUID]EntityRecord
	versions map[uuid.UUID]map[string]domain.VersionRecord
	rels     []domain.Relationship
	events   []domain.ChangeEvent
}

func newMemData() *memData {
	return &memData{
		entities: make(map[uuid.UUID]EntityRecord),
		versions: make(map[uuid.UUID]map[string]domain.VersionRecord),
	}
}

func (d *memData) clone() *memData {
	out := newMemData()
	for id, rec := range d.entities {
		rec.Snapshot = bytes.Clone(rec.Snapshot)
		out.entities[id] = rec
	}
	for id, byVersion := range d.versions {
		m := make(map[string]domain.VersionRecord, len(byVersion))
		for v, rec := range byVersion {
			rec.Snapshot = bytes.Clone(rec.Snapshot)
			m[v] = rec
		}
		out.versions[id] = m
	}
	out.rels = append([]domain.Relationship(nil), d.rels...)
	out.events = append([]domain.ChangeEvent(nil), d.events...)
	return out
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemData()}
}

// FailNextPut queues an error to be returned by the next entity Put. Used by
// tests to exercise transaction retry and rollback.
func (m *MemoryStore) FailNextPut(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putErrs = append(m.putErrs, err)
}

func (m *MemoryStore) takePutErr() error {
	if len(m.putErrs) == 0 {
		return nil
	}
	err := m.putErrs[0]
	m.putErrs = m.putErrs[1:]
	return err
}

func (m *MemoryStore) Entities() EntityStore { return &memEntities{root: m} }

func (m *MemoryStore) Versions() VersionStore { return &memVersions{root: m} }

func (m *MemoryStore) Relationships() RelationshipStore { return &memRelationships{root: m} }

func (m *MemoryStore) Events() ChangeEventStore { return &memEvents{root: m} }

// WithTx runs fn on a copy of the dataset, committing the copy only when fn
// succeeds.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{root: m, data: m.data.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	m.data = tx.data
	return nil
}

// memTx is a transaction-scoped Store. The root mutex is already held.
type memTx struct {
	root *MemoryStore
	data *memData
}

func (t *memTx) Entities() EntityStore { return &memEntities{root: t.root, tx: t.data} }

func (t *memTx) Versions() VersionStore { return &memVersions{tx: t.data} }

func (t *memTx) Relationships() RelationshipStore { return &memRelationships{tx: t.data} }

func (t *memTx) Events() ChangeEventStore { return &memEvents{tx: t.data} }

func (t *memTx) WithTx(ctx context.Context, fn func(Store) error) error {
	return fn(t)
}

type memEntities struct {
	root *MemoryStore
	tx   *memData
}

func (e *memEntities) run(fn func(d *memData) error) error {
	if e.tx != nil {
		if e.root != nil {
			if err := e.root.takePutErr(); err != nil {
				return err
			}
		}
		return fn(e.tx)
	}
	e.root.mu.Lock()
	defer e.root.mu.Unlock()
	return fn(e.root.data)
}

func (e *memEntities) view(fn func(d *memData) error) error {
	if e.tx != nil {
		return fn(e.tx)
	}
	e.root.mu.Lock()
	defer e.root.mu.Unlock()
	return fn(e.root.data)
}

func (e *memEntities) Put(ctx context.Context, rec EntityRecord) error {
	return e.run(func(d *memData) error {
		// Mirror the database's unique index on (entity_type, fqn).
		for id, existing := range d.entities {
			if id != rec.ID && existing.EntityType == rec.EntityType && existing.FQN == rec.FQN {
				return &domain.ConflictError{Reason: fmt.Sprintf("%s %q already exists", rec.EntityType, rec.FQN)}
			}
		}
		rec.Snapshot = bytes.Clone(rec.Snapshot)
		d.entities[rec.ID] = rec
		return nil
	})
}

func (e *memEntities) Get(ctx context.Context, id uuid.UUID) (EntityRecord, error) {
	var rec EntityRecord
	err := e.view(func(d *memData) error {
		stored, ok := d.entities[id]
		if !ok {
			return domain.ErrNotFound
		}
		stored.Snapshot = bytes.Clone(stored.Snapshot)
		rec = stored
		return nil
	})
	return rec, err
}

func (e *memEntities) GetByFQN(ctx context.Context, entityType, fqn string) (EntityRecord, error) {
	var rec EntityRecord
	err := e.view(func(d *memData) error {
		for _, stored := range d.entities {
			if stored.EntityType == entityType && stored.FQN == fqn {
				stored.Snapshot = bytes.Clone(stored.Snapshot)
				rec = stored
				return nil
			}
		}
		return domain.ErrNotFound
	})
	return rec, err
}

func (e *memEntities) List(ctx context.Context, entityType string, includeDeleted bool) ([]EntityRecord, error) {
	var records []EntityRecord
	err := e.view(func(d *memData) error {
		for _, stored := range d.entities {
			if stored.EntityType != entityType {
				continue
			}
			if stored.Deleted && !includeDeleted {
				continue
			}
			stored.Snapshot = bytes.Clone(stored.Snapshot)
			records = append(records, stored)
		}
		sort.Slice(records, func(i, j int) bool { return records[i].FQN < records[j].FQN })
		return nil
	})
	return records, err
}

func (e *memEntities) Delete(ctx context.Context, id uuid.UUID) error {
	return e.run(func(d *memData) error {
		if _, ok := d.entities[id]; !ok {
			return domain.ErrNotFound
		}
		delete(d.entities, id)
		return nil
	})
}

type memVersions struct {
	root *MemoryStore
	tx   *memData
}

func (v *memVersions) with(fn func(d *memData) error) error {
	if v.tx != nil {
		return fn(v.tx)
	}
	v.root.mu.Lock()
	defer v.root.mu.Unlock()
	return fn(v.root.data)
}

func (v *memVersions) Put(ctx context.Context, rec domain.VersionRecord) error {
	return v.with(func(d *memData) error {
		byVersion, ok := d.versions[rec.EntityID]
		if !ok {
			byVersion = make(map[string]domain.VersionRecord)
			d.versions[rec.EntityID] = byVersion
		}
		rec.Snapshot = bytes.Clone(rec.Snapshot)
		byVersion[domain.FormatVersion(rec.Version)] = rec
		return nil
	})
}

func (v *memVersions) Get(ctx context.Context, entityID uuid.UUID, version float64) (domain.VersionRecord, error) {
	var rec domain.VersionRecord
	err := v.with(func(d *memData) error {
		stored, ok := d.versions[entityID][domain.FormatVersion(version)]
		if !ok {
			return domain.ErrNotFound
		}
		stored.Snapshot = bytes.Clone(stored.Snapshot)
		rec = stored
		return nil
	})
	return rec, err
}

func (v *memVersions) List(ctx context.Context, entityID uuid.UUID) ([]domain.VersionRecord, error) {
	var records []domain.VersionRecord
	err := v.with(func(d *memData) error {
		for _, stored := range d.versions[entityID] {
			stored.Snapshot = bytes.Clone(stored.Snapshot)
			records = append(records, stored)
		}
		sort.Slice(records, func(i, j int) bool { return records[i].Version > records[j].Version })
		return nil
	})
	return records, err
}

func (v *memVersions) DeleteAll(ctx context.Context, entityID uuid.UUID) error {
	return v.with(func(d *memData) error {
		delete(d.versions, entityID)
		return nil
	})
}

type memRelationships struct {
	root *MemoryStore
	tx   *memData
}

func (r *memRelationships) with(fn func(d *memData) error) error {
	if r.tx != nil {
		return fn(r.tx)
	}
	r.root.mu.Lock()
	defer r.root.mu.Unlock()
	return fn(r.root.data)
}

func (r *memRelationships) Add(ctx context.Context, rel domain.Relationship) error {
	return r.with(func(d *memData) error {
		for _, existing := range d.rels {
			if existing.FromID == rel.FromID && existing.ToID == rel.ToID && existing.Relation == rel.Relation {
				return nil
			}
		}
		d.rels = append(d.rels, rel)
		return nil
	})
}

func (r *memRelationships) DeleteFrom(ctx context.Context, fromID uuid.UUID, fromType string, relation domain.Relation, toType string) error {
	return r.with(func(d *memData) error {
		d.rels = filterRels(d.rels, func(rel domain.Relationship) bool {
			return rel.FromID == fromID && rel.FromType == fromType && rel.Relation == relation && rel.ToType == toType
		})
		return nil
	})
}

func (r *memRelationships) DeleteTo(ctx context.Context, toID uuid.UUID, toType string, relation domain.Relation) error {
	return r.with(func(d *memData) error {
		d.rels = filterRels(d.rels, func(rel domain.Relationship) bool {
			return rel.ToID == toID && rel.ToType == toType && rel.Relation == relation
		})
		return nil
	})
}

func (r *memRelationships) DeleteAll(ctx context.Context, id uuid.UUID) error {
	return r.with(func(d *memData) error {
		d.rels = filterRels(d.rels, func(rel domain.Relationship) bool {
			return rel.FromID == id || rel.ToID == id
		})
		return nil
	})
}

func (r *memRelationships) FindTo(ctx context.Context, fromID uuid.UUID, fromType string, relation domain.Relation) ([]domain.Relationship, error) {
	var rels []domain.Relationship
	err := r.with(func(d *memData) error {
		for _, rel := range d.rels {
			if rel.FromID == fromID && rel.FromType == fromType && rel.Relation == relation {
				rels = append(rels, rel)
			}
		}
		return nil
	})
	return rels, err
}

// filterRels removes edges matching drop.
func filterRels(rels []domain.Relationship, drop func(domain.Relationship) bool) []domain.Relationship {
	out := rels[:0]
	for _, rel := range rels {
		if !drop(rel) {
			out = append(out, rel)
		}
	}
	return out
}

type memEvents struct {
	root *MemoryStore
	tx   *memData
}

func (e *memEvents) with(fn func(d *memData) error) error {
	if e.tx != nil {
		return fn(e.tx)
	}
	e.root.mu.Lock()
	defer e.root.mu.Unlock()
	return fn(e.root.data)
}

func (e *memEvents) Append(ctx context.Context, event domain.ChangeEvent) error {
	return e.with(func(d *memData) error {
		for _, existing := range d.events {
			if existing.ID == event.ID {
				return nil
			}
		}
		d.events = append(d.events, event)
		return nil
	})
}

func (e *memEvents) List(ctx context.Context, since time.Time, limit int) ([]domain.ChangeEvent, error) {
	var events []domain.ChangeEvent
	err := e.with(func(d *memData) error {
		for _, event := range d.events {
			if event.Timestamp.Before(since) {
				continue
			}
			events = append(events, event)
			if limit > 0 && len(events) == limit {
				break
			}
		}
		return nil
	})
	return events, err
}
