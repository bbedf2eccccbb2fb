package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rpattn/metacat/internal/db"
	"github.com/rpattn/metacat/internal/domain"
)

// postgresStore implements Store over a pgx Querier. The same implementation
// serves both the pool and an open transaction; WithTx swaps the Querier.
type postgresStore struct {
	conn *db.Connection
	q    db.Querier
}

// NewPostgresStore creates a Store backed by the given connection.
func NewPostgresStore(conn *db.Connection) Store {
	return &postgresStore{conn: conn, q: conn.Pool}
}

func (s *postgresStore) Entities() EntityStore { return &entityStore{q: s.q} }

func (s *postgresStore) Versions() VersionStore { return &versionStore{q: s.q} }

func (s *postgresStore) Relationships() RelationshipStore { return &relationshipStore{q: s.q} }

func (s *postgresStore) Events() ChangeEventStore { return &changeEventStore{q: s.q} }

// WithTx runs fn against a Store whose queries share one transaction.
func (s *postgresStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if s.conn == nil {
		// Already inside a transaction; nesting reuses it.
		return fn(s)
	}
	return s.conn.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(&postgresStore{q: tx})
	})
}

// storageErr wraps a query failure, marking retryable ones as transient and
// surfacing unique-index violations as conflicts. The latter covers two
// creates racing past the FQN pre-check; the entity_type_fqn_idx index is the
// arbiter.
func storageErr(op string, err error) error {
	if pgconn.SafeToRetry(err) || errors.Is(err, context.DeadlineExceeded) {
		return &domain.TransientStorageError{Op: op, Err: err}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return &domain.ConflictError{Reason: pgErr.Message}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

type entityStore struct {
	q db.Querier
}

func (s *entityStore) Put(ctx context.Context, rec EntityRecord) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO entity (id, entity_type, fqn, version, deleted, updated_at, updated_by, snapshot)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			fqn = EXCLUDED.fqn,
			version = EXCLUDED.version,
			deleted = EXCLUDED.deleted,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by,
			snapshot = EXCLUDED.snapshot`,
		rec.ID, rec.EntityType, rec.FQN, rec.Version, rec.Deleted, rec.UpdatedAt, rec.UpdatedBy, []byte(rec.Snapshot),
	)
	if err != nil {
		return storageErr("put entity", err)
	}
	return nil
}

func (s *entityStore) Get(ctx context.Context, id uuid.UUID) (EntityRecord, error) {
	row := s.q.QueryRow(ctx, `
		SELECT id, entity_type, fqn, version, deleted, updated_at, updated_by, snapshot
		FROM entity WHERE id = $1`, id)
	return scanEntityRecord(row, "get entity")
}

func (s *entityStore) GetByFQN(ctx context.Context, entityType, fqn string) (EntityRecord, error) {
	row := s.q.QueryRow(ctx, `
		SELECT id, entity_type, fqn, version, deleted, updated_at, updated_by, snapshot
		FROM entity WHERE entity_type = $1 AND fqn = $2`, entityType, fqn)
	return scanEntityRecord(row, "get entity by fqn")
}

func (s *entityStore) List(ctx context.Context, entityType string, includeDeleted bool) ([]EntityRecord, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, entity_type, fqn, version, deleted, updated_at, updated_by, snapshot
		FROM entity WHERE entity_type = $1 AND (deleted = FALSE OR $2) ORDER BY fqn`,
		entityType, includeDeleted)
	if err != nil {
		return nil, storageErr("list entities", err)
	}
	defer rows.Close()

	var records []EntityRecord
	for rows.Next() {
		var rec EntityRecord
		var snapshot []byte
		if err := rows.Scan(&rec.ID, &rec.EntityType, &rec.FQN, &rec.Version, &rec.Deleted,
			&rec.UpdatedAt, &rec.UpdatedBy, &snapshot); err != nil {
			return nil, fmt.Errorf("failed to scan entity row: %w", err)
		}
		rec.Snapshot = snapshot
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list entities", err)
	}
	return records, nil
}

func (s *entityStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM entity WHERE id = $1`, id)
	if err != nil {
		return storageErr("delete entity", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("entity %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func scanEntityRecord(row pgx.Row, op string) (EntityRecord, error) {
	var rec EntityRecord
	var snapshot []byte
	err := row.Scan(&rec.ID, &rec.EntityType, &rec.FQN, &rec.Version, &rec.Deleted,
		&rec.UpdatedAt, &rec.UpdatedBy, &snapshot)
	if errors.Is(err, pgx.ErrNoRows) {
		return EntityRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return EntityRecord{}, storageErr(op, err)
	}
	rec.Snapshot = snapshot
	return rec, nil
}

type versionStore struct {
	q db.Querier
}

func (s *versionStore) Put(ctx context.Context, rec domain.VersionRecord) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO entity_version (entity_id, entity_type, version, snapshot, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (entity_id, version) DO UPDATE SET
			snapshot = EXCLUDED.snapshot,
			updated_at = EXCLUDED.updated_at`,
		rec.EntityID, rec.EntityType, rec.Version, []byte(rec.Snapshot), rec.UpdatedAt,
	)
	if err != nil {
		return storageErr("put entity version", err)
	}
	return nil
}

func (s *versionStore) Get(ctx context.Context, entityID uuid.UUID, version float64) (domain.VersionRecord, error) {
	row := s.q.QueryRow(ctx, `
		SELECT entity_id, entity_type, version, snapshot, updated_at
		FROM entity_version WHERE entity_id = $1 AND version = $2`,
		entityID, domain.RoundVersion(version))

	var rec domain.VersionRecord
	var snapshot []byte
	err := row.Scan(&rec.EntityID, &rec.EntityType, &rec.Version, &snapshot, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.VersionRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.VersionRecord{}, storageErr("get entity version", err)
	}
	rec.Snapshot = snapshot
	return rec, nil
}

func (s *versionStore) List(ctx context.Context, entityID uuid.UUID) ([]domain.VersionRecord, error) {
	rows, err := s.q.Query(ctx, `
		SELECT entity_id, entity_type, version, snapshot, updated_at
		FROM entity_version WHERE entity_id = $1 ORDER BY version DESC`, entityID)
	if err != nil {
		return nil, storageErr("list entity versions", err)
	}
	defer rows.Close()

	var records []domain.VersionRecord
	for rows.Next() {
		var rec domain.VersionRecord
		var snapshot []byte
		if err := rows.Scan(&rec.EntityID, &rec.EntityType, &rec.Version, &snapshot, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan version row: %w", err)
		}
		rec.Snapshot = snapshot
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list entity versions", err)
	}
	return records, nil
}

func (s *versionStore) DeleteAll(ctx context.Context, entityID uuid.UUID) error {
	if _, err := s.q.Exec(ctx, `DELETE FROM entity_version WHERE entity_id = $1`, entityID); err != nil {
		return storageErr("delete entity versions", err)
	}
	return nil
}

type relationshipStore struct {
	q db.Querier
}

func (s *relationshipStore) Add(ctx context.Context, rel domain.Relationship) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO entity_relationship (from_id, from_type, to_id, to_type, relation)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (from_id, to_id, relation) DO NOTHING`,
		rel.FromID, rel.FromType, rel.ToID, rel.ToType, rel.Relation,
	)
	if err != nil {
		return storageErr("add relationship", err)
	}
	return nil
}

func (s *relationshipStore) DeleteFrom(ctx context.Context, fromID uuid.UUID, fromType string, relation domain.Relation, toType string) error {
	_, err := s.q.Exec(ctx, `
		DELETE FROM entity_relationship
		WHERE from_id = $1 AND from_type = $2 AND relation = $3 AND to_type = $4`,
		fromID, fromType, relation, toType,
	)
	if err != nil {
		return storageErr("delete relationships from", err)
	}
	return nil
}

func (s *relationshipStore) DeleteTo(ctx context.Context, toID uuid.UUID, toType string, relation domain.Relation) error {
	_, err := s.q.Exec(ctx, `
		DELETE FROM entity_relationship
		WHERE to_id = $1 AND to_type = $2 AND relation = $3`,
		toID, toType, relation,
	)
	if err != nil {
		return storageErr("delete relationships to", err)
	}
	return nil
}

func (s *relationshipStore) DeleteAll(ctx context.Context, id uuid.UUID) error {
	_, err := s.q.Exec(ctx, `
		DELETE FROM entity_relationship WHERE from_id = $1 OR to_id = $1`, id)
	if err != nil {
		return storageErr("delete relationships", err)
	}
	return nil
}

func (s *relationshipStore) FindTo(ctx context.Context, fromID uuid.UUID, fromType string, relation domain.Relation) ([]domain.Relationship, error) {
	rows, err := s.q.Query(ctx, `
		SELECT from_id, from_type, to_id, to_type, relation
		FROM entity_relationship
		WHERE from_id = $1 AND from_type = $2 AND relation = $3`,
		fromID, fromType, relation,
	)
	if err != nil {
		return nil, storageErr("find relationships", err)
	}
	defer rows.Close()

	var rels []domain.Relationship
	for rows.Next() {
		var rel domain.Relationship
		if err := rows.Scan(&rel.FromID, &rel.FromType, &rel.ToID, &rel.ToType, &rel.Relation); err != nil {
			return nil, fmt.Errorf("failed to scan relationship row: %w", err)
		}
		rels = append(rels, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("find relationships", err)
	}
	return rels, nil
}

type changeEventStore struct {
	q db.Querier
}

func marshalChangeDescription(cd *domain.ChangeDescription) ([]byte, error) {
	data, err := json.Marshal(cd)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal change description: %w", err)
	}
	return data, nil
}

func unmarshalChangeDescription(data []byte) (*domain.ChangeDescription, error) {
	var cd domain.ChangeDescription
	if err := json.Unmarshal(data, &cd); err != nil {
		return nil, fmt.Errorf("failed to unmarshal change description: %w", err)
	}
	return &cd, nil
}

func (s *changeEventStore) Append(ctx context.Context, event domain.ChangeEvent) error {
	var cd []byte
	if event.ChangeDescription != nil {
		encoded, err := marshalChangeDescription(event.ChangeDescription)
		if err != nil {
			return err
		}
		cd = encoded
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO change_event (id, event_type, entity_type, entity_id, entity_fqn,
			previous_version, current_version, user_name, event_time, change_description, entity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`,
		event.ID, event.EventType, event.EntityType, event.EntityID, event.EntityFQN,
		event.PreviousVersion, event.CurrentVersion, event.UserName, event.Timestamp,
		cd, []byte(event.Entity),
	)
	if err != nil {
		return storageErr("append change event", err)
	}
	return nil
}

func (s *changeEventStore) List(ctx context.Context, since time.Time, limit int) ([]domain.ChangeEvent, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, event_type, entity_type, entity_id, entity_fqn,
			previous_version, current_version, user_name, event_time, change_description, entity
		FROM change_event WHERE event_time >= $1 ORDER BY event_time ASC LIMIT $2`,
		since, limit,
	)
	if err != nil {
		return nil, storageErr("list change events", err)
	}
	defer rows.Close()

	var events []domain.ChangeEvent
	for rows.Next() {
		var event domain.ChangeEvent
		var cd, entity []byte
		if err := rows.Scan(&event.ID, &event.EventType, &event.EntityType, &event.EntityID, &event.EntityFQN,
			&event.PreviousVersion, &event.CurrentVersion, &event.UserName, &event.Timestamp, &cd, &entity); err != nil {
			return nil, fmt.Errorf("failed to scan change event row: %w", err)
		}
		if len(cd) > 0 {
			decoded, err := unmarshalChangeDescription(cd)
			if err != nil {
				return nil, err
			}
			event.ChangeDescription = decoded
		}
		event.Entity = entity
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list change events", err)
	}
	return events, nil
}
