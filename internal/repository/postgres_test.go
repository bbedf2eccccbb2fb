package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rpattn/metacat/internal/domain"
)

func TestStorageErr_UniqueViolationIsConflict(t *testing.T) {
	cause := &pgconn.PgError{
		Code:    "23505",
		Message: `duplicate key value violates unique constraint "entity_type_fqn_idx"`,
	}
	err := storageErr("put entity", cause)
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func TestStorageErr_DeadlineIsTransient(t *testing.T) {
	err := storageErr("put entity", context.DeadlineExceeded)
	if !domain.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestStorageErr_WrapsOtherFailures(t *testing.T) {
	cause := errors.New("relation does not exist")
	err := storageErr("put entity", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
	if domain.IsTransient(err) {
		t.Fatalf("plain failure must not be transient")
	}
	var conflict *domain.ConflictError
	if errors.As(err, &conflict) {
		t.Fatalf("plain failure must not be a conflict")
	}
}
