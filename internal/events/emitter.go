// Package events records committed change events and fans them out to
// external consumers. Emission is fire-and-forget: failures here never fail
// the update that produced the event.
package events

import (
	"context"
	"log/slog"

	"github.com/rpattn/metacat/internal/domain"
	"github.com/rpattn/metacat/internal/repository"
)

// Emitter appends change events to the event store and forwards them to the
// webhook notifier.
type Emitter struct {
	store    repository.ChangeEventStore
	notifier *WebhookNotifier
	logger   *slog.Logger
}

// NewEmitter creates an Emitter. Both store and notifier may be nil; a nil
// piece is skipped.
func NewEmitter(store repository.ChangeEventStore, notifier *WebhookNotifier, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{store: store, notifier: notifier, logger: logger}
}

// Emit persists the event and dispatches it to webhooks. Errors are logged
// and swallowed; the originating update has already committed.
func (e *Emitter) Emit(ctx context.Context, event domain.ChangeEvent) {
	if e == nil {
		return
	}
	if e.store != nil {
		if err := e.store.Append(ctx, event); err != nil {
			e.logger.Error("failed to append change event",
				"event", event.ID, "entity", event.EntityID, "error", err)
		}
	}
	e.notifier.Notify(event)
}
