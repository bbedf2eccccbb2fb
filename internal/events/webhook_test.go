package events

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/metacat/internal/domain"
)

func testEvent() domain.ChangeEvent {
	return domain.ChangeEvent{
		ID:              uuid.New(),
		EventType:       domain.EventEntityUpdated,
		EntityType:      domain.EntityTypeTable,
		EntityID:        uuid.New(),
		EntityFQN:       "mysql.shop.users",
		PreviousVersion: 0.1,
		CurrentVersion:  0.2,
		UserName:        "alice",
		Timestamp:       time.Now().UTC(),
	}
}

func TestWebhookNotifier_DeliversEvent(t *testing.T) {
	received := make(chan domain.ChangeEvent, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var event domain.ChangeEvent
		require.NoError(t, json.Unmarshal(body, &event))
		received <- event
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wn := NewWebhookNotifier(&WebhookConfig{URLs: []string{srv.URL}}, slog.Default(), nil)
	require.NotNil(t, wn)

	sent := testEvent()
	wn.Notify(sent)

	select {
	case got := <-received:
		require.Equal(t, sent.ID, got.ID)
		require.Equal(t, sent.EventType, got.EventType)
		require.Equal(t, sent.CurrentVersion, got.CurrentVersion)
	case <-time.After(5 * time.Second):
		t.Fatal("webhook was not delivered")
	}
}

func TestWebhookNotifier_RetriesServerErrors(t *testing.T) {
	var attempts int
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		close(done)
	}))
	defer srv.Close()

	wn := NewWebhookNotifier(&WebhookConfig{URLs: []string{srv.URL}}, slog.Default(), nil)
	wn.Notify(testEvent())

	select {
	case <-done:
		require.Equal(t, 2, attempts)
	case <-time.After(10 * time.Second):
		t.Fatal("webhook retry did not happen")
	}
}

func TestWebhookNotifier_NoURLsMeansNil(t *testing.T) {
	wn := NewWebhookNotifier(&WebhookConfig{}, slog.Default(), nil)
	require.Nil(t, wn)
	// A nil notifier is safe to use.
	wn.Notify(testEvent())
}
