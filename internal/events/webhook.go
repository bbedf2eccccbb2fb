package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rpattn/metacat/internal/domain"
	"github.com/rpattn/metacat/internal/metrics"
)

// WebhookConfig holds the list of configured webhook URLs.
type WebhookConfig struct {
	URLs    []string
	Timeout time.Duration
}

// WebhookNotifier sends HTTP POST notifications with change event payloads to
// configured webhook URLs.
type WebhookNotifier struct {
	config  *WebhookConfig
	client  *http.Client
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// NewWebhookNotifier creates a webhook notifier. Returns nil if no URLs are
// configured; a nil notifier drops everything.
func NewWebhookNotifier(cfg *WebhookConfig, logger *slog.Logger, rec *metrics.Recorder) *WebhookNotifier {
	if cfg == nil || len(cfg.URLs) == 0 {
		return nil
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		config:  cfg,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		metrics: rec,
	}
}

// Notify sends the change event to all configured webhook URLs.
// Runs asynchronously and never blocks the caller.
func (wn *WebhookNotifier) Notify(event domain.ChangeEvent) {
	if wn == nil {
		return
	}
	go wn.send(event)
}

// send delivers the event to all configured URLs.
func (wn *WebhookNotifier) send(event domain.ChangeEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		wn.logger.Error("webhook: marshal event", "error", err)
		return
	}

	for _, url := range wn.config.URLs {
		if err := wn.post(url, data); err != nil {
			wn.logger.Warn("webhook: delivery failed", "url", url, "error", err)
			wn.metrics.WebhookDelivery(false)
		} else {
			wn.logger.Debug("webhook: delivered", "url", url, "event", string(event.EventType))
			wn.metrics.WebhookDelivery(true)
		}
	}
}

// post sends a single webhook POST with retry (up to 2 retries).
func (wn *WebhookNotifier) post(url string, data []byte) error {
	const maxRetries = 2

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		req, err := http.NewRequest("POST", url, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "metacat/1.0")

		resp, err := wn.client.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(time.Duration(attempt+1) * time.Second)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}

		lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
		if resp.StatusCode < 500 {
			return lastErr // don't retry 4xx
		}
		time.Sleep(time.Duration(attempt+1) * time.Second)
	}

	return lastErr
}
