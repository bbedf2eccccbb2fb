package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder holds the catalog's Prometheus collectors. A nil Recorder is
// valid and records nothing, so callers never need to guard.
type Recorder struct {
	updates           *prometheus.CounterVec
	updateDuration    *prometheus.HistogramVec
	eventsEmitted     *prometheus.CounterVec
	webhookDeliveries *prometheus.CounterVec
}

// NewRecorder registers the catalog collectors with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "metacat",
			Name:      "entity_operations_total",
			Help:      "Entity operations by type, operation and result.",
		}, []string{"entity_type", "operation", "result"}),
		updateDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "metacat",
			Name:      "entity_operation_duration_seconds",
			Help:      "Entity operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"entity_type", "operation"}),
		eventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "metacat",
			Name:      "change_events_emitted_total",
			Help:      "Change events emitted after commit.",
		}, []string{"event_type"}),
		webhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "metacat",
			Name:      "webhook_deliveries_total",
			Help:      "Webhook delivery attempts by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(r.updates, r.updateDuration, r.eventsEmitted, r.webhookDeliveries)
	return r
}

// ObserveOperation records one entity operation.
func (r *Recorder) ObserveOperation(entityType, operation string, start time.Time, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.updates.WithLabelValues(entityType, operation, result).Inc()
	r.updateDuration.WithLabelValues(entityType, operation).Observe(time.Since(start).Seconds())
}

// EventEmitted records one emitted change event.
func (r *Recorder) EventEmitted(eventType string) {
	if r == nil {
		return
	}
	r.eventsEmitted.WithLabelValues(eventType).Inc()
}

// WebhookDelivery records one webhook delivery outcome.
func (r *Recorder) WebhookDelivery(ok bool) {
	if r == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	r.webhookDeliveries.WithLabelValues(result).Inc()
}
