package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WebhookMetrics records the fate of inbound gateway events, labeled by
// gateway and by the ledger outcome the orchestrator committed.
type WebhookMetrics struct {
	received *prometheus.CounterVec
	outcomes *prometheus.CounterVec
	rejected *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewWebhookMetrics registers the webhook metrics on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	received := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_received",
		Help: "Inbound gateway events, counted before any processing.",
	}, []string{"gateway"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_processed",
		Help: "Gateway events committed to the ledger, by outcome.",
	}, []string{"gateway", "outcome"})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_rejected",
		Help: "Gateway events rejected before the ledger, by reason.",
	}, []string{"gateway", "reason"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webhook_processing_seconds",
		Help:    "End-to-end processing time for one gateway event.",
		Buckets: prometheus.DefBuckets,
	}, []string{"gateway"})
	reg.MustRegister(received, outcomes, rejected, duration)
	return &WebhookMetrics{
		received: received,
		outcomes: outcomes,
		rejected: rejected,
		duration: duration,
	}
}

// IncReceived counts one inbound event for the gateway.
func (w *WebhookMetrics) IncReceived(gateway string) {
	if w == nil || w.received == nil {
		return
	}
	w.received.WithLabelValues(normalizeLabel(gateway)).Inc()
}

// IncOutcome counts one committed ledger outcome for the gateway.
func (w *WebhookMetrics) IncOutcome(gateway, outcome string) {
	if w == nil || w.outcomes == nil {
		return
	}
	w.outcomes.WithLabelValues(normalizeLabel(gateway), normalizeLabel(outcome)).Inc()
}

// IncRejected counts one pre-ledger rejection for the gateway.
func (w *WebhookMetrics) IncRejected(gateway, reason string) {
	if w == nil || w.rejected == nil {
		return
	}
	w.rejected.WithLabelValues(normalizeLabel(gateway), normalizeLabel(reason)).Inc()
}

// ObserveProcessing records the end-to-end handling time for one event.
func (w *WebhookMetrics) ObserveProcessing(gateway string, duration time.Duration) {
	if w == nil || w.duration == nil {
		return
	}
	w.duration.WithLabelValues(normalizeLabel(gateway)).Observe(duration.Seconds())
}
