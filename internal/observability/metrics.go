package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels shared by the ingestion collectors.
const (
	OutcomeApplied      = "applied"
	OutcomeReplayed     = "replayed"
	OutcomeUnrecognized = "unrecognized"
	OutcomeFailed       = "failed"

	OutcomeOK          = "ok"
	OutcomeEmpty       = "empty"
	OutcomeTooLarge    = "too_large"
	OutcomeUnavailable = "unavailable"
)

// IngestMetrics holds the Prometheus collectors for webhook ingestion.
//
//   - ingest_events_total{kind,outcome}
//   - ingest_enrichment_total{call,outcome}
//   - ingest_reconcile_duration_seconds{kind}
type IngestMetrics struct {
	events     *prometheus.CounterVec
	enrichment *prometheus.CounterVec
	reconcile  *prometheus.HistogramVec
}

// NewIngestMetrics creates the collectors and registers them with reg. A nil
// reg leaves them unregistered (tests).
func NewIngestMetrics(reg prometheus.Registerer) *IngestMetrics {
	m := &IngestMetrics{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_events_total",
				Help: "Webhook events by canonical kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		enrichment: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_enrichment_total",
				Help: "Enrichment lookups by call and outcome.",
			},
			[]string{"call", "outcome"},
		),
		reconcile: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_reconcile_duration_seconds",
				Help:    "Duration of the core reconciliation transaction.",
				Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"kind"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.events, m.enrichment, m.reconcile)
	}
	return m
}

var defaultIngestMetrics = NewIngestMetrics(prometheus.DefaultRegisterer)

// DefaultIngestMetrics returns the collectors registered with the default
// Prometheus registry.
func DefaultIngestMetrics() *IngestMetrics { return defaultIngestMetrics }

// Event counts one ingested event.
func (m *IngestMetrics) Event(kind, outcome string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.events.WithLabelValues(kind, outcome).Inc()
}

// Enrichment counts one enrichment lookup.
func (m *IngestMetrics) Enrichment(call, outcome string) {
	if m == nil {
		return
	}
	m.enrichment.WithLabelValues(call, outcome).Inc()
}

// Reconcile records the duration of one core transaction.
func (m *IngestMetrics) Reconcile(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.reconcile.WithLabelValues(kind).Observe(d.Seconds())
}
