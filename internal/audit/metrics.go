package audit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricEventsAppended = "audit_events_appended_total"
	MetricAppendErrors   = "audit_append_errors_total"
	MetricVerifications  = "audit_chain_verifications_total"
	MetricTamperedEvents = "audit_tampered_events_total"
	MetricChainBreaks    = "audit_chain_breaks_total"
	MetricVerifyDuration = "audit_verify_duration_seconds"
)

// Metrics contains Prometheus metrics for the audit chain.
// All operations are thread-safe.
type Metrics struct {
	eventsAppended prometheus.Counter
	appendErrors   prometheus.Counter
	verifications  prometheus.Counter
	tamperedEvents prometheus.Counter
	chainBreaks    prometheus.Counter
	verifyDuration prometheus.Histogram
}

// NewMetrics creates a Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them.
func NewMetrics() *Metrics {
	return &Metrics{
		eventsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricEventsAppended,
			Help: "Total number of audit events appended to the chain",
		}),
		appendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricAppendErrors,
			Help: "Total number of failed audit event appends",
		}),
		verifications: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricVerifications,
			Help: "Total number of chain verification passes",
		}),
		tamperedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricTamperedEvents,
			Help: "Total number of tampered events detected during verification",
		}),
		chainBreaks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricChainBreaks,
			Help: "Total number of chain breaks detected during verification",
		}),
		verifyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricVerifyDuration,
			Help:    "Histogram of chain verification duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 5.0, 30.0},
		}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.eventsAppended,
		m.appendErrors,
		m.verifications,
		m.tamperedEvents,
		m.chainBreaks,
		m.verifyDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncAppended increments the appended-events counter.
func (m *Metrics) IncAppended() { m.eventsAppended.Inc() }

// IncAppendErrors increments the append-errors counter.
func (m *Metrics) IncAppendErrors() { m.appendErrors.Inc() }

// IncVerifications increments the verification-passes counter.
func (m *Metrics) IncVerifications() { m.verifications.Inc() }

// AddTamperedEvents adds to the tampered-events counter.
func (m *Metrics) AddTamperedEvents(n int) {
	if n > 0 {
		m.tamperedEvents.Add(float64(n))
	}
}

// IncChainBreaks increments the chain-breaks counter.
func (m *Metrics) IncChainBreaks() { m.chainBreaks.Inc() }

// ObserveVerifyDuration records a verification duration sample.
func (m *Metrics) ObserveVerifyDuration(seconds float64) {
	m.verifyDuration.Observe(seconds)
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.eventsAppended,
		m.appendErrors,
		m.verifications,
		m.tamperedEvents,
		m.chainBreaks,
		m.verifyDuration,
	}
}
