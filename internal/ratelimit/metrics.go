package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricChecksTotal     = "ratelimit_checks_total"
	MetricStoreErrors     = "ratelimit_store_errors_total"
	MetricFailOpenTotal   = "ratelimit_fail_open_total"
	MetricFailClosedTotal = "ratelimit_fail_closed_total"
)

// Metrics contains Prometheus metrics for rate limit decisions.
// All operations are thread-safe.
type Metrics struct {
	checks      *prometheus.CounterVec
	storeErrors prometheus.Counter
	failOpen    prometheus.Counter
	failClosed  prometheus.Counter
}

// NewMetrics creates a Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them.
func NewMetrics() *Metrics {
	return &Metrics{
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricChecksTotal,
			Help: "Total number of rate limit checks by layer and outcome",
		}, []string{"layer", "outcome"}),
		storeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricStoreErrors,
			Help: "Total number of rate limit store failures",
		}),
		failOpen: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricFailOpenTotal,
			Help: "Total number of requests allowed because the store failed open",
		}),
		failClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricFailClosedTotal,
			Help: "Total number of requests denied because the store failed closed",
		}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.checks,
		m.storeErrors,
		m.failOpen,
		m.failClosed,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncCheck records one layer check outcome.
func (m *Metrics) IncCheck(layer string, allowed bool) {
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	m.checks.WithLabelValues(layer, outcome).Inc()
}

// IncStoreErrors increments the store-failures counter.
func (m *Metrics) IncStoreErrors() { m.storeErrors.Inc() }

// IncFailOpen increments the fail-open counter.
func (m *Metrics) IncFailOpen() { m.failOpen.Inc() }

// IncFailClosed increments the fail-closed counter.
func (m *Metrics) IncFailClosed() { m.failClosed.Inc() }

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.checks,
		m.storeErrors,
		m.failOpen,
		m.failClosed,
	}
}
