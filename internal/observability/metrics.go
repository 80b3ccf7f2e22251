package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is AutoSage's Prometheus surface, exposed at /metrics via
// promhttp.Handler(). It tracks tool invocations and admission pressure,
// and registers job-store and session gauges.
type Metrics struct {
	// InvocationTotal counts ExecutionEngine.Execute calls by tool and
	// terminal status (ok|error).
	InvocationTotal *prometheus.CounterVec

	// InvocationDuration observes wall-clock seconds per invocation.
	InvocationDuration *prometheus.HistogramVec

	// AdmissionRejected counts invocations denied admission (429).
	AdmissionRejected prometheus.Counter

	// JobsByStatus is the per-status JobRecord count gauge, set through
	// SetJobStatusCount; nothing in the server calls that setter.
	JobsByStatus *prometheus.GaugeVec

	// SessionsActive is the non-terminal session count gauge; nothing in the
	// server sets it.
	SessionsActive prometheus.Gauge
}

// NewMetrics registers and returns a Metrics instance against reg. Pass
// prometheus.NewRegistry() in tests to avoid collisions with the global
// default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		InvocationTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autosage",
			Subsystem: "engine",
			Name:      "invocations_total",
			Help:      "Total ExecutionEngine invocations by tool and status.",
		}, []string{"tool", "status"}),
		InvocationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "autosage",
			Subsystem: "engine",
			Name:      "invocation_duration_seconds",
			Help:      "ExecutionEngine invocation wall-clock duration.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 120},
		}, []string{"tool"}),
		AdmissionRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "autosage",
			Subsystem: "engine",
			Name:      "admission_rejected_total",
			Help:      "Invocations rejected because the concurrency semaphore was saturated.",
		}),
		JobsByStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "autosage",
			Subsystem: "jobs",
			Name:      "status_count",
			Help:      "Current JobRecord count by status.",
		}, []string{"status"}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "autosage",
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Current count of sessions not in a terminal status.",
		}),
	}
}

// ObserveInvocation records one completed invocation.
func (m *Metrics) ObserveInvocation(tool, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.InvocationTotal.WithLabelValues(tool, status).Inc()
	m.InvocationDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// SetJobStatusCount updates the gauge for one job status.
func (m *Metrics) SetJobStatusCount(status string, count float64) {
	if m == nil {
		return
	}
	m.JobsByStatus.WithLabelValues(status).Set(count)
}
