// Package observability provides Prometheus instrumentation for pipeline runs.
//
// Metrics cover runs and nodes by terminal status, step attempts by outcome,
// attempt latency and the fate of telemetry writes. A nil *Metrics is valid
// and records nothing, so components can be built without instrumentation.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "pipeline"

// Attempt outcomes
const (
	OutcomeSuccess  = "success"
	OutcomeError    = "error"
	OutcomeTimeout  = "timeout"
	OutcomePanic    = "panic"
	OutcomeRejected = "rejected"
)

// Telemetry write results
const (
	TelemetryWritten = "written"
	TelemetryFailed  = "failed"
	TelemetryDropped = "dropped"
)

// Metrics holds the collectors of the engine
type Metrics struct {
	// RunsTotal counts finished runs.
	// Labels: status (completed, failed, cancelled)
	RunsTotal *prometheus.CounterVec

	// NodesTotal counts nodes reaching a terminal status.
	// Labels: status
	NodesTotal *prometheus.CounterVec

	// AttemptsTotal counts step attempts.
	// Labels: step_version_id, outcome
	AttemptsTotal *prometheus.CounterVec

	// AttemptDurationSeconds measures a single attempt.
	// Labels: step_version_id
	AttemptDurationSeconds *prometheus.HistogramVec

	// ActiveRuns tracks runs currently executing
	ActiveRuns prometheus.Gauge

	// TelemetryWritesTotal counts telemetry writes by result.
	// Labels: kind (step_run), result (written, failed, dropped)
	TelemetryWritesTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors on reg. A nil reg uses the
// default Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "runs_total",
				Help:      "Total number of finished pipeline runs by status",
			},
			[]string{"status"},
		),
		NodesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "nodes_total",
				Help:      "Total number of nodes reaching a terminal status",
			},
			[]string{"status"},
		),
		AttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "step",
				Name:      "attempts_total",
				Help:      "Total step attempts by step version and outcome",
			},
			[]string{"step_version_id", "outcome"},
		),
		AttemptDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "step",
				Name:      "attempt_duration_seconds",
				Help:      "Duration of a single step attempt in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"step_version_id"},
		),
		ActiveRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "active_runs",
				Help:      "Number of pipeline runs currently executing",
			},
		),
		TelemetryWritesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "telemetry",
				Name:      "writes_total",
				Help:      "Total telemetry writes by kind and result",
			},
			[]string{"kind", "result"},
		),
	}
}

// RunStarted increments the active run gauge
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.ActiveRuns.Inc()
}

// RunFinished records a finished run
func (m *Metrics) RunFinished(status string) {
	if m == nil {
		return
	}
	m.ActiveRuns.Dec()
	m.RunsTotal.WithLabelValues(status).Inc()
}

// NodeFinished records a node reaching a terminal status
func (m *Metrics) NodeFinished(status string) {
	if m == nil {
		return
	}
	m.NodesTotal.WithLabelValues(status).Inc()
}

// Attempt records one step attempt
func (m *Metrics) Attempt(stepVersionID, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(stepVersionID, outcome).Inc()
	m.AttemptDurationSeconds.WithLabelValues(stepVersionID).Observe(d.Seconds())
}

// Telemetry records the result of a telemetry write
func (m *Metrics) Telemetry(kind, result string) {
	if m == nil {
		return
	}
	m.TelemetryWritesTotal.WithLabelValues(kind, result).Inc()
}
