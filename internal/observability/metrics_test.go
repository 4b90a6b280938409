package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	return NewMetrics(prometheus.NewRegistry())
}

func TestMetrics_Runs(t *testing.T) {
	m := newTestMetrics(t)

	m.RunStarted()
	m.RunStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActiveRuns))

	m.RunFinished("completed")
	m.RunFinished("failed")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveRuns))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("failed")))
}

func TestMetrics_Attempts(t *testing.T) {
	m := newTestMetrics(t)

	m.Attempt("ocr@1", OutcomeError, 10*time.Millisecond)
	m.Attempt("ocr@1", OutcomeSuccess, 20*time.Millisecond)
	m.Attempt("ocr@1", OutcomeSuccess, 30*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AttemptsTotal.WithLabelValues("ocr@1", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AttemptsTotal.WithLabelValues("ocr@1", OutcomeError)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.AttemptDurationSeconds))
}

func TestMetrics_NodesAndTelemetry(t *testing.T) {
	m := newTestMetrics(t)

	m.NodeFinished("skipped")
	m.Telemetry("step_run", TelemetryDropped)
	m.Telemetry("step_run", TelemetryDropped)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.NodesTotal.WithLabelValues("skipped")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TelemetryWritesTotal.WithLabelValues("step_run", TelemetryDropped)))
}

func TestMetrics_NilIsNoOp(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RunStarted()
		m.RunFinished("completed")
		m.NodeFinished("failed")
		m.Attempt("x", OutcomePanic, time.Second)
		m.Telemetry("step_run", TelemetryFailed)
	})
}

func TestNewMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)

	assert.Panics(t, func() { NewMetrics(reg) })
}
