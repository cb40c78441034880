package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/krittin/examscan/internal/domain"
	internaltestutil "github.com/krittin/examscan/internal/testutil"
)

func newTestMetrics(t *testing.T) (*MetricsService, *internaltestutil.MockBus) {
	t.Helper()
	bus := internaltestutil.NewMockBus()
	m := newMetricsService(bus, prometheus.NewRegistry())
	m.Start()
	return m, bus
}

func TestMetrics_JobCounters(t *testing.T) {
	m, bus := newTestMetrics(t)

	bus.Publish(domain.NewJobStartedEvent("user-a", "job-1"))
	bus.Publish(domain.NewJobStartedEvent("user-a", "job-2"))

	if got := testutil.ToFloat64(m.jobsStarted); got != 2 {
		t.Errorf("jobs started = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.jobsInFlight); got != 2 {
		t.Errorf("jobs in flight = %v, want 2", got)
	}

	bus.Publish(domain.NewJobCompletedEvent("user-a", "job-1", nil))
	bus.Publish(domain.NewJobFailedEvent("user-a", "job-2", "boom"))

	if got := testutil.ToFloat64(m.jobsCompleted.WithLabelValues("success")); got != 1 {
		t.Errorf("success completions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.jobsCompleted.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed completions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.jobsInFlight); got != 0 {
		t.Errorf("jobs in flight = %v, want 0", got)
	}
}

func TestMetrics_InFlightNeverGoesNegative(t *testing.T) {
	m, bus := newTestMetrics(t)

	// Completion for a job this process never saw start.
	bus.Publish(domain.NewJobCompletedEvent("user-a", "job-ghost", nil))

	if got := testutil.ToFloat64(m.jobsInFlight); got != 0 {
		t.Errorf("jobs in flight = %v, want 0", got)
	}
}

func TestMetrics_ConnectionGauge(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.SetConnections(3)
	if got := testutil.ToFloat64(m.connections); got != 3 {
		t.Errorf("connections = %v, want 3", got)
	}
	m.SetConnections(0)
	if got := testutil.ToFloat64(m.connections); got != 0 {
		t.Errorf("connections = %v, want 0", got)
	}
}
