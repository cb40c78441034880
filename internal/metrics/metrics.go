// Package metrics exposes Prometheus metrics for the scan pipeline.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/krittin/examscan/internal/domain"
	"github.com/krittin/examscan/internal/eventbus"
	"github.com/krittin/examscan/internal/logger"
)

// MetricsService derives its numbers from the same event stream the
// coordinator consumes, plus a connection gauge fed by the websocket hub.
type MetricsService struct {
	eventBus eventbus.Publisher

	jobsStarted   prometheus.Counter
	jobsCompleted *prometheus.CounterVec
	jobsInFlight  prometheus.Gauge
	connections   prometheus.Gauge
	jobDuration   *prometheus.HistogramVec

	mu            sync.Mutex
	inFlightCount int
	startedAt     map[string]time.Time // job id -> start time
}

func NewMetricsService(eb eventbus.Publisher) *MetricsService {
	return newMetricsService(eb, prometheus.DefaultRegisterer)
}

func newMetricsService(eb eventbus.Publisher, reg prometheus.Registerer) *MetricsService {
	m := &MetricsService{
		eventBus:  eb,
		startedAt: make(map[string]time.Time),

		jobsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "examscan_jobs_started_total",
				Help: "Total number of scan jobs started",
			},
		),

		jobsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "examscan_jobs_completed_total",
				Help: "Total number of scan jobs completed by outcome",
			},
			[]string{"outcome"}, // success, failed
		),

		jobsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "examscan_jobs_in_flight",
				Help: "Number of scan jobs currently in flight",
			},
		),

		connections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "examscan_realtime_connections",
				Help: "Number of open realtime connections",
			},
		),

		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "examscan_job_duration_seconds",
				Help:    "Duration of scan jobs in seconds",
				Buckets: prometheus.ExponentialBuckets(1, 2, 11), // 1s to ~34min
			},
			[]string{"outcome"},
		),
	}

	reg.MustRegister(
		m.jobsStarted,
		m.jobsCompleted,
		m.jobsInFlight,
		m.connections,
		m.jobDuration,
	)

	return m
}

// Start subscribes to the job lifecycle events. One shared subscription
// keeps a job's started signal ahead of its completed signal.
func (m *MetricsService) Start() {
	m.eventBus.Subscribe(m.handleEvent,
		domain.ScanJobStarted,
		domain.ScanJobCompleted,
	)
	logger.Infof("Metrics service started")
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func (m *MetricsService) Handler() http.Handler {
	return promhttp.Handler()
}

// SetConnections records the current realtime connection count. Called
// by the websocket hub on register and unregister.
func (m *MetricsService) SetConnections(n int) {
	m.connections.Set(float64(n))
}

func (m *MetricsService) handleEvent(event domain.Event) {
	switch event.EventType {
	case domain.ScanJobStarted:
		m.handleJobStarted(event)
	case domain.ScanJobCompleted:
		m.handleJobCompleted(event)
	}
}

func (m *MetricsService) handleJobStarted(event domain.Event) {
	m.jobsStarted.Inc()

	m.mu.Lock()
	m.inFlightCount++
	m.jobsInFlight.Set(float64(m.inFlightCount))
	m.startedAt[event.JobID] = time.Now()
	m.mu.Unlock()
}

func (m *MetricsService) handleJobCompleted(event domain.Event) {
	outcome := "success"
	if event.ParseJobCompletedData().Failed() {
		outcome = "failed"
	}
	m.jobsCompleted.WithLabelValues(outcome).Inc()

	m.mu.Lock()
	if m.inFlightCount > 0 {
		m.inFlightCount--
		m.jobsInFlight.Set(float64(m.inFlightCount))
	}
	if start, ok := m.startedAt[event.JobID]; ok {
		m.jobDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
		delete(m.startedAt, event.JobID)
	}
	m.mu.Unlock()
}
