package service

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService owns the Prometheus registry and the admission domain
// metrics. A nil *MetricsService is safe to call: every recorder
// nil-checks so tests and trimmed deployments can skip metrics wiring.
type MetricsService struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	registrationsTotal *prometheus.CounterVec
	sequenceRetries    prometheus.Counter
	selectionRuns      *prometheus.CounterVec
	selectionDuration  prometheus.Histogram
	enrollmentsTotal   prometheus.Counter
	goroutines         prometheus.GaugeFunc
}

// NewMetricsService builds the registry with process, Go runtime and
// admission collectors registered.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	s := &MetricsService{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests processed, by method, path and status.",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency distribution.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		registrationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admission_registrations_total",
			Help: "Applications registered, by school.",
		}, []string{"school_id"}),
		sequenceRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "admission_sequence_retries_total",
			Help: "Registration number allocations that needed a retry.",
		}),
		selectionRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admission_selection_runs_total",
			Help: "Selection runs, by outcome.",
		}, []string{"outcome"}),
		selectionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "admission_selection_duration_seconds",
			Help:    "Wall time of selection runs.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		enrollmentsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "admission_enrollments_total",
			Help: "Students enrolled from accepted applications.",
		}),
	}
	s.goroutines = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "go_goroutines_current",
		Help: "Current number of goroutines.",
	}, func() float64 { return float64(runtime.NumGoroutine()) })

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
		s.httpRequestsTotal,
		s.httpRequestDuration,
		s.registrationsTotal,
		s.sequenceRetries,
		s.selectionRuns,
		s.selectionDuration,
		s.enrollmentsTotal,
		s.goroutines,
	)
	return s
}

// Registry exposes the registry for the /metrics handler.
func (s *MetricsService) Registry() *prometheus.Registry {
	if s == nil {
		return nil
	}
	return s.registry
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (s *MetricsService) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records one served request.
func (s *MetricsService) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if s == nil {
		return
	}
	s.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	s.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRegistration counts a successful registration.
func (s *MetricsService) RecordRegistration(schoolID string) {
	if s == nil {
		return
	}
	s.registrationsTotal.WithLabelValues(schoolID).Inc()
}

// RecordSequenceRetry counts one retried number allocation.
func (s *MetricsService) RecordSequenceRetry() {
	if s == nil {
		return
	}
	s.sequenceRetries.Inc()
}

// RecordSelectionRun records the outcome and duration of a run.
func (s *MetricsService) RecordSelectionRun(outcome string, duration time.Duration) {
	if s == nil {
		return
	}
	s.selectionRuns.WithLabelValues(outcome).Inc()
	s.selectionDuration.Observe(duration.Seconds())
}

// RecordEnrollment counts a student enrolled by the bridge.
func (s *MetricsService) RecordEnrollment() {
	if s == nil {
		return
	}
	s.enrollmentsTotal.Inc()
}
