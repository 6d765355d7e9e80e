package scorer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the batch scorer.
type Metrics struct {
	Registry        *prometheus.Registry
	RequestsTotal   *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	InFlight        prometheus.Gauge
	ErrorsTotal     *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagespeed_requests_total",
			Help: "Total scoring API requests by outcome.",
		},
		[]string{"outcome"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pagespeed_request_duration_seconds",
			Help:    "Scoring API latency, including reading the response body.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
	)
	inFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pagespeed_in_flight_requests",
			Help: "Scoring API requests currently holding an admission slot.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagespeed_errors_total",
			Help: "Total failed URL fetches by error type.",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(requests, requestDuration, inFlight, errorsTotal)

	return &Metrics{
		Registry:        registry,
		RequestsTotal:   requests,
		RequestDuration: requestDuration,
		InFlight:        inFlight,
		ErrorsTotal:     errorsTotal,
	}
}

// IncRequest increments the requests counter for an outcome label.
func (m *Metrics) IncRequest(outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDuration records a request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

func (m *Metrics) acquire() {
	if m == nil {
		return
	}
	m.InFlight.Inc()
}

func (m *Metrics) release() {
	if m == nil {
		return
	}
	m.InFlight.Dec()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
