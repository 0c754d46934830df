package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lvonguyen/threatboard/internal/alerts"
)

const namespace = "threatboard"

// Metrics holds Prometheus metrics for threatboard
type Metrics struct {
	// Dashboard views
	ViewRequests *prometheus.CounterVec
	ViewDuration *prometheus.HistogramVec
	Retries      *prometheus.CounterVec

	// Storage
	FetchDuration *prometheus.HistogramVec
	EventsUnified *prometheus.CounterVec

	// API
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	RateLimitRejection *prometheus.CounterVec
}

// NewMetrics registers the metric set on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ViewRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "view_requests_total",
				Help:      "Dashboard view calls by outcome",
			},
			[]string{"view", "status"},
		),
		ViewDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "view_duration_seconds",
				Help:      "Dashboard view latency",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"view"},
		),
		Retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_retries_total",
				Help:      "Dashboard view retries after a transient storage failure",
			},
			[]string{"view"},
		),
		FetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "storage_fetch_duration_seconds",
				Help:      "Per-category fetch latency",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
			},
			[]string{"category"},
		),
		EventsUnified: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_unified_total",
				Help:      "Raw alert records fetched by category",
			},
			[]string{"category"},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{"method", "route"},
		),
		RateLimitRejection: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ratelimit_rejections_total",
				Help:      "Requests rejected by the rate limiter",
			},
			[]string{"backend"},
		),
	}
}

// ObserveFetch records one category fetch.
func (m *Metrics) ObserveFetch(category alerts.Category, elapsed time.Duration, records int, err error) {
	if m == nil {
		return
	}
	m.FetchDuration.WithLabelValues(string(category)).Observe(elapsed.Seconds())
	if err == nil {
		m.EventsUnified.WithLabelValues(string(category)).Add(float64(records))
	}
}

// ObserveView records one dashboard view call. status is "ok" or an error
// kind.
func (m *Metrics) ObserveView(view, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ViewRequests.WithLabelValues(view, status).Inc()
	m.ViewDuration.WithLabelValues(view).Observe(elapsed.Seconds())
}

// ObserveRetry counts a retried view.
func (m *Metrics) ObserveRetry(view string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(view).Inc()
}

// ObserveHTTP records one HTTP request.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveRateLimited counts a rejected request.
func (m *Metrics) ObserveRateLimited(backend string) {
	if m == nil {
		return
	}
	m.RateLimitRejection.WithLabelValues(backend).Inc()
}
