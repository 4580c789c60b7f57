// Package metrics owns the gateway's Prometheus registry: HTTP request
// metrics plus upload outcome counters.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "upload_gateway"

// Metrics provides a self-contained Prometheus registry and the collectors
// the gateway updates.
type Metrics struct {
	reg         *prometheus.Registry
	inflight    prometheus.Gauge
	requests    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	uploads     *prometheus.CounterVec
	uploadBytes *prometheus.HistogramVec
}

// New creates a Metrics instance with a fresh registry and registers collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		reg: reg,
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of inflight HTTP requests.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests processed, partitioned by status code and method.",
		}, []string{"code", "method"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Histogram of latencies for HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"code", "method"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Upload attempts by outcome and file kind. outcome=\"overwritten\" counts successful writes made with overwrite requested, whether or not the key existed.",
		}, []string{"outcome", "kind"}),
		uploadBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_bytes",
			Help:      "Size of successfully stored objects.",
			Buckets:   prometheus.ExponentialBuckets(1024, 2, 12),
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.inflight, m.requests, m.latency, m.uploads, m.uploadBytes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Middleware records inflight, count and latency per method and status.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.inflight.Inc()
		defer m.inflight.Dec()

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		code := strconv.Itoa(status)
		m.requests.WithLabelValues(code, r.Method).Inc()
		m.latency.WithLabelValues(code, r.Method).Observe(time.Since(start).Seconds())
	})
}

// ObserveUpload counts one upload attempt. size is only recorded for
// outcome "created" or "overwritten".
func (m *Metrics) ObserveUpload(outcome, kind string, size int64) {
	m.uploads.WithLabelValues(outcome, kind).Inc()
	if outcome == OutcomeCreated || outcome == OutcomeOverwritten {
		m.uploadBytes.WithLabelValues(kind).Observe(float64(size))
	}
}

// Upload outcomes.
const (
	OutcomeCreated     = "created"
	OutcomeOverwritten = "overwritten" // stored with overwrite requested
	OutcomeRejected    = "rejected"
	OutcomeConflict    = "conflict"
	OutcomeTooLarge    = "too_large"
	OutcomeFailed      = "failed"
)
