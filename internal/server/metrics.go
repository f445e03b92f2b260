// Package server, metrics.go: Prometheus metrics for the HTTP server and the
// helpers handlers and middleware use to record them.
package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric label values shared across registrations.
const (
	// labelHandler partitions metrics by logical endpoint name rather than
	// the raw URL path, which carries novel IDs.
	labelHandler = "handler"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// translateRequestsTotal counts completed /api/translate requests,
	// partitioned by outcome: "ok", "client_error" or "error".
	translateRequestsTotal *prometheus.CounterVec

	// translateDurationSeconds records the wall-clock duration of each
	// /api/translate request, retries included.
	translateDurationSeconds *prometheus.HistogramVec

	// translateActiveStreams is the number of SSE or passthrough translate
	// streams currently open.
	translateActiveStreams prometheus.Gauge

	// rateLimitedTotal counts requests rejected by the per-IP limiter.
	rateLimitedTotal prometheus.Counter

	// httpRequestsTotal counts all instrumented HTTP requests, partitioned
	// by method, handler and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all instrumented requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		translateRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "novelt",
			Subsystem: "api",
			Name:      "translate_requests_total",
			Help:      "Total number of /api/translate requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		translateDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "novelt",
			Subsystem: "api",
			Name:      "translate_duration_seconds",
			Help:      "Wall-clock duration of /api/translate requests including quality retries.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"outcome"}),

		translateActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "novelt",
			Subsystem: "api",
			Name:      "translate_active_streams",
			Help:      "Number of streamed /api/translate responses currently open.",
		}),

		rateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "novelt",
			Subsystem: "api",
			Name:      "rate_limited_total",
			Help:      "Total number of requests rejected by the per-IP rate limiter.",
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "novelt",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "novelt",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}

// observeTranslate records the outcome and duration of one translate call.
func (m *serverMetrics) observeTranslate(err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if statusFor(err) < http.StatusInternalServerError {
			outcome = "client_error"
		}
	}
	m.translateRequestsTotal.WithLabelValues(outcome).Inc()
	m.translateDurationSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// instrument wraps h with request count and latency metrics under name.
func (s *Server) instrument(name string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		h(rw, r)
		s.metrics.httpRequestsTotal.WithLabelValues(r.Method, name, strconv.Itoa(rw.status)).Inc()
		s.metrics.httpDurationSeconds.WithLabelValues(r.Method, name).Observe(time.Since(start).Seconds())
	})
}
