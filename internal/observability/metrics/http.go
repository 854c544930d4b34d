package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Inline sync and batch imports wait on the registry and the catalogue, so
// the upper buckets reach into tens of seconds.
var apiDurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// APIMetrics owns the API process registry. Request collectors carry the
// service as a constant label; use-case collectors registered through
// Registerer add their own.
type APIMetrics struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

func NewAPIMetrics(service string) *APIMetrics {
	registry := prometheus.NewRegistry()
	scoped := prometheus.WrapRegistererWith(prometheus.Labels{"service": service}, registry)

	m := &APIMetrics{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "API requests by route, method, status code and outcome.",
		}, []string{"route", "method", "code", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "API request latency by route.",
			Buckets:   apiDurationBuckets,
		}, []string{"route", "method"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "inflight_requests",
			Help:      "API requests currently being served.",
		}),
	}
	scoped.MustRegister(m.requests, m.duration, m.inFlight)
	return m
}

// Registerer lets use-case collectors share the /metrics endpoint.
func (m *APIMetrics) Registerer() prometheus.Registerer {
	return m.registry
}

func (m *APIMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *APIMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		route := routeOf(r.URL.Path)
		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		m.inFlight.Inc()
		defer m.inFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requests.WithLabelValues(route, r.Method, strconv.Itoa(recorder.statusCode), outcomeOf(recorder.statusCode)).Inc()
		m.duration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

// outcomeOf separates traffic-control rejections from real failures.
func outcomeOf(status int) string {
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusServiceUnavailable:
		return "rejected"
	case status >= 500:
		return "server_error"
	case status >= 400:
		return "client_error"
	default:
		return "ok"
	}
}

// routeOf collapses publication ids, registry handles and catalogue keys so
// label cardinality stays bounded.
func routeOf(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/publications/") && strings.HasSuffix(path, "/sync"):
		return "/v1/publications/{id}/sync"
	case strings.HasPrefix(path, "/v1/publications/"):
		return "/v1/publications/{id}"
	case strings.HasPrefix(path, "/v1/registry/objects/"):
		return "/v1/registry/objects/{handle}"
	case strings.HasPrefix(path, "/v1/catalogue/items/") && strings.HasSuffix(path, "/preview"):
		return "/v1/catalogue/items/{key}/preview"
	case staticRoutes[path]:
		return path
	default:
		return "other"
	}
}

var staticRoutes = map[string]bool{
	"/healthz":                   true,
	"/metrics":                   true,
	"/v1/publications":           true,
	"/v1/registry/search":        true,
	"/v1/registry/operations":    true,
	"/v1/catalogue/status":       true,
	"/v1/catalogue/items":        true,
	"/v1/catalogue/import":       true,
	"/v1/catalogue/import/batch": true,
	"/v1/catalogue/mappings":     true,
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
