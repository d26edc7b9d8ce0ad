package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"gatehouse.org/internal/ids"
)

// HTTP metrics
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Auth metrics
var (
	authDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatehouse_auth_decisions_total",
			Help: "Authentication guard outcomes by state and reason.",
		},
		[]string{"state", "reason"},
	)

	permissionChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatehouse_permission_checks_total",
			Help: "Permission evaluations by result.",
		},
		[]string{"result"},
	)

	sessionsIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gatehouse_sessions_issued_total",
		Help: "Session tokens issued.",
	})

	sessionsRevoked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatehouse_sessions_revoked_total",
			Help: "Session revocations by kind (single, all).",
		},
		[]string{"kind"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gatehouse_ready",
		Help: "1 when the last readiness check passed.",
	})
)

var initOnce sync.Once

// Init registers all collectors in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			authDecisions, permissionChecks, sessionsIssued, sessionsRevoked, ready,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAuthDecision counts one guard outcome.
func ObserveAuthDecision(state, reason string) {
	if reason == "" {
		reason = "none"
	}
	authDecisions.WithLabelValues(state, reason).Inc()
}

// ObservePermissionCheck counts one evaluator call made on behalf of a request.
func ObservePermissionCheck(granted bool) {
	if granted {
		permissionChecks.WithLabelValues("granted").Inc()
		return
	}
	permissionChecks.WithLabelValues("denied").Inc()
}

func ObserveSessionIssued() { sessionsIssued.Inc() }

func ObserveSessionRevoked(kind string) { sessionsRevoked.WithLabelValues(kind).Inc() }

// SessionsRevoked reads the revocation counter for kind.
func SessionsRevoked(kind string) float64 {
	var m dto.Metric
	if err := sessionsRevoked.WithLabelValues(kind).Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

// SetReady mirrors the last readiness probe result.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// Instrument measures in-flight requests, totals and latency.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := CanonicalPath(r.URL.Path)
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

// CanonicalPath collapses identifier segments so label cardinality stays bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" || raw == "/" {
		return "/"
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	for i, p := range parts {
		if ids.IsEntity(p) || isULID(p) {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

func isULID(s string) bool {
	if len(s) != 26 {
		return false
	}
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c >= 'A' && c <= 'Z') {
			return false
		}
	}
	return true
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps server-sent event streams working behind the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
