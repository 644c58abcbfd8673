package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

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

	gatewayDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authgate_gateway_decisions_total",
			Help: "Gateway terminal states by route and outcome.",
		},
		[]string{"route", "outcome"},
	)

	gatewayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "authgate_gateway_evaluation_seconds",
			Help:    "Time spent in the gateway pipeline before forwarding or rejecting.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"outcome"},
	)

	rateLimitFailOpen = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authgate_ratelimit_fail_open_total",
			Help: "Rate-limit checks allowed because the backing store was unavailable.",
		},
		[]string{"action"},
	)

	auditDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authgate_audit_events_dropped_total",
			Help: "Audit events that could not be delivered to the sink.",
		},
		[]string{"reason"},
	)
)

// Init registers all collectors in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			gatewayDecisions, gatewayDuration, rateLimitFailOpen, auditDropped,
		)
	})
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDecision records a gateway terminal state.
func ObserveDecision(route, outcome string, elapsed time.Duration) {
	gatewayDecisions.WithLabelValues(route, outcome).Inc()
	gatewayDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// RateLimitFailOpen counts a check that was allowed because the backend failed.
func RateLimitFailOpen(action string) {
	rateLimitFailOpen.WithLabelValues(action).Inc()
}

// AuditDropped counts an audit event lost before reaching its sink.
func AuditDropped(reason string) {
	auditDropped.WithLabelValues(reason).Inc()
}

// Instrument records RPS, latency and in-flight requests for next.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath collapses identifier-like segments so label cardinality stays bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" || raw == "/" {
		return "/"
	}
	parts := strings.Split(raw, "/")
	for i, p := range parts {
		if looksLikeID(p) {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}

func looksLikeID(seg string) bool {
	if seg == "" {
		return false
	}
	digits := true
	for _, r := range seg {
		if !unicode.IsDigit(r) {
			digits = false
			break
		}
	}
	if digits {
		return true
	}
	// ULID
	if len(seg) == 26 && strings.ToUpper(seg) == seg {
		return true
	}
	// UUID
	return len(seg) == 36 && strings.Count(seg, "-") == 4
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
