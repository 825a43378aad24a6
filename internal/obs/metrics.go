package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

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

	authDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_decisions_total",
			Help: "Authorization gateway decisions by outcome kind.",
		},
		[]string{"kind"},
	)

	tokenOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_operations_total",
			Help: "Token service operations by operation and outcome kind.",
		},
		[]string{"op", "kind"},
	)

	revocationsPurgedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_revocation_records_purged_total",
		Help: "Revocation and cutoff records removed by the janitor.",
	})

	registerOnce sync.Once
)

// Init registers the collectors with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight,
			httpRequestsTotal,
			httpRequestDuration,
			authDecisionsTotal,
			tokenOperationsTotal,
			revocationsPurgedTotal,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAuthDecision counts one gateway decision.
func ObserveAuthDecision(kind string) {
	authDecisionsTotal.WithLabelValues(kind).Inc()
}

// ObserveTokenOp counts one token service call.
func ObserveTokenOp(op, kind string) {
	tokenOperationsTotal.WithLabelValues(op, kind).Inc()
}

// AddPurged records janitor output.
func AddPurged(n int64) {
	if n > 0 {
		revocationsPurgedTotal.Add(float64(n))
	}
}

// Instrument records RPS, latency and in-flight requests.
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

// otherPath labels every route the API does not serve.
const otherPath = "other"

var staticPaths = map[string]bool{
	"/":                 true,
	"/healthz":          true,
	"/readyz":           true,
	"/metrics":          true,
	"/v1/info":          true,
	"/v1/me":            true,
	"/v1/authz/check":   true,
	"/v1/auth/login":    true,
	"/v1/auth/refresh":  true,
	"/v1/auth/logout":   true,
	"/v1/auth/password": true,
}

// CanonicalPath collapses path parameters and unknown routes so label
// cardinality stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	if staticPaths[path] {
		return path
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "roles" && parts[3] == "permissions":
		return "/v1/roles/:name/permissions"
	case len(parts) == 5 && parts[0] == "v1" && parts[1] == "roles" && parts[3] == "permissions" &&
		(parts[4] == "grant" || parts[4] == "revoke"):
		return "/v1/roles/:name/permissions/" + parts[4]
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "users" && parts[3] == "password":
		return "/v1/users/:username/password"
	}
	return otherPath
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
