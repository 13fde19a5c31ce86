// Package metrics provides Prometheus metrics for the LTI provider.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lti_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lti_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Launch metrics
	launchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lti_launches_total",
			Help: "Total number of LTI launches",
		},
		[]string{"version", "outcome"}, // outcome: "success" or an error code
	)

	// OAuth2 client metrics
	tokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lti_oauth2_refreshes_total",
			Help: "Total number of OAuth2 refresh attempts against vendor token endpoints",
		},
		[]string{"vendor", "outcome"}, // "success", "failure", "skipped"
	)

	tokenExchangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lti_oauth2_code_exchanges_total",
			Help: "Total number of OAuth2 authorization code exchanges",
		},
		[]string{"vendor", "outcome"},
	)

	// Outbound request metrics
	externalRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lti_external_requests_total",
			Help: "Total number of outbound requests to LMS APIs",
		},
		[]string{"host", "outcome"}, // "ok", "network", "http", "validation"
	)

	externalRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lti_external_request_duration_seconds",
			Help:    "Outbound request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"host"},
	)

	// Rate limiting metrics
	rateLimitExceededTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lti_rate_limit_exceeded_total",
			Help: "Total number of rate limit exceeded events",
		},
		[]string{"endpoint"},
	)

	sessionTokensIssuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lti_session_tokens_issued_total",
			Help: "Total number of session bearer tokens issued",
		},
	)
)

// RecordLaunch records an LTI launch attempt.
func RecordLaunch(version, outcome string) {
	launchesTotal.WithLabelValues(version, outcome).Inc()
}

// RecordRefresh records an OAuth2 refresh attempt.
func RecordRefresh(vendor, outcome string) {
	tokenRefreshesTotal.WithLabelValues(vendor, outcome).Inc()
}

// RecordCodeExchange records an authorization code exchange.
func RecordCodeExchange(vendor string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	tokenExchangesTotal.WithLabelValues(vendor, outcome).Inc()
}

// RecordExternalRequest records an outbound request and its duration.
func RecordExternalRequest(host, outcome string, d time.Duration) {
	externalRequestsTotal.WithLabelValues(host, outcome).Inc()
	externalRequestDuration.WithLabelValues(host).Observe(d.Seconds())
}

// RecordRateLimitExceeded records a rate limit exceeded event.
func RecordRateLimitExceeded(endpoint string) {
	rateLimitExceededTotal.WithLabelValues(endpoint).Inc()
}

// RecordSessionTokenIssued records a session bearer being issued.
func RecordSessionTokenIssued() {
	sessionTokensIssuedTotal.Inc()
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

var knownVendors = map[string]bool{"canvas": true, "blackboard": true, "d2l": true, "moodle": true}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath maps request paths onto a fixed label set to avoid high cardinality.
func normalizePath(path string) string {
	switch path {
	case "/healthz", "/readyz", "/metrics",
		"/lti_launches", "/lti/1.3/oidc", "/lti/1.3/jwks", "/lti/1.3/config.json":
		return path
	}

	// /api/{vendor}/oauth/{authorize,callback} and /api/{vendor}/... proxies
	if parts := strings.Split(strings.Trim(path, "/"), "/"); len(parts) >= 2 && parts[0] == "api" && knownVendors[parts[1]] {
		if len(parts) == 4 && parts[2] == "oauth" && (parts[3] == "authorize" || parts[3] == "callback") {
			return "/api/" + parts[1] + "/oauth/" + parts[3]
		}
		return "/api/" + parts[1] + "/proxy"
	}

	return "/other"
}
