// Package metrics provides Prometheus instrumentation for the llmgate
// services. Each binary exposes its registry at GET /metrics.
//
// Standard Go runtime and process metrics come with prometheus/client_golang;
// the gateway-specific series registered here:
//
//	llmgate_http_requests_total        — counter: requests by service/method/path/status
//	llmgate_http_request_duration_secs — histogram: handler latency
//	llmgate_rate_limited_total         — counter: 429s by tier and window
//	llmgate_upstream_errors_total      — counter: upstream failures by kind
//	llmgate_tokens_total               — counter: accounted tokens by direction
//	llmgate_issuance_events_total      — counter: issuance flow events
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPRequests counts HTTP requests by service, method, path, and status.
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "llmgate_http_requests_total",
	Help: "Total HTTP requests handled.",
}, []string{"service", "method", "path", "status"})

// HTTPDuration tracks handler latency.
var HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "llmgate_http_request_duration_seconds",
	Help:    "HTTP request latency in seconds.",
	Buckets: prometheus.DefBuckets,
}, []string{"service", "method", "path"})

// RateLimited counts admission rejections by tier and window scope.
var RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "llmgate_rate_limited_total",
	Help: "Requests rejected by the rate limiter.",
}, []string{"tier", "scope"})

// UpstreamErrors counts upstream forwarding failures by kind.
var UpstreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "llmgate_upstream_errors_total",
	Help: "Upstream forwarding failures.",
}, []string{"kind"})

// Tokens counts accounted tokens by direction (prompt / completion).
var Tokens = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "llmgate_tokens_total",
	Help: "Token usage accounted from upstream responses.",
}, []string{"direction"})

// IssuanceEvents counts self-service issuance flow events.
var IssuanceEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "llmgate_issuance_events_total",
	Help: "Issuance flow events by type and result.",
}, []string{"event", "result"})

// Handler returns the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware instruments a handler with request count and latency metrics.
// path should be the route pattern, not the raw URL, to bound cardinality.
func Middleware(service, path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		HTTPRequests.WithLabelValues(service, r.Method, path, strconv.Itoa(rec.status)).Inc()
		HTTPDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}
