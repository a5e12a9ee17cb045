package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dxcp_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dxcp_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	deploymentsAcceptedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dxcp_deployments_accepted_total",
			Help: "Total number of accepted deployment intents",
		},
	)

	refusalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dxcp_refusals_total",
			Help: "Total number of refused requests by status class",
		},
		[]string{"type"},
	)
)

// Metrics returns a middleware that records Prometheus metrics.
func Metrics() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrapResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			// Route pattern keeps metric cardinality bounded.
			path := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				path = rctx.RoutePattern()
			}

			status := strconv.Itoa(wrapped.status)
			httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())

			if r.Method == http.MethodPost && path == "/v1/deployments" && wrapped.status == http.StatusCreated {
				deploymentsAcceptedTotal.Inc()
			}
			if wrapped.status >= 500 {
				refusalsTotal.WithLabelValues("server_error").Inc()
			} else if wrapped.status >= 400 {
				refusalsTotal.WithLabelValues("client_error").Inc()
			}
		})
	}
}
