// Package metrics holds the Prometheus collectors of the gateway.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmur_http_requests_total",
			Help: "Total number of HTTP requests served",
		},
		[]string{"route", "status", "method"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llmur_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmur_upstream_requests_total",
			Help: "Total number of calls to upstream providers",
		},
		[]string{"provider", "status"},
	)

	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llmur_upstream_duration_seconds",
			Help:    "Time until an upstream provider answered, in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider"},
	)

	RateLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmur_rate_limit_rejections_total",
			Help: "Total number of requests rejected by quotas",
		},
		[]string{"scope"},
	)

	RouterSelectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmur_router_selections_total",
			Help: "Total number of connections picked per deployment",
		},
		[]string{"deployment", "connection"},
	)

	RequestLogDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "llmur_request_log_dropped_total",
			Help: "Total number of request log records dropped because the queue was full",
		},
	)
)

// ObserveUpstream records one upstream call. status 0 means a transport failure.
func ObserveUpstream(provider string, status int, elapsed time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	UpstreamRequestsTotal.WithLabelValues(provider, label).Inc()
	UpstreamDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// Middleware counts requests by matched route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(c.Writer.Status()), method).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
