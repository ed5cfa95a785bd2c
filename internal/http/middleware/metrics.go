package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Requests that matched no route share one label so scanners cannot grow
// the series count.
const unmatchedPath = "unmatched"

var (
	httpReqs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "path", "status"})

	httpLat = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency by method and route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	httpInflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_requests_inflight",
		Help: "HTTP requests currently being served.",
	})

	// Answer payloads of autosaves and submissions. Most forms stay under a
	// few KiB; the top bucket sits at the default body limit.
	answerPayload = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_answer_payload_bytes",
		Help:    "Request body size of draft saves and submissions.",
		Buckets: prometheus.ExponentialBuckets(256, 4, 7),
	}, []string{"method"})
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, answerPayload)
}

// Metrics records request counts, latency and in-flight requests, labelled
// by the route template (c.FullPath) rather than the raw URL. Bodies of
// PATCH and POST requests are observed in http_answer_payload_bytes.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = unmatchedPath
		}
		method := c.Request.Method
		httpReqs.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpLat.WithLabelValues(method, path).Observe(time.Since(start).Seconds())

		if (method == http.MethodPatch || method == http.MethodPost) && c.Request.ContentLength > 0 {
			answerPayload.WithLabelValues(method).Observe(float64(c.Request.ContentLength))
		}
	}
}
