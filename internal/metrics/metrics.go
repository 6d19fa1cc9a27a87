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
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docchat_http_requests_total",
		Help: "HTTP requests by route, method and status.",
	}, []string{"route", "method", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docchat_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	IngestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docchat_ingest_total",
		Help: "Document ingestion outcomes.",
	}, []string{"status"})

	IngestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "docchat_ingest_duration_seconds",
		Help:    "Time spent processing one document.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docchat_cache_lookups_total",
		Help: "Cache lookups by cache and result.",
	}, []string{"cache", "result"})

	ChatLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docchat_chat_latency_seconds",
		Help:    "End to end answer latency.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40},
	}, []string{"cached"})

	SearchLegFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docchat_search_leg_failures_total",
		Help: "Hybrid search legs that failed and were skipped.",
	}, []string{"leg"})

	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docchat_rate_limited_total",
		Help: "Requests rejected by the rate limiter.",
	}, []string{"rule"})

	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docchat_job_runs_total",
		Help: "Scheduled job runs by job and outcome.",
	}, []string{"job", "result"})
)

func Hit(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookups.WithLabelValues(cache, result).Inc()
}

// Middleware records request counts and latency keyed by the matched route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		HTTPRequests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPDuration.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}
