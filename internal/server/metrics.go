package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	aegisRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	aegisRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aegis_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	aegisLedgerAppendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aegis_ledger_appends_total",
		Help: "Total events appended to the ledger via the ingest endpoint.",
	})

	aegisLedgerLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aegis_ledger_length",
		Help: "Current number of events on the ledger chain.",
	})

	aegisKernelTicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_kernel_ticks_total",
		Help: "Kernel ticks received, by outcome (skipped, clean, violations).",
	}, []string{"outcome"})

	aegisViolationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_violations_total",
		Help: "Invariant violations detected, by severity and rule.",
	}, []string{"severity", "rule"})

	aegisHaltRequested = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aegis_halt_requested",
		Help: "1 when the watchdog has latched a halt request, else 0.",
	})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		aegisRequestsTotal.WithLabelValues(
			c.Request.Method, path, strconv.Itoa(c.Writer.Status()),
		).Inc()
		aegisRequestDuration.WithLabelValues(c.Request.Method, path).
			Observe(time.Since(start).Seconds())
	}
}

// MetricsHandler exposes the Prometheus registry.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
