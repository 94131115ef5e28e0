// Package metrics provides Prometheus metrics for the markdok server.
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
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markdok_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "markdok_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Namespace operation metrics
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markdok_operations_total",
			Help: "Namespace operations by outcome",
		},
		[]string{"op", "result"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "markdok_operation_duration_seconds",
			Help:    "Namespace operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	entriesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "markdok_entries",
			Help: "Number of entries in the namespace",
		},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "markdok_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "markdok_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	// Live update metrics
	wsClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "markdok_ws_clients",
			Help: "Number of connected websocket clients",
		},
	)

	importedEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markdok_imported_entries_total",
			Help: "Entries created by folder import and sync",
		},
		[]string{"kind"},
	)
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency per route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// RecordOperation records one namespace operation and its outcome.
func RecordOperation(op, result string, duration time.Duration) {
	operationsTotal.WithLabelValues(op, result).Inc()
	operationDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// SetEntries sets the namespace size gauge.
func SetEntries(n int64) {
	entriesTotal.Set(float64(n))
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// SetDBConnectionsOpen sets the open connection gauge.
func SetDBConnectionsOpen(n int) {
	dbConnectionsOpen.Set(float64(n))
}

// SetWSClients sets the websocket client gauge.
func SetWSClients(n int) {
	wsClients.Set(float64(n))
}

// RecordImport counts an entry created by import or sync.
func RecordImport(isDir bool) {
	kind := "file"
	if isDir {
		kind = "directory"
	}
	importedEntries.WithLabelValues(kind).Inc()
}
