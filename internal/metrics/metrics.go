// Package metrics holds the Prometheus collectors of the ledger service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "custodial_ledger"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"method", "path"},
	)

	transfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "transfers_total",
			Help:      "Outgoing transfers by entry type and final ledger status.",
		},
		[]string{"type", "status"},
	)

	transferDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "transfer_duration_seconds",
			Help:      "Time from pendiente to a terminal ledger status.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4m
		},
		[]string{"type"},
	)

	gasTopUps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gas",
			Name:      "top_ups_total",
			Help:      "Native currency top-ups sent by the treasury.",
		},
		[]string{"success"},
	)

	reconciled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "entries_total",
			Help:      "Entries resolved by the reconciler, by outcome.",
		},
		[]string{"outcome"},
	)

	ledgerWriteFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "write_failures_total",
			Help:      "Ledger rows that could not be written after funds moved on chain.",
		},
		[]string{"kind"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		transfers,
		transferDuration,
		gasTopUps,
		reconciled,
		ledgerWriteFailures,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// GinMiddleware records request count and latency per route template.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		httpRequests.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// RecordTransfer records an outgoing transfer that reached a terminal status.
func RecordTransfer(entryType, status string, duration time.Duration) {
	transfers.WithLabelValues(entryType, status).Inc()
	if duration > 0 {
		transferDuration.WithLabelValues(entryType).Observe(duration.Seconds())
	}
}

// RecordGasTopUp records one top-up attempt.
func RecordGasTopUp(success bool) {
	gasTopUps.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// RecordReconciled records the outcome of one reconciler decision.
func RecordReconciled(outcome string) {
	reconciled.WithLabelValues(outcome).Inc()
}

// RecordLedgerWriteFailure records a confirmed chain movement whose ledger
// row is missing.
func RecordLedgerWriteFailure(kind string) {
	ledgerWriteFailures.WithLabelValues(kind).Inc()
}
