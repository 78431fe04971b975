// Package metrics exposes Prometheus instrumentation for the client pool,
// request layer, transaction engine, watch engine, and bulk writer.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Pool metrics (spec §4.1)
	PoolChannelsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "firekit_pool_channels_open",
			Help: "Number of gRPC channels currently held by the client pool",
		},
	)

	PoolLeasesInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "firekit_pool_leases_in_flight",
			Help: "Number of RPCs currently leasing a pooled channel",
		},
	)

	// Request layer metrics (spec §4.2)
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firekit_requests_total",
			Help: "Total number of RPCs dispatched, by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "firekit_request_duration_seconds",
			Help:    "RPC duration in seconds, by method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	RequestRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firekit_request_retries_total",
			Help: "Total number of retried RPC attempts, by method",
		},
		[]string{"method"},
	)

	// Transaction engine metrics (spec §4.3)
	TransactionAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firekit_transaction_attempts_total",
			Help: "Total number of transaction attempts, by outcome",
		},
		[]string{"outcome"},
	)

	TransactionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "firekit_transaction_duration_seconds",
			Help:    "Time from RunTransaction start to final commit or failure",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Watch engine metrics (spec §4.4)
	WatchReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "firekit_watch_reconnects_total",
			Help: "Total number of Listen stream reconnect attempts",
		},
	)

	WatchSnapshotsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "firekit_watch_snapshots_total",
			Help: "Total number of query snapshots emitted",
		},
	)

	WatchFilterMismatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "firekit_watch_filter_mismatches_total",
			Help: "Total number of existence-filter mismatches forcing a full resync",
		},
	)

	WatchActiveTargets = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "firekit_watch_active_targets",
			Help: "Number of currently active Watch targets",
		},
	)

	// BulkWriter / rate limiter metrics (spec §4.5)
	BulkWriterBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firekit_bulkwriter_batches_total",
			Help: "Total number of BatchWrite requests dispatched, by outcome",
		},
		[]string{"outcome"},
	)

	BulkWriterWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firekit_bulkwriter_writes_total",
			Help: "Total number of individual writes resolved by the bulk writer, by outcome",
		},
		[]string{"outcome"},
	)

	RateLimiterAvailableTokens = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "firekit_ratelimiter_available_tokens",
			Help: "Tokens currently available in the bulk writer's rate limiter bucket",
		},
	)

	RateLimiterCapacity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "firekit_ratelimiter_capacity",
			Help: "Current steady-state capacity of the bulk writer's rate limiter bucket",
		},
	)
)

func init() {
	prometheus.MustRegister(
		PoolChannelsOpen,
		PoolLeasesInFlight,
		RequestsTotal,
		RequestDuration,
		RequestRetriesTotal,
		TransactionAttemptsTotal,
		TransactionDuration,
		WatchReconnectsTotal,
		WatchSnapshotsTotal,
		WatchFilterMismatchesTotal,
		WatchActiveTargets,
		BulkWriterBatchesTotal,
		BulkWriterWritesTotal,
		RateLimiterAvailableTokens,
		RateLimiterCapacity,
	)
}

// Handler returns the Prometheus HTTP handler for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
