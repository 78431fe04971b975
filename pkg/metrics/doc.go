/*
Package metrics provides Prometheus metrics collection and exposition for
firekit's client pool, request layer, transaction engine, watch engine,
and bulk writer.

Metrics are registered at package init against the default Prometheus
registry and exposed via Handler for scraping.

# Pool metrics

	firekit_pool_channels_open:
	  - Type: Gauge
	  - Description: number of gRPC channels currently held by the pool.

	firekit_pool_leases_in_flight:
	  - Type: Gauge
	  - Description: number of RPCs currently leasing a pooled channel.

# Request layer metrics

	firekit_requests_total{method, outcome}:
	  - Type: Counter
	  - Description: RPCs dispatched, labeled by method name and "ok"/"error".

	firekit_request_duration_seconds{method}:
	  - Type: Histogram
	  - Description: RPC duration including any retries.

	firekit_request_retries_total{method}:
	  - Type: Counter
	  - Description: retried attempts, by method.

# Transaction engine metrics

	firekit_transaction_attempts_total{outcome}:
	  - Type: Counter
	  - Description: transaction attempts, labeled "committed", "retried",
	    "failed", or "user_error".

	firekit_transaction_duration_seconds:
	  - Type: Histogram
	  - Description: time from RunTransaction start to final commit or
	    failure, across all retried attempts.

# Watch engine metrics

	firekit_watch_reconnects_total:
	  - Type: Counter
	  - Description: Listen stream reconnect attempts.

	firekit_watch_snapshots_total:
	  - Type: Counter
	  - Description: query snapshots emitted to subscribers.

	firekit_watch_filter_mismatches_total:
	  - Type: Counter
	  - Description: existence-filter mismatches that forced a full resync.

	firekit_watch_active_targets:
	  - Type: Gauge
	  - Description: currently active Watch targets.

# BulkWriter / rate limiter metrics

	firekit_bulkwriter_batches_total{outcome}:
	  - Type: Counter
	  - Description: BatchWrite requests dispatched, by "ok"/"error".

	firekit_bulkwriter_writes_total{outcome}:
	  - Type: Counter
	  - Description: individual writes resolved, by "ok"/"error".

	firekit_ratelimiter_available_tokens:
	  - Type: Gauge
	  - Description: tokens currently available in the bulk writer's bucket.

	firekit_ratelimiter_capacity:
	  - Type: Gauge
	  - Description: current steady-state capacity of that bucket.

# Usage

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	timer := metrics.NewTimer()
	// ... do work ...
	timer.ObserveDurationVec(metrics.RequestDuration, "GetDocument")

# Health

RegisterComponent/ComponentStatus track process-level health independent
of Prometheus, for apps that embed firekit behind their own health
checks. A Client registers "pool" as healthy once its channel pool is
constructed and marks it unhealthy on Terminate; firekit itself serves
no HTTP endpoint for this.

# Suggested alerts

  - Elevated retry rate: rate(firekit_request_retries_total[5m]) high relative
    to rate(firekit_requests_total[5m])
  - Watch churn: rate(firekit_watch_reconnects_total[5m]) > 0 sustained
  - Rate limiter exhaustion: firekit_ratelimiter_available_tokens near 0
    while bulkwriter writes are still queued
*/
package metrics
