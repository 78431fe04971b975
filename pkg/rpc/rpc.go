// Package rpc implements the request layer from spec §4.2: unary and
// streaming dispatch over a leased client from pkg/pool, the
// google-cloud-resource-prefix header, and the retry/backoff policy for
// idempotent calls.
package rpc

import (
	"context"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"

	firestorepb "google.golang.org/genproto/googleapis/firestore/v1"

	"github.com/cuemby/firekit/pkg/fserrors"
	"github.com/cuemby/firekit/pkg/log"
	"github.com/cuemby/firekit/pkg/metrics"
	"github.com/cuemby/firekit/pkg/pool"
	"github.com/cuemby/firekit/pkg/rbackoff"
	"github.com/cuemby/firekit/pkg/wire"
)

// MaxUnaryAttempts is the attempt cap for idempotent unary and streaming
// initiation calls (spec §4.2).
const MaxUnaryAttempts = 5

// Dispatcher leases clients from a pool.Pool and drives unary/streaming
// calls against them, applying headers and the retry policy uniformly.
type Dispatcher struct {
	Pool          *pool.Pool[firestorepb.FirestoreClient]
	DatabasePath  string
	CustomHeaders map[string]string
}

// NewDispatcher builds a Dispatcher over an already-constructed client pool.
func NewDispatcher(p *pool.Pool[firestorepb.FirestoreClient], databasePath string, customHeaders map[string]string) *Dispatcher {
	return &Dispatcher{Pool: p, DatabasePath: databasePath, CustomHeaders: customHeaders}
}

// withHeaders attaches the database resource-prefix header and any
// user-configured custom headers to ctx's outgoing metadata.
func (d *Dispatcher) withHeaders(ctx context.Context) context.Context {
	k, v := wire.DatabaseHeader(d.DatabasePath)
	md := metadata.Pairs(k, v)
	for hk, hv := range d.CustomHeaders {
		md.Append(hk, hv)
	}
	return metadata.NewOutgoingContext(ctx, md)
}

// Unary leases a client, attaches headers, and invokes call. When idempotent
// is true, retryable failures (spec §7) are retried up to MaxUnaryAttempts
// with jittered exponential backoff; a ResourceExhausted failure pegs the
// next delay to the backoff ceiling. Non-idempotent calls (writes) are never
// retried here — the transaction engine and BulkWriter own write retries.
func Unary[T any](ctx context.Context, d *Dispatcher, tag string, idempotent bool, call func(ctx context.Context, client firestorepb.FirestoreClient) (T, error)) (T, error) {
	logger := log.WithComponent("rpc")
	ctx = d.withHeaders(ctx)
	policy := rbackoff.NewPolicy()

	var zero T
	var lastErr error
	attempts := MaxUnaryAttempts
	if !idempotent {
		attempts = 1
	}

	timer := metrics.NewTimer()
	for attempt := 1; attempt <= attempts; attempt++ {
		var result T
		err := d.Pool.Run(ctx, tag, func(client firestorepb.FirestoreClient) error {
			var callErr error
			result, callErr = call(ctx, client)
			return callErr
		})
		if err == nil {
			metrics.RequestsTotal.WithLabelValues(tag, "ok").Inc()
			timer.ObserveDurationVec(metrics.RequestDuration, tag)
			return result, nil
		}
		lastErr = err
		if !idempotent || !fserrors.IsRetryable(err) {
			metrics.RequestsTotal.WithLabelValues(tag, "error").Inc()
			timer.ObserveDurationVec(metrics.RequestDuration, tag)
			return zero, err
		}
		if attempt == attempts {
			break
		}
		metrics.RequestRetriesTotal.WithLabelValues(tag).Inc()
		delay := policy.Next()
		if fserrors.Code(err) == codes.ResourceExhausted {
			delay = policy.PegToMax()
		}
		logger.Debug().Str("tag", tag).Int("attempt", attempt).Err(err).Dur("delay", delay).Msg("retrying unary call")
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}
	metrics.RequestsTotal.WithLabelValues(tag, "error").Inc()
	timer.ObserveDurationVec(metrics.RequestDuration, tag)
	return zero, lastErr
}
