package rpc

import (
	"context"
	"errors"
	"time"

	firestorepb "google.golang.org/genproto/googleapis/firestore/v1"

	"github.com/cuemby/firekit/pkg/fserrors"
	"github.com/cuemby/firekit/pkg/log"
	"github.com/cuemby/firekit/pkg/rbackoff"
)

// ErrStreamClosed is returned by RunStream when ctx is cancelled while it
// waits to retry a stream that never became ready.
var ErrStreamClosed = errors.New("rpc: stream closed before ready")

// RunStream leases a client for the lifetime of a long-lived streaming call
// and drives fn, which must open the stream, consume messages, and call
// ready() exactly once — either after the first datum arrives or once the
// server has signaled stream readiness (spec §4.2's "wait for first data or
// error" contract). fn keeps running (forwarding messages to the caller's
// own channels/state) until the stream ends or ctx is cancelled; the pool
// lease is held for that entire duration, matching how a real long-lived
// Listen/BatchGetDocuments stream consumes one of a client's C concurrent
// request slots.
//
// If idempotent is true and fn returns an error before calling ready, the
// whole attempt (including reopening the stream) is retried up to
// MaxUnaryAttempts with backoff, exactly like a unary call. Once ready has
// fired, RunStream never retries internally — errors from that point are
// the caller's to classify and react to (Watch's reconnect logic, for
// instance).
func RunStream(ctx context.Context, d *Dispatcher, tag string, idempotent bool, fn func(ctx context.Context, client firestorepb.FirestoreClient, ready func()) error) error {
	logger := log.WithComponent("rpc")
	ctx = d.withHeaders(ctx)
	policy := rbackoff.NewPolicy()

	attempts := MaxUnaryAttempts
	if !idempotent {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		becameReady := false
		readyFn := func() { becameReady = true }

		err := d.Pool.Run(ctx, tag, func(client firestorepb.FirestoreClient) error {
			return fn(ctx, client, readyFn)
		})
		if err == nil {
			return nil
		}
		if becameReady || !idempotent || !fserrors.IsRetryable(err) {
			return err
		}
		if attempt == attempts {
			return err
		}
		delay := policy.Next()
		logger.Debug().Str("tag", tag).Int("attempt", attempt).Err(err).Dur("delay", delay).Msg("retrying stream initiation")
		select {
		case <-ctx.Done():
			return ErrStreamClosed
		case <-time.After(delay):
		}
	}
	return errors.New("rpc: unreachable")
}
