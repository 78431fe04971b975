// Package bulkwriter implements the throttled, batched write path from
// spec §4.5: operations queue up, the ratelimiter's token bucket paces how
// often a batch may be sent, and each batch commits via a single
// BatchWrite RPC.
package bulkwriter

import (
	"context"
	"sync"
	"time"

	firestorepb "google.golang.org/genproto/googleapis/firestore/v1"
	rpcstatus "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cuemby/firekit/pkg/log"
	"github.com/cuemby/firekit/pkg/metrics"
	"github.com/cuemby/firekit/pkg/ratelimiter"
	"github.com/cuemby/firekit/pkg/rpc"
	"github.com/cuemby/firekit/pkg/txn"
)

// DefaultMaxBatchSize is the server-imposed cap on writes per BatchWrite
// request.
const DefaultMaxBatchSize = 20

// Result is one write's outcome within a flushed batch.
type Result struct {
	UpdateTime time.Time
	Err        error
}

type pendingWrite struct {
	write  txn.Write
	result chan<- Result
}

// BulkWriter accepts create/set/update/delete operations, batches them,
// and throttles batch dispatch through a ratelimiter.Limiter. Unless
// explicitly disabled, throttling is on by default (spec §4.5).
type BulkWriter struct {
	dispatcher   *rpc.Dispatcher
	databasePath string
	maxBatchSize int
	throttle     bool
	limiter      *ratelimiter.Limiter

	mu      sync.Mutex
	pending []pendingWrite
	closed  bool
	wg      sync.WaitGroup
}

// New builds a BulkWriter. startTime seeds the rate limiter's ramp clock
// (normally time.Now at construction).
func New(d *rpc.Dispatcher, databasePath string, startTime time.Time) *BulkWriter {
	return &BulkWriter{
		dispatcher:   d,
		databasePath: databasePath,
		maxBatchSize: DefaultMaxBatchSize,
		throttle:     true,
		limiter:      ratelimiter.New(startTime),
	}
}

// DisableThrottling turns off rate limiting; batches are sent as soon as
// they fill, with no token-bucket wait.
func (b *BulkWriter) DisableThrottling() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.throttle = false
}

// Enqueue buffers one write operation, returning a channel that receives
// its outcome once the batch containing it is flushed. The batch is sent
// immediately once it reaches maxBatchSize; otherwise it waits for an
// explicit Flush.
func (b *BulkWriter) Enqueue(w txn.Write) <-chan Result {
	result := make(chan Result, 1)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		result <- Result{Err: errClosed}
		return result
	}
	b.pending = append(b.pending, pendingWrite{write: w, result: result})
	full := len(b.pending) >= b.maxBatchSize
	b.mu.Unlock()
	if full {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			_ = b.Flush(context.Background())
		}()
	}
	return result
}

// Flush sends every currently queued write as one or more BatchWrite
// requests, waiting on the rate limiter between batches when throttling is
// enabled.
func (b *BulkWriter) Flush(ctx context.Context) error {
	for {
		batch, done := b.drainBatch()
		if len(batch) == 0 {
			return nil
		}
		b.dispatchBatch(ctx, batch)
		if done {
			return nil
		}
	}
}

// Close flushes any remaining writes and refuses further Enqueue calls.
func (b *BulkWriter) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	err := b.Flush(ctx)
	b.wg.Wait()
	return err
}

var errClosed = &closedError{}

type closedError struct{}

func (*closedError) Error() string { return "bulkwriter: closed" }

// drainBatch removes up to maxBatchSize pending writes for dispatch. done
// reports whether the queue is now empty.
func (b *BulkWriter) drainBatch() (batch []pendingWrite, done bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.pending)
	if n > b.maxBatchSize {
		n = b.maxBatchSize
	}
	batch = b.pending[:n]
	b.pending = b.pending[n:]
	return batch, len(b.pending) == 0
}

func (b *BulkWriter) dispatchBatch(ctx context.Context, batch []pendingWrite) {
	logger := log.WithComponent("bulkwriter")
	b.mu.Lock()
	throttle := b.throttle
	b.mu.Unlock()

	if throttle {
		n := float64(len(batch))
		for {
			now := time.Now()
			b.mu.Lock()
			delayMs := b.limiter.GetNextRequestDelayMs(n, now)
			granted := delayMs >= 0 && b.limiter.TryMakeRequest(n, now)
			b.mu.Unlock()
			if delayMs < 0 {
				logger.Warn().Int("batch_size", len(batch)).Msg("batch exceeds rate limiter's eventual capacity")
				break
			}
			if granted {
				break
			}
			select {
			case <-ctx.Done():
				metrics.BulkWriterBatchesTotal.WithLabelValues("error").Inc()
				failAll(batch, ctx.Err())
				return
			case <-time.After(time.Duration(delayMs) * time.Millisecond):
			}
		}
		b.mu.Lock()
		metrics.RateLimiterAvailableTokens.Set(b.limiter.AvailableTokens())
		metrics.RateLimiterCapacity.Set(b.limiter.CapacityAt(time.Now()))
		b.mu.Unlock()
	}

	writes := make([]*firestorepb.Write, len(batch))
	for i, pw := range batch {
		writes[i] = txn.ToProtoWrite(b.databasePath, pw.write)
	}
	req := &firestorepb.BatchWriteRequest{Database: b.databasePath, Writes: writes}

	resp, err := rpc.Unary(ctx, b.dispatcher, "BatchWrite", false, func(ctx context.Context, client firestorepb.FirestoreClient) (*firestorepb.BatchWriteResponse, error) {
		return client.BatchWrite(ctx, req)
	})
	if err != nil {
		metrics.BulkWriterBatchesTotal.WithLabelValues("error").Inc()
		failAll(batch, err)
		return
	}
	metrics.BulkWriterBatchesTotal.WithLabelValues("ok").Inc()
	for i, pw := range batch {
		var r Result
		if i < len(resp.Status) && resp.Status[i] != nil && resp.Status[i].GetCode() != 0 {
			r.Err = writeStatusError(resp.Status[i])
			metrics.BulkWriterWritesTotal.WithLabelValues("error").Inc()
		} else {
			if i < len(resp.WriteResults) {
				r.UpdateTime = resp.WriteResults[i].GetUpdateTime().AsTime()
			}
			metrics.BulkWriterWritesTotal.WithLabelValues("ok").Inc()
		}
		pw.result <- r
		close(pw.result)
	}
}

func writeStatusError(s *rpcstatus.Status) error {
	return status.Error(codes.Code(s.GetCode()), s.GetMessage())
}

func failAll(batch []pendingWrite, err error) {
	for _, pw := range batch {
		pw.result <- Result{Err: err}
		close(pw.result)
	}
}
