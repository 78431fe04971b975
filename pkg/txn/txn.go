// Package txn implements the transaction engine from spec §4.3:
// ReadOnly and ReadWrite transactions, lazy transaction-id acquisition,
// buffered writes, commit/rollback, and backoff-driven retry.
package txn

import (
	"context"
	"sync"
	"time"

	firestorepb "google.golang.org/genproto/googleapis/firestore/v1"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/cuemby/firekit/pkg/fsdoc"
	"github.com/cuemby/firekit/pkg/fserrors"
	"github.com/cuemby/firekit/pkg/log"
	"github.com/cuemby/firekit/pkg/metrics"
	"github.com/cuemby/firekit/pkg/rbackoff"
	"github.com/cuemby/firekit/pkg/rpc"
	"github.com/cuemby/firekit/pkg/wire"
)

// Mode selects read-only or read-write semantics (spec §4.3).
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

// Phase is the transaction's lifecycle state (spec §3).
type Phase int

const (
	PhaseReading Phase = iota
	PhaseWriting
	PhaseCommitted
	PhaseRolledBack
)

// DefaultMaxAttempts is the default retry cap for RunReadWrite (spec §4.3).
const DefaultMaxAttempts = 5

// Transaction carries per-attempt state: its id (once acquired), phase,
// and buffered writes. A fresh Transaction is created for every retry
// attempt by the Engine; it is not reused across attempts.
type Transaction struct {
	dispatcher   *rpc.Dispatcher
	databasePath string
	mode         Mode
	readTime     *time.Time
	prevAttempt  []byte

	mu        sync.Mutex
	id        []byte
	acquiring bool
	idReady   chan struct{}
	phase     Phase
	writes    []Write
}

func newTransaction(d *rpc.Dispatcher, databasePath string, mode Mode, readTime *time.Time, prevAttempt []byte) *Transaction {
	return &Transaction{
		dispatcher:   d,
		databasePath: databasePath,
		mode:         mode,
		readTime:     readTime,
		prevAttempt:  prevAttempt,
		idReady:      make(chan struct{}),
	}
}

// ID returns the server-assigned transaction id, or nil if none has been
// acquired yet (possible for a no-op transaction, or a ReadOnly transaction
// pinned to an explicit readTime).
func (t *Transaction) ID() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

// Get reads one document within the transaction, applying the lazy
// transaction-id acquisition discipline from spec §4.3: the first read to
// start (with no id or explicit readTime yet known) becomes the "id
// acquirer" and piggybacks newTransaction on its BatchGetDocuments call;
// concurrent reads starting before the id is known block until the
// acquirer resolves it, then proceed carrying that id.
func (t *Transaction) Get(ctx context.Context, ref fsdoc.Ref) (fsdoc.Snapshot, error) {
	t.mu.Lock()
	if t.phase != PhaseReading {
		t.mu.Unlock()
		return fsdoc.Snapshot{}, fserrors.NewCallerError("ref", "read issued after a write was buffered in this transaction")
	}
	isAcquirer := false
	needsID := t.readTime == nil
	if needsID && t.id == nil && !t.acquiring {
		t.acquiring = true
		isAcquirer = true
	}
	ready := t.idReady
	t.mu.Unlock()

	if needsID && !isAcquirer {
		t.mu.Lock()
		known := t.id != nil
		t.mu.Unlock()
		if !known {
			select {
			case <-ready:
			case <-ctx.Done():
				return fsdoc.Snapshot{}, ctx.Err()
			}
		}
	}

	req := &firestorepb.BatchGetDocumentsRequest{
		Database:  t.databasePath,
		Documents: []string{wire.FullDocumentName(t.databasePath, ref.Path)},
	}
	t.mu.Lock()
	switch {
	case t.readTime != nil:
		req.ConsistencySelector = &firestorepb.BatchGetDocumentsRequest_ReadTime{ReadTime: timestamppb.New(*t.readTime)}
	case isAcquirer:
		req.ConsistencySelector = &firestorepb.BatchGetDocumentsRequest_NewTransaction{
			NewTransaction: t.transactionOptions(),
		}
	default:
		req.ConsistencySelector = &firestorepb.BatchGetDocumentsRequest_Transaction{Transaction: t.id}
	}
	t.mu.Unlock()

	resp, err := rpc.Unary(ctx, t.dispatcher, "BatchGetDocuments", true, func(ctx context.Context, client firestorepb.FirestoreClient) (*firestorepb.BatchGetDocumentsResponse, error) {
		stream, err := client.BatchGetDocuments(ctx, req)
		if err != nil {
			return nil, err
		}
		return stream.Recv()
	})

	if isAcquirer {
		t.mu.Lock()
		if err == nil {
			t.id = resp.GetTransaction()
		}
		close(t.idReady)
		t.mu.Unlock()
	}
	if err != nil {
		return fsdoc.Snapshot{}, err
	}

	readTime := resp.GetReadTime().AsTime()
	switch result := resp.Result.(type) {
	case *firestorepb.BatchGetDocumentsResponse_Found:
		return wire.FromProtoDocument(t.databasePath, result.Found, readTime), nil
	case *firestorepb.BatchGetDocumentsResponse_Missing:
		return fsdoc.Snapshot{Ref: ref, ReadTime: readTime}, nil
	default:
		return fsdoc.Snapshot{Ref: ref, ReadTime: readTime}, nil
	}
}

// transactionOptions builds the TransactionOptions for this transaction's
// first (id-acquiring) read. mu must be held.
func (t *Transaction) transactionOptions() *firestorepb.TransactionOptions {
	if t.mode == ReadOnly {
		return &firestorepb.TransactionOptions{
			TransactionType: &firestorepb.TransactionOptions_ReadOnly_{
				ReadOnly: &firestorepb.TransactionOptions_ReadOnly{},
			},
		}
	}
	rw := &firestorepb.TransactionOptions_ReadWrite{}
	if t.prevAttempt != nil {
		rw.RetryTransaction = t.prevAttempt
	}
	return &firestorepb.TransactionOptions{
		TransactionType: &firestorepb.TransactionOptions_ReadWrite_{ReadWrite: rw},
	}
}

// Buffer queues a write. Per spec §4.3's read-before-write invariant, this
// is only valid in ReadWrite mode and transitions the phase to Writing,
// after which Get raises a caller error.
func (t *Transaction) Buffer(w Write) error {
	if t.mode != ReadWrite {
		return fserrors.NewCallerError("w", "writes are not permitted in a ReadOnly transaction")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.phase == PhaseCommitted || t.phase == PhaseRolledBack {
		return fserrors.NewCallerError("w", "transaction is no longer active")
	}
	t.phase = PhaseWriting
	t.writes = append(t.writes, w)
	return nil
}

// commit sends every buffered write atomically, carrying the transaction
// id if one was acquired. A transaction that performed no reads and no
// writes still issues exactly one Commit with an empty writes array and no
// id (spec §8 scenario 1).
func (t *Transaction) commit(ctx context.Context) (*firestorepb.CommitResponse, error) {
	t.mu.Lock()
	writes := make([]*firestorepb.Write, len(t.writes))
	for i, w := range t.writes {
		writes[i] = toProtoWrite(t.databasePath, w)
	}
	id := t.id
	t.mu.Unlock()

	req := &firestorepb.CommitRequest{Database: t.databasePath, Writes: writes, Transaction: id}
	resp, err := rpc.Unary(ctx, t.dispatcher, "Commit", false, func(ctx context.Context, client firestorepb.FirestoreClient) (*firestorepb.CommitResponse, error) {
		return client.Commit(ctx, req)
	})
	t.mu.Lock()
	if err == nil {
		t.phase = PhaseCommitted
	}
	t.mu.Unlock()
	return resp, err
}

// rollback best-effort releases the transaction id server-side. Rollback
// failures are retryable identically to other RPCs and are otherwise
// swallowed, per spec §4.3 step 1 ("best-effort").
func (t *Transaction) rollback(ctx context.Context) {
	t.mu.Lock()
	id := t.id
	t.phase = PhaseRolledBack
	t.mu.Unlock()
	if id == nil {
		return
	}
	req := &firestorepb.RollbackRequest{Database: t.databasePath, Transaction: id}
	_, _ = rpc.Unary(ctx, t.dispatcher, "Rollback", true, func(ctx context.Context, client firestorepb.FirestoreClient) (*firestorepb.RollbackResponse, error) {
		return client.Rollback(ctx, req)
	})
}

// Engine runs transaction attempts with retry, per spec §4.3.
type Engine struct {
	Dispatcher   *rpc.Dispatcher
	DatabasePath string
	MaxAttempts  int
}

// NewEngine builds an Engine. maxAttempts <= 0 uses DefaultMaxAttempts.
func NewEngine(d *rpc.Dispatcher, databasePath string, maxAttempts int) *Engine {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Engine{Dispatcher: d, DatabasePath: databasePath, MaxAttempts: maxAttempts}
}

// RunReadOnly executes fn against a single consistent snapshot. If readTime
// is non-nil every read uses it directly and no transaction id is ever
// requested; otherwise the first read acquires one (spec §4.3).
func (e *Engine) RunReadOnly(ctx context.Context, readTime *time.Time, fn func(ctx context.Context, t *Transaction) error) error {
	t := newTransaction(e.Dispatcher, e.DatabasePath, ReadOnly, readTime, nil)
	return fn(ctx, t)
}

// RunReadWrite executes fn, retrying on retryable failure (spec §4.3,§7) up
// to e.MaxAttempts times. Failures raised by fn itself (user-code errors)
// propagate immediately without retry; only the surrounding transaction
// machinery (acquiring the id, buffering, commit, rollback) is retried.
func (e *Engine) RunReadWrite(ctx context.Context, fn func(ctx context.Context, t *Transaction) error) (*firestorepb.CommitResponse, error) {
	logger := log.WithComponent("txn")
	policy := rbackoff.NewPolicy()
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.TransactionDuration)

	var prevAttempt []byte
	var lastErr error
	for attempt := 1; attempt <= e.MaxAttempts; attempt++ {
		t := newTransaction(e.Dispatcher, e.DatabasePath, ReadWrite, nil, prevAttempt)
		logger.Debug().Int("attempt", attempt).Msg("starting transaction attempt")

		userErr := fn(ctx, t)
		if userErr != nil {
			// fn's own error (not a transaction-machinery failure): no
			// retry, but still best-effort rollback if an id was acquired.
			t.rollback(ctx)
			metrics.TransactionAttemptsTotal.WithLabelValues("user_error").Inc()
			return nil, userErr
		}

		resp, commitErr := t.commit(ctx)
		if commitErr == nil {
			metrics.TransactionAttemptsTotal.WithLabelValues("committed").Inc()
			return resp, nil
		}
		lastErr = commitErr
		if !fserrors.IsRetryableCommit(commitErr) {
			metrics.TransactionAttemptsTotal.WithLabelValues("failed").Inc()
			return nil, commitErr
		}
		metrics.TransactionAttemptsTotal.WithLabelValues("retried").Inc()

		prevAttempt = t.ID()
		t.rollback(ctx)

		if attempt == e.MaxAttempts {
			break
		}
		delay := policy.Next()
		logger.Debug().Int("attempt", attempt).Err(commitErr).Dur("delay", delay).Msg("retrying transaction")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}
