package watch

import (
	"context"
	"errors"
	"sync"
	"time"

	firestorepb "google.golang.org/genproto/googleapis/firestore/v1"
	rpcstatus "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cuemby/firekit/pkg/fsdoc"
	"github.com/cuemby/firekit/pkg/fserrors"
	"github.com/cuemby/firekit/pkg/fsquery"
	"github.com/cuemby/firekit/pkg/log"
	"github.com/cuemby/firekit/pkg/metrics"
	"github.com/cuemby/firekit/pkg/rbackoff"
	"github.com/cuemby/firekit/pkg/rpc"
	"github.com/cuemby/firekit/pkg/wire"
)

// fixedTargetID is the target id a single-target Watcher always uses; one
// Watcher drives exactly one Listen target, so there is no need to
// allocate distinct ids across targets the way a multi-target client would.
const fixedTargetID = 1

// fatalError terminates the subscription outright: no reconnect is
// attempted and the error is surfaced to the subscriber (spec §4.4: ADD
// with an unexpected target id, or REMOVE).
type fatalError struct{ err error }

func (f *fatalError) Error() string { return f.err.Error() }
func (f *fatalError) Unwrap() error { return f.err }

// filterMismatchError signals that the server's existence-filter count
// disagreed with the local docMap size; the caller must discard all target
// state and reconnect without the resume token (spec §4.4's filter
// handling; full resync).
type filterMismatchError struct{}

func (filterMismatchError) Error() string { return "watch: existence filter count mismatch" }

// Watcher drives one Listen-stream target end to end: the
// Connecting/Running/Reconnecting state machine, pending-change
// accumulation, snapshot assembly, and resume/filter-mismatch reconnection
// (spec §4.4).
type Watcher struct {
	dispatcher   *rpc.Dispatcher
	databasePath string
	query        fsquery.Query
	onSnapshot   func(QuerySnapshot)
	onError      func(error)

	mu           sync.Mutex
	unsubscribed bool
	cancel       context.CancelFunc
}

// New builds a Watcher for query. onSnapshot is invoked with every emitted
// QuerySnapshot; onError is invoked at most once, when the subscription
// terminates on a fatal or non-retryable error. It is not invoked after
// Unsubscribe or when the caller's context is cancelled.
// Call Start to begin streaming.
func New(d *rpc.Dispatcher, databasePath string, query fsquery.Query, onSnapshot func(QuerySnapshot), onError func(error)) *Watcher {
	return &Watcher{dispatcher: d, databasePath: databasePath, query: query, onSnapshot: onSnapshot, onError: onError}
}

// Start launches the Watch loop in its own goroutine and returns
// immediately; it runs until Unsubscribe is called or a fatal/non-retryable
// error occurs.
func (w *Watcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()
	go w.run(ctx)
}

// Unsubscribe prevents any further snapshot emission and cancels any
// pending reconnect backoff (spec §5).
func (w *Watcher) Unsubscribe() {
	w.mu.Lock()
	w.unsubscribed = true
	cancel := w.cancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (w *Watcher) isUnsubscribed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.unsubscribed
}

func (w *Watcher) run(ctx context.Context) {
	logger := log.WithComponent("watch")
	state := newTargetState(w.query)
	policy := rbackoff.NewPolicy()
	resumeToken := []byte(nil)

	metrics.WatchActiveTargets.Inc()
	defer metrics.WatchActiveTargets.Dec()

	for {
		if w.isUnsubscribed() {
			return
		}
		err := w.listenOnce(ctx, state, resumeToken)
		if err == nil {
			return // graceful stream end with no pending reconnect
		}
		if w.isUnsubscribed() || ctx.Err() != nil {
			return
		}

		var fatal *fatalError
		if errors.As(err, &fatal) {
			w.onError(fatal.err)
			return
		}
		if errors.Is(err, filterMismatchError{}) {
			logger.Warn().Msg("existence filter mismatch, forcing full resync")
			metrics.WatchFilterMismatchesTotal.Inc()
			state.reset()
			resumeToken = nil
			policy.Reset()
			continue
		}
		if !fserrors.IsRetryable(err) {
			w.onError(err)
			return
		}

		metrics.WatchReconnectsTotal.Inc()
		delay := policy.Next()
		logger.Debug().Err(err).Dur("delay", delay).Msg("reconnecting watch stream")
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		resumeToken = state.resumeToken
	}
}

// listenOnce opens one Listen stream, sends addTarget carrying
// resumeToken, and processes messages until the stream ends or fails.
func (w *Watcher) listenOnce(ctx context.Context, state *targetState, resumeToken []byte) error {
	return rpc.RunStream(ctx, w.dispatcher, "Listen", true, func(ctx context.Context, client firestorepb.FirestoreClient, ready func()) error {
		stream, err := client.Listen(ctx)
		if err != nil {
			return err
		}
		if err := stream.Send(w.addTargetRequest(resumeToken)); err != nil {
			return err
		}

		first := true
		for {
			msg, err := stream.Recv()
			if err != nil {
				return err
			}
			if first {
				ready()
				first = false
			}
			if stop, err := w.handleMessage(state, msg); stop {
				return err
			}
		}
	})
}

func (w *Watcher) addTargetRequest(resumeToken []byte) *firestorepb.ListenRequest {
	parent, sq := wire.ToStructuredQuery(w.databasePath, w.query)
	target := &firestorepb.Target{
		TargetId: fixedTargetID,
		TargetType: &firestorepb.Target_Query{
			Query: &firestorepb.Target_QueryTarget{
				Parent:    parent,
				QueryType: &firestorepb.Target_QueryTarget_StructuredQuery{StructuredQuery: sq},
			},
		},
	}
	if len(resumeToken) > 0 {
		target.ResumeType = &firestorepb.Target_ResumeToken{ResumeToken: resumeToken}
	}
	return &firestorepb.ListenRequest{
		Database: w.databasePath,
		TargetChange: &firestorepb.ListenRequest_AddTarget{AddTarget: target},
	}
}

// handleMessage processes one ListenResponse. stop is true only when the
// stream must end, fatally or via filter mismatch; snapshot emission keeps
// the stream open. When stop is true, the returned error is the reason.
func (w *Watcher) handleMessage(state *targetState, msg *firestorepb.ListenResponse) (stop bool, err error) {
	switch t := msg.ResponseType.(type) {
	case *firestorepb.ListenResponse_TargetChange:
		return w.handleTargetChange(state, t.TargetChange)
	case *firestorepb.ListenResponse_DocumentChange:
		w.handleDocumentChange(state, t.DocumentChange)
	case *firestorepb.ListenResponse_DocumentDelete:
		w.handleDocumentGone(state, t.DocumentDelete.GetDocument(), t.DocumentDelete.GetRemovedTargetIds())
	case *firestorepb.ListenResponse_DocumentRemove:
		w.handleDocumentGone(state, t.DocumentRemove.GetDocument(), t.DocumentRemove.GetRemovedTargetIds())
	case *firestorepb.ListenResponse_Filter:
		return w.handleFilter(state, t.Filter)
	}
	return false, nil
}

func hasTarget(ids []int32, target int32) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}

func (w *Watcher) handleTargetChange(state *targetState, tc *firestorepb.TargetChange) (bool, error) {
	switch tc.TargetChangeType {
	case firestorepb.TargetChange_ADD:
		if !hasTarget(tc.TargetIds, fixedTargetID) {
			return true, &fatalError{errors.New("watch: unexpected target ID")}
		}
	case firestorepb.TargetChange_REMOVE:
		return true, &fatalError{removeStatusError(tc.Cause)}
	case firestorepb.TargetChange_CURRENT:
		state.current = true
		if len(tc.ResumeToken) > 0 {
			state.resumeToken = tc.ResumeToken
		}
	case firestorepb.TargetChange_RESET:
		state.reset()
		if len(tc.ResumeToken) > 0 {
			state.resumeToken = tc.ResumeToken
		}
	case firestorepb.TargetChange_NO_CHANGE:
		if len(tc.ResumeToken) > 0 {
			state.resumeToken = tc.ResumeToken
		}
		if len(tc.TargetIds) != 0 {
			return false, nil // non-matching target id list: ignored
		}
		readTime := tc.GetReadTime().AsTime()
		if !readTime.After(state.lastReadTime) {
			return false, nil
		}
		snap := state.assemble(readTime)
		metrics.WatchSnapshotsTotal.Inc()
		w.onSnapshot(snap)
	}
	return false, nil
}

func removeStatusError(cause *rpcstatus.Status) error {
	if cause == nil {
		return status.Error(codes.Internal, "watch: target removed")
	}
	return status.Error(codes.Code(cause.GetCode()), cause.GetMessage())
}

func (w *Watcher) handleDocumentChange(state *targetState, dc *firestorepb.DocumentChange) {
	if hasTarget(dc.TargetIds, fixedTargetID) {
		doc := wire.FromProtoDocument(w.databasePath, dc.Document, time.Time{})
		state.applyDocChange(doc)
		return
	}
	if hasTarget(dc.RemovedTargetIds, fixedTargetID) {
		doc := wire.FromProtoDocument(w.databasePath, dc.Document, time.Time{})
		state.applyDocTombstone(doc.Ref)
	}
}

func (w *Watcher) handleDocumentGone(state *targetState, name string, removedTargetIDs []int32) {
	if !hasTarget(removedTargetIDs, fixedTargetID) {
		return
	}
	ref := fsdoc.Ref{Path: wire.RelativePath(name)}
	state.applyDocTombstone(ref)
}

func (w *Watcher) handleFilter(state *targetState, f *firestorepb.ExistenceFilter) (bool, error) {
	if f.GetTargetId() != fixedTargetID {
		return false, nil
	}
	if int(f.GetCount()) != len(state.docMap) {
		return true, filterMismatchError{}
	}
	return false, nil
}
