package txn

import (
	"context"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	firestorepb "google.golang.org/genproto/googleapis/firestore/v1"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/firekit/pkg/fsdoc"
	"github.com/cuemby/firekit/pkg/pool"
	"github.com/cuemby/firekit/pkg/resource"
	"github.com/cuemby/firekit/pkg/rpc"
)

// fakeBatchGetStream yields one canned BatchGetDocumentsResponse, then fails
// every later Recv with context.Canceled, satisfying
// firestorepb.Firestore_BatchGetDocumentsClient.
type fakeBatchGetStream struct {
	grpc.ClientStream
	resp *firestorepb.BatchGetDocumentsResponse
	sent bool
}

func (s *fakeBatchGetStream) Recv() (*firestorepb.BatchGetDocumentsResponse, error) {
	if s.sent {
		return nil, context.Canceled
	}
	s.sent = true
	return s.resp, nil
}

// fakeFirestoreClient implements only the methods the transaction engine
// calls; every other firestorepb.FirestoreClient method is satisfied by the
// embedded nil interface and panics if ever invoked (unused by these tests).
type fakeFirestoreClient struct {
	firestorepb.FirestoreClient

	batchGetCalls []*firestorepb.BatchGetDocumentsRequest
	batchGetResp  *firestorepb.BatchGetDocumentsResponse

	commitCalls []*firestorepb.CommitRequest
	commitFn    func(n int) (*firestorepb.CommitResponse, error)

	rollbackCalls []*firestorepb.RollbackRequest
}

func (f *fakeFirestoreClient) BatchGetDocuments(ctx context.Context, in *firestorepb.BatchGetDocumentsRequest, opts ...grpc.CallOption) (firestorepb.Firestore_BatchGetDocumentsClient, error) {
	f.batchGetCalls = append(f.batchGetCalls, in)
	return &fakeBatchGetStream{resp: f.batchGetResp}, nil
}

func (f *fakeFirestoreClient) Commit(ctx context.Context, in *firestorepb.CommitRequest, opts ...grpc.CallOption) (*firestorepb.CommitResponse, error) {
	f.commitCalls = append(f.commitCalls, in)
	return f.commitFn(len(f.commitCalls))
}

func (f *fakeFirestoreClient) Rollback(ctx context.Context, in *firestorepb.RollbackRequest, opts ...grpc.CallOption) (*firestorepb.RollbackResponse, error) {
	f.rollbackCalls = append(f.rollbackCalls, in)
	return &firestorepb.RollbackResponse{}, nil
}

func newEngine(t *testing.T, client *fakeFirestoreClient) *Engine {
	t.Helper()
	p := pool.New(10, 1, func(ctx context.Context) (firestorepb.FirestoreClient, error) {
		return client, nil
	}, func(firestorepb.FirestoreClient) error { return nil })
	d := rpc.NewDispatcher(p, "projects/p/databases/(default)", nil)
	return NewEngine(d, "projects/p/databases/(default)", 5)
}

// TestEmptyReadWriteTransactionCommitsWithNoBegin implements spec §8
// scenario 1: a callback with no reads and no writes still issues exactly
// one Commit with an empty writes array, and no BeginTransaction RPC (the
// engine never issues one at all — lazy begin per spec §4.3/§9).
func TestEmptyReadWriteTransactionCommitsWithNoBegin(t *testing.T) {
	client := &fakeFirestoreClient{
		commitFn: func(n int) (*firestorepb.CommitResponse, error) { return &firestorepb.CommitResponse{}, nil },
	}
	e := newEngine(t, client)

	resp, err := e.RunReadWrite(context.Background(), func(ctx context.Context, tx *Transaction) error {
		return nil
	})

	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Len(t, client.commitCalls, 1)
	assert.Empty(t, client.commitCalls[0].Writes)
	assert.Nil(t, client.commitCalls[0].Transaction)
	assert.Empty(t, client.batchGetCalls)
}

// TestReadWriteTransactionRetriesOnUnavailableCommit implements spec §8
// scenario 2: a transaction that does one get, whose commit fails
// Unavailable once; the engine rolls back, backs off, and retries with
// prevTransactionId set to the first attempt's id.
func TestReadWriteTransactionRetriesOnUnavailableCommit(t *testing.T) {
	client := &fakeFirestoreClient{
		batchGetResp: &firestorepb.BatchGetDocumentsResponse{
			Transaction: []byte("foo1"),
			Result:      &firestorepb.BatchGetDocumentsResponse_Missing{Missing: "projects/p/databases/(default)/documents/c/a"},
		},
		commitFn: func(n int) (*firestorepb.CommitResponse, error) {
			if n == 1 {
				return nil, status.Error(codes.Unavailable, "down")
			}
			return &firestorepb.CommitResponse{}, nil
		},
	}
	e := newEngine(t, client)

	var attempts int
	resp, err := e.RunReadWrite(context.Background(), func(ctx context.Context, tx *Transaction) error {
		attempts++
		_, getErr := tx.Get(ctx, fsdoc.Ref{Path: resource.ParsePath("c/a")})
		return getErr
	})

	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 2, attempts)
	require.Len(t, client.commitCalls, 2)
	require.Len(t, client.rollbackCalls, 1)
	assert.Equal(t, []byte("foo1"), client.rollbackCalls[0].Transaction)
	require.Len(t, client.batchGetCalls, 2)

	first := client.batchGetCalls[0].GetNewTransaction()
	require.NotNil(t, first)
	assert.NotNil(t, first.GetReadWrite())

	second := client.batchGetCalls[1].GetNewTransaction()
	require.NotNil(t, second)
	assert.Equal(t, []byte("foo1"), second.GetReadWrite().GetRetryTransaction())
}

// TestReadAfterBufferedWriteIsCallerError implements the read-before-write
// invariant from spec §4.3: buffering a write transitions the phase to
// Writing, after which Get must raise a caller error.
func TestReadAfterBufferedWriteIsCallerError(t *testing.T) {
	tx := newTransaction(rpc.NewDispatcher(nil, "", nil), "", ReadWrite, nil, nil)

	err := tx.Buffer(Delete(fsdoc.Ref{Path: resource.ParsePath("c/a")}))
	require.NoError(t, err)

	_, err = tx.Get(context.Background(), fsdoc.Ref{Path: resource.ParsePath("c/b")})
	require.Error(t, err)
}

// TestReadOnlyTransactionWithExplicitReadTimeNeverRequestsID covers the
// ReadOnly-with-readTime path from spec §4.3: every read uses the explicit
// readTime directly, never requesting a transaction id.
func TestReadOnlyTransactionWithExplicitReadTimeNeverRequestsID(t *testing.T) {
	client := &fakeFirestoreClient{
		batchGetResp: &firestorepb.BatchGetDocumentsResponse{
			Result: &firestorepb.BatchGetDocumentsResponse_Missing{Missing: "x"},
		},
	}
	e := newEngine(t, client)
	readTime := time.Unix(100, 0)

	err := e.RunReadOnly(context.Background(), &readTime, func(ctx context.Context, tx *Transaction) error {
		_, err := tx.Get(ctx, fsdoc.Ref{Path: resource.ParsePath("c/a")})
		return err
	})

	require.NoError(t, err)
	require.Len(t, client.batchGetCalls, 1)
	assert.NotNil(t, client.batchGetCalls[0].GetReadTime())
	assert.Nil(t, client.batchGetCalls[0].GetNewTransaction())
}
