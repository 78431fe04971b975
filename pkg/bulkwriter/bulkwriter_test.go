package bulkwriter

import (
	"context"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/timestamppb"

	firestorepb "google.golang.org/genproto/googleapis/firestore/v1"
	rpcstatus "google.golang.org/genproto/googleapis/rpc/status"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/firekit/pkg/fsdoc"
	"github.com/cuemby/firekit/pkg/fsvalue"
	"github.com/cuemby/firekit/pkg/pool"
	"github.com/cuemby/firekit/pkg/resource"
	"github.com/cuemby/firekit/pkg/rpc"
	"github.com/cuemby/firekit/pkg/txn"
)

type fakeFirestoreClient struct {
	firestorepb.FirestoreClient

	batchWriteCalls []*firestorepb.BatchWriteRequest
	batchWriteFn    func(req *firestorepb.BatchWriteRequest) (*firestorepb.BatchWriteResponse, error)
}

func (f *fakeFirestoreClient) BatchWrite(ctx context.Context, in *firestorepb.BatchWriteRequest, opts ...grpc.CallOption) (*firestorepb.BatchWriteResponse, error) {
	f.batchWriteCalls = append(f.batchWriteCalls, in)
	return f.batchWriteFn(in)
}

func newBulkWriter(t *testing.T, client *fakeFirestoreClient, start time.Time) *BulkWriter {
	t.Helper()
	p := pool.New(10, 1, func(ctx context.Context) (firestorepb.FirestoreClient, error) {
		return client, nil
	}, func(firestorepb.FirestoreClient) error { return nil })
	d := rpc.NewDispatcher(p, "projects/p/databases/(default)", nil)
	return New(d, "projects/p/databases/(default)", start)
}

func okResponse(n int) *firestorepb.BatchWriteResponse {
	resp := &firestorepb.BatchWriteResponse{}
	for i := 0; i < n; i++ {
		resp.WriteResults = append(resp.WriteResults, &firestorepb.WriteResult{UpdateTime: timestamppb.New(time.Unix(int64(i), 0))})
		resp.Status = append(resp.Status, &rpcstatus.Status{Code: 0})
	}
	return resp
}

func writeFor(id string) txn.Write {
	ref := fsdoc.Ref{Path: resource.ParsePath("c/" + id)}
	return txn.Set(ref, map[string]fsvalue.Value{"x": fsvalue.Int64(1)})
}

func TestFlushWithNoPendingWritesIsNoop(t *testing.T) {
	client := &fakeFirestoreClient{}
	bw := newBulkWriter(t, client, time.Unix(0, 0))
	require.NoError(t, bw.Flush(context.Background()))
	assert.Empty(t, client.batchWriteCalls)
}

func TestEnqueueFlushesFullBatchAutomatically(t *testing.T) {
	client := &fakeFirestoreClient{
		batchWriteFn: func(req *firestorepb.BatchWriteRequest) (*firestorepb.BatchWriteResponse, error) {
			return okResponse(len(req.Writes)), nil
		},
	}
	bw := newBulkWriter(t, client, time.Unix(0, 0))
	bw.DisableThrottling()
	bw.maxBatchSize = 2

	r1 := bw.Enqueue(writeFor("a"))
	r2 := bw.Enqueue(writeFor("b"))

	for _, r := range []<-chan Result{r1, r2} {
		select {
		case res := <-r:
			assert.NoError(t, res.Err)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for batch result")
		}
	}
	require.Len(t, client.batchWriteCalls, 1)
	assert.Len(t, client.batchWriteCalls[0].Writes, 2)
}

func TestCloseFlushesRemainingAndRejectsFurtherEnqueue(t *testing.T) {
	client := &fakeFirestoreClient{
		batchWriteFn: func(req *firestorepb.BatchWriteRequest) (*firestorepb.BatchWriteResponse, error) {
			return okResponse(len(req.Writes)), nil
		},
	}
	bw := newBulkWriter(t, client, time.Unix(0, 0))
	bw.DisableThrottling()

	r := bw.Enqueue(writeFor("a"))
	require.NoError(t, bw.Close(context.Background()))

	select {
	case res := <-r:
		assert.NoError(t, res.Err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for flush result")
	}

	r2 := bw.Enqueue(writeFor("b"))
	select {
	case res := <-r2:
		assert.Error(t, res.Err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for closed result")
	}
}

// TestDispatchBatchThrottlesThroughRateLimiter confirms that with
// throttling enabled (the default), a batch passes through the rate
// limiter and is sent successfully (spec §4.5).
func TestDispatchBatchThrottlesThroughRateLimiter(t *testing.T) {
	client := &fakeFirestoreClient{
		batchWriteFn: func(req *firestorepb.BatchWriteRequest) (*firestorepb.BatchWriteResponse, error) {
			return okResponse(len(req.Writes)), nil
		},
	}
	bw := newBulkWriter(t, client, time.Now())
	bw.maxBatchSize = 1

	r := bw.Enqueue(writeFor("a"))
	select {
	case res := <-r:
		assert.NoError(t, res.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for throttled batch result")
	}
}
