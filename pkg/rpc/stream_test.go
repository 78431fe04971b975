package rpc

import (
	"context"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	firestorepb "google.golang.org/genproto/googleapis/firestore/v1"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStreamReturnsNilOnGracefulEnd(t *testing.T) {
	d := newDispatcher()
	err := RunStream(context.Background(), d, "Listen", true, func(ctx context.Context, c firestorepb.FirestoreClient, ready func()) error {
		ready()
		return nil
	})
	require.NoError(t, err)
}

func TestRunStreamRetriesUntilReady(t *testing.T) {
	d := newDispatcher()
	var attempts int
	err := RunStream(context.Background(), d, "Listen", true, func(ctx context.Context, c firestorepb.FirestoreClient, ready func()) error {
		attempts++
		if attempts < 2 {
			return status.Error(codes.Unavailable, "down")
		}
		ready()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRunStreamDoesNotRetryAfterReady(t *testing.T) {
	d := newDispatcher()
	var attempts int
	err := RunStream(context.Background(), d, "Listen", true, func(ctx context.Context, c firestorepb.FirestoreClient, ready func()) error {
		attempts++
		ready()
		return status.Error(codes.Unavailable, "down")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRunStreamNonIdempotentNeverRetries(t *testing.T) {
	d := newDispatcher()
	var attempts int
	err := RunStream(context.Background(), d, "BatchWrite", false, func(ctx context.Context, c firestorepb.FirestoreClient, ready func()) error {
		attempts++
		return status.Error(codes.Unavailable, "down")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}
