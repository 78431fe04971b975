package fserrors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestIsRetryableTable(t *testing.T) {
	cases := []struct {
		code      codes.Code
		retryable bool
	}{
		{codes.Unavailable, true},
		{codes.Aborted, true},
		{codes.Internal, true},
		{codes.ResourceExhausted, true},
		{codes.InvalidArgument, false},
		{codes.NotFound, false},
		{codes.PermissionDenied, false},
	}
	for _, c := range cases {
		err := status.Error(c.code, "boom")
		assert.Equal(t, c.retryable, IsRetryable(err), c.code.String())
	}
}

func TestTransactionExpiryOverridesCommitRetry(t *testing.T) {
	err := status.Error(codes.InvalidArgument, "the Transaction has expired and can no longer be used")
	assert.False(t, IsRetryable(err))
	assert.True(t, IsRetryableCommit(err))
}

func TestPermanentMarkerOverridesRetryable(t *testing.T) {
	err := status.Error(codes.Unavailable, "permanent error: service decommissioned")
	assert.False(t, IsRetryable(err))
	assert.False(t, IsRetryableCommit(err))
}

func TestCallerErrorCarriesArgName(t *testing.T) {
	err := NewCallerError("projectId", "must not be empty")
	name, ok := ArgName(err)
	assert.True(t, ok)
	assert.Equal(t, "projectId", name)
	assert.Contains(t, err.Error(), "projectId")
}
