// Package fserrors classifies RPC failures as retryable or not (spec §7)
// and formats the caller-facing validation errors the rest of the core
// raises.
package fserrors

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// retryableCodes is the table from spec §7. ResourceExhausted is retryable;
// pkg/rpc retries it with the delay pegged to the backoff maximum
// (rbackoff.Policy.PegToMax).
var retryableCodes = map[codes.Code]bool{
	codes.Canceled:           true,
	codes.Unknown:            true,
	codes.DeadlineExceeded:   true,
	codes.ResourceExhausted:  true,
	codes.Aborted:            true,
	codes.Internal:           true,
	codes.Unavailable:        true,
	codes.Unauthenticated:    true,
	codes.InvalidArgument:    false,
	codes.NotFound:           false,
	codes.AlreadyExists:      false,
	codes.FailedPrecondition: false,
	codes.OutOfRange:         false,
	codes.Unimplemented:      false,
	codes.DataLoss:           false,
	codes.PermissionDenied:   false,
}

// transactionExpiredMarker is the substring Firestore's commit error carries
// when a transaction id has expired server-side; such commits are retried
// regardless of status code (spec §7 override #1).
const transactionExpiredMarker = "transaction has expired"

// permanentErrorMarker is the substring that overrides retryable
// classification to non-retryable regardless of code (spec §7 override #2).
const permanentErrorMarker = "permanent error"

// Code returns the gRPC status code carried by err, codes.OK for a nil err,
// or codes.Unknown if err does not carry one.
func Code(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	if st, ok := status.FromError(err); ok {
		return st.Code()
	}
	return codes.Unknown
}

// Message returns the server-provided status message, or err.Error() if err
// does not carry a gRPC status.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if st, ok := status.FromError(err); ok {
		return st.Message()
	}
	return err.Error()
}

func hasMarker(err error, marker string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(Message(err)), marker)
}

// IsTransactionExpired reports whether err is a commit failure caused by
// transaction-id expiry.
func IsTransactionExpired(err error) bool {
	return hasMarker(err, transactionExpiredMarker)
}

// HasPermanentMarker reports whether err carries the permanent-error
// marker that forces non-retryable classification regardless of code.
func HasPermanentMarker(err error) bool {
	return hasMarker(err, permanentErrorMarker)
}

// IsRetryable classifies err against the base code table, without the
// commit-specific transaction-expiry override.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if HasPermanentMarker(err) {
		return false
	}
	retryable, known := retryableCodes[Code(err)]
	return known && retryable
}

// IsRetryableCommit classifies a commit failure, applying the
// transaction-expiry override on top of IsRetryable.
func IsRetryableCommit(err error) bool {
	if err == nil {
		return false
	}
	if HasPermanentMarker(err) {
		return false
	}
	if IsTransactionExpired(err) {
		return true
	}
	return IsRetryable(err)
}

// CallerError is a validation error raised synchronously from the call
// site; it always names the offending argument (spec §7).
type CallerError struct {
	Arg string
	Msg string
}

func (e *CallerError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Arg, e.Msg)
}

// NewCallerError builds a CallerError naming arg.
func NewCallerError(arg, format string, args ...any) error {
	return &CallerError{Arg: arg, Msg: fmt.Sprintf(format, args...)}
}

// ArgName extracts the offending argument name from err, if err is (or
// wraps) a *CallerError.
func ArgName(err error) (string, bool) {
	var ce *CallerError
	if errors.As(err, &ce) {
		return ce.Arg, true
	}
	return "", false
}
