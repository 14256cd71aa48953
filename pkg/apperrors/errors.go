package apperrors

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates the requested entity does not exist. Repositories
	// translate this into an absent result for point reads; it only surfaces
	// as an error from operations where absence is a failure (e.g. Update).
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a create collided with a stored entity that
	// has the same id and partition key. Surfaced verbatim so the caller can
	// decide whether an idempotent retry should treat it as success.
	ErrAlreadyExists = errors.New("already exists")

	// ErrVersionConflict indicates the optimistic-concurrency check failed:
	// the stored version no longer matches the caller's expected version.
	// Never retried automatically; the caller must re-read and re-apply.
	ErrVersionConflict = errors.New("version conflict")

	// ErrInvalidIdentity indicates an empty or malformed identity field
	// (tenant, project, user, ...). Always a caller bug, never retried.
	ErrInvalidIdentity = errors.New("invalid identity")

	// ErrPartitionMismatch indicates the caller's key shape does not match
	// the entity family's declared arity. A programming error that fails
	// fast before any network call.
	ErrPartitionMismatch = errors.New("partition key shape mismatch")

	// ErrMalformedKey indicates a partition key string could not be parsed
	// under the family's declared shape.
	ErrMalformedKey = errors.New("malformed partition key")

	// ErrInvalidTransition indicates a document status change outside the
	// uploaded -> processing -> completed/failed state machine.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrUnavailable indicates a transient store failure (connection reset,
	// timeout, 5xx). Eligible for retry.
	ErrUnavailable = errors.New("store unavailable")

	// ErrVectorSearchUnsupported indicates the configured store adapter has
	// no vector similarity capability.
	ErrVectorSearchUnsupported = errors.New("vector search not supported by store")
)

// ThrottledError is returned when the store rejects a request for rate
// limiting. RetryAfter carries the server-suggested wait, when the store
// provided one; the retry executor prefers it over computed backoff.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("request throttled (retry after %s)", e.RetryAfter)
	}
	return "request throttled"
}

// Hint returns the server-suggested wait and whether one was provided.
func (e *ThrottledError) Hint() (time.Duration, bool) {
	return e.RetryAfter, e.RetryAfter > 0
}

// RetriesExhaustedError wraps the last transient error after the retry
// executor has used up its attempt budget.
type RetriesExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying. Throttling and store
// unavailability are transient; everything else in the taxonomy (validation,
// not-found, conflicts, cancellation) is permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var throttled *ThrottledError
	if errors.As(err, &throttled) {
		return true
	}
	return errors.Is(err, ErrUnavailable)
}

// RetryAfterHint extracts a server-suggested wait from err, if any throttling
// error in the chain carries one.
func RetryAfterHint(err error) (time.Duration, bool) {
	var throttled *ThrottledError
	if errors.As(err, &throttled) {
		return throttled.Hint()
	}
	return 0, false
}
