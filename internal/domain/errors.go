package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when the caller does not own the session.
	ErrUnauthorized = errors.New("not authorized to access this session")
	// ErrNoActiveBatch is returned when processing is requested without a confirmed batch.
	ErrNoActiveBatch = errors.New("no confirmed batch to process")
	// ErrNoActiveStream is returned when there is no progress stream to attach to.
	ErrNoActiveStream = errors.New("no active processing stream found for this session")
	// ErrPipelineActive is returned when a batch is already being processed.
	ErrPipelineActive = errors.New("batch processing already in progress")
	// ErrUpstreamUnavailable marks failures of the store or an external collaborator.
	ErrUpstreamUnavailable = errors.New("upstream service unavailable")
	// ErrStoreUnavailable marks failures of the session store.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// DecodeError reports that the extraction collaborator returned output that
// could not be turned into a valid intent update. The turn can be retried.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode intent update: %s: %v", e.Reason, e.Err)
	}
	return "decode intent update: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Upstream wraps err so that it matches ErrUpstreamUnavailable.
func Upstream(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUpstreamUnavailable, err)
}

// StoreFailure wraps err so that it matches ErrStoreUnavailable.
func StoreFailure(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
