package repos

import "errors"

// Store error taxonomy. Ownership and lifecycle violations are never
// retried by callers; storage errors are retried with backoff.
var (
	// ErrNotFound indicates the requested fit job does not exist
	ErrNotFound = errors.New("fit job not found")
	// ErrNotOwner indicates the caller does not hold the job's lease
	ErrNotOwner = errors.New("fit job is owned by another worker")
	// ErrLeaseExpired indicates the caller's lease lapsed before the mutation
	ErrLeaseExpired = errors.New("fit job lease has expired")
	// ErrInvalidTransition indicates the requested state change violates the job lifecycle
	ErrInvalidTransition = errors.New("invalid fit job state transition")
	// ErrStorageUnavailable indicates the database could not be reached
	ErrStorageUnavailable = errors.New("fit job storage unavailable")
)
