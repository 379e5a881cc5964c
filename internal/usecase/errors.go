package usecase

import "errors"

// Failure kinds for a detection run. A no-detection outcome is not an error;
// it comes back as a DetectResult with Found=false.
var (
	// ErrInvalidRequest marks missing or malformed caller input.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrPersistence marks a storage failure; nothing was created.
	ErrPersistence = errors.New("persistence failure")
	// ErrTimeout marks a request that exceeded its processing time before
	// anything was durably written.
	ErrTimeout = errors.New("request timed out")
	// ErrNotFound marks lookups for ids that were never created.
	ErrNotFound = errors.New("detection not found")
)
