package errors

import (
	"errors"
)

// Sentinel errors for different categories
var (
	// ErrRateLimited - provider throttled the call (retry with backoff)
	ErrRateLimited = errors.New("rate limited")

	// ErrProvider - provider call failed for a non-throttling reason (propagate)
	ErrProvider = errors.New("provider error")

	// ErrTransient - transient error (retry with backoff)
	ErrTransient = errors.New("transient error")

	// ErrInvalidInput - invalid input (fail the run with a validation message)
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound - resource not found
	ErrNotFound = errors.New("not found")

	// ErrCacheSave - a verdict store could not be persisted (never silent)
	ErrCacheSave = errors.New("cache save failed")

	// ErrLocked - another run holds the data directory lock
	ErrLocked = errors.New("data directory locked")

	// ErrInternal - internal error
	ErrInternal = errors.New("internal error")
)
