package internalerr

import "errors"

// Sentinel errors for common cases
var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrSourceUnavailable means the review source failed (network, rate
	// limit). Fatal for the affected day only.
	ErrSourceUnavailable = errors.New("review source unavailable")

	// ErrEmbeddingFailure marks a candidate that could not be embedded.
	// The candidate is treated as noise.
	ErrEmbeddingFailure = errors.New("embedding failure")

	// ErrRegistryCapacity is reported when a candidate was routed to the
	// sink topic because the registry is full.
	ErrRegistryCapacity = errors.New("registry capacity exceeded")

	// ErrEmptyWindow means no day in a report window was ever processed.
	ErrEmptyWindow = errors.New("no processed days in report window")

	// ErrCorruptState means persisted registry or count data failed
	// validation on load.
	ErrCorruptState = errors.New("corrupt persisted state")
)
