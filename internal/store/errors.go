package store

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrLimitExceeded is returned when a per-user cardinality cap would
	// be violated by an insert.
	ErrLimitExceeded = errors.New("store: limit exceeded")

	// ErrUnavailable wraps underlying I/O failures. Callers treat failed
	// reads as missing data and failed writes as failed operations; there
	// is no silent retry at this layer.
	ErrUnavailable = errors.New("store: storage unavailable")
)
