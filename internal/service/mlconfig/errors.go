package mlconfig

import "errors"

var (
	// ErrNotFound means the recommendation does not exist or is no longer
	// PENDING.
	ErrNotFound = errors.New("recommendation not found or already processed")
	// ErrInvalid marks request validation failures.
	ErrInvalid = errors.New("invalid request")
)
