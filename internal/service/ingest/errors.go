package ingest

import "errors"

// Sentinel errors for the ingest layer.
var (
	// ErrSourceRowNotFound means the originating source row has aged out
	// of its table; the result is still written, without header keys.
	ErrSourceRowNotFound = errors.New("source row not found")
)
