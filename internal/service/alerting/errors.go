package alerting

import "errors"

// Sentinel errors for the alerting service layer.
var (
	ErrNotFound          = errors.New("alert not found")
	ErrInvalidTransition = errors.New("invalid alert status transition")
	ErrUnknownMetric     = errors.New("unknown metric")
	ErrInvalid           = errors.New("invalid alert configuration")
)
