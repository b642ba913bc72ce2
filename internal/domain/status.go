package domain

import "time"

// Mode-status keys for process rows that are not tied to a single catalog
// source.
const (
	HistoricalModeKey = "CDC_HISTORICAL_MODE"
)

// ProcessStatus is one cdc_processing_status row: a named pipeline mode
// with its watermark and running total.
type ProcessStatus struct {
	Key           string
	LastProcessed time.Time
	Total         int64
	Enabled       bool
}
