package dispatch

import (
	"context"
	"time"

	"github.com/northcell/conversation-cdc/internal/catalog"
)

// Queue is the outbound message transport. The SQS implementation lives in
// internal/queue.
type Queue interface {
	// Send publishes one message and returns the broker message id.
	Send(ctx context.Context, body string, attrs map[string]string) (string, error)
}

// Repository defines the state writes performed around a send.
// Implementations must be safe for concurrent use.
type Repository interface {
	// MarkProcessed records the id in the processed store, watermarked at
	// the source's max fragment time. Idempotent.
	MarkProcessed(ctx context.Context, src catalog.Source, id, messageID string) error

	// BumpStatus advances the mode-status row to processedAt and
	// increments its running total.
	BumpStatus(ctx context.Context, modeKey string, processedAt time.Time) error

	// RecordSendFailure upserts the send-failure error-log row for the id
	// and returns the accumulated attempt count.
	RecordSendFailure(ctx context.Context, id, message string) (int, error)

	// RecordPermanentFailure retires an id whose sends keep failing.
	RecordPermanentFailure(ctx context.Context, id, message string, attempts int) error
}
