package ingest

import (
	"context"

	"github.com/northcell/conversation-cdc/internal/catalog"
	"github.com/northcell/conversation-cdc/internal/domain"
)

// Message is one received queue message.
type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
	Attributes    map[string]string
}

// Receiver is the inbound message transport. The SQS implementation lives
// in internal/queue.
type Receiver interface {
	// Receive long-polls for up to max messages.
	Receive(ctx context.Context, max int) ([]Message, error)

	// Delete removes a message from the queue.
	Delete(ctx context.Context, receiptHandle string) error
}

// RouteHints supplies destination types remembered at dispatch time for
// results that echo no routing fields. Satisfied by dispatch.RouteCache.
type RouteHints interface {
	Pop(id string) (string, bool)
}

// Repository defines the destination writes. Each Write/Replace call runs
// in its own transaction so a later failure never rolls back an earlier
// table; redelivery re-running all three is safe by construction.
type Repository interface {
	// SourceKeys returns the denormalized header columns for id from the
	// given source table, or ErrSourceRowNotFound when the row aged out.
	SourceKeys(ctx context.Context, src catalog.Source, id string) (*domain.SourceKeys, error)

	// WriteCallSummary replaces the dicta_call_summary row for the call.
	WriteCallSummary(ctx context.Context, row *domain.CallSummary) error

	// WriteConversationSummary replaces the (source_type, source_id) row.
	WriteConversationSummary(ctx context.Context, row *domain.ConversationSummary) error

	// ReplaceCategories replaces the category rows for the conversation.
	ReplaceCategories(ctx context.Context, sourceType, sourceID string, categories []string) error

	// LogError appends an error_log entry. Best effort.
	LogError(ctx context.Context, id, kind, message string) error
}
