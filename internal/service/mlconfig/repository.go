package mlconfig

import (
	"context"

	"github.com/northcell/conversation-cdc/internal/domain"
)

// Repository is the recommendation storage behind the approval flow.
type Repository interface {
	// GetPending returns a PENDING recommendation by id, or ErrNotFound.
	GetPending(ctx context.Context, recID string) (*domain.Recommendation, error)

	// Approve transitions a PENDING recommendation to APPROVED and
	// records who approved it and when. ErrNotFound when the row is not
	// PENDING anymore.
	Approve(ctx context.Context, recID, approver string) error

	// Reject transitions a PENDING recommendation to REJECTED with the
	// given notes. ErrNotFound when the row is not PENDING anymore.
	Reject(ctx context.Context, recID, notes string) error

	// ListRecommendations returns recommendations, newest first,
	// optionally filtered by status.
	ListRecommendations(ctx context.Context, status string) ([]domain.Recommendation, error)

	// ListHistory returns evaluation runs from the last days, newest
	// first.
	ListHistory(ctx context.Context, days int) ([]domain.EvaluationRecord, error)

	// InsertFeedback stores one human classification correction.
	InsertFeedback(ctx context.Context, fb *domain.ClassificationFeedback) error
}

// ObjectStore reads and writes JSON config artifacts.
type ObjectStore interface {
	GetJSON(ctx context.Context, key string, v any) error
	PutJSON(ctx context.Context, key string, v any) error
}

// Publisher sends one message to the ML notification queue.
type Publisher interface {
	Send(ctx context.Context, body string, attrs map[string]string) (string, error)
}
