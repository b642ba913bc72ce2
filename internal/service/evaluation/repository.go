package evaluation

import (
	"context"
	"time"

	"github.com/northcell/conversation-cdc/internal/domain"
)

// Repository is the storage the evaluator reads outcomes from and writes
// recommendations to.
type Repository interface {
	// ChurnOutcomes returns subscribers who left within the lookback
	// window, each with the best churn score any of their prior calls
	// ever received. Call ids are ordered most recent first.
	ChurnOutcomes(ctx context.Context, lookback time.Duration) ([]domain.ChurnOutcome, error)

	// Transcript returns the joined fragment text of one call.
	Transcript(ctx context.Context, callID string) (string, error)

	// Misclassifications returns (predicted, actual) pairs that reviewers
	// corrected at least minCount times within the window, most corrected
	// first.
	Misclassifications(ctx context.Context, window time.Duration, minCount int) ([]domain.Misclassification, error)

	// InsertRecommendation stores one PENDING recommendation and returns
	// its id.
	InsertRecommendation(ctx context.Context, recType, details string) (string, error)

	// InsertHistory stores the metrics row for one evaluation run and
	// returns its id.
	InsertHistory(ctx context.Context, rec *domain.EvaluationRecord) (string, error)
}

// Mirror receives a copy of each evaluation row, typically a warehouse
// table. Mirroring is best effort; failures must not fail the run.
type Mirror interface {
	MirrorEvaluation(ctx context.Context, rec domain.EvaluationRecord) error
}
