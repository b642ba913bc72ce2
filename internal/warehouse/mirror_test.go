package warehouse

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/northcell/conversation-cdc/internal/domain"
)

func TestMirrorEvaluation(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	m := &Mirror{db: db, table: "ML_EVALUATION_HISTORY"}

	rec := domain.EvaluationRecord{
		ID:              "eval-1",
		EvalDate:        time.Date(2026, 2, 15, 3, 0, 0, 0, time.UTC),
		ChurnedCount:    40,
		WithScoreCount:  31,
		RecallRate:      0.55,
		CoverageRate:    0.775,
		AvgChurnScore:   61.2,
		Recommendations: 2,
		Notes:           "weekly run",
	}

	mock.ExpectExec("INSERT INTO ML_EVALUATION_HISTORY").
		WithArgs(rec.ID, rec.EvalDate, rec.ChurnedCount, rec.WithScoreCount,
			rec.RecallRate, rec.CoverageRate, rec.AvgChurnScore, rec.Recommendations, rec.Notes).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := m.MirrorEvaluation(context.Background(), rec); err != nil {
		t.Fatalf("MirrorEvaluation: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
