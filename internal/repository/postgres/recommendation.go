package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/northcell/conversation-cdc/internal/domain"
	"github.com/northcell/conversation-cdc/internal/service/mlconfig"
)

// RecommendationRepo implements mlconfig.Repository against PostgreSQL.
type RecommendationRepo struct{ db *sql.DB }

// NewRecommendationRepo creates a Postgres-backed recommendation store.
func NewRecommendationRepo(db *sql.DB) *RecommendationRepo {
	return &RecommendationRepo{db: db}
}

func (r *RecommendationRepo) GetPending(ctx context.Context, recID string) (*domain.Recommendation, error) {
	rec := &domain.Recommendation{}
	err := r.db.QueryRowContext(ctx, `
		SELECT rec_id, rec_type, COALESCE(rec_details,''), status, created_at
		FROM ml_config_recommendations
		WHERE rec_id = $1 AND status = $2
	`, recID, domain.RecPending).Scan(
		&rec.ID, &rec.Type, &rec.Details, &rec.Status, &rec.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, mlconfig.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pending recommendation: %w", err)
	}
	return rec, nil
}

func (r *RecommendationRepo) Approve(ctx context.Context, recID, approver string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE ml_config_recommendations
		SET status = $3, approved_by = $2, approved_at = NOW()
		WHERE rec_id = $1 AND status = $4
	`, recID, approver, domain.RecApproved, domain.RecPending)
	if err != nil {
		return fmt.Errorf("approve recommendation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("approve recommendation: %w", err)
	}
	if n == 0 {
		return mlconfig.ErrNotFound
	}
	return nil
}

func (r *RecommendationRepo) Reject(ctx context.Context, recID, notes string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE ml_config_recommendations
		SET status = $3, notes = NULLIF($2,'')
		WHERE rec_id = $1 AND status = $4
	`, recID, notes, domain.RecRejected, domain.RecPending)
	if err != nil {
		return fmt.Errorf("reject recommendation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reject recommendation: %w", err)
	}
	if n == 0 {
		return mlconfig.ErrNotFound
	}
	return nil
}

func (r *RecommendationRepo) ListRecommendations(ctx context.Context, status string) ([]domain.Recommendation, error) {
	q := `
		SELECT rec_id, rec_type, COALESCE(rec_details,''), status, created_at,
		       COALESCE(approved_by,''), approved_at, COALESCE(notes,'')
		FROM ml_config_recommendations`
	var args []interface{}
	if status != "" {
		q += ` WHERE status = $1`
		args = append(args, status)
	}
	q += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list recommendations: %w", err)
	}
	defer rows.Close()

	var out []domain.Recommendation
	for rows.Next() {
		var rec domain.Recommendation
		var approvedAt sql.NullTime
		if err := rows.Scan(
			&rec.ID, &rec.Type, &rec.Details, &rec.Status, &rec.CreatedAt,
			&rec.ApprovedBy, &approvedAt, &rec.Notes,
		); err != nil {
			return nil, fmt.Errorf("scan recommendation: %w", err)
		}
		if approvedAt.Valid {
			t := approvedAt.Time
			rec.ApprovedAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *RecommendationRepo) ListHistory(ctx context.Context, days int) ([]domain.EvaluationRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT eval_id, eval_date, COALESCE(churned_count,0), COALESCE(with_score_count,0),
		       COALESCE(recall_rate,0), COALESCE(coverage_rate,0), COALESCE(avg_churn_score,0),
		       COALESCE(recommendations_generated,0), COALESCE(notes,'')
		FROM ml_evaluation_history
		WHERE eval_date > NOW() - make_interval(days => $1)
		ORDER BY eval_date DESC
	`, days)
	if err != nil {
		return nil, fmt.Errorf("list evaluation history: %w", err)
	}
	defer rows.Close()

	var out []domain.EvaluationRecord
	for rows.Next() {
		var rec domain.EvaluationRecord
		if err := rows.Scan(
			&rec.ID, &rec.EvalDate, &rec.ChurnedCount, &rec.WithScoreCount,
			&rec.RecallRate, &rec.CoverageRate, &rec.AvgChurnScore,
			&rec.Recommendations, &rec.Notes,
		); err != nil {
			return nil, fmt.Errorf("scan evaluation history: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *RecommendationRepo) InsertFeedback(ctx context.Context, fb *domain.ClassificationFeedback) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ml_classification_feedback
			(source_id, ml_category, correct_category, is_correct, reviewer, created_at)
		VALUES ($1, $2, NULLIF($3,''), $4, $5, NOW())
	`, fb.SourceID, fb.MLCategory, fb.CorrectCategory, fb.IsCorrect, fb.Reviewer)
	if err != nil {
		return fmt.Errorf("insert classification feedback: %w", err)
	}
	return nil
}
