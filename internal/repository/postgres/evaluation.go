package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/northcell/conversation-cdc/internal/catalog"
	"github.com/northcell/conversation-cdc/internal/domain"
)

// churnStatuses are the subscriber states counted as churn outcomes.
var churnStatuses = []string{"CHURNED", "PORTED", "CANCELLED", "DEACTIVATED"}

// EvaluationRepo implements evaluation.Repository against PostgreSQL.
// Churn evaluation is call-based, so the repo is bound to the call source's
// catalog entry.
type EvaluationRepo struct {
	db  *sql.DB
	src catalog.Source
}

// NewEvaluationRepo creates a Postgres-backed evaluation store reading
// transcripts and outcomes from the given call source.
func NewEvaluationRepo(db *sql.DB, src catalog.Source) *EvaluationRepo {
	return &EvaluationRepo{db: db, src: src}
}

// ChurnOutcomes returns subscribers who left within the lookback window,
// each with the best churn score any of their prior calls received and
// their call ids, most recent first.
func (r *EvaluationRepo) ChurnOutcomes(ctx context.Context, lookback time.Duration) ([]domain.ChurnOutcome, error) {
	args := []interface{}{days(lookback)}
	ph := make([]string, len(churnStatuses))
	for i, st := range churnStatuses {
		ph[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, st)
	}
	args = append(args, r.src.DestinationType)

	q := fmt.Sprintf(`
		SELECT sub.subscriber_no, sub.status, sub.status_date,
		       MAX(cs.churn_score) AS max_churn_score,
		       COUNT(*) AS call_count,
		       STRING_AGG(sub.call_id, ',' ORDER BY sub.last_call_time DESC) AS call_ids
		FROM (
			SELECT s.subscriber_no, s.status, s.status_date,
			       v.%s AS call_id, MAX(v.%s) AS last_call_time
			FROM subscriber s
			JOIN %s v ON v.subscriber_no = s.subscriber_no
			WHERE s.status IN (%s)
			  AND s.status_date > NOW() - make_interval(days => $1)
			  AND v.%s < s.status_date
			GROUP BY s.subscriber_no, s.status, s.status_date, v.%s
		) sub
		LEFT JOIN conversation_summary cs
		  ON cs.source_id = sub.call_id AND cs.source_type = $%d
		GROUP BY sub.subscriber_no, sub.status, sub.status_date
		ORDER BY sub.status_date DESC
	`, r.src.IDColumn, r.src.FragmentTimeColumn, r.src.Table,
		strings.Join(ph, ", "), r.src.FragmentTimeColumn, r.src.IDColumn,
		len(churnStatuses)+2)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("churn outcomes: %w", err)
	}
	defer rows.Close()

	var out []domain.ChurnOutcome
	for rows.Next() {
		var o domain.ChurnOutcome
		var statusDate sql.NullTime
		var score sql.NullFloat64
		var ids string
		if err := rows.Scan(&o.SubscriberNo, &o.Status, &statusDate, &score, &o.CallCount, &ids); err != nil {
			return nil, fmt.Errorf("churn outcomes: scan: %w", err)
		}
		o.StatusDate = statusDate.Time
		if score.Valid {
			v := score.Float64
			o.MaxChurnScore = &v
		}
		if ids != "" {
			o.CallIDs = strings.Split(ids, ",")
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Transcript returns the joined fragment text of one call.
func (r *EvaluationRepo) Transcript(ctx context.Context, callID string) (string, error) {
	q := fmt.Sprintf(`
		SELECT COALESCE(substr(%s, 1, 4000), '')
		FROM %s
		WHERE %s = $1
		ORDER BY %s ASC
	`, r.src.TextColumn, r.src.Table, r.src.IDColumn, r.src.FragmentTimeColumn)

	rows, err := r.db.QueryContext(ctx, q, callID)
	if err != nil {
		return "", fmt.Errorf("transcript %s: %w", callID, err)
	}
	defer rows.Close()

	var parts []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return "", fmt.Errorf("transcript %s: scan: %w", callID, err)
		}
		if text != "" {
			parts = append(parts, text)
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return strings.Join(parts, " "), nil
}

// Misclassifications returns (predicted, actual) pairs reviewers corrected
// at least minCount times within the window, most corrected first.
func (r *EvaluationRepo) Misclassifications(ctx context.Context, window time.Duration, minCount int) ([]domain.Misclassification, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ml_category, correct_category, COUNT(*) AS corrections
		FROM ml_classification_feedback
		WHERE is_correct = FALSE
		  AND created_at > NOW() - make_interval(days => $1)
		GROUP BY ml_category, correct_category
		HAVING COUNT(*) >= $2
		ORDER BY corrections DESC
	`, days(window), minCount)
	if err != nil {
		return nil, fmt.Errorf("misclassifications: %w", err)
	}
	defer rows.Close()

	var out []domain.Misclassification
	for rows.Next() {
		var m domain.Misclassification
		if err := rows.Scan(&m.Predicted, &m.Actual, &m.Count); err != nil {
			return nil, fmt.Errorf("misclassifications: scan: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// InsertRecommendation stores one PENDING recommendation and returns its id.
func (r *EvaluationRepo) InsertRecommendation(ctx context.Context, recType, details string) (string, error) {
	id := uuid.New().String()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ml_config_recommendations (rec_id, rec_type, rec_details, status, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, id, recType, details, domain.RecPending)
	if err != nil {
		return "", fmt.Errorf("insert recommendation: %w", err)
	}
	return id, nil
}

// InsertHistory stores the metrics row for one evaluation run.
func (r *EvaluationRepo) InsertHistory(ctx context.Context, rec *domain.EvaluationRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ml_evaluation_history
			(eval_id, eval_date, churned_count, with_score_count, recall_rate,
			 coverage_rate, avg_churn_score, recommendations_generated, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9,''))
	`, rec.ID, rec.EvalDate, rec.ChurnedCount, rec.WithScoreCount, rec.RecallRate,
		rec.CoverageRate, rec.AvgChurnScore, rec.Recommendations, rec.Notes)
	if err != nil {
		return "", fmt.Errorf("insert evaluation history: %w", err)
	}
	return rec.ID, nil
}
