package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/northcell/conversation-cdc/internal/domain"
	"github.com/northcell/conversation-cdc/internal/service/alerting"
)

// MetricRepo implements alerting.Metrics against the destination tables.
// The registry below is the full set of metrics alert rules can reference;
// anything else is alerting.ErrUnknownMetric.
type MetricRepo struct{ db *sql.DB }

// NewMetricRepo creates a Postgres-backed metric reader.
func NewMetricRepo(db *sql.DB) *MetricRepo { return &MetricRepo{db: db} }

type metricFn = func(*MetricRepo, context.Context, time.Duration, string) (alerting.Reading, error)

var metricRegistry = map[alerting.MetricKey]metricFn{
	{Source: "churn", Name: "high_risk_count"}:     (*MetricRepo).highRiskCount,
	{Source: "churn", Name: "critical_risk_count"}: (*MetricRepo).criticalRiskCount,
	{Source: "churn", Name: "avg_churn_score"}:     (*MetricRepo).avgChurnScore,

	{Source: "sentiment", Name: "negative_count"}:   (*MetricRepo).negativeCount,
	{Source: "sentiment", Name: "negative_percent"}: (*MetricRepo).negativePercent,
	{Source: "sentiment", Name: "positive_percent"}: (*MetricRepo).positivePercent,

	{Source: "satisfaction", Name: "avg_satisfaction"}:       (*MetricRepo).avgSatisfaction,
	{Source: "satisfaction", Name: "low_satisfaction_count"}: (*MetricRepo).lowSatisfactionCount,

	{Source: "ml_quality", Name: "pending_count"}: (*MetricRepo).pendingRecommendations,

	{Source: "operational", Name: "error_count"}: (*MetricRepo).errorCount,
	{Source: "operational", Name: "call_volume"}: (*MetricRepo).callVolume,
}

func (r *MetricRepo) Compute(ctx context.Context, key alerting.MetricKey, window time.Duration, productFilter string) (alerting.Reading, error) {
	fn, ok := metricRegistry[key]
	if !ok {
		return alerting.Reading{}, alerting.ErrUnknownMetric
	}
	return fn(r, ctx, window, productFilter)
}

func (r *MetricRepo) highRiskCount(ctx context.Context, window time.Duration, product string) (alerting.Reading, error) {
	return r.countWithSnapshot(ctx, window, product,
		"cs.churn_score >= 70", "cs.churn_score DESC")
}

func (r *MetricRepo) criticalRiskCount(ctx context.Context, window time.Duration, product string) (alerting.Reading, error) {
	return r.countWithSnapshot(ctx, window, product,
		"cs.churn_score >= 90", "cs.churn_score DESC")
}

func (r *MetricRepo) avgChurnScore(ctx context.Context, window time.Duration, product string) (alerting.Reading, error) {
	return r.average(ctx, window, product, "cs.churn_score")
}

func (r *MetricRepo) negativeCount(ctx context.Context, window time.Duration, product string) (alerting.Reading, error) {
	return r.countWithSnapshot(ctx, window, product,
		"cs.overall_sentiment <= 2 AND cs.overall_sentiment > 0", "cs.overall_sentiment ASC")
}

func (r *MetricRepo) negativePercent(ctx context.Context, window time.Duration, product string) (alerting.Reading, error) {
	return r.percent(ctx, window, product, "cs.overall_sentiment <= 2 AND cs.overall_sentiment > 0")
}

func (r *MetricRepo) positivePercent(ctx context.Context, window time.Duration, product string) (alerting.Reading, error) {
	return r.percent(ctx, window, product, "cs.overall_sentiment >= 4")
}

func (r *MetricRepo) avgSatisfaction(ctx context.Context, window time.Duration, product string) (alerting.Reading, error) {
	return r.average(ctx, window, product, "NULLIF(cs.customer_satisfaction, 0)")
}

func (r *MetricRepo) lowSatisfactionCount(ctx context.Context, window time.Duration, product string) (alerting.Reading, error) {
	// Satisfaction is 1-5; 0 means the result carried none.
	return r.countWithSnapshot(ctx, window, product,
		"cs.customer_satisfaction > 0 AND cs.customer_satisfaction < 3",
		"cs.customer_satisfaction ASC")
}

// pendingRecommendations is a point-in-time gauge; the rule window does not
// apply.
func (r *MetricRepo) pendingRecommendations(ctx context.Context, _ time.Duration, _ string) (alerting.Reading, error) {
	var count float64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ml_config_recommendations WHERE status = $1`,
		domain.RecPending).Scan(&count)
	if err != nil {
		return alerting.Reading{}, fmt.Errorf("count pending recommendations: %w", err)
	}
	return alerting.Reading{Value: &count}, nil
}

func (r *MetricRepo) errorCount(ctx context.Context, window time.Duration, product string) (alerting.Reading, error) {
	return r.countWithSnapshot(ctx, window, product,
		"cs.error_message IS NOT NULL", "cs.created_at DESC")
}

func (r *MetricRepo) callVolume(ctx context.Context, window time.Duration, product string) (alerting.Reading, error) {
	return r.countOnly(ctx, window, product, "")
}

// countWithSnapshot counts summary rows matching cond within the window and
// snapshots the 100 most affected subscribers, ordered by orderBy.
func (r *MetricRepo) countWithSnapshot(ctx context.Context, window time.Duration, product, cond, orderBy string) (alerting.Reading, error) {
	where, args := r.windowWhere(window, product)
	where += " AND " + cond

	var count float64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversation_summary cs WHERE `+where, args...).Scan(&count)
	if err != nil {
		return alerting.Reading{}, fmt.Errorf("count metric rows: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT COALESCE(cs.subscriber_no,''), COALESCE(cs.ban,''),
		       COALESCE(cs.churn_score,0), COALESCE(cs.overall_sentiment,0),
		       COALESCE(cs.customer_satisfaction,0), cs.conversation_time
		FROM conversation_summary cs
		WHERE %s
		ORDER BY %s
		LIMIT 100
	`, where, orderBy), args...)
	if err != nil {
		return alerting.Reading{}, fmt.Errorf("metric snapshot: %w", err)
	}
	defer rows.Close()

	var affected []domain.AffectedSubscriber
	for rows.Next() {
		var a domain.AffectedSubscriber
		var ts sql.NullTime
		if err := rows.Scan(&a.SubscriberNo, &a.BAN, &a.ChurnScore, &a.Sentiment, &a.Satisfaction, &ts); err != nil {
			return alerting.Reading{}, fmt.Errorf("metric snapshot: scan: %w", err)
		}
		if ts.Valid {
			a.CallTime = ts.Time.Format(time.RFC3339)
		}
		affected = append(affected, a)
	}
	if err := rows.Err(); err != nil {
		return alerting.Reading{}, err
	}
	return alerting.Reading{Value: &count, Affected: affected}, nil
}

func (r *MetricRepo) countOnly(ctx context.Context, window time.Duration, product, cond string) (alerting.Reading, error) {
	where, args := r.windowWhere(window, product)
	if cond != "" {
		where += " AND " + cond
	}
	var count float64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversation_summary cs WHERE `+where, args...).Scan(&count)
	if err != nil {
		return alerting.Reading{}, fmt.Errorf("count metric rows: %w", err)
	}
	return alerting.Reading{Value: &count}, nil
}

// average aggregates expr over the window. A window with nothing to average
// yields a nil value, which never triggers.
func (r *MetricRepo) average(ctx context.Context, window time.Duration, product, expr string) (alerting.Reading, error) {
	where, args := r.windowWhere(window, product)
	var avg sql.NullFloat64
	err := r.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT AVG(%s) FROM conversation_summary cs WHERE %s`, expr, where), args...).Scan(&avg)
	if err != nil {
		return alerting.Reading{}, fmt.Errorf("average metric: %w", err)
	}
	if !avg.Valid {
		return alerting.Reading{}, nil
	}
	return alerting.Reading{Value: &avg.Float64}, nil
}

// percent returns 100 * matching / total over the window, nil when the
// window holds no rows at all.
func (r *MetricRepo) percent(ctx context.Context, window time.Duration, product, cond string) (alerting.Reading, error) {
	where, args := r.windowWhere(window, product)
	var pct sql.NullFloat64
	err := r.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT 100.0 * COUNT(*) FILTER (WHERE %s) / NULLIF(COUNT(*), 0)
		FROM conversation_summary cs
		WHERE %s
	`, cond, where), args...).Scan(&pct)
	if err != nil {
		return alerting.Reading{}, fmt.Errorf("percent metric: %w", err)
	}
	if !pct.Valid {
		return alerting.Reading{}, nil
	}
	return alerting.Reading{Value: &pct.Float64}, nil
}

func (r *MetricRepo) windowWhere(window time.Duration, product string) (string, []interface{}) {
	where := "cs.created_at > NOW() - make_interval(mins => $1)"
	args := []interface{}{minutes(window)}
	if product != "" {
		where += ` AND EXISTS (
			SELECT 1 FROM subscriber sub
			WHERE sub.subscriber_no = cs.subscriber_no AND sub.product_code = $2
		)`
		args = append(args, product)
	}
	return where, args
}
