package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/northcell/conversation-cdc/internal/catalog"
	"github.com/northcell/conversation-cdc/internal/domain"
	"github.com/northcell/conversation-cdc/internal/service/ingest"
)

// ResultRepo implements ingest.Repository against PostgreSQL. Each write
// replaces its target rows inside one transaction, so redelivered results
// land idempotently.
type ResultRepo struct {
	db           *sql.DB
	recentWindow time.Duration
}

// NewResultRepo creates a Postgres-backed result store. recentWindow bounds
// the source-key lookup; zero means 90 days.
func NewResultRepo(db *sql.DB, recentWindow time.Duration) *ResultRepo {
	if recentWindow <= 0 {
		recentWindow = defaultRecentWindow
	}
	return &ResultRepo{db: db, recentWindow: recentWindow}
}

// SourceKeys returns the denormalized header columns for id from the given
// source table. Rows older than the recent window are treated as absent.
func (r *ResultRepo) SourceKeys(ctx context.Context, src catalog.Source, id string) (*domain.SourceKeys, error) {
	where := fmt.Sprintf("%s = $1 AND %s > NOW() - make_interval(days => $2)",
		src.IDColumn, src.TimeColumn)
	if src.BaseFilter != "" {
		where += " AND " + src.BaseFilter
	}
	q := fmt.Sprintf(`
		SELECT COALESCE(ban,''), COALESCE(subscriber_no,''), %s
		FROM %s
		WHERE %s
		LIMIT 1
	`, src.FragmentTimeColumn, src.Table, where)

	k := &domain.SourceKeys{}
	var ts sql.NullTime
	err := r.db.QueryRowContext(ctx, q, id, days(r.recentWindow)).Scan(&k.BAN, &k.SubscriberNo, &ts)
	if err == sql.ErrNoRows {
		return nil, ingest.ErrSourceRowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("source keys %s: %w", src.ID, err)
	}
	k.ConversationTime = ts.Time
	return k, nil
}

// WriteCallSummary replaces the dicta_call_summary row for the call.
func (r *ResultRepo) WriteCallSummary(ctx context.Context, row *domain.CallSummary) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin call summary: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM dicta_call_summary WHERE call_id = $1`, row.CallID); err != nil {
		return fmt.Errorf("delete call summary: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO dicta_call_summary
			(call_id, ban, subscriber_no, call_time, summary, sentiment,
			 classification, all_classifications, confidence,
			 processing_time_ms, model_version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
	`, row.CallID, row.BAN, row.SubscriberNo, nullTime(row.CallTime), row.Summary,
		row.Sentiment, row.Classification, row.AllClassifications, row.Confidence,
		row.ProcessingTime, row.ModelVersion); err != nil {
		return fmt.Errorf("insert call summary: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit call summary: %w", err)
	}
	return nil
}

// WriteConversationSummary replaces the (source_type, source_id) row.
func (r *ResultRepo) WriteConversationSummary(ctx context.Context, row *domain.ConversationSummary) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin conversation summary: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM conversation_summary WHERE source_type = $1 AND source_id = $2`,
		row.SourceType, row.SourceID); err != nil {
		return fmt.Errorf("delete conversation summary: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversation_summary
			(source_id, source_type, ban, subscriber_no, conversation_time,
			 summary, overall_sentiment, primary_classification,
			 all_classifications, confidence, customer_satisfaction,
			 products_mentioned, action_items, unresolved_issues, churn_score,
			 model_version, processing_time_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, NOW())
	`, row.SourceID, row.SourceType, row.BAN, row.SubscriberNo,
		nullTime(row.ConversationTime), row.Summary, row.Sentiment,
		row.PrimaryClassification, row.AllClassifications, row.Confidence,
		row.CustomerSatisfaction, row.ProductsMentioned, row.ActionItems,
		row.UnresolvedIssues, row.ChurnScore, row.ModelVersion,
		row.ProcessingTime); err != nil {
		return fmt.Errorf("insert conversation summary: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit conversation summary: %w", err)
	}
	return nil
}

// ReplaceCategories replaces the category rows for the conversation.
func (r *ResultRepo) ReplaceCategories(ctx context.Context, sourceType, sourceID string, categories []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin categories: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM conversation_category WHERE source_type = $1 AND source_id = $2`,
		sourceType, sourceID); err != nil {
		return fmt.Errorf("delete categories: %w", err)
	}
	for _, cat := range categories {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_category (source_id, source_type, category, created_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (source_type, source_id, category) DO NOTHING
		`, sourceID, sourceType, cat); err != nil {
			return fmt.Errorf("insert category: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit categories: %w", err)
	}
	return nil
}

// LogError appends an error_log entry.
func (r *ResultRepo) LogError(ctx context.Context, id, kind, message string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO error_log (call_id, error_type, error_message, retry_count)
		VALUES ($1, $2, $3, 0)
	`, id, kind, message)
	if err != nil {
		return fmt.Errorf("log error: %w", err)
	}
	return nil
}

// nullTime maps the zero time to SQL NULL.
func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
