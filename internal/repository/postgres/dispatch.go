package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/northcell/conversation-cdc/internal/catalog"
	"github.com/northcell/conversation-cdc/internal/domain"
)

// maxSkipNote caps the skip reason stored in cdc_processed_calls; the
// column doubles as the message-id field and is 200 characters wide.
const maxSkipNote = 200

// DispatchRepo implements dispatch.Repository against PostgreSQL.
type DispatchRepo struct{ db *sql.DB }

// NewDispatchRepo creates a Postgres-backed dispatch state store.
func NewDispatchRepo(db *sql.DB) *DispatchRepo { return &DispatchRepo{db: db} }

// MarkProcessed records the id as processed, watermarked at the source's
// max fragment time (or NOW() when the source rows vanished mid-flight).
// Re-marking an id is a no-op.
func (r *DispatchRepo) MarkProcessed(ctx context.Context, src catalog.Source, id, messageID string) error {
	return r.mark(ctx, src, id, messageID)
}

// MarkSkipped records a skipped id so it is not re-collected, storing the
// skip reason where the message id would go.
func (r *DispatchRepo) MarkSkipped(ctx context.Context, src catalog.Source, id, reason string) error {
	note := "SKIPPED"
	if reason != "" {
		note = "SKIPPED: " + reason
	}
	if len(note) > maxSkipNote {
		note = note[:maxSkipNote]
	}
	return r.mark(ctx, src, id, note)
}

func (r *DispatchRepo) mark(ctx context.Context, src catalog.Source, id, note string) error {
	q := fmt.Sprintf(`
		INSERT INTO cdc_processed_calls (call_id, processed_at, text_time, sqs_message_id)
		VALUES ($1, NOW(),
		        COALESCE((SELECT MAX(%s) FROM %s WHERE %s = $1), NOW()),
		        NULLIF($2, ''))
		ON CONFLICT (call_id) DO NOTHING
	`, src.FragmentTimeColumn, src.Table, src.IDColumn)

	if _, err := r.db.ExecContext(ctx, q, id, note); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

// BumpStatus advances the mode-status row to processedAt and increments
// its running total, creating the row on first use. The watermark never
// moves backwards.
func (r *DispatchRepo) BumpStatus(ctx context.Context, modeKey string, processedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cdc_processing_status
			(process_name, last_processed_time, total_processed, is_enabled, created_at, updated_at)
		VALUES ($1, $2, 1, TRUE, NOW(), NOW())
		ON CONFLICT (process_name) DO UPDATE SET
			last_processed_time = GREATEST(cdc_processing_status.last_processed_time, EXCLUDED.last_processed_time),
			total_processed     = cdc_processing_status.total_processed + 1,
			updated_at          = NOW()
	`, modeKey, processedAt)
	if err != nil {
		return fmt.Errorf("bump status %s: %w", modeKey, err)
	}
	return nil
}

// RecordSendFailure upserts the send-failure error-log row for the id and
// returns the accumulated attempt count.
func (r *DispatchRepo) RecordSendFailure(ctx context.Context, id, message string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		UPDATE error_log
		SET retry_count = retry_count + 1, error_message = $2, created_at = NOW()
		WHERE call_id = $1 AND error_type = $3
		RETURNING retry_count
	`, id, message, domain.ErrorKindSendFailed).Scan(&count)
	if err == sql.ErrNoRows {
		err = r.db.QueryRowContext(ctx, `
			INSERT INTO error_log (call_id, error_type, error_message, retry_count)
			VALUES ($1, $2, $3, 1)
			RETURNING retry_count
		`, id, domain.ErrorKindSendFailed, message).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("record send failure: %w", err)
	}
	return count, nil
}

// RecordPermanentFailure retires an id whose sends keep failing.
func (r *DispatchRepo) RecordPermanentFailure(ctx context.Context, id, message string, attempts int) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sqs_permanent_failures (call_id, error_message, attempts, last_error_at)
		VALUES ($1, $2, $3, NOW())
	`, id, message, attempts)
	if err != nil {
		return fmt.Errorf("record permanent failure: %w", err)
	}
	return nil
}
