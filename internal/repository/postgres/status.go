package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/northcell/conversation-cdc/internal/domain"
)

// StatusRepo reads and writes cdc_processing_status rows. The historical
// pass and the backfill engine use it to walk their watermarks; the live
// dispatcher bumps its rows through DispatchRepo instead.
type StatusRepo struct{ db *sql.DB }

// NewStatusRepo creates a Postgres-backed process status store.
func NewStatusRepo(db *sql.DB) *StatusRepo { return &StatusRepo{db: db} }

// Get returns the named status row, or nil when it does not exist.
func (r *StatusRepo) Get(ctx context.Context, key string) (*domain.ProcessStatus, error) {
	st := &domain.ProcessStatus{Key: key}
	var last sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT last_processed_time, total_processed, is_enabled
		FROM cdc_processing_status
		WHERE process_name = $1
	`, key).Scan(&last, &st.Total, &st.Enabled)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get status %s: %w", key, err)
	}
	st.LastProcessed = last.Time
	return st, nil
}

// Seed creates the named status row if it does not exist yet.
func (r *StatusRepo) Seed(ctx context.Context, key string, startAt time.Time, enabled bool) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cdc_processing_status
			(process_name, last_processed_time, total_processed, is_enabled, created_at, updated_at)
		VALUES ($1, $2, 0, $3, NOW(), NOW())
		ON CONFLICT (process_name) DO NOTHING
	`, key, nullTime(startAt), enabled)
	if err != nil {
		return fmt.Errorf("seed status %s: %w", key, err)
	}
	return nil
}

// SetWatermark moves the row's watermark to the given time and adds delta
// to its running total. Unlike BumpStatus this is a plain set; the
// historical pass deliberately walks the watermark forward window by
// window.
func (r *StatusRepo) SetWatermark(ctx context.Context, key string, to time.Time, delta int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE cdc_processing_status
		SET last_processed_time = $2,
		    total_processed     = total_processed + $3,
		    updated_at          = NOW()
		WHERE process_name = $1
	`, key, to, delta)
	if err != nil {
		return fmt.Errorf("set watermark %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set watermark %s: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("set watermark %s: no status row", key)
	}
	return nil
}

// SetEnabled flips the row's enabled flag.
func (r *StatusRepo) SetEnabled(ctx context.Context, key string, enabled bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE cdc_processing_status
		SET is_enabled = $2, updated_at = NOW()
		WHERE process_name = $1
	`, key, enabled)
	if err != nil {
		return fmt.Errorf("set enabled %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set enabled %s: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("set enabled %s: no status row", key)
	}
	return nil
}
