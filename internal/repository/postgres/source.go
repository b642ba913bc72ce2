package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/northcell/conversation-cdc/internal/catalog"
	"github.com/northcell/conversation-cdc/internal/domain"
)

// defaultRecentWindow bounds the processed-ID exclusion in the collect
// queries; ids marked longer ago than this no longer block collection.
const defaultRecentWindow = 90 * 24 * time.Hour

// SourceRepo reads the polled source tables. Every query is built from
// catalog metadata, so no table or column name is hardcoded here.
type SourceRepo struct {
	db           *sql.DB
	recentWindow time.Duration
}

// NewSourceRepo creates a Postgres-backed source reader. recentWindow
// bounds the processed-ID exclusion; zero means 90 days.
func NewSourceRepo(db *sql.DB, recentWindow time.Duration) *SourceRepo {
	if recentWindow <= 0 {
		recentWindow = defaultRecentWindow
	}
	return &SourceRepo{db: db, recentWindow: recentWindow}
}

// Collect returns up to batchSize unprocessed ids that pass the source's
// recency and base filters, oldest first.
func (r *SourceRepo) Collect(ctx context.Context, src catalog.Source, batchSize int) ([]string, error) {
	where := src.TimeFilter
	if src.BaseFilter != "" {
		where += " AND " + src.BaseFilter
	}
	q := fmt.Sprintf(`
		SELECT %sDISTINCT %s, %s
		FROM %s
		WHERE %s
		AND %s NOT IN (
			SELECT call_id FROM cdc_processed_calls
			WHERE text_time > NOW() - make_interval(days => $1)
		)
		ORDER BY %s ASC
		FETCH FIRST $2 ROWS ONLY
	`, hint(src), src.IDColumn, src.TimeColumn, src.Table, where, src.IDColumn, src.TimeColumn)

	return r.queryIDs(ctx, "collect "+src.ID, q, days(r.recentWindow), batchSize)
}

// CollectWindow returns unprocessed ids whose activity time falls in
// [from, to). The historical pass walks the past one window at a time.
func (r *SourceRepo) CollectWindow(ctx context.Context, src catalog.Source, from, to time.Time, batchSize int) ([]string, error) {
	where := fmt.Sprintf("%s >= $1 AND %s < $2", src.TimeColumn, src.TimeColumn)
	if src.BaseFilter != "" {
		where += " AND " + src.BaseFilter
	}
	q := fmt.Sprintf(`
		SELECT %sDISTINCT %s, %s
		FROM %s
		WHERE %s
		AND %s NOT IN (
			SELECT call_id FROM cdc_processed_calls
			WHERE text_time > NOW() - make_interval(days => $3)
		)
		ORDER BY %s ASC
		FETCH FIRST $4 ROWS ONLY
	`, hint(src), src.IDColumn, src.TimeColumn, src.Table, where, src.IDColumn, src.TimeColumn)

	return r.queryIDs(ctx, "collect window "+src.ID, q, from, to, days(r.recentWindow), batchSize)
}

// CollectBulk is the backfill bulk scan: everything newer than lookback
// that was never marked processed. The FULL/PARALLEL hint comment mirrors
// the plan the scan was tuned for on the source system.
func (r *SourceRepo) CollectBulk(ctx context.Context, src catalog.Source, lookback time.Duration, batchSize int) ([]string, error) {
	where := fmt.Sprintf("%s > NOW() - make_interval(days => $1)", src.TimeColumn)
	if src.BaseFilter != "" {
		where += " AND " + src.BaseFilter
	}
	q := fmt.Sprintf(`
		SELECT /*+ FULL(%s) PARALLEL(%s, 4) */ DISTINCT %s, %s
		FROM %s
		WHERE %s
		AND %s NOT IN (
			SELECT call_id FROM cdc_processed_calls
			WHERE text_time > NOW() - make_interval(days => $2)
		)
		ORDER BY %s ASC
		FETCH FIRST $3 ROWS ONLY
	`, src.Table, src.Table, src.IDColumn, src.TimeColumn, src.Table, where, src.IDColumn, src.TimeColumn)

	return r.queryIDs(ctx, "collect bulk "+src.ID, q, days(lookback), days(lookback), batchSize)
}

// CollectDelta is the backfill catch-up scan: recent rows only, with a
// wider processed exclusion so ids marked moments ago are not rescanned.
func (r *SourceRepo) CollectDelta(ctx context.Context, src catalog.Source, lookback, exclusion time.Duration, batchSize int) ([]string, error) {
	where := fmt.Sprintf("%s > NOW() - make_interval(mins => $1)", src.TimeColumn)
	if src.BaseFilter != "" {
		where += " AND " + src.BaseFilter
	}
	q := fmt.Sprintf(`
		SELECT %sDISTINCT %s, %s
		FROM %s
		WHERE %s
		AND %s NOT IN (
			SELECT call_id FROM cdc_processed_calls
			WHERE text_time > NOW() - make_interval(mins => $2)
		)
		ORDER BY %s ASC
		FETCH FIRST $3 ROWS ONLY
	`, hint(src), src.IDColumn, src.TimeColumn, src.Table, where, src.IDColumn, src.TimeColumn)

	return r.queryIDs(ctx, "collect delta "+src.ID, q, minutes(lookback), minutes(exclusion), batchSize)
}

// Fragments returns every valid-channel fragment for the id in
// fragment-time order. Text is capped at 4000 bytes to match the
// destination column width.
func (r *SourceRepo) Fragments(ctx context.Context, src catalog.Source, id string) ([]domain.Fragment, error) {
	where := fmt.Sprintf("%s = $1", src.IDColumn)
	args := []interface{}{id}
	idx := 2

	if len(src.ValidChannels) > 0 {
		ph := make([]string, len(src.ValidChannels))
		for i, ch := range src.ValidChannels {
			ph[i] = fmt.Sprintf("$%d", idx)
			args = append(args, ch)
			idx++
		}
		where += fmt.Sprintf(" AND %s IN (%s)", src.ChannelColumn, strings.Join(ph, ", "))
	}
	if src.BaseFilter != "" {
		where += " AND " + src.BaseFilter
	}

	q := fmt.Sprintf(`
		SELECT %s, COALESCE(ban,''), COALESCE(subscriber_no,''),
		       COALESCE(%s,''), %s, COALESCE(substr(%s, 1, 4000),'')
		FROM %s
		WHERE %s
		ORDER BY %s ASC
	`, src.IDColumn, src.ChannelColumn, src.FragmentTimeColumn, src.TextColumn, src.Table, where, src.FragmentTimeColumn)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("fragments %s: %w", src.ID, err)
	}
	defer rows.Close()

	var out []domain.Fragment
	for rows.Next() {
		var f domain.Fragment
		var ts sql.NullTime
		if err := rows.Scan(&f.SourceID, &f.BAN, &f.SubscriberNo, &f.Channel, &ts, &f.Text); err != nil {
			return nil, fmt.Errorf("fragments %s: scan: %w", src.ID, err)
		}
		f.FragmentTime = ts.Time
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *SourceRepo) queryIDs(ctx context.Context, op, q string, args ...interface{}) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		var ts sql.NullTime
		if err := rows.Scan(&id, &ts); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// hint renders the source's index hint as an Oracle-style hint comment.
// Postgres parses it as a comment; installations with pg_hint_plan honor it.
func hint(src catalog.Source) string {
	if src.IndexHint == "" {
		return ""
	}
	return fmt.Sprintf("/*+ index (%s %s) */ ", src.Table, src.IndexHint)
}

func days(d time.Duration) int { return int(d / (24 * time.Hour)) }

func minutes(d time.Duration) int { return int(d / time.Minute) }
