package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/northcell/conversation-cdc/internal/domain"
	"github.com/northcell/conversation-cdc/internal/service/alerting"
)

// AlertRepo implements alerting.Repository against PostgreSQL.
type AlertRepo struct{ db *sql.DB }

// NewAlertRepo creates a Postgres-backed alert store.
func NewAlertRepo(db *sql.DB) *AlertRepo { return &AlertRepo{db: db} }

const alertConfigColumns = `alert_id, alert_name, metric_source, metric_name,
	       condition_operator, threshold_value, time_window_hours,
	       COALESCE(filter_product,''), COALESCE(filter_sentiment,''),
	       severity, is_enabled, created_at, updated_at`

func (r *AlertRepo) ListConfigs(ctx context.Context, onlyEnabled bool) ([]domain.AlertConfig, error) {
	q := `SELECT ` + alertConfigColumns + ` FROM alert_configurations`
	if onlyEnabled {
		q += ` WHERE is_enabled`
	}
	q += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list alert configs: %w", err)
	}
	defer rows.Close()

	var out []domain.AlertConfig
	for rows.Next() {
		var c domain.AlertConfig
		if err := rows.Scan(
			&c.ID, &c.Name, &c.MetricSource, &c.MetricName,
			&c.Operator, &c.Threshold, &c.WindowHours,
			&c.FilterProduct, &c.FilterSentiment,
			&c.Severity, &c.Enabled, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan alert config: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *AlertRepo) GetConfig(ctx context.Context, id string) (*domain.AlertConfig, error) {
	c := &domain.AlertConfig{}
	err := r.db.QueryRowContext(ctx,
		`SELECT `+alertConfigColumns+` FROM alert_configurations WHERE alert_id = $1`, id,
	).Scan(
		&c.ID, &c.Name, &c.MetricSource, &c.MetricName,
		&c.Operator, &c.Threshold, &c.WindowHours,
		&c.FilterProduct, &c.FilterSentiment,
		&c.Severity, &c.Enabled, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, alerting.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get alert config: %w", err)
	}
	return c, nil
}

func (r *AlertRepo) CreateConfig(ctx context.Context, cfg *domain.AlertConfig) (string, error) {
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO alert_configurations
			(alert_id, alert_name, metric_source, metric_name, condition_operator,
			 threshold_value, time_window_hours, filter_product, filter_sentiment,
			 severity, is_enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8,''), NULLIF($9,''), $10, $11, NOW(), NOW())
	`, cfg.ID, cfg.Name, cfg.MetricSource, cfg.MetricName, cfg.Operator,
		cfg.Threshold, cfg.WindowHours, cfg.FilterProduct, cfg.FilterSentiment,
		cfg.Severity, cfg.Enabled)
	if err != nil {
		return "", fmt.Errorf("create alert config: %w", err)
	}
	return cfg.ID, nil
}

func (r *AlertRepo) UpdateConfig(ctx context.Context, id string, cfg *domain.AlertConfig) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE alert_configurations
		SET alert_name = $2, metric_source = $3, metric_name = $4,
		    condition_operator = $5, threshold_value = $6, time_window_hours = $7,
		    filter_product = NULLIF($8,''), filter_sentiment = NULLIF($9,''),
		    severity = $10, is_enabled = $11, updated_at = NOW()
		WHERE alert_id = $1
	`, id, cfg.Name, cfg.MetricSource, cfg.MetricName, cfg.Operator,
		cfg.Threshold, cfg.WindowHours, cfg.FilterProduct, cfg.FilterSentiment,
		cfg.Severity, cfg.Enabled)
	if err != nil {
		return fmt.Errorf("update alert config: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update alert config: %w", err)
	}
	if n == 0 {
		return alerting.ErrNotFound
	}
	return nil
}

// DeleteConfig removes a configuration and its history in one transaction.
func (r *AlertRepo) DeleteConfig(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete alert config: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM alert_history WHERE alert_id = $1`, id); err != nil {
		return fmt.Errorf("delete alert history: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM alert_configurations WHERE alert_id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete alert config: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete alert config: %w", err)
	}
	if n == 0 {
		return alerting.ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete alert config: %w", err)
	}
	return nil
}

func (r *AlertRepo) HasActive(ctx context.Context, configID string) (bool, error) {
	var active bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM alert_history WHERE alert_id = $1 AND status = $2
		)
	`, configID, domain.AlertActive).Scan(&active)
	if err != nil {
		return false, fmt.Errorf("check active alert: %w", err)
	}
	return active, nil
}

func (r *AlertRepo) InsertEvent(ctx context.Context, ev *domain.AlertEvent) (string, error) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO alert_history
			(history_id, alert_id, triggered_at, metric_value, threshold_value,
			 severity, status, affected_subscribers, affected_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8,''), $9)
	`, ev.ID, ev.ConfigID, ev.TriggeredAt, ev.MetricValue, ev.Threshold,
		ev.Severity, ev.Status, ev.AffectedJSON, ev.AffectedCount)
	if err != nil {
		return "", fmt.Errorf("insert alert event: %w", err)
	}
	return ev.ID, nil
}

func (r *AlertRepo) ListHistory(ctx context.Context, f alerting.HistoryFilter) ([]domain.AlertEvent, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	q := `
		SELECT h.history_id, h.alert_id, COALESCE(c.alert_name,''), h.triggered_at,
		       COALESCE(h.metric_value,0), COALESCE(h.threshold_value,0),
		       COALESCE(h.severity,''), h.status, COALESCE(h.affected_subscribers,''),
		       h.affected_count, COALESCE(h.acknowledged_by,''), h.acknowledged_at,
		       COALESCE(h.resolved_by,''), h.resolved_at, COALESCE(h.resolution_notes,'')
		FROM alert_history h
		LEFT JOIN alert_configurations c ON c.alert_id = h.alert_id`

	var args []interface{}
	idx := 1
	if f.Status != "" {
		q += fmt.Sprintf(" WHERE h.status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}
	q += fmt.Sprintf(" ORDER BY h.triggered_at DESC LIMIT $%d", idx)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list alert history: %w", err)
	}
	defer rows.Close()

	var out []domain.AlertEvent
	for rows.Next() {
		var ev domain.AlertEvent
		var ackAt, resAt sql.NullTime
		if err := rows.Scan(
			&ev.ID, &ev.ConfigID, &ev.Name, &ev.TriggeredAt,
			&ev.MetricValue, &ev.Threshold, &ev.Severity, &ev.Status,
			&ev.AffectedJSON, &ev.AffectedCount, &ev.AcknowledgedBy, &ackAt,
			&ev.ResolvedBy, &resAt, &ev.ResolutionNotes,
		); err != nil {
			return nil, fmt.Errorf("scan alert event: %w", err)
		}
		if ackAt.Valid {
			t := ackAt.Time
			ev.AcknowledgedAt = &t
		}
		if resAt.Valid {
			t := resAt.Time
			ev.ResolvedAt = &t
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (r *AlertRepo) Acknowledge(ctx context.Context, historyID, by string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE alert_history
		SET status = $3, acknowledged_by = $2, acknowledged_at = NOW()
		WHERE history_id = $1 AND status = $4
	`, historyID, by, domain.AlertAcknowledged, domain.AlertActive)
	if err != nil {
		return fmt.Errorf("acknowledge alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("acknowledge alert: %w", err)
	}
	if n == 0 {
		return r.transitionError(ctx, historyID)
	}
	return nil
}

func (r *AlertRepo) Resolve(ctx context.Context, historyID, by, notes string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE alert_history
		SET status = $3, resolved_by = $2, resolved_at = NOW(),
		    resolution_notes = NULLIF($4,'')
		WHERE history_id = $1 AND status IN ($5, $6)
	`, historyID, by, domain.AlertResolved, notes, domain.AlertActive, domain.AlertAcknowledged)
	if err != nil {
		return fmt.Errorf("resolve alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve alert: %w", err)
	}
	if n == 0 {
		return r.transitionError(ctx, historyID)
	}
	return nil
}

// transitionError distinguishes a missing event from one in the wrong state
// after a gated update matched no rows.
func (r *AlertRepo) transitionError(ctx context.Context, historyID string) error {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM alert_history WHERE history_id = $1)`,
		historyID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check alert event: %w", err)
	}
	if !exists {
		return alerting.ErrNotFound
	}
	return alerting.ErrInvalidTransition
}
