// Package warehouse mirrors evaluation runs into Snowflake for the BI
// dashboards. It satisfies evaluation.Mirror; mirroring is best effort and
// the evaluator ignores its failures.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/snowflakedb/gosnowflake" // Snowflake driver

	appconfig "github.com/northcell/conversation-cdc/internal/config"
	"github.com/northcell/conversation-cdc/internal/domain"
)

// Mirror writes one row per evaluation run into the configured table.
type Mirror struct {
	db    *sql.DB
	table string
}

// New opens the Snowflake connection from config.
// DSN format: user:password@account/database/schema?warehouse=xxx
func New(cfg appconfig.WarehouseConfig) (*Mirror, error) {
	dsn := fmt.Sprintf("%s:%s@%s/%s/%s",
		cfg.User,
		cfg.Password,
		cfg.Account,
		cfg.Database,
		cfg.Schema,
	)
	if cfg.Warehouse != "" {
		dsn += "?warehouse=" + cfg.Warehouse
	}

	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("open snowflake connection: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	table := cfg.Table
	if table == "" {
		table = "ML_EVALUATION_HISTORY"
	}

	return &Mirror{db: db, table: table}, nil
}

// Close closes the warehouse connection.
func (m *Mirror) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

// Ping tests the warehouse connection.
func (m *Mirror) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

// MirrorEvaluation inserts one evaluation row. gosnowflake uses ?
// placeholders.
func (m *Mirror) MirrorEvaluation(ctx context.Context, rec domain.EvaluationRecord) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (
			EVAL_ID, EVAL_DATE, CHURNED_COUNT, WITH_SCORE_COUNT,
			RECALL_RATE, COVERAGE_RATE, AVG_CHURN_SCORE,
			RECOMMENDATIONS_GENERATED, NOTES
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, m.table)

	_, err := m.db.ExecContext(ctx, query,
		rec.ID,
		rec.EvalDate,
		rec.ChurnedCount,
		rec.WithScoreCount,
		rec.RecallRate,
		rec.CoverageRate,
		rec.AvgChurnScore,
		rec.Recommendations,
		rec.Notes,
	)
	if err != nil {
		return fmt.Errorf("mirror evaluation %s: %w", rec.ID, err)
	}
	return nil
}
