// Package schema owns the bridge's Postgres DDL. The CDC process validates
// the required tables at startup, creates whatever is missing, and refuses
// to run if a table still cannot be found afterwards.
package schema

import (
	"context"
	"database/sql"
	"fmt"
)

// Tables maps every bridge-owned table to its CREATE statement. The source
// tables the bridge only reads live in SourceTables and are applied solely
// by cmd/migrate --with-sources for dev environments.
var Tables = map[string]string{
	"cdc_processing_status": `
		CREATE TABLE IF NOT EXISTS cdc_processing_status (
			process_name        VARCHAR(100) PRIMARY KEY,
			last_processed_time TIMESTAMP,
			total_processed     BIGINT DEFAULT 0,
			is_enabled          BOOLEAN DEFAULT TRUE,
			created_at          TIMESTAMP DEFAULT NOW(),
			updated_at          TIMESTAMP DEFAULT NOW()
		)`,

	"cdc_processed_calls": `
		CREATE TABLE IF NOT EXISTS cdc_processed_calls (
			call_id        VARCHAR(50) PRIMARY KEY,
			processed_at   TIMESTAMP DEFAULT NOW(),
			text_time      TIMESTAMP,
			sqs_message_id VARCHAR(200)
		)`,

	"error_log": `
		CREATE TABLE IF NOT EXISTS error_log (
			error_id      UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			call_id       VARCHAR(50),
			error_type    VARCHAR(100),
			error_message TEXT,
			retry_count   INT DEFAULT 0,
			created_at    TIMESTAMP DEFAULT NOW()
		)`,

	"sqs_permanent_failures": `
		CREATE TABLE IF NOT EXISTS sqs_permanent_failures (
			failure_id    UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			call_id       VARCHAR(50),
			error_message TEXT,
			attempts      INT,
			last_error_at TIMESTAMP DEFAULT NOW()
		)`,

	"dicta_call_summary": `
		CREATE TABLE IF NOT EXISTS dicta_call_summary (
			call_id            VARCHAR(50) PRIMARY KEY,
			ban                VARCHAR(50),
			subscriber_no      VARCHAR(50),
			call_time          TIMESTAMP,
			summary            TEXT,
			sentiment          INT,
			classification     VARCHAR(100),
			all_classifications TEXT,
			confidence         NUMERIC(5,2),
			processing_time_ms BIGINT,
			model_version      VARCHAR(50),
			created_at         TIMESTAMP DEFAULT NOW()
		)`,

	"conversation_summary": `
		CREATE TABLE IF NOT EXISTS conversation_summary (
			source_id             VARCHAR(50) NOT NULL,
			source_type           VARCHAR(10) NOT NULL,
			ban                   VARCHAR(50),
			subscriber_no         VARCHAR(50),
			conversation_time     TIMESTAMP,
			summary               TEXT,
			overall_sentiment     INT,
			primary_classification VARCHAR(100),
			all_classifications   TEXT,
			confidence            NUMERIC(5,2),
			customer_satisfaction INT,
			products_mentioned    TEXT,
			action_items          TEXT,
			unresolved_issues     TEXT,
			churn_score           NUMERIC(5,1),
			model_version         VARCHAR(50),
			processing_time_ms    BIGINT,
			error_message         TEXT,
			created_at            TIMESTAMP DEFAULT NOW(),
			PRIMARY KEY (source_type, source_id)
		)`,

	"conversation_category": `
		CREATE TABLE IF NOT EXISTS conversation_category (
			source_id   VARCHAR(50) NOT NULL,
			source_type VARCHAR(10) NOT NULL,
			category    VARCHAR(255) NOT NULL,
			created_at  TIMESTAMP DEFAULT NOW(),
			UNIQUE (source_type, source_id, category)
		)`,

	"alert_configurations": `
		CREATE TABLE IF NOT EXISTS alert_configurations (
			alert_id           UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			alert_name         VARCHAR(200) NOT NULL,
			metric_source      VARCHAR(50) NOT NULL,
			metric_name        VARCHAR(100) NOT NULL,
			condition_operator VARCHAR(10) NOT NULL,
			threshold_value    NUMERIC NOT NULL,
			time_window_hours  INT DEFAULT 24,
			filter_product     VARCHAR(100),
			filter_sentiment   VARCHAR(50),
			severity           VARCHAR(20) DEFAULT 'WARNING',
			is_enabled         BOOLEAN DEFAULT TRUE,
			description        TEXT,
			created_at         TIMESTAMP DEFAULT NOW(),
			updated_at         TIMESTAMP DEFAULT NOW()
		)`,

	"alert_history": `
		CREATE TABLE IF NOT EXISTS alert_history (
			history_id           UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			alert_id             UUID REFERENCES alert_configurations(alert_id),
			triggered_at         TIMESTAMP DEFAULT NOW(),
			metric_value         NUMERIC,
			threshold_value      NUMERIC,
			severity             VARCHAR(20),
			status               VARCHAR(20) DEFAULT 'ACTIVE',
			affected_subscribers TEXT,
			affected_count       INT DEFAULT 0,
			acknowledged_by      VARCHAR(200),
			acknowledged_at      TIMESTAMP,
			resolved_by          VARCHAR(200),
			resolved_at          TIMESTAMP,
			resolution_notes     TEXT
		)`,

	"ml_config_recommendations": `
		CREATE TABLE IF NOT EXISTS ml_config_recommendations (
			rec_id      UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			rec_type    VARCHAR(50) NOT NULL,
			rec_details TEXT,
			status      VARCHAR(20) DEFAULT 'PENDING',
			created_at  TIMESTAMP DEFAULT NOW(),
			approved_by VARCHAR(200),
			approved_at TIMESTAMP,
			notes       TEXT
		)`,

	"ml_evaluation_history": `
		CREATE TABLE IF NOT EXISTS ml_evaluation_history (
			eval_id                   UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			eval_date                 TIMESTAMP DEFAULT NOW(),
			churned_count             INT,
			with_score_count          INT,
			recall_rate               NUMERIC(5,4),
			coverage_rate             NUMERIC(5,4),
			avg_churn_score           NUMERIC(5,1),
			recommendations_generated INT,
			notes                     TEXT
		)`,

	"ml_classification_feedback": `
		CREATE TABLE IF NOT EXISTS ml_classification_feedback (
			feedback_id      UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			source_id        VARCHAR(50),
			ml_category      VARCHAR(255),
			correct_category VARCHAR(255),
			is_correct       BOOLEAN,
			reviewer         VARCHAR(200),
			created_at       TIMESTAMP DEFAULT NOW()
		)`,
}

// SourceTables holds the dev-only DDL for the tables the bridge reads but
// never owns. Missing source tables are a warning, not a failure.
var SourceTables = map[string]string{
	"verint_text_analysis": `
		CREATE TABLE IF NOT EXISTS verint_text_analysis (
			call_id       VARCHAR(50) NOT NULL,
			ban           VARCHAR(50),
			subscriber_no VARCHAR(50),
			owner         VARCHAR(10),
			call_time     TIMESTAMP,
			text_time     TIMESTAMP,
			text          TEXT
		)`,

	"sf_oc_text_analysis_temp": `
		CREATE TABLE IF NOT EXISTS sf_oc_text_analysis_temp (
			case_id       VARCHAR(50) NOT NULL,
			ban           VARCHAR(50),
			subscriber_no VARCHAR(50),
			owner         VARCHAR(10),
			channel_code  INT,
			channel_desc  VARCHAR(50),
			case_date     TIMESTAMP,
			message_date  TIMESTAMP,
			last_run_date TIMESTAMP,
			text          TEXT
		)`,

	"subscriber": `
		CREATE TABLE IF NOT EXISTS subscriber (
			subscriber_no VARCHAR(50) NOT NULL,
			customer_ban  VARCHAR(50),
			status        VARCHAR(20),
			status_date   TIMESTAMP,
			product_code  VARCHAR(100),
			sub_status    VARCHAR(20)
		)`,
}

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_processed_text_time ON cdc_processed_calls (text_time)`,
	`CREATE INDEX IF NOT EXISTS idx_error_log_call ON error_log (call_id, error_type)`,
	`CREATE INDEX IF NOT EXISTS idx_summary_churn ON conversation_summary (churn_score, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_summary_created ON conversation_summary (created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_history_status ON alert_history (alert_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_recommendations_status ON ml_config_recommendations (status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_feedback_created ON ml_classification_feedback (created_at)`,
}

// Validate returns the bridge tables missing from the connected database.
func Validate(ctx context.Context, db *sql.DB) ([]string, error) {
	var missing []string
	for name := range Tables {
		exists, err := tableExists(ctx, db, name)
		if err != nil {
			return nil, fmt.Errorf("check table %s: %w", name, err)
		}
		if !exists {
			missing = append(missing, name)
		}
	}
	return missing, nil
}

// ValidateSources returns source tables that cannot be found. Callers log
// these as warnings; the bridge does not own the source side.
func ValidateSources(ctx context.Context, db *sql.DB) ([]string, error) {
	var missing []string
	for name := range SourceTables {
		exists, err := tableExists(ctx, db, name)
		if err != nil {
			return nil, fmt.Errorf("check table %s: %w", name, err)
		}
		if !exists {
			missing = append(missing, name)
		}
	}
	return missing, nil
}

// Create applies the bridge DDL plus indexes. Statements are idempotent.
func Create(ctx context.Context, db *sql.DB) error {
	for name, ddl := range Tables {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", name, err)
		}
	}
	for _, ddl := range indexes {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

// CreateSources applies the dev-only source table DDL.
func CreateSources(ctx context.Context, db *sql.DB) error {
	for name, ddl := range SourceTables {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", name, err)
		}
	}
	return nil
}

// Ensure validates the bridge tables, creates whatever is missing, and
// re-validates. A table still missing after creation is a hard error.
func Ensure(ctx context.Context, db *sql.DB) error {
	missing, err := Validate(ctx, db)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		return nil
	}
	if err := Create(ctx, db); err != nil {
		return err
	}
	missing, err = Validate(ctx, db)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return fmt.Errorf("tables still missing after create: %v", missing)
	}
	return nil
}

func tableExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_tables WHERE schemaname = 'public' AND tablename = $1)`,
		name).Scan(&exists)
	return exists, err
}
