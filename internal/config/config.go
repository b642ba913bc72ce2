package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the bridge processes.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	AWS        AWSConfig        `yaml:"aws"`
	Queues     QueuesConfig     `yaml:"queues"`
	S3         S3Config         `yaml:"s3"`
	CDC        CDCConfig        `yaml:"cdc"`
	Backfill   BackfillConfig   `yaml:"backfill"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
	Redis      RedisConfig      `yaml:"redis"`
	Warehouse  WarehouseConfig  `yaml:"warehouse"`
	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL                string `yaml:"url"`
	MaxOpenConns       int    `yaml:"max_open_conns"`
	MaxIdleConns       int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMin int    `yaml:"conn_max_lifetime_minutes"`
}

// ConnMaxLifetime returns the connection max lifetime as a duration.
func (d DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(d.ConnMaxLifetimeMin) * time.Minute
}

// AWSConfig holds shared AWS credentials and region.
// Static keys are optional; when empty the default credential chain applies.
type AWSConfig struct {
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// QueuesConfig holds the SQS queue URLs used by the bridge.
type QueuesConfig struct {
	OutboundURL              string `yaml:"outbound_url"`
	InboundURL               string `yaml:"inbound_url"`
	NotifyURL                string `yaml:"notify_url"`
	VisibilityTimeoutSeconds int    `yaml:"visibility_timeout_seconds"`
	WaitTimeSeconds          int    `yaml:"wait_time_seconds"`
}

// S3Config holds the ML config artifact bucket settings.
type S3Config struct {
	Bucket string `yaml:"bucket"`
}

// CDCConfig holds the continuous change-capture loop settings.
type CDCConfig struct {
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	BatchSize           int    `yaml:"batch_size"`
	HistoricalBatchSize int    `yaml:"historical_batch_size"`
	HistoricalStartDate string `yaml:"historical_start_date"`
	RecentWindowDays    int    `yaml:"recent_window_days"`
	StatsEvery          int    `yaml:"stats_every"`
	ErrorPauseSeconds   int    `yaml:"error_pause_seconds"`
	MarkRejected        bool   `yaml:"mark_rejected"`
	MaxSendAttempts     int    `yaml:"max_send_attempts"`
}

// PollInterval returns the loop sleep between cycles.
func (c CDCConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// ErrorPause returns the wait after a cycle-level failure.
func (c CDCConfig) ErrorPause() time.Duration {
	return time.Duration(c.ErrorPauseSeconds) * time.Second
}

// RecentWindow returns how far back the processed-ID anti-join looks.
func (c CDCConfig) RecentWindow() time.Duration {
	return time.Duration(c.RecentWindowDays) * 24 * time.Hour
}

// BackfillConfig holds the one-shot backfill settings.
type BackfillConfig struct {
	WindowDays         int `yaml:"window_days"`
	BulkBatch          int `yaml:"bulk_batch"`
	DeltaBatch         int `yaml:"delta_batch"`
	DeltaWindowMinutes int `yaml:"delta_window_minutes"`
	PauseMs            int `yaml:"pause_ms"`
	MinSegments        int `yaml:"min_segments"`
}

// Window returns the bulk-phase lookback.
func (b BackfillConfig) Window() time.Duration {
	return time.Duration(b.WindowDays) * 24 * time.Hour
}

// DeltaWindow returns the delta-phase lookback.
func (b BackfillConfig) DeltaWindow() time.Duration {
	return time.Duration(b.DeltaWindowMinutes) * time.Minute
}

// Pause returns the inter-batch pause.
func (b BackfillConfig) Pause() time.Duration {
	return time.Duration(b.PauseMs) * time.Millisecond
}

// AlertsConfig holds alert evaluator settings.
type AlertsConfig struct {
	StatusFile        string   `yaml:"status_file"`
	NotifyMinSeverity string   `yaml:"notify_min_severity"`
	EmailFrom         string   `yaml:"email_from"`
	EmailTo           []string `yaml:"email_to"`
	IntervalMinutes   int      `yaml:"interval_minutes"`
}

// Interval returns the loop interval for daemon mode.
func (a AlertsConfig) Interval() time.Duration {
	return time.Duration(a.IntervalMinutes) * time.Minute
}

// EvaluationConfig holds weekly churn-evaluation settings.
type EvaluationConfig struct {
	LookbackDays    int     `yaml:"lookback_days"`
	HighThreshold   float64 `yaml:"high_threshold"`
	MediumThreshold float64 `yaml:"medium_threshold"`
}

// Lookback returns the churn-outcome window.
func (e EvaluationConfig) Lookback() time.Duration {
	return time.Duration(e.LookbackDays) * 24 * time.Hour
}

// RedisConfig holds the optional Redis settings for the run lock.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// WarehouseConfig holds the optional Snowflake mirror settings.
type WarehouseConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Account   string `yaml:"account"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	Database  string `yaml:"database"`
	Schema    string `yaml:"schema"`
	Warehouse string `yaml:"warehouse"`
	Table     string `yaml:"table"`
}

// ServerConfig holds the operator API settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// AuthConfig holds Google OAuth authentication configuration.
type AuthConfig struct {
	Enabled            bool   `yaml:"enabled"`
	GoogleClientID     string `yaml:"google_client_id"`
	GoogleClientSecret string `yaml:"google_client_secret"`
	AllowedDomain      string `yaml:"allowed_domain"`
	SessionSecret      string `yaml:"session_secret"`
	CookieName         string `yaml:"cookie_name"`
	CookieMaxAge       int    `yaml:"cookie_max_age"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetimeMin == 0 {
		cfg.Database.ConnMaxLifetimeMin = 30
	}
	if cfg.AWS.Region == "" {
		cfg.AWS.Region = "eu-west-1"
	}
	if cfg.Queues.VisibilityTimeoutSeconds == 0 {
		cfg.Queues.VisibilityTimeoutSeconds = 600
	}
	if cfg.Queues.WaitTimeSeconds == 0 {
		cfg.Queues.WaitTimeSeconds = 5
	}
	if cfg.CDC.PollIntervalSeconds == 0 {
		cfg.CDC.PollIntervalSeconds = 10
	}
	if cfg.CDC.BatchSize == 0 {
		cfg.CDC.BatchSize = 50
	}
	if cfg.CDC.HistoricalBatchSize == 0 {
		cfg.CDC.HistoricalBatchSize = 50
	}
	if cfg.CDC.HistoricalStartDate == "" {
		cfg.CDC.HistoricalStartDate = "2024-01-01"
	}
	if cfg.CDC.RecentWindowDays == 0 {
		cfg.CDC.RecentWindowDays = 90
	}
	if cfg.CDC.StatsEvery == 0 {
		cfg.CDC.StatsEvery = 10
	}
	if cfg.CDC.ErrorPauseSeconds == 0 {
		cfg.CDC.ErrorPauseSeconds = 30
	}
	if cfg.CDC.MaxSendAttempts == 0 {
		cfg.CDC.MaxSendAttempts = 5
	}
	if cfg.Backfill.WindowDays == 0 {
		cfg.Backfill.WindowDays = 90
	}
	if cfg.Backfill.BulkBatch == 0 {
		cfg.Backfill.BulkBatch = 1000
	}
	if cfg.Backfill.DeltaBatch == 0 {
		cfg.Backfill.DeltaBatch = 50
	}
	if cfg.Backfill.DeltaWindowMinutes == 0 {
		cfg.Backfill.DeltaWindowMinutes = 500
	}
	if cfg.Backfill.PauseMs == 0 {
		cfg.Backfill.PauseMs = 500
	}
	if cfg.Alerts.StatusFile == "" {
		cfg.Alerts.StatusFile = "/tmp/alert-evaluator-status.json"
	}
	if cfg.Alerts.NotifyMinSeverity == "" {
		cfg.Alerts.NotifyMinSeverity = "CRITICAL"
	}
	if cfg.Alerts.IntervalMinutes == 0 {
		cfg.Alerts.IntervalMinutes = 15
	}
	if cfg.Evaluation.LookbackDays == 0 {
		cfg.Evaluation.LookbackDays = 30
	}
	if cfg.Evaluation.HighThreshold == 0 {
		cfg.Evaluation.HighThreshold = 70
	}
	if cfg.Evaluation.MediumThreshold == 0 {
		cfg.Evaluation.MediumThreshold = 40
	}
	if cfg.Warehouse.Table == "" {
		cfg.Warehouse.Table = "ML_EVALUATION_HISTORY"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Auth.CookieName == "" {
		cfg.Auth.CookieName = "cdc_session"
	}
	if cfg.Auth.CookieMaxAge == 0 {
		cfg.Auth.CookieMaxAge = 86400
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on the host.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Database override (critical for deployments where config.yaml has local defaults)
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}

	// AWS overrides
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.AWS.Region = v
	}
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		cfg.AWS.AccessKey = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		cfg.AWS.SecretKey = v
	}

	// Queue overrides
	if v := os.Getenv("SQS_OUTBOUND_QUEUE_URL"); v != "" {
		cfg.Queues.OutboundURL = v
	}
	if v := os.Getenv("SQS_INBOUND_QUEUE_URL"); v != "" {
		cfg.Queues.InboundURL = v
	}
	if v := os.Getenv("SQS_NOTIFY_QUEUE_URL"); v != "" {
		cfg.Queues.NotifyURL = v
	}
	if v := os.Getenv("ML_CONFIG_BUCKET"); v != "" {
		cfg.S3.Bucket = v
	}

	// CDC overrides
	if v := os.Getenv("CDC_POLL_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CDC.PollIntervalSeconds = n
		}
	}
	if v := os.Getenv("CDC_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CDC.BatchSize = n
		}
	}
	if v := os.Getenv("CDC_MARK_REJECTED"); v != "" {
		cfg.CDC.MarkRejected = v == "true" || v == "1"
	}

	// Redis override
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.Addr = v
	}

	// Warehouse overrides
	if v := os.Getenv("SNOWFLAKE_ACCOUNT"); v != "" {
		cfg.Warehouse.Account = v
	}
	if v := os.Getenv("SNOWFLAKE_USER"); v != "" {
		cfg.Warehouse.User = v
	}
	if v := os.Getenv("SNOWFLAKE_PASSWORD"); v != "" {
		cfg.Warehouse.Password = v
	}

	// Alert email overrides
	if v := os.Getenv("ALERT_EMAIL_FROM"); v != "" {
		cfg.Alerts.EmailFrom = v
	}
	if v := os.Getenv("ALERT_EMAIL_TO"); v != "" {
		cfg.Alerts.EmailTo = splitAndTrim(v)
	}

	// Auth overrides
	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		cfg.Auth.GoogleClientID = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		cfg.Auth.GoogleClientSecret = v
	}
	if v := os.Getenv("SESSION_SECRET"); v != "" {
		cfg.Auth.SessionSecret = v
	}
	if v := os.Getenv("AUTH_ALLOWED_DOMAIN"); v != "" {
		cfg.Auth.AllowedDomain = v
	}

	return cfg, nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
