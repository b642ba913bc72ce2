package domain

import "time"

// Alert history statuses. The only legal transitions are
// ACTIVE -> ACKNOWLEDGED and ACTIVE|ACKNOWLEDGED -> RESOLVED.
const (
	AlertActive       = "ACTIVE"
	AlertAcknowledged = "ACKNOWLEDGED"
	AlertResolved     = "RESOLVED"
)

// Alert severities, in ascending order of urgency.
const (
	SeverityInfo     = "INFO"
	SeverityWarning  = "WARNING"
	SeverityCritical = "CRITICAL"
)

// Comparison operators for alert conditions.
const (
	OpGreaterThan  = "gt"
	OpGreaterEqual = "gte"
	OpLessThan     = "lt"
	OpLessEqual    = "lte"
	OpEqual        = "eq"
)

// AlertConfig is one threshold rule evaluated by the alert evaluator.
type AlertConfig struct {
	ID              string    `json:"alert_id"`
	Name            string    `json:"alert_name"`
	MetricSource    string    `json:"metric_source"`
	MetricName      string    `json:"metric_name"`
	Operator        string    `json:"condition_operator"`
	Threshold       float64   `json:"threshold_value"`
	WindowHours     int       `json:"time_window_hours"`
	FilterProduct   string    `json:"filter_product,omitempty"`
	FilterSentiment string    `json:"filter_sentiment,omitempty"`
	Severity        string    `json:"severity"`
	Enabled         bool      `json:"is_enabled"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// AlertEvent is one alert_history row: a rule that fired, with the metric
// value at trigger time and a snapshot of the most affected subscribers.
type AlertEvent struct {
	ID              string     `json:"history_id"`
	ConfigID        string     `json:"alert_id"`
	Name            string     `json:"alert_name,omitempty"`
	TriggeredAt     time.Time  `json:"triggered_at"`
	MetricValue     float64    `json:"metric_value"`
	Threshold       float64    `json:"threshold_value"`
	Severity        string     `json:"severity"`
	Status          string     `json:"status"`
	AffectedJSON    string     `json:"affected_subscribers,omitempty"`
	AffectedCount   int        `json:"affected_count"`
	AcknowledgedBy  string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt  *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedBy      string     `json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	ResolutionNotes string     `json:"resolution_notes,omitempty"`
}

// AffectedSubscriber is one entry in an alert's affected-subscriber
// snapshot (at most 100 per event, highest metric first).
type AffectedSubscriber struct {
	SubscriberNo string  `json:"subscriber_no"`
	BAN          string  `json:"ban"`
	ChurnScore   float64 `json:"churn_score,omitempty"`
	Sentiment    int     `json:"sentiment,omitempty"`
	Satisfaction int     `json:"satisfaction,omitempty"`
	CallTime     string  `json:"call_time"`
	ProductCode  string  `json:"product_code,omitempty"`
}
