package alerting

import (
	"context"
	"time"

	"github.com/northcell/conversation-cdc/internal/domain"
)

// MetricKey identifies a metric in the registry.
type MetricKey struct {
	Source string
	Name   string
}

// Reading is one computed metric: the value (nil when the database has no
// data to aggregate, which never triggers) and a snapshot of the most
// affected subscribers, capped at 100.
type Reading struct {
	Value    *float64
	Affected []domain.AffectedSubscriber
}

// Metrics computes readings against the destination tables. Implementations
// return ErrUnknownMetric for keys outside the registry.
type Metrics interface {
	Compute(ctx context.Context, key MetricKey, window time.Duration, productFilter string) (Reading, error)
}

// HistoryFilter narrows alert history queries.
type HistoryFilter struct {
	Status string
	Limit  int
}

// Repository defines persistence for alert configurations and history.
// Implementations must be safe for concurrent use.
type Repository interface {
	// ListConfigs returns alert configurations, newest first.
	ListConfigs(ctx context.Context, onlyEnabled bool) ([]domain.AlertConfig, error)

	// GetConfig returns one configuration. ErrNotFound when absent.
	GetConfig(ctx context.Context, id string) (*domain.AlertConfig, error)

	// CreateConfig inserts a configuration and returns its id.
	CreateConfig(ctx context.Context, cfg *domain.AlertConfig) (string, error)

	// UpdateConfig rewrites a configuration. ErrNotFound when absent.
	UpdateConfig(ctx context.Context, id string, cfg *domain.AlertConfig) error

	// DeleteConfig removes a configuration. ErrNotFound when absent.
	DeleteConfig(ctx context.Context, id string) error

	// HasActive reports whether the rule already has an ACTIVE event.
	HasActive(ctx context.Context, configID string) (bool, error)

	// InsertEvent records a newly triggered alert and returns its id.
	InsertEvent(ctx context.Context, ev *domain.AlertEvent) (string, error)

	// ListHistory returns alert events, newest first.
	ListHistory(ctx context.Context, f HistoryFilter) ([]domain.AlertEvent, error)

	// Acknowledge moves ACTIVE -> ACKNOWLEDGED. ErrInvalidTransition when
	// the row is not ACTIVE, ErrNotFound when absent.
	Acknowledge(ctx context.Context, historyID, by string) error

	// Resolve moves ACTIVE|ACKNOWLEDGED -> RESOLVED.
	Resolve(ctx context.Context, historyID, by, notes string) error
}

// Notifier delivers notifications for newly created alerts. The SES
// implementation lives in internal/notify.
type Notifier interface {
	NotifyAlert(ctx context.Context, cfg domain.AlertConfig, ev *domain.AlertEvent) error
}
