package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/northcell/conversation-cdc/internal/domain"
)

// snapshotCap bounds the affected-subscriber snapshot stored per event.
const snapshotCap = 100

var severityRank = map[string]int{
	domain.SeverityInfo:     0,
	domain.SeverityWarning:  1,
	domain.SeverityCritical: 2,
}

// Service evaluates alert rules and manages their lifecycle.
type Service struct {
	repo        Repository
	metrics     Metrics
	notifier    Notifier
	minSeverity string
}

// NewService creates an alert service. notifier may be nil; minSeverity
// gates notifications (events below it are stored but not sent).
func NewService(repo Repository, metrics Metrics, notifier Notifier, minSeverity string) *Service {
	if _, ok := severityRank[minSeverity]; !ok {
		minSeverity = domain.SeverityCritical
	}
	return &Service{repo: repo, metrics: metrics, notifier: notifier, minSeverity: minSeverity}
}

// Outcome is the per-rule result of one evaluation pass, serialized into
// the evaluator's status file.
type Outcome struct {
	AlertID   string   `json:"alert_id"`
	AlertName string   `json:"alert_name"`
	Metric    string   `json:"metric"`
	Value     *float64 `json:"value"`
	Threshold float64  `json:"threshold"`
	Triggered bool     `json:"triggered"`
	Created   bool     `json:"created"`
	Skipped   string   `json:"skipped,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// EvaluateAll runs every enabled rule once. Rule-level failures land in
// the outcome, not the error: one broken rule never stops the pass.
func (s *Service) EvaluateAll(ctx context.Context) ([]Outcome, error) {
	configs, err := s.repo.ListConfigs(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list alert configs: %w", err)
	}

	outcomes := make([]Outcome, 0, len(configs))
	for _, cfg := range configs {
		outcomes = append(outcomes, s.evaluate(ctx, cfg))
	}
	return outcomes, nil
}

func (s *Service) evaluate(ctx context.Context, cfg domain.AlertConfig) Outcome {
	out := Outcome{
		AlertID:   cfg.ID,
		AlertName: cfg.Name,
		Metric:    cfg.MetricSource + "." + cfg.MetricName,
		Threshold: cfg.Threshold,
	}

	window := time.Duration(cfg.WindowHours) * time.Hour
	if window <= 0 {
		window = 24 * time.Hour
	}

	reading, err := s.metrics.Compute(ctx, MetricKey{Source: cfg.MetricSource, Name: cfg.MetricName}, window, cfg.FilterProduct)
	if errors.Is(err, ErrUnknownMetric) {
		zero := 0.0
		out.Value = &zero
		out.Skipped = "unknown metric"
		return out
	}
	if err != nil {
		out.Error = err.Error()
		return out
	}
	out.Value = reading.Value

	if !Compare(reading.Value, cfg.Operator, cfg.Threshold) {
		return out
	}
	out.Triggered = true

	active, err := s.repo.HasActive(ctx, cfg.ID)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	if active {
		out.Skipped = "active alert exists"
		return out
	}

	ev := &domain.AlertEvent{
		ConfigID:      cfg.ID,
		Name:          cfg.Name,
		TriggeredAt:   time.Now().UTC(),
		MetricValue:   *reading.Value,
		Threshold:     cfg.Threshold,
		Severity:      cfg.Severity,
		Status:        domain.AlertActive,
		AffectedCount: len(reading.Affected),
	}
	if snapshot := reading.Affected; len(snapshot) > 0 {
		if len(snapshot) > snapshotCap {
			snapshot = snapshot[:snapshotCap]
			ev.AffectedCount = snapshotCap
		}
		data, err := json.Marshal(snapshot)
		if err != nil {
			log.Printf("[Alerting] snapshot marshal failed for %s: %v", cfg.Name, err)
		} else {
			ev.AffectedJSON = string(data)
		}
	}

	id, err := s.repo.InsertEvent(ctx, ev)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	ev.ID = id
	out.Created = true

	s.maybeNotify(ctx, cfg, ev)
	return out
}

func (s *Service) maybeNotify(ctx context.Context, cfg domain.AlertConfig, ev *domain.AlertEvent) {
	if s.notifier == nil {
		return
	}
	if severityRank[ev.Severity] < severityRank[s.minSeverity] {
		return
	}
	if err := s.notifier.NotifyAlert(ctx, cfg, ev); err != nil {
		// Notification is best effort; the history row already exists.
		log.Printf("[Alerting] notify failed for %s: %v", cfg.Name, err)
	}
}

// Compare applies the rule operator. A nil value never triggers: no data
// is not an incident.
func Compare(value *float64, op string, threshold float64) bool {
	if value == nil {
		return false
	}
	v := *value
	switch op {
	case domain.OpGreaterThan:
		return v > threshold
	case domain.OpGreaterEqual:
		return v >= threshold
	case domain.OpLessThan:
		return v < threshold
	case domain.OpLessEqual:
		return v <= threshold
	case domain.OpEqual:
		return v == threshold
	default:
		return false
	}
}

// ListConfigs returns alert configurations.
func (s *Service) ListConfigs(ctx context.Context) ([]domain.AlertConfig, error) {
	return s.repo.ListConfigs(ctx, false)
}

// CreateConfig validates and stores a new rule.
func (s *Service) CreateConfig(ctx context.Context, cfg *domain.AlertConfig) (string, error) {
	if cfg.Name == "" || cfg.MetricSource == "" || cfg.MetricName == "" {
		return "", fmt.Errorf("%w: alert_name, metric_source and metric_name are required", ErrInvalid)
	}
	if _, ok := validOperators[cfg.Operator]; !ok {
		return "", fmt.Errorf("%w: unknown condition_operator %q", ErrInvalid, cfg.Operator)
	}
	if cfg.WindowHours <= 0 {
		cfg.WindowHours = 24
	}
	if cfg.Severity == "" {
		cfg.Severity = domain.SeverityWarning
	}
	cfg.Enabled = true
	return s.repo.CreateConfig(ctx, cfg)
}

// UpdateConfig rewrites an existing rule.
func (s *Service) UpdateConfig(ctx context.Context, id string, cfg *domain.AlertConfig) error {
	if cfg.Operator != "" {
		if _, ok := validOperators[cfg.Operator]; !ok {
			return fmt.Errorf("%w: unknown condition_operator %q", ErrInvalid, cfg.Operator)
		}
	}
	return s.repo.UpdateConfig(ctx, id, cfg)
}

// DeleteConfig removes a rule.
func (s *Service) DeleteConfig(ctx context.Context, id string) error {
	return s.repo.DeleteConfig(ctx, id)
}

// History returns alert events.
func (s *Service) History(ctx context.Context, f HistoryFilter) ([]domain.AlertEvent, error) {
	return s.repo.ListHistory(ctx, f)
}

// Acknowledge marks an ACTIVE alert as seen by an operator.
func (s *Service) Acknowledge(ctx context.Context, historyID, by string) error {
	if by == "" {
		by = "Dashboard User"
	}
	return s.repo.Acknowledge(ctx, historyID, by)
}

// Resolve closes an ACTIVE or ACKNOWLEDGED alert.
func (s *Service) Resolve(ctx context.Context, historyID, by, notes string) error {
	if by == "" {
		by = "Dashboard User"
	}
	return s.repo.Resolve(ctx, historyID, by, notes)
}

var validOperators = map[string]bool{
	domain.OpGreaterThan:  true,
	domain.OpGreaterEqual: true,
	domain.OpLessThan:     true,
	domain.OpLessEqual:    true,
	domain.OpEqual:        true,
}
