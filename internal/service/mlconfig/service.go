package mlconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/northcell/conversation-cdc/internal/domain"
)

// Config artifact keys in the object store. The ML service reads the same
// keys on reload.
const (
	KeywordsArtifact       = "configs/classification-keywords.json"
	ClassificationArtifact = "configs/call-classifications.json"
)

const defaultActor = "dashboard_user"

// Service owns the recommendation lifecycle and the config artifacts.
type Service struct {
	repo   Repository
	store  ObjectStore
	notify Publisher
}

// NewService wires the approval channel.
func NewService(repo Repository, store ObjectStore, notify Publisher) *Service {
	return &Service{repo: repo, store: store, notify: notify}
}

// Approve applies a PENDING recommendation to the config artifact in the
// object store and marks it APPROVED. It does NOT trigger an ML reload;
// that is Apply's job. A failed artifact write leaves the row PENDING.
// Returns the recommendation type for the caller's response.
func (s *Service) Approve(ctx context.Context, recID, approver string) (string, error) {
	if approver == "" {
		approver = defaultActor
	}
	rec, err := s.repo.GetPending(ctx, recID)
	if err != nil {
		return "", err
	}

	switch rec.Type {
	case domain.RecChurnKeywords:
		if err := s.addKeywords(ctx, rec.Details); err != nil {
			return "", fmt.Errorf("update keyword artifact: %w", err)
		}
	case domain.RecChurnThreshold:
		if err := s.applyThreshold(ctx, rec.Details); err != nil {
			return "", fmt.Errorf("update classification artifact: %w", err)
		}
	}
	// pipeline_coverage and classification_fix carry no artifact change;
	// approving them just records the operator's sign-off.

	if err := s.repo.Approve(ctx, recID, approver); err != nil {
		return "", err
	}
	return rec.Type, nil
}

// addKeywords merges the recommended keywords into churn_keywords.medium,
// keeping the existing order and every other field of the artifact.
func (s *Service) addKeywords(ctx context.Context, details string) error {
	var d struct {
		Keywords []string `json:"keywords"`
	}
	if err := json.Unmarshal([]byte(details), &d); err != nil {
		return fmt.Errorf("parse recommendation details: %w", err)
	}
	if len(d.Keywords) == 0 {
		return nil
	}

	var artifact map[string]any
	if err := s.store.GetJSON(ctx, KeywordsArtifact, &artifact); err != nil {
		return err
	}
	if artifact == nil {
		artifact = map[string]any{}
	}
	section, _ := artifact["churn_keywords"].(map[string]any)
	if section == nil {
		section = map[string]any{}
		artifact["churn_keywords"] = section
	}

	existing := stringSlice(section["medium"])
	seen := make(map[string]bool, len(existing))
	for _, kw := range existing {
		seen[kw] = true
	}
	merged := existing
	for _, kw := range d.Keywords {
		if !seen[kw] {
			merged = append(merged, kw)
			seen[kw] = true
		}
	}
	section["medium"] = merged

	return s.store.PutJSON(ctx, KeywordsArtifact, artifact)
}

// applyThreshold sets churn_detection.threshold to the recommended value
// on the 0..1 scale, preserving every other field of the artifact.
func (s *Service) applyThreshold(ctx context.Context, details string) error {
	var d struct {
		RecommendedValue float64 `json:"recommended_value"`
	}
	if err := json.Unmarshal([]byte(details), &d); err != nil {
		return fmt.Errorf("parse recommendation details: %w", err)
	}
	if d.RecommendedValue == 0 {
		d.RecommendedValue = 40
	}

	var artifact map[string]any
	if err := s.store.GetJSON(ctx, ClassificationArtifact, &artifact); err != nil {
		return err
	}
	if artifact == nil {
		artifact = map[string]any{}
	}
	section, _ := artifact["churn_detection"].(map[string]any)
	if section == nil {
		section = map[string]any{}
		artifact["churn_detection"] = section
	}
	section["threshold"] = d.RecommendedValue / 100

	return s.store.PutJSON(ctx, ClassificationArtifact, artifact)
}

type reloadMessage struct {
	Action      string `json:"action"`
	TriggeredBy string `json:"triggered_by"`
	Timestamp   string `json:"timestamp"`
}

// Apply publishes exactly one reload trigger to the ML notification
// queue. It never touches the object store.
func (s *Service) Apply(ctx context.Context, triggeredBy string) error {
	if triggeredBy == "" {
		triggeredBy = defaultActor
	}
	body, err := json.Marshal(reloadMessage{
		Action:      "reload_configs",
		TriggeredBy: triggeredBy,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	if _, err := s.notify.Send(ctx, string(body), nil); err != nil {
		return fmt.Errorf("send reload trigger: %w", err)
	}
	return nil
}

// Reject closes a PENDING recommendation without any config change.
func (s *Service) Reject(ctx context.Context, recID, rejectedBy, reason string) error {
	if rejectedBy == "" {
		rejectedBy = defaultActor
	}
	return s.repo.Reject(ctx, recID, fmt.Sprintf("Rejected by %s: %s", rejectedBy, reason))
}

// Recommendations lists recommendations, optionally filtered by status.
func (s *Service) Recommendations(ctx context.Context, status string) ([]domain.Recommendation, error) {
	return s.repo.ListRecommendations(ctx, status)
}

// History lists evaluation runs from the last days (default 90).
func (s *Service) History(ctx context.Context, days int) ([]domain.EvaluationRecord, error) {
	if days <= 0 {
		days = 90
	}
	return s.repo.ListHistory(ctx, days)
}

// SubmitFeedback stores a human classification correction for the next
// evaluation run to aggregate.
func (s *Service) SubmitFeedback(ctx context.Context, fb *domain.ClassificationFeedback) error {
	if fb.SourceID == "" || fb.MLCategory == "" {
		return fmt.Errorf("%w: source_id and ml_category are required", ErrInvalid)
	}
	if fb.Reviewer == "" {
		fb.Reviewer = defaultActor
	}
	return s.repo.InsertFeedback(ctx, fb)
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
