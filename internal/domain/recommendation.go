package domain

import "time"

// Recommendation statuses.
const (
	RecPending  = "PENDING"
	RecApproved = "APPROVED"
	RecRejected = "REJECTED"
)

// Recommendation types emitted by the weekly evaluation.
const (
	RecChurnThreshold    = "churn_threshold"
	RecChurnKeywords     = "churn_keywords"
	RecPipelineCoverage  = "pipeline_coverage"
	RecClassificationFix = "classification_fix"
)

// Recommendation is a reviewable config-change proposal. Details is the
// full recommendation body as JSON; its shape depends on Type.
type Recommendation struct {
	ID         string     `json:"rec_id"`
	Type       string     `json:"rec_type"`
	Details    string     `json:"rec_details"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	ApprovedBy string     `json:"approved_by,omitempty"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	Notes      string     `json:"notes,omitempty"`
}

// EvaluationRecord is one ml_evaluation_history row: the metrics of a
// weekly evaluation run.
type EvaluationRecord struct {
	ID               string    `json:"eval_id"`
	EvalDate         time.Time `json:"eval_date"`
	ChurnedCount     int       `json:"churned_count"`
	WithScoreCount   int       `json:"with_score_count"`
	RecallRate       float64   `json:"recall_rate"`
	CoverageRate     float64   `json:"coverage_rate"`
	AvgChurnScore    float64   `json:"avg_churn_score"`
	Recommendations  int       `json:"recommendations_generated"`
	Notes            string    `json:"notes,omitempty"`
}

// ChurnOutcome is one churned subscriber with the best churn prediction we
// ever made for them before they left.
type ChurnOutcome struct {
	SubscriberNo  string
	Status        string
	StatusDate    time.Time
	MaxChurnScore *float64 // nil when no call of theirs was ever scored
	CallCount     int
	CallIDs       []string // most recent first
}

// ClassificationFeedback is one human correction of an ML classification.
type ClassificationFeedback struct {
	SourceID        string `json:"source_id"`
	MLCategory      string `json:"ml_category"`
	CorrectCategory string `json:"correct_category"`
	IsCorrect       bool   `json:"is_correct"`
	Reviewer        string `json:"reviewer"`
}

// Misclassification is a (predicted, actual) pair that reviewers corrected
// repeatedly within the feedback window.
type Misclassification struct {
	Predicted string `json:"predicted"`
	Actual    string `json:"actual"`
	Count     int    `json:"count"`
}
