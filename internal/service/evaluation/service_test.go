package evaluation_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/northcell/conversation-cdc/internal/domain"
	"github.com/northcell/conversation-cdc/internal/service/evaluation"
)

type memRepo struct {
	outcomes    []domain.ChurnOutcome
	outcomesErr error
	transcripts map[string]string
	pairs       []domain.Misclassification
	recs        []domain.Recommendation
	history     []domain.EvaluationRecord
	historyErr  error
}

func (m *memRepo) ChurnOutcomes(_ context.Context, _ time.Duration) ([]domain.ChurnOutcome, error) {
	if m.outcomesErr != nil {
		return nil, m.outcomesErr
	}
	return m.outcomes, nil
}

func (m *memRepo) Transcript(_ context.Context, callID string) (string, error) {
	return m.transcripts[callID], nil
}

func (m *memRepo) Misclassifications(_ context.Context, _ time.Duration, _ int) ([]domain.Misclassification, error) {
	return m.pairs, nil
}

func (m *memRepo) InsertRecommendation(_ context.Context, recType, details string) (string, error) {
	id := fmt.Sprintf("rec-%d", len(m.recs)+1)
	m.recs = append(m.recs, domain.Recommendation{ID: id, Type: recType, Details: details, Status: domain.RecPending})
	return id, nil
}

func (m *memRepo) InsertHistory(_ context.Context, rec *domain.EvaluationRecord) (string, error) {
	if m.historyErr != nil {
		return "", m.historyErr
	}
	id := fmt.Sprintf("eval-%d", len(m.history)+1)
	cp := *rec
	cp.ID = id
	m.history = append(m.history, cp)
	return id, nil
}

type fakeMirror struct {
	rows []domain.EvaluationRecord
	fail bool
}

func (f *fakeMirror) MirrorEvaluation(_ context.Context, rec domain.EvaluationRecord) error {
	if f.fail {
		return errors.New("warehouse unavailable")
	}
	f.rows = append(f.rows, rec)
	return nil
}

func score(v float64) *float64 { return &v }

func defaultConfig() evaluation.Config {
	return evaluation.Config{LookbackDays: 30, HighThreshold: 70, MediumThreshold: 40}
}

func findRec(t *testing.T, recs []domain.Recommendation, recType string) domain.Recommendation {
	t.Helper()
	for _, r := range recs {
		if r.Type == recType {
			return r
		}
	}
	t.Fatalf("no %s recommendation in %+v", recType, recs)
	return domain.Recommendation{}
}

func TestRunComputesMetrics(t *testing.T) {
	repo := &memRepo{
		outcomes: []domain.ChurnOutcome{
			{SubscriberNo: "S1", Status: "CHURNED", MaxChurnScore: score(85), CallIDs: []string{"C1"}},
			{SubscriberNo: "S2", Status: "PORTED", MaxChurnScore: score(55), CallIDs: []string{"C2"}},
			{SubscriberNo: "S3", Status: "CANCELLED", MaxChurnScore: score(20), CallIDs: []string{"C3"}},
			{SubscriberNo: "S4", Status: "DEACTIVATED", CallIDs: []string{"C4"}},
		},
		transcripts: map[string]string{
			"C3": "אני רוצה לעזוב את החברה. השירות גרוע מאוד.",
		},
	}
	svc := evaluation.NewService(repo, nil, defaultConfig())

	sum, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	m := sum.Metrics
	if m.TotalChurned != 4 || m.WithScore != 3 || m.WithoutScore != 1 {
		t.Errorf("counts = %d/%d/%d, want 4/3/1", m.TotalChurned, m.WithScore, m.WithoutScore)
	}
	if m.HighRiskCaught != 1 || m.MediumPlusCaught != 2 {
		t.Errorf("caught = %d/%d, want 1/2", m.HighRiskCaught, m.MediumPlusCaught)
	}
	if math.Abs(m.RecallHigh-1.0/3) > 1e-9 || math.Abs(m.Recall-2.0/3) > 1e-9 {
		t.Errorf("recall = %v/%v, want 1/3 and 2/3", m.RecallHigh, m.Recall)
	}
	if math.Abs(m.Coverage-0.75) > 1e-9 {
		t.Errorf("coverage = %v, want 0.75", m.Coverage)
	}
	if math.Abs(m.AvgChurnScore-(85+55+20)/3.0) > 1e-9 {
		t.Errorf("avg score = %v", m.AvgChurnScore)
	}

	// Missed churners are S3 (score 20) and S4 (never scored).
	if sum.Patterns.MissedCount != 2 {
		t.Errorf("missed count = %d, want 2", sum.Patterns.MissedCount)
	}
	if len(sum.Patterns.Keywords) != 2 {
		t.Errorf("keywords = %v, want two entries", sum.Patterns.Keywords)
	}
	if len(sum.Patterns.SamplePhrases) != 2 {
		t.Errorf("sample phrases = %v, want two", sum.Patterns.SamplePhrases)
	}

	// Recall 2/3 passes the 0.5 bar, coverage 0.75 fails the 0.8 bar.
	types := make(map[string]bool)
	for _, r := range sum.Recommendations {
		types[r.Type] = true
	}
	if types[domain.RecChurnThreshold] {
		t.Error("threshold recommendation fired despite healthy recall")
	}
	if !types[domain.RecChurnKeywords] || !types[domain.RecPipelineCoverage] {
		t.Errorf("recommendation types = %v, want keywords and coverage", types)
	}

	if len(repo.history) != 1 {
		t.Fatalf("history rows = %d, want 1", len(repo.history))
	}
	h := repo.history[0]
	if h.ChurnedCount != 4 || h.WithScoreCount != 3 || h.Recommendations != len(sum.Recommendations) {
		t.Errorf("history row = %+v", h)
	}
	var notes evaluation.Metrics
	if err := json.Unmarshal([]byte(h.Notes), &notes); err != nil {
		t.Fatalf("history notes not JSON: %v", err)
	}
	if notes.TotalChurned != 4 {
		t.Errorf("notes metrics = %+v", notes)
	}
}

func TestRunLowRecallRecommendsThreshold(t *testing.T) {
	repo := &memRepo{
		outcomes: []domain.ChurnOutcome{
			{SubscriberNo: "S1", MaxChurnScore: score(30), CallIDs: []string{"C1"}},
			{SubscriberNo: "S2", MaxChurnScore: score(20), CallIDs: []string{"C2"}},
		},
		transcripts: map[string]string{},
	}
	svc := evaluation.NewService(repo, nil, defaultConfig())

	sum, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Metrics.Recall != 0 {
		t.Errorf("recall = %v, want 0", sum.Metrics.Recall)
	}
	if len(sum.Recommendations) != 1 {
		t.Fatalf("recommendations = %+v, want exactly the threshold one", sum.Recommendations)
	}

	rec := findRec(t, sum.Recommendations, domain.RecChurnThreshold)
	var d struct {
		CurrentValue     float64 `json:"current_value"`
		RecommendedValue float64 `json:"recommended_value"`
		Metrics          struct {
			MissedChurners int `json:"missed_churners"`
		} `json:"metrics"`
	}
	if err := json.Unmarshal([]byte(rec.Details), &d); err != nil {
		t.Fatalf("details not JSON: %v", err)
	}
	if d.CurrentValue != 70 || d.RecommendedValue != 40 {
		t.Errorf("threshold values = %v -> %v, want 70 -> 40", d.CurrentValue, d.RecommendedValue)
	}
	if d.Metrics.MissedChurners != 2 {
		t.Errorf("missed churners = %d, want 2", d.Metrics.MissedChurners)
	}
}

func TestRunKeywordSignificance(t *testing.T) {
	// Twelve missed churners: the 10% bar is 1.2 occurrences, so a
	// keyword seen twice is significant and one seen once is not.
	outcomes := make([]domain.ChurnOutcome, 12)
	for i := range outcomes {
		outcomes[i] = domain.ChurnOutcome{
			SubscriberNo: fmt.Sprintf("S%d", i+1),
			CallIDs:      []string{fmt.Sprintf("C%d", i+1)},
		}
	}
	repo := &memRepo{
		outcomes: outcomes,
		transcripts: map[string]string{
			"C1": "זה יקר מדי ויקר לכולם",
			"C2": "יש לי תלונה",
		},
	}
	svc := evaluation.NewService(repo, nil, defaultConfig())

	sum, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	rec := findRec(t, sum.Recommendations, domain.RecChurnKeywords)
	var d struct {
		Keywords      []string       `json:"keywords"`
		KeywordCounts map[string]int `json:"keyword_counts"`
	}
	if err := json.Unmarshal([]byte(rec.Details), &d); err != nil {
		t.Fatalf("details not JSON: %v", err)
	}
	if len(d.Keywords) != 1 || d.Keywords[0] != "יקר" {
		t.Errorf("significant keywords = %v, want only the twice-seen one", d.Keywords)
	}
	if d.KeywordCounts["יקר"] != 2 || d.KeywordCounts["תלונה"] != 1 {
		t.Errorf("keyword counts = %v", d.KeywordCounts)
	}
}

func TestRunNoChurnedSubscribers(t *testing.T) {
	repo := &memRepo{}
	svc := evaluation.NewService(repo, nil, defaultConfig())

	sum, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Note == "" {
		t.Error("expected explanatory note for empty run")
	}
	if len(repo.recs) != 0 || len(repo.history) != 0 {
		t.Errorf("empty run must not write anything, got %d recs %d history", len(repo.recs), len(repo.history))
	}
}

func TestRunClassificationFeedback(t *testing.T) {
	repo := &memRepo{
		outcomes: []domain.ChurnOutcome{
			{SubscriberNo: "S1", MaxChurnScore: score(90), CallIDs: []string{"C1"}},
		},
		pairs: []domain.Misclassification{
			{Predicted: "BILLING", Actual: "CANCELLATION", Count: 5},
		},
	}
	svc := evaluation.NewService(repo, nil, defaultConfig())

	sum, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	rec := findRec(t, sum.Recommendations, domain.RecClassificationFix)
	if !strings.Contains(rec.Details, "5 times") {
		t.Errorf("details missing correction count: %s", rec.Details)
	}
	var d struct {
		Misclassifications []domain.Misclassification `json:"misclassifications"`
	}
	if err := json.Unmarshal([]byte(rec.Details), &d); err != nil {
		t.Fatalf("details not JSON: %v", err)
	}
	if len(d.Misclassifications) != 1 || d.Misclassifications[0].Predicted != "BILLING" {
		t.Errorf("misclassifications = %+v", d.Misclassifications)
	}
}

func TestRunMirror(t *testing.T) {
	repo := &memRepo{
		outcomes: []domain.ChurnOutcome{
			{SubscriberNo: "S1", MaxChurnScore: score(90), CallIDs: []string{"C1"}},
		},
	}
	mirror := &fakeMirror{}
	svc := evaluation.NewService(repo, mirror, defaultConfig())

	if _, err := svc.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(mirror.rows) != 1 {
		t.Fatalf("mirror rows = %d, want 1", len(mirror.rows))
	}
	if mirror.rows[0].ID == "" {
		t.Error("mirror row missing history id")
	}

	// A failing mirror must not fail the run.
	repo2 := &memRepo{outcomes: repo.outcomes}
	svc = evaluation.NewService(repo2, &fakeMirror{fail: true}, defaultConfig())
	if _, err := svc.Run(context.Background()); err != nil {
		t.Errorf("Run with failing mirror: %v", err)
	}
	if len(repo2.history) != 1 {
		t.Error("history row missing after mirror failure")
	}
}

func TestRunHistoryWriteFailure(t *testing.T) {
	repo := &memRepo{
		outcomes: []domain.ChurnOutcome{
			{SubscriberNo: "S1", MaxChurnScore: score(90), CallIDs: []string{"C1"}},
		},
		historyErr: errors.New("table missing"),
	}
	svc := evaluation.NewService(repo, nil, defaultConfig())

	if _, err := svc.Run(context.Background()); err == nil {
		t.Error("expected error when history write fails")
	}
}

func TestRunOutcomeQueryFailure(t *testing.T) {
	repo := &memRepo{outcomesErr: errors.New("db down")}
	svc := evaluation.NewService(repo, nil, defaultConfig())

	if _, err := svc.Run(context.Background()); err == nil {
		t.Error("expected error when outcome query fails")
	}
}
