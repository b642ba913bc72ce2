package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/northcell/conversation-cdc/internal/domain"
)

const (
	maxSamplePhrases = 10
	maxKeywordCounts = 20
	maxPhraseRunes   = 200

	feedbackWindow         = 30 * 24 * time.Hour
	feedbackMinCorrections = 3
)

// Config carries the evaluation thresholds.
type Config struct {
	LookbackDays    int
	HighThreshold   float64
	MediumThreshold float64
}

func (c *Config) applyDefaults() {
	if c.LookbackDays <= 0 {
		c.LookbackDays = 30
	}
	if c.HighThreshold <= 0 {
		c.HighThreshold = 70
	}
	if c.MediumThreshold <= 0 {
		c.MediumThreshold = 40
	}
}

// Service runs the weekly churn-prediction evaluation.
type Service struct {
	repo   Repository
	mirror Mirror
	cfg    Config
}

// NewService creates an evaluator. mirror may be nil.
func NewService(repo Repository, mirror Mirror, cfg Config) *Service {
	cfg.applyDefaults()
	return &Service{repo: repo, mirror: mirror, cfg: cfg}
}

// Metrics is the accuracy picture of one run. Recall is the primary
// metric and uses the medium threshold: the share of scored churners the
// model flagged at medium risk or above.
type Metrics struct {
	TotalChurned     int     `json:"total_churned"`
	WithScore        int     `json:"with_score"`
	WithoutScore     int     `json:"without_score"`
	HighRiskCaught   int     `json:"high_risk_caught"`
	MediumPlusCaught int     `json:"medium_plus_caught"`
	RecallHigh       float64 `json:"recall_high"`
	RecallMedium     float64 `json:"recall_medium"`
	Recall           float64 `json:"recall"`
	Coverage         float64 `json:"coverage"`
	AvgChurnScore    float64 `json:"avg_churn_score"`
}

// Patterns summarizes churn vocabulary found in the most recent call of
// each churner the model missed.
type Patterns struct {
	Keywords      []string       `json:"keywords"`
	KeywordCounts map[string]int `json:"keyword_counts"`
	SamplePhrases []string       `json:"sample_phrases"`
	MissedCount   int            `json:"missed_count"`
}

// Summary is what Run reports back to the caller.
type Summary struct {
	EvalID          string
	Metrics         Metrics
	Patterns        Patterns
	Recommendations []domain.Recommendation
	Note            string
}

// Run executes one full evaluation pass: collect churn outcomes, score
// the predictions, mine the misses for vocabulary, store recommendations
// and the history row.
func (s *Service) Run(ctx context.Context) (*Summary, error) {
	lookback := time.Duration(s.cfg.LookbackDays) * 24 * time.Hour

	outcomes, err := s.repo.ChurnOutcomes(ctx, lookback)
	if err != nil {
		return nil, fmt.Errorf("collect churn outcomes: %w", err)
	}
	if len(outcomes) == 0 {
		return &Summary{
			Note: fmt.Sprintf("no churned subscribers in the last %d days, nothing to evaluate", s.cfg.LookbackDays),
		}, nil
	}

	metrics := s.computeMetrics(outcomes)
	patterns := s.analyzePatterns(ctx, s.missed(outcomes))

	recs := s.buildRecommendations(metrics, patterns)
	if fix := s.classificationFix(ctx); fix != nil {
		recs = append(recs, *fix)
	}

	stored := make([]domain.Recommendation, 0, len(recs))
	for _, rec := range recs {
		id, err := s.repo.InsertRecommendation(ctx, rec.Type, rec.Details)
		if err != nil {
			return nil, fmt.Errorf("store %s recommendation: %w", rec.Type, err)
		}
		rec.ID = id
		rec.Status = domain.RecPending
		stored = append(stored, rec)
	}

	record := &domain.EvaluationRecord{
		EvalDate:        time.Now().UTC(),
		ChurnedCount:    metrics.TotalChurned,
		WithScoreCount:  metrics.WithScore,
		RecallRate:      metrics.Recall,
		CoverageRate:    metrics.Coverage,
		AvgChurnScore:   metrics.AvgChurnScore,
		Recommendations: len(stored),
	}
	if notes, err := json.Marshal(metrics); err == nil {
		record.Notes = string(notes)
	}
	id, err := s.repo.InsertHistory(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("store evaluation history: %w", err)
	}
	record.ID = id

	if s.mirror != nil {
		if err := s.mirror.MirrorEvaluation(ctx, *record); err != nil {
			log.Printf("[Evaluation] warehouse mirror failed: %v", err)
		}
	}

	return &Summary{
		EvalID:          id,
		Metrics:         metrics,
		Patterns:        patterns,
		Recommendations: stored,
	}, nil
}

func (s *Service) computeMetrics(outcomes []domain.ChurnOutcome) Metrics {
	m := Metrics{TotalChurned: len(outcomes)}
	var sum float64
	for _, o := range outcomes {
		if o.MaxChurnScore == nil {
			m.WithoutScore++
			continue
		}
		m.WithScore++
		sum += *o.MaxChurnScore
		if *o.MaxChurnScore >= s.cfg.HighThreshold {
			m.HighRiskCaught++
		}
		if *o.MaxChurnScore >= s.cfg.MediumThreshold {
			m.MediumPlusCaught++
		}
	}
	if m.WithScore > 0 {
		m.RecallHigh = float64(m.HighRiskCaught) / float64(m.WithScore)
		m.RecallMedium = float64(m.MediumPlusCaught) / float64(m.WithScore)
		m.AvgChurnScore = sum / float64(m.WithScore)
	}
	m.Recall = m.RecallMedium
	m.Coverage = float64(m.WithScore) / float64(m.TotalChurned)
	return m
}

// missed returns the churners the model failed to flag: never scored at
// all, or best score under the medium threshold.
func (s *Service) missed(outcomes []domain.ChurnOutcome) []domain.ChurnOutcome {
	var out []domain.ChurnOutcome
	for _, o := range outcomes {
		if o.MaxChurnScore == nil || *o.MaxChurnScore < s.cfg.MediumThreshold {
			out = append(out, o)
		}
	}
	return out
}

func (s *Service) analyzePatterns(ctx context.Context, missed []domain.ChurnOutcome) Patterns {
	p := Patterns{KeywordCounts: map[string]int{}, MissedCount: len(missed)}
	if len(missed) == 0 {
		return p
	}

	counts := make(map[string]int)
	for _, o := range missed {
		if len(o.CallIDs) == 0 {
			continue
		}
		text, err := s.repo.Transcript(ctx, o.CallIDs[0])
		if err != nil {
			log.Printf("[Evaluation] transcript for call %s: %v", o.CallIDs[0], err)
			continue
		}
		if text == "" {
			continue
		}
		matches := churnLexicon.FindAllString(text, -1)
		for _, kw := range matches {
			counts[kw]++
		}
		if len(p.SamplePhrases) < maxSamplePhrases {
			p.SamplePhrases = append(p.SamplePhrases,
				samplePhrases(text, matches, maxSamplePhrases-len(p.SamplePhrases))...)
		}
	}

	ordered := sortedByCount(counts)
	if len(ordered) > maxKeywordCounts {
		ordered = ordered[:maxKeywordCounts]
	}
	for _, kc := range ordered {
		p.KeywordCounts[kc.keyword] = kc.count
	}

	// A keyword is significant when it occurs in at least 10% of the
	// missed calls, and always at least once.
	minOccurrences := math.Max(1, float64(len(missed))*0.1)
	for _, kc := range ordered {
		if float64(kc.count) >= minOccurrences {
			p.Keywords = append(p.Keywords, kc.keyword)
		}
	}
	return p
}

type keywordCount struct {
	keyword string
	count   int
}

func sortedByCount(counts map[string]int) []keywordCount {
	out := make([]keywordCount, 0, len(counts))
	for kw, c := range counts {
		out = append(out, keywordCount{keyword: kw, count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].keyword < out[j].keyword
	})
	return out
}

// samplePhrases pulls up to limit short sentences containing one of the
// first two matched keywords, for reviewer context.
func samplePhrases(text string, matches []string, limit int) []string {
	if len(matches) == 0 || limit <= 0 {
		return nil
	}
	probe := matches
	if len(probe) > 2 {
		probe = probe[:2]
	}
	var out []string
	for _, sentence := range strings.Split(text, ".") {
		if len([]rune(sentence)) >= maxPhraseRunes {
			continue
		}
		for _, kw := range probe {
			if strings.Contains(sentence, kw) {
				out = append(out, strings.TrimSpace(sentence))
				break
			}
		}
		if len(out) == limit {
			break
		}
	}
	return out
}

type thresholdDetails struct {
	Type             string           `json:"type"`
	CurrentValue     float64          `json:"current_value"`
	RecommendedValue float64          `json:"recommended_value"`
	Reason           string           `json:"reason"`
	Impact           string           `json:"impact"`
	Metrics          thresholdMetrics `json:"metrics"`
}

type thresholdMetrics struct {
	CurrentRecall  float64 `json:"current_recall"`
	MissedChurners int     `json:"missed_churners"`
}

type keywordDetails struct {
	Type          string         `json:"type"`
	Keywords      []string       `json:"keywords"`
	Reason        string         `json:"reason"`
	KeywordCounts map[string]int `json:"keyword_counts"`
	SamplePhrases []string       `json:"sample_phrases"`
	Impact        string         `json:"impact"`
}

type coverageDetails struct {
	Type            string  `json:"type"`
	CurrentCoverage float64 `json:"current_coverage"`
	Reason          string  `json:"reason"`
	Impact          string  `json:"impact"`
}

type classificationDetails struct {
	Type               string                     `json:"type"`
	Misclassifications []domain.Misclassification `json:"misclassifications"`
	Reason             string                     `json:"reason"`
	Impact             string                     `json:"impact"`
}

func (s *Service) buildRecommendations(m Metrics, p Patterns) []domain.Recommendation {
	var recs []domain.Recommendation

	if m.Recall < 0.5 {
		d := thresholdDetails{
			Type:             domain.RecChurnThreshold,
			CurrentValue:     s.cfg.HighThreshold,
			RecommendedValue: s.cfg.MediumThreshold,
			Reason: fmt.Sprintf("Churn recall is only %.1f%%. Lowering the alert threshold will catch more churners.",
				m.Recall*100),
			Impact: "May increase false positives but will catch more actual churners",
			Metrics: thresholdMetrics{
				CurrentRecall:  m.Recall,
				MissedChurners: m.WithScore - m.MediumPlusCaught,
			},
		}
		recs = append(recs, domain.Recommendation{Type: domain.RecChurnThreshold, Details: detailsJSON(d)})
	}

	if len(p.Keywords) > 0 {
		d := keywordDetails{
			Type:     domain.RecChurnKeywords,
			Keywords: p.Keywords,
			Reason: fmt.Sprintf("Found %d keywords appearing frequently in conversations of churners we missed",
				len(p.Keywords)),
			KeywordCounts: p.KeywordCounts,
			SamplePhrases: p.SamplePhrases,
			Impact:        fmt.Sprintf("Adding these keywords may help catch %d similar churners", p.MissedCount),
		}
		recs = append(recs, domain.Recommendation{Type: domain.RecChurnKeywords, Details: detailsJSON(d)})
	}

	if m.Coverage < 0.8 {
		d := coverageDetails{
			Type:            domain.RecPipelineCoverage,
			CurrentCoverage: m.Coverage,
			Reason: fmt.Sprintf("Only %.1f%% of churner calls were processed by ML. %d subscribers had no churn score.",
				m.Coverage*100, m.WithoutScore),
			Impact: "Investigate why some calls are not being processed by the ML service",
		}
		recs = append(recs, domain.Recommendation{Type: domain.RecPipelineCoverage, Details: detailsJSON(d)})
	}

	return recs
}

func (s *Service) classificationFix(ctx context.Context) *domain.Recommendation {
	pairs, err := s.repo.Misclassifications(ctx, feedbackWindow, feedbackMinCorrections)
	if err != nil {
		log.Printf("[Evaluation] classification feedback: %v", err)
		return nil
	}
	if len(pairs) == 0 {
		return nil
	}
	total := 0
	for _, pair := range pairs {
		total += pair.Count
	}
	d := classificationDetails{
		Type:               domain.RecClassificationFix,
		Misclassifications: pairs,
		Reason:             fmt.Sprintf("Human reviewers corrected these classifications %d times", total),
		Impact:             "Consider adding keywords to differentiate these categories",
	}
	return &domain.Recommendation{Type: domain.RecClassificationFix, Details: detailsJSON(d)}
}

func detailsJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
