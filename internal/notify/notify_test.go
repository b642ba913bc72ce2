package notify

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/osteele/liquid"

	"github.com/northcell/conversation-cdc/internal/domain"
)

func testNotifier(t *testing.T) *EmailNotifier {
	t.Helper()
	tmpl, err := liquid.NewEngine().ParseString(alertBodyTemplate)
	if err != nil {
		t.Fatalf("parse template: %v", err)
	}
	return &EmailNotifier{tmpl: tmpl, from: "alerts@example.com", to: []string{"noc@example.com"}}
}

func TestRenderBodyIncludesSnapshot(t *testing.T) {
	n := testNotifier(t)

	affected, _ := json.Marshal([]domain.AffectedSubscriber{
		{SubscriberNo: "SUB-1", BAN: "BAN-1", ChurnScore: 92.5, Sentiment: 1, Satisfaction: 2, CallTime: "2026-02-10T10:00:00Z"},
		{SubscriberNo: "SUB-2", BAN: "BAN-2", ChurnScore: 88, Sentiment: 2, Satisfaction: 1, CallTime: "2026-02-10T09:00:00Z"},
	})

	cfg := domain.AlertConfig{
		Name:         "High churn risk spike",
		MetricSource: "churn",
		MetricName:   "high_risk_count",
		Operator:     domain.OpGreaterEqual,
		Threshold:    10,
		WindowHours:  24,
	}
	ev := &domain.AlertEvent{
		ID:            "hist-1",
		Severity:      domain.SeverityCritical,
		MetricValue:   17,
		Threshold:     10,
		TriggeredAt:   time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC),
		AffectedJSON:  string(affected),
		AffectedCount: 17,
	}

	body, err := n.renderBody(cfg, ev)
	if err != nil {
		t.Fatalf("renderBody: %v", err)
	}

	for _, want := range []string{
		"CRITICAL: High churn risk spike",
		"churn.high_risk_count",
		"17.00, at or above the threshold of 10.00",
		"last 24 hour(s)",
		"17 subscriber(s)",
		"SUB-1", "BAN-2", "92.5",
		"hist-1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q\n%s", want, body)
		}
	}
	if strings.Contains(body, "Product filter") {
		t.Error("body should omit the product line when no filter is set")
	}
}

func TestRenderBodyWithoutSnapshot(t *testing.T) {
	n := testNotifier(t)

	cfg := domain.AlertConfig{
		Name:          "Average satisfaction low",
		MetricSource:  "satisfaction",
		MetricName:    "avg_satisfaction",
		Operator:      domain.OpLessThan,
		Threshold:     3,
		WindowHours:   12,
		FilterProduct: "FTTH",
	}
	ev := &domain.AlertEvent{
		ID:          "hist-2",
		Severity:    domain.SeverityWarning,
		MetricValue: 2.4,
		Threshold:   3,
		TriggeredAt: time.Date(2026, 2, 11, 8, 0, 0, 0, time.UTC),
	}

	body, err := n.renderBody(cfg, ev)
	if err != nil {
		t.Fatalf("renderBody: %v", err)
	}

	if strings.Contains(body, "<table") {
		t.Error("body should omit the table when the snapshot is empty")
	}
	if !strings.Contains(body, "Product filter: FTTH") {
		t.Errorf("body missing product filter line\n%s", body)
	}
	if !strings.Contains(body, "2.40, below the threshold of 3.00") {
		t.Errorf("body missing comparison line\n%s", body)
	}
}

func TestRenderBodyCapsSnapshotRows(t *testing.T) {
	n := testNotifier(t)

	subs := make([]domain.AffectedSubscriber, 25)
	for i := range subs {
		subs[i] = domain.AffectedSubscriber{SubscriberNo: "SUB", BAN: "BAN", CallTime: "2026-02-10T10:00:00Z"}
	}
	affected, _ := json.Marshal(subs)

	ev := &domain.AlertEvent{
		ID:            "hist-3",
		Severity:      domain.SeverityInfo,
		TriggeredAt:   time.Now(),
		AffectedJSON:  string(affected),
		AffectedCount: 25,
	}

	body, err := n.renderBody(domain.AlertConfig{Name: "x", Operator: domain.OpGreaterThan}, ev)
	if err != nil {
		t.Fatalf("renderBody: %v", err)
	}

	if got := strings.Count(body, "<td>SUB</td>"); got != maxSnapshotRows {
		t.Errorf("snapshot rows = %d, want %d", got, maxSnapshotRows)
	}
}

func TestOperatorText(t *testing.T) {
	cases := map[string]string{
		domain.OpGreaterThan:  "above",
		domain.OpGreaterEqual: "at or above",
		domain.OpLessThan:     "below",
		domain.OpLessEqual:    "at or below",
		domain.OpEqual:        "equal to",
		"weird":               "weird",
	}
	for op, want := range cases {
		if got := operatorText(op); got != want {
			t.Errorf("operatorText(%q) = %q, want %q", op, got, want)
		}
	}
}
