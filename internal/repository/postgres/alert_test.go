package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/northcell/conversation-cdc/internal/domain"
	"github.com/northcell/conversation-cdc/internal/service/alerting"
)

func alertConfigRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"alert_id", "alert_name", "metric_source", "metric_name",
		"condition_operator", "threshold_value", "time_window_hours",
		"filter_product", "filter_sentiment", "severity", "is_enabled",
		"created_at", "updated_at",
	})
}

func TestAlertRepoListConfigsOnlyEnabled(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectQuery("WHERE is_enabled").
		WillReturnRows(alertConfigRows().
			AddRow("cfg-1", "High churn", "churn", "high_risk_count",
				domain.OpGreaterEqual, 5.0, 24, "", "", domain.SeverityCritical, true, now, now))

	repo := NewAlertRepo(db)
	configs, err := repo.ListConfigs(context.Background(), true)
	if err != nil {
		t.Fatalf("ListConfigs() error: %v", err)
	}
	if len(configs) != 1 {
		t.Fatalf("got %d configs", len(configs))
	}
	c := configs[0]
	if c.ID != "cfg-1" || c.MetricSource != "churn" || c.Threshold != 5 || !c.Enabled {
		t.Errorf("config = %+v", c)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAlertRepoGetConfigNotFound(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery("FROM alert_configurations").
		WithArgs("nope").
		WillReturnRows(alertConfigRows())

	repo := NewAlertRepo(db)
	_, err := repo.GetConfig(context.Background(), "nope")
	if !errors.Is(err, alerting.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestAlertRepoCreateConfigGeneratesID(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO alert_configurations").
		WithArgs(sqlmock.AnyArg(), "High churn", "churn", "high_risk_count",
			domain.OpGreaterEqual, 5.0, 24, "", "", domain.SeverityCritical, true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewAlertRepo(db)
	cfg := &domain.AlertConfig{
		Name:         "High churn",
		MetricSource: "churn",
		MetricName:   "high_risk_count",
		Operator:     domain.OpGreaterEqual,
		Threshold:    5,
		WindowHours:  24,
		Severity:     domain.SeverityCritical,
		Enabled:      true,
	}
	id, err := repo.CreateConfig(context.Background(), cfg)
	if err != nil {
		t.Fatalf("CreateConfig() error: %v", err)
	}
	if id == "" || cfg.ID != id {
		t.Errorf("id = %q, cfg.ID = %q", id, cfg.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAlertRepoUpdateConfigNotFound(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec("UPDATE alert_configurations").
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewAlertRepo(db)
	err := repo.UpdateConfig(context.Background(), "nope", &domain.AlertConfig{Name: "x"})
	if !errors.Is(err, alerting.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestAlertRepoDeleteConfigRemovesHistory(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM alert_history").
		WithArgs("cfg-1").
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec("DELETE FROM alert_configurations").
		WithArgs("cfg-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	repo := NewAlertRepo(db)
	if err := repo.DeleteConfig(context.Background(), "cfg-1"); err != nil {
		t.Fatalf("DeleteConfig() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAlertRepoHasActive(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("cfg-1", domain.AlertActive).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	repo := NewAlertRepo(db)
	active, err := repo.HasActive(context.Background(), "cfg-1")
	if err != nil {
		t.Fatalf("HasActive() error: %v", err)
	}
	if !active {
		t.Error("expected active = true")
	}
}

func TestAlertRepoInsertEvent(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	at := time.Date(2019, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO alert_history").
		WithArgs(sqlmock.AnyArg(), "cfg-1", at, 7.0, 5.0,
			domain.SeverityCritical, domain.AlertActive, `[{"subscriber_no":"S1"}]`, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewAlertRepo(db)
	id, err := repo.InsertEvent(context.Background(), &domain.AlertEvent{
		ConfigID:      "cfg-1",
		TriggeredAt:   at,
		MetricValue:   7,
		Threshold:     5,
		Severity:      domain.SeverityCritical,
		Status:        domain.AlertActive,
		AffectedJSON:  `[{"subscriber_no":"S1"}]`,
		AffectedCount: 1,
	})
	if err != nil {
		t.Fatalf("InsertEvent() error: %v", err)
	}
	if id == "" {
		t.Error("expected generated event id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAlertRepoListHistoryByStatus(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	at := time.Now()
	mock.ExpectQuery("FROM alert_history h").
		WithArgs(domain.AlertActive, 100).
		WillReturnRows(sqlmock.NewRows([]string{
			"history_id", "alert_id", "alert_name", "triggered_at",
			"metric_value", "threshold_value", "severity", "status",
			"affected_subscribers", "affected_count", "acknowledged_by",
			"acknowledged_at", "resolved_by", "resolved_at", "resolution_notes",
		}).AddRow("hist-1", "cfg-1", "High churn", at, 7.0, 5.0,
			domain.SeverityCritical, domain.AlertActive, "[]", 0, "", nil, "", nil, ""))

	repo := NewAlertRepo(db)
	events, err := repo.ListHistory(context.Background(), alerting.HistoryFilter{Status: domain.AlertActive})
	if err != nil {
		t.Fatalf("ListHistory() error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events", len(events))
	}
	ev := events[0]
	if ev.ID != "hist-1" || ev.Name != "High churn" || ev.AcknowledgedAt != nil || ev.ResolvedAt != nil {
		t.Errorf("event = %+v", ev)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAlertRepoAcknowledge(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec("UPDATE alert_history").
		WithArgs("hist-1", "noc", domain.AlertAcknowledged, domain.AlertActive).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewAlertRepo(db)
	if err := repo.Acknowledge(context.Background(), "hist-1", "noc"); err != nil {
		t.Fatalf("Acknowledge() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAlertRepoAcknowledgeWrongState(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec("UPDATE alert_history").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("hist-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	repo := NewAlertRepo(db)
	err := repo.Acknowledge(context.Background(), "hist-1", "noc")
	if !errors.Is(err, alerting.ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestAlertRepoAcknowledgeMissing(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec("UPDATE alert_history").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("hist-404").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	repo := NewAlertRepo(db)
	err := repo.Acknowledge(context.Background(), "hist-404", "noc")
	if !errors.Is(err, alerting.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestAlertRepoResolveFromAcknowledged(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec("UPDATE alert_history").
		WithArgs("hist-1", "noc", domain.AlertResolved, "fixed upstream",
			domain.AlertActive, domain.AlertAcknowledged).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewAlertRepo(db)
	if err := repo.Resolve(context.Background(), "hist-1", "noc", "fixed upstream"); err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
