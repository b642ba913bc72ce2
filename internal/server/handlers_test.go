package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northcell/conversation-cdc/internal/auth"
	"github.com/northcell/conversation-cdc/internal/config"
	"github.com/northcell/conversation-cdc/internal/domain"
	"github.com/northcell/conversation-cdc/internal/service/alerting"
	"github.com/northcell/conversation-cdc/internal/service/mlconfig"
)

// stubAlertRepo is an in-memory alerting.Repository.
type stubAlertRepo struct {
	configs map[string]domain.AlertConfig
	order   []string
	events  map[string]*domain.AlertEvent
	nextID  int
}

func newStubAlertRepo() *stubAlertRepo {
	return &stubAlertRepo{
		configs: make(map[string]domain.AlertConfig),
		events:  make(map[string]*domain.AlertEvent),
	}
}

func (m *stubAlertRepo) ListConfigs(_ context.Context, onlyEnabled bool) ([]domain.AlertConfig, error) {
	var out []domain.AlertConfig
	for _, id := range m.order {
		cfg := m.configs[id]
		if onlyEnabled && !cfg.Enabled {
			continue
		}
		out = append(out, cfg)
	}
	return out, nil
}

func (m *stubAlertRepo) GetConfig(_ context.Context, id string) (*domain.AlertConfig, error) {
	cfg, ok := m.configs[id]
	if !ok {
		return nil, alerting.ErrNotFound
	}
	return &cfg, nil
}

func (m *stubAlertRepo) CreateConfig(_ context.Context, cfg *domain.AlertConfig) (string, error) {
	m.nextID++
	id := fmt.Sprintf("cfg-%d", m.nextID)
	cfg.ID = id
	m.configs[id] = *cfg
	m.order = append(m.order, id)
	return id, nil
}

func (m *stubAlertRepo) UpdateConfig(_ context.Context, id string, cfg *domain.AlertConfig) error {
	if _, ok := m.configs[id]; !ok {
		return alerting.ErrNotFound
	}
	cfg.ID = id
	m.configs[id] = *cfg
	return nil
}

func (m *stubAlertRepo) DeleteConfig(_ context.Context, id string) error {
	if _, ok := m.configs[id]; !ok {
		return alerting.ErrNotFound
	}
	delete(m.configs, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *stubAlertRepo) HasActive(_ context.Context, configID string) (bool, error) {
	for _, ev := range m.events {
		if ev.ConfigID == configID && ev.Status == domain.AlertActive {
			return true, nil
		}
	}
	return false, nil
}

func (m *stubAlertRepo) InsertEvent(_ context.Context, ev *domain.AlertEvent) (string, error) {
	m.nextID++
	id := fmt.Sprintf("hist-%d", m.nextID)
	ev.ID = id
	m.events[id] = ev
	return id, nil
}

func (m *stubAlertRepo) ListHistory(_ context.Context, f alerting.HistoryFilter) ([]domain.AlertEvent, error) {
	var out []domain.AlertEvent
	for _, ev := range m.events {
		if f.Status != "" && ev.Status != f.Status {
			continue
		}
		out = append(out, *ev)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (m *stubAlertRepo) Acknowledge(_ context.Context, historyID, by string) error {
	ev, ok := m.events[historyID]
	if !ok {
		return alerting.ErrNotFound
	}
	if ev.Status != domain.AlertActive {
		return alerting.ErrInvalidTransition
	}
	ev.Status = domain.AlertAcknowledged
	ev.AcknowledgedBy = by
	return nil
}

func (m *stubAlertRepo) Resolve(_ context.Context, historyID, by, notes string) error {
	ev, ok := m.events[historyID]
	if !ok {
		return alerting.ErrNotFound
	}
	if ev.Status == domain.AlertResolved {
		return alerting.ErrInvalidTransition
	}
	ev.Status = domain.AlertResolved
	ev.ResolvedBy = by
	ev.ResolutionNotes = notes
	return nil
}

type stubMetrics struct{}

func (stubMetrics) Compute(context.Context, alerting.MetricKey, time.Duration, string) (alerting.Reading, error) {
	return alerting.Reading{}, nil
}

// stubRecRepo is an in-memory mlconfig.Repository.
type stubRecRepo struct {
	recs     map[string]*domain.Recommendation
	history  []domain.EvaluationRecord
	feedback []domain.ClassificationFeedback
}

func newStubRecRepo() *stubRecRepo {
	return &stubRecRepo{recs: make(map[string]*domain.Recommendation)}
}

func (m *stubRecRepo) GetPending(_ context.Context, recID string) (*domain.Recommendation, error) {
	rec, ok := m.recs[recID]
	if !ok || rec.Status != domain.RecPending {
		return nil, mlconfig.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *stubRecRepo) Approve(_ context.Context, recID, approver string) error {
	rec, ok := m.recs[recID]
	if !ok || rec.Status != domain.RecPending {
		return mlconfig.ErrNotFound
	}
	rec.Status = domain.RecApproved
	rec.ApprovedBy = approver
	return nil
}

func (m *stubRecRepo) Reject(_ context.Context, recID, notes string) error {
	rec, ok := m.recs[recID]
	if !ok || rec.Status != domain.RecPending {
		return mlconfig.ErrNotFound
	}
	rec.Status = domain.RecRejected
	rec.Notes = notes
	return nil
}

func (m *stubRecRepo) ListRecommendations(_ context.Context, status string) ([]domain.Recommendation, error) {
	var out []domain.Recommendation
	for _, rec := range m.recs {
		if status != "" && rec.Status != status {
			continue
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (m *stubRecRepo) ListHistory(_ context.Context, _ int) ([]domain.EvaluationRecord, error) {
	return m.history, nil
}

func (m *stubRecRepo) InsertFeedback(_ context.Context, fb *domain.ClassificationFeedback) error {
	m.feedback = append(m.feedback, *fb)
	return nil
}

// stubStore is an in-memory mlconfig.ObjectStore.
type stubStore struct {
	objects map[string][]byte
}

func (m *stubStore) GetJSON(_ context.Context, key string, v any) error {
	raw, ok := m.objects[key]
	if !ok {
		return fmt.Errorf("no such key %s", key)
	}
	return json.Unmarshal(raw, v)
}

func (m *stubStore) PutJSON(_ context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if m.objects == nil {
		m.objects = make(map[string][]byte)
	}
	m.objects[key] = raw
	return nil
}

type stubPublisher struct {
	bodies []string
}

func (m *stubPublisher) Send(_ context.Context, body string, _ map[string]string) (string, error) {
	m.bodies = append(m.bodies, body)
	return "msg-1", nil
}

type testEnv struct {
	router    http.Handler
	alertRepo *stubAlertRepo
	recRepo   *stubRecRepo
	publisher *stubPublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	alertRepo := newStubAlertRepo()
	recRepo := newStubRecRepo()
	publisher := &stubPublisher{}

	alerts := alerting.NewService(alertRepo, stubMetrics{}, nil, domain.SeverityCritical)
	ml := mlconfig.NewService(recRepo, &stubStore{}, publisher)
	h := NewHandlers(alerts, ml, nil)

	return &testEnv{
		router:    SetupRoutes(h, nil, nil),
		alertRepo: alertRepo,
		recRepo:   recRepo,
		publisher: publisher,
	}
}

func (e *testEnv) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "healthy", response["status"])
	assert.Contains(t, response, "timestamp")
}

func TestAlertConfigCRUD(t *testing.T) {
	env := newTestEnv(t)

	// Create
	rec := env.do(http.MethodPost, "/api/alerts/configs", map[string]interface{}{
		"alert_name":         "High churn",
		"metric_source":      "churn",
		"metric_name":        "high_risk_count",
		"condition_operator": "gte",
		"threshold_value":    10,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id := created["alert_id"]
	require.NotEmpty(t, id)

	// List includes it
	rec = env.do(http.MethodGet, "/api/alerts/configs", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "High churn")

	// Update
	rec = env.do(http.MethodPut, "/api/alerts/configs/"+id, map[string]interface{}{
		"alert_name":         "High churn v2",
		"metric_source":      "churn",
		"metric_name":        "high_risk_count",
		"condition_operator": "gt",
		"threshold_value":    20,
	})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Delete
	rec = env.do(http.MethodDelete, "/api/alerts/configs/"+id, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Second delete is a 404
	rec = env.do(http.MethodDelete, "/api/alerts/configs/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateAlertConfigValidation(t *testing.T) {
	env := newTestEnv(t)

	// Missing required fields
	rec := env.do(http.MethodPost, "/api/alerts/configs", map[string]interface{}{
		"alert_name": "incomplete",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")

	// Malformed body
	req := httptest.NewRequest(http.MethodPost, "/api/alerts/configs", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateAlertConfigNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPut, "/api/alerts/configs/missing", map[string]interface{}{
		"alert_name": "x",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAlertLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.alertRepo.events["hist-1"] = &domain.AlertEvent{
		ID:     "hist-1",
		Status: domain.AlertActive,
	}

	// Acknowledge
	rec := env.do(http.MethodPost, "/api/alerts/hist-1/acknowledge", map[string]string{
		"acknowledged_by": "ops",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.AlertAcknowledged, env.alertRepo.events["hist-1"].Status)
	assert.Equal(t, "ops", env.alertRepo.events["hist-1"].AcknowledgedBy)

	// Second acknowledge conflicts
	rec = env.do(http.MethodPost, "/api/alerts/hist-1/acknowledge", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Resolve still works from ACKNOWLEDGED
	rec = env.do(http.MethodPost, "/api/alerts/hist-1/resolve", map[string]string{
		"resolved_by": "ops",
		"notes":       "false positive",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.AlertResolved, env.alertRepo.events["hist-1"].Status)
	assert.Equal(t, "false positive", env.alertRepo.events["hist-1"].ResolutionNotes)

	// Unknown history id
	rec = env.do(http.MethodPost, "/api/alerts/missing/acknowledge", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAlertHistoryFilter(t *testing.T) {
	env := newTestEnv(t)
	env.alertRepo.events["hist-1"] = &domain.AlertEvent{ID: "hist-1", Status: domain.AlertActive}
	env.alertRepo.events["hist-2"] = &domain.AlertEvent{ID: "hist-2", Status: domain.AlertResolved}

	rec := env.do(http.MethodGet, "/api/alerts/history?status=ACTIVE", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var events []domain.AlertEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "hist-1", events[0].ID)

	rec = env.do(http.MethodGet, "/api/alerts/history?limit=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApproveRecommendation(t *testing.T) {
	env := newTestEnv(t)
	env.recRepo.recs["r1"] = &domain.Recommendation{
		ID:     "r1",
		Type:   domain.RecPipelineCoverage,
		Status: domain.RecPending,
	}

	rec := env.do(http.MethodPost, "/api/ml/approve", map[string]string{
		"rec_id":   "r1",
		"approver": "ops",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.RecApproved, env.recRepo.recs["r1"].Status)
	assert.Contains(t, rec.Body.String(), domain.RecPipelineCoverage)

	// Already processed
	rec = env.do(http.MethodPost, "/api/ml/approve", map[string]string{"rec_id": "r1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Missing rec_id
	rec = env.do(http.MethodPost, "/api/ml/approve", map[string]string{"approver": "ops"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRejectRecommendation(t *testing.T) {
	env := newTestEnv(t)
	env.recRepo.recs["r1"] = &domain.Recommendation{
		ID:     "r1",
		Type:   domain.RecChurnKeywords,
		Status: domain.RecPending,
	}

	rec := env.do(http.MethodPost, "/api/ml/reject", map[string]string{
		"rec_id":      "r1",
		"rejected_by": "ops",
		"reason":      "too noisy",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.RecRejected, env.recRepo.recs["r1"].Status)
	assert.Contains(t, env.recRepo.recs["r1"].Notes, "too noisy")
}

func TestApplyToML(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/ml/apply-to-ml", map[string]string{
		"triggered_by": "ops",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Len(t, env.publisher.bodies, 1)
	assert.Contains(t, env.publisher.bodies[0], "reload_configs")
	assert.Contains(t, env.publisher.bodies[0], "ops")
}

func TestSubmitFeedback(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/ml/feedback", map[string]interface{}{
		"source_id":        "CALL-1",
		"ml_category":      "BILLING",
		"correct_category": "RETENTION",
		"is_correct":       false,
		"reviewer":         "ops",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, env.recRepo.feedback, 1)
	assert.Equal(t, "RETENTION", env.recRepo.feedback[0].CorrectCategory)

	// Missing ml_category
	rec = env.do(http.MethodPost, "/api/ml/feedback", map[string]interface{}{
		"source_id": "CALL-2",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIRequiresAuth(t *testing.T) {
	alertRepo := newStubAlertRepo()
	alerts := alerting.NewService(alertRepo, stubMetrics{}, nil, domain.SeverityCritical)
	ml := mlconfig.NewService(newStubRecRepo(), &stubStore{}, &stubPublisher{})
	h := NewHandlers(alerts, ml, nil)

	am := auth.NewAuthManager(&config.AuthConfig{
		Enabled:      true,
		CookieName:   "cdc_session",
		CookieMaxAge: 3600,
	}, "http://localhost:8080")
	router := SetupRoutes(h, am, nil)

	// API routes reject anonymous requests
	req := httptest.NewRequest(http.MethodGet, "/api/alerts/configs", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())

	// Health stays open
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
