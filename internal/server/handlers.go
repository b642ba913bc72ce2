package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/northcell/conversation-cdc/internal/domain"
	"github.com/northcell/conversation-cdc/internal/service/alerting"
	"github.com/northcell/conversation-cdc/internal/service/mlconfig"
)

// Handlers holds the services behind the operator API.
type Handlers struct {
	alerts *alerting.Service
	ml     *mlconfig.Service
	db     *sql.DB
}

// NewHandlers creates the API handlers. db is only used by the health
// check and may be nil in tests.
func NewHandlers(alerts *alerting.Service, ml *mlconfig.Service, db *sql.DB) *Handlers {
	return &Handlers{alerts: alerts, ml: ml, db: db}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps service sentinel errors onto HTTP statuses.
func respondServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, alerting.ErrNotFound), errors.Is(err, mlconfig.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, alerting.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, alerting.ErrInvalid), errors.Is(err, mlconfig.ErrInvalid):
		status = http.StatusBadRequest
	}
	respondError(w, status, err.Error())
}

// decodeBody parses a JSON request body into v. An empty body is fine;
// required fields are the services' concern.
func decodeBody(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == io.EOF {
		return nil
	}
	return err
}

// HealthCheck reports process and database health. Always 200 so load
// balancers keep routing; the body carries the degraded flag.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	database := "ok"

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			status = "degraded"
			database = err.Error()
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"database":  database,
		"timestamp": time.Now(),
	})
}

// ListAlertConfigs returns every alert rule, enabled or not.
func (h *Handlers) ListAlertConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := h.alerts.ListConfigs(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, configs)
}

// CreateAlertConfig stores a new alert rule.
func (h *Handlers) CreateAlertConfig(w http.ResponseWriter, r *http.Request) {
	var cfg domain.AlertConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id, err := h.alerts.CreateConfig(r.Context(), &cfg)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"alert_id": id})
}

// UpdateAlertConfig rewrites an existing alert rule.
func (h *Handlers) UpdateAlertConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var cfg domain.AlertConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.alerts.UpdateConfig(r.Context(), id, &cfg); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated", "alert_id": id})
}

// DeleteAlertConfig removes an alert rule and its history.
func (h *Handlers) DeleteAlertConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.alerts.DeleteConfig(r.Context(), id); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted", "alert_id": id})
}

// AlertHistory returns alert events, optionally filtered by status.
func (h *Handlers) AlertHistory(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	events, err := h.alerts.History(r.Context(), alerting.HistoryFilter{
		Status: r.URL.Query().Get("status"),
		Limit:  limit,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, events)
}

// AcknowledgeAlert marks an ACTIVE alert as seen.
func (h *Handlers) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	historyID := chi.URLParam(r, "historyID")

	var body struct {
		AcknowledgedBy string `json:"acknowledged_by"`
	}
	if err := decodeBody(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.alerts.Acknowledge(r.Context(), historyID, body.AcknowledgedBy); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "acknowledged", "history_id": historyID})
}

// ResolveAlert closes an ACTIVE or ACKNOWLEDGED alert.
func (h *Handlers) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	historyID := chi.URLParam(r, "historyID")

	var body struct {
		ResolvedBy string `json:"resolved_by"`
		Notes      string `json:"notes"`
	}
	if err := decodeBody(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.alerts.Resolve(r.Context(), historyID, body.ResolvedBy, body.Notes); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "resolved", "history_id": historyID})
}

// ListRecommendations returns ML config recommendations, optionally
// filtered by status (PENDING, APPROVED, REJECTED).
func (h *Handlers) ListRecommendations(w http.ResponseWriter, r *http.Request) {
	recs, err := h.ml.Recommendations(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, recs)
}

// EvaluationHistory returns past evaluation runs.
func (h *Handlers) EvaluationHistory(w http.ResponseWriter, r *http.Request) {
	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid days")
			return
		}
		days = n
	}

	records, err := h.ml.History(r.Context(), days)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, records)
}

// ApproveRecommendation applies a PENDING recommendation to the config
// artifact and marks it APPROVED.
func (h *Handlers) ApproveRecommendation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RecID    string `json:"rec_id"`
		Approver string `json:"approver"`
	}
	if err := decodeBody(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.RecID == "" {
		respondError(w, http.StatusBadRequest, "rec_id is required")
		return
	}

	recType, err := h.ml.Approve(r.Context(), body.RecID, body.Approver)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status":   "approved",
		"rec_id":   body.RecID,
		"rec_type": recType,
	})
}

// ApplyToML notifies the ML service to reload its config artifacts.
func (h *Handlers) ApplyToML(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TriggeredBy string `json:"triggered_by"`
	}
	if err := decodeBody(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.ml.Apply(r.Context(), body.TriggeredBy); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}

// RejectRecommendation closes a PENDING recommendation without applying it.
func (h *Handlers) RejectRecommendation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RecID      string `json:"rec_id"`
		RejectedBy string `json:"rejected_by"`
		Reason     string `json:"reason"`
	}
	if err := decodeBody(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.RecID == "" {
		respondError(w, http.StatusBadRequest, "rec_id is required")
		return
	}

	if err := h.ml.Reject(r.Context(), body.RecID, body.RejectedBy, body.Reason); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "rejected", "rec_id": body.RecID})
}

// SubmitFeedback stores a human classification correction.
func (h *Handlers) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	var fb domain.ClassificationFeedback
	if err := json.NewDecoder(r.Body).Decode(&fb); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.ml.SubmitFeedback(r.Context(), &fb); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}
