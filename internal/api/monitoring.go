package api

import (
	"encoding/json"
	"net/http"

	"github.com/dialgrid/callcore/internal/auth"
	"github.com/dialgrid/callcore/internal/metrics"
	"github.com/dialgrid/callcore/internal/monitor"
	"github.com/dialgrid/callcore/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// MonitoringHandler provides REST endpoints for supervisor call monitoring
type MonitoringHandler struct {
	monitor *monitor.Coordinator
	logger  zerolog.Logger
}

// NewMonitoringHandler creates a new MonitoringHandler
func NewMonitoringHandler(monitor *monitor.Coordinator, logger zerolog.Logger) *MonitoringHandler {
	return &MonitoringHandler{
		monitor: monitor,
		logger:  logger.With().Str("component", "monitoring_handler").Logger(),
	}
}

// Start handles POST /api/sessions/{sessionId}/monitoring
func (h *MonitoringHandler) Start(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	mode := types.MonitorMode(req.Mode)
	if !mode.Valid() {
		http.Error(w, `{"error":"unknown monitoring mode"}`, http.StatusBadRequest)
		return
	}

	monitoringID, err := h.monitor.StartMonitoring(supervisorID(claims), sessionID, mode, claims.Capabilities)
	if err != nil {
		respondError(w, err)
		return
	}

	metrics.Get().RecordMonitoringStarted()
	h.logger.Info().
		Str("session_id", sessionID).
		Str("monitoring_id", monitoringID).
		Str("mode", string(mode)).
		Str("supervisor", supervisorID(claims)).
		Msg("monitoring started")

	respondJSON(w, http.StatusCreated, map[string]string{"monitoringId": monitoringID})
}

// Stop handles DELETE /api/monitoring/{monitoringId}
func (h *MonitoringHandler) Stop(w http.ResponseWriter, r *http.Request) {
	monitoringID := chi.URLParam(r, "monitoringId")

	if err := h.monitor.StopMonitoring(monitoringID); err != nil {
		respondError(w, err)
		return
	}

	metrics.Get().RecordMonitoringStopped()
	respondJSON(w, http.StatusOK, map[string]string{"monitoringId": monitoringID, "message": "monitoring stopped"})
}

// Escalate handles POST /api/monitoring/{monitoringId}/mode
func (h *MonitoringHandler) Escalate(w http.ResponseWriter, r *http.Request) {
	monitoringID := chi.URLParam(r, "monitoringId")

	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	if err := h.monitor.EscalateMode(monitoringID, types.MonitorMode(req.Mode), claims.Capabilities); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"monitoringId": monitoringID, "mode": req.Mode})
}

// ListForCall handles GET /api/sessions/{sessionId}/monitoring
func (h *MonitoringHandler) ListForCall(w http.ResponseWriter, r *http.Request) {
	sessions := h.monitor.ActiveForCall(chi.URLParam(r, "sessionId"))
	if sessions == nil {
		sessions = []types.MonitoringSession{}
	}
	respondJSON(w, http.StatusOK, sessions)
}

// supervisorID derives a stable supervisor identity from the claims
func supervisorID(claims *auth.Claims) string {
	if claims.Email != "" {
		return claims.Email
	}
	return claims.Subject
}
