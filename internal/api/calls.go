package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dialgrid/callcore/internal/metrics"
	"github.com/dialgrid/callcore/internal/router"
	"github.com/dialgrid/callcore/internal/session"
	"github.com/dialgrid/callcore/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// CallsHandler provides REST endpoints for call intake and session control
type CallsHandler struct {
	engine *session.Engine
	router *router.Manager
	logger zerolog.Logger
}

// NewCallsHandler creates a new CallsHandler
func NewCallsHandler(engine *session.Engine, router *router.Manager, logger zerolog.Logger) *CallsHandler {
	return &CallsHandler{
		engine: engine,
		router: router,
		logger: logger.With().Str("component", "calls_handler").Logger(),
	}
}

// CreateCall handles POST /api/calls, enqueueing an inbound call
func (h *CallsHandler) CreateCall(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Direction string `json:"direction"`
		From      string `json:"from"`
		To        string `json:"to"`
		QueueID   string `json:"queueId"`
		Priority  int    `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	direction := types.DirectionInbound
	if req.Direction == string(types.DirectionOutbound) {
		direction = types.DirectionOutbound
	}

	priority := types.Priority(req.Priority)
	if priority < types.PriorityLow || priority > types.PriorityVIP {
		priority = types.PriorityNormal
	}

	call := types.CallRequest{
		Direction:   direction,
		From:        req.From,
		To:          req.To,
		Priority:    priority,
		EnqueueTime: time.Now(),
	}

	position, err := h.router.Enqueue(req.QueueID, call)
	if err != nil {
		respondError(w, err)
		return
	}

	metrics.Get().RecordEnqueue()
	h.logger.Info().
		Str("queue_id", req.QueueID).
		Str("from", req.From).
		Int("position", position).
		Msg("call enqueued")

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"queueId":  req.QueueID,
		"position": position,
	})
}

// AbandonCall handles DELETE /api/queues/{queueId}/calls/{requestId}
func (h *CallsHandler) AbandonCall(w http.ResponseWriter, r *http.Request) {
	queueID := chi.URLParam(r, "queueId")
	requestID := chi.URLParam(r, "requestId")

	if err := h.router.Dequeue(queueID, requestID); err != nil {
		respondError(w, err)
		return
	}

	metrics.Get().RecordAbandon()
	respondJSON(w, http.StatusOK, map[string]string{
		"message":   "call abandoned",
		"requestId": requestID,
	})
}

// GetSession handles GET /api/sessions/{sessionId}
func (h *CallsHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.engine.GetSession(chi.URLParam(r, "sessionId"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

// ListSessions handles GET /api/sessions, listing all non-terminal sessions
func (h *CallsHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.engine.ActiveSessions()
	if sessions == nil {
		sessions = []types.CallSession{}
	}
	respondJSON(w, http.StatusOK, sessions)
}

// Connect handles POST /api/sessions/{sessionId}/connect
func (h *CallsHandler) Connect(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	if err := h.engine.Connect(sessionID); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"sessionId": sessionID, "state": string(types.StateConnected)})
}

// SetHold handles POST /api/sessions/{sessionId}/hold
func (h *CallsHandler) SetHold(w http.ResponseWriter, r *http.Request) {
	h.setFlag(w, r, h.engine.SetHold)
}

// SetMute handles POST /api/sessions/{sessionId}/mute
func (h *CallsHandler) SetMute(w http.ResponseWriter, r *http.Request) {
	h.setFlag(w, r, h.engine.SetMute)
}

// SetRecording handles POST /api/sessions/{sessionId}/record
func (h *CallsHandler) SetRecording(w http.ResponseWriter, r *http.Request) {
	h.setFlag(w, r, h.engine.SetRecording)
}

func (h *CallsHandler) setFlag(w http.ResponseWriter, r *http.Request, set func(string, bool) error) {
	sessionID := chi.URLParam(r, "sessionId")

	var req struct {
		On bool `json:"on"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	if err := set(sessionID, req.On); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"sessionId": sessionID, "on": req.On})
}

// End handles POST /api/sessions/{sessionId}/end
func (h *CallsHandler) End(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	var req struct {
		Reason string `json:"reason"`
	}
	// Body is optional for end
	json.NewDecoder(r.Body).Decode(&req)

	if err := h.engine.End(sessionID, req.Reason); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"sessionId": sessionID, "message": "call ended"})
}

// CompleteWrapUp handles POST /api/sessions/{sessionId}/wrapup
func (h *CallsHandler) CompleteWrapUp(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	var req struct {
		Disposition string   `json:"disposition"`
		Notes       string   `json:"notes"`
		Tags        []string `json:"tags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	if err := h.engine.CompleteWrapUp(sessionID, req.Disposition, req.Notes, req.Tags); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"sessionId": sessionID, "message": "wrap-up completed"})
}
