package api

import (
	"encoding/json"
	"net/http"

	"github.com/dialgrid/callcore/internal/metrics"
	"github.com/dialgrid/callcore/internal/transfer"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// TransferHandler provides REST endpoints for warm and cold transfers
type TransferHandler struct {
	transfers *transfer.Coordinator
	logger    zerolog.Logger
}

// NewTransferHandler creates a new TransferHandler
func NewTransferHandler(transfers *transfer.Coordinator, logger zerolog.Logger) *TransferHandler {
	return &TransferHandler{
		transfers: transfers,
		logger:    logger.With().Str("component", "transfer_handler").Logger(),
	}
}

// StartWarm handles POST /api/sessions/{sessionId}/transfers/warm
func (h *TransferHandler) StartWarm(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	var req struct {
		FromAgentID string `json:"fromAgentId"`
		ToAgentID   string `json:"toAgentId"`
		Reason      string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	transferID, err := h.transfers.WarmTransfer(sessionID, req.FromAgentID, req.ToAgentID, req.Reason)
	if err != nil {
		metrics.Get().RecordTransferFailed()
		respondError(w, err)
		return
	}

	metrics.Get().RecordTransferStarted()
	h.logger.Info().
		Str("session_id", sessionID).
		Str("transfer_id", transferID).
		Str("to_agent", req.ToAgentID).
		Msg("warm transfer started")

	respondJSON(w, http.StatusAccepted, map[string]string{"transferId": transferID})
}

// Accept handles POST /api/transfers/{transferId}/accept
func (h *TransferHandler) Accept(w http.ResponseWriter, r *http.Request) {
	transferID := chi.URLParam(r, "transferId")

	var req struct {
		Mode string `json:"mode"` // "handoff" (default) or "conference"
	}
	json.NewDecoder(r.Body).Decode(&req)

	mode := transfer.CompleteHandoff
	if req.Mode == string(transfer.CompleteConference) {
		mode = transfer.CompleteConference
	}

	if err := h.transfers.Accept(transferID, mode); err != nil {
		metrics.Get().RecordTransferFailed()
		respondError(w, err)
		return
	}

	metrics.Get().RecordTransferCompleted()
	respondJSON(w, http.StatusOK, map[string]string{"transferId": transferID, "mode": string(mode)})
}

// Reject handles POST /api/transfers/{transferId}/reject
func (h *TransferHandler) Reject(w http.ResponseWriter, r *http.Request) {
	transferID := chi.URLParam(r, "transferId")

	if err := h.transfers.Reject(transferID); err != nil {
		respondError(w, err)
		return
	}

	metrics.Get().RecordTransferFailed()
	respondJSON(w, http.StatusOK, map[string]string{"transferId": transferID, "message": "transfer rejected"})
}

// ColdToAgent handles POST /api/sessions/{sessionId}/transfers/cold/agent
func (h *TransferHandler) ColdToAgent(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	var req struct {
		FromAgentID string `json:"fromAgentId"`
		ToAgentID   string `json:"toAgentId"`
		Reason      string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	if err := h.transfers.ColdTransferToAgent(sessionID, req.FromAgentID, req.ToAgentID, req.Reason); err != nil {
		metrics.Get().RecordTransferFailed()
		respondError(w, err)
		return
	}

	metrics.Get().RecordTransferCompleted()
	respondJSON(w, http.StatusOK, map[string]string{
		"sessionId": sessionID,
		"toAgentId": req.ToAgentID,
	})
}

// ColdToQueue handles POST /api/sessions/{sessionId}/transfers/cold/queue
func (h *TransferHandler) ColdToQueue(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	var req struct {
		FromAgentID string `json:"fromAgentId"`
		QueueID     string `json:"queueId"`
		Reason      string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	if err := h.transfers.ColdTransferToQueue(sessionID, req.FromAgentID, req.QueueID, req.Reason); err != nil {
		metrics.Get().RecordTransferFailed()
		respondError(w, err)
		return
	}

	metrics.Get().RecordTransferCompleted()
	respondJSON(w, http.StatusOK, map[string]string{
		"sessionId": sessionID,
		"queueId":   req.QueueID,
	})
}

// LeaveConference handles POST /api/sessions/{sessionId}/conference/leave
func (h *TransferHandler) LeaveConference(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	var req struct {
		AgentID string `json:"agentId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	if err := h.transfers.LeaveConference(sessionID, req.AgentID); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"sessionId": sessionID, "agentId": req.AgentID})
}
