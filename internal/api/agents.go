package api

import (
	"encoding/json"
	"net/http"

	"github.com/dialgrid/callcore/internal/presence"
	"github.com/dialgrid/callcore/internal/storage"
	"github.com/dialgrid/callcore/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// RosterEntry represents a single agent in the roster payload
type RosterEntry struct {
	AgentID string   `json:"agentId"`
	Name    string   `json:"name"`
	Skills  []string `json:"skills"`
}

// AgentsHandler provides REST endpoints for agent registration and presence
type AgentsHandler struct {
	registry *presence.Registry
	store    storage.Store
	logger   zerolog.Logger
}

// NewAgentsHandler creates a new AgentsHandler
func NewAgentsHandler(registry *presence.Registry, store storage.Store, logger zerolog.Logger) *AgentsHandler {
	return &AgentsHandler{
		registry: registry,
		store:    store,
		logger:   logger.With().Str("component", "agents_handler").Logger(),
	}
}

// HandleRoster handles POST /api/agents/roster for bulk registration
func (h *AgentsHandler) HandleRoster(w http.ResponseWriter, r *http.Request) {
	var roster []RosterEntry
	if err := json.NewDecoder(r.Body).Decode(&roster); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	registered := 0
	for _, entry := range roster {
		if entry.AgentID == "" {
			continue
		}
		h.registry.Register(entry.AgentID, entry.Name, entry.Skills)
		registered++
	}

	h.logger.Info().Int("registered", registered).Msg("roster received")
	respondJSON(w, http.StatusOK, map[string]int{"registered": registered})
}

// List handles GET /api/agents
func (h *AgentsHandler) List(w http.ResponseWriter, r *http.Request) {
	agents := h.registry.GetAll()
	if agents == nil {
		agents = []types.Agent{}
	}
	respondJSON(w, http.StatusOK, agents)
}

// Get handles GET /api/agents/{agentId}
func (h *AgentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	agent, err := h.registry.Get(chi.URLParam(r, "agentId"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, agent)
}

// SetPresence handles PUT /api/agents/{agentId}/presence
func (h *AgentsHandler) SetPresence(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")

	var req struct {
		Presence string `json:"presence"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	if err := h.registry.SetPresence(agentID, types.Presence(req.Presence)); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"agentId": agentID, "presence": req.Presence})
}

// SetStatus handles PUT /api/agents/{agentId}/status
func (h *AgentsHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	if err := h.registry.SetStatus(agentID, types.AgentStatus(req.Status)); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"agentId": agentID, "status": req.Status})
}

// Heartbeat handles POST /api/agents/{agentId}/heartbeat
func (h *AgentsHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")

	if err := h.registry.Heartbeat(agentID); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"agentId": agentID})
}

// GetHistory returns agent daily stats for the given agent
// GET /api/agents/{agentId}/history
func (h *AgentsHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")

	stats, err := h.store.GetAgentDailyStats(agentID)
	if err != nil {
		h.logger.Error().Err(err).Str("agent_id", agentID).Msg("failed to get agent daily stats")
		http.Error(w, `{"error":"failed to retrieve history"}`, http.StatusInternalServerError)
		return
	}

	if stats == nil {
		stats = []types.AgentDailyStats{}
	}
	respondJSON(w, http.StatusOK, stats)
}

// GetSessions returns session records for the given agent on a specific date
// GET /api/agents/{agentId}/sessions?date=YYYY-MM-DD
func (h *AgentsHandler) GetSessions(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")

	date := r.URL.Query().Get("date")
	if date == "" {
		http.Error(w, `{"error":"date query parameter is required (YYYY-MM-DD)"}`, http.StatusBadRequest)
		return
	}

	records, err := h.store.GetAgentSessionsByDate(agentID, date)
	if err != nil {
		h.logger.Error().Err(err).
			Str("agent_id", agentID).
			Str("date", date).
			Msg("failed to get agent sessions")
		http.Error(w, `{"error":"failed to retrieve sessions"}`, http.StatusInternalServerError)
		return
	}

	if records == nil {
		records = []types.SessionRecord{}
	}
	respondJSON(w, http.StatusOK, records)
}
