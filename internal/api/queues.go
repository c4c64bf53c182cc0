package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dialgrid/callcore/internal/router"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// QueueHandler provides REST endpoints for queue inspection and admin
type QueueHandler struct {
	router *router.Manager
	logger zerolog.Logger
}

// NewQueueHandler creates a new QueueHandler
func NewQueueHandler(router *router.Manager, logger zerolog.Logger) *QueueHandler {
	return &QueueHandler{
		router: router,
		logger: logger.With().Str("component", "queue_handler").Logger(),
	}
}

// List handles GET /api/queues, returning snapshots of all queues
func (h *QueueHandler) List(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.router.Snapshots())
}

// Get handles GET /api/queues/{queueId}
func (h *QueueHandler) Get(w http.ResponseWriter, r *http.Request) {
	snap, err := h.router.Snapshot(chi.URLParam(r, "queueId"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// Create handles POST /api/queues to register a new queue (admin)
func (h *QueueHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QueueID         string   `json:"queueId"`
		Skills          []string `json:"skills"`
		MaxWaitSecs     int      `json:"maxWaitSecs"`
		OverflowQueueID string   `json:"overflowQueueId"`
		SLTarget        int      `json:"slTarget"`
		SLThresholdSecs int      `json:"slThresholdSecs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.QueueID == "" {
		http.Error(w, `{"error":"queueId is required"}`, http.StatusBadRequest)
		return
	}

	cfg := router.Config{
		QueueID:         req.QueueID,
		Skills:          req.Skills,
		MaxWait:         time.Duration(req.MaxWaitSecs) * time.Second,
		OverflowQueueID: req.OverflowQueueID,
		SLTarget:        req.SLTarget,
		SLThresholdSecs: req.SLThresholdSecs,
	}
	h.router.AddQueue(cfg)

	h.logger.Info().Str("queue_id", req.QueueID).Msg("queue registered")
	respondJSON(w, http.StatusCreated, map[string]string{"queueId": req.QueueID})
}
