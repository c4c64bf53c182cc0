package api

import (
	"net/http"

	"github.com/dialgrid/callcore/internal/auth"
	"github.com/dialgrid/callcore/internal/monitor"
	"github.com/dialgrid/callcore/internal/presence"
	"github.com/dialgrid/callcore/internal/router"
	"github.com/dialgrid/callcore/internal/session"
	"github.com/dialgrid/callcore/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// AdminHandler handles destructive and operational admin endpoints
type AdminHandler struct {
	engine   *session.Engine
	router   *router.Manager
	registry *presence.Registry
	monitor  *monitor.Coordinator
	store    storage.Store
	logger   zerolog.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(engine *session.Engine, router *router.Manager, registry *presence.Registry, monitor *monitor.Coordinator, store storage.Store, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		engine:   engine,
		router:   router,
		registry: registry,
		monitor:  monitor,
		store:    store,
		logger:   logger.With().Str("component", "admin_handler").Logger(),
	}
}

// RequireAdmin middleware rejects any caller without the admin role
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.GetUserFromContext(r.Context())
		if !ok || !auth.HasRole(claims, "admin") {
			w.Header().Set("Content-Type", "application/json")
			http.Error(w, `{"error":"admin role required"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireSupervisorOrAdmin middleware allows supervisor, lead or admin roles
func RequireSupervisorOrAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.GetUserFromContext(r.Context())
		if !ok || (claims.Role != "admin" && claims.Role != "supervisor" && claims.Role != "lead") {
			w.Header().Set("Content-Type", "application/json")
			http.Error(w, `{"error":"supervisor or admin role required"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WipeQueues clears all pending calls from every queue
func (h *AdminHandler) WipeQueues(w http.ResponseWriter, r *http.Request) {
	cleared := h.router.Wipe()

	h.logger.Info().Int("cleared", cleared).Msg("queues wiped via admin")
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "all queues wiped",
		"cleared": cleared,
	})
}

// ForceEndSession ends a session regardless of which agent owns it
func (h *AdminHandler) ForceEndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	stopped := h.monitor.StopAllForCall(sessionID)
	if err := h.engine.End(sessionID, "forced by admin"); err != nil {
		respondError(w, err)
		return
	}

	h.logger.Info().
		Str("session_id", sessionID).
		Int("monitors_stopped", stopped).
		Msg("session force-ended via admin")

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sessionId":       sessionID,
		"monitorsStopped": stopped,
	})
}

// ResetDegraded clears the degraded-mode flag after the archive backend recovers
func (h *AdminHandler) ResetDegraded(w http.ResponseWriter, r *http.Request) {
	h.engine.ResetDegraded()

	h.logger.Info().Msg("degraded mode reset via admin")
	respondJSON(w, http.StatusOK, map[string]string{"message": "degraded mode cleared"})
}

// WipeDynamo truncates all DynamoDB tables
func (h *AdminHandler) WipeDynamo(w http.ResponseWriter, r *http.Request) {
	if err := h.store.TruncateAll(); err != nil {
		h.logger.Error().Err(err).Msg("failed to truncate DynamoDB tables")
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to truncate tables"})
		return
	}

	h.logger.Info().Msg("DynamoDB tables truncated")
	respondJSON(w, http.StatusOK, map[string]string{"message": "DynamoDB tables truncated"})
}
