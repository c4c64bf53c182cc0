package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dialgrid/callcore/internal/types"
)

// respondJSON writes v as a JSON response with the given status code
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// respondError maps domain errors to HTTP status codes and writes a
// JSON error body
func respondError(w http.ResponseWriter, err error) {
	respondJSON(w, errorStatus(err), map[string]string{"error": err.Error()})
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, types.ErrSessionNotFound),
		errors.Is(err, types.ErrQueueNotFound),
		errors.Is(err, types.ErrRequestNotFound),
		errors.Is(err, types.ErrAgentNotFound),
		errors.Is(err, types.ErrTransferNotFound),
		errors.Is(err, types.ErrMonitoringNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrInvalidTransition),
		errors.Is(err, types.ErrSessionClosed),
		errors.Is(err, types.ErrInvalidPresenceTransition),
		errors.Is(err, types.ErrSessionNotActive):
		return http.StatusConflict
	case errors.Is(err, types.ErrTargetUnavailable),
		errors.Is(err, types.ErrTransferTimeout):
		return http.StatusGone
	case errors.Is(err, types.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, types.ErrDegraded):
		return http.StatusServiceUnavailable
	case errors.Is(err, types.ErrInvalidEndpoint):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
