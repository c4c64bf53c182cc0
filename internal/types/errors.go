package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for use with errors.Is.
var (
	// ErrInvalidEndpoint indicates a session was requested with an empty endpoint.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrInvalidTransition indicates a state change not legal from the current state.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrSessionClosed indicates an operation on a session already in its terminal state.
	ErrSessionClosed = errors.New("session closed")

	// ErrSessionNotFound indicates an unknown session id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrQueueNotFound indicates an unknown queue id.
	ErrQueueNotFound = errors.New("queue not found")

	// ErrRequestNotFound indicates an unknown pending request id.
	ErrRequestNotFound = errors.New("request not found")

	// ErrAgentNotFound indicates an unknown agent id.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrInvalidPresenceTransition indicates an agent status change outside the allowed cycle.
	ErrInvalidPresenceTransition = errors.New("invalid presence transition")

	// ErrTargetUnavailable indicates the transfer target cannot accept the call right now.
	ErrTargetUnavailable = errors.New("target unavailable")

	// ErrTransferTimeout indicates the receiving agent did not answer within the window.
	ErrTransferTimeout = errors.New("transfer timeout")

	// ErrTransferNotFound indicates an unknown pending transfer id.
	ErrTransferNotFound = errors.New("transfer not found")

	// ErrSessionNotActive indicates monitoring was requested on a session that is not connected.
	ErrSessionNotActive = errors.New("session not active")

	// ErrMonitoringNotFound indicates an unknown monitoring session id.
	ErrMonitoringNotFound = errors.New("monitoring session not found")

	// ErrPermissionDenied indicates the caller lacks the required capability.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrDegraded indicates new session creation is halted because persistence is unavailable.
	ErrDegraded = errors.New("degraded mode: persistence unavailable")
)

// TransitionError carries the details of a rejected session state change.
type TransitionError struct {
	SessionID string
	From      CallState
	Attempted string
}

// Error returns the error message.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("session %s: cannot %s from state %s", e.SessionID, e.Attempted, e.From)
}

// Unwrap returns ErrSessionClosed for terminal sessions, ErrInvalidTransition otherwise.
func (e *TransitionError) Unwrap() error {
	if e.From.Terminal() {
		return ErrSessionClosed
	}
	return ErrInvalidTransition
}

// StatusError carries the details of a rejected agent status change.
type StatusError struct {
	AgentID string
	From    AgentStatus
	To      AgentStatus
}

// Error returns the error message.
func (e *StatusError) Error() string {
	return fmt.Sprintf("agent %s: cannot transition from %s to %s", e.AgentID, e.From, e.To)
}

// Unwrap returns ErrInvalidPresenceTransition.
func (e *StatusError) Unwrap() error {
	return ErrInvalidPresenceTransition
}
