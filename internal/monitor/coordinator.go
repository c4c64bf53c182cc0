package monitor

import (
	"sync"
	"time"

	"github.com/dialgrid/callcore/internal/bus"
	"github.com/dialgrid/callcore/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SessionChecker reports whether a session can be monitored
type SessionChecker interface {
	IsConnected(sessionID string) bool
}

// pairKey identifies the (supervisor, call) uniqueness constraint
type pairKey struct {
	supervisorID string
	sessionID    string
}

// Coordinator attaches supervisors to live calls in listen, whisper, or
// barge mode. Monitoring is a pure overlay: it never alters the
// monitored session's state, so call history stays accurate no matter
// how many supervisors attach.
type Coordinator struct {
	sessions map[string]*types.MonitoringSession // monitoringID -> session
	byPair   map[pairKey]string                  // active (supervisor, call) -> monitoringID
	engine   SessionChecker
	bus      *bus.Bus
	mu       sync.Mutex
	logger   zerolog.Logger
}

// NewCoordinator creates a monitoring coordinator
func NewCoordinator(engine SessionChecker, b *bus.Bus, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		sessions: make(map[string]*types.MonitoringSession),
		byPair:   make(map[pairKey]string),
		engine:   engine,
		bus:      b,
		logger:   logger.With().Str("component", "monitor").Logger(),
	}
}

// StartMonitoring attaches a supervisor to a connected call. The
// requested mode must be in the supervisor's capability set. At most one
// active monitoring session per (supervisor, call) pair; a call may have
// any number of supervisors attached.
func (c *Coordinator) StartMonitoring(supervisorID, sessionID string, mode types.MonitorMode, capabilities []types.MonitorMode) (string, error) {
	if !mode.Valid() {
		return "", types.ErrPermissionDenied
	}
	if !allowed(mode, capabilities) {
		return "", types.ErrPermissionDenied
	}
	if !c.engine.IsConnected(sessionID) {
		return "", types.ErrSessionNotActive
	}

	c.mu.Lock()
	key := pairKey{supervisorID: supervisorID, sessionID: sessionID}
	if existingID, ok := c.byPair[key]; ok {
		c.mu.Unlock()
		c.logger.Debug().
			Str("monitoring_id", existingID).
			Str("supervisor_id", supervisorID).
			Msg("monitoring already active for pair")
		return existingID, nil
	}

	ms := &types.MonitoringSession{
		MonitoringID: uuid.New().String(),
		SupervisorID: supervisorID,
		SessionID:    sessionID,
		Mode:         mode,
		Active:       true,
		StartedAt:    time.Now(),
	}
	c.sessions[ms.MonitoringID] = ms
	c.byPair[key] = ms.MonitoringID
	c.mu.Unlock()

	c.publish(types.EventMonitoringStarted, ms)

	c.logger.Debug().
		Str("monitoring_id", ms.MonitoringID).
		Str("supervisor_id", supervisorID).
		Str("session_id", sessionID).
		Str("mode", string(mode)).
		Msg("monitoring started")

	return ms.MonitoringID, nil
}

// StopMonitoring detaches a supervisor from a call
func (c *Coordinator) StopMonitoring(monitoringID string) error {
	c.mu.Lock()
	ms, ok := c.sessions[monitoringID]
	if !ok || !ms.Active {
		c.mu.Unlock()
		return types.ErrMonitoringNotFound
	}
	now := time.Now()
	ms.Active = false
	ms.EndedAt = &now
	delete(c.byPair, pairKey{supervisorID: ms.SupervisorID, sessionID: ms.SessionID})
	snapshot := *ms
	c.mu.Unlock()

	c.publish(types.EventMonitoringStopped, &snapshot)

	c.logger.Debug().
		Str("monitoring_id", monitoringID).
		Str("supervisor_id", snapshot.SupervisorID).
		Msg("monitoring stopped")
	return nil
}

// EscalateMode raises the monitoring mode (listen -> whisper -> barge).
// The new mode must be in the supervisor's capability set and at least
// as intrusive as the current one; stepping back down means stopping
// and starting over.
func (c *Coordinator) EscalateMode(monitoringID string, newMode types.MonitorMode, capabilities []types.MonitorMode) error {
	if !newMode.Valid() || !allowed(newMode, capabilities) {
		return types.ErrPermissionDenied
	}

	c.mu.Lock()
	ms, ok := c.sessions[monitoringID]
	if !ok || !ms.Active {
		c.mu.Unlock()
		return types.ErrMonitoringNotFound
	}
	if !newMode.AtLeast(ms.Mode) {
		c.mu.Unlock()
		return types.ErrInvalidTransition
	}
	ms.Mode = newMode
	snapshot := *ms
	c.mu.Unlock()

	c.publish(types.EventMonitoringStarted, &snapshot)

	c.logger.Debug().
		Str("monitoring_id", monitoringID).
		Str("mode", string(newMode)).
		Msg("monitoring mode escalated")
	return nil
}

// Get returns a copy of a monitoring session
func (c *Coordinator) Get(monitoringID string) (types.MonitoringSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ms, ok := c.sessions[monitoringID]
	if !ok {
		return types.MonitoringSession{}, types.ErrMonitoringNotFound
	}
	return *ms, nil
}

// ActiveForCall returns the active monitoring sessions attached to a call
func (c *Coordinator) ActiveForCall(sessionID string) []types.MonitoringSession {
	c.mu.Lock()
	defer c.mu.Unlock()

	var active []types.MonitoringSession
	for _, ms := range c.sessions {
		if ms.Active && ms.SessionID == sessionID {
			active = append(active, *ms)
		}
	}
	return active
}

// StopAllForCall detaches every supervisor from a call, used when the
// call closes
func (c *Coordinator) StopAllForCall(sessionID string) int {
	c.mu.Lock()
	var ids []string
	for id, ms := range c.sessions {
		if ms.Active && ms.SessionID == sessionID {
			ids = append(ids, id)
		}
	}
	c.mu.Unlock()

	for _, id := range ids {
		if err := c.StopMonitoring(id); err != nil {
			c.logger.Warn().Err(err).Str("monitoring_id", id).Msg("stop on close failed")
		}
	}
	return len(ids)
}

// Watch subscribes to the event bus and tears down all monitoring
// sessions attached to a call when that call closes. If the subscription
// is evicted for slowness it resubscribes and keeps going.
func (c *Coordinator) Watch() {
	for {
		sub := c.bus.Subscribe()
		for event := range sub.C {
			if event.Type != types.EventSessionClosed {
				continue
			}
			if n := c.StopAllForCall(event.EntityID); n > 0 {
				c.logger.Info().
					Str("session_id", event.EntityID).
					Int("stopped", n).
					Msg("monitoring ended with call")
			}
		}
		c.logger.Warn().Msg("event bus subscription closed, resubscribing")
	}
}

func (c *Coordinator) publish(eventType types.EventType, ms *types.MonitoringSession) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(types.Event{
		Type:     eventType,
		EntityID: ms.MonitoringID,
		State:    string(ms.Mode),
		Payload:  *ms,
	})
}

func allowed(mode types.MonitorMode, capabilities []types.MonitorMode) bool {
	for _, cap := range capabilities {
		if cap == mode {
			return true
		}
	}
	return false
}
