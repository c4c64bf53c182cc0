package transfer

import (
	"sync"
	"time"

	"github.com/dialgrid/callcore/internal/presence"
	"github.com/dialgrid/callcore/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SessionEngine is the subset of the session engine the coordinator drives
type SessionEngine interface {
	GetSession(sessionID string) (types.CallSession, error)
	SetHold(sessionID string, hold bool) error
	ReassignAgent(sessionID, toAgent string, rec types.TransferRecord) error
	JoinConference(sessionID, agentID string, rec types.TransferRecord) error
	LeaveConference(sessionID, agentID string) error
	DetachToQueue(sessionID, queueID string, rec types.TransferRecord) error
}

// Requeuer re-admits a detached session into a queue
type Requeuer interface {
	QueueExists(queueID string) bool
	Requeue(queueID string, sess types.CallSession) (int, error)
}

// CompleteMode selects how an accepted warm transfer resolves
type CompleteMode string

const (
	// CompleteHandoff hands the call fully to the receiving agent.
	CompleteHandoff CompleteMode = "handoff"
	// CompleteConference merges the receiving agent in alongside the original.
	CompleteConference CompleteMode = "conference"
)

// pendingTransfer is a warm transfer awaiting the receiving agent's answer
type pendingTransfer struct {
	TransferID string
	SessionID  string
	FromAgent  string
	ToAgent    string
	Reason     string
	timer      *time.Timer
}

// Coordinator moves active calls between agents and queues without losing
// continuity. Transfers are all-or-nothing: on any failure the original
// session is left untouched.
type Coordinator struct {
	engine   SessionEngine
	registry *presence.Registry
	router   Requeuer
	timeout  time.Duration
	pending  map[string]*pendingTransfer // transferID -> pending warm transfer
	expired  map[string]time.Time        // transferID -> when it timed out
	mu       sync.Mutex
	logger   zerolog.Logger
}

// NewCoordinator creates a transfer coordinator. timeout bounds the warm
// transfer accept window.
func NewCoordinator(engine SessionEngine, registry *presence.Registry, router Requeuer, timeout time.Duration, logger zerolog.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Coordinator{
		engine:   engine,
		registry: registry,
		router:   router,
		timeout:  timeout,
		pending:  make(map[string]*pendingTransfer),
		expired:  make(map[string]time.Time),
		logger:   logger.With().Str("component", "transfer").Logger(),
	}
}

// WarmTransfer holds the original call and rings the receiving agent for
// consultation. The transfer completes on Accept, or rolls back on
// Reject or when the accept window elapses.
func (c *Coordinator) WarmTransfer(sessionID, fromAgentID, toAgentID, reason string) (string, error) {
	sess, err := c.engine.GetSession(sessionID)
	if err != nil {
		return "", err
	}
	if sess.State != types.StateConnected || sess.AgentID != fromAgentID {
		return "", &types.TransitionError{SessionID: sessionID, From: sess.State, Attempted: "warm transfer"}
	}
	if err := c.checkTarget(toAgentID); err != nil {
		return "", err
	}

	// Ring the consult target first; only then suspend the caller.
	if err := c.registry.SetStatus(toAgentID, types.StatusRinging); err != nil {
		return "", types.ErrTargetUnavailable
	}
	if err := c.engine.SetHold(sessionID, true); err != nil {
		if rbErr := c.registry.SetStatus(toAgentID, types.StatusIdle); rbErr != nil {
			c.logger.Warn().Err(rbErr).Str("agent_id", toAgentID).Msg("consult rollback failed")
		}
		return "", err
	}

	pt := &pendingTransfer{
		TransferID: uuid.New().String(),
		SessionID:  sessionID,
		FromAgent:  fromAgentID,
		ToAgent:    toAgentID,
		Reason:     reason,
	}
	pt.timer = time.AfterFunc(c.timeout, func() {
		c.expire(pt.TransferID)
	})

	c.mu.Lock()
	c.pending[pt.TransferID] = pt
	c.mu.Unlock()

	c.logger.Debug().
		Str("transfer_id", pt.TransferID).
		Str("session_id", sessionID).
		Str("from_agent", fromAgentID).
		Str("to_agent", toAgentID).
		Msg("warm transfer started")

	return pt.TransferID, nil
}

// Accept completes a pending warm transfer as a handoff or a conference
// merge, appending the transfer record.
func (c *Coordinator) Accept(transferID string, mode CompleteMode) error {
	pt, err := c.take(transferID)
	if err != nil {
		return err
	}

	rec := types.TransferRecord{
		Type:      types.TransferWarm,
		FromAgent: pt.FromAgent,
		ToAgent:   pt.ToAgent,
		Reason:    pt.Reason,
		Timestamp: time.Now(),
	}

	if mode == CompleteConference {
		if err := c.engine.JoinConference(pt.SessionID, pt.ToAgent, rec); err != nil {
			c.rollback(pt)
			return err
		}
	} else {
		if err := c.engine.ReassignAgent(pt.SessionID, pt.ToAgent, rec); err != nil {
			c.rollback(pt)
			return err
		}
		// Original agent is off the call.
		c.releaseAgent(pt.FromAgent)
	}

	if err := c.registry.SetStatus(pt.ToAgent, types.StatusInCall); err != nil {
		c.logger.Warn().Err(err).Str("agent_id", pt.ToAgent).Msg("receiving agent status update failed")
	}
	if err := c.registry.SetActiveSession(pt.ToAgent, pt.SessionID); err != nil {
		c.logger.Warn().Err(err).Str("agent_id", pt.ToAgent).Msg("receiving agent session link failed")
	}

	c.logger.Debug().
		Str("transfer_id", transferID).
		Str("session_id", pt.SessionID).
		Str("mode", string(mode)).
		Msg("warm transfer completed")
	return nil
}

// Reject abandons a pending warm transfer; the original call resumes
// un-held and no transfer record is written.
func (c *Coordinator) Reject(transferID string) error {
	pt, err := c.take(transferID)
	if err != nil {
		return err
	}
	c.rollback(pt)

	c.logger.Debug().
		Str("transfer_id", transferID).
		Str("session_id", pt.SessionID).
		Msg("warm transfer rejected")
	return nil
}

// LeaveConference drops a merged participant from a session
func (c *Coordinator) LeaveConference(sessionID, agentID string) error {
	if err := c.engine.LeaveConference(sessionID, agentID); err != nil {
		return err
	}
	c.releaseAgent(agentID)
	return nil
}

// ColdTransferToAgent immediately reassigns the session to another agent
// without consultation. The target must be Available and Idle.
func (c *Coordinator) ColdTransferToAgent(sessionID, fromAgentID, toAgentID, reason string) error {
	sess, err := c.engine.GetSession(sessionID)
	if err != nil {
		return err
	}
	if sess.State != types.StateConnected || sess.AgentID != fromAgentID {
		return &types.TransitionError{SessionID: sessionID, From: sess.State, Attempted: "cold transfer"}
	}
	if err := c.checkTarget(toAgentID); err != nil {
		return err
	}

	rec := types.TransferRecord{
		Type:      types.TransferCold,
		FromAgent: fromAgentID,
		ToAgent:   toAgentID,
		Reason:    reason,
		Timestamp: time.Now(),
	}
	if err := c.engine.ReassignAgent(sessionID, toAgentID, rec); err != nil {
		return err
	}

	// Walk the target through the status cycle the way a live answer would.
	if err := c.registry.SetStatus(toAgentID, types.StatusRinging); err != nil {
		c.logger.Warn().Err(err).Str("agent_id", toAgentID).Msg("target status update failed")
	}
	if err := c.registry.SetStatus(toAgentID, types.StatusInCall); err != nil {
		c.logger.Warn().Err(err).Str("agent_id", toAgentID).Msg("target status update failed")
	}
	if err := c.registry.SetActiveSession(toAgentID, sessionID); err != nil {
		c.logger.Warn().Err(err).Str("agent_id", toAgentID).Msg("target session link failed")
	}
	c.releaseAgent(fromAgentID)

	c.logger.Debug().
		Str("session_id", sessionID).
		Str("from_agent", fromAgentID).
		Str("to_agent", toAgentID).
		Msg("cold transfer completed")
	return nil
}

// ColdTransferToQueue detaches the session from its agent and re-enqueues
// it for routing. The caller keeps the same session id.
func (c *Coordinator) ColdTransferToQueue(sessionID, fromAgentID, queueID, reason string) error {
	sess, err := c.engine.GetSession(sessionID)
	if err != nil {
		return err
	}
	if sess.State != types.StateConnected || sess.AgentID != fromAgentID {
		return &types.TransitionError{SessionID: sessionID, From: sess.State, Attempted: "cold transfer"}
	}
	if !c.router.QueueExists(queueID) {
		return types.ErrQueueNotFound
	}

	rec := types.TransferRecord{
		Type:      types.TransferCold,
		FromAgent: fromAgentID,
		ToQueue:   queueID,
		Reason:    reason,
		Timestamp: time.Now(),
	}
	if err := c.engine.DetachToQueue(sessionID, queueID, rec); err != nil {
		return err
	}
	c.releaseAgent(fromAgentID)

	detached, err := c.engine.GetSession(sessionID)
	if err != nil {
		return err
	}
	if _, err := c.router.Requeue(queueID, detached); err != nil {
		return err
	}

	c.logger.Debug().
		Str("session_id", sessionID).
		Str("from_agent", fromAgentID).
		Str("queue_id", queueID).
		Msg("cold transfer to queue completed")
	return nil
}

// PendingCount returns the number of warm transfers awaiting an answer
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// expire rolls back a warm transfer whose accept window elapsed
func (c *Coordinator) expire(transferID string) {
	c.mu.Lock()
	pt, ok := c.pending[transferID]
	if !ok {
		c.mu.Unlock()
		return // already accepted or rejected
	}
	delete(c.pending, transferID)
	c.expired[transferID] = time.Now()
	for id, at := range c.expired {
		if time.Since(at) > time.Minute {
			delete(c.expired, id)
		}
	}
	c.mu.Unlock()

	c.rollback(pt)

	c.logger.Info().
		Str("transfer_id", transferID).
		Str("session_id", pt.SessionID).
		Str("to_agent", pt.ToAgent).
		Msg("warm transfer timed out")
}

// take removes and returns a pending transfer, stopping its timer
func (c *Coordinator) take(transferID string) (*pendingTransfer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pt, ok := c.pending[transferID]
	if !ok {
		if _, wasExpired := c.expired[transferID]; wasExpired {
			return nil, types.ErrTransferTimeout
		}
		return nil, types.ErrTransferNotFound
	}
	delete(c.pending, transferID)
	pt.timer.Stop()
	return pt, nil
}

// rollback restores the original call to Connected with hold cleared and
// releases the consult target. No transfer record is written.
func (c *Coordinator) rollback(pt *pendingTransfer) {
	if err := c.engine.SetHold(pt.SessionID, false); err != nil {
		c.logger.Warn().Err(err).Str("session_id", pt.SessionID).Msg("un-hold failed on transfer rollback")
	}
	if err := c.registry.SetStatus(pt.ToAgent, types.StatusIdle); err != nil {
		c.logger.Warn().Err(err).Str("agent_id", pt.ToAgent).Msg("consult target release failed")
	}
}

// checkTarget verifies the receiving agent can take a call right now
func (c *Coordinator) checkTarget(agentID string) error {
	agent, err := c.registry.Get(agentID)
	if err != nil {
		return types.ErrTargetUnavailable
	}
	if agent.Presence != types.PresenceAvailable || agent.Status != types.StatusIdle {
		return types.ErrTargetUnavailable
	}
	return nil
}

// releaseAgent returns an agent to Idle after it leaves a call
func (c *Coordinator) releaseAgent(agentID string) {
	if err := c.registry.SetStatus(agentID, types.StatusIdle); err != nil {
		c.logger.Warn().Err(err).Str("agent_id", agentID).Msg("agent release failed")
	}
}
