package router

import (
	"errors"
	"sync"
	"time"

	"github.com/dialgrid/callcore/internal/bus"
	"github.com/dialgrid/callcore/internal/metrics"
	"github.com/dialgrid/callcore/internal/presence"
	"github.com/dialgrid/callcore/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SessionEngine is the subset of the session engine the router drives
type SessionEngine interface {
	CreateSession(direction types.Direction, from, to, queueID, agentID string) (string, error)
	AssignAgent(sessionID, agentID string) error
}

// Assignment represents a request matched to an agent
type Assignment struct {
	SessionID string
	RequestID string
	QueueID   string
	AgentID   string
	WaitSecs  float64
}

// Manager admits call requests into named queues and matches them to
// eligible agents by skill and priority. A single mutex serializes
// assignment passes, so concurrent triggers for a queue coalesce into at
// most one pass at a time.
type Manager struct {
	queues   map[string]*queue
	registry *presence.Registry
	engine   SessionEngine
	bus      *bus.Bus
	kick     chan struct{}
	mu       sync.Mutex
	logger   zerolog.Logger
}

// NewManager creates a new queue router
func NewManager(registry *presence.Registry, engine SessionEngine, b *bus.Bus, logger zerolog.Logger) *Manager {
	return &Manager{
		queues:   make(map[string]*queue),
		registry: registry,
		engine:   engine,
		bus:      b,
		kick:     make(chan struct{}, 1),
		logger:   logger.With().Str("component", "router").Logger(),
	}
}

// AddQueue registers a queue. Replaces any existing queue with the same id.
func (m *Manager) AddQueue(cfg Config) {
	m.mu.Lock()
	m.queues[cfg.QueueID] = newQueue(cfg)
	m.mu.Unlock()

	m.logger.Info().
		Str("queue_id", cfg.QueueID).
		Strs("skills", cfg.Skills).
		Dur("max_wait", cfg.MaxWait).
		Msg("queue registered")
}

// Enqueue appends a request to the queue's priority-ordered pending list
// and returns its position. Fails with QueueNotFound for unknown queues.
func (m *Manager) Enqueue(queueID string, req types.CallRequest) (int, error) {
	m.mu.Lock()
	q, ok := m.queues[queueID]
	if !ok {
		m.mu.Unlock()
		return 0, types.ErrQueueNotFound
	}

	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	if req.EnqueueTime.IsZero() {
		req.EnqueueTime = time.Now()
	}
	pos := q.enqueue(&req)
	m.mu.Unlock()

	m.logger.Debug().
		Str("request_id", req.RequestID).
		Str("queue_id", queueID).
		Int("position", pos).
		Int("priority", int(req.Priority)).
		Msg("request enqueued")

	m.publishPosition(queueID, req.RequestID, pos)
	m.Kick()
	return pos, nil
}

// Dequeue cancels a pending request (e.g., caller hung up while waiting).
// Fails with RequestNotFound if the request is not pending in the queue.
func (m *Manager) Dequeue(queueID, requestID string) error {
	m.mu.Lock()
	q, ok := m.queues[queueID]
	if !ok {
		m.mu.Unlock()
		return types.ErrQueueNotFound
	}
	req, ok := q.remove(requestID)
	if !ok {
		m.mu.Unlock()
		return types.ErrRequestNotFound
	}
	q.abandoned++
	m.mu.Unlock()

	m.logger.Debug().
		Str("request_id", req.RequestID).
		Str("queue_id", queueID).
		Msg("request dequeued")

	m.publishPosition(queueID, requestID, -1)
	return nil
}

// Kick schedules an assignment pass. Triggers are coalesced: a pass
// already pending absorbs further kicks.
func (m *Manager) Kick() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// KickC exposes the coalesced trigger channel to the routing loop
func (m *Manager) KickC() <-chan struct{} {
	return m.kick
}

// TryAssign runs one assignment pass over a single queue
func (m *Manager) TryAssign(queueID string) ([]Assignment, error) {
	m.mu.Lock()
	q, ok := m.queues[queueID]
	if !ok {
		m.mu.Unlock()
		return nil, types.ErrQueueNotFound
	}
	matches := m.assignLocked(q)
	m.mu.Unlock()
	return matches, nil
}

// TickRouting runs one assignment pass over every queue. Returns the
// matches made. No agent being available is a normal outcome, not an error.
func (m *Manager) TickRouting() []Assignment {
	start := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	var matches []Assignment
	for _, q := range m.queues {
		matches = append(matches, m.assignLocked(q)...)
	}
	metrics.Get().RecordRoutingPass(time.Since(start))
	return matches
}

// assignLocked scans a queue's pending requests in priority order (strict
// FIFO within a band) and matches each to the best eligible agent. Caller
// holds m.mu.
func (m *Manager) assignLocked(q *queue) []Assignment {
	var matches []Assignment

	i := 0
	for i < len(q.pending) {
		req := q.pending[i]

		agent := m.selectAgent(req.Skills)
		if agent == nil {
			// Overflow requests that outwaited the threshold; otherwise
			// leave them queued. Still-waiting is not a failure.
			if m.overflowLocked(q, req) {
				continue // slot i now holds the next request
			}
			i++
			continue
		}

		// Claim the agent before touching the session. An agent whose
		// status changed between the eligibility scan and here (break,
		// manual presence change) fails the claim and the rescan picks
		// the next candidate.
		if err := m.registry.SetStatus(agent.AgentID, types.StatusRinging); err != nil {
			m.logger.Warn().Err(err).
				Str("agent_id", agent.AgentID).
				Msg("agent claim failed, rescanning")
			continue
		}

		sessionID := req.SessionID
		var err error
		if sessionID != "" {
			err = m.engine.AssignAgent(sessionID, agent.AgentID)
		} else {
			sessionID, err = m.engine.CreateSession(req.Direction, req.From, req.To, q.cfg.QueueID, agent.AgentID)
		}
		if err != nil {
			if err := m.registry.SetStatus(agent.AgentID, types.StatusIdle); err != nil {
				m.logger.Warn().Err(err).Str("agent_id", agent.AgentID).Msg("agent release failed after assignment failure")
			}
			if errors.Is(err, types.ErrSessionClosed) || errors.Is(err, types.ErrInvalidTransition) {
				// A requeued session that died while waiting. Drop the
				// request so it cannot block the rest of the band.
				q.remove(req.RequestID)
				q.abandoned++
				m.publishPosition(q.cfg.QueueID, req.RequestID, -1)
				m.logger.Warn().Err(err).
					Str("request_id", req.RequestID).
					Str("session_id", sessionID).
					Str("queue_id", q.cfg.QueueID).
					Msg("dropping request for dead session")
				continue // slot i now holds the next request
			}
			m.logger.Error().Err(err).
				Str("request_id", req.RequestID).
				Str("queue_id", q.cfg.QueueID).
				Msg("session creation failed, leaving request queued")
			break
		}

		if err := m.registry.SetActiveSession(agent.AgentID, sessionID); err != nil {
			m.logger.Warn().Err(err).Str("agent_id", agent.AgentID).Msg("agent session link failed")
		}

		q.remove(req.RequestID)
		q.assigned++
		wait := time.Since(req.EnqueueTime).Seconds()
		q.sl.RecordAnswer(wait)
		metrics.Get().RecordAssignment()

		matches = append(matches, Assignment{
			SessionID: sessionID,
			RequestID: req.RequestID,
			QueueID:   q.cfg.QueueID,
			AgentID:   agent.AgentID,
			WaitSecs:  wait,
		})

		m.publishPosition(q.cfg.QueueID, req.RequestID, -1)

		m.logger.Debug().
			Str("request_id", req.RequestID).
			Str("session_id", sessionID).
			Str("agent_id", agent.AgentID).
			Str("queue_id", q.cfg.QueueID).
			Float64("wait_time", wait).
			Msg("request routed to agent")
	}

	return matches
}

// selectAgent picks the eligible agent with the highest skill overlap.
// FindEligible orders by least-recently-busy, so a stable max scan keeps
// the longest-idle agent on ties.
func (m *Manager) selectAgent(skills []string) *types.Agent {
	eligible := m.registry.FindEligible(skills)
	if len(eligible) == 0 {
		return nil
	}

	best := &eligible[0]
	for i := 1; i < len(eligible); i++ {
		if eligible[i].SkillOverlap(skills) > best.SkillOverlap(skills) {
			best = &eligible[i]
		}
	}
	return best
}

// overflowLocked moves a request that outwaited maxWait to the overflow
// queue, preserving its original enqueue time. Returns true if moved.
func (m *Manager) overflowLocked(q *queue, req *types.CallRequest) bool {
	if q.cfg.MaxWait <= 0 || q.cfg.OverflowQueueID == "" {
		return false
	}
	if time.Since(req.EnqueueTime) < q.cfg.MaxWait {
		return false
	}
	overflow, ok := m.queues[q.cfg.OverflowQueueID]
	if !ok {
		return false
	}

	q.remove(req.RequestID)
	q.overflowed++
	pos := overflow.enqueue(req)
	metrics.Get().RecordOverflow()

	m.logger.Debug().
		Str("request_id", req.RequestID).
		Str("from_queue", q.cfg.QueueID).
		Str("to_queue", overflow.cfg.QueueID).
		Msg("request overflowed")

	m.publishPosition(overflow.cfg.QueueID, req.RequestID, pos)
	return true
}

// Requeue admits a detached session back into a queue as a new request.
// Used by the transfer coordinator for cold transfers to a queue.
func (m *Manager) Requeue(queueID string, sess types.CallSession) (int, error) {
	return m.Enqueue(queueID, types.CallRequest{
		Direction: sess.Direction,
		From:      sess.From,
		To:        sess.To,
		Skills:    m.queueSkills(queueID),
		Priority:  types.PriorityHigh, // transferred callers already waited once
		SessionID: sess.SessionID,
	})
}

// QueueExists reports whether a queue id is registered
func (m *Manager) QueueExists(queueID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.queues[queueID]
	return ok
}

func (m *Manager) queueSkills(queueID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.queues[queueID]; ok {
		return q.cfg.Skills
	}
	return nil
}

// Snapshot returns the snapshot for a specific queue
func (m *Manager) Snapshot(queueID string) (types.QueueSnapshot, error) {
	m.mu.Lock()
	q, ok := m.queues[queueID]
	if !ok {
		m.mu.Unlock()
		return types.QueueSnapshot{}, types.ErrQueueNotFound
	}
	skills := q.cfg.Skills
	snap := q.snapshot(0)
	m.mu.Unlock()

	snap.EligibleAgents = len(m.registry.FindEligible(skills))
	return snap, nil
}

// Snapshots returns snapshots for all queues
func (m *Manager) Snapshots() []types.QueueSnapshot {
	m.mu.Lock()
	type pair struct {
		snap   types.QueueSnapshot
		skills []string
	}
	pairs := make([]pair, 0, len(m.queues))
	for _, q := range m.queues {
		pairs = append(pairs, pair{snap: q.snapshot(0), skills: q.cfg.Skills})
	}
	m.mu.Unlock()

	snaps := make([]types.QueueSnapshot, 0, len(pairs))
	for _, p := range pairs {
		p.snap.EligibleAgents = len(m.registry.FindEligible(p.skills))
		snaps = append(snaps, p.snap)
	}
	return snaps
}

// Wipe clears all pending requests from every queue, returning the count
func (m *Manager) Wipe() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	for _, q := range m.queues {
		total += len(q.pending)
		q.pending = nil
		q.index = make(map[string]*types.CallRequest)
	}
	m.logger.Info().Int("cleared", total).Msg("wiped all pending requests")
	return total
}

func (m *Manager) publishPosition(queueID, requestID string, pos int) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(types.Event{
		Type:     types.EventQueuePositionChanged,
		EntityID: requestID,
		Payload: types.QueuePosition{
			QueueID:   queueID,
			RequestID: requestID,
			Position:  pos,
		},
	})
}
