package session

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dialgrid/callcore/internal/bus"
	"github.com/dialgrid/callcore/internal/metrics"
	"github.com/dialgrid/callcore/internal/presence"
	"github.com/dialgrid/callcore/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Store is the subset of the storage layer the engine needs to archive
// closed sessions and their transition logs.
type Store interface {
	SaveSessionRecord(record types.SessionRecord) error
	SaveTransitions(records []types.TransitionRecord) error
}

// Engine is the sole owner of per-call state transitions. Transitions for
// a given session are serialized by a per-session mutex; different
// sessions proceed fully in parallel.
type Engine struct {
	sessions map[string]*entry
	closed   map[string]struct{}    // archived session ids, evicted from sessions
	timers   map[string]*time.Timer // sessionID -> pending ACW timer
	registry *presence.Registry
	bus      *bus.Bus
	store    Store
	acw      time.Duration
	degraded atomic.Bool
	mu       sync.RWMutex
	logger   zerolog.Logger
}

// entry pairs a session with its serialization lock
type entry struct {
	mu   sync.Mutex
	sess *types.CallSession

	holdSince *time.Time // set while OnHold
}

// NewEngine creates a new session engine. acw is the after-call-work
// window before a session auto-closes.
func NewEngine(registry *presence.Registry, b *bus.Bus, acw time.Duration, logger zerolog.Logger) *Engine {
	if acw <= 0 {
		acw = 30 * time.Second
	}
	return &Engine{
		sessions: make(map[string]*entry),
		closed:   make(map[string]struct{}),
		timers:   make(map[string]*time.Timer),
		registry: registry,
		bus:      b,
		acw:      acw,
		logger:   logger.With().Str("component", "session").Logger(),
	}
}

// SetStore sets the persistence store for closed sessions
func (e *Engine) SetStore(store Store) {
	e.store = store
}

// Degraded reports whether new session creation is halted because a
// persistence write failed. In-flight sessions continue in memory.
func (e *Engine) Degraded() bool {
	return e.degraded.Load()
}

// ResetDegraded re-enables session creation after persistence recovers
func (e *Engine) ResetDegraded() {
	e.degraded.Store(false)
}

// CreateSession creates a new session in Ringing for the given agent.
// Returns ErrInvalidEndpoint when either endpoint is empty.
func (e *Engine) CreateSession(direction types.Direction, from, to, queueID, agentID string) (string, error) {
	if from == "" || to == "" {
		return "", types.ErrInvalidEndpoint
	}
	if e.degraded.Load() {
		return "", types.ErrDegraded
	}

	now := time.Now()
	sess := &types.CallSession{
		SessionID: uuid.New().String(),
		Direction: direction,
		From:      from,
		To:        to,
		QueueID:   queueID,
		AgentID:   agentID,
		State:     types.StateRinging,
		CreatedAt: now,
	}
	ent := &entry{sess: sess}

	ent.mu.Lock()
	e.mu.Lock()
	e.sessions[sess.SessionID] = ent
	e.mu.Unlock()

	e.appendTransition(sess, types.StateRinging, "created")
	e.publish(types.EventSessionCreated, sess)
	ent.mu.Unlock()

	metrics.Get().RecordSessionCreated()

	e.logger.Debug().
		Str("session_id", sess.SessionID).
		Str("direction", string(direction)).
		Str("queue_id", queueID).
		Str("agent_id", agentID).
		Msg("session created")

	return sess.SessionID, nil
}

// Connect answers a ringing session. Valid only from Ringing.
func (e *Engine) Connect(sessionID string) error {
	ent, err := e.lookup(sessionID)
	if err != nil {
		return err
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()

	sess := ent.sess
	if sess.State != types.StateRinging {
		return &types.TransitionError{SessionID: sessionID, From: sess.State, Attempted: "connect"}
	}

	now := time.Now()
	sess.State = types.StateConnected
	sess.ConnectedAt = &now
	e.appendTransition(sess, types.StateConnected, "connected")

	if sess.AgentID != "" {
		if err := e.registry.SetStatus(sess.AgentID, types.StatusInCall); err != nil {
			e.logger.Warn().Err(err).Str("agent_id", sess.AgentID).Msg("agent status update failed on connect")
		}
	}

	e.publish(types.EventSessionStateChanged, sess)
	return nil
}

// SetHold toggles hold. Valid only while Connected; setting the current
// value again is a no-op.
func (e *Engine) SetHold(sessionID string, hold bool) error {
	return e.setFlag(sessionID, "hold", hold)
}

// SetMute toggles mute. Valid only while Connected; idempotent.
func (e *Engine) SetMute(sessionID string, mute bool) error {
	return e.setFlag(sessionID, "mute", mute)
}

// SetRecording toggles recording. Valid only while Connected; idempotent.
func (e *Engine) SetRecording(sessionID string, recording bool) error {
	return e.setFlag(sessionID, "recording", recording)
}

func (e *Engine) setFlag(sessionID, flag string, value bool) error {
	ent, err := e.lookup(sessionID)
	if err != nil {
		return err
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()

	sess := ent.sess
	if sess.State != types.StateConnected {
		return &types.TransitionError{SessionID: sessionID, From: sess.State, Attempted: "set " + flag}
	}

	label := flag + "_off"
	if value {
		label = flag + "_on"
	}

	switch flag {
	case "hold":
		if sess.OnHold == value {
			return nil
		}
		sess.OnHold = value
		now := time.Now()
		if value {
			ent.holdSince = &now
		} else if ent.holdSince != nil {
			sess.HoldTime += now.Sub(*ent.holdSince).Seconds()
			ent.holdSince = nil
		}
	case "mute":
		if sess.Muted == value {
			return nil
		}
		sess.Muted = value
	case "recording":
		if sess.Recording == value {
			return nil
		}
		sess.Recording = value
	}

	e.appendTransition(sess, sess.State, label)
	e.publish(types.EventSessionStateChanged, sess)
	return nil
}

// End terminates the call leg. From Connected the session enters WrapUp
// and the after-call-work timer starts; from Ringing (no answer, busy,
// failed) it closes directly. Ending a session already in WrapUp is a
// no-op; ending a Closed session fails with SessionClosed.
func (e *Engine) End(sessionID, reason string) error {
	ent, err := e.lookup(sessionID)
	if err != nil {
		return err
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()

	sess := ent.sess
	switch sess.State {
	case types.StateClosed:
		return &types.TransitionError{SessionID: sessionID, From: sess.State, Attempted: "end"}
	case types.StateWrapUp:
		return nil
	case types.StateRinging:
		// Never answered: no wrap-up, straight to closed.
		now := time.Now()
		sess.EndReason = reason
		sess.EndedAt = &now
		e.closeLocked(ent, "")
		return nil
	}

	now := time.Now()
	if sess.OnHold && ent.holdSince != nil {
		sess.HoldTime += now.Sub(*ent.holdSince).Seconds()
		ent.holdSince = nil
	}
	sess.OnHold = false
	sess.EndReason = reason
	sess.EndedAt = &now
	if sess.ConnectedAt != nil {
		sess.TalkTime = now.Sub(*sess.ConnectedAt).Seconds() - sess.HoldTime
		if sess.TalkTime < 0 {
			sess.TalkTime = 0
		}
	}
	sess.State = types.StateWrapUp
	e.appendTransition(sess, types.StateWrapUp, "wrap_up")

	if sess.AgentID != "" {
		if err := e.registry.SetStatus(sess.AgentID, types.StatusAfterCallWork); err != nil {
			e.logger.Warn().Err(err).Str("agent_id", sess.AgentID).Msg("agent status update failed on end")
		}
	}

	sid := sess.SessionID
	timer := time.AfterFunc(e.acw, func() {
		if err := e.ExpireWrapUp(sid); err != nil {
			e.logger.Debug().Err(err).Str("session_id", sid).Msg("acw expiry skipped")
		}
	})
	e.mu.Lock()
	e.timers[sid] = timer
	e.mu.Unlock()

	e.publish(types.EventSessionEnded, sess)

	e.logger.Debug().
		Str("session_id", sessionID).
		Str("reason", reason).
		Float64("talk_time", sess.TalkTime).
		Msg("session ended, wrap-up started")
	return nil
}

// CompleteWrapUp finishes after-call work manually. Valid only from WrapUp.
func (e *Engine) CompleteWrapUp(sessionID, disposition, notes string, tags []string) error {
	ent, err := e.lookup(sessionID)
	if err != nil {
		return err
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()

	sess := ent.sess
	if sess.State != types.StateWrapUp {
		return &types.TransitionError{SessionID: sessionID, From: sess.State, Attempted: "complete wrap-up"}
	}

	sess.Disposition = disposition
	sess.Notes = notes
	sess.Tags = tags
	e.closeLocked(ent, "wrap_up_completed")
	return nil
}

// ExpireWrapUp closes a session whose ACW window elapsed without manual
// completion. Invoked by the per-session timer; fires at most once and
// never after a manual completion.
func (e *Engine) ExpireWrapUp(sessionID string) error {
	ent, err := e.lookup(sessionID)
	if err != nil {
		return err
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()

	sess := ent.sess
	if sess.State != types.StateWrapUp {
		return &types.TransitionError{SessionID: sessionID, From: sess.State, Attempted: "expire wrap-up"}
	}

	sess.AutoCompleted = true
	e.closeLocked(ent, "wrap_up_expired")
	return nil
}

// closeLocked transitions to Closed, releases the agent, and archives.
// Caller holds ent.mu.
func (e *Engine) closeLocked(ent *entry, label string) {
	sess := ent.sess
	now := time.Now()
	sess.State = types.StateClosed
	sess.ClosedAt = &now
	if label == "" {
		label = "closed"
	}
	e.appendTransition(sess, types.StateClosed, label)

	e.mu.Lock()
	if timer, ok := e.timers[sess.SessionID]; ok {
		timer.Stop()
		delete(e.timers, sess.SessionID)
	}
	e.mu.Unlock()

	if sess.AgentID != "" {
		if err := e.registry.SetStatus(sess.AgentID, types.StatusIdle); err != nil {
			e.logger.Warn().Err(err).Str("agent_id", sess.AgentID).Msg("agent release failed on close")
		}
	}

	e.publish(types.EventSessionClosed, sess)
	e.archive(*sess)
	metrics.Get().RecordSessionClosed(sess.AutoCompleted)

	e.logger.Debug().
		Str("session_id", sess.SessionID).
		Str("disposition", sess.Disposition).
		Bool("auto_completed", sess.AutoCompleted).
		Msg("session closed")
}

// ReassignAgent atomically hands a connected session to another agent and
// appends the transfer record. Used by the transfer coordinator.
func (e *Engine) ReassignAgent(sessionID, toAgent string, rec types.TransferRecord) error {
	ent, err := e.lookup(sessionID)
	if err != nil {
		return err
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()

	sess := ent.sess
	if sess.State != types.StateConnected {
		return &types.TransitionError{SessionID: sessionID, From: sess.State, Attempted: "transfer"}
	}

	now := time.Now()
	if sess.OnHold && ent.holdSince != nil {
		sess.HoldTime += now.Sub(*ent.holdSince).Seconds()
		ent.holdSince = nil
	}
	sess.OnHold = false
	sess.AgentID = toAgent
	sess.Transfers = append(sess.Transfers, rec)
	e.appendTransition(sess, sess.State, "transferred")

	e.publish(types.EventTransferCompleted, sess)
	return nil
}

// JoinConference merges an additional agent into a connected session,
// clearing hold and appending the transfer record. The original agent
// stays on the call.
func (e *Engine) JoinConference(sessionID, agentID string, rec types.TransferRecord) error {
	ent, err := e.lookup(sessionID)
	if err != nil {
		return err
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()

	sess := ent.sess
	if sess.State != types.StateConnected {
		return &types.TransitionError{SessionID: sessionID, From: sess.State, Attempted: "conference join"}
	}

	now := time.Now()
	if sess.OnHold && ent.holdSince != nil {
		sess.HoldTime += now.Sub(*ent.holdSince).Seconds()
		ent.holdSince = nil
	}
	sess.OnHold = false
	sess.Participants = append(sess.Participants, agentID)
	sess.Transfers = append(sess.Transfers, rec)
	e.appendTransition(sess, sess.State, "conference_join")

	e.publish(types.EventTransferCompleted, sess)
	return nil
}

// LeaveConference removes a merged participant from a connected session
func (e *Engine) LeaveConference(sessionID, agentID string) error {
	ent, err := e.lookup(sessionID)
	if err != nil {
		return err
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()

	sess := ent.sess
	if sess.State != types.StateConnected {
		return &types.TransitionError{SessionID: sessionID, From: sess.State, Attempted: "conference leave"}
	}
	for i, p := range sess.Participants {
		if p == agentID {
			sess.Participants = append(sess.Participants[:i], sess.Participants[i+1:]...)
			e.appendTransition(sess, sess.State, "conference_leave")
			e.publish(types.EventSessionStateChanged, sess)
			return nil
		}
	}
	return types.ErrAgentNotFound
}

// DetachToQueue returns a connected session to Ringing with no agent so
// the router can reassign it, appending the transfer record. Used by the
// transfer coordinator for cold transfers to a queue.
func (e *Engine) DetachToQueue(sessionID, queueID string, rec types.TransferRecord) error {
	ent, err := e.lookup(sessionID)
	if err != nil {
		return err
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()

	sess := ent.sess
	if sess.State != types.StateConnected {
		return &types.TransitionError{SessionID: sessionID, From: sess.State, Attempted: "requeue"}
	}

	now := time.Now()
	if sess.OnHold && ent.holdSince != nil {
		sess.HoldTime += now.Sub(*ent.holdSince).Seconds()
		ent.holdSince = nil
	}
	sess.OnHold = false
	sess.AgentID = ""
	sess.QueueID = queueID
	sess.State = types.StateRinging
	sess.ConnectedAt = nil
	sess.Transfers = append(sess.Transfers, rec)
	e.appendTransition(sess, types.StateRinging, "requeued")

	e.publish(types.EventSessionStateChanged, sess)
	return nil
}

// AssignAgent attaches an agent to a ringing, unassigned session. Used by
// the router when a requeued session is matched again.
func (e *Engine) AssignAgent(sessionID, agentID string) error {
	ent, err := e.lookup(sessionID)
	if err != nil {
		return err
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()

	sess := ent.sess
	if sess.State != types.StateRinging || sess.AgentID != "" {
		return &types.TransitionError{SessionID: sessionID, From: sess.State, Attempted: "assign"}
	}
	sess.AgentID = agentID
	e.appendTransition(sess, sess.State, "assigned")
	e.publish(types.EventSessionStateChanged, sess)
	return nil
}

// GetSession returns a copy of a session's current state
func (e *Engine) GetSession(sessionID string) (types.CallSession, error) {
	ent, err := e.lookup(sessionID)
	if err != nil {
		return types.CallSession{}, err
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return copySession(ent.sess), nil
}

// IsConnected reports whether a session is currently Connected
func (e *Engine) IsConnected(sessionID string) bool {
	ent, err := e.lookup(sessionID)
	if err != nil {
		return false
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.sess.State == types.StateConnected
}

// ActiveSessions returns copies of all non-terminal sessions
func (e *Engine) ActiveSessions() []types.CallSession {
	e.mu.RLock()
	entries := make([]*entry, 0, len(e.sessions))
	for _, ent := range e.sessions {
		entries = append(entries, ent)
	}
	e.mu.RUnlock()

	active := make([]types.CallSession, 0, len(entries))
	for _, ent := range entries {
		ent.mu.Lock()
		if !ent.sess.State.Terminal() {
			active = append(active, copySession(ent.sess))
		}
		ent.mu.Unlock()
	}
	return active
}

func (e *Engine) lookup(sessionID string) (*entry, error) {
	e.mu.RLock()
	ent, ok := e.sessions[sessionID]
	_, archived := e.closed[sessionID]
	e.mu.RUnlock()
	if ok {
		return ent, nil
	}
	if archived {
		return nil, fmt.Errorf("session %s: %w", sessionID, types.ErrSessionClosed)
	}
	return nil, types.ErrSessionNotFound
}

// evict drops an archived session from the in-memory map. The id stays
// behind as a tombstone so later operations fail with SessionClosed
// rather than SessionNotFound.
func (e *Engine) evict(sessionID string) {
	e.mu.Lock()
	delete(e.sessions, sessionID)
	e.closed[sessionID] = struct{}{}
	e.mu.Unlock()

	e.logger.Debug().Str("session_id", sessionID).Msg("archived session evicted")
}

// appendTransition stamps the next sequence number and appends to the
// immutable transition log. Caller holds the session lock.
func (e *Engine) appendTransition(sess *types.CallSession, state types.CallState, label string) {
	sess.Seq++
	sess.Transitions = append(sess.Transitions, types.Transition{
		Seq:   sess.Seq,
		State: state,
		Label: label,
		At:    time.Now(),
	})
}

// publish emits a bus event for the session's latest transition. Caller
// holds the session lock, which preserves per-session event order.
func (e *Engine) publish(eventType types.EventType, sess *types.CallSession) {
	if e.bus == nil {
		return
	}
	evt := types.Event{
		Type:     eventType,
		EntityID: sess.SessionID,
		State:    string(sess.State),
		Seq:      sess.Seq,
	}
	if eventType == types.EventSessionClosed {
		// Closed sessions carry their full record so downstream
		// consumers don't race the post-archive eviction.
		evt.Payload = copySession(sess)
	}
	e.bus.Publish(evt)
}

// archive persists a closed session asynchronously and evicts it from
// memory once the write succeeds. A write failure puts the engine in
// degraded mode: new sessions are refused, in-flight ones continue in
// memory.
func (e *Engine) archive(sess types.CallSession) {
	if e.store == nil {
		return
	}
	record := sessionToRecord(&sess)
	transitions := transitionsToRecords(&sess)

	go func() {
		if err := e.store.SaveSessionRecord(record); err != nil {
			e.enterDegraded(sess.SessionID, err)
			return
		}
		if err := e.store.SaveTransitions(transitions); err != nil {
			e.enterDegraded(sess.SessionID, err)
			return
		}
		e.evict(sess.SessionID)
	}()
}

func (e *Engine) enterDegraded(sessionID string, err error) {
	e.logger.Error().Err(err).Str("session_id", sessionID).Msg("archive failed, entering degraded mode")
	metrics.Get().RecordSessionError()
	if !e.degraded.Swap(true) && e.bus != nil {
		e.bus.Publish(types.Event{
			Type:     types.EventDegradedMode,
			EntityID: sessionID,
		})
	}
}

func copySession(sess *types.CallSession) types.CallSession {
	out := *sess
	out.Tags = append([]string(nil), sess.Tags...)
	out.Participants = append([]string(nil), sess.Participants...)
	out.Transfers = append([]types.TransferRecord(nil), sess.Transfers...)
	out.Transitions = append([]types.Transition(nil), sess.Transitions...)
	return out
}

// sessionToRecord converts a closed session to its persistence record
func sessionToRecord(sess *types.CallSession) types.SessionRecord {
	record := types.SessionRecord{
		DateKey:       sess.CreatedAt.Format("2006-01-02"),
		SessionID:     sess.SessionID,
		QueueID:       sess.QueueID,
		AgentID:       sess.AgentID,
		Direction:     string(sess.Direction),
		From:          sess.From,
		To:            sess.To,
		CreatedAt:     sess.CreatedAt.Format(time.RFC3339),
		TalkTime:      sess.TalkTime,
		HoldTime:      sess.HoldTime,
		EndReason:     sess.EndReason,
		Disposition:   sess.Disposition,
		AutoCompleted: sess.AutoCompleted,
		Answered:      sess.ConnectedAt != nil,
		TransferCount: len(sess.Transfers),
	}
	if sess.ConnectedAt != nil {
		record.ConnectedAt = sess.ConnectedAt.Format(time.RFC3339)
	}
	if sess.EndedAt != nil {
		record.EndedAt = sess.EndedAt.Format(time.RFC3339)
	}
	if sess.ClosedAt != nil {
		record.ClosedAt = sess.ClosedAt.Format(time.RFC3339)
		if sess.EndedAt != nil {
			record.WrapTime = sess.ClosedAt.Sub(*sess.EndedAt).Seconds()
		}
	}
	return record
}

func transitionsToRecords(sess *types.CallSession) []types.TransitionRecord {
	records := make([]types.TransitionRecord, 0, len(sess.Transitions))
	for _, tr := range sess.Transitions {
		records = append(records, types.TransitionRecord{
			SessionID: sess.SessionID,
			Seq:       tr.Seq,
			State:     string(tr.State),
			Label:     tr.Label,
			At:        tr.At.Format(time.RFC3339Nano),
		})
	}
	return records
}
