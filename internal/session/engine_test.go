package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dialgrid/callcore/internal/bus"
	"github.com/dialgrid/callcore/internal/presence"
	"github.com/dialgrid/callcore/internal/types"
	"github.com/rs/zerolog"
)

func newTestEngine(acw time.Duration) (*Engine, *presence.Registry) {
	registry := presence.NewRegistry(nil, zerolog.Nop())
	engine := NewEngine(registry, nil, acw, zerolog.Nop())
	return engine, registry
}

func registerIdleAgent(r *presence.Registry, agentID string) {
	r.Register(agentID, agentID, []string{"billing"})
	r.SetPresence(agentID, types.PresenceAvailable)
}

func TestSessionLifecycle(t *testing.T) {
	engine, registry := newTestEngine(time.Hour)
	registerIdleAgent(registry, "agent-1")
	registry.SetStatus("agent-1", types.StatusRinging)

	id, err := engine.CreateSession(types.DirectionInbound, "+4915100000001", "support", "general", "agent-1")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	sess, _ := engine.GetSession(id)
	if sess.State != types.StateRinging {
		t.Fatalf("expected ringing, got %s", sess.State)
	}

	if err := engine.Connect(id); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	agent, _ := registry.Get("agent-1")
	if agent.Status != types.StatusInCall {
		t.Errorf("expected agent in_call, got %s", agent.Status)
	}

	if err := engine.End(id, "caller hung up"); err != nil {
		t.Fatalf("end failed: %v", err)
	}
	sess, _ = engine.GetSession(id)
	if sess.State != types.StateWrapUp {
		t.Fatalf("expected wrap_up, got %s", sess.State)
	}
	agent, _ = registry.Get("agent-1")
	if agent.Status != types.StatusAfterCallWork {
		t.Errorf("expected agent after_call_work, got %s", agent.Status)
	}

	if err := engine.CompleteWrapUp(id, "resolved", "refund issued", []string{"billing"}); err != nil {
		t.Fatalf("wrap-up failed: %v", err)
	}
	sess, _ = engine.GetSession(id)
	if sess.State != types.StateClosed {
		t.Fatalf("expected closed, got %s", sess.State)
	}
	if sess.Disposition != "resolved" {
		t.Errorf("expected disposition resolved, got %s", sess.Disposition)
	}
	agent, _ = registry.Get("agent-1")
	if agent.Status != types.StatusIdle {
		t.Errorf("expected agent idle after close, got %s", agent.Status)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	engine, _ := newTestEngine(time.Hour)

	if _, err := engine.CreateSession(types.DirectionInbound, "", "support", "", ""); !errors.Is(err, types.ErrInvalidEndpoint) {
		t.Errorf("expected ErrInvalidEndpoint for empty from, got %v", err)
	}
	if _, err := engine.CreateSession(types.DirectionInbound, "+49151", "", "", ""); !errors.Is(err, types.ErrInvalidEndpoint) {
		t.Errorf("expected ErrInvalidEndpoint for empty to, got %v", err)
	}
}

func TestEndFromRingingClosesDirectly(t *testing.T) {
	engine, _ := newTestEngine(time.Hour)

	id, _ := engine.CreateSession(types.DirectionInbound, "a", "b", "", "")
	if err := engine.End(id, "no answer"); err != nil {
		t.Fatalf("end from ringing failed: %v", err)
	}

	sess, _ := engine.GetSession(id)
	if sess.State != types.StateClosed {
		t.Fatalf("expected closed, got %s", sess.State)
	}
	// Never connected means no wrap-up window and no talk time
	if sess.TalkTime != 0 {
		t.Errorf("expected zero talk time, got %f", sess.TalkTime)
	}
}

func TestEndIsTerminalSafe(t *testing.T) {
	engine, _ := newTestEngine(time.Hour)

	id, _ := engine.CreateSession(types.DirectionInbound, "a", "b", "", "")
	engine.Connect(id)
	engine.End(id, "done")

	// End during wrap-up is a no-op
	if err := engine.End(id, "again"); err != nil {
		t.Fatalf("end during wrap-up should be a no-op, got %v", err)
	}

	engine.CompleteWrapUp(id, "", "", nil)

	// End after close fails with SessionClosed
	err := engine.End(id, "too late")
	if !errors.Is(err, types.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	var terr *types.TransitionError
	if !errors.As(err, &terr) || terr.From != types.StateClosed {
		t.Errorf("expected TransitionError from closed, got %v", err)
	}
}

func TestConnectRequiresRinging(t *testing.T) {
	engine, _ := newTestEngine(time.Hour)

	id, _ := engine.CreateSession(types.DirectionInbound, "a", "b", "", "")
	engine.Connect(id)

	if err := engine.Connect(id); !errors.Is(err, types.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on double connect, got %v", err)
	}
}

func TestHoldOnlyWhileConnected(t *testing.T) {
	engine, _ := newTestEngine(time.Hour)

	id, _ := engine.CreateSession(types.DirectionInbound, "a", "b", "", "")
	if err := engine.SetHold(id, true); !errors.Is(err, types.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition while ringing, got %v", err)
	}

	engine.Connect(id)
	if err := engine.SetHold(id, true); err != nil {
		t.Fatalf("hold failed: %v", err)
	}

	// Idempotent: setting hold again must not add a transition
	before, _ := engine.GetSession(id)
	if err := engine.SetHold(id, true); err != nil {
		t.Fatalf("repeated hold failed: %v", err)
	}
	after, _ := engine.GetSession(id)
	if after.Seq != before.Seq {
		t.Errorf("idempotent hold advanced seq from %d to %d", before.Seq, after.Seq)
	}

	if err := engine.SetHold(id, false); err != nil {
		t.Fatalf("unhold failed: %v", err)
	}
	sess, _ := engine.GetSession(id)
	if sess.OnHold {
		t.Error("expected hold cleared")
	}
}

func TestMuteAndRecordingFlags(t *testing.T) {
	engine, _ := newTestEngine(time.Hour)

	id, _ := engine.CreateSession(types.DirectionInbound, "a", "b", "", "")
	engine.Connect(id)

	if err := engine.SetMute(id, true); err != nil {
		t.Fatalf("mute failed: %v", err)
	}
	if err := engine.SetRecording(id, true); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	sess, _ := engine.GetSession(id)
	if !sess.Muted || !sess.Recording {
		t.Errorf("expected muted+recording, got muted=%v recording=%v", sess.Muted, sess.Recording)
	}
}

func TestWrapUpAutoExpiry(t *testing.T) {
	engine, registry := newTestEngine(30 * time.Millisecond)
	registerIdleAgent(registry, "agent-1")
	registry.SetStatus("agent-1", types.StatusRinging)

	id, _ := engine.CreateSession(types.DirectionInbound, "a", "b", "general", "agent-1")
	engine.Connect(id)
	engine.End(id, "done")

	deadline := time.Now().Add(2 * time.Second)
	for {
		sess, _ := engine.GetSession(id)
		if sess.State == types.StateClosed {
			if !sess.AutoCompleted {
				t.Error("expected auto-completed flag")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("wrap-up never expired")
		}
		time.Sleep(5 * time.Millisecond)
	}

	agent, _ := registry.Get("agent-1")
	if agent.Status != types.StatusIdle {
		t.Errorf("expected agent idle after expiry, got %s", agent.Status)
	}
}

func TestManualWrapUpBeatsTimer(t *testing.T) {
	engine, _ := newTestEngine(50 * time.Millisecond)

	id, _ := engine.CreateSession(types.DirectionInbound, "a", "b", "", "")
	engine.Connect(id)
	engine.End(id, "done")

	if err := engine.CompleteWrapUp(id, "resolved", "", nil); err != nil {
		t.Fatalf("wrap-up failed: %v", err)
	}

	// Give the timer a chance to fire; it must not overwrite the manual close
	time.Sleep(100 * time.Millisecond)
	sess, _ := engine.GetSession(id)
	if sess.AutoCompleted {
		t.Error("manual completion must not be marked auto-completed")
	}
	if sess.Disposition != "resolved" {
		t.Errorf("expected disposition preserved, got %s", sess.Disposition)
	}
}

func TestTransitionLogIsMonotonic(t *testing.T) {
	engine, _ := newTestEngine(time.Hour)

	id, _ := engine.CreateSession(types.DirectionInbound, "a", "b", "", "")
	engine.Connect(id)
	engine.SetHold(id, true)
	engine.SetHold(id, false)
	engine.End(id, "done")
	engine.CompleteWrapUp(id, "", "", nil)

	sess, _ := engine.GetSession(id)
	if len(sess.Transitions) < 6 {
		t.Fatalf("expected at least 6 transitions, got %d", len(sess.Transitions))
	}
	for i, tr := range sess.Transitions {
		if tr.Seq != uint64(i+1) {
			t.Fatalf("transition %d has seq %d", i, tr.Seq)
		}
		if i > 0 && tr.At.Before(sess.Transitions[i-1].At) {
			t.Fatalf("transition %d timestamp went backwards", i)
		}
	}
}

func TestDetachAndReassign(t *testing.T) {
	engine, registry := newTestEngine(time.Hour)
	registerIdleAgent(registry, "agent-1")
	registerIdleAgent(registry, "agent-2")
	registry.SetStatus("agent-1", types.StatusRinging)

	id, _ := engine.CreateSession(types.DirectionInbound, "a", "b", "q1", "agent-1")
	engine.Connect(id)

	rec := types.TransferRecord{Type: types.TransferCold, FromAgent: "agent-1", ToQueue: "q2"}
	if err := engine.DetachToQueue(id, "q2", rec); err != nil {
		t.Fatalf("detach failed: %v", err)
	}

	sess, _ := engine.GetSession(id)
	if sess.State != types.StateRinging || sess.AgentID != "" || sess.QueueID != "q2" {
		t.Fatalf("unexpected detached state: %s agent=%q queue=%q", sess.State, sess.AgentID, sess.QueueID)
	}
	if len(sess.Transfers) != 1 {
		t.Fatalf("expected 1 transfer record, got %d", len(sess.Transfers))
	}

	if err := engine.AssignAgent(id, "agent-2"); err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	// Double-assign must be rejected
	if err := engine.AssignAgent(id, "agent-1"); !errors.Is(err, types.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on double assign, got %v", err)
	}

	if err := engine.Connect(id); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}
	if !engine.IsConnected(id) {
		t.Error("expected session connected")
	}
}

func TestConferenceJoinAndLeave(t *testing.T) {
	engine, _ := newTestEngine(time.Hour)

	id, _ := engine.CreateSession(types.DirectionInbound, "a", "b", "", "agent-1")
	engine.Connect(id)

	rec := types.TransferRecord{Type: types.TransferWarm, FromAgent: "agent-1", ToAgent: "agent-2"}
	if err := engine.JoinConference(id, "agent-2", rec); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	sess, _ := engine.GetSession(id)
	if len(sess.Participants) != 1 || sess.Participants[0] != "agent-2" {
		t.Fatalf("unexpected participants: %v", sess.Participants)
	}
	if sess.AgentID != "agent-1" {
		t.Errorf("original agent must stay on the call, got %s", sess.AgentID)
	}

	if err := engine.LeaveConference(id, "agent-2"); err != nil {
		t.Fatalf("leave failed: %v", err)
	}
	if err := engine.LeaveConference(id, "agent-2"); !errors.Is(err, types.ErrAgentNotFound) {
		t.Errorf("expected ErrAgentNotFound for absent participant, got %v", err)
	}
}

func TestActiveSessionsExcludesClosed(t *testing.T) {
	engine, _ := newTestEngine(time.Hour)

	open, _ := engine.CreateSession(types.DirectionInbound, "a", "b", "", "")
	closed, _ := engine.CreateSession(types.DirectionInbound, "c", "d", "", "")
	engine.End(closed, "no answer")

	active := engine.ActiveSessions()
	if len(active) != 1 || active[0].SessionID != open {
		t.Fatalf("expected only the open session, got %v", active)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	engine, _ := newTestEngine(time.Hour)
	if _, err := engine.GetSession("missing"); !errors.Is(err, types.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

// failingStore always errors, simulating an unavailable archive backend
type failingStore struct{}

func (failingStore) SaveSessionRecord(types.SessionRecord) error  { return errors.New("dynamo down") }
func (failingStore) SaveTransitions([]types.TransitionRecord) error {
	return errors.New("dynamo down")
}

func TestDegradedModeOnArchiveFailure(t *testing.T) {
	engine, _ := newTestEngine(time.Hour)
	engine.SetStore(failingStore{})

	id, _ := engine.CreateSession(types.DirectionInbound, "a", "b", "", "")
	engine.End(id, "no answer")

	deadline := time.Now().Add(2 * time.Second)
	for !engine.Degraded() {
		if time.Now().After(deadline) {
			t.Fatal("engine never entered degraded mode")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// New sessions are refused while degraded; existing state is untouched
	if _, err := engine.CreateSession(types.DirectionInbound, "c", "d", "", ""); !errors.Is(err, types.ErrDegraded) {
		t.Errorf("expected ErrDegraded, got %v", err)
	}

	engine.ResetDegraded()
	if _, err := engine.CreateSession(types.DirectionInbound, "c", "d", "", ""); err != nil {
		t.Errorf("expected create to succeed after reset, got %v", err)
	}
}

func TestConcurrentSessionsIndependent(t *testing.T) {
	engine, _ := newTestEngine(time.Hour)

	const n = 20
	ids := make([]string, n)
	for i := range ids {
		id, err := engine.CreateSession(types.DirectionInbound, fmt.Sprintf("caller-%d", i), "support", "", "")
		if err != nil {
			t.Fatalf("create %d failed: %v", i, err)
		}
		ids[i] = id
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			engine.Connect(id)
			engine.SetHold(id, true)
			engine.SetHold(id, false)
			engine.End(id, "done")
			engine.CompleteWrapUp(id, "resolved", "", nil)
		}(id)
	}
	wg.Wait()

	for _, id := range ids {
		sess, _ := engine.GetSession(id)
		if sess.State != types.StateClosed {
			t.Errorf("session %s not closed: %s", id, sess.State)
		}
	}
}

func TestHoldTimeAccrual(t *testing.T) {
	engine, _ := newTestEngine(time.Hour)

	id, _ := engine.CreateSession(types.DirectionInbound, "a", "b", "", "")
	engine.Connect(id)
	engine.SetHold(id, true)
	time.Sleep(30 * time.Millisecond)
	engine.SetHold(id, false)

	sess, _ := engine.GetSession(id)
	if sess.HoldTime <= 0 {
		t.Errorf("expected positive hold time, got %f", sess.HoldTime)
	}

	engine.End(id, "done")
	ended, _ := engine.GetSession(id)
	if ended.TalkTime < 0 {
		t.Errorf("talk time went negative: %f", ended.TalkTime)
	}
}

// memStore captures archived records in memory
type memStore struct {
	mu      sync.Mutex
	records []types.SessionRecord
}

func (s *memStore) SaveSessionRecord(record types.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *memStore) SaveTransitions([]types.TransitionRecord) error { return nil }

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func TestArchivedSessionsEvictedFromMemory(t *testing.T) {
	engine, _ := newTestEngine(time.Hour)
	store := &memStore{}
	engine.SetStore(store)

	id, _ := engine.CreateSession(types.DirectionInbound, "a", "b", "", "")
	engine.Connect(id)
	engine.End(id, "done")
	engine.CompleteWrapUp(id, "resolved", "", nil)

	// The archive runs async; wait for the eviction that follows it
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := engine.GetSession(id); err != nil {
			if !errors.Is(err, types.ErrSessionClosed) {
				t.Fatalf("evicted session must report closed, got %v", err)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session never evicted after archive")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if store.count() != 1 {
		t.Errorf("expected 1 archived record, got %d", store.count())
	}
	if len(engine.ActiveSessions()) != 0 {
		t.Error("evicted session must not appear in active sessions")
	}

	// Closed stays distinguishable from never-existed
	if err := engine.End(id, "again"); !errors.Is(err, types.ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed on evicted session, got %v", err)
	}
	if err := engine.Connect("never-was"); !errors.Is(err, types.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound for unknown id, got %v", err)
	}
}

// publishOrder verifies per-session events arrive in seq order on the bus
func TestEventOrderPerSession(t *testing.T) {
	b := bus.New(64, zerolog.Nop())
	registry := presence.NewRegistry(nil, zerolog.Nop())
	engine := NewEngine(registry, b, time.Hour, zerolog.Nop())

	sub := b.Subscribe()

	id, _ := engine.CreateSession(types.DirectionInbound, "a", "b", "", "")
	engine.Connect(id)
	engine.SetMute(id, true)
	engine.End(id, "done")
	engine.CompleteWrapUp(id, "", "", nil)

	var last uint64
	for i := 0; i < 5; i++ {
		select {
		case evt := <-sub.C:
			if evt.EntityID != id {
				continue
			}
			if evt.Seq < last {
				t.Fatalf("event seq regressed: %d after %d", evt.Seq, last)
			}
			last = evt.Seq
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
}
