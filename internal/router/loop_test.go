package router

import (
	"context"
	"testing"
	"time"

	"github.com/dialgrid/callcore/internal/bus"
	"github.com/dialgrid/callcore/internal/presence"
	"github.com/dialgrid/callcore/internal/session"
	"github.com/dialgrid/callcore/internal/types"
	"github.com/rs/zerolog"
)

func TestLoopRoutesOnAgentIdle(t *testing.T) {
	b := bus.New(64, zerolog.Nop())
	registry := presence.NewRegistry(b, zerolog.Nop())
	engine := &stubEngine{}
	m := NewManager(registry, engine, b, zerolog.Nop())
	m.AddQueue(Config{QueueID: "support", Skills: []string{"billing"}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewLoop(m, b, time.Hour, zerolog.Nop()).Start(ctx)

	// Agent is busy when the call arrives
	registry.Register("agent-1", "agent-1", []string{"billing"})
	registry.SetPresence("agent-1", types.PresenceAvailable)
	registry.SetStatus("agent-1", types.StatusRinging)

	m.Enqueue("support", types.CallRequest{RequestID: "r1", From: "a", To: "b", Skills: []string{"billing"}})
	time.Sleep(50 * time.Millisecond)

	engine.mu.Lock()
	created := engine.created
	engine.mu.Unlock()
	if created != 0 {
		t.Fatal("request routed while no agent was idle")
	}

	// Agent hangs up and comes free; the loop should pick the call up
	// without waiting for the periodic sweep.
	registry.SetStatus("agent-1", types.StatusIdle)

	deadline := time.Now().Add(2 * time.Second)
	for {
		engine.mu.Lock()
		created = engine.created
		engine.mu.Unlock()
		if created == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("idle agent never triggered an assignment pass")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestSalesQueueScenario walks one call through the whole pipeline:
// enqueue, skill-matched assignment, answer, hold, hang-up, wrap-up.
func TestSalesQueueScenario(t *testing.T) {
	b := bus.New(256, zerolog.Nop())
	registry := presence.NewRegistry(b, zerolog.Nop())
	engine := session.NewEngine(registry, b, time.Hour, zerolog.Nop())
	m := NewManager(registry, engine, b, zerolog.Nop())
	m.AddQueue(Config{QueueID: "sales", Skills: []string{"sales"}, SLTarget: 80, SLThresholdSecs: 20})

	registry.Register("alice", "Alice", []string{"sales", "billing"})
	registry.SetPresence("alice", types.PresenceAvailable)

	pos, err := m.Enqueue("sales", types.CallRequest{From: "+4915100000001", To: "sales", Skills: []string{"sales"}, Priority: types.PriorityNormal})
	if err != nil || pos != 0 {
		t.Fatalf("enqueue failed: pos=%d err=%v", pos, err)
	}

	matches, _ := m.TryAssign("sales")
	if len(matches) != 1 || matches[0].AgentID != "alice" {
		t.Fatalf("expected alice assigned, got %+v", matches)
	}
	sessionID := matches[0].SessionID

	if err := engine.Connect(sessionID); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	agent, _ := registry.Get("alice")
	if agent.Status != types.StatusInCall || agent.ActiveSessionID != sessionID {
		t.Fatalf("unexpected agent state: %s/%s", agent.Status, agent.ActiveSessionID)
	}

	if err := engine.SetHold(sessionID, true); err != nil {
		t.Fatalf("hold failed: %v", err)
	}
	if err := engine.SetHold(sessionID, false); err != nil {
		t.Fatalf("unhold failed: %v", err)
	}

	if err := engine.End(sessionID, "caller hung up"); err != nil {
		t.Fatalf("end failed: %v", err)
	}
	if err := engine.CompleteWrapUp(sessionID, "sale_closed", "upgraded plan", []string{"sales"}); err != nil {
		t.Fatalf("wrap-up failed: %v", err)
	}

	sess, _ := engine.GetSession(sessionID)
	if sess.State != types.StateClosed || sess.Disposition != "sale_closed" {
		t.Fatalf("unexpected final session: %s/%s", sess.State, sess.Disposition)
	}

	agent, _ = registry.Get("alice")
	if agent.Status != types.StatusIdle {
		t.Errorf("expected alice idle again, got %s", agent.Status)
	}

	snap, _ := m.Snapshot("sales")
	if snap.AssignedCount != 1 || snap.WaitingCount != 0 {
		t.Errorf("unexpected queue counters: %+v", snap)
	}
	if snap.ServiceLevel.AnsweredInSL != 1 {
		t.Errorf("instant answer must count toward SL: %+v", snap.ServiceLevel)
	}
}
