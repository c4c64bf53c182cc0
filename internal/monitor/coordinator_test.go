package monitor

import (
	"errors"
	"testing"
	"time"

	"github.com/dialgrid/callcore/internal/bus"
	"github.com/dialgrid/callcore/internal/types"
	"github.com/rs/zerolog"
)

// stubChecker marks a fixed set of sessions as connected
type stubChecker struct {
	connected map[string]bool
}

func (s *stubChecker) IsConnected(sessionID string) bool {
	return s.connected[sessionID]
}

var allModes = []types.MonitorMode{types.MonitorListen, types.MonitorWhisper, types.MonitorBarge}

func newTestCoordinator(connected ...string) *Coordinator {
	checker := &stubChecker{connected: make(map[string]bool)}
	for _, id := range connected {
		checker.connected[id] = true
	}
	return NewCoordinator(checker, nil, zerolog.Nop())
}

func TestStartAndStopMonitoring(t *testing.T) {
	c := newTestCoordinator("sess-1")

	id, err := c.StartMonitoring("sup-1", "sess-1", types.MonitorListen, allModes)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	ms, err := c.Get(id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !ms.Active || ms.Mode != types.MonitorListen || ms.SupervisorID != "sup-1" {
		t.Errorf("unexpected session: %+v", ms)
	}

	if err := c.StopMonitoring(id); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	ms, _ = c.Get(id)
	if ms.Active || ms.EndedAt == nil {
		t.Errorf("expected inactive with end time, got %+v", ms)
	}

	if err := c.StopMonitoring(id); !errors.Is(err, types.ErrMonitoringNotFound) {
		t.Errorf("expected ErrMonitoringNotFound on double stop, got %v", err)
	}
}

func TestStartRequiresConnectedSession(t *testing.T) {
	c := newTestCoordinator()

	if _, err := c.StartMonitoring("sup-1", "sess-1", types.MonitorListen, allModes); !errors.Is(err, types.ErrSessionNotActive) {
		t.Errorf("expected ErrSessionNotActive, got %v", err)
	}
}

func TestStartRequiresCapability(t *testing.T) {
	c := newTestCoordinator("sess-1")
	leadCaps := []types.MonitorMode{types.MonitorListen, types.MonitorWhisper}

	if _, err := c.StartMonitoring("lead-1", "sess-1", types.MonitorBarge, leadCaps); !errors.Is(err, types.ErrPermissionDenied) {
		t.Errorf("expected ErrPermissionDenied for barge, got %v", err)
	}
	if _, err := c.StartMonitoring("lead-1", "sess-1", types.MonitorWhisper, leadCaps); err != nil {
		t.Errorf("whisper within capabilities failed: %v", err)
	}
	if _, err := c.StartMonitoring("viewer-1", "sess-1", types.MonitorListen, nil); !errors.Is(err, types.ErrPermissionDenied) {
		t.Errorf("expected ErrPermissionDenied with no capabilities, got %v", err)
	}
	if _, err := c.StartMonitoring("sup-1", "sess-1", "spy", allModes); !errors.Is(err, types.ErrPermissionDenied) {
		t.Errorf("expected ErrPermissionDenied for unknown mode, got %v", err)
	}
}

func TestPairDeduplication(t *testing.T) {
	c := newTestCoordinator("sess-1", "sess-2")

	first, _ := c.StartMonitoring("sup-1", "sess-1", types.MonitorListen, allModes)
	second, _ := c.StartMonitoring("sup-1", "sess-1", types.MonitorWhisper, allModes)
	if first != second {
		t.Errorf("same pair must return the existing monitoring id: %s vs %s", first, second)
	}

	// Different call or different supervisor is a new attachment
	other, _ := c.StartMonitoring("sup-1", "sess-2", types.MonitorListen, allModes)
	if other == first {
		t.Error("different call must get a new monitoring id")
	}
	peer, _ := c.StartMonitoring("sup-2", "sess-1", types.MonitorListen, allModes)
	if peer == first {
		t.Error("different supervisor must get a new monitoring id")
	}

	// Stopping frees the pair for a fresh attachment
	c.StopMonitoring(first)
	again, _ := c.StartMonitoring("sup-1", "sess-1", types.MonitorListen, allModes)
	if again == first {
		t.Error("stopped pair must produce a new monitoring id on restart")
	}
}

func TestEscalateMode(t *testing.T) {
	c := newTestCoordinator("sess-1")
	leadCaps := []types.MonitorMode{types.MonitorListen, types.MonitorWhisper}

	id, _ := c.StartMonitoring("lead-1", "sess-1", types.MonitorListen, leadCaps)

	if err := c.EscalateMode(id, types.MonitorWhisper, leadCaps); err != nil {
		t.Fatalf("escalate to whisper failed: %v", err)
	}
	ms, _ := c.Get(id)
	if ms.Mode != types.MonitorWhisper {
		t.Errorf("expected whisper, got %s", ms.Mode)
	}

	if err := c.EscalateMode(id, types.MonitorBarge, leadCaps); !errors.Is(err, types.ErrPermissionDenied) {
		t.Errorf("expected ErrPermissionDenied escalating past capabilities, got %v", err)
	}
	if err := c.EscalateMode("missing", types.MonitorWhisper, leadCaps); !errors.Is(err, types.ErrMonitoringNotFound) {
		t.Errorf("expected ErrMonitoringNotFound, got %v", err)
	}
}

func TestEscalateModeRejectsStepDown(t *testing.T) {
	c := newTestCoordinator("sess-1")

	id, _ := c.StartMonitoring("sup-1", "sess-1", types.MonitorBarge, allModes)

	if err := c.EscalateMode(id, types.MonitorListen, allModes); !errors.Is(err, types.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition stepping down, got %v", err)
	}
	ms, _ := c.Get(id)
	if ms.Mode != types.MonitorBarge {
		t.Errorf("rejected step-down must not change mode, got %s", ms.Mode)
	}

	// Re-asserting the current mode is allowed
	if err := c.EscalateMode(id, types.MonitorBarge, allModes); err != nil {
		t.Errorf("same-mode escalate must succeed, got %v", err)
	}
}

func TestActiveForCall(t *testing.T) {
	c := newTestCoordinator("sess-1", "sess-2")

	c.StartMonitoring("sup-1", "sess-1", types.MonitorListen, allModes)
	c.StartMonitoring("sup-2", "sess-1", types.MonitorWhisper, allModes)
	c.StartMonitoring("sup-1", "sess-2", types.MonitorListen, allModes)

	active := c.ActiveForCall("sess-1")
	if len(active) != 2 {
		t.Fatalf("expected 2 supervisors on sess-1, got %d", len(active))
	}
}

func TestStopAllForCall(t *testing.T) {
	c := newTestCoordinator("sess-1", "sess-2")

	c.StartMonitoring("sup-1", "sess-1", types.MonitorListen, allModes)
	c.StartMonitoring("sup-2", "sess-1", types.MonitorBarge, allModes)
	keep, _ := c.StartMonitoring("sup-1", "sess-2", types.MonitorListen, allModes)

	if n := c.StopAllForCall("sess-1"); n != 2 {
		t.Errorf("expected 2 stopped, got %d", n)
	}
	if len(c.ActiveForCall("sess-1")) != 0 {
		t.Error("expected no active supervisors on sess-1")
	}
	ms, _ := c.Get(keep)
	if !ms.Active {
		t.Error("monitoring on other calls must survive")
	}
}

func TestWatchStopsMonitoringOnClose(t *testing.T) {
	b := bus.New(64, zerolog.Nop())
	checker := &stubChecker{connected: map[string]bool{"sess-1": true}}
	c := NewCoordinator(checker, b, zerolog.Nop())
	go c.Watch()

	id, err := c.StartMonitoring("sup-1", "sess-1", types.MonitorListen, allModes)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	b.Publish(types.Event{Type: types.EventSessionClosed, EntityID: "sess-1"})

	deadline := time.Now().Add(2 * time.Second)
	for {
		ms, _ := c.Get(id)
		if !ms.Active {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("monitoring never stopped after session close")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
