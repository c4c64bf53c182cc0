package stats

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dialgrid/callcore/internal/bus"
	"github.com/dialgrid/callcore/internal/types"
	"github.com/rs/zerolog"
)

type memStore struct {
	mu    sync.Mutex
	saved []types.AgentDailyStats
}

func (s *memStore) SaveAgentDailyStats(stats types.AgentDailyStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, stats)
	return nil
}

func (s *memStore) last() (types.AgentDailyStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saved) == 0 {
		return types.AgentDailyStats{}, false
	}
	return s.saved[len(s.saved)-1], true
}

func closedSession(agentID string, talk, hold, wrap float64, transfers int) types.CallSession {
	created := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	ended := created.Add(time.Duration(talk+hold) * time.Second)
	closed := ended.Add(time.Duration(wrap) * time.Second)
	sess := types.CallSession{
		SessionID: "sess-1",
		AgentID:   agentID,
		CreatedAt: created,
		EndedAt:   &ended,
		ClosedAt:  &closed,
		TalkTime:  talk,
		HoldTime:  hold,
	}
	for i := 0; i < transfers; i++ {
		sess.Transfers = append(sess.Transfers, types.TransferRecord{Type: types.TransferCold})
	}
	return sess
}

func TestRecordAggregates(t *testing.T) {
	store := &memStore{}
	tracker := NewDailyTracker(store, nil, zerolog.Nop())

	tracker.Record(closedSession("agent-1", 120, 30, 15, 1))
	tracker.Record(closedSession("agent-1", 60, 0, 25, 0))
	tracker.Flush()

	day, ok := store.last()
	if !ok {
		t.Fatal("expected a flushed aggregate")
	}
	if day.AgentID != "agent-1" || day.Date != "2025-06-02" {
		t.Errorf("unexpected key: %s/%s", day.AgentID, day.Date)
	}
	if day.TotalCalls != 2 {
		t.Errorf("expected 2 calls, got %d", day.TotalCalls)
	}
	if day.TotalTalkTime != 180 || day.TotalHoldTime != 30 || day.TotalWrapTime != 40 {
		t.Errorf("unexpected totals: talk=%f hold=%f wrap=%f", day.TotalTalkTime, day.TotalHoldTime, day.TotalWrapTime)
	}
	if day.TransferCount != 1 {
		t.Errorf("expected 1 transfer, got %d", day.TransferCount)
	}
	if day.AvgHandleTime != 125 {
		t.Errorf("expected AHT 125, got %f", day.AvgHandleTime)
	}
}

func TestRecordSkipsUnattributedSessions(t *testing.T) {
	store := &memStore{}
	tracker := NewDailyTracker(store, nil, zerolog.Nop())

	// Abandoned before an agent ever answered
	tracker.Record(closedSession("", 0, 0, 0, 0))

	// Still open
	open := closedSession("agent-1", 10, 0, 0, 0)
	open.ClosedAt = nil
	tracker.Record(open)

	tracker.Flush()
	if _, ok := store.last(); ok {
		t.Error("expected nothing flushed")
	}
}

func TestFlushOnlyWritesDirtyDays(t *testing.T) {
	store := &memStore{}
	tracker := NewDailyTracker(store, nil, zerolog.Nop())

	tracker.Record(closedSession("agent-1", 60, 0, 0, 0))
	tracker.Flush()
	tracker.Flush() // nothing new

	store.mu.Lock()
	n := len(store.saved)
	store.mu.Unlock()
	if n != 1 {
		t.Errorf("expected a single write, got %d", n)
	}
}

func TestStartConsumesClosedEvents(t *testing.T) {
	store := &memStore{}
	b := bus.New(64, zerolog.Nop())
	tracker := NewDailyTracker(store, b, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tracker.Start(ctx, 10*time.Millisecond)
		close(done)
	}()

	b.Publish(types.Event{
		Type:     types.EventSessionClosed,
		EntityID: "sess-1",
		Payload:  closedSession("agent-1", 90, 10, 20, 0),
	})

	deadline := time.Now().Add(2 * time.Second)
	for {
		if day, ok := store.last(); ok {
			if day.TotalCalls != 1 {
				t.Errorf("expected 1 call, got %d", day.TotalCalls)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("aggregate never flushed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("tracker did not stop on context cancel")
	}
}
