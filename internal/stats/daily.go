package stats

import (
	"context"
	"sync"
	"time"

	"github.com/dialgrid/callcore/internal/bus"
	"github.com/dialgrid/callcore/internal/types"
	"github.com/rs/zerolog"
)

// Store persists per-agent daily aggregates
type Store interface {
	SaveAgentDailyStats(stats types.AgentDailyStats) error
}

type dayKey struct {
	agentID string
	date    string
}

// DailyTracker accumulates per-agent handle-time aggregates from closed
// sessions and flushes them to the store periodically. Aggregates are
// keyed by (agent, date) so a flush is an idempotent upsert.
type DailyTracker struct {
	store  Store
	bus    *bus.Bus
	days   map[dayKey]*types.AgentDailyStats
	dirty  map[dayKey]bool
	mu     sync.Mutex
	logger zerolog.Logger
}

// NewDailyTracker creates a daily stats tracker
func NewDailyTracker(store Store, b *bus.Bus, logger zerolog.Logger) *DailyTracker {
	return &DailyTracker{
		store:  store,
		bus:    b,
		days:   make(map[dayKey]*types.AgentDailyStats),
		dirty:  make(map[dayKey]bool),
		logger: logger.With().Str("component", "daily_stats").Logger(),
	}
}

// Start consumes session-closed events and flushes aggregates on the
// given interval until the context is cancelled. A final flush runs on
// shutdown.
func (t *DailyTracker) Start(ctx context.Context, flushInterval time.Duration) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	sub := t.bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			t.Flush()
			return
		case event, ok := <-sub.C:
			if !ok {
				sub = t.bus.Subscribe()
				t.logger.Warn().Msg("event bus subscription closed, resubscribing")
				continue
			}
			if event.Type != types.EventSessionClosed {
				continue
			}
			if sess, ok := event.Payload.(types.CallSession); ok {
				t.Record(sess)
			}
		case <-ticker.C:
			t.Flush()
		}
	}
}

// Record folds a closed session into its agent's daily aggregate
func (t *DailyTracker) Record(sess types.CallSession) {
	if sess.AgentID == "" || sess.ClosedAt == nil {
		return
	}

	date := sess.CreatedAt.Format("2006-01-02")
	key := dayKey{agentID: sess.AgentID, date: date}

	var wrapSecs float64
	if sess.EndedAt != nil {
		wrapSecs = sess.ClosedAt.Sub(*sess.EndedAt).Seconds()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	day, ok := t.days[key]
	if !ok {
		day = &types.AgentDailyStats{AgentID: sess.AgentID, Date: date}
		t.days[key] = day
	}

	day.TotalCalls++
	day.TotalTalkTime += sess.TalkTime
	day.TotalHoldTime += sess.HoldTime
	day.TotalWrapTime += wrapSecs
	day.TransferCount += len(sess.Transfers)
	day.AvgHandleTime = (day.TotalTalkTime + day.TotalHoldTime + day.TotalWrapTime) / float64(day.TotalCalls)

	t.dirty[key] = true
}

// Flush writes every aggregate touched since the last flush
func (t *DailyTracker) Flush() {
	t.mu.Lock()
	pending := make([]types.AgentDailyStats, 0, len(t.dirty))
	for key := range t.dirty {
		pending = append(pending, *t.days[key])
		delete(t.dirty, key)
	}
	t.mu.Unlock()

	for _, day := range pending {
		if err := t.store.SaveAgentDailyStats(day); err != nil {
			t.logger.Error().Err(err).
				Str("agent_id", day.AgentID).
				Str("date", day.Date).
				Msg("failed to save daily stats")
		}
	}

	if len(pending) > 0 {
		t.logger.Debug().Int("flushed", len(pending)).Msg("daily stats flushed")
	}
}
