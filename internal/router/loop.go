package router

import (
	"context"
	"time"

	"github.com/dialgrid/callcore/internal/bus"
	"github.com/dialgrid/callcore/internal/types"
	"github.com/rs/zerolog"
)

// Loop drives assignment passes. A pass runs on a periodic sweep, on
// every coalesced kick from Enqueue, and whenever an agent returns to
// Idle (observed via the event bus).
type Loop struct {
	mgr      *Manager
	bus      *bus.Bus
	interval time.Duration
	logger   zerolog.Logger
}

// NewLoop creates a new routing loop
func NewLoop(mgr *Manager, b *bus.Bus, interval time.Duration, logger zerolog.Logger) *Loop {
	if interval <= 0 {
		interval = time.Second
	}
	return &Loop{
		mgr:      mgr,
		bus:      b,
		interval: interval,
		logger:   logger.With().Str("component", "routing_loop").Logger(),
	}
}

// Start runs the loop until the context is cancelled
func (l *Loop) Start(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	var events <-chan types.Event
	var subID string
	if l.bus != nil {
		sub := l.bus.Subscribe()
		events = sub.C
		subID = sub.ID
		defer func() { l.bus.Unsubscribe(subID) }()
	}

	l.logger.Info().Dur("interval", l.interval).Msg("routing loop started")

	for {
		select {
		case <-ctx.Done():
			l.logger.Info().Msg("routing loop stopped")
			return

		case <-ticker.C:
			l.tick()

		case <-l.mgr.KickC():
			l.tick()

		case evt, ok := <-events:
			if !ok {
				// Evicted for backpressure; resubscribe.
				sub := l.bus.Subscribe()
				events = sub.C
				subID = sub.ID
				l.tick()
				continue
			}
			if evt.Type == types.EventAgentPresenceChanged && evt.State == string(types.StatusIdle) {
				l.tick()
			}
		}
	}
}

// tick performs a single routing pass over all queues
func (l *Loop) tick() {
	matches := l.mgr.TickRouting()
	for _, match := range matches {
		l.logger.Debug().
			Str("session_id", match.SessionID).
			Str("agent_id", match.AgentID).
			Str("queue_id", match.QueueID).
			Float64("wait_time", match.WaitSecs).
			Msg("routed")
	}
}
