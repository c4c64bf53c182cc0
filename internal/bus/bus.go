package bus

import (
	"sync"
	"time"

	"github.com/dialgrid/callcore/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Subscription is one subscriber's ordered event feed. Events for a given
// entity arrive in transition order; cross-entity ordering is not guaranteed.
// A subscriber that falls behind receives a single Backpressure event and
// the channel is closed; it must resubscribe and resync from snapshots.
type Subscription struct {
	ID string
	C  <-chan types.Event

	ch chan types.Event
}

// Bus fans out state-transition events to subscribers
type Bus struct {
	subs   map[string]*Subscription
	buffer int
	mu     sync.RWMutex
	logger zerolog.Logger
}

// New creates a new Bus. buffer is the per-subscriber channel capacity.
func New(buffer int, logger zerolog.Logger) *Bus {
	if buffer <= 0 {
		buffer = 256
	}
	return &Bus{
		subs:   make(map[string]*Subscription),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers a new subscriber and returns its feed
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{
		ID: uuid.New().String(),
		ch: make(chan types.Event, b.buffer),
	}
	sub.C = sub.ch

	b.mu.Lock()
	b.subs[sub.ID] = sub
	total := len(b.subs)
	b.mu.Unlock()

	b.logger.Debug().
		Str("subscriber_id", sub.ID).
		Int("total_subscribers", total).
		Msg("subscriber registered")
	return sub
}

// Unsubscribe removes a subscriber and closes its channel
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
		close(sub.ch)
	}
	b.mu.Unlock()

	if ok {
		b.logger.Debug().Str("subscriber_id", id).Msg("subscriber removed")
	}
}

// Publish delivers an event to every subscriber. Callers publish while
// holding the entity's serialization, which preserves per-entity order.
// A subscriber whose buffer is full is evicted: it gets a final
// Backpressure event once it drains, then its channel closes.
func (b *Bus) Publish(evt types.Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.Lock()
	for id, sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			delete(b.subs, id)
			b.logger.Warn().
				Str("subscriber_id", id).
				Str("event_type", string(evt.Type)).
				Msg("subscriber buffer full, evicting")
			go func(s *Subscription) {
				// Deliver once the subscriber drains; give up on dead readers.
				select {
				case s.ch <- types.Event{Type: types.EventBackpressure, Timestamp: time.Now()}:
				case <-time.After(5 * time.Second):
				}
				close(s.ch)
			}(sub)
		}
	}
	b.mu.Unlock()
}

// SubscriberCount returns the number of active subscribers
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
