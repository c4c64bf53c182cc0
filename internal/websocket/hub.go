package websocket

import (
	"encoding/json"
	"sync"

	"github.com/dialgrid/callcore/internal/bus"
	"github.com/dialgrid/callcore/internal/metrics"
	"github.com/dialgrid/callcore/internal/types"
	"github.com/rs/zerolog"
)

// Hub maintains the set of active clients and broadcasts events to the clients
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Inbound messages from the clients
	broadcast chan []byte

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Mutex to protect clients map
	mu sync.RWMutex

	// Logger
	logger zerolog.Logger
}

// NewHub creates a new Hub
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		logger:     logger,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			metrics.Get().RecordWebSocketConnect()
			h.logger.Info().
				Str("client_id", client.id).
				Int("total_clients", h.ClientCount()).
				Msg("client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				metrics.Get().RecordWebSocketDisconnect()
				h.logger.Info().
					Str("client_id", client.id).
					Int("total_clients", len(h.clients)).
					Msg("client disconnected")
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			// Try to parse as an Event for per-client filtering
			var event types.Event
			if err := json.Unmarshal(message, &event); err != nil {
				// Not an event, broadcast as-is to all clients
				h.broadcastRaw(message)
				continue
			}

			h.broadcastFiltered(&event, message)
		}
	}
}

// ConsumeEvents subscribes to the event bus and forwards every event to
// connected clients. If the subscription channel is closed (the bus evicted
// us as a slow consumer) it resubscribes and keeps going.
func (h *Hub) ConsumeEvents(b *bus.Bus) {
	for {
		sub := b.Subscribe()
		for event := range sub.C {
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error().Err(err).Msg("failed to marshal event")
				continue
			}
			h.Broadcast(data)
		}
		h.logger.Warn().Msg("event bus subscription closed, resubscribing")
	}
}

// Broadcast sends a message to all connected clients
func (h *Hub) Broadcast(message []byte) {
	h.broadcast <- message
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// broadcastRaw sends a raw message to all clients without filtering
func (h *Hub) broadcastRaw(message []byte) {
	var evicted []*Client
	h.mu.RLock()
	for client := range h.clients {
		if !trySend(client, message) {
			evicted = append(evicted, client)
		}
	}
	h.mu.RUnlock()
	h.evict(evicted)
}

// broadcastFiltered sends an event to each client that is allowed to see it
func (h *Hub) broadcastFiltered(event *types.Event, message []byte) {
	var evicted []*Client
	h.mu.RLock()
	for client := range h.clients {
		if !client.CanSee(event) {
			continue
		}
		if !trySend(client, message) {
			evicted = append(evicted, client)
		}
	}
	h.mu.RUnlock()
	h.evict(evicted)
}

// trySend queues a message on a client's buffer. Returns false when the
// buffer is full; the caller must evict the client.
func trySend(client *Client, message []byte) bool {
	select {
	case client.send <- message:
		metrics.Get().RecordWebSocketMessage()
		return true
	default:
		return false
	}
}

// evict closes and removes clients that could not keep up. Takes the
// write lock, so callers must have released h.mu.
func (h *Hub) evict(clients []*Client) {
	if len(clients) == 0 {
		return
	}
	h.mu.Lock()
	for _, client := range clients {
		if _, ok := h.clients[client]; !ok {
			continue
		}
		delete(h.clients, client)
		close(client.send)
		metrics.Get().RecordWebSocketDisconnect()
		h.logger.Warn().
			Str("client_id", client.id).
			Msg("client send buffer full, closing connection")
	}
	h.mu.Unlock()
}
