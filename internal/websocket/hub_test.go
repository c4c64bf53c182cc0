package websocket

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/dialgrid/callcore/internal/auth"
	"github.com/dialgrid/callcore/internal/bus"
	"github.com/dialgrid/callcore/internal/types"
	"github.com/rs/zerolog"
)

func TestNewHub(t *testing.T) {
	logger := zerolog.New(&bytes.Buffer{})
	hub := NewHub(logger)

	if hub == nil {
		t.Fatal("expected hub to be created")
	}

	if hub.clients == nil {
		t.Error("expected clients map to be initialized")
	}

	if hub.broadcast == nil {
		t.Error("expected broadcast channel to be initialized")
	}

	if hub.register == nil {
		t.Error("expected register channel to be initialized")
	}

	if hub.unregister == nil {
		t.Error("expected unregister channel to be initialized")
	}
}

func TestHubClientCount(t *testing.T) {
	logger := zerolog.New(&bytes.Buffer{})
	hub := NewHub(logger)

	// Initial count should be 0
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}

	// Simulate adding clients
	hub.mu.Lock()
	hub.clients[&Client{id: "test1"}] = true
	hub.clients[&Client{id: "test2"}] = true
	hub.mu.Unlock()

	if hub.ClientCount() != 2 {
		t.Errorf("expected 2 clients, got %d", hub.ClientCount())
	}
}

func TestHubRegisterUnregister(t *testing.T) {
	logger := zerolog.New(&bytes.Buffer{})
	hub := NewHub(logger)

	// Start hub in goroutine
	go hub.Run()

	// Create mock client
	client := &Client{
		id:   "test-client",
		hub:  hub,
		send: make(chan []byte, 1),
	}

	// Register client
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	if hub.ClientCount() != 1 {
		t.Errorf("expected 1 client after register, got %d", hub.ClientCount())
	}

	// Unregister client
	hub.unregister <- client
	time.Sleep(10 * time.Millisecond)

	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients after unregister, got %d", hub.ClientCount())
	}
}

func TestHubBroadcastToMultipleClients(t *testing.T) {
	logger := zerolog.New(&bytes.Buffer{})
	hub := NewHub(logger)

	// Start hub
	go hub.Run()

	// Create multiple mock clients
	client1 := &Client{
		id:   "client1",
		hub:  hub,
		send: make(chan []byte, 10),
	}

	client2 := &Client{
		id:   "client2",
		hub:  hub,
		send: make(chan []byte, 10),
	}

	// Register clients
	hub.register <- client1
	hub.register <- client2
	time.Sleep(10 * time.Millisecond)

	// Broadcast message
	message := []byte("test broadcast")
	hub.Broadcast(message)

	// Wait for message to be sent
	time.Sleep(10 * time.Millisecond)

	// Check both clients received the message
	select {
	case msg := <-client1.send:
		if string(msg) != string(message) {
			t.Errorf("client1 expected %s, got %s", message, msg)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("client1 did not receive message")
	}

	select {
	case msg := <-client2.send:
		if string(msg) != string(message) {
			t.Errorf("client2 expected %s, got %s", message, msg)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("client2 did not receive message")
	}
}

func TestHubFiltersMonitoringEvents(t *testing.T) {
	logger := zerolog.New(&bytes.Buffer{})
	hub := NewHub(logger)

	go hub.Run()

	supervisor := &Client{
		id:   "supervisor",
		hub:  hub,
		send: make(chan []byte, 10),
		claims: &auth.Claims{
			Role:         "supervisor",
			Capabilities: auth.CapabilitiesForRole("supervisor"),
		},
	}
	agent := &Client{
		id:   "agent",
		hub:  hub,
		send: make(chan []byte, 10),
		claims: &auth.Claims{
			Role: "agent",
		},
	}

	hub.register <- supervisor
	hub.register <- agent
	time.Sleep(10 * time.Millisecond)

	monitoring, _ := json.Marshal(types.Event{Type: types.EventMonitoringStarted, EntityID: "mon-1"})
	hub.Broadcast(monitoring)
	time.Sleep(10 * time.Millisecond)

	select {
	case <-supervisor.send:
	case <-time.After(100 * time.Millisecond):
		t.Error("supervisor did not receive monitoring event")
	}
	select {
	case msg := <-agent.send:
		t.Errorf("agent must not receive monitoring events, got %s", msg)
	default:
	}

	// Session events reach everyone
	sessionEvent, _ := json.Marshal(types.Event{Type: types.EventSessionStateChanged, EntityID: "sess-1"})
	hub.Broadcast(sessionEvent)
	time.Sleep(10 * time.Millisecond)

	for _, c := range []*Client{supervisor, agent} {
		select {
		case <-c.send:
		case <-time.After(100 * time.Millisecond):
			t.Errorf("client %s did not receive session event", c.id)
		}
	}
}

func TestHubEvictsSlowClient(t *testing.T) {
	logger := zerolog.New(&bytes.Buffer{})
	hub := NewHub(logger)

	go hub.Run()

	slow := &Client{
		id:   "slow",
		hub:  hub,
		send: make(chan []byte, 1),
	}
	hub.register <- slow
	time.Sleep(10 * time.Millisecond)

	hub.Broadcast([]byte("one"))
	hub.Broadcast([]byte("two"))
	time.Sleep(20 * time.Millisecond)

	if hub.ClientCount() != 0 {
		t.Errorf("expected slow client evicted, got %d clients", hub.ClientCount())
	}
}

func TestHubConsumeEvents(t *testing.T) {
	logger := zerolog.New(&bytes.Buffer{})
	hub := NewHub(logger)
	b := bus.New(64, zerolog.Nop())

	go hub.Run()
	go hub.ConsumeEvents(b)

	client := &Client{
		id:   "client1",
		hub:  hub,
		send: make(chan []byte, 10),
	}
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	b.Publish(types.Event{Type: types.EventSessionCreated, EntityID: "sess-1"})

	select {
	case msg := <-client.send:
		var event types.Event
		if err := json.Unmarshal(msg, &event); err != nil {
			t.Fatalf("invalid event payload: %v", err)
		}
		if event.Type != types.EventSessionCreated || event.EntityID != "sess-1" {
			t.Errorf("unexpected event: %+v", event)
		}
	case <-time.After(time.Second):
		t.Error("client did not receive bus event")
	}
}
