package types

import "time"

// EventType identifies a state-transition event on the bus
type EventType string

const (
	EventSessionCreated       EventType = "session_created"
	EventSessionStateChanged  EventType = "session_state_changed"
	EventSessionEnded         EventType = "session_ended"
	EventSessionClosed        EventType = "session_closed"
	EventQueuePositionChanged EventType = "queue_position_changed"
	EventAgentPresenceChanged EventType = "agent_presence_changed"
	EventTransferCompleted    EventType = "transfer_completed"
	EventMonitoringStarted    EventType = "monitoring_started"
	EventMonitoringStopped    EventType = "monitoring_stopped"
	EventBackpressure         EventType = "backpressure"
	EventDegradedMode         EventType = "degraded_mode"
)

// Event is the unit of fan-out on the event bus. Events for one entity
// are delivered to a given subscriber in transition order; cross-entity
// ordering is not guaranteed.
type Event struct {
	Type      EventType `json:"type"`
	EntityID  string    `json:"entityId"`
	State     string    `json:"state,omitempty"`
	Seq       uint64    `json:"seq,omitempty"` // per-session transition sequence
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// QueuePosition is the payload of EventQueuePositionChanged
type QueuePosition struct {
	QueueID   string `json:"queueId"`
	RequestID string `json:"requestId"`
	Position  int    `json:"position"` // -1 when removed from the queue
}

// PresenceChange is the payload of EventAgentPresenceChanged
type PresenceChange struct {
	AgentID  string      `json:"agentId"`
	Presence Presence    `json:"presence"`
	Status   AgentStatus `json:"status"`
}
