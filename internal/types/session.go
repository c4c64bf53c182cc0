package types

import "time"

// CallState represents the lifecycle state of a call session
type CallState string

const (
	StateRinging   CallState = "ringing"
	StateConnected CallState = "connected"
	StateWrapUp    CallState = "wrap_up"
	StateClosed    CallState = "closed"
)

// Terminal reports whether the state admits no further transitions
func (s CallState) Terminal() bool {
	return s == StateClosed
}

// Direction represents the direction of a call
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// TransferType distinguishes consulted and blind transfers
type TransferType string

const (
	TransferWarm TransferType = "warm"
	TransferCold TransferType = "cold"
)

// TransferRecord is an append-only entry in a session's transfer history
type TransferRecord struct {
	Type      TransferType `json:"type"`
	FromAgent string       `json:"fromAgent"`
	ToAgent   string       `json:"toAgent,omitempty"` // empty when transferred to a queue
	ToQueue   string       `json:"toQueue,omitempty"`
	Reason    string       `json:"reason,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// Transition is one entry in a session's immutable transition log
type Transition struct {
	Seq   uint64    `json:"seq"` // monotonic per session
	State CallState `json:"state"`
	Label string    `json:"label"` // e.g. "connected", "hold_on", "wrap_up"
	At    time.Time `json:"at"`
}

// CallSession is the authoritative record of one call.
// Mutated exclusively by the session engine; immutable once Closed.
type CallSession struct {
	SessionID string    `json:"sessionId"`
	Direction Direction `json:"direction"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	QueueID   string    `json:"queueId,omitempty"`
	AgentID   string    `json:"agentId,omitempty"`

	State     CallState `json:"state"`
	OnHold    bool      `json:"onHold"`
	Muted     bool      `json:"muted"`
	Recording bool      `json:"recording"`

	CreatedAt   time.Time  `json:"createdAt"`
	ConnectedAt *time.Time `json:"connectedAt,omitempty"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
	ClosedAt    *time.Time `json:"closedAt,omitempty"`

	TalkTime float64 `json:"talkTime"` // seconds, excludes hold
	HoldTime float64 `json:"holdTime"` // seconds

	EndReason     string   `json:"endReason,omitempty"`
	Disposition   string   `json:"disposition,omitempty"`
	Notes         string   `json:"notes,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	AutoCompleted bool     `json:"autoCompleted"`

	// Participants holds extra agents merged in by a conference join;
	// AgentID stays the session's primary owner.
	Participants []string `json:"participants,omitempty"`

	Transfers   []TransferRecord `json:"transfers,omitempty"`
	Transitions []Transition     `json:"transitions,omitempty"`
	Seq         uint64           `json:"seq"` // last transition sequence number
}
