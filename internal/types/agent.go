package types

import "time"

// Presence represents an agent's connectivity and availability
type Presence string

const (
	PresenceAvailable Presence = "available"
	PresenceBusy      Presence = "busy"
	PresenceAway      Presence = "away"
	PresenceOffline   Presence = "offline"
)

// AgentStatus represents where an agent is in the call-handling cycle
type AgentStatus string

const (
	StatusIdle          AgentStatus = "idle"
	StatusRinging       AgentStatus = "ringing"
	StatusInCall        AgentStatus = "in_call"
	StatusAfterCallWork AgentStatus = "after_call_work"
	StatusBreak         AgentStatus = "break"
)

// AllowedStatusTransitions defines the legal agent status cycle.
// Idle -> Ringing -> InCall -> AfterCallWork -> Idle, plus break from idle,
// release back to idle from ringing (no answer) and from in-call (handoff).
var AllowedStatusTransitions = map[AgentStatus][]AgentStatus{
	StatusIdle:          {StatusRinging, StatusBreak},
	StatusRinging:       {StatusInCall, StatusIdle},
	StatusInCall:        {StatusAfterCallWork, StatusIdle},
	StatusAfterCallWork: {StatusIdle},
	StatusBreak:         {StatusIdle},
}

// ConnectionStatus represents an agent endpoint's connection health
type ConnectionStatus string

const (
	ConnConnected    ConnectionStatus = "connected"
	ConnDisconnected ConnectionStatus = "disconnected"
	ConnStale        ConnectionStatus = "stale" // no heartbeat within threshold
)

// Agent is the registry's view of a single agent
type Agent struct {
	AgentID          string           `json:"agentId"`
	Name             string           `json:"name,omitempty"`
	Skills           []string         `json:"skills"`
	Presence         Presence         `json:"presence"`
	Status           AgentStatus      `json:"status"`
	ActiveSessionID  string           `json:"activeSessionId,omitempty"`
	StatusStart      time.Time        `json:"statusStart"` // when the current status began
	LastUpdate       time.Time        `json:"lastUpdate"`
	LastHeartbeat    time.Time        `json:"lastHeartbeat"`
	ConnectionStatus ConnectionStatus `json:"connectionStatus"`
}

// HasSkill reports whether the agent has the given skill
func (a *Agent) HasSkill(skill string) bool {
	for _, s := range a.Skills {
		if s == skill {
			return true
		}
	}
	return false
}

// SkillOverlap returns how many of the requested skills the agent has
func (a *Agent) SkillOverlap(skills []string) int {
	n := 0
	for _, s := range skills {
		if a.HasSkill(s) {
			n++
		}
	}
	return n
}

// AgentDailyStats represents an agent's daily aggregated stats for persistence
type AgentDailyStats struct {
	AgentID       string  `json:"agentId" dynamodbav:"AgentID"` // partition key
	Date          string  `json:"date" dynamodbav:"Date"`       // YYYY-MM-DD (sort key)
	TotalCalls    int     `json:"totalCalls" dynamodbav:"TotalCalls"`
	TotalTalkTime float64 `json:"totalTalkTime" dynamodbav:"TotalTalkTime"` // seconds
	TotalHoldTime float64 `json:"totalHoldTime" dynamodbav:"TotalHoldTime"` // seconds
	TotalWrapTime float64 `json:"totalWrapTime" dynamodbav:"TotalWrapTime"` // seconds
	TransferCount int     `json:"transferCount" dynamodbav:"TransferCount"`
	AvgHandleTime float64 `json:"avgHandleTime" dynamodbav:"AvgHandleTime"` // seconds
}
