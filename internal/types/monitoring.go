package types

import "time"

// MonitorMode is the supervisor participation level on a monitored call
type MonitorMode string

const (
	MonitorListen  MonitorMode = "listen"  // inaudible observer
	MonitorWhisper MonitorMode = "whisper" // audible to the agent only
	MonitorBarge   MonitorMode = "barge"   // active participant
)

// monitorRank orders modes by intrusiveness for escalation checks
var monitorRank = map[MonitorMode]int{
	MonitorListen:  0,
	MonitorWhisper: 1,
	MonitorBarge:   2,
}

// Valid reports whether m is a known monitoring mode
func (m MonitorMode) Valid() bool {
	_, ok := monitorRank[m]
	return ok
}

// AtLeast reports whether m is as intrusive as other
func (m MonitorMode) AtLeast(other MonitorMode) bool {
	return monitorRank[m] >= monitorRank[other]
}

// MonitoringSession records a supervisor attached to a live call.
// It is an overlay; it never alters the monitored session's state.
type MonitoringSession struct {
	MonitoringID string      `json:"monitoringId"`
	SupervisorID string      `json:"supervisorId"`
	SessionID    string      `json:"sessionId"`
	Mode         MonitorMode `json:"mode"`
	Active       bool        `json:"active"`
	StartedAt    time.Time   `json:"startedAt"`
	EndedAt      *time.Time  `json:"endedAt,omitempty"`
}
