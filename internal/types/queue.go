package types

import "time"

// Priority is the priority band of a call request. Higher is more urgent.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
	PriorityVIP    Priority = 3
)

// CallRequest is a call waiting to be matched to an agent
type CallRequest struct {
	RequestID   string    `json:"requestId"`
	Direction   Direction `json:"direction"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Skills      []string  `json:"skills"`
	Priority    Priority  `json:"priority"`
	EnqueueTime time.Time `json:"enqueueTime"`

	// SessionID is set when an existing session is re-enqueued by a
	// transfer; the router then reassigns instead of creating a new one.
	SessionID string `json:"sessionId,omitempty"`
}

// ServiceLevel tracks SL metrics for a queue
type ServiceLevel struct {
	Target        int     `json:"target"`        // target percentage (e.g., 80)
	ThresholdSecs int     `json:"thresholdSecs"` // threshold in seconds (e.g., 20)
	AnsweredInSL  int     `json:"answeredInSL"`  // calls assigned within threshold
	TotalAnswered int     `json:"totalAnswered"`
	CurrentSL     float64 `json:"currentSL"`
}

// QueueSnapshot represents the current state of a queue
type QueueSnapshot struct {
	QueueID         string       `json:"queueId"`
	Skills          []string     `json:"skills"`
	WaitingCount    int          `json:"waitingCount"`
	AssignedCount   int          `json:"assignedCount"`
	AbandonedCount  int          `json:"abandonedCount"`
	OverflowedCount int          `json:"overflowedCount"`
	LongestWaitSecs float64      `json:"longestWaitSecs"`
	EligibleAgents  int          `json:"eligibleAgents"`
	ServiceLevel    ServiceLevel `json:"serviceLevel"`
}
