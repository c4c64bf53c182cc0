package types

// SessionRecord represents a closed session for persistence,
// queryable by date and by agent.
type SessionRecord struct {
	DateKey       string  `json:"dateKey" dynamodbav:"DateKey"`     // YYYY-MM-DD (partition key)
	SessionID     string  `json:"sessionId" dynamodbav:"SessionID"` // sort key
	QueueID       string  `json:"queueId" dynamodbav:"QueueID"`
	AgentID       string  `json:"agentId" dynamodbav:"AgentID"`
	Direction     string  `json:"direction" dynamodbav:"Direction"`
	From          string  `json:"from" dynamodbav:"CallFrom"`
	To            string  `json:"to" dynamodbav:"CallTo"`
	CreatedAt     string  `json:"createdAt" dynamodbav:"CreatedAt"` // RFC3339
	ConnectedAt   string  `json:"connectedAt" dynamodbav:"ConnectedAt"`
	EndedAt       string  `json:"endedAt" dynamodbav:"EndedAt"`
	ClosedAt      string  `json:"closedAt" dynamodbav:"ClosedAt"`
	TalkTime      float64 `json:"talkTime" dynamodbav:"TalkTime"` // seconds
	HoldTime      float64 `json:"holdTime" dynamodbav:"HoldTime"` // seconds
	WrapTime      float64 `json:"wrapTime" dynamodbav:"WrapTime"` // seconds
	EndReason     string  `json:"endReason" dynamodbav:"EndReason"`
	Disposition   string  `json:"disposition" dynamodbav:"Disposition"`
	AutoCompleted bool    `json:"autoCompleted" dynamodbav:"AutoCompleted"`
	Answered      bool    `json:"answered" dynamodbav:"Answered"`
	TransferCount int     `json:"transferCount" dynamodbav:"TransferCount"`
}

// TransitionRecord persists one transition-log entry for audit/QA,
// queryable by session id in sequence order.
type TransitionRecord struct {
	SessionID string `json:"sessionId" dynamodbav:"SessionID"` // partition key
	Seq       uint64 `json:"seq" dynamodbav:"Seq"`             // sort key
	State     string `json:"state" dynamodbav:"State"`
	Label     string `json:"label" dynamodbav:"Label"`
	At        string `json:"at" dynamodbav:"At"` // RFC3339Nano
}
