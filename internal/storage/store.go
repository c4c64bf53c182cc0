package storage

import "github.com/dialgrid/callcore/internal/types"

// Store defines the storage interface for closed sessions, their
// transition logs, and agent daily aggregates.
type Store interface {
	SaveSessionRecord(record types.SessionRecord) error
	SaveTransitions(records []types.TransitionRecord) error
	SaveAgentDailyStats(stats types.AgentDailyStats) error
	GetSessionRecords(dateKey string) ([]types.SessionRecord, error)
	GetTransitions(sessionID string) ([]types.TransitionRecord, error)
	GetAgentSessionsByDate(agentID, date string) ([]types.SessionRecord, error)
	GetAgentDailyStats(agentID string) ([]types.AgentDailyStats, error)
	TruncateAll() error
}

// NoopStore is a no-op implementation when DynamoDB is disabled
type NoopStore struct{}

func NewNoopStore() *NoopStore { return &NoopStore{} }

func (s *NoopStore) SaveSessionRecord(_ types.SessionRecord) error       { return nil }
func (s *NoopStore) SaveTransitions(_ []types.TransitionRecord) error    { return nil }
func (s *NoopStore) SaveAgentDailyStats(_ types.AgentDailyStats) error   { return nil }
func (s *NoopStore) GetSessionRecords(_ string) ([]types.SessionRecord, error) {
	return nil, nil
}
func (s *NoopStore) GetTransitions(_ string) ([]types.TransitionRecord, error) {
	return nil, nil
}
func (s *NoopStore) GetAgentSessionsByDate(_, _ string) ([]types.SessionRecord, error) {
	return nil, nil
}
func (s *NoopStore) GetAgentDailyStats(_ string) ([]types.AgentDailyStats, error) {
	return nil, nil
}
func (s *NoopStore) TruncateAll() error { return nil }
