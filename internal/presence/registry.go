package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/dialgrid/callcore/internal/bus"
	"github.com/dialgrid/callcore/internal/types"
	"github.com/rs/zerolog"
)

const (
	// StaleThreshold is the duration after which an agent is considered stale (3 missed heartbeats)
	StaleThreshold = 6 * time.Second
)

// Registry is the single source of truth for agent connectivity and
// availability. All agent status mutations go through it; the router and
// session engine never flip agent state directly.
type Registry struct {
	agents map[string]*types.Agent // agentID -> current state
	bus    *bus.Bus
	mu     sync.RWMutex
	logger zerolog.Logger
}

// NewRegistry creates a new agent presence registry
func NewRegistry(b *bus.Bus, logger zerolog.Logger) *Registry {
	return &Registry{
		agents: make(map[string]*types.Agent),
		bus:    b,
		logger: logger.With().Str("component", "presence").Logger(),
	}
}

// Register adds or replaces an agent. New agents start Offline/Idle until
// they set their presence.
func (r *Registry) Register(agentID, name string, skills []string) {
	r.mu.Lock()
	now := time.Now()
	r.agents[agentID] = &types.Agent{
		AgentID:          agentID,
		Name:             name,
		Skills:           skills,
		Presence:         types.PresenceOffline,
		Status:           types.StatusIdle,
		StatusStart:      now,
		LastUpdate:       now,
		LastHeartbeat:    now,
		ConnectionStatus: types.ConnConnected,
	}
	r.mu.Unlock()

	r.logger.Debug().Str("agent_id", agentID).Strs("skills", skills).Msg("agent registered")
}

// Deregister removes an agent from the registry
func (r *Registry) Deregister(agentID string) {
	r.mu.Lock()
	delete(r.agents, agentID)
	r.mu.Unlock()
}

// SetPresence updates an agent's connectivity/availability
func (r *Registry) SetPresence(agentID string, presence types.Presence) error {
	r.mu.Lock()
	agent, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return types.ErrAgentNotFound
	}
	agent.Presence = presence
	agent.LastUpdate = time.Now()
	snapshot := *agent
	r.mu.Unlock()

	r.publishChange(snapshot)
	return nil
}

// SetStatus moves an agent through the status cycle. Transitions outside
// Idle -> Ringing -> InCall -> AfterCallWork -> Idle (plus break and
// release-to-idle edges) are rejected.
func (r *Registry) SetStatus(agentID string, status types.AgentStatus) error {
	r.mu.Lock()
	agent, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return types.ErrAgentNotFound
	}

	if agent.Status == status {
		r.mu.Unlock()
		return nil
	}
	if !statusTransitionAllowed(agent.Status, status) {
		err := &types.StatusError{AgentID: agentID, From: agent.Status, To: status}
		r.mu.Unlock()
		return err
	}

	agent.Status = status
	agent.StatusStart = time.Now()
	agent.LastUpdate = agent.StatusStart
	if status == types.StatusIdle {
		agent.ActiveSessionID = ""
	}
	snapshot := *agent
	r.mu.Unlock()

	r.logger.Debug().
		Str("agent_id", agentID).
		Str("status", string(status)).
		Msg("agent status changed")

	r.publishChange(snapshot)
	return nil
}

// SetActiveSession links an agent to its current session. Pass an empty
// id to clear the link. The one-active-session invariant is guarded here.
func (r *Registry) SetActiveSession(agentID, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[agentID]
	if !ok {
		return types.ErrAgentNotFound
	}
	agent.ActiveSessionID = sessionID
	agent.LastUpdate = time.Now()
	return nil
}

// Get returns a copy of an agent's current state
func (r *Registry) Get(agentID string) (types.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agents[agentID]
	if !ok {
		return types.Agent{}, types.ErrAgentNotFound
	}
	return *agent, nil
}

// FindEligible returns agents that are Available, Idle, and share at least
// one of the required skills, ordered least-recently-busy first (longest
// time in Idle wins) for load balancing.
func (r *Registry) FindEligible(skills []string) []types.Agent {
	r.mu.RLock()
	eligible := make([]types.Agent, 0)
	for _, agent := range r.agents {
		if agent.Presence != types.PresenceAvailable || agent.Status != types.StatusIdle {
			continue
		}
		if len(skills) > 0 && agent.SkillOverlap(skills) == 0 {
			continue
		}
		eligible = append(eligible, *agent)
	}
	r.mu.RUnlock()

	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].StatusStart.Before(eligible[j].StatusStart)
	})
	return eligible
}

// GetAll returns all agents' current states
func (r *Registry) GetAll() []types.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agents := make([]types.Agent, 0, len(r.agents))
	for _, agent := range r.agents {
		agents = append(agents, *agent)
	}
	return agents
}

// Count returns the total number of registered agents
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Heartbeat records a liveness signal from an agent endpoint
func (r *Registry) Heartbeat(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[agentID]
	if !ok {
		return types.ErrAgentNotFound
	}
	agent.LastHeartbeat = time.Now()
	agent.ConnectionStatus = types.ConnConnected
	return nil
}

// SetConnected updates the connection status of an agent endpoint
func (r *Registry) SetConnected(agentID string, connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if agent, ok := r.agents[agentID]; ok {
		if connected {
			agent.ConnectionStatus = types.ConnConnected
		} else {
			agent.ConnectionStatus = types.ConnDisconnected
		}
		agent.LastHeartbeat = time.Now()
	}
}

// CheckStaleAgents marks agents as stale if no heartbeat arrived within
// the threshold
func (r *Registry) CheckStaleAgents() {
	r.mu.Lock()
	defer r.mu.Unlock()

	threshold := time.Now().Add(-StaleThreshold)
	for _, agent := range r.agents {
		if agent.ConnectionStatus == types.ConnConnected &&
			agent.LastHeartbeat.Before(threshold) {
			agent.ConnectionStatus = types.ConnStale
		}
	}
}

func (r *Registry) publishChange(agent types.Agent) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(types.Event{
		Type:     types.EventAgentPresenceChanged,
		EntityID: agent.AgentID,
		State:    string(agent.Status),
		Payload: types.PresenceChange{
			AgentID:  agent.AgentID,
			Presence: agent.Presence,
			Status:   agent.Status,
		},
	})
}

func statusTransitionAllowed(from, to types.AgentStatus) bool {
	for _, next := range types.AllowedStatusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
