package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dialgrid/callcore/internal/types"
)

// Metrics holds all application metrics
type Metrics struct {
	mu sync.RWMutex

	// Session metrics
	SessionsCreatedTotal   int64
	SessionsClosedTotal    int64
	SessionsAutoCompleted  int64
	SessionErrorsTotal     int64
	activeSessions         int64

	// Routing metrics
	CallsEnqueuedTotal   int64
	CallsAssignedTotal   int64
	CallsAbandonedTotal  int64
	CallsOverflowedTotal int64
	lastRoutingDuration  time.Duration

	// Transfer metrics
	TransfersStartedTotal   int64
	TransfersCompletedTotal int64
	TransfersFailedTotal    int64

	// Monitoring metrics
	MonitoringStartedTotal int64
	MonitoringStoppedTotal int64

	// WebSocket metrics
	WebSocketConnectionsTotal    int64
	WebSocketDisconnectionsTotal int64
	WebSocketMessagesTotal       int64
	WebSocketErrorsTotal         int64
	activeConnections            int64

	// Agent metrics
	agentsByStatus   map[types.AgentStatus]int
	agentsByPresence map[types.Presence]int
	totalAgents      int

	// HTTP metrics
	httpRequestsTotal    map[string]map[int]int64 // endpoint -> status -> count
	httpRequestDurations map[string][]float64     // endpoint -> durations

	// Timing
	startTime time.Time
}

// Global metrics instance
var instance *Metrics
var once sync.Once

// Get returns the singleton metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			agentsByStatus:       make(map[types.AgentStatus]int),
			agentsByPresence:     make(map[types.Presence]int),
			httpRequestsTotal:    make(map[string]map[int]int64),
			httpRequestDurations: make(map[string][]float64),
			startTime:            time.Now(),
		}
	})
	return instance
}

// RecordSessionCreated increments the sessions created counter
func (m *Metrics) RecordSessionCreated() {
	m.mu.Lock()
	m.SessionsCreatedTotal++
	m.activeSessions++
	m.mu.Unlock()
}

// RecordSessionClosed increments the sessions closed counter
func (m *Metrics) RecordSessionClosed(autoCompleted bool) {
	m.mu.Lock()
	m.SessionsClosedTotal++
	m.activeSessions--
	if autoCompleted {
		m.SessionsAutoCompleted++
	}
	m.mu.Unlock()
}

// RecordSessionError increments the session error counter
func (m *Metrics) RecordSessionError() {
	m.mu.Lock()
	m.SessionErrorsTotal++
	m.mu.Unlock()
}

// RecordEnqueue increments the enqueued calls counter
func (m *Metrics) RecordEnqueue() {
	m.mu.Lock()
	m.CallsEnqueuedTotal++
	m.mu.Unlock()
}

// RecordAssignment increments the assigned calls counter
func (m *Metrics) RecordAssignment() {
	m.mu.Lock()
	m.CallsAssignedTotal++
	m.mu.Unlock()
}

// RecordAbandon increments the abandoned calls counter
func (m *Metrics) RecordAbandon() {
	m.mu.Lock()
	m.CallsAbandonedTotal++
	m.mu.Unlock()
}

// RecordOverflow increments the overflowed calls counter
func (m *Metrics) RecordOverflow() {
	m.mu.Lock()
	m.CallsOverflowedTotal++
	m.mu.Unlock()
}

// RecordRoutingPass records the duration of a routing pass
func (m *Metrics) RecordRoutingPass(duration time.Duration) {
	m.mu.Lock()
	m.lastRoutingDuration = duration
	m.mu.Unlock()
}

// RecordTransferStarted increments the transfers started counter
func (m *Metrics) RecordTransferStarted() {
	m.mu.Lock()
	m.TransfersStartedTotal++
	m.mu.Unlock()
}

// RecordTransferCompleted increments the transfers completed counter
func (m *Metrics) RecordTransferCompleted() {
	m.mu.Lock()
	m.TransfersCompletedTotal++
	m.mu.Unlock()
}

// RecordTransferFailed increments the transfers failed counter
func (m *Metrics) RecordTransferFailed() {
	m.mu.Lock()
	m.TransfersFailedTotal++
	m.mu.Unlock()
}

// RecordMonitoringStarted increments the monitoring started counter
func (m *Metrics) RecordMonitoringStarted() {
	m.mu.Lock()
	m.MonitoringStartedTotal++
	m.mu.Unlock()
}

// RecordMonitoringStopped increments the monitoring stopped counter
func (m *Metrics) RecordMonitoringStopped() {
	m.mu.Lock()
	m.MonitoringStoppedTotal++
	m.mu.Unlock()
}

// RecordWebSocketConnect increments connection counters
func (m *Metrics) RecordWebSocketConnect() {
	m.mu.Lock()
	m.WebSocketConnectionsTotal++
	m.activeConnections++
	m.mu.Unlock()
}

// RecordWebSocketDisconnect increments disconnection counter
func (m *Metrics) RecordWebSocketDisconnect() {
	m.mu.Lock()
	m.WebSocketDisconnectionsTotal++
	m.activeConnections--
	m.mu.Unlock()
}

// RecordWebSocketMessage increments message counter
func (m *Metrics) RecordWebSocketMessage() {
	m.mu.Lock()
	m.WebSocketMessagesTotal++
	m.mu.Unlock()
}

// RecordWebSocketError increments WebSocket error counter
func (m *Metrics) RecordWebSocketError() {
	m.mu.Lock()
	m.WebSocketErrorsTotal++
	m.mu.Unlock()
}

// UpdateAgentStats updates agent distribution metrics
func (m *Metrics) UpdateAgentStats(agents []types.Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Reset counts
	m.agentsByStatus = make(map[types.AgentStatus]int)
	m.agentsByPresence = make(map[types.Presence]int)
	m.totalAgents = len(agents)

	for _, agent := range agents {
		m.agentsByStatus[agent.Status]++
		m.agentsByPresence[agent.Presence]++
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(endpoint string, statusCode int, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.httpRequestsTotal[endpoint] == nil {
		m.httpRequestsTotal[endpoint] = make(map[int]int64)
	}
	m.httpRequestsTotal[endpoint][statusCode]++

	// Keep last 100 durations for percentile calculation
	if len(m.httpRequestDurations[endpoint]) >= 100 {
		m.httpRequestDurations[endpoint] = m.httpRequestDurations[endpoint][1:]
	}
	m.httpRequestDurations[endpoint] = append(m.httpRequestDurations[endpoint], duration.Seconds())
}

// GetActiveConnections returns current WebSocket connections
func (m *Metrics) GetActiveConnections() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeConnections
}

// GetActiveSessions returns the current number of live call sessions
func (m *Metrics) GetActiveSessions() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeSessions
}

// Handler returns an HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.RLock()
		defer m.mu.RUnlock()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		// Helper to write metric
		write := func(name string, value interface{}, labels ...string) {
			labelStr := ""
			if len(labels) > 0 {
				labelStr = "{"
				for i := 0; i < len(labels); i += 2 {
					if i > 0 {
						labelStr += ","
					}
					labelStr += labels[i] + "=\"" + labels[i+1] + "\""
				}
				labelStr += "}"
			}

			switch v := value.(type) {
			case int:
				w.Write([]byte(name + labelStr + " " + strconv.Itoa(v) + "\n"))
			case int64:
				w.Write([]byte(name + labelStr + " " + strconv.FormatInt(v, 10) + "\n"))
			case float64:
				w.Write([]byte(name + labelStr + " " + strconv.FormatFloat(v, 'f', 6, 64) + "\n"))
			}
		}

		// System metrics
		write("callcore_uptime_seconds", time.Since(m.startTime).Seconds())

		// Session metrics
		write("callcore_sessions_created_total", m.SessionsCreatedTotal)
		write("callcore_sessions_closed_total", m.SessionsClosedTotal)
		write("callcore_sessions_auto_completed_total", m.SessionsAutoCompleted)
		write("callcore_session_errors_total", m.SessionErrorsTotal)
		write("callcore_active_sessions", m.activeSessions)

		// Routing metrics
		write("callcore_calls_enqueued_total", m.CallsEnqueuedTotal)
		write("callcore_calls_assigned_total", m.CallsAssignedTotal)
		write("callcore_calls_abandoned_total", m.CallsAbandonedTotal)
		write("callcore_calls_overflowed_total", m.CallsOverflowedTotal)
		write("callcore_routing_pass_duration_seconds", m.lastRoutingDuration.Seconds())

		// Transfer metrics
		write("callcore_transfers_started_total", m.TransfersStartedTotal)
		write("callcore_transfers_completed_total", m.TransfersCompletedTotal)
		write("callcore_transfers_failed_total", m.TransfersFailedTotal)

		// Monitoring metrics
		write("callcore_monitoring_started_total", m.MonitoringStartedTotal)
		write("callcore_monitoring_stopped_total", m.MonitoringStoppedTotal)

		// WebSocket metrics
		write("callcore_websocket_connections_total", m.WebSocketConnectionsTotal)
		write("callcore_websocket_disconnections_total", m.WebSocketDisconnectionsTotal)
		write("callcore_websocket_active_connections", m.activeConnections)
		write("callcore_websocket_messages_total", m.WebSocketMessagesTotal)
		write("callcore_websocket_errors_total", m.WebSocketErrorsTotal)

		// Agent metrics
		write("callcore_agents_total", m.totalAgents)

		// Agents by status
		for status, count := range m.agentsByStatus {
			write("callcore_agents_by_status", count, "status", string(status))
		}

		// Agents by presence
		for presence, count := range m.agentsByPresence {
			write("callcore_agents_by_presence", count, "presence", string(presence))
		}

		// HTTP metrics
		for endpoint, statusCodes := range m.httpRequestsTotal {
			for status, count := range statusCodes {
				write("callcore_http_requests_total", count, "endpoint", endpoint, "status", strconv.Itoa(status))
			}
		}
	}
}
