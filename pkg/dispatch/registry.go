package dispatch

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/thinrelay/thinrelay/pkg/observability"
)

// Conn is the transport handle the registry holds for each agent.
// *websocket.Conn satisfies it; tests use in-memory fakes.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Agent is one live executor connection with its metadata
type Agent struct {
	ID       string
	TenantID string
	Metadata AgentMetadata

	conn    Conn
	writeMu sync.Mutex // gorilla connections allow one concurrent writer

	mu              sync.RWMutex
	registeredAt    time.Time
	lastSeenAt      time.Time
	activeResources []string
}

// Send transmits a message over the agent's connection
func (a *Agent) Send(v interface{}) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return a.conn.WriteJSON(v)
}

// Touch refreshes the last-seen timestamp
func (a *Agent) Touch() {
	a.mu.Lock()
	a.lastSeenAt = time.Now()
	a.mu.Unlock()
}

// SetActiveResources replaces the agent's reported resource list
func (a *Agent) SetActiveResources(resources []string) {
	a.mu.Lock()
	a.activeResources = resources
	a.lastSeenAt = time.Now()
	a.mu.Unlock()
}

// Summary returns the listing view of the agent
func (a *Agent) Summary() AgentSummary {
	a.mu.RLock()
	defer a.mu.RUnlock()
	resources := make([]string, len(a.activeResources))
	copy(resources, a.activeResources)
	return AgentSummary{
		AgentID:         a.ID,
		TenantID:        a.TenantID,
		Metadata:        a.Metadata,
		RegisteredAt:    a.registeredAt,
		LastSeenAt:      a.lastSeenAt,
		ActiveResources: resources,
	}
}

// UnregisterHook is invoked after an agent record is removed. The registry
// treats removal as the authoritative "agent is gone" signal; the dispatcher
// hooks in here to reject that agent's pending commands.
type UnregisterHook func(agentID string)

// Registry tracks live executor connections, at most one per agent ID
type Registry struct {
	logger *zap.Logger

	mu     sync.RWMutex
	agents map[string]*Agent
	hooks  []UnregisterHook
}

// NewRegistry creates a new agent registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger: logger,
		agents: make(map[string]*Agent),
	}
}

// OnUnregister adds a hook called whenever an agent record is removed
func (r *Registry) OnUnregister(hook UnregisterHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, hook)
}

// Register records a new agent connection and sends the welcome
// acknowledgement over it. A reconnect for an already-known agent ID
// replaces the previous record; the old connection is closed and its
// pending commands are rejected through the unregister hooks.
func (r *Registry) Register(agentID, tenantID string, conn Conn, metadata AgentMetadata) (*Agent, error) {
	if agentID == "" {
		return nil, fmt.Errorf("agent ID is required")
	}
	if conn == nil {
		return nil, fmt.Errorf("connection is required")
	}

	now := time.Now()
	agent := &Agent{
		ID:           agentID,
		TenantID:     tenantID,
		Metadata:     metadata,
		conn:         conn,
		registeredAt: now,
		lastSeenAt:   now,
	}

	r.mu.Lock()
	previous, replaced := r.agents[agentID]
	if replaced {
		delete(r.agents, agentID)
	}
	hooks := r.hooks
	r.mu.Unlock()

	if replaced {
		previous.conn.Close()
		observability.AgentRegistrationsTotal.WithLabelValues("replace").Inc()
		r.logger.Info("Agent reconnected, prior connection replaced",
			zap.String("agent_id", agentID),
		)
		// The old connection's in-flight commands cannot complete anymore.
		// The hooks run while no record is visible, so the sweep can only
		// catch commands that belonged to the old connection.
		for _, hook := range hooks {
			hook(agentID)
		}
	} else {
		observability.AgentRegistrationsTotal.WithLabelValues("register").Inc()
	}

	r.mu.Lock()
	r.agents[agentID] = agent
	count := len(r.agents)
	r.mu.Unlock()
	observability.AgentsConnected.Set(float64(count))

	welcome := WelcomeMessage{
		Type:      "welcome",
		AgentID:   agentID,
		Timestamp: now.UTC(),
	}
	if err := agent.Send(welcome); err != nil {
		r.removeIfCurrent(agentID, agent)
		return nil, fmt.Errorf("failed to send welcome to agent %s: %w", agentID, err)
	}

	r.logger.Info("Agent registered",
		zap.String("agent_id", agentID),
		zap.String("tenant_id", tenantID),
		zap.String("hostname", metadata.Hostname),
		zap.String("platform", metadata.Platform),
		zap.String("version", metadata.Version),
	)

	return agent, nil
}

// Unregister removes the agent's record if it still belongs to the given
// connection handle. The connection check keeps the close of a replaced
// connection from tearing down its successor.
func (r *Registry) Unregister(agentID string, conn Conn) {
	r.mu.Lock()
	agent, ok := r.agents[agentID]
	if !ok || (conn != nil && agent.conn != conn) {
		r.mu.Unlock()
		return
	}
	delete(r.agents, agentID)
	hooks := r.hooks
	count := len(r.agents)
	r.mu.Unlock()

	agent.conn.Close()
	observability.AgentRegistrationsTotal.WithLabelValues("unregister").Inc()
	observability.AgentsConnected.Set(float64(count))

	r.logger.Info("Agent unregistered",
		zap.String("agent_id", agentID),
	)

	for _, hook := range hooks {
		hook(agentID)
	}
}

// Get returns the live agent record, if any
func (r *Registry) Get(agentID string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[agentID]
	return agent, ok
}

// List returns summaries of all live agents
func (r *Registry) List() []AgentSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summaries := make([]AgentSummary, 0, len(r.agents))
	for _, agent := range r.agents {
		summaries = append(summaries, agent.Summary())
	}
	return summaries
}

// Len returns the number of live agents
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

func (r *Registry) removeIfCurrent(agentID string, agent *Agent) {
	r.mu.Lock()
	if current, ok := r.agents[agentID]; ok && current == agent {
		delete(r.agents, agentID)
	}
	count := len(r.agents)
	r.mu.Unlock()
	observability.AgentsConnected.Set(float64(count))
}
