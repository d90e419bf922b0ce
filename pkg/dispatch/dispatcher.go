package dispatch

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thinrelay/thinrelay/pkg/observability"
)

const (
	// DefaultCommandTimeout bounds how long a command may stay pending
	DefaultCommandTimeout = 60 * time.Second
)

// Config contains dispatcher configuration
type Config struct {
	CommandTimeout time.Duration
}

// Dispatcher sends commands to agents over their live connections and
// correlates asynchronous results back to the original caller. Every sent
// command terminates exactly once: response, remote error, timeout, or
// disconnect.
type Dispatcher struct {
	config   Config
	registry *Registry
	logger   *zap.Logger

	mu      sync.Mutex
	pending map[string]*Pending
}

// NewDispatcher creates a new dispatcher wired to the registry's
// disconnect signal
func NewDispatcher(config Config, registry *Registry, logger *zap.Logger) (*Dispatcher, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if config.CommandTimeout <= 0 {
		config.CommandTimeout = DefaultCommandTimeout
	}

	d := &Dispatcher{
		config:   config,
		registry: registry,
		logger:   logger,
		pending:  make(map[string]*Pending),
	}
	registry.OnUnregister(d.handleDisconnect)

	return d, nil
}

// Send transmits a command to the agent and returns an awaitable handle.
// Sending never blocks on the result; callers suspend in Pending.Await.
// If the agent has no live connection the send fails immediately with an
// AgentUnavailableError; nothing is queued.
func (d *Dispatcher) Send(agentID, cmdType string, payload interface{}) (*Pending, error) {
	agent, ok := d.registry.Get(agentID)
	if !ok {
		observability.DispatchCommandsTotal.WithLabelValues(cmdType, "unavailable").Inc()
		return nil, &AgentUnavailableError{AgentID: agentID}
	}

	commandID := uuid.New().String()
	p := newPending(commandID, agentID, cmdType)

	d.mu.Lock()
	d.pending[commandID] = p
	count := len(d.pending)
	d.mu.Unlock()
	observability.DispatchPendingCommands.Set(float64(count))

	msg := CommandMessage{
		CommandID: commandID,
		Type:      cmdType,
		Payload:   payload,
	}
	if err := agent.Send(msg); err != nil {
		d.remove(commandID)
		p.complete(nil, fmt.Errorf("failed to transmit command: %w", err))
		observability.DispatchCommandsTotal.WithLabelValues(cmdType, "failed").Inc()
		return nil, fmt.Errorf("failed to transmit command %s to agent %s: %w", commandID, agentID, err)
	}
	observability.AgentMessagesTotal.WithLabelValues("outbound", cmdType).Inc()

	timeout := d.config.CommandTimeout
	p.setTimer(time.AfterFunc(timeout, func() {
		d.completeTimeout(commandID, timeout)
	}))

	d.logger.Debug("Command sent",
		zap.String("command_id", commandID),
		zap.String("agent_id", agentID),
		zap.String("type", cmdType),
	)

	return p, nil
}

// HandleResponse resolves the pending command with the agent's result.
// An unknown command ID is logged and dropped: it may be a duplicate, or a
// reply that lost the race against its own timeout.
func (d *Dispatcher) HandleResponse(commandID string, result json.RawMessage) {
	p, ok := d.take(commandID)
	if !ok {
		observability.DispatchLateMessagesTotal.Inc()
		d.logger.Debug("Dropping response for unknown command",
			zap.String("command_id", commandID),
		)
		return
	}

	if p.complete(result, nil) {
		d.finish(p, "completed")
	}
}

// HandleError rejects the pending command with the agent-reported message
func (d *Dispatcher) HandleError(commandID, message string) {
	p, ok := d.take(commandID)
	if !ok {
		observability.DispatchLateMessagesTotal.Inc()
		d.logger.Debug("Dropping error for unknown command",
			zap.String("command_id", commandID),
		)
		return
	}

	if p.complete(nil, &RemoteError{CommandID: commandID, Message: message}) {
		d.finish(p, "failed")
	}
}

// PendingCount returns the number of commands awaiting an outcome
func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// PendingFor returns the number of pending commands for one agent
func (d *Dispatcher) PendingFor(agentID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, p := range d.pending {
		if p.AgentID == agentID {
			n++
		}
	}
	return n
}

// completeTimeout fires from the pending entry's timer
func (d *Dispatcher) completeTimeout(commandID string, timeout time.Duration) {
	p, ok := d.take(commandID)
	if !ok {
		// A response or disconnect won the race
		return
	}

	if p.complete(nil, &TimeoutError{CommandID: commandID, AgentID: p.AgentID, Timeout: timeout}) {
		d.finish(p, "timeout")
		d.logger.Warn("Command timed out",
			zap.String("command_id", commandID),
			zap.String("agent_id", p.AgentID),
			zap.String("type", p.Type),
			zap.Duration("timeout", timeout),
		)
	}
}

// handleDisconnect rejects every pending command owned by the agent. It runs
// from the registry's unregister path, the authoritative disconnect signal.
func (d *Dispatcher) handleDisconnect(agentID string) {
	d.mu.Lock()
	var orphaned []*Pending
	for id, p := range d.pending {
		if p.AgentID == agentID {
			orphaned = append(orphaned, p)
			delete(d.pending, id)
		}
	}
	count := len(d.pending)
	d.mu.Unlock()
	observability.DispatchPendingCommands.Set(float64(count))

	for _, p := range orphaned {
		if p.complete(nil, &DisconnectError{CommandID: p.CommandID, AgentID: agentID}) {
			d.finish(p, "disconnect")
		}
	}

	if len(orphaned) > 0 {
		d.logger.Warn("Rejected pending commands after agent disconnect",
			zap.String("agent_id", agentID),
			zap.Int("commands", len(orphaned)),
		)
	}
}

// take removes and returns the pending entry, if present
func (d *Dispatcher) take(commandID string) (*Pending, bool) {
	d.mu.Lock()
	p, ok := d.pending[commandID]
	if ok {
		delete(d.pending, commandID)
	}
	count := len(d.pending)
	d.mu.Unlock()
	if ok {
		observability.DispatchPendingCommands.Set(float64(count))
	}
	return p, ok
}

func (d *Dispatcher) remove(commandID string) {
	d.mu.Lock()
	delete(d.pending, commandID)
	count := len(d.pending)
	d.mu.Unlock()
	observability.DispatchPendingCommands.Set(float64(count))
}

func (d *Dispatcher) finish(p *Pending, outcome string) {
	observability.DispatchCommandsTotal.WithLabelValues(p.Type, outcome).Inc()
	observability.DispatchCommandDurationSeconds.WithLabelValues(p.Type).Observe(time.Since(p.IssuedAt).Seconds())
}
