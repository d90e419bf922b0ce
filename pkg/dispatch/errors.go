package dispatch

import (
	"errors"
	"fmt"
	"time"
)

// AgentUnavailableError indicates no live connection for the agent; the
// command is rejected immediately, there is no offline queue.
type AgentUnavailableError struct {
	AgentID string
}

// Error implements the error interface
func (e *AgentUnavailableError) Error() string {
	return fmt.Sprintf("agent %s is not connected", e.AgentID)
}

// IsAgentUnavailableError checks if an error is an AgentUnavailableError
func IsAgentUnavailableError(err error) bool {
	var unavailableErr *AgentUnavailableError
	return errors.As(err, &unavailableErr)
}

// TimeoutError indicates no response arrived within the command window.
// The agent may still be alive and the action may still complete on its
// side; callers must tolerate that.
type TimeoutError struct {
	CommandID string
	AgentID   string
	Timeout   time.Duration
}

// Error implements the error interface
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command %s to agent %s timed out after %s", e.CommandID, e.AgentID, e.Timeout)
}

// IsTimeoutError checks if an error is a TimeoutError
func IsTimeoutError(err error) bool {
	var timeoutErr *TimeoutError
	return errors.As(err, &timeoutErr)
}

// DisconnectError indicates the agent connection closed while the command
// was outstanding
type DisconnectError struct {
	CommandID string
	AgentID   string
}

// Error implements the error interface
func (e *DisconnectError) Error() string {
	return fmt.Sprintf("agent %s disconnected with command %s outstanding", e.AgentID, e.CommandID)
}

// IsDisconnectError checks if an error is a DisconnectError
func IsDisconnectError(err error) bool {
	var disconnectErr *DisconnectError
	return errors.As(err, &disconnectErr)
}

// RemoteError carries an error message reported by the agent for a command
type RemoteError struct {
	CommandID string
	Message   string
}

// Error implements the error interface
func (e *RemoteError) Error() string {
	return fmt.Sprintf("command %s failed on agent: %s", e.CommandID, e.Message)
}

// IsRemoteError checks if an error is a RemoteError
func IsRemoteError(err error) bool {
	var remoteErr *RemoteError
	return errors.As(err, &remoteErr)
}

// UnknownMessageError indicates an inbound message kind outside the protocol
type UnknownMessageError struct {
	Type string
}

// Error implements the error interface
func (e *UnknownMessageError) Error() string {
	return fmt.Sprintf("unknown message type: %q", e.Type)
}

// IsUnknownMessageError checks if an error is an UnknownMessageError
func IsUnknownMessageError(err error) bool {
	var unknownErr *UnknownMessageError
	return errors.As(err, &unknownErr)
}
