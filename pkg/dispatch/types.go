package dispatch

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies an inbound message kind on the agent wire protocol
type MessageType string

const (
	MessageHeartbeat MessageType = "heartbeat"
	MessageResponse  MessageType = "response"
	MessageError     MessageType = "error"
	MessageStatus    MessageType = "status"
)

// InboundMessage is the closed set of messages an agent may send. Adding a
// kind means adding a type here and a case to DecodeInbound; anything else
// fails decoding instead of being silently ignored.
type InboundMessage interface {
	messageType() MessageType
}

// Heartbeat refreshes the agent's last-seen timestamp and nothing else
type Heartbeat struct{}

func (Heartbeat) messageType() MessageType { return MessageHeartbeat }

// Response carries the result for a previously dispatched command
type Response struct {
	CommandID string
	Result    json.RawMessage
}

func (Response) messageType() MessageType { return MessageResponse }

// CommandError reports that a dispatched command failed on the agent.
// Decryption failures on the executor arrive this way too; they are an
// application-level failure, not a protocol fault.
type CommandError struct {
	CommandID string
	Message   string
}

func (CommandError) messageType() MessageType { return MessageError }

// StatusUpdate reports the agent's current state
type StatusUpdate struct {
	Status AgentStatus
}

func (StatusUpdate) messageType() MessageType { return MessageStatus }

// AgentStatus is the self-reported state of an executor
type AgentStatus struct {
	ActiveResources []string               `json:"activeResources,omitempty"`
	Detail          map[string]interface{} `json:"detail,omitempty"`
}

// inboundEnvelope is the raw JSON shape shared by all inbound messages
type inboundEnvelope struct {
	Type      MessageType     `json:"type"`
	CommandID string          `json:"commandId,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Status    *AgentStatus    `json:"status,omitempty"`
}

// DecodeInbound parses one wire message into its typed form
func DecodeInbound(data []byte) (InboundMessage, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}

	switch env.Type {
	case MessageHeartbeat:
		return Heartbeat{}, nil
	case MessageResponse:
		if env.CommandID == "" {
			return nil, fmt.Errorf("response message missing commandId")
		}
		return Response{CommandID: env.CommandID, Result: env.Result}, nil
	case MessageError:
		if env.CommandID == "" {
			return nil, fmt.Errorf("error message missing commandId")
		}
		return CommandError{CommandID: env.CommandID, Message: env.Error}, nil
	case MessageStatus:
		status := AgentStatus{}
		if env.Status != nil {
			status = *env.Status
		}
		return StatusUpdate{Status: status}, nil
	default:
		return nil, &UnknownMessageError{Type: string(env.Type)}
	}
}

// CommandMessage is the outbound command envelope
type CommandMessage struct {
	CommandID string      `json:"commandId"`
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
}

// WelcomeMessage acknowledges a successful agent registration
type WelcomeMessage struct {
	Type      string    `json:"type"` // always "welcome"
	AgentID   string    `json:"agentId"`
	Timestamp time.Time `json:"timestamp"`
}

// AgentMetadata is reported by the executor during its handshake
type AgentMetadata struct {
	Hostname string `json:"hostname"`
	Platform string `json:"platform"`
	Version  string `json:"version"`
}

// AgentSummary is the listing view of a connected agent
type AgentSummary struct {
	AgentID         string        `json:"agent_id"`
	TenantID        string        `json:"tenant_id,omitempty"`
	Metadata        AgentMetadata `json:"metadata"`
	RegisteredAt    time.Time     `json:"registered_at"`
	LastSeenAt      time.Time     `json:"last_seen_at"`
	ActiveResources []string      `json:"active_resources,omitempty"`
}
