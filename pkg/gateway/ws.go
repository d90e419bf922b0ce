package gateway

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/thinrelay/thinrelay/pkg/dispatch"
	"github.com/thinrelay/thinrelay/pkg/observability"
)

const (
	// maxAgentMessageSize bounds one inbound frame from an executor
	maxAgentMessageSize = 1 << 20

	pongWait   = 90 * time.Second
	pingPeriod = 30 * time.Second
)

var agentUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Executors are not browsers; there is no origin to check
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleAgentWS upgrades an executor connection, validates its join token,
// registers it, and runs the read loop until the connection dies.
func (s *Server) handleAgentWS(w http.ResponseWriter, r *http.Request) {
	tokenString := bearerToken(r)
	if tokenString == "" {
		tokenString = r.URL.Query().Get("token")
	}
	if tokenString == "" {
		writeError(w, http.StatusUnauthorized, "missing join token")
		return
	}

	joinToken, err := s.tokens.Validate(tokenString)
	if err != nil {
		s.logger.Warn("Agent join token rejected",
			zap.String("remote", r.RemoteAddr),
			zap.Error(err),
		)
		writeError(w, http.StatusUnauthorized, "invalid join token")
		return
	}

	conn, err := agentUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Agent upgrade failed",
			zap.String("remote", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	metadata := dispatch.AgentMetadata{
		Hostname: r.URL.Query().Get("hostname"),
		Platform: r.URL.Query().Get("platform"),
		Version:  r.URL.Query().Get("version"),
	}

	agent, err := s.registry.Register(joinToken.AgentID, joinToken.TenantID, conn, metadata)
	if err != nil {
		s.logger.Error("Agent registration failed",
			zap.String("agent_id", joinToken.AgentID),
			zap.Error(err),
		)
		conn.Close()
		return
	}

	go s.agentReadLoop(agent, conn)
	go s.agentPingLoop(agent, conn)
}

// agentReadLoop consumes inbound messages until the connection closes,
// then unregisters the agent. Unregistration is the one authoritative
// disconnect signal; it drives pending-command cleanup.
func (s *Server) agentReadLoop(agent *dispatch.Agent, conn *websocket.Conn) {
	defer s.registry.Unregister(agent.ID, conn)

	conn.SetReadLimit(maxAgentMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		agent.Touch()
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("Agent connection error",
					zap.String("agent_id", agent.ID),
					zap.Error(err),
				)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := dispatch.DecodeInbound(data)
		if err != nil {
			// Unroutable messages are logged and dropped; a bad frame
			// from one agent must never take the relay down.
			s.logger.Warn("Dropping undecodable agent message",
				zap.String("agent_id", agent.ID),
				zap.Error(err),
			)
			continue
		}

		s.handleAgentMessage(agent, msg)
	}
}

func (s *Server) handleAgentMessage(agent *dispatch.Agent, msg dispatch.InboundMessage) {
	switch m := msg.(type) {
	case dispatch.Heartbeat:
		// Steady-state chatter: refresh liveness, nothing else
		agent.Touch()
		observability.AgentMessagesTotal.WithLabelValues("inbound", "heartbeat").Inc()
	case dispatch.Response:
		agent.Touch()
		observability.AgentMessagesTotal.WithLabelValues("inbound", "response").Inc()
		s.dispatcher.HandleResponse(m.CommandID, m.Result)
	case dispatch.CommandError:
		agent.Touch()
		observability.AgentMessagesTotal.WithLabelValues("inbound", "error").Inc()
		s.dispatcher.HandleError(m.CommandID, m.Message)
	case dispatch.StatusUpdate:
		agent.SetActiveResources(m.Status.ActiveResources)
		observability.AgentMessagesTotal.WithLabelValues("inbound", "status").Inc()
	}
}

// agentPingLoop keeps the connection's liveness probes flowing. Control
// frames are safe to write concurrently with data frames.
func (s *Server) agentPingLoop(agent *dispatch.Agent, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for range ticker.C {
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
			return
		}
	}
}
