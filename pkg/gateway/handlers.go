package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/thinrelay/thinrelay/pkg/dispatch"
	"github.com/thinrelay/thinrelay/pkg/observability"
	"github.com/thinrelay/thinrelay/pkg/payload"
)

// executeRequest is the body of POST /api/execute. Arguments may be an
// array of strings or an object; objects are flattened to key=value pairs
// in key order so invocation stays deterministic.
type executeRequest struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Command   string          `json:"command,omitempty"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Tool == "" {
		writeError(w, http.StatusBadRequest, "tool is required")
		return
	}

	args, err := parseArguments(req.Arguments)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var unit *payload.ExecutionUnit
	if req.Tool == "powershell" && req.Command != "" {
		unit, err = s.builder.BuildCommand(req.Command, identity.EncryptionKey)
	} else {
		unit, err = s.builder.Build(req.Tool, args, identity.EncryptionKey)
	}
	if err != nil {
		if payload.IsUnknownToolError(err) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Error("Failed to build execution unit",
			zap.String("tool", req.Tool),
			zap.String("tenant_id", identity.TenantID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to build execution unit")
		return
	}

	writeJSON(w, http.StatusOK, unit)
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	specs := s.catalog.List()
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"tools":   specs,
	})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	agents := make([]dispatch.AgentSummary, 0)
	for _, summary := range s.registry.List() {
		if summary.TenantID == identity.TenantID {
			agents = append(agents, summary)
		}
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].AgentID < agents[j].AgentID })

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"agents":  agents,
	})
}

// agentCommandRequest is the body of POST /api/agents/{agentID}/command
type agentCommandRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (s *Server) handleAgentCommand(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	agentID := chi.URLParam(r, "agentID")

	var req agentCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "command type is required")
		return
	}

	if !s.agentBelongsToTenant(agentID, identity.TenantID) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("agent %s not found", agentID))
		return
	}

	var cmdPayload interface{}
	if len(req.Payload) > 0 {
		cmdPayload = req.Payload
	}

	pending, err := s.dispatcher.Send(agentID, req.Type, cmdPayload)
	if err != nil {
		if dispatch.IsAgentUnavailableError(err) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	ctx, cancel := contextWithTimeout(r, s.config.CommandWait)
	defer cancel()
	ctx = observability.WithAgentID(ctx, agentID)
	ctx = observability.WithCommandID(ctx, pending.CommandID)
	log := observability.LoggerFromContext(ctx, s.logger)

	result, err := pending.Await(ctx)
	if err != nil {
		log.Warn("Relayed command failed", zap.Error(err))
		switch {
		case dispatch.IsTimeoutError(err):
			writeError(w, http.StatusGatewayTimeout, err.Error())
		case dispatch.IsDisconnectError(err):
			writeError(w, http.StatusBadGateway, err.Error())
		case dispatch.IsRemoteError(err):
			// The agent ran the command and reported failure; that is an
			// application outcome, not a relay fault.
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"success":   false,
				"commandId": pending.CommandID,
				"error":     err.Error(),
			})
		default:
			writeError(w, http.StatusGatewayTimeout, err.Error())
		}
		return
	}

	log.Debug("Relayed command completed", zap.String("type", req.Type))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"commandId": pending.CommandID,
		"result":    result,
	})
}

// joinTokenRequest is the body of POST /api/agents/{agentID}/join-token
type joinTokenRequest struct {
	ValiditySeconds int `json:"validity_seconds,omitempty"`
	MaxUses         int `json:"max_uses,omitempty"`
}

func (s *Server) handleJoinToken(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	agentID := chi.URLParam(r, "agentID")

	var req joinTokenRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "malformed request body")
			return
		}
	}

	joinToken, err := s.tokens.Generate(agentID, identity.TenantID,
		time.Duration(req.ValiditySeconds)*time.Second, req.MaxUses)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"token":      joinToken.Token,
		"token_id":   joinToken.ID,
		"agent_id":   joinToken.AgentID,
		"expires_at": joinToken.ExpiresAt,
	})
}

func (s *Server) handleNetworkAllocate(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	allocation, err := s.allocator.Allocate(r.Context(), identity.TenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"allocation": allocation,
	})
}

func (s *Server) handleNetworkAttach(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	if err := s.allocator.AttachRelay(r.Context(), identity.TenantID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleNetworkRelease(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	if err := s.allocator.Release(r.Context(), identity.TenantID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"success":          true,
		"version":          s.config.Version,
		"git_commit":       s.config.GitCommit,
		"go_version":       runtime.Version(),
		"uptime_seconds":   int(time.Since(s.startedAt).Seconds()),
		"agents_connected": s.registry.Len(),
		"pending_commands": s.dispatcher.PendingCount(),
	}

	if cpuPercent, err := cpu.Percent(0, false); err == nil && len(cpuPercent) > 0 {
		status["cpu_percent"] = cpuPercent[0]
	}
	if memInfo, err := mem.VirtualMemory(); err == nil {
		status["memory_percent"] = memInfo.UsedPercent
	}

	writeJSON(w, http.StatusOK, status)
}

func (s *Server) agentBelongsToTenant(agentID, tenantID string) bool {
	agent, ok := s.registry.Get(agentID)
	return ok && agent.TenantID == tenantID
}

// parseArguments accepts either a JSON array of strings or an object
func parseArguments(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}

	var object map[string]interface{}
	if err := json.Unmarshal(raw, &object); err != nil {
		return nil, fmt.Errorf("arguments must be an array of strings or an object")
	}

	keys := make([]string, 0, len(object))
	for k := range object {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]string, 0, len(keys))
	for _, k := range keys {
		args = append(args, fmt.Sprintf("%s=%v", k, object[k]))
	}
	return args, nil
}
