package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegister_SendsWelcome(t *testing.T) {
	registry := NewRegistry(zap.NewNop())
	conn := &fakeConn{}

	agent, err := registry.Register("agent-1", "tenant-1", conn, AgentMetadata{Hostname: "host-1"})
	require.NoError(t, err)
	require.NotNil(t, agent)

	sent := conn.sent()
	require.Len(t, sent, 1)
	welcome, ok := sent[0].(WelcomeMessage)
	require.True(t, ok)
	assert.Equal(t, "welcome", welcome.Type)
	assert.Equal(t, "agent-1", welcome.AgentID)
	assert.False(t, welcome.Timestamp.IsZero())

	assert.Equal(t, 1, registry.Len())
}

func TestRegister_Validation(t *testing.T) {
	registry := NewRegistry(zap.NewNop())

	_, err := registry.Register("", "tenant-1", &fakeConn{}, AgentMetadata{})
	assert.Error(t, err)

	_, err = registry.Register("agent-1", "tenant-1", nil, AgentMetadata{})
	assert.Error(t, err)
}

func TestRegister_WelcomeFailureRollsBack(t *testing.T) {
	registry := NewRegistry(zap.NewNop())
	conn := &fakeConn{writeErr: assert.AnError}

	_, err := registry.Register("agent-1", "tenant-1", conn, AgentMetadata{})
	require.Error(t, err)
	assert.Equal(t, 0, registry.Len())
}

func TestRegister_ReplacesPriorConnection(t *testing.T) {
	registry := NewRegistry(zap.NewNop())

	first := &fakeConn{}
	_, err := registry.Register("agent-1", "tenant-1", first, AgentMetadata{})
	require.NoError(t, err)

	second := &fakeConn{}
	agent, err := registry.Register("agent-1", "tenant-1", second, AgentMetadata{})
	require.NoError(t, err)

	assert.True(t, first.isClosed(), "replaced connection must be closed")
	assert.Equal(t, 1, registry.Len())

	current, ok := registry.Get("agent-1")
	require.True(t, ok)
	assert.Same(t, agent, current)
}

func TestRegister_ReplaceSweepsBeforeSuccessorVisible(t *testing.T) {
	registry := NewRegistry(zap.NewNop())

	hookFired := false
	visibleDuringHook := true
	registry.OnUnregister(func(agentID string) {
		hookFired = true
		_, visibleDuringHook = registry.Get(agentID)
	})

	_, err := registry.Register("agent-1", "tenant-1", &fakeConn{}, AgentMetadata{})
	require.NoError(t, err)

	second := &fakeConn{}
	replacement, err := registry.Register("agent-1", "tenant-1", second, AgentMetadata{})
	require.NoError(t, err)

	// The disconnect sweep for the old connection must complete before the
	// successor is in the map, or it would reject commands dispatched to
	// the new connection.
	require.True(t, hookFired)
	assert.False(t, visibleDuringHook)

	current, ok := registry.Get("agent-1")
	require.True(t, ok)
	assert.Same(t, replacement, current)
}

func TestUnregister_IgnoresStaleConnection(t *testing.T) {
	registry := NewRegistry(zap.NewNop())

	first := &fakeConn{}
	_, err := registry.Register("agent-1", "tenant-1", first, AgentMetadata{})
	require.NoError(t, err)

	second := &fakeConn{}
	_, err = registry.Register("agent-1", "tenant-1", second, AgentMetadata{})
	require.NoError(t, err)

	// The old connection's read loop exits and unregisters; it must not
	// evict the successor.
	registry.Unregister("agent-1", first)
	assert.Equal(t, 1, registry.Len())

	registry.Unregister("agent-1", second)
	assert.Equal(t, 0, registry.Len())
	assert.True(t, second.isClosed())
}

func TestUnregister_FiresHooks(t *testing.T) {
	registry := NewRegistry(zap.NewNop())

	var gone []string
	registry.OnUnregister(func(agentID string) { gone = append(gone, agentID) })

	conn := &fakeConn{}
	_, err := registry.Register("agent-1", "tenant-1", conn, AgentMetadata{})
	require.NoError(t, err)

	registry.Unregister("agent-1", conn)
	assert.Equal(t, []string{"agent-1"}, gone)

	// Unregistering twice is a no-op
	registry.Unregister("agent-1", conn)
	assert.Equal(t, []string{"agent-1"}, gone)
}

func TestAgent_TouchAndSummary(t *testing.T) {
	registry := NewRegistry(zap.NewNop())

	agent, err := registry.Register("agent-1", "tenant-1", &fakeConn{},
		AgentMetadata{Hostname: "host-1", Platform: "windows", Version: "1.2.0"})
	require.NoError(t, err)

	before := agent.Summary().LastSeenAt
	time.Sleep(5 * time.Millisecond)
	agent.Touch()

	summary := agent.Summary()
	assert.True(t, summary.LastSeenAt.After(before))
	assert.Equal(t, "host-1", summary.Metadata.Hostname)
	assert.Equal(t, "tenant-1", summary.TenantID)

	agent.SetActiveResources([]string{"vm-1", "vm-2"})
	assert.Equal(t, []string{"vm-1", "vm-2"}, agent.Summary().ActiveResources)
}

func TestList_ReturnsAllAgents(t *testing.T) {
	registry := NewRegistry(zap.NewNop())

	for _, id := range []string{"agent-1", "agent-2", "agent-3"} {
		_, err := registry.Register(id, "tenant-1", &fakeConn{}, AgentMetadata{})
		require.NoError(t, err)
	}

	assert.Len(t, registry.List(), 3)
}
