package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeConn records messages written to it; tests drive the agent side
type fakeConn struct {
	mu       sync.Mutex
	messages []interface{}
	writeErr error
	closed   bool
}

func (f *fakeConn) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.messages = append(f.messages, v)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) sent() []interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]interface{}, len(f.messages))
	copy(out, f.messages)
	return out
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// commands returns only the CommandMessages, skipping the welcome
func (f *fakeConn) commands() []CommandMessage {
	var cmds []CommandMessage
	for _, m := range f.sent() {
		if cmd, ok := m.(CommandMessage); ok {
			cmds = append(cmds, cmd)
		}
	}
	return cmds
}

func newTestDispatcher(t *testing.T, timeout time.Duration) (*Dispatcher, *Registry) {
	t.Helper()
	registry := NewRegistry(zap.NewNop())
	dispatcher, err := NewDispatcher(Config{CommandTimeout: timeout}, registry, zap.NewNop())
	require.NoError(t, err)
	return dispatcher, registry
}

func registerAgent(t *testing.T, registry *Registry, agentID string) *fakeConn {
	t.Helper()
	conn := &fakeConn{}
	_, err := registry.Register(agentID, "tenant-1", conn, AgentMetadata{Hostname: agentID})
	require.NoError(t, err)
	return conn
}

func TestSend_AgentUnavailable(t *testing.T) {
	dispatcher, _ := newTestDispatcher(t, time.Second)

	_, err := dispatcher.Send("ghost", "container.list", nil)
	require.Error(t, err)
	assert.True(t, IsAgentUnavailableError(err))
	assert.Equal(t, 0, dispatcher.PendingCount())
}

func TestSend_ResponseResolvesOnce(t *testing.T) {
	dispatcher, registry := newTestDispatcher(t, time.Second)
	conn := registerAgent(t, registry, "agent-1")

	p, err := dispatcher.Send("agent-1", "container.list", map[string]string{"filter": "running"})
	require.NoError(t, err)
	require.Equal(t, 1, dispatcher.PendingCount())

	cmds := conn.commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, p.CommandID, cmds[0].CommandID)
	assert.Equal(t, "container.list", cmds[0].Type)

	result := json.RawMessage(`{"containers":[]}`)
	dispatcher.HandleResponse(p.CommandID, result)

	got, err := p.Await(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, string(result), string(got))
	assert.Equal(t, 0, dispatcher.PendingCount())

	// A duplicate response is dropped, the outcome is unchanged
	dispatcher.HandleResponse(p.CommandID, json.RawMessage(`{"late":true}`))
	got, err = p.Await(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, string(result), string(got))
}

func TestSend_RemoteError(t *testing.T) {
	dispatcher, registry := newTestDispatcher(t, time.Second)
	registerAgent(t, registry, "agent-1")

	p, err := dispatcher.Send("agent-1", "vm.restart", nil)
	require.NoError(t, err)

	dispatcher.HandleError(p.CommandID, "decryption failed")

	_, err = p.Await(context.Background())
	require.Error(t, err)
	assert.True(t, IsRemoteError(err))
	assert.Contains(t, err.Error(), "decryption failed")
}

func TestSend_Timeout(t *testing.T) {
	dispatcher, registry := newTestDispatcher(t, 50*time.Millisecond)
	registerAgent(t, registry, "agent-1")

	p, err := dispatcher.Send("agent-1", "slow.op", nil)
	require.NoError(t, err)

	_, err = p.Await(context.Background())
	require.Error(t, err)
	assert.True(t, IsTimeoutError(err))
	assert.Equal(t, 0, dispatcher.PendingCount())
}

func TestSend_LateResponseAfterTimeout(t *testing.T) {
	dispatcher, registry := newTestDispatcher(t, 50*time.Millisecond)
	registerAgent(t, registry, "agent-1")

	p, err := dispatcher.Send("agent-1", "slow.op", nil)
	require.NoError(t, err)

	_, err = p.Await(context.Background())
	require.True(t, IsTimeoutError(err))

	// The answer eventually arrives; it must not resurrect the command
	dispatcher.HandleResponse(p.CommandID, json.RawMessage(`{"ok":true}`))

	_, err = p.Await(context.Background())
	assert.True(t, IsTimeoutError(err), "late response must not overwrite the timeout outcome")
}

func TestHandleResponse_UnknownCommand(t *testing.T) {
	dispatcher, _ := newTestDispatcher(t, time.Second)

	// Must not panic or create state
	dispatcher.HandleResponse("never-issued", json.RawMessage(`{}`))
	dispatcher.HandleError("never-issued", "boom")
	assert.Equal(t, 0, dispatcher.PendingCount())
}

func TestDisconnect_RejectsAllPending(t *testing.T) {
	dispatcher, registry := newTestDispatcher(t, time.Minute)
	conn := registerAgent(t, registry, "agent-1")
	registerAgent(t, registry, "agent-2")

	var pending []*Pending
	for i := 0; i < 3; i++ {
		p, err := dispatcher.Send("agent-1", "container.list", nil)
		require.NoError(t, err)
		pending = append(pending, p)
	}
	other, err := dispatcher.Send("agent-2", "container.list", nil)
	require.NoError(t, err)

	require.Equal(t, 4, dispatcher.PendingCount())
	require.Equal(t, 3, dispatcher.PendingFor("agent-1"))

	registry.Unregister("agent-1", conn)

	for _, p := range pending {
		_, err := p.Await(context.Background())
		require.Error(t, err)
		assert.True(t, IsDisconnectError(err))
	}

	// The other agent's command is untouched
	assert.False(t, other.Completed())
	assert.Equal(t, 1, dispatcher.PendingCount())
}

func TestSend_TransmitFailure(t *testing.T) {
	dispatcher, registry := newTestDispatcher(t, time.Second)
	conn := registerAgent(t, registry, "agent-1")

	conn.mu.Lock()
	conn.writeErr = errors.New("broken pipe")
	conn.mu.Unlock()

	_, err := dispatcher.Send("agent-1", "container.list", nil)
	require.Error(t, err)
	assert.Equal(t, 0, dispatcher.PendingCount())
}

func TestAwait_ContextCancellation(t *testing.T) {
	dispatcher, registry := newTestDispatcher(t, time.Minute)
	registerAgent(t, registry, "agent-1")

	p, err := dispatcher.Send("agent-1", "slow.op", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = p.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The command itself is still pending; only the waiter gave up
	assert.False(t, p.Completed())
	assert.Equal(t, 1, dispatcher.PendingCount())

	dispatcher.HandleResponse(p.CommandID, json.RawMessage(`{"ok":true}`))
	got, err := p.Await(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(got))
}
