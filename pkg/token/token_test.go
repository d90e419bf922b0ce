package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	manager, err := NewManager(ManagerConfig{Logger: zap.NewNop()})
	require.NoError(t, err)
	return manager
}

func TestGenerateAndValidate(t *testing.T) {
	manager := newTestManager(t)

	issued, err := manager.Generate("agent-1", "tenant-1", time.Hour, 1)
	require.NoError(t, err)
	assert.NotEmpty(t, issued.Token)
	assert.Equal(t, "agent-1", issued.AgentID)
	assert.Equal(t, "tenant-1", issued.TenantID)

	validated, err := manager.Validate(issued.Token)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", validated.AgentID)
	assert.Equal(t, "tenant-1", validated.TenantID)
	assert.Equal(t, 1, validated.UseCount)
}

func TestGenerate_Defaults(t *testing.T) {
	manager := newTestManager(t)

	issued, err := manager.Generate("agent-1", "tenant-1", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, issued.MaxUses)
	assert.True(t, issued.ExpiresAt.After(time.Now().Add(23*time.Hour)))

	_, err = manager.Generate("", "tenant-1", time.Hour, 1)
	assert.Error(t, err)
}

func TestValidate_MaxUses(t *testing.T) {
	manager := newTestManager(t)

	issued, err := manager.Generate("agent-1", "tenant-1", time.Hour, 2)
	require.NoError(t, err)

	_, err = manager.Validate(issued.Token)
	require.NoError(t, err)
	_, err = manager.Validate(issued.Token)
	require.NoError(t, err)

	_, err = manager.Validate(issued.Token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum uses")
}

func TestValidate_Expired(t *testing.T) {
	manager := newTestManager(t)

	issued, err := manager.Generate("agent-1", "tenant-1", 10*time.Millisecond, 5)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	_, err = manager.Validate(issued.Token)
	assert.Error(t, err)
}

func TestValidate_WrongSigningKey(t *testing.T) {
	issued, err := newTestManager(t).Generate("agent-1", "tenant-1", time.Hour, 1)
	require.NoError(t, err)

	// A manager with a different key must refuse the token
	other := newTestManager(t)
	_, err = other.Validate(issued.Token)
	assert.Error(t, err)
}

func TestValidate_Garbage(t *testing.T) {
	manager := newTestManager(t)

	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		_, err := manager.Validate(token)
		assert.Error(t, err, "token %q should be rejected", token)
	}
}

func TestRevoke(t *testing.T) {
	manager := newTestManager(t)

	issued, err := manager.Generate("agent-1", "tenant-1", time.Hour, 5)
	require.NoError(t, err)

	assert.True(t, manager.Revoke(issued.ID))
	assert.False(t, manager.Revoke(issued.ID))

	_, err = manager.Validate(issued.Token)
	assert.Error(t, err)
}

func TestCleanupExpired(t *testing.T) {
	manager := newTestManager(t)

	_, err := manager.Generate("agent-1", "tenant-1", 10*time.Millisecond, 1)
	require.NoError(t, err)
	_, err = manager.Generate("agent-2", "tenant-1", time.Hour, 1)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 1, manager.CleanupExpired())
	assert.Equal(t, 0, manager.CleanupExpired())
}
