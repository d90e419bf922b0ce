// Package token issues and validates agent join tokens. An executor must
// present a valid join token when opening its persistent connection; the
// token binds the connection to an agent ID and tenant.
package token

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultValidity = 24 * time.Hour

// JoinToken authorizes one agent to connect
type JoinToken struct {
	ID        string
	Token     string
	AgentID   string
	TenantID  string
	CreatedAt time.Time
	ExpiresAt time.Time
	MaxUses   int
	UseCount  int
}

// JoinClaims are the JWT claims carried by a join token
type JoinClaims struct {
	TokenID  string `json:"token_id"`
	AgentID  string `json:"agent_id"`
	TenantID string `json:"tenant_id"`
	MaxUses  int    `json:"max_uses"`
	jwt.RegisteredClaims
}

// ManagerConfig contains configuration for the token manager
type ManagerConfig struct {
	SigningKey []byte
	Logger     *zap.Logger
}

// Manager issues HS256-signed join tokens and tracks their use
type Manager struct {
	signingKey []byte
	logger     *zap.Logger

	mu     sync.Mutex
	tokens map[string]*JoinToken // tokenID -> token (without the signed string)
}

// NewManager creates a new token manager
func NewManager(config ManagerConfig) (*Manager, error) {
	if len(config.SigningKey) == 0 {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate signing key: %w", err)
		}
		config.SigningKey = key
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &Manager{
		signingKey: config.SigningKey,
		logger:     config.Logger,
		tokens:     make(map[string]*JoinToken),
	}, nil
}

// Generate issues a join token for the agent
func (m *Manager) Generate(agentID, tenantID string, validity time.Duration, maxUses int) (*JoinToken, error) {
	if agentID == "" {
		return nil, fmt.Errorf("agent ID is required")
	}
	if validity <= 0 {
		validity = defaultValidity
	}
	if maxUses <= 0 {
		maxUses = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tokenID := uuid.New().String()
	now := time.Now()
	expiresAt := now.Add(validity)

	claims := JoinClaims{
		TokenID:  tokenID,
		AgentID:  agentID,
		TenantID: tenantID,
		MaxUses:  maxUses,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    "thinrelay",
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.signingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	joinToken := &JoinToken{
		ID:        tokenID,
		Token:     signed,
		AgentID:   agentID,
		TenantID:  tenantID,
		CreatedAt: now,
		ExpiresAt: expiresAt,
		MaxUses:   maxUses,
	}

	// Track by ID only; the signed string is returned once and not stored
	stored := *joinToken
	stored.Token = ""
	m.tokens[tokenID] = &stored

	m.logger.Info("Join token issued",
		zap.String("token_id", tokenID),
		zap.String("agent_id", agentID),
		zap.String("tenant_id", tenantID),
		zap.Time("expires_at", expiresAt),
	)

	return joinToken, nil
}

// Validate checks a presented join token and consumes one use
func (m *Manager) Validate(tokenString string) (*JoinToken, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &JoinClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("token is invalid")
	}

	claims, ok := parsed.Claims.(*JoinClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored, exists := m.tokens[claims.TokenID]
	if !exists {
		return nil, fmt.Errorf("token not found")
	}
	if time.Now().After(stored.ExpiresAt) {
		return nil, fmt.Errorf("token has expired")
	}
	if stored.UseCount >= stored.MaxUses {
		return nil, fmt.Errorf("token has reached maximum uses (%d/%d)", stored.UseCount, stored.MaxUses)
	}

	stored.UseCount++

	m.logger.Debug("Join token accepted",
		zap.String("token_id", stored.ID),
		zap.String("agent_id", stored.AgentID),
	)

	result := *stored
	return &result, nil
}

// Revoke invalidates a token before expiry
func (m *Manager) Revoke(tokenID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tokens[tokenID]; !exists {
		return false
	}
	delete(m.tokens, tokenID)

	m.logger.Info("Join token revoked",
		zap.String("token_id", tokenID),
	)

	return true
}

// CleanupExpired removes expired tokens and returns how many were dropped
func (m *Manager) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, t := range m.tokens {
		if now.After(t.ExpiresAt) {
			delete(m.tokens, id)
			removed++
		}
	}
	return removed
}
