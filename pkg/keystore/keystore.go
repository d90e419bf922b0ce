package keystore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/thinrelay/thinrelay/pkg/observability"
)

// KeyStore resolves opaque tenant credentials to tenant identities with a
// bounded-TTL read-through cache in front of the persistent store.
type KeyStore struct {
	config Config
	store  TenantStore
	logger *zap.Logger
	cache  *expirable.LRU[string, TenantIdentity]
}

// Config contains key store configuration
type Config struct {
	CacheTTL  time.Duration
	CacheSize int
}

// New creates a new key store
func New(config Config, store TenantStore, logger *zap.Logger) (*KeyStore, error) {
	if store == nil {
		return nil, fmt.Errorf("tenant store is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = DefaultCacheTTL
	}
	if config.CacheSize <= 0 {
		config.CacheSize = DefaultCacheSize
	}

	return &KeyStore{
		config: config,
		store:  store,
		logger: logger,
		// TTL runs from insertion; a Get on a live entry does not extend it.
		cache: expirable.NewLRU[string, TenantIdentity](config.CacheSize, nil, config.CacheTTL),
	}, nil
}

// Resolve authenticates a bearer secret and returns the tenant identity.
// On the first authenticated request for a tenant without an encryption key,
// a fresh 256-bit key is generated and persisted; the store arbitrates
// concurrent generation so exactly one key survives.
func (ks *KeyStore) Resolve(ctx context.Context, secret string) (*TenantIdentity, error) {
	start := time.Now()
	defer func() {
		observability.KeyStoreResolveDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	if secret == "" {
		observability.KeyStoreResolutionsTotal.WithLabelValues("invalid").Inc()
		return nil, &AuthError{Reason: ErrMissingCredential.Error()}
	}

	secretHash := HashSecret(secret)

	if identity, ok := ks.cache.Get(secretHash); ok {
		observability.KeyStoreResolutionsTotal.WithLabelValues("hit").Inc()
		return &identity, nil
	}

	record, err := ks.store.FindBySecretHash(ctx, secretHash)
	if err != nil {
		if IsNotFoundError(err) {
			observability.KeyStoreResolutionsTotal.WithLabelValues("invalid").Inc()
			ks.logger.Warn("Unknown credential presented",
				zap.String("secret_hash_prefix", secretHash[:12]),
			)
			return nil, &AuthError{Reason: "invalid credential"}
		}
		return nil, fmt.Errorf("failed to look up credential: %w", err)
	}

	key := record.EncryptionKey
	if len(key) == 0 {
		candidate, err := GenerateEncryptionKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate encryption key: %w", err)
		}
		key, err = ks.store.EnsureEncryptionKey(ctx, record.TenantID, candidate)
		if err != nil {
			return nil, fmt.Errorf("failed to persist encryption key: %w", err)
		}
		observability.KeyStoreKeysGenerated.Inc()
		ks.logger.Info("Encryption key provisioned for tenant",
			zap.String("tenant_id", record.TenantID),
		)
	}

	identity := TenantIdentity{
		TenantID:      record.TenantID,
		ResourceName:  record.ResourceName,
		EncryptionKey: key,
	}

	ks.cache.Add(secretHash, identity)
	observability.KeyStoreResolutionsTotal.WithLabelValues("miss").Inc()

	ks.logger.Debug("Credential resolved",
		zap.String("tenant_id", record.TenantID),
		zap.String("resource", record.ResourceName),
	)

	return &identity, nil
}

// Invalidate drops any cached entry for the secret
func (ks *KeyStore) Invalidate(secret string) {
	ks.cache.Remove(HashSecret(secret))
}

// CacheLen returns the number of live cache entries
func (ks *KeyStore) CacheLen() int {
	return ks.cache.Len()
}

// HashSecret returns the hex SHA-256 digest of a bearer secret. Raw secrets
// are never used as map keys or persisted.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// GenerateEncryptionKey generates a cryptographically random 256-bit key
func GenerateEncryptionKey() ([]byte, error) {
	key := make([]byte, EncryptionKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return key, nil
}
