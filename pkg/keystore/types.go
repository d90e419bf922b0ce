package keystore

import (
	"context"
	"time"
)

const (
	// EncryptionKeySize is the tenant encryption key length in bytes (AES-256)
	EncryptionKeySize = 32

	// DefaultCacheTTL is how long a resolved credential stays cached.
	// Expiry is measured from insertion; reads do not extend it.
	DefaultCacheTTL = 5 * time.Minute

	// DefaultCacheSize bounds the credential cache
	DefaultCacheSize = 1024
)

// TenantIdentity is the resolved view of a tenant credential, carried in
// request contexts after authentication.
type TenantIdentity struct {
	TenantID      string `json:"tenant_id"`
	ResourceName  string `json:"resource_name"`
	EncryptionKey []byte `json:"-"`
}

// TenantRecord is the persisted credential record. EncryptionKey is nil
// until the first authenticated request generates one.
type TenantRecord struct {
	TenantID      string
	SecretHash    string // hex SHA-256 of the bearer secret
	ResourceName  string
	EncryptionKey []byte
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TenantStore is the persistence layer behind the key store. It is the
// source of truth for tenant encryption keys; the cache in front of it is
// only a read-through accelerator.
type TenantStore interface {
	// FindBySecretHash returns the record matching the hashed secret, or
	// a NotFoundError.
	FindBySecretHash(ctx context.Context, secretHash string) (*TenantRecord, error)

	// EnsureEncryptionKey persists the candidate key for the tenant if no
	// key exists yet, and returns the key actually on record afterwards.
	// Two concurrent callers both reach the store, but exactly one key wins.
	EnsureEncryptionKey(ctx context.Context, tenantID string, candidate []byte) ([]byte, error)

	// CreateTenant registers a new tenant credential.
	CreateTenant(ctx context.Context, record *TenantRecord) error

	Close() error
}
