package keystore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteTenantStore persists tenant credential records in SQLite. The
// UNIQUE constraint on secret_hash and the guarded key update make it the
// single-key authority for each tenant.
type SQLiteTenantStore struct {
	db     *sql.DB
	logger *zap.Logger
}

const tenantSchema = `
CREATE TABLE IF NOT EXISTS tenants (
	tenant_id      TEXT PRIMARY KEY,
	secret_hash    TEXT NOT NULL UNIQUE,
	resource_name  TEXT NOT NULL,
	encryption_key BLOB,
	created_at     TIMESTAMP NOT NULL,
	updated_at     TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tenants_secret_hash ON tenants(secret_hash);
`

// NewSQLiteTenantStore opens (and migrates) a SQLite-backed tenant store
func NewSQLiteTenantStore(path string, logger *zap.Logger) (*SQLiteTenantStore, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open tenant database: %w", err)
	}

	// SQLite writers must be serialized through a single connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(tenantSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply tenant schema: %w", err)
	}

	logger.Info("Tenant store opened", zap.String("path", path))

	return &SQLiteTenantStore{db: db, logger: logger}, nil
}

// FindBySecretHash returns the record matching the hashed secret
func (s *SQLiteTenantStore) FindBySecretHash(ctx context.Context, secretHash string) (*TenantRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT tenant_id, secret_hash, resource_name, encryption_key, created_at, updated_at
		 FROM tenants WHERE secret_hash = ?`, secretHash)

	record := &TenantRecord{}
	var key []byte
	err := row.Scan(&record.TenantID, &record.SecretHash, &record.ResourceName,
		&key, &record.CreatedAt, &record.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{SecretHash: secretHash}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query tenant: %w", err)
	}
	record.EncryptionKey = key

	return record, nil
}

// EnsureEncryptionKey stores the candidate key only if the tenant has none,
// then reads back whichever key is on record. Concurrent callers may both
// attempt the update; the WHERE clause lets exactly one win.
func (s *SQLiteTenantStore) EnsureEncryptionKey(ctx context.Context, tenantID string, candidate []byte) ([]byte, error) {
	if len(candidate) != EncryptionKeySize {
		return nil, fmt.Errorf("candidate key must be %d bytes, got %d", EncryptionKeySize, len(candidate))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE tenants SET encryption_key = ?, updated_at = ?
		 WHERE tenant_id = ? AND encryption_key IS NULL`,
		candidate, time.Now().UTC(), tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to store encryption key: %w", err)
	}

	var key []byte
	err = tx.QueryRowContext(ctx,
		`SELECT encryption_key FROM tenants WHERE tenant_id = ?`, tenantID).Scan(&key)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("tenant %s not found", tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read back encryption key: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit encryption key: %w", err)
	}

	if rows, _ := res.RowsAffected(); rows == 1 {
		s.logger.Debug("Encryption key written", zap.String("tenant_id", tenantID))
	}

	return key, nil
}

// CreateTenant registers a new tenant credential
func (s *SQLiteTenantStore) CreateTenant(ctx context.Context, record *TenantRecord) error {
	if record == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if record.TenantID == "" || record.SecretHash == "" {
		return fmt.Errorf("tenant_id and secret_hash are required")
	}

	now := time.Now().UTC()
	var key interface{}
	if len(record.EncryptionKey) > 0 {
		key = record.EncryptionKey
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (tenant_id, secret_hash, resource_name, encryption_key, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		record.TenantID, record.SecretHash, record.ResourceName, key, now, now)
	if err != nil {
		return fmt.Errorf("failed to create tenant %s: %w", record.TenantID, err)
	}

	s.logger.Info("Tenant registered",
		zap.String("tenant_id", record.TenantID),
		zap.String("resource", record.ResourceName),
	)

	return nil
}

// Close closes the underlying database
func (s *SQLiteTenantStore) Close() error {
	return s.db.Close()
}
