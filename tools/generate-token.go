package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/thinrelay/thinrelay/pkg/keystore"
	"github.com/thinrelay/thinrelay/pkg/token"
)

// Seeds a local tenant database and prints long-lived join tokens for a
// handful of dev agents. Matches the fixed secrets in docker-compose.yml.
//
// The relay validates join tokens against the issuing manager's in-memory
// use tracking, so the tokens printed here cannot authenticate an agent to
// a separately started relay even with a shared signing key. Mint real
// ones through POST /api/agents/{agentID}/join-token; this output shows
// the token shape for executor development.
func main() {
	logger, _ := zap.NewDevelopment()

	dbPath := "./tenants.db"
	if len(os.Args) > 1 {
		dbPath = os.Args[1]
	}

	store, err := keystore.NewSQLiteTenantStore(dbPath, logger)
	if err != nil {
		panic(err)
	}
	defer store.Close()

	tenants := []struct {
		TenantID     string
		Secret       string
		ResourceName string
	}{
		{"tenant-1", "dev-secret-tenant-1", "dev-vm-1"},
		{"tenant-2", "dev-secret-tenant-2", "dev-vm-2"},
	}

	for _, t := range tenants {
		key, err := keystore.GenerateEncryptionKey()
		if err != nil {
			panic(err)
		}
		err = store.CreateTenant(context.Background(), &keystore.TenantRecord{
			TenantID:      t.TenantID,
			SecretHash:    keystore.HashSecret(t.Secret),
			ResourceName:  t.ResourceName,
			EncryptionKey: key,
		})
		if err != nil {
			fmt.Printf("# %s: %v (already seeded?)\n\n", t.TenantID, err)
			continue
		}
		fmt.Printf("# %s -> %s\n", t.TenantID, t.ResourceName)
		fmt.Printf("secret: %s\n\n", t.Secret)
	}

	tm, err := token.NewManager(token.ManagerConfig{
		SigningKey: []byte("dev-signing-key-for-testing-only"),
		Logger:     logger,
	})
	if err != nil {
		panic(err)
	}

	agents := []struct {
		AgentID  string
		TenantID string
	}{
		{"agent-1", "tenant-1"},
		{"agent-2", "tenant-1"},
		{"agent-3", "tenant-2"},
	}

	for _, agent := range agents {
		joinToken, err := tm.Generate(agent.AgentID, agent.TenantID, 365*24*time.Hour, 999)
		if err != nil {
			panic(err)
		}
		fmt.Printf("# %s (%s)\n", agent.AgentID, agent.TenantID)
		fmt.Printf("%s\n\n", joinToken.Token)
	}
}
