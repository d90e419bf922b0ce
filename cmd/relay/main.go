package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/thinrelay/thinrelay/pkg/dispatch"
	"github.com/thinrelay/thinrelay/pkg/gateway"
	"github.com/thinrelay/thinrelay/pkg/keystore"
	"github.com/thinrelay/thinrelay/pkg/netalloc"
	"github.com/thinrelay/thinrelay/pkg/observability"
	"github.com/thinrelay/thinrelay/pkg/payload"
	"github.com/thinrelay/thinrelay/pkg/token"
)

var (
	// Build information (set via ldflags)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	logger *zap.Logger

	rootCmd = &cobra.Command{
		Use:   "relay",
		Short: "Thinrelay - Encrypted command relay for tenant executors",
		Long: `The Thinrelay server bridges tenant HTTP requests to persistent executor
connections, encrypting script payloads per tenant and tracking each relayed
command to exactly one outcome.`,
		RunE: run,
	}
)

func init() {
	// Set up flags
	rootCmd.PersistentFlags().String("config", "", "Config file path")
	rootCmd.PersistentFlags().String("data-dir", "/var/lib/thinrelay", "Data directory for persistent storage")
	rootCmd.PersistentFlags().String("listen-addr", "0.0.0.0:8080", "HTTP server bind address")
	rootCmd.PersistentFlags().String("metrics-addr", "0.0.0.0:9090", "Metrics server bind address")
	rootCmd.PersistentFlags().String("catalog-dir", "/etc/thinrelay/catalog", "Tool catalog directory")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Duration("command-timeout", dispatch.DefaultCommandTimeout, "Deadline for an executor to answer a relayed command")
	rootCmd.PersistentFlags().Duration("command-wait", 90*time.Second, "How long HTTP callers wait for a relayed command result")
	rootCmd.PersistentFlags().Duration("key-cache-ttl", keystore.DefaultCacheTTL, "Tenant key cache entry lifetime")
	rootCmd.PersistentFlags().Int("key-cache-size", keystore.DefaultCacheSize, "Tenant key cache capacity")
	rootCmd.PersistentFlags().String("token-signing-key", "", "Base64-encoded join token signing key")

	// Tenant network provisioning flags
	rootCmd.PersistentFlags().Bool("network-enabled", false, "Enable tenant network provisioning via docker")
	rootCmd.PersistentFlags().String("base-cidr", netalloc.DefaultBaseCIDR, "Private range tenant subnets are carved from")
	rootCmd.PersistentFlags().String("control-plane-cidr", "", "Control plane network tenant subnets must not overlap")
	rootCmd.PersistentFlags().String("relay-container", "", "Relay container attached to tenant networks")

	// Bind flags to viper
	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	viper.BindPFlag("listen_addr", rootCmd.PersistentFlags().Lookup("listen-addr"))
	viper.BindPFlag("metrics_addr", rootCmd.PersistentFlags().Lookup("metrics-addr"))
	viper.BindPFlag("catalog_dir", rootCmd.PersistentFlags().Lookup("catalog-dir"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("command_timeout", rootCmd.PersistentFlags().Lookup("command-timeout"))
	viper.BindPFlag("command_wait", rootCmd.PersistentFlags().Lookup("command-wait"))
	viper.BindPFlag("key_cache.ttl", rootCmd.PersistentFlags().Lookup("key-cache-ttl"))
	viper.BindPFlag("key_cache.size", rootCmd.PersistentFlags().Lookup("key-cache-size"))
	viper.BindPFlag("token_signing_key", rootCmd.PersistentFlags().Lookup("token-signing-key"))
	viper.BindPFlag("network.enabled", rootCmd.PersistentFlags().Lookup("network-enabled"))
	viper.BindPFlag("network.base_cidr", rootCmd.PersistentFlags().Lookup("base-cidr"))
	viper.BindPFlag("network.control_plane_cidr", rootCmd.PersistentFlags().Lookup("control-plane-cidr"))
	viper.BindPFlag("network.relay_container", rootCmd.PersistentFlags().Lookup("relay-container"))

	// Set up environment variable binding
	viper.SetEnvPrefix("THINRELAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Add version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Thinrelay\n")
			fmt.Printf("  Version:    %s\n", Version)
			fmt.Printf("  Build Time: %s\n", BuildTime)
			fmt.Printf("  Git Commit: %s\n", GitCommit)
		},
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	// Load configuration
	if configFile := viper.GetString("config"); configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Initialize logger
	var err error
	logger, err = observability.NewLogger(viper.GetString("log_level"))
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("Starting Thinrelay",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	dataDir := viper.GetString("data_dir")
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	// Tenant store and key resolution
	tenantStore, err := keystore.NewSQLiteTenantStore(dataDir+"/tenants.db", logger)
	if err != nil {
		return fmt.Errorf("failed to open tenant store: %w", err)
	}
	defer tenantStore.Close()

	keys, err := keystore.New(keystore.Config{
		CacheTTL:  viper.GetDuration("key_cache.ttl"),
		CacheSize: viper.GetInt("key_cache.size"),
	}, tenantStore, logger)
	if err != nil {
		return fmt.Errorf("failed to create key store: %w", err)
	}

	// Bootstrap a development tenant (only if explicitly enabled)
	if secret := os.Getenv("THINRELAY_BOOTSTRAP_TENANT_SECRET"); secret != "" {
		logger.Warn("Bootstrap tenant creation enabled",
			zap.String("security_warning", "DEVELOPMENT ONLY - Never enable in production"),
		)
		if err := bootstrapTenant(ctx, tenantStore, secret); err != nil {
			logger.Warn("Failed to bootstrap tenant", zap.Error(err))
		}
	}

	// Tool catalog and payload builder
	catalog, err := payload.LoadCatalog(viper.GetString("catalog_dir"), logger)
	if err != nil {
		return fmt.Errorf("failed to load tool catalog: %w", err)
	}

	builder, err := payload.NewBuilder(catalog, logger)
	if err != nil {
		return fmt.Errorf("failed to create payload builder: %w", err)
	}

	// Agent registry and command dispatch
	registry := dispatch.NewRegistry(logger)
	dispatcher, err := dispatch.NewDispatcher(dispatch.Config{
		CommandTimeout: viper.GetDuration("command_timeout"),
	}, registry, logger)
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	// Tenant network allocation
	var networker netalloc.Networker = netalloc.NewNoopNetworker(logger)
	if viper.GetBool("network.enabled") {
		networker, err = netalloc.NewDockerNetworker(logger)
		if err != nil {
			return fmt.Errorf("failed to create networker: %w", err)
		}
	}
	allocator, err := netalloc.NewAllocator(netalloc.Config{
		BaseCIDR:         viper.GetString("network.base_cidr"),
		ControlPlaneCIDR: viper.GetString("network.control_plane_cidr"),
		RelayContainer:   viper.GetString("network.relay_container"),
	}, networker, logger)
	if err != nil {
		return fmt.Errorf("failed to create network allocator: %w", err)
	}

	// Join token issuance
	var signingKey []byte
	if keyB64 := viper.GetString("token_signing_key"); keyB64 != "" {
		signingKey, err = base64.StdEncoding.DecodeString(keyB64)
		if err != nil {
			return fmt.Errorf("failed to decode token signing key: %w", err)
		}
	}
	tokens, err := token.NewManager(token.ManagerConfig{
		SigningKey: signingKey,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create token manager: %w", err)
	}

	// Start metrics server
	metricsServer := observability.NewMetricsServer(viper.GetString("metrics_addr"), logger)
	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// Start gateway
	server := gateway.NewServer(gateway.Config{
		Addr:        viper.GetString("listen_addr"),
		CommandWait: viper.GetDuration("command_wait"),
		Version:     Version,
		GitCommit:   GitCommit,
	}, keys, catalog, builder, registry, dispatcher, allocator, tokens, logger)

	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}

	// Wait for shutdown signal
	select {
	case <-sigChan:
		logger.Info("Received shutdown signal")
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	// Graceful shutdown
	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping gateway", zap.Error(err))
	}

	if err := metricsServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping metrics server", zap.Error(err))
	}

	logger.Info("Shutdown complete")
	return nil
}

// bootstrapTenant creates a development tenant keyed by the given secret.
// Existing tenants are left alone.
func bootstrapTenant(ctx context.Context, store keystore.TenantStore, secret string) error {
	hash := keystore.HashSecret(secret)
	if _, err := store.FindBySecretHash(ctx, hash); err == nil {
		return nil
	}

	key, err := keystore.GenerateEncryptionKey()
	if err != nil {
		return err
	}

	now := time.Now()
	record := &keystore.TenantRecord{
		TenantID:      "dev-tenant",
		SecretHash:    hash,
		ResourceName:  "dev",
		EncryptionKey: key,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := store.CreateTenant(ctx, record); err != nil {
		return err
	}

	logger.Info("Bootstrap tenant created",
		zap.String("tenant_id", record.TenantID),
	)
	return nil
}
