// Package gateway is the relay's HTTP surface: tenant-authenticated
// execution and provisioning endpoints, and the persistent agent
// connection endpoint.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/thinrelay/thinrelay/pkg/dispatch"
	"github.com/thinrelay/thinrelay/pkg/keystore"
	"github.com/thinrelay/thinrelay/pkg/netalloc"
	"github.com/thinrelay/thinrelay/pkg/observability"
	"github.com/thinrelay/thinrelay/pkg/payload"
	"github.com/thinrelay/thinrelay/pkg/token"
)

// Config contains gateway configuration
type Config struct {
	Addr string

	// CommandWait bounds how long a relayed command handler waits for the
	// agent's reply before answering the HTTP caller
	CommandWait time.Duration

	// Build information, reported by the status endpoint
	Version   string
	GitCommit string
}

// Server wires the relay components behind a chi router
type Server struct {
	config     Config
	keys       *keystore.KeyStore
	builder    *payload.Builder
	catalog    *payload.Catalog
	registry   *dispatch.Registry
	dispatcher *dispatch.Dispatcher
	allocator  *netalloc.Allocator
	tokens     *token.Manager
	logger     *zap.Logger

	httpServer *http.Server
	startedAt  time.Time
}

// NewServer creates the gateway server
func NewServer(
	config Config,
	keys *keystore.KeyStore,
	catalog *payload.Catalog,
	builder *payload.Builder,
	registry *dispatch.Registry,
	dispatcher *dispatch.Dispatcher,
	allocator *netalloc.Allocator,
	tokens *token.Manager,
	logger *zap.Logger,
) *Server {
	if config.CommandWait <= 0 {
		config.CommandWait = 90 * time.Second
	}

	s := &Server{
		config:     config,
		keys:       keys,
		builder:    builder,
		catalog:    catalog,
		registry:   registry,
		dispatcher: dispatcher,
		allocator:  allocator,
		tokens:     tokens,
		logger:     logger,
		startedAt:  time.Now(),
	}

	s.httpServer = &http.Server{
		Addr:              config.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the configured router, used directly by tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(observability.RequestLogging(s.logger))

	// Agent connections authenticate with join tokens, not tenant secrets
	r.Get("/ws/agent", s.handleAgentWS)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Post("/api/execute", s.handleExecute)
		r.Get("/api/tools", s.handleListTools)

		r.Get("/api/agents", s.handleListAgents)
		r.Post("/api/agents/{agentID}/command", s.handleAgentCommand)
		r.Post("/api/agents/{agentID}/join-token", s.handleJoinToken)

		r.Post("/api/network/allocate", s.handleNetworkAllocate)
		r.Post("/api/network/attach-relay", s.handleNetworkAttach)
		r.Delete("/api/network", s.handleNetworkRelease)

		r.Get("/api/status", s.handleStatus)
	})

	return r
}

// Start begins serving requests
func (s *Server) Start() error {
	s.logger.Info("Starting gateway",
		zap.String("address", s.config.Addr),
	)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Gateway server error",
				zap.Error(err),
			)
		}
	}()

	return nil
}

// Stop shuts the gateway down gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping gateway")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(shutdownCtx)
}
