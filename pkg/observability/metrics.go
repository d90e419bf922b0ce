package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric registries for different subsystems

// Dispatcher Metrics
var (
	DispatchCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thinrelay_dispatch_commands_total",
			Help: "Total number of commands dispatched to agents",
		},
		[]string{"type", "outcome"}, // completed, failed, timeout, disconnect, unavailable
	)

	DispatchCommandDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "thinrelay_dispatch_command_duration_seconds",
			Help:    "Time from command send to terminal outcome in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 15.0, 30.0, 60.0},
		},
		[]string{"type"},
	)

	DispatchPendingCommands = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "thinrelay_dispatch_pending_commands",
			Help: "Number of commands currently awaiting a terminal outcome",
		},
	)

	DispatchLateMessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "thinrelay_dispatch_late_messages_total",
			Help: "Responses or errors received for unknown or already-completed commands",
		},
	)
)

// Agent Registry Metrics
var (
	AgentsConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "thinrelay_agents_connected",
			Help: "Number of live agent connections",
		},
	)

	AgentRegistrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thinrelay_agent_registrations_total",
			Help: "Total number of agent registration events",
		},
		[]string{"event"}, // register, replace, unregister
	)

	AgentMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thinrelay_agent_messages_total",
			Help: "Total number of messages exchanged with agents",
		},
		[]string{"direction", "type"}, // direction: inbound, outbound
	)
)

// KeyStore Metrics
var (
	KeyStoreResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thinrelay_keystore_resolutions_total",
			Help: "Total number of credential resolutions",
		},
		[]string{"result"}, // hit, miss, invalid
	)

	KeyStoreResolveDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "thinrelay_keystore_resolve_duration_seconds",
			Help:    "Duration of credential resolution in seconds",
			Buckets: []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
	)

	KeyStoreKeysGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "thinrelay_keystore_keys_generated_total",
			Help: "Total number of tenant encryption keys generated on first use",
		},
	)
)

// Payload Metrics
var (
	PayloadEncryptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thinrelay_payload_encryptions_total",
			Help: "Total number of payload encryptions",
		},
		[]string{"kind", "result"}, // kind: script, command, helper
	)

	PayloadBuildDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "thinrelay_payload_build_duration_seconds",
			Help:    "Duration of execution unit assembly in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
	)

	PayloadHelpersOmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "thinrelay_payload_helpers_omitted_total",
			Help: "Helper scripts omitted from execution units because they failed to load",
		},
	)
)

// Network Allocator Metrics
var (
	NetworkAllocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thinrelay_network_allocations_total",
			Help: "Total number of tenant network allocation operations",
		},
		[]string{"operation", "result"}, // operation: allocate, attach, release
	)

	NetworkSubnetsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "thinrelay_network_subnets_active",
			Help: "Number of tenant subnets currently allocated",
		},
	)
)

// Gateway Metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thinrelay_http_requests_total",
			Help: "Total number of HTTP requests handled by the gateway",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "thinrelay_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"method", "path"},
	)

	AuthFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "thinrelay_auth_failures_total",
			Help: "Total number of rejected bearer credentials",
		},
	)
)
