package netalloc

import (
	"context"

	"go.uber.org/zap"
)

// NoopNetworker records allocations without touching any network substrate.
// Used when provisioning is disabled and the allocator only plans addresses.
type NoopNetworker struct {
	logger *zap.Logger
}

// NewNoopNetworker creates a networker that performs no provisioning
func NewNoopNetworker(logger *zap.Logger) *NoopNetworker {
	return &NoopNetworker{logger: logger}
}

func (n *NoopNetworker) CreateNetwork(ctx context.Context, name, subnetCIDR, gateway string) error {
	n.logger.Debug("Network provisioning disabled, skipping create",
		zap.String("network", name),
		zap.String("subnet", subnetCIDR),
	)
	return nil
}

func (n *NoopNetworker) ConnectContainer(ctx context.Context, network, container, address string) error {
	return nil
}

func (n *NoopNetworker) DisconnectContainer(ctx context.Context, network, container string) error {
	return nil
}

func (n *NoopNetworker) RemoveNetwork(ctx context.Context, name string) error {
	return nil
}
