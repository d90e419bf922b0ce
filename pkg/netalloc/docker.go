package netalloc

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// DockerNetworker drives the container network substrate through the
// docker CLI. Networks are created with inter-container ICC left on inside
// the bridge but isolated from other bridges by docker's default policy.
type DockerNetworker struct {
	logger *zap.Logger
}

// NewDockerNetworker creates a docker-backed networker
func NewDockerNetworker(logger *zap.Logger) (*DockerNetworker, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &DockerNetworker{logger: logger}, nil
}

// CreateNetwork creates an isolated bridge network with the subnet
func (d *DockerNetworker) CreateNetwork(ctx context.Context, name, subnetCIDR, gateway string) error {
	return d.run(ctx, "network", "create",
		"--driver", "bridge",
		"--subnet", subnetCIDR,
		"--gateway", gateway,
		"--internal",
		name,
	)
}

// ConnectContainer attaches a running container to the network
func (d *DockerNetworker) ConnectContainer(ctx context.Context, network, container, address string) error {
	return d.run(ctx, "network", "connect", "--ip", address, network, container)
}

// DisconnectContainer detaches the container from the network
func (d *DockerNetworker) DisconnectContainer(ctx context.Context, network, container string) error {
	return d.run(ctx, "network", "disconnect", network, container)
}

// RemoveNetwork tears the network down
func (d *DockerNetworker) RemoveNetwork(ctx context.Context, name string) error {
	return d.run(ctx, "network", "rm", name)
}

func (d *DockerNetworker) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "docker", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("docker %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}

	d.logger.Debug("Docker network operation",
		zap.Strings("args", args),
	)

	return nil
}
