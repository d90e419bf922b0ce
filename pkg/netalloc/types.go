package netalloc

import (
	"context"
	"time"
)

// Role names for per-tenant deterministic addresses
const (
	RoleVM        = "vm"
	RoleFileShare = "fileShare"
	RoleRelay     = "relay"
)

// Host offsets inside each tenant /24. Deterministic so addresses are
// reproducible from the tenant index alone, with no allocator table.
const (
	gatewayOffset   = 1
	relayOffset     = 2
	vmOffset        = 10
	fileShareOffset = 20
)

// Allocation is one tenant's isolated address block
type Allocation struct {
	TenantID       string            `json:"tenant_id"`
	Index          int               `json:"index"`
	SubnetCIDR     string            `json:"subnet_cidr"`
	GatewayAddress string            `json:"gateway_address"`
	Addresses      map[string]string `json:"addresses"` // role -> address
	NetworkName    string            `json:"network_name"`
	CreatedAt      time.Time         `json:"created_at"`
	RelayAttached  bool              `json:"relay_attached"`
}

// Networker manipulates the container network substrate. The production
// implementation shells out to docker; tests use an in-memory fake.
type Networker interface {
	// CreateNetwork creates an isolated bridge network with the subnet
	CreateNetwork(ctx context.Context, name, subnetCIDR, gateway string) error

	// ConnectContainer attaches a running container to the network at a
	// fixed address (multi-homing it onto the tenant network)
	ConnectContainer(ctx context.Context, network, container, address string) error

	// DisconnectContainer detaches the container from the network
	DisconnectContainer(ctx context.Context, network, container string) error

	// RemoveNetwork tears the network down
	RemoveNetwork(ctx context.Context, name string) error
}
