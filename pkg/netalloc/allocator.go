package netalloc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/thinrelay/thinrelay/pkg/observability"
)

// Config contains allocator configuration
type Config struct {
	// BaseCIDR is the private range tenant /24 blocks are carved from
	BaseCIDR string

	// ControlPlaneCIDR is the network tenant subnets must never overlap
	// or route to
	ControlPlaneCIDR string

	// RelayContainer is the shared relay process attached to each tenant
	// network as a second interface
	RelayContainer string
}

// DefaultBaseCIDR is the tenant address space when none is configured
const DefaultBaseCIDR = "10.210.0.0/16"

// Allocator assigns each tenant an isolated /24 from the base range by a
// deterministic per-tenant index. Distinct indices give structurally
// disjoint subnets; the overlap checks at allocation time re-verify that
// instead of assuming it.
type Allocator struct {
	config    Config
	networker Networker
	logger    *zap.Logger

	baseNet      *net.IPNet
	controlPlane *net.IPNet
	maxIndex     int

	mu          sync.Mutex
	allocations map[string]*Allocation // tenantID -> allocation
	usedIndices map[int]string         // index -> tenantID
}

// NewAllocator creates a new network allocator
func NewAllocator(config Config, networker Networker, logger *zap.Logger) (*Allocator, error) {
	if networker == nil {
		return nil, fmt.Errorf("networker is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if config.BaseCIDR == "" {
		config.BaseCIDR = DefaultBaseCIDR
	}

	_, baseNet, err := net.ParseCIDR(config.BaseCIDR)
	if err != nil {
		return nil, fmt.Errorf("invalid base CIDR: %w", err)
	}
	ones, bits := baseNet.Mask.Size()
	if bits != 32 {
		return nil, fmt.Errorf("only IPv4 base ranges are supported")
	}
	if ones > 24 {
		return nil, fmt.Errorf("base CIDR %s is too small to carve /24 blocks", config.BaseCIDR)
	}

	var controlPlane *net.IPNet
	if config.ControlPlaneCIDR != "" {
		_, controlPlane, err = net.ParseCIDR(config.ControlPlaneCIDR)
		if err != nil {
			return nil, fmt.Errorf("invalid control-plane CIDR: %w", err)
		}
	}

	return &Allocator{
		config:       config,
		networker:    networker,
		logger:       logger,
		baseNet:      baseNet,
		controlPlane: controlPlane,
		maxIndex:     1 << uint(24-ones),
		allocations:  make(map[string]*Allocation),
		usedIndices:  make(map[int]string),
	}, nil
}

// Allocate assigns the tenant a /24 block with deterministic role addresses
// and creates the backing network. Allocating an already-provisioned tenant
// returns its existing allocation.
func (a *Allocator) Allocate(ctx context.Context, tenantID string) (*Allocation, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant ID is required")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if existing, ok := a.allocations[tenantID]; ok {
		return existing, nil
	}

	index, err := a.claimIndexLocked(tenantID)
	if err != nil {
		observability.NetworkAllocationsTotal.WithLabelValues("allocate", "failure").Inc()
		return nil, err
	}

	allocation := a.buildAllocation(tenantID, index)

	// Isolation is an invariant, not an assumption: re-verify the new
	// subnet against the control plane and every live tenant block.
	if err := a.verifyIsolationLocked(allocation); err != nil {
		delete(a.usedIndices, index)
		observability.NetworkAllocationsTotal.WithLabelValues("allocate", "failure").Inc()
		return nil, err
	}

	if err := a.networker.CreateNetwork(ctx, allocation.NetworkName, allocation.SubnetCIDR, allocation.GatewayAddress); err != nil {
		delete(a.usedIndices, index)
		observability.NetworkAllocationsTotal.WithLabelValues("allocate", "failure").Inc()
		return nil, fmt.Errorf("failed to create tenant network: %w", err)
	}

	a.allocations[tenantID] = allocation
	observability.NetworkAllocationsTotal.WithLabelValues("allocate", "success").Inc()
	observability.NetworkSubnetsActive.Set(float64(len(a.allocations)))

	a.logger.Info("Tenant network allocated",
		zap.String("tenant_id", tenantID),
		zap.Int("index", index),
		zap.String("subnet", allocation.SubnetCIDR),
	)

	return allocation, nil
}

// AttachRelay multi-homes the shared relay container onto the tenant
// network at its deterministic address. One relay process serves every
// tenant; isolation lives in the routing layer, not in extra processes.
func (a *Allocator) AttachRelay(ctx context.Context, tenantID string) error {
	a.mu.Lock()
	allocation, ok := a.allocations[tenantID]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("no allocation for tenant %s", tenantID)
	}
	if a.config.RelayContainer == "" {
		return fmt.Errorf("relay container is not configured")
	}

	if err := a.networker.ConnectContainer(ctx, allocation.NetworkName, a.config.RelayContainer, allocation.Addresses[RoleRelay]); err != nil {
		observability.NetworkAllocationsTotal.WithLabelValues("attach", "failure").Inc()
		return fmt.Errorf("failed to attach relay to tenant network: %w", err)
	}

	a.mu.Lock()
	allocation.RelayAttached = true
	a.mu.Unlock()
	observability.NetworkAllocationsTotal.WithLabelValues("attach", "success").Inc()

	a.logger.Info("Relay attached to tenant network",
		zap.String("tenant_id", tenantID),
		zap.String("address", allocation.Addresses[RoleRelay]),
	)

	return nil
}

// Release tears the tenant network down. The index becomes eligible for
// reuse only once teardown has actually succeeded.
func (a *Allocator) Release(ctx context.Context, tenantID string) error {
	a.mu.Lock()
	allocation, ok := a.allocations[tenantID]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("no allocation for tenant %s", tenantID)
	}

	if allocation.RelayAttached {
		if err := a.networker.DisconnectContainer(ctx, allocation.NetworkName, a.config.RelayContainer); err != nil {
			observability.NetworkAllocationsTotal.WithLabelValues("release", "failure").Inc()
			return fmt.Errorf("failed to detach relay from tenant network: %w", err)
		}
	}

	if err := a.networker.RemoveNetwork(ctx, allocation.NetworkName); err != nil {
		observability.NetworkAllocationsTotal.WithLabelValues("release", "failure").Inc()
		return fmt.Errorf("failed to remove tenant network: %w", err)
	}

	a.mu.Lock()
	delete(a.allocations, tenantID)
	delete(a.usedIndices, allocation.Index)
	count := len(a.allocations)
	a.mu.Unlock()

	observability.NetworkAllocationsTotal.WithLabelValues("release", "success").Inc()
	observability.NetworkSubnetsActive.Set(float64(count))

	a.logger.Info("Tenant network released",
		zap.String("tenant_id", tenantID),
		zap.String("subnet", allocation.SubnetCIDR),
	)

	return nil
}

// Get returns the tenant's allocation, if any
func (a *Allocator) Get(tenantID string) (*Allocation, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	allocation, ok := a.allocations[tenantID]
	return allocation, ok
}

// List returns all live allocations
func (a *Allocator) List() []*Allocation {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*Allocation, 0, len(a.allocations))
	for _, allocation := range a.allocations {
		out = append(out, allocation)
	}
	return out
}

// claimIndexLocked claims the lowest free index, so a block freed by a
// successful teardown is handed out again before the range grows.
func (a *Allocator) claimIndexLocked(tenantID string) (int, error) {
	for index := 0; index < a.maxIndex; index++ {
		if _, used := a.usedIndices[index]; !used {
			a.usedIndices[index] = tenantID
			return index, nil
		}
	}
	return 0, fmt.Errorf("tenant address space %s exhausted", a.config.BaseCIDR)
}

// buildAllocation computes the tenant subnet and role addresses from the
// index alone
func (a *Allocator) buildAllocation(tenantID string, index int) *Allocation {
	base := ipToUint32(a.baseNet.IP)
	subnetBase := base + uint32(index)<<8

	addr := func(offset uint32) string {
		return uint32ToIP(subnetBase + offset).String()
	}

	return &Allocation{
		TenantID:       tenantID,
		Index:          index,
		SubnetCIDR:     fmt.Sprintf("%s/24", uint32ToIP(subnetBase)),
		GatewayAddress: addr(gatewayOffset),
		Addresses: map[string]string{
			RoleVM:        addr(vmOffset),
			RoleFileShare: addr(fileShareOffset),
			RoleRelay:     addr(relayOffset),
		},
		NetworkName: fmt.Sprintf("tenant-%s", tenantID),
		CreatedAt:   time.Now().UTC(),
	}
}

func (a *Allocator) verifyIsolationLocked(candidate *Allocation) error {
	_, candidateNet, err := net.ParseCIDR(candidate.SubnetCIDR)
	if err != nil {
		return fmt.Errorf("invalid candidate subnet %s: %w", candidate.SubnetCIDR, err)
	}

	if a.controlPlane != nil && cidrsOverlap(candidateNet, a.controlPlane) {
		return fmt.Errorf("subnet %s overlaps control-plane network %s", candidate.SubnetCIDR, a.config.ControlPlaneCIDR)
	}

	for tenantID, existing := range a.allocations {
		_, existingNet, err := net.ParseCIDR(existing.SubnetCIDR)
		if err != nil {
			continue
		}
		if cidrsOverlap(candidateNet, existingNet) {
			return fmt.Errorf("subnet %s overlaps tenant %s network %s", candidate.SubnetCIDR, tenantID, existing.SubnetCIDR)
		}
	}

	return nil
}

func cidrsOverlap(a, b *net.IPNet) bool {
	return a.Contains(b.IP) || b.Contains(a.IP)
}

func ipToUint32(ip net.IP) uint32 {
	ip = ip.To4()
	return uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
}

func uint32ToIP(n uint32) net.IP {
	return net.IPv4(byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
}
