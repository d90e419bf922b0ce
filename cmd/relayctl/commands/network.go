package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/thinrelay/thinrelay/cmd/relayctl/config"
	"github.com/thinrelay/thinrelay/pkg/netalloc"
)

// NewNetworkCommand creates the network command
func NewNetworkCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "network",
		Short: "Manage the tenant network",
		Long:  "Manage the tenant's isolated network segment: allocation, relay attachment, and teardown",
	}

	cmd.AddCommand(newNetworkAllocateCommand())
	cmd.AddCommand(newNetworkAttachCommand())
	cmd.AddCommand(newNetworkReleaseCommand())

	return cmd
}

func newNetworkAllocateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "allocate",
		Short: "Allocate the tenant network segment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNetworkAllocate(cmd)
		},
	}
}

func runNetworkAllocate(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	client := cfg.NewClient()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var resp struct {
		Success    bool                `json:"success"`
		Allocation *netalloc.Allocation `json:"allocation"`
	}
	if err := client.Post(ctx, "/api/network/allocate", nil, &resp); err != nil {
		return fmt.Errorf("failed to allocate network: %w", err)
	}

	output, _ := cmd.Flags().GetString("output")
	out := config.NewOutputter(output)
	if out.GetFormat() == config.OutputTable {
		printAllocation(resp.Allocation)
		return nil
	}
	return out.Print(resp.Allocation)
}

func printAllocation(a *netalloc.Allocation) {
	fmt.Printf("Network:     %s\n", a.NetworkName)
	fmt.Printf("Subnet:      %s\n", a.SubnetCIDR)
	fmt.Printf("Gateway:     %s\n", a.GatewayAddress)
	fmt.Printf("Relay:       %s\n", a.Addresses[netalloc.RoleRelay])
	fmt.Printf("VM:          %s\n", a.Addresses[netalloc.RoleVM])
	fmt.Printf("File share:  %s\n", a.Addresses[netalloc.RoleFileShare])
}

func newNetworkAttachCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "attach-relay",
		Short: "Attach the relay container to the tenant network",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNetworkSimple(cmd, "attach", func(ctx context.Context, client *config.Client) error {
				return client.Post(ctx, "/api/network/attach-relay", nil, nil)
			})
		},
	}
}

func newNetworkReleaseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "release",
		Short: "Tear down the tenant network segment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNetworkSimple(cmd, "release", func(ctx context.Context, client *config.Client) error {
				return client.Delete(ctx, "/api/network", nil)
			})
		},
	}
}

func runNetworkSimple(cmd *cobra.Command, op string, call func(context.Context, *config.Client) error) error {
	cfg, err := config.LoadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	client := cfg.NewClient()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := call(ctx, client); err != nil {
		return fmt.Errorf("failed to %s network: %w", op, err)
	}

	fmt.Printf("Network %s completed\n", op)
	return nil
}
