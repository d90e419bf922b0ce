package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/thinrelay/thinrelay/cmd/relayctl/config"
)

// NewStatusCommand creates the status command
func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show relay status",
		Long:  "Show relay version, uptime, connected agents, and pending commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd)
		},
	}
}

func runStatus(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	client := cfg.NewClient()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var status map[string]interface{}
	if err := client.Get(ctx, "/api/status", &status); err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	output, _ := cmd.Flags().GetString("output")
	out := config.NewOutputter(output)
	if out.GetFormat() != config.OutputTable {
		return out.Print(status)
	}

	fmt.Printf("Version:           %v\n", status["version"])
	fmt.Printf("Git commit:        %v\n", status["git_commit"])
	fmt.Printf("Go version:        %v\n", status["go_version"])
	fmt.Printf("Uptime:            %vs\n", status["uptime_seconds"])
	fmt.Printf("Agents connected:  %v\n", status["agents_connected"])
	fmt.Printf("Pending commands:  %v\n", status["pending_commands"])
	if v, ok := status["cpu_percent"]; ok {
		fmt.Printf("CPU:               %.1f%%\n", v)
	}
	if v, ok := status["memory_percent"]; ok {
		fmt.Printf("Memory:            %.1f%%\n", v)
	}
	return nil
}
