package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/thinrelay/thinrelay/cmd/relayctl/commands"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "relayctl",
		Short: "Thinrelay CLI",
		Long: `relayctl is the command-line interface for the Thinrelay command relay.

It provides commands to build encrypted execution units, relay commands to
connected executors, and manage tenant networks and join tokens.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
	}

	// Global flags
	rootCmd.PersistentFlags().String("server", "", "Relay server URL (default from config)")
	rootCmd.PersistentFlags().String("secret", "", "Tenant secret (default from config or THINRELAY_SECRET)")
	rootCmd.PersistentFlags().String("config", "", "Config file path (default: $HOME/.thinrelay/config.yaml)")
	rootCmd.PersistentFlags().String("output", "table", "Output format: table, json, yaml")

	// Add subcommands
	rootCmd.AddCommand(commands.NewToolCommand())
	rootCmd.AddCommand(commands.NewExecuteCommand())
	rootCmd.AddCommand(commands.NewAgentCommand())
	rootCmd.AddCommand(commands.NewNetworkCommand())
	rootCmd.AddCommand(commands.NewStatusCommand())
	rootCmd.AddCommand(commands.NewVersionCommand(Version, BuildTime, GitCommit))

	return rootCmd
}
