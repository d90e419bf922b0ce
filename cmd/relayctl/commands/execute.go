package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/thinrelay/thinrelay/cmd/relayctl/config"
	"github.com/thinrelay/thinrelay/pkg/payload"
)

// NewExecuteCommand creates the execute command
func NewExecuteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "execute TOOL [ARG...]",
		Short: "Build an encrypted execution unit",
		Long: `Build an encrypted execution unit for a catalog tool. The unit is
encrypted under the tenant key and printed for delivery to an executor.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExecute(cmd, args[0], args[1:])
		},
	}

	cmd.Flags().String("command", "", "Inline command instead of a catalog script (powershell tools only)")

	return cmd
}

func runExecute(cmd *cobra.Command, tool string, args []string) error {
	cfg, err := config.LoadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	client := cfg.NewClient()

	command, _ := cmd.Flags().GetString("command")

	argsJSON, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to encode arguments: %w", err)
	}

	req := map[string]interface{}{
		"tool":      tool,
		"arguments": json.RawMessage(argsJSON),
	}
	if command != "" {
		req["command"] = command
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var unit payload.ExecutionUnit
	if err := client.Post(ctx, "/api/execute", req, &unit); err != nil {
		return fmt.Errorf("failed to build execution unit: %w", err)
	}

	output, _ := cmd.Flags().GetString("output")
	out := config.NewOutputter(output)
	if out.GetFormat() == config.OutputTable {
		fmt.Printf("Tool:         %s\n", unit.Tool)
		fmt.Printf("Type:         %s\n", unit.Type)
		fmt.Printf("Script:       %s\n", unit.ScriptName)
		fmt.Printf("Helpers:      %d\n", len(unit.HelperScripts))
		fmt.Printf("Instruction:  %s\n", unit.Instruction)
		return nil
	}
	return out.Print(unit)
}
