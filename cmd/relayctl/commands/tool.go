package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/thinrelay/thinrelay/cmd/relayctl/config"
	"github.com/thinrelay/thinrelay/pkg/payload"
)

// NewToolCommand creates the tool command
func NewToolCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tool",
		Short: "Inspect the tool catalog",
		Long:  "Inspect the scripted tools the relay can deliver to executors",
	}

	cmd.AddCommand(newToolListCommand())

	return cmd
}

func newToolListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolList(cmd)
		},
	}
}

func runToolList(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	client := cfg.NewClient()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var resp struct {
		Success bool               `json:"success"`
		Tools   []payload.ToolSpec `json:"tools"`
	}
	if err := client.Get(ctx, "/api/tools", &resp); err != nil {
		return fmt.Errorf("failed to list tools: %w", err)
	}

	output, _ := cmd.Flags().GetString("output")
	out := config.NewOutputter(output)

	if out.GetFormat() == config.OutputTable {
		return printToolTable(out, resp.Tools)
	}
	return out.Print(resp.Tools)
}

func printToolTable(out *config.Outputter, tools []payload.ToolSpec) error {
	headers := []string{"NAME", "KIND", "SCRIPT", "HELPERS", "DESCRIPTION"}
	rows := make([][]string, 0, len(tools))

	for _, tool := range tools {
		rows = append(rows, []string{
			tool.Name,
			string(tool.Kind),
			tool.Script,
			fmt.Sprintf("%d", len(tool.Helpers)),
			tool.Description,
		})
	}

	out.PrintTable(headers, rows)
	fmt.Printf("\nTotal: %d tools\n", len(tools))
	return nil
}
