package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/thinrelay/thinrelay/cmd/relayctl/config"
	"github.com/thinrelay/thinrelay/pkg/dispatch"
)

// NewAgentCommand creates the agent command
func NewAgentCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage connected executors",
		Long:  "Manage executors connected to the relay: listing, relaying commands, and issuing join tokens",
	}

	cmd.AddCommand(newAgentListCommand())
	cmd.AddCommand(newAgentRunCommand())
	cmd.AddCommand(newAgentJoinTokenCommand())

	return cmd
}

func newAgentListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List connected agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgentList(cmd)
		},
	}
}

func runAgentList(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	client := cfg.NewClient()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var resp struct {
		Success bool                    `json:"success"`
		Agents  []dispatch.AgentSummary `json:"agents"`
	}
	if err := client.Get(ctx, "/api/agents", &resp); err != nil {
		return fmt.Errorf("failed to list agents: %w", err)
	}

	output, _ := cmd.Flags().GetString("output")
	out := config.NewOutputter(output)

	if out.GetFormat() == config.OutputTable {
		return printAgentTable(out, resp.Agents)
	}
	return out.Print(resp.Agents)
}

func printAgentTable(out *config.Outputter, agents []dispatch.AgentSummary) error {
	headers := []string{"AGENT", "HOSTNAME", "PLATFORM", "VERSION", "LAST SEEN", "RESOURCES"}
	rows := make([][]string, 0, len(agents))

	for _, agent := range agents {
		rows = append(rows, []string{
			agent.AgentID,
			agent.Metadata.Hostname,
			agent.Metadata.Platform,
			agent.Metadata.Version,
			agent.LastSeenAt.Format(time.RFC3339),
			fmt.Sprintf("%d", len(agent.ActiveResources)),
		})
	}

	out.PrintTable(headers, rows)
	fmt.Printf("\nTotal: %d agents\n", len(agents))
	return nil
}

func newAgentRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run AGENT_ID COMMAND_TYPE",
		Short: "Relay a command to an agent",
		Long:  "Relay a command to a connected agent and wait for its result",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgentRun(cmd, args[0], args[1])
		},
	}

	cmd.Flags().String("payload", "", "JSON payload to attach to the command")
	cmd.Flags().Duration("wait", 2*time.Minute, "How long to wait for the result")

	return cmd
}

func runAgentRun(cmd *cobra.Command, agentID, commandType string) error {
	cfg, err := config.LoadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	client := cfg.NewClient()

	payloadStr, _ := cmd.Flags().GetString("payload")
	wait, _ := cmd.Flags().GetDuration("wait")

	req := map[string]interface{}{"type": commandType}
	if payloadStr != "" {
		var raw json.RawMessage
		if err := json.Unmarshal([]byte(payloadStr), &raw); err != nil {
			return fmt.Errorf("payload is not valid JSON: %w", err)
		}
		req["payload"] = raw
	}

	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()

	var resp struct {
		Success   bool            `json:"success"`
		CommandID string          `json:"commandId"`
		Result    json.RawMessage `json:"result,omitempty"`
		Error     string          `json:"error,omitempty"`
	}
	if err := client.Post(ctx, "/api/agents/"+agentID+"/command", req, &resp); err != nil {
		return fmt.Errorf("failed to relay command: %w", err)
	}

	if !resp.Success {
		return fmt.Errorf("command %s failed on agent: %s", resp.CommandID, resp.Error)
	}

	output, _ := cmd.Flags().GetString("output")
	out := config.NewOutputter(output)
	if out.GetFormat() == config.OutputTable {
		fmt.Printf("Command %s completed\n", resp.CommandID)
		if len(resp.Result) > 0 {
			fmt.Println(string(resp.Result))
		}
		return nil
	}
	return out.Print(resp)
}

func newAgentJoinTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "join-token AGENT_ID",
		Short: "Issue a join token for an agent",
		Long:  "Issue a join token the executor presents when opening its connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgentJoinToken(cmd, args[0])
		},
	}

	cmd.Flags().Duration("validity", 24*time.Hour, "Token validity period")
	cmd.Flags().Int("max-uses", 1, "Maximum number of uses")

	return cmd
}

func runAgentJoinToken(cmd *cobra.Command, agentID string) error {
	cfg, err := config.LoadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	client := cfg.NewClient()

	validity, _ := cmd.Flags().GetDuration("validity")
	maxUses, _ := cmd.Flags().GetInt("max-uses")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var resp struct {
		Success   bool      `json:"success"`
		Token     string    `json:"token"`
		TokenID   string    `json:"token_id"`
		AgentID   string    `json:"agent_id"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	req := map[string]interface{}{
		"validity_seconds": int(validity.Seconds()),
		"max_uses":         maxUses,
	}
	if err := client.Post(ctx, "/api/agents/"+agentID+"/join-token", req, &resp); err != nil {
		return fmt.Errorf("failed to issue join token: %w", err)
	}

	output, _ := cmd.Flags().GetString("output")
	out := config.NewOutputter(output)
	if out.GetFormat() == config.OutputTable {
		fmt.Printf("Token ID:   %s\n", resp.TokenID)
		fmt.Printf("Agent:      %s\n", resp.AgentID)
		fmt.Printf("Expires:    %s\n", resp.ExpiresAt.Format(time.RFC3339))
		fmt.Printf("Token:      %s\n", resp.Token)
		return nil
	}
	return out.Print(resp)
}
