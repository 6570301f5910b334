package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var agentCapabilities []string

var registerAgentCmd = &cobra.Command{
	Use:   "register-agent [agent-id] [agent-type]",
	Short: "Register an agent with the executive",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := engine.RegisterAgent(ctx, args[0], args[1], agentCapabilities)
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s\n", a.ID, a.Status)
		return nil
	},
}

var heartbeatCmd = &cobra.Command{
	Use:   "heartbeat [agent-id]",
	Short: "Record an agent heartbeat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return engine.Heartbeat(cmd.Context(), args[0])
	},
}

var reapOfflineAgentsCmd = &cobra.Command{
	Use:   "reap-offline-agents",
	Short: "Mark stale agents offline and requeue their in-flight tasks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := engine.ReapOfflineAgents(cmd.Context())
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

func init() {
	registerAgentCmd.Flags().StringSliceVar(&agentCapabilities, "capabilities", nil, "Comma-separated capability tags")
}
