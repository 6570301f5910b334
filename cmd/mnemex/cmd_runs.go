package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Run a consolidation pass over pending episodic events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		projectID, err := resolveProject(ctx)
		if err != nil {
			return err
		}
		runID, err := engine.Consolidate(ctx, projectID)
		if err != nil {
			return err
		}
		fmt.Println(runID)
		return nil
	},
}

var runStatusCmd = &cobra.Command{
	Use:   "run-status [run-id]",
	Short: "Show a consolidation run's status and metrics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		projectID, err := resolveProject(ctx)
		if err != nil {
			return err
		}
		run, err := engine.RunStatus(ctx, projectID, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s\tcompression=%.2f recall=%.2f density=%.2f\n",
			run.ID, run.Status, run.Metrics.CompressionRatio, run.Metrics.RetrievalRecall, run.Metrics.InformationDensity)
		return nil
	},
}

var runHistoryLimit int

var runHistoryCmd = &cobra.Command{
	Use:   "run-history",
	Short: "List recent consolidation runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		projectID, err := resolveProject(ctx)
		if err != nil {
			return err
		}
		runs, err := engine.RunHistory(ctx, projectID, runHistoryLimit)
		if err != nil {
			return err
		}
		for _, run := range runs {
			fmt.Printf("%s\t%s\t%s\n", run.ID, run.Status, run.StartedAt.Format("2006-01-02T15:04:05Z"))
		}
		return nil
	},
}

func init() {
	runHistoryCmd.Flags().IntVar(&runHistoryLimit, "limit", 20, "Maximum runs to list")
}
