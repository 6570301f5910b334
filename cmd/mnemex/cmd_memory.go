package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mnemex/internal/mnemex"
	"mnemex/internal/types"
)

var (
	storeKind   string
	storeTags   []string
	storeSource string
)

var storeCmd = &cobra.Command{
	Use:   "store [content]",
	Short: "Persist a new memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		projectID, err := resolveProject(ctx)
		if err != nil {
			return err
		}
		id, err := engine.Store(ctx, projectID, args[0], types.MemoryKind(storeKind), storeTags, storeSource)
		if err != nil {
			return err
		}
		logger.Info("memory stored", zap.String("id", id))
		fmt.Println(id)
		return nil
	},
}

var (
	recallK             int
	recallStrategy      string
	recallReconsolidate bool
)

var recallCmd = &cobra.Command{
	Use:   "recall [query]",
	Short: "Recall memories matching a query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		projectID, err := resolveProject(ctx)
		if err != nil {
			return err
		}
		results, err := engine.Recall(ctx, projectID, args[0], mnemex.RecallOptions{
			K: recallK, Strategy: recallStrategy, Reconsolidate: recallReconsolidate,
		})
		if err != nil {
			return err
		}
		for _, r := range results {
			fmt.Printf("%s\t%.3f\t%s\t%s\n", r.ID, r.Score, r.Strategy, r.Content)
			if r.LockToken != "" {
				fmt.Printf("\tlock_token=%s\n", r.LockToken)
			}
		}
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get [memory-id]",
	Short: "Fetch a memory by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		projectID, err := resolveProject(ctx)
		if err != nil {
			return err
		}
		m, err := engine.GetMemory(ctx, projectID, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%d\t%s\t%s\n", m.ID, m.Version, m.ConsolidationState, m.Content)
		return nil
	},
}

var updateExpectedVersion int64

var updateCmd = &cobra.Command{
	Use:   "update [memory-id] [patch]",
	Short: "Update a memory's content if expected-version matches",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		projectID, err := resolveProject(ctx)
		if err != nil {
			return err
		}
		newVersion, err := engine.Update(ctx, projectID, args[0], args[1], updateExpectedVersion)
		if err != nil {
			return err
		}
		fmt.Println(newVersion)
		return nil
	},
}

var forgetCmd = &cobra.Command{
	Use:   "forget [memory-id]",
	Short: "Delete a memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		projectID, err := resolveProject(ctx)
		if err != nil {
			return err
		}
		return engine.Forget(ctx, projectID, args[0])
	},
}

var (
	eventSession string
	eventType    string
	eventOutcome string
)

var rememberEventCmd = &cobra.Command{
	Use:   "remember-event [content]",
	Short: "Record an episodic event pending consolidation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		projectID, err := resolveProject(ctx)
		if err != nil {
			return err
		}
		id, err := engine.RememberEvent(ctx, projectID, eventSession, types.EpisodicEvent{
			EventType: eventType,
			Content:   args[0],
			Outcome:   eventOutcome,
		})
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

func init() {
	storeCmd.Flags().StringVar(&storeKind, "kind", string(types.KindSemantic), "Memory kind (episodic|semantic|procedural)")
	storeCmd.Flags().StringSliceVar(&storeTags, "tags", nil, "Comma-separated tags")
	storeCmd.Flags().StringVar(&storeSource, "source", "", "Source label")

	recallCmd.Flags().IntVar(&recallK, "k", 10, "Number of results")
	recallCmd.Flags().StringVar(&recallStrategy, "strategy", "", "Force a strategy (vector|keyword|hybrid|graph|temporal)")
	recallCmd.Flags().BoolVar(&recallReconsolidate, "reconsolidate", false, "Open a reconsolidation window on each result")

	updateCmd.Flags().Int64Var(&updateExpectedVersion, "expected-version", 0, "Expected current version")
	updateCmd.MarkFlagRequired("expected-version")

	rememberEventCmd.Flags().StringVar(&eventSession, "session", "", "Session id")
	rememberEventCmd.Flags().StringVar(&eventType, "type", "observation", "Event type")
	rememberEventCmd.Flags().StringVar(&eventOutcome, "outcome", "", "Outcome label")
}
