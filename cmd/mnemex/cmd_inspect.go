package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mnemex/internal/rules"
	"mnemex/internal/types"
)

var workingMemoryCmd = &cobra.Command{
	Use:   "working-memory",
	Short: "Show the current working-memory snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		projectID, err := resolveProject(ctx)
		if err != nil {
			return err
		}
		snap, err := engine.WorkingMemoryCurrent(ctx, projectID)
		if err != nil {
			return err
		}
		fmt.Printf("load=%d capacity=%d\n", snap.Load, snap.Capacity)
		for _, it := range snap.Items {
			fmt.Printf("%s\t%.3f\t%s\n", it.ID, it.Activation, it.Content)
		}
		return nil
	},
}

var attentionFocusCmd = &cobra.Command{
	Use:   "attention-focus",
	Short: "Show or set the current attentional focus",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		projectID, err := resolveProject(ctx)
		if err != nil {
			return err
		}
		if focusGoalID != "" {
			if err := engine.SetFocus(ctx, projectID, focusGoalID, focusReason, focusPinned); err != nil {
				return err
			}
		}
		fmt.Println(engine.AttentionFocus(projectID))
		return nil
	},
}

var (
	focusGoalID string
	focusReason string
	focusPinned []string
)

var (
	inhibitTTL  time.Duration
	inhibitKind string
)

var inhibitCmd = &cobra.Command{
	Use:   "inhibit [memory-id]",
	Short: "Suppress a memory from recall for a duration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, err := resolveProject(cmd.Context())
		if err != nil {
			return err
		}
		engine.Inhibit(projectID, args[0], inhibitTTL, types.InhibitionType(inhibitKind))
		return nil
	},
}

var graphQueryDepth int

var graphQueryCmd = &cobra.Command{
	Use:   "graph-query [entity...]",
	Short: "Walk the entity/relation graph outward from one or more seed entities",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		projectID, err := resolveProject(ctx)
		if err != nil {
			return err
		}
		sub, err := engine.GraphQuery(ctx, projectID, args, graphQueryDepth)
		if err != nil {
			return err
		}
		for _, e := range sub.Entities {
			fmt.Printf("entity\t%s\t%s\n", e.ID, e.Name)
		}
		for _, r := range sub.Relations {
			fmt.Printf("relation\t%s\t%s\t%s\n", r.FromEntity, r.RelType, r.ToEntity)
		}
		return nil
	},
}

var (
	ruleChangeType   string
	ruleEvidenceTags []string
	rulePaths        []string
)

var ruleValidateCmd = &cobra.Command{
	Use:   "rule-validate [summary]",
	Short: "Evaluate a candidate change against the project's rule gate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		projectID, err := resolveProject(ctx)
		if err != nil {
			return err
		}
		decision, err := engine.RuleValidate(ctx, projectID, rules.ChangeCandidate{
			Summary:      args[0],
			Paths:        rulePaths,
			ChangeType:   ruleChangeType,
			EvidenceTags: ruleEvidenceTags,
		})
		if err != nil {
			return err
		}
		fmt.Printf("outcome=%s confidence=%.2f approval_id=%s\n", decision.Outcome, decision.Confidence, decision.ApprovalID)
		for _, v := range decision.Violations {
			fmt.Printf("violation\t%s\t%s\n", v.RuleID, v.Message)
		}
		return nil
	},
}

var (
	ruleDecideApprove bool
	ruleDecideBy      string
)

var ruleDecideCmd = &cobra.Command{
	Use:   "rule-decide [approval-id]",
	Short: "Resolve a pending rule-gate approval",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		projectID, err := resolveProject(ctx)
		if err != nil {
			return err
		}
		return engine.DecideApproval(ctx, projectID, args[0], ruleDecideApprove, ruleDecideBy, nil)
	},
}

var ruleRollbackCmd = &cobra.Command{
	Use:   "rule-rollback [snapshot-id]",
	Short: "Fetch a pre-change snapshot to undo an approved change",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := engine.RuleRollback(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

func init() {
	attentionFocusCmd.Flags().StringVar(&focusGoalID, "set-goal", "", "Set focus to this goal id")
	attentionFocusCmd.Flags().StringVar(&focusReason, "reason", "", "Reason for the focus switch")
	attentionFocusCmd.Flags().StringSliceVar(&focusPinned, "pin", nil, "Item ids to pin into the new focus")

	inhibitCmd.Flags().DurationVar(&inhibitTTL, "ttl", 10*time.Minute, "How long the inhibition lasts")
	inhibitCmd.Flags().StringVar(&inhibitKind, "kind", "selective", "Inhibition kind (proactive|retroactive|selective)")

	graphQueryCmd.Flags().IntVar(&graphQueryDepth, "depth", 2, "Maximum hop distance from the seed entities")

	ruleValidateCmd.Flags().StringVar(&ruleChangeType, "change-type", "", "Change type classifier")
	ruleValidateCmd.Flags().StringSliceVar(&ruleEvidenceTags, "evidence", nil, "Evidence tags supporting confidence")
	ruleValidateCmd.Flags().StringSliceVar(&rulePaths, "paths", nil, "File paths touched by the change")

	ruleDecideCmd.Flags().BoolVar(&ruleDecideApprove, "approve", false, "Approve rather than reject the change")
	ruleDecideCmd.Flags().StringVar(&ruleDecideBy, "by", "", "Identity of the decider")
}
