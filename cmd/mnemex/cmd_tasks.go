package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mnemex/internal/types"
)

var (
	taskRequirements []string
	taskDependencies []string
	taskPriority     int
)

var (
	goalType     string
	goalParentID string
	goalPriority int
)

var createGoalCmd = &cobra.Command{
	Use:   "create-goal [text]",
	Short: "Add a node to the project's goal tree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		projectID, err := resolveProject(ctx)
		if err != nil {
			return err
		}
		id, err := engine.CreateGoal(ctx, projectID, args[0], types.GoalType(goalType), goalParentID, goalPriority)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

var createTaskCmd = &cobra.Command{
	Use:   "create-task [content]",
	Short: "Create a task in the executive queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		projectID, err := resolveProject(ctx)
		if err != nil {
			return err
		}
		id, err := engine.CreateTask(ctx, projectID, args[0], taskRequirements, taskDependencies, taskPriority)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

var claimExpectedVersion int64

var claimTaskCmd = &cobra.Command{
	Use:   "claim-task [task-id] [agent-id]",
	Short: "Claim a specific task for an agent",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		t, err := engine.ClaimTask(ctx, args[0], args[1], claimExpectedVersion)
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s\n", t.ID, t.Status)
		return nil
	},
}

var claimNextCmd = &cobra.Command{
	Use:   "claim-next [agent-id]",
	Short: "Claim the highest-priority claimable task for an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		projectID, err := resolveProject(ctx)
		if err != nil {
			return err
		}
		t, err := engine.ClaimNextTask(ctx, projectID, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s\n", t.ID, t.Content)
		return nil
	},
}

var (
	completeResult       string
	completeEffortActual float64
)

var completeTaskCmd = &cobra.Command{
	Use:   "complete-task [task-id]",
	Short: "Mark a task complete",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		t, err := engine.CompleteTask(ctx, args[0], completeResult, completeEffortActual)
		if err != nil {
			return err
		}
		fmt.Println(t.Status)
		return nil
	},
}

var failTaskCmd = &cobra.Command{
	Use:   "fail-task [task-id] [error-message]",
	Short: "Mark a task failed, requeuing it if retries remain",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		t, err := engine.FailTask(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Println(t.Status)
		return nil
	},
}

func init() {
	createGoalCmd.Flags().StringVar(&goalType, "type", string(types.GoalPrimary), "Goal type: primary, subgoal, or maintenance")
	createGoalCmd.Flags().StringVar(&goalParentID, "parent", "", "Parent goal id, for a subgoal")
	createGoalCmd.Flags().IntVar(&goalPriority, "priority", 5, "Priority 1-10")

	createTaskCmd.Flags().StringSliceVar(&taskRequirements, "requires", nil, "Capabilities required to claim this task")
	createTaskCmd.Flags().StringSliceVar(&taskDependencies, "depends-on", nil, "Task ids that must complete first")
	createTaskCmd.Flags().IntVar(&taskPriority, "priority", 5, "Priority 1-10")

	claimTaskCmd.Flags().Int64Var(&claimExpectedVersion, "expected-version", 0, "Expected current version")
	claimTaskCmd.MarkFlagRequired("expected-version")

	completeTaskCmd.Flags().StringVar(&completeResult, "result", "", "Result summary")
	completeTaskCmd.Flags().Float64Var(&completeEffortActual, "effort-actual", 0, "Actual effort spent")
}
