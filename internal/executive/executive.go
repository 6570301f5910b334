// Package executive orchestrates the goal hierarchy, the task queue's claim
// cycle, and agent liveness on top of internal/store's persistence-only
// goal/task/agent operations. Task-switch cost accounting itself lives in
// internal/attention.Manager.SetFocus, which already records
// types.TaskSwitch entries; this package covers what SetFocus doesn't:
// completion percolating up a goal tree, and reaping offline agents' task
// assignments.
package executive

import (
	"context"
	"time"

	"mnemex/internal/config"
	"mnemex/internal/errs"
	"mnemex/internal/logging"
	"mnemex/internal/store"
	"mnemex/internal/types"
)

// Executive wraps store with goal-tree and agent-liveness orchestration.
type Executive struct {
	cfg   config.AgentsConfig
	store *store.Store
}

// New builds an Executive.
func New(cfg config.AgentsConfig, st *store.Store) *Executive {
	return &Executive{cfg: cfg, store: st}
}

// ClaimNext polls projectID's claimable tasks in priority/FIFO order and
// attempts to claim the first one, falling through to the next candidate
// if a concurrent writer wins the race. Returns errs.ErrNotFound if nothing
// is claimable.
func (e *Executive) ClaimNext(ctx context.Context, projectID, agentID string) (*types.Task, error) {
	candidates, err := e.store.ListClaimableTasks(ctx, projectID, 20)
	if err != nil {
		return nil, err
	}
	var lastErr error
	for _, candidate := range candidates {
		claimed, err := e.store.ClaimTask(ctx, candidate.ID, agentID)
		if err == nil {
			return claimed, nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errs.ErrNotFound
}

// CompleteGoal marks goalID completed and, for every ancestor whose other
// children are now all completed too, percolates completion up the tree.
// Per spec: completion percolates up only when ALL of a parent's children
// are completed — a parent with one still-active child stays as it is.
func (e *Executive) CompleteGoal(ctx context.Context, goalID string) error {
	if err := e.store.UpdateGoalStatus(ctx, goalID, types.GoalCompleted, 1.0); err != nil {
		return err
	}

	current, err := e.store.GetGoal(ctx, goalID)
	if err != nil {
		return err
	}
	for current.ParentID != nil {
		parent, err := e.store.GetGoal(ctx, *current.ParentID)
		if err != nil {
			return err
		}
		siblings, err := e.store.ListChildGoals(ctx, parent.ID)
		if err != nil {
			return err
		}
		if !allCompleted(siblings) {
			return nil
		}
		if err := e.store.UpdateGoalStatus(ctx, parent.ID, types.GoalCompleted, 1.0); err != nil {
			return err
		}
		current = parent
	}
	return nil
}

func allCompleted(goals []*types.Goal) bool {
	for _, g := range goals {
		if g.Status != types.GoalCompleted {
			return false
		}
	}
	return true
}

// ReapOfflineAgents flags agents whose last heartbeat exceeds the
// configured stale threshold as offline and resets each of their in-flight
// tasks to pending (retry_count incremented, bounded by MaxRetries) so
// another agent can claim them.
func (e *Executive) ReapOfflineAgents(ctx context.Context) ([]string, error) {
	threshold := time.Duration(e.cfg.StaleThresholdMs) * time.Millisecond
	offline, err := e.store.MarkStaleAgentsOffline(ctx, threshold)
	if err != nil {
		return nil, err
	}

	for _, agentID := range offline {
		tasks, err := e.store.ListTasksByAssignee(ctx, agentID)
		if err != nil {
			logging.Get(logging.CategoryExecutive).Warn("list tasks for offline agent %s failed: %v", agentID, err)
			continue
		}
		for _, t := range tasks {
			if _, err := e.store.FailTask(ctx, t.ID, "agent "+agentID+" went offline", e.cfg.MaxRetries); err != nil {
				logging.Get(logging.CategoryExecutive).Warn("requeue task %s after agent offline failed: %v", t.ID, err)
			}
		}
	}
	return offline, nil
}
