package executive

import (
	"context"
	"testing"
	"time"

	"mnemex/internal/config"
	"mnemex/internal/store"
	"mnemex/internal/types"
)

func newTestExecutive(t *testing.T, cfg config.AgentsConfig) (*Executive, *store.Store, string) {
	t.Helper()
	s, err := store.Open(store.Options{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	proj, err := s.CreateProject(context.Background(), "demo", "")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	return New(cfg, s), s, proj.ID
}

func TestClaimNext_ClaimsHighestPriorityPendingTask(t *testing.T) {
	e, s, projectID := newTestExecutive(t, config.AgentsConfig{MaxRetries: 3})
	ctx := context.Background()

	low, err := s.CreateTask(ctx, &types.Task{ProjectID: projectID, Content: "low", Priority: 2})
	if err != nil {
		t.Fatalf("CreateTask low: %v", err)
	}
	high, err := s.CreateTask(ctx, &types.Task{ProjectID: projectID, Content: "high", Priority: 9})
	if err != nil {
		t.Fatalf("CreateTask high: %v", err)
	}

	claimed, err := e.ClaimNext(ctx, projectID, "agent-1")
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if claimed.ID != high.ID {
		t.Fatalf("expected to claim the high-priority task %s, got %s (low was %s)", high.ID, claimed.ID, low.ID)
	}
	if claimed.Status != types.TaskAssigned && claimed.Status != types.TaskRunning {
		t.Fatalf("expected claimed task to move out of pending, got %s", claimed.Status)
	}
}

func TestClaimNext_NoClaimableTasksReturnsNotFound(t *testing.T) {
	e, _, projectID := newTestExecutive(t, config.AgentsConfig{MaxRetries: 3})
	if _, err := e.ClaimNext(context.Background(), projectID, "agent-1"); err == nil {
		t.Fatal("expected an error when nothing is claimable")
	}
}

func TestCompleteGoal_PercolatesOnlyWhenAllChildrenDone(t *testing.T) {
	e, s, projectID := newTestExecutive(t, config.AgentsConfig{MaxRetries: 3})
	ctx := context.Background()

	parent, err := s.CreateGoal(ctx, &types.Goal{ProjectID: projectID, Text: "parent", Type: types.GoalPrimary})
	if err != nil {
		t.Fatalf("CreateGoal parent: %v", err)
	}
	childA, err := s.CreateGoal(ctx, &types.Goal{ProjectID: projectID, Text: "child a", Type: types.GoalSubgoal, ParentID: &parent.ID})
	if err != nil {
		t.Fatalf("CreateGoal childA: %v", err)
	}
	childB, err := s.CreateGoal(ctx, &types.Goal{ProjectID: projectID, Text: "child b", Type: types.GoalSubgoal, ParentID: &parent.ID})
	if err != nil {
		t.Fatalf("CreateGoal childB: %v", err)
	}

	if err := e.CompleteGoal(ctx, childA.ID); err != nil {
		t.Fatalf("CompleteGoal childA: %v", err)
	}
	reloadedParent, err := s.GetGoal(ctx, parent.ID)
	if err != nil {
		t.Fatalf("GetGoal parent: %v", err)
	}
	if reloadedParent.Status == types.GoalCompleted {
		t.Fatal("parent should not complete while child b is still active")
	}

	if err := e.CompleteGoal(ctx, childB.ID); err != nil {
		t.Fatalf("CompleteGoal childB: %v", err)
	}
	reloadedParent, err = s.GetGoal(ctx, parent.ID)
	if err != nil {
		t.Fatalf("GetGoal parent (2): %v", err)
	}
	if reloadedParent.Status != types.GoalCompleted {
		t.Fatalf("expected parent to percolate to completed once all children are done, got %s", reloadedParent.Status)
	}
}

func TestReapOfflineAgents_RequeuesInFlightTasks(t *testing.T) {
	e, s, projectID := newTestExecutive(t, config.AgentsConfig{MaxRetries: 3, StaleThresholdMs: 1})
	ctx := context.Background()

	if _, err := s.RegisterAgent(ctx, &types.Agent{ID: "agent-1", Type: "worker"}); err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	task, err := s.CreateTask(ctx, &types.Task{ProjectID: projectID, Content: "do the thing", Priority: 5})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := s.ClaimTask(ctx, task.ID, "agent-1"); err != nil {
		t.Fatalf("ClaimTask: %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	offline, err := e.ReapOfflineAgents(ctx)
	if err != nil {
		t.Fatalf("ReapOfflineAgents: %v", err)
	}
	if len(offline) != 1 || offline[0] != "agent-1" {
		t.Fatalf("expected agent-1 to be reaped, got %v", offline)
	}

	reloaded, err := s.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if reloaded.Status != types.TaskPending {
		t.Fatalf("expected task reset to pending, got %s", reloaded.Status)
	}
	if reloaded.Assignee != "" {
		t.Fatalf("expected assignee cleared, got %q", reloaded.Assignee)
	}
	if reloaded.RetryCount != 1 {
		t.Fatalf("expected retry_count bumped to 1, got %d", reloaded.RetryCount)
	}
}

func TestReapOfflineAgents_NoStaleAgentsIsNoop(t *testing.T) {
	e, s, _ := newTestExecutive(t, config.AgentsConfig{MaxRetries: 3, StaleThresholdMs: 60_000})
	if _, err := s.RegisterAgent(context.Background(), &types.Agent{ID: "agent-1", Type: "worker"}); err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}

	offline, err := e.ReapOfflineAgents(context.Background())
	if err != nil {
		t.Fatalf("ReapOfflineAgents: %v", err)
	}
	if len(offline) != 0 {
		t.Fatalf("expected no offline agents, got %v", offline)
	}
}
