package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"mnemex/internal/errs"
	"mnemex/internal/types"
)

// CreateGoal inserts a new goal into a project's goal tree.
func (s *Store) CreateGoal(ctx context.Context, g *types.Goal) (*types.Goal, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	now := time.Now()
	g.CreatedAt, g.UpdatedAt = now, now
	g.Priority = types.ClampPriority(g.Priority)
	if g.Status == "" {
		g.Status = types.GoalActive
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO goals (id, project_id, text, type, parent_id, priority, status, progress, deadline, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		g.ID, g.ProjectID, g.Text, string(g.Type), g.ParentID, g.Priority, string(g.Status), g.Progress, g.Deadline, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "create_goal_failed", "insert goal", err)
	}
	return g, nil
}

// GetGoal fetches a goal by id.
func (s *Store) GetGoal(ctx context.Context, id string) (*types.Goal, error) {
	row := s.db.QueryRowContext(ctx, goalSelectCols+` WHERE id = ?`, id)
	g, err := scanGoal(row)
	if err == sql.ErrNoRows {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "get_goal_failed", "query goal", err)
	}
	return g, nil
}

// ListChildGoals returns every goal whose parent_id is parentID.
func (s *Store) ListChildGoals(ctx context.Context, parentID string) ([]*types.Goal, error) {
	rows, err := s.db.QueryContext(ctx, goalSelectCols+` WHERE parent_id = ?`, parentID)
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "list_child_goals_failed", "query child goals", err)
	}
	defer rows.Close()
	var out []*types.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			continue
		}
		out = append(out, g)
	}
	return out, nil
}

// UpdateGoalStatus sets a goal's status and progress.
func (s *Store) UpdateGoalStatus(ctx context.Context, id string, status types.GoalStatus, progress float64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE goals SET status = ?, progress = ?, updated_at = ? WHERE id = ?`,
		string(status), progress, time.Now(), id)
	if err != nil {
		return errs.Wrap(errs.StoreUnavailable, "update_goal_failed", "update goal status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

const goalSelectCols = `SELECT id, project_id, text, type, parent_id, priority, status, progress, deadline, created_at, updated_at FROM goals`

func scanGoal(row rowScanner) (*types.Goal, error) {
	var g types.Goal
	var goalType, status string
	var parentID sql.NullString
	var deadline sql.NullTime
	if err := row.Scan(&g.ID, &g.ProjectID, &g.Text, &goalType, &parentID, &g.Priority, &status, &g.Progress, &deadline, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, err
	}
	g.Type = types.GoalType(goalType)
	g.Status = types.GoalStatus(status)
	if parentID.Valid {
		g.ParentID = &parentID.String
	}
	if deadline.Valid {
		g.Deadline = &deadline.Time
	}
	return &g, nil
}

// CreateTask inserts a new task under goalID.
func (s *Store) CreateTask(ctx context.Context, t *types.Task) (*types.Task, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now
	t.Priority = types.ClampPriority(t.Priority)
	if t.Status == "" {
		t.Status = types.TaskPending
	}
	t.Version = 1
	_, err := s.db.ExecContext(ctx, `INSERT INTO tasks
		(id, project_id, goal_id, content, status, priority, requirements, dependencies, assignee, version,
		 effort_estimate, effort_actual, retry_count, result, error, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, t.GoalID, t.Content, string(t.Status), t.Priority, encodeJSON(t.Requirements), encodeJSON(t.Dependencies),
		t.Assignee, t.Version, t.EffortEstimate, t.EffortActual, t.RetryCount, t.Result, t.Error, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "create_task_failed", "insert task", err)
	}
	return t, nil
}

// ClaimTask atomically assigns a pending, dependency-satisfied task to
// agentID using an optimistic-lock compare-and-swap on version: the UPDATE
// only succeeds if the task is still pending and unclaimed by another writer
// racing this one.
func (s *Store) ClaimTask(ctx context.Context, taskID, agentID string) (*types.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "store_unavailable", "begin transaction", err)
	}
	defer tx.Rollback()

	t, err := s.getTaskLocked(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status != types.TaskPending {
		return nil, errs.New(errs.VersionConflict, "task_not_claimable",
			"task is not pending").WithConflictVersion(t.Version)
	}
	for _, depID := range t.Dependencies {
		dep, err := s.getTaskLocked(ctx, tx, depID)
		if err != nil || dep.Status != types.TaskCompleted {
			return nil, errs.New(errs.InvalidArgument, "dependency_unsatisfied",
				"task has an incomplete dependency: "+depID)
		}
	}

	res, err := tx.ExecContext(ctx, `UPDATE tasks SET status = ?, assignee = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ? AND status = 'pending'`,
		string(types.TaskAssigned), agentID, time.Now(), taskID, t.Version)
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "claim_task_failed", "update task", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, errs.New(errs.VersionConflict, "claim_raced", "task was claimed by a concurrent writer").WithConflictVersion(t.Version)
	}
	if err := tx.Commit(); err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "commit_failed", "commit task claim", err)
	}

	t.Status = types.TaskAssigned
	t.Assignee = agentID
	t.Version++
	return t, nil
}

// CompleteTask marks a task completed with its result.
func (s *Store) CompleteTask(ctx context.Context, taskID, result string, effortActual float64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = ?, result = ?, effort_actual = ?, version = version + 1, updated_at = ?
		WHERE id = ?`, string(types.TaskCompleted), result, effortActual, time.Now(), taskID)
	if err != nil {
		return errs.Wrap(errs.StoreUnavailable, "complete_task_failed", "update task", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// FailTask records a failure on a task and increments its retry count.
// While the new retry count is at most maxRetries the task goes back to
// pending with its assignee cleared; after that it is left failed.
func (s *Store) FailTask(ctx context.Context, taskID, errMsg string, maxRetries int) (*types.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	t, err := s.getTaskLocked(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}

	retryCount := t.RetryCount + 1
	status := types.TaskFailed
	if retryCount <= maxRetries {
		status = types.TaskPending
	}
	_, err = tx.ExecContext(ctx, `UPDATE tasks SET status = ?, error = ?, retry_count = ?, assignee = '', version = version + 1, updated_at = ?
		WHERE id = ?`, string(status), errMsg, retryCount, time.Now(), taskID)
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "fail_task_failed", "update task", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	t.Status = status
	t.Error = errMsg
	t.RetryCount = retryCount
	t.Assignee = ""
	t.Version++
	return t, nil
}

func (s *Store) getTaskLocked(ctx context.Context, tx *sql.Tx, taskID string) (*types.Task, error) {
	row := tx.QueryRowContext(ctx, taskSelectCols+` WHERE id = ?`, taskID)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "get_task_failed", "query task", err)
	}
	return t, nil
}

// GetTask fetches a task by id.
func (s *Store) GetTask(ctx context.Context, taskID string) (*types.Task, error) {
	row := s.db.QueryRowContext(ctx, taskSelectCols+` WHERE id = ?`, taskID)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "get_task_failed", "query task", err)
	}
	return t, nil
}

// ListClaimableTasks returns pending tasks in projectID ordered by priority
// descending, then age ascending.
func (s *Store) ListClaimableTasks(ctx context.Context, projectID string, limit int) ([]*types.Task, error) {
	rows, err := s.db.QueryContext(ctx, taskSelectCols+` WHERE project_id = ? AND status = 'pending' ORDER BY priority DESC, created_at ASC LIMIT ?`,
		projectID, limit)
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "list_tasks_failed", "query claimable tasks", err)
	}
	defer rows.Close()
	var out []*types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// ListTasksByAssignee returns agentID's in-flight (assigned or running)
// tasks, the set MarkStaleAgentsOffline's caller must requeue when an agent
// goes offline mid-task.
func (s *Store) ListTasksByAssignee(ctx context.Context, agentID string) ([]*types.Task, error) {
	rows, err := s.db.QueryContext(ctx, taskSelectCols+` WHERE assignee = ? AND status IN ('assigned', 'running')`, agentID)
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "list_tasks_by_assignee_failed", "query tasks by assignee", err)
	}
	defer rows.Close()
	var out []*types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

const taskSelectCols = `SELECT id, project_id, goal_id, content, status, priority, requirements, dependencies,
	assignee, version, effort_estimate, effort_actual, retry_count, result, error, created_at, updated_at FROM tasks`

func scanTask(row rowScanner) (*types.Task, error) {
	var t types.Task
	var requirements, dependencies sql.NullString
	var status string
	if err := row.Scan(&t.ID, &t.ProjectID, &t.GoalID, &t.Content, &status, &t.Priority, &requirements, &dependencies,
		&t.Assignee, &t.Version, &t.EffortEstimate, &t.EffortActual, &t.RetryCount, &t.Result, &t.Error,
		&t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Status = types.TaskStatus(status)
	t.Requirements = decodeJSONStrings(requirements.String)
	t.Dependencies = decodeJSONStrings(dependencies.String)
	return &t, nil
}

// RegisterAgent upserts an agent's registration.
func (s *Store) RegisterAgent(ctx context.Context, a *types.Agent) (*types.Agent, error) {
	now := time.Now()
	a.RegisteredAt, a.LastHeartbeat = now, now
	if a.Status == "" {
		a.Status = types.AgentIdle
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO agents (id, type, capabilities, status, last_heartbeat, current_task, registered_at)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET type = excluded.type, capabilities = excluded.capabilities, status = excluded.status, last_heartbeat = excluded.last_heartbeat`,
		a.ID, a.Type, encodeJSON(a.Capabilities), string(a.Status), a.LastHeartbeat, a.CurrentTask, a.RegisteredAt)
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "register_agent_failed", "upsert agent", err)
	}
	return a, nil
}

// Heartbeat refreshes an agent's last_heartbeat and sets its status to the
// given value, replacing any prior failed/offline marking. Nothing else on
// the agent row is changed.
func (s *Store) Heartbeat(ctx context.Context, agentID string, status types.AgentStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE agents SET last_heartbeat = ?, status = ? WHERE id = ?`, time.Now(), string(status), agentID)
	if err != nil {
		return errs.Wrap(errs.StoreUnavailable, "heartbeat_failed", "update agent heartbeat", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// MarkStaleAgentsOffline flags agents whose last heartbeat is older than
// staleThreshold as offline, and returns their ids so callers can requeue
// any task each was holding.
func (s *Store) MarkStaleAgentsOffline(ctx context.Context, staleThreshold time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-staleThreshold)
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM agents WHERE last_heartbeat < ? AND status != 'offline'`, cutoff)
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "stale_agents_query_failed", "query stale agents", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err == nil {
			ids = append(ids, id)
		}
	}
	rows.Close()

	if len(ids) > 0 {
		if _, err := s.db.ExecContext(ctx, `UPDATE agents SET status = 'offline' WHERE last_heartbeat < ?`, cutoff); err != nil {
			return ids, errs.Wrap(errs.StoreUnavailable, "mark_offline_failed", "update stale agents", err)
		}
	}
	return ids, nil
}

// RecordTaskSwitch logs a focus transition for prospective-memory cost
// accounting.
func (s *Store) RecordTaskSwitch(ctx context.Context, ts *types.TaskSwitch) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO task_switches (project_id, from_goal_id, to_goal_id, cost_ms, reason, pinned_items, switched_at)
		VALUES (?,?,?,?,?,?,?)`, ts.ProjectID, ts.FromGoalID, ts.ToGoalID, ts.CostMs, ts.Reason, encodeJSON(ts.PinnedItems), ts.SwitchedAt)
	if err != nil {
		return errs.Wrap(errs.StoreUnavailable, "record_switch_failed", "insert task switch", err)
	}
	return nil
}
