package mnemex

import (
	"context"
	"time"

	"mnemex/internal/errs"
	"mnemex/internal/rules"
	"mnemex/internal/types"
)

// Store persists a new memory and returns its id. Mirrors spec's
// store(project, content, kind, tags?, source?) -> memory_id.
func (e *Engine) Store(ctx context.Context, projectID, content string, kind types.MemoryKind, tags []string, source string) (string, error) {
	if err := e.checkQuota(ctx, projectID, quotaResource(kind)); err != nil {
		return "", err
	}
	m, err := e.store.StoreMemory(ctx, &types.Memory{
		ProjectID: projectID,
		Content:   content,
		Kind:      kind,
		Tags:      tags,
		Source:    source,
	})
	if err != nil {
		return "", err
	}
	e.retrieval.InvalidateOnWrite(projectID, "store")
	return m.ID, nil
}

// GetMemory fetches a single memory by id, bypassing the retrieval
// router entirely — for a caller that already has the id (e.g. from an
// earlier Recall) and wants the current row rather than a fresh search.
func (e *Engine) GetMemory(ctx context.Context, projectID, memoryID string) (*types.Memory, error) {
	return e.store.GetMemory(ctx, projectID, memoryID)
}

func quotaResource(kind types.MemoryKind) string {
	if kind == types.KindProcedural {
		return "procedures"
	}
	return "memories"
}

// Update applies patch as the new content of memoryID if expectedVersion
// matches, returning the new version. Mirrors spec's
// update(memory_id, patch, expected_version) -> new_version | VersionConflict.
func (e *Engine) Update(ctx context.Context, projectID, memoryID, patch string, expectedVersion int64) (int64, error) {
	m, err := e.store.UpdateMemory(ctx, projectID, memoryID, patch, expectedVersion)
	if err != nil {
		return 0, err
	}
	e.retrieval.InvalidateOnWrite(projectID, "update")
	return m.Version, nil
}

// Forget deletes a memory. Mirrors spec's forget(memory_id) -> ok | NotFound.
func (e *Engine) Forget(ctx context.Context, projectID, memoryID string) error {
	if err := e.store.ForgetMemory(ctx, projectID, memoryID); err != nil {
		return err
	}
	e.retrieval.InvalidateOnWrite(projectID, "forget")
	return nil
}

// RecallOptions tunes a Recall call.
type RecallOptions struct {
	K             int
	Strategy      string // empty selects automatically
	Reconsolidate bool
}

// RecallItem is one result of Recall, optionally carrying a lock token when
// Reconsolidate was requested and the item is a persisted memory.
type RecallItem struct {
	types.RecallResult
	LockToken string
}

// Recall answers query against project's memory, optionally opening a
// reconsolidation window on every returned memory. Mirrors spec's
// recall(project, query, {k, strategy?, filters?, reconsolidate?}) ->
// list of {id, content, score, kind, timestamp, explanation}.
func (e *Engine) Recall(ctx context.Context, projectID, query string, opts RecallOptions) ([]RecallItem, error) {
	k := opts.K
	if k <= 0 {
		k = 10
	}
	results, err := e.retrieval.Recall(ctx, projectID, query, k, opts.Strategy)
	if err != nil {
		return nil, err
	}
	items := make([]RecallItem, len(results))
	for i, r := range results {
		items[i] = RecallItem{RecallResult: r}
		if opts.Reconsolidate {
			token, err := e.recon.MarkLabile(ctx, projectID, r.ID)
			if err == nil {
				items[i].LockToken = token
			}
		}
	}
	return items, nil
}

// ReconsolidateUpdate writes newContent to a memory inside an open
// reconsolidation window (one opened via Recall's Reconsolidate option).
func (e *Engine) ReconsolidateUpdate(ctx context.Context, projectID, memoryID, lockToken, newContent string, expectedVersion int64) (*types.Memory, error) {
	m, err := e.recon.Update(ctx, projectID, memoryID, lockToken, newContent, expectedVersion)
	if err != nil {
		return nil, err
	}
	e.retrieval.InvalidateOnWrite(projectID, "update")
	return m, nil
}

// RememberEvent records an episodic event pending consolidation. Mirrors
// spec's remember_event(project, session, event) -> event_id.
func (e *Engine) RememberEvent(ctx context.Context, projectID, session string, event types.EpisodicEvent) (string, error) {
	if err := e.checkQuota(ctx, projectID, "events"); err != nil {
		return "", err
	}
	event.ProjectID = projectID
	event.Session = session
	recorded, err := e.store.RecordEvent(ctx, &event)
	if err != nil {
		return "", err
	}
	return recorded.ID, nil
}

// CreateGoal adds a node to a project's goal tree. Not one of the named
// public operations, but the goal tree (types.Goal, Task.GoalID,
// Executive.CompleteGoal's percolation) is load-bearing domain structure
// that needs a way to populate it; without this, CompleteGoal's
// percolation logic has no goals to ever percolate.
func (e *Engine) CreateGoal(ctx context.Context, projectID, text string, goalType types.GoalType, parentID string, priority int) (string, error) {
	g := &types.Goal{
		ProjectID: projectID,
		Text:      text,
		Type:      goalType,
		Priority:  priority,
	}
	if parentID != "" {
		g.ParentID = &parentID
	}
	created, err := e.store.CreateGoal(ctx, g)
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

// CreateTask enqueues a task. Mirrors spec's
// create_task(project, content, requirements, dependencies?, priority?) -> task_id.
func (e *Engine) CreateTask(ctx context.Context, projectID, content string, requirements, dependencies []string, priority int) (string, error) {
	t, err := e.store.CreateTask(ctx, &types.Task{
		ProjectID:    projectID,
		Content:      content,
		Requirements: requirements,
		Dependencies: dependencies,
		Priority:     priority,
	})
	if err != nil {
		return "", err
	}
	return t.ID, nil
}

// ClaimTask attempts to claim taskID for agentID, failing with
// VersionConflict if expectedVersion is stale. Mirrors spec's
// claim_task(task_id, agent_id, expected_version) -> ok|conflict.
func (e *Engine) ClaimTask(ctx context.Context, taskID, agentID string, expectedVersion int64) (*types.Task, error) {
	current, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if current.Version != expectedVersion {
		return nil, errs.ErrVersionConflict.WithConflictVersion(current.Version)
	}
	return e.store.ClaimTask(ctx, taskID, agentID)
}

// ClaimNextTask claims the highest-priority claimable task in projectID for
// agentID, without a caller-supplied task id.
func (e *Engine) ClaimNextTask(ctx context.Context, projectID, agentID string) (*types.Task, error) {
	return e.exec.ClaimNext(ctx, projectID, agentID)
}

// CompleteTask marks taskID completed with result and observed effort, and
// percolates goal completion up the goal tree when applicable.
func (e *Engine) CompleteTask(ctx context.Context, taskID, result string, effortActual float64) (*types.Task, error) {
	if err := e.store.CompleteTask(ctx, taskID, result, effortActual); err != nil {
		return nil, err
	}
	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.GoalID != "" {
		if err := e.exec.CompleteGoal(ctx, t.GoalID); err != nil {
			return t, err
		}
	}
	return t, nil
}

// FailTask records a task failure, reverting it to pending for retry unless
// it has exceeded the configured retry budget.
func (e *Engine) FailTask(ctx context.Context, taskID, errMsg string) (*types.Task, error) {
	return e.store.FailTask(ctx, taskID, errMsg, e.cfg.Agents.MaxRetries)
}

// RegisterAgent registers or re-registers an agent.
func (e *Engine) RegisterAgent(ctx context.Context, id, agentType string, capabilities []string) (*types.Agent, error) {
	return e.store.RegisterAgent(ctx, &types.Agent{ID: id, Type: agentType, Capabilities: capabilities})
}

// Heartbeat records a liveness signal from agentID.
func (e *Engine) Heartbeat(ctx context.Context, agentID string) error {
	return e.store.Heartbeat(ctx, agentID, types.AgentIdle)
}

// ReapOfflineAgents flags stale agents offline and requeues their in-flight
// tasks. Intended to be run periodically alongside Sweep.
func (e *Engine) ReapOfflineAgents(ctx context.Context) ([]string, error) {
	return e.exec.ReapOfflineAgents(ctx)
}

// Sweep closes reconsolidation windows that expired without a write.
// Intended to run on the same ticker as consolidation's housekeeping.
func (e *Engine) Sweep(ctx context.Context) {
	e.recon.Sweep(ctx)
}

// Consolidate runs one consolidation sweep over projectID's pending events.
// Mirrors spec's consolidate(project, {strategy?}) -> run_id.
func (e *Engine) Consolidate(ctx context.Context, projectID string) (string, error) {
	run, err := e.consol.Run(ctx, projectID)
	if err != nil {
		return "", err
	}
	e.retrieval.InvalidateOnWrite(projectID, "store")
	return run.ID, nil
}

// RunStatus fetches one consolidation run by scanning projectID's run
// history, since runs are keyed per-project rather than globally.
func (e *Engine) RunStatus(ctx context.Context, projectID, runID string) (*types.ConsolidationRun, error) {
	runs, err := e.store.ListConsolidationRuns(ctx, projectID, 0)
	if err != nil {
		return nil, err
	}
	for _, r := range runs {
		if r.ID == runID {
			return r, nil
		}
	}
	return nil, errs.ErrNotFound
}

// RunHistory lists projectID's past consolidation runs, most recent first.
func (e *Engine) RunHistory(ctx context.Context, projectID string, limit int) ([]*types.ConsolidationRun, error) {
	return e.store.ListConsolidationRuns(ctx, projectID, limit)
}

// WorkingMemorySnapshot is the response shape for WorkingMemoryCurrent.
type WorkingMemorySnapshot struct {
	Items    []*types.WorkingItem
	Load     int
	Capacity int
}

// WorkingMemoryCurrent reports projectID's current working-memory buffer.
// Mirrors spec's working_memory_current(project) -> {items, load, capacity}.
func (e *Engine) WorkingMemoryCurrent(ctx context.Context, projectID string) (WorkingMemorySnapshot, error) {
	if err := e.working.Rehydrate(ctx, projectID); err != nil {
		return WorkingMemorySnapshot{}, err
	}
	items := e.working.Current(projectID)
	return WorkingMemorySnapshot{Items: items, Load: len(items), Capacity: e.cfg.WorkingMemory.Capacity}, nil
}

// AttentionFocus reports projectID's current focus goal, if any. Mirrors
// spec's attention_focus(project) -> focus_state.
func (e *Engine) AttentionFocus(projectID string) string {
	return e.attn.CurrentFocus(projectID)
}

// SetFocus switches projectID's attention to goalID, logging the task-switch
// cost against whatever was previously in focus.
func (e *Engine) SetFocus(ctx context.Context, projectID, goalID, reason string, pinnedItems []string) error {
	return e.attn.SetFocus(ctx, projectID, goalID, reason, pinnedItems)
}

// Inhibit suppresses a memory's salience for ttl. Mirrors spec's
// inhibit(memory_id, ttl, type).
func (e *Engine) Inhibit(projectID, memoryID string, ttl time.Duration, kind types.InhibitionType) {
	e.attn.Inhibit(projectID, types.ItemRef{ID: memoryID, Layer: types.LayerMemory}, kind, 1.0, ttl)
}

// Subgraph is the response shape for GraphQuery.
type Subgraph struct {
	Entities  []*types.Entity
	Relations []*types.Relation
}

// GraphQuery walks the entity/relation graph outward from seedIDs up to
// depth hops. Mirrors spec's
// graph_query(project, {seed_ids, depth, relation_types?}) -> subgraph.
func (e *Engine) GraphQuery(ctx context.Context, projectID string, seedIDs []string, depth int) (Subgraph, error) {
	if depth <= 0 {
		depth = 1
	}

	// Two seeds asks a different question than a neighborhood expansion:
	// the shortest connecting path between them, not everything within
	// depth hops of either. TraversePath answers that directly.
	if len(seedIDs) == 2 {
		path, err := e.store.TraversePath(ctx, projectID, seedIDs[0], seedIDs[1], depth)
		if err == nil {
			seen := make(map[string]*types.Entity)
			for _, name := range []string{seedIDs[0], seedIDs[1]} {
				if ent, gerr := e.store.GetEntity(ctx, projectID, name); gerr == nil {
					seen[ent.Name] = ent
				}
			}
			for _, r := range path {
				for _, name := range []string{r.FromEntity, r.ToEntity} {
					if _, ok := seen[name]; ok {
						continue
					}
					if ent, gerr := e.store.GetEntity(ctx, projectID, name); gerr == nil {
						seen[name] = ent
					}
				}
			}
			entities := make([]*types.Entity, 0, len(seen))
			for _, ent := range seen {
				entities = append(entities, ent)
			}
			return Subgraph{Entities: entities, Relations: path}, nil
		}
	}

	seen := make(map[string]*types.Entity)
	var relations []*types.Relation
	frontier := seedIDs
	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []string
		for _, name := range frontier {
			ent, err := e.store.GetEntity(ctx, projectID, name)
			if err != nil {
				continue
			}
			if _, ok := seen[ent.Name]; ok {
				continue
			}
			seen[ent.Name] = ent
			rels, err := e.store.QueryRelations(ctx, projectID, name, "both")
			if err != nil {
				continue
			}
			for _, r := range rels {
				relations = append(relations, r)
				other := r.ToEntity
				if other == name {
					other = r.FromEntity
				}
				if _, ok := seen[other]; !ok {
					next = append(next, other)
				}
			}
		}
		frontier = next
	}
	entities := make([]*types.Entity, 0, len(seen))
	for _, ent := range seen {
		entities = append(entities, ent)
	}
	return Subgraph{Entities: entities, Relations: relations}, nil
}

// RuleValidate judges change against projectID's enabled rules. Mirrors
// spec's rule_validate(project, change) -> {compliant, violations, suggestions}.
func (e *Engine) RuleValidate(ctx context.Context, projectID string, change rules.ChangeCandidate) (*rules.Decision, error) {
	return e.rules.Evaluate(ctx, projectID, change)
}

// DecideApproval resolves a pending rule-gate approval.
func (e *Engine) DecideApproval(ctx context.Context, projectID, approvalID string, approved bool, decider string, postChangeData []byte) error {
	return e.rules.Decide(ctx, projectID, approvalID, approved, decider, postChangeData)
}

// RuleRollback returns the state captured by snapshotID, letting a caller
// undo a previously approved change.
func (e *Engine) RuleRollback(ctx context.Context, snapshotID string) ([]byte, error) {
	return e.rules.Rollback(ctx, snapshotID)
}
