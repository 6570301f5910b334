package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"mnemex/internal/errs"
	"mnemex/internal/types"
)

// StartConsolidationRun records a new running consolidation run.
func (s *Store) StartConsolidationRun(ctx context.Context, projectID string) (*types.ConsolidationRun, error) {
	run := &types.ConsolidationRun{ID: uuid.NewString(), ProjectID: projectID, StartedAt: time.Now(), Status: types.RunRunning}
	_, err := s.db.ExecContext(ctx, `INSERT INTO consolidation_runs (id, project_id, started_at, status, phases) VALUES (?,?,?,?,?)`,
		run.ID, run.ProjectID, run.StartedAt, string(run.Status), encodeJSON(run.Phases))
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "start_run_failed", "insert consolidation run", err)
	}
	return run, nil
}

// FinishConsolidationRun records the final status, metrics and per-phase
// outcomes of a run.
func (s *Store) FinishConsolidationRun(ctx context.Context, run *types.ConsolidationRun) error {
	now := time.Now()
	run.CompletedAt = &now
	_, err := s.db.ExecContext(ctx, `UPDATE consolidation_runs SET completed_at = ?, status = ?,
		compression_ratio = ?, retrieval_recall = ?, pattern_consistency = ?, information_density = ?, overall = ?, phases = ?
		WHERE id = ?`,
		now, string(run.Status), run.Metrics.CompressionRatio, run.Metrics.RetrievalRecall,
		run.Metrics.PatternConsistency, run.Metrics.InformationDensity, run.Metrics.Overall,
		encodeJSON(run.Phases), run.ID)
	if err != nil {
		return errs.Wrap(errs.StoreUnavailable, "finish_run_failed", "update consolidation run", err)
	}
	return nil
}

// ListConsolidationRuns returns a project's runs, most recent first.
func (s *Store) ListConsolidationRuns(ctx context.Context, projectID string, limit int) ([]*types.ConsolidationRun, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, project_id, started_at, completed_at, status,
		compression_ratio, retrieval_recall, pattern_consistency, information_density, overall, phases
		FROM consolidation_runs WHERE project_id = ? ORDER BY started_at DESC LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "list_runs_failed", "query consolidation runs", err)
	}
	defer rows.Close()

	var out []*types.ConsolidationRun
	for rows.Next() {
		var r types.ConsolidationRun
		var completedAt *time.Time
		var status string
		var phases string
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.StartedAt, &completedAt, &status,
			&r.Metrics.CompressionRatio, &r.Metrics.RetrievalRecall, &r.Metrics.PatternConsistency,
			&r.Metrics.InformationDensity, &r.Metrics.Overall, &phases); err != nil {
			continue
		}
		r.CompletedAt = completedAt
		r.Status = types.RunStatus(status)
		out = append(out, &r)
	}
	return out, nil
}

// StorePattern persists a pattern extracted during a consolidation run.
func (s *Store) StorePattern(ctx context.Context, p *types.Pattern) (*types.Pattern, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = time.Now()
	_, err := s.db.ExecContext(ctx, `INSERT INTO patterns (id, run_id, project_id, type, content, confidence, occurrences, source_event_ids, promoted_memory_id, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.RunID, p.ProjectID, string(p.Type), p.Content, p.Confidence, p.Occurrences,
		encodeJSON(p.SourceEventIDs), p.PromotedMemoryID, p.CreatedAt)
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "store_pattern_failed", "insert pattern", err)
	}
	return p, nil
}
