package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"mnemex/internal/errs"
	"mnemex/internal/types"
)

// CreateRule persists a project policy.
func (s *Store) CreateRule(ctx context.Context, r *types.Rule) (*types.Rule, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.CreatedAt = time.Now()
	_, err := s.db.ExecContext(ctx, `INSERT INTO rules (id, project_id, category, rule_type, severity, condition, exception, enabled, auto_block, can_override, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.ProjectID, string(r.Category), r.RuleType, r.Severity, r.Condition, r.Exception, r.Enabled, r.AutoBlock, r.CanOverride, r.CreatedAt)
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "create_rule_failed", "insert rule", err)
	}
	return r, nil
}

// ListEnabledRules returns every enabled rule for projectID.
func (s *Store) ListEnabledRules(ctx context.Context, projectID string) ([]*types.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, project_id, category, rule_type, severity, condition, exception, enabled, auto_block, can_override, created_at
		FROM rules WHERE project_id = ? AND enabled = 1`, projectID)
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "list_rules_failed", "query rules", err)
	}
	defer rows.Close()

	var out []*types.Rule
	for rows.Next() {
		var r types.Rule
		var category string
		if err := rows.Scan(&r.ID, &r.ProjectID, &category, &r.RuleType, &r.Severity, &r.Condition, &r.Exception,
			&r.Enabled, &r.AutoBlock, &r.CanOverride, &r.CreatedAt); err != nil {
			continue
		}
		r.Category = types.RuleCategory(category)
		out = append(out, &r)
	}
	return out, nil
}

// CreateApprovalRequest persists a pending approval request for a candidate
// change the rule gate neither auto-approved nor auto-rejected: one that fell
// between the two thresholds, or cleared auto-approve but was auto-blocked.
func (s *Store) CreateApprovalRequest(ctx context.Context, a *types.ApprovalRequest) (*types.ApprovalRequest, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = time.Now()
	a.Status = types.ApprovalPending
	_, err := s.db.ExecContext(ctx, `INSERT INTO approvals (id, project_id, change_summary, confidence, violations, snapshot_before_id, snapshot_after_id, status, created_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, a.ProjectID, a.ChangeSummary, a.Confidence, encodeJSON(a.Violations), a.SnapshotBeforeID, a.SnapshotAfterID, string(a.Status), a.CreatedAt)
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "create_approval_failed", "insert approval request", err)
	}
	return a, nil
}

// DecideApproval records an approve/reject decision by decider.
func (s *Store) DecideApproval(ctx context.Context, id string, approved bool, decider string) error {
	status := types.ApprovalRejected
	if approved {
		status = types.ApprovalApproved
	}
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `UPDATE approvals SET status = ?, decider = ?, decided_at = ? WHERE id = ? AND status = 'pending'`,
		string(status), decider, now, id)
	if err != nil {
		return errs.Wrap(errs.StoreUnavailable, "decide_approval_failed", "update approval", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.New(errs.InvalidArgument, "approval_already_decided", "approval request is not pending")
	}
	return nil
}

// CreateSnapshot persists a point-in-time capture usable for rollback.
func (s *Store) CreateSnapshot(ctx context.Context, snap *types.Snapshot) (*types.Snapshot, error) {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	snap.CreatedAt = time.Now()
	_, err := s.db.ExecContext(ctx, `INSERT INTO snapshots (id, project_id, label, data, created_at) VALUES (?,?,?,?,?)`,
		snap.ID, snap.ProjectID, snap.Label, snap.Data, snap.CreatedAt)
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "create_snapshot_failed", "insert snapshot", err)
	}
	return snap, nil
}

// GetSnapshot fetches a snapshot by id.
func (s *Store) GetSnapshot(ctx context.Context, id string) (*types.Snapshot, error) {
	var snap types.Snapshot
	err := s.db.QueryRowContext(ctx, `SELECT id, project_id, label, data, created_at FROM snapshots WHERE id = ?`, id).
		Scan(&snap.ID, &snap.ProjectID, &snap.Label, &snap.Data, &snap.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "get_snapshot_failed", "query snapshot", err)
	}
	return &snap, nil
}

// AppendAudit appends one entry to the append-only audit trail.
func (s *Store) AppendAudit(ctx context.Context, e *types.AuditEntry) error {
	e.CreatedAt = time.Now()
	_, err := s.db.ExecContext(ctx, `INSERT INTO audit_log (project_id, action, actor_id, detail, created_at) VALUES (?,?,?,?,?)`,
		e.ProjectID, e.Action, e.ActorID, e.Detail, e.CreatedAt)
	if err != nil {
		return errs.Wrap(errs.StoreUnavailable, "append_audit_failed", "insert audit entry", err)
	}
	return nil
}
