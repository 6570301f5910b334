// Package rules implements the rule & safety gate: it evaluates a candidate
// change against a project's enabled rules and decides whether the change
// auto-approves, auto-rejects, or needs a human decision. Rule conditions
// are plain boolean combinations over touches_path/change_type/evidence_tag
// membership facts, evaluated by the Mangle Datalog engine in internal/mangle
// (the same engine package's doc comment names this package as its intended
// consumer, querying violates/2 and auto_block/1).
package rules

import (
	"context"
	"fmt"
	"strings"

	"mnemex/internal/config"
	"mnemex/internal/errs"
	"mnemex/internal/logging"
	"mnemex/internal/mangle"
	"mnemex/internal/store"
	"mnemex/internal/types"
)

// Outcome is the terminal disposition of a rule-gate evaluation.
type Outcome string

const (
	OutcomeAutoApproved   Outcome = "auto_approved"
	OutcomeAutoRejected   Outcome = "auto_rejected"
	OutcomePendingApproval Outcome = "pending_approval"
)

// ChangeCandidate describes a proposed change for the gate to judge.
// EvidenceTags and Paths must already be the exact tokens a rule's
// Condition references — the gate does no prefix or substring expansion
// (e.g. a rule meant to catch "anything under prod/" must be written
// against an evidence tag the caller computed, such as "touches_prod",
// not a Mangle string-match builtin, since none is wired).
type ChangeCandidate struct {
	Summary      string
	Paths        []string
	ChangeType   string
	EvidenceTags []string
	// Confidence overrides the default heuristic when non-zero. Leave at
	// zero to let the gate derive it from EvidenceTags.
	Confidence float64
}

// Decision is the gate's verdict on one ChangeCandidate.
type Decision struct {
	Confidence  float64
	Violations  []types.RuleViolation
	AutoBlocked bool
	Outcome     Outcome
	ApprovalID  string
}

// Gate evaluates candidate changes against a project's enabled rules.
type Gate struct {
	cfg   config.RulesConfig
	store *store.Store
}

// New builds a Gate.
func New(cfg config.RulesConfig, st *store.Store) *Gate {
	return &Gate{cfg: cfg, store: st}
}

// confidence derives a default confidence score from how much evidence
// backs a change when the caller doesn't supply one directly: each
// evidence tag nudges confidence up from a neutral midpoint.
func confidence(change ChangeCandidate) float64 {
	if change.Confidence > 0 {
		return types.ClampUnit(change.Confidence)
	}
	return types.ClampUnit(0.5 + 0.05*float64(len(change.EvidenceTags)))
}

// Evaluate judges change against projectID's enabled rules and returns the
// gate's decision. A pending_approval outcome creates a pre-change snapshot
// and an ApprovalRequest the caller can later resolve with Decide.
func (g *Gate) Evaluate(ctx context.Context, projectID string, change ChangeCandidate) (*Decision, error) {
	enabledRules, err := g.store.ListEnabledRules(ctx, projectID)
	if err != nil {
		return nil, err
	}

	conf := confidence(change)
	violations, autoBlocked, err := evaluateRules(enabledRules, change)
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "rule_eval_failed", "evaluate rule conditions", err)
	}

	decision := &Decision{Confidence: conf, Violations: violations, AutoBlocked: autoBlocked}

	switch {
	case conf >= g.cfg.AutoApproveThreshold && !autoBlocked:
		decision.Outcome = OutcomeAutoApproved
		g.audit(ctx, projectID, "rule_gate_auto_approved", change.Summary)

	case conf <= g.cfg.AutoRejectThreshold:
		decision.Outcome = OutcomeAutoRejected
		g.audit(ctx, projectID, "rule_gate_auto_rejected", change.Summary)

	default:
		snap, err := g.store.CreateSnapshot(ctx, &types.Snapshot{ProjectID: projectID, Label: "pre-change: " + change.Summary})
		if err != nil {
			return nil, err
		}
		approval, err := g.store.CreateApprovalRequest(ctx, &types.ApprovalRequest{
			ProjectID:        projectID,
			ChangeSummary:    change.Summary,
			Confidence:       conf,
			Violations:       violations,
			SnapshotBeforeID: snap.ID,
		})
		if err != nil {
			return nil, err
		}
		decision.Outcome = OutcomePendingApproval
		decision.ApprovalID = approval.ID
		g.audit(ctx, projectID, "rule_gate_pending_approval", change.Summary)
	}

	return decision, nil
}

// Decide resolves a pending approval request. On approval, postChangeData
// (a caller-supplied snapshot payload of the committed state, opaque to the
// gate) is recorded so the change can later be rolled back.
func (g *Gate) Decide(ctx context.Context, projectID, approvalID string, approved bool, decider string, postChangeData []byte) error {
	if err := g.store.DecideApproval(ctx, approvalID, approved, decider); err != nil {
		return err
	}
	action := "rule_gate_rejected"
	if approved {
		action = "rule_gate_approved"
		if len(postChangeData) > 0 {
			if _, err := g.store.CreateSnapshot(ctx, &types.Snapshot{ProjectID: projectID, Label: "post-change: " + approvalID, Data: postChangeData}); err != nil {
				return err
			}
		}
	}
	g.audit(ctx, projectID, action, approvalID)
	return nil
}

// Rollback returns the Data stored in snapshot snapshotID so a caller can
// restore it, and records the rollback in the audit trail. The post-change
// snapshot Decide records holds the caller's payload; the pre-change
// snapshot Evaluate takes before a pending-approval change holds only a
// label, so rolling back to it returns no data.
func (g *Gate) Rollback(ctx context.Context, snapshotID string) ([]byte, error) {
	snap, err := g.store.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	g.audit(ctx, snap.ProjectID, "rule_gate_rollback", snapshotID)
	return snap.Data, nil
}

func (g *Gate) audit(ctx context.Context, projectID, action, detail string) {
	if err := g.store.AppendAudit(ctx, &types.AuditEntry{ProjectID: projectID, Action: action, Detail: detail}); err != nil {
		logging.Get(logging.CategoryRules).Warn("audit append failed for %s: %v", action, err)
	}
}

// evaluateRules builds a per-evaluation Mangle schema from enabledRules and
// change's facts, then reads back which rules fired and which of those are
// auto-blocking.
func evaluateRules(enabledRules []*types.Rule, change ChangeCandidate) ([]types.RuleViolation, bool, error) {
	if len(enabledRules) == 0 {
		return nil, false, nil
	}

	engine, err := mangle.NewEngine(mangle.DefaultConfig(), nil)
	if err != nil {
		return nil, false, err
	}
	defer engine.Close()

	if err := engine.LoadSchemaString(buildSchema(enabledRules)); err != nil {
		return nil, false, fmt.Errorf("load rule schema: %w", err)
	}

	var facts []mangle.Fact
	for _, p := range change.Paths {
		facts = append(facts, mangle.Fact{Predicate: "touches_path", Args: []interface{}{p}})
	}
	if change.ChangeType != "" {
		facts = append(facts, mangle.Fact{Predicate: "change_type", Args: []interface{}{change.ChangeType}})
	}
	for _, tag := range change.EvidenceTags {
		facts = append(facts, mangle.Fact{Predicate: "evidence_tag", Args: []interface{}{tag}})
	}
	if len(facts) > 0 {
		if err := engine.AddFacts(facts); err != nil {
			return nil, false, fmt.Errorf("assert change facts: %w", err)
		}
	}

	ctx := context.Background()
	violatedResult, err := engine.Query(ctx, "violates(RuleID, Severity)")
	if err != nil {
		return nil, false, fmt.Errorf("query violates: %w", err)
	}
	blockedResult, err := engine.Query(ctx, "auto_block(RuleID)")
	if err != nil {
		return nil, false, fmt.Errorf("query auto_block: %w", err)
	}

	blocked := make(map[string]bool, len(blockedResult.Bindings))
	for _, b := range blockedResult.Bindings {
		if id, ok := b["RuleID"].(string); ok {
			blocked[id] = true
		}
	}

	byID := make(map[string]*types.Rule, len(enabledRules))
	for _, r := range enabledRules {
		byID[r.ID] = r
	}

	var violations []types.RuleViolation
	autoBlocked := false
	for _, b := range violatedResult.Bindings {
		id, _ := b["RuleID"].(string)
		rule, ok := byID[id]
		if !ok {
			continue
		}
		violations = append(violations, types.RuleViolation{
			RuleID:     rule.ID,
			Category:   rule.Category,
			Severity:   rule.Severity,
			Message:    rule.RuleType,
			Suggestion: rule.Exception,
		})
		if blocked[id] {
			autoBlocked = true
		}
	}
	return violations, autoBlocked, nil
}

// buildSchema assembles the fixed fact vocabulary plus one violates/auto_block
// clause per enabled rule, each rule's Condition spliced in verbatim as the
// clause body.
func buildSchema(enabledRules []*types.Rule) string {
	var b strings.Builder
	b.WriteString("Decl touches_path(Path) bound [/string].\n")
	b.WriteString("Decl change_type(Type) bound [/string].\n")
	b.WriteString("Decl evidence_tag(Tag) bound [/string].\n")
	b.WriteString("Decl violates(RuleID, Severity) bound [/string, /string].\n")
	b.WriteString("Decl auto_block(RuleID) bound [/string].\n")

	for _, r := range enabledRules {
		cond := strings.TrimSpace(r.Condition)
		if cond == "" {
			continue
		}
		fmt.Fprintf(&b, "violates(%q, %q) :- %s.\n", r.ID, r.Severity, cond)
		if r.AutoBlock {
			fmt.Fprintf(&b, "auto_block(%q) :- %s.\n", r.ID, cond)
		}
	}
	return b.String()
}
