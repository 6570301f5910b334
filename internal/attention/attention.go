// Package attention scores how much a candidate item deserves to occupy
// working memory, tracks which goal currently holds focus, and applies
// time-bounded priming (salience boost) and inhibition (salience
// suppression) so that recently dismissed or actively-suppressed items
// don't keep resurfacing.
package attention

import (
	"context"
	"sync"
	"time"

	"mnemex/internal/errs"
	"mnemex/internal/logging"
	"mnemex/internal/store"
	"mnemex/internal/types"
)

// Config tunes salience scoring and inhibition defaults.
type Config struct {
	NoveltyTopK            int     // neighbors sampled when estimating novelty
	ContradictionThreshold float64 // relation confidence above which a conflict counts as a contradiction
	DefaultInhibitionTTLMs int64
}

// Signals are the raw inputs to salience scoring for one candidate item.
type Signals struct {
	Novelty      float64 // 0..1, how distant the item is from recent memory
	Surprise     float64 // 0..1, prediction-error magnitude (types.EpisodicEvent.Surprise)
	Contradiction float64 // 0..1, strength of a detected conflict with existing belief
}

// Score blends novelty, surprise and contradiction into a single salience
// value in [0, 1]. Contradiction is weighted most heavily: a belief
// conflict is the strongest signal something needs attention.
func Score(sig Signals) float64 {
	raw := 0.35*sig.Novelty + 0.25*sig.Surprise + 0.4*sig.Contradiction
	return types.ClampUnit(raw)
}

// FocusState is the executive attention state machine's current mode.
type FocusState string

const (
	FocusIdle      FocusState = "idle"
	FocusEngaged   FocusState = "engaged"
	FocusSwitching FocusState = "switching"
)

// Manager tracks one project's current focus, active priming and active
// inhibition, and is safe for concurrent use.
type Manager struct {
	cfg   Config
	store *store.Store

	mu       sync.Mutex
	focus    map[string]string // projectID -> current goal id
	state    map[string]FocusState
	priming  map[string][]types.PrimingEntry
	inhibits map[string][]types.InhibitionEntry
}

// New constructs a Manager. st may be nil if task-switch costs need not be
// persisted (e.g. in tests).
func New(cfg Config, st *store.Store) *Manager {
	return &Manager{
		cfg: cfg, store: st,
		focus: make(map[string]string), state: make(map[string]FocusState),
		priming: make(map[string][]types.PrimingEntry), inhibits: make(map[string][]types.InhibitionEntry),
	}
}

// CurrentFocus returns projectID's currently focused goal id, or "" if idle.
func (m *Manager) CurrentFocus(projectID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.focus[projectID]
}

// SetFocus switches projectID's focus to goalID, recording the transition's
// cost and any working-memory items pinned to preserve context. Switching
// focus away from an active goal to a different one always has a nonzero
// cost; switching into the same goal already held is a no-op.
func (m *Manager) SetFocus(ctx context.Context, projectID, goalID, reason string, pinnedItems []string) error {
	m.mu.Lock()
	prev := m.focus[projectID]
	if prev == goalID {
		m.mu.Unlock()
		return nil
	}
	m.state[projectID] = FocusSwitching
	switchedAt := time.Now()
	m.mu.Unlock()

	cost := estimateSwitchCost(prev, goalID)

	m.mu.Lock()
	m.focus[projectID] = goalID
	m.state[projectID] = FocusEngaged
	m.mu.Unlock()

	if m.store == nil {
		return nil
	}
	ts := &types.TaskSwitch{
		ProjectID: projectID, FromGoalID: prev, ToGoalID: goalID, CostMs: cost,
		Reason: reason, PinnedItems: pinnedItems, SwitchedAt: switchedAt,
	}
	if err := m.store.RecordTaskSwitch(ctx, ts); err != nil {
		logging.Get(logging.CategoryAttention).Warn("failed to record task switch for %s: %v", projectID, err)
	}
	logging.Get(logging.CategoryAttention).Debug("focus %s -> %s (%s), cost=%dms", prev, goalID, projectID, cost)
	return nil
}

// estimateSwitchCost models the prospective-memory cost of abandoning an
// active goal: switching from idle is free, switching between two
// concrete goals costs a fixed base penalty (resumption lag).
func estimateSwitchCost(from, to string) int64 {
	if from == "" || from == to {
		return 0
	}
	return 1500
}

// Prime boosts item's effective salience by strength until ttl elapses.
// ttl of zero uses the configured default.
func (m *Manager) Prime(projectID string, item types.ItemRef, strength float64, ttl time.Duration) {
	if ttl <= 0 {
		ttl = time.Duration(m.cfg.DefaultInhibitionTTLMs) * time.Millisecond
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.priming[projectID] = append(m.priming[projectID], types.PrimingEntry{
		Item: item, Strength: types.ClampUnit(strength), ExpiresAt: time.Now().Add(ttl),
	})
}

// Inhibit suppresses item from retrieval/admission until ttl elapses. ttl
// of zero uses the configured default.
func (m *Manager) Inhibit(projectID string, item types.ItemRef, kind types.InhibitionType, strength float64, ttl time.Duration) {
	if ttl <= 0 {
		ttl = time.Duration(m.cfg.DefaultInhibitionTTLMs) * time.Millisecond
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inhibits[projectID] = append(m.inhibits[projectID], types.InhibitionEntry{
		Item: item, Type: kind, Strength: types.ClampUnit(strength), ExpiresAt: time.Now().Add(ttl),
	})
}

// Adjust applies any live priming boost and inhibition suppression for item
// to baseSalience, sweeping expired entries for projectID as a side effect.
// Returns errs.ErrPolicyDenied if item is fully inhibited (suppressed
// strength >= 1).
func (m *Manager) Adjust(projectID string, item types.ItemRef, baseSalience float64) (float64, error) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	m.priming[projectID] = sweepPriming(m.priming[projectID], now)
	m.inhibits[projectID] = sweepInhibition(m.inhibits[projectID], now)

	salience := baseSalience
	for _, p := range m.priming[projectID] {
		if p.Item == item {
			salience = types.ClampUnit(salience + p.Strength*(1-salience))
		}
	}

	var suppression float64
	for _, inh := range m.inhibits[projectID] {
		if inh.Item == item && inh.Strength > suppression {
			suppression = inh.Strength
		}
	}
	if suppression >= 1 {
		return 0, errs.New(errs.PolicyDenied, "item_inhibited", "item is fully inhibited")
	}
	salience *= 1 - suppression
	return types.ClampUnit(salience), nil
}

func sweepPriming(entries []types.PrimingEntry, now time.Time) []types.PrimingEntry {
	out := entries[:0]
	for _, e := range entries {
		if now.Before(e.ExpiresAt) {
			out = append(out, e)
		}
	}
	return out
}

func sweepInhibition(entries []types.InhibitionEntry, now time.Time) []types.InhibitionEntry {
	out := entries[:0]
	for _, e := range entries {
		if now.Before(e.ExpiresAt) {
			out = append(out, e)
		}
	}
	return out
}
