// Package reconsolidation implements the controlled window during which a
// retrieved memory is mutable: MarkLabile opens the window and mints a lock
// token, Update accepts a write within it (delegating the actual
// version-checked content swap to internal/store, which already preserves
// update history and reindexes the vector), and Sweep closes windows that
// expired without a write.
package reconsolidation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"mnemex/internal/config"
	"mnemex/internal/errs"
	"mnemex/internal/logging"
	"mnemex/internal/store"
	"mnemex/internal/types"
)

// window is the bookkeeping kept in memory for one item's labile period.
// The lock token, not the memory's content version, is what a concurrent
// caller must present to Update — matching spec.md's "bump a per-item lock
// token" distinct from the content version bump a successful write causes.
type window struct {
	memoryID  string
	projectID string
	lockToken string
	expiresAt time.Time
}

// Controller tracks open labile windows across all projects.
type Controller struct {
	cfg   config.ReconsolidationConfig
	store *store.Store

	mu      sync.Mutex
	windows map[string]window // memory id -> window
}

// New builds a Controller. A zero WindowMs defaults to 5 minutes.
func New(cfg config.ReconsolidationConfig, st *store.Store) *Controller {
	if cfg.WindowMs <= 0 {
		cfg.WindowMs = 5 * 60_000
	}
	return &Controller{cfg: cfg, store: st, windows: make(map[string]window)}
}

// MarkLabile opens memoryID's reconsolidation window: the memory moves to
// the labile state and a fresh lock token is minted. Call this from a
// recall(..., reconsolidate=true) path.
func (c *Controller) MarkLabile(ctx context.Context, projectID, memoryID string) (string, error) {
	if err := c.store.MarkLabile(ctx, projectID, memoryID); err != nil {
		return "", err
	}
	if err := c.store.TouchMemory(ctx, projectID, memoryID); err != nil {
		logging.Get(logging.CategoryReconsolidation).Warn("touch on mark-labile failed for %s: %v", memoryID, err)
	}

	token := uuid.NewString()
	c.mu.Lock()
	c.windows[memoryID] = window{
		memoryID:  memoryID,
		projectID: projectID,
		lockToken: token,
		expiresAt: time.Now().Add(time.Duration(c.cfg.WindowMs) * time.Millisecond),
	}
	c.mu.Unlock()
	return token, nil
}

// Update writes newContent to memoryID if lockToken matches the one
// MarkLabile minted and the window hasn't closed. A stale or expired token
// is reported the same way a stale content version is: VersionConflict,
// since both describe a caller acting on an update opportunity that has
// since moved on.
func (c *Controller) Update(ctx context.Context, projectID, memoryID, lockToken, newContent string, expectedVersion int64) (*types.Memory, error) {
	c.mu.Lock()
	w, ok := c.windows[memoryID]
	if ok {
		delete(c.windows, memoryID) // the window is consumed by this attempt either way
	}
	c.mu.Unlock()

	if !ok {
		return nil, errs.New(errs.VersionConflict, "no_labile_window", "memory is not in an open reconsolidation window")
	}
	if time.Now().After(w.expiresAt) {
		c.stabilize(ctx, projectID, memoryID)
		return nil, errs.New(errs.VersionConflict, "labile_window_expired", "reconsolidation window closed before this update arrived")
	}
	if w.lockToken != lockToken {
		return nil, errs.New(errs.VersionConflict, "stale_lock_token", "lock token no longer matches the open reconsolidation window")
	}

	updated, err := c.store.UpdateMemory(ctx, projectID, memoryID, newContent, expectedVersion)
	if err != nil {
		return nil, err
	}
	c.stabilize(ctx, projectID, memoryID)
	return updated, nil
}

// Sweep closes every window that expired without a write, returning each
// affected memory to consolidated. Intended to run on a periodic ticker
// alongside the consolidation pipeline's own housekeeping.
func (c *Controller) Sweep(ctx context.Context) {
	now := time.Now()
	c.mu.Lock()
	var expired []window
	for id, w := range c.windows {
		if now.After(w.expiresAt) {
			expired = append(expired, w)
			delete(c.windows, id)
		}
	}
	c.mu.Unlock()

	for _, w := range expired {
		c.stabilize(ctx, w.projectID, w.memoryID)
	}
}

func (c *Controller) stabilize(ctx context.Context, projectID, memoryID string) {
	if err := c.store.MarkStabilized(ctx, projectID, memoryID); err != nil {
		logging.Get(logging.CategoryReconsolidation).Warn("stabilize failed for %s: %v", memoryID, err)
	}
}
