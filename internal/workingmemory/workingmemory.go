// Package workingmemory implements the bounded, decaying buffer that holds
// whatever a project is actively "thinking about": the small set of items
// dense enough in activation to matter for the next retrieval or decision,
// modeled after the capacity limits of human working memory (Miller's
// 7±2, Cowan's 4±1) rather than an unbounded cache.
package workingmemory

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"mnemex/internal/errs"
	"mnemex/internal/logging"
	"mnemex/internal/store"
	"mnemex/internal/types"
)

// Config tunes admission, decay and capacity.
type Config struct {
	Capacity           int     // soft target; admission prefers to stay at or below this
	HardCap            int     // admission always rejects once this many items are held
	DecayRate          float64 // k in a(t) = a0 * exp(-k * (1 - 0.5*importance) * elapsed_seconds)
	AdmissionThreshold float64 // initial activation must be at least this to be admitted
	AccessBoost        float64 // multiplier applied to activation on Access, clamped to 1
}

// Buffer is one project's working-memory buffer.
type Buffer struct {
	cfg   Config
	store *store.Store

	mu       sync.Mutex
	projects map[string]map[string]*types.WorkingItem // projectID -> itemID -> item

	// decayAnchor tracks, per item id, the last time its Activation field was
	// brought current. It is intentionally separate from the item's
	// LastAccessed: LastAccessed records true rehearsal (Admit/Access), which
	// weakestLocked needs intact to break activation ties by recency.
	decayAnchor map[string]time.Time
}

// New constructs a Buffer. st may be nil, in which case items are held only
// in memory and do not survive a restart.
func New(cfg Config, st *store.Store) *Buffer {
	return &Buffer{
		cfg:         cfg,
		store:       st,
		projects:    make(map[string]map[string]*types.WorkingItem),
		decayAnchor: make(map[string]time.Time),
	}
}

// Rehydrate loads projectID's persisted working items back into the buffer.
// Call once at startup per active project.
func (b *Buffer) Rehydrate(ctx context.Context, projectID string) error {
	if b.store == nil {
		return nil
	}
	items, err := b.store.ListWorkingItems(ctx, projectID)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	bucket := b.bucketLocked(projectID)
	for _, it := range items {
		bucket[it.ID] = it
	}
	return nil
}

func (b *Buffer) bucketLocked(projectID string) map[string]*types.WorkingItem {
	bucket, ok := b.projects[projectID]
	if !ok {
		bucket = make(map[string]*types.WorkingItem)
		b.projects[projectID] = bucket
	}
	return bucket
}

// decayedActivation computes an item's current activation without mutating
// it: a(t) = a0 * exp(-k * (1 - 0.5*importance) * elapsed_seconds), where t is
// elapsed time since the item's Activation field was last brought current
// (its decay anchor), not since it was last accessed.
func (b *Buffer) decayedActivation(it *types.WorkingItem, now time.Time) float64 {
	anchor, ok := b.decayAnchor[it.ID]
	if !ok {
		anchor = it.LastAccessed
	}
	elapsed := now.Sub(anchor).Seconds()
	if elapsed <= 0 {
		return it.Activation
	}
	rate := b.cfg.DecayRate * (1 - 0.5*it.Importance)
	return it.Activation * math.Exp(-rate*elapsed)
}

// Admit inserts a new item, evicting the weakest current item if the buffer
// is at capacity. Returns an InvalidArgument error if content's initial
// activation is below AdmissionThreshold, and errs.ErrQuotaExceeded if the
// buffer is at HardCap.
func (b *Buffer) Admit(ctx context.Context, projectID, content string, component types.Component, importance float64) (*types.WorkingItem, error) {
	importance = types.ClampUnit(importance)
	initialActivation := 0.5 + 0.5*importance
	if initialActivation < b.cfg.AdmissionThreshold {
		return nil, errs.New(errs.InvalidArgument, "below_admission_threshold", "item's initial activation does not clear the admission threshold")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	bucket := b.bucketLocked(projectID)
	now := time.Now()
	b.decayBucketLocked(bucket, now)

	if len(bucket) >= b.cfg.HardCap {
		return nil, errs.ErrQuotaExceeded
	}
	if len(bucket) >= b.cfg.Capacity {
		if weakestID, ok := b.weakestLocked(bucket); ok {
			b.evictLocked(ctx, projectID, bucket, weakestID)
		}
	}

	item := &types.WorkingItem{
		ID: uuid.NewString(), ProjectID: projectID, Content: content, Component: component,
		Activation: initialActivation, Importance: importance, DecayRate: b.cfg.DecayRate,
		CreatedAt: now, LastAccessed: now,
	}
	bucket[item.ID] = item
	b.decayAnchor[item.ID] = now
	b.persist(ctx, item)
	logging.Get(logging.CategoryWorkingMemory).Debug("admitted item %s into %s (activation=%.3f, size=%d)", item.ID, projectID, item.Activation, len(bucket))
	return item, nil
}

// weakestLocked finds the item with the lowest current activation, breaking
// ties by oldest LastAccessed (least recently rehearsed loses first).
func (b *Buffer) weakestLocked(bucket map[string]*types.WorkingItem) (string, bool) {
	var weakestID string
	var weakest float64 = math.Inf(1)
	var weakestLastAccessed time.Time
	now := time.Now()
	for id, it := range bucket {
		a := b.decayedActivation(it, now)
		switch {
		case weakestID == "":
			weakestID, weakest, weakestLastAccessed = id, a, it.LastAccessed
		case a < weakest, a == weakest && it.LastAccessed.Before(weakestLastAccessed):
			weakestID, weakest, weakestLastAccessed = id, a, it.LastAccessed
		}
	}
	return weakestID, weakestID != ""
}

func (b *Buffer) evictLocked(ctx context.Context, projectID string, bucket map[string]*types.WorkingItem, id string) {
	delete(bucket, id)
	delete(b.decayAnchor, id)
	if b.store != nil {
		if err := b.store.DeleteWorkingItem(ctx, id); err != nil {
			logging.Get(logging.CategoryWorkingMemory).Warn("failed to delete evicted working item %s: %v", id, err)
		}
	}
	logging.Get(logging.CategoryWorkingMemory).Debug("evicted item %s from %s", id, projectID)
}

// decayBucketLocked brings every item's Activation field current as of now.
// It deliberately leaves LastAccessed untouched: that field records rehearsal
// (Admit/Access), not decay bookkeeping, and weakestLocked's tie-break
// depends on it staying accurate.
func (b *Buffer) decayBucketLocked(bucket map[string]*types.WorkingItem, now time.Time) {
	for id, it := range bucket {
		it.Activation = b.decayedActivation(it, now)
		b.decayAnchor[id] = now
	}
}

// Access boosts an item's activation (bounded at 1) and refreshes its
// last-accessed timestamp, modeling rehearsal.
func (b *Buffer) Access(ctx context.Context, projectID, id string) (*types.WorkingItem, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bucket := b.bucketLocked(projectID)
	it, ok := bucket[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	now := time.Now()
	it.Activation = types.ClampUnit(b.decayedActivation(it, now) * b.cfg.AccessBoost)
	it.LastAccessed = now
	b.decayAnchor[id] = now
	b.persist(ctx, it)
	return it, nil
}

// Evict manually removes an item (e.g. after it is promoted into a durable
// Memory by consolidation).
func (b *Buffer) Evict(ctx context.Context, projectID, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bucket := b.bucketLocked(projectID)
	if _, ok := bucket[id]; ok {
		b.evictLocked(ctx, projectID, bucket, id)
	}
}

// Current returns projectID's items ordered by current activation,
// descending, applying decay as of now but without mutating stored state.
func (b *Buffer) Current(projectID string) []*types.WorkingItem {
	b.mu.Lock()
	defer b.mu.Unlock()

	bucket := b.bucketLocked(projectID)
	now := time.Now()
	out := make([]*types.WorkingItem, 0, len(bucket))
	for _, it := range bucket {
		snapshot := *it
		snapshot.Activation = b.decayedActivation(it, now)
		out = append(out, &snapshot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Activation > out[j].Activation })
	return out
}

func (b *Buffer) persist(ctx context.Context, it *types.WorkingItem) {
	if b.store == nil {
		return
	}
	if err := b.store.SaveWorkingItem(ctx, it); err != nil {
		logging.Get(logging.CategoryWorkingMemory).Warn("failed to persist working item %s: %v", it.ID, err)
	}
}
