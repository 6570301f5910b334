package workingmemory

import (
	"context"
	"errors"
	"testing"
	"time"

	"mnemex/internal/errs"
	"mnemex/internal/store"
	"mnemex/internal/types"
)

func newTestBuffer(t *testing.T, cfg Config) (*Buffer, *store.Store, string) {
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

func defaultBufferCfg() Config {
	return Config{Capacity: 3, HardCap: 5, DecayRate: 0.01, AdmissionThreshold: 0.4, AccessBoost: 1.2}
}

func TestAdmit_RejectsBelowAdmissionThreshold(t *testing.T) {
	b, _, projectID := newTestBuffer(t, Config{Capacity: 3, HardCap: 5, DecayRate: 0.01, AdmissionThreshold: 0.95, AccessBoost: 1.2})
	ctx := context.Background()

	_, err := b.Admit(ctx, projectID, "low importance note", types.ComponentEpisodicBuffer, 0.1)
	if !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestAdmit_EvictsWeakestWhenAtCapacity(t *testing.T) {
	b, _, projectID := newTestBuffer(t, defaultBufferCfg())
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		it, err := b.Admit(ctx, projectID, "item", types.ComponentEpisodicBuffer, 0.1)
		if err != nil {
			t.Fatalf("Admit: %v", err)
		}
		ids = append(ids, it.ID)
	}
	if len(b.Current(projectID)) != 3 {
		t.Fatalf("expected 3 items at capacity, got %d", len(b.Current(projectID)))
	}

	// Boost the second and third items so the first (untouched) is weakest.
	if _, err := b.Access(ctx, projectID, ids[1]); err != nil {
		t.Fatalf("Access: %v", err)
	}
	if _, err := b.Access(ctx, projectID, ids[2]); err != nil {
		t.Fatalf("Access: %v", err)
	}

	if _, err := b.Admit(ctx, projectID, "newcomer", types.ComponentEpisodicBuffer, 0.9); err != nil {
		t.Fatalf("Admit: %v", err)
	}

	current := b.Current(projectID)
	if len(current) != 3 {
		t.Fatalf("expected capacity to hold steady at 3 after eviction, got %d", len(current))
	}
	for _, it := range current {
		if it.ID == ids[0] {
			t.Fatal("expected the untouched weakest item to be evicted")
		}
	}
}

func TestAdmit_RejectsOnceHardCapReached(t *testing.T) {
	cfg := Config{Capacity: 2, HardCap: 2, DecayRate: 0.01, AdmissionThreshold: 0.4, AccessBoost: 1.2}
	b, _, projectID := newTestBuffer(t, cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := b.Admit(ctx, projectID, "item", types.ComponentEpisodicBuffer, 0.9); err != nil {
			t.Fatalf("Admit: %v", err)
		}
	}
	if _, err := b.Admit(ctx, projectID, "overflow", types.ComponentEpisodicBuffer, 0.9); !errors.Is(err, errs.ErrQuotaExceeded) {
		t.Fatalf("expected QuotaExceeded once hard cap is reached, got %v", err)
	}
}

func TestAccess_BoostsActivationAndRefreshesTimestamp(t *testing.T) {
	b, _, projectID := newTestBuffer(t, defaultBufferCfg())
	ctx := context.Background()

	it, err := b.Admit(ctx, projectID, "rehearsed fact", types.ComponentEpisodicBuffer, 0.5)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	before := it.Activation

	got, err := b.Access(ctx, projectID, it.ID)
	if err != nil {
		t.Fatalf("Access: %v", err)
	}
	if got.Activation < before {
		t.Fatalf("expected activation to rise on access, before=%v after=%v", before, got.Activation)
	}
}

func TestAccess_UnknownIDReturnsNotFound(t *testing.T) {
	b, _, projectID := newTestBuffer(t, defaultBufferCfg())
	if _, err := b.Access(context.Background(), projectID, "does-not-exist"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestCurrent_OrdersByDescendingActivation(t *testing.T) {
	b, _, projectID := newTestBuffer(t, defaultBufferCfg())
	ctx := context.Background()

	if _, err := b.Admit(ctx, projectID, "weak", types.ComponentEpisodicBuffer, 0.0); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	strong, err := b.Admit(ctx, projectID, "strong", types.ComponentEpisodicBuffer, 1.0)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}

	current := b.Current(projectID)
	if len(current) != 2 {
		t.Fatalf("expected 2 items, got %d", len(current))
	}
	if current[0].ID != strong.ID {
		t.Fatal("expected the higher-importance item to rank first")
	}
}

func TestRehydrate_RestoresPersistedItems(t *testing.T) {
	cfg := defaultBufferCfg()
	s, err := store.Open(store.Options{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	proj, err := s.CreateProject(context.Background(), "demo", "")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	b1 := New(cfg, s)
	ctx := context.Background()
	it, err := b1.Admit(ctx, proj.ID, "durable across restart", types.ComponentEpisodicBuffer, 0.5)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}

	b2 := New(cfg, s)
	if err := b2.Rehydrate(ctx, proj.ID); err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}
	current := b2.Current(proj.ID)
	if len(current) != 1 || current[0].ID != it.ID {
		t.Fatalf("expected rehydrated buffer to contain %s, got %+v", it.ID, current)
	}
}

func TestEvict_RemovesItemFromBuffer(t *testing.T) {
	b, _, projectID := newTestBuffer(t, defaultBufferCfg())
	ctx := context.Background()

	it, err := b.Admit(ctx, projectID, "promoted into durable memory", types.ComponentEpisodicBuffer, 0.5)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	b.Evict(ctx, projectID, it.ID)

	if len(b.Current(projectID)) != 0 {
		t.Fatal("expected buffer to be empty after eviction")
	}
}

func TestWeakestLocked_TiedActivationBreaksOnOldestLastAccessed(t *testing.T) {
	b, _, projectID := newTestBuffer(t, defaultBufferCfg())
	now := time.Now()

	// Construct three items with identical activation but distinct
	// LastAccessed timestamps and no decay elapsed (decayAnchor == now for
	// all three), so weakestLocked can only distinguish them by recency.
	bucket := b.bucketLocked(projectID)
	for i, id := range []string{"oldest", "middle", "newest"} {
		it := &types.WorkingItem{
			ID:           id,
			ProjectID:    projectID,
			Activation:   0.6,
			Importance:   0.5,
			LastAccessed: now.Add(time.Duration(i) * time.Hour),
		}
		bucket[id] = it
		b.decayAnchor[id] = now
	}

	weakestID, ok := b.weakestLocked(bucket)
	if !ok {
		t.Fatal("expected a weakest item to be found")
	}
	if weakestID != "oldest" {
		t.Fatalf("expected the oldest equally-active item to be weakest, got %s", weakestID)
	}
}

func TestDecayBucketLocked_DoesNotClobberLastAccessed(t *testing.T) {
	b, _, projectID := newTestBuffer(t, defaultBufferCfg())
	ctx := context.Background()

	it, err := b.Admit(ctx, projectID, "first", types.ComponentEpisodicBuffer, 0.5)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	originalLastAccessed := it.LastAccessed

	// A later Admit triggers a decay sweep over the whole bucket; it must not
	// touch the first item's LastAccessed even though its Activation is
	// recomputed.
	if _, err := b.Admit(ctx, projectID, "second", types.ComponentEpisodicBuffer, 0.5); err != nil {
		t.Fatalf("Admit: %v", err)
	}

	if !it.LastAccessed.Equal(originalLastAccessed) {
		t.Fatalf("expected decay sweeps to leave LastAccessed untouched, got %v want %v", it.LastAccessed, originalLastAccessed)
	}
}

func TestDecayedActivation_DecaysOverElapsedTime(t *testing.T) {
	b, _, projectID := newTestBuffer(t, defaultBufferCfg())
	ctx := context.Background()

	it, err := b.Admit(ctx, projectID, "fact", types.ComponentEpisodicBuffer, 0.5)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	anchor := b.decayAnchor[it.ID]

	later := b.decayedActivation(it, anchor.Add(time.Hour))
	if later >= it.Activation {
		t.Fatalf("expected activation to decay after an hour, got %v >= %v", later, it.Activation)
	}
}
