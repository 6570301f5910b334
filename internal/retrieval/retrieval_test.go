package retrieval

import (
	"context"
	"testing"

	"mnemex/internal/config"
	"mnemex/internal/embedding"
	"mnemex/internal/store"
	"mnemex/internal/types"
)

func newTestRouter(t *testing.T) (*Router, *store.Store, string) {
	t.Helper()
	eng := embedding.NewMockEngine()
	s, err := store.Open(store.Options{Path: ":memory:", EmbeddingEngine: eng})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	proj, err := s.CreateProject(context.Background(), "demo", "")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	cfg := Config{Enabled: true, HybridVectorWeight: 0.6}
	cacheCfg := config.CacheConfig{Enabled: true, MaxSize: 100, DefaultTTLMs: 300_000}
	breakerCfg := config.CircuitBreakerConfig{FailureThreshold: 0.5, SuccessThreshold: 1, CoolDownMs: 60_000, MinVolume: 5}
	return New(cfg, s, eng, cacheCfg, breakerCfg), s, proj.ID
}

func TestRecall_VectorStrategyReturnsExactStoredContent(t *testing.T) {
	r, s, projectID := newTestRouter(t)
	ctx := context.Background()

	content := "the deploy pipeline retries three times before paging oncall"
	if _, err := s.StoreMemory(ctx, &types.Memory{ProjectID: projectID, Content: content, Kind: types.KindSemantic}); err != nil {
		t.Fatalf("StoreMemory: %v", err)
	}

	results, err := r.Recall(ctx, projectID, content, 5, StrategyVector)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(results) == 0 || results[0].Content != content {
		t.Fatalf("expected the stored memory as the top vector hit, got %+v", results)
	}
}

func TestRecall_KeywordStrategyMatchesOnTerms(t *testing.T) {
	r, s, projectID := newTestRouter(t)
	ctx := context.Background()

	if _, err := s.StoreMemory(ctx, &types.Memory{ProjectID: projectID, Content: "ripgrep is fast at searching large repos", Kind: types.KindSemantic}); err != nil {
		t.Fatalf("StoreMemory: %v", err)
	}

	results, err := r.Recall(ctx, projectID, "ripgrep searching", 5, StrategyKeyword)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one keyword hit")
	}
}

func TestRecall_WriteInvalidatesCachedResult(t *testing.T) {
	r, s, projectID := newTestRouter(t)
	ctx := context.Background()

	if _, err := s.StoreMemory(ctx, &types.Memory{ProjectID: projectID, Content: "cache me please", Kind: types.KindSemantic}); err != nil {
		t.Fatalf("StoreMemory: %v", err)
	}

	first, err := r.Recall(ctx, projectID, "cache me please", 5, StrategyVector)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}

	r.InvalidateOnWrite(projectID, "store")
	if _, ok := r.cache.Get(projectID, "recall", "cache me please", 5, StrategyVector); ok {
		t.Fatal("expected cache entry to be invalidated after a write")
	}

	second, err := r.Recall(ctx, projectID, "cache me please", 5, StrategyVector)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("expected consistent results before and after invalidation, got %d vs %d", len(first), len(second))
	}
}

func TestSelectStrategy_EmptyQueryDefaultsToVector(t *testing.T) {
	if got := selectStrategy("", nil); got != StrategyVector {
		t.Errorf("expected vector for empty query, got %s", got)
	}
}
