package store

import (
	"context"
	"testing"

	"mnemex/internal/embedding"
	"mnemex/internal/types"
)

func newTestStore(t *testing.T, eng embedding.Engine) *Store {
	t.Helper()
	s, err := Open(Options{Path: ":memory:", EmbeddingEngine: eng})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreMemory_RoundTrip(t *testing.T) {
	s := newTestStore(t, embedding.NewMockEngine())
	ctx := context.Background()

	proj, err := s.CreateProject(ctx, "demo", "/tmp/demo")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	m := &types.Memory{ProjectID: proj.ID, Content: "the build is green", Kind: types.KindEpisodic}
	stored, err := s.StoreMemory(ctx, m)
	if err != nil {
		t.Fatalf("StoreMemory: %v", err)
	}
	if stored.ID == "" || stored.Version != 1 {
		t.Fatalf("unexpected stored memory: %+v", stored)
	}

	got, err := s.GetMemory(ctx, proj.ID, stored.ID)
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if got.Content != "the build is green" {
		t.Errorf("content mismatch: %q", got.Content)
	}
}

func TestUpdateMemory_VersionConflict(t *testing.T) {
	s := newTestStore(t, embedding.NewMockEngine())
	ctx := context.Background()

	proj, _ := s.CreateProject(ctx, "demo", "")
	m, _ := s.StoreMemory(ctx, &types.Memory{ProjectID: proj.ID, Content: "v1", Kind: types.KindSemantic})

	if _, err := s.UpdateMemory(ctx, proj.ID, m.ID, "v2", 1); err != nil {
		t.Fatalf("first update should succeed: %v", err)
	}
	if _, err := s.UpdateMemory(ctx, proj.ID, m.ID, "v3-stale", 1); err == nil {
		t.Fatal("expected version conflict on stale update")
	}
}

func TestVectorRecall_OrdersBySimilarity(t *testing.T) {
	eng := embedding.NewMockEngine()
	s := newTestStore(t, eng)
	ctx := context.Background()

	proj, _ := s.CreateProject(ctx, "demo", "")
	for _, content := range []string{"cats are great", "dogs are great", "quarterly tax filing"} {
		if _, err := s.StoreMemory(ctx, &types.Memory{ProjectID: proj.ID, Content: content, Kind: types.KindSemantic}); err != nil {
			t.Fatalf("StoreMemory: %v", err)
		}
	}

	queryVec, _ := eng.Embed(ctx, "cats are great")
	results, err := s.VectorRecall(ctx, proj.ID, queryVec, 3)
	if err != nil {
		t.Fatalf("VectorRecall: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one result")
	}
	if results[0].Memory.Content != "cats are great" {
		t.Errorf("expected exact match first, got %q", results[0].Memory.Content)
	}
}

func TestClaimTask_OptimisticLock(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	proj, _ := s.CreateProject(ctx, "demo", "")
	task, err := s.CreateTask(ctx, &types.Task{ProjectID: proj.ID, Content: "ship it", Priority: 5})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	claimed, err := s.ClaimTask(ctx, task.ID, "agent-1")
	if err != nil {
		t.Fatalf("ClaimTask: %v", err)
	}
	if claimed.Assignee != "agent-1" {
		t.Errorf("expected assignee agent-1, got %q", claimed.Assignee)
	}

	if _, err := s.ClaimTask(ctx, task.ID, "agent-2"); err == nil {
		t.Fatal("expected second claim to fail, task is no longer pending")
	}
}

func TestTraversePath_FindsShortestPath(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	proj, _ := s.CreateProject(ctx, "demo", "")
	for _, name := range []string{"a", "b", "c"} {
		if _, err := s.UpsertEntity(ctx, proj.ID, name, "concept", ""); err != nil {
			t.Fatalf("UpsertEntity: %v", err)
		}
	}
	if _, err := s.StoreRelation(ctx, proj.ID, "a", "b", "depends_on", 0.8, 0.9); err != nil {
		t.Fatalf("StoreRelation: %v", err)
	}
	if _, err := s.StoreRelation(ctx, proj.ID, "b", "c", "depends_on", 0.8, 0.9); err != nil {
		t.Fatalf("StoreRelation: %v", err)
	}

	path, err := s.TraversePath(ctx, proj.ID, "a", "c", 5)
	if err != nil {
		t.Fatalf("TraversePath: %v", err)
	}
	if len(path) != 2 {
		t.Fatalf("expected a 2-hop path, got %d hops", len(path))
	}
}
