package embedding

import (
	"context"
	"math"
	"testing"

	"mnemex/internal/types"
)

func TestNewEngine_SelectsMockByDefault(t *testing.T) {
	eng, err := NewEngine(Config{})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if eng.Name() != "mock" {
		t.Fatalf("expected the empty provider to select mock, got %q", eng.Name())
	}
}

func TestNewEngine_RejectsUnknownProvider(t *testing.T) {
	if _, err := NewEngine(Config{Provider: "bedrock"}); err == nil {
		t.Fatal("expected an unsupported provider to error")
	}
}

func TestMockEngine_EmbedIsDeterministic(t *testing.T) {
	eng := NewMockEngine()
	ctx := context.Background()

	a, err := eng.Embed(ctx, "the deploy pipeline retries failed jobs")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	b, err := eng.Embed(ctx, "the deploy pipeline retries failed jobs")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(a) != types.EmbeddingDimensions {
		t.Fatalf("expected %d dims, got %d", types.EmbeddingDimensions, len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expected identical text to hash to the same vector at index %d", i)
		}
	}
}

func TestCosineSimilarity_IdenticalVectorsAreOne(t *testing.T) {
	v := []float32{1, 2, 3}
	sim, err := CosineSimilarity(v, v)
	if err != nil {
		t.Fatalf("CosineSimilarity: %v", err)
	}
	if math.Abs(sim-1.0) > 1e-9 {
		t.Fatalf("expected similarity 1.0, got %v", sim)
	}
}

func TestCosineSimilarity_OrthogonalVectorsAreZero(t *testing.T) {
	sim, err := CosineSimilarity([]float32{1, 0}, []float32{0, 1})
	if err != nil {
		t.Fatalf("CosineSimilarity: %v", err)
	}
	if math.Abs(sim) > 1e-9 {
		t.Fatalf("expected similarity 0, got %v", sim)
	}
}

func TestCosineSimilarity_MismatchedLengthsError(t *testing.T) {
	if _, err := CosineSimilarity([]float32{1, 2}, []float32{1}); err == nil {
		t.Fatal("expected mismatched vector lengths to error")
	}
}

func TestFindTopK_ReturnsMostSimilarFirst(t *testing.T) {
	query := []float32{1, 0}
	corpus := [][]float32{
		{0, 1},  // orthogonal, similarity 0
		{1, 0},  // identical, similarity 1
		{-1, 0}, // opposite, similarity -1
	}
	top, err := FindTopK(query, corpus, 2)
	if err != nil {
		t.Fatalf("FindTopK: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("expected 2 results, got %d", len(top))
	}
	if top[0].Index != 1 {
		t.Fatalf("expected the identical vector to rank first, got index %d", top[0].Index)
	}
}
