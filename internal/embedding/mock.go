package embedding

import (
	"context"
	"hash/fnv"

	"mnemex/internal/types"
)

// MockEngine produces deterministic, content-derived embeddings with no
// network dependency. Used in tests and as the default when no provider
// is configured.
type MockEngine struct{}

// NewMockEngine returns a MockEngine.
func NewMockEngine() *MockEngine { return &MockEngine{} }

// Embed hashes text into a types.EmbeddingDimensions-length vector whose
// components lie in [-1, 1]; the vector is not normalized to unit length.
// Two equal texts always hash to the same vector; unrelated texts are
// very unlikely to collide, which is enough for exercising similarity
// search logic without a real model.
func (m *MockEngine) Embed(_ context.Context, text string) ([]float32, error) {
	return hashEmbed(text), nil
}

// EmbedBatch embeds each text independently.
func (m *MockEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions returns types.EmbeddingDimensions.
func (m *MockEngine) Dimensions() int { return types.EmbeddingDimensions }

// Name identifies the engine.
func (m *MockEngine) Name() string { return "mock" }

// HealthCheck always succeeds.
func (m *MockEngine) HealthCheck(_ context.Context) error { return nil }

func hashEmbed(text string) []float32 {
	vec := make([]float32, types.EmbeddingDimensions)
	h := fnv.New64a()
	seed := uint64(0)
	for i := range vec {
		h.Reset()
		h.Write([]byte(text))
		h.Write([]byte{byte(i), byte(i >> 8)})
		seed = h.Sum64()
		// Map to [-1, 1].
		vec[i] = float32(int64(seed%2000)-1000) / 1000.0
	}
	return vec
}
