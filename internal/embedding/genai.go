package embedding

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
	"google.golang.org/genai"

	"mnemex/internal/logging"
	"mnemex/internal/types"
)

// maxBatchSize is the largest batch the GenAI EmbedContent API accepts in a
// single call; larger requests are chunked and issued sequentially.
const maxBatchSize = 100

func int32Ptr(i int32) *int32 { return &i }

// GenAIEngine generates embeddings with Google's Gemini embedding API,
// projected down to types.EmbeddingDimensions so every stored vector shares
// one dimensionality regardless of which model produced it.
type GenAIEngine struct {
	client   *genai.Client
	model    string
	taskType string
	inflight *semaphore.Weighted
}

// NewGenAIEngine builds a GenAI-backed embedding engine from cfg.
func NewGenAIEngine(cfg Config) (*GenAIEngine, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "NewGenAIEngine")
	defer timer.Stop()

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("genai: api key is required")
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-embedding-001"
	}
	taskType := cfg.TaskType
	if taskType == "" {
		taskType = "SEMANTIC_SIMILARITY"
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 5
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("genai: create client: %w", err)
	}

	logging.Get(logging.CategoryEmbedding).Info("genai embedding engine ready: model=%s task_type=%s", model, taskType)

	return &GenAIEngine{
		client:   client,
		model:    model,
		taskType: taskType,
		inflight: semaphore.NewWeighted(int64(burst)),
	}, nil
}

// Embed generates an embedding for a single text.
func (e *GenAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.embedChunk(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("genai: no embeddings returned")
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for texts, chunking at maxBatchSize.
func (e *GenAIEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) <= maxBatchSize {
		return e.embedChunk(ctx, texts)
	}

	all := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		chunk, err := e.embedChunk(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("genai: batch %d-%d: %w", start, end, err)
		}
		all = append(all, chunk...)
	}
	return all, nil
}

func (e *GenAIEngine) embedChunk(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.inflight.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("genai: rate limit wait: %w", err)
	}
	defer e.inflight.Release(1)

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	start := time.Now()
	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: int32Ptr(int32(types.EmbeddingDimensions)),
	})
	latency := time.Since(start)
	if err != nil {
		logging.Get(logging.CategoryEmbedding).Error("genai embed failed after %v: %v", latency, err)
		return nil, fmt.Errorf("genai embed: %w", err)
	}

	embeddings := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		embeddings[i] = emb.Values
	}
	logging.Get(logging.CategoryEmbedding).Debug("genai embedded %d texts in %v", len(texts), latency)
	return embeddings, nil
}

// Dimensions always returns types.EmbeddingDimensions: OutputDimensionality
// pins every request to the store's fixed vector width.
func (e *GenAIEngine) Dimensions() int { return types.EmbeddingDimensions }

// Name identifies the engine for logging.
func (e *GenAIEngine) Name() string { return fmt.Sprintf("genai:%s", e.model) }

// HealthCheck issues a minimal embed call to confirm the API key and model
// are reachable.
func (e *GenAIEngine) HealthCheck(ctx context.Context) error {
	_, err := e.Embed(ctx, "healthcheck")
	return err
}
