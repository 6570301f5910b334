// Package llmsummary generates the natural-language summaries the
// consolidation pipeline's compression phase and pattern-extraction phase
// attach to aged memories and promoted patterns.
package llmsummary

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"mnemex/internal/logging"
)

// Summarizer condenses text while preserving the facts a retrieval caller
// would need later.
type Summarizer interface {
	// Summarize returns a version of content at targetRatio of its original
	// length (e.g. 0.4 keeps roughly 40% of the information density).
	Summarize(ctx context.Context, content string, targetRatio float64) (string, error)

	// ExtractPattern proposes a natural-language template describing what a
	// cluster of related event contents have in common.
	ExtractPattern(ctx context.Context, contents []string) (string, error)
}

// Config selects and configures the summarization backend.
type Config struct {
	Provider string // "genai" | "extractive"
	APIKey   string
	Model    string
}

// NewSummarizer builds a Summarizer from cfg.
func NewSummarizer(cfg Config) (Summarizer, error) {
	switch cfg.Provider {
	case "genai":
		return newGenAISummarizer(cfg)
	case "extractive", "":
		return newExtractiveSummarizer(), nil
	default:
		return nil, fmt.Errorf("unsupported summary provider: %s", cfg.Provider)
	}
}

// genAISummarizer uses Gemini's text generation to compress content and
// describe clusters.
type genAISummarizer struct {
	client *genai.Client
	model  string
}

func newGenAISummarizer(cfg Config) (*genAISummarizer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llmsummary: api key is required")
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("llmsummary: create client: %w", err)
	}
	return &genAISummarizer{client: client, model: model}, nil
}

func (s *genAISummarizer) generate(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	result, err := s.client.Models.GenerateContent(ctx, s.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("llmsummary: generate: %w", err)
	}
	text := result.Text()
	if text == "" {
		return "", fmt.Errorf("llmsummary: empty response")
	}
	return strings.TrimSpace(text), nil
}

func (s *genAISummarizer) Summarize(ctx context.Context, content string, targetRatio float64) (string, error) {
	pct := int(targetRatio * 100)
	prompt := fmt.Sprintf(
		"Condense the following memory content to about %d%% of its original length, preserving every fact a future retrieval would need. Return only the condensed text.\n\n%s",
		pct, content,
	)
	out, err := s.generate(ctx, prompt)
	if err != nil {
		logging.Get(logging.CategoryConsolidation).Warn("genai summarize failed, falling back to extractive: %v", err)
		return newExtractiveSummarizer().Summarize(ctx, content, targetRatio)
	}
	return out, nil
}

func (s *genAISummarizer) ExtractPattern(ctx context.Context, contents []string) (string, error) {
	prompt := "The following events were observed in the same project and judged similar enough to cluster. Describe the recurring pattern in one or two sentences as a reusable template.\n\n" + strings.Join(contents, "\n---\n")
	out, err := s.generate(ctx, prompt)
	if err != nil {
		logging.Get(logging.CategoryConsolidation).Warn("genai pattern extraction failed, falling back to extractive: %v", err)
		return newExtractiveSummarizer().ExtractPattern(ctx, contents)
	}
	return out, nil
}
