package llmsummary

import (
	"context"
	"strconv"
	"strings"
)

// extractiveSummarizer is the no-network fallback: it keeps the first
// targetRatio fraction of sentences rather than calling an LLM. Used when
// no provider is configured and as the fallback when a genai call fails.
type extractiveSummarizer struct{}

func newExtractiveSummarizer() *extractiveSummarizer { return &extractiveSummarizer{} }

func (e *extractiveSummarizer) Summarize(_ context.Context, content string, targetRatio float64) (string, error) {
	sentences := splitSentences(content)
	if len(sentences) == 0 {
		return content, nil
	}
	keep := int(float64(len(sentences)) * targetRatio)
	if keep < 1 {
		keep = 1
	}
	if keep > len(sentences) {
		keep = len(sentences)
	}
	return strings.TrimSpace(strings.Join(sentences[:keep], " ")), nil
}

func (e *extractiveSummarizer) ExtractPattern(_ context.Context, contents []string) (string, error) {
	if len(contents) == 0 {
		return "", nil
	}
	shortest := contents[0]
	for _, c := range contents[1:] {
		if len(c) < len(shortest) {
			shortest = c
		}
	}
	return "recurring pattern observed across " + strconv.Itoa(len(contents)) + " events, representative: " + shortest, nil
}

func splitSentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if r == '.' || r == '\n' {
			if s := strings.TrimSpace(text[start : i+1]); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}
