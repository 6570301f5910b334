package llmsummary

import (
	"context"
	"strings"
	"testing"
)

func TestNewSummarizer_DefaultsToExtractive(t *testing.T) {
	s, err := NewSummarizer(Config{})
	if err != nil {
		t.Fatalf("NewSummarizer: %v", err)
	}
	if _, ok := s.(*extractiveSummarizer); !ok {
		t.Fatalf("expected the empty provider to select the extractive summarizer, got %T", s)
	}
}

func TestNewSummarizer_RejectsUnknownProvider(t *testing.T) {
	if _, err := NewSummarizer(Config{Provider: "anthropic"}); err == nil {
		t.Fatal("expected an unsupported provider to error")
	}
}

func TestExtractiveSummarize_KeepsApproximateRatioOfSentences(t *testing.T) {
	s := newExtractiveSummarizer()
	content := "First event happened. Second event happened. Third event happened. Fourth event happened."

	out, err := s.Summarize(context.Background(), content, 0.5)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if !strings.Contains(out, "First event happened.") {
		t.Fatalf("expected the summary to retain the leading sentences, got %q", out)
	}
	if strings.Contains(out, "Fourth event happened.") {
		t.Fatalf("expected a 50%% ratio to drop trailing sentences, got %q", out)
	}
}

func TestExtractiveSummarize_AlwaysKeepsAtLeastOneSentence(t *testing.T) {
	s := newExtractiveSummarizer()
	out, err := s.Summarize(context.Background(), "Only one sentence here.", 0.01)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if out == "" {
		t.Fatal("expected a non-empty summary even at a near-zero ratio")
	}
}

func TestExtractiveSummarize_EmptyContentReturnsEmpty(t *testing.T) {
	s := newExtractiveSummarizer()
	out, err := s.Summarize(context.Background(), "", 0.5)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if out != "" {
		t.Fatalf("expected empty content to round-trip as empty, got %q", out)
	}
}

func TestExtractPattern_PicksShortestAsRepresentative(t *testing.T) {
	s := newExtractiveSummarizer()
	contents := []string{
		"the build failed because the test suite timed out after retries",
		"build failed",
		"the build failed after three retries and a timeout",
	}
	out, err := s.ExtractPattern(context.Background(), contents)
	if err != nil {
		t.Fatalf("ExtractPattern: %v", err)
	}
	if !strings.Contains(out, "build failed") || !strings.Contains(out, "3 events") {
		t.Fatalf("expected the pattern to name the event count and shortest representative, got %q", out)
	}
}

func TestExtractPattern_EmptyContentsReturnsEmpty(t *testing.T) {
	s := newExtractiveSummarizer()
	out, err := s.ExtractPattern(context.Background(), nil)
	if err != nil {
		t.Fatalf("ExtractPattern: %v", err)
	}
	if out != "" {
		t.Fatalf("expected no contents to produce an empty pattern, got %q", out)
	}
}
