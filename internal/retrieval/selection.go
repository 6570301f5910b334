package retrieval

import (
	"regexp"
	"strings"
)

// =============================================================================
// STRATEGY SELECTION
// =============================================================================
//
// Heuristics here mirror the keyword-extraction patterns the teacher's
// SparseRetriever uses to classify issue text (quoted identifiers, ALL_CAPS
// tokens, symbol-like words) but repurposed from "which files to load" to
// "which recall strategy fits this query".

const (
	StrategyVector   = "vector"
	StrategyKeyword  = "keyword"
	StrategyHybrid   = "hybrid"
	StrategyGraph    = "graph"
	StrategyTemporal = "temporal"
)

var (
	quotedTokenPattern  = regexp.MustCompile(`["'\x60]([^"'\x60]+)["'\x60]`)
	allCapsTokenPattern = regexp.MustCompile(`\b[A-Z][A-Z0-9_]{2,}\b`)
	questionWordPattern = regexp.MustCompile(`(?i)^\s*(who|what|when|where|why|how|which|is|does|did|can|could|would|should)\b`)
	timeExprPattern     = regexp.MustCompile(`(?i)\b(yesterday|today|tonight|this (morning|week|month|year)|last (night|week|month|year)|\d+ (minutes?|hours?|days?|weeks?|months?) ago|since \w+|before \w+|after \w+|\d{4}-\d{2}-\d{2})\b`)
)

// questionWords are the usual interrogative/paraphrase openers; present
// here so selectStrategy can be read without chasing the regex above.
var questionWords = map[string]bool{
	"who": true, "what": true, "when": true, "where": true, "why": true,
	"how": true, "which": true,
}

// selectStrategy applies spec's selection heuristic: quoted/all-caps technical
// tokens favor keyword search, question-shaped or paraphrase queries favor
// vector search, a mix of both favors hybrid, queries naming a known entity
// favor graph traversal, and queries with a time expression favor temporal
// range scan. knownEntities is the project's current entity name set (nil or
// empty disables graph detection).
func selectStrategy(query string, knownEntities []string) string {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return StrategyVector
	}

	if timeExprPattern.MatchString(trimmed) {
		return StrategyTemporal
	}

	if name := matchesKnownEntity(trimmed, knownEntities); name != "" {
		return StrategyGraph
	}

	isQuotedOrTechnical := quotedTokenPattern.MatchString(trimmed) || allCapsTokenPattern.MatchString(trimmed)
	isQuestion := questionWordPattern.MatchString(trimmed) || strings.HasSuffix(trimmed, "?")

	switch {
	case isQuotedOrTechnical && isQuestion:
		return StrategyHybrid
	case isQuotedOrTechnical:
		return StrategyKeyword
	case isQuestion:
		return StrategyVector
	default:
		return StrategyHybrid
	}
}

// matchesKnownEntity returns the first known entity name that appears as a
// whole word in query, or "" if none do.
func matchesKnownEntity(query string, knownEntities []string) string {
	if len(knownEntities) == 0 {
		return ""
	}
	lower := strings.ToLower(query)
	for _, name := range knownEntities {
		if name == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(name)) {
			return name
		}
	}
	return ""
}
