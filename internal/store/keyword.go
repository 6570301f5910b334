package store

import (
	"context"
	"strings"

	"mnemex/internal/errs"
)

// KeywordRecall ranks projectID's memories by how many of query's words
// appear in their content, case-insensitively. It is the store's fallback
// (and, for the retrieval router's "keyword" strategy, primary) search path
// when semantic similarity via VectorRecall isn't what the caller wants.
func (s *Store) KeywordRecall(ctx context.Context, projectID, query string, limit int) ([]ScoredMemory, error) {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, memorySelectCols+` WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "keyword_recall_failed", "query memories", err)
	}
	defer rows.Close()

	var scored []ScoredMemory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			continue
		}
		score := keywordScore(m.Content, terms)
		if score > 0 {
			scored = append(scored, ScoredMemory{Memory: m, Similarity: score})
		}
	}

	sortScoredDesc(scored)
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func queryTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	seen := make(map[string]bool, len(fields))
	var out []string
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

// keywordScore is the fraction of terms that appear in content, a cheap
// stand-in for a BM25 rank that needs no inverted index.
func keywordScore(content string, terms []string) float64 {
	lower := strings.ToLower(content)
	matched := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}

func sortScoredDesc(scored []ScoredMemory) {
	for i := 1; i < len(scored); i++ {
		for j := i; j > 0 && scored[j].Similarity > scored[j-1].Similarity; j-- {
			scored[j], scored[j-1] = scored[j-1], scored[j]
		}
	}
}
