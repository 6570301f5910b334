package retrieval

import (
	"sort"

	"mnemex/internal/types"
)

// reciprocalRankFusion combines a vector-ranked list and a keyword-ranked
// list into one, scoring each memory by score = w*rank_v + (1-w)*rank_k
// where rank_v/rank_k are reciprocal ranks (1/(1+position)) in their source
// list, 0 for a list a memory didn't appear in at all. vectorWeight is w.
func reciprocalRankFusion(vector, keyword []types.RecallResult, vectorWeight float64) []types.RecallResult {
	scores := make(map[string]float64)
	byID := make(map[string]types.RecallResult)

	for rank, r := range vector {
		scores[r.ID] += vectorWeight * reciprocalRank(rank)
		byID[r.ID] = r
	}
	for rank, r := range keyword {
		scores[r.ID] += (1 - vectorWeight) * reciprocalRank(rank)
		if _, ok := byID[r.ID]; !ok {
			byID[r.ID] = r
		}
	}

	fused := make([]types.RecallResult, 0, len(scores))
	for id, score := range scores {
		r := byID[id]
		r.Score = score
		r.Strategy = StrategyHybrid
		r.Explanation = "hybrid: reciprocal-rank fusion of vector and keyword results"
		fused = append(fused, r)
	}
	sort.Slice(fused, func(i, j int) bool { return fused[i].Score > fused[j].Score })
	return fused
}

func reciprocalRank(position int) float64 {
	return 1.0 / float64(1+position)
}
