// Package retrieval selects among vector, keyword, hybrid, graph, and
// temporal recall strategies, fuses multi-strategy results, and wraps each
// strategy in its own circuit breaker and an LRU result cache. It directly
// adapts the teacher's internal/retrieval package (sparse.go's keyword
// ranking, tiered_context.go's tiered result assembly) from "which source
// files are relevant to this issue" to "which memories answer this query".
package retrieval

import (
	"context"
	"sort"
	"time"

	"mnemex/internal/config"
	"mnemex/internal/embedding"
	"mnemex/internal/errs"
	"mnemex/internal/logging"
	"mnemex/internal/store"
	"mnemex/internal/types"
)

// Config carries the strategy settings, the hybrid vector weight, the time
// window the temporal strategy scans and the graph hop limit. The router
// reads only HybridVectorWeight, TemporalLookback and GraphHops; Enabled,
// StrategyWeights and DefaultStrategy are not consulted, and the strategy
// comes from selectStrategy or the caller's override.
type Config struct {
	Enabled            bool
	StrategyWeights    map[string]float64
	DefaultStrategy    string
	HybridVectorWeight float64
	TemporalLookback    time.Duration
	GraphHops           int
}

// Router is the retrieval façade: it picks a strategy (or honors an
// explicit override), executes it behind that strategy's circuit breaker,
// and caches the fused result.
type Router struct {
	cfg      Config
	store    *store.Store
	embed    embedding.Engine
	cache    *ResultCache
	breakers *breakerBank
}

// New builds a Router. embed may be nil; the vector and hybrid strategies
// degrade to returning no results (rather than erroring) when it is, so a
// deployment without an embedding backend still gets keyword/graph/temporal
// recall.
func New(cfg Config, st *store.Store, embed embedding.Engine, cacheCfg config.CacheConfig, breakerCfg config.CircuitBreakerConfig) *Router {
	strategies := []string{StrategyVector, StrategyKeyword, StrategyHybrid, StrategyGraph, StrategyTemporal}
	if cfg.TemporalLookback <= 0 {
		cfg.TemporalLookback = 30 * 24 * time.Hour
	}
	if cfg.GraphHops <= 0 {
		cfg.GraphHops = 2
	}
	if cfg.HybridVectorWeight <= 0 {
		cfg.HybridVectorWeight = 0.6
	}
	return &Router{
		cfg:      cfg,
		store:    st,
		embed:    embed,
		cache:    NewResultCache(cacheCfg),
		breakers: newBreakerBank(breakerCfg, strategies),
	}
}

// Recall runs query against projectID. strategyOverride, if non-empty,
// skips the selection heuristic. Strategy failures are contained by that
// strategy's circuit breaker; the router cascades to the next most
// plausible strategy, and only surfaces errs.StoreUnavailable to the caller
// if every strategy it tries fails.
func (r *Router) Recall(ctx context.Context, projectID, query string, k int, strategyOverride string) ([]types.RecallResult, error) {
	if k <= 0 {
		k = 10
	}

	if cached, ok := r.cache.Get(projectID, "recall", query, k, strategyOverride); ok {
		return cached, nil
	}

	chosen := strategyOverride
	if chosen == "" {
		knownEntities, err := r.store.ListEntityNames(ctx, projectID)
		if err != nil {
			logging.Get(logging.CategoryRetrieval).Warn("list entity names failed, disabling graph detection: %v", err)
		}
		chosen = selectStrategy(query, knownEntities)
	}

	order := r.cascadeOrder(chosen)
	var lastErr error
	for _, strategy := range order {
		results, err := r.breakers.execute(strategy, func() ([]types.RecallResult, error) {
			return r.runStrategy(ctx, strategy, projectID, query, k)
		})
		if err != nil {
			logging.Get(logging.CategoryRetrieval).Warn("strategy %s failed, cascading: %v", strategy, err)
			lastErr = err
			continue
		}
		r.cache.Set(projectID, "recall", results, query, k, strategyOverride)
		return results, nil
	}
	return nil, errs.Wrap(errs.StoreUnavailable, "all_strategies_failed", "every retrieval strategy failed or is circuit-open", lastErr)
}

// cascadeOrder puts the chosen strategy first, then the rest of the
// strategy set in a fixed fallback order so a cascade is deterministic.
func (r *Router) cascadeOrder(chosen string) []string {
	all := []string{chosen, StrategyHybrid, StrategyVector, StrategyKeyword, StrategyTemporal, StrategyGraph}
	seen := make(map[string]bool, len(all))
	order := make([]string, 0, len(all))
	for _, s := range all {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		order = append(order, s)
	}
	return order
}

// InvalidateOnWrite must be called by store-mutating operations (store,
// update, forget) after they commit, so stale cache entries don't outlive
// the write that invalidated them.
func (r *Router) InvalidateOnWrite(projectID, writeOp string) {
	r.cache.InvalidateWrite(projectID, writeOp)
}

func (r *Router) runStrategy(ctx context.Context, strategy, projectID, query string, k int) ([]types.RecallResult, error) {
	switch strategy {
	case StrategyVector:
		return r.vectorRecall(ctx, projectID, query, k)
	case StrategyKeyword:
		return r.keywordRecall(ctx, projectID, query, k)
	case StrategyHybrid:
		return r.hybridRecall(ctx, projectID, query, k)
	case StrategyGraph:
		return r.graphRecall(ctx, projectID, query, k)
	case StrategyTemporal:
		return r.temporalRecall(ctx, projectID, k)
	default:
		return r.hybridRecall(ctx, projectID, query, k)
	}
}

func (r *Router) vectorRecall(ctx context.Context, projectID, query string, k int) ([]types.RecallResult, error) {
	if r.embed == nil {
		return nil, nil
	}
	vec, err := r.embed.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	scored, err := r.store.VectorRecall(ctx, projectID, vec, k)
	if err != nil {
		return nil, err
	}
	return scoredToResults(scored, StrategyVector, "vector: cosine similarity on embeddings"), nil
}

func (r *Router) keywordRecall(ctx context.Context, projectID, query string, k int) ([]types.RecallResult, error) {
	scored, err := r.store.KeywordRecall(ctx, projectID, query, k)
	if err != nil {
		return nil, err
	}
	return scoredToResults(scored, StrategyKeyword, "keyword: term overlap with query"), nil
}

func (r *Router) hybridRecall(ctx context.Context, projectID, query string, k int) ([]types.RecallResult, error) {
	vector, err := r.vectorRecall(ctx, projectID, query, k*2)
	if err != nil {
		logging.Get(logging.CategoryRetrieval).Warn("hybrid: vector leg failed: %v", err)
	}
	keyword, err := r.keywordRecall(ctx, projectID, query, k*2)
	if err != nil {
		return nil, err
	}
	fused := reciprocalRankFusion(vector, keyword, r.cfg.HybridVectorWeight)
	if len(fused) > k {
		fused = fused[:k]
	}
	return fused, nil
}

// graphRecall walks outward from entities named in query, aggregating
// strength-weighted observations up to cfg.GraphHops hops.
func (r *Router) graphRecall(ctx context.Context, projectID, query string, k int) ([]types.RecallResult, error) {
	knownEntities, err := r.store.ListEntityNames(ctx, projectID)
	if err != nil {
		return nil, err
	}
	seed := matchesKnownEntity(query, knownEntities)
	if seed == "" {
		return nil, nil
	}

	type frontierEntry struct {
		name  string
		score float64
		hop   int
	}
	visited := map[string]float64{seed: 1.0}
	queue := []frontierEntry{{name: seed, score: 1.0, hop: 0}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.hop >= r.cfg.GraphHops {
			continue
		}
		relations, err := r.store.QueryRelations(ctx, projectID, cur.name, "")
		if err != nil {
			continue
		}
		for _, rel := range relations {
			neighbor := rel.ToEntity
			if neighbor == cur.name {
				neighbor = rel.FromEntity
			}
			if neighbor == cur.name {
				continue
			}
			next := cur.score * rel.Strength
			if existing, ok := visited[neighbor]; !ok || next > existing {
				visited[neighbor] = next
				queue = append(queue, frontierEntry{name: neighbor, score: next, hop: cur.hop + 1})
			}
		}
	}
	delete(visited, seed)

	results := make([]types.RecallResult, 0, len(visited))
	for name, score := range visited {
		ent, err := r.store.GetEntity(ctx, projectID, name)
		if err != nil {
			continue
		}
		results = append(results, types.RecallResult{
			ID:          ent.ID,
			Content:     joinObservations(ent.Observations),
			Kind:        types.KindSemantic,
			Score:       score,
			Timestamp:   ent.UpdatedAt,
			Strategy:    StrategyGraph,
			Explanation: "graph: reached from entity " + seed + " via strength-weighted relation walk",
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (r *Router) temporalRecall(ctx context.Context, projectID string, k int) ([]types.RecallResult, error) {
	mems, err := r.store.RecentMemories(ctx, projectID, r.cfg.TemporalLookback, k)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	results := make([]types.RecallResult, 0, len(mems))
	for _, m := range mems {
		age := now.Sub(m.CreatedAt)
		recency := 1.0 / (1.0 + age.Hours()/24.0)
		results = append(results, types.RecallResult{
			ID:          m.ID,
			Content:     m.Content,
			Kind:        m.Kind,
			Score:       recency,
			Timestamp:   m.CreatedAt,
			Strategy:    StrategyTemporal,
			Explanation: "temporal: recency-weighted range scan",
		})
	}
	return results, nil
}

func scoredToResults(scored []store.ScoredMemory, strategy, explanation string) []types.RecallResult {
	results := make([]types.RecallResult, 0, len(scored))
	for _, sm := range scored {
		results = append(results, types.RecallResult{
			ID:          sm.Memory.ID,
			Content:     sm.Memory.Content,
			Kind:        sm.Memory.Kind,
			Score:       sm.Similarity,
			Timestamp:   sm.Memory.CreatedAt,
			Strategy:    strategy,
			Explanation: explanation,
		})
	}
	return results
}

func joinObservations(observations []string) string {
	out := ""
	for i, o := range observations {
		if i > 0 {
			out += "; "
		}
		out += o
	}
	return out
}
