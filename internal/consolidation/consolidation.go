// Package consolidation implements the offline pipeline that turns a
// project's accumulated episodic events into durable semantic and
// procedural memories: collect the pending events, cluster related events,
// extract a reusable pattern from each cluster, resolve near-duplicate
// patterns from the same run, promote surviving patterns into memories,
// stabilize aged memories, and compress memories that have aged past their
// current tier. Phase failures are recorded but never abort the run — a
// run in which some of its seven phases fail still commits whatever the
// other phases produced.
package consolidation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mnemex/internal/embedding"
	"mnemex/internal/llmsummary"
	"mnemex/internal/logging"
	"mnemex/internal/store"
	"mnemex/internal/types"
)

// Config tunes clustering, conflict detection, promotion and compression.
type Config struct {
	MinClusterSize              int
	SimilarityThreshold         float64
	TimeWindow                  time.Duration
	ConflictSimilarityThreshold float64
	PromotionConfidenceFloor    float64 // patterns below this confidence are not promoted
	CompressionAges             []time.Duration
	CompressionRatios           []float64
	Targets                     types.RunMetrics
}

// Pipeline runs one project's consolidation sweep.
type Pipeline struct {
	cfg        Config
	store      *store.Store
	embed      embedding.Engine
	summarizer llmsummary.Summarizer
}

// New constructs a Pipeline.
func New(cfg Config, st *store.Store, embed embedding.Engine, summarizer llmsummary.Summarizer) *Pipeline {
	return &Pipeline{cfg: cfg, store: st, embed: embed, summarizer: summarizer}
}

type eventCluster struct {
	events []*types.EpisodicEvent
}

func (c eventCluster) contents() []string {
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.Content
	}
	return out
}

func (c eventCluster) ids() []string {
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.ID
	}
	return out
}

// Run executes the full pipeline for projectID. It acquires an exclusive
// per-project advisory lock so two runs never interleave; a run that
// cannot acquire the lock returns immediately with a plain error (not one
// of the errs kinds), and any retry is left to the caller.
func (p *Pipeline) Run(ctx context.Context, projectID string) (*types.ConsolidationRun, error) {
	if !p.store.TryLockProject(projectID) {
		return nil, fmt.Errorf("consolidation: project %s already has a run in progress", projectID)
	}
	defer p.store.UnlockProject(projectID)

	run, err := p.store.StartConsolidationRun(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("consolidation: start run: %w", err)
	}
	log := logging.Get(logging.CategoryConsolidation)
	log.Info("consolidation run %s started for project %s", run.ID, projectID)

	events, _ := p.runScoring(ctx, run, projectID)
	clusters := p.runClustering(ctx, run, events)
	patterns := p.runPatternExtraction(ctx, run, projectID, clusters)
	patterns = p.runConflictResolution(ctx, run, projectID, patterns)
	p.runPromotion(ctx, run, projectID, patterns)
	p.runStabilization(ctx, run, projectID)
	p.runCompression(ctx, run, projectID)

	if len(events) > 0 {
		ids := make([]string, len(events))
		for i, e := range events {
			ids[i] = e.ID
		}
		if err := p.store.MarkEventsConsolidated(ctx, ids, "consolidated"); err != nil {
			log.Warn("failed to mark events consolidated for run %s: %v", run.ID, err)
		}
	}

	p.scoreRun(run, events, clusters, patterns)
	run.Status = types.RunCompleted
	for _, ph := range run.Phases {
		if ph.Error != "" {
			run.Status = types.RunPartial
		}
	}
	if err := p.store.FinishConsolidationRun(ctx, run); err != nil {
		log.Warn("failed to finish consolidation run %s: %v", run.ID, err)
	}
	log.Info("consolidation run %s finished: status=%s compression=%.2f pattern_consistency=%.2f",
		run.ID, run.Status, run.Metrics.CompressionRatio, run.Metrics.PatternConsistency)
	return run, nil
}

func (p *Pipeline) recordPhase(run *types.ConsolidationRun, name string, start time.Time, err error, skipped bool) {
	pr := types.PhaseResult{Name: name, Skipped: skipped, StartedAt: start, EndedAt: time.Now()}
	if err != nil {
		pr.Error = err.Error()
		logging.Get(logging.CategoryConsolidation).Warn("consolidation phase %s failed: %v", name, err)
	}
	run.Phases = append(run.Phases, pr)
}

// runScoring fetches the project's pending events and records the scoring
// phase. It computes no per-event usefulness score: every pending event
// goes on to clustering unranked and unfiltered.
func (p *Pipeline) runScoring(ctx context.Context, run *types.ConsolidationRun, projectID string) ([]*types.EpisodicEvent, error) {
	start := time.Now()
	events, err := p.store.ListPendingEvents(ctx, projectID, 0)
	p.recordPhase(run, "scoring", start, err, false)
	if err != nil {
		return nil, err
	}
	return events, nil
}

// runClustering groups events whose content similarity clears
// SimilarityThreshold and whose timestamps fall within the same
// TimeWindow, keeping only clusters that reach MinClusterSize.
func (p *Pipeline) runClustering(ctx context.Context, run *types.ConsolidationRun, events []*types.EpisodicEvent) []eventCluster {
	start := time.Now()
	if len(events) == 0 {
		p.recordPhase(run, "clustering", start, nil, true)
		return nil
	}

	vecs := make([][]float32, len(events))
	if p.embed != nil {
		texts := make([]string, len(events))
		for i, e := range events {
			texts[i] = e.Content
		}
		if batch, err := p.embed.EmbedBatch(ctx, texts); err == nil {
			vecs = batch
		}
	}

	assigned := make([]bool, len(events))
	var clusters []eventCluster
	for i := range events {
		if assigned[i] {
			continue
		}
		cluster := eventCluster{events: []*types.EpisodicEvent{events[i]}}
		assigned[i] = true
		for j := i + 1; j < len(events); j++ {
			if assigned[j] {
				continue
			}
			if events[j].Timestamp.Sub(events[i].Timestamp) > p.cfg.TimeWindow {
				break
			}
			if p.similar(vecs, i, j, events[i].Content, events[j].Content) {
				cluster.events = append(cluster.events, events[j])
				assigned[j] = true
			}
		}
		if len(cluster.events) >= p.cfg.MinClusterSize {
			clusters = append(clusters, cluster)
		}
	}
	p.recordPhase(run, "clustering", start, nil, false)
	return clusters
}

func (p *Pipeline) similar(vecs [][]float32, i, j int, a, b string) bool {
	if vecs[i] != nil && vecs[j] != nil {
		sim, err := embedding.CosineSimilarity(vecs[i], vecs[j])
		if err == nil {
			return sim >= p.cfg.SimilarityThreshold
		}
	}
	return jaccardSimilarity(a, b) >= p.cfg.SimilarityThreshold
}

func jaccardSimilarity(a, b string) float64 {
	wordsA := wordSet(a)
	wordsB := wordSet(b)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}
	intersection := 0
	for w := range wordsA {
		if wordsB[w] {
			intersection++
		}
	}
	union := len(wordsA) + len(wordsB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		out[w] = true
	}
	return out
}

// runPatternExtraction asks the summarizer to describe the common thread in
// each cluster and persists the result as a candidate Pattern.
func (p *Pipeline) runPatternExtraction(ctx context.Context, run *types.ConsolidationRun, projectID string, clusters []eventCluster) []*types.Pattern {
	start := time.Now()
	if len(clusters) == 0 {
		p.recordPhase(run, "pattern_extraction", start, nil, true)
		return nil
	}

	var patterns []*types.Pattern
	var lastErr error
	for _, c := range clusters {
		text, err := p.summarizer.ExtractPattern(ctx, c.contents())
		if err != nil {
			lastErr = err
			continue
		}
		pattern := &types.Pattern{
			RunID: run.ID, ProjectID: projectID, Type: classifyPattern(c),
			Content: text, Confidence: clusterConfidence(c), Occurrences: len(c.events),
			SourceEventIDs: c.ids(),
		}
		stored, err := p.store.StorePattern(ctx, pattern)
		if err != nil {
			lastErr = err
			continue
		}
		patterns = append(patterns, stored)
	}
	p.recordPhase(run, "pattern_extraction", start, lastErr, false)
	return patterns
}

func classifyPattern(c eventCluster) types.PatternType {
	failures := 0
	for _, e := range c.events {
		if e.Outcome == "failure" || e.Outcome == "error" {
			failures++
		}
	}
	if failures*2 > len(c.events) {
		return types.PatternErrorHandling
	}
	return types.PatternWorkflow
}

func clusterConfidence(c eventCluster) float64 {
	var total float64
	for _, e := range c.events {
		total += 1 - e.Surprise // low surprise across repeats means a stable, confident pattern
	}
	return types.ClampUnit(total / float64(len(c.events)))
}

// runConflictResolution treats two patterns from this same run as
// conflicting when the word-level Jaccard similarity of their content
// reaches ConflictSimilarityThreshold. It keeps the one backed by more
// occurrences (the earlier one on a tie), drops the other, and records a
// contradicts relation between them. Outcomes are not compared, so
// near-duplicate patterns that agree are dropped the same way; no pattern
// is down-weighted.
func (p *Pipeline) runConflictResolution(ctx context.Context, run *types.ConsolidationRun, projectID string, patterns []*types.Pattern) []*types.Pattern {
	start := time.Now()
	if len(patterns) < 2 {
		p.recordPhase(run, "conflict_resolution", start, nil, len(patterns) == 0)
		return patterns
	}

	dropped := make(map[int]bool)
	conflicts := 0
	for i := 0; i < len(patterns); i++ {
		if dropped[i] {
			continue
		}
		for j := i + 1; j < len(patterns); j++ {
			if dropped[j] {
				continue
			}
			if jaccardSimilarity(patterns[i].Content, patterns[j].Content) < p.cfg.ConflictSimilarityThreshold {
				continue
			}
			conflicts++
			winner, loser := i, j
			if patterns[j].Occurrences > patterns[i].Occurrences {
				winner, loser = j, i
			}
			dropped[loser] = true
			p.recordContradiction(ctx, projectID, patterns[winner], patterns[loser])
		}
	}

	var survivors []*types.Pattern
	for i, pat := range patterns {
		if !dropped[i] {
			survivors = append(survivors, pat)
		}
	}
	run.Metrics.PatternConsistency = types.ClampUnit(1 - float64(conflicts)/float64(len(patterns)))
	p.recordPhase(run, "conflict_resolution", start, nil, false)
	return survivors
}

// recordContradiction represents a detected conflict between two patterns
// as a contradicts edge in the entity graph, so graph_query surfaces
// contradictory knowledge the same way it surfaces any other relation. A
// prior run may have recorded the opposite verdict (occurrence counts
// shift as new events arrive); that stale edge is invalidated first so
// only the current direction stays live.
func (p *Pipeline) recordContradiction(ctx context.Context, projectID string, winner, loser *types.Pattern) {
	winName := entityNameForPattern(winner)
	loseName := entityNameForPattern(loser)

	if _, err := p.store.UpsertEntity(ctx, projectID, winName, "pattern", winner.Content); err != nil {
		return
	}
	if _, err := p.store.UpsertEntity(ctx, projectID, loseName, "pattern", loser.Content); err != nil {
		return
	}

	if existing, err := p.store.QueryRelations(ctx, projectID, loseName, "outgoing"); err == nil {
		for _, r := range existing {
			if r.ToEntity == winName && r.RelType == "contradicts" {
				_ = p.store.InvalidateRelation(ctx, r.ID)
			}
		}
	}

	if _, err := p.store.StoreRelation(ctx, projectID, winName, loseName, "contradicts",
		1-jaccardSimilarity(winner.Content, loser.Content), winner.Confidence); err != nil {
		logging.Get(logging.CategoryConsolidation).Warn("record contradiction relation: %v", err)
	}
}

// entityNameForPattern derives a stable graph-entity name for a pattern:
// its type plus a truncated prefix of the asserted content, so two
// clusters that land on the same claim resolve to the same entity row via
// UpsertEntity instead of minting duplicates every run.
func entityNameForPattern(pat *types.Pattern) string {
	name := pat.Content
	if len(name) > 48 {
		name = name[:48]
	}
	return string(pat.Type) + ":" + name
}

// runPromotion materializes patterns whose confidence clears
// PromotionConfidenceFloor into durable Memory rows.
func (p *Pipeline) runPromotion(ctx context.Context, run *types.ConsolidationRun, projectID string, patterns []*types.Pattern) {
	start := time.Now()
	if len(patterns) == 0 {
		p.recordPhase(run, "promotion", start, nil, true)
		return
	}

	var lastErr error
	promoted := 0
	for _, pat := range patterns {
		if pat.Confidence < p.cfg.PromotionConfidenceFloor {
			continue
		}
		kind := types.KindSemantic
		if pat.Type == types.PatternWorkflow || pat.Type == types.PatternErrorHandling {
			kind = types.KindProcedural
		}
		mem := &types.Memory{
			ProjectID: projectID, Content: pat.Content, Kind: kind,
			Confidence: pat.Confidence, ConsolidationState: types.StateConsolidated,
			Source: "consolidation:" + run.ID,
		}
		stored, err := p.store.StoreMemory(ctx, mem)
		if err != nil {
			lastErr = err
			continue
		}
		pat.PromotedMemoryID = stored.ID
		promoted++
	}
	run.Metrics.InformationDensity = types.ClampUnit(float64(promoted) / float64(len(patterns)))
	p.recordPhase(run, "promotion", start, lastErr, false)
}

// runStabilization promotes directly store()'d memories that have sat
// unconsolidated for at least TimeWindow to consolidated, the path by which
// explicit knowledge (as opposed to pattern-promoted episodic memory)
// reaches the state ListMemoriesForCompression requires before a memory is
// eligible for age-tiered compression.
func (p *Pipeline) runStabilization(ctx context.Context, run *types.ConsolidationRun, projectID string) {
	start := time.Now()
	candidates, err := p.store.ListUnconsolidatedMemories(ctx, projectID, p.cfg.TimeWindow)
	if err != nil {
		p.recordPhase(run, "stabilization", start, err, false)
		return
	}
	if len(candidates) == 0 {
		p.recordPhase(run, "stabilization", start, nil, true)
		return
	}

	var lastErr error
	for _, m := range candidates {
		if err := p.store.MarkConsolidated(ctx, projectID, m.ID); err != nil {
			lastErr = err
		}
	}
	p.recordPhase(run, "stabilization", start, lastErr, false)
}

// runCompression walks the configured age tiers and asks the summarizer to
// condense any consolidated memory that has aged into a tier it hasn't
// reached yet.
func (p *Pipeline) runCompression(ctx context.Context, run *types.ConsolidationRun, projectID string) {
	start := time.Now()
	var lastErr error
	var ratiosApplied []float64

	for level, age := range p.cfg.CompressionAges {
		targetLevel := level + 1
		ratio := 1.0
		if level < len(p.cfg.CompressionRatios) {
			ratio = p.cfg.CompressionRatios[level]
		}
		candidates, err := p.store.ListMemoriesForCompression(ctx, projectID, age, targetLevel)
		if err != nil {
			lastErr = err
			continue
		}
		for _, m := range candidates {
			compressed, err := p.summarizer.Summarize(ctx, m.Content, ratio)
			if err != nil {
				lastErr = err
				continue
			}
			if _, err := p.store.UpdateMemory(ctx, projectID, m.ID, compressed, m.Version); err != nil {
				lastErr = err
				continue
			}
			if err := p.store.SetCompressionLevel(ctx, projectID, m.ID, targetLevel); err != nil {
				lastErr = err
				continue
			}
			ratiosApplied = append(ratiosApplied, ratio)
		}
	}

	if len(ratiosApplied) > 0 {
		var sum float64
		for _, r := range ratiosApplied {
			sum += r
		}
		run.Metrics.CompressionRatio = sum / float64(len(ratiosApplied))
	}
	p.recordPhase(run, "compression", start, lastErr, len(ratiosApplied) == 0 && lastErr == nil)
}

func (p *Pipeline) scoreRun(run *types.ConsolidationRun, events []*types.EpisodicEvent, clusters []eventCluster, patterns []*types.Pattern) {
	if len(events) == 0 {
		return
	}
	clustered := 0
	for _, c := range clusters {
		clustered += len(c.events)
	}
	run.Metrics.RetrievalRecall = types.ClampUnit(float64(clustered) / float64(len(events)))
	if run.Metrics.Overall == 0 {
		run.Metrics.Overall = types.ClampUnit(
			(run.Metrics.CompressionRatio + run.Metrics.RetrievalRecall + run.Metrics.PatternConsistency + run.Metrics.InformationDensity) / 4,
		)
	}
}
