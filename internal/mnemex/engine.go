// Package mnemex is the composition root: it wires internal/store and every
// subsystem package (working memory, the associative network, attention,
// consolidation, retrieval, reconsolidation, the rule gate, and executive
// orchestration) behind the public operation surface, the way the teacher's
// chat.Config/RunInteractiveChat wires its own subsystems behind one entry
// point. cmd/mnemex is a thin cobra shell over this package; callers
// embedding mnemex as a library use this package directly.
package mnemex

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mnemex/internal/associative"
	"mnemex/internal/attention"
	"mnemex/internal/config"
	"mnemex/internal/consolidation"
	"mnemex/internal/embedding"
	"mnemex/internal/errs"
	"mnemex/internal/executive"
	"mnemex/internal/llmsummary"
	"mnemex/internal/logging"
	"mnemex/internal/reconsolidation"
	"mnemex/internal/retrieval"
	"mnemex/internal/rules"
	"mnemex/internal/store"
	"mnemex/internal/types"
	"mnemex/internal/workingmemory"

	"github.com/fsnotify/fsnotify"
)

// Engine is one configured instance of the memory system, wrapping a single
// store.Store and the subsystem managers built on top of it.
type Engine struct {
	cfg   *config.Config
	store *store.Store

	working   *workingmemory.Buffer
	assoc     *associative.Network
	attn      *attention.Manager
	consol    *consolidation.Pipeline
	retrieval *retrieval.Router
	recon     *reconsolidation.Controller
	rules     *rules.Gate
	exec      *executive.Executive

	rulesMu      sync.RWMutex
	defaultRules []rules.RuleDefinition
	rulesWatcher *fsnotify.Watcher

	reconcileStop chan struct{}
}

// reconcileMaxAttempts bounds how many times ReconcileOutbox retries a
// stuck dual-write entry before leaving it for manual inspection. The
// config sets the sweep interval but not this cap; its reconcile_grace_ms
// value is not read anywhere.
const reconcileMaxAttempts = 5

// Open builds an Engine from cfg: constructs the embedding backend and
// summarizer, opens the SQLite store at cfg.Store.DatabasePath, initializes
// categorized logging under cfg.StateDir, and wires every subsystem manager
// on top of the shared store. Mirrors the teacher's pattern of one
// composition function building every subsystem from one config struct
// before handing control to the command layer.
func Open(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := logging.Configure(cfg.StateDir, cfg.Logging.DebugMode, cfg.Logging.Categories, cfg.Logging.Level, cfg.Logging.JSONFormat); err != nil {
		logging.Get(logging.CategoryBoot).Warn("logging configure failed: %v", err)
	}

	embedEngine, err := embedding.NewEngine(embedding.Config{
		Provider:        cfg.Embedding.Provider,
		APIKey:          cfg.Embedding.APIKey,
		Model:           cfg.Embedding.Model,
		TaskType:        cfg.Embedding.TaskType,
		RateLimitPerSec: cfg.Embedding.RateLimitPerSec,
		RateLimitBurst:  cfg.Embedding.RateLimitBurst,
	})
	if err != nil {
		return nil, fmt.Errorf("mnemex: build embedding engine: %w", err)
	}

	summarizer, err := llmsummary.NewSummarizer(llmsummary.Config{
		Provider: summaryProvider(cfg.Embedding.Provider),
		APIKey:   cfg.Embedding.APIKey,
		Model:    cfg.Embedding.SummaryModel,
	})
	if err != nil {
		return nil, fmt.Errorf("mnemex: build summarizer: %w", err)
	}

	st, err := store.Open(store.Options{
		Path:             cfg.Store.DatabasePath,
		EmbeddingEngine:  embedEngine,
		MaxOpenConns:     cfg.Store.MaxOpenConns,
		RequireVectorExt: cfg.Store.RequireVectorExt,
	})
	if err != nil {
		return nil, fmt.Errorf("mnemex: open store: %w", err)
	}

	defaultRules, err := rules.LoadRuleDefinitions(cfg.Rules.RulesFilePath)
	if err != nil {
		logging.Get(logging.CategoryRules).Warn("load rules file %s: %v", cfg.Rules.RulesFilePath, err)
	}

	e := &Engine{
		cfg:          cfg,
		store:        st,
		defaultRules: defaultRules,
		working: workingmemory.New(workingmemory.Config{
			Capacity:           cfg.WorkingMemory.Capacity,
			HardCap:            cfg.WorkingMemory.HardCap,
			DecayRate:          cfg.WorkingMemory.DecayRate,
			AdmissionThreshold: cfg.WorkingMemory.AdmissionThreshold,
			AccessBoost:        cfg.WorkingMemory.AccessBoost,
		}, st),
		assoc: associative.New(associative.Config{
			HebbianIncrement: cfg.Associative.HebbianIncrement,
			DecayFactor:      cfg.Associative.DecayFactor,
			DecayFloor:       cfg.Associative.SpreadThreshold,
			SpreadDepth:      cfg.Associative.SpreadDepth,
			SpreadAlpha:      cfg.Associative.SpreadAlpha,
		}, st),
		attn: attention.New(attention.Config{
			NoveltyTopK:            cfg.Attention.NoveltyTopK,
			ContradictionThreshold: cfg.Attention.ContradictionThreshold,
			DefaultInhibitionTTLMs: cfg.Attention.DefaultInhibitionTTLMs,
		}, st),
		consol: consolidation.New(consolidation.Config{
			MinClusterSize:              cfg.Consolidation.MinClusterSize,
			SimilarityThreshold:         cfg.Consolidation.SimilarityThreshold,
			TimeWindow:                  time.Duration(cfg.Consolidation.TimeWindowMs) * time.Millisecond,
			ConflictSimilarityThreshold: cfg.Consolidation.ConflictSimilarityThreshold,
			PromotionConfidenceFloor:    cfg.Consolidation.Targets.PatternConsistency,
			CompressionAges:             compressionAges(cfg.Compression.AgesDays),
			CompressionRatios:           cfg.Compression.Ratios,
			Targets: types.RunMetrics{
				CompressionRatio:   cfg.Consolidation.Targets.CompressionRatio,
				RetrievalRecall:    cfg.Consolidation.Targets.RetrievalRecall,
				PatternConsistency: cfg.Consolidation.Targets.PatternConsistency,
				InformationDensity: cfg.Consolidation.Targets.InformationDensity,
			},
		}, st, embedEngine, summarizer),
		retrieval: retrieval.New(retrieval.Config{
			Enabled:            cfg.Optimization.Query.Enabled,
			StrategyWeights:    cfg.Optimization.Query.StrategyWeights,
			DefaultStrategy:    cfg.Optimization.Query.DefaultStrategy,
			HybridVectorWeight: cfg.Optimization.Query.HybridVectorWeight,
		}, st, embedEngine, cfg.Cache, cfg.CircuitBreaker),
		recon: reconsolidation.New(cfg.Reconsolidation, st),
		rules: rules.New(cfg.Rules, st),
		exec:  executive.New(cfg.Agents, st),
	}

	if cfg.Rules.WatchRulesFile && cfg.Rules.RulesFilePath != "" {
		if err := e.startRulesWatcher(); err != nil {
			logging.Get(logging.CategoryRules).Warn("watch rules file %s: %v", cfg.Rules.RulesFilePath, err)
		}
	}

	if cfg.Store.ReconcileIntervalMs > 0 {
		e.startOutboxReconciler(time.Duration(cfg.Store.ReconcileIntervalMs) * time.Millisecond)
	}

	return e, nil
}

// startOutboxReconciler periodically retries the outbox entries the store
// queues for the vector index, the grace-window half of the dual-write
// protocol: upserts whose inline attempt in StoreMemory/UpdateMemory
// failed, and the index deletes ForgetMemory queues. Runs until Close.
func (e *Engine) startOutboxReconciler(interval time.Duration) {
	e.reconcileStop = make(chan struct{})
	log := logging.Get(logging.CategoryStore)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n, err := e.store.ReconcileOutbox(context.Background(), reconcileMaxAttempts)
				if err != nil {
					log.Warn("outbox reconciliation failed: %v", err)
					continue
				}
				if n > 0 {
					log.Info("reconciled %d outbox entries", n)
				}
			case <-e.reconcileStop:
				return
			}
		}
	}()
}

// startRulesWatcher watches cfg.Rules.RulesFilePath and reloads
// e.defaultRules on change, the way the teacher's MangleWatcher reloads
// .mg rule files on save. Already-created projects keep whatever rules
// they were seeded with; only projects created after a reload pick up the
// new defaults (see EnsureProject).
func (e *Engine) startRulesWatcher() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(e.cfg.Rules.RulesFilePath); err != nil {
		w.Close()
		return err
	}
	e.rulesWatcher = w

	log := logging.Get(logging.CategoryRules)
	go func() {
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				defs, err := rules.LoadRuleDefinitions(e.cfg.Rules.RulesFilePath)
				if err != nil {
					log.Warn("reload rules file: %v", err)
					continue
				}
				e.rulesMu.Lock()
				e.defaultRules = defs
				e.rulesMu.Unlock()
				log.Info("reloaded %d rule definitions from %s", len(defs), e.cfg.Rules.RulesFilePath)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("rules file watcher error: %v", err)
			}
		}
	}()
	return nil
}

// Close releases the underlying store's resources and stops the rules
// file watcher and outbox reconciler, if either was started.
func (e *Engine) Close() error {
	if e.rulesWatcher != nil {
		_ = e.rulesWatcher.Close()
	}
	if e.reconcileStop != nil {
		close(e.reconcileStop)
	}
	return e.store.Close()
}

// EnsureProject resolves name to a project id, creating the project on
// first use. Every operation above takes a project id, not a name; callers
// that only know a human-readable name (the CLI, most notably) call this
// once per session. A newly created project is seeded with the rule set
// loaded from cfg.Rules.RulesFilePath, if any.
func (e *Engine) EnsureProject(ctx context.Context, name string) (*types.Project, error) {
	p, err := e.store.CreateProject(ctx, name, "")
	if err != nil {
		return nil, err
	}

	e.rulesMu.RLock()
	defs := e.defaultRules
	e.rulesMu.RUnlock()
	if len(defs) == 0 {
		return p, nil
	}

	existing, err := e.store.ListEnabledRules(ctx, p.ID)
	if err != nil {
		return p, err
	}
	if len(existing) == 0 {
		if err := rules.SeedProjectRules(ctx, e.store, p.ID, defs); err != nil {
			logging.Get(logging.CategoryRules).Warn("seed default rules for project %s: %v", p.ID, err)
		}
	}
	return p, nil
}

func summaryProvider(embeddingProvider string) string {
	if embeddingProvider == "genai" {
		return "genai"
	}
	return "extractive"
}

func compressionAges(days []int) []time.Duration {
	out := make([]time.Duration, len(days))
	for i, d := range days {
		out[i] = time.Duration(d) * 24 * time.Hour
	}
	return out
}

// checkQuota enforces cfg.Quota's row-count caps before a write that would
// grow the named resource. Storage-size quota (MaxStorageMB) is out of
// scope: no component in this tree reports actual on-disk bytes per
// project, only row counts, so enforcing it would mean inventing a metric
// spec.md never defines the source of.
func (e *Engine) checkQuota(ctx context.Context, projectID string, resource string) error {
	usage, err := e.store.GetProjectUsage(ctx, projectID)
	if err != nil {
		return err
	}
	var current, max int64
	switch resource {
	case "memories":
		current, max = usage.Memories, e.cfg.Quota.MaxMemories
	case "events":
		current, max = usage.Events, e.cfg.Quota.MaxEvents
	case "procedures":
		current, max = usage.Procedures, e.cfg.Quota.MaxProcedures
	case "entities":
		current, max = usage.Entities, e.cfg.Quota.MaxEntities
	default:
		return nil
	}
	if max > 0 && current >= max {
		return errs.New(errs.QuotaExceeded, "quota_exceeded", fmt.Sprintf("project %s is at its %s quota (%d)", projectID, resource, max))
	}
	return nil
}
