// Package config loads the memory engine's single YAML configuration file.
// Every option recognized by the public operation surface (spec §6) has a
// field here; unknown keys are rejected at load time rather than silently
// ignored, per the "Configuration" design note.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"mnemex/internal/logging"
)

// Config holds all engine configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	StateDir string `yaml:"state_dir"`

	Store           StoreConfig           `yaml:"store"`
	Embedding       EmbeddingConfig       `yaml:"embedding"`
	Cache           CacheConfig           `yaml:"cache"`
	Optimization    OptimizationConfig    `yaml:"optimization"`
	CircuitBreaker  CircuitBreakerConfig  `yaml:"circuit_breaker"`
	WorkingMemory   WorkingMemoryConfig   `yaml:"working_memory"`
	Associative     AssociativeConfig     `yaml:"associative"`
	Attention       AttentionConfig       `yaml:"attention"`
	Consolidation   ConsolidationConfig   `yaml:"consolidation"`
	Reconsolidation ReconsolidationConfig `yaml:"reconsolidation"`
	Compression     CompressionConfig    `yaml:"compression"`
	Agents          AgentsConfig         `yaml:"agents"`
	Quota           QuotaConfig          `yaml:"quota"`
	Rules           RulesConfig          `yaml:"rules"`
	Logging         LoggingConfig        `yaml:"logging"`
}

// StoreConfig configures the relational + vector storage substrate.
type StoreConfig struct {
	DatabasePath      string `yaml:"database_path"`
	MaxOpenConns      int    `yaml:"max_open_conns"`
	AcquireTimeoutMs  int64  `yaml:"acquire_timeout_ms"`
	ReconcileIntervalMs int64 `yaml:"reconcile_interval_ms"`
	ReconcileGraceMs  int64  `yaml:"reconcile_grace_ms"`
	RequireVectorExt  bool   `yaml:"require_vector_ext"`
}

// EmbeddingConfig selects and configures the embedding/LLM provider facade.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // "genai" | "mock"
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	SummaryModel string `yaml:"summary_model"`
	TaskType   string `yaml:"task_type"`
	TimeoutMs  int64  `yaml:"timeout_ms"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	QueueDepth      int     `yaml:"queue_depth"`
}

// CacheConfig configures the retrieval router's LRU result cache.
type CacheConfig struct {
	Enabled        bool  `yaml:"enabled"`
	MaxSize        int   `yaml:"max_size"`
	DefaultTTLMs   int64 `yaml:"default_ttl_ms"`
	WarmingEnabled bool  `yaml:"warming_enabled"`
}

// OptimizationConfig configures retrieval strategy selection and fusion.
type OptimizationConfig struct {
	Query QueryOptimizationConfig `yaml:"query"`
}

// QueryOptimizationConfig tunes strategy weighting and default selection.
type QueryOptimizationConfig struct {
	Enabled         bool               `yaml:"enabled"`
	StrategyWeights map[string]float64 `yaml:"strategy_weights"`
	DefaultStrategy string             `yaml:"default_strategy"`
	HybridVectorWeight float64         `yaml:"hybrid_vector_weight"`
}

// CircuitBreakerConfig tunes the per-strategy circuit breaker.
type CircuitBreakerConfig struct {
	FailureThreshold float64 `yaml:"failure_threshold"`
	SuccessThreshold int     `yaml:"success_threshold"`
	CoolDownMs       int64   `yaml:"cool_down_ms"`
	MinVolume        int     `yaml:"min_volume"`
}

// WorkingMemoryConfig tunes the bounded decaying buffer.
type WorkingMemoryConfig struct {
	Capacity           int     `yaml:"capacity"`
	HardCap            int     `yaml:"hard_cap"`
	DecayRate          float64 `yaml:"decay_rate"`
	AdmissionThreshold float64 `yaml:"admission_threshold"`
	AccessBoost        float64 `yaml:"access_boost"`
}

// AssociativeConfig tunes Hebbian strengthening, decay and spreading
// activation.
type AssociativeConfig struct {
	HebbianIncrement    float64 `yaml:"hebbian_increment"`
	DecayFactor         float64 `yaml:"decay_factor"`
	DecayAfterDays      int     `yaml:"decay_after_days"`
	SpreadDepth         int     `yaml:"spread_depth"`
	SpreadAlpha         float64 `yaml:"spread_alpha"`
	SpreadThreshold     float64 `yaml:"spread_threshold"`
	SpreadNodeBudget    int     `yaml:"spread_node_budget"`
}

// AttentionConfig tunes salience scoring and inhibition defaults.
type AttentionConfig struct {
	NoveltyTopK        int     `yaml:"novelty_top_k"`
	ContradictionThreshold float64 `yaml:"contradiction_threshold"`
	DefaultInhibitionTTLMs int64   `yaml:"default_inhibition_ttl_ms"`
}

// ConsolidationConfig tunes the consolidation pipeline.
type ConsolidationConfig struct {
	Schedule           string  `yaml:"schedule"` // cron-like or duration string
	MinClusterSize     int     `yaml:"min_cluster_size"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	TimeWindowMs       int64   `yaml:"time_window_ms"`
	ConflictSimilarityThreshold float64 `yaml:"conflict_similarity_threshold"`
	Targets            ConsolidationTargets `yaml:"targets"`
}

// ConsolidationTargets are the quality targets each run is scored against;
// a miss is flagged in the run's metrics but does not fail the run.
type ConsolidationTargets struct {
	CompressionRatio   float64 `yaml:"compression_ratio"`
	RetrievalRecall    float64 `yaml:"retrieval_recall"`
	PatternConsistency float64 `yaml:"pattern_consistency"`
	InformationDensity float64 `yaml:"information_density"`
}

// ReconsolidationConfig tunes the labile window.
type ReconsolidationConfig struct {
	WindowMs int64 `yaml:"window_ms"`
}

// CompressionConfig tunes the age-tiered compression thresholds.
type CompressionConfig struct {
	AgesDays         []int   `yaml:"ages_days"`
	Ratios           []float64 `yaml:"ratios"`
	FidelityThreshold float64 `yaml:"fidelity_threshold"`
}

// AgentsConfig tunes the agent registry's heartbeat monitor.
type AgentsConfig struct {
	HeartbeatIntervalMs int64 `yaml:"heartbeat_interval_ms"`
	StaleThresholdMs    int64 `yaml:"stale_threshold_ms"`
	MaxRetries          int   `yaml:"max_retries"`
}

// QuotaConfig caps per-project resource counts.
type QuotaConfig struct {
	MaxMemories   int64 `yaml:"max_memories"`
	MaxEvents     int64 `yaml:"max_events"`
	MaxProcedures int64 `yaml:"max_procedures"`
	MaxEntities   int64 `yaml:"max_entities"`
	MaxStorageMB  int64 `yaml:"max_storage_mb"`
}

// RulesConfig tunes the rule & safety gate's approval thresholds.
type RulesConfig struct {
	AutoApproveThreshold float64 `yaml:"auto_approve_threshold"`
	AutoRejectThreshold  float64 `yaml:"auto_reject_threshold"`
	RulesFilePath        string  `yaml:"rules_file_path"`
	WatchRulesFile       bool    `yaml:"watch_rules_file"`
}

// LoggingConfig mirrors internal/logging's loggingConfig for YAML decoding.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
}

// DefaultConfig returns the engine's default configuration, matching every
// default named in spec.md.
func DefaultConfig() *Config {
	return &Config{
		Name:     "mnemex",
		Version:  "0.1.0",
		StateDir: ".mnemex",
		Store: StoreConfig{
			DatabasePath:        "data/mnemex.db",
			MaxOpenConns:        10,
			AcquireTimeoutMs:    5000,
			ReconcileIntervalMs: 60_000,
			ReconcileGraceMs:    300_000,
			RequireVectorExt:    false,
		},
		Embedding: EmbeddingConfig{
			Provider:        "genai",
			Model:           "gemini-embedding-001",
			SummaryModel:    "gemini-2.0-flash",
			TaskType:        "SEMANTIC_SIMILARITY",
			TimeoutMs:       30_000,
			RateLimitPerSec: 5,
			RateLimitBurst:  10,
			QueueDepth:      100,
		},
		Cache: CacheConfig{
			Enabled:        true,
			MaxSize:        50_000,
			DefaultTTLMs:   300_000,
			WarmingEnabled: false,
		},
		Optimization: OptimizationConfig{
			Query: QueryOptimizationConfig{
				Enabled:             true,
				DefaultStrategy:     "hybrid",
				HybridVectorWeight:  0.6,
				StrategyWeights:     map[string]float64{"vector": 1.0, "keyword": 1.0, "hybrid": 1.0, "graph": 1.0, "temporal": 1.0},
			},
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 0.5,
			SuccessThreshold: 1,
			CoolDownMs:       60_000,
			MinVolume:        5,
		},
		WorkingMemory: WorkingMemoryConfig{
			Capacity:           7,
			HardCap:            9,
			DecayRate:          0.1,
			AdmissionThreshold: 0.05,
			AccessBoost:        1.1,
		},
		Associative: AssociativeConfig{
			HebbianIncrement: 0.05,
			DecayFactor:      0.99,
			DecayAfterDays:   7,
			SpreadDepth:      2,
			SpreadAlpha:      0.6,
			SpreadThreshold:  0.05,
			SpreadNodeBudget: 200,
		},
		Attention: AttentionConfig{
			NoveltyTopK:            5,
			ContradictionThreshold: 0.9,
			DefaultInhibitionTTLMs: 600_000,
		},
		Consolidation: ConsolidationConfig{
			Schedule:                    "1h",
			MinClusterSize:              3,
			SimilarityThreshold:         0.75,
			TimeWindowMs:                3_600_000,
			ConflictSimilarityThreshold: 0.9,
			Targets: ConsolidationTargets{
				CompressionRatio:   0.5,
				RetrievalRecall:    0.8,
				PatternConsistency: 0.7,
				InformationDensity: 0.6,
			},
		},
		Reconsolidation: ReconsolidationConfig{WindowMs: 5 * 60_000},
		Compression: CompressionConfig{
			AgesDays:          []int{7, 30, 90},
			Ratios:            []float64{0.7, 0.4, 0.15},
			FidelityThreshold: 0.8,
		},
		Agents: AgentsConfig{
			HeartbeatIntervalMs: 30_000,
			StaleThresholdMs:    60_000,
			MaxRetries:          3,
		},
		Quota: QuotaConfig{
			MaxMemories:   1_000_000,
			MaxEvents:     1_000_000,
			MaxProcedures: 100_000,
			MaxEntities:   200_000,
			MaxStorageMB:  10_240,
		},
		Rules: RulesConfig{
			AutoApproveThreshold: 0.85,
			AutoRejectThreshold:  0.2,
			RulesFilePath:        "rules.yaml",
			WatchRulesFile:       true,
		},
		Logging: LoggingConfig{Level: "info", DebugMode: false},
	}
}

// Load reads and strict-decodes a YAML config file, returning defaults
// overlaid with whatever the file specifies. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Get(logging.CategoryBoot).Info("config file not found, using defaults: %s", path)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s (unknown or malformed keys are rejected): %w", path, err)
	}

	logging.Get(logging.CategoryBoot).Info("config loaded from %s", path)
	return cfg, nil
}

// Save writes cfg to path as YAML, creating parent directories as needed.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
