// Package main implements the mnemex CLI, a thin demonstration harness over
// internal/mnemex.Engine's operation surface. The real transport for an
// embedding agent is out of scope (spec.md §1); this exists for manual
// exercise and scripting.
//
// File index:
//   - main.go        - entry point, rootCmd, global flags, engine lifecycle
//   - cmd_memory.go  - store, recall, get, update, forget, remember-event
//   - cmd_tasks.go   - create-goal, create-task, claim-task, claim-next, complete-task, fail-task
//   - cmd_agents.go  - register-agent, heartbeat, reap-offline-agents
//   - cmd_runs.go    - consolidate, run-status, run-history
//   - cmd_inspect.go - working-memory, attention-focus, inhibit, graph-query, rule-validate, rule-decide, rule-rollback
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mnemex/internal/config"
	"mnemex/internal/mnemex"
)

var (
	configPath string
	projectArg string
	verbose    bool

	logger *zap.Logger
	engine *mnemex.Engine
)

var rootCmd = &cobra.Command{
	Use:   "mnemex",
	Short: "mnemex - a cognitively-inspired long-term memory engine for autonomous agents",
	Long: `mnemex exposes working memory, associative recall, consolidation,
reconsolidation, executive task orchestration, and the rule & safety gate
behind a single operation surface.

Each subcommand opens the engine against --config, runs one operation, and
closes it. This is a demonstration harness, not the intended production
transport.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		engine, err = mnemex.Open(cfg)
		if err != nil {
			return fmt.Errorf("open engine: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if engine != nil {
			_ = engine.Close()
		}
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(configPath)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to mnemex config YAML (default: built-in defaults)")
	rootCmd.PersistentFlags().StringVarP(&projectArg, "project", "p", "default", "Project name to operate against")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(
		storeCmd,
		getCmd,
		recallCmd,
		updateCmd,
		forgetCmd,
		rememberEventCmd,
		createGoalCmd,
		createTaskCmd,
		claimTaskCmd,
		claimNextCmd,
		completeTaskCmd,
		failTaskCmd,
		registerAgentCmd,
		heartbeatCmd,
		reapOfflineAgentsCmd,
		consolidateCmd,
		runStatusCmd,
		runHistoryCmd,
		workingMemoryCmd,
		attentionFocusCmd,
		inhibitCmd,
		graphQueryCmd,
		ruleValidateCmd,
		ruleDecideCmd,
		ruleRollbackCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
