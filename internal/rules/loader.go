package rules

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"mnemex/internal/logging"
	"mnemex/internal/store"
	"mnemex/internal/types"
)

// RuleDefinition is one project-rule entry in a rules file, the on-disk
// shape RulesConfig.RulesFilePath decodes into before each rule is
// persisted via store.CreateRule.
type RuleDefinition struct {
	Category    types.RuleCategory `yaml:"category"`
	RuleType    string             `yaml:"rule_type"`
	Severity    string             `yaml:"severity"`
	Condition   string             `yaml:"condition"`
	Exception   string             `yaml:"exception"`
	Enabled     bool               `yaml:"enabled"`
	AutoBlock   bool               `yaml:"auto_block"`
	CanOverride bool               `yaml:"can_override"`
}

// ruleFile is a rules file's top-level shape: a flat list under `rules:`.
type ruleFile struct {
	Rules []RuleDefinition `yaml:"rules"`
}

// LoadRuleDefinitions reads and parses a rules file. A missing file yields
// an empty set rather than an error, matching config.Load's
// tolerant-of-absence convention for optional on-disk configuration.
func LoadRuleDefinitions(path string) ([]RuleDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var rf ruleFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&rf); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	return rf.Rules, nil
}

// SeedProjectRules persists every definition in defs against projectID. It
// is unconditional insertion, not an upsert: callers seed a fresh project
// once (Engine.EnsureProject, on first creation), so there is nothing to
// reconcile against yet.
func SeedProjectRules(ctx context.Context, st *store.Store, projectID string, defs []RuleDefinition) error {
	for _, d := range defs {
		_, err := st.CreateRule(ctx, &types.Rule{
			ProjectID:   projectID,
			Category:    d.Category,
			RuleType:    d.RuleType,
			Severity:    d.Severity,
			Condition:   d.Condition,
			Exception:   d.Exception,
			Enabled:     d.Enabled,
			AutoBlock:   d.AutoBlock,
			CanOverride: d.CanOverride,
		})
		if err != nil {
			logging.Get(logging.CategoryRules).Warn("seed rule %q for project %s: %v", d.RuleType, projectID, err)
			return err
		}
	}
	return nil
}
