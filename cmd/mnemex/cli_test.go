package main

import (
	"context"
	"testing"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mnemex/internal/config"
	"mnemex/internal/mnemex"
	"mnemex/internal/rules"
)

func setupTestEngine(t *testing.T) {
	t.Helper()
	logger = zap.NewNop()
	projectArg = "cli-test"

	cfg := config.DefaultConfig()
	cfg.Store.DatabasePath = ":memory:"
	cfg.Embedding.Provider = "mock"

	e, err := mnemex.Open(cfg)
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	engine = e
	t.Cleanup(func() {
		_ = engine.Close()
		engine = nil
		logger = nil
	})
}

func testCmd() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	return cmd
}

func TestStoreAndRecallCmd_RoundTrips(t *testing.T) {
	setupTestEngine(t)

	storeKind = "semantic"
	storeTags = nil
	storeSource = "cli-test"
	if err := storeCmd.RunE(testCmd(), []string{"ci pipelines retry failed jobs automatically"}); err != nil {
		t.Fatalf("store: %v", err)
	}

	recallK = 5
	recallStrategy = ""
	recallReconsolidate = false
	if err := recallCmd.RunE(testCmd(), []string{"pipelines"}); err != nil {
		t.Fatalf("recall: %v", err)
	}
}

func TestGetCmd_FetchesStoredMemory(t *testing.T) {
	setupTestEngine(t)

	projectID, err := resolveProject(context.Background())
	if err != nil {
		t.Fatalf("resolveProject: %v", err)
	}
	id, err := engine.Store(context.Background(), projectID, "restart the worker pool on OOM", "semantic", nil, "cli-test")
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := getCmd.RunE(testCmd(), []string{id}); err != nil {
		t.Fatalf("get: %v", err)
	}
}

func TestCreateGoalCmd(t *testing.T) {
	setupTestEngine(t)

	goalType = "primary"
	goalParentID = ""
	goalPriority = 7
	if err := createGoalCmd.RunE(testCmd(), []string{"ship the release"}); err != nil {
		t.Fatalf("create-goal: %v", err)
	}
}

func TestCreateTaskCmd(t *testing.T) {
	setupTestEngine(t)

	taskRequirements = nil
	taskDependencies = nil
	taskPriority = 5
	if err := createTaskCmd.RunE(testCmd(), []string{"write release notes"}); err != nil {
		t.Fatalf("create-task: %v", err)
	}
}

func TestRegisterAgentAndHeartbeatCmd(t *testing.T) {
	setupTestEngine(t)

	agentCapabilities = []string{"writer"}
	if err := registerAgentCmd.RunE(testCmd(), []string{"agent-1", "worker"}); err != nil {
		t.Fatalf("register-agent: %v", err)
	}
	if err := heartbeatCmd.RunE(testCmd(), []string{"agent-1"}); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
}

func TestGraphQueryCmd_UnknownSeedIsNotAnError(t *testing.T) {
	setupTestEngine(t)

	graphQueryDepth = 2
	if err := graphQueryCmd.RunE(testCmd(), []string{"nonexistent"}); err != nil {
		t.Fatalf("graph-query: %v", err)
	}
}

func TestRuleValidateCmd(t *testing.T) {
	setupTestEngine(t)

	ruleChangeType = "docs"
	ruleEvidenceTags = []string{"low-risk"}
	rulePaths = []string{"README.md"}
	if err := ruleValidateCmd.RunE(testCmd(), []string{"fix a typo"}); err != nil {
		t.Fatalf("rule-validate: %v", err)
	}
}

func TestRuleDecideCmd(t *testing.T) {
	setupTestEngine(t)

	ruleChangeType = "infra"
	ruleEvidenceTags = nil
	rulePaths = []string{"terraform/prod/main.tf"}
	if err := ruleValidateCmd.RunE(testCmd(), []string{"touch prod terraform"}); err != nil {
		t.Fatalf("rule-validate: %v", err)
	}

	projectID, err := resolveProject(context.Background())
	if err != nil {
		t.Fatalf("resolveProject: %v", err)
	}
	decision, err := engine.RuleValidate(context.Background(), projectID, rules.ChangeCandidate{
		Summary:    "touch prod terraform",
		Paths:      rulePaths,
		ChangeType: ruleChangeType,
	})
	if err != nil {
		t.Fatalf("RuleValidate: %v", err)
	}
	if decision.ApprovalID == "" {
		t.Skip("change auto-resolved without reaching a pending approval; nothing to decide")
	}

	ruleDecideApprove = true
	ruleDecideBy = "cli-test"
	if err := ruleDecideCmd.RunE(testCmd(), []string{decision.ApprovalID}); err != nil {
		t.Fatalf("rule-decide: %v", err)
	}
}

func TestResolveProject_CreatesOnFirstUse(t *testing.T) {
	setupTestEngine(t)

	id, err := resolveProject(context.Background())
	if err != nil {
		t.Fatalf("resolveProject: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty project id")
	}
}
