package retrieval

import "testing"

func TestSelectStrategy_QuotedTokenPrefersKeyword(t *testing.T) {
	got := selectStrategy(`find the function named "parseConfig"`, nil)
	if got != StrategyKeyword {
		t.Errorf("expected keyword, got %s", got)
	}
}

func TestSelectStrategy_QuestionPrefersVector(t *testing.T) {
	got := selectStrategy("why does the deploy keep failing at night", nil)
	if got != StrategyVector {
		t.Errorf("expected vector, got %s", got)
	}
}

func TestSelectStrategy_TimeExpressionPrefersTemporal(t *testing.T) {
	got := selectStrategy("what did we change yesterday", nil)
	if got != StrategyTemporal {
		t.Errorf("expected temporal, got %s", got)
	}
}

func TestSelectStrategy_KnownEntityPrefersGraph(t *testing.T) {
	got := selectStrategy("how does billing-service relate to auth-gateway", []string{"billing-service", "auth-gateway"})
	if got != StrategyGraph {
		t.Errorf("expected graph, got %s", got)
	}
}

func TestSelectStrategy_UnclassifiedQueryFallsBackToHybrid(t *testing.T) {
	got := selectStrategy("deploy pipeline keeps breaking", nil)
	if got != StrategyHybrid {
		t.Errorf("expected hybrid, got %s", got)
	}
}
