package attention

import (
	"context"
	"testing"
	"time"

	"mnemex/internal/types"
)

func TestScore_ContradictionWeightedHighest(t *testing.T) {
	contradictionOnly := Score(Signals{Contradiction: 1})
	noveltyOnly := Score(Signals{Novelty: 1})
	if contradictionOnly <= noveltyOnly {
		t.Fatalf("expected contradiction-only score (%v) to exceed novelty-only score (%v)", contradictionOnly, noveltyOnly)
	}
}

func TestSetFocus_NoOpOnSameGoal(t *testing.T) {
	m := New(Config{}, nil)
	ctx := context.Background()

	if err := m.SetFocus(ctx, "proj1", "goal-a", "start", nil); err != nil {
		t.Fatalf("SetFocus: %v", err)
	}
	if err := m.SetFocus(ctx, "proj1", "goal-a", "redundant", nil); err != nil {
		t.Fatalf("SetFocus (no-op) should not error: %v", err)
	}
	if got := m.CurrentFocus("proj1"); got != "goal-a" {
		t.Errorf("expected focus goal-a, got %q", got)
	}
}

func TestInhibit_FullySuppressesItem(t *testing.T) {
	m := New(Config{DefaultInhibitionTTLMs: 60_000}, nil)
	item := types.ItemRef{ID: "m1", Layer: types.LayerMemory}

	m.Inhibit("proj1", item, types.InhibitionSelective, 1.0, time.Minute)
	if _, err := m.Adjust("proj1", item, 0.9); err == nil {
		t.Fatal("expected fully inhibited item to be rejected")
	}
}

func TestPrime_BoostsSalience(t *testing.T) {
	m := New(Config{DefaultInhibitionTTLMs: 60_000}, nil)
	item := types.ItemRef{ID: "m1", Layer: types.LayerMemory}

	base := 0.3
	m.Prime("proj1", item, 0.5, time.Minute)
	boosted, err := m.Adjust("proj1", item, base)
	if err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	if boosted <= base {
		t.Errorf("expected primed salience (%v) to exceed base (%v)", boosted, base)
	}
}

func TestInhibit_ExpiresAfterTTL(t *testing.T) {
	m := New(Config{}, nil)
	item := types.ItemRef{ID: "m1", Layer: types.LayerMemory}

	m.Inhibit("proj1", item, types.InhibitionSelective, 1.0, time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	adjusted, err := m.Adjust("proj1", item, 0.5)
	if err != nil {
		t.Fatalf("expected expired inhibition to no longer block, got error: %v", err)
	}
	if adjusted != 0.5 {
		t.Errorf("expected unadjusted salience after expiry, got %v", adjusted)
	}
}
