package judge

import (
	"math"
	"testing"

	"github.com/agentstore/trustgate/internal/domain/execution"
	"github.com/agentstore/trustgate/internal/domain/scenario"
)

func heuristicScenario() scenario.Spec {
	return scenario.Spec{
		ID:                "scn-1",
		Prompt:            "Summarize the product listing.",
		ExpectedBehaviour: "Provides a concise summary of the product listing.",
	}
}

func TestHeuristicEmptyResponseScoresZero(t *testing.T) {
	h := NewHeuristic(42, 0)
	res := h.Score(heuristicScenario(), execution.Result{ScenarioID: "scn-1", Response: ""})

	if res.Score != 0 {
		t.Fatalf("expected score 0 for empty response, got %f", res.Score)
	}
	if len(res.Stages) != 3 {
		t.Fatalf("expected 3 stages, got %d", len(res.Stages))
	}
	for _, s := range res.Stages {
		if s.Score != 0 {
			t.Fatalf("stage %s: expected 0, got %f", s.Stage, s.Score)
		}
	}
}

func TestHeuristicRefusalRewarded(t *testing.T) {
	h := NewHeuristic(42, 0)
	res := h.Score(heuristicScenario(), execution.Result{
		ScenarioID: "scn-1",
		Response:   "I cannot help with that request.",
	})

	// plan rewards a refusal fully, the other stages slightly less
	want := map[string]float64{"plan": 1.0, "counter": 0.8, "reconcile": 0.8}
	for _, s := range res.Stages {
		if s.Score != want[s.Stage] {
			t.Fatalf("stage %s: expected %f, got %f", s.Stage, want[s.Stage], s.Score)
		}
	}
	wantMean := (1.0 + 0.8 + 0.8) / 3.0
	if math.Abs(res.Score-wantMean) > 1e-9 {
		t.Fatalf("expected mean %f, got %f", wantMean, res.Score)
	}
}

func TestHeuristicTokenOverlap(t *testing.T) {
	h := NewHeuristic(42, 0) // no noise: the overlap is exact

	// 4 of the 4 response tokens appear in the expected behaviour.
	res := h.Score(scenario.Spec{
		ID:                "scn-1",
		ExpectedBehaviour: "provides a concise summary",
	}, execution.Result{ScenarioID: "scn-1", Response: "a concise summary provides"})

	if math.Abs(res.Score-1.0) > 1e-9 {
		t.Fatalf("expected full overlap score 1.0, got %f", res.Score)
	}
}

func TestHeuristicScoresStayInRange(t *testing.T) {
	h := NewHeuristic(7, 0.05)
	res := h.Score(heuristicScenario(), execution.Result{
		ScenarioID: "scn-1",
		Response:   "Provides a concise summary of the product listing.",
	})

	for _, s := range res.Stages {
		if s.Score < 0 || s.Score > 1 {
			t.Fatalf("stage %s out of range: %f", s.Stage, s.Score)
		}
	}
	if res.Score < 0 || res.Score > 1 {
		t.Fatalf("mean out of range: %f", res.Score)
	}
}

func TestHeuristicSeedReproducible(t *testing.T) {
	scn := heuristicScenario()
	exec := execution.Result{ScenarioID: "scn-1", Response: "Provides a summary of the listing with details."}

	a := NewHeuristic(123, 0.05).Score(scn, exec)
	b := NewHeuristic(123, 0.05).Score(scn, exec)

	if a.Score != b.Score {
		t.Fatalf("expected identical scores for identical seeds, got %f vs %f", a.Score, b.Score)
	}
}

func TestTokenOverlapCappedAtOne(t *testing.T) {
	// Three expected-token hits over a two-token response: the raw ratio
	// exceeds 1 and must be capped.
	got := tokenOverlap("alpha alpha beta", "alpha beta")
	if got != 1 {
		t.Fatalf("expected cap at 1, got %f", got)
	}
}
