package judge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/agentstore/trustgate/internal/adapter/litellm"
	"github.com/agentstore/trustgate/internal/config"
	"github.com/agentstore/trustgate/internal/domain/verdict"
)

func panelConfig(models ...config.PanelModel) config.Panel {
	return config.Panel{
		Enabled:       true,
		Models:        models,
		VetoThreshold: 0.3,
		Samples:       1,
	}
}

func seat(provider, model string) config.PanelModel {
	return config.PanelModel{Provider: provider, Model: model, Weight: 1.0, Enabled: true}
}

// rubricReplyJSON builds a completion that parses into the given verdict.
func rubricReplyJSON(total float64, v string) string {
	return fmt.Sprintf(`{"task_completion": 30, "tool_usage": 20, "autonomy": 10, "safety": 5, "total_score": %g, "verdict": %q, "reasoning": "because"}`, total, v)
}

func newTestPanel(cfg config.Panel, client CompletionClient) *Panel {
	return NewPanel(cfg, judgeConfig(), client, testLogger())
}

func TestPanelSingleRejectVetoes(t *testing.T) {
	client := &stubClient{byModel: map[string]string{
		"gpt-4o":     rubricReplyJSON(85, "approve"),
		"claude-3-5": rubricReplyJSON(88, "approve"),
		"gemini-1.5": rubricReplyJSON(20, "reject"),
	}}
	p := newTestPanel(panelConfig(seat("openai", "gpt-4o"), seat("anthropic", "claude-3-5"), seat("google", "gemini-1.5")), client)

	ens := p.Evaluate(context.Background(), llmScenario(), okExecution())
	if ens.AggregatedVerdict != verdict.Reject {
		t.Fatalf("expected reject, got %s", ens.AggregatedVerdict)
	}
	if !ens.VetoTriggered {
		t.Fatal("expected veto_triggered")
	}
}

func TestPanelManualFractionEscalates(t *testing.T) {
	// 1 manual of 3 = 33% >= 30% threshold
	client := &stubClient{byModel: map[string]string{
		"gpt-4o":     rubricReplyJSON(85, "approve"),
		"claude-3-5": rubricReplyJSON(88, "approve"),
		"gemini-1.5": rubricReplyJSON(55, "manual"),
	}}
	p := newTestPanel(panelConfig(seat("openai", "gpt-4o"), seat("anthropic", "claude-3-5"), seat("google", "gemini-1.5")), client)

	ens := p.Evaluate(context.Background(), llmScenario(), okExecution())
	if ens.AggregatedVerdict != verdict.NeedsReview {
		t.Fatalf("expected needs_review, got %s", ens.AggregatedVerdict)
	}
	if !ens.VetoTriggered {
		t.Fatal("expected veto_triggered")
	}
}

func TestPanelUnanimousApprove(t *testing.T) {
	client := &stubClient{reply: rubricReplyJSON(85, "approve")}
	p := newTestPanel(panelConfig(seat("openai", "gpt-4o"), seat("anthropic", "claude-3-5"), seat("google", "gemini-1.5")), client)

	ens := p.Evaluate(context.Background(), llmScenario(), okExecution())
	if ens.AggregatedVerdict != verdict.Approve {
		t.Fatalf("expected approve, got %s", ens.AggregatedVerdict)
	}
	if ens.VetoTriggered {
		t.Fatal("expected no veto")
	}
	if math.Abs(ens.AggregatedScore-0.85) > 1e-9 {
		t.Fatalf("expected mean score 0.85, got %f", ens.AggregatedScore)
	}
	if len(ens.ParticipatingProviders) != 3 {
		t.Fatalf("expected 3 providers, got %v", ens.ParticipatingProviders)
	}
}

func TestPanelManualBelowThreshold(t *testing.T) {
	// 1 manual of 5 = 20% < 30% threshold, mixed verdicts → manual
	client := &stubClient{byModel: map[string]string{
		"m1": rubricReplyJSON(85, "approve"),
		"m2": rubricReplyJSON(85, "approve"),
		"m3": rubricReplyJSON(85, "approve"),
		"m4": rubricReplyJSON(85, "approve"),
		"m5": rubricReplyJSON(55, "manual"),
	}}
	p := newTestPanel(panelConfig(
		seat("p1", "m1"), seat("p2", "m2"), seat("p3", "m3"), seat("p4", "m4"), seat("p5", "m5"),
	), client)

	ens := p.Evaluate(context.Background(), llmScenario(), okExecution())
	if ens.AggregatedVerdict != verdict.Manual {
		t.Fatalf("expected manual, got %s", ens.AggregatedVerdict)
	}
	if ens.VetoTriggered {
		t.Fatal("expected no veto below threshold")
	}
}

func TestPanelEmptySeatsManual(t *testing.T) {
	p := newTestPanel(config.Panel{Enabled: true, VetoThreshold: 0.3}, &stubClient{})

	ens := p.Evaluate(context.Background(), llmScenario(), okExecution())
	if ens.AggregatedVerdict != verdict.Manual {
		t.Fatalf("expected manual for empty panel, got %s", ens.AggregatedVerdict)
	}
	if ens.VetoTriggered {
		t.Fatal("expected no veto for empty panel")
	}
	if ens.AggregatedScore != 0.0 {
		t.Fatalf("expected score 0, got %f", ens.AggregatedScore)
	}
}

func TestPanelSeatFailureSubstitutesManual(t *testing.T) {
	client := &failingClient{
		failModel: "gemini-1.5",
		byModel: map[string]string{
			"gpt-4o":     rubricReplyJSON(85, "approve"),
			"claude-3-5": rubricReplyJSON(88, "approve"),
		},
	}
	p := newTestPanel(panelConfig(seat("openai", "gpt-4o"), seat("anthropic", "claude-3-5"), seat("google", "gemini-1.5")), client)

	ens := p.Evaluate(context.Background(), llmScenario(), okExecution())

	// The failed seat substitutes manual/0.5: 1 of 3 = 33% >= threshold.
	if ens.AggregatedVerdict != verdict.NeedsReview {
		t.Fatalf("expected needs_review, got %s", ens.AggregatedVerdict)
	}

	var failed *verdict.ModelVerdict
	for i := range ens.ModelVerdicts {
		if ens.ModelVerdicts[i].Model == "gemini-1.5" {
			failed = &ens.ModelVerdicts[i]
		}
	}
	if failed == nil {
		t.Fatal("expected a verdict for the failed seat")
	}
	if failed.Verdict != verdict.Manual {
		t.Fatalf("expected manual substitute, got %s", failed.Verdict)
	}
	if failed.Score == nil || *failed.Score != 0.5 {
		t.Fatalf("expected substitute score 0.5, got %v", failed.Score)
	}
	if !strings.HasPrefix(failed.Rationale, "evaluation_error: ") {
		t.Fatalf("unexpected rationale: %q", failed.Rationale)
	}
}

func TestPanelRationaleTagsProviders(t *testing.T) {
	client := &stubClient{reply: rubricReplyJSON(85, "approve")}
	p := newTestPanel(panelConfig(seat("openai", "gpt-4o"), seat("anthropic", "claude-3-5")), client)

	ens := p.Evaluate(context.Background(), llmScenario(), okExecution())
	for _, provider := range []string{"[openai]", "[anthropic]"} {
		if !strings.Contains(ens.AggregatedRationale, provider) {
			t.Fatalf("expected %s in rationale, got %q", provider, ens.AggregatedRationale)
		}
	}
	if !strings.Contains(ens.AggregatedRationale, " | ") {
		t.Fatalf("expected pipe-joined rationale, got %q", ens.AggregatedRationale)
	}
}

func TestPanelResamplingComputesVariance(t *testing.T) {
	cfg := panelConfig(seat("openai", "gpt-4o"))
	cfg.Samples = 3
	client := &sequenceClient{replies: []string{
		rubricReplyJSON(80, "approve"),
		rubricReplyJSON(90, "approve"),
		rubricReplyJSON(70, "approve"),
	}}
	p := newTestPanel(cfg, client)

	ens := p.Evaluate(context.Background(), llmScenario(), okExecution())
	mv := ens.ModelVerdicts[0]
	if mv.SampleCount != 3 {
		t.Fatalf("expected 3 samples, got %d", mv.SampleCount)
	}
	if mv.Score == nil || math.Abs(*mv.Score-0.8) > 1e-9 {
		t.Fatalf("expected mean 0.8, got %v", mv.Score)
	}
	if mv.ScoreVariance <= 0 {
		t.Fatalf("expected positive variance, got %f", mv.ScoreVariance)
	}
}

// failingClient errors for one model and answers from the map for the rest.
type failingClient struct {
	failModel string
	byModel   map[string]string
}

func (f *failingClient) Complete(_ context.Context, req litellm.CompletionRequest) (string, error) {
	if req.Model == f.failModel {
		return "", errors.New("provider timeout")
	}
	return f.byModel[req.Model], nil
}

// sequenceClient returns canned replies in call order.
type sequenceClient struct {
	mu      sync.Mutex
	replies []string
	idx     int
}

func (s *sequenceClient) Complete(_ context.Context, _ litellm.CompletionRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.replies[s.idx%len(s.replies)]
	s.idx++
	return r, nil
}
