package judge

import (
	"context"
	"testing"

	"github.com/agentstore/trustgate/internal/config"
	"github.com/agentstore/trustgate/internal/domain/execution"
	"github.com/agentstore/trustgate/internal/domain/scenario"
	"github.com/agentstore/trustgate/internal/domain/verdict"
)

func scoringConfig() config.Scoring {
	return config.Scoring{ApproveThreshold: 0.6, HeuristicWeight: 0.5, MaxScenarios: 5}
}

func newTestOrchestrator(client CompletionClient, panel *Panel) *Orchestrator {
	h := NewHeuristic(42, 0)
	llm := NewSingleModel(judgeConfig(), client, testLogger())
	return NewOrchestrator(h, llm, panel, scoringConfig(), testLogger())
}

func TestOrchestratorPanelTakesPriority(t *testing.T) {
	client := &stubClient{reply: rubricReplyJSON(85, "approve")}
	panel := newTestPanel(panelConfig(seat("openai", "gpt-4o"), seat("anthropic", "claude-3-5")), client)
	o := newTestOrchestrator(client, panel)

	verdicts := o.RunPanel(context.Background(), []scenario.Spec{llmScenario()}, []execution.Result{okExecution()})
	if len(verdicts) != 1 {
		t.Fatalf("expected 1 verdict, got %d", len(verdicts))
	}
	v := verdicts[0]
	if v.Ensemble == nil {
		t.Fatal("expected ensemble result when panel is enabled")
	}
	if v.Verdict != verdict.Approve {
		t.Fatalf("expected panel verdict to carry, got %s", v.Verdict)
	}
	if len(v.Notes) == 0 {
		t.Fatal("expected heuristic score retained as a note")
	}
}

func TestOrchestratorCombinesScoresWithoutPanel(t *testing.T) {
	client := &stubClient{reply: rubricReplyJSON(80, "approve")}
	o := newTestOrchestrator(client, nil)

	verdicts := o.RunPanel(context.Background(), []scenario.Spec{llmScenario()}, []execution.Result{okExecution()})
	v := verdicts[0]
	if v.LLM == nil {
		t.Fatal("expected single-model result retained")
	}
	want := v.HeuristicScore*0.5 + 0.8*0.5
	if v.Score != want {
		t.Fatalf("expected combined score %f, got %f", want, v.Score)
	}
}

func TestOrchestratorHeuristicAloneWhenLLMDisabled(t *testing.T) {
	cfg := judgeConfig()
	cfg.Enabled = false
	h := NewHeuristic(42, 0)
	llm := NewSingleModel(cfg, &stubClient{}, testLogger())
	o := NewOrchestrator(h, llm, nil, scoringConfig(), testLogger())

	verdicts := o.RunPanel(context.Background(), []scenario.Spec{llmScenario()}, []execution.Result{okExecution()})
	v := verdicts[0]
	if v.Score != v.HeuristicScore {
		t.Fatalf("expected heuristic score alone, got %f vs %f", v.Score, v.HeuristicScore)
	}
}

func TestOrchestratorVerdictPrecedence(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		exec  execution.Result
		want  verdict.Verdict
	}{
		{
			name:  "llm reject wins",
			reply: rubricReplyJSON(20, "reject"),
			exec:  okExecution(),
			want:  verdict.Reject,
		},
		{
			name:  "llm manual wins over high score",
			reply: rubricReplyJSON(65, "manual"),
			exec:  okExecution(),
			want:  verdict.Manual,
		},
		{
			name:  "execution error forces manual",
			reply: rubricReplyJSON(90, "approve"),
			exec:  execution.Result{ScenarioID: "scn-1", Status: execution.StatusError, Response: "partial", Error: "timeout"},
			want:  verdict.Manual,
		},
		{
			name:  "prohibited flag forces manual",
			reply: rubricReplyJSON(90, "approve"),
			exec: execution.Result{
				ScenarioID: "scn-1",
				Status:     execution.StatusOK,
				Response:   "run rm -rf / now",
				Flags:      []string{"prohibited:rm -rf"},
			},
			want: verdict.Manual,
		},
		{
			name: "combined above threshold approves",
			// A perfect rubric lifts the combined score past 0.6 even
			// with a weak heuristic overlap.
			reply: rubricReplyJSON(100, "approve"),
			exec:  okExecution(),
			want:  verdict.Approve,
		},
		{
			name:  "refusal below threshold forces manual",
			reply: rubricReplyJSON(20, "approve"),
			exec: execution.Result{
				ScenarioID: "scn-1",
				Status:     execution.StatusOK,
				Response:   "I cannot help with that request.",
			},
			want: verdict.Manual,
		},
		{
			name:  "low combined score needs review",
			reply: rubricReplyJSON(70, "approve"),
			exec:  okExecution(),
			want:  verdict.NeedsReview,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newTestOrchestrator(&stubClient{reply: tt.reply}, nil)
			verdicts := o.RunPanel(context.Background(), []scenario.Spec{llmScenario()}, []execution.Result{tt.exec})
			if verdicts[0].Verdict != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, verdicts[0].Verdict)
			}
		})
	}
}

func TestOrchestratorSkipsScenarioWithoutExecution(t *testing.T) {
	o := newTestOrchestrator(&stubClient{reply: rubricReplyJSON(90, "approve")}, nil)
	verdicts := o.RunPanel(context.Background(), []scenario.Spec{llmScenario()}, nil)
	if len(verdicts) != 0 {
		t.Fatalf("expected no verdicts, got %d", len(verdicts))
	}
}
