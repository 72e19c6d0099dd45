package judge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/agentstore/trustgate/internal/config"
	"github.com/agentstore/trustgate/internal/domain/execution"
	"github.com/agentstore/trustgate/internal/domain/scenario"
	"github.com/agentstore/trustgate/internal/domain/verdict"
)

// Orchestrator reconciles the baseline judge, the single-model LLM judge and
// the ensemble panel into one JudgeVerdict per scenario.
type Orchestrator struct {
	heuristic *Heuristic
	llm       *SingleModel
	panel     *Panel
	scoring   config.Scoring
	logger    *slog.Logger
}

// NewOrchestrator wires the three judges together. The panel may be nil or
// disabled, in which case the heuristic and single-model scores are combined.
func NewOrchestrator(heuristic *Heuristic, llm *SingleModel, panel *Panel, scoring config.Scoring, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		heuristic: heuristic,
		llm:       llm,
		panel:     panel,
		scoring:   scoring,
		logger:    logger,
	}
}

// RunPanel judges every scenario that has an execution result and returns
// one verdict per scenario, in scenario order.
func (o *Orchestrator) RunPanel(ctx context.Context, scenarios []scenario.Spec, executions []execution.Result) []verdict.JudgeVerdict {
	execByID := make(map[string]execution.Result, len(executions))
	for _, exec := range executions {
		execByID[exec.ScenarioID] = exec
	}

	verdicts := make([]verdict.JudgeVerdict, 0, len(scenarios))
	for _, scn := range scenarios {
		exec, ok := execByID[scn.ID]
		if !ok {
			o.logger.Warn("no execution result for scenario", "scenario", scn.ID)
			continue
		}
		verdicts = append(verdicts, o.judgeScenario(ctx, scn, exec))
	}
	return verdicts
}

func (o *Orchestrator) judgeScenario(ctx context.Context, scn scenario.Spec, exec execution.Result) verdict.JudgeVerdict {
	heur := o.heuristic.Score(scn, exec)

	// An enabled panel takes priority; the baseline score is retained as a
	// supplementary note only.
	if o.panel != nil && o.panel.Enabled() {
		ens := o.panel.Evaluate(ctx, scn, exec)
		return verdict.JudgeVerdict{
			ScenarioID:     scn.ID,
			Score:          ens.AggregatedScore,
			Verdict:        ens.AggregatedVerdict,
			Rationale:      ens.AggregatedRationale,
			Notes:          []string{fmt.Sprintf("heuristic_score=%.3f", heur.Score)},
			HeuristicScore: heur.Score,
			Ensemble:       &ens,
		}
	}

	llmRes := o.llm.Evaluate(ctx, scn, exec)
	combined := o.combine(heur.Score, llmRes.Score)

	return verdict.JudgeVerdict{
		ScenarioID:     scn.ID,
		Score:          combined,
		Verdict:        o.finalVerdict(combined, llmRes, exec),
		Rationale:      llmRes.Rationale,
		HeuristicScore: heur.Score,
		LLM:            &llmRes,
	}
}

// combine blends the baseline and LLM scores by the configured weight; when
// the LLM produced no score the baseline stands alone.
func (o *Orchestrator) combine(heuristic float64, llm *float64) float64 {
	if llm == nil {
		return heuristic
	}
	w := o.scoring.HeuristicWeight
	if w <= 0 || w > 1 {
		w = 0.5
	}
	return heuristic*w + *llm*(1-w)
}

// finalVerdict applies the reconciliation precedence, highest first.
func (o *Orchestrator) finalVerdict(combined float64, llmRes verdict.JudgeResult, exec execution.Result) verdict.Verdict {
	switch {
	case llmRes.Verdict == verdict.Reject:
		return verdict.Reject
	case llmRes.Verdict == verdict.Manual:
		return verdict.Manual
	case exec.Status == execution.StatusError:
		return verdict.Manual
	case len(exec.Flags) > 0:
		return verdict.Manual
	case combined >= o.scoring.ApproveThreshold:
		return verdict.Approve
	case execution.IsRefusal(exec.Response):
		return verdict.Manual
	default:
		return verdict.NeedsReview
	}
}
