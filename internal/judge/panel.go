package judge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/agentstore/trustgate/internal/config"
	"github.com/agentstore/trustgate/internal/domain/execution"
	"github.com/agentstore/trustgate/internal/domain/scenario"
	"github.com/agentstore/trustgate/internal/domain/verdict"
)

// Panel fans a rubric judge out across several provider seats in parallel
// and aggregates their verdicts with a minority-veto rule.
type Panel struct {
	cfg    config.Panel
	judge  config.Judge
	client CompletionClient
	logger *slog.Logger
}

// NewPanel creates a multi-model judge panel. The judge config supplies the
// shared temperature and token budget; each seat overrides the model.
func NewPanel(cfg config.Panel, judgeCfg config.Judge, client CompletionClient, logger *slog.Logger) *Panel {
	return &Panel{cfg: cfg, judge: judgeCfg, client: client, logger: logger}
}

// Enabled reports whether the panel is configured to run.
func (p *Panel) Enabled() bool {
	if !p.cfg.Enabled {
		return false
	}
	for _, m := range p.cfg.Models {
		if m.Enabled {
			return true
		}
	}
	return false
}

// Evaluate runs every enabled provider seat concurrently and aggregates the
// verdicts. A failed seat never aborts the panel; it contributes a manual
// verdict with an evaluation_error rationale instead.
func (p *Panel) Evaluate(ctx context.Context, scn scenario.Spec, exec execution.Result) verdict.EnsembleVerdict {
	seats := p.enabledSeats()

	var (
		mu       sync.Mutex
		verdicts []verdict.ModelVerdict
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, seat := range seats {
		g.Go(func() error {
			mv := p.evaluateSeat(gctx, seat, scn, exec)
			mu.Lock()
			verdicts = append(verdicts, mv)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return p.aggregate(scn.ID, seats, verdicts)
}

func (p *Panel) enabledSeats() []config.PanelModel {
	seats := make([]config.PanelModel, 0, len(p.cfg.Models))
	for _, m := range p.cfg.Models {
		if m.Enabled {
			seats = append(seats, m)
		}
	}
	return seats
}

// evaluateSeat runs one provider seat, resampling when configured so the
// seat's score variance can expose an unstable judge.
func (p *Panel) evaluateSeat(ctx context.Context, seat config.PanelModel, scn scenario.Spec, exec execution.Result) verdict.ModelVerdict {
	samples := p.cfg.Samples
	if samples < 1 {
		samples = 1
	}

	seatCfg := p.judge
	seatCfg.Enabled = true
	seatCfg.Provider = seat.Provider
	seatCfg.Model = seat.Model
	judge := NewSingleModel(seatCfg, p.client, p.logger)

	var (
		scores    []float64
		worst     verdict.Verdict
		rationale string
		rubric    *verdict.Rubric
	)
	for i := 0; i < samples; i++ {
		res, err := judge.EvaluateStrict(ctx, scn, exec)
		if err != nil {
			// A failed seat never aborts the panel.
			p.logger.Warn("panel seat failed", "provider", seat.Provider, "model", seat.Model, "scenario", scn.ID, "error", err)
			res = verdict.JudgeResult{
				Score:     verdict.Float64(0.5),
				Verdict:   verdict.Manual,
				Rationale: fmt.Sprintf("evaluation_error: %v", err),
			}
		}

		v := res.Verdict
		if v == "" {
			v = verdict.Manual
		}
		score := 0.5
		if res.Score != nil {
			score = *res.Score
		}

		scores = append(scores, score)
		if i == 0 {
			worst = v
			rationale = res.Rationale
			rubric = res.Rubric
		} else if severity(v) > severity(worst) {
			worst = v
			rationale = res.Rationale
		}
	}

	mean, variance := meanVariance(scores)
	return verdict.ModelVerdict{
		Provider:      seat.Provider,
		Model:         seat.Model,
		Weight:        seat.Weight,
		Verdict:       worst,
		Score:         verdict.Float64(mean),
		Rubric:        rubric,
		Rationale:     rationale,
		SampleCount:   samples,
		ScoreVariance: variance,
	}
}

// aggregate applies the minority-veto rule set, in strict order:
// any reject wins outright; a manual+reject fraction at or above the veto
// threshold escalates to needs_review; unanimous approve approves; anything
// else is manual.
func (p *Panel) aggregate(scenarioID string, seats []config.PanelModel, verdicts []verdict.ModelVerdict) verdict.EnsembleVerdict {
	providers := make([]string, 0, len(seats))
	for _, s := range seats {
		providers = append(providers, s.Provider)
	}

	out := verdict.EnsembleVerdict{
		ScenarioID:             scenarioID,
		ModelVerdicts:          verdicts,
		ParticipatingProviders: providers,
	}

	if len(verdicts) == 0 {
		out.AggregatedVerdict = verdict.Manual
		return out
	}

	var rejects, manuals, approves int
	var scoreSum float64
	var scored int
	rationales := make([]string, 0, len(verdicts))
	for _, v := range verdicts {
		switch v.Verdict {
		case verdict.Reject:
			rejects++
		case verdict.Manual:
			manuals++
		case verdict.Approve:
			approves++
		}
		if v.Score != nil {
			scoreSum += *v.Score
			scored++
		}
		rationales = append(rationales, fmt.Sprintf("[%s] %s", v.Provider, v.Rationale))
	}

	if scored > 0 {
		out.AggregatedScore = scoreSum / float64(scored)
	}
	out.AggregatedRationale = strings.Join(rationales, " | ")

	total := len(verdicts)
	switch {
	case rejects > 0:
		out.AggregatedVerdict = verdict.Reject
		out.VetoTriggered = true
		p.logger.Info("minority veto triggered", "scenario", scenarioID, "rejects", rejects, "total", total)
	case float64(rejects+manuals)/float64(total) >= p.cfg.VetoThreshold:
		out.AggregatedVerdict = verdict.NeedsReview
		out.VetoTriggered = true
		p.logger.Info("veto threshold reached", "scenario", scenarioID, "issues", rejects+manuals, "total", total)
	case approves == total:
		out.AggregatedVerdict = verdict.Approve
	default:
		out.AggregatedVerdict = verdict.Manual
	}
	return out
}

func severity(v verdict.Verdict) int {
	switch v {
	case verdict.Reject:
		return 3
	case verdict.NeedsReview:
		return 2
	case verdict.Manual:
		return 1
	default:
		return 0
	}
}

func meanVariance(values []float64) (mean, variance float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	if len(values) < 2 {
		return mean, 0
	}
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, variance
}
