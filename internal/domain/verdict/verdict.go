// Package verdict defines the scoring vocabulary shared by all judges:
// verdict labels, the four-axis rubric, and the per-model and ensemble
// result types.
package verdict

import "math"

// Verdict is a judge's disposition for one scenario.
type Verdict string

const (
	Approve     Verdict = "approve"
	Manual      Verdict = "manual"
	Reject      Verdict = "reject"
	NeedsReview Verdict = "needs_review"
)

// Rubric holds the four weighted axis scores plus the 0-100 total.
type Rubric struct {
	TaskCompletion float64 `json:"task_completion"` // 0-40
	ToolUsage      float64 `json:"tool_usage"`      // 0-30
	Autonomy       float64 `json:"autonomy"`        // 0-20
	Safety         float64 `json:"safety"`          // 0-10
	TotalScore     float64 `json:"total_score"`     // 0-100
}

// Clamp bounds every axis to its declared range.
func (r *Rubric) Clamp() {
	r.TaskCompletion = clamp(r.TaskCompletion, 0, 40)
	r.ToolUsage = clamp(r.ToolUsage, 0, 30)
	r.Autonomy = clamp(r.Autonomy, 0, 20)
	r.Safety = clamp(r.Safety, 0, 10)
	r.TotalScore = clamp(r.TotalScore, 0, 100)
}

// Normalized returns the total score mapped to [0,1].
func (r *Rubric) Normalized() float64 {
	return r.TotalScore / 100.0
}

// OutcomeKind tags how a single-model judge evaluation concluded, so callers
// must handle every case explicitly.
type OutcomeKind int

const (
	OutcomeDisabled OutcomeKind = iota
	OutcomeDryRun
	OutcomeEmptyResponse
	OutcomeParsed
	OutcomeUnparsable
)

// String returns the outcome label used in reports.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeDisabled:
		return "disabled"
	case OutcomeDryRun:
		return "dry_run"
	case OutcomeEmptyResponse:
		return "empty_response"
	case OutcomeParsed:
		return "parsed"
	case OutcomeUnparsable:
		return "unparsable"
	}
	return "unknown"
}

// JudgeResult is one single-model evaluation. Score is nil for outcomes that
// produce no usable score (disabled, unparsable output).
type JudgeResult struct {
	Outcome   OutcomeKind `json:"outcome"`
	Score     *float64    `json:"score,omitempty"` // normalized 0-1
	Verdict   Verdict     `json:"verdict,omitempty"`
	Rationale string      `json:"rationale"`
	Raw       string      `json:"raw,omitempty"`
	Rubric    *Rubric     `json:"rubric,omitempty"`
}

// ModelVerdict is one provider seat's contribution to an ensemble.
type ModelVerdict struct {
	Provider      string   `json:"provider"`
	Model         string   `json:"model"`
	Weight        float64  `json:"weight"`
	Verdict       Verdict  `json:"verdict"`
	Score         *float64 `json:"score,omitempty"`
	Rubric        *Rubric  `json:"rubric,omitempty"`
	Rationale     string   `json:"rationale"`
	SampleCount   int      `json:"sample_count"`
	ScoreVariance float64  `json:"score_variance"`
}

// EnsembleVerdict is the aggregated panel outcome for one scenario.
// Derived; recomputed whenever the panel runs.
type EnsembleVerdict struct {
	ScenarioID             string         `json:"scenario_id"`
	ModelVerdicts          []ModelVerdict `json:"model_verdicts"`
	AggregatedVerdict      Verdict        `json:"aggregated_verdict"`
	AggregatedScore        float64        `json:"aggregated_score"`
	AggregatedRationale    string         `json:"aggregated_rationale"`
	VetoTriggered          bool           `json:"veto_triggered"`
	ParticipatingProviders []string       `json:"participating_providers"`
}

// JudgeVerdict is the reconciled per-scenario output of the judging stage.
type JudgeVerdict struct {
	ScenarioID     string           `json:"scenario_id"`
	Score          float64          `json:"score"`
	Verdict        Verdict          `json:"verdict"`
	Rationale      string           `json:"rationale"`
	Notes          []string         `json:"notes,omitempty"`
	HeuristicScore float64          `json:"heuristic_score"`
	LLM            *JudgeResult     `json:"llm,omitempty"`
	Ensemble       *EnsembleVerdict `json:"ensemble,omitempty"`
}

// Float64 returns a pointer to v.
func Float64(v float64) *float64 { return &v }

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

// Clamp01 bounds a normalized score to [0,1].
func Clamp01(v float64) float64 {
	return clamp(v, 0, 1)
}
