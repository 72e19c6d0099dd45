// Package submission defines the marketplace submission record and the
// staged review lifecycle the pipeline advances it through.
package submission

import (
	"encoding/json"
	"time"

	"github.com/agentstore/trustgate/internal/domain/card"
)

// State is the pipeline stage a submission has reached. States advance
// monotonically; the only backward transition is approved after a failed
// publish.
type State string

const (
	StateSubmitted           State = "submitted"
	StatePrecheckPassed      State = "precheck_passed"
	StatePrecheckFailed      State = "precheck_failed"
	StateSecurityCompleted   State = "security_gate_completed"
	StateFunctionalCompleted State = "functional_accuracy_completed"
	StateJudgeCompleted      State = "judge_panel_completed"
	StateApproved            State = "approved"
	StatePublished           State = "published"
	StateRejected            State = "rejected"
	StateUnderReview         State = "under_review"
	StateFailed              State = "failed"
)

// AutoDecision is the pipeline's final disposition.
type AutoDecision string

const (
	DecisionApproved    AutoDecision = "auto_approved"
	DecisionRejected    AutoDecision = "auto_rejected"
	DecisionHumanReview AutoDecision = "requires_human_review"
)

// Submission is the persisted review record for one agent card.
type Submission struct {
	ID              string          `json:"id"`
	AgentID         string          `json:"agent_id"`
	CardURL         string          `json:"card_url"`
	CardDocument    json.RawMessage `json:"card_document"`
	State           State           `json:"state"`
	SecurityScore   int             `json:"security_score"`
	FunctionalScore int             `json:"functional_score"`
	JudgeScore      int             `json:"judge_score"`
	TrustScore      int             `json:"trust_score"`
	ScoreBreakdown  json.RawMessage `json:"score_breakdown"`
	AutoDecision    AutoDecision    `json:"auto_decision,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// RecomputeTrust derives the trust score from the stage sub-scores.
// Always recomputed from scratch so partial stage writes cannot drift it.
func (s *Submission) RecomputeTrust() {
	s.TrustScore = s.SecurityScore + s.FunctionalScore + s.JudgeScore
}

// StageMeta is per-stage status metadata surfaced in the score breakdown.
type StageMeta struct {
	Status   string   `json:"status"`
	Attempts int      `json:"attempts"`
	Message  string   `json:"message"`
	Warnings []string `json:"warnings,omitempty"`
}

// ArtifactRefs points at the durable report files a stage produced.
type ArtifactRefs struct {
	Report  string `json:"report,omitempty"`
	Summary string `json:"summary,omitempty"`
	Prompts string `json:"prompts,omitempty"`
}

// SecuritySummary is the security-gate stage artifact.
type SecuritySummary struct {
	Total       int             `json:"total"`
	Attempted   int             `json:"attempted"`
	Passed      int             `json:"passed"`
	Failed      int             `json:"failed"`
	Blocked     int             `json:"blocked"`
	NeedsReview int             `json:"needsReview"`
	Errors      int             `json:"errors"`
	Categories  map[string]int  `json:"categories,omitempty"`
	Endpoint    string          `json:"endpoint,omitempty"`
	Dataset     string          `json:"dataset,omitempty"`
	GeneratedAt time.Time       `json:"generatedAt"`
	Scenarios   json.RawMessage `json:"scenarios,omitempty"`
	Artifacts   ArtifactRefs    `json:"artifacts"`
	Error       string          `json:"error,omitempty"`
}

// FunctionalSummary is the functional-accuracy stage artifact.
type FunctionalSummary struct {
	TotalScenarios     int             `json:"total_scenarios"`
	PassedScenarios    int             `json:"passed_scenarios"`
	FailedScenarios    int             `json:"failed_scenarios"`
	NeedsReview        int             `json:"needsReview"`
	AverageDistance    *float64        `json:"averageDistance,omitempty"`
	MaxDistance        *float64        `json:"maxDistance,omitempty"`
	ResponsesWithError int             `json:"responsesWithError"`
	ReferenceAnswers   int             `json:"referenceAnswers"`
	Endpoint           string          `json:"endpoint,omitempty"`
	DryRun             bool            `json:"dryRun"`
	Scenarios          json.RawMessage `json:"scenarios,omitempty"`
	Artifacts          ArtifactRefs    `json:"artifacts"`
	Error              string          `json:"error,omitempty"`
}

// JudgeSummary is the judge-panel stage artifact. Axis scores are scaled to
// 0-100 for the review UI.
type JudgeSummary struct {
	TaskCompletion   int             `json:"taskCompletion"`
	ToolUsage        int             `json:"tool"`
	Autonomy         int             `json:"autonomy"`
	Safety           int             `json:"safety"`
	Verdict          string          `json:"verdict"`
	ApproveCount     int             `json:"approve"`
	ManualCount      int             `json:"manual"`
	RejectCount      int             `json:"reject"`
	TotalScenarios   int             `json:"totalScenarios"`
	PassCount        int             `json:"passCount"`
	FailCount        int             `json:"failCount"`
	NeedsReviewCount int             `json:"needsReviewCount"`
	LLMJudge         LLMJudgeInfo    `json:"llmJudge"`
	Scenarios        json.RawMessage `json:"scenarios,omitempty"`
	Artifacts        ArtifactRefs    `json:"artifacts"`
	Error            string          `json:"error,omitempty"`
}

// LLMJudgeInfo records which judge configuration produced a summary.
type LLMJudgeInfo struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	DryRun      bool    `json:"dryRun"`
	Panel       bool    `json:"panel"`
}

// PublishSummary records the outcome of the publish stage.
type PublishSummary struct {
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
	TrustScore  int        `json:"trustScore"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
}

// Breakdown is the full audit-trail document persisted on the submission.
type Breakdown struct {
	Precheck   *card.PrecheckSummary `json:"precheck_summary,omitempty"`
	Security   *SecuritySummary      `json:"security_summary,omitempty"`
	Functional *FunctionalSummary    `json:"functional_summary,omitempty"`
	Judge      *JudgeSummary         `json:"judge_summary,omitempty"`
	Publish    *PublishSummary       `json:"publish_summary,omitempty"`
	Stages     map[string]StageMeta  `json:"stages,omitempty"`
}

// Marshal encodes the breakdown for persistence.
func (b *Breakdown) Marshal() (json.RawMessage, error) {
	return json.Marshal(b)
}
