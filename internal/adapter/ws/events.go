package ws

// Event type constants for WebSocket messages.
const (
	EventSubmissionState = "submission.state"
	EventStageSummary    = "submission.stage"
)

// SubmissionStateEvent is broadcast when a submission's pipeline state changes.
type SubmissionStateEvent struct {
	SubmissionID string `json:"submission_id"`
	AgentID      string `json:"agent_id,omitempty"`
	State        string `json:"state"`
	TrustScore   int    `json:"trust_score"`
}

// StageSummaryEvent is broadcast when a pipeline stage completes, carrying
// the stage's contribution to the trust score.
type StageSummaryEvent struct {
	SubmissionID string `json:"submission_id"`
	Stage        string `json:"stage"`
	Score        int    `json:"score"`
	Error        string `json:"error,omitempty"`
}
