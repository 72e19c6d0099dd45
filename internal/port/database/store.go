// Package database defines the database store port (interface).
package database

import (
	"context"
	"encoding/json"

	"github.com/agentstore/trustgate/internal/domain/submission"
)

// Store is the port interface for submission persistence. The pipeline writes
// through it once per stage; stages for one submission are sequential, so
// last-writer-wins semantics are acceptable.
type Store interface {
	CreateSubmission(ctx context.Context, s *submission.Submission) error
	GetSubmission(ctx context.Context, id string) (*submission.Submission, error)
	ListSubmissions(ctx context.Context, limit, offset int) ([]submission.Submission, error)

	// UpdateStage persists the state transition and score snapshot a
	// completed pipeline stage produced.
	UpdateStage(ctx context.Context, id string, state submission.State, update StageUpdate) error
}

// StageUpdate carries the fields a stage transition may change.
// Nil fields are left untouched.
type StageUpdate struct {
	AgentID         *string
	SecurityScore   *int
	FunctionalScore *int
	JudgeScore      *int
	TrustScore      *int
	ScoreBreakdown  json.RawMessage
	AutoDecision    *submission.AutoDecision
}
