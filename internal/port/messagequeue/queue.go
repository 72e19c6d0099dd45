// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subject constants for NATS subjects used by Trustgate.
const (
	// SubjectSubmissionProcess triggers the full review pipeline for one
	// submission. The payload is a ProcessRequest. Redelivery re-runs the
	// whole pipeline; the entry point tolerates retries.
	SubjectSubmissionProcess = "submissions.process"

	// SubjectSubmissionState announces state transitions for observers.
	SubjectSubmissionState = "submissions.state"

	// SubjectSubmissionPublish hands an auto-approved submission to the
	// marketplace catalog for listing.
	SubjectSubmissionPublish = "submissions.publish"
)

// ProcessRequest is the payload of SubjectSubmissionProcess.
type ProcessRequest struct {
	SubmissionID string `json:"submission_id"`
}

// StateEvent is the payload of SubjectSubmissionState.
type StateEvent struct {
	SubmissionID string `json:"submission_id"`
	AgentID      string `json:"agent_id,omitempty"`
	State        string `json:"state"`
	TrustScore   int    `json:"trust_score"`
}
