// Package service implements the application services: submission intake and
// the staged review pipeline.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/agentstore/trustgate/internal/domain/card"
	"github.com/agentstore/trustgate/internal/domain/submission"
	"github.com/agentstore/trustgate/internal/port/cache"
	"github.com/agentstore/trustgate/internal/port/database"
	"github.com/agentstore/trustgate/internal/port/messagequeue"
)

// ErrNoCard indicates a submission request carried neither a card document
// nor a card URL.
var ErrNoCard = errors.New("submission has no card document or card url")

const cardCacheTTL = 10 * time.Minute

// SubmissionService handles intake: card resolution, validation, persistence
// and handing the submission to the pipeline via the queue.
type SubmissionService struct {
	store      database.Store
	queue      messagequeue.Queue
	cache      cache.Cache
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSubmissionService creates the intake service. cache may be nil.
func NewSubmissionService(store database.Store, queue messagequeue.Queue, c cache.Cache, logger *slog.Logger) *SubmissionService {
	return &SubmissionService{
		store:      store,
		queue:      queue,
		cache:      c,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

// CreateRequest is an intake request: an inline card document, a URL to
// fetch one from, or both (the inline document wins).
type CreateRequest struct {
	CardURL string          `json:"card_url,omitempty"`
	Card    json.RawMessage `json:"card,omitempty"`
}

// Create resolves the card, stores the submission in state submitted, and
// enqueues it for pipeline processing.
func (s *SubmissionService) Create(ctx context.Context, req CreateRequest) (*submission.Submission, error) {
	doc := req.Card
	if len(doc) == 0 {
		if req.CardURL == "" {
			return nil, ErrNoCard
		}
		fetched, err := s.fetchCard(ctx, req.CardURL)
		if err != nil {
			return nil, err
		}
		doc = fetched
	}

	c, err := card.Parse(doc)
	if err != nil {
		return nil, err
	}

	sub := &submission.Submission{
		ID:           uuid.NewString(),
		AgentID:      c.EffectiveAgentID(),
		CardURL:      req.CardURL,
		CardDocument: doc,
		State:        submission.StateSubmitted,
	}
	if err := s.store.CreateSubmission(ctx, sub); err != nil {
		return nil, err
	}

	if err := s.enqueue(ctx, sub.ID); err != nil {
		// The submission is persisted; an operator can requeue it.
		s.logger.Error("enqueue submission failed", "submission", sub.ID, "error", err)
		return sub, fmt.Errorf("enqueue submission %s: %w", sub.ID, err)
	}

	s.logger.Info("submission created", "submission", sub.ID, "agent", sub.AgentID)
	return sub, nil
}

// Get returns one submission.
func (s *SubmissionService) Get(ctx context.Context, id string) (*submission.Submission, error) {
	return s.store.GetSubmission(ctx, id)
}

// List returns submissions, newest first.
func (s *SubmissionService) List(ctx context.Context, limit, offset int) ([]submission.Submission, error) {
	return s.store.ListSubmissions(ctx, limit, offset)
}

// Requeue re-enqueues an existing submission for processing.
func (s *SubmissionService) Requeue(ctx context.Context, id string) error {
	if _, err := s.store.GetSubmission(ctx, id); err != nil {
		return err
	}
	return s.enqueue(ctx, id)
}

func (s *SubmissionService) enqueue(ctx context.Context, id string) error {
	payload, err := json.Marshal(messagequeue.ProcessRequest{SubmissionID: id})
	if err != nil {
		return fmt.Errorf("marshal process request: %w", err)
	}
	return s.queue.Publish(ctx, messagequeue.SubjectSubmissionProcess, payload)
}

// fetchCard downloads a card document, serving repeat fetches from cache.
func (s *SubmissionService) fetchCard(ctx context.Context, url string) (json.RawMessage, error) {
	cacheKey := "card:" + url
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, cacheKey); err == nil && ok {
			return data, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create card request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch card %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch card %s: status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read card %s: %w", url, err)
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, cacheKey, data, cardCacheTTL)
	}
	return data, nil
}
