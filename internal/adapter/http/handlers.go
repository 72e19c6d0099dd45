package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/agentstore/trustgate/internal/adapter/litellm"
	"github.com/agentstore/trustgate/internal/service"
)

const defaultListLimit = 50

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Submissions *service.SubmissionService
	LiteLLM     *litellm.Client
}

// CreateSubmission accepts an agent card (inline or by URL) and starts the
// review pipeline.
func (h *Handlers) CreateSubmission(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[service.CreateRequest](w, r)
	if !ok {
		return
	}

	sub, err := h.Submissions.Create(r.Context(), req)
	switch {
	case errors.Is(err, service.ErrNoCard):
		writeError(w, http.StatusBadRequest, "card or card_url is required")
		return
	case err != nil && sub != nil:
		// Persisted but not enqueued; the client can requeue it.
		writeJSON(w, http.StatusAccepted, sub)
		return
	case err != nil:
		writeDomainError(w, err, "submission could not be created")
		return
	}

	writeJSON(w, http.StatusCreated, sub)
}

// ListSubmissions returns submissions, newest first.
func (h *Handlers) ListSubmissions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultListLimit)
	offset := queryInt(r, "offset", 0)

	subs, err := h.Submissions.List(r.Context(), limit, offset)
	if err != nil {
		writeDomainError(w, err, "submissions could not be listed")
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

// GetSubmission returns one submission with its full score breakdown.
func (h *Handlers) GetSubmission(w http.ResponseWriter, r *http.Request) {
	sub, err := h.Submissions.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "submission not found")
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// RequeueSubmission re-runs the review pipeline for an existing submission.
func (h *Handlers) RequeueSubmission(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.Submissions.Requeue(r.Context(), id); err != nil {
		writeDomainError(w, err, "submission not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"submission_id": id, "status": "queued"})
}

// LLMHealth reports whether the LLM proxy is reachable.
func (h *Handlers) LLMHealth(w http.ResponseWriter, r *http.Request) {
	healthy, err := h.LiteLLM.Health(r.Context())
	if err != nil || !healthy {
		writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"healthy": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"healthy": true})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
