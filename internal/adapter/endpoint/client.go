// Package endpoint dispatches evaluation prompts to a submitted agent's
// service endpoint and captures the raw outcomes.
package endpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agentstore/trustgate/internal/domain/execution"
	"github.com/agentstore/trustgate/internal/domain/scenario"
)

// Dispatcher sends scenario prompts to an agent endpoint one at a time.
// A failed dispatch is captured in the result and never aborts the batch.
type Dispatcher struct {
	httpClient *http.Client
	timeout    time.Duration
	dryRun     bool
}

// NewDispatcher creates a dispatcher with a per-prompt request timeout.
// When dryRun is set, no network calls are made and every scenario gets
// a deterministic placeholder response.
func NewDispatcher(timeout time.Duration, dryRun bool) *Dispatcher {
	return &Dispatcher{
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
		dryRun:     dryRun,
	}
}

// Dispatch sends each scenario's prompt to the endpoint and returns one
// result per scenario, in input order.
func (d *Dispatcher) Dispatch(ctx context.Context, scenarios []scenario.Spec, endpointURL, token string) []execution.Result {
	results := make([]execution.Result, 0, len(scenarios))
	for _, scn := range scenarios {
		results = append(results, d.dispatchOne(ctx, scn, endpointURL, token))
	}
	return results
}

func (d *Dispatcher) dispatchOne(ctx context.Context, scn scenario.Spec, endpointURL, token string) execution.Result {
	res := execution.Result{
		ScenarioID: scn.ID,
		Prompt:     scn.Prompt,
	}

	if d.dryRun || endpointURL == "" {
		res.Status = execution.StatusDryRun
		res.Response = "(dry-run) sample response for: " + scn.Prompt
		res.Flags = execution.ProhibitedFlags(res.Response)
		return res
	}

	start := time.Now()
	body, httpStatus, err := d.post(ctx, endpointURL, token, scn.Prompt)
	res.LatencyMS = float64(time.Since(start)) / float64(time.Millisecond)
	res.HTTPStatus = httpStatus

	if err != nil {
		res.Status = execution.StatusError
		res.Error = err.Error()
		return res
	}

	res.Status = execution.StatusOK
	res.Response = extractResponse(body)
	res.Flags = execution.ProhibitedFlags(res.Response)
	return res
}

func (d *Dispatcher) post(ctx context.Context, endpointURL, token, prompt string) ([]byte, int, error) {
	payload, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return nil, 0, fmt.Errorf("marshal prompt: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, resp.StatusCode, fmt.Errorf("endpoint error %d: %s", resp.StatusCode, truncate(string(data), 200))
	}
	return data, resp.StatusCode, nil
}

// extractResponse pulls the agent's reply out of a JSON body, trying the
// conventional field names before falling back to the raw body text.
func extractResponse(body []byte) string {
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return string(body)
	}
	for _, key := range []string{"response", "output", "text"} {
		if v, ok := data[key].(string); ok {
			return v
		}
	}
	return string(body)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
