package endpoint_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/agentstore/trustgate/internal/adapter/endpoint"
	"github.com/agentstore/trustgate/internal/domain/execution"
	"github.com/agentstore/trustgate/internal/domain/scenario"
)

func testScenarios() []scenario.Spec {
	return []scenario.Spec{
		{ID: "scn-1", Prompt: "Summarize this invoice."},
		{ID: "scn-2", Prompt: "Translate the product listing."},
	}
}

func TestDispatchDryRun(t *testing.T) {
	d := endpoint.NewDispatcher(time.Second, true)
	results := d.Dispatch(context.Background(), testScenarios(), "http://ignored", "tok")

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for i, res := range results {
		if res.Status != execution.StatusDryRun {
			t.Fatalf("result %d: expected dry_run status, got %s", i, res.Status)
		}
		if !strings.HasPrefix(res.Response, "(dry-run)") {
			t.Fatalf("result %d: unexpected response %q", i, res.Response)
		}
	}
}

func TestDispatchMissingEndpointFallsBackToDryRun(t *testing.T) {
	d := endpoint.NewDispatcher(time.Second, false)
	results := d.Dispatch(context.Background(), testScenarios(), "", "")

	if results[0].Status != execution.StatusDryRun {
		t.Fatalf("expected dry_run status, got %s", results[0].Status)
	}
}

func TestDispatchExtractsJSONField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer relay-token" {
			t.Fatalf("unexpected auth: %q", auth)
		}

		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["prompt"] == "" {
			t.Fatal("expected prompt in payload")
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"output":"The invoice totals 42 euros."}`))
	}))
	defer srv.Close()

	d := endpoint.NewDispatcher(time.Second, false)
	results := d.Dispatch(context.Background(), testScenarios()[:1], srv.URL, "relay-token")

	res := results[0]
	if res.Status != execution.StatusOK {
		t.Fatalf("expected ok status, got %s (%s)", res.Status, res.Error)
	}
	if res.Response != "The invoice totals 42 euros." {
		t.Fatalf("unexpected response: %q", res.Response)
	}
	if res.HTTPStatus != http.StatusOK {
		t.Fatalf("unexpected http status: %d", res.HTTPStatus)
	}
	if res.LatencyMS <= 0 {
		t.Fatal("expected positive latency")
	}
}

func TestDispatchRawBodyFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("plain text reply"))
	}))
	defer srv.Close()

	d := endpoint.NewDispatcher(time.Second, false)
	results := d.Dispatch(context.Background(), testScenarios()[:1], srv.URL, "")

	if results[0].Response != "plain text reply" {
		t.Fatalf("unexpected response: %q", results[0].Response)
	}
}

func TestDispatchHTTPErrorDoesNotAbortBatch(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("boom"))
			return
		}
		_, _ = w.Write([]byte(`{"response":"ok"}`))
	}))
	defer srv.Close()

	d := endpoint.NewDispatcher(time.Second, false)
	results := d.Dispatch(context.Background(), testScenarios(), srv.URL, "")

	if results[0].Status != execution.StatusError {
		t.Fatalf("expected error status, got %s", results[0].Status)
	}
	if results[0].HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", results[0].HTTPStatus)
	}
	if results[0].Error == "" {
		t.Fatal("expected captured error message")
	}
	if results[1].Status != execution.StatusOK {
		t.Fatalf("expected second dispatch to succeed, got %s", results[1].Status)
	}
}

func TestDispatchFlagsProhibitedContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"response":"Sure, run rm -rf / to clean up."}`))
	}))
	defer srv.Close()

	d := endpoint.NewDispatcher(time.Second, false)
	results := d.Dispatch(context.Background(), testScenarios()[:1], srv.URL, "")

	found := false
	for _, f := range results[0].Flags {
		if f == "prohibited:rm -rf" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected prohibited flag, got %v", results[0].Flags)
	}
}
