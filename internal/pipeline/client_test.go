package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestKickoffSendsBatchAndAdaptsJSON(t *testing.T) {
	var gotPath string
	var gotBody kickoffRequest

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotBody); err != nil {
			t.Errorf("failed to decode kickoff body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"raw": "generated", "token_usage": {"total_tokens": 12}}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL)
	pages := []PageInput{
		{PageNumber: 1, OCRJSON: json.RawMessage(`{"text": "page one"}`)},
		{PageNumber: 2, OCRJSON: json.RawMessage(`{"text": "page two"}`)},
	}

	outcome, err := client.Kickoff(context.Background(), pages)
	if err != nil {
		t.Fatalf("kickoff failed: %v", err)
	}

	if gotPath != "/kickoff" {
		t.Errorf("expected /kickoff, got %s", gotPath)
	}
	if len(gotBody.Inputs.OCRJSON) != 2 {
		t.Fatalf("expected 2 pages in kickoff body, got %d", len(gotBody.Inputs.OCRJSON))
	}
	if gotBody.Inputs.OCRJSON[0].PageNumber != 1 {
		t.Errorf("expected page 1 first, got %d", gotBody.Inputs.OCRJSON[0].PageNumber)
	}

	raw, ok := outcome.RawText()
	if !ok || raw != "generated" {
		t.Errorf("expected raw text view from JSON response, got %q ok=%v", raw, ok)
	}
	usage, ok := outcome.Usage()
	if !ok || usage.TotalTokens != 12 {
		t.Errorf("expected usage from JSON response, got %+v ok=%v", usage, ok)
	}
}

func TestKickoffAdaptsPlainTextResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Q1. A plain text answer"))
	}))
	defer ts.Close()

	client := NewClient(ts.URL)
	outcome, err := client.Kickoff(context.Background(), []PageInput{{PageNumber: 1}})
	if err != nil {
		t.Fatalf("kickoff failed: %v", err)
	}

	raw, ok := outcome.RawText()
	if !ok || raw != "Q1. A plain text answer" {
		t.Errorf("expected plain text adapter, got %q ok=%v", raw, ok)
	}
}

func TestKickoffErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "pipeline exploded", http.StatusInternalServerError)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)
	if _, err := client.Kickoff(context.Background(), []PageInput{{PageNumber: 1}}); err == nil {
		t.Fatal("expected error for non-200 pipeline response")
	}
}

func TestHealthCheck(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("expected /health, got %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("health check failed: %v", err)
	}
}
