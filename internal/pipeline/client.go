/**
 * MCQ pipeline client
 *
 * Sends the full ordered page batch of a script to the external multi-agent
 * generation service in a single invocation. The pipeline is a black box:
 * its response is wrapped in an OutcomeView adapter and never interpreted
 * beyond the optional capabilities the view exposes.
 */

package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gradeworks/mcq-service/internal/logging"
)

// PageInput is one page of OCR text handed to the pipeline
type PageInput struct {
	PageNumber int             `json:"page_number"`
	OCRJSON    json.RawMessage `json:"ocr_json"`
}

// kickoffRequest mirrors the pipeline's kickoff contract: all pages of a
// script travel together under a single OCR_JSON input.
type kickoffRequest struct {
	Inputs kickoffInputs `json:"inputs"`
}

type kickoffInputs struct {
	OCRJSON []PageInput `json:"OCR_JSON"`
}

// Client invokes the external MCQ generation pipeline over HTTP
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewClient creates a new pipeline client. The client carries no timeout:
// generation time is unbounded and the caller blocks until the pipeline
// returns.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		logger:     logging.NewLogger("Pipeline"),
	}
}

// Kickoff runs the generation pipeline once over the full ordered batch
func (c *Client) Kickoff(ctx context.Context, pages []PageInput) (OutcomeView, error) {
	c.logger.Info("Processing script pages through MCQ pipeline", "pages", len(pages))

	endpoint := fmt.Sprintf("%s/kickoff", c.baseURL)

	reqBody, err := json.Marshal(&kickoffRequest{Inputs: kickoffInputs{OCRJSON: pages}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal kickoff request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create kickoff request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", fmt.Sprintf("mcq-%d", time.Now().UnixNano()))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to MCQ pipeline failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("MCQ pipeline returned error status %d: %s", resp.StatusCode, string(body))
	}

	outcome := adaptResponseBody(body)

	c.logger.Info("Pipeline invocation complete", "responseBytes", len(body))
	return outcome, nil
}

// HealthCheck verifies the pipeline service is available
func (c *Client) HealthCheck(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/health", c.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}

	return nil
}

// adaptResponseBody picks the view adapter for a pipeline response body.
// JSON objects get the dictionary-capable adapter; anything else is treated
// as raw text.
func adaptResponseBody(body []byte) OutcomeView {
	var data map[string]interface{}
	if err := json.Unmarshal(body, &data); err == nil {
		return NewJSONOutcome(data)
	}
	return TextOutcome(string(body))
}
