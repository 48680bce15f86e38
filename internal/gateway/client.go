/**
 * Remote Data Gateway - sole conduit to the external record store
 *
 * Wraps three remote resources: the OCR read endpoint and CompareText
 * create/update. Translates transport and HTTP failures into the service's
 * typed errors. One attempt per call, no retries or backoff; connection
 * reuse is whatever net/http provides by default.
 */

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	svcerrors "github.com/gradeworks/mcq-service/internal/errors"
	"github.com/gradeworks/mcq-service/internal/logging"
)

// Client handles communication with the remote record store
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewClient creates a new record-store client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		logger:     logging.NewLogger("Gateway"),
	}
}

// BaseURL returns the configured remote base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// FetchOCRData fetches all OCR page records for a script. scriptID 0 fetches
// every record. An empty result is valid; the caller decides if that is an
// error.
func (c *Client) FetchOCRData(ctx context.Context, scriptID int) ([]ScriptRecord, error) {
	endpoint := fmt.Sprintf("%s/ocr/", c.baseURL)
	if scriptID > 0 {
		endpoint += "?script_id=" + strconv.Itoa(scriptID)
	}

	body, err := c.get(ctx, "fetch", scriptID, endpoint)
	if err != nil {
		return nil, err
	}

	var records []ScriptRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, svcerrors.NewDecodeError("fetch", scriptID, err)
	}

	c.logger.Info("Fetched OCR data", "scriptId", scriptID, "records", len(records))
	return records, nil
}

// FindExistingRecord looks up the CompareText record for a script. Returns
// (nil, nil) when none exists. Lookup failures are NOT conflated with "not
// found": they come back as a typed LOOKUP_FAILED error so the caller can
// decide whether to abort or fall back to create.
func (c *Client) FindExistingRecord(ctx context.Context, scriptID int) (*CompareTextRecord, error) {
	endpoint := fmt.Sprintf("%s/compare-text/?script_id=%d", c.baseURL, scriptID)

	body, err := c.get(ctx, "lookup", scriptID, endpoint)
	if err != nil {
		return nil, svcerrors.NewLookupError(scriptID, err)
	}

	var records []CompareTextRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, svcerrors.NewLookupError(scriptID, err)
	}

	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// CreateRecord creates a new CompareText record for a script
func (c *Client) CreateRecord(ctx context.Context, payload *CreateComparePayload) (*CompareTextRecord, error) {
	c.logger.Info("Saving MCQ result to database", "scriptId", payload.ScriptID)

	record, err := c.send(ctx, "persist", payload.ScriptID, http.MethodPost, payload)
	if err != nil {
		return nil, err
	}

	c.logger.Info("Successfully saved to database", "compareTextId", record.CompareTextID)
	return record, nil
}

// UpdateRecord updates an existing CompareText record with a new MCQ payload.
// All other fields of the record are left untouched.
func (c *Client) UpdateRecord(ctx context.Context, compareTextID int, mcq interface{}) (*CompareTextRecord, error) {
	c.logger.Info("Updating existing CompareText record", "compareTextId", compareTextID)

	payload := &updateComparePayload{CompareTextID: compareTextID, MCQ: mcq}
	record, err := c.send(ctx, "persist", 0, http.MethodPut, payload)
	if err != nil {
		return nil, err
	}

	c.logger.Info("Successfully updated CompareText record", "compareTextId", compareTextID)
	return record, nil
}

// HealthCheck verifies the remote store's base OCR resource is reachable.
// The caller supplies the probe deadline via ctx.
func (c *Client) HealthCheck(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/ocr/", c.baseURL)

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

// get issues a GET and returns the body, mapping failures to typed errors
func (c *Client) get(ctx context.Context, stage string, scriptID int, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, svcerrors.NewConnectionError(stage, scriptID, c.baseURL, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, svcerrors.NewConnectionError(stage, scriptID, c.baseURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, svcerrors.NewDecodeError(stage, scriptID, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, svcerrors.NewHTTPError(stage, scriptID, resp.StatusCode, string(body))
	}

	return body, nil
}

// send issues a write (POST/PUT) with a JSON body and decodes the returned
// CompareText record
func (c *Client) send(ctx context.Context, stage string, scriptID int, method string, payload interface{}) (*CompareTextRecord, error) {
	endpoint := fmt.Sprintf("%s/compare-text/", c.baseURL)

	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, svcerrors.NewDecodeError(stage, scriptID, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, svcerrors.NewConnectionError(stage, scriptID, c.baseURL, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, svcerrors.NewConnectionError(stage, scriptID, c.baseURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, svcerrors.NewDecodeError(stage, scriptID, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, svcerrors.NewHTTPError(stage, scriptID, resp.StatusCode, string(body))
	}

	var record CompareTextRecord
	if err := json.Unmarshal(body, &record); err != nil {
		return nil, svcerrors.NewDecodeError(stage, scriptID, err)
	}

	return &record, nil
}
