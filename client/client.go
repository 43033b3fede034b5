// Package client is the HTTP client for the ledgersync server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/brojonat/ledgersync/service/temporal"
)

// ErrNotFound is returned when the server responds with 404.
var ErrNotFound = errors.New("not found")

// Submission is a journaled transaction submission.
type Submission struct {
	Signature            string    `json:"signature"`
	Payer                string    `json:"payer"`
	SignerKind           string    `json:"signer_kind"`
	Status               string    `json:"status"`
	Error                *string   `json:"error,omitempty"`
	Slot                 int64     `json:"slot"`
	Commitment           string    `json:"commitment"`
	LastValidBlockHeight int64     `json:"last_valid_block_height"`
	WorkflowID           *string   `json:"workflow_id,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// ListOptions filters ListSubmissions. Zero values are omitted.
type ListOptions struct {
	Payer  string
	Status string
	Limit  int
	Offset int
}

// Stats is the per-status submission count.
type Stats struct {
	ByStatus map[string]int64 `json:"by_status"`
	Total    int64            `json:"total"`
}

// StartedWorkflow identifies a workflow run started through the server.
type StartedWorkflow struct {
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
}

// Client is the HTTP client for the ledgersync server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new ledgersync server client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// ListSubmissions returns journaled submissions, newest first.
func (c *Client) ListSubmissions(ctx context.Context, opts ListOptions) ([]*Submission, error) {
	q := url.Values{}
	if opts.Payer != "" {
		q.Set("payer", opts.Payer)
	}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}

	u := c.baseURL + "/api/v1/submissions"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var response struct {
		Submissions []*Submission `json:"submissions"`
	}
	if err := c.do(ctx, "GET", u, nil, http.StatusOK, &response); err != nil {
		return nil, err
	}

	c.logger.Debug("submissions listed", "count", len(response.Submissions))
	return response.Submissions, nil
}

// GetSubmission retrieves one journal entry by signature.
func (c *Client) GetSubmission(ctx context.Context, signature string) (*Submission, error) {
	u := fmt.Sprintf("%s/api/v1/submissions/%s", c.baseURL, url.PathEscape(signature))

	var sub Submission
	if err := c.do(ctx, "GET", u, nil, http.StatusOK, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// Stats returns submission counts per status.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := c.do(ctx, "GET", c.baseURL+"/api/v1/stats", nil, http.StatusOK, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// StartWorkflow starts a SubmitAndAwait workflow. An empty workflowID lets
// the server generate one.
func (c *Client) StartWorkflow(ctx context.Context, workflowID string, input temporal.SubmitAndAwaitInput) (*StartedWorkflow, error) {
	reqBody := struct {
		WorkflowID string `json:"workflow_id,omitempty"`
		temporal.SubmitAndAwaitInput
	}{workflowID, input}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var started StartedWorkflow
	if err := c.do(ctx, "POST", c.baseURL+"/api/v1/workflows", body, http.StatusAccepted, &started); err != nil {
		return nil, err
	}

	c.logger.Debug("workflow started", "workflow_id", started.WorkflowID, "run_id", started.RunID)
	return &started, nil
}

// GetWorkflow reports the status of a workflow, including its result once complete.
func (c *Client) GetWorkflow(ctx context.Context, workflowID string) (*temporal.WorkflowStatus, error) {
	u := fmt.Sprintf("%s/api/v1/workflows/%s", c.baseURL, url.PathEscape(workflowID))

	var status temporal.WorkflowStatus
	if err := c.do(ctx, "GET", u, nil, http.StatusOK, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) do(ctx context.Context, method, u string, body []byte, wantStatus int, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return c.parseErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		errResp.Error = fmt.Sprintf("status %d: %s", resp.StatusCode, string(body))
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, errResp.Error)
	}
	return fmt.Errorf("request failed: %s", errResp.Error)
}
