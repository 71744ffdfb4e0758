// Package client handles HTTP communication with the coordinator.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Job terminal statuses reported to the coordinator.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Client is the typed HTTP client for the coordinator API.
type Client struct {
	baseURL    string
	agentID    string
	httpClient *http.Client
}

// NewClient creates a coordinator client. agentID identifies this agent
// instance on every request.
func NewClient(baseURL, agentID string) *Client {
	return &Client{
		baseURL: baseURL,
		agentID: agentID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Job is one build job issued by the coordinator.
type Job struct {
	ID         string `json:"job_id"`
	ZipURL     string `json:"zip_url"`
	BuildMode  string `json:"build_mode"`
	WebhookURL string `json:"webhook_url"`
}

// NextJob asks the coordinator for the next available job. A response
// without job_id or zip_url means no job is available and yields (nil, nil).
func (c *Client) NextJob(ctx context.Context) (*Job, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/jobs/next", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("X-Agent-ID", c.agentID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll failed with status %d", resp.StatusCode)
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if len(bodyBytes) == 0 || string(bodyBytes) == "null" {
		return nil, nil
	}

	var job Job
	if err := json.Unmarshal(bodyBytes, &job); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	// Absence of either field means "no job available".
	if job.ID == "" || job.ZipURL == "" {
		return nil, nil
	}

	if job.BuildMode == "" {
		job.BuildMode = "simulator"
	}

	return &job, nil
}

// Result is the terminal outcome payload for one job. The identical payload
// goes to the coordinator and, when supplied, the job's webhook.
type Result struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	OutputURL string `json:"output_url,omitempty"`
	Error     string `json:"error,omitempty"`
}

// PostResult delivers the job result to the coordinator's result endpoint.
func (c *Client) PostResult(ctx context.Context, res Result) error {
	return c.postJSON(ctx, c.baseURL+"/api/v1/jobs/result", res, true)
}

// PostWebhook delivers the job result to a user-supplied callback endpoint.
func (c *Client) PostWebhook(ctx context.Context, url string, res Result) error {
	return c.postJSON(ctx, url, res, false)
}

func (c *Client) postJSON(ctx context.Context, url string, payload interface{}, withAgentID bool) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if withAgentID {
		httpReq.Header.Set("X-Agent-ID", c.agentID)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	return nil
}
