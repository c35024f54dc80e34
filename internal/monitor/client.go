package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	httpapi "github.com/fyrsmithlabs/taskforge/internal/http"
	"github.com/fyrsmithlabs/taskforge/internal/pipeline"
)

// Client queries the taskforged HTTP API.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a new daemon API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Status fetches daemon counters.
func (c *Client) Status(ctx context.Context) (httpapi.StatusResponse, error) {
	var out httpapi.StatusResponse
	err := c.get(ctx, "/api/v1/status", &out)
	return out, err
}

// Runs fetches summaries of all persisted runs.
func (c *Client) Runs(ctx context.Context) ([]httpapi.RunSummary, error) {
	var out httpapi.ListRunsResponse
	if err := c.get(ctx, "/api/v1/runs", &out); err != nil {
		return nil, err
	}
	return out.Runs, nil
}

// Run fetches the full state of one run.
func (c *Client) Run(ctx context.Context, runID string) (*pipeline.PipelineRun, error) {
	var out pipeline.PipelineRun
	if err := c.get(ctx, "/api/v1/runs/"+runID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Escalations fetches the IDs of runs awaiting a human decision.
func (c *Client) Escalations(ctx context.Context) ([]string, error) {
	var out httpapi.EscalationsResponse
	if err := c.get(ctx, "/api/v1/escalations", &out); err != nil {
		return nil, err
	}
	return out.Pending, nil
}
