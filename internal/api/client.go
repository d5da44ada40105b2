package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is the HTTP client the CLI uses to talk to a running daemon.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient builds a client for the daemon at addr (host:port or URL).
// The token may be empty when the daemon runs without authentication.
func NewClient(addr, token string) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		base:  base,
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Status fetches the daemon status document.
func (c *Client) Status(ctx context.Context) (DaemonStatus, error) {
	var out DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &out)
	return out, err
}

// QueueMetrics fetches the queue's rolling statistics.
func (c *Client) QueueMetrics(ctx context.Context) (QueueMetrics, error) {
	var out QueueMetrics
	err := c.do(ctx, http.MethodGet, "/api/queue/metrics", nil, &out)
	return out, err
}

// Jobs lists jobs, optionally filtered by status. With history set the
// listing comes from the persistent journal instead of the live table.
func (c *Client) Jobs(ctx context.Context, history bool, statuses ...string) ([]JobSummary, error) {
	query := url.Values{}
	if history {
		query.Set("history", "1")
	}
	for _, status := range statuses {
		query.Add("status", status)
	}
	path := "/api/jobs"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var out JobListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// Job fetches one job by id.
func (c *Client) Job(ctx context.Context, id string) (JobSummary, error) {
	var out JobResponse
	err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id), nil, &out)
	return out.Job, err
}

// Submit creates a new job.
func (c *Client) Submit(ctx context.Context, req SubmitJobRequest) (string, error) {
	var out SubmitJobResponse
	if err := c.do(ctx, http.MethodPost, "/api/jobs", req, &out); err != nil {
		return "", err
	}
	return out.JobID, nil
}

// PauseJob pauses a running job.
func (c *Client) PauseJob(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(id)+"/pause", nil, nil)
}

// ResumeJob resumes a paused job.
func (c *Client) ResumeJob(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(id)+"/resume", nil, nil)
}

// CancelJob cancels a job.
func (c *Client) CancelJob(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(id)+"/cancel", nil, nil)
}

// ClearJobs removes completed and failed jobs from the live table.
func (c *Client) ClearJobs(ctx context.Context) (int, error) {
	var out ClearResponse
	if err := c.do(ctx, http.MethodPost, "/api/jobs/clear", nil, &out); err != nil {
		return 0, err
	}
	return out.Removed, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon request failed (is tallyd running?): %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr ErrorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon returned %s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
