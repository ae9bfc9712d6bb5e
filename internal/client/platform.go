package client

import (
	"context"
	"net/url"

	"github.com/oremus-labs/ol-ops-console/internal/platform"
)

// ListJobs returns all jobs known to the backend.
func (c *Client) ListJobs(ctx context.Context) ([]platform.Job, error) {
	var resp struct {
		Jobs []platform.Job `json:"jobs"`
	}
	if err := c.GetJSON(ctx, "/jobs", &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// GetJob returns a single job.
func (c *Client) GetJob(ctx context.Context, id string) (*platform.Job, error) {
	var job platform.Job
	if err := c.GetJSON(ctx, "/jobs/"+url.PathEscape(id), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// CreateJob registers a new job definition.
func (c *Client) CreateJob(ctx context.Context, def platform.JobDefinition) (*platform.Job, error) {
	var job platform.Job
	if err := c.PostJSON(ctx, "/jobs", def, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// SetJobEnabled pauses or resumes a job.
func (c *Client) SetJobEnabled(ctx context.Context, id string, enabled bool) (*platform.Job, error) {
	var job platform.Job
	payload := map[string]bool{"enabled": enabled}
	if err := c.PatchJSON(ctx, "/jobs/"+url.PathEscape(id), payload, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListRuns returns the runs of a job, newest first.
func (c *Client) ListRuns(ctx context.Context, jobID string) ([]platform.Run, error) {
	var resp struct {
		Runs []platform.Run `json:"runs"`
	}
	if err := c.GetJSON(ctx, "/jobs/"+url.PathEscape(jobID)+"/runs", &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// ListConnectors returns the messaging connectors.
func (c *Client) ListConnectors(ctx context.Context) ([]platform.Connector, error) {
	var resp struct {
		Connectors []platform.Connector `json:"connectors"`
	}
	if err := c.GetJSON(ctx, "/connectors", &resp); err != nil {
		return nil, err
	}
	return resp.Connectors, nil
}

// ListApprovals returns approvals, optionally filtered by status.
func (c *Client) ListApprovals(ctx context.Context, status string) ([]platform.Approval, error) {
	path := "/approvals"
	if status != "" {
		path += "?" + url.Values{"status": []string{status}}.Encode()
	}
	var resp struct {
		Approvals []platform.Approval `json:"approvals"`
	}
	if err := c.GetJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Approvals, nil
}

// DecideApproval approves or rejects a pending approval.
func (c *Client) DecideApproval(ctx context.Context, id string, approve bool, note string) (*platform.Approval, error) {
	decision := "reject"
	if approve {
		decision = "approve"
	}
	payload := map[string]string{}
	if note != "" {
		payload["note"] = note
	}
	var approval platform.Approval
	if err := c.PostJSON(ctx, "/approvals/"+url.PathEscape(id)+"/"+decision, payload, &approval); err != nil {
		return nil, err
	}
	return &approval, nil
}

// ListAgents returns registered agents.
func (c *Client) ListAgents(ctx context.Context) ([]platform.Agent, error) {
	var resp struct {
		Agents []platform.Agent `json:"agents"`
	}
	if err := c.GetJSON(ctx, "/agents", &resp); err != nil {
		return nil, err
	}
	return resp.Agents, nil
}

// Health reports backend health.
func (c *Client) Health(ctx context.Context) (*platform.Health, error) {
	var health platform.Health
	if err := c.GetJSON(ctx, "/healthz", &health); err != nil {
		return nil, err
	}
	return &health, nil
}
