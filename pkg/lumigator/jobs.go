package lumigator

import (
	"context"
	"net/http"
)

// ListJobs returns all jobs known to the backend.
func (c *Client) ListJobs(ctx context.Context) ([]Job, error) {
	var resp ListResponse[Job]
	if err := c.call(ctx, "ListJobs", http.MethodGet, c.apipath("jobs"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// GetJob returns the current state of one job.
func (c *Client) GetJob(ctx context.Context, id string) (Job, error) {
	var job Job
	if err := c.call(ctx, "GetJob", http.MethodGet, c.apipath("jobs", id), nil, &job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// GetJobLogs returns the complete log text of a job to date.
func (c *Client) GetJobLogs(ctx context.Context, id string) (string, error) {
	var resp LogsResponse
	if err := c.call(ctx, "GetJobLogs", http.MethodGet, c.apipath("jobs", id, "logs"), nil, &resp); err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// Annotate submits a ground-truth generation job and returns it.
func (c *Client) Annotate(ctx context.Context, req AnnotateRequest) (Job, error) {
	var job Job
	// The backend route carries a trailing slash.
	target := c.apipath("jobs", "annotate") + "/"
	if err := c.call(ctx, "Annotate", http.MethodPost, target, req, &job); err != nil {
		return Job{}, err
	}
	return job, nil
}
