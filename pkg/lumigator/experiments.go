package lumigator

import (
	"context"
	"net/http"
)

// ListExperiments returns all experiments with their workflows.
func (c *Client) ListExperiments(ctx context.Context) ([]Experiment, error) {
	var resp ListResponse[Experiment]
	if err := c.call(ctx, "ListExperiments", http.MethodGet, c.apipath("experiments"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// GetExperiment returns one experiment with its current workflows.
func (c *Client) GetExperiment(ctx context.Context, id string) (Experiment, error) {
	var exp Experiment
	if err := c.call(ctx, "GetExperiment", http.MethodGet, c.apipath("experiments", id), nil, &exp); err != nil {
		return Experiment{}, err
	}
	return exp, nil
}

// CreateExperiment creates an experiment container.
func (c *Client) CreateExperiment(ctx context.Context, req CreateExperimentRequest) (Experiment, error) {
	var exp Experiment
	if err := c.call(ctx, "CreateExperiment", http.MethodPost, c.apipath("experiments")+"/", req, &exp); err != nil {
		return Experiment{}, err
	}
	return exp, nil
}

// GetWorkflow returns the current state of one workflow.
func (c *Client) GetWorkflow(ctx context.Context, id string) (Workflow, error) {
	var wf Workflow
	if err := c.call(ctx, "GetWorkflow", http.MethodGet, c.apipath("workflows", id), nil, &wf); err != nil {
		return Workflow{}, err
	}
	return wf, nil
}

// GetWorkflowLogs returns the complete log text of a workflow to date.
func (c *Client) GetWorkflowLogs(ctx context.Context, id string) (string, error) {
	var resp LogsResponse
	if err := c.call(ctx, "GetWorkflowLogs", http.MethodGet, c.apipath("workflows", id, "logs"), nil, &resp); err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// CreateWorkflow creates and starts a workflow inside an experiment.
func (c *Client) CreateWorkflow(ctx context.Context, req CreateWorkflowRequest) (Workflow, error) {
	var wf Workflow
	if err := c.call(ctx, "CreateWorkflow", http.MethodPost, c.apipath("workflows")+"/", req, &wf); err != nil {
		return Workflow{}, err
	}
	return wf, nil
}
