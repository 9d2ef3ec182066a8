package lumigator

import (
	"context"
	"net/http"
)

// ListDatasets returns all uploaded datasets.
func (c *Client) ListDatasets(ctx context.Context) ([]Dataset, error) {
	var resp ListResponse[Dataset]
	if err := c.call(ctx, "ListDatasets", http.MethodGet, c.apipath("datasets"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// GetDataset returns one dataset.
func (c *Client) GetDataset(ctx context.Context, id string) (Dataset, error) {
	var ds Dataset
	if err := c.call(ctx, "GetDataset", http.MethodGet, c.apipath("datasets", id), nil, &ds); err != nil {
		return Dataset{}, err
	}
	return ds, nil
}

// DeleteDataset removes a dataset.
func (c *Client) DeleteDataset(ctx context.Context, id string) error {
	return c.call(ctx, "DeleteDataset", http.MethodDelete, c.apipath("datasets", id), nil, nil)
}

// HealthResponse is the backend health payload.
type HealthResponse struct {
	Status         string `json:"status"`
	DeploymentType string `json:"deployment_type,omitempty"`
}

// Health checks backend liveness.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var h HealthResponse
	if err := c.call(ctx, "Health", http.MethodGet, c.apipath("health"), nil, &h); err != nil {
		return HealthResponse{}, err
	}
	return h, nil
}
