package tracker

import (
	"context"

	"github.com/3leaps/lumitrack/pkg/lumigator"
)

// Source is the backend the tracker observes. *lumigator.Client satisfies it.
type Source interface {
	ListJobs(ctx context.Context) ([]lumigator.Job, error)
	GetJob(ctx context.Context, id string) (lumigator.Job, error)
	GetJobLogs(ctx context.Context, id string) (string, error)
	Annotate(ctx context.Context, req lumigator.AnnotateRequest) (lumigator.Job, error)

	ListExperiments(ctx context.Context) ([]lumigator.Experiment, error)
	GetWorkflow(ctx context.Context, id string) (lumigator.Workflow, error)
	GetWorkflowLogs(ctx context.Context, id string) (string, error)

	ListDatasets(ctx context.Context) ([]lumigator.Dataset, error)
}

var _ Source = (*lumigator.Client)(nil)
