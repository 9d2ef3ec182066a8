package lumigator

// ListResponse is the envelope for collection endpoints.
type ListResponse[T any] struct {
	Total int `json:"total"`
	Items []T `json:"items"`
}

// JobMetadata carries the job type the backend assigned.
type JobMetadata struct {
	JobType string `json:"job_type,omitempty"`
}

// Job types reported in JobMetadata.JobType.
const (
	JobTypeInference  = "inference"
	JobTypeEvaluation = "evaluate"
	JobTypeAnnotation = "annotate"
)

// Job is a single backend job.
//
// Status is kept as the raw wire value; callers parse it with status.Parse so
// that unknown values surface as anomalies.
type Job struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Description  string      `json:"description,omitempty"`
	Status       string      `json:"status"`
	ExperimentID string      `json:"experiment_id,omitempty"`
	Metadata     JobMetadata `json:"metadata,omitempty"`
	CreatedAt    Timestamp   `json:"created_at"`
	UpdatedAt    Timestamp   `json:"updated_at"`
	StartTime    Timestamp   `json:"start_time"`
	EndTime      Timestamp   `json:"end_time"`
}

// Workflow is one child run of an experiment, typically one per model.
type Workflow struct {
	ID           string    `json:"id"`
	ExperimentID string    `json:"experiment_id"`
	Model        string    `json:"model,omitempty"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    Timestamp `json:"created_at"`
	UpdatedAt    Timestamp `json:"updated_at"`
}

// Experiment groups workflows run against the same dataset and config.
type Experiment struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Task        string     `json:"task,omitempty"`
	Dataset     string     `json:"dataset,omitempty"`
	MaxSamples  int        `json:"max_samples,omitempty"`
	CreatedAt   Timestamp  `json:"created_at"`
	UpdatedAt   Timestamp  `json:"updated_at"`
	Workflows   []Workflow `json:"workflows"`
}

// Dataset is an uploaded dataset.
type Dataset struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	Format      string    `json:"format,omitempty"`
	Size        int64     `json:"size,omitempty"`
	GroundTruth bool      `json:"ground_truth"`
	CreatedAt   Timestamp `json:"created_at"`
}

// LogsResponse is the body of the logs endpoints. Logs holds the complete
// text to date, newline separated.
type LogsResponse struct {
	Logs *string `json:"logs"`
}

// Text returns the log text, empty when the backend has none yet.
func (r LogsResponse) Text() string {
	if r.Logs == nil {
		return ""
	}
	return *r.Logs
}

// AnnotateConfig is the job_config block of an annotation request.
type AnnotateConfig struct {
	JobType        string `json:"job_type"`
	Task           string `json:"task,omitempty"`
	StoreToDataset bool   `json:"store_to_dataset,omitempty"`
}

// AnnotateRequest creates a ground-truth generation job for a dataset.
type AnnotateRequest struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Dataset     string         `json:"dataset"`
	MaxSamples  int            `json:"max_samples"`
	Task        string         `json:"task,omitempty"`
	JobConfig   AnnotateConfig `json:"job_config"`
}

// NewAnnotateRequest builds the request the UI sends for ground truth
// generation over the whole dataset.
func NewAnnotateRequest(ds Dataset) AnnotateRequest {
	return AnnotateRequest{
		Name:        "Ground truth for " + ds.Filename,
		Description: "Ground truth generation for dataset " + ds.ID,
		Dataset:     ds.ID,
		MaxSamples:  -1,
		Task:        "summarization",
		JobConfig: AnnotateConfig{
			JobType: JobTypeAnnotation,
		},
	}
}

// CreateExperimentRequest creates an experiment container.
type CreateExperimentRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Task        string `json:"task,omitempty"`
	Dataset     string `json:"dataset,omitempty"`
	MaxSamples  int    `json:"max_samples,omitempty"`
}

// CreateWorkflowRequest creates a workflow inside an experiment.
type CreateWorkflowRequest struct {
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	ExperimentID string `json:"experiment_id"`
	Model        string `json:"model"`
	Provider     string `json:"provider"`
	BaseURL      string `json:"base_url,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	BatchSize    int    `json:"batch_size,omitempty"`
}
