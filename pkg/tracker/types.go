package tracker

import (
	"errors"
	"time"

	"github.com/3leaps/lumitrack/pkg/lumigator"
	"github.com/3leaps/lumitrack/pkg/status"
)

// ErrUnknownKind is returned for an EntityRef whose Kind is not job or workflow.
var ErrUnknownKind = errors.New("unknown entity kind")

// ErrNoSelection is returned when an operation needs a selection and none is set.
var ErrNoSelection = errors.New("no entity selected")

// Kind distinguishes the two pollable entity kinds.
type Kind string

const (
	KindJob      Kind = "job"
	KindWorkflow Kind = "workflow"
)

// EntityRef identifies a job or workflow.
type EntityRef struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

// JobRef refers to a job.
func JobRef(id string) EntityRef { return EntityRef{Kind: KindJob, ID: id} }

// WorkflowRef refers to a workflow.
func WorkflowRef(id string) EntityRef { return EntityRef{Kind: KindWorkflow, ID: id} }

// IsZero reports whether r refers to nothing.
func (r EntityRef) IsZero() bool { return r.ID == "" }

func (r EntityRef) String() string {
	if r.IsZero() {
		return ""
	}
	return string(r.Kind) + "/" + r.ID
}

// Entity is one asynchronous backend task as tracked locally.
type Entity struct {
	ID           string        `json:"id" yaml:"id"`
	Kind         Kind          `json:"kind" yaml:"kind"`
	Name         string        `json:"name" yaml:"name"`
	Description  string        `json:"description,omitempty" yaml:"description,omitempty"`
	Status       status.Status `json:"status" yaml:"status"`
	StartTime    time.Time     `json:"start_time" yaml:"start_time"`
	EndTime      *time.Time    `json:"end_time,omitempty" yaml:"end_time,omitempty"`
	ExperimentID string        `json:"experiment_id,omitempty" yaml:"experiment_id,omitempty"`
	DatasetID    string        `json:"dataset_id,omitempty" yaml:"dataset_id,omitempty"`
	JobType      string        `json:"job_type,omitempty" yaml:"job_type,omitempty"`
}

// Ref returns the reference for e.
func (e Entity) Ref() EntityRef { return EntityRef{Kind: e.Kind, ID: e.ID} }

// Experiment groups workflows. Its status is always derived.
type Experiment struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Dataset     string    `json:"dataset,omitempty" yaml:"dataset,omitempty"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	Workflows   []Entity  `json:"workflows" yaml:"workflows"`
}

// Status aggregates the workflow statuses.
func (e Experiment) Status() status.Status {
	return status.Aggregate(workflowStatuses(e))
}

// SelectionState is the state of the log observation.
type SelectionState string

const (
	StateIdle              SelectionState = "idle"
	StateObservingTerminal SelectionState = "observing-terminal"
	StateObservingRunning  SelectionState = "observing-running"
)

// SweepResult summarises one UpdateStatusForIncomplete call.
type SweepResult struct {
	// Checked is the number of incomplete entities fetched.
	Checked int `json:"checked"`

	// Changed is the number whose status differed from the local one.
	Changed int `json:"changed"`

	// Failed is the number of fetches that failed.
	Failed int `json:"failed"`

	// Errors holds the failure per entity, keyed by EntityRef.String().
	Errors map[string]error `json:"-"`

	Duration time.Duration `json:"duration"`
}

func fromJob(j lumigator.Job, st status.Status) Entity {
	e := Entity{
		ID:           j.ID,
		Kind:         KindJob,
		Name:         j.Name,
		Description:  j.Description,
		Status:       st,
		StartTime:    j.StartTime.Time,
		ExperimentID: j.ExperimentID,
		JobType:      j.Metadata.JobType,
	}
	if e.StartTime.IsZero() {
		e.StartTime = j.CreatedAt.Time
	}
	if !j.EndTime.IsZero() {
		end := j.EndTime.Time
		e.EndTime = &end
	}
	return e
}

func fromWorkflow(w lumigator.Workflow, st status.Status) Entity {
	e := Entity{
		ID:           w.ID,
		Kind:         KindWorkflow,
		Name:         w.Name,
		Description:  w.Description,
		Status:       st,
		StartTime:    w.CreatedAt.Time,
		ExperimentID: w.ExperimentID,
	}
	if st.IsCompleted() && !w.UpdatedAt.IsZero() {
		end := w.UpdatedAt.Time
		e.EndTime = &end
	}
	return e
}
