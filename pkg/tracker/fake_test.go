package tracker

import (
	"context"
	"fmt"
	"sync"

	"github.com/3leaps/lumitrack/pkg/lumigator"
)

// fakeSource is an in-memory Source with per-call counters and hooks.
type fakeSource struct {
	mu          sync.Mutex
	jobs        map[string]lumigator.Job
	jobOrder    []string
	workflows   map[string]lumigator.Workflow
	experiments []lumigator.Experiment
	datasets    []lumigator.Dataset
	logs        map[string]string
	failures    map[string]error
	calls       map[string]int

	// annotateStatus is the status new annotation jobs start in.
	annotateStatus string

	// logHook, when set, runs before a logs fetch returns.
	logHook func(ctx context.Context, id string)

	// jobHook, when set, runs before a job fetch returns.
	jobHook func(id string)
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		jobs:      make(map[string]lumigator.Job),
		workflows: make(map[string]lumigator.Workflow),
		logs:      make(map[string]string),
		failures:  make(map[string]error),
		calls:     make(map[string]int),

		annotateStatus: "created",
	}
}

func (f *fakeSource) addJob(id, name, st string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[id]; !ok {
		f.jobOrder = append(f.jobOrder, id)
	}
	f.jobs[id] = lumigator.Job{ID: id, Name: name, Status: st}
}

func (f *fakeSource) addTypedJob(id, name, jobType, st string) {
	f.addJob(id, name, st)
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[id]
	j.Metadata.JobType = jobType
	f.jobs[id] = j
}

func (f *fakeSource) setJobStatus(id, st string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[id]
	j.Status = st
	f.jobs[id] = j
}

func (f *fakeSource) addExperiment(exp lumigator.Experiment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.experiments = append(f.experiments, exp)
	for _, wf := range exp.Workflows {
		wf.ExperimentID = exp.ID
		f.workflows[wf.ID] = wf
	}
}

func (f *fakeSource) setWorkflowStatus(id, st string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wf := f.workflows[id]
	wf.Status = st
	f.workflows[id] = wf
}

func (f *fakeSource) setLogs(id, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs[id] = text
}

func (f *fakeSource) fail(call string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[call] = err
}

func (f *fakeSource) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[call]
}

func (f *fakeSource) hit(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[call]++
	return f.failures[call]
}

func (f *fakeSource) ListJobs(context.Context) ([]lumigator.Job, error) {
	if err := f.hit("ListJobs"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]lumigator.Job, 0, len(f.jobOrder))
	for _, id := range f.jobOrder {
		out = append(out, f.jobs[id])
	}
	return out, nil
}

func (f *fakeSource) GetJob(_ context.Context, id string) (lumigator.Job, error) {
	if err := f.hit("GetJob " + id); err != nil {
		return lumigator.Job{}, err
	}
	f.mu.Lock()
	hook := f.jobHook
	f.mu.Unlock()
	if hook != nil {
		hook(id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return lumigator.Job{}, fmt.Errorf("job %s: %w", id, lumigator.ErrNotFound)
	}
	return j, nil
}

func (f *fakeSource) GetJobLogs(ctx context.Context, id string) (string, error) {
	return f.getLogs(ctx, "GetJobLogs "+id, id)
}

func (f *fakeSource) GetWorkflowLogs(ctx context.Context, id string) (string, error) {
	return f.getLogs(ctx, "GetWorkflowLogs "+id, id)
}

func (f *fakeSource) getLogs(ctx context.Context, call, id string) (string, error) {
	if err := f.hit(call); err != nil {
		return "", err
	}
	f.mu.Lock()
	hook := f.logHook
	f.mu.Unlock()
	if hook != nil {
		hook(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logs[id], nil
}

func (f *fakeSource) Annotate(_ context.Context, req lumigator.AnnotateRequest) (lumigator.Job, error) {
	if err := f.hit("Annotate"); err != nil {
		return lumigator.Job{}, err
	}
	id := "gt-" + req.Dataset
	f.mu.Lock()
	st := f.annotateStatus
	f.mu.Unlock()
	f.addJob(id, req.Name, st)
	return lumigator.Job{ID: id, Name: req.Name, Status: st}, nil
}

func (f *fakeSource) ListExperiments(context.Context) ([]lumigator.Experiment, error) {
	if err := f.hit("ListExperiments"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]lumigator.Experiment, len(f.experiments))
	for i, exp := range f.experiments {
		wfs := make([]lumigator.Workflow, len(exp.Workflows))
		for j, wf := range exp.Workflows {
			wfs[j] = f.workflows[wf.ID]
		}
		exp.Workflows = wfs
		out[i] = exp
	}
	return out, nil
}

func (f *fakeSource) GetWorkflow(_ context.Context, id string) (lumigator.Workflow, error) {
	if err := f.hit("GetWorkflow " + id); err != nil {
		return lumigator.Workflow{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	wf, ok := f.workflows[id]
	if !ok {
		return lumigator.Workflow{}, fmt.Errorf("workflow %s: %w", id, lumigator.ErrNotFound)
	}
	return wf, nil
}

func (f *fakeSource) ListDatasets(context.Context) ([]lumigator.Dataset, error) {
	if err := f.hit("ListDatasets"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]lumigator.Dataset(nil), f.datasets...), nil
}
