// Package tracker follows the lifecycle of backend jobs and workflows.
//
// A Tracker keeps local copies of the job, experiment and dataset
// collections, refreshes their statuses on demand or in a bounded
// concurrent sweep, streams the logs of the single selected entity while it
// runs, and follows freshly launched ground-truth jobs until they complete.
//
// Tracker state is guarded by a mutex that is never held across network
// calls or across poller.Stop.
package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/3leaps/lumitrack/pkg/logbuf"
	"github.com/3leaps/lumitrack/pkg/lumigator"
	"github.com/3leaps/lumitrack/pkg/poller"
	"github.com/3leaps/lumitrack/pkg/status"
)

// DefaultAnnotationGlob matches the names of ground-truth generation jobs.
const DefaultAnnotationGlob = "Ground truth for *"

// Config configures a Tracker.
type Config struct {
	// Logger receives background fetch failures. Default: no-op logger.
	Logger *zap.Logger

	// Clock drives every poller the tracker owns. Default: the real clock.
	Clock clock.WithTicker

	// LogInterval is the log polling period for a running selection.
	// Default: 3s
	LogInterval time.Duration

	// StatusInterval is the status polling period for launched jobs.
	// Default: 3s
	StatusInterval time.Duration

	// Workers bounds concurrent fetches in UpdateStatusForIncomplete.
	// Default: 4
	Workers int

	// MaxBackoff and StallAfter are passed to every poller.
	// Zero values keep a fixed cadence and disable stall detection.
	MaxBackoff time.Duration
	StallAfter int

	// JobGlob filters LoadJobs by job name (doublestar syntax).
	// Empty keeps every job.
	JobGlob string

	// JobType filters LoadJobs by backend job type. Empty keeps every type.
	JobType string

	// LogLimit caps the log buffer. Zero is unbounded.
	LogLimit int

	// LogSink, when set, receives the lines appended to the log buffer.
	LogSink func(ref EntityRef, lines []string)

	// StatusSink, when set, receives every local status change.
	StatusSink func(ref EntityRef, from, to status.Status)

	// OnCompleted, when set, is called once a launched job completes.
	OnCompleted func(job Entity)
}

// DefaultConfig returns the default tracker configuration.
func DefaultConfig() Config {
	return Config{
		LogInterval:    poller.DefaultPeriod,
		StatusInterval: poller.DefaultPeriod,
		Workers:        4,
		JobGlob:        DefaultAnnotationGlob,
	}
}

// Tracker is safe for concurrent use.
type Tracker struct {
	src    Source
	cfg    Config
	logger *zap.Logger

	// selMu serialises Select and ClearSelection.
	selMu sync.Mutex

	mu          sync.Mutex
	jobs        []Entity
	experiments []Experiment
	datasets    []lumigator.Dataset
	selection   EntityRef
	generation  uint64
	launches    map[string]*poller.Poller

	logs      *logbuf.Buffer
	logPoller *poller.Poller
}

// New creates a tracker over src.
func New(src Source, cfg Config) *Tracker {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.LogInterval <= 0 {
		cfg.LogInterval = poller.DefaultPeriod
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = poller.DefaultPeriod
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}

	t := &Tracker{
		src:      src,
		cfg:      cfg,
		logger:   cfg.Logger,
		launches: make(map[string]*poller.Poller),
		logs:     logbuf.New(cfg.LogLimit),
	}
	t.logPoller = t.newPoller("logs")
	return t
}

func (t *Tracker) newPoller(name string) *poller.Poller {
	logger := t.logger.With(zap.String("poller", name))
	return poller.New(poller.Config{
		Name:       name,
		Logger:     logger,
		Clock:      t.cfg.Clock,
		MaxBackoff: t.cfg.MaxBackoff,
		StallAfter: t.cfg.StallAfter,
		OnStall: func(err error) {
			logger.Error("backend unreachable, polling stalled", zap.Error(err))
		},
		OnRecover: func() {
			logger.Info("backend reachable again, polling recovered")
		},
	})
}

// LoadJobs replaces the local job collection with the backend's.
func (t *Tracker) LoadJobs(ctx context.Context) ([]Entity, error) {
	raw, err := t.src.ListJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}

	jobs := make([]Entity, 0, len(raw))
	for _, j := range raw {
		if t.cfg.JobType != "" && j.Metadata.JobType != t.cfg.JobType {
			continue
		}
		if t.cfg.JobGlob != "" {
			ok, err := doublestar.Match(t.cfg.JobGlob, j.Name)
			if err != nil {
				return nil, fmt.Errorf("load jobs: invalid job glob %q: %w", t.cfg.JobGlob, err)
			}
			if !ok {
				continue
			}
		}
		jobs = append(jobs, fromJob(j, t.parseStatus(JobRef(j.ID), j.Status)))
	}

	t.mu.Lock()
	t.jobs = jobs
	t.mu.Unlock()
	return cloneEntities(jobs), nil
}

// TrackJob fetches one job and inserts or replaces it in the collection.
func (t *Tracker) TrackJob(ctx context.Context, id string) (Entity, error) {
	j, err := t.src.GetJob(ctx, id)
	if err != nil {
		return Entity{}, fmt.Errorf("track job %s: %w", id, err)
	}
	st, err := status.Parse(j.Status)
	if err != nil {
		return Entity{}, fmt.Errorf("track job %s: %w", id, err)
	}
	e := fromJob(j, st)
	t.mu.Lock()
	t.upsertJobLocked(e)
	t.mu.Unlock()
	return e, nil
}

// LoadExperiments replaces the local experiment collection with the backend's.
func (t *Tracker) LoadExperiments(ctx context.Context) ([]Experiment, error) {
	raw, err := t.src.ListExperiments(ctx)
	if err != nil {
		return nil, fmt.Errorf("load experiments: %w", err)
	}

	exps := make([]Experiment, 0, len(raw))
	for _, x := range raw {
		exp := Experiment{
			ID:          x.ID,
			Name:        x.Name,
			Description: x.Description,
			Dataset:     x.Dataset,
			CreatedAt:   x.CreatedAt.Time,
			Workflows:   make([]Entity, 0, len(x.Workflows)),
		}
		for _, w := range x.Workflows {
			if w.ExperimentID == "" {
				w.ExperimentID = x.ID
			}
			exp.Workflows = append(exp.Workflows, fromWorkflow(w, t.parseStatus(WorkflowRef(w.ID), w.Status)))
		}
		if _, err := status.AggregateStrict(workflowStatuses(exp)); err != nil {
			t.logger.Warn("experiment has inconsistent workflow statuses",
				zap.String("experiment_id", exp.ID), zap.Error(err))
		}
		exps = append(exps, exp)
	}

	t.mu.Lock()
	t.experiments = exps
	t.mu.Unlock()
	return cloneExperiments(exps), nil
}

// LoadDatasets replaces the local dataset collection with the backend's.
func (t *Tracker) LoadDatasets(ctx context.Context) ([]lumigator.Dataset, error) {
	raw, err := t.src.ListDatasets(ctx)
	if err != nil {
		return nil, fmt.Errorf("load datasets: %w", err)
	}
	t.mu.Lock()
	t.datasets = raw
	t.mu.Unlock()
	return append([]lumigator.Dataset(nil), raw...), nil
}

// parseStatus parses a collection status. Unknown values are logged and
// kept verbatim so they stay visible and are never mistaken for completed.
func (t *Tracker) parseStatus(ref EntityRef, raw string) status.Status {
	st, err := status.Parse(raw)
	if err != nil {
		t.logger.Warn("unrecognised status from backend",
			zap.String("entity", ref.String()), zap.String("status", raw))
		return status.Status(raw)
	}
	return st
}

// StopAll stops every poller the tracker owns and waits for them.
func (t *Tracker) StopAll() {
	t.logPoller.Stop()

	t.mu.Lock()
	pollers := make([]*poller.Poller, 0, len(t.launches))
	for _, p := range t.launches {
		pollers = append(pollers, p)
	}
	t.mu.Unlock()

	for _, p := range pollers {
		p.Stop()
	}
}

// Jobs returns a copy of the job collection.
func (t *Tracker) Jobs() []Entity {
	t.mu.Lock()
	defer t.mu.Unlock()
	return cloneEntities(t.jobs)
}

// Job returns one job from the collection.
func (t *Tracker) Job(id string) (Entity, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e := t.findLocked(JobRef(id)); e != nil {
		return cloneEntity(*e), true
	}
	return Entity{}, false
}

// Experiments returns a copy of the experiment collection.
func (t *Tracker) Experiments() []Experiment {
	t.mu.Lock()
	defer t.mu.Unlock()
	return cloneExperiments(t.experiments)
}

// Experiment returns one experiment from the collection.
func (t *Tracker) Experiment(id string) (Experiment, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.experiments {
		if e.ID == id {
			return cloneExperiments([]Experiment{e})[0], true
		}
	}
	return Experiment{}, false
}

// Datasets returns a copy of the dataset collection.
func (t *Tracker) Datasets() []lumigator.Dataset {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]lumigator.Dataset(nil), t.datasets...)
}

// Entity returns the job or workflow ref points to.
func (t *Tracker) Entity(ref EntityRef) (Entity, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e := t.findLocked(ref); e != nil {
		return cloneEntity(*e), true
	}
	return Entity{}, false
}

// HasRunningInferenceJob reports whether a tracked inference job is running.
// Jobs of other types, annotation included, do not count.
func (t *Tracker) HasRunningInferenceJob() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, j := range t.jobs {
		if j.JobType == lumigator.JobTypeInference && j.Status == status.Running {
			return true
		}
	}
	return false
}

// PollingFor reports whether a status poller is active for a launched job.
// Pollers are dropped once their job completes.
func (t *Tracker) PollingFor(id string) bool {
	t.mu.Lock()
	p, ok := t.launches[id]
	t.mu.Unlock()
	return ok && p.Active()
}

// LogPolling reports whether the selection's log poller is active.
func (t *Tracker) LogPolling() bool {
	return t.logPoller.Active()
}

// Logs returns a copy of the log buffer.
func (t *Tracker) Logs() []string {
	return t.logs.Lines()
}

// findLocked returns a pointer into the collections. Callers hold t.mu.
func (t *Tracker) findLocked(ref EntityRef) *Entity {
	switch ref.Kind {
	case KindJob:
		for i := range t.jobs {
			if t.jobs[i].ID == ref.ID {
				return &t.jobs[i]
			}
		}
	case KindWorkflow:
		for i := range t.experiments {
			wfs := t.experiments[i].Workflows
			for j := range wfs {
				if wfs[j].ID == ref.ID {
					return &wfs[j]
				}
			}
		}
	}
	return nil
}

func (t *Tracker) upsertJobLocked(e Entity) {
	for i := range t.jobs {
		if t.jobs[i].ID == e.ID {
			t.jobs[i] = e
			return
		}
	}
	t.jobs = append(t.jobs, e)
}

func workflowStatuses(e Experiment) []status.Status {
	out := make([]status.Status, len(e.Workflows))
	for i, wf := range e.Workflows {
		out[i] = wf.Status
	}
	return out
}

func cloneEntity(e Entity) Entity {
	if e.EndTime != nil {
		end := *e.EndTime
		e.EndTime = &end
	}
	return e
}

func cloneEntities(in []Entity) []Entity {
	out := make([]Entity, len(in))
	for i, e := range in {
		out[i] = cloneEntity(e)
	}
	return out
}

func cloneExperiments(in []Experiment) []Experiment {
	out := make([]Experiment, len(in))
	for i, e := range in {
		e.Workflows = cloneEntities(e.Workflows)
		out[i] = e
	}
	return out
}
