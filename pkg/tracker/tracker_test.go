package tracker

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/3leaps/lumitrack/internal/testutil/fakeapi"
	"github.com/3leaps/lumitrack/pkg/lumigator"
	"github.com/3leaps/lumitrack/pkg/status"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func newTestTracker(t *testing.T, src Source, mutate ...func(*Config)) (*Tracker, *testingclock.FakeClock) {
	t.Helper()
	fc := testingclock.NewFakeClock(time.Now())
	cfg := DefaultConfig()
	cfg.Clock = fc
	cfg.JobGlob = ""
	for _, m := range mutate {
		m(&cfg)
	}
	tr := New(src, cfg)
	t.Cleanup(tr.StopAll)
	return tr, fc
}

func TestLoadJobs(t *testing.T) {
	src := newFakeSource()
	src.addJob("j1", "Ground truth for dialogsum.csv", "running")
	src.addJob("j2", "nightly eval", "succeeded")
	src.addJob("j3", "Ground truth for thunderbird.csv", "failed")

	t.Run("glob filter", func(t *testing.T) {
		tr, _ := newTestTracker(t, src, func(c *Config) { c.JobGlob = DefaultAnnotationGlob })
		jobs, err := tr.LoadJobs(context.Background())
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, "j1", jobs[0].ID)
		assert.Equal(t, status.Running, jobs[0].Status)
		assert.Equal(t, "j3", jobs[1].ID)
	})

	t.Run("no filter", func(t *testing.T) {
		tr, _ := newTestTracker(t, src)
		jobs, err := tr.LoadJobs(context.Background())
		require.NoError(t, err)
		assert.Len(t, jobs, 3)
		assert.Len(t, tr.Jobs(), 3)
	})

	t.Run("invalid glob", func(t *testing.T) {
		tr, _ := newTestTracker(t, src, func(c *Config) { c.JobGlob = "[" })
		_, err := tr.LoadJobs(context.Background())
		assert.Error(t, err)
	})

	t.Run("superseded wholesale", func(t *testing.T) {
		tr, _ := newTestTracker(t, src)
		_, err := tr.LoadJobs(context.Background())
		require.NoError(t, err)

		other := newFakeSource()
		other.addJob("j9", "other", "pending")
		tr.src = other
		_, err = tr.LoadJobs(context.Background())
		require.NoError(t, err)
		require.Len(t, tr.Jobs(), 1)
		assert.Equal(t, "j9", tr.Jobs()[0].ID)
	})

	t.Run("fetch failure", func(t *testing.T) {
		failing := newFakeSource()
		failing.fail("ListJobs", lumigator.ErrServerError)
		tr, _ := newTestTracker(t, failing)
		_, err := tr.LoadJobs(context.Background())
		assert.ErrorIs(t, err, lumigator.ErrServerError)
	})
}

func TestLoadJobs_UnknownStatusKeptVerbatim(t *testing.T) {
	src := newFakeSource()
	src.addJob("j1", "x", "exploded")
	tr, _ := newTestTracker(t, src)

	jobs, err := tr.LoadJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, status.Status("exploded"), jobs[0].Status)
	assert.False(t, jobs[0].Status.IsCompleted())
	assert.Equal(t, []EntityRef{JobRef("j1")}, tr.Incomplete())
}

func TestLoadExperiments_StatusIsAggregated(t *testing.T) {
	src := newFakeSource()
	src.addExperiment(lumigator.Experiment{
		ID: "e1",
		Workflows: []lumigator.Workflow{
			{ID: "w1", Status: "succeeded"},
			{ID: "w2", Status: "failed"},
		},
	})
	tr, _ := newTestTracker(t, src)

	_, err := tr.LoadExperiments(context.Background())
	require.NoError(t, err)
	exp, ok := tr.Experiment("e1")
	require.True(t, ok)
	assert.Equal(t, status.Incomplete, exp.Status())
	assert.Equal(t, "e1", exp.Workflows[0].ExperimentID)

	src.setWorkflowStatus("w2", "running")
	_, err = tr.UpdateStatus(context.Background(), WorkflowRef("w2"))
	require.NoError(t, err)
	exp, _ = tr.Experiment("e1")
	assert.Equal(t, status.Running, exp.Status())
}

func TestLoadDatasets(t *testing.T) {
	src := newFakeSource()
	src.datasets = []lumigator.Dataset{{ID: "d1", Filename: "a.csv"}}
	tr, _ := newTestTracker(t, src)

	ds, err := tr.LoadDatasets(context.Background())
	require.NoError(t, err)
	assert.Len(t, ds, 1)
	assert.Equal(t, "a.csv", tr.Datasets()[0].Filename)
}

func TestUpdateStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("applies in place", func(t *testing.T) {
		src := newFakeSource()
		src.addJob("j1", "x", "running")
		var changes []string
		tr, _ := newTestTracker(t, src, func(c *Config) {
			c.StatusSink = func(ref EntityRef, from, to status.Status) {
				changes = append(changes, ref.String()+":"+from.String()+">"+to.String())
			}
		})
		_, err := tr.LoadJobs(ctx)
		require.NoError(t, err)

		src.mu.Lock()
		j := src.jobs["j1"]
		j.Status = "succeeded"
		j.EndTime = lumigator.Timestamp{Time: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)}
		src.jobs["j1"] = j
		src.mu.Unlock()

		st, err := tr.UpdateStatus(ctx, JobRef("j1"))
		require.NoError(t, err)
		assert.Equal(t, status.Succeeded, st)

		job, _ := tr.Job("j1")
		assert.Equal(t, status.Succeeded, job.Status)
		require.NotNil(t, job.EndTime)
		assert.Equal(t, 2025, job.EndTime.Year())
		assert.Equal(t, []string{"job/j1:running>succeeded"}, changes)
	})

	t.Run("absent entity is a no-op", func(t *testing.T) {
		src := newFakeSource()
		src.addJob("j1", "x", "running")
		tr, _ := newTestTracker(t, src)

		st, err := tr.UpdateStatus(ctx, JobRef("j1"))
		require.NoError(t, err)
		assert.Equal(t, status.Running, st)
		assert.Empty(t, tr.Jobs())
	})

	t.Run("unknown status is an error", func(t *testing.T) {
		src := newFakeSource()
		src.addJob("j1", "x", "running")
		tr, _ := newTestTracker(t, src)
		_, err := tr.LoadJobs(ctx)
		require.NoError(t, err)

		src.setJobStatus("j1", "bogus")
		_, err = tr.UpdateStatus(ctx, JobRef("j1"))
		assert.ErrorIs(t, err, status.ErrUnknownStatus)
		job, _ := tr.Job("j1")
		assert.Equal(t, status.Running, job.Status)
	})

	t.Run("unknown kind", func(t *testing.T) {
		tr, _ := newTestTracker(t, newFakeSource())
		_, err := tr.UpdateStatus(ctx, EntityRef{Kind: "dataset", ID: "d1"})
		assert.ErrorIs(t, err, ErrUnknownKind)
	})
}

func TestUpdateStatusForIncomplete_Isolation(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	src.addJob("j1", "a", "running")
	src.addJob("j2", "b", "running")
	src.addJob("j3", "c", "pending")
	src.addJob("j4", "d", "succeeded")
	src.addExperiment(lumigator.Experiment{ID: "e1", Workflows: []lumigator.Workflow{{ID: "w1", Status: "running"}}})
	tr, _ := newTestTracker(t, src, func(c *Config) { c.Workers = 2 })
	_, err := tr.LoadJobs(ctx)
	require.NoError(t, err)
	_, err = tr.LoadExperiments(ctx)
	require.NoError(t, err)

	src.setJobStatus("j1", "succeeded")
	src.fail("GetJob j2", errors.New("connection reset"))
	src.setWorkflowStatus("w1", "failed")

	res := tr.UpdateStatusForIncomplete(ctx)
	assert.Equal(t, 4, res.Checked)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 2, res.Changed)
	assert.Contains(t, res.Errors, "job/j2")

	j1, _ := tr.Job("j1")
	assert.Equal(t, status.Succeeded, j1.Status)
	j2, _ := tr.Job("j2")
	assert.Equal(t, status.Running, j2.Status)
	j3, _ := tr.Job("j3")
	assert.Equal(t, status.Pending, j3.Status)
	exp, _ := tr.Experiment("e1")
	assert.Equal(t, status.Failed, exp.Status())

	assert.Zero(t, src.count("GetJob j4"), "completed jobs are not refetched")
}

func TestUpdateStatusForIncomplete_ConcurrentWithItself(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	for _, id := range []string{"j1", "j2", "j3", "j4", "j5"} {
		src.addJob(id, id, "running")
	}
	tr, _ := newTestTracker(t, src)
	_, err := tr.LoadJobs(ctx)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := tr.UpdateStatusForIncomplete(ctx)
			assert.Zero(t, res.Failed)
		}()
	}
	wg.Wait()
	assert.Equal(t, 4, src.count("GetJob j3"))
}

func TestSelect_TerminalFetchesOnce(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	src.addJob("j1", "x", "succeeded")
	src.setLogs("j1", "start\ndone\n")
	tr, _ := newTestTracker(t, src)
	_, err := tr.LoadJobs(ctx)
	require.NoError(t, err)

	require.NoError(t, tr.Select(ctx, JobRef("j1")))
	assert.Equal(t, []string{"start", "done"}, tr.Logs())
	assert.False(t, tr.LogPolling())
	assert.Equal(t, StateObservingTerminal, tr.SelectionState())
	assert.Equal(t, 1, src.count("GetJobLogs j1"))
}

func TestSelect_RunningPollsUntilStatusLeavesRunning(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	src.addJob("j1", "x", "running")
	src.setLogs("j1", "boot\n")
	var streamed []string
	var mu sync.Mutex
	tr, fc := newTestTracker(t, src, func(c *Config) {
		c.LogSink = func(_ EntityRef, lines []string) {
			mu.Lock()
			defer mu.Unlock()
			streamed = append(streamed, lines...)
		}
	})
	_, err := tr.LoadJobs(ctx)
	require.NoError(t, err)

	require.NoError(t, tr.Select(ctx, JobRef("j1")))
	assert.True(t, tr.LogPolling())
	assert.Equal(t, StateObservingRunning, tr.SelectionState())
	// Initial fetch plus the poller's immediate invocation.
	require.Eventually(t, func() bool { return src.count("GetJobLogs j1") == 2 }, waitFor, tick)

	src.setLogs("j1", "boot\nstep 1\n")
	fc.Step(tr.cfg.LogInterval)
	require.Eventually(t, func() bool { return src.count("GetJobLogs j1") == 3 }, waitFor, tick)
	require.Eventually(t, func() bool { return len(tr.Logs()) == 2 }, waitFor, tick)
	assert.Equal(t, []string{"boot", "step 1"}, tr.Logs())

	// Status is refreshed externally; the next tick notices and stops.
	src.setJobStatus("j1", "succeeded")
	_, err = tr.UpdateStatus(ctx, JobRef("j1"))
	require.NoError(t, err)
	fc.Step(tr.cfg.LogInterval)
	require.Eventually(t, func() bool { return !tr.LogPolling() }, waitFor, tick)
	assert.Equal(t, StateObservingTerminal, tr.SelectionState())

	mu.Lock()
	assert.Equal(t, []string{"boot", "step 1"}, streamed)
	mu.Unlock()
}

func TestSelect_SwitchResetsLogsBeforeFetch(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	src.addJob("a", "a", "succeeded")
	src.addJob("b", "b", "succeeded")
	src.setLogs("a", "a1\na2")
	src.setLogs("b", "b1")
	tr, _ := newTestTracker(t, src)
	_, err := tr.LoadJobs(ctx)
	require.NoError(t, err)

	require.NoError(t, tr.Select(ctx, JobRef("a")))
	require.Len(t, tr.Logs(), 2)

	entered := make(chan struct{})
	release := make(chan struct{})
	src.mu.Lock()
	src.logHook = func(_ context.Context, id string) {
		if id == "b" {
			close(entered)
			<-release
		}
	}
	src.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- tr.Select(ctx, JobRef("b")) }()

	<-entered
	assert.Empty(t, tr.Logs(), "buffer must be empty before b's first fetch resolves")
	assert.Equal(t, JobRef("b"), tr.Selection())

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"b1"}, tr.Logs())
}

func TestSelect_StaleFetchIsDiscarded(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	src.addJob("a", "a", "succeeded")
	src.setLogs("a", "old line")
	tr, _ := newTestTracker(t, src)

	tr.mu.Lock()
	gen := tr.generation
	tr.mu.Unlock()
	tr.ClearSelection()

	current, err := tr.fetchLogs(ctx, JobRef("a"), gen)
	require.NoError(t, err)
	assert.False(t, current)
	assert.Empty(t, tr.Logs())
}

func TestSelect_FetchErrorStillSelects(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	src.addJob("j1", "x", "running")
	src.fail("GetJobLogs j1", errors.New("timeout"))
	tr, _ := newTestTracker(t, src)
	_, err := tr.LoadJobs(ctx)
	require.NoError(t, err)

	err = tr.Select(ctx, JobRef("j1"))
	require.Error(t, err)
	assert.Equal(t, JobRef("j1"), tr.Selection())
	assert.True(t, tr.LogPolling())
}

func TestSelect_Workflow(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	src.addExperiment(lumigator.Experiment{ID: "e1", Workflows: []lumigator.Workflow{{ID: "w1", Status: "failed"}}})
	src.setLogs("w1", "oom\n")
	tr, _ := newTestTracker(t, src)
	_, err := tr.LoadExperiments(ctx)
	require.NoError(t, err)

	require.NoError(t, tr.Select(ctx, WorkflowRef("w1")))
	assert.Equal(t, []string{"oom"}, tr.Logs())
	assert.Equal(t, 1, src.count("GetWorkflowLogs w1"))
}

func TestSelect_UnknownKind(t *testing.T) {
	tr, _ := newTestTracker(t, newFakeSource())
	err := tr.Select(context.Background(), EntityRef{Kind: "dataset", ID: "d1"})
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.Equal(t, StateIdle, tr.SelectionState())
}

func TestClearSelection(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	src.addJob("j1", "x", "running")
	src.setLogs("j1", "line")
	tr, _ := newTestTracker(t, src)
	_, err := tr.LoadJobs(ctx)
	require.NoError(t, err)
	require.NoError(t, tr.Select(ctx, JobRef("j1")))
	require.True(t, tr.LogPolling())

	tr.ClearSelection()
	assert.False(t, tr.LogPolling())
	assert.Empty(t, tr.Logs())
	assert.True(t, tr.Selection().IsZero())
	assert.Equal(t, StateIdle, tr.SelectionState())

	require.NoError(t, tr.Select(ctx, EntityRef{}))
	assert.Equal(t, StateIdle, tr.SelectionState())
}

func TestHasRunningInferenceJob(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	src.addTypedJob("i1", "batch inference", lumigator.JobTypeInference, "succeeded")
	src.addTypedJob("a1", "Ground truth for a.csv", lumigator.JobTypeAnnotation, "running")
	src.addTypedJob("v1", "nightly eval", lumigator.JobTypeEvaluation, "running")
	src.addJob("u1", "untyped", "running")
	tr, _ := newTestTracker(t, src)
	_, err := tr.LoadJobs(ctx)
	require.NoError(t, err)
	assert.False(t, tr.HasRunningInferenceJob(), "running jobs of other types do not count")

	src.addTypedJob("i2", "batch inference 2", lumigator.JobTypeInference, "running")
	_, err = tr.LoadJobs(ctx)
	require.NoError(t, err)
	assert.True(t, tr.HasRunningInferenceJob())

	src.setJobStatus("i2", "failed")
	_, err = tr.UpdateStatus(ctx, JobRef("i2"))
	require.NoError(t, err)
	assert.False(t, tr.HasRunningInferenceJob())
}

func TestUpdateStatusForIncomplete_DurationUsesClock(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	src.addJob("j1", "a", "running")
	tr, fc := newTestTracker(t, src)
	_, err := tr.LoadJobs(ctx)
	require.NoError(t, err)

	src.jobHook = func(string) { fc.Step(2 * time.Second) }

	res := tr.UpdateStatusForIncomplete(ctx)
	assert.Equal(t, 1, res.Checked)
	assert.Equal(t, 2*time.Second, res.Duration)
}

func TestStartGroundTruthGeneration_EndToEnd(t *testing.T) {
	ctx := context.Background()
	api := fakeapi.New(t)
	api.AddDataset(lumigator.Dataset{ID: "d1", Filename: "dialogsum.csv"})
	api.QueueIDs("j1")
	api.SetAnnotateStatus("running")
	client, err := lumigator.NewClient(lumigator.Config{BaseURL: api.URL()})
	require.NoError(t, err)

	var completed []Entity
	var mu sync.Mutex
	tr, fc := newTestTracker(t, client, func(c *Config) {
		c.OnCompleted = func(e Entity) {
			mu.Lock()
			defer mu.Unlock()
			completed = append(completed, e)
		}
	})

	job, err := tr.StartGroundTruthGeneration(ctx, lumigator.Dataset{ID: "d1", Filename: "dialogsum.csv"})
	require.NoError(t, err)
	require.Equal(t, "j1", job.ID)

	e, ok := tr.Job("j1")
	require.True(t, ok)
	assert.Equal(t, status.Running, e.Status)
	assert.Equal(t, "d1", e.DatasetID)
	assert.True(t, tr.PollingFor("j1"))

	fetches := func() int { return api.Hits(http.MethodGet, "/jobs/j1") }
	// Synchronous fetch plus the poller's immediate invocation.
	require.Eventually(t, func() bool { return fetches() == 2 }, waitFor, tick)

	for i := 1; i <= 3; i++ {
		fc.Step(tr.cfg.StatusInterval)
		want := 2 + i
		require.Eventually(t, func() bool { return fetches() == want }, waitFor, tick, "tick %d", i)
		assert.True(t, tr.PollingFor("j1"))
	}

	api.SetJobStatus("j1", "succeeded")
	fc.Step(tr.cfg.StatusInterval)
	require.Eventually(t, func() bool { return !tr.PollingFor("j1") }, waitFor, tick)
	tr.mu.Lock()
	assert.NotContains(t, tr.launches, "j1", "completed launch pollers are dropped")
	tr.mu.Unlock()
	e, _ = tr.Job("j1")
	assert.Equal(t, status.Succeeded, e.Status)

	seen := fetches()
	for i := 0; i < 3; i++ {
		fc.Step(tr.cfg.StatusInterval)
	}
	assert.Never(t, func() bool { return fetches() != seen }, 100*time.Millisecond, tick)

	mu.Lock()
	require.Len(t, completed, 1)
	assert.Equal(t, "j1", completed[0].ID)
	mu.Unlock()
}

func TestStartGroundTruthGeneration_SubmitFailure(t *testing.T) {
	api := fakeapi.New(t)
	api.AddDataset(lumigator.Dataset{ID: "d1", Filename: "a.csv"})
	api.Fail(http.MethodPost, "/jobs/annotate/", http.StatusInternalServerError)
	client, err := lumigator.NewClient(lumigator.Config{BaseURL: api.URL()})
	require.NoError(t, err)
	tr, _ := newTestTracker(t, client)

	job, err := tr.StartGroundTruthGeneration(context.Background(), lumigator.Dataset{ID: "d1", Filename: "a.csv"})
	require.Error(t, err)
	assert.Nil(t, job)
	assert.True(t, lumigator.IsServerError(err))
	assert.Empty(t, tr.Jobs())
}

func TestStartGroundTruthGeneration_ResetsLogBuffer(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	src.addJob("j0", "x", "succeeded")
	src.setLogs("j0", "previous")
	tr, _ := newTestTracker(t, src)
	_, err := tr.LoadJobs(ctx)
	require.NoError(t, err)
	require.NoError(t, tr.Select(ctx, JobRef("j0")))
	require.NotEmpty(t, tr.Logs())

	job, err := tr.StartGroundTruthGeneration(ctx, lumigator.Dataset{ID: "d1", Filename: "a.csv"})
	require.NoError(t, err)
	assert.Equal(t, "gt-d1", job.ID)
	assert.Empty(t, tr.Logs())
	assert.True(t, tr.PollingFor("gt-d1"))

	tr.StopAll()
	assert.False(t, tr.PollingFor("gt-d1"))
}

func TestStartGroundTruthGeneration_AlreadyCompleted(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	src.annotateStatus = "succeeded"
	calls := 0
	tr, _ := newTestTracker(t, src, func(c *Config) {
		c.OnCompleted = func(Entity) { calls++ }
	})

	job, err := tr.StartGroundTruthGeneration(ctx, lumigator.Dataset{ID: "d1"})
	require.NoError(t, err)
	assert.Equal(t, "succeeded", job.Status)
	assert.False(t, tr.PollingFor("gt-d1"))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, src.count("GetJob gt-d1"))
}
