package tracker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/3leaps/lumitrack/pkg/lumigator"
	"github.com/3leaps/lumitrack/pkg/poller"
	"github.com/3leaps/lumitrack/pkg/status"
)

// StartGroundTruthGeneration launches an annotation job for ds and follows
// it until it completes.
//
// A submit failure is returned and nothing is tracked. Otherwise the job is
// added to the collection, its status is fetched once synchronously, the log
// buffer is reset, and a dedicated poller refreshes the status every
// StatusInterval until the first completed status is seen. A failed
// synchronous fetch is logged; the poller retries it.
func (t *Tracker) StartGroundTruthGeneration(ctx context.Context, ds lumigator.Dataset) (*lumigator.Job, error) {
	job, err := t.src.Annotate(ctx, lumigator.NewAnnotateRequest(ds))
	if err != nil {
		return nil, fmt.Errorf("start ground truth generation for dataset %s: %w", ds.ID, err)
	}
	if job.ID == "" {
		return nil, fmt.Errorf("start ground truth generation for dataset %s: %w: job has no id",
			ds.ID, lumigator.ErrMalformedResponse)
	}

	ref := JobRef(job.ID)
	entity := fromJob(job, status.Created)
	if st, err := status.Parse(job.Status); err == nil {
		entity.Status = st
	}
	if entity.JobType == "" {
		entity.JobType = lumigator.JobTypeAnnotation
	}
	entity.DatasetID = ds.ID

	t.mu.Lock()
	t.upsertJobLocked(entity)
	t.mu.Unlock()

	st, err := t.UpdateStatus(ctx, ref)
	if err != nil {
		t.logger.Warn("initial status fetch failed", zap.String("job_id", job.ID), zap.Error(err))
	} else {
		job.Status = st.String()
	}

	t.mu.Lock()
	t.logs.Reset()
	t.mu.Unlock()

	if err == nil && st.IsCompleted() {
		t.complete(job.ID)
		return &job, nil
	}

	p := t.newPoller("annotation:" + job.ID)
	t.mu.Lock()
	prev := t.launches[job.ID]
	t.launches[job.ID] = p
	t.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}

	p.Start(context.WithoutCancel(ctx), t.cfg.StatusInterval, func(ctx context.Context) error {
		st, err := t.UpdateStatus(ctx, ref)
		if err != nil {
			return err
		}
		if st.IsCompleted() {
			t.logger.Info("ground truth generation finished",
				zap.String("job_id", ref.ID), zap.String("status", st.String()))
			t.mu.Lock()
			if t.launches[ref.ID] == p {
				delete(t.launches, ref.ID)
			}
			t.mu.Unlock()
			t.complete(ref.ID)
			return poller.ErrStop
		}
		return nil
	})
	return &job, nil
}

func (t *Tracker) complete(id string) {
	if t.cfg.OnCompleted == nil {
		return
	}
	if e, ok := t.Job(id); ok {
		t.cfg.OnCompleted(e)
	}
}
