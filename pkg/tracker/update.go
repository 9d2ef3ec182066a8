package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/lumitrack/pkg/status"
)

// UpdateStatus fetches the current status of ref and applies it to the
// local entity. An entity no longer in the collection is left alone; the
// fetched status is still returned.
func (t *Tracker) UpdateStatus(ctx context.Context, ref EntityRef) (status.Status, error) {
	st, _, err := t.updateStatus(ctx, ref)
	return st, err
}

func (t *Tracker) updateStatus(ctx context.Context, ref EntityRef) (status.Status, bool, error) {
	var (
		raw string
		end time.Time
	)
	switch ref.Kind {
	case KindJob:
		j, err := t.src.GetJob(ctx, ref.ID)
		if err != nil {
			return "", false, fmt.Errorf("update status of %s: %w", ref, err)
		}
		raw, end = j.Status, j.EndTime.Time
	case KindWorkflow:
		w, err := t.src.GetWorkflow(ctx, ref.ID)
		if err != nil {
			return "", false, fmt.Errorf("update status of %s: %w", ref, err)
		}
		raw = w.Status
		if st, err := status.Parse(raw); err == nil && st.IsCompleted() {
			end = w.UpdatedAt.Time
		}
	default:
		return "", false, fmt.Errorf("update status of %s: %w", ref, ErrUnknownKind)
	}

	st, err := status.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("update status of %s: %w", ref, err)
	}
	changed := t.apply(ref, st, end)
	return st, changed, nil
}

// apply writes st into the entity and reports whether it changed.
func (t *Tracker) apply(ref EntityRef, st status.Status, end time.Time) bool {
	t.mu.Lock()
	e := t.findLocked(ref)
	if e == nil {
		t.mu.Unlock()
		t.logger.Debug("status update for untracked entity ignored",
			zap.String("entity", ref.String()), zap.String("status", st.String()))
		return false
	}
	from := e.Status
	e.Status = st
	if !end.IsZero() && e.EndTime == nil {
		e.EndTime = &end
	}
	t.mu.Unlock()

	if from == st {
		return false
	}
	if t.cfg.StatusSink != nil {
		t.cfg.StatusSink(ref, from, st)
	}
	return true
}

// Incomplete returns the tracked jobs and workflows whose status is not
// completed.
func (t *Tracker) Incomplete() []EntityRef {
	t.mu.Lock()
	defer t.mu.Unlock()

	var refs []EntityRef
	for _, j := range t.jobs {
		if !j.Status.IsCompleted() {
			refs = append(refs, j.Ref())
		}
	}
	for _, exp := range t.experiments {
		for _, wf := range exp.Workflows {
			if !wf.Status.IsCompleted() {
				refs = append(refs, wf.Ref())
			}
		}
	}
	return refs
}

// UpdateStatusForIncomplete refreshes every incomplete entity concurrently.
//
// Failures are isolated per entity: they are logged and counted in the
// result and never abort the other fetches. It is safe to call
// concurrently with itself.
func (t *Tracker) UpdateStatusForIncomplete(ctx context.Context) SweepResult {
	started := t.cfg.Clock.Now()
	refs := t.Incomplete()
	res := SweepResult{Checked: len(refs)}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(t.cfg.Workers)
	for _, ref := range refs {
		g.Go(func() error {
			_, changed, err := t.updateStatus(ctx, ref)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				t.logger.Warn("status refresh failed",
					zap.String("entity", ref.String()), zap.Error(err))
				res.Failed++
				if res.Errors == nil {
					res.Errors = make(map[string]error)
				}
				res.Errors[ref.String()] = err
				return nil
			}
			if changed {
				res.Changed++
			}
			return nil
		})
	}
	_ = g.Wait()

	res.Duration = t.cfg.Clock.Since(started)
	return res
}
