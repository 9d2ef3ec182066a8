package tracker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/3leaps/lumitrack/pkg/poller"
	"github.com/3leaps/lumitrack/pkg/status"
)

// Select makes ref the observed entity.
//
// The previous log session is stopped and the buffer cleared before any
// fetch. The logs are then fetched once regardless of status, and the log
// poller is started only if the entity is running. A failed initial fetch is
// returned, but the selection stands and polling still starts.
func (t *Tracker) Select(ctx context.Context, ref EntityRef) error {
	if ref.IsZero() {
		t.ClearSelection()
		return nil
	}
	if ref.Kind != KindJob && ref.Kind != KindWorkflow {
		return fmt.Errorf("select %s: %w", ref, ErrUnknownKind)
	}

	t.selMu.Lock()
	defer t.selMu.Unlock()

	t.logPoller.Stop()

	t.mu.Lock()
	t.logs.Reset()
	t.selection = ref
	t.generation++
	gen := t.generation
	t.mu.Unlock()

	_, fetchErr := t.fetchLogs(ctx, ref, gen)

	if st, ok := t.statusOf(ref); ok && st == status.Running {
		// The session outlives the caller's request; Stop ends it.
		t.logPoller.Start(context.WithoutCancel(ctx), t.cfg.LogInterval, t.logTick(ref, gen))
	}

	if fetchErr != nil {
		return fmt.Errorf("select %s: %w", ref, fetchErr)
	}
	return nil
}

// ClearSelection stops log polling and empties the buffer.
func (t *Tracker) ClearSelection() {
	t.selMu.Lock()
	defer t.selMu.Unlock()

	t.logPoller.Stop()

	t.mu.Lock()
	t.logs.Reset()
	t.selection = EntityRef{}
	t.generation++
	t.mu.Unlock()
}

// Selection returns the observed entity, zero when idle.
func (t *Tracker) Selection() EntityRef {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.selection
}

// SelectionState reports idle, observing-running or observing-terminal.
func (t *Tracker) SelectionState() SelectionState {
	if t.Selection().IsZero() {
		return StateIdle
	}
	if t.logPoller.Active() {
		return StateObservingRunning
	}
	return StateObservingTerminal
}

func (t *Tracker) logTick(ref EntityRef, gen uint64) poller.Action {
	return func(ctx context.Context) error {
		current, err := t.fetchLogs(ctx, ref, gen)
		if err != nil {
			return err
		}
		if !current {
			return poller.ErrStop
		}

		// Status is refreshed by UpdateStatus and the sweep, not here.
		st, ok := t.statusOf(ref)
		if !ok || st != status.Running {
			t.logger.Debug("selection left running, stopping log polling",
				zap.String("entity", ref.String()), zap.String("status", st.String()))
			return poller.ErrStop
		}
		return nil
	}
}

// fetchLogs fetches and ingests the logs of ref. It reports false, without
// touching the buffer, when the selection moved on while the fetch ran.
func (t *Tracker) fetchLogs(ctx context.Context, ref EntityRef, gen uint64) (bool, error) {
	var (
		text string
		err  error
	)
	switch ref.Kind {
	case KindJob:
		text, err = t.src.GetJobLogs(ctx, ref.ID)
	case KindWorkflow:
		text, err = t.src.GetWorkflowLogs(ctx, ref.ID)
	default:
		return false, ErrUnknownKind
	}
	if err != nil {
		return t.currentGeneration(gen), fmt.Errorf("fetch logs for %s: %w", ref, err)
	}

	t.mu.Lock()
	if t.generation != gen {
		t.mu.Unlock()
		return false, nil
	}
	lines := t.logs.Ingest(text)
	t.mu.Unlock()

	if len(lines) > 0 && t.cfg.LogSink != nil {
		t.cfg.LogSink(ref, lines)
	}
	return true, nil
}

func (t *Tracker) currentGeneration(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.generation == gen
}

func (t *Tracker) statusOf(ref EntityRef) (status.Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e := t.findLocked(ref); e != nil {
		return e.Status, true
	}
	return "", false
}
