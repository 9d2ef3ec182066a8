package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/3leaps/lumitrack/internal/observability"
	"github.com/3leaps/lumitrack/pkg/output"
	"github.com/3leaps/lumitrack/pkg/poller"
	"github.com/3leaps/lumitrack/pkg/status"
	"github.com/3leaps/lumitrack/pkg/tracker"
)

// lineSink returns a tracker LogSink printing plain lines to w, or JSONL log
// records when jw is non-nil.
func lineSink(ctx context.Context, w io.Writer, jw output.Writer) func(tracker.EntityRef, []string) {
	return func(ref tracker.EntityRef, lines []string) {
		if jw != nil {
			if err := jw.WriteLog(ctx, &output.LogRecord{Entity: ref.String(), Lines: lines}); err != nil {
				observability.CLILogger.Warn("Failed to write log record", zap.Error(err))
			}
			return
		}
		for _, line := range lines {
			_, _ = fmt.Fprintln(w, line)
		}
	}
}

// observeLogs selects ref and, when follow is set, keeps its status fresh
// until the log poller stops on its own or ctx ends.
func observeLogs(ctx context.Context, tr *tracker.Tracker, ref tracker.EntityRef, interval time.Duration, follow bool) error {
	defer tr.StopAll()

	if err := tr.Select(ctx, ref); err != nil {
		return err
	}
	if !follow || !tr.LogPolling() {
		return nil
	}

	// The log poller reads the selection's status from the collection, so
	// something has to refresh it.
	refresher := poller.New(poller.Config{
		Name:   "status:" + ref.String(),
		Logger: observability.CLILogger,
	})
	refresher.Start(ctx, interval, func(ctx context.Context) error {
		st, err := tr.UpdateStatus(ctx, ref)
		if err != nil {
			return err
		}
		if st.IsCompleted() {
			return poller.ErrStop
		}
		return nil
	})
	defer refresher.Stop()

	err := wait.PollUntilContextCancel(ctx, 250*time.Millisecond, false, func(context.Context) (bool, error) {
		return !tr.LogPolling(), nil
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	if e, ok := tr.Entity(ref); ok && e.Status != status.Running {
		observability.CLILogger.Info("Entity finished",
			zap.String("entity", ref.String()),
			zap.String("status", e.Status.String()))
	}
	return ctx.Err()
}
