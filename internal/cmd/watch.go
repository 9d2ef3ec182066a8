package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/lumitrack/internal/observability"
	"github.com/3leaps/lumitrack/pkg/lumigator"
	"github.com/3leaps/lumitrack/pkg/output"
	"github.com/3leaps/lumitrack/pkg/poller"
	"github.com/3leaps/lumitrack/pkg/status"
	"github.com/3leaps/lumitrack/pkg/tracker"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch jobs and workflows until they complete",
	Long: `Watch every incomplete job and workflow.

A sweep refreshes the status of everything not yet completed once per
poll.sweep_interval and reports each change. Optionally one entity can be
selected with --select to stream its logs at the same time.

With --json the output is a JSONL stream of lumitrack.*.v1 records
(status, log, sweep, error), one per line.

Examples:
  lumitrack watch
  lumitrack watch --json --select job/3f1c2a...
  lumitrack watch --until-done`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().Bool("json", false, "Emit JSONL records")
	watchCmd.Flags().String("select", "", "Stream logs for job/<id> or workflow/<id>")
	watchCmd.Flags().Duration("interval", 0, "Sweep interval (default: poll.sweep_interval)")
	watchCmd.Flags().Bool("until-done", false, "Exit once nothing is left incomplete")
	watchCmd.Flags().Bool("all", false, "Watch every job, not only annotation jobs")
}

func newSessionID() string {
	return uuid.NewString()
}

// parseRef parses "job/<id>" or "workflow/<id>".
func parseRef(raw string) (tracker.EntityRef, error) {
	kind, id, ok := strings.Cut(strings.TrimSpace(raw), "/")
	if !ok || id == "" {
		return tracker.EntityRef{}, fmt.Errorf("invalid entity %q: want job/<id> or workflow/<id>", raw)
	}
	switch tracker.Kind(kind) {
	case tracker.KindJob, tracker.KindWorkflow:
		return tracker.EntityRef{Kind: tracker.Kind(kind), ID: id}, nil
	default:
		return tracker.EntityRef{}, fmt.Errorf("invalid entity %q: %w", raw, tracker.ErrUnknownKind)
	}
}

// errorCode classifies a fetch failure for error records.
func errorCode(err error) string {
	switch {
	case lumigator.IsNotFound(err):
		return output.ErrCodeNotFound
	case lumigator.IsThrottled(err):
		return output.ErrCodeThrottled
	case errors.Is(err, status.ErrUnknownStatus):
		return output.ErrCodeBadStatus
	case lumigator.IsServerError(err), lumigator.IsMalformedResponse(err):
		return output.ErrCodeUnavailable
	default:
		var apiErr *lumigator.APIError
		if errors.As(err, &apiErr) {
			return output.ErrCodeUnavailable
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) {
			return output.ErrCodeUnavailable
		}
		return output.ErrCodeInternal
	}
}

// consoleWriter renders records as human-readable lines.
type consoleWriter struct {
	mu     sync.Mutex
	w      io.Writer
	closed bool
}

func (c *consoleWriter) printf(format string, args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return output.ErrWriterClosed
	}
	_, err := fmt.Fprintf(c.w, format, args...)
	return err
}

func (c *consoleWriter) WriteStatus(_ context.Context, rec *output.StatusRecord) error {
	if rec.From == "" {
		return c.printf("%s  %s\n", rec.Entity, rec.To)
	}
	return c.printf("%s  %s -> %s\n", rec.Entity, rec.From, rec.To)
}

func (c *consoleWriter) WriteLog(_ context.Context, rec *output.LogRecord) error {
	var b strings.Builder
	for _, line := range rec.Lines {
		b.WriteString(rec.Entity)
		b.WriteString(" | ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return c.printf("%s", b.String())
}

func (c *consoleWriter) WriteSweep(_ context.Context, rec *output.SweepRecord) error {
	if rec.Changed == 0 && rec.Failed == 0 {
		return nil
	}
	return c.printf("sweep: checked=%d changed=%d failed=%d (%s)\n", rec.Checked, rec.Changed, rec.Failed, rec.DurationHuman)
}

func (c *consoleWriter) WriteError(_ context.Context, rec *output.ErrorRecord) error {
	return c.printf("error: %s %s: %s\n", rec.Code, rec.Entity, rec.Message)
}

func (c *consoleWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

var _ output.Writer = (*consoleWriter)(nil)

func runWatch(cmd *cobra.Command, _ []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	untilDone, _ := cmd.Flags().GetBool("until-done")
	all, _ := cmd.Flags().GetBool("all")
	interval, _ := cmd.Flags().GetDuration("interval")

	var sel tracker.EntityRef
	if raw := mustString(cmd, "select"); raw != "" {
		ref, err := parseRef(raw)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "invalid --select", err)
		}
		sel = ref
	}

	cfg, err := currentConfig()
	if err != nil {
		return err
	}
	if interval <= 0 {
		interval = cfg.Poll.SweepInterval
	}
	client, err := newClient(cfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "invalid api configuration", err)
	}

	ctx := cmd.Context()
	var out output.Writer = &consoleWriter{w: cmd.OutOrStdout()}
	if asJSON {
		out = output.NewJSONLWriter(cmd.OutOrStdout(), newSessionID(), client.BaseURL())
	}
	defer func() { _ = out.Close() }()

	w := &watcher{out: out}
	tc := trackerConfig(cfg)
	if all {
		tc.JobGlob = ""
	}
	tc.StatusSink = w.status
	tc.LogSink = func(ref tracker.EntityRef, lines []string) {
		w.write(func() error {
			return out.WriteLog(ctx, &output.LogRecord{Entity: ref.String(), Lines: lines})
		})
	}
	tr := tracker.New(client, tc)
	w.tr = tr
	w.ctx = ctx
	defer tr.StopAll()

	if _, err := tr.LoadJobs(ctx); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "list jobs", err)
	}
	if _, err := tr.LoadExperiments(ctx); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "list experiments", err)
	}
	w.snapshot()

	if !sel.IsZero() {
		if _, ok := tr.Entity(sel); !ok {
			if sel.Kind != tracker.KindJob {
				return exitError(foundry.ExitInvalidArgument, "workflow not found", fmt.Errorf("no workflow %q", sel.ID))
			}
			if _, err := trackOne(ctx, tr, sel.ID); err != nil {
				return err
			}
		}
		if err := tr.Select(ctx, sel); err != nil {
			w.failure(sel, err)
		}
	}

	sweeper := poller.New(poller.Config{
		Name:       "sweep",
		Logger:     observability.CLILogger,
		MaxBackoff: cfg.Poll.MaxBackoff,
		StallAfter: cfg.Poll.StallAfter,
		OnStall: func(err error) {
			observability.CLILogger.Warn("Backend unreachable, sweeps are failing", zap.Error(err))
		},
		OnRecover: func() {
			observability.CLILogger.Info("Backend reachable again")
		},
	})
	finished := make(chan struct{})
	var once sync.Once
	sweeper.Start(ctx, interval, func(ctx context.Context) error {
		if untilDone && len(tr.Incomplete()) == 0 && !tr.LogPolling() {
			once.Do(func() { close(finished) })
			return poller.ErrStop
		}
		return w.sweep(ctx)
	})
	defer sweeper.Stop()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return nil
	}
}

// watcher turns tracker callbacks into output records.
type watcher struct {
	ctx context.Context
	tr  *tracker.Tracker
	out output.Writer
}

func (w *watcher) write(fn func() error) {
	if err := fn(); err != nil && !errors.Is(err, output.ErrWriterClosed) {
		observability.CLILogger.Warn("Failed to write record", zap.Error(err))
	}
}

func (w *watcher) status(ref tracker.EntityRef, from, to status.Status) {
	rec := &output.StatusRecord{Entity: ref.String(), From: from.String(), To: to.String()}
	if e, ok := w.tr.Entity(ref); ok {
		rec.ExperimentID = e.ExperimentID
	}
	w.write(func() error { return w.out.WriteStatus(w.ctx, rec) })
}

func (w *watcher) failure(ref tracker.EntityRef, err error) {
	w.write(func() error {
		return w.out.WriteError(w.ctx, &output.ErrorRecord{
			Code:    errorCode(err),
			Message: err.Error(),
			Entity:  ref.String(),
		})
	})
}

// snapshot reports the starting status of every tracked entity.
func (w *watcher) snapshot() {
	for _, j := range w.tr.Jobs() {
		rec := &output.StatusRecord{Entity: j.Ref().String(), To: j.Status.String()}
		w.write(func() error { return w.out.WriteStatus(w.ctx, rec) })
	}
	for _, exp := range w.tr.Experiments() {
		for _, wf := range exp.Workflows {
			rec := &output.StatusRecord{Entity: wf.Ref().String(), To: wf.Status.String(), ExperimentID: exp.ID}
			w.write(func() error { return w.out.WriteStatus(w.ctx, rec) })
		}
	}
}

// sweep refreshes every incomplete entity. It fails only when every fetch
// failed, so the poller backs off while the backend is down.
func (w *watcher) sweep(ctx context.Context) error {
	res := w.tr.UpdateStatusForIncomplete(ctx)
	w.write(func() error {
		return w.out.WriteSweep(ctx, &output.SweepRecord{
			Checked:       res.Checked,
			Changed:       res.Changed,
			Failed:        res.Failed,
			Duration:      res.Duration,
			DurationHuman: res.Duration.Round(time.Millisecond).String(),
		})
	})
	for entity, err := range res.Errors {
		w.write(func() error {
			return w.out.WriteError(ctx, &output.ErrorRecord{Code: errorCode(err), Message: err.Error(), Entity: entity})
		})
	}
	if res.Checked > 0 && res.Failed == res.Checked {
		return fmt.Errorf("sweep: all %d fetches failed", res.Checked)
	}
	return nil
}
