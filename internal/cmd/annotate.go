package cmd

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/3leaps/lumitrack/internal/observability"
	"github.com/3leaps/lumitrack/pkg/lumigator"
	"github.com/3leaps/lumitrack/pkg/registry"
	"github.com/3leaps/lumitrack/pkg/status"
	"github.com/3leaps/lumitrack/pkg/tracker"
)

var annotateCmd = &cobra.Command{
	Use:   "annotate <dataset_id>",
	Short: "Generate ground truth for a dataset",
	Long: `Launch a ground-truth annotation job for a dataset.

The job is recorded under the data directory so it can be listed later
with 'lumitrack launches list'. With --wait the command polls the job
status until it completes; --logs additionally streams its logs.

Examples:
  lumitrack annotate 8b0d2c1e-...
  lumitrack annotate 8b0d2c1e-... --wait --logs`,
	Args: cobra.ExactArgs(1),
	RunE: runAnnotate,
}

func init() {
	rootCmd.AddCommand(annotateCmd)
	annotateCmd.Flags().Bool("wait", false, "Wait until the job completes")
	annotateCmd.Flags().Bool("logs", false, "Stream job logs while waiting (implies --wait)")
	annotateCmd.Flags().Bool("force", false, "Launch even if the dataset has ground truth or an inference job is running")
}

// launchRecorder keeps the launch record in step with observed statuses.
type launchRecorder struct {
	store *registry.Store

	mu  sync.Mutex
	rec *registry.LaunchRecord
}

func (lr *launchRecorder) begin(rec *registry.LaunchRecord) error {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.rec = rec
	return lr.store.Write(rec)
}

func (lr *launchRecorder) observe(ref tracker.EntityRef, st status.Status) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	if lr.rec == nil || ref.Kind != tracker.KindJob || ref.ID != lr.rec.JobID {
		return
	}
	lr.rec.Observe(st, time.Now())
	if err := lr.store.Write(lr.rec); err != nil {
		observability.CLILogger.Warn("Failed to update launch record",
			zap.String("job_id", lr.rec.JobID), zap.Error(err))
	}
}

func runAnnotate(cmd *cobra.Command, args []string) error {
	waitFlag, _ := cmd.Flags().GetBool("wait")
	logsFlag, _ := cmd.Flags().GetBool("logs")
	force, _ := cmd.Flags().GetBool("force")
	if logsFlag {
		waitFlag = true
	}

	cfg, err := currentConfig()
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "invalid api configuration", err)
	}
	ctx := cmd.Context()

	ds, err := client.GetDataset(ctx, args[0])
	if err != nil {
		if lumigator.IsNotFound(err) {
			return exitError(foundry.ExitInvalidArgument, "dataset not found", err)
		}
		return exitError(foundry.ExitExternalServiceUnavailable, "fetch dataset", err)
	}
	if ds.GroundTruth && !force {
		return exitError(foundry.ExitInvalidArgument, "dataset already has ground truth",
			fmt.Errorf("dataset %s (%s); use --force to annotate again", ds.ID, ds.Filename))
	}

	recorder := &launchRecorder{store: launchStore(cfg)}
	done := make(chan tracker.Entity, 1)

	tc := trackerConfig(cfg)
	tc.JobGlob = ""
	tc.StatusSink = func(ref tracker.EntityRef, _, to status.Status) {
		recorder.observe(ref, to)
	}
	tc.OnCompleted = func(job tracker.Entity) {
		select {
		case done <- job:
		default:
		}
	}
	if logsFlag {
		tc.LogSink = lineSink(ctx, cmd.OutOrStdout(), nil)
	}
	tr := tracker.New(client, tc)
	defer tr.StopAll()

	if !force {
		if busy, err := inferenceBusy(ctx, tr); err != nil {
			observability.CLILogger.Warn("Could not check for running inference jobs", zap.Error(err))
		} else if busy {
			return exitError(foundry.ExitInvalidArgument, "backend busy",
				fmt.Errorf("an inference job is running; use --force to launch anyway"))
		}
	}

	job, err := tr.StartGroundTruthGeneration(ctx, ds)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "launch annotation job", err)
	}

	current := status.Created
	if e, ok := tr.Job(job.ID); ok {
		current = e.Status
	}
	rec := &registry.LaunchRecord{
		JobID:     job.ID,
		Name:      job.Name,
		DatasetID: ds.ID,
		Filename:  ds.Filename,
		APIBase:   client.BaseURL(),
		CreatedAt: time.Now().UTC(),
	}
	rec.Observe(current, time.Now())
	if err := recorder.begin(rec); err != nil {
		observability.CLILogger.Warn("Failed to write launch record", zap.String("job_id", job.ID), zap.Error(err))
	}

	observability.CLILogger.Info("Annotation job launched",
		zap.String("job_id", job.ID),
		zap.String("dataset_id", ds.ID),
		zap.String("status", current.String()))
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), job.ID)

	if !waitFlag {
		return nil
	}

	if logsFlag {
		if err := tr.Select(ctx, tracker.JobRef(job.ID)); err != nil {
			observability.CLILogger.Warn("Initial log fetch failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	}

	var final tracker.Entity
	if current.IsCompleted() {
		final, _ = tr.Job(job.ID)
	} else {
		select {
		case final = <-done:
		case <-ctx.Done():
			return exitError(foundry.ExitSignalInt, "wait cancelled", ctx.Err())
		}
	}

	if logsFlag {
		// Let the log poller pick up the final lines before returning.
		_ = wait.PollUntilContextTimeout(ctx, 250*time.Millisecond, 2*cfg.Poll.LogInterval, true,
			func(context.Context) (bool, error) { return !tr.LogPolling(), nil })
	}

	observability.CLILogger.Info("Annotation job finished",
		zap.String("job_id", final.ID),
		zap.String("status", final.Status.String()))
	if final.Status == status.Failed {
		return fmt.Errorf("annotation job %s failed", final.ID)
	}
	return nil
}

// inferenceBusy reports whether the backend is running an inference job.
func inferenceBusy(ctx context.Context, tr *tracker.Tracker) (bool, error) {
	if _, err := tr.LoadJobs(ctx); err != nil {
		return false, err
	}
	return tr.HasRunningInferenceJob(), nil
}
