package cmd

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/lumitrack/internal/config"
	"github.com/3leaps/lumitrack/pkg/lumigator"
	"github.com/3leaps/lumitrack/pkg/output"
	"github.com/3leaps/lumitrack/pkg/tracker"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect backend jobs",
	Long: `Inspect jobs on the backend.

By default only ground-truth annotation jobs are listed (names matching
annotation_glob, "Ground truth for *"). Use --match to choose another
doublestar pattern or --all to list every job.`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	Args:  cobra.NoArgs,
	RunE:  runJobsList,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job_id>",
	Short: "Show status for a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsLogsCmd = &cobra.Command{
	Use:   "logs <job_id>",
	Short: "Show logs for a job",
	Long: `Show the logs of a job.

With --follow, logs are streamed while the job is running: new lines are
printed as they appear and the command returns once the job completes.

Examples:
  lumitrack jobs logs 3f1c2a
  lumitrack jobs logs 3f1c2a --follow
  lumitrack jobs logs 3f1c2a --follow --json`,
	Args: cobra.ExactArgs(1),
	RunE: runJobsLogs,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsLogsCmd)

	jobsListCmd.Flags().StringP("output", "o", "table", "Output format: table, json, yaml")
	jobsListCmd.Flags().Bool("json", false, "Output as JSON (same as -o json)")
	jobsListCmd.Flags().String("match", "", "Doublestar pattern for job names (default: annotation_glob)")
	jobsListCmd.Flags().Bool("all", false, "List every job regardless of name")
	jobsListCmd.Flags().String("type", "", "Only list jobs of this type (annotate, evaluate)")

	jobsStatusCmd.Flags().StringP("output", "o", "table", "Output format: table, json, yaml")

	jobsLogsCmd.Flags().BoolP("follow", "f", false, "Follow log output while the job runs")
	jobsLogsCmd.Flags().Bool("json", false, "Emit JSONL log records")
}

func listFormat(cmd *cobra.Command) (outputFormat, error) {
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return formatJSON, nil
	}
	return parseFormat(mustString(cmd, "output"))
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	format, err := listFormat(cmd)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "invalid flags", err)
	}
	cfg, err := currentConfig()
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "invalid api configuration", err)
	}

	tc := trackerConfig(cfg)
	if match := mustString(cmd, "match"); match != "" {
		tc.JobGlob = match
	}
	if all, _ := cmd.Flags().GetBool("all"); all {
		tc.JobGlob = ""
	}
	tc.JobType = mustString(cmd, "type")

	tr := tracker.New(client, tc)
	jobs, err := tr.LoadJobs(cmd.Context())
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "list jobs", err)
	}

	if format != formatTable {
		return render(cmd.OutOrStdout(), format, jobs)
	}
	if len(jobs) == 0 {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "No jobs found")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()
	_, _ = fmt.Fprintln(w, "JOB ID\tNAME\tTYPE\tSTATUS\tSTARTED\tENDED")
	for _, j := range jobs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(j.ID), j.Name, orDash(j.JobType), j.Status,
			formatRelativeTime(j.StartTime), formatOptionalTime(j.EndTime))
	}
	return nil
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	format, err := parseFormat(mustString(cmd, "output"))
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "invalid flags", err)
	}
	cfg, err := currentConfig()
	if err != nil {
		return err
	}
	tr, err := newTracker(cfg)
	if err != nil {
		return err
	}

	job, err := trackOne(cmd.Context(), tr, args[0])
	if err != nil {
		return err
	}

	if format != formatTable {
		return render(cmd.OutOrStdout(), format, job)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()
	_, _ = fmt.Fprintf(w, "ID:\t%s\n", job.ID)
	_, _ = fmt.Fprintf(w, "Name:\t%s\n", job.Name)
	_, _ = fmt.Fprintf(w, "Type:\t%s\n", orDash(job.JobType))
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", job.Status)
	_, _ = fmt.Fprintf(w, "Started:\t%s\n", formatRelativeTime(job.StartTime))
	_, _ = fmt.Fprintf(w, "Ended:\t%s\n", formatOptionalTime(job.EndTime))
	return nil
}

func runJobsLogs(cmd *cobra.Command, args []string) error {
	follow, _ := cmd.Flags().GetBool("follow")
	asJSON, _ := cmd.Flags().GetBool("json")

	cfg, err := currentConfig()
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "invalid api configuration", err)
	}

	ctx := cmd.Context()
	var jw output.Writer
	if asJSON {
		w := output.NewJSONLWriter(cmd.OutOrStdout(), newSessionID(), client.BaseURL())
		defer func() { _ = w.Close() }()
		jw = w
	}

	tc := trackerConfig(cfg)
	tc.LogSink = lineSink(ctx, cmd.OutOrStdout(), jw)
	tr := tracker.New(client, tc)

	job, err := trackOne(ctx, tr, args[0])
	if err != nil {
		return err
	}

	if err := observeLogs(ctx, tr, job.Ref(), cfg.Poll.StatusInterval, follow); err != nil {
		if ctx.Err() != nil {
			return exitError(foundry.ExitSignalInt, "log follow cancelled", ctx.Err())
		}
		return exitError(foundry.ExitExternalServiceUnavailable, "fetch logs", err)
	}
	return nil
}

func newTracker(cfg *config.Config) (*tracker.Tracker, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "invalid api configuration", err)
	}
	return tracker.New(client, trackerConfig(cfg)), nil
}

// trackOne adds a single job to the tracker, mapping errors to exit codes.
func trackOne(ctx context.Context, tr *tracker.Tracker, id string) (tracker.Entity, error) {
	job, err := tr.TrackJob(ctx, id)
	switch {
	case err == nil:
		return job, nil
	case lumigator.IsNotFound(err):
		return tracker.Entity{}, exitError(foundry.ExitInvalidArgument, "job not found", err)
	case errors.Is(err, context.Canceled):
		return tracker.Entity{}, exitError(foundry.ExitSignalInt, "cancelled", err)
	default:
		return tracker.Entity{}, exitError(foundry.ExitExternalServiceUnavailable, "fetch job", err)
	}
}
