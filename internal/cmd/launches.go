package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/lumitrack/internal/observability"
	"github.com/3leaps/lumitrack/pkg/registry"
	"github.com/3leaps/lumitrack/pkg/status"
)

var launchesCmd = &cobra.Command{
	Use:   "launches",
	Short: "Manage records of annotation jobs launched from this machine",
	Long: `Manage the local records written by 'lumitrack annotate'.

Records live under <data_dir>/launches/<job_id>/launch.json. They keep the
last status observed by lumitrack; use --refresh to ask the backend again.`,
}

var launchesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List launched jobs",
	Args:  cobra.NoArgs,
	RunE:  runLaunchesList,
}

var launchesShowCmd = &cobra.Command{
	Use:   "show <job_id>",
	Short: "Show one launch record (id prefixes are accepted)",
	Args:  cobra.ExactArgs(1),
	RunE:  runLaunchesShow,
}

var launchesGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Garbage collect old launch records",
	Args:  cobra.NoArgs,
	RunE:  runLaunchesGC,
}

func init() {
	rootCmd.AddCommand(launchesCmd)
	launchesCmd.AddCommand(launchesListCmd)
	launchesCmd.AddCommand(launchesShowCmd)
	launchesCmd.AddCommand(launchesGCCmd)

	launchesListCmd.Flags().Bool("json", false, "Output as JSON")
	launchesListCmd.Flags().Bool("refresh", false, "Refresh incomplete records from the backend first")
	launchesShowCmd.Flags().StringP("output", "o", "yaml", "Output format: json, yaml")
	launchesGCCmd.Flags().String("max-age", "168h", "Delete completed records older than this duration")
	launchesGCCmd.Flags().Bool("dry-run", false, "Show how many records would be deleted")
}

func runLaunchesList(cmd *cobra.Command, _ []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	refresh, _ := cmd.Flags().GetBool("refresh")

	cfg, err := currentConfig()
	if err != nil {
		return err
	}
	store := launchStore(cfg)

	if refresh {
		if err := refreshLaunches(cmd, store); err != nil {
			return err
		}
	}

	records, err := store.List()
	if err != nil {
		return exitError(foundry.ExitFileReadError, "list launches", err)
	}
	if asJSON {
		return render(cmd.OutOrStdout(), formatJSON, records)
	}
	if len(records) == 0 {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "No launches found")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()
	_, _ = fmt.Fprintln(w, "JOB ID\tDATASET\tSTATUS\tLAUNCHED\tOBSERVED\tENDED")
	for _, r := range records {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(r.JobID), orDash(r.Filename), r.Status,
			formatRelativeTime(r.CreatedAt), formatOptionalTime(r.ObservedAt), formatOptionalTime(r.EndedAt))
	}
	return nil
}

// refreshLaunches re-reads the status of every incomplete record.
func refreshLaunches(cmd *cobra.Command, store *registry.Store) error {
	cfg, err := currentConfig()
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "invalid api configuration", err)
	}

	records, err := store.List()
	if err != nil {
		return exitError(foundry.ExitFileReadError, "list launches", err)
	}
	for i := range records {
		rec := &records[i]
		if rec.Completed() {
			continue
		}
		job, err := client.GetJob(cmd.Context(), rec.JobID)
		if err != nil {
			observability.CLILogger.Warn("Failed to refresh launch",
				zap.String("job_id", rec.JobID), zap.Error(err))
			continue
		}
		st, err := status.Parse(job.Status)
		if err != nil {
			observability.CLILogger.Warn("Backend reported an unknown status",
				zap.String("job_id", rec.JobID), zap.Error(err))
			continue
		}
		rec.Observe(st, time.Now())
		if err := store.Write(rec); err != nil {
			return exitError(foundry.ExitFileWriteError, "update launch record", err)
		}
	}
	return nil
}

func runLaunchesShow(cmd *cobra.Command, args []string) error {
	format, err := parseFormat(mustString(cmd, "output"))
	if err != nil || format == formatTable {
		return exitError(foundry.ExitInvalidArgument, "invalid flags", fmt.Errorf("output must be json or yaml"))
	}
	cfg, err := currentConfig()
	if err != nil {
		return err
	}
	store := launchStore(cfg)

	id, err := store.ResolveID(args[0])
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "resolve launch", err)
	}
	rec, err := store.Get(id)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "read launch", err)
	}
	return render(cmd.OutOrStdout(), format, rec)
}

func runLaunchesGC(cmd *cobra.Command, _ []string) error {
	maxAgeRaw := mustString(cmd, "max-age")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	maxAge, err := time.ParseDuration(maxAgeRaw)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "invalid --max-age", err)
	}
	cfg, err := currentConfig()
	if err != nil {
		return err
	}

	res, err := launchStore(cfg).GC(maxAge, time.Now(), dryRun)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "gc launches", err)
	}
	if res.DryRun {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Would delete %d launch record(s)\n", res.WouldDelete)
		return nil
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d launch record(s)\n", res.Deleted)
	return nil
}
