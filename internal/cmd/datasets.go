package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/lumitrack/internal/observability"
	"github.com/3leaps/lumitrack/pkg/lumigator"
	"github.com/3leaps/lumitrack/pkg/tracker"
)

var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "Inspect backend datasets",
}

var datasetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List datasets",
	Long: `List the datasets known to the backend.

The GT column shows whether the dataset already carries ground truth. Use
'lumitrack annotate <dataset_id>' to generate it for datasets that do not.

Examples:
  lumitrack datasets list
  lumitrack datasets list -o json`,
	Args: cobra.NoArgs,
	RunE: runDatasetsList,
}

var datasetsDeleteCmd = &cobra.Command{
	Use:   "delete <dataset_id>",
	Short: "Delete a dataset",
	Args:  cobra.ExactArgs(1),
	RunE:  runDatasetsDelete,
}

func init() {
	rootCmd.AddCommand(datasetsCmd)
	datasetsCmd.AddCommand(datasetsListCmd)
	datasetsCmd.AddCommand(datasetsDeleteCmd)

	datasetsListCmd.Flags().StringP("output", "o", "table", "Output format: table, json, yaml")
}

func runDatasetsList(cmd *cobra.Command, _ []string) error {
	format, err := parseFormat(mustString(cmd, "output"))
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

	tr := tracker.New(client, trackerConfig(cfg))
	datasets, err := tr.LoadDatasets(cmd.Context())
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "list datasets", err)
	}

	if format != formatTable {
		return render(cmd.OutOrStdout(), format, datasets)
	}
	if len(datasets) == 0 {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "No datasets found")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()
	_, _ = fmt.Fprintln(w, "ID\tFILENAME\tFORMAT\tSIZE\tGT\tCREATED")
	for _, ds := range datasets {
		gt := "no"
		if ds.GroundTruth {
			gt = "yes"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(ds.ID), ds.Filename, orDash(ds.Format), formatBytes(ds.Size), gt,
			formatRelativeTime(ds.CreatedAt.Time))
	}
	return nil
}

func runDatasetsDelete(cmd *cobra.Command, args []string) error {
	cfg, err := currentConfig()
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "invalid api configuration", err)
	}

	id := args[0]
	if err := client.DeleteDataset(cmd.Context(), id); err != nil {
		if lumigator.IsNotFound(err) {
			return exitError(foundry.ExitInvalidArgument, "dataset not found", err)
		}
		return exitError(foundry.ExitExternalServiceUnavailable, "delete dataset", err)
	}
	observability.CLILogger.Info("Dataset deleted", zap.String("dataset_id", id))
	return nil
}

func mustString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}
