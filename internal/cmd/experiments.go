package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/lumitrack/internal/observability"
	"github.com/3leaps/lumitrack/pkg/lumigator"
	"github.com/3leaps/lumitrack/pkg/output"
	"github.com/3leaps/lumitrack/pkg/status"
	"github.com/3leaps/lumitrack/pkg/tracker"
)

var experimentsCmd = &cobra.Command{
	Use:     "experiments",
	Aliases: []string{"exp"},
	Short:   "Inspect experiments and their workflows",
	Long: `Inspect experiments and their workflows.

An experiment has no status of its own: it is derived from its workflows.
Any running workflow makes the experiment running; a mix of failed and
succeeded workflows makes it incomplete.`,
}

var experimentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List experiments",
	Args:  cobra.NoArgs,
	RunE:  runExperimentsList,
}

var experimentsShowCmd = &cobra.Command{
	Use:   "show <experiment_id>",
	Short: "Show an experiment and its workflows",
	Args:  cobra.ExactArgs(1),
	RunE:  runExperimentsShow,
}

var experimentsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an experiment",
	Args:  cobra.NoArgs,
	RunE:  runExperimentsCreate,
}

var experimentsLogsCmd = &cobra.Command{
	Use:   "logs <workflow_id>",
	Short: "Show logs for a workflow",
	Args:  cobra.ExactArgs(1),
	RunE:  runExperimentsLogs,
}

func init() {
	rootCmd.AddCommand(experimentsCmd)
	experimentsCmd.AddCommand(experimentsListCmd)
	experimentsCmd.AddCommand(experimentsShowCmd)
	experimentsCmd.AddCommand(experimentsCreateCmd)
	experimentsCmd.AddCommand(experimentsLogsCmd)

	experimentsListCmd.Flags().StringP("output", "o", "table", "Output format: table, json, yaml")
	experimentsShowCmd.Flags().StringP("output", "o", "yaml", "Output format: table, json, yaml")

	experimentsCreateCmd.Flags().String("name", "", "Experiment name (required)")
	experimentsCreateCmd.Flags().String("description", "", "Experiment description")
	experimentsCreateCmd.Flags().String("dataset", "", "Dataset id (required)")
	experimentsCreateCmd.Flags().String("task", "summarization", "Task")
	experimentsCreateCmd.Flags().Int("max-samples", 0, "Maximum samples (0 = backend default)")
	experimentsCreateCmd.Flags().StringSlice("model", nil, "Model to run as a workflow (repeatable)")
	experimentsCreateCmd.Flags().String("provider", "hf", "Model provider for --model workflows")
	_ = experimentsCreateCmd.MarkFlagRequired("name")
	_ = experimentsCreateCmd.MarkFlagRequired("dataset")

	experimentsLogsCmd.Flags().BoolP("follow", "f", false, "Follow log output while the workflow runs")
	experimentsLogsCmd.Flags().Bool("json", false, "Emit JSONL log records")
}

// experimentView is an experiment with its derived status, for rendering.
type experimentView struct {
	ID          string           `json:"id" yaml:"id"`
	Name        string           `json:"name" yaml:"name"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Dataset     string           `json:"dataset,omitempty" yaml:"dataset,omitempty"`
	Status      status.Status    `json:"status" yaml:"status"`
	Workflows   []tracker.Entity `json:"workflows" yaml:"workflows"`
}

func viewOf(e tracker.Experiment) experimentView {
	return experimentView{
		ID:          e.ID,
		Name:        e.Name,
		Description: e.Description,
		Dataset:     e.Dataset,
		Status:      e.Status(),
		Workflows:   e.Workflows,
	}
}

func loadExperiments(cmd *cobra.Command) (*tracker.Tracker, []tracker.Experiment, error) {
	cfg, err := currentConfig()
	if err != nil {
		return nil, nil, err
	}
	tr, err := newTracker(cfg)
	if err != nil {
		return nil, nil, err
	}
	exps, err := tr.LoadExperiments(cmd.Context())
	if err != nil {
		return nil, nil, exitError(foundry.ExitExternalServiceUnavailable, "list experiments", err)
	}
	return tr, exps, nil
}

func runExperimentsList(cmd *cobra.Command, _ []string) error {
	format, err := parseFormat(mustString(cmd, "output"))
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "invalid flags", err)
	}
	_, exps, err := loadExperiments(cmd)
	if err != nil {
		return err
	}

	views := make([]experimentView, len(exps))
	for i, e := range exps {
		views[i] = viewOf(e)
	}
	if format != formatTable {
		return render(cmd.OutOrStdout(), format, views)
	}
	if len(views) == 0 {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "No experiments found")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()
	_, _ = fmt.Fprintln(w, "EXPERIMENT ID\tNAME\tSTATUS\tWORKFLOWS\tCREATED")
	for i, v := range views {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			shortID(v.ID), v.Name, v.Status, len(v.Workflows), formatRelativeTime(exps[i].CreatedAt))
	}
	return nil
}

func runExperimentsShow(cmd *cobra.Command, args []string) error {
	format, err := parseFormat(mustString(cmd, "output"))
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "invalid flags", err)
	}
	tr, _, err := loadExperiments(cmd)
	if err != nil {
		return err
	}

	exp, ok := tr.Experiment(args[0])
	if !ok {
		return exitError(foundry.ExitInvalidArgument, "experiment not found", fmt.Errorf("no experiment %q", args[0]))
	}
	view := viewOf(exp)
	if format != formatTable {
		return render(cmd.OutOrStdout(), format, view)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "%s  %s  [%s]\n", view.ID, view.Name, view.Status)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()
	_, _ = fmt.Fprintln(w, "WORKFLOW ID\tNAME\tSTATUS\tSTARTED\tENDED")
	for _, wf := range view.Workflows {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			shortID(wf.ID), wf.Name, wf.Status, formatRelativeTime(wf.StartTime), formatOptionalTime(wf.EndTime))
	}
	return nil
}

func runExperimentsCreate(cmd *cobra.Command, _ []string) error {
	cfg, err := currentConfig()
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "invalid api configuration", err)
	}

	maxSamples, _ := cmd.Flags().GetInt("max-samples")
	exp, err := client.CreateExperiment(cmd.Context(), lumigator.CreateExperimentRequest{
		Name:        mustString(cmd, "name"),
		Description: mustString(cmd, "description"),
		Task:        mustString(cmd, "task"),
		Dataset:     mustString(cmd, "dataset"),
		MaxSamples:  maxSamples,
	})
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "create experiment", err)
	}
	observability.CLILogger.Info("Experiment created",
		zap.String("experiment_id", exp.ID), zap.String("name", exp.Name))
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), exp.ID)

	models, _ := cmd.Flags().GetStringSlice("model")
	for _, model := range models {
		wf, err := client.CreateWorkflow(cmd.Context(), lumigator.CreateWorkflowRequest{
			Name:         model,
			ExperimentID: exp.ID,
			Model:        model,
			Provider:     mustString(cmd, "provider"),
		})
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "create workflow", err)
		}
		observability.CLILogger.Info("Workflow created",
			zap.String("experiment_id", exp.ID),
			zap.String("workflow_id", wf.ID),
			zap.String("model", model))
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), wf.ID)
	}
	return nil
}

func runExperimentsLogs(cmd *cobra.Command, args []string) error {
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
	if _, err := tr.LoadExperiments(ctx); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "list experiments", err)
	}

	ref := tracker.WorkflowRef(args[0])
	if _, ok := tr.Entity(ref); !ok {
		return exitError(foundry.ExitInvalidArgument, "workflow not found", fmt.Errorf("no workflow %q", args[0]))
	}
	if err := observeLogs(ctx, tr, ref, cfg.Poll.StatusInterval, follow); err != nil {
		if ctx.Err() != nil {
			return exitError(foundry.ExitSignalInt, "log follow cancelled", ctx.Err())
		}
		return exitError(foundry.ExitExternalServiceUnavailable, "fetch logs", err)
	}
	return nil
}
