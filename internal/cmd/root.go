// Package cmd implements the lumitrack command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/lumitrack/internal/config"
	"github.com/3leaps/lumitrack/internal/observability"
	"github.com/3leaps/lumitrack/internal/server/handlers"
	"github.com/3leaps/lumitrack/pkg/lumigator"
	"github.com/3leaps/lumitrack/pkg/registry"
	"github.com/3leaps/lumitrack/pkg/tracker"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

var appIdentity *config.Identity

var (
	cfgFile     string
	logLevel    string
	apiOverride string
)

var rootCmd = &cobra.Command{
	Use:   "lumitrack",
	Short: "Track Lumigator jobs, workflows and experiments",
	Long: `lumitrack follows the lifecycle of asynchronous jobs and workflows on a
Lumigator backend: it lists them, streams the logs of one selected entity
while it runs, refreshes the status of everything still in flight, and
launches ground-truth annotation jobs.

Configuration is read from lumitrack.yaml (current directory or the user
config directory), LUMITRACK_* environment variables, and flags.`,
	SilenceUsage:      true,
	PersistentPreRunE: initRuntime,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./lumitrack.yaml or $XDG_CONFIG_HOME/lumitrack/lumitrack.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&apiOverride, "api", "", "Backend API base URL (e.g. http://localhost:8000/api/v1)")
}

// SetVersionInfo records build metadata.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

// GetAppIdentity returns the identity set up by the root command, or nil
// before a command has run.
func GetAppIdentity() *config.Identity {
	return appIdentity
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command
// context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func initRuntime(cmd *cobra.Command, _ []string) error {
	id := config.DefaultIdentity
	appIdentity = &id

	config.SetConfigFile(cfgFile)
	cfg, err := config.Load(cmd.Context(), runtimeOverrides())
	if err != nil {
		return err
	}

	if err := observability.ConfigureCLILogger(id.BinaryName, cfg.Logging.Level, cfg.Logging.Profile); err != nil {
		return err
	}
	observability.CLILogger.Debug("Configuration loaded",
		zap.String("api", cfg.API.BaseURL),
		zap.String("data_dir", cfg.DataDir))
	return nil
}

// runtimeOverrides maps persistent flags onto config keys.
func runtimeOverrides() map[string]any {
	overrides := map[string]any{}
	if apiOverride != "" {
		overrides["api"] = map[string]any{"base_url": apiOverride}
	}
	if logLevel != "" {
		overrides["logging"] = map[string]any{"level": logLevel}
	}
	return overrides
}

func currentConfig() (*config.Config, error) {
	cfg := config.GetConfig()
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return cfg, nil
}

func newClient(cfg *config.Config) (*lumigator.Client, error) {
	return lumigator.NewClient(lumigator.Config{
		BaseURL:   cfg.API.BaseURL,
		Timeout:   cfg.API.Timeout,
		RateLimit: cfg.API.RateLimit,
		UserAgent: "lumitrack/" + versionInfo.Version,
		Logger:    observability.CLILogger.Named("api"),
	})
}

// trackerConfig builds the tracker configuration from cfg. Callers attach
// sinks and hooks.
func trackerConfig(cfg *config.Config) tracker.Config {
	tc := tracker.DefaultConfig()
	tc.Logger = observability.CLILogger.Named("tracker")
	tc.LogInterval = cfg.Poll.LogInterval
	tc.StatusInterval = cfg.Poll.StatusInterval
	tc.Workers = cfg.Workers
	tc.MaxBackoff = cfg.Poll.MaxBackoff
	tc.StallAfter = cfg.Poll.StallAfter
	tc.JobGlob = cfg.AnnotationGlob
	return tc
}

func launchStore(cfg *config.Config) *registry.Store {
	return registry.NewStore(filepath.Join(cfg.DataDir, "launches"))
}

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s: %v (exit code %d)", e.Message, e.Err, e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &ExitError{Code: code, Message: message, Err: err}
}
