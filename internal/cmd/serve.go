package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/lumitrack/internal/errors"
	"github.com/3leaps/lumitrack/internal/observability"
	"github.com/3leaps/lumitrack/internal/server"
	"github.com/3leaps/lumitrack/internal/server/handlers"
	"github.com/3leaps/lumitrack/internal/server/middleware"
	"github.com/3leaps/lumitrack/pkg/lumigator"
	"github.com/3leaps/lumitrack/pkg/poller"
	"github.com/3leaps/lumitrack/pkg/tracker"
)

// reloadEvery is the number of sweeps between full collection reloads.
const reloadEvery = 10

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the tracker state over HTTP",
	Long: `Run the status API.

The server loads jobs and experiments, keeps their statuses fresh with a
background sweep, and exposes them as JSON. A client selects one entity
with PUT /selection to have its logs collected.

Endpoints:
  GET    /health, /health/live, /health/ready, /health/startup, /version
  GET    /jobs, /jobs/{id}, /experiments, /experiments/{id}
  GET    /selection, /selection/logs?offset=N
  PUT    /selection   {"kind":"job","id":"..."}
  DELETE /selection`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "", "Listen host (default: server.host)")
	serveCmd.Flags().Int("port", 0, "Listen port (default: server.port)")
}

// backendHealthChecker calls the backend's own health endpoint.
type backendHealthChecker struct {
	client *lumigator.Client
}

func (b backendHealthChecker) CheckHealth(ctx context.Context) error {
	res, err := b.client.Health(ctx)
	if err != nil {
		return err
	}
	if res.Status != "" && !strings.EqualFold(res.Status, "ok") {
		return fmt.Errorf("backend reports status %q", res.Status)
	}
	return nil
}

// identityHealthChecker fails when the app identity is incomplete.
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (i identityHealthChecker) CheckHealth(context.Context) error {
	switch {
	case i.binaryName == "":
		return errors.New("identity missing binary name")
	case i.envPrefix == "":
		return errors.New("identity missing env prefix")
	case i.configName == "":
		return errors.New("identity missing config name")
	}
	return nil
}

// dataDirHealthChecker fails when the launch registry cannot be written.
type dataDirHealthChecker struct {
	dir string
}

func (d dataDirHealthChecker) CheckHealth(context.Context) error {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	f, err := os.CreateTemp(d.dir, ".healthcheck-*")
	if err != nil {
		return fmt.Errorf("data dir not writable: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := currentConfig()
	if err != nil {
		return err
	}
	host := cfg.Server.Host
	if h := mustString(cmd, "host"); h != "" {
		host = h
	}
	port := cfg.Server.Port
	if p, _ := cmd.Flags().GetInt("port"); p > 0 {
		port = p
	}

	client, err := newClient(cfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "invalid api configuration", err)
	}
	ctx := cmd.Context()

	handlers.InitHealthManager(versionInfo.Version)
	hm := handlers.GetHealthManager()
	hm.RegisterChecker("backend", backendHealthChecker{client: client})
	if id := GetAppIdentity(); id != nil {
		hm.RegisterChecker("identity", identityHealthChecker{
			binaryName: id.BinaryName,
			envPrefix:  id.EnvPrefix,
			configName: id.ConfigName,
		})
	}
	hm.RegisterChecker("data_dir", dataDirHealthChecker{dir: filepath.Join(cfg.DataDir, "launches")})

	handlers.SetHTTPErrorResponder(loggingErrorResponder(observability.CLILogger))
	defer handlers.ResetHTTPErrorResponder()

	tr := tracker.New(client, trackerConfig(cfg))
	defer tr.StopAll()
	reload(ctx, tr)

	sweeper := poller.New(poller.Config{
		Name:       "sweep",
		Logger:     observability.CLILogger,
		MaxBackoff: cfg.Poll.MaxBackoff,
		StallAfter: cfg.Poll.StallAfter,
	})
	sweeps := 0
	sweeper.Start(ctx, cfg.Poll.SweepInterval, func(ctx context.Context) error {
		sweeps++
		if sweeps%reloadEvery == 0 {
			reload(ctx, tr)
		}
		res := tr.UpdateStatusForIncomplete(ctx)
		if res.Checked > 0 && res.Failed == res.Checked {
			return fmt.Errorf("sweep: all %d fetches failed", res.Checked)
		}
		return nil
	})
	defer sweeper.Stop()

	srv := server.New(host, port,
		server.WithTracker(tr),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout, cfg.Server.ShutdownTimeout),
	)
	if err := srv.ListenAndServe(ctx); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "status API failed", err)
	}
	return nil
}

// loggingErrorResponder logs handler failures before writing the envelope.
// Upstream failures are warnings; anything else is an error.
func loggingErrorResponder(logger *zap.Logger) handlers.HTTPErrorResponder {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		statusCode, code := apperrors.Classify(err)
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", statusCode),
			zap.String("code", code),
			zap.String("request_id", middleware.RequestIDFrom(r.Context())),
			zap.Error(err),
		}
		if statusCode >= http.StatusInternalServerError && code != apperrors.CodeUpstreamError {
			logger.Error("Request failed", fields...)
		} else {
			logger.Warn("Request failed", fields...)
		}
		apperrors.RespondWithError(w, r, err)
	}
}

// reload refreshes the collections. Failures are logged; the previous
// collections are kept.
func reload(ctx context.Context, tr *tracker.Tracker) {
	if _, err := tr.LoadJobs(ctx); err != nil {
		observability.CLILogger.Warn("Failed to load jobs", zap.Error(err))
	}
	if _, err := tr.LoadExperiments(ctx); err != nil {
		observability.CLILogger.Warn("Failed to load experiments", zap.Error(err))
	}
}
