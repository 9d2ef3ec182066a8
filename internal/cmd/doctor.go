package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/lumitrack/internal/observability"
)

const doctorTimeout = 10 * time.Second

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the local setup and the configured backend.

Examples:
  lumitrack doctor
  lumitrack doctor --api http://lumigator.internal:8000/api/v1`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	identity := GetAppIdentity()
	bannerName := "doctor"
	if identity != nil && identity.BinaryName != "" {
		bannerName = identity.BinaryName + " doctor"
	}
	observability.CLILogger.Info("=== " + bannerName + " ===")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("Running diagnostic checks...")
	observability.CLILogger.Info("")

	cfg, err := currentConfig()
	if err != nil {
		return err
	}

	allChecks := true
	checkNum := 1
	const totalChecks = 6

	// Check 1: Go version
	goVersion := runtime.Version()
	if goVersion >= "go1.23" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Go version... ✅ %s", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
	} else {
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking Go version... ⚠️  %s (recommended: go1.23+)", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
		allChecks = false
	}
	checkNum++

	// Check 2: Crucible access
	version := crucible.GetVersion()
	if version.Crucible != "" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Crucible access... ✅ v%s", checkNum, totalChecks, version.Crucible),
			zap.String("crucible_version", version.Crucible))
	} else {
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking Crucible access... ⚠️  Cannot access Crucible", checkNum, totalChecks))
		allChecks = false
	}
	checkNum++

	// Check 3: Config directory
	configDir, err := os.UserConfigDir()
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking config directory... ❌ Cannot find config directory", checkNum, totalChecks),
			zap.Error(err))
		allChecks = false
	} else {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking config directory... ✅ %s", checkNum, totalChecks, filepath.Join(configDir, "lumitrack")),
			zap.String("config_dir", configDir))
	}
	checkNum++

	// Check 4: Data directory
	if err := (dataDirHealthChecker{dir: filepath.Join(cfg.DataDir, "launches")}).CheckHealth(cmd.Context()); err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking data directory... ❌ %s", checkNum, totalChecks, cfg.DataDir),
			zap.Error(err))
		allChecks = false
	} else {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking data directory... ✅ %s", checkNum, totalChecks, cfg.DataDir),
			zap.String("data_dir", cfg.DataDir))
	}
	checkNum++

	// Check 5: Environment
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking environment... ✅ %s/%s", checkNum, totalChecks, runtime.GOOS, runtime.GOARCH),
		zap.String("os", runtime.GOOS),
		zap.String("arch", runtime.GOARCH))
	checkNum++

	// Check 6: Backend
	backendOK := checkBackend(cmd.Context(), checkNum, totalChecks, cfg.API.BaseURL)
	allChecks = allChecks && backendOK

	observability.CLILogger.Info("")
	if allChecks {
		observability.CLILogger.Info(fmt.Sprintf("✅ All checks passed! Your %s setup is healthy.", bannerName))
	} else {
		observability.CLILogger.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	observability.CLILogger.Info("")
	observability.CLILogger.Info("=== End Diagnostics ===")

	if !backendOK {
		return exitError(foundry.ExitExternalServiceUnavailable, "backend unreachable", fmt.Errorf("%s", cfg.API.BaseURL))
	}
	return nil
}

func checkBackend(ctx context.Context, checkNum, totalChecks int, baseURL string) bool {
	cfg, err := currentConfig()
	if err != nil {
		return false
	}
	client, err := newClient(cfg)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking backend... ❌ Invalid API URL", checkNum, totalChecks),
			zap.String("api", baseURL), zap.Error(err))
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, doctorTimeout)
	defer cancel()
	res, err := client.Health(ctx)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking backend... ❌ %s", checkNum, totalChecks, baseURL),
			zap.Error(err))
		printBackendHelp()
		return false
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking backend... ✅ %s", checkNum, totalChecks, baseURL),
		zap.String("status", res.Status),
		zap.String("deployment_type", res.DeploymentType))
	return true
}

// printBackendHelp prints help for pointing lumitrack at a backend.
func printBackendHelp() {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("To point lumitrack at a backend:")
	observability.CLILogger.Info("  1. Pass --api http://<host>:8000/api/v1, or")
	observability.CLILogger.Info("  2. Set LUMITRACK_API_URL, or")
	observability.CLILogger.Info("  3. Set api.base_url in lumitrack.yaml")
	observability.CLILogger.Info("")
}
