// Package cmd implements the batchdeck command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/batchdeck/internal/config"
	"github.com/3leaps/batchdeck/internal/observability"
	"github.com/3leaps/batchdeck/pkg/backendapi"
)

const serviceName = "batchdeck"

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata injected via ldflags.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var rootCmd = &cobra.Command{
	Use:   serviceName,
	Short: "Operator dashboard and test console for the batch analysis backend",
	Long: `batchdeck watches the batch analysis backend and lets operators run jobs.

'batchdeck serve' hosts two pages: a dashboard that polls job status and
can trigger batch jobs, and a test console for exercising the user,
analysis and system endpoints. The remaining commands query the backend
directly from the terminal.

Configuration is read from batchdeck.yaml (or --config), BATCHDECK_*
environment variables, and flags, in increasing precedence.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initConfig,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Config file path (default: ./batchdeck.yaml)")
	pf.String("backend-url", "", "Backend base URL (overrides backend.base_url)")
	pf.String("log-level", "", "Log level: debug, info, warn, error")
	pf.BoolP("verbose", "v", false, "Enable debug logging")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		observability.Sync()
		os.Exit(exitCode(err))
	}
	observability.Sync()
}

func initConfig(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")
	config.SetConfigFile(path)

	cfg, err := config.Load(cmd.Context(), flagOverrides(cmd))
	if err != nil {
		return exitError(foundry.ExitConfigInvalid, "Invalid configuration", err)
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	logger, err := observability.InitLogger(observability.LogOptions{
		Service: serviceName,
		Level:   cfg.Logging.Level,
		Verbose: verbose,
		File: observability.FileSink{
			Path:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
		},
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.Debug("Configuration loaded",
		zap.String("backend", cfg.Backend.BaseURL),
		zap.String("timezone", cfg.Display.Timezone))
	return nil
}

// flagOverrides maps changed persistent flags onto config keys.
func flagOverrides(cmd *cobra.Command) map[string]any {
	overrides := map[string]any{}
	if f := cmd.Flag("backend-url"); f != nil && f.Changed {
		overrides["backend.base_url"] = f.Value.String()
	}
	if f := cmd.Flag("log-level"); f != nil && f.Changed {
		overrides["logging.level"] = f.Value.String()
	}
	return overrides
}

func newClient(cfg *config.Config) (*backendapi.Client, error) {
	bc := cfg.BackendClientConfig()
	bc.UserAgent = serviceName + "/" + versionInfo.Version
	return backendapi.New(bc, backendapi.WithLogger(observability.CLILogger))
}
