package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/batchdeck/internal/config"
	"github.com/3leaps/batchdeck/internal/observability"
	"github.com/3leaps/batchdeck/pkg/backendapi"
	"github.com/3leaps/batchdeck/pkg/output"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show job counters and recent jobs",
	Long: `Fetch /api/batch/status once and print the running, completed and
failed counters followed by the recent jobs.

Examples:
  batchdeck status
  batchdeck status -o yaml
  batchdeck status -o jsonl | jq 'select(.type == "batchdeck.job.v1")'`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	addOutputFlag(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg := config.GetConfig()

	printer, err := newPrinter(cmd, cfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --output value", err)
	}
	client, err := newClient(cfg)
	if err != nil {
		return exitError(foundry.ExitConfigInvalid, "Invalid backend settings", err)
	}

	snap, err := client.BatchStatus(ctx)
	if err != nil {
		return reportFailure(cmd, printer, "Status query failed", err)
	}
	return printer.Snapshot(ctx, snap)
}

func addOutputFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", "table", "Output format: table, json, jsonl, yaml")
}

func newPrinter(cmd *cobra.Command, cfg *config.Config) (output.Printer, error) {
	raw, _ := cmd.Flags().GetString("output")
	format, err := output.ParseFormat(raw)
	if err != nil {
		return output.Printer{}, err
	}
	display, err := cfg.DisplayOptions()
	if err != nil {
		return output.Printer{}, err
	}
	return output.Printer{
		W:       cmd.OutOrStdout(),
		Format:  format,
		Display: display,
		Backend: cfg.Backend.BaseURL,
	}, nil
}

// reportFailure emits an error record in jsonl mode and returns the error
// with the operator-facing message and an exit code for its kind.
func reportFailure(cmd *cobra.Command, printer output.Printer, prefix string, err error) error {
	observability.CLILogger.Debug(prefix,
		zap.String("kind", string(backendapi.Classify(err))),
		zap.Error(err))
	if werr := printer.Failure(cmd.Context(), err); werr != nil {
		_, _ = fmt.Fprintln(os.Stderr, "failed to write error record:", werr)
	}
	return exitError(backendExitCode(err), prefix, errors.New(backendapi.Message(err)))
}
