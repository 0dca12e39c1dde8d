package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/batchdeck/internal/config"
	"github.com/3leaps/batchdeck/internal/observability"
)

var triggerCmd = &cobra.Command{
	Use:   "trigger <job_type>",
	Short: "Run a batch job now",
	Long: `Trigger a batch job through /api/batch/trigger/{job_type} and wait for
the backend to answer.

On failure the backend's detail text is printed. The exit code is 32 when
the backend is unreachable, 40 when it rejects the job type, and 1 for
any other failure.

Examples:
  batchdeck trigger daily_analysis
  batchdeck trigger weekly_report -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runTrigger,
}

func init() {
	rootCmd.AddCommand(triggerCmd)
	addOutputFlag(triggerCmd)
}

func runTrigger(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.GetConfig()
	jobType := args[0]

	printer, err := newPrinter(cmd, cfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --output value", err)
	}
	client, err := newClient(cfg)
	if err != nil {
		return exitError(foundry.ExitConfigInvalid, "Invalid backend settings", err)
	}

	observability.CLILogger.Info("Triggering batch job", zap.String("job_type", jobType))
	res, err := client.TriggerBatch(ctx, jobType)
	if err != nil {
		return reportFailure(cmd, printer, "Job run failed", err)
	}
	return printer.Trigger(ctx, jobType, res)
}
