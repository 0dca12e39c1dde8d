package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/batchdeck/internal/config"
	"github.com/3leaps/batchdeck/pkg/batch"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List batch jobs",
	Long: `List batch jobs from /api/batch/jobs, newest first as the backend
returns them.

--type takes a glob matched against the job type, so "*_report" or
"daily_*" select a family of jobs.

Examples:
  batchdeck jobs
  batchdeck jobs --type 'weekly_*' --limit 20
  batchdeck jobs -o json`,
	Args: cobra.NoArgs,
	RunE: runJobs,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	addOutputFlag(jobsCmd)
	jobsCmd.Flags().String("type", "", "Job type glob filter")
	jobsCmd.Flags().Int("skip", 0, "Number of jobs to skip")
	jobsCmd.Flags().Int("limit", 50, "Maximum jobs to fetch")
}

func runJobs(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg := config.GetConfig()

	pattern, _ := cmd.Flags().GetString("type")
	skip, _ := cmd.Flags().GetInt("skip")
	limit, _ := cmd.Flags().GetInt("limit")
	if skip < 0 || limit < 1 {
		return exitError(foundry.ExitInvalidArgument, "Invalid paging flags",
			fmt.Errorf("--skip must be >= 0 and --limit >= 1"))
	}

	printer, err := newPrinter(cmd, cfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --output value", err)
	}
	client, err := newClient(cfg)
	if err != nil {
		return exitError(foundry.ExitConfigInvalid, "Invalid backend settings", err)
	}

	jobs, err := client.BatchJobs(ctx, skip, limit)
	if err != nil {
		return reportFailure(cmd, printer, "Job list query failed", err)
	}
	jobs, err = batch.FilterByType(jobs, pattern)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --type value", err)
	}
	return printer.Jobs(ctx, jobs)
}
