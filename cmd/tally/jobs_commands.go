package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tally/internal/api"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage batch jobs",
	}

	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsClearCommand(ctx))

	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string
	var fromHistory bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				jobs, err := client.Jobs(cmd.Context(), fromHistory, listStatuses...)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, jobs)
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
					return nil
				}
				rendered := renderTable(
					[]string{"ID", "Name", "Processor", "Status", "Progress", "Items", "Created"},
					buildJobRows(jobs),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), rendered)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&listStatuses, "status", "s", nil, "Filter by job status (repeatable)")
	cmd.Flags().BoolVar(&fromHistory, "history", false, "List from the persistent journal instead of the live table")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable JSON")
	return cmd
}

func buildJobRows(jobs []api.JobSummary) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			job.ID,
			job.Name,
			job.Processor,
			job.Status,
			formatPercent(job.Progress.Percentage),
			fmt.Sprintf("%s/%s", formatCount(job.Progress.Processed), formatCount(job.Progress.Total)),
			formatTimestamp(job.CreatedAt),
		})
	}
	return rows
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				job, err := client.Job(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, job)
				}
				renderJobDetail(cmd, job)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable JSON")
	return cmd
}

func renderJobDetail(cmd *cobra.Command, job api.JobSummary) {
	stdout := cmd.OutOrStdout()
	colorize := shouldColorize(stdout)

	for _, line := range renderSectionHeader("Job "+job.ID, colorize) {
		fmt.Fprintln(stdout, line)
	}
	fmt.Fprintln(stdout, renderStatusLine("Name", statusInfo, job.Name, colorize))
	fmt.Fprintln(stdout, renderStatusLine("Type", statusInfo, job.Type, colorize))
	fmt.Fprintln(stdout, renderStatusLine("Processor", statusInfo, job.Processor, colorize))
	fmt.Fprintln(stdout, renderStatusLine("Status", jobStatusKind(job.Status), job.Status, colorize))
	fmt.Fprintln(stdout, renderStatusLine("Progress", statusInfo, fmt.Sprintf(
		"%s (%s/%s items, batch %d/%d)",
		formatPercent(job.Progress.Percentage),
		formatCount(job.Progress.Processed),
		formatCount(job.Progress.Total),
		job.Progress.CurrentBatch,
		job.Progress.TotalBatches,
	), colorize))
	if job.Progress.EtaSeconds > 0 && job.Result == nil {
		fmt.Fprintln(stdout, renderStatusLine("ETA", statusInfo, formatSeconds(job.Progress.EtaSeconds), colorize))
	}
	fmt.Fprintln(stdout, renderStatusLine("Created", statusInfo, formatTimestamp(job.CreatedAt), colorize))
	if job.StartedAt != "" {
		fmt.Fprintln(stdout, renderStatusLine("Started", statusInfo, formatTimestamp(job.StartedAt), colorize))
	}
	if job.CompletedAt != "" {
		fmt.Fprintln(stdout, renderStatusLine("Completed", statusInfo, formatTimestamp(job.CompletedAt), colorize))
	}

	if job.Result == nil {
		return
	}

	fmt.Fprintln(stdout)
	for _, line := range renderSectionHeader("Result", colorize) {
		fmt.Fprintln(stdout, line)
	}
	outcomeKind := statusOK
	outcome := "success"
	if !job.Result.Success {
		outcomeKind = statusError
		outcome = "failed"
	}
	fmt.Fprintln(stdout, renderStatusLine("Outcome", outcomeKind, outcome, colorize))
	fmt.Fprintln(stdout, renderStatusLine("Succeeded", statusInfo, formatCount(job.Result.SucceededItems), colorize))
	failedKind := statusInfo
	if job.Result.FailedItems > 0 {
		failedKind = statusWarn
	}
	fmt.Fprintln(stdout, renderStatusLine("Failed", failedKind, formatCount(job.Result.FailedItems), colorize))
	fmt.Fprintln(stdout, renderStatusLine("Duration", statusInfo, formatSeconds(job.Result.DurationSeconds), colorize))
	fmt.Fprintln(stdout, renderStatusLine("Throughput", statusInfo, fmt.Sprintf("%.1f items/s", job.Result.Throughput), colorize))

	if len(job.Result.Errors) > 0 {
		fmt.Fprintln(stdout)
		for _, line := range renderSectionHeader("Errors", colorize) {
			fmt.Fprintln(stdout, line)
		}
		for _, jobErr := range job.Result.Errors {
			fmt.Fprintf(stdout, "%sbatch %d item %d (attempt %d): %s\n",
				statusIndent, jobErr.BatchIndex, jobErr.ItemIndex, jobErr.Attempt, jobErr.Message)
		}
	}
	if len(job.Result.Warnings) > 0 {
		fmt.Fprintln(stdout)
		for _, line := range renderSectionHeader("Warnings", colorize) {
			fmt.Fprintln(stdout, line)
		}
		for _, warning := range job.Result.Warnings {
			fmt.Fprintln(stdout, statusIndent+warning)
		}
	}
}

func jobStatusKind(status string) statusKind {
	switch status {
	case "completed":
		return statusOK
	case "failed":
		return statusError
	case "paused", "cancelled":
		return statusWarn
	default:
		return statusInfo
	}
}

func newJobsClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove completed and failed jobs from the live table",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				removed, err := client.ClearJobs(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d jobs\n", removed)
				return nil
			})
		},
	}
}
