package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"tally/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, queue, and job status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				status, err := client.Status(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, status)
				}
				renderStatus(cmd, status)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable JSON")
	return cmd
}

func renderStatus(cmd *cobra.Command, status api.DaemonStatus) {
	stdout := cmd.OutOrStdout()
	colorize := shouldColorize(stdout)

	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(stdout, line)
	}
	daemonKind := statusOK
	daemonMessage := fmt.Sprintf("pid %d", status.PID)
	if !status.Running {
		daemonKind = statusError
		daemonMessage = "stopped"
	}
	fmt.Fprintln(stdout, renderStatusLine("Daemon", daemonKind, daemonMessage, colorize))
	if status.JournalPath != "" {
		fmt.Fprintln(stdout, renderStatusLine("Journal", statusInfo, status.JournalPath, colorize))
	}
	if status.LockFilePath != "" {
		fmt.Fprintln(stdout, renderStatusLine("Lock file", statusInfo, status.LockFilePath, colorize))
	}
	fmt.Fprintln(stdout)

	for _, line := range renderSectionHeader("Queue", colorize) {
		fmt.Fprintln(stdout, line)
	}
	queueKind := statusOK
	queueMessage := fmt.Sprintf("%d workers", status.Queue.Concurrency)
	switch {
	case !status.Queue.Running:
		queueKind = statusWarn
		queueMessage = "stopped"
	case status.Queue.Paused:
		queueKind = statusWarn
		queueMessage = "paused"
	}
	fmt.Fprintln(stdout, renderStatusLine("Workers", queueKind, queueMessage, colorize))
	fmt.Fprintln(stdout, renderStatusLine("Pending", statusInfo, formatCount(status.Queue.Pending), colorize))
	fmt.Fprintln(stdout, renderStatusLine("In flight", statusInfo, formatCount(status.Queue.InFlight), colorize))
	failedKind := statusInfo
	if status.Queue.Failed > 0 {
		failedKind = statusWarn
	}
	fmt.Fprintln(stdout, renderStatusLine("Failed", failedKind, formatCount(status.Queue.Failed), colorize))
	fmt.Fprintln(stdout)

	for _, line := range renderSectionHeader("Jobs", colorize) {
		fmt.Fprintln(stdout, line)
	}
	if len(status.JobsByStatus) == 0 {
		fmt.Fprintln(stdout, statusIndent+"No jobs")
	} else {
		names := make([]string, 0, len(status.JobsByStatus))
		for name := range status.JobsByStatus {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			kind := statusInfo
			if name == "failed" {
				kind = statusWarn
			}
			fmt.Fprintln(stdout, renderStatusLine(capitalize(name), kind, formatCount(status.JobsByStatus[name]), colorize))
		}
	}
	fmt.Fprintln(stdout)

	for _, line := range renderSectionHeader("Processors", colorize) {
		fmt.Fprintln(stdout, line)
	}
	if len(status.Processors) == 0 {
		fmt.Fprintln(stdout, statusIndent+"None registered")
	} else {
		fmt.Fprintln(stdout, statusIndent+strings.Join(status.Processors, ", "))
	}
}

func capitalize(value string) string {
	if value == "" {
		return value
	}
	return strings.ToUpper(value[:1]) + value[1:]
}
