package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"tally/internal/api"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the work queue",
	}

	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueMetricsCommand(ctx))

	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue occupancy per priority",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				status, err := client.Status(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, status.Queue)
				}

				queue := status.Queue
				rows := make([][]string, 0, len(queue.PerPriority)+2)
				for priority, count := range queue.PerPriority {
					rows = append(rows, []string{
						"priority " + strconv.Itoa(priority),
						formatCount(count),
					})
				}
				rows = append(rows,
					[]string{"in flight", formatCount(queue.InFlight)},
					[]string{"failed", formatCount(queue.Failed)},
				)

				stdout := cmd.OutOrStdout()
				fmt.Fprintf(stdout, "Workers: %d  Running: %s  Paused: %s\n",
					queue.Concurrency, yesNo(queue.Running), yesNo(queue.Paused))
				fmt.Fprintln(stdout, renderTable(
					[]string{"Bucket", "Items"},
					rows,
					[]columnAlignment{alignLeft, alignRight},
				))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable JSON")
	return cmd
}

func newQueueMetricsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show rolling queue statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				metrics, err := client.QueueMetrics(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, metrics)
				}

				rows := [][]string{
					{"Processed", formatCount(int(metrics.TotalProcessed))},
					{"Failed", formatCount(int(metrics.TotalFailed))},
					{"Avg wait", fmt.Sprintf("%.1f ms", metrics.AverageWaitMS)},
					{"Avg processing", fmt.Sprintf("%.1f ms", metrics.AverageProcessingMS)},
					{"Throughput", fmt.Sprintf("%.2f items/s", metrics.ThroughputPerSecond)},
					{"Error rate", formatPercent(metrics.ErrorRate * 100)},
					{"Load", formatPercent(metrics.CurrentLoad * 100)},
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Metric", "Value"},
					rows,
					[]columnAlignment{alignLeft, alignRight},
				))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable JSON")
	return cmd
}
