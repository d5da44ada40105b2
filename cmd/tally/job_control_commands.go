package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"tally/internal/api"
)

func newJobControlCommands(ctx *commandContext) []*cobra.Command {
	pauseCmd := newJobControlCommand(ctx, "pause", "Pause a running job at the next batch boundary",
		func(reqCtx context.Context, client *api.Client, id string) error {
			return client.PauseJob(reqCtx, id)
		}, "Paused job %s\n")

	resumeCmd := newJobControlCommand(ctx, "resume", "Resume a paused job",
		func(reqCtx context.Context, client *api.Client, id string) error {
			return client.ResumeJob(reqCtx, id)
		}, "Resumed job %s\n")

	cancelCmd := newJobControlCommand(ctx, "cancel", "Cancel a job",
		func(reqCtx context.Context, client *api.Client, id string) error {
			return client.CancelJob(reqCtx, id)
		}, "Cancelled job %s\n")

	return []*cobra.Command{pauseCmd, resumeCmd, cancelCmd}
}

func newJobControlCommand(
	ctx *commandContext,
	verb, short string,
	action func(context.Context, *api.Client, string) error,
	confirmation string,
) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <job-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				if err := action(cmd.Context(), client, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), confirmation, args[0])
				return nil
			})
		},
	}
}
