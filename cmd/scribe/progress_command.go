package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newProgressCommand(ctx *commandContext) *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "progress <job-id>",
		Short: "Show progress for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client := ctx.client()
			out := cmd.OutOrStdout()

			if !follow {
				event, err := client.ProgressLatest(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%3d%%  %-12s %s\n", event.Percent, event.Status, event.Message)
				return nil
			}

			var since uint64
			for {
				events, err := client.ProgressFetch(cmd.Context(), id, since)
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				}
				for _, event := range events {
					fmt.Fprintf(out, "%3d%%  %-12s %s\n", event.Percent, event.Status, event.Message)
					since = event.Sequence
					if event.Terminal() {
						return nil
					}
				}
				select {
				case <-cmd.Context().Done():
					return nil
				default:
				}
			}
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stream events until the job finishes")
	return cmd
}
