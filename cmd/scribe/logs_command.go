package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent daemon log lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := ctx.client()
			out := cmd.OutOrStdout()

			reply, err := client.Logs(cmd.Context(), -1, lines)
			if err != nil {
				return err
			}
			for _, line := range reply.Lines {
				fmt.Fprintln(out, line)
			}
			if !follow {
				return nil
			}

			offset := reply.Offset
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case <-ticker.C:
				}
				reply, err := client.Logs(cmd.Context(), offset, 0)
				if err != nil {
					return err
				}
				for _, line := range reply.Lines {
					fmt.Fprintln(out, line)
				}
				offset = reply.Offset
			}
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 100, "Number of lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep polling for new lines")
	return cmd
}
