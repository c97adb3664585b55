package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon record and job counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := ctx.client().Status(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			fmt.Fprintln(out, "Records:")
			for _, key := range sortedKeys(status.Records) {
				fmt.Fprintln(out, renderCountLine(key, status.Records[key], colorize))
			}
			fmt.Fprintln(out, "Jobs:")
			for _, key := range sortedKeys(status.Jobs) {
				fmt.Fprintln(out, renderCountLine(key, status.Jobs[key], colorize))
			}
			return nil
		},
	}
}

func renderCountLine(label string, count int, colorize bool) string {
	line := fmt.Sprintf("  %-12s %s", label, strconv.Itoa(count))
	if !colorize || count == 0 {
		return line
	}
	switch label {
	case "error", "failed":
		return ansiRed + line + ansiReset
	case "done", "completed":
		return ansiGreen + line + ansiReset
	case "processing", "active", "delayed":
		return ansiYellow + line + ansiReset
	default:
		return line
	}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
