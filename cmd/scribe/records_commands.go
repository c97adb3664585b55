package main

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"scribe/internal/apiclient"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List records and their pipeline progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := ctx.client().ListRecords(cmd.Context(), statusFilter)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No records")
				return nil
			}

			rows := make([][]string, 0, len(list))
			for _, record := range list {
				detail := record.Message
				if record.Error != "" {
					detail = record.Error
				}
				rows = append(rows, []string{
					strconv.FormatInt(record.ID, 10),
					record.Title,
					record.Status,
					strconv.Itoa(record.Percent) + "%",
					truncate(detail, 60),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "TITLE", "STATUS", "PROGRESS", "DETAIL"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "Filter by status (uploaded, processing, transcribed, summarized, done, error)")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var artifact string

	cmd := &cobra.Command{
		Use:   "show <record-id>",
		Short: "Show a record and its artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			record, err := ctx.client().GetRecord(cmd.Context(), id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if artifact != "" {
				return printArtifact(out, record, artifact)
			}

			fmt.Fprintf(out, "Record %d: %s\n", record.ID, record.Title)
			fmt.Fprintf(out, "  Source:   %s\n", record.SourcePath)
			fmt.Fprintf(out, "  Status:   %s (%d%%)\n", record.Status, record.Percent)
			if record.Message != "" {
				fmt.Fprintf(out, "  Note:     %s\n", record.Message)
			}
			if record.Error != "" {
				fmt.Fprintf(out, "  Error:    %s\n", record.Error)
			}
			fmt.Fprintf(out, "  Created:  %s\n", record.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			fmt.Fprintf(out, "  Updated:  %s\n", record.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
			fmt.Fprintf(out, "  Artifacts: transcript=%s timestamps=%s summary=%s article=%s\n",
				presence(record.Transcript != ""),
				presence(len(record.TimestampIndex) > 0),
				presence(record.Summary != ""),
				presence(record.Article != ""))
			return nil
		},
	}

	cmd.Flags().StringVar(&artifact, "artifact", "", "Print one artifact (transcript, timestamps, summary, article)")
	return cmd
}

func printArtifact(out io.Writer, record apiclient.Record, artifact string) error {
	var content string
	switch strings.ToLower(artifact) {
	case "transcript":
		content = record.Transcript
	case "timestamps":
		content = string(record.TimestampIndex)
	case "summary":
		content = record.Summary
	case "article":
		content = record.Article
	default:
		return fmt.Errorf("unknown artifact %q (want transcript, timestamps, summary, or article)", artifact)
	}
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("record %d has no %s yet", record.ID, artifact)
	}
	fmt.Fprintln(out, content)
	return nil
}

func newAddCommand(ctx *commandContext) *cobra.Command {
	var start bool

	cmd := &cobra.Command{
		Use:   "add <media-file>",
		Short: "Register a media file with the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			absPath, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolve source path: %w", err)
			}
			reply, err := ctx.client().AddRecord(cmd.Context(), absPath, start)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Record %d: %s (%s)\n",
				reply.Record.ID, reply.Record.Title, reply.Record.Status)
			if reply.Job != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Job %d enqueued (%s)\n", reply.Job.ID, reply.Job.Stage)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&start, "start", true, "Start processing immediately")
	return cmd
}

func newStartCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "start <record-id>",
		Short: "Process a record from its next unmet stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			reply, err := ctx.client().Start(cmd.Context(), id)
			if err != nil {
				return err
			}
			if reply.Job == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to do")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %d enqueued (%s)\n", reply.Job.ID, reply.Job.Stage)
			return nil
		},
	}
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	var fromStage string

	cmd := &cobra.Command{
		Use:   "retry <record-id>",
		Short: "Retry a failed record, optionally from a specific stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client := ctx.client()

			var reply apiclient.StartReply
			if fromStage != "" {
				reply, err = client.RetryFrom(cmd.Context(), id, fromStage)
			} else {
				reply, err = client.Retry(cmd.Context(), id)
			}
			if err != nil {
				return err
			}
			if reply.Job == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to do")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %d enqueued (%s)\n", reply.Job.ID, reply.Job.Stage)
			return nil
		},
	}

	cmd.Flags().StringVar(&fromStage, "from", "", "Stage to resume from (transcribe, timestamps, summarize, article)")
	return cmd
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid record id %q", raw)
	}
	return id, nil
}

func presence(ok bool) string {
	if ok {
		return "yes"
	}
	return "no"
}

func truncate(value string, limit int) string {
	value = strings.Join(strings.Fields(value), " ")
	if len(value) <= limit {
		return value
	}
	return value[:limit-3] + "..."
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
