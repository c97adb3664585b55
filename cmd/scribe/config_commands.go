package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"scribe/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigShowCommand(ctx))

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a sample configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				target = config.DefaultConfigPath()
			}
			if err := config.WriteSample(target); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Set OPENAI_API_KEY, OPENROUTER_API_KEY, and GEMINI_API_KEY (or edit the file) before starting the daemon.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	return cmd
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config file: %s\n", ctx.configPath)
			fmt.Fprintf(out, "Inbox:       %s\n", cfg.Paths.InboxDir)
			fmt.Fprintf(out, "Work dir:    %s\n", cfg.Paths.WorkDir)
			fmt.Fprintf(out, "State dir:   %s\n", cfg.Paths.StateDir)
			fmt.Fprintf(out, "Log dir:     %s\n", cfg.Paths.LogDir)
			fmt.Fprintf(out, "API bind:    %s\n", cfg.Paths.APIBind)
			fmt.Fprintf(out, "Transcriber: %s (%s)\n", cfg.Transcriber.Model, redact(cfg.Transcriber.APIKey))
			fmt.Fprintf(out, "LLM:         %s (%s)\n", cfg.LLM.Model, redact(cfg.LLM.APIKey))
			fmt.Fprintf(out, "Article:     %s (%s)\n", cfg.Article.Model, redact(cfg.Article.APIKey))
			fmt.Fprintf(out, "Workers:     %d per stage, %d attempts, %ds backoff\n",
				cfg.Workflow.WorkerConcurrency, cfg.Workflow.MaxAttempts, cfg.Workflow.RetryBackoffSeconds)
			return nil
		},
	}
}

func redact(key string) string {
	if strings.TrimSpace(key) == "" {
		return "key unset"
	}
	return "key set"
}
