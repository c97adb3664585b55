package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateTranscriber(); err != nil {
		return err
	}
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		return errors.New("paths.state_dir must be set")
	}
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		return errors.New("paths.work_dir must be set")
	}
	if strings.TrimSpace(c.Paths.APIBind) == "" {
		return errors.New("paths.api_bind must be set")
	}
	return nil
}

func (c *Config) validateTranscriber() error {
	if strings.TrimSpace(c.Transcriber.BaseURL) == "" {
		return errors.New("transcriber.base_url must be set")
	}
	if strings.TrimSpace(c.Transcriber.Model) == "" {
		return errors.New("transcriber.model must be set")
	}
	if err := ensurePositiveMap(map[string]int{
		"transcriber.timeout_seconds":    c.Transcriber.TimeoutSeconds,
		"transcriber.chunk_threshold_mb": c.Transcriber.ChunkThresholdMB,
		"transcriber.chunk_seconds":      c.Transcriber.ChunkSeconds,
		"transcriber.chunk_concurrency":  c.Transcriber.ChunkConcurrency,
	}); err != nil {
		return err
	}
	if strings.TrimSpace(c.Transcriber.FFmpegBinary) == "" {
		return errors.New("transcriber.ffmpeg_binary must be set")
	}
	if strings.TrimSpace(c.Transcriber.FFprobeBinary) == "" {
		return errors.New("transcriber.ffprobe_binary must be set")
	}
	return nil
}

func (c *Config) validateLLM() error {
	if strings.TrimSpace(c.LLM.BaseURL) == "" {
		return errors.New("llm.base_url must be set")
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		return errors.New("llm.model must be set")
	}
	if c.LLM.TimeoutSeconds <= 0 {
		return errors.New("llm.timeout_seconds must be positive")
	}
	if strings.TrimSpace(c.Article.Model) == "" {
		return errors.New("article.model must be set")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.poll_interval_seconds":   c.Workflow.PollIntervalSeconds,
		"workflow.error_retry_seconds":     c.Workflow.ErrorRetrySeconds,
		"workflow.stage_timeout_minutes":   c.Workflow.StageTimeoutMinutes,
		"workflow.worker_concurrency":      c.Workflow.WorkerConcurrency,
		"workflow.max_attempts":            c.Workflow.MaxAttempts,
		"workflow.retry_backoff_seconds":   c.Workflow.RetryBackoffSeconds,
		"workflow.reaper_interval_minutes": c.Workflow.ReaperIntervalMinutes,
		"workflow.stall_timeout_minutes":   c.Workflow.StallTimeoutMinutes,
	}); err != nil {
		return err
	}
	if c.Workflow.StallTimeoutMinutes <= c.Workflow.StageTimeoutMinutes {
		return errors.New("workflow.stall_timeout_minutes must be greater than workflow.stage_timeout_minutes")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error (got %q)", c.Logging.Level)
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json (got %q)", c.Logging.Format)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
