package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	InboxDir string `toml:"inbox_dir"`
	WorkDir  string `toml:"work_dir"`
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
}

// Transcriber configures the speech-to-text provider and chunking behavior.
type Transcriber struct {
	APIKey           string `toml:"api_key"`
	BaseURL          string `toml:"base_url"`
	Model            string `toml:"model"`
	TimeoutSeconds   int    `toml:"timeout_seconds"`
	ChunkThresholdMB int    `toml:"chunk_threshold_mb"`
	ChunkSeconds     int    `toml:"chunk_seconds"`
	ChunkConcurrency int    `toml:"chunk_concurrency"`
	FFmpegBinary     string `toml:"ffmpeg_binary"`
	FFprobeBinary    string `toml:"ffprobe_binary"`
}

// LLM contains the chat-completion provider settings shared by the
// timestamp-extraction and summarize stages.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Article configures the Gemini-backed article writer.
type Article struct {
	APIKey string `toml:"api_key"`
	Model  string `toml:"model"`
}

// Workflow contains scheduling intervals and retry policy.
type Workflow struct {
	PollIntervalSeconds   int  `toml:"poll_interval_seconds"`
	ErrorRetrySeconds     int  `toml:"error_retry_seconds"`
	StageTimeoutMinutes   int  `toml:"stage_timeout_minutes"`
	WorkerConcurrency     int  `toml:"worker_concurrency"`
	MaxAttempts           int  `toml:"max_attempts"`
	RetryBackoffSeconds   int  `toml:"retry_backoff_seconds"`
	ReaperIntervalMinutes int  `toml:"reaper_interval_minutes"`
	StallTimeoutMinutes   int  `toml:"stall_timeout_minutes"`
	WatchInbox            bool `toml:"watch_inbox"`
	AutoStart             bool `toml:"auto_start"`
}

// Logging controls log output.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config is the root configuration document.
type Config struct {
	Paths       Paths       `toml:"paths"`
	Transcriber Transcriber `toml:"transcriber"`
	LLM         LLM         `toml:"llm"`
	Article     Article     `toml:"article"`
	Workflow    Workflow    `toml:"workflow"`
	Logging     Logging     `toml:"logging"`
}

// DefaultConfigPath returns the conventional config file location.
func DefaultConfigPath() string {
	return expandPath("~/.config/scribe/config.toml")
}

// Load reads configuration from path, falling back to defaults when the file
// does not exist. An empty path means the default location.
func Load(path string) (*Config, string, error) {
	resolved := strings.TrimSpace(path)
	if resolved == "" {
		resolved = DefaultConfigPath()
	} else {
		resolved = expandPath(resolved)
	}

	cfg := Default()
	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg.normalize()
			return &cfg, resolved, nil
		}
		return nil, resolved, fmt.Errorf("read config %s: %w", resolved, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, resolved, fmt.Errorf("parse config %s: %w", resolved, err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, resolved, err
	}
	return &cfg, resolved, nil
}

// WriteSample writes the embedded sample configuration to path, refusing to
// overwrite an existing file.
func WriteSample(path string) error {
	resolved := expandPath(path)
	if _, err := os.Stat(resolved); err == nil {
		return fmt.Errorf("config file already exists: %s", resolved)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(resolved, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// RetryBackoff returns the base delay of the exponential retry schedule.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Workflow.RetryBackoffSeconds) * time.Second
}

// StageTimeout returns how long one stage execution may run.
func (c *Config) StageTimeout() time.Duration {
	return time.Duration(c.Workflow.StageTimeoutMinutes) * time.Minute
}

// EnsureDirectories creates every directory the daemon needs at runtime.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.InboxDir, c.Paths.WorkDir, c.Paths.StateDir, c.Paths.LogDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

func (c *Config) normalize() {
	c.Paths.InboxDir = expandPath(c.Paths.InboxDir)
	c.Paths.WorkDir = expandPath(c.Paths.WorkDir)
	c.Paths.StateDir = expandPath(c.Paths.StateDir)
	c.Paths.LogDir = expandPath(c.Paths.LogDir)
	c.Transcriber.BaseURL = strings.TrimRight(strings.TrimSpace(c.Transcriber.BaseURL), "/")
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	c.applyEnvOverrides()
}

// applyEnvOverrides lets environment variables win over file values for
// credentials, so keys never have to live on disk.
func (c *Config) applyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		c.Transcriber.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY")); v != "" {
		c.LLM.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); v != "" {
		c.Article.APIKey = v
	}
}

func expandPath(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return trimmed
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return trimmed
		}
		if trimmed == "~" {
			return home
		}
		return filepath.Join(home, trimmed[2:])
	}
	return trimmed
}
