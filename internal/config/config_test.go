package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"scribe/internal/config"
)

func TestLoadMissingFileFallsBackToDefaultsAndExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}

	wantInbox := filepath.Join(tempHome, ".local", "share", "scribe", "inbox")
	if cfg.Paths.InboxDir != wantInbox {
		t.Fatalf("unexpected inbox dir: got %q want %q", cfg.Paths.InboxDir, wantInbox)
	}
	if cfg.Paths.APIBind != "127.0.0.1:7519" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Workflow.MaxAttempts != 3 {
		t.Fatalf("unexpected max attempts: %d", cfg.Workflow.MaxAttempts)
	}
	if cfg.Workflow.RetryBackoffSeconds != 60 {
		t.Fatalf("unexpected retry backoff: %d", cfg.Workflow.RetryBackoffSeconds)
	}
	if cfg.Transcriber.ChunkConcurrency != 3 {
		t.Fatalf("unexpected chunk concurrency: %d", cfg.Transcriber.ChunkConcurrency)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.InboxDir, cfg.Paths.WorkDir, cfg.Paths.StateDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPathOverlaysDefaults(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "scribe.toml")

	type payload struct {
		Transcriber struct {
			APIKey  string `toml:"api_key"`
			BaseURL string `toml:"base_url"`
		} `toml:"transcriber"`
		Workflow struct {
			WorkerConcurrency   int `toml:"worker_concurrency"`
			StallTimeoutMinutes int `toml:"stall_timeout_minutes"`
		} `toml:"workflow"`
	}
	custom := payload{}
	custom.Transcriber.APIKey = "abc123"
	custom.Transcriber.BaseURL = "https://example.com/v1/"
	custom.Workflow.WorkerConcurrency = 4
	custom.Workflow.StallTimeoutMinutes = 90
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Transcriber.APIKey != "abc123" {
		t.Fatalf("expected transcriber key from file, got %q", cfg.Transcriber.APIKey)
	}
	if cfg.Transcriber.BaseURL != "https://example.com/v1" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Transcriber.BaseURL)
	}
	if cfg.Workflow.WorkerConcurrency != 4 {
		t.Fatalf("expected worker concurrency 4, got %d", cfg.Workflow.WorkerConcurrency)
	}
	if cfg.Workflow.StallTimeoutMinutes != 90 {
		t.Fatalf("expected stall timeout 90, got %d", cfg.Workflow.StallTimeoutMinutes)
	}
	if cfg.LLM.Model != config.Default().LLM.Model {
		t.Fatalf("expected default llm model, got %q", cfg.LLM.Model)
	}
}

func TestEnvVarOverridesConfigFileForAPIKeys(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "scribe.toml")

	type payload struct {
		Transcriber struct {
			APIKey string `toml:"api_key"`
		} `toml:"transcriber"`
		LLM struct {
			APIKey string `toml:"api_key"`
		} `toml:"llm"`
		Article struct {
			APIKey string `toml:"api_key"`
		} `toml:"article"`
	}
	custom := payload{}
	custom.Transcriber.APIKey = "file-transcriber"
	custom.LLM.APIKey = "file-llm"
	custom.Article.APIKey = "file-article"
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	t.Setenv("OPENAI_API_KEY", "env-transcriber")
	t.Setenv("OPENROUTER_API_KEY", "env-llm")
	t.Setenv("GEMINI_API_KEY", "env-article")

	cfg, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Transcriber.APIKey != "env-transcriber" {
		t.Errorf("expected transcriber key from env, got %q", cfg.Transcriber.APIKey)
	}
	if cfg.LLM.APIKey != "env-llm" {
		t.Errorf("expected llm key from env, got %q", cfg.LLM.APIKey)
	}
	if cfg.Article.APIKey != "env-article" {
		t.Errorf("expected article key from env, got %q", cfg.Article.APIKey)
	}
}

func TestWriteSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.WriteSample(path); err != nil {
		t.Fatalf("WriteSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "your_transcription_api_key_here") {
		t.Fatalf("sample config missing placeholder key: %s", contents)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if cfg.Workflow.MaxAttempts != 3 {
		t.Fatalf("sample max attempts mismatch: %d", cfg.Workflow.MaxAttempts)
	}

	if err := config.WriteSample(path); err == nil {
		t.Fatal("expected refusal to overwrite existing file")
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cfg := config.Default()
	cfg.Workflow.MaxAttempts = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-positive max attempts")
	}

	cfg = config.Default()
	cfg.Workflow.StallTimeoutMinutes = cfg.Workflow.StageTimeoutMinutes
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when stall timeout <= stage timeout")
	}

	cfg = config.Default()
	cfg.Transcriber.Model = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty transcriber model")
	}

	cfg = config.Default()
	cfg.Logging.Format = "xml"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown logging format")
	}
}
