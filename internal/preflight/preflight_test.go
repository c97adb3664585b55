package preflight_test

import (
	"testing"

	"scribe/internal/config"
	"scribe/internal/preflight"
)

func TestCheckDirectoryAccess(t *testing.T) {
	dir := t.TempDir()

	result := preflight.CheckDirectoryAccess("Work directory", dir)
	if !result.Passed {
		t.Fatalf("expected writable temp dir to pass, got %#v", result)
	}

	missing := preflight.CheckDirectoryAccess("Work directory", dir+"/nope")
	if missing.Passed {
		t.Fatal("expected missing directory to fail")
	}
	if missing.Detail == "" {
		t.Fatal("expected detail for missing directory")
	}
}

func TestCheckCredential(t *testing.T) {
	if r := preflight.CheckCredential("LLM API key", "  "); r.Passed {
		t.Fatal("expected blank key to fail")
	}
	if r := preflight.CheckCredential("LLM API key", "sk-test"); !r.Passed {
		t.Fatal("expected configured key to pass")
	}
}

func TestRunAllReportsEveryConcern(t *testing.T) {
	cfg := config.Default()
	dir := t.TempDir()
	cfg.Paths.InboxDir = dir
	cfg.Paths.WorkDir = dir
	cfg.Paths.StateDir = dir
	cfg.Paths.LogDir = dir
	cfg.Transcriber.APIKey = "sk-a"
	cfg.LLM.APIKey = ""
	cfg.Article.APIKey = "sk-c"

	results := preflight.RunAll(&cfg)
	if len(results) == 0 {
		t.Fatal("expected results")
	}

	failures := preflight.Failures(results)
	var sawLLM bool
	for _, failure := range failures {
		if failure.Name == "LLM API key" {
			sawLLM = true
		}
	}
	if !sawLLM {
		t.Fatalf("expected the unset LLM key to fail, failures: %#v", failures)
	}
}
