package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"scribe/internal/services/llm"
)

func newTestClient(handler http.HandlerFunc) (*llm.Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	client := llm.NewClient(llm.Config{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "test-model",
	})
	return client, server
}

func completionBody(content string) string {
	payload := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}, "finish_reason": "stop"},
		},
	}
	encoded, _ := json.Marshal(payload)
	return string(encoded)
}

func TestExtractTimestampsParsesAndSorts(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model          string            `json:"model"`
			ResponseFormat map[string]string `json:"response_format"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.ResponseFormat["type"] != "json_object" {
			t.Errorf("expected json mode, got %+v", req.ResponseFormat)
		}
		_, _ = w.Write([]byte(completionBody(
			`{"entries":[{"start_seconds":300,"topic":"Budget vote"},{"start_seconds":0,"topic":"Opening remarks"},{"start_seconds":-5,"topic":"bogus"},{"start_seconds":60,"topic":"  "}]}`)))
	})
	defer server.Close()

	entries, err := client.ExtractTimestamps(context.Background(), "transcript text")
	if err != nil {
		t.Fatalf("ExtractTimestamps returned error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries after cleaning, got %+v", entries)
	}
	if entries[0].Topic != "Opening remarks" || entries[1].Topic != "Budget vote" {
		t.Fatalf("expected sorted entries, got %+v", entries)
	}
}

func TestExtractTimestampsToleratesCodeFenceAndBareArray(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(completionBody(
			"```json\n[{\"start_seconds\":10,\"topic\":\"Intro\"}]\n```")))
	})
	defer server.Close()

	entries, err := client.ExtractTimestamps(context.Background(), "transcript text")
	if err != nil {
		t.Fatalf("ExtractTimestamps returned error: %v", err)
	}
	if len(entries) != 1 || entries[0].Topic != "Intro" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestSummarizeReturnsTrimmedContent(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ResponseFormat map[string]string `json:"response_format"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.ResponseFormat != nil {
			t.Errorf("summaries must not request json mode, got %+v", req.ResponseFormat)
		}
		_, _ = w.Write([]byte(completionBody("  The council approved the budget.  ")))
	})
	defer server.Close()

	summary, err := client.Summarize(context.Background(), "transcript text")
	if err != nil {
		t.Fatalf("Summarize returned error: %v", err)
	}
	if summary != "The council approved the budget." {
		t.Fatalf("unexpected summary: %q", summary)
	}
}

func TestSummarizeRequiresTranscript(t *testing.T) {
	client := llm.NewClient(llm.Config{APIKey: "k", Model: "m"})
	if _, err := client.Summarize(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty transcript")
	}
}

func TestIsTransientClassification(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}
	for _, tc := range cases {
		client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tc.code)
		})
		_, err := client.Summarize(context.Background(), "text")
		server.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", tc.code)
		}
		if got := llm.IsTransient(err); got != tc.want {
			t.Fatalf("status %d: IsTransient = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestEmptyChoicesIsError(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})
	defer server.Close()

	if _, err := client.Summarize(context.Background(), "text"); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestDecodeLLMJSONHandlesProseWrapping(t *testing.T) {
	var target struct {
		OK bool `json:"ok"`
	}
	err := llm.DecodeLLMJSON("Here is the result you asked for: {\"ok\": true} hope it helps", &target)
	if err != nil {
		t.Fatalf("DecodeLLMJSON returned error: %v", err)
	}
	if !target.OK {
		t.Fatal("expected ok=true")
	}
}
