package article

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const articlePrompt = `You are an editor turning a recording into a written
article. Using the summary and the transcript below, write a complete
markdown article:

- Start with a single "# " heading containing the article title.
- Write flowing prose sections with "## " subheadings where the content
  shifts topic.
- Stay faithful to the transcript. Quote speakers sparingly and accurately.
- Aim for 600 to 1200 words.

Summary:
---
%s
---

Transcript:
---
%s
---`

// Config captures the Gemini settings for the article stage.
type Config struct {
	APIKey string
	Model  string
}

// Result is a finished article.
type Result struct {
	Title string
	Body  string
}

// Writer generates articles with Gemini. The generate indirection exists so
// tests can exercise the parsing without a live API.
type Writer struct {
	cfg      Config
	generate func(ctx context.Context, prompt string) (string, error)
}

// NewWriter constructs an article writer backed by the Gemini API.
func NewWriter(cfg Config) *Writer {
	w := &Writer{cfg: Config{
		APIKey: strings.TrimSpace(cfg.APIKey),
		Model:  strings.TrimSpace(cfg.Model),
	}}
	w.generate = w.generateWithGemini
	return w
}

// WriteArticle produces an article from the record's summary and transcript.
func (w *Writer) WriteArticle(ctx context.Context, summary, transcript string) (Result, error) {
	var empty Result
	summary = strings.TrimSpace(summary)
	transcript = strings.TrimSpace(transcript)
	if summary == "" {
		return empty, errors.New("article: summary required")
	}
	if transcript == "" {
		return empty, errors.New("article: transcript required")
	}
	if w.cfg.APIKey == "" {
		return empty, errors.New("article: api key required")
	}

	text, err := w.generate(ctx, fmt.Sprintf(articlePrompt, summary, transcript))
	if err != nil {
		return empty, err
	}
	result, err := parseArticle(text)
	if err != nil {
		return empty, err
	}
	return result, nil
}

func (w *Writer) generateWithGemini(ctx context.Context, prompt string) (string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  w.cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", fmt.Errorf("article: create client: %w", err)
	}

	result, err := client.Models.GenerateContent(ctx, w.cfg.Model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("article: generate content: %w", err)
	}
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return "", errors.New("article: empty response")
	}

	var text strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		if part.Text != "" {
			text.WriteString(part.Text)
		}
	}
	return text.String(), nil
}

// IsTransient classifies a writer error as redeliverable. The Gemini SDK
// surfaces quota and availability problems in the error text.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{"429", "quota", "RESOURCE_EXHAUSTED", "UNAVAILABLE", "500", "503", "deadline"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func parseArticle(text string) (Result, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Result{}, errors.New("article: model returned empty text")
	}

	lines := strings.Split(trimmed, "\n")
	for i, line := range lines {
		candidate := strings.TrimSpace(line)
		if strings.HasPrefix(candidate, "# ") {
			title := strings.TrimSpace(strings.TrimPrefix(candidate, "# "))
			body := strings.TrimSpace(strings.Join(lines[i+1:], "\n"))
			if title == "" || body == "" {
				break
			}
			return Result{Title: title, Body: body}, nil
		}
	}
	return Result{}, fmt.Errorf("article: no title heading in model output (snippet: %.80s)", trimmed)
}
