package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Transcriber produces a transcript for a media file.
type Transcriber interface {
	Transcribe(ctx context.Context, sourcePath string) (string, error)
}

// TimestampEntry marks where a topic starts in the source media.
type TimestampEntry struct {
	StartSeconds float64 `json:"start_seconds"`
	Topic        string  `json:"topic"`
}

// TimestampExtractor derives a topic index from a transcript.
type TimestampExtractor interface {
	ExtractTimestamps(ctx context.Context, transcript string) ([]TimestampEntry, error)
}

// Summarizer condenses a transcript into prose.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// ArticleResult is a finished article.
type ArticleResult struct {
	Title string
	Body  string
}

// ArticleWriter turns a summary and transcript into an article.
type ArticleWriter interface {
	WriteArticle(ctx context.Context, summary, transcript string) (ArticleResult, error)
}

// ExecutorSet bundles one executor per stage.
type ExecutorSet struct {
	Transcriber Transcriber
	Timestamps  TimestampExtractor
	Summarizer  Summarizer
	Articles    ArticleWriter
}

func (e ExecutorSet) validate() error {
	if e.Transcriber == nil {
		return fmt.Errorf("executor set: transcriber required")
	}
	if e.Timestamps == nil {
		return fmt.Errorf("executor set: timestamp extractor required")
	}
	if e.Summarizer == nil {
		return fmt.Errorf("executor set: summarizer required")
	}
	if e.Articles == nil {
		return fmt.Errorf("executor set: article writer required")
	}
	return nil
}

func encodeTimestampIndex(entries []TimestampEntry) (string, error) {
	cleaned := make([]TimestampEntry, 0, len(entries))
	for _, entry := range entries {
		entry.Topic = strings.TrimSpace(entry.Topic)
		if entry.Topic == "" || entry.StartSeconds < 0 {
			continue
		}
		cleaned = append(cleaned, entry)
	}
	sort.Slice(cleaned, func(i, j int) bool { return cleaned[i].StartSeconds < cleaned[j].StartSeconds })
	encoded, err := json.Marshal(cleaned)
	if err != nil {
		return "", fmt.Errorf("encode timestamp index: %w", err)
	}
	return string(encoded), nil
}
