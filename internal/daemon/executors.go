package daemon

import (
	"context"
	"log/slog"

	"scribe/internal/config"
	"scribe/internal/media"
	"scribe/internal/pipeline"
	"scribe/internal/services"
	"scribe/internal/services/article"
	"scribe/internal/services/llm"
	"scribe/internal/services/transcriber"
)

// BuildExecutors wires the provider clients into the stage executors the
// orchestrator consumes. Each executor tags provider errors with the
// transient or fatal markers the queue's retry policy keys off.
func BuildExecutors(cfg *config.Config, logger *slog.Logger) pipeline.ExecutorSet {
	transcribeClient := transcriber.NewClient(transcriber.Config{
		APIKey:         cfg.Transcriber.APIKey,
		BaseURL:        cfg.Transcriber.BaseURL,
		Model:          cfg.Transcriber.Model,
		TimeoutSeconds: cfg.Transcriber.TimeoutSeconds,
	})
	splitter := media.NewSplitter(media.SplitterConfig{
		ThresholdBytes: int64(cfg.Transcriber.ChunkThresholdMB) << 20,
		ChunkSeconds:   cfg.Transcriber.ChunkSeconds,
		Concurrency:    cfg.Transcriber.ChunkConcurrency,
		WorkDir:        cfg.Paths.WorkDir,
		FFmpegBinary:   cfg.Transcriber.FFmpegBinary,
		FFprobeBinary:  cfg.Transcriber.FFprobeBinary,
	}, transcribeClient, logger)

	llmClient := llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		TimeoutSeconds: cfg.LLM.TimeoutSeconds,
	})

	writer := article.NewWriter(article.Config{
		APIKey: cfg.Article.APIKey,
		Model:  cfg.Article.Model,
	})

	return pipeline.ExecutorSet{
		Transcriber: transcribeExecutor{splitter: splitter},
		Timestamps:  timestampExecutor{client: llmClient},
		Summarizer:  summarizeExecutor{client: llmClient},
		Articles:    articleExecutor{writer: writer},
	}
}

func markFor(transient bool) error {
	if transient {
		return services.ErrTransient
	}
	return services.ErrFatal
}

type transcribeExecutor struct {
	splitter *media.Splitter
}

func (e transcribeExecutor) Transcribe(ctx context.Context, sourcePath string) (string, error) {
	text, err := e.splitter.Transcribe(ctx, sourcePath)
	if err != nil {
		return "", services.Wrap(markFor(transcriber.IsTransient(err)), "transcribe", "transcribe media", "", err)
	}
	return text, nil
}

type timestampExecutor struct {
	client *llm.Client
}

func (e timestampExecutor) ExtractTimestamps(ctx context.Context, transcript string) ([]pipeline.TimestampEntry, error) {
	entries, err := e.client.ExtractTimestamps(ctx, transcript)
	if err != nil {
		return nil, services.Wrap(markFor(llm.IsTransient(err)), "timestamps", "extract timestamps", "", err)
	}
	converted := make([]pipeline.TimestampEntry, 0, len(entries))
	for _, entry := range entries {
		converted = append(converted, pipeline.TimestampEntry{
			StartSeconds: entry.StartSeconds,
			Topic:        entry.Topic,
		})
	}
	return converted, nil
}

type summarizeExecutor struct {
	client *llm.Client
}

func (e summarizeExecutor) Summarize(ctx context.Context, transcript string) (string, error) {
	summary, err := e.client.Summarize(ctx, transcript)
	if err != nil {
		return "", services.Wrap(markFor(llm.IsTransient(err)), "summarize", "summarize transcript", "", err)
	}
	return summary, nil
}

type articleExecutor struct {
	writer *article.Writer
}

func (e articleExecutor) WriteArticle(ctx context.Context, summary, transcript string) (pipeline.ArticleResult, error) {
	result, err := e.writer.WriteArticle(ctx, summary, transcript)
	if err != nil {
		return pipeline.ArticleResult{}, services.Wrap(markFor(article.IsTransient(err)), "article", "write article", "", err)
	}
	return pipeline.ArticleResult{Title: result.Title, Body: result.Body}, nil
}
