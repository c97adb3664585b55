package media

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"scribe/internal/logging"
	"scribe/internal/services"
)

// Transcriber is the per-file transcription dependency.
type Transcriber interface {
	TranscribeFile(ctx context.Context, path string) (string, error)
}

// SplitterConfig tunes the chunking behavior.
type SplitterConfig struct {
	// ThresholdBytes is the input size above which chunking kicks in.
	ThresholdBytes int64
	// ChunkSeconds is the target segment length.
	ChunkSeconds int
	// Concurrency bounds how many segments transcribe at once.
	Concurrency int
	// RetryDelay is the pause before a failed segment's single retry.
	RetryDelay time.Duration
	// WorkDir receives the temporary segment files.
	WorkDir       string
	FFmpegBinary  string
	FFprobeBinary string
}

func (c SplitterConfig) withDefaults() SplitterConfig {
	if c.ThresholdBytes <= 0 {
		c.ThresholdBytes = 24 << 20
	}
	if c.ChunkSeconds <= 0 {
		c.ChunkSeconds = 180
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.WorkDir == "" {
		c.WorkDir = os.TempDir()
	}
	if c.FFmpegBinary == "" {
		c.FFmpegBinary = "ffmpeg"
	}
	if c.FFprobeBinary == "" {
		c.FFprobeBinary = "ffprobe"
	}
	return c
}

// Splitter chunks large media files and reassembles their transcripts in
// order.
type Splitter struct {
	cfg    SplitterConfig
	client Transcriber
	logger *slog.Logger
	run    func(ctx context.Context, name string, args ...string) error
	output func(ctx context.Context, name string, args ...string) ([]byte, error)
	sleep  func(ctx context.Context, d time.Duration) error
}

// Option customizes the splitter.
type Option func(*Splitter)

// WithCommandRunner overrides how external commands are executed. Tests use
// this to avoid shelling out to ffmpeg.
func WithCommandRunner(run func(ctx context.Context, name string, args ...string) error) Option {
	return func(s *Splitter) {
		if run != nil {
			s.run = run
		}
	}
}

// WithCommandOutput overrides how probing commands are executed.
func WithCommandOutput(output func(ctx context.Context, name string, args ...string) ([]byte, error)) Option {
	return func(s *Splitter) {
		if output != nil {
			s.output = output
		}
	}
}

// WithSleeper overrides the retry pause (useful for tests).
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Splitter) {
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

// NewSplitter constructs a splitter around the supplied transcription
// client.
func NewSplitter(cfg SplitterConfig, client Transcriber, logger *slog.Logger, opts ...Option) *Splitter {
	s := &Splitter{
		cfg:    cfg.withDefaults(),
		client: client,
		logger: logging.NewComponentLogger(logger, "media"),
	}
	s.run = runCommand
	s.output = commandOutput
	s.sleep = sleepContext
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Transcribe produces a transcript for the file at source. Inputs under the
// size threshold go straight to the client; larger ones are chunked,
// transcribed concurrently, and joined in order. A segment that fails its
// retry contributes a placeholder instead of sinking the whole job.
func (s *Splitter) Transcribe(ctx context.Context, source string) (string, error) {
	info, err := os.Stat(source)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "transcribe", "stat input", source, err)
	}
	if info.Size() <= s.cfg.ThresholdBytes {
		return s.client.TranscribeFile(ctx, source)
	}

	duration, err := s.ProbeDuration(ctx, source)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "transcribe", "probe input", source, err)
	}

	segments := int(math.Ceil(duration / float64(s.cfg.ChunkSeconds)))
	if segments <= 1 {
		return s.client.TranscribeFile(ctx, source)
	}

	workDir, err := os.MkdirTemp(s.cfg.WorkDir, "chunks-")
	if err != nil {
		return "", fmt.Errorf("create chunk dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	s.logger.Info("chunking input",
		logging.String("source", source),
		logging.Int("segments", segments),
		logging.Int("chunk_seconds", s.cfg.ChunkSeconds))

	results := make([]string, segments)
	var failures atomic.Int32

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.cfg.Concurrency)
	for i := 0; i < segments; i++ {
		group.Go(func() error {
			text, err := s.transcribeSegment(groupCtx, source, workDir, i)
			if err != nil {
				if groupCtx.Err() != nil {
					return groupCtx.Err()
				}
				s.logger.Warn("segment failed after retry",
					logging.Int("segment", i+1),
					logging.Error(err))
				results[i] = fmt.Sprintf("[segment %d failed]", i+1)
				failures.Add(1)
				return nil
			}
			results[i] = text
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return "", err
	}

	if int(failures.Load()) == segments {
		return "", services.Wrap(services.ErrTransient, "transcribe", "chunked transcription", "every segment failed", nil)
	}

	parts := make([]string, 0, segments)
	for _, text := range results {
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

// transcribeSegment extracts one chunk and transcribes it, retrying the
// whole extract-and-transcribe step once.
func (s *Splitter) transcribeSegment(ctx context.Context, source, workDir string, index int) (string, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			if err := s.sleep(ctx, s.cfg.RetryDelay); err != nil {
				return "", err
			}
		}
		dest := filepath.Join(workDir, fmt.Sprintf("segment_%03d.wav", index))
		if err := s.extractSegment(ctx, source, index, dest); err != nil {
			lastErr = err
			continue
		}
		text, err := s.client.TranscribeFile(ctx, dest)
		if err != nil {
			lastErr = err
			continue
		}
		return text, nil
	}
	return "", lastErr
}

func (s *Splitter) extractSegment(ctx context.Context, source string, index int, dest string) error {
	start := index * s.cfg.ChunkSeconds
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-ss", fmt.Sprint(start),
		"-t", fmt.Sprint(s.cfg.ChunkSeconds),
		"-i", source,
		"-vn",
		"-sn",
		"-dn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		dest,
	}
	if err := s.run(ctx, s.cfg.FFmpegBinary, args...); err != nil {
		return fmt.Errorf("extract segment %d: %w", index+1, err)
	}
	return nil
}

func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}

func commandOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return output, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
