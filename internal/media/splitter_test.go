package media_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"scribe/internal/logging"
	"scribe/internal/media"
)

type fakeClient struct {
	mu       sync.Mutex
	calls    map[string]int
	failPath func(path string) bool
	delay    func(path string) time.Duration
}

func (f *fakeClient) TranscribeFile(ctx context.Context, path string) (string, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[filepath.Base(path)]++
	f.mu.Unlock()

	if f.delay != nil {
		time.Sleep(f.delay(path))
	}
	if f.failPath != nil && f.failPath(path) {
		return "", errors.New("provider 503")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return "transcript of " + strings.TrimSpace(string(data)), nil
}

func (f *fakeClient) callCount(base string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[base]
}

func writeSource(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.mp4")
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return path
}

// fakeExtract emulates the ffmpeg segment extraction by writing the segment
// start offset into the destination file.
func fakeExtract(ctx context.Context, name string, args ...string) error {
	var start string
	for i, arg := range args {
		if arg == "-ss" && i+1 < len(args) {
			start = args[i+1]
		}
	}
	dest := args[len(args)-1]
	return os.WriteFile(dest, []byte("segment@"+start), 0o644)
}

func fakeProbe(duration string) func(ctx context.Context, name string, args ...string) ([]byte, error) {
	return func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte(duration + "\n"), nil
	}
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func newSplitter(t *testing.T, cfg media.SplitterConfig, client media.Transcriber, opts ...media.Option) *media.Splitter {
	t.Helper()
	cfg.WorkDir = t.TempDir()
	base := []media.Option{
		media.WithCommandRunner(fakeExtract),
		media.WithCommandOutput(fakeProbe("540")),
		media.WithSleeper(noSleep),
	}
	return media.NewSplitter(cfg, client, logging.NewNop(), append(base, opts...)...)
}

func TestSmallInputBypassesChunking(t *testing.T) {
	client := &fakeClient{}
	splitter := newSplitter(t, media.SplitterConfig{ThresholdBytes: 1 << 20}, client)

	source := writeSource(t, 128)
	text, err := splitter.Transcribe(context.Background(), source)
	if err != nil {
		t.Fatalf("Transcribe returned error: %v", err)
	}
	if !strings.HasPrefix(text, "transcript of") {
		t.Fatalf("unexpected transcript: %q", text)
	}
	if client.callCount("input.mp4") != 1 {
		t.Fatalf("expected direct transcription, calls: %+v", client.calls)
	}
}

func TestChunkedTranscriptReassemblesInOrder(t *testing.T) {
	client := &fakeClient{
		// Later segments finish first to prove ordering is by index, not by
		// completion time.
		delay: func(path string) time.Duration {
			if strings.Contains(path, "segment_000") {
				return 50 * time.Millisecond
			}
			return 0
		},
	}
	splitter := newSplitter(t, media.SplitterConfig{ThresholdBytes: 1, ChunkSeconds: 180, Concurrency: 3}, client)

	source := writeSource(t, 64)
	text, err := splitter.Transcribe(context.Background(), source)
	if err != nil {
		t.Fatalf("Transcribe returned error: %v", err)
	}

	want := "transcript of segment@0\n\ntranscript of segment@180\n\ntranscript of segment@360"
	if text != want {
		t.Fatalf("unexpected transcript:\n got %q\nwant %q", text, want)
	}
}

func TestFailedSegmentRetriesOnceThenPlaceholder(t *testing.T) {
	client := &fakeClient{
		failPath: func(path string) bool { return strings.Contains(path, "segment_001") },
	}
	splitter := newSplitter(t, media.SplitterConfig{ThresholdBytes: 1, ChunkSeconds: 180, Concurrency: 1}, client)

	source := writeSource(t, 64)
	text, err := splitter.Transcribe(context.Background(), source)
	if err != nil {
		t.Fatalf("Transcribe returned error: %v", err)
	}

	parts := strings.Split(text, "\n\n")
	if len(parts) != 3 {
		t.Fatalf("expected 3 parts, got %d: %q", len(parts), text)
	}
	if parts[1] != "[segment 2 failed]" {
		t.Fatalf("expected placeholder for second segment, got %q", parts[1])
	}
	if got := client.callCount("segment_001.wav"); got != 2 {
		t.Fatalf("expected exactly one retry (2 attempts), got %d", got)
	}
	if got := client.callCount("segment_000.wav"); got != 1 {
		t.Fatalf("healthy segment must not retry, got %d attempts", got)
	}
}

func TestAllSegmentsFailedIsError(t *testing.T) {
	client := &fakeClient{failPath: func(string) bool { return true }}
	splitter := newSplitter(t, media.SplitterConfig{ThresholdBytes: 1, ChunkSeconds: 180, Concurrency: 2}, client)

	source := writeSource(t, 64)
	if _, err := splitter.Transcribe(context.Background(), source); err == nil {
		t.Fatal("expected error when every segment fails")
	}
}

func TestShortDurationSkipsChunking(t *testing.T) {
	client := &fakeClient{}
	splitter := newSplitter(t, media.SplitterConfig{ThresholdBytes: 1, ChunkSeconds: 180}, client,
		media.WithCommandOutput(fakeProbe("90.5")))

	source := writeSource(t, 64)
	if _, err := splitter.Transcribe(context.Background(), source); err != nil {
		t.Fatalf("Transcribe returned error: %v", err)
	}
	if client.callCount("input.mp4") != 1 {
		t.Fatalf("expected direct transcription for single segment, calls: %+v", client.calls)
	}
}

func TestMissingInputIsValidationError(t *testing.T) {
	client := &fakeClient{}
	splitter := newSplitter(t, media.SplitterConfig{}, client)

	_, err := splitter.Transcribe(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"))
	if err == nil {
		t.Fatal("expected error for missing input")
	}
	if !strings.Contains(err.Error(), "stat input") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestProbeDurationParses(t *testing.T) {
	client := &fakeClient{}
	splitter := newSplitter(t, media.SplitterConfig{}, client, media.WithCommandOutput(
		func(ctx context.Context, name string, args ...string) ([]byte, error) {
			if name != "ffprobe" {
				return nil, fmt.Errorf("unexpected binary %q", name)
			}
			return []byte("123.45\n"), nil
		}))

	duration, err := splitter.ProbeDuration(context.Background(), "/x.mp4")
	if err != nil {
		t.Fatalf("ProbeDuration returned error: %v", err)
	}
	if duration != 123.45 {
		t.Fatalf("unexpected duration: %f", duration)
	}
}
