package pipeline_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"scribe/internal/jobs"
	"scribe/internal/logging"
	"scribe/internal/pipeline"
	"scribe/internal/progress"
	"scribe/internal/records"
	"scribe/internal/services"
)

type stubExecutors struct {
	transcript    string
	transcribeErr error
	entries       []pipeline.TimestampEntry
	timestampsErr error
	summary       string
	summarizeErr  error
	article       pipeline.ArticleResult
	articleErr    error

	transcribeCalls int
	timestampCalls  int
	summarizeCalls  int
	articleCalls    int
}

func (s *stubExecutors) Transcribe(ctx context.Context, sourcePath string) (string, error) {
	s.transcribeCalls++
	return s.transcript, s.transcribeErr
}

func (s *stubExecutors) ExtractTimestamps(ctx context.Context, transcript string) ([]pipeline.TimestampEntry, error) {
	s.timestampCalls++
	return s.entries, s.timestampsErr
}

func (s *stubExecutors) Summarize(ctx context.Context, transcript string) (string, error) {
	s.summarizeCalls++
	return s.summary, s.summarizeErr
}

func (s *stubExecutors) WriteArticle(ctx context.Context, summary, transcript string) (pipeline.ArticleResult, error) {
	s.articleCalls++
	return s.article, s.articleErr
}

func newStubExecutors() *stubExecutors {
	return &stubExecutors{
		transcript: "hello from the show",
		entries: []pipeline.TimestampEntry{
			{StartSeconds: 0, Topic: "intro"},
			{StartSeconds: 95, Topic: "main point"},
		},
		summary: "a short summary",
		article: pipeline.ArticleResult{Title: "The Show", Body: "Long form text."},
	}
}

func newFixture(t *testing.T, execs *stubExecutors) (*pipeline.Orchestrator, *records.Store, *jobs.Store) {
	t.Helper()
	dir := t.TempDir()
	store, err := records.Open(dir)
	if err != nil {
		t.Fatalf("open record store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	queue, err := jobs.Open(dir, jobs.Options{})
	if err != nil {
		t.Fatalf("open job store: %v", err)
	}
	t.Cleanup(func() { queue.Close() })

	orch, err := pipeline.New(store, queue, pipeline.ExecutorSet{
		Transcriber: execs,
		Timestamps:  execs,
		Summarizer:  execs,
		Articles:    execs,
	}, progress.NewPublisher(0), logging.NewNop())
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return orch, store, queue
}

func newUpload(t *testing.T, store *records.Store) *records.Record {
	t.Helper()
	record, err := store.NewUpload(context.Background(), "/media/uploads/episode-01.mp3")
	if err != nil {
		t.Fatalf("new upload: %v", err)
	}
	return record
}

// drain claims and runs jobs until the queue is empty, completing each one,
// the way a worker would.
func drain(t *testing.T, orch *pipeline.Orchestrator, queue *jobs.Store) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 16; i++ {
		claimed := false
		for _, stage := range jobs.Stages() {
			job, err := queue.Claim(ctx, stage)
			if err != nil {
				t.Fatalf("claim %s: %v", stage, err)
			}
			if job == nil {
				continue
			}
			claimed = true
			if err := orch.RunJob(ctx, job); err != nil {
				t.Fatalf("run %s job %d: %v", stage, job.ID, err)
			}
			if err := queue.Complete(ctx, job.ID); err != nil {
				t.Fatalf("complete job %d: %v", job.ID, err)
			}
		}
		if !claimed {
			return
		}
	}
	t.Fatal("queue never drained")
}

func TestStartEnqueuesTranscribeForFreshUpload(t *testing.T) {
	orch, store, _ := newFixture(t, newStubExecutors())
	record := newUpload(t, store)

	job, err := orch.Start(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if job == nil {
		t.Fatal("Start returned no job")
	}
	if job.Stage != jobs.StageTranscribe {
		t.Fatalf("expected transcribe job, got %s", job.Stage)
	}
}

func TestStartIsIdempotentWhileJobOpen(t *testing.T) {
	orch, store, _ := newFixture(t, newStubExecutors())
	record := newUpload(t, store)

	first, err := orch.Start(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}
	second, err := orch.Start(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the open job to be reused, got %d then %d", first.ID, second.ID)
	}
}

func TestFullChainReachesDone(t *testing.T) {
	execs := newStubExecutors()
	orch, store, queue := newFixture(t, execs)
	record := newUpload(t, store)

	if _, err := orch.Start(context.Background(), record.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	drain(t, orch, queue)

	got, err := store.GetByID(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if got.Status != records.StatusDone {
		t.Fatalf("expected done, got %s (%s)", got.Status, got.ErrorMessage)
	}
	if got.ProgressPercent != 100 {
		t.Fatalf("expected 100%%, got %d", got.ProgressPercent)
	}
	if got.Transcript == "" || got.Summary == "" || got.Article == "" {
		t.Fatal("expected every artifact to be persisted")
	}
	if !strings.Contains(got.TimestampIndexJSON, "main point") {
		t.Fatalf("timestamp index not persisted: %q", got.TimestampIndexJSON)
	}
	if !strings.HasPrefix(got.Article, "# The Show") {
		t.Fatalf("article missing title heading: %q", got.Article)
	}
	if execs.transcribeCalls != 1 || execs.timestampCalls != 1 || execs.summarizeCalls != 1 || execs.articleCalls != 1 {
		t.Fatalf("unexpected executor calls: %+v", execs)
	}
}

func TestStartOnDoneRecordIsNoOp(t *testing.T) {
	orch, store, queue := newFixture(t, newStubExecutors())
	record := newUpload(t, store)

	if _, err := orch.Start(context.Background(), record.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	drain(t, orch, queue)

	job, err := orch.Start(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("Start on done record: %v", err)
	}
	if job != nil {
		t.Fatalf("expected no job for done record, got %d", job.ID)
	}
}

func TestStartResumesFromFirstMissingArtifact(t *testing.T) {
	orch, store, _ := newFixture(t, newStubExecutors())
	record := newUpload(t, store)

	record.Transcript = "already transcribed"
	record.TimestampIndexJSON = "[]"
	record.Status = records.StatusTranscribed
	record.ProgressPercent = 50
	if err := store.Update(context.Background(), record); err != nil {
		t.Fatalf("update: %v", err)
	}

	job, err := orch.Start(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if job.Stage != jobs.StageSummarize {
		t.Fatalf("expected summarize, got %s", job.Stage)
	}
}

func TestStartOnErrorRecordDemandsRetry(t *testing.T) {
	orch, store, _ := newFixture(t, newStubExecutors())
	record := newUpload(t, store)

	record.Status = records.StatusError
	record.ErrorMessage = "transcription provider down"
	if err := store.Update(context.Background(), record); err != nil {
		t.Fatalf("update: %v", err)
	}

	_, err := orch.Start(context.Background(), record.ID)
	if !errors.Is(err, services.ErrPrecondition) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestRetryFromStageRejectsMissingArtifactWithoutMutation(t *testing.T) {
	orch, store, _ := newFixture(t, newStubExecutors())
	record := newUpload(t, store)

	record.Status = records.StatusError
	record.ErrorMessage = "boom"
	if err := store.Update(context.Background(), record); err != nil {
		t.Fatalf("update: %v", err)
	}

	_, err := orch.RetryFromStage(context.Background(), record.ID, jobs.StageSummarize)
	if !errors.Is(err, services.ErrPrecondition) {
		t.Fatalf("expected precondition error, got %v", err)
	}

	got, err := store.GetByID(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if got.Status != records.StatusError || got.ErrorMessage != "boom" {
		t.Fatalf("record mutated by rejected retry: status=%s error=%q", got.Status, got.ErrorMessage)
	}
}

func TestRetryFromStageClearsErrorKeepsPercent(t *testing.T) {
	orch, store, queue := newFixture(t, newStubExecutors())
	record := newUpload(t, store)

	record.Transcript = "kept transcript"
	record.Status = records.StatusError
	record.ErrorMessage = "summarize provider down"
	record.ProgressPercent = 50
	if err := store.Update(context.Background(), record); err != nil {
		t.Fatalf("update: %v", err)
	}

	job, err := orch.RetryFromStage(context.Background(), record.ID, jobs.StageSummarize)
	if err != nil {
		t.Fatalf("RetryFromStage: %v", err)
	}
	if job.Stage != jobs.StageSummarize {
		t.Fatalf("expected summarize job, got %s", job.Stage)
	}

	got, err := store.GetByID(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if got.Status != records.StatusProcessing {
		t.Fatalf("expected processing, got %s", got.Status)
	}
	if got.ErrorMessage != "" {
		t.Fatalf("error message not cleared: %q", got.ErrorMessage)
	}
	if got.ProgressPercent != 50 {
		t.Fatalf("progress percent must be kept, got %d", got.ProgressPercent)
	}

	drain(t, orch, queue)
	got, err = store.GetByID(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if got.Status != records.StatusDone {
		t.Fatalf("expected done after retry chain, got %s", got.Status)
	}
}

func TestRetryFromStageConcurrentCallsKeepRecordWhole(t *testing.T) {
	orch, store, queue := newFixture(t, newStubExecutors())
	record := newUpload(t, store)
	ctx := context.Background()

	record.Transcript = "kept transcript"
	record.TimestampIndexJSON = `[{"start_seconds":0,"topic":"intro"}]`
	record.Status = records.StatusError
	record.ErrorMessage = "summarize provider down"
	record.ProgressPercent = 50
	if err := store.Update(ctx, record); err != nil {
		t.Fatalf("update: %v", err)
	}

	// Two racing retries; the record must round-trip whole with the later
	// write winning, never a torn merge.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = orch.RetryFromStage(ctx, record.ID, jobs.StageSummarize)
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("retry %d: %v", i, err)
		}
	}

	got, err := store.GetByID(ctx, record.ID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if got.Status != records.StatusProcessing {
		t.Fatalf("expected processing, got %s", got.Status)
	}
	if got.ErrorMessage != "" {
		t.Fatalf("error message not cleared: %q", got.ErrorMessage)
	}
	if got.Transcript != "kept transcript" {
		t.Fatalf("transcript corrupted: %q", got.Transcript)
	}
	if !strings.Contains(got.TimestampIndexJSON, "intro") {
		t.Fatalf("timestamp index corrupted: %q", got.TimestampIndexJSON)
	}
	if got.ProgressPercent != 50 {
		t.Fatalf("progress percent must be kept, got %d", got.ProgressPercent)
	}

	drain(t, orch, queue)
	got, err = store.GetByID(ctx, record.ID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if got.Status != records.StatusDone {
		t.Fatalf("expected done after retry chain, got %s", got.Status)
	}
}

func TestRetryFromStageRejectsUnknownStage(t *testing.T) {
	orch, store, _ := newFixture(t, newStubExecutors())
	record := newUpload(t, store)

	_, err := orch.RetryFromStage(context.Background(), record.ID, jobs.Stage("polish"))
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTimestampTerminalFailureChainsIntoSummarize(t *testing.T) {
	execs := newStubExecutors()
	orch, store, queue := newFixture(t, execs)
	record := newUpload(t, store)
	ctx := context.Background()

	record.Transcript = "transcript text"
	record.Status = records.StatusTranscribed
	record.ProgressPercent = 50
	if err := store.Update(ctx, record); err != nil {
		t.Fatalf("update: %v", err)
	}

	job, err := orch.Start(ctx, record.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if job.Stage != jobs.StageTimestamps {
		t.Fatalf("expected timestamps job, got %s", job.Stage)
	}

	stageErr := services.Wrap(services.ErrFatal, "timestamps", "extract", "model refused", nil)
	if _, err := queue.Claim(ctx, jobs.StageTimestamps); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if terminal, err := queue.Fail(ctx, job.ID, stageErr.Error(), false); err != nil || !terminal {
		t.Fatalf("fail: terminal=%v err=%v", terminal, err)
	}
	if err := orch.HandleJobFailure(ctx, job, stageErr, true); err != nil {
		t.Fatalf("HandleJobFailure: %v", err)
	}

	got, err := store.GetByID(ctx, record.ID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if got.Status == records.StatusError {
		t.Fatal("timestamp failure must not park the record in error")
	}

	drain(t, orch, queue)
	got, err = store.GetByID(ctx, record.ID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if got.Status != records.StatusDone {
		t.Fatalf("expected done without a timestamp index, got %s", got.Status)
	}
	if got.TimestampIndexJSON != "" {
		t.Fatalf("expected empty index after skip, got %q", got.TimestampIndexJSON)
	}
	if execs.timestampCalls != 0 {
		t.Fatalf("timestamp executor must not run after terminal failure, calls=%d", execs.timestampCalls)
	}
}

func TestTerminalFailureParksRecordKeepingPercent(t *testing.T) {
	execs := newStubExecutors()
	orch, store, _ := newFixture(t, execs)
	record := newUpload(t, store)
	ctx := context.Background()

	record.Transcript = "transcript text"
	record.TimestampIndexJSON = "[]"
	record.Summary = "summary text"
	record.Status = records.StatusSummarized
	record.ProgressPercent = 75
	if err := store.Update(ctx, record); err != nil {
		t.Fatalf("update: %v", err)
	}

	job, err := orch.Start(ctx, record.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if job.Stage != jobs.StageArticle {
		t.Fatalf("expected article job, got %s", job.Stage)
	}

	stageErr := services.Wrap(services.ErrFatal, "article", "generate", "content policy refusal", nil)
	if err := orch.HandleJobFailure(ctx, job, stageErr, true); err != nil {
		t.Fatalf("HandleJobFailure: %v", err)
	}

	got, err := store.GetByID(ctx, record.ID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if got.Status != records.StatusError {
		t.Fatalf("expected error status, got %s", got.Status)
	}
	if got.ProgressPercent != 75 {
		t.Fatalf("percent must survive the failure, got %d", got.ProgressPercent)
	}
	if !strings.Contains(got.ErrorMessage, "content policy refusal") {
		t.Fatalf("error message not recorded: %q", got.ErrorMessage)
	}

	latest, ok := orch.Publisher().Latest(job.ID)
	if !ok {
		t.Fatal("expected a failure event")
	}
	if latest.Type != progress.EventFailed || latest.Percent != 75 {
		t.Fatalf("unexpected failure event: %+v", latest)
	}
}

func TestNonTerminalFailureLeavesRecordUntouched(t *testing.T) {
	orch, store, _ := newFixture(t, newStubExecutors())
	record := newUpload(t, store)
	ctx := context.Background()

	job, err := orch.Start(ctx, record.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	stageErr := errors.New("connection reset")
	if err := orch.HandleJobFailure(ctx, job, stageErr, false); err != nil {
		t.Fatalf("HandleJobFailure: %v", err)
	}

	got, err := store.GetByID(ctx, record.ID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if got.Status != records.StatusUploaded {
		t.Fatalf("record must not change on redelivery, got %s", got.Status)
	}
	if got.ErrorMessage != "" {
		t.Fatalf("error must not be recorded on redelivery: %q", got.ErrorMessage)
	}
}

func TestEmptyTranscriptIsValidationError(t *testing.T) {
	execs := newStubExecutors()
	execs.transcript = "   "
	orch, store, queue := newFixture(t, execs)
	record := newUpload(t, store)
	ctx := context.Background()

	if _, err := orch.Start(ctx, record.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	job, err := queue.Claim(ctx, jobs.StageTranscribe)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	err = orch.RunJob(ctx, job)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestProgressEventsTrackStatusTransitions(t *testing.T) {
	orch, store, queue := newFixture(t, newStubExecutors())
	record := newUpload(t, store)
	ctx := context.Background()

	job, err := orch.Start(ctx, record.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	drain(t, orch, queue)

	events, err := orch.Publisher().Fetch(ctx, job.ID, 0, false)
	if err != nil {
		t.Fatalf("fetch events: %v", err)
	}
	if len(events) < 2 {
		t.Fatalf("expected at least processing and transcribed events, got %d", len(events))
	}
	if events[0].Percent != 25 || events[0].Status != records.StatusProcessing {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	last := events[len(events)-1]
	if last.Percent != 50 || last.Status != records.StatusTranscribed {
		t.Fatalf("unexpected last transcribe event: %+v", last)
	}
	for i := 1; i < len(events); i++ {
		if events[i].Percent < events[i-1].Percent {
			t.Fatalf("percent regressed between events %d and %d", i-1, i)
		}
	}
}
