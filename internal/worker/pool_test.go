package worker_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"scribe/internal/config"
	"scribe/internal/jobs"
	"scribe/internal/logging"
	"scribe/internal/services"
	"scribe/internal/worker"
)

type failureCall struct {
	jobID    int64
	terminal bool
	err      error
}

type fakeRunner struct {
	mu       sync.Mutex
	runErr   error
	block    chan struct{}
	ran      []int64
	failures []failureCall
	settled  chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{settled: make(chan struct{}, 16)}
}

func (f *fakeRunner) RunJob(ctx context.Context, job *jobs.Job) error {
	f.mu.Lock()
	f.ran = append(f.ran, job.ID)
	block := f.block
	err := f.runErr
	f.mu.Unlock()

	if block != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-block:
		}
	}
	if err == nil {
		f.settled <- struct{}{}
	}
	return err
}

func (f *fakeRunner) HandleJobFailure(ctx context.Context, job *jobs.Job, stageErr error, terminal bool) error {
	f.mu.Lock()
	f.failures = append(f.failures, failureCall{jobID: job.ID, terminal: terminal, err: stageErr})
	f.mu.Unlock()
	f.settled <- struct{}{}
	return nil
}

func (f *fakeRunner) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ran)
}

func (f *fakeRunner) lastFailure(t *testing.T) failureCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.failures) == 0 {
		t.Fatal("no failure recorded")
	}
	return f.failures[len(f.failures)-1]
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Workflow.WorkerConcurrency = 1
	return &cfg
}

func openQueue(t *testing.T) *jobs.Store {
	t.Helper()
	queue, err := jobs.Open(t.TempDir(), jobs.Options{})
	if err != nil {
		t.Fatalf("open job store: %v", err)
	}
	t.Cleanup(func() { queue.Close() })
	return queue
}

func waitSettled(t *testing.T, runner *fakeRunner) {
	t.Helper()
	select {
	case <-runner.settled:
	case <-time.After(5 * time.Second):
		t.Fatal("job never settled")
	}
}

func waitForState(t *testing.T, queue *jobs.Store, id int64, want jobs.State) *jobs.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := queue.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if job.State == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	job, _ := queue.GetByID(context.Background(), id)
	t.Fatalf("job %d never reached %s, state=%s", id, want, job.State)
	return nil
}

func TestPoolCompletesSuccessfulJob(t *testing.T) {
	queue := openQueue(t)
	runner := newFakeRunner()
	pool := worker.New(testConfig(), queue, runner, logging.NewNop())

	job, err := queue.Enqueue(context.Background(), 1, jobs.StageTranscribe, "", jobs.PriorityNormal)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start pool: %v", err)
	}
	defer pool.Stop()

	waitSettled(t, runner)
	got := waitForState(t, queue, job.ID, jobs.StateCompleted)
	if got.LastError != "" {
		t.Fatalf("completed job carries error: %q", got.LastError)
	}
	if runner.runCount() != 1 {
		t.Fatalf("expected one run, got %d", runner.runCount())
	}
}

func TestPoolDelaysTransientFailure(t *testing.T) {
	queue := openQueue(t)
	runner := newFakeRunner()
	runner.runErr = errors.New("connection reset by peer")
	pool := worker.New(testConfig(), queue, runner, logging.NewNop())

	job, err := queue.Enqueue(context.Background(), 1, jobs.StageSummarize, "", jobs.PriorityNormal)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start pool: %v", err)
	}
	defer pool.Stop()

	waitSettled(t, runner)
	got := waitForState(t, queue, job.ID, jobs.StateDelayed)
	if got.Attempts != 1 {
		t.Fatalf("expected one attempt, got %d", got.Attempts)
	}
	if got.RunAt == nil {
		t.Fatal("delayed job must carry a run_at time")
	}

	failure := runner.lastFailure(t)
	if failure.terminal {
		t.Fatal("transient failure must not be terminal on first attempt")
	}
}

func TestPoolFailsPermanentErrorTerminally(t *testing.T) {
	queue := openQueue(t)
	runner := newFakeRunner()
	runner.runErr = services.Wrap(services.ErrFatal, "article", "generate", "refused", nil)
	pool := worker.New(testConfig(), queue, runner, logging.NewNop())

	job, err := queue.Enqueue(context.Background(), 1, jobs.StageArticle, "", jobs.PriorityNormal)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start pool: %v", err)
	}
	defer pool.Stop()

	waitSettled(t, runner)
	got := waitForState(t, queue, job.ID, jobs.StateFailed)
	if !strings.Contains(got.LastError, "refused") {
		t.Fatalf("failure reason not recorded: %q", got.LastError)
	}

	failure := runner.lastFailure(t)
	if !failure.terminal {
		t.Fatal("permanent failure must be terminal")
	}
	if failure.jobID != job.ID {
		t.Fatalf("failure reported for wrong job: %d", failure.jobID)
	}
}

func TestPoolReleasesJobInterruptedByShutdown(t *testing.T) {
	queue := openQueue(t)
	runner := newFakeRunner()
	runner.block = make(chan struct{})
	pool := worker.New(testConfig(), queue, runner, logging.NewNop())

	job, err := queue.Enqueue(context.Background(), 1, jobs.StageTranscribe, "", jobs.PriorityNormal)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start pool: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for runner.runCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("job never claimed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	pool.Stop()

	got := waitForState(t, queue, job.ID, jobs.StatePending)
	if got.LastError != "interrupted by shutdown" {
		t.Fatalf("unexpected last error: %q", got.LastError)
	}
	if got.Attempts != 0 {
		t.Fatalf("shutdown must not charge an attempt, got %d", got.Attempts)
	}
	if len(runner.failures) != 0 {
		t.Fatal("shutdown must not be reported as a job failure")
	}
}

func TestPoolStartTwiceFails(t *testing.T) {
	queue := openQueue(t)
	pool := worker.New(testConfig(), queue, newFakeRunner(), logging.NewNop())

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start pool: %v", err)
	}
	defer pool.Stop()

	if err := pool.Start(context.Background()); err == nil {
		t.Fatal("second Start must fail while running")
	}
}
