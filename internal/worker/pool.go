package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"scribe/internal/config"
	"scribe/internal/jobs"
	"scribe/internal/logging"
	"scribe/internal/services"
)

// Runner executes a claimed job and reacts to its failures. Implemented by
// the pipeline orchestrator.
type Runner interface {
	RunJob(ctx context.Context, job *jobs.Job) error
	HandleJobFailure(ctx context.Context, job *jobs.Job, stageErr error, terminal bool) error
}

// Pool owns the lane goroutines. Construct with New, then Start and Stop.
type Pool struct {
	queue  *jobs.Store
	runner Runner
	logger *slog.Logger

	concurrency  int
	pollInterval time.Duration
	errorRetry   time.Duration
	stageTimeout time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type lane struct {
	stage jobs.Stage
	index int
	// The first lane of each stage also promotes delayed jobs whose backoff
	// has elapsed.
	runReleaser bool
	logger      *slog.Logger
}

// New constructs a pool sized from the workflow configuration.
func New(cfg *config.Config, queue *jobs.Store, runner Runner, logger *slog.Logger) *Pool {
	concurrency := cfg.Workflow.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Pool{
		queue:        queue,
		runner:       runner,
		logger:       logging.NewComponentLogger(logger, "worker"),
		concurrency:  concurrency,
		pollInterval: time.Duration(cfg.Workflow.PollIntervalSeconds) * time.Second,
		errorRetry:   time.Duration(cfg.Workflow.ErrorRetrySeconds) * time.Second,
		stageTimeout: time.Duration(cfg.Workflow.StageTimeoutMinutes) * time.Minute,
	}
}

// Start launches the lanes in the background.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("worker pool already running")
	}
	if p.queue == nil || p.runner == nil {
		return errors.New("worker pool not fully configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	for _, stage := range jobs.Stages() {
		for i := 0; i < p.concurrency; i++ {
			ln := &lane{
				stage:       stage,
				index:       i,
				runReleaser: i == 0,
				logger: p.logger.With(
					logging.String(logging.FieldStage, string(stage)),
					logging.Int("lane", i)),
			}
			p.wg.Add(1)
			go p.runLane(runCtx, ln)
		}
	}
	return nil
}

// Stop cancels the lanes and waits for in-flight jobs to settle.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
}

func (p *Pool) runLane(ctx context.Context, ln *lane) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if ln.runReleaser {
			if released, err := p.queue.ReleaseDue(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				ln.logger.Warn("releasing delayed jobs failed", logging.Error(err))
			} else if released > 0 {
				ln.logger.Debug("delayed jobs released", logging.Int("count", released))
			}
		}

		job, err := p.queue.Claim(ctx, ln.stage)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			ln.logger.Error("claiming next job failed", logging.Error(err))
			sleepCtx(ctx, p.errorRetry)
			continue
		}
		if job == nil {
			sleepCtx(ctx, p.pollInterval)
			continue
		}

		p.processJob(ctx, ln, job)
	}
}

func (p *Pool) processJob(ctx context.Context, ln *lane, job *jobs.Job) {
	runCtx := ctx
	var cancel context.CancelFunc
	if p.stageTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, p.stageTimeout)
		defer cancel()
	}

	err := p.runner.RunJob(runCtx, job)
	if err == nil {
		if cerr := p.queue.Complete(ctx, job.ID); cerr != nil {
			ln.logger.Error("completing job failed",
				logging.Int64(logging.FieldJobID, job.ID),
				logging.Error(cerr))
		}
		return
	}

	// Shutdown is not a job failure; the job goes straight back to pending
	// with no attempt charged and is picked up on the next run.
	if ctx.Err() != nil {
		if rerr := p.queue.Release(context.WithoutCancel(ctx), job.ID, "interrupted by shutdown"); rerr != nil {
			ln.logger.Error("releasing interrupted job failed",
				logging.Int64(logging.FieldJobID, job.ID),
				logging.Error(rerr))
		}
		return
	}

	retryable := services.IsTransient(err)
	if errors.Is(err, context.DeadlineExceeded) {
		retryable = true
		err = services.Wrap(services.ErrTransient, string(ln.stage), "run",
			"stage timed out", err)
	}

	terminal, ferr := p.queue.Fail(ctx, job.ID, err.Error(), retryable)
	if ferr != nil {
		ln.logger.Error("recording job failure failed",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.Error(ferr))
		return
	}
	if herr := p.runner.HandleJobFailure(ctx, job, err, terminal); herr != nil {
		ln.logger.Error("failure handling failed",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.Error(herr))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
