// Package reaper sweeps the job queue for work that stopped making
// progress. A sweep promotes delayed jobs whose backoff has elapsed,
// requeues jobs whose worker went away, and routes jobs that stalled past
// the attempt ceiling through the pipeline's failure handling.
package reaper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lthibault/jitterbug/v2"

	"scribe/internal/config"
	"scribe/internal/jobs"
	"scribe/internal/logging"
	"scribe/internal/records"
)

// FailureHandler settles a job the queue has given up on. Implemented by
// the pipeline orchestrator.
type FailureHandler interface {
	HandleJobFailure(ctx context.Context, job *jobs.Job, stageErr error, terminal bool) error
}

// Reaper runs periodic sweeps in the background.
type Reaper struct {
	queue   *jobs.Store
	store   *records.Store
	handler FailureHandler
	logger  *slog.Logger

	interval   time.Duration
	stallAfter time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// SweepResult summarizes one pass over the queue.
type SweepResult struct {
	Released int
	Requeued int
	Failed   int
	Settled  int
}

// New constructs a reaper sized from the workflow configuration.
func New(cfg *config.Config, queue *jobs.Store, store *records.Store, handler FailureHandler, logger *slog.Logger) *Reaper {
	return &Reaper{
		queue:      queue,
		store:      store,
		handler:    handler,
		logger:     logging.NewComponentLogger(logger, "reaper"),
		interval:   time.Duration(cfg.Workflow.ReaperIntervalMinutes) * time.Minute,
		stallAfter: time.Duration(cfg.Workflow.StallTimeoutMinutes) * time.Minute,
	}
}

// Start launches the sweep loop in the background.
func (r *Reaper) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("reaper already running")
	}
	if r.interval <= 0 {
		return errors.New("reaper interval not configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.wg.Add(1)
	go r.run(runCtx)
	return nil
}

// Stop cancels the sweep loop and waits for it to finish.
func (r *Reaper) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
}

func (r *Reaper) run(ctx context.Context) {
	defer r.wg.Done()

	// Jitter keeps sweeps from aligning with the workers' poll cadence.
	ticker := jitterbug.New(r.interval, &jitterbug.Norm{Stdev: r.interval / 20})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("sweep failed", logging.Error(err))
		}
	}
}

// Sweep performs one maintenance pass. Safe to call concurrently with the
// background loop; the queue serializes the underlying updates.
func (r *Reaper) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	released, err := r.queue.ReleaseDue(ctx)
	if err != nil {
		return result, err
	}
	result.Released = released

	cutoff := time.Now().Add(-r.stallAfter)
	requeued, failed, err := r.queue.RequeueStalled(ctx, cutoff)
	if err != nil {
		return result, err
	}
	result.Requeued = requeued
	result.Failed = failed

	settled, err := r.settleAbandonedRecords(ctx)
	if err != nil {
		return result, err
	}
	result.Settled = settled

	if result.Released > 0 || result.Requeued > 0 || result.Failed > 0 || result.Settled > 0 {
		r.logger.Info("sweep finished",
			logging.Int("released", result.Released),
			logging.Int("requeued", result.Requeued),
			logging.Int("failed", result.Failed),
			logging.Int("settled", result.Settled))
	}
	return result, nil
}

// settleAbandonedRecords finds records still mid-pipeline whose latest job
// the queue has terminally failed, and routes them through the failure
// handler so they end up in a reportable state. A record sits at
// transcribed while the timestamp and summarize jobs run and at summarized
// while the article job runs, so every non-terminal status is checked.
func (r *Reaper) settleAbandonedRecords(ctx context.Context) (int, error) {
	if r.store == nil || r.handler == nil {
		return 0, nil
	}
	open, err := r.store.List(ctx,
		records.StatusProcessing, records.StatusTranscribed, records.StatusSummarized)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, record := range open {
		job, err := r.queue.Latest(ctx, record.ID)
		if err != nil {
			return settled, err
		}
		if job == nil || job.State != jobs.StateFailed {
			continue
		}
		reason := job.LastError
		if reason == "" {
			reason = "stage abandoned"
		}
		if err := r.handler.HandleJobFailure(ctx, job, errors.New(reason), true); err != nil {
			return settled, err
		}
		settled++
	}
	return settled, nil
}
