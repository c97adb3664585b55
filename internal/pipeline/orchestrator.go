package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"scribe/internal/jobs"
	"scribe/internal/logging"
	"scribe/internal/progress"
	"scribe/internal/records"
	"scribe/internal/services"
)

// Orchestrator drives records through the stage sequence.
type Orchestrator struct {
	store     *records.Store
	queue     *jobs.Store
	execs     ExecutorSet
	publisher *progress.Publisher
	logger    *slog.Logger
}

// New constructs the orchestrator.
func New(store *records.Store, queue *jobs.Store, execs ExecutorSet, publisher *progress.Publisher, logger *slog.Logger) (*Orchestrator, error) {
	if store == nil {
		return nil, fmt.Errorf("orchestrator: record store required")
	}
	if queue == nil {
		return nil, fmt.Errorf("orchestrator: job queue required")
	}
	if err := execs.validate(); err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	if publisher == nil {
		publisher = progress.NewPublisher(0)
	}
	return &Orchestrator{
		store:     store,
		queue:     queue,
		execs:     execs,
		publisher: publisher,
		logger:    logging.NewComponentLogger(logger, "pipeline"),
	}, nil
}

// Start enqueues the next unmet stage for the record. Completed records are
// a no-op returning nil; failed records must go through Retry instead.
func (o *Orchestrator) Start(ctx context.Context, recordID int64) (*jobs.Job, error) {
	record, err := o.store.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if record.Status == records.StatusDone {
		return nil, nil
	}
	if record.Status == records.StatusError {
		return nil, services.Wrap(services.ErrPrecondition, "", "start",
			fmt.Sprintf("record %d has failed; retry it instead", recordID), nil)
	}

	stage, ok := nextStage(record)
	if !ok {
		return nil, nil
	}
	return o.enqueueStage(ctx, record, stage)
}

// Retry restarts the whole pipeline from the transcription stage.
func (o *Orchestrator) Retry(ctx context.Context, recordID int64) (*jobs.Job, error) {
	return o.RetryFromStage(ctx, recordID, jobs.StageTranscribe)
}

// RetryFromStage resumes the pipeline at the given stage, reusing the
// artifacts earlier stages already produced. Preconditions are checked
// before any mutation: timestamps and summarize need a transcript, article
// needs a summary. The record's error is cleared and its progress percent
// kept.
func (o *Orchestrator) RetryFromStage(ctx context.Context, recordID int64, stage jobs.Stage) (*jobs.Job, error) {
	if !stage.Valid() {
		return nil, services.Wrap(services.ErrValidation, "", "retry", fmt.Sprintf("unknown stage %q", stage), nil)
	}
	record, err := o.store.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if err := checkStagePrecondition(record, stage); err != nil {
		return nil, err
	}

	record.ErrorMessage = ""
	record.Status = records.StatusProcessing
	if percent, ok := records.PercentForStatus(records.StatusProcessing); ok && record.ProgressPercent < percent {
		record.ProgressPercent = percent
	}
	record.ProgressMessage = fmt.Sprintf("retrying from %s", stage)
	if err := o.store.Update(ctx, record); err != nil {
		return nil, err
	}

	job, err := o.enqueueStage(ctx, record, stage)
	if err != nil {
		return nil, err
	}
	o.logger.Info("pipeline retry scheduled",
		logging.Int64(logging.FieldRecordID, record.ID),
		logging.String(logging.FieldStage, string(stage)),
		logging.Int64(logging.FieldJobID, job.ID))
	return job, nil
}

// checkStagePrecondition verifies the artifacts a stage consumes exist.
func checkStagePrecondition(record *records.Record, stage jobs.Stage) error {
	switch stage {
	case jobs.StageTranscribe:
		return nil
	case jobs.StageTimestamps, jobs.StageSummarize:
		if record.Transcript == "" {
			return services.Wrap(services.ErrPrecondition, string(stage), "retry",
				fmt.Sprintf("record %d has no transcript", record.ID), nil)
		}
		return nil
	case jobs.StageArticle:
		if record.Summary == "" {
			return services.Wrap(services.ErrPrecondition, string(stage), "retry",
				fmt.Sprintf("record %d has no summary", record.ID), nil)
		}
		return nil
	default:
		return services.Wrap(services.ErrValidation, string(stage), "retry", "unknown stage", nil)
	}
}

// nextStage picks the first stage whose artifact is missing. The timestamp
// index is optional, so it only gates when the summary is also missing.
func nextStage(record *records.Record) (jobs.Stage, bool) {
	switch {
	case record.Transcript == "":
		return jobs.StageTranscribe, true
	case record.Summary == "" && record.TimestampIndexJSON == "":
		return jobs.StageTimestamps, true
	case record.Summary == "":
		return jobs.StageSummarize, true
	case record.Article == "":
		return jobs.StageArticle, true
	default:
		return "", false
	}
}

// enqueueStage schedules one job for (record, stage). An already-open job
// for the slot is returned as-is, which keeps Start and the chain
// idempotent.
func (o *Orchestrator) enqueueStage(ctx context.Context, record *records.Record, stage jobs.Stage) (*jobs.Job, error) {
	open, err := o.queue.FindOpen(ctx, record.ID, stage)
	if err != nil {
		return nil, err
	}
	if open != nil {
		return open, nil
	}

	priority := jobs.PriorityNormal
	if info, statErr := os.Stat(record.SourcePath); statErr == nil {
		priority = jobs.PriorityForSize(info.Size())
	}

	job, err := o.queue.Enqueue(ctx, record.ID, stage, "", priority)
	if err != nil {
		return nil, err
	}
	o.logger.Info("stage enqueued",
		logging.Int64(logging.FieldRecordID, record.ID),
		logging.String(logging.FieldStage, string(stage)),
		logging.Int64(logging.FieldJobID, job.ID),
		logging.Int("priority", job.Priority))
	return job, nil
}

func (o *Orchestrator) publish(job *jobs.Job, record *records.Record, eventType progress.EventType, message string) {
	o.publisher.Publish(progress.Event{
		JobID:    job.ID,
		RecordID: record.ID,
		Type:     eventType,
		Status:   record.Status,
		Percent:  record.ProgressPercent,
		Message:  message,
	})
}

// Publisher exposes the progress hub the orchestrator publishes to.
func (o *Orchestrator) Publisher() *progress.Publisher {
	return o.publisher
}
