package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"scribe/internal/jobs"
	"scribe/internal/logging"
	"scribe/internal/progress"
	"scribe/internal/records"
	"scribe/internal/services"
)

// RunJob executes one claimed job. Called by workers; the returned error is
// classified by the worker to decide between redelivery and terminal
// failure.
func (o *Orchestrator) RunJob(ctx context.Context, job *jobs.Job) error {
	ctx = services.WithRecordID(ctx, job.RecordID)
	ctx = services.WithJobID(ctx, job.ID)
	ctx = services.WithStage(ctx, string(job.Stage))
	ctx = services.WithRequestID(ctx, uuid.NewString())
	logger := logging.WithContext(ctx, o.logger)

	record, err := o.store.GetByID(ctx, job.RecordID)
	if err != nil {
		return err
	}

	if record.Status == records.StatusUploaded {
		o.advance(record, records.StatusProcessing, "processing started")
		if err := o.store.Update(ctx, record); err != nil {
			return err
		}
		o.publish(job, record, progress.EventProgress, record.ProgressMessage)
	}

	logger.Info("stage started", logging.Int("attempt", job.Attempts+1))

	switch job.Stage {
	case jobs.StageTranscribe:
		return o.runTranscribe(ctx, job, record)
	case jobs.StageTimestamps:
		return o.runTimestamps(ctx, job, record)
	case jobs.StageSummarize:
		return o.runSummarize(ctx, job, record)
	case jobs.StageArticle:
		return o.runArticle(ctx, job, record)
	default:
		return services.Wrap(services.ErrValidation, string(job.Stage), "run", "unknown stage", nil)
	}
}

func (o *Orchestrator) runTranscribe(ctx context.Context, job *jobs.Job, record *records.Record) error {
	text, err := o.execs.Transcriber.Transcribe(ctx, record.SourcePath)
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return services.Wrap(services.ErrValidation, "transcribe", "validate result", "empty transcript", nil)
	}

	record.Transcript = text
	o.advance(record, records.StatusTranscribed, "transcription complete")
	if err := o.store.Update(ctx, record); err != nil {
		return err
	}
	o.publish(job, record, progress.EventProgress, record.ProgressMessage)
	return o.chain(ctx, record, jobs.StageTimestamps)
}

func (o *Orchestrator) runTimestamps(ctx context.Context, job *jobs.Job, record *records.Record) error {
	if record.Transcript == "" {
		return services.Wrap(services.ErrPrecondition, "timestamps", "run", "record has no transcript", nil)
	}
	entries, err := o.execs.Timestamps.ExtractTimestamps(ctx, record.Transcript)
	if err != nil {
		return err
	}
	encoded, err := encodeTimestampIndex(entries)
	if err != nil {
		return services.Wrap(services.ErrValidation, "timestamps", "encode result", "", err)
	}

	record.TimestampIndexJSON = encoded
	record.ProgressMessage = "timestamp index built"
	if err := o.store.Update(ctx, record); err != nil {
		return err
	}
	o.publish(job, record, progress.EventProgress, record.ProgressMessage)
	return o.chain(ctx, record, jobs.StageSummarize)
}

func (o *Orchestrator) runSummarize(ctx context.Context, job *jobs.Job, record *records.Record) error {
	if record.Transcript == "" {
		return services.Wrap(services.ErrPrecondition, "summarize", "run", "record has no transcript", nil)
	}
	summary, err := o.execs.Summarizer.Summarize(ctx, record.Transcript)
	if err != nil {
		return err
	}
	if strings.TrimSpace(summary) == "" {
		return services.Wrap(services.ErrValidation, "summarize", "validate result", "empty summary", nil)
	}

	record.Summary = summary
	o.advance(record, records.StatusSummarized, "summary complete")
	if err := o.store.Update(ctx, record); err != nil {
		return err
	}
	o.publish(job, record, progress.EventProgress, record.ProgressMessage)
	return o.chain(ctx, record, jobs.StageArticle)
}

func (o *Orchestrator) runArticle(ctx context.Context, job *jobs.Job, record *records.Record) error {
	if record.Summary == "" {
		return services.Wrap(services.ErrPrecondition, "article", "run", "record has no summary", nil)
	}
	result, err := o.execs.Articles.WriteArticle(ctx, record.Summary, record.Transcript)
	if err != nil {
		return err
	}
	if strings.TrimSpace(result.Title) == "" || strings.TrimSpace(result.Body) == "" {
		return services.Wrap(services.ErrValidation, "article", "validate result", "missing title or body", nil)
	}

	record.Article = fmt.Sprintf("# %s\n\n%s", strings.TrimSpace(result.Title), strings.TrimSpace(result.Body))
	o.advance(record, records.StatusDone, "article complete")
	if err := o.store.Update(ctx, record); err != nil {
		return err
	}
	o.publish(job, record, progress.EventCompleted, record.ProgressMessage)
	return nil
}

// HandleJobFailure reacts to a job the queue has finished retrying (or that
// failed non-retryably). Timestamp extraction is non-fatal: the pipeline
// logs the loss and chains into summarize. Every other terminal failure
// parks the record in error, keeping the percent it last reached.
func (o *Orchestrator) HandleJobFailure(ctx context.Context, job *jobs.Job, stageErr error, terminal bool) error {
	ctx = services.WithRecordID(ctx, job.RecordID)
	ctx = services.WithJobID(ctx, job.ID)
	ctx = services.WithStage(ctx, string(job.Stage))
	logger := logging.WithContext(ctx, o.logger)

	record, err := o.store.GetByID(ctx, job.RecordID)
	if err != nil {
		return err
	}

	if !terminal {
		logger.Warn("stage failed, redelivery scheduled",
			logging.Int("attempt", job.Attempts+1),
			logging.Error(stageErr))
		o.publish(job, record, progress.EventProgress, fmt.Sprintf("%s failed, retrying", job.Stage))
		return nil
	}

	if job.Stage == jobs.StageTimestamps {
		logger.Warn("timestamp extraction failed, continuing without index", logging.Error(stageErr))
		o.publish(job, record, progress.EventProgress, "timestamp index unavailable")
		_, err := o.enqueueStage(ctx, record, jobs.StageSummarize)
		return err
	}

	logger.Error("stage failed terminally", logging.Error(stageErr))
	record.Status = records.StatusError
	record.ErrorMessage = stageErr.Error()
	record.ProgressMessage = fmt.Sprintf("%s failed", job.Stage)
	if err := o.store.Update(ctx, record); err != nil {
		return err
	}
	o.publish(job, record, progress.EventFailed, record.ProgressMessage)
	return nil
}

// chain enqueues the follow-up stage after a successful one.
func (o *Orchestrator) chain(ctx context.Context, record *records.Record, stage jobs.Stage) error {
	_, err := o.enqueueStage(ctx, record, stage)
	return err
}

// advance moves the record to status and raises its percent monotonically.
// A record never reports less progress than it already has.
func (o *Orchestrator) advance(record *records.Record, status records.Status, message string) {
	record.Status = status
	record.ProgressMessage = message
	if percent, ok := records.PercentForStatus(status); ok && percent > record.ProgressPercent {
		record.ProgressPercent = percent
	}
}
