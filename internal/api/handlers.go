package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"scribe/internal/jobs"
	"scribe/internal/logging"
	"scribe/internal/logs"
	"scribe/internal/records"
	"scribe/internal/services"
)

type recordSummary struct {
	ID         int64          `json:"id"`
	Title      string         `json:"title"`
	SourcePath string         `json:"source_path"`
	Status     records.Status `json:"status"`
	Percent    int            `json:"percent"`
	Message    string         `json:"message,omitempty"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

type recordDetail struct {
	recordSummary
	Transcript     string          `json:"transcript,omitempty"`
	TimestampIndex json.RawMessage `json:"timestamp_index,omitempty"`
	Summary        string          `json:"summary,omitempty"`
	Article        string          `json:"article,omitempty"`
}

type jobView struct {
	ID       int64      `json:"id"`
	RecordID int64      `json:"record_id"`
	Stage    jobs.Stage `json:"stage"`
	State    jobs.State `json:"state"`
	Attempts int        `json:"attempts"`
	Priority int        `json:"priority"`
	RunAt    *time.Time `json:"run_at,omitempty"`
	Error    string     `json:"error,omitempty"`
}

type startReply struct {
	Job     *jobView `json:"job"`
	Message string   `json:"message,omitempty"`
}

type statusReply struct {
	Records map[records.Status]int `json:"records"`
	Jobs    map[jobs.State]int     `json:"jobs"`
}

type errorReply struct {
	Error string `json:"error"`
}

func summarizeRecord(record *records.Record) recordSummary {
	return recordSummary{
		ID:         record.ID,
		Title:      record.Title,
		SourcePath: record.SourcePath,
		Status:     record.Status,
		Percent:    record.ProgressPercent,
		Message:    record.ProgressMessage,
		Error:      record.ErrorMessage,
		CreatedAt:  record.CreatedAt,
		UpdatedAt:  record.UpdatedAt,
	}
}

func detailRecord(record *records.Record) recordDetail {
	detail := recordDetail{
		recordSummary: summarizeRecord(record),
		Transcript:    record.Transcript,
		Summary:       record.Summary,
		Article:       record.Article,
	}
	if record.TimestampIndexJSON != "" {
		detail.TimestampIndex = json.RawMessage(record.TimestampIndexJSON)
	}
	return detail
}

func viewJob(job *jobs.Job) *jobView {
	if job == nil {
		return nil
	}
	return &jobView{
		ID:       job.ID,
		RecordID: job.RecordID,
		Stage:    job.Stage,
		State:    job.State,
		Attempts: job.Attempts,
		Priority: job.Priority,
		RunAt:    job.RunAt,
		Error:    job.LastError,
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("response encoding failed", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrNotFound),
		errors.Is(err, records.ErrNotFound),
		errors.Is(err, jobs.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrPrecondition):
		status = http.StatusConflict
	case errors.Is(err, services.ErrValidation):
		status = http.StatusUnprocessableEntity
	}
	s.writeJSON(w, status, errorReply{Error: err.Error()})
}

func recordIDParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "recordID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, services.Wrap(services.ErrValidation, "", "parse request", "invalid record id "+strconv.Quote(raw), nil)
	}
	return id, nil
}

func jobIDParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "jobID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, services.Wrap(services.ErrValidation, "", "parse request", "invalid job id "+strconv.Quote(raw), nil)
	}
	return id, nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	recordStats, err := s.store.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	jobStats, err := s.queue.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, statusReply{Records: recordStats, Jobs: jobStats})
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	var statuses []records.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := records.Status(raw)
		if !status.Valid() {
			s.writeError(w, services.Wrap(services.ErrValidation, "", "parse request",
				"unknown status "+strconv.Quote(raw), nil))
			return
		}
		statuses = append(statuses, status)
	}

	list, err := s.store.List(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, err)
		return
	}
	views := make([]recordSummary, 0, len(list))
	for _, record := range list {
		views = append(views, summarizeRecord(record))
	}
	s.writeJSON(w, http.StatusOK, views)
}

type createRecordRequest struct {
	SourcePath string `json:"source_path"`
	Start      bool   `json:"start"`
}

type createRecordReply struct {
	Record recordSummary `json:"record"`
	Job    *jobView      `json:"job,omitempty"`
}

// handleCreateRecord registers a media file that is already on disk,
// optionally starting the pipeline right away. Re-registering a known path
// returns the existing record.
func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	var req createRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, services.Wrap(services.ErrValidation, "", "parse request", err.Error(), nil))
		return
	}
	if strings.TrimSpace(req.SourcePath) == "" {
		s.writeError(w, services.Wrap(services.ErrValidation, "", "parse request", "source_path is required", nil))
		return
	}

	record, err := s.store.FindBySourcePath(r.Context(), req.SourcePath)
	if err != nil {
		s.writeError(w, err)
		return
	}
	created := false
	if record == nil {
		record, err = s.store.NewUpload(r.Context(), req.SourcePath)
		if err != nil {
			s.writeError(w, err)
			return
		}
		created = true
	}

	reply := createRecordReply{Record: summarizeRecord(record)}
	if req.Start {
		job, err := s.pipeline.Start(r.Context(), record.ID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		reply.Job = viewJob(job)
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, reply)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id, err := recordIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	record, err := s.store.GetByID(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, detailRecord(record))
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id, err := recordIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	job, err := s.pipeline.Start(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if job == nil {
		s.writeJSON(w, http.StatusOK, startReply{Message: "nothing to do"})
		return
	}
	s.writeJSON(w, http.StatusAccepted, startReply{Job: viewJob(job)})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id, err := recordIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	job, err := s.pipeline.Retry(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, startReply{Job: viewJob(job)})
}

func (s *Server) handleRetryFrom(w http.ResponseWriter, r *http.Request) {
	id, err := recordIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	stage, err := jobs.ParseStage(chi.URLParam(r, "stage"))
	if err != nil {
		s.writeError(w, services.Wrap(services.ErrValidation, "", "parse request", err.Error(), nil))
		return
	}
	job, err := s.pipeline.RetryFromStage(r.Context(), id, stage)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, startReply{Job: viewJob(job)})
}

// handleLogs tails the daemon log file. Without an offset parameter it
// returns the last "lines" lines; with offset=N it returns lines written
// after that offset so clients can poll incrementally.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.logPath == "" {
		s.writeError(w, services.Wrap(services.ErrNotFound, "", "logs", "log file not configured", nil))
		return
	}

	query := r.URL.Query()
	opts := logs.TailOptions{Offset: -1, Limit: 100}
	if raw := query.Get("lines"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > 10000 {
			s.writeError(w, services.Wrap(services.ErrValidation, "", "parse request",
				"invalid lines value "+strconv.Quote(raw), nil))
			return
		}
		opts.Limit = limit
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || offset < 0 {
			s.writeError(w, services.Wrap(services.ErrValidation, "", "parse request",
				"invalid offset value "+strconv.Quote(raw), nil))
			return
		}
		opts.Offset = offset
	}

	result, err := logs.Tail(s.logPath, opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// handleProgressPoll returns progress events for a job. Without parameters
// it returns the latest event; with since=N it returns everything newer,
// optionally long-polling when wait=true.
func (s *Server) handleProgressPoll(w http.ResponseWriter, r *http.Request) {
	id, err := jobIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	publisher := s.pipeline.Publisher()

	query := r.URL.Query()
	if query.Get("since") == "" && query.Get("wait") == "" {
		event, ok := publisher.Latest(id)
		if !ok {
			s.writeError(w, services.Wrap(services.ErrNotFound, "", "progress",
				"no progress for job "+strconv.FormatInt(id, 10), nil))
			return
		}
		s.writeJSON(w, http.StatusOK, event)
		return
	}

	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	wait := query.Get("wait") == "true" || query.Get("wait") == "1"

	ctx := r.Context()
	if wait {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 25*time.Second)
		defer cancel()
	}
	events, err := publisher.Fetch(ctx, id, since, wait)
	if err != nil && len(events) == 0 && wait {
		// Long poll expired without news.
		s.writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	if err != nil && len(events) == 0 {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, events)
}
