// Package apiclient is the HTTP client the CLI uses to talk to the
// daemon's API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"scribe/internal/progress"
)

// Record mirrors the API's record document.
type Record struct {
	ID             int64           `json:"id"`
	Title          string          `json:"title"`
	SourcePath     string          `json:"source_path"`
	Status         string          `json:"status"`
	Percent        int             `json:"percent"`
	Message        string          `json:"message"`
	Error          string          `json:"error"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Transcript     string          `json:"transcript"`
	TimestampIndex json.RawMessage `json:"timestamp_index"`
	Summary        string          `json:"summary"`
	Article        string          `json:"article"`
}

// Job mirrors the API's job document.
type Job struct {
	ID       int64      `json:"id"`
	RecordID int64      `json:"record_id"`
	Stage    string     `json:"stage"`
	State    string     `json:"state"`
	Attempts int        `json:"attempts"`
	Priority int        `json:"priority"`
	RunAt    *time.Time `json:"run_at"`
	Error    string     `json:"error"`
}

// StartReply is the response of the start and retry actions.
type StartReply struct {
	Job     *Job   `json:"job"`
	Message string `json:"message"`
}

// Status aggregates daemon counters.
type Status struct {
	Records map[string]int `json:"records"`
	Jobs    map[string]int `json:"jobs"`
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("daemon returned status %d", e.StatusCode)
}

// Client talks to one daemon instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New constructs a client for addr, which may be a bare host:port or a
// full http URL.
func New(addr string) *Client {
	base := strings.TrimRight(strings.TrimSpace(addr), "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, into any) error {
	return c.doBody(ctx, method, path, nil, into)
}

func (c *Client) doBody(ctx context.Context, method, path string, payload, into any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connect to daemon at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var reply struct {
			Error string `json:"error"`
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if err := json.Unmarshal(body, &reply); err != nil || reply.Error == "" {
			reply.Error = strings.TrimSpace(string(body))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: reply.Error}
	}
	if into == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(into)
}

// Status fetches daemon counters.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var status Status
	err := c.do(ctx, http.MethodGet, "/api/status", &status)
	return status, err
}

// ListRecords fetches record summaries, optionally filtered by status.
func (c *Client) ListRecords(ctx context.Context, status string) ([]Record, error) {
	path := "/api/records"
	if status != "" {
		path += "?status=" + status
	}
	var list []Record
	err := c.do(ctx, http.MethodGet, path, &list)
	return list, err
}

// GetRecord fetches one record with its artifacts.
func (c *Client) GetRecord(ctx context.Context, id int64) (Record, error) {
	var record Record
	err := c.do(ctx, http.MethodGet, "/api/records/"+strconv.FormatInt(id, 10), &record)
	return record, err
}

// AddReply is the response of record registration.
type AddReply struct {
	Record Record `json:"record"`
	Job    *Job   `json:"job"`
}

// AddRecord registers a media file with the daemon, optionally starting
// the pipeline right away.
func (c *Client) AddRecord(ctx context.Context, sourcePath string, start bool) (AddReply, error) {
	payload := map[string]any{"source_path": sourcePath, "start": start}
	var reply AddReply
	err := c.doBody(ctx, http.MethodPost, "/api/records", payload, &reply)
	return reply, err
}

// Start asks the daemon to process a record from its next unmet stage.
func (c *Client) Start(ctx context.Context, id int64) (StartReply, error) {
	var reply StartReply
	err := c.do(ctx, http.MethodPost, "/api/records/"+strconv.FormatInt(id, 10)+"/start", &reply)
	return reply, err
}

// Retry restarts a failed record from the beginning.
func (c *Client) Retry(ctx context.Context, id int64) (StartReply, error) {
	var reply StartReply
	err := c.do(ctx, http.MethodPost, "/api/records/"+strconv.FormatInt(id, 10)+"/retry", &reply)
	return reply, err
}

// RetryFrom resumes a record at the given stage.
func (c *Client) RetryFrom(ctx context.Context, id int64, stage string) (StartReply, error) {
	var reply StartReply
	err := c.do(ctx, http.MethodPost,
		"/api/records/"+strconv.FormatInt(id, 10)+"/retry-from/"+stage, &reply)
	return reply, err
}

// LogsReply mirrors the log tail response.
type LogsReply struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

// Logs tails the daemon log. A negative offset fetches the last "lines"
// lines; pass the returned offset back to read only what is new.
func (c *Client) Logs(ctx context.Context, offset int64, lines int) (LogsReply, error) {
	path := fmt.Sprintf("/api/logs?lines=%d", lines)
	if offset >= 0 {
		path = fmt.Sprintf("/api/logs?offset=%d", offset)
	}
	var reply LogsReply
	err := c.do(ctx, http.MethodGet, path, &reply)
	return reply, err
}

// ProgressLatest fetches the most recent progress event for a job.
func (c *Client) ProgressLatest(ctx context.Context, jobID int64) (progress.Event, error) {
	var event progress.Event
	err := c.do(ctx, http.MethodGet, "/api/progress/"+strconv.FormatInt(jobID, 10), &event)
	return event, err
}

// ProgressFetch long-polls for progress events newer than since.
func (c *Client) ProgressFetch(ctx context.Context, jobID int64, since uint64) ([]progress.Event, error) {
	path := fmt.Sprintf("/api/progress/%d?since=%d&wait=true", jobID, since)
	var events []progress.Event
	err := c.do(ctx, http.MethodGet, path, &events)
	return events, err
}
