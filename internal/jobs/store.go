package jobs

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

var (
	// ErrNotFound indicates no job exists for the requested id.
	ErrNotFound = errors.New("job not found")
	// ErrSchemaMismatch indicates the database was created by a different
	// version of scribe.
	ErrSchemaMismatch = errors.New("jobs schema version mismatch")
)

// Options tunes the queue's retry policy.
type Options struct {
	// MaxAttempts is the total number of executions a job gets before it is
	// failed terminally. Zero means the default of 3.
	MaxAttempts int
	// RetryBackoff is the base delay before the first redelivery; each
	// further redelivery doubles it. Zero means the default of one minute.
	RetryBackoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = time.Minute
	}
	return o
}

// Store manages job persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
	opts Options
	now  func() time.Time
}

// Open initializes or connects to the jobs database under stateDir.
func Open(stateDir string, opts Options) (*Store, error) {
	dbPath := filepath.Join(stateDir, "jobs.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open jobs db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath, opts: opts.withDefaults(), now: func() time.Time { return time.Now().UTC() }}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SetClock overrides the store's time source. Tests use this to exercise
// backoff windows without sleeping. Passing nil restores the real clock.
func (s *Store) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.now = now
}

// MaxAttempts returns the configured attempt ceiling.
func (s *Store) MaxAttempts() int {
	return s.opts.MaxAttempts
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to recreate)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create jobs schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

const jobColumns = "id, record_id, stage, payload_json, state, attempts, priority, run_at, created_at, processed_at, finished_at, last_error"

// Enqueue inserts a pending job for (recordID, stage).
func (s *Store) Enqueue(ctx context.Context, recordID int64, stage Stage, payload string, priority int) (*Job, error) {
	if !stage.Valid() {
		return nil, fmt.Errorf("invalid stage %q", stage)
	}
	if priority < PriorityLow || priority > PriorityHigh {
		priority = PriorityNormal
	}

	timestamp := s.now().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (record_id, stage, payload_json, state, attempts, priority, created_at)
         VALUES (?, ?, ?, ?, 0, ?, ?)`,
		recordID,
		stage,
		nullableString(payload),
		StatePending,
		priority,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

// Claim atomically moves the best pending job for stage to active and
// returns it. Higher priority first, then oldest. Returns nil when the
// stage has no pending work.
func (s *Store) Claim(ctx context.Context, stage Stage) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		"SELECT id FROM jobs WHERE state = ? AND stage = ? ORDER BY priority DESC, id ASC LIMIT 1",
		StatePending, stage)
	var id int64
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select pending job: %w", err)
	}

	processedAt := s.now().Format(time.RFC3339Nano)
	res, err := tx.ExecContext(ctx,
		"UPDATE jobs SET state = ?, processed_at = ? WHERE id = ? AND state = ?",
		StateActive, processedAt, id, StatePending)
	if err != nil {
		return nil, fmt.Errorf("claim job %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("claim job %d: rows affected: %w", id, err)
	}
	if affected == 0 {
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return s.GetByID(ctx, id)
}

// Complete marks an active job as finished successfully.
func (s *Store) Complete(ctx context.Context, id int64) error {
	finishedAt := s.now().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET state = ?, finished_at = ?, last_error = NULL WHERE id = ?",
		StateCompleted, finishedAt, id)
	if err != nil {
		return fmt.Errorf("complete job %d: %w", id, err)
	}
	return ensureAffected(res, id)
}

// Fail records an execution failure. Retryable failures below the attempt
// ceiling move the job to delayed with an exponential run_at backoff; the
// rest fail terminally. The returned bool reports whether the job is now
// terminal.
func (s *Store) Fail(ctx context.Context, id int64, message string, retryable bool) (bool, error) {
	job, err := s.GetByID(ctx, id)
	if err != nil {
		return false, err
	}

	attempts := job.Attempts + 1
	now := s.now()

	if retryable && attempts < s.opts.MaxAttempts {
		delay := s.opts.RetryBackoff << (attempts - 1)
		runAt := now.Add(delay).Format(time.RFC3339Nano)
		res, err := s.db.ExecContext(ctx,
			"UPDATE jobs SET state = ?, attempts = ?, run_at = ?, last_error = ? WHERE id = ?",
			StateDelayed, attempts, runAt, nullableString(message), id)
		if err != nil {
			return false, fmt.Errorf("delay job %d: %w", id, err)
		}
		return false, ensureAffected(res, id)
	}

	finishedAt := now.Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET state = ?, attempts = ?, finished_at = ?, last_error = ? WHERE id = ?",
		StateFailed, attempts, finishedAt, nullableString(message), id)
	if err != nil {
		return false, fmt.Errorf("fail job %d: %w", id, err)
	}
	return true, ensureAffected(res, id)
}

// Release returns an active job to pending without charging an attempt.
// Shutdown uses this so an interrupted execution never counts against the
// ceiling; the job is redelivered on the next claim.
func (s *Store) Release(ctx context.Context, id int64, note string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET state = ?, processed_at = NULL, last_error = ? WHERE id = ? AND state = ?",
		StatePending, nullableString(note), id, StateActive)
	if err != nil {
		return fmt.Errorf("release job %d: %w", id, err)
	}
	return ensureAffected(res, id)
}

// ReleaseDue moves delayed jobs whose run_at has passed back to pending.
func (s *Store) ReleaseDue(ctx context.Context) (int, error) {
	cutoff := s.now().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET state = ?, run_at = NULL WHERE state = ? AND run_at <= ?",
		StatePending, StateDelayed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("release due jobs: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("release due jobs: rows affected: %w", err)
	}
	return int(affected), nil
}

// RequeueStalled recovers active jobs whose claim predates cutoff. Each
// stalled job is charged one attempt; below the ceiling it goes back to
// pending, at the ceiling it fails terminally. Returns the requeued and
// failed counts.
func (s *Store) RequeueStalled(ctx context.Context, cutoff time.Time) (requeued, failed int, err error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, attempts FROM jobs WHERE state = ? AND processed_at IS NOT NULL AND processed_at < ?",
		StateActive, cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, 0, fmt.Errorf("select stalled jobs: %w", err)
	}
	type stalled struct {
		id       int64
		attempts int
	}
	var found []stalled
	for rows.Next() {
		var item stalled
		if err := rows.Scan(&item.id, &item.attempts); err != nil {
			rows.Close()
			return 0, 0, fmt.Errorf("scan stalled job: %w", err)
		}
		found = append(found, item)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, 0, fmt.Errorf("iterate stalled jobs: %w", err)
	}

	finishedAt := s.now().Format(time.RFC3339Nano)
	for _, item := range found {
		attempts := item.attempts + 1
		if attempts < s.opts.MaxAttempts {
			_, err := s.db.ExecContext(ctx,
				"UPDATE jobs SET state = ?, attempts = ?, processed_at = NULL, last_error = ? WHERE id = ? AND state = ?",
				StatePending, attempts, "stage stalled, requeued", item.id, StateActive)
			if err != nil {
				return requeued, failed, fmt.Errorf("requeue stalled job %d: %w", item.id, err)
			}
			requeued++
			continue
		}
		_, err := s.db.ExecContext(ctx,
			"UPDATE jobs SET state = ?, attempts = ?, finished_at = ?, last_error = ? WHERE id = ? AND state = ?",
			StateFailed, attempts, finishedAt, "stage stalled past attempt ceiling", item.id, StateActive)
		if err != nil {
			return requeued, failed, fmt.Errorf("fail stalled job %d: %w", item.id, err)
		}
		failed++
	}
	return requeued, failed, nil
}

// FindOpen returns the open (pending, active, or delayed) job for
// (recordID, stage), or nil when the slot is free.
func (s *Store) FindOpen(ctx context.Context, recordID int64, stage Stage) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE record_id = ? AND stage = ? AND state IN (?, ?, ?) ORDER BY id DESC LIMIT 1",
		recordID, stage, StatePending, StateActive, StateDelayed)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find open job: %w", err)
	}
	return job, nil
}

// Latest returns the most recent job for a record regardless of state, or
// nil when the record has never been scheduled.
func (s *Store) Latest(ctx context.Context, recordID int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE record_id = ? ORDER BY id DESC LIMIT 1", recordID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest job: %w", err)
	}
	return job, nil
}

// GetByID returns a single job or ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %d: %w", id, err)
	}
	return job, nil
}

// Stats returns per-state job counts.
func (s *Store) Stats(ctx context.Context) (map[State]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT state, COUNT(1) FROM jobs GROUP BY state")
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[State]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats[State(state)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats: %w", err)
	}
	return stats, nil
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id           int64
		recordID     int64
		stageStr     string
		payload      sql.NullString
		stateStr     string
		attempts     int
		priority     int
		runAtRaw     sql.NullString
		createdRaw   sql.NullString
		processedRaw sql.NullString
		finishedRaw  sql.NullString
		lastError    sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&recordID,
		&stageStr,
		&payload,
		&stateStr,
		&attempts,
		&priority,
		&runAtRaw,
		&createdRaw,
		&processedRaw,
		&finishedRaw,
		&lastError,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:          id,
		RecordID:    recordID,
		Stage:       Stage(stageStr),
		PayloadJSON: payload.String,
		State:       State(stateStr),
		Attempts:    attempts,
		Priority:    priority,
		LastError:   lastError.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if runAtRaw.Valid {
		if runAt, err := parseTimeString(runAtRaw.String); err == nil {
			job.RunAt = &runAt
		}
	}
	if processedRaw.Valid {
		if processed, err := parseTimeString(processedRaw.String); err == nil {
			job.ProcessedAt = &processed
		}
	}
	if finishedRaw.Valid {
		if finished, err := parseTimeString(finishedRaw.String); err == nil {
			job.FinishedAt = &finished
		}
	}
	return job, nil
}

func ensureAffected(res sql.Result, id int64) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("job %d: rows affected: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return nil
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}
