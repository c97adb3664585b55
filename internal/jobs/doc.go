// Package jobs is the SQLite-backed work queue that schedules pipeline
// stages. Scheduling metadata (attempts, priority, run_at) lives here in its
// own database, separate from the record artifacts, so clearing the queue
// never destroys a transcript.
package jobs
