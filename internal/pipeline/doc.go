// Package pipeline sequences the four stages that turn an uploaded media
// file into a transcript, timestamp index, summary, and article. The
// orchestrator owns stage ordering, resume-from-stage preconditions,
// record status transitions, and progress publication; actual stage work is
// delegated to the executors it is constructed with, and scheduling to the
// job queue.
package pipeline
