// Package worker runs the stage lanes that drain the job queue. Each stage
// gets a fixed number of lanes; a lane claims one job at a time, executes it
// under the stage timeout, and settles it with the queue. Retry scheduling
// lives in the queue, failure semantics in the runner.
package worker
