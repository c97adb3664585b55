package jobs

import (
	"fmt"
	"strings"
	"time"
)

// Stage names one unit of pipeline work. Order is fixed: transcribe,
// timestamps, summarize, article.
type Stage string

const (
	StageTranscribe Stage = "transcribe"
	StageTimestamps Stage = "timestamps"
	StageSummarize  Stage = "summarize"
	StageArticle    Stage = "article"
)

var orderedStages = []Stage{StageTranscribe, StageTimestamps, StageSummarize, StageArticle}

// Stages returns every stage in execution order.
func Stages() []Stage {
	out := make([]Stage, len(orderedStages))
	copy(out, orderedStages)
	return out
}

// Order returns the 1-based position of the stage, or 0 for unknown stages.
func (s Stage) Order() int {
	for i, stage := range orderedStages {
		if stage == s {
			return i + 1
		}
	}
	return 0
}

// Valid reports whether the stage is known.
func (s Stage) Valid() bool {
	return s.Order() != 0
}

// Next returns the stage that follows s, or false when s is the last stage.
func (s Stage) Next() (Stage, bool) {
	order := s.Order()
	if order == 0 || order >= len(orderedStages) {
		return "", false
	}
	return orderedStages[order], true
}

// ParseStage accepts a stage name or 1-based position.
func ParseStage(value string) (Stage, error) {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	for i, stage := range orderedStages {
		if trimmed == string(stage) || trimmed == fmt.Sprint(i+1) {
			return stage, nil
		}
	}
	return "", fmt.Errorf("unknown stage %q", value)
}

// State represents the scheduling lifecycle of a job.
type State string

const (
	StatePending   State = "pending"
	StateActive    State = "active"
	StateDelayed   State = "delayed"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Open reports whether a job in this state still occupies its (record,
// stage) slot.
func (s State) Open() bool {
	switch s {
	case StatePending, StateActive, StateDelayed:
		return true
	default:
		return false
	}
}

// Job is one scheduled execution of a stage against a record.
type Job struct {
	ID          int64
	RecordID    int64
	Stage       Stage
	PayloadJSON string
	State       State
	Attempts    int
	Priority    int
	RunAt       *time.Time
	CreatedAt   time.Time
	ProcessedAt *time.Time
	FinishedAt  *time.Time
	LastError   string
}

// Priority buckets. Smaller uploads finish faster, so they jump the line.
const (
	PriorityLow    = 1
	PriorityNormal = 2
	PriorityHigh   = 3
)

const (
	smallInputBytes = 10 << 20
	largeInputBytes = 100 << 20
)

// PriorityForSize maps an input size in bytes to a scheduling priority.
func PriorityForSize(bytes int64) int {
	switch {
	case bytes <= 0:
		return PriorityNormal
	case bytes < smallInputBytes:
		return PriorityHigh
	case bytes < largeInputBytes:
		return PriorityNormal
	default:
		return PriorityLow
	}
}
