package records

import (
	"path/filepath"
	"strings"
	"time"
)

// Status represents the lifecycle of a record.
type Status string

const (
	StatusUploaded    Status = "uploaded"
	StatusProcessing  Status = "processing"
	StatusTranscribed Status = "transcribed"
	StatusSummarized  Status = "summarized"
	StatusDone        Status = "done"
	StatusError       Status = "error"
)

var allStatuses = []Status{
	StatusUploaded,
	StatusProcessing,
	StatusTranscribed,
	StatusSummarized,
	StatusDone,
	StatusError,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// Valid reports whether the status is a known lifecycle state.
func (s Status) Valid() bool {
	_, ok := statusSet[s]
	return ok
}

// PercentForStatus maps a lifecycle state to its completion percent. Error
// has no mapping of its own; a failed record keeps the percent it last
// reached.
func PercentForStatus(status Status) (int, bool) {
	switch status {
	case StatusUploaded:
		return 0, true
	case StatusProcessing:
		return 25, true
	case StatusTranscribed:
		return 50, true
	case StatusSummarized:
		return 75, true
	case StatusDone:
		return 100, true
	default:
		return 0, false
	}
}

// Record is one uploaded media file and everything the pipeline has derived
// from it so far.
type Record struct {
	ID                 int64
	SourcePath         string
	Title              string
	Status             Status
	Transcript         string
	TimestampIndexJSON string
	Summary            string
	Article            string
	ErrorMessage       string
	ProgressPercent    int
	ProgressMessage    string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// InferTitleFromPath derives a human title from an uploaded file name.
func InferTitleFromPath(path string) string {
	base := filepath.Base(strings.TrimSpace(path))
	if base == "." || base == string(filepath.Separator) || base == "" {
		return "Untitled"
	}
	name := strings.TrimSuffix(base, filepath.Ext(base))
	name = strings.NewReplacer("_", " ", ".", " ").Replace(name)
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return "Untitled"
	}
	return name
}
