// Package progress fans pipeline progress out to push subscribers and keeps
// the latest event per job for polling clients.
package progress

import (
	"context"
	"sync"
	"time"

	"scribe/internal/records"
)

// EventType distinguishes routine progress updates from terminal outcomes.
type EventType string

const (
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
)

// Event is one progress update for a job.
type Event struct {
	Sequence  uint64         `json:"seq"`
	JobID     int64          `json:"job_id"`
	RecordID  int64          `json:"record_id"`
	Type      EventType      `json:"type"`
	Status    records.Status `json:"status"`
	Percent   int            `json:"percent"`
	Message   string         `json:"message,omitempty"`
	Timestamp time.Time      `json:"ts"`
}

// Terminal reports whether no further events will follow for this job.
func (e Event) Terminal() bool {
	return e.Type == EventCompleted || e.Type == EventFailed
}

type topic struct {
	cond    *sync.Cond
	buffer  []Event
	nextSeq uint64
	done    bool
}

// Publisher is a bounded per-job event hub. Push consumers subscribe and
// read incrementally by sequence number; pull consumers ask for the latest
// event only.
type Publisher struct {
	mu       sync.Mutex
	capacity int
	topics   map[int64]*topic
}

// NewPublisher constructs a hub that keeps up to capacity events per job.
func NewPublisher(capacity int) *Publisher {
	if capacity <= 0 {
		capacity = 64
	}
	return &Publisher{capacity: capacity, topics: make(map[int64]*topic)}
}

func (p *Publisher) topicLocked(jobID int64) *topic {
	t, ok := p.topics[jobID]
	if !ok {
		t = &topic{}
		t.cond = sync.NewCond(&p.mu)
		p.topics[jobID] = t
	}
	return t
}

// Publish appends an event to the job's topic and wakes its waiters.
// Sequence and timestamp are assigned here.
func (p *Publisher) Publish(evt Event) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	t := p.topicLocked(evt.JobID)
	t.nextSeq++
	evt.Sequence = t.nextSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	if len(t.buffer) == p.capacity {
		copy(t.buffer, t.buffer[1:])
		t.buffer = t.buffer[:p.capacity-1]
	}
	t.buffer = append(t.buffer, evt)
	if evt.Terminal() {
		t.done = true
	}
	t.cond.Broadcast()
}

// Latest returns the most recent event for a job without blocking.
func (p *Publisher) Latest(jobID int64) (Event, bool) {
	if p == nil {
		return Event{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.topics[jobID]
	if !ok || len(t.buffer) == 0 {
		return Event{}, false
	}
	return t.buffer[len(t.buffer)-1], true
}

// Fetch returns every buffered event with a sequence greater than since.
// When wait is true it blocks until at least one new event arrives, the
// topic terminates, or the context ends.
func (p *Publisher) Fetch(ctx context.Context, jobID int64, since uint64, wait bool) ([]Event, error) {
	if p == nil {
		return nil, nil
	}

	p.mu.Lock()
	t := p.topicLocked(jobID)

	cancelWait := make(chan struct{})
	if wait && ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				p.mu.Lock()
				t.cond.Broadcast()
				p.mu.Unlock()
			case <-cancelWait:
			}
		}()
	}
	defer close(cancelWait)
	defer p.mu.Unlock()

	for {
		events := snapshotLocked(t, since)
		if len(events) > 0 || !wait || t.done {
			return events, ctx.Err()
		}
		if ctx != nil {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		t.cond.Wait()
		if ctx != nil {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	}
}

// Forget drops the buffered topic for a job. Callers invoke this once a
// terminal event has been delivered to every interested subscriber.
func (p *Publisher) Forget(jobID int64) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.topics[jobID]; ok {
		t.done = true
		t.cond.Broadcast()
		delete(p.topics, jobID)
	}
}

func snapshotLocked(t *topic, since uint64) []Event {
	if len(t.buffer) == 0 {
		return nil
	}
	startIdx := -1
	for i, evt := range t.buffer {
		if evt.Sequence > since {
			startIdx = i
			break
		}
	}
	if startIdx < 0 {
		return nil
	}
	out := make([]Event, len(t.buffer)-startIdx)
	copy(out, t.buffer[startIdx:])
	return out
}
