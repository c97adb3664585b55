package progress_test

import (
	"context"
	"testing"
	"time"

	"scribe/internal/progress"
	"scribe/internal/records"
)

func TestPublishAssignsSequencePerJob(t *testing.T) {
	pub := progress.NewPublisher(8)

	pub.Publish(progress.Event{JobID: 1, RecordID: 10, Type: progress.EventProgress, Status: records.StatusProcessing, Percent: 25})
	pub.Publish(progress.Event{JobID: 2, RecordID: 20, Type: progress.EventProgress, Status: records.StatusProcessing, Percent: 25})
	pub.Publish(progress.Event{JobID: 1, RecordID: 10, Type: progress.EventProgress, Status: records.StatusTranscribed, Percent: 50})

	latest, ok := pub.Latest(1)
	if !ok {
		t.Fatal("expected latest event for job 1")
	}
	if latest.Sequence != 2 || latest.Percent != 50 {
		t.Fatalf("unexpected latest event: %+v", latest)
	}

	other, ok := pub.Latest(2)
	if !ok || other.Sequence != 1 {
		t.Fatalf("sequences must be per-job: %+v", other)
	}
	if other.Timestamp.IsZero() {
		t.Fatal("expected timestamp to be assigned")
	}
}

func TestLatestUnknownJob(t *testing.T) {
	pub := progress.NewPublisher(8)
	if _, ok := pub.Latest(99); ok {
		t.Fatal("expected no event for unknown job")
	}
}

func TestFetchIncremental(t *testing.T) {
	pub := progress.NewPublisher(8)
	pub.Publish(progress.Event{JobID: 1, Type: progress.EventProgress, Percent: 25})
	pub.Publish(progress.Event{JobID: 1, Type: progress.EventProgress, Percent: 50})

	events, err := pub.Fetch(context.Background(), 1, 0, false)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	events, err = pub.Fetch(context.Background(), 1, events[len(events)-1].Sequence, false)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no new events, got %d", len(events))
	}
}

func TestFetchBlocksUntilPublish(t *testing.T) {
	pub := progress.NewPublisher(8)

	result := make(chan []progress.Event, 1)
	go func() {
		events, _ := pub.Fetch(context.Background(), 7, 0, true)
		result <- events
	}()

	time.Sleep(20 * time.Millisecond)
	pub.Publish(progress.Event{JobID: 7, Type: progress.EventCompleted, Status: records.StatusDone, Percent: 100})

	select {
	case events := <-result:
		if len(events) != 1 || events[0].Type != progress.EventCompleted {
			t.Fatalf("unexpected events: %+v", events)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Fetch did not wake on publish")
	}
}

func TestFetchHonorsContextCancel(t *testing.T) {
	pub := progress.NewPublisher(8)
	ctx, cancel := context.WithCancel(context.Background())

	result := make(chan error, 1)
	go func() {
		_, err := pub.Fetch(ctx, 5, 0, true)
		result <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-result:
		if err == nil {
			t.Fatal("expected context error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Fetch did not observe cancellation")
	}
}

func TestBufferIsBounded(t *testing.T) {
	pub := progress.NewPublisher(4)
	for i := 0; i < 10; i++ {
		pub.Publish(progress.Event{JobID: 1, Type: progress.EventProgress, Percent: i})
	}

	events, err := pub.Fetch(context.Background(), 1, 0, false)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("expected bounded buffer of 4, got %d", len(events))
	}
	if events[0].Sequence != 7 || events[3].Sequence != 10 {
		t.Fatalf("expected oldest events evicted, got %+v", events)
	}
}

func TestForgetDropsTopic(t *testing.T) {
	pub := progress.NewPublisher(4)
	pub.Publish(progress.Event{JobID: 3, Type: progress.EventFailed, Status: records.StatusError, Percent: 50})
	pub.Forget(3)
	if _, ok := pub.Latest(3); ok {
		t.Fatal("expected topic to be forgotten")
	}
}
