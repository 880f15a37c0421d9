package events

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	block  chan struct{}
}

func (c *captureSink) Deliver(ev Event) error {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return c.err
}

func (c *captureSink) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func TestBridgeDeliversInOrder(t *testing.T) {
	sink := &captureSink{}
	b := NewBridge(sink, time.Second, nil)
	defer b.Close()

	b.Publish(TaskProgress("t1", "setup", "running", "starting", 0, 0, 2))
	b.Publish(AccountProgress("t1", "a@x.com", "running", "setup_2fa", "", 0, 0, 2))
	b.Publish(TaskProgress("t1", "setup", "completed", "done", 2, 0, 2))

	got := sink.snapshot()
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if got[0].Status != "running" || got[2].Status != "completed" {
		t.Fatalf("events out of order: %+v", got)
	}
}

func TestBridgeSuppressesRepeatedLogLines(t *testing.T) {
	sink := &captureSink{}
	b := NewBridge(sink, time.Second, nil)
	defer b.Close()

	b.Publish(Log("t1", "a@x.com", LevelInfo, "waiting for page"))
	b.Publish(Log("t1", "a@x.com", LevelInfo, "waiting for page"))
	b.Publish(Log("t1", "a@x.com", LevelInfo, "page ready"))
	b.Publish(Log("t1", "a@x.com", LevelInfo, "waiting for page"))

	got := sink.snapshot()
	if len(got) != 3 {
		t.Fatalf("expected 3 forwarded lines, got %d: %+v", len(got), got)
	}
	if got[0].Message != "waiting for page" || got[1].Message != "page ready" || got[2].Message != "waiting for page" {
		t.Fatalf("unexpected sequence: %+v", got)
	}
}

func TestBridgeLogDedupKeysOnEmailAndLevel(t *testing.T) {
	sink := &captureSink{}
	b := NewBridge(sink, time.Second, nil)
	defer b.Close()

	b.Publish(Log("t1", "a@x.com", LevelInfo, "retrying"))
	b.Publish(Log("t1", "b@x.com", LevelInfo, "retrying"))
	b.Publish(Log("t1", "b@x.com", LevelError, "retrying"))

	if got := sink.snapshot(); len(got) != 3 {
		t.Fatalf("different email/level must not dedup, got %d events", len(got))
	}
}

func TestBridgeSwallowsSinkErrors(t *testing.T) {
	sink := &captureSink{err: errors.New("subscriber gone")}
	b := NewBridge(sink, time.Second, nil)
	defer b.Close()

	// Must return normally even though every delivery fails.
	b.Publish(TaskProgress("t1", "setup", "running", "", 0, 0, 1))
	b.Publish(TaskProgress("t1", "setup", "completed", "", 1, 0, 1))

	if len(sink.snapshot()) != 2 {
		t.Fatal("failed deliveries must still be attempted in order")
	}
}

func TestBridgeAckTimeoutDoesNotBlockPublisher(t *testing.T) {
	sink := &captureSink{block: make(chan struct{})}
	b := NewBridge(sink, 50*time.Millisecond, nil)
	defer b.Close()
	defer close(sink.block)

	start := time.Now()
	b.Publish(Log("t1", "", LevelInfo, "stuck delivery"))
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("publish blocked %v despite ack timeout", elapsed)
	}
}

func TestBridgePublishAfterCloseIsNoop(t *testing.T) {
	sink := &captureSink{}
	b := NewBridge(sink, time.Second, nil)
	b.Close()

	b.Publish(Log("t1", "", LevelInfo, "late"))
	if len(sink.snapshot()) != 0 {
		t.Fatal("events after close must be dropped")
	}
}
