package events

import (
	"log"
	"sync"
	"time"
)

// Sink receives events in delivery order.
type Sink interface {
	Deliver(Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event) error

func (f SinkFunc) Deliver(ev Event) error { return f(ev) }

const DefaultAckTimeout = 5 * time.Second

// Bridge decouples event production from delivery. Workers publish from
// any goroutine; a single dedicated loop hands each event to the sink,
// so subscribers see one ordered stream and a slow sink never runs on a
// worker's critical path beyond the bounded ack wait.
//
// Publishing waits for a delivery acknowledgment up to the ack timeout;
// a timeout or delivery error is logged and swallowed, never surfaced
// to the worker. One Bridge serves one task execution and is closed
// when the task finishes.
type Bridge struct {
	jobs       chan job
	quit       chan struct{}
	done       chan struct{}
	ackTimeout time.Duration
	sink       Sink
	logger     *log.Logger
	closeOnce  sync.Once
}

type job struct {
	event Event
	ack   chan error
}

func NewBridge(sink Sink, ackTimeout time.Duration, logger *log.Logger) *Bridge {
	if ackTimeout <= 0 {
		ackTimeout = DefaultAckTimeout
	}
	if logger == nil {
		logger = log.Default()
	}
	b := &Bridge{
		jobs:       make(chan job, 64),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		ackTimeout: ackTimeout,
		sink:       sink,
		logger:     logger,
	}
	go b.loop()
	return b
}

func (b *Bridge) loop() {
	defer close(b.done)

	var lastEmail, lastLevel, lastMessage string
	haveLast := false

	for {
		select {
		case <-b.quit:
			return
		case j := <-b.jobs:
			ev := j.event

			// Consecutive identical log lines are noise; forward only
			// the first occurrence.
			if ev.Type == TypeLog {
				if haveLast && ev.Email == lastEmail && ev.Level == lastLevel && ev.Message == lastMessage {
					j.ack <- nil
					continue
				}
				lastEmail, lastLevel, lastMessage = ev.Email, ev.Level, ev.Message
				haveLast = true
			}

			j.ack <- b.sink.Deliver(ev)
		}
	}
}

// Publish hands the event to the delivery loop and waits for its ack.
// Returns once delivered, on ack timeout, or after Close.
func (b *Bridge) Publish(ev Event) {
	j := job{event: ev, ack: make(chan error, 1)}

	select {
	case b.jobs <- j:
	case <-b.quit:
		return
	}

	timer := time.NewTimer(b.ackTimeout)
	defer timer.Stop()
	select {
	case err := <-j.ack:
		if err != nil {
			b.logger.Printf("events: deliver %s: %v", ev.Type, err)
		}
	case <-timer.C:
		b.logger.Printf("events: ack timeout for %s event", ev.Type)
	case <-b.quit:
	}
}

// Close stops the delivery loop. Events still queued are dropped.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		close(b.quit)
	})
	<-b.done
}
