package orchestrator

import (
	"sync"
	"time"
)

// EventKind identifies the type of run event.
type EventKind string

const (
	EventRunStart       EventKind = "run_start"
	EventRunEnd         EventKind = "run_end"
	EventIterationStart EventKind = "iteration_start"
	EventIterationEnd   EventKind = "iteration_end"
	EventRetry          EventKind = "retry"
	EventCheckpoint     EventKind = "checkpoint"
	EventStall          EventKind = "stall"
	EventWarning        EventKind = "warning"
)

// Event is a typed event emitted while a run progresses.
type Event struct {
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// eventEmitter fans events into a buffered channel without ever blocking
// the loop; events are dropped when nobody drains the channel.
type eventEmitter struct {
	runID  string
	ch     chan Event
	closed bool
	mu     sync.Mutex
}

func newEventEmitter(runID string, bufferSize int) *eventEmitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &eventEmitter{
		runID: runID,
		ch:    make(chan Event, bufferSize),
	}
}

func (e *eventEmitter) emit(kind EventKind, data map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.ch <- Event{Kind: kind, Timestamp: time.Now(), RunID: e.runID, Data: data}:
	default:
	}
}

func (e *eventEmitter) events() <-chan Event {
	return e.ch
}

func (e *eventEmitter) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
