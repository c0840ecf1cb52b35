package server

import (
	"context"
	"sync"
	"time"

	"github.com/matgreaves/moor/spec"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Service lifecycle.
	EventEndpointPublished EventType = "endpoint.published"
	EventServiceStarting   EventType = "service.starting"
	EventServiceRunning    EventType = "service.running"
	EventServiceFailed     EventType = "service.failed"
	EventServiceRestarting EventType = "service.restarting"
	EventServiceStopping   EventType = "service.stopping"
	EventServiceStopped    EventType = "service.stopped"
	EventServiceLog        EventType = "service.log"

	// Deployment lifecycle.
	EventDeploymentUp   EventType = "deployment.up"
	EventDeploymentDown EventType = "deployment.down"

	// Diagnostics.
	EventProgressStall EventType = "progress.stall"
)

// LogEntry holds a chunk of service output.
type LogEntry struct {
	Stream string `json:"stream"` // "stdout" or "stderr"
	Data   string `json:"data"`
}

// Event is a single entry in the event log.
type Event struct {
	Seq        uint64         `json:"seq"`
	Type       EventType      `json:"type"`
	Deployment string         `json:"deployment,omitempty"`
	Service    string         `json:"service,omitempty"`
	Endpoint   *spec.Endpoint `json:"endpoint,omitempty"`
	Log        *LogEntry      `json:"log,omitempty"`
	Error      string         `json:"error,omitempty"`

	// Attempt counts restarts of the service, starting at 0 for the
	// first launch. Set on service.starting and service.restarting.
	Attempt int `json:"attempt,omitempty"`

	// Delay is the backoff delay before a restart attempt.
	Delay string `json:"delay,omitempty"`

	// Message is a human-readable summary, set on diagnostics.
	Message string `json:"message,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// EventLog is an ordered, append-only event log. Events carry
// monotonically increasing sequence numbers. Subscribers can replay from
// any point; WaitFor scans the existing log before blocking. Supervisor
// loops coordinate startup ordering through it.
type EventLog struct {
	mu     sync.Mutex
	events []Event
	seq    uint64
	notify chan struct{} // closed and replaced on each new event
}

// NewEventLog creates an empty event log.
func NewEventLog() *EventLog {
	return &EventLog{
		notify: make(chan struct{}),
	}
}

// Publish appends an event with the next sequence number and the current
// timestamp, then wakes all waiters.
func (l *EventLog) Publish(event Event) {
	l.mu.Lock()
	l.seq++
	event.Seq = l.seq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	l.events = append(l.events, event)
	ch := l.notify
	l.notify = make(chan struct{})
	l.mu.Unlock()

	close(ch) // wake all waiters
}

// Events returns a snapshot of all events in the log.
func (l *EventLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Since returns all events with sequence number > seq.
func (l *EventLog) Since(seq uint64) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.eventsSince(seq)
}

// eventsSince returns events with Seq > seq. Caller must hold l.mu.
// Seq numbers are 1-indexed and contiguous, so events after seq start
// at slice index seq.
func (l *EventLog) eventsSince(seq uint64) []Event {
	start := int(seq)
	if start >= len(l.events) {
		return nil
	}
	out := make([]Event, len(l.events)-start)
	copy(out, l.events[start:])
	return out
}

// Subscribe returns a channel that receives events starting from fromSeq.
// It replays all existing events with Seq > fromSeq, then streams new
// events as they arrive. The channel is closed when ctx is cancelled.
//
// The channel is buffered (256). If a subscriber falls behind and the
// buffer fills, new events are dropped for that subscriber — publishers
// never block.
func (l *EventLog) Subscribe(ctx context.Context, fromSeq uint64, filter func(Event) bool) <-chan Event {
	ch := make(chan Event, 256)

	go func() {
		defer close(ch)

		cursor := fromSeq

		for {
			l.mu.Lock()
			batch := l.eventsSince(cursor)
			notify := l.notify
			l.mu.Unlock()

			for _, e := range batch {
				if filter != nil && !filter(e) {
					cursor = e.Seq
					continue
				}
				select {
				case ch <- e:
				case <-ctx.Done():
					return
				default:
					// subscriber fell behind — drop event
				}
				cursor = e.Seq
			}

			select {
			case <-notify:
				// new event published, loop again
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// WaitFor scans the existing log for a matching event. If found, returns
// it immediately. Otherwise blocks until a matching event is published or
// the context is cancelled.
func (l *EventLog) WaitFor(ctx context.Context, match func(Event) bool) (Event, error) {
	l.mu.Lock()
	for _, e := range l.events {
		if match(e) {
			l.mu.Unlock()
			return e, nil
		}
	}
	cursor := l.seq
	notify := l.notify
	l.mu.Unlock()

	for {
		select {
		case <-notify:
			l.mu.Lock()
			batch := l.eventsSince(cursor)
			notify = l.notify
			l.mu.Unlock()

			for _, e := range batch {
				if match(e) {
					return e, nil
				}
				cursor = e.Seq
			}
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}
