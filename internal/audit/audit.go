// Package audit provides the append-only event stream consumed by external
// monitoring. Events cover identity health transitions, CAPTCHA invocations,
// headless fallbacks and run lifecycle markers. The core never reads them back.
package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventIdentityTransition EventKind = "identity_transition"
	EventCaptchaInvocation  EventKind = "captcha_invocation"
	EventHeadlessFallback   EventKind = "headless_fallback"
	EventRunStarted         EventKind = "run_started"
	EventRunFinished        EventKind = "run_finished"
)

type Event struct {
	ID        string            `json:"id"`
	Kind      EventKind         `json:"kind"`
	Timestamp time.Time         `json:"timestamp"`
	Fields    map[string]string `json:"fields,omitempty"`
}

func NewEvent(kind EventKind, fields map[string]string) Event {
	return Event{
		ID:        uuid.New().String(),
		Kind:      kind,
		Timestamp: time.Now(),
		Fields:    fields,
	}
}

// Sink receives audit events. Implementations must tolerate concurrent Append
// calls; a failing sink must not disturb the run.
type Sink interface {
	Append(event Event) error
	Close() error
}

// MultiSink fans events out to several sinks.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Append(event Event) error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Append(event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *MultiSink) Close() error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// MemorySink retains events in order, for tests.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{events: make([]Event, 0)}
}

func (m *MemorySink) Append(event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

func (m *MemorySink) Close() error { return nil }

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Append(Event) error { return nil }
func (NopSink) Close() error       { return nil }
