package meterz

import (
	"sync"
	"time"

	"github.com/zoobzio/clockz"
)

// SpanEvent is a point-in-time annotation attached to a span.
type SpanEvent struct {
	Timestamp time.Time
	Tags      Tags
	Name      string
}

// Span represents a single unit of work in a trace. Its identity never
// changes; only its timing and events do.
// Safe for concurrent use by multiple goroutines.
type Span struct {
	clock    clockz.Clock
	start    time.Time
	finish   time.Time
	name     string
	events   []SpanEvent
	mu       sync.Mutex
	traceID  TraceID
	id       SpanID
	parentID SpanID
	finished bool
}

// NewSpan creates a started span. A nil clock means the real clock.
func NewSpan(clock clockz.Clock, trace TraceID, parent, id SpanID, name string) *Span {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &Span{
		clock:    clock,
		traceID:  trace,
		parentID: parent,
		id:       id,
		name:     name,
		start:    clock.Now(),
	}
}

// TraceID returns the trace the span belongs to.
func (s *Span) TraceID() TraceID { return s.traceID }

// ID returns the span's own id.
func (s *Span) ID() SpanID { return s.id }

// ParentID returns the parent's id, zero for a root span.
func (s *Span) ParentID() SpanID { return s.parentID }

// Name returns the span name.
func (s *Span) Name() string { return s.name }

// IsRoot reports whether the span has no parent.
func (s *Span) IsRoot() bool { return s.parentID.IsZero() }

// StartTime returns the wall-clock start time.
func (s *Span) StartTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.start
}

// EndTime returns the wall-clock finish time, zero while unfinished.
func (s *Span) EndTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finished {
		return time.Time{}
	}
	return s.finish
}

// Duration is measured on the monotonic clock reading: elapsed time so far
// while running, fixed once finished.
func (s *Span) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var d time.Duration
	if s.finished {
		d = s.finish.Sub(s.start)
	} else {
		d = s.clock.Since(s.start)
	}
	if d < 0 {
		return 0
	}
	return d
}

// Finished reports whether Finish has been called.
func (s *Span) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Finish stops the clock. Finishing twice returns ErrSpanFinished.
func (s *Span) Finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return ErrSpanFinished
	}
	s.finish = s.clock.Now()
	s.finished = true
	return nil
}

// AddEvent appends a timestamped event. The tags are copied.
func (s *Span) AddEvent(name string, tags Tags) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, SpanEvent{
		Name:      name,
		Timestamp: s.clock.Now(),
		Tags:      tags.Clone(),
	})
}

// Events returns a copy of the recorded events.
func (s *Span) Events() []SpanEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return nil
	}
	events := make([]SpanEvent, len(s.events))
	copy(events, s.events)
	return events
}

// SpanRecord is an immutable snapshot of a span, suitable for export.
//
//nolint:govet // Field alignment optimized for JSON serialization order
type SpanRecord struct {
	Tags      map[string]any `json:"tags,omitempty"`
	Events    []SpanEvent    `json:"-"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time,omitempty"`
	Duration  time.Duration  `json:"duration"`
	TraceID   string         `json:"trace_id"`
	SpanID    string         `json:"span_id"`
	ParentID  string         `json:"parent_id,omitempty"`
	Name      string         `json:"name"`
	Error     string         `json:"error,omitempty"`
}

// Snapshot captures the span together with its final tags.
func (s *Span) Snapshot(tags Tags) SpanRecord {
	rec := SpanRecord{
		TraceID:   s.traceID.String(),
		SpanID:    s.id.String(),
		Name:      s.name,
		StartTime: s.StartTime(),
		EndTime:   s.EndTime(),
		Duration:  s.Duration(),
		Events:    s.Events(),
	}
	if !s.parentID.IsZero() {
		rec.ParentID = s.parentID.String()
	}
	if tags.Len() > 0 {
		rec.Tags = tags.Map()
	}
	return rec
}
