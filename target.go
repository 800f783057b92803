package meterz

import (
	"github.com/zoobzio/clockz"
)

// Target delivers telemetry to a backend.
//
// Every method must be safe for concurrent use and must never panic or block
// the caller on delivery failures: backend errors are contained inside the
// Target. Tags handed to a Target belong to it and may be modified.
type Target interface {
	// AcceptsLogLevel reports whether a log at level would be delivered.
	// Callers check it before assembling log tags.
	AcceptsLogLevel(level Level) bool

	// Start allocates a span. A zero trace starts a new trace with no
	// parent; a zero id asks the target to generate one.
	Start(trace TraceID, parent, id SpanID, name string) *Span

	Finish(tags Tags, span *Span)
	Event(name string, tags Tags, span *Span)
	Log(level Level, message string, tags Tags, span *Span)
	Error(message string, err error, tags Tags, span *Span)
	Magnitude(name string, value float64, tags Tags, span *Span)
	Count(name string, value int64, tags Tags, span *Span)
}

// BaseTarget ignores all telemetry. Adapters embed it and override the
// methods their backend supports.
type BaseTarget struct {
	Clock     clockz.Clock
	IDs       IDGenerator
	Threshold Level
}

// NewBaseTarget returns a no-op target with the given log threshold.
func NewBaseTarget(threshold Level) *BaseTarget {
	return &BaseTarget{Threshold: threshold}
}

// WithClock sets the clock used for span timing.
func (b *BaseTarget) WithClock(clock clockz.Clock) *BaseTarget {
	b.Clock = clock
	return b
}

// WithIDs sets the id generator.
func (b *BaseTarget) WithIDs(ids IDGenerator) *BaseTarget {
	b.IDs = ids
	return b
}

func (b *BaseTarget) generator() IDGenerator {
	if b.IDs != nil {
		return b.IDs
	}
	return DefaultGenerator()
}

// AcceptsLogLevel is true for levels at or above the threshold's severity.
func (b *BaseTarget) AcceptsLogLevel(level Level) bool {
	return level <= b.Threshold
}

// Start allocates a span, generating whatever identity was not supplied.
func (b *BaseTarget) Start(trace TraceID, parent, id SpanID, name string) *Span {
	ids := b.generator()
	if trace.IsZero() {
		trace = ids.NewTraceID()
		parent = SpanID{}
	}
	if id.IsZero() {
		id = ids.NewSpanID()
	}
	return NewSpan(b.Clock, trace, parent, id, name)
}

// Finish does nothing.
func (*BaseTarget) Finish(Tags, *Span) {}

// Event does nothing.
func (*BaseTarget) Event(string, Tags, *Span) {}

// Log does nothing.
func (*BaseTarget) Log(Level, string, Tags, *Span) {}

// Error does nothing.
func (*BaseTarget) Error(string, error, Tags, *Span) {}

// Magnitude does nothing.
func (*BaseTarget) Magnitude(string, float64, Tags, *Span) {}

// Count does nothing.
func (*BaseTarget) Count(string, int64, Tags, *Span) {}

var _ Target = (*BaseTarget)(nil)
