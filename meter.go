package meterz

import (
	"fmt"
	"runtime"
)

// Meter binds a Target, an active Span and a tag set. It is immutable:
// starting a child or adding tags returns a new Meter. Meters derived from one
// another share the same Target.
type Meter struct {
	target Target
	span   *Span
	tags   Tags
}

// NewMeter returns a Meter. A nil target means a BaseTarget at the default
// level; a nil span means no active span.
func NewMeter(target Target, span *Span, tags ...Tagger) *Meter {
	if target == nil {
		target = NewBaseTarget(DefaultLevel())
	}
	return &Meter{
		target: target,
		span:   span,
		tags:   Tags{}.Merge(tags...),
	}
}

// Target returns the target the meter reports to.
func (m *Meter) Target() Target { return m.target }

// Span returns the active span, which may be nil.
func (m *Meter) Span() *Span { return m.span }

// Tags returns a copy of the meter's accumulated tags.
func (m *Meter) Tags() Tags { return m.tags.Clone() }

// With returns a meter on the same span with extra tags.
func (m *Meter) With(tags ...Tagger) *Meter {
	return &Meter{target: m.target, span: m.span, tags: m.tags.Merge(tags...)}
}

func (m *Meter) merge(tags []Tagger) Tags {
	return m.tags.Merge(tags...)
}

// Start opens a child of the active span, or a new trace when there is none.
// The child's tags are the meter's tags overridden by tags.
func (m *Meter) Start(name string, tags ...Tagger) *Meter {
	var trace TraceID
	var parent SpanID
	if m.span != nil {
		trace, parent = m.span.TraceID(), m.span.ID()
	}
	span := m.target.Start(trace, parent, SpanID{}, name)
	return &Meter{target: m.target, span: span, tags: m.merge(tags)}
}

// StartRemote opens a span whose lineage is given explicitly, typically
// continued from another process. A zero trace starts a new trace. A parent
// without a trace, or a trace given to a meter that already has an active
// span, is ErrInvalidLineage.
func (m *Meter) StartRemote(name string, trace TraceID, parent SpanID, tags ...Tagger) (*Meter, error) {
	if trace.IsZero() && !parent.IsZero() {
		return nil, fmt.Errorf("start %q: %w", name, ErrInvalidLineage)
	}
	if !trace.IsZero() && m.span != nil {
		return nil, fmt.Errorf("start %q under %q: %w", name, m.span.Name(), ErrInvalidLineage)
	}
	span := m.target.Start(trace, parent, SpanID{}, name)
	return &Meter{target: m.target, span: span, tags: m.merge(tags)}, nil
}

// Finish ends the active span and reports it with the merged tags.
func (m *Meter) Finish(tags ...Tagger) error {
	if m.span == nil {
		return ErrNoActiveSpan
	}
	if err := m.span.Finish(); err != nil {
		return fmt.Errorf("finish %q: %w", m.span.Name(), err)
	}
	m.target.Finish(m.merge(tags), m.span)
	return nil
}

// Event records a point-in-time annotation on the active span.
func (m *Meter) Event(name string, tags ...Tagger) {
	merged := m.merge(tags)
	if m.span != nil {
		m.span.AddEvent(name, merged)
	}
	m.target.Event(name, merged, m.span)
}

// Debug logs at LevelDebug.
func (m *Meter) Debug(message string, tags ...Tagger) {
	m.log(LevelDebug, 2, message, tags)
}

// Info logs at LevelInfo.
func (m *Meter) Info(message string, tags ...Tagger) {
	m.log(LevelInfo, 2, message, tags)
}

// Warning logs at LevelWarning.
func (m *Meter) Warning(message string, tags ...Tagger) {
	m.log(LevelWarning, 2, message, tags)
}

// Log logs at an arbitrary level without caller location.
func (m *Meter) Log(level Level, message string, tags ...Tagger) {
	if !m.target.AcceptsLogLevel(level) {
		return
	}
	m.target.Log(level, message, m.merge(tags), m.span)
}

// log checks the level before doing any work, then adds the caller location
// skip frames up.
func (m *Meter) log(level Level, skip int, message string, tags []Tagger) {
	if !m.target.AcceptsLogLevel(level) {
		return
	}
	merged := m.merge(tags)
	for _, t := range callerTags(skip + 1) {
		merged.Set(t.Key, t.Value)
	}
	m.target.Log(level, message, merged, m.span)
}

func callerTags(skip int) []Tag {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return nil
	}
	function := ""
	if fn := runtime.FuncForPC(pc); fn != nil {
		function = fn.Name()
	}
	return []Tag{
		String("file", file),
		Int("line", line),
		String("function", function),
	}
}

// Error reports err on the error channel.
func (m *Meter) Error(message string, err error, tags ...Tagger) {
	m.target.Error(message, err, m.merge(tags), m.span)
}

// Magnitude records a measured value, such as a gauge reading.
func (m *Meter) Magnitude(name string, value float64, tags ...Tagger) {
	m.target.Magnitude(name, value, m.merge(tags), m.span)
}

// Count records an increment of a counter.
func (m *Meter) Count(name string, value int64, tags ...Tagger) {
	m.target.Count(name, value, m.merge(tags), m.span)
}

// Do runs fn inside a child span. An error from fn is reported once and
// returned unchanged; the child is finished on every exit path, panics
// included.
func (m *Meter) Do(name string, fn func(child *Meter) error, tags ...Tagger) (err error) {
	child := m.Start(name, tags...)
	defer func() {
		if r := recover(); r != nil {
			child.Error("Error during "+name, panicError(r))
			_ = child.Finish()
			panic(r)
		}
		_ = child.Finish()
	}()

	err = fn(child)
	if err != nil {
		child.Error("Error during "+name, err)
	}
	return err
}

// panicError turns a recovered value into an error for reporting.
func panicError(r interface{}) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}
