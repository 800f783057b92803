// Package printer provides a Target that writes human-readable telemetry
// lines, one per call, to an io.Writer.
//
// Every line has the form
//
//	[<span id>/<elapsed ms>] k=v k=v ... <what happened>
//
// where elapsed is measured from the start of the span, or from the creation
// of the target when there is no span.
package printer

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/meterz"
)

// Target writes telemetry to a writer. Safe for concurrent use.
type Target struct {
	*meterz.BaseTarget
	w       io.Writer
	created time.Time
	mu      sync.Mutex
}

// New returns a printer writing to w at the given log threshold. A nil w
// means os.Stderr.
func New(w io.Writer, level meterz.Level) *Target {
	if w == nil {
		w = os.Stderr
	}
	return &Target{
		BaseTarget: meterz.NewBaseTarget(level),
		w:          w,
		created:    clockz.RealClock.Now(),
	}
}

// WithClock sets the clock used for span timing and for lines without a span.
func (t *Target) WithClock(clock clockz.Clock) *Target {
	t.BaseTarget.WithClock(clock)
	t.created = clock.Now()
	return t
}

// WithIDs sets the id generator.
func (t *Target) WithIDs(ids meterz.IDGenerator) *Target {
	t.BaseTarget.WithIDs(ids)
	return t
}

// FromConfig builds a printer from the print section of cfg, opening the
// configured path for appending. The returned close function releases the
// file and is a no-op when printing to stderr.
func FromConfig(cfg meterz.Config) (*Target, func() error, error) {
	noop := func() error { return nil }
	if cfg.Print == nil {
		return New(os.Stderr, cfg.Level), noop, nil
	}
	level := meterz.LevelOr(cfg.Print.Level, cfg.Level)
	if cfg.Print.Path == "" {
		return New(os.Stderr, level), noop, nil
	}
	f, err := os.OpenFile(cfg.Print.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open print target: %w", err)
	}
	return New(f, level), f.Close, nil
}

// Start announces the new span.
func (t *Target) Start(trace meterz.TraceID, parent, id meterz.SpanID, name string) *meterz.Span {
	span := t.BaseTarget.Start(trace, parent, id, name)
	t.write(span, meterz.Tags{}, "start", name)
	return span
}

// Finish prints the final tags and the span duration.
func (t *Target) Finish(tags meterz.Tags, span *meterz.Span) {
	t.write(span, tags.Merge(meterz.String("duration", span.Duration().String())), "finish", span.Name())
}

// Event prints the event name.
func (t *Target) Event(name string, tags meterz.Tags, span *meterz.Span) {
	t.write(span, tags, name)
}

// Log prints the upper-case level and the message.
func (t *Target) Log(level meterz.Level, message string, tags meterz.Tags, span *meterz.Span) {
	t.write(span, tags, strings.ToUpper(level.String()), message)
}

// Error prints the message, then the error indented on the following line.
func (t *Target) Error(message string, err error, tags meterz.Tags, span *meterz.Span) {
	if err == nil {
		t.write(span, tags, "Error:", message)
		return
	}
	t.write(span, tags, "Error:", message+"\n    "+err.Error())
}

// Magnitude prints name=value.
func (t *Target) Magnitude(name string, value float64, tags meterz.Tags, span *meterz.Span) {
	t.write(span, tags, name+"="+strconv.FormatFloat(value, 'g', -1, 64))
}

// Count prints name=value.
func (t *Target) Count(name string, value int64, tags meterz.Tags, span *meterz.Span) {
	t.write(span, tags, name+"="+strconv.FormatInt(value, 10))
}

func (t *Target) write(span *meterz.Span, tags meterz.Tags, chunks ...string) {
	var b strings.Builder
	b.WriteByte('[')
	var elapsed time.Duration
	if span != nil {
		b.WriteString(span.ID().String())
		elapsed = span.Duration()
	} else {
		elapsed = t.since()
	}
	b.WriteByte('/')
	b.WriteString(strconv.FormatInt(elapsed.Milliseconds(), 10))
	b.WriteByte(']')

	tags.Range(func(k string, v meterz.Value) bool {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v.Emit())
		return true
	})
	for _, c := range chunks {
		b.WriteByte(' ')
		b.WriteString(c)
	}
	b.WriteByte('\n')

	t.mu.Lock()
	defer t.mu.Unlock()
	// Write failures are dropped; telemetry never fails the caller.
	_, _ = io.WriteString(t.w, b.String())
}

func (t *Target) since() time.Duration {
	if t.Clock != nil {
		return t.Clock.Since(t.created)
	}
	return clockz.RealClock.Since(t.created)
}

var _ meterz.Target = (*Target)(nil)
