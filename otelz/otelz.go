// Package otelz exports meterz telemetry through OpenTelemetry.
//
// Spans keep the identity meterz assigned them: the target remembers every
// span it starts in a pending table keyed by span id, gathers its events and
// error status, and on finish hands a read-only snapshot to an
// sdktrace.SpanExporter. Export happens on a background goroutine behind a
// bounded queue so a slow collector never blocks instrumented code.
//
// Magnitudes are recorded on Float64Gauge instruments and counts on
// Int64Counter instruments of an OpenTelemetry metric.Meter.
package otelz

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/instrumentation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/zoobzio/meterz"
)

// ScopeName identifies this package as the instrumentation scope.
const ScopeName = "github.com/zoobzio/meterz/otelz"

const (
	defaultQueueSize = 2048
	maxBatchSize     = 512
	exportTimeout    = 10 * time.Second
)

// spanData accumulates what happens to a span between start and finish.
type spanData struct {
	events []sdktrace.Event
	status sdktrace.Status
}

type flushRequest struct {
	done chan struct{}
}

// Target sends spans to an exporter and metrics to a metric.Meter.
// Safe for concurrent use.
//
//nolint:govet // Field order optimized for readability
type Target struct {
	*meterz.BaseTarget
	exporter sdktrace.SpanExporter
	meter    metric.Meter
	resource *resource.Resource
	logger   *zap.Logger
	scope    instrumentation.Scope

	pending map[meterz.SpanID]*spanData
	mu      sync.Mutex

	gauges   map[string]metric.Float64Gauge
	counters map[string]metric.Int64Counter
	instMu   sync.RWMutex

	queue    chan sdktrace.ReadOnlySpan
	flushes  chan flushRequest
	stopCh   chan struct{}
	done     chan struct{}
	dropped  atomic.Int64
	stopOnce sync.Once
}

// Option configures a Target.
type Option func(*Target)

// WithMeter sets the meter used for magnitudes and counts. The default is
// the global meter provider's meter for ScopeName.
func WithMeter(m metric.Meter) Option {
	return func(t *Target) { t.meter = m }
}

// WithResource sets the resource attached to exported spans.
func WithResource(r *resource.Resource) Option {
	return func(t *Target) { t.resource = r }
}

// WithLogger sets where export failures are reported.
func WithLogger(l *zap.Logger) Option {
	return func(t *Target) { t.logger = l }
}

// WithQueueSize bounds the number of finished spans awaiting export.
func WithQueueSize(n int) Option {
	return func(t *Target) { t.queue = make(chan sdktrace.ReadOnlySpan, n) }
}

// WithIDs sets the id generator for new spans.
func WithIDs(ids meterz.IDGenerator) Option {
	return func(t *Target) { t.BaseTarget.WithIDs(ids) }
}

// New returns a target exporting through exporter. A nil exporter disables
// span export; metrics are still recorded.
func New(exporter sdktrace.SpanExporter, level meterz.Level, opts ...Option) *Target {
	t := &Target{
		BaseTarget: meterz.NewBaseTarget(level),
		exporter:   exporter,
		logger:     zap.NewNop(),
		scope:      instrumentation.Scope{Name: ScopeName, SchemaURL: semconv.SchemaURL},
		pending:    make(map[meterz.SpanID]*spanData),
		gauges:     make(map[string]metric.Float64Gauge),
		counters:   make(map[string]metric.Int64Counter),
		queue:      make(chan sdktrace.ReadOnlySpan, defaultQueueSize),
		flushes:    make(chan flushRequest),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.meter == nil {
		t.meter = otel.Meter(ScopeName)
	}
	if t.resource == nil {
		t.resource = Resource("")
	}
	go t.run()
	return t
}

// Resource describes the running process using the meterz environment tags,
// with service.name set when serviceName is not empty.
func Resource(serviceName string) *resource.Resource {
	attrs := Attributes(meterz.EnvTags())
	if serviceName != "" {
		attrs = append(attrs, semconv.ServiceNameKey.String(serviceName))
	}
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
}

// Start allocates a span and opens its pending entry.
func (t *Target) Start(traceID meterz.TraceID, parent, id meterz.SpanID, name string) *meterz.Span {
	span := t.BaseTarget.Start(traceID, parent, id, name)
	t.mu.Lock()
	t.pending[span.ID()] = &spanData{}
	t.mu.Unlock()
	return span
}

// Event appends a span event.
func (t *Target) Event(name string, tags meterz.Tags, span *meterz.Span) {
	t.withPending(span, func(d *spanData) {
		d.events = append(d.events, sdktrace.Event{
			Name:       name,
			Attributes: Attributes(tags),
			Time:       t.now(),
		})
	})
}

// Log records the message as a span event. Logs outside a span are dropped.
func (t *Target) Log(level meterz.Level, message string, tags meterz.Tags, span *meterz.Span) {
	t.withPending(span, func(d *spanData) {
		attrs := append(Attributes(tags), attribute.String("log.severity", level.String()))
		d.events = append(d.events, sdktrace.Event{
			Name:       message,
			Attributes: attrs,
			Time:       t.now(),
		})
	})
}

// Error marks the span failed and records an exception event.
func (t *Target) Error(message string, err error, tags meterz.Tags, span *meterz.Span) {
	t.withPending(span, func(d *spanData) {
		desc := message
		attrs := Attributes(tags)
		if err != nil {
			desc = message + ": " + err.Error()
			attrs = append(attrs,
				semconv.ExceptionTypeKey.String(fmt.Sprintf("%T", err)),
				semconv.ExceptionMessageKey.String(err.Error()),
			)
		}
		d.status = sdktrace.Status{Code: codes.Error, Description: desc}
		d.events = append(d.events, sdktrace.Event{
			Name:       semconv.ExceptionEventName,
			Attributes: attrs,
			Time:       t.now(),
		})
	})
}

func (t *Target) now() time.Time {
	if t.Clock != nil {
		return t.Clock.Now()
	}
	return time.Now()
}

func (t *Target) withPending(span *meterz.Span, fn func(*spanData)) {
	if span == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.pending[span.ID()]
	if !ok {
		d = &spanData{}
		t.pending[span.ID()] = d
	}
	fn(d)
}

// Finish closes the pending entry and queues the span for export.
func (t *Target) Finish(tags meterz.Tags, span *meterz.Span) {
	t.mu.Lock()
	d, ok := t.pending[span.ID()]
	delete(t.pending, span.ID())
	t.mu.Unlock()
	if !ok {
		// Started by another target; export what we know.
		d = &spanData{}
	}
	if t.exporter == nil {
		return
	}

	ro := t.snapshot(tags, span, d)
	select {
	case t.queue <- ro:
	default:
		t.dropped.Add(1)
	}
}

func (t *Target) snapshot(tags meterz.Tags, span *meterz.Span, d *spanData) sdktrace.ReadOnlySpan {
	status := d.status
	if status.Code == codes.Unset {
		status = sdktrace.Status{Code: codes.Ok}
	}
	var parent trace.SpanContext
	if !span.IsRoot() {
		parent = SpanContext(span.TraceID(), span.ParentID())
	}
	end := span.EndTime()
	if end.IsZero() {
		end = span.StartTime().Add(span.Duration())
	}
	stub := tracetest.SpanStub{
		Name:                 span.Name(),
		SpanContext:          SpanContext(span.TraceID(), span.ID()),
		Parent:               parent,
		SpanKind:             trace.SpanKindInternal,
		StartTime:            span.StartTime(),
		EndTime:              end,
		Attributes:           Attributes(tags),
		Events:               d.events,
		Status:               status,
		Resource:             t.resource,
		InstrumentationScope: t.scope,
	}
	return stub.Snapshot()
}

// Magnitude records value on the gauge called name.
func (t *Target) Magnitude(name string, value float64, tags meterz.Tags, _ *meterz.Span) {
	g, err := t.gauge(name)
	if err != nil {
		t.logger.Warn("otelz: gauge unavailable", zap.String("metric", name), zap.Error(err))
		return
	}
	g.Record(context.Background(), value, metric.WithAttributes(Attributes(tags)...))
}

// Count adds value to the counter called name.
func (t *Target) Count(name string, value int64, tags meterz.Tags, _ *meterz.Span) {
	c, err := t.counter(name)
	if err != nil {
		t.logger.Warn("otelz: counter unavailable", zap.String("metric", name), zap.Error(err))
		return
	}
	c.Add(context.Background(), value, metric.WithAttributes(Attributes(tags)...))
}

func (t *Target) gauge(name string) (metric.Float64Gauge, error) {
	t.instMu.RLock()
	g, ok := t.gauges[name]
	t.instMu.RUnlock()
	if ok {
		return g, nil
	}

	t.instMu.Lock()
	defer t.instMu.Unlock()
	// Double-check after acquiring write lock
	if g, ok = t.gauges[name]; ok {
		return g, nil
	}
	g, err := t.meter.Float64Gauge(name)
	if err != nil {
		return nil, fmt.Errorf("create gauge %s: %w", name, err)
	}
	t.gauges[name] = g
	return g, nil
}

func (t *Target) counter(name string) (metric.Int64Counter, error) {
	t.instMu.RLock()
	c, ok := t.counters[name]
	t.instMu.RUnlock()
	if ok {
		return c, nil
	}

	t.instMu.Lock()
	defer t.instMu.Unlock()
	if c, ok = t.counters[name]; ok {
		return c, nil
	}
	c, err := t.meter.Int64Counter(name)
	if err != nil {
		return nil, fmt.Errorf("create counter %s: %w", name, err)
	}
	t.counters[name] = c
	return c, nil
}

// run exports queued spans in batches until Shutdown.
func (t *Target) run() {
	defer close(t.done)

	batch := make([]sdktrace.ReadOnlySpan, 0, maxBatchSize)
	export := func() {
		if len(batch) == 0 {
			return
		}
		t.export(batch)
		batch = batch[:0]
	}
	drain := func() {
		for len(batch) < maxBatchSize {
			select {
			case ro := <-t.queue:
				batch = append(batch, ro)
			default:
				return
			}
		}
	}

	for {
		select {
		case <-t.stopCh:
			for {
				drain()
				if len(batch) == 0 {
					return
				}
				export()
			}
		case req := <-t.flushes:
			for {
				drain()
				if len(batch) == 0 {
					break
				}
				export()
			}
			close(req.done)
		case ro := <-t.queue:
			batch = append(batch, ro)
			drain()
			export()
		}
	}
}

func (t *Target) export(batch []sdktrace.ReadOnlySpan) {
	ctx, cancel := context.WithTimeout(context.Background(), exportTimeout)
	defer cancel()
	if err := t.exporter.ExportSpans(ctx, batch); err != nil {
		t.logger.Warn("otelz: span export failed", zap.Int("spans", len(batch)), zap.Error(err))
	}
}

// Flush blocks until every span finished so far has been handed to the
// exporter, or ctx is done.
func (t *Target) Flush(ctx context.Context) error {
	req := flushRequest{done: make(chan struct{})}
	select {
	case t.flushes <- req:
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown exports what is queued, stops the worker and shuts the exporter
// down. Spans finished afterwards are dropped.
func (t *Target) Shutdown(ctx context.Context) error {
	t.stopOnce.Do(func() { close(t.stopCh) })
	select {
	case <-t.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if t.exporter == nil {
		return nil
	}
	return t.exporter.Shutdown(ctx)
}

// DroppedCount returns the number of spans dropped because the queue was full.
func (t *Target) DroppedCount() int64 { return t.dropped.Load() }

// PendingCount returns the number of started, unfinished spans.
func (t *Target) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// SpanContext converts meterz ids into a sampled OpenTelemetry span context.
func SpanContext(traceID meterz.TraceID, id meterz.SpanID) trace.SpanContext {
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID(traceID),
		SpanID:     trace.SpanID(id),
		TraceFlags: trace.FlagsSampled,
	})
}

// Attributes converts tags into OpenTelemetry attributes, hex-encoding bytes.
func Attributes(tags meterz.Tags) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, tags.Len())
	tags.Range(func(k string, v meterz.Value) bool {
		switch v.Kind() {
		case meterz.KindInt:
			attrs = append(attrs, attribute.Int64(k, v.AsInt()))
		case meterz.KindFloat:
			attrs = append(attrs, attribute.Float64(k, v.AsFloat()))
		case meterz.KindBool:
			attrs = append(attrs, attribute.Bool(k, v.AsBool()))
		default:
			attrs = append(attrs, attribute.String(k, v.Emit()))
		}
		return true
	})
	return attrs
}

var _ meterz.Target = (*Target)(nil)
