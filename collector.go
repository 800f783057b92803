package meterz

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/clockz"
)

// Collector is a Target that buffers finished spans for inspection or batch
// export. Spans are received over a bounded channel; when it is full the span
// is dropped and counted rather than blocking the instrumented code.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field alignment optimized for readability over memory efficiency
type Collector struct {
	*BaseTarget
	spans        []SpanRecord
	spansCh      chan SpanRecord
	stopCh       chan struct{}
	done         chan struct{}
	errors       sync.Map // SpanID -> error message, until the span finishes.
	droppedCount atomic.Int64
	name         string
	mu           sync.Mutex
	closed       atomic.Bool
	syncMode     atomic.Bool
}

// NewCollector creates a collector with the given name and channel size.
// It accepts every log level so errors and events always reach it.
func NewCollector(name string, bufferSize int) *Collector {
	c := &Collector{
		BaseTarget: NewBaseTarget(LevelAll),
		name:       name,
		spans:      make([]SpanRecord, 0, 8),
		spansCh:    make(chan SpanRecord, bufferSize),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	go c.start()
	return c
}

// WithClock sets the clock used for the spans this collector starts.
func (c *Collector) WithClock(clock clockz.Clock) *Collector {
	c.BaseTarget.WithClock(clock)
	return c
}

// WithIDs sets the id generator.
func (c *Collector) WithIDs(ids IDGenerator) *Collector {
	c.BaseTarget.WithIDs(ids)
	return c
}

// Name returns the collector's name.
func (c *Collector) Name() string { return c.name }

// start runs the collector's main loop, receiving spans from the channel.
func (c *Collector) start() {
	defer close(c.done)

	for {
		select {
		case <-c.stopCh:
			// Drain remaining spans before shutdown.
			for {
				select {
				case rec := <-c.spansCh:
					c.buffer(rec)
				default:
					return
				}
			}
		case rec := <-c.spansCh:
			c.buffer(rec)
		}
	}
}

// Close shuts the collector down, draining queued spans. Safe to call more
// than once.
func (c *Collector) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.stopCh)
	select {
	case <-c.done:
	case <-time.After(100 * time.Millisecond):
		// Timeout - continue; the drain loop exits on its own.
	}
}

// Error remembers the message against the span so the finished record
// carries it.
func (c *Collector) Error(message string, err error, _ Tags, span *Span) {
	if span == nil {
		return
	}
	text := message
	if err != nil {
		text = message + ": " + err.Error()
	}
	c.errors.Store(span.ID(), text)
}

// Finish snapshots the span with its final tags and queues it.
func (c *Collector) Finish(tags Tags, span *Span) {
	if span == nil {
		c.droppedCount.Add(1)
		return
	}
	rec := span.Snapshot(tags)
	if msg, ok := c.errors.LoadAndDelete(span.ID()); ok {
		rec.Error = msg.(string)
	}
	c.Collect(rec)
}

// Collect buffers a record with backpressure protection. In sync mode the
// record is stored directly, for deterministic tests.
func (c *Collector) Collect(rec SpanRecord) {
	if c.closed.Load() {
		c.droppedCount.Add(1)
		return
	}

	if c.syncMode.Load() {
		c.buffer(rec)
		return
	}

	select {
	case c.spansCh <- rec:
	default:
		// Channel full - drop span to prevent blocking.
		c.droppedCount.Add(1)
	}
}

// buffer appends a record to the internal buffer.
func (c *Collector) buffer(rec SpanRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.spans) >= cap(c.spans) {
		currentCap := cap(c.spans)
		var newCap int
		if currentCap < 1024 {
			newCap = currentCap * 2
		} else {
			// Grow by 50% for large buffers to avoid excessive memory usage.
			newCap = currentCap + currentCap/2
		}
		if newCap < 32 {
			newCap = 32
		}
		newSlice := make([]SpanRecord, len(c.spans), newCap)
		copy(newSlice, c.spans)
		c.spans = newSlice
	}
	c.spans = append(c.spans, rec)
}

// Export returns all buffered records and clears the buffer.
// The returned slice is safe to modify without affecting the collector.
func (c *Collector) Export() []SpanRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.spans) == 0 {
		return nil
	}

	result := make([]SpanRecord, len(c.spans))
	copy(result, c.spans)

	// Only shrink if buffer is very oversized to avoid allocation churn.
	if cap(c.spans) > 256 && len(c.spans) < cap(c.spans)/8 {
		newCap := cap(c.spans) / 4
		if newCap < 32 {
			newCap = 32
		}
		c.spans = make([]SpanRecord, 0, newCap)
	} else {
		c.spans = c.spans[:0]
	}

	return result
}

// Len returns the current number of buffered records.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.spans)
}

// DroppedCount returns the total number of spans dropped.
func (c *Collector) DroppedCount() int64 {
	return c.droppedCount.Load()
}

// SetSyncMode makes collection synchronous, bypassing the channel.
func (c *Collector) SetSyncMode(sync bool) {
	c.syncMode.Store(sync)
}

// Reset clears all buffered records and the drop counter.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.spans = c.spans[:0]
	c.droppedCount.Store(0)
}

var _ Target = (*Collector)(nil)
