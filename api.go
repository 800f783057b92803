// Package meterz is an instrumentation core for tracing, structured logging
// and metrics.
//
// Application code opens nested spans, attaches tags, and emits log, error
// and metric events through a Meter. Meters forward everything to a Target,
// which is the pluggable backend: a no-op default, a fan-out combinator, or an
// adapter (see the printer, zaplog, otelz and promz packages).
//
// Core Components:
//   - Meter: binds a Target, an active Span and a tag set.
//   - Span: identity and timing of a single unit of work.
//   - Target: delivers telemetry to a backend.
//   - Register: answers "which Meter is current" for one unit of work.
//   - Instrument, InstrumentAsync, InstrumentSeq: wrap functions in spans.
//
// Basic Usage:
//
//	meterz.Init(printer.New(os.Stderr, meterz.LevelInfo))
//	defer meterz.Flush()
//
//	ctx := meterz.Fork(context.Background())
//	err := meterz.Do(ctx, "load-config", func(ctx context.Context) error {
//		meterz.Info(ctx, "reading", meterz.String("path", path))
//		return nil
//	})
//
// Wrapping functions:
//
//	load := meterz.Instrument("load", func(ctx context.Context, kw meterz.Kwargs) (int, error) {
//		return 42, nil
//	}, meterz.WithParams("path"))
//	n, err := load(ctx, meterz.Kwargs{"path": "/etc/app", "tenant": "acme"})
//
// Context Propagation:
//
// Each logical unit of work owns a Register carried in its context.Context.
// Code without a register falls back to the process default register installed
// by Init. Goroutines started by instrumented code should call Fork so that
// their "current" Meter never leaks into the parent's view.
//
// Thread Safety:
//
// Meters are immutable and safe to share. Spans and Registers are safe for
// concurrent use. Targets must be safe for concurrent use.
package meterz
