package meterz

import (
	"context"
	"iter"
)

// SeqFunc produces a sequence lazily.
type SeqFunc[V any] func(ctx context.Context, kw Kwargs) iter.Seq[V]

// InstrumentSeq wraps a generator. The span starts when iteration starts and
// finishes when the producer returns or the consumer stops. The producer runs
// with its own register holding the child meter; the consumer's register is
// never touched, so its loop body always sees the consumer's meter.
func InstrumentSeq[V any](name string, fn SeqFunc[V], opts ...Option) SeqFunc[V] {
	cfg := newWrapConfig(name, opts)
	return func(ctx context.Context, kw Kwargs) iter.Seq[V] {
		tags, forward := cfg.extract(kw)
		return func(yield func(V) bool) {
			if ctx == nil {
				ctx = context.Background()
			}
			child := Active(ctx).Start(cfg.name, tags)

			consuming := false
			defer func() {
				if r := recover(); r != nil {
					// A panic raised by the consumer's loop body travels
					// through the producer; it is not the producer's error.
					if !consuming {
						child.Error(errorMessage(cfg.name), panicError(r))
					}
					finishOnce(child)
					panic(r)
				}
				finishOnce(child)
			}()

			for v := range fn(NewContext(ctx, child), forward) {
				consuming = true
				more := yield(v)
				consuming = false
				if !more {
					return
				}
			}
		}
	}
}
