package meterz

import (
	"context"
	"sync/atomic"
)

// TaskState is the lifecycle position of an instrumented asynchronous call.
type TaskState int32

// Task states. Suspension happens inside Running and is not observable from
// outside the body.
const (
	TaskCreated TaskState = iota
	TaskRunning
	TaskCompleted
	TaskFailed
	TaskCancelled
)

func (s TaskState) String() string {
	switch s {
	case TaskCreated:
		return "created"
	case TaskRunning:
		return "running"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	case TaskCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final.
func (s TaskState) Terminal() bool { return s >= TaskCompleted }

// Task is one running invocation of an AsyncFunc.
//
//nolint:govet // Field order optimized for readability
type Task[R any] struct {
	result   R
	err      error
	panicked interface{}
	meter    *Meter
	done     chan struct{}
	cancel   context.CancelCauseFunc
	state    atomic.Int32
}

// AsyncFunc launches an instrumented body and returns its Task.
type AsyncFunc[R any] func(ctx context.Context, kw Kwargs) *Task[R]

// Call launches the body and waits for it.
func (f AsyncFunc[R]) Call(ctx context.Context, kw Kwargs) (R, error) {
	return f(ctx, kw).Wait(ctx)
}

// InstrumentAsync wraps a body that waits on external work. The body runs on
// its own goroutine with its own register, in which the child meter is
// current; the caller's register is never modified, so the caller keeps
// seeing its own meter while the body is suspended.
//
// Cancelling the launching context, the context given to Wait, or calling
// Cancel delivers the cancellation into the body's context. The wrapper still
// waits for the body to terminate and returns whatever the body returns, so a
// body that handles the cancellation completes normally. Any other failure,
// including a timeout raised by the body's own downstream calls, is reported
// once; the span is finished exactly once when the
// body terminates.
func InstrumentAsync[R any](name string, fn Func[R], opts ...Option) AsyncFunc[R] {
	cfg := newWrapConfig(name, opts)
	return func(ctx context.Context, kw Kwargs) *Task[R] {
		if ctx == nil {
			ctx = context.Background()
		}
		tags, forward := cfg.extract(kw)
		child := Active(ctx).Start(cfg.name, tags)

		bodyCtx, cancel := context.WithCancelCause(ctx)
		bodyCtx = NewContext(bodyCtx, child)

		t := &Task[R]{
			meter:  child,
			done:   make(chan struct{}),
			cancel: cancel,
		}
		go t.run(bodyCtx, cfg.name, fn, forward)
		return t
	}
}

func (t *Task[R]) run(ctx context.Context, name string, fn Func[R], kw Kwargs) {
	defer close(t.done)
	defer t.cancel(nil)
	defer func() {
		if r := recover(); r != nil {
			t.panicked = r
			t.state.Store(int32(TaskFailed))
			t.meter.Error(errorMessage(name), panicError(r))
		}
		finishOnce(t.meter)
	}()

	t.state.Store(int32(TaskRunning))
	t.result, t.err = fn(ctx, kw)

	switch {
	case t.err == nil:
		t.state.Store(int32(TaskCompleted))
	case cancelledBy(ctx, t.err):
		t.state.Store(int32(TaskCancelled))
	default:
		t.state.Store(int32(TaskFailed))
		t.meter.Error(errorMessage(name), t.err)
	}
}

// Wait blocks until the body terminates. If ctx is cancelled first, the
// cancellation is delivered into the body and Wait keeps waiting for the body
// to react. A panic in the body is re-raised here.
func (t *Task[R]) Wait(ctx context.Context) (R, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-t.done:
	case <-ctx.Done():
		t.cancel(context.Cause(ctx))
		<-t.done
	}
	if t.panicked != nil {
		panic(t.panicked)
	}
	return t.result, t.err
}

// Cancel delivers a cancellation into the body without waiting.
func (t *Task[R]) Cancel() {
	t.cancel(context.Canceled)
}

// Done is closed once the body has terminated and the span is finished.
func (t *Task[R]) Done() <-chan struct{} { return t.done }

// State returns the current lifecycle state.
func (t *Task[R]) State() TaskState { return TaskState(t.state.Load()) }

// Meter returns the child meter the body runs under.
func (t *Task[R]) Meter() *Meter { return t.meter }
