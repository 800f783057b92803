package meterz

import (
	"context"
)

// Start opens a child of the active meter. The child is returned, not
// installed; use Span or StartContext to make it current.
func Start(ctx context.Context, name string, tags ...Tagger) *Meter {
	return Active(ctx).Start(name, tags...)
}

// StartContext opens a child of the active meter and returns a context whose
// own register holds it.
func StartContext(ctx context.Context, name string, tags ...Tagger) (context.Context, *Meter) {
	child := Active(ctx).Start(name, tags...)
	return NewContext(ctx, child), child
}

// Finish finishes the active meter's span.
func Finish(ctx context.Context, tags ...Tagger) error {
	return Active(ctx).Finish(tags...)
}

// Event records an event on the active meter.
func Event(ctx context.Context, name string, tags ...Tagger) {
	Active(ctx).Event(name, tags...)
}

// Debug logs at LevelDebug on the active meter.
func Debug(ctx context.Context, message string, tags ...Tagger) {
	Active(ctx).log(LevelDebug, 2, message, tags)
}

// Info logs at LevelInfo on the active meter.
func Info(ctx context.Context, message string, tags ...Tagger) {
	Active(ctx).log(LevelInfo, 2, message, tags)
}

// Warning logs at LevelWarning on the active meter.
func Warning(ctx context.Context, message string, tags ...Tagger) {
	Active(ctx).log(LevelWarning, 2, message, tags)
}

// Error reports err on the active meter.
func Error(ctx context.Context, message string, err error, tags ...Tagger) {
	Active(ctx).Error(message, err, tags...)
}

// Magnitude records a measured value on the active meter.
func Magnitude(ctx context.Context, name string, value float64, tags ...Tagger) {
	Active(ctx).Magnitude(name, value, tags...)
}

// Count records a counter increment on the active meter.
func Count(ctx context.Context, name string, value int64, tags ...Tagger) {
	Active(ctx).Count(name, value, tags...)
}

// Do runs fn in a child of the active meter. fn gets a context whose own
// register holds the child, so ctx's register is left alone. The child is
// finished on every exit path; an error from fn is reported once and returned
// unchanged.
func Do(ctx context.Context, name string, fn func(ctx context.Context) error, tags ...Tagger) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	child := Active(ctx).Start(name, tags...)
	defer func() {
		if r := recover(); r != nil {
			child.Error("Error during "+name, panicError(r))
			_ = child.Finish()
			panic(r)
		}
		_ = child.Finish()
	}()

	err = fn(NewContext(ctx, child))
	if err != nil && !cancelledBy(ctx, err) {
		child.Error("Error during "+name, err)
	}
	return err
}
