package meterz

import (
	"context"
	"errors"
)

var (
	// ErrNoActiveSpan is returned when finishing a Meter that has no span.
	ErrNoActiveSpan = errors.New("meterz: no active span")

	// ErrSpanFinished is returned when a span is finished twice.
	ErrSpanFinished = errors.New("meterz: span already finished")

	// ErrInvalidLineage is returned when a parent id is given without a trace id.
	ErrInvalidLineage = errors.New("meterz: parent id requires a trace id")

	// ErrRegisterEmpty is returned by Pop when nothing was pushed.
	ErrRegisterEmpty = errors.New("meterz: register has nothing to pop")
)

// IsCancellation reports whether err carries a context cancellation or
// deadline.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// cancelledBy reports whether err is ctx's own cancellation surfacing from a
// body. A deadline hit by some other context inside the body is a failure.
func cancelledBy(ctx context.Context, err error) bool {
	return IsCancellation(err) && ctx.Err() != nil
}
