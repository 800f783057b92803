package meterz

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// PanicHook is called when a fan-out member panics.
type PanicHook func(member int, method string, r interface{})

// FanOut forwards every call to several targets. Each member receives its own
// copy of the tags, and a member that panics never stops delivery to the
// others. The member list is fixed at construction.
type FanOut struct {
	*BaseTarget
	panicHook atomic.Pointer[PanicHook]
	targets   []Target
}

// NewFanOut returns a target that forwards to targets in order.
func NewFanOut(targets ...Target) *FanOut {
	members := make([]Target, 0, len(targets))
	for _, t := range targets {
		if t != nil {
			members = append(members, t)
		}
	}
	return &FanOut{
		BaseTarget: NewBaseTarget(LevelNothing),
		targets:    members,
	}
}

// Targets returns a copy of the member list.
func (f *FanOut) Targets() []Target {
	return append([]Target(nil), f.targets...)
}

// SetPanicHook sets a function to be called when a member panics.
func (f *FanOut) SetPanicHook(hook PanicHook) {
	if hook == nil {
		f.panicHook.Store(nil)
		return
	}
	f.panicHook.Store(&hook)
}

// AcceptsLogLevel is true if any member accepts the level.
func (f *FanOut) AcceptsLogLevel(level Level) bool {
	for i, t := range f.targets {
		accepted := false
		f.safeCall(i, "accepts_log_level", func() { accepted = t.AcceptsLogLevel(level) })
		if accepted {
			return true
		}
	}
	return false
}

// Start generates the span identity once and announces it to every member,
// so members that track pending spans can key them by the shared id.
func (f *FanOut) Start(trace TraceID, parent, id SpanID, name string) *Span {
	span := f.BaseTarget.Start(trace, parent, id, name)
	for i, t := range f.targets {
		f.safeCall(i, "start", func() { t.Start(span.TraceID(), span.ParentID(), span.ID(), name) })
	}
	return span
}

// Finish forwards to every member.
func (f *FanOut) Finish(tags Tags, span *Span) {
	f.each("finish", func(t Target) { t.Finish(tags.Clone(), span) })
}

// Event forwards to every member.
func (f *FanOut) Event(name string, tags Tags, span *Span) {
	f.each("event", func(t Target) { t.Event(name, tags.Clone(), span) })
}

// Log forwards to the members that accept the level.
func (f *FanOut) Log(level Level, message string, tags Tags, span *Span) {
	f.each("log", func(t Target) {
		if t.AcceptsLogLevel(level) {
			t.Log(level, message, tags.Clone(), span)
		}
	})
}

// Error forwards to every member.
func (f *FanOut) Error(message string, err error, tags Tags, span *Span) {
	f.each("error", func(t Target) { t.Error(message, err, tags.Clone(), span) })
}

// Magnitude forwards to every member.
func (f *FanOut) Magnitude(name string, value float64, tags Tags, span *Span) {
	f.each("magnitude", func(t Target) { t.Magnitude(name, value, tags.Clone(), span) })
}

// Count forwards to every member.
func (f *FanOut) Count(name string, value int64, tags Tags, span *Span) {
	f.each("count", func(t Target) { t.Count(name, value, tags.Clone(), span) })
}

func (f *FanOut) each(method string, call func(Target)) {
	for i, t := range f.targets {
		f.safeCall(i, method, func() { call(t) })
	}
}

func (f *FanOut) safeCall(member int, method string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			diag().Error("target panicked during fan-out",
				zap.Int("member", member),
				zap.String("method", method),
				zap.String("panic", fmt.Sprint(r)),
			)
			if hook := f.panicHook.Load(); hook != nil {
				(*hook)(member, method, r)
			}
		}
	}()
	fn()
}

var _ Target = (*FanOut)(nil)
