package meterz

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootAndChildSpans(t *testing.T) {
	rec := newRecorder(LevelAll)
	m := NewMeter(rec, nil)

	root := m.Start("root")
	child := root.Start("child1", Int("zork", 56))
	require.NoError(t, child.Finish())
	require.NoError(t, root.Finish())

	finishes := rec.all("finish")
	require.Len(t, finishes, 2)
	childFinish, rootFinish := finishes[0], finishes[1]

	assert.Equal(t, "child1", childFinish.span.Name())
	assert.Equal(t, root.Span().ID(), childFinish.span.ParentID())
	assert.Equal(t, root.Span().TraceID(), childFinish.span.TraceID())
	assert.True(t, childFinish.tags.Has("zork"))
	assert.False(t, rootFinish.tags.Has("zork"), "child tags stay on the child")

	assert.True(t, root.Span().IsRoot())
	assert.NotEqual(t, root.Span().ID().String(), root.Span().TraceID().String()[:16])
}

func TestStartMergesTags(t *testing.T) {
	m := NewMeter(newRecorder(LevelAll), nil, String("env", "prod"), String("zone", "a"))

	child := m.Start("op", String("zone", "b"), Int("n", 1))

	assert.Equal(t, map[string]any{"env": "prod", "zone": "b", "n": int64(1)}, child.Tags().Map())
	assert.Equal(t, map[string]any{"env": "prod", "zone": "a"}, m.Tags().Map(), "parent is not modified")
}

func TestCallSitePrecedence(t *testing.T) {
	rec := newRecorder(LevelAll)
	m := NewMeter(rec, nil, String("k", "handle"))

	m.Count("c", 1, String("k", "keyword"), NewTags(String("k", "dict")))
	m.Count("c", 1, NewTags(String("k", "dict")))

	counts := rec.all("count")
	require.Len(t, counts, 2)
	v, _ := counts[0].tags.Get("k")
	assert.Equal(t, "keyword", v.AsString())
	v, _ = counts[1].tags.Get("k")
	assert.Equal(t, "dict", v.AsString())
}

func TestFinishWithoutSpan(t *testing.T) {
	rec := newRecorder(LevelAll)
	m := NewMeter(rec, nil)

	err := m.Finish()
	assert.ErrorIs(t, err, ErrNoActiveSpan)
	assert.Empty(t, rec.all("finish"))
}

func TestFinishTwice(t *testing.T) {
	rec := newRecorder(LevelAll)
	m := NewMeter(rec, nil).Start("once")

	require.NoError(t, m.Finish())
	err := m.Finish()
	assert.ErrorIs(t, err, ErrSpanFinished)
	assert.Len(t, rec.all("finish"), 1)
}

func TestStartRemote(t *testing.T) {
	rec := newRecorder(LevelAll)
	root := NewMeter(rec, nil)

	trace := TraceID{9, 9}
	parent := SpanID{7}
	remote, err := root.StartRemote("continued", trace, parent)
	require.NoError(t, err)
	assert.Equal(t, trace, remote.Span().TraceID())
	assert.Equal(t, parent, remote.Span().ParentID())

	m := root.Start("local")
	_, err = m.StartRemote("override", trace, parent)
	assert.ErrorIs(t, err, ErrInvalidLineage, "a trace cannot be combined with an active span")

	fresh, err := m.StartRemote("fresh", TraceID{}, SpanID{})
	require.NoError(t, err)
	assert.True(t, fresh.Span().IsRoot())
	assert.NotEqual(t, m.Span().TraceID(), fresh.Span().TraceID())

	_, err = m.StartRemote("bad", TraceID{}, SpanID{1})
	assert.ErrorIs(t, err, ErrInvalidLineage)
}

func TestLogLevelCheckAndCallerTags(t *testing.T) {
	rec := newRecorder(LevelInfo)
	m := NewMeter(rec, nil)

	m.Debug("filtered")
	m.Info("kept", String("k", "v"))
	m.Warning("also kept")
	m.Log(LevelError, "explicit")

	logs := rec.all("log")
	require.Len(t, logs, 3)

	info := logs[0]
	assert.Equal(t, LevelInfo, info.level)
	assert.Equal(t, "kept", info.name)
	file, ok := info.tags.Get("file")
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(file.AsString(), "meter_test.go"), file.AsString())
	line, ok := info.tags.Get("line")
	require.True(t, ok)
	assert.Positive(t, line.AsInt())
	fn, ok := info.tags.Get("function")
	require.True(t, ok)
	assert.Contains(t, fn.AsString(), "TestLogLevelCheckAndCallerTags")

	assert.False(t, logs[2].tags.Has("file"), "Log does not attach caller tags")
}

func TestFacadeCallerTagsPointAtCaller(t *testing.T) {
	rec := newRecorder(LevelAll)
	ctx := NewContext(context.Background(), NewMeter(rec, nil))

	Info(ctx, "from facade")

	logs := rec.all("log")
	require.Len(t, logs, 1)
	fn, _ := logs[0].tags.Get("function")
	assert.Contains(t, fn.AsString(), "TestFacadeCallerTagsPointAtCaller")
}

func TestEventIsRecordedOnSpan(t *testing.T) {
	rec := newRecorder(LevelAll)
	m := NewMeter(rec, nil).Start("op")

	m.Event("retry", Int("attempt", 2))

	events := m.Span().Events()
	require.Len(t, events, 1)
	assert.Equal(t, "retry", events[0].Name)
	assert.Len(t, rec.all("event"), 1)
}

func TestWithKeepsSpan(t *testing.T) {
	m := NewMeter(newRecorder(LevelAll), nil).Start("op")
	tagged := m.With(String("user", "u1"))

	assert.Same(t, m.Span(), tagged.Span())
	assert.True(t, tagged.Tags().Has("user"))
	assert.False(t, m.Tags().Has("user"))
}

func TestMeterDo(t *testing.T) {
	rec := newRecorder(LevelAll)
	m := NewMeter(rec, nil)
	failure := errors.New("division by zero")

	err := m.Do("divide", func(child *Meter) error {
		assert.Equal(t, "divide", child.Span().Name())
		return failure
	})
	assert.Same(t, failure, err)

	errs := rec.all("error")
	require.Len(t, errs, 1)
	assert.Equal(t, "Error during divide", errs[0].name)
	assert.Len(t, rec.all("finish"), 1)

	// Without a context of its own, a cancellation from the body is a failure.
	err = m.Do("cancelled", func(*Meter) error { return context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, rec.all("error"), 2)
	assert.Len(t, rec.all("finish"), 2)
}

func TestMeterDoPanic(t *testing.T) {
	rec := newRecorder(LevelAll)
	m := NewMeter(rec, nil)

	assert.PanicsWithValue(t, "kaboom", func() {
		_ = m.Do("explode", func(*Meter) error { panic("kaboom") })
	})
	assert.Len(t, rec.all("error"), 1)
	assert.Len(t, rec.all("finish"), 1)
}

func TestNilTargetIsNoop(t *testing.T) {
	m := NewMeter(nil, nil)
	child := m.Start("op")

	assert.NotNil(t, child.Span())
	assert.NoError(t, child.Finish())
	assert.NotPanics(t, func() {
		child.Info("x")
		child.Error("y", errors.New("z"))
		child.Magnitude("m", 1)
	})
}
