package meterz

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterDefaultIsNoop(t *testing.T) {
	r := NewRegister(nil)
	m := r.Current()

	require.NotNil(t, m)
	assert.Nil(t, m.Span())
	_, ok := m.Target().(*BaseTarget)
	assert.True(t, ok)
}

func TestRegisterSwap(t *testing.T) {
	a := NewMeter(nil, nil)
	b := NewMeter(nil, nil)
	r := NewRegister(a)

	old := r.Swap(b)
	assert.Same(t, a, old)
	assert.Same(t, b, r.Current())
}

func TestRegisterPushPop(t *testing.T) {
	a := NewMeter(nil, nil)
	b := NewMeter(nil, nil)
	c := NewMeter(nil, nil)
	r := NewRegister(a)

	r.Push(b)
	r.Push(c)
	assert.Equal(t, 2, r.Depth())
	assert.Same(t, c, r.Current())

	removed, err := r.Pop()
	require.NoError(t, err)
	assert.Same(t, c, removed)
	assert.Same(t, b, r.Current())

	_, err = r.Pop()
	require.NoError(t, err)
	assert.Same(t, a, r.Current())

	_, err = r.Pop()
	assert.ErrorIs(t, err, ErrRegisterEmpty)
	assert.Same(t, a, r.Current())
}

func TestActiveFallsBackToDefault(t *testing.T) {
	rec := newRecorder(LevelAll)
	installed := Init(rec)
	defer Init(nil)

	assert.Same(t, installed, Active(context.Background()))

	own := NewMeter(rec, nil)
	ctx := NewContext(context.Background(), own)
	assert.Same(t, own, Active(ctx))
}

func TestForkIsolatesGoroutines(t *testing.T) {
	rec := newRecorder(LevelAll)
	ctx := NewContext(context.Background(), NewMeter(rec, nil))
	parent := Active(ctx)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			forked := Fork(ctx)
			reg, ok := RegisterFrom(forked)
			if !assert.True(t, ok) {
				return
			}
			reg.Swap(parent.Start("worker"))
			assert.Equal(t, "worker", Active(forked).Span().Name())
		}()
	}
	wg.Wait()

	assert.Same(t, parent, Active(ctx), "forked registers never touch the parent's")
}

func TestDoRestoresRegister(t *testing.T) {
	rec := newRecorder(LevelAll)
	base := NewMeter(rec, nil)
	ctx := NewContext(context.Background(), base)
	failure := errors.New("fail")

	err := Do(ctx, "outer", func(ctx context.Context) error {
		assert.Equal(t, "outer", Active(ctx).Span().Name())
		return Do(ctx, "inner", func(ctx context.Context) error {
			inner := Active(ctx).Span()
			assert.Equal(t, "inner", inner.Name())
			return failure
		})
	})
	assert.Same(t, failure, err)
	assert.Same(t, base, Active(ctx))

	reg, _ := RegisterFrom(ctx)
	assert.Equal(t, 0, reg.Depth())

	errs := rec.all("error")
	require.Len(t, errs, 2, "each scope reports the error it saw")
	assert.Equal(t, "Error during inner", errs[0].name)
	assert.Equal(t, "Error during outer", errs[1].name)

	finishes := rec.all("finish")
	require.Len(t, finishes, 2)
	assert.Equal(t, finishes[1].span.ID(), finishes[0].span.ParentID())
}

func TestDoSharedContextAcrossGoroutines(t *testing.T) {
	rec := newRecorder(LevelAll)
	base := NewMeter(rec, nil).Start("request")
	ctx := NewContext(context.Background(), base)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = Do(ctx, "worker", func(ctx context.Context) error {
				return Do(ctx, "step", func(context.Context) error { return nil })
			})
		}()
	}
	wg.Wait()

	assert.Same(t, base, Active(ctx))

	workers := make(map[SpanID]bool)
	finishes := rec.all("finish")
	require.Len(t, finishes, 100)
	for _, f := range finishes {
		if f.span.Name() == "worker" {
			assert.Equal(t, base.Span().ID(), f.span.ParentID())
			workers[f.span.ID()] = true
		}
	}
	for _, f := range finishes {
		if f.span.Name() == "step" {
			assert.True(t, workers[f.span.ParentID()], "step parented to a worker")
		}
	}
	assert.Len(t, workers, 50)
}

func TestDoRestoresRegisterOnPanic(t *testing.T) {
	rec := newRecorder(LevelAll)
	base := NewMeter(rec, nil)
	ctx := NewContext(context.Background(), base)

	assert.Panics(t, func() {
		_ = Do(ctx, "explode", func(context.Context) error { panic("boom") })
	})
	assert.Same(t, base, Active(ctx))
	assert.Len(t, rec.all("finish"), 1)
}

func TestStartContext(t *testing.T) {
	rec := newRecorder(LevelAll)
	ctx := NewContext(context.Background(), NewMeter(rec, nil).Start("parent"))

	childCtx, child := StartContext(ctx, "child")
	assert.Same(t, child, Active(childCtx))
	assert.Equal(t, "parent", Active(ctx).Span().Name())
	assert.Equal(t, Active(ctx).Span().ID(), child.Span().ParentID())

	require.NoError(t, Finish(childCtx))
	assert.Len(t, rec.all("finish"), 1)
}
