package meterz

import (
	"context"
	"sync"
)

// registerKeyType is a private type for context keys to avoid collisions.
type registerKeyType string

const (
	registerKey registerKeyType = "meterz"
)

// Register holds the current Meter of one logical unit of work, plus a stack
// of handles displaced by Push. Safe for concurrent use.
type Register struct {
	active *Meter
	stack  []*Meter
	mu     sync.Mutex
}

// NewRegister returns a register whose current handle is m. A nil m means a
// meter bound to a no-op target.
func NewRegister(m *Meter) *Register {
	if m == nil {
		m = NewMeter(nil, nil)
	}
	return &Register{active: m}
}

// Current returns the active meter.
func (r *Register) Current() *Meter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Swap installs m and returns the meter it replaced.
func (r *Register) Swap(m *Meter) *Meter {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.active
	r.active = m
	return old
}

// Push installs m, remembering the displaced meter for Pop.
func (r *Register) Push(m *Meter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stack = append(r.stack, r.active)
	r.active = m
}

// Pop restores the meter most recently displaced by Push and returns the
// meter it removes.
func (r *Register) Pop() (*Meter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.stack) == 0 {
		return nil, ErrRegisterEmpty
	}
	removed := r.active
	r.active = r.stack[len(r.stack)-1]
	r.stack = r.stack[:len(r.stack)-1]
	return removed, nil
}

// Depth returns the number of pending Pops.
func (r *Register) Depth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stack)
}

// reset drops every pushed handle and installs m.
func (r *Register) reset(m *Meter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = m
	r.stack = nil
}

var defaultRegister = NewRegister(nil)

// Default returns the process-wide register used by code whose context
// carries none.
func Default() *Register { return defaultRegister }

// NewContext returns a context carrying a fresh register whose current meter
// is m. Give every independent unit of work its own register.
func NewContext(ctx context.Context, m *Meter) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, registerKey, NewRegister(m))
}

// Fork returns a context with a new register seeded with the current meter.
// Call it before handing ctx to a new goroutine.
func Fork(ctx context.Context) context.Context {
	return NewContext(ctx, Active(ctx))
}

// RegisterFrom returns the register carried by ctx, if any.
func RegisterFrom(ctx context.Context) (*Register, bool) {
	if ctx == nil {
		return nil, false
	}
	r, ok := ctx.Value(registerKey).(*Register)
	return r, ok
}

// Active returns the current meter for ctx: the one in ctx's register, or
// the process default.
func Active(ctx context.Context) *Meter {
	if r, ok := RegisterFrom(ctx); ok {
		return r.Current()
	}
	return defaultRegister.Current()
}
