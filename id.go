package meterz

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	mrand "math/rand/v2"
	"runtime"
	"sync"
	"sync/atomic"
)

// TraceID identifies every span in one logical trace.
type TraceID [16]byte

// SpanID identifies a single span.
type SpanID [8]byte

// IsZero reports whether the id is the reserved "absent" value.
func (t TraceID) IsZero() bool { return t == TraceID{} }

// String returns the id as 32 lowercase hex characters.
func (t TraceID) String() string { return hex.EncodeToString(t[:]) }

// IsZero reports whether the id is the reserved "absent" value.
func (s SpanID) IsZero() bool { return s == SpanID{} }

// String returns the id as 16 lowercase hex characters.
func (s SpanID) String() string { return hex.EncodeToString(s[:]) }

// ParseTraceID decodes a 32 character hex trace id.
func ParseTraceID(s string) (TraceID, error) {
	var id TraceID
	if err := decodeID(id[:], s); err != nil {
		return TraceID{}, fmt.Errorf("parse trace id: %w", err)
	}
	return id, nil
}

// ParseSpanID decodes a 16 character hex span id.
func ParseSpanID(s string) (SpanID, error) {
	var id SpanID
	if err := decodeID(id[:], s); err != nil {
		return SpanID{}, fmt.Errorf("parse span id: %w", err)
	}
	return id, nil
}

func decodeID(dst []byte, s string) error {
	if len(s) != hex.EncodedLen(len(dst)) {
		return fmt.Errorf("want %d hex characters, got %d", hex.EncodedLen(len(dst)), len(s))
	}
	_, err := hex.Decode(dst, []byte(s))
	return err
}

// IDGenerator produces trace and span identifiers.
// Implementations must never return the zero value.
type IDGenerator interface {
	NewTraceID() TraceID
	NewSpanID() SpanID
}

// RandomGenerator draws ids from crypto/rand through background pools.
type RandomGenerator struct {
	traceIDPool *IDPool[TraceID]
	spanIDPool  *IDPool[SpanID]
	once        sync.Once
}

// ensureIDPools initializes ID pools if not already created.
func (g *RandomGenerator) ensureIDPools() {
	g.once.Do(func() {
		// Pool size based on number of CPUs for optimal contention balance.
		poolSize := runtime.NumCPU() * 100
		g.traceIDPool = NewIDPool(poolSize, randomTraceID)
		g.spanIDPool = NewIDPool(poolSize, randomSpanID)
	})
}

// NewTraceID returns a random, non-zero trace id.
func (g *RandomGenerator) NewTraceID() TraceID {
	g.ensureIDPools()
	return g.traceIDPool.Get()
}

// NewSpanID returns a random, non-zero span id.
func (g *RandomGenerator) NewSpanID() SpanID {
	g.ensureIDPools()
	return g.spanIDPool.Get()
}

// Close stops the background pools.
func (g *RandomGenerator) Close() {
	g.ensureIDPools()
	g.traceIDPool.Close()
	g.spanIDPool.Close()
}

func randomTraceID() TraceID {
	var id TraceID
	for id.IsZero() {
		fillRandom(id[:])
	}
	return id
}

func randomSpanID() SpanID {
	var id SpanID
	for id.IsZero() {
		fillRandom(id[:])
	}
	return id
}

func fillRandom(b []byte) {
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms; fall back anyway.
		for i := range b {
			b[i] = byte(mrand.Uint32())
		}
	}
}

// SeededGenerator produces a reproducible id sequence for a given seed.
// Safe for concurrent use.
type SeededGenerator struct {
	rng *mrand.Rand
	mu  sync.Mutex
}

// NewSeededGenerator returns a deterministic generator.
func NewSeededGenerator(seed uint64) *SeededGenerator {
	return &SeededGenerator{rng: mrand.New(mrand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (g *SeededGenerator) fill(b []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range b {
		b[i] = byte(g.rng.Uint32())
	}
}

// NewTraceID returns the next trace id in the sequence.
func (g *SeededGenerator) NewTraceID() TraceID {
	var id TraceID
	for id.IsZero() {
		g.fill(id[:])
	}
	return id
}

// NewSpanID returns the next span id in the sequence.
func (g *SeededGenerator) NewSpanID() SpanID {
	var id SpanID
	for id.IsZero() {
		g.fill(id[:])
	}
	return id
}

var (
	randomGenerator  = &RandomGenerator{}
	defaultGenerator atomic.Pointer[IDGenerator]
)

// DefaultGenerator returns the generator used by targets that were not given one.
func DefaultGenerator() IDGenerator {
	if g := defaultGenerator.Load(); g != nil {
		return *g
	}
	return randomGenerator
}

// SetDefaultGenerator replaces the package generator. Nil restores the
// random generator.
func SetDefaultGenerator(g IDGenerator) {
	if g == nil {
		defaultGenerator.Store(nil)
		return
	}
	defaultGenerator.Store(&g)
}
