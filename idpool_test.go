package meterz

import (
	"runtime"
	"sync"
	"testing"
	"time"
)

// TestIDPoolBasicOperation tests basic ID pool functionality.
func TestIDPoolBasicOperation(t *testing.T) {
	want := SpanID{1, 2, 3, 4, 5, 6, 7, 8}
	pool := NewIDPool(10, func() SpanID { return want })
	defer pool.Close()

	if id := pool.Get(); id != want {
		t.Errorf("Expected %s, got %s", want, id)
	}
}

// TestIDPoolEmpty tests that an exhausted pool falls back to the factory.
func TestIDPoolEmpty(t *testing.T) {
	var callCount int
	var mu sync.Mutex
	factory := func() TraceID {
		mu.Lock()
		defer mu.Unlock()
		callCount++
		return TraceID{0xff}
	}

	// Very small pool that will be empty.
	pool := NewIDPool(1, factory)
	defer pool.Close()

	ids := make([]TraceID, 5)
	for i := range ids {
		ids[i] = pool.Get()
	}

	mu.Lock()
	finalCount := callCount
	mu.Unlock()
	if finalCount < 2 {
		t.Errorf("Expected factory to be called multiple times, got %d", finalCount)
	}

	for _, id := range ids {
		if id != (TraceID{0xff}) {
			t.Errorf("Expected factory id, got %s", id)
		}
	}
}

// TestIDPoolRandomIDsAreUnique draws from real random pools.
func TestIDPoolRandomIDsAreUnique(t *testing.T) {
	pool := NewIDPool(64, randomSpanID)
	defer pool.Close()

	seen := make(map[SpanID]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id := pool.Get()
				if id.IsZero() {
					t.Error("Pool returned the zero span id")
				}
				mu.Lock()
				if seen[id] {
					t.Errorf("Duplicate span id %s", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 500 {
		t.Errorf("Expected 500 distinct ids, got %d", len(seen))
	}
}

// TestIDPoolCleanShutdown tests that pools shut down cleanly.
func TestIDPoolCleanShutdown(t *testing.T) {
	pool := NewIDPool(10, randomTraceID)

	before := runtime.NumGoroutine()

	pool.Close()

	// Give time for cleanup.
	time.Sleep(10 * time.Millisecond)

	after := runtime.NumGoroutine()
	if after > before {
		t.Errorf("Goroutine leak detected: %d -> %d", before, after)
	}

	// Multiple closes should be safe, and Get still works.
	pool.Close()
	if pool.Get().IsZero() {
		t.Error("Expected a usable id after Close")
	}
}
