// Package integration exercises meterz end to end: the context facade, the
// decorators and the collector working together the way an application uses
// them.
package integration

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/meterz"
)

// MockCollector wraps a real collector with test utilities.
// Provides synchronous collection and verification helpers.
//
//nolint:govet // Field alignment optimized for test helper readability
type MockCollector struct {
	exported []meterz.SpanRecord
	*meterz.Collector
	t  *testing.T
	mu sync.Mutex
}

// NewMockCollector creates a synchronous collector with reproducible ids.
func NewMockCollector(t *testing.T, name string, bufferSize int) *MockCollector {
	collector := meterz.NewCollector(name, bufferSize).WithIDs(meterz.NewSeededGenerator(42))
	collector.SetSyncMode(true)
	t.Cleanup(collector.Close)
	return &MockCollector{
		Collector: collector,
		t:         t,
		exported:  make([]meterz.SpanRecord, 0),
	}
}

// Context returns a context whose register holds a root meter bound to the
// collector.
func (m *MockCollector) Context(tags ...meterz.Tagger) context.Context {
	return meterz.NewContext(context.Background(), meterz.NewMeter(m.Collector, nil, tags...))
}

// Export returns collected spans and clears the buffer.
func (m *MockCollector) Export() []meterz.SpanRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	spans := m.Collector.Export()
	m.exported = append(m.exported, spans...)
	return spans
}

// GetAll returns every span collected so far without clearing.
func (m *MockCollector) GetAll() []meterz.SpanRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.Collector.Export()
	if len(current) > 0 {
		m.exported = append(m.exported, current...)
	}

	all := make([]meterz.SpanRecord, len(m.exported))
	copy(all, m.exported)
	return all
}

// AssertSpanCount verifies exact span count.
func (m *MockCollector) AssertSpanCount(expected int) {
	spans := m.GetAll()
	if len(spans) != expected {
		m.t.Errorf("Expected %d spans, got %d", expected, len(spans))
	}
}

// AssertSpanNamed checks if a span with given name exists.
func (m *MockCollector) AssertSpanNamed(name string) *meterz.SpanRecord {
	spans := m.GetAll()
	for i := range spans {
		if spans[i].Name == name {
			return &spans[i]
		}
	}
	m.t.Errorf("Span named '%s' not found", name)
	return nil
}

// AssertParentChild verifies parent-child relationship.
func (m *MockCollector) AssertParentChild(parentName, childName string) {
	spans := m.GetAll()
	var parent, child *meterz.SpanRecord

	for i := range spans {
		if spans[i].Name == parentName {
			parent = &spans[i]
		}
		if spans[i].Name == childName {
			child = &spans[i]
		}
	}

	if parent == nil {
		m.t.Errorf("Parent span '%s' not found", parentName)
		return
	}
	if child == nil {
		m.t.Errorf("Child span '%s' not found", childName)
		return
	}

	if child.ParentID != parent.SpanID {
		m.t.Errorf("Parent-child relationship broken: %s is not parent of %s. Child ParentID=%s, Parent SpanID=%s",
			parentName, childName, child.ParentID, parent.SpanID)
	}
	if child.TraceID != parent.TraceID {
		m.t.Errorf("Trace ID mismatch: parent=%s, child=%s", parent.TraceID, child.TraceID)
	}
}

// SpanTree represents a hierarchical view of spans.
type SpanTree struct {
	Span     meterz.SpanRecord
	Children []*SpanTree
}

// BuildSpanTree constructs a tree from flat span list.
func BuildSpanTree(spans []meterz.SpanRecord) []*SpanTree {
	nodeMap := make(map[string]*SpanTree)
	roots := make([]*SpanTree, 0)

	for i := range spans {
		nodeMap[spans[i].SpanID] = &SpanTree{
			Span:     spans[i],
			Children: make([]*SpanTree, 0),
		}
	}

	for i := range spans {
		span := spans[i]
		node := nodeMap[span.SpanID]
		if span.ParentID == "" {
			roots = append(roots, node)
		} else if parent, exists := nodeMap[span.ParentID]; exists {
			parent.Children = append(parent.Children, node)
		}
	}

	return roots
}

// PrintSpanTree formats span tree for debugging.
func PrintSpanTree(trees []*SpanTree) string {
	var sb strings.Builder
	for _, tree := range trees {
		printTreeNode(&sb, tree, 0)
	}
	return sb.String()
}

func printTreeNode(sb *strings.Builder, node *SpanTree, depth int) {
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(sb, "%s%s (%.2fms)\n",
		indent, node.Span.Name, node.Span.Duration.Seconds()*1000)
	for _, child := range node.Children {
		printTreeNode(sb, child, depth+1)
	}
}

// MockService simulates a downstream dependency. Each call runs inside its
// own span under the caller's active meter.
type MockService struct {
	rng          *rand.Rand
	name         string
	latency      time.Duration
	mu           sync.Mutex
	requestCount int
	failureRate  float32
}

// NewMockService creates a simulated service with a fixed random seed.
func NewMockService(name string) *MockService {
	return &MockService{
		name:    name,
		latency: time.Millisecond,
		rng:     rand.New(rand.NewPCG(1, 2)),
	}
}

// SetLatency configures response time.
func (m *MockService) SetLatency(d time.Duration) {
	m.mu.Lock()
	m.latency = d
	m.mu.Unlock()
}

// SetFailureRate configures error probability (0.0-1.0).
func (m *MockService) SetFailureRate(rate float32) {
	m.mu.Lock()
	m.failureRate = rate
	m.mu.Unlock()
}

// Calls returns the number of calls served.
func (m *MockService) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCount
}

// Call simulates a service call. Failures are reported on the call's span.
func (m *MockService) Call(ctx context.Context, operation string) error {
	m.mu.Lock()
	m.requestCount++
	count := m.requestCount
	latency := m.latency
	shouldFail := m.rng.Float32() < m.failureRate
	m.mu.Unlock()

	return meterz.Do(ctx, fmt.Sprintf("%s.%s", m.name, operation), func(ctx context.Context) error {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return ctx.Err()
		}
		if shouldFail {
			return fmt.Errorf("%s: simulated failure", m.name)
		}
		meterz.Count(ctx, "requests", 1)
		return nil
	}, meterz.String("service", m.name), meterz.String("operation", operation), meterz.Int("request_id", count))
}

// SpanMatcher provides fluent assertions for spans.
type SpanMatcher struct {
	t    *testing.T
	span *meterz.SpanRecord
}

// NewSpanMatcher creates a matcher for span assertions.
func NewSpanMatcher(t *testing.T, span *meterz.SpanRecord) *SpanMatcher {
	return &SpanMatcher{t: t, span: span}
}

// HasTag verifies tag exists with value.
func (m *SpanMatcher) HasTag(key string, value any) *SpanMatcher {
	if m.span == nil {
		return m
	}
	if actual, exists := m.span.Tags[key]; !exists {
		m.t.Errorf("Span %s missing tag '%s'", m.span.Name, key)
	} else if actual != value {
		m.t.Errorf("Span %s tag '%s': expected '%v', got '%v'",
			m.span.Name, key, value, actual)
	}
	return m
}

// HasParent verifies parent relationship.
func (m *SpanMatcher) HasParent(parentID string) *SpanMatcher {
	if m.span == nil {
		return m
	}
	if m.span.ParentID != parentID {
		m.t.Errorf("Span %s wrong parent: expected %s, got %s",
			m.span.Name, parentID, m.span.ParentID)
	}
	return m
}

// HasError verifies the span recorded an error containing substr.
func (m *SpanMatcher) HasError(substr string) *SpanMatcher {
	if m.span == nil {
		return m
	}
	if !strings.Contains(m.span.Error, substr) {
		m.t.Errorf("Span %s error %q does not contain %q", m.span.Name, m.span.Error, substr)
	}
	return m
}

// DurationBetween verifies duration is in range.
func (m *SpanMatcher) DurationBetween(minDur, maxDur time.Duration) *SpanMatcher {
	if m.span == nil {
		return m
	}
	if m.span.Duration < minDur || m.span.Duration > maxDur {
		m.t.Errorf("Span %s duration %v not in range [%v, %v]",
			m.span.Name, m.span.Duration, minDur, maxDur)
	}
	return m
}

// TraceAnalyzer provides trace-level assertions.
type TraceAnalyzer struct {
	byID   map[string]meterz.SpanRecord
	byName map[string][]meterz.SpanRecord
	spans  []meterz.SpanRecord
	trees  []*SpanTree
}

// NewTraceAnalyzer creates an analyzer for a set of spans.
func NewTraceAnalyzer(spans []meterz.SpanRecord) *TraceAnalyzer {
	a := &TraceAnalyzer{
		spans:  spans,
		byID:   make(map[string]meterz.SpanRecord),
		byName: make(map[string][]meterz.SpanRecord),
	}

	for i := range spans {
		span := spans[i]
		a.byID[span.SpanID] = span
		a.byName[span.Name] = append(a.byName[span.Name], span)
	}

	a.trees = BuildSpanTree(spans)
	return a
}

// GetSpan retrieves span by ID.
func (a *TraceAnalyzer) GetSpan(spanID string) (meterz.SpanRecord, bool) {
	span, exists := a.byID[spanID]
	return span, exists
}

// GetSpansByName retrieves all spans with given name.
func (a *TraceAnalyzer) GetSpansByName(name string) []meterz.SpanRecord {
	return a.byName[name]
}

// CountSpans returns total span count.
func (a *TraceAnalyzer) CountSpans() int {
	return len(a.spans)
}

// CountTrees returns number of root spans.
func (a *TraceAnalyzer) CountTrees() int {
	return len(a.trees)
}

// VerifyChain checks if spans form a valid parent-child chain.
func (a *TraceAnalyzer) VerifyChain(names ...string) error {
	if len(names) < 2 {
		return fmt.Errorf("chain requires at least 2 spans")
	}

	var prev *meterz.SpanRecord
	for i, name := range names {
		spans := a.GetSpansByName(name)
		if len(spans) == 0 {
			return fmt.Errorf("span '%s' not found", name)
		}

		// For simplicity, use first match.
		span := spans[0]
		if prev != nil && span.ParentID != prev.SpanID {
			return fmt.Errorf("broken chain: %s is not child of %s", name, names[i-1])
		}
		prev = &span
	}

	return nil
}

// GetCriticalPath returns the longest duration path through the trace.
func (a *TraceAnalyzer) GetCriticalPath() []meterz.SpanRecord {
	var maxPath []meterz.SpanRecord
	var maxDuration time.Duration

	for _, tree := range a.trees {
		path := a.findLongestPath(tree)
		if d := pathDuration(path); d > maxDuration || maxPath == nil {
			maxDuration = d
			maxPath = path
		}
	}

	return maxPath
}

func (a *TraceAnalyzer) findLongestPath(node *SpanTree) []meterz.SpanRecord {
	path := []meterz.SpanRecord{node.Span}

	var longest []meterz.SpanRecord
	var longestDuration time.Duration
	for _, child := range node.Children {
		childPath := a.findLongestPath(child)
		if d := pathDuration(childPath); d > longestDuration || longest == nil {
			longestDuration = d
			longest = childPath
		}
	}

	return append(path, longest...)
}

func pathDuration(path []meterz.SpanRecord) time.Duration {
	var total time.Duration
	for i := range path {
		total += path[i].Duration
	}
	return total
}
