package meterz

import (
	"sync"
)

// call is one method invocation seen by a recorder.
type call struct {
	err    error
	span   *Span
	tags   Tags
	method string
	name   string
	value  float64
	level  Level
}

// recorder is a Target that remembers every call, for assertions.
type recorder struct {
	*BaseTarget
	calls []call
	mu    sync.Mutex
}

func newRecorder(threshold Level) *recorder {
	return &recorder{BaseTarget: NewBaseTarget(threshold).WithIDs(NewSeededGenerator(7))}
}

func (r *recorder) add(c call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

func (r *recorder) Start(trace TraceID, parent, id SpanID, name string) *Span {
	span := r.BaseTarget.Start(trace, parent, id, name)
	r.add(call{method: "start", name: name, span: span})
	return span
}

func (r *recorder) Finish(tags Tags, span *Span) {
	r.add(call{method: "finish", name: span.Name(), tags: tags, span: span})
}

func (r *recorder) Event(name string, tags Tags, span *Span) {
	r.add(call{method: "event", name: name, tags: tags, span: span})
}

func (r *recorder) Log(level Level, message string, tags Tags, span *Span) {
	r.add(call{method: "log", name: message, level: level, tags: tags, span: span})
}

func (r *recorder) Error(message string, err error, tags Tags, span *Span) {
	r.add(call{method: "error", name: message, err: err, tags: tags, span: span})
}

func (r *recorder) Magnitude(name string, value float64, tags Tags, span *Span) {
	r.add(call{method: "magnitude", name: name, value: value, tags: tags, span: span})
}

func (r *recorder) Count(name string, value int64, tags Tags, span *Span) {
	r.add(call{method: "count", name: name, value: float64(value), tags: tags, span: span})
}

// all returns the recorded calls for method, or every call when method is "".
func (r *recorder) all(method string) []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []call
	for _, c := range r.calls {
		if method == "" || c.method == method {
			out = append(out, c)
		}
	}
	return out
}

func (r *recorder) methods() []string {
	var out []string
	for _, c := range r.all("") {
		out = append(out, c.method)
	}
	return out
}

var _ Target = (*recorder)(nil)
