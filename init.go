package meterz

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
)

// TagEnvPrefix marks environment variables that become process tags.
const TagEnvPrefix = "METERZ_TAG_"

// Init installs a meter bound to target, with no active span, as the current
// meter of the process default register.
func Init(target Target, tags ...Tagger) *Meter {
	m := NewMeter(target, nil, tags...)
	defaultRegister.reset(m)
	return m
}

// FlushHandler is run by Flush, typically to drain an adapter before exit.
type FlushHandler func()

type flushEntry struct {
	fn FlushHandler
	id uint64
}

var (
	flushMu       sync.Mutex
	flushHandlers []flushEntry
	flushNextID   atomic.Uint64
)

// AddFlushHandler registers fn to run on Flush and returns its id.
func AddFlushHandler(fn FlushHandler) uint64 {
	if fn == nil {
		return 0
	}
	id := flushNextID.Add(1)

	flushMu.Lock()
	defer flushMu.Unlock()
	flushHandlers = append(flushHandlers, flushEntry{fn: fn, id: id})
	return id
}

// RemoveFlushHandler removes a handler by id.
func RemoveFlushHandler(id uint64) {
	flushMu.Lock()
	defer flushMu.Unlock()

	// Preserve order
	for i, h := range flushHandlers {
		if h.id == id {
			copy(flushHandlers[i:], flushHandlers[i+1:])
			flushHandlers = flushHandlers[:len(flushHandlers)-1]
			return
		}
	}
}

// RemoveAllFlushHandlers forgets every handler.
func RemoveAllFlushHandlers() {
	flushMu.Lock()
	defer flushMu.Unlock()
	flushHandlers = nil
}

// Flush runs the handlers in reverse registration order. A panicking handler
// is logged and the rest still run.
func Flush() {
	flushMu.Lock()
	handlers := make([]flushEntry, len(flushHandlers))
	copy(handlers, flushHandlers)
	flushMu.Unlock()

	for i := len(handlers) - 1; i >= 0; i-- {
		safeFlush(handlers[i])
	}
}

func safeFlush(h flushEntry) {
	defer func() {
		if r := recover(); r != nil {
			diag().Error("flush handler panicked",
				zap.Uint64("handler", h.id),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	h.fn()
}

var instanceID = uuid.NewString()

type hostEnv struct {
	Name string `envconfig:"HOSTNAME"`
}

// EnvTags describes the running process: host name, runtime, OS and
// architecture, a per-process instance id, and every METERZ_TAG_FOO_BAR
// variable as tag foo.bar.
func EnvTags() Tags {
	var tags Tags
	var host hostEnv
	if err := envconfig.Process("", &host); err == nil && host.Name != "" {
		tags.Set("host.name", StringValue(host.Name))
	}
	for _, kv := range os.Environ() {
		key, val, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, TagEnvPrefix) {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(key, TagEnvPrefix))
		name = strings.ReplaceAll(name, "_", ".")
		if name == "" {
			continue
		}
		tags.Set(name, StringValue(val))
	}
	tags.Set("process.runtime.name", StringValue("go"))
	tags.Set("process.runtime.version", StringValue(runtime.Version()))
	tags.Set("os.type", StringValue(runtime.GOOS))
	tags.Set("host.arch", StringValue(runtime.GOARCH))
	tags.Set("service.instance.id", StringValue(instanceID))
	return tags
}
