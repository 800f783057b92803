package meterz

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"go.uber.org/zap"
)

// Kwargs are the keyword arguments of a wrapped call. Depending on the
// wrapper's declared shape, some of them are consumed as tags.
type Kwargs map[string]any

// Func is the shape of a function that can be instrumented.
type Func[R any] func(ctx context.Context, kw Kwargs) (R, error)

type kwargsMode uint8

const (
	// The function takes no keyword arguments: every kwarg is a tag.
	kwargsNone kwargsMode = iota
	// The function takes an open-ended set: only declared names are tags.
	kwargsOpen
	// The function has fixed parameters: anything else is a tag.
	kwargsFixed
)

// wrapConfig is the static descriptor decided once at wrap time.
type wrapConfig struct {
	params  map[string]struct{}
	name    string
	dynamic []string
	static  Tags
	mode    kwargsMode
}

// Option configures an instrumented function.
type Option func(*wrapConfig)

// WithParams declares the function's named parameters. Kwargs not in the list
// become tags and are not forwarded.
func WithParams(names ...string) Option {
	return func(c *wrapConfig) {
		if c.mode == kwargsNone {
			c.mode = kwargsFixed
		}
		if c.params == nil {
			c.params = make(map[string]struct{}, len(names))
		}
		for _, n := range names {
			c.params[n] = struct{}{}
		}
	}
}

// WithOpenKwargs declares that the function accepts any keyword. Only names
// given to WithDynamicTags are taken as tags; the rest are forwarded.
func WithOpenKwargs() Option {
	return func(c *wrapConfig) { c.mode = kwargsOpen }
}

// WithDynamicTags declares the kwargs to take as tags for a function
// accepting an open-ended set of keywords.
func WithDynamicTags(names ...string) Option {
	return func(c *wrapConfig) { c.dynamic = append(c.dynamic, names...) }
}

// WithStaticTags attaches constant tags to every call.
func WithStaticTags(tags ...Tagger) Option {
	return func(c *wrapConfig) { c.static = c.static.Merge(tags...) }
}

// WithName overrides the span name.
func WithName(name string) Option {
	return func(c *wrapConfig) { c.name = name }
}

func newWrapConfig(name string, opts []Option) *wrapConfig {
	c := &wrapConfig{name: name}
	for _, opt := range opts {
		opt(c)
	}
	if len(c.dynamic) > 0 && c.mode != kwargsOpen {
		diag().Warn("dynamic tags are only needed for functions with open-ended kwargs",
			zap.String("function", c.name),
			zap.Strings("tags", c.dynamic),
		)
	}
	return c
}

// extract splits kw into span tags and the kwargs to forward. kw is not
// modified.
func (c *wrapConfig) extract(kw Kwargs) (Tags, Kwargs) {
	tags := c.static.Clone()
	forward := make(Kwargs, len(kw))

	switch c.mode {
	case kwargsNone:
		for _, k := range sortedKeys(kw) {
			tags.Set(k, Any(k, kw[k]).Value)
		}
		return tags, forward
	case kwargsOpen:
		for k, v := range kw {
			forward[k] = v
		}
		for _, name := range c.dynamic {
			if v, ok := kw[name]; ok {
				tags.Set(name, Any(name, v).Value)
				delete(forward, name)
			}
		}
		return tags, forward
	default:
		for _, k := range sortedKeys(kw) {
			if _, ok := c.params[k]; ok {
				forward[k] = kw[k]
				continue
			}
			tags.Set(k, Any(k, kw[k]).Value)
		}
		return tags, forward
	}
}

// Instrument wraps fn so every call runs in a child span of the caller's
// active meter. The body gets a context whose own register holds the child;
// the caller's register is never modified, so one ctx may be shared by
// concurrent calls. An error is reported once and returned unchanged, and
// the span is finished exactly once on every exit path.
func Instrument[R any](name string, fn Func[R], opts ...Option) Func[R] {
	cfg := newWrapConfig(name, opts)
	return func(ctx context.Context, kw Kwargs) (result R, err error) {
		if ctx == nil {
			ctx = context.Background()
		}
		tags, forward := cfg.extract(kw)
		child := Active(ctx).Start(cfg.name, tags)

		defer func() {
			if r := recover(); r != nil {
				child.Error(errorMessage(cfg.name), panicError(r))
				finishOnce(child)
				panic(r)
			}
			finishOnce(child)
		}()

		result, err = fn(NewContext(ctx, child), forward)
		if err != nil && !cancelledBy(ctx, err) {
			child.Error(errorMessage(cfg.name), err)
		}
		return result, err
	}
}

func sortedKeys(kw Kwargs) []string {
	return slices.Sorted(maps.Keys(kw))
}

func errorMessage(name string) string {
	return fmt.Sprintf("Error during %s", name)
}

// finishOnce finishes a span the wrapper owns. A failure here means the body
// finished the wrapper's span itself, which is reported rather than raised.
func finishOnce(m *Meter) {
	if err := m.Finish(); err != nil {
		diag().Warn("instrumented span finished by its body", zap.Error(err))
	}
}
