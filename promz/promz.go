// Package promz records meterz magnitudes and counts as Prometheus metrics.
//
// Metrics are created on first use. A magnitude creates a gauge and a count
// creates a counter; the label names are the tag keys of that first call.
// Later calls with a different tag key set cannot be expressed in the same
// vector and are dropped with a warning. Collectors registered up front with
// AddMetric take precedence, which is how histograms and summaries are used.
package promz

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/zoobzio/meterz"
)

// Help is the help text of automatically created metrics.
const Help = "meterz automatic metric"

// ErrUnsupportedMetric is returned by AddMetric for collectors other than
// gauge, counter, histogram and summary vectors.
var ErrUnsupportedMetric = errors.New("promz: unsupported metric type")

// metricVec is one of the vector types promz knows how to update.
type metricVec struct {
	gauge    *prometheus.GaugeVec
	counter  *prometheus.CounterVec
	observer prometheus.ObserverVec
}

// Target maps meterz metrics onto Prometheus vectors. Safe for concurrent use.
//
//nolint:govet // Field order optimized for readability
type Target struct {
	*meterz.BaseTarget
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
	namespace  string
	logger     *zap.Logger

	metrics map[string]*metricVec
	mu      sync.Mutex

	durations       *prometheus.HistogramVec
	durationBuckets []float64

	server *server
	srvMu  sync.Mutex
}

// Option configures a Target.
type Option func(*Target)

// WithRegistry sets where metrics are registered and gathered from. The
// default is the Prometheus default registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(t *Target) {
		t.registerer = reg
		t.gatherer = reg
	}
}

// WithNamespace prefixes every metric name.
func WithNamespace(ns string) Option {
	return func(t *Target) { t.namespace = ns }
}

// WithLogger sets where dropped measurements are reported.
func WithLogger(l *zap.Logger) Option {
	return func(t *Target) { t.logger = l }
}

// WithSpanDurations records every finished span in a
// span_duration_seconds histogram labelled by span name.
func WithSpanDurations(buckets []float64) Option {
	return func(t *Target) {
		if buckets == nil {
			buckets = prometheus.DefBuckets
		}
		t.durationBuckets = buckets
	}
}

// New returns a target with the given log threshold. Logs are not exported.
func New(level meterz.Level, opts ...Option) *Target {
	t := &Target{
		BaseTarget: meterz.NewBaseTarget(level),
		registerer: prometheus.DefaultRegisterer,
		gatherer:   prometheus.DefaultGatherer,
		logger:     zap.NewNop(),
		metrics:    make(map[string]*metricVec),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.durationBuckets != nil {
		durations, err := register(t.registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: t.namespace,
			Name:      "span_duration_seconds",
			Help:      "Duration of finished meterz spans",
			Buckets:   t.durationBuckets,
		}, []string{"span"}))
		if err != nil {
			t.logger.Warn("promz: span duration histogram unavailable", zap.Error(err))
		}
		t.durations = durations
	}
	return t
}

// FromConfig builds a target from the prometheus section of cfg and, when an
// address is configured, starts serving /metrics on it.
func FromConfig(cfg meterz.Config, opts ...Option) (*Target, error) {
	if cfg.Prometheus == nil {
		return New(cfg.Level, opts...), nil
	}
	opts = append([]Option{WithNamespace(cfg.Prometheus.Namespace)}, opts...)
	t := New(cfg.Level, opts...)
	if cfg.Prometheus.Addr != "" {
		if err := t.Serve(cfg.Prometheus.Addr); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Gatherer returns the registry metrics are gathered from.
func (t *Target) Gatherer() prometheus.Gatherer { return t.gatherer }

// AddMetric registers a collector under name ahead of its first use. The
// collector must be a *GaugeVec, *CounterVec, *HistogramVec or *SummaryVec
// whose label names match the tag keys it will be used with. Histograms and
// summaries observe both magnitudes and counts.
func (t *Target) AddMetric(name string, c prometheus.Collector) error {
	var v metricVec
	switch c := c.(type) {
	case *prometheus.GaugeVec:
		v.gauge = c
	case *prometheus.CounterVec:
		v.counter = c
	case *prometheus.HistogramVec:
		v.observer = c
	case *prometheus.SummaryVec:
		v.observer = c
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedMetric, c)
	}
	if err := t.registerer.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return fmt.Errorf("register %s: %w", name, err)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics[name] = &v
	return nil
}

// Finish observes the span duration when WithSpanDurations is set.
func (t *Target) Finish(_ meterz.Tags, span *meterz.Span) {
	if t.durations == nil {
		return
	}
	t.durations.WithLabelValues(span.Name()).Observe(span.Duration().Seconds())
}

// Magnitude sets a gauge, or observes a histogram or summary.
func (t *Target) Magnitude(name string, value float64, tags meterz.Tags, _ *meterz.Span) {
	v, labels, ok := t.lookup(name, tags, kindGauge)
	if !ok {
		return
	}
	switch {
	case v.gauge != nil:
		if g, err := v.gauge.GetMetricWith(labels); t.ok(name, err) {
			g.Set(value)
		}
	case v.observer != nil:
		if o, err := v.observer.GetMetricWith(labels); t.ok(name, err) {
			o.Observe(value)
		}
	default:
		t.logger.Warn("promz: magnitude recorded on a counter", zap.String("metric", name))
	}
}

// Count adds to a counter or gauge, or observes a histogram or summary.
func (t *Target) Count(name string, value int64, tags meterz.Tags, _ *meterz.Span) {
	v, labels, ok := t.lookup(name, tags, kindCounter)
	if !ok {
		return
	}
	switch {
	case v.counter != nil:
		if value < 0 {
			t.logger.Warn("promz: negative count dropped", zap.String("metric", name), zap.Int64("value", value))
			return
		}
		if c, err := v.counter.GetMetricWith(labels); t.ok(name, err) {
			c.Add(float64(value))
		}
	case v.gauge != nil:
		if g, err := v.gauge.GetMetricWith(labels); t.ok(name, err) {
			g.Add(float64(value))
		}
	case v.observer != nil:
		if o, err := v.observer.GetMetricWith(labels); t.ok(name, err) {
			o.Observe(float64(value))
		}
	}
}

func (t *Target) ok(name string, err error) bool {
	if err != nil {
		t.logger.Warn("promz: measurement dropped", zap.String("metric", name), zap.Error(err))
		return false
	}
	return true
}

type vecKind int

const (
	kindGauge vecKind = iota
	kindCounter
)

// lookup returns the vector for name, creating one of kind with the tag keys
// as label names when it does not exist yet.
func (t *Target) lookup(name string, tags meterz.Tags, kind vecKind) (*metricVec, prometheus.Labels, bool) {
	labels := Labels(tags)

	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.metrics[name]; ok {
		return v, labels, true
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	v := &metricVec{}
	var err error
	switch kind {
	case kindGauge:
		v.gauge, err = register(t.registerer, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: t.namespace,
			Name:      SanitizeName(name),
			Help:      Help,
		}, keys))
	case kindCounter:
		v.counter, err = register(t.registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: t.namespace,
			Name:      SanitizeName(name),
			Help:      Help,
		}, keys))
	}
	if err != nil {
		t.logger.Warn("promz: metric unavailable", zap.String("metric", name), zap.Error(err))
		return nil, nil, false
	}
	t.metrics[name] = v
	return v, labels, true
}

// register registers c, reusing an identical collector that is already
// registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, err
	}
	return c, nil
}

// Labels converts tags into Prometheus labels. Keys are sanitized and values
// rendered as text.
func Labels(tags meterz.Tags) prometheus.Labels {
	labels := make(prometheus.Labels, tags.Len())
	tags.Range(func(k string, v meterz.Value) bool {
		labels[SanitizeLabel(k)] = v.Emit()
		return true
	})
	return labels
}

// SanitizeName replaces every character not allowed in a Prometheus metric
// name with an underscore.
func SanitizeName(name string) string {
	return sanitize(name, true)
}

// SanitizeLabel replaces every character not allowed in a Prometheus label
// name with an underscore.
func SanitizeLabel(name string) string {
	return sanitize(name, false)
}

func sanitize(name string, colon bool) string {
	if name == "" {
		return "_"
	}
	var b strings.Builder
	b.Grow(len(name))
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r == ':' && colon:
			b.WriteRune(r)
		case r >= '0' && r <= '9' && i > 0:
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

var _ meterz.Target = (*Target)(nil)
