// Package zaplog bridges meterz logs and errors into a zap.Logger.
//
// Log entries carry the meter's tags as fields, plus the trace_id, parent_id,
// span_id and span_name of the active span when there is one.
package zaplog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/zoobzio/meterz"
)

// Target forwards logs and errors to zap. Spans and metrics are ignored.
type Target struct {
	*meterz.BaseTarget
	logger *zap.Logger
}

// New returns a target logging through logger at the given threshold.
// A nil logger means zap.NewNop().
func New(logger *zap.Logger, level meterz.Level) *Target {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Target{
		BaseTarget: meterz.NewBaseTarget(level),
		logger:     logger,
	}
}

// FromConfig builds a zap logger from the log section of cfg: console
// encoding in development, JSON otherwise.
func FromConfig(cfg meterz.Config) (*Target, error) {
	level := cfg.Level
	development := false
	if cfg.Log != nil {
		level = meterz.LevelOr(cfg.Log.Level, cfg.Level)
		development = cfg.Log.Development
	}

	zapCfg := zap.NewProductionConfig()
	if development {
		zapCfg = zap.NewDevelopmentConfig()
	}
	// meterz decides what is logged; zap writes everything it is given.
	zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	zapCfg.DisableCaller = true

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}
	return New(logger, level), nil
}

// Logger returns the underlying logger.
func (t *Target) Logger() *zap.Logger { return t.logger }

// Sync flushes buffered entries. Suitable as a meterz flush handler.
func (t *Target) Sync() {
	_ = t.logger.Sync()
}

// Log writes message at the zap level matching level.
func (t *Target) Log(level meterz.Level, message string, tags meterz.Tags, span *meterz.Span) {
	if ce := t.logger.Check(ZapLevel(level), message); ce != nil {
		ce.Write(fields(tags, span)...)
	}
}

// Error writes message at error level with the error attached.
func (t *Target) Error(message string, err error, tags meterz.Tags, span *meterz.Span) {
	if ce := t.logger.Check(zapcore.ErrorLevel, message); ce != nil {
		fs := fields(tags, span)
		if err != nil {
			fs = append(fs, zap.Error(err))
		}
		ce.Write(fs...)
	}
}

// ZapLevel maps a meterz level onto the closest zap level. Critical maps to
// error: zap's more severe levels panic or exit.
func ZapLevel(level meterz.Level) zapcore.Level {
	switch {
	case level <= meterz.LevelError:
		return zapcore.ErrorLevel
	case level <= meterz.LevelWarning:
		return zapcore.WarnLevel
	case level <= meterz.LevelInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

func fields(tags meterz.Tags, span *meterz.Span) []zap.Field {
	fs := make([]zap.Field, 0, tags.Len()+4)
	tags.Range(func(k string, v meterz.Value) bool {
		fs = append(fs, field(k, v))
		return true
	})
	if span != nil {
		fs = append(fs,
			zap.String("trace_id", span.TraceID().String()),
			zap.String("parent_id", parentID(span)),
			zap.String("span_id", span.ID().String()),
			zap.String("span_name", span.Name()),
		)
	}
	return fs
}

func parentID(span *meterz.Span) string {
	if span.IsRoot() {
		return ""
	}
	return span.ParentID().String()
}

func field(key string, v meterz.Value) zap.Field {
	switch v.Kind() {
	case meterz.KindInt:
		return zap.Int64(key, v.AsInt())
	case meterz.KindFloat:
		return zap.Float64(key, v.AsFloat())
	case meterz.KindBool:
		return zap.Bool(key, v.AsBool())
	default:
		// Strings as-is, bytes hex-encoded.
		return zap.String(key, v.Emit())
	}
}

var _ meterz.Target = (*Target)(nil)
