package otelz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.uber.org/zap"

	"github.com/zoobzio/meterz"
)

// ErrNoEndpoint is returned when the configuration has no OTLP endpoint.
var ErrNoEndpoint = errors.New("otelz: no OTLP endpoint configured")

// FlushTimeout bounds the shutdown performed by FlushHandler.
const FlushTimeout = 5 * time.Second

// FromConfig builds a target exporting spans over OTLP/gRPC to the endpoint
// in the otlp section of cfg. The connection is established lazily.
func FromConfig(ctx context.Context, cfg meterz.Config, opts ...Option) (*Target, error) {
	if cfg.OTLP == nil || cfg.OTLP.Endpoint == "" {
		return nil, ErrNoEndpoint
	}

	clientOpts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.OTLP.Endpoint),
	}
	if cfg.OTLP.Insecure {
		clientOpts = append(clientOpts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	level := meterz.LevelOr(cfg.OTLP.Level, cfg.Level)
	opts = append([]Option{WithResource(Resource(cfg.OTLP.ServiceName)), WithIDs(cfg.Generator())}, opts...)
	return New(exporter, level, opts...), nil
}

// FlushHandler returns a meterz flush handler that shuts the target down.
func (t *Target) FlushHandler() meterz.FlushHandler {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), FlushTimeout)
		defer cancel()
		if err := t.Shutdown(ctx); err != nil {
			t.logger.Warn("otelz: shutdown failed", zap.Error(err))
		}
	}
}
