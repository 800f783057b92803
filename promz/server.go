package promz

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/zoobzio/meterz"
)

// ErrServerRunning is returned when Serve is called again with a different
// address.
var ErrServerRunning = errors.New("promz: metrics server already running")

// ShutdownTimeout bounds how long the flush handler waits for in-flight
// scrapes.
const ShutdownTimeout = 3 * time.Second

type server struct {
	srv   *http.Server
	addr  string
	bound string
	done  chan struct{}
	flush uint64
}

// Handler serves the target's registry in the Prometheus exposition format.
func (t *Target) Handler() http.Handler {
	return promhttp.HandlerFor(t.gatherer, promhttp.HandlerOpts{})
}

// Serve starts an HTTP server exposing /metrics on addr and registers a
// meterz flush handler that shuts it down. Serving the same address again is
// a no-op.
func (t *Target) Serve(addr string) error {
	t.srvMu.Lock()
	defer t.srvMu.Unlock()
	if t.server != nil {
		if t.server.addr != addr {
			return fmt.Errorf("%w on %s", ErrServerRunning, t.server.addr)
		}
		return nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", t.Handler())
	s := &server{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		addr:  addr,
		bound: ln.Addr().String(),
		done:  make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("promz: metrics server stopped", zap.String("addr", addr), zap.Error(err))
		}
	}()
	s.flush = meterz.AddFlushHandler(t.Close)
	t.server = s
	return nil
}

// Addr returns the address the metrics server is bound to, empty when not
// serving.
func (t *Target) Addr() string {
	t.srvMu.Lock()
	defer t.srvMu.Unlock()
	if t.server == nil {
		return ""
	}
	return t.server.bound
}

// Close stops the metrics server, waiting for in-flight scrapes up to
// ShutdownTimeout. It is a no-op when not serving.
func (t *Target) Close() {
	t.srvMu.Lock()
	s := t.server
	t.server = nil
	t.srvMu.Unlock()
	if s == nil {
		return
	}
	meterz.RemoveFlushHandler(s.flush)

	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		t.logger.Warn("promz: metrics server shutdown", zap.Error(err))
	}
	<-s.done
}

type portEnv struct {
	Port     *int `envconfig:"PROMETHEUS_PORT"`
	Fallback *int `envconfig:"METERZ_PROMETHEUS_PORT"`
}

// PortFromEnv reads PROMETHEUS_PORT, falling back to METERZ_PROMETHEUS_PORT.
// It reports false when neither is set; a set but malformed value is an
// error.
func PortFromEnv() (int, bool, error) {
	var env portEnv
	if err := envconfig.Process("", &env); err != nil {
		return 0, false, fmt.Errorf("promz: read port: %w", err)
	}
	port := env.Port
	if port == nil {
		port = env.Fallback
	}
	if port == nil {
		return 0, false, nil
	}
	if *port < 0 || *port > 65535 {
		return 0, false, fmt.Errorf("promz: port %d out of range", *port)
	}
	return *port, true, nil
}

// FromEnv returns a target serving on the port from PortFromEnv, or nil when
// no port is configured.
func FromEnv(level meterz.Level, opts ...Option) (*Target, error) {
	port, ok, err := PortFromEnv()
	if err != nil || !ok {
		return nil, err
	}
	t := New(level, opts...)
	if err := t.Serve(":" + strconv.Itoa(port)); err != nil {
		return nil, err
	}
	return t, nil
}
