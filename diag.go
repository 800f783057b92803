package meterz

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var diagLogger atomic.Pointer[zap.Logger]

// SetDiagnosticLogger sets where the core reports its own problems: target
// panics, flush handler panics and decorator misuse. Nil silences them.
func SetDiagnosticLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	diagLogger.Store(l)
}

func diag() *zap.Logger {
	if l := diagLogger.Load(); l != nil {
		return l
	}
	return zap.NewNop()
}
