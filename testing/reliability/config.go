// Package reliability holds long-running stability tests for meterz. They are
// skipped unless METERZ_RELIABILITY_LEVEL is "basic" or "stress".
package reliability

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// ReliabilityConfig holds configuration for reliability testing.
type ReliabilityConfig struct {
	Level            string        `envconfig:"LEVEL"`                           // "basic" or "stress"
	Duration         time.Duration `envconfig:"DURATION" default:"30s"`          // Sustained pressure length
	MaxGoroutines    int           `envconfig:"MAX_GOROUTINES" default:"100"`    // Ingestion goroutine cap
	FailureThreshold float64       `envconfig:"FAILURE_THRESHOLD" default:"0.5"` // Tolerated fan-out loss (0.0-1.0)
}

// getReliabilityConfig reads METERZ_RELIABILITY_* variables. Malformed values
// fall back to the defaults.
func getReliabilityConfig() ReliabilityConfig {
	var cfg ReliabilityConfig
	if err := envconfig.Process("meterz_reliability", &cfg); err != nil {
		return ReliabilityConfig{
			Level:            cfg.Level,
			Duration:         30 * time.Second,
			MaxGoroutines:    100,
			FailureThreshold: 0.5,
		}
	}
	return cfg
}
