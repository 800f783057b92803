package meterz

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
)

// Level is a log severity threshold. Lower values are more severe.
type Level int

// Log levels, ordered from most to least severe.
const (
	LevelNothing  Level = 0
	LevelCritical Level = 10
	LevelError    Level = 20
	LevelWarning  Level = 30
	LevelInfo     Level = 40
	LevelDebug    Level = 50
	LevelAll      Level = 100
)

func (l Level) String() string {
	switch l {
	case LevelNothing:
		return "nothing"
	case LevelCritical:
		return "critical"
	case LevelError:
		return "error"
	case LevelWarning:
		return "warning"
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "debug"
	case LevelAll:
		return "all"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel converts a symbolic level name, case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nothing", "off", "none":
		return LevelNothing, nil
	case "critical", "fatal":
		return LevelCritical, nil
	case "error":
		return LevelError, nil
	case "warning", "warn":
		return LevelWarning, nil
	case "info":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	case "all":
		return LevelAll, nil
	}
	return LevelNothing, fmt.Errorf("unknown log level %q", s)
}

// UnmarshalText lets levels be read from configuration files and the
// environment. Empty text leaves l unchanged.
func (l *Level) UnmarshalText(text []byte) error {
	if strings.TrimSpace(string(text)) == "" {
		return nil
	}
	if n, err := strconv.Atoi(string(text)); err == nil {
		*l = Level(n)
		return nil
	}
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// MarshalText renders the symbolic name.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

type levelEnv struct {
	Level Level `envconfig:"LOG_LEVEL"`
}

// LevelFromEnv reads LOG_LEVEL, defaulting to LevelWarning.
func LevelFromEnv() (Level, error) {
	env := levelEnv{Level: LevelWarning}
	if err := envconfig.Process("", &env); err != nil {
		return LevelWarning, fmt.Errorf("read log level: %w", err)
	}
	return env.Level, nil
}

// DefaultLevel is LevelWarning unless LOG_LEVEL names another level. A
// malformed LOG_LEVEL is reported to the diagnostic logger.
func DefaultLevel() Level {
	l, err := LevelFromEnv()
	if err != nil {
		diag().Warn("ignoring LOG_LEVEL", zap.Error(err))
	}
	return l
}
