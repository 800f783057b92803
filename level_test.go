package meterz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLevelOrdering(t *testing.T) {
	assert.Less(t, int(LevelCritical), int(LevelError))
	assert.Less(t, int(LevelError), int(LevelWarning))
	assert.Less(t, int(LevelWarning), int(LevelInfo))
	assert.Less(t, int(LevelInfo), int(LevelDebug))
	assert.Less(t, int(LevelDebug), int(LevelAll))
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"nothing":  LevelNothing,
		"OFF":      LevelNothing,
		"critical": LevelCritical,
		"error":    LevelError,
		"Warn":     LevelWarning,
		"warning":  LevelWarning,
		" info ":   LevelInfo,
		"debug":    LevelDebug,
		"all":      LevelAll,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestLevelText(t *testing.T) {
	var cfg struct {
		A Level `yaml:"a"`
		B Level `yaml:"b"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("a: debug\nb: 35\n"), &cfg))
	assert.Equal(t, LevelDebug, cfg.A)
	assert.Equal(t, Level(35), cfg.B)
	assert.Equal(t, "level(35)", cfg.B.String())

	text, err := LevelInfo.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "info", string(text))
}

func TestDefaultLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	assert.Equal(t, LevelWarning, DefaultLevel())

	t.Setenv("LOG_LEVEL", "debug")
	assert.Equal(t, LevelDebug, DefaultLevel())

	t.Setenv("LOG_LEVEL", "garbage")
	assert.Equal(t, LevelWarning, DefaultLevel())
}

func TestLevelFromEnvReportsMalformedValue(t *testing.T) {
	t.Setenv("LOG_LEVEL", "loud")
	l, err := LevelFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LOG_LEVEL")
	assert.Equal(t, LevelWarning, l)

	t.Setenv("LOG_LEVEL", "")
	l, err = LevelFromEnv()
	require.NoError(t, err)
	assert.Equal(t, LevelWarning, l)
}

func TestBaseTargetThreshold(t *testing.T) {
	target := NewBaseTarget(LevelWarning)

	assert.True(t, target.AcceptsLogLevel(LevelCritical))
	assert.True(t, target.AcceptsLogLevel(LevelWarning))
	assert.False(t, target.AcceptsLogLevel(LevelInfo))
	assert.False(t, NewBaseTarget(LevelNothing).AcceptsLogLevel(LevelCritical))
}
