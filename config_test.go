package meterz

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
level: info
seed: 12
tags:
  team: core
  env: prod
print:
  level: debug
  path: /tmp/meterz.log
log:
  development: true
otlp:
  endpoint: localhost:4317
  service_name: checkout
  insecure: true
prometheus:
  namespace: shop
  addr: ":9100"
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, LevelInfo, cfg.Level)
	assert.Equal(t, uint64(12), cfg.Seed)

	require.NotNil(t, cfg.Print)
	assert.Equal(t, LevelDebug, LevelOr(cfg.Print.Level, cfg.Level))
	assert.Equal(t, "/tmp/meterz.log", cfg.Print.Path)

	require.NotNil(t, cfg.Log)
	assert.True(t, cfg.Log.Development)
	assert.Equal(t, LevelInfo, LevelOr(cfg.Log.Level, cfg.Level))

	require.NotNil(t, cfg.OTLP)
	assert.Equal(t, "localhost:4317", cfg.OTLP.Endpoint)
	assert.Equal(t, "checkout", cfg.OTLP.ServiceName)
	assert.True(t, cfg.OTLP.Insecure)

	require.NotNil(t, cfg.Prometheus)
	assert.Equal(t, "shop", cfg.Prometheus.Namespace)

	assert.Equal(t, []string{"env", "team"}, cfg.TagSet().Keys())

	a, b := cfg.Generator(), cfg.Generator()
	assert.Equal(t, a.NewTraceID(), b.NewTraceID(), "seeded generators repeat")
}

func TestParseConfigDefaults(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	cfg, err := ParseConfig([]byte("{}"))
	require.NoError(t, err)
	assert.Equal(t, LevelWarning, cfg.Level)
	assert.Nil(t, cfg.OTLP)
	assert.Same(t, DefaultGenerator(), cfg.Generator())
}

func TestParseConfigErrors(t *testing.T) {
	_, err := ParseConfig([]byte("level: loud"))
	assert.Error(t, err)

	_, err = ParseConfig([]byte("tags: [not, a, map]"))
	assert.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meterz.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "checkout", cfg.OTLP.ServiceName)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("METERZ_LEVEL", "debug")
	t.Setenv("METERZ_SEED", "99")
	t.Setenv("METERZ_TAG_REGION", "eu-west-1")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, LevelDebug, cfg.Level)
	assert.Equal(t, uint64(99), cfg.Seed)
	assert.Equal(t, "eu-west-1", cfg.Tags["region"])
	assert.Equal(t, "go", cfg.Tags["process.runtime.name"])
}

func TestConfigFromEnvFallsBackToLogLevel(t *testing.T) {
	t.Setenv("METERZ_LEVEL", "")
	t.Setenv("METERZ_SEED", "7")
	t.Setenv("LOG_LEVEL", "error")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, LevelError, cfg.Level)
}

func TestConfigFromEnvRejectsMalformedValues(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("METERZ_LEVEL", "chatty")
	_, err := ConfigFromEnv()
	assert.Error(t, err)

	t.Setenv("METERZ_LEVEL", "info")
	t.Setenv("METERZ_SEED", "minus-one")
	_, err = ConfigFromEnv()
	assert.Error(t, err)
}
