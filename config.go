package meterz

import (
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds settings shared by the core and its adapters. Adapter
// sections are plain data; each adapter package reads its own.
type Config struct {
	Tags       map[string]string `yaml:"tags,omitempty"`
	Print      *PrintConfig      `yaml:"print,omitempty"`
	Log        *LogConfig        `yaml:"log,omitempty"`
	OTLP       *OTLPConfig       `yaml:"otlp,omitempty"`
	Prometheus *PrometheusConfig `yaml:"prometheus,omitempty"`
	Level      Level             `yaml:"level"`
	Seed       uint64            `yaml:"seed,omitempty"`
}

// PrintConfig configures the printer target.
type PrintConfig struct {
	Level *Level `yaml:"level,omitempty"`
	Path  string `yaml:"path,omitempty"`
}

// LogConfig configures the zap bridge.
type LogConfig struct {
	Level       *Level `yaml:"level,omitempty"`
	Development bool   `yaml:"development,omitempty"`
}

// OTLPConfig configures the OpenTelemetry target.
type OTLPConfig struct {
	Level       *Level `yaml:"level,omitempty"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name,omitempty"`
	Insecure    bool   `yaml:"insecure,omitempty"`
}

// PrometheusConfig configures the Prometheus target.
type PrometheusConfig struct {
	Namespace string `yaml:"namespace,omitempty"`
	Addr      string `yaml:"addr,omitempty"`
}

// DefaultConfig returns the configuration used when nothing is specified.
func DefaultConfig() Config {
	return Config{Level: DefaultLevel()}
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML configuration. Unset fields keep their defaults.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// envConfig is the part of Config read from METERZ_ variables.
type envConfig struct {
	Level Level  `envconfig:"LEVEL"`
	Seed  uint64 `envconfig:"SEED"`
}

// ConfigFromEnv reads METERZ_LEVEL (falling back to LOG_LEVEL), METERZ_SEED
// and the METERZ_TAG_ variables. Malformed values are errors.
func ConfigFromEnv() (Config, error) {
	base, err := LevelFromEnv()
	if err != nil {
		return Config{}, err
	}
	env := envConfig{Level: base}
	if err := envconfig.Process("meterz", &env); err != nil {
		return Config{}, fmt.Errorf("read config from environment: %w", err)
	}
	cfg := Config{Level: env.Level, Seed: env.Seed}

	tags := EnvTags()
	if tags.Len() > 0 {
		cfg.Tags = make(map[string]string, tags.Len())
		tags.Range(func(k string, v Value) bool {
			cfg.Tags[k] = v.Emit()
			return true
		})
	}
	return cfg, nil
}

// TagSet returns the configured tags, sorted by key for stable output.
func (c Config) TagSet() Tags {
	var tags Tags
	for _, k := range sortedStringKeys(c.Tags) {
		tags.Set(k, StringValue(c.Tags[k]))
	}
	return tags
}

func sortedStringKeys(m map[string]string) []string {
	return slices.Sorted(maps.Keys(m))
}

// Generator returns a seeded generator when a seed is configured, otherwise
// the package default.
func (c Config) Generator() IDGenerator {
	if c.Seed != 0 {
		return NewSeededGenerator(c.Seed)
	}
	return DefaultGenerator()
}

// LevelOr returns *l, or fallback when l is nil.
func LevelOr(l *Level, fallback Level) Level {
	if l == nil {
		return fallback
	}
	return *l
}
