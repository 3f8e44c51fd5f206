package logging

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/agentloop/internal/config"
	"go.uber.org/zap/zapcore"
)

// TraceLevel is a custom level below Debug for prompt and payload dumps.
const TraceLevel = zapcore.Level(-2)

// Config holds logging configuration.
type Config struct {
	Level    zapcore.Level     `koanf:"level"`
	Format   string            `koanf:"format"`
	Output   string            `koanf:"output"`
	Sampling SamplingConfig    `koanf:"sampling"`
	Caller   bool              `koanf:"caller"`
	Fields   map[string]string `koanf:"fields"`
}

// SamplingConfig controls log volume reduction below Error.
type SamplingConfig struct {
	Enabled    bool            `koanf:"enabled"`
	Tick       config.Duration `koanf:"tick"`
	Initial    int             `koanf:"initial"`
	Thereafter int             `koanf:"thereafter"`
}

// NewDefaultConfig returns config with production defaults.
// Output goes to stderr so command output on stdout stays machine readable.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Format: "json",
		Output: "stderr",
		Sampling: SamplingConfig{
			Enabled:    true,
			Tick:       config.Duration(time.Second),
			Initial:    100,
			Thereafter: 10,
		},
		Caller: true,
		Fields: map[string]string{
			"service": "agentloop",
		},
	}
}

// FromSettings builds a logging config from the loaded application config.
func FromSettings(s config.LoggingConfig) (*Config, error) {
	cfg := NewDefaultConfig()
	if s.Level != "" {
		lvl, err := LevelFromString(s.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", s.Level, err)
		}
		cfg.Level = lvl
	}
	if s.Format != "" {
		cfg.Format = s.Format
	}
	if s.Output != "" {
		cfg.Output = s.Output
	}
	return cfg, cfg.Validate()
}

// LevelFromString parses a level name, accepting "trace".
func LevelFromString(level string) (zapcore.Level, error) {
	if level == "trace" {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be 'json' or 'console', got %q", c.Format)
	}
	if c.Output != "stdout" && c.Output != "stderr" {
		return fmt.Errorf("output must be 'stdout' or 'stderr', got %q", c.Output)
	}
	if c.Sampling.Enabled && c.Sampling.Tick.Duration() <= 0 {
		return fmt.Errorf("sampling tick must be > 0 when sampling enabled")
	}
	for k, v := range c.Fields {
		if k == "" {
			return fmt.Errorf("field key cannot be empty")
		}
		if v == "" {
			return fmt.Errorf("field %q has empty value", k)
		}
	}
	return nil
}
