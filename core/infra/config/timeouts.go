package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// OperationTimeout bounds one upstream call for a given operation.
type OperationTimeout struct {
	TimeoutSeconds int64 `yaml:"timeout_seconds"`
}

// TimeoutsConfig maps operation names to their upstream request timeouts.
// Generation operations run tens of seconds to minutes; metadata lookups are
// sub-second, so a single global timeout would either starve or stall.
type TimeoutsConfig struct {
	Operations map[string]OperationTimeout `yaml:"operations"`
	DefaultSec int64                       `yaml:"default_seconds"`
}

// LoadTimeouts loads a YAML timeouts file; returns defaults if missing.
func LoadTimeouts(path string) (*TimeoutsConfig, error) {
	if path == "" {
		return defaultTimeouts(), nil
	}
	// #nosec G304 -- timeouts config path is operator-provided.
	data, err := os.ReadFile(path)
	if err != nil {
		return defaultTimeouts(), fmt.Errorf("read timeouts config: %w", err)
	}
	return ParseTimeouts(data)
}

// ParseTimeouts parses timeouts config data from YAML bytes, filling
// unspecified operations with defaults.
func ParseTimeouts(data []byte) (*TimeoutsConfig, error) {
	if len(data) == 0 {
		return defaultTimeouts(), nil
	}
	var cfg TimeoutsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return defaultTimeouts(), fmt.Errorf("parse timeouts config: %w", err)
	}
	def := defaultTimeouts()
	if cfg.Operations == nil {
		cfg.Operations = map[string]OperationTimeout{}
	}
	for op, t := range def.Operations {
		if _, ok := cfg.Operations[op]; !ok {
			cfg.Operations[op] = t
		}
	}
	if cfg.DefaultSec <= 0 {
		cfg.DefaultSec = def.DefaultSec
	}
	return &cfg, nil
}

// For returns the request timeout for an operation.
func (c *TimeoutsConfig) For(operation string) time.Duration {
	if c != nil {
		if t, ok := c.Operations[operation]; ok && t.TimeoutSeconds > 0 {
			return time.Duration(t.TimeoutSeconds) * time.Second
		}
		if c.DefaultSec > 0 {
			return time.Duration(c.DefaultSec) * time.Second
		}
	}
	return time.Duration(defaultTimeouts().DefaultSec) * time.Second
}

func defaultTimeouts() *TimeoutsConfig {
	return &TimeoutsConfig{
		Operations: map[string]OperationTimeout{
			"txt2img":     {TimeoutSeconds: 600},
			"img2img":     {TimeoutSeconds: 600},
			"interrogate": {TimeoutSeconds: 120},
			"download":    {TimeoutSeconds: 600},
			"sync":        {TimeoutSeconds: 120},
		},
		DefaultSec: 30,
	}
}
