// Package config loads the server and economy tuning from a YAML file.
// Missing values fall back to defaults so a bare server can run with no file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EconomyConfig holds the per-participant economy tuning values.
type EconomyConfig struct {
	BaseRatePerSecond     float64 `yaml:"base_rate_per_second"`
	PerFieldRatePerSecond float64 `yaml:"per_field_rate_per_second"`
	BaseFieldPrice        float64 `yaml:"base_field_price"`
	PriceMultiplier       float64 `yaml:"price_multiplier"`
	StorageCap            float64 `yaml:"storage_cap"`
	PriceRounding         string  `yaml:"price_rounding"` // "round", "ceil" or "none"
}

// ClockConfig holds the simulated-time parameters.
type ClockConfig struct {
	TickDurationMS  int  `yaml:"tick_duration_ms"`
	TicksPerDay     int  `yaml:"ticks_per_day"`
	FrameIntervalMS int  `yaml:"frame_interval_ms"`
	AutoBuyFields   bool `yaml:"auto_buy_fields"`
}

// Config is the root server configuration.
type Config struct {
	ListenAddr string        `yaml:"listen_addr"`
	DBPath     string        `yaml:"db_path"`
	Economy    EconomyConfig `yaml:"economy"`
	Clock      ClockConfig   `yaml:"clock"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddr: ":8080",
		DBPath:     "meadow.db",
		Economy: EconomyConfig{
			BaseRatePerSecond:     1.0,
			PerFieldRatePerSecond: 0.125,
			BaseFieldPrice:        10,
			PriceMultiplier:       1.15,
			StorageCap:            5000,
			PriceRounding:         "round",
		},
		Clock: ClockConfig{
			TickDurationMS:  200,
			TicksPerDay:     10,
			FrameIntervalMS: 50,
			AutoBuyFields:   false,
		},
	}
}

// Load reads the YAML file at path over the defaults. A missing file is not
// an error; an unreadable or invalid one is.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the invariants the engine relies on.
func (c *Config) Validate() error {
	if c.Clock.TickDurationMS <= 0 {
		return fmt.Errorf("tick_duration_ms must be positive, got %d", c.Clock.TickDurationMS)
	}
	if c.Clock.TicksPerDay <= 0 {
		return fmt.Errorf("ticks_per_day must be positive, got %d", c.Clock.TicksPerDay)
	}
	if c.Clock.FrameIntervalMS <= 0 {
		return fmt.Errorf("frame_interval_ms must be positive, got %d", c.Clock.FrameIntervalMS)
	}
	if c.Economy.PriceMultiplier <= 1 {
		return fmt.Errorf("price_multiplier must be greater than 1, got %g", c.Economy.PriceMultiplier)
	}
	if c.Economy.BaseFieldPrice <= 0 {
		return fmt.Errorf("base_field_price must be positive, got %g", c.Economy.BaseFieldPrice)
	}
	if c.Economy.StorageCap <= 0 {
		return fmt.Errorf("storage_cap must be positive, got %g", c.Economy.StorageCap)
	}
	switch c.Economy.PriceRounding {
	case "round", "ceil", "none":
	default:
		return fmt.Errorf("price_rounding must be round, ceil or none, got %q", c.Economy.PriceRounding)
	}
	return nil
}

// TickDuration returns the tick length as a time.Duration.
func (c *ClockConfig) TickDuration() time.Duration {
	return time.Duration(c.TickDurationMS) * time.Millisecond
}

// TickSeconds returns the tick length in seconds.
func (c *ClockConfig) TickSeconds() float64 {
	return float64(c.TickDurationMS) / 1000.0
}

// FrameInterval returns the real-time pump interval.
func (c *ClockConfig) FrameInterval() time.Duration {
	return time.Duration(c.FrameIntervalMS) * time.Millisecond
}
