package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}

	if cfg.Clock.TickDuration() != 200*time.Millisecond {
		t.Errorf("expected 200ms tick, got %v", cfg.Clock.TickDuration())
	}
	if cfg.Clock.TickSeconds() != 0.2 {
		t.Errorf("expected 0.2s tick, got %v", cfg.Clock.TickSeconds())
	}
	if cfg.Clock.TicksPerDay != 10 {
		t.Errorf("expected 10 ticks per day, got %d", cfg.Clock.TicksPerDay)
	}
	if cfg.Economy.PriceMultiplier != 1.15 {
		t.Errorf("expected multiplier 1.15, got %v", cfg.Economy.PriceMultiplier)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("missing config file must not be an error: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("expected default listen addr, got %s", cfg.ListenAddr)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
listen_addr: ":9090"
economy:
  base_field_price: 25
  storage_cap: 100
clock:
  ticks_per_day: 20
`)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("expected overridden listen addr, got %s", cfg.ListenAddr)
	}
	if cfg.Economy.BaseFieldPrice != 25 {
		t.Errorf("expected overridden base price 25, got %v", cfg.Economy.BaseFieldPrice)
	}
	if cfg.Clock.TicksPerDay != 20 {
		t.Errorf("expected overridden ticks per day 20, got %d", cfg.Clock.TicksPerDay)
	}
	// Untouched keys keep their defaults.
	if cfg.Economy.PriceMultiplier != 1.15 {
		t.Errorf("expected default multiplier preserved, got %v", cfg.Economy.PriceMultiplier)
	}
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("listen_addr: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error for invalid YAML")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero tick duration", func(c *Config) { c.Clock.TickDurationMS = 0 }},
		{"negative ticks per day", func(c *Config) { c.Clock.TicksPerDay = -1 }},
		{"zero frame interval", func(c *Config) { c.Clock.FrameIntervalMS = 0 }},
		{"multiplier at 1", func(c *Config) { c.Economy.PriceMultiplier = 1.0 }},
		{"zero base price", func(c *Config) { c.Economy.BaseFieldPrice = 0 }},
		{"zero storage cap", func(c *Config) { c.Economy.StorageCap = 0 }},
		{"unknown rounding", func(c *Config) { c.Economy.PriceRounding = "banker" }},
	}

	for _, tc := range cases {
		cfg := Default()
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}
