package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWhenFileAbsent(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Copy.MinAmountToCopy != 50 || cfg.Copy.MaxAmountToCopy != 500 {
		t.Errorf("amount bounds = %.0f/%.0f", cfg.Copy.MinAmountToCopy, cfg.Copy.MaxAmountToCopy)
	}
	if cfg.Copy.CopyPercentage != 0.1 {
		t.Errorf("copy percentage = %v", cfg.Copy.CopyPercentage)
	}
	if cfg.Copy.MinCopyDelaySec != 30 || cfg.Copy.MaxCopyDelaySec != 300 {
		t.Errorf("delay bounds = %d/%d", cfg.Copy.MinCopyDelaySec, cfg.Copy.MaxCopyDelaySec)
	}
	if cfg.Copy.TradingActive {
		t.Error("trading active by default")
	}
	if cfg.Data.Backend != "sqlite" {
		t.Errorf("backend = %q", cfg.Data.Backend)
	}
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "copy_trader.yaml")
	data := []byte(`
copy:
  watched_traders: ["0xabc"]
  min_amount_to_copy: 25
  max_amount_to_copy: 250
  copy_percentage: 0.2
  blacklisted_markets: ["market-x"]
  copy_buys: true
  copy_sells: false
server:
  port: 9000
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Copy.WatchedTraders) != 1 || cfg.Copy.WatchedTraders[0] != "0xabc" {
		t.Errorf("watched = %v", cfg.Copy.WatchedTraders)
	}
	if cfg.Copy.MinAmountToCopy != 25 || cfg.Copy.CopyPercentage != 0.2 {
		t.Errorf("overrides not applied: %+v", cfg.Copy)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	// Absent keys fall back to defaults.
	if cfg.Copy.MaxDailyTrades != 10 {
		t.Errorf("max daily trades = %d, want default 10", cfg.Copy.MaxDailyTrades)
	}
}

func TestLoadKeepsExplicitZeros(t *testing.T) {
	path := filepath.Join(t.TempDir(), "copy_trader.yaml")
	data := []byte(`
copy:
  min_amount_to_copy: 0
  min_copy_delay: 0
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Copy.MinAmountToCopy != 0 {
		t.Errorf("min amount = %.0f, want explicit 0", cfg.Copy.MinAmountToCopy)
	}
	if cfg.Copy.MinCopyDelaySec != 0 {
		t.Errorf("min delay = %d, want explicit 0", cfg.Copy.MinCopyDelaySec)
	}
	// Absent keys still default.
	if cfg.Copy.MaxCopyDelaySec != 300 {
		t.Errorf("max delay = %d, want default 300", cfg.Copy.MaxCopyDelaySec)
	}
}

func TestEnvOverridesTradingActive(t *testing.T) {
	t.Setenv("COPY_TRADER_ACTIVE", "true")
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Copy.TradingActive {
		t.Error("env override did not enable trading")
	}

	t.Setenv("COPY_TRADER_ACTIVE", "false")
	cfg, err = Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Copy.TradingActive {
		t.Error("env override did not disable trading")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{"valid", func(c *Config) {}, ""},
		{"max below min", func(c *Config) { c.Copy.MaxAmountToCopy = 10 }, "copy.max_amount_to_copy"},
		{"percentage zero", func(c *Config) { c.Copy.CopyPercentage = 0 }, "copy.copy_percentage"},
		{"percentage above one", func(c *Config) { c.Copy.CopyPercentage = 1.5 }, "copy.copy_percentage"},
		{"max delay below min", func(c *Config) { c.Copy.MinCopyDelaySec = 100; c.Copy.MaxCopyDelaySec = 50 }, "copy.max_copy_delay"},
		{"negative daily trades", func(c *Config) { c.Copy.MaxDailyTrades = -1 }, "copy.max_daily_trades"},
		{"negative daily amount", func(c *Config) { c.Copy.MaxDailyAmount = -5 }, "copy.max_daily_amount"},
		{"zero polling interval", func(c *Config) { c.Copy.PollingIntervalSec = 0 }, "copy.polling_interval"},
		{"unknown backend", func(c *Config) { c.Data.Backend = "mysql" }, "data.backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()

			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}

			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("error = %v, want *ConfigError", err)
			}
			if cfgErr.Field != tt.wantField {
				t.Errorf("field = %q, want %q", cfgErr.Field, tt.wantField)
			}
		})
	}
}
