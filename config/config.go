package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigError reports an invalid parameter at load time. The process
// refuses to start the copy engine on a ConfigError.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// CopyConfig controls the filter pipeline and execution scheduling.
type CopyConfig struct {
	WatchedTraders      []string `yaml:"watched_traders"`
	MinAmountToCopy     float64  `yaml:"min_amount_to_copy"`
	MaxAmountToCopy     float64  `yaml:"max_amount_to_copy"`
	CopyPercentage      float64  `yaml:"copy_percentage"`
	MinCopyDelaySec     int      `yaml:"min_copy_delay"`
	MaxCopyDelaySec     int      `yaml:"max_copy_delay"`
	BlacklistedMarkets  []string `yaml:"blacklisted_markets"`
	WhitelistOnly       bool     `yaml:"whitelist_only"`
	WhitelistedMarkets  []string `yaml:"whitelisted_markets"`
	CopyBuys            bool     `yaml:"copy_buys"`
	CopySells           bool     `yaml:"copy_sells"`
	MaxPositionsPerMkt  int      `yaml:"max_positions_per_market"`
	MaxDailyTrades      int      `yaml:"max_daily_trades"`
	MaxDailyAmount      float64  `yaml:"max_daily_amount"`
	AutoClosePositions  bool     `yaml:"auto_close_positions"`
	TradingActive       bool     `yaml:"trading_active"`
	PollingIntervalSec  int      `yaml:"polling_interval"`
	RealtimeFeedEnabled bool     `yaml:"realtime_feed_enabled"`
}

// AnalyticsConfig controls discovery-driven watch-list updates.
type AnalyticsConfig struct {
	Enabled             bool    `yaml:"enabled"`
	MinWinRate          float64 `yaml:"min_win_rate"`
	MinPNL              float64 `yaml:"min_pnl"`
	AutoUpdateTraders   bool    `yaml:"auto_update_traders"`
	MaxAutoTraders      int     `yaml:"max_auto_traders"`
	UpdateIntervalHours int     `yaml:"update_interval_hours"`
}

// ServerConfig controls the reporting HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// DataConfig selects and configures the statistics store.
type DataConfig struct {
	Backend string `yaml:"backend"` // "sqlite" or "postgres"
	DBPath  string `yaml:"db_path"` // sqlite only
}

// Config aggregates all configuration knobs.
type Config struct {
	Copy      CopyConfig      `yaml:"copy"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Server    ServerConfig    `yaml:"server"`
	Data      DataConfig      `yaml:"data"`
}

// Load reads configuration from disk, falling back to defaults when the
// file is absent. The file is unmarshalled over Default(), so keys it
// omits keep their defaults while keys it sets win, explicit zeros
// included. Environment variable COPY_TRADER_ACTIVE overrides
// copy.trading_active either way.
func Load(path string) (*Config, error) {
	cfg := Default()

	configPath := path
	if configPath == "" {
		configPath = filepath.Join("config", "copy_trader.yaml")
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: unable to read %s: %w", configPath, err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: unable to parse %s: %w", configPath, err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns baseline configuration values.
func Default() Config {
	return Config{
		Copy: CopyConfig{
			MinAmountToCopy:    50,
			MaxAmountToCopy:    500,
			CopyPercentage:     0.1,
			MinCopyDelaySec:    30,
			MaxCopyDelaySec:    300,
			CopyBuys:           true,
			CopySells:          true,
			MaxPositionsPerMkt: 3,
			MaxDailyTrades:     10,
			MaxDailyAmount:     1000,
			AutoClosePositions: true,
			TradingActive:      false,
			PollingIntervalSec: 60,
		},
		Analytics: AnalyticsConfig{
			Enabled:             true,
			MinWinRate:          0.7,
			MinPNL:              50000,
			AutoUpdateTraders:   false,
			MaxAutoTraders:      5,
			UpdateIntervalHours: 24,
		},
		Server: ServerConfig{Port: 8081},
		Data: DataConfig{
			Backend: "sqlite",
			DBPath:  "data/copy_trader.db",
		},
	}
}

func (c *Config) applyEnvOverrides() {
	switch strings.ToLower(os.Getenv("COPY_TRADER_ACTIVE")) {
	case "true", "1", "yes":
		c.Copy.TradingActive = true
	case "false", "0", "no":
		c.Copy.TradingActive = false
	}
}

// Validate checks parameter ranges. Any violation is a *ConfigError.
func (c *Config) Validate() error {
	cp := c.Copy
	if cp.MinAmountToCopy < 0 {
		return &ConfigError{"copy.min_amount_to_copy", "must be >= 0"}
	}
	if cp.MaxAmountToCopy < cp.MinAmountToCopy {
		return &ConfigError{"copy.max_amount_to_copy", "must be >= min_amount_to_copy"}
	}
	if cp.CopyPercentage <= 0 || cp.CopyPercentage > 1 {
		return &ConfigError{"copy.copy_percentage", "must be in (0, 1]"}
	}
	if cp.MinCopyDelaySec < 0 {
		return &ConfigError{"copy.min_copy_delay", "must be >= 0"}
	}
	if cp.MaxCopyDelaySec < cp.MinCopyDelaySec {
		return &ConfigError{"copy.max_copy_delay", "must be >= min_copy_delay"}
	}
	if cp.MaxPositionsPerMkt < 0 {
		return &ConfigError{"copy.max_positions_per_market", "must be >= 0"}
	}
	if cp.MaxDailyTrades < 0 {
		return &ConfigError{"copy.max_daily_trades", "must be >= 0"}
	}
	if cp.MaxDailyAmount < 0 {
		return &ConfigError{"copy.max_daily_amount", "must be >= 0"}
	}
	if cp.PollingIntervalSec <= 0 {
		return &ConfigError{"copy.polling_interval", "must be > 0"}
	}
	if c.Analytics.MinWinRate < 0 || c.Analytics.MinWinRate > 1 {
		return &ConfigError{"analytics.min_win_rate", "must be in [0, 1]"}
	}
	switch c.Data.Backend {
	case "sqlite", "postgres":
	default:
		return &ConfigError{"data.backend", "must be sqlite or postgres"}
	}
	return nil
}
