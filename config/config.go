// Package config loads engine configuration from a YAML file plus
// credentials from environment variables. Credentials never live in the
// config file.
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"
)

// Config holds all application configuration.
type Config struct {
	Symbols    []string `yaml:"symbols"`
	Timeframe  string   `yaml:"timeframe"`   // exchange interval, e.g. "4h"
	OHLCVLimit int      `yaml:"ohlcv_limit"` // candles fetched per tick

	// PollBufferSeconds delays each tick past the candle close so the
	// exchange has finalized the bar.
	PollBufferSeconds int `yaml:"poll_buffer_seconds"`

	LogLevel string `yaml:"log_level"`

	Risk struct {
		RiskPerTrade           float64 `yaml:"risk_per_trade"`
		DailyLossLimitPct      float64 `yaml:"daily_loss_limit_pct"`
		MaxConcurrentPositions int     `yaml:"max_concurrent_positions"`
	} `yaml:"risk"`

	Strategy struct {
		StopBufferPct      float64 `yaml:"stop_buffer_pct"`
		RewardRisk         float64 `yaml:"reward_risk"`
		MACDFast           int     `yaml:"macd_fast"`
		MACDSlow           int     `yaml:"macd_slow"`
		MACDSignal         int     `yaml:"macd_signal"`
		RequireRecentCross bool    `yaml:"require_recent_cross"`
		CrossLookback      int     `yaml:"cross_lookback"`
	} `yaml:"strategy"`

	Detector struct {
		MaxActiveGaps int `yaml:"max_active_gaps"`
		MaxGapAgeBars int `yaml:"max_gap_age_bars"`
	} `yaml:"detector"`

	PaperTrading    bool    `yaml:"paper_trading"`
	StartingBalance float64 `yaml:"starting_balance"`
	SlippageBps     float64 `yaml:"slippage_bps"`

	StatePath   string `yaml:"state_path"`
	RedisAddr   string `yaml:"redis_addr"` // empty disables the event stream
	MetricsAddr string `yaml:"metrics_addr"`
}

// Credentials are exchange API keys, loaded from the environment only.
type Credentials struct {
	APIKey    string
	APISecret string

	RedisPassword string
}

// Load reads and validates the YAML config file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{
		Timeframe:         "4h",
		OHLCVLimit:        200,
		PollBufferSeconds: 30,
		LogLevel:          "info",
		PaperTrading:      true,
		StartingBalance:   10000,
		StatePath:         "data/state.db",
		MetricsAddr:       ":9090",
	}
	cfg.Risk.RiskPerTrade = 0.01
	cfg.Risk.DailyLossLimitPct = 0.05
	cfg.Risk.MaxConcurrentPositions = 5
	cfg.Strategy.StopBufferPct = 0.001
	cfg.Strategy.RewardRisk = 2.0
	cfg.Strategy.MACDFast = 12
	cfg.Strategy.MACDSlow = 26
	cfg.Strategy.MACDSignal = 9
	cfg.Strategy.RequireRecentCross = true
	cfg.Strategy.CrossLookback = 6
	cfg.Detector.MaxActiveGaps = 3
	cfg.Detector.MaxGapAgeBars = 20
	return cfg
}

func (c *Config) validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols: at least one required")
	}
	if _, err := c.BarDuration(); err != nil {
		return err
	}
	if c.OHLCVLimit < c.Strategy.MACDSlow+c.Strategy.MACDSignal {
		return fmt.Errorf("ohlcv_limit %d below MACD warm-up requirement %d",
			c.OHLCVLimit, c.Strategy.MACDSlow+c.Strategy.MACDSignal)
	}
	if c.Risk.RiskPerTrade <= 0 || c.Risk.RiskPerTrade >= 1 {
		return fmt.Errorf("risk_per_trade must be in (0,1), got %v", c.Risk.RiskPerTrade)
	}
	if c.Risk.DailyLossLimitPct <= 0 || c.Risk.DailyLossLimitPct >= 1 {
		return fmt.Errorf("daily_loss_limit_pct must be in (0,1), got %v", c.Risk.DailyLossLimitPct)
	}
	if c.StartingBalance <= 0 {
		return fmt.Errorf("starting_balance must be positive, got %v", c.StartingBalance)
	}
	if c.StatePath == "" {
		return fmt.Errorf("state_path: required")
	}
	return nil
}

// BarDuration converts the exchange interval string to a duration.
func (c *Config) BarDuration() (time.Duration, error) {
	switch c.Timeframe {
	case "1m":
		return time.Minute, nil
	case "5m":
		return 5 * time.Minute, nil
	case "15m":
		return 15 * time.Minute, nil
	case "30m":
		return 30 * time.Minute, nil
	case "1h":
		return time.Hour, nil
	case "2h":
		return 2 * time.Hour, nil
	case "4h":
		return 4 * time.Hour, nil
	case "6h":
		return 6 * time.Hour, nil
	case "12h":
		return 12 * time.Hour, nil
	case "1d":
		return 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("timeframe: unsupported interval %q", c.Timeframe)
	}
}

// LoadCredentials reads API keys from the environment. Exchange keys are
// mandatory only when live trading is requested.
func LoadCredentials(live bool) Credentials {
	creds := Credentials{
		APIKey:        getEnv("BINANCE_API_KEY", ""),
		APISecret:     getEnv("BINANCE_API_SECRET", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
	}
	if live {
		creds.APIKey = mustEnv("BINANCE_API_KEY")
		creds.APISecret = mustEnv("BINANCE_API_SECRET")
	}
	return creds
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
