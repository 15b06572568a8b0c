// Package config loads and validates the bot configuration from YAML or
// JSON files.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete bot configuration.
type Config struct {
	Account  AccountConfig  `json:"account" yaml:"account"`
	Trading  TradingConfig  `json:"trading" yaml:"trading"`
	Universe UniverseConfig `json:"universe" yaml:"universe"`
	Live     LiveConfig     `json:"live" yaml:"live"`
	Exchange ExchangeConfig `json:"exchange" yaml:"exchange"`
	Journal  JournalConfig  `json:"journal" yaml:"journal"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
}

// AccountConfig contains account initialization parameters.
type AccountConfig struct {
	Currency    string  `json:"currency" yaml:"currency"`
	InitialCash float64 `json:"initial_cash" yaml:"initial_cash"`
}

// LadderRung is one partial-exit step: at TriggerPct profit over the entry
// price, liquidate Fraction of the remaining quantity.
type LadderRung struct {
	TriggerPct float64 `json:"trigger_pct" yaml:"trigger_pct"`
	Fraction   float64 `json:"fraction" yaml:"fraction"`
}

// TradingConfig contains the strategy and risk parameters shared by
// backtest and live runs.
type TradingConfig struct {
	Strategy     string       `json:"strategy" yaml:"strategy"` // "ichimoku", "breakout", "rank"
	InvestRatio  float64      `json:"invest_ratio" yaml:"invest_ratio"`
	FeeRate      float64      `json:"fee_rate" yaml:"fee_rate"`
	SlippageRate float64      `json:"slippage_rate" yaml:"slippage_rate"`
	StopLossPct  float64      `json:"stop_loss_pct" yaml:"stop_loss_pct"` // negative
	Ladder       []LadderRung `json:"ladder" yaml:"ladder"`
	TrendExit    bool         `json:"trend_exit" yaml:"trend_exit"`
	MaxHoldings  int          `json:"max_holdings" yaml:"max_holdings"`
	MinOrderKRW  float64      `json:"min_order_krw" yaml:"min_order_krw"`
	BreakoutK    float64      `json:"breakout_k" yaml:"breakout_k"`
}

// UniverseConfig controls instrument selection in live mode.
type UniverseConfig struct {
	TopN            int     `json:"top_n" yaml:"top_n"`
	VolumeThreshold float64 `json:"volume_threshold" yaml:"volume_threshold"`
	RefreshMinutes  int     `json:"refresh_minutes" yaml:"refresh_minutes"`
}

// LiveConfig contains polling-loop and resilience parameters.
type LiveConfig struct {
	DryRun           bool    `json:"dry_run" yaml:"dry_run"`
	PollSeconds      int     `json:"poll_seconds" yaml:"poll_seconds"`
	CandleUnit       int     `json:"candle_unit" yaml:"candle_unit"` // minutes
	CandleCount      int     `json:"candle_count" yaml:"candle_count"`
	MaxRetries       int     `json:"max_retries" yaml:"max_retries"`
	RetryDelayMS     int     `json:"retry_delay_ms" yaml:"retry_delay_ms"`
	BackoffFactor    float64 `json:"backoff_factor" yaml:"backoff_factor"`
	PriceCacheTTLSec int     `json:"price_cache_ttl_sec" yaml:"price_cache_ttl_sec"`
	Workers          int     `json:"workers" yaml:"workers"`
	RateLimitPerMin  int     `json:"rate_limit_per_min" yaml:"rate_limit_per_min"`
	StatePath        string  `json:"state_path" yaml:"state_path"`
}

// ExchangeConfig holds the exchange endpoint and API credentials. Keys are
// only required for live non-dry-run trading.
type ExchangeConfig struct {
	BaseURL   string `json:"base_url" yaml:"base_url"`
	AccessKey string `json:"access_key" yaml:"access_key"`
	SecretKey string `json:"secret_key" yaml:"secret_key"`
}

// JournalConfig contains trade-journal parameters.
type JournalConfig struct {
	Type       string `json:"type" yaml:"type"` // "csv" or "sqlite"
	DBPath     string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	TradesFile string `json:"trades_file,omitempty" yaml:"trades_file,omitempty"`
	EquityFile string `json:"equity_file,omitempty" yaml:"equity_file,omitempty"`
}

// LoggingConfig controls log level and the optional rotated log file.
type LoggingConfig struct {
	Level string `json:"level" yaml:"level"`
	File  string `json:"file,omitempty" yaml:"file,omitempty"`
}

// LoadFromFile loads configuration from a file (YAML first, JSON fallback).
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes the configuration, choosing the format by extension.
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Account.Currency == "" {
		return fmt.Errorf("account.currency is required")
	}
	if c.Account.InitialCash <= 0 {
		return fmt.Errorf("account.initial_cash must be positive")
	}

	switch c.Trading.Strategy {
	case "ichimoku", "breakout", "rank":
	default:
		return fmt.Errorf("trading.strategy must be one of ichimoku, breakout, rank")
	}
	if c.Trading.InvestRatio <= 0 || c.Trading.InvestRatio > 1 {
		return fmt.Errorf("trading.invest_ratio must be in (0, 1]")
	}
	if c.Trading.FeeRate < 0 || c.Trading.FeeRate >= 1 {
		return fmt.Errorf("trading.fee_rate must be in [0, 1)")
	}
	if c.Trading.SlippageRate < 0 || c.Trading.SlippageRate >= 1 {
		return fmt.Errorf("trading.slippage_rate must be in [0, 1)")
	}
	if c.Trading.StopLossPct >= 0 {
		return fmt.Errorf("trading.stop_loss_pct must be negative")
	}
	prev := 0.0
	for i, r := range c.Trading.Ladder {
		if r.TriggerPct <= prev {
			return fmt.Errorf("trading.ladder[%d].trigger_pct must be positive and ascending", i)
		}
		if r.Fraction <= 0 || r.Fraction > 1 {
			return fmt.Errorf("trading.ladder[%d].fraction must be in (0, 1]", i)
		}
		prev = r.TriggerPct
	}
	if c.Trading.MaxHoldings < 0 {
		return fmt.Errorf("trading.max_holdings must not be negative")
	}
	if c.Trading.Strategy == "breakout" && c.Trading.BreakoutK <= 0 {
		return fmt.Errorf("trading.breakout_k must be positive for the breakout strategy")
	}

	if c.Universe.TopN <= 0 {
		return fmt.Errorf("universe.top_n must be positive")
	}
	if c.Universe.RefreshMinutes <= 0 {
		return fmt.Errorf("universe.refresh_minutes must be positive")
	}

	if c.Live.PollSeconds <= 0 {
		return fmt.Errorf("live.poll_seconds must be positive")
	}
	if c.Live.CandleUnit <= 0 || c.Live.CandleCount <= 0 {
		return fmt.Errorf("live.candle_unit and live.candle_count must be positive")
	}
	if c.Live.MaxRetries <= 0 {
		return fmt.Errorf("live.max_retries must be positive")
	}
	if c.Live.BackoffFactor < 1 {
		return fmt.Errorf("live.backoff_factor must be >= 1")
	}
	if c.Live.Workers <= 0 {
		return fmt.Errorf("live.workers must be positive")
	}
	if c.Live.StatePath == "" {
		return fmt.Errorf("live.state_path is required")
	}
	if !c.Live.DryRun && (c.Exchange.AccessKey == "" || c.Exchange.SecretKey == "") {
		return fmt.Errorf("exchange access_key and secret_key are required when dry_run is false")
	}

	switch c.Journal.Type {
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal.db_path required for sqlite journal")
		}
	case "csv":
		if c.Journal.TradesFile == "" || c.Journal.EquityFile == "" {
			return fmt.Errorf("journal trades_file and equity_file required for csv journal")
		}
	default:
		return fmt.Errorf("journal.type must be 'csv' or 'sqlite'")
	}

	return nil
}

// Default returns a configuration with the conventional KRW-market values.
func Default() *Config {
	return &Config{
		Account: AccountConfig{
			Currency:    "KRW",
			InitialCash: 1_000_000,
		},
		Trading: TradingConfig{
			Strategy:     "ichimoku",
			InvestRatio:  0.20,
			FeeRate:      0.0005,
			SlippageRate: 0.0005,
			StopLossPct:  -1.0,
			Ladder: []LadderRung{
				{TriggerPct: 0.5, Fraction: 0.25},
				{TriggerPct: 1.0, Fraction: 0.25},
				{TriggerPct: 1.5, Fraction: 0.25},
				{TriggerPct: 2.0, Fraction: 0.25},
			},
			TrendExit:   true,
			MaxHoldings: 3,
			MinOrderKRW: 6_000,
			BreakoutK:   0.5,
		},
		Universe: UniverseConfig{
			TopN:            20,
			VolumeThreshold: 20_000_000_000,
			RefreshMinutes:  60,
		},
		Live: LiveConfig{
			DryRun:           true,
			PollSeconds:      180,
			CandleUnit:       5,
			CandleCount:      200,
			MaxRetries:       3,
			RetryDelayMS:     1000,
			BackoffFactor:    2.0,
			PriceCacheTTLSec: 5,
			Workers:          4,
			RateLimitPerMin:  500,
			StatePath:        "./trading_state.json",
		},
		Exchange: ExchangeConfig{
			BaseURL: "https://api.upbit.com",
		},
		Journal: JournalConfig{
			Type:   "sqlite",
			DBPath: "./trades.sqlite",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "./trading.log",
		},
	}
}
