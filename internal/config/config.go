// Package config loads the bot's YAML configuration file into a typed
// structure matching the external interface surface.
package config

import (
	"bytes"
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = fmt.Errorf("invalid configuration")

type MT5 struct {
	Login                        int    `yaml:"login"`
	Password                     string `yaml:"password"`
	Server                       string `yaml:"server"`
	BrokerTimezoneOffsetMinutes  *int   `yaml:"broker_timezone_offset_minutes"`
}

type TradingHours struct {
	Enabled   bool   `yaml:"enabled"`
	StartTime string `yaml:"start_time"`
	EndTime   string `yaml:"end_time"`
	Timezone  string `yaml:"timezone"`
}

type Strategy struct {
	Name string `yaml:"name"`
}

type SessionSpec struct {
	Name      string `yaml:"name"`
	StartTime string `yaml:"start_time"`
	EndTime   string `yaml:"end_time"`
	Strategy  string `yaml:"strategy"`
}

type StrategySchedule struct {
	Enabled  bool          `yaml:"enabled"`
	Timezone string        `yaml:"timezone"`
	Sessions []SessionSpec `yaml:"sessions"`
}

type StrategyConfig struct {
	CRTEntryTimeframe string  `yaml:"crt_entry_timeframe"`
	MinRR             float64 `yaml:"min_rr"`
	CRTHighTimeframe  string  `yaml:"crt_high_timeframe"`
	CRTUseVayas       bool    `yaml:"crt_use_vayas"`
	CRTUseEngulfing   bool    `yaml:"crt_use_engulfing"`
	CRTLookback       int     `yaml:"crt_lookback"`

	DailyLevelLookback        int     `yaml:"daily_level_lookback"`
	DailyLevelTolerancePips   float64 `yaml:"daily_level_tolerance_pips"`
	FVGEntryTolerancePips     float64 `yaml:"fvg_entry_tolerance_pips"`
}

type RiskManagement struct {
	RiskPerTradePercent float64 `yaml:"risk_per_trade_percent"`
	MaxTradesPerDay     int     `yaml:"max_trades_per_day"`
	MaxPositionSize     float64 `yaml:"max_position_size"`
	CloseDayOnFirstTP   bool    `yaml:"close_day_on_first_tp"`
}

type TrailingStop struct {
	Enabled        bool    `yaml:"enabled"`
	TriggerPercent float64 `yaml:"trigger_percent"`
	SLPercent      float64 `yaml:"sl_percent"`
}

type AutoClose struct {
	Enabled  bool   `yaml:"enabled"`
	Time     string `yaml:"time"`
	Timezone string `yaml:"timezone"`
}

type PositionMonitoring struct {
	TrailingStop TrailingStop `yaml:"trailing_stop"`
	AutoClose    AutoClose    `yaml:"auto_close"`
}

type Database struct {
	Enabled  bool   `yaml:"enabled"`
	Server   string `yaml:"server"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Driver   string `yaml:"driver"`
}

type General struct {
	LogLevel string `yaml:"log_level"`
}

// Notifications configures the optional Telegram alert channel used for
// panic/auto-close notices (ambient, adapted from the teacher's notifier
// package).
type Notifications struct {
	TelegramEnabled bool   `yaml:"telegram_enabled"`
	TelegramToken   string `yaml:"telegram_token"`
	TelegramChatID  string `yaml:"telegram_chat_id"`
}

// Account holds the values the Strategy Pipeline needs for position sizing
// (spec §4.4 Stage 4) when running against the paper-trading gateway, in
// place of a live account query.
type Account struct {
	StartingEquity    float64 `yaml:"starting_equity"`
	ValuePerPriceUnit float64 `yaml:"value_per_price_unit"`
}

// Config is the full configuration surface, decoded from YAML with unknown
// keys rejected (strict decoding) the way the teacher favors explicit
// fields over free-form maps.
type Config struct {
	MT5                MT5                `yaml:"mt5"`
	Symbols            []string           `yaml:"symbols"`
	TradingHours       TradingHours       `yaml:"trading_hours"`
	Strategy           Strategy           `yaml:"strategy"`
	StrategySchedule   StrategySchedule   `yaml:"strategy_schedule"`
	StrategyConfig     StrategyConfig     `yaml:"strategy_config"`
	RiskManagement     RiskManagement     `yaml:"risk_management"`
	PositionMonitoring PositionMonitoring `yaml:"position_monitoring"`
	Database           Database           `yaml:"database"`
	General            General            `yaml:"general"`
	Account            Account            `yaml:"account"`
	Notifications      Notifications      `yaml:"notifications"`
}

// Default returns a Config populated with the spec's documented defaults.
func Default() Config {
	return Config{
		TradingHours: TradingHours{
			Enabled:   true,
			StartTime: "00:00",
			EndTime:   "23:59",
			Timezone:  "America/New_York",
		},
		Strategy: Strategy{Name: "crt-continuation"},
		StrategyConfig: StrategyConfig{
			CRTEntryTimeframe:       "M5",
			MinRR:                   2.0,
			CRTHighTimeframe:        "H4",
			CRTLookback:             5,
			DailyLevelLookback:      5,
			DailyLevelTolerancePips: 1,
			FVGEntryTolerancePips:   1,
		},
		RiskManagement: RiskManagement{
			RiskPerTradePercent: 1.0,
			MaxTradesPerDay:     5,
			MaxPositionSize:     1.0,
		},
		PositionMonitoring: PositionMonitoring{
			TrailingStop: TrailingStop{Enabled: true, TriggerPercent: 0.70, SLPercent: 0.50},
			AutoClose:    AutoClose{Enabled: true, Time: "16:50", Timezone: "America/New_York"},
		},
		Database: Database{Driver: "postgres"},
		General:  General{LogLevel: "INFO"},
		Account:  Account{StartingEquity: 10000, ValuePerPriceUnit: 100000},
	}
}

// Load reads the command-line flags (principally -config) and, when a config
// file is given, decodes it over the documented defaults. Unknown YAML keys
// are a load error.
func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("crtbot", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to YAML config file")
	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	cfg := Default()
	data, err := os.ReadFile(*configPath)
	if err != nil {
		return Config{}, fmt.Errorf("%w: reading config file: %v", ErrInvalidConfig, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parsing config file: %v", ErrInvalidConfig, err)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the parts of the configuration surface that have a small,
// enumerable set of legal values.
func Validate(cfg Config) error {
	if len(cfg.Symbols) == 0 {
		return fmt.Errorf("%w: symbols must not be empty", ErrInvalidConfig)
	}
	switch cfg.StrategyConfig.CRTEntryTimeframe {
	case "M1", "M5", "M15", "M30", "H1":
	default:
		return fmt.Errorf("%w: strategy_config.crt_entry_timeframe %q not in {M1,M5,M15,M30,H1}", ErrInvalidConfig, cfg.StrategyConfig.CRTEntryTimeframe)
	}
	switch cfg.StrategyConfig.CRTHighTimeframe {
	case "H4", "D1":
	default:
		return fmt.Errorf("%w: strategy_config.crt_high_timeframe %q not in {H4,D1}", ErrInvalidConfig, cfg.StrategyConfig.CRTHighTimeframe)
	}
	if cfg.StrategyConfig.MinRR < 1 {
		return fmt.Errorf("%w: strategy_config.min_rr must be >= 1", ErrInvalidConfig)
	}
	switch cfg.General.LogLevel {
	case "DEBUG", "INFO", "WARNING", "ERROR", "":
	default:
		return fmt.Errorf("%w: general.log_level %q not in {DEBUG,INFO,WARNING,ERROR}", ErrInvalidConfig, cfg.General.LogLevel)
	}
	return nil
}
