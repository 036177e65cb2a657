// Package config provides configuration management for the strangle engine.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"nifty-strangler/internal/errors"
	"nifty-strangler/pkg/utils"
)

// Config holds all application configuration.
type Config struct {
	Trading     TradingConfig  `mapstructure:"trading"`
	Strategy    StrategyConfig `mapstructure:"strategy"`
	Capital     CapitalConfig  `mapstructure:"capital"`
	Windows     []WindowConfig `mapstructure:"windows"`
	Greeks      GreeksConfig   `mapstructure:"greeks"`
	Storage     StorageConfig  `mapstructure:"storage"`
	Logging     LoggingConfig  `mapstructure:"logging"`
	Notify      NotifyConfig   `mapstructure:"notify"`
	Credentials Credentials    `mapstructure:"-"` // Loaded from .env / environment
}

// TradingConfig holds instrument and execution settings.
type TradingConfig struct {
	Mode          string        `mapstructure:"mode"` // "live", "paper"
	Symbol        string        `mapstructure:"symbol"`
	Exchange      string        `mapstructure:"exchange"`
	SpotSymbol    string        `mapstructure:"spot_symbol"`
	Product       string        `mapstructure:"product"`
	LotSize       int           `mapstructure:"lot_size"`
	Lots          int           `mapstructure:"lots"`
	StrikeStep    float64       `mapstructure:"strike_step"`
	TickInterval  time.Duration `mapstructure:"tick_interval"`
	PaperSlippage float64       `mapstructure:"paper_slippage"`
	RateLimit     float64       `mapstructure:"rate_limit"` // API calls per second
	ChainWidth    int           `mapstructure:"chain_width"` // strikes quoted each side of ATM
	Holidays      []string      `mapstructure:"holidays"`    // "YYYY-MM-DD" exchange holidays
	BreakerFails  int           `mapstructure:"breaker_failures"`
	BreakerPause  time.Duration `mapstructure:"breaker_cooldown"`
}

// StrategyConfig holds the entry/exit rule parameters.
type StrategyConfig struct {
	TargetDelta     float64       `mapstructure:"target_delta"`
	DeltaLower      float64       `mapstructure:"delta_lower"` // 0 = target/2
	DeltaUpper      float64       `mapstructure:"delta_upper"` // 0 = target*2
	DeltaCeiling    float64       `mapstructure:"delta_ceiling"`
	EntryDTE        int           `mapstructure:"entry_dte"`
	ExitDTE         int           `mapstructure:"exit_dte"`
	ProfitTarget    float64       `mapstructure:"profit_target"`
	SignalDuration  time.Duration `mapstructure:"signal_duration"`
	MaxTradesPerDay int           `mapstructure:"max_trades_per_day"` // 0 = windows only
}

// CapitalConfig holds the capital partition settings.
type CapitalConfig struct {
	Total            float64 `mapstructure:"total"`
	Parts            int     `mapstructure:"parts"`
	MaxEntriesPerDay int     `mapstructure:"max_entries_per_day"`
}

// WindowConfig is one trading window with its own trade quota.
type WindowConfig struct {
	Name      string `mapstructure:"name"`
	Start     string `mapstructure:"start"`
	End       string `mapstructure:"end"`
	MaxTrades int    `mapstructure:"max_trades"`
}

// GreeksConfig holds carry parameters used when pricing off spot.
type GreeksConfig struct {
	RiskFreeRate  float64 `mapstructure:"risk_free_rate"`
	DividendYield float64 `mapstructure:"dividend_yield"`
}

// StorageConfig holds persistence paths.
type StorageConfig struct {
	DBPath    string `mapstructure:"db_path"`
	ExportDir string `mapstructure:"export_dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       bool   `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// NotifyConfig selects the trade alert channels.
type NotifyConfig struct {
	Level          string `mapstructure:"level"` // all, trades_only, errors_only
	Terminal       bool   `mapstructure:"terminal"`
	Bell           bool   `mapstructure:"bell"`
	WebhookURL     string `mapstructure:"webhook_url"`
	TelegramChatID int64  `mapstructure:"telegram_chat_id"`
}

// Credentials holds Kite Connect and alerting secrets.
type Credentials struct {
	APIKey        string `json:"api_key"`
	APISecret     string `json:"api_secret"`
	AccessToken   string `json:"access_token"`
	TelegramToken string `json:"telegram_token"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/nifty-strangler"
	}
	return filepath.Join(home, ".config", "nifty-strangler")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}
	if err := loadConfigFile(configDir, "config", cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}
	cfg.resolvePaths(configDir)

	// .env next to the config, then the working directory; real env wins.
	_ = godotenv.Load(filepath.Join(configDir, ".env"))
	_ = godotenv.Load()
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("trading.mode", "paper")
	v.SetDefault("trading.symbol", "NIFTY")
	v.SetDefault("trading.exchange", "NFO")
	v.SetDefault("trading.spot_symbol", "NSE:NIFTY 50")
	v.SetDefault("trading.product", "NRML")
	v.SetDefault("trading.lot_size", 65)
	v.SetDefault("trading.lots", 1)
	v.SetDefault("trading.strike_step", 50.0)
	v.SetDefault("trading.tick_interval", "60s")
	v.SetDefault("trading.paper_slippage", 0.0005)
	v.SetDefault("trading.rate_limit", 3.0)
	v.SetDefault("trading.chain_width", 30)
	v.SetDefault("trading.holidays", []string{})
	v.SetDefault("trading.breaker_failures", 5)
	v.SetDefault("trading.breaker_cooldown", "2m")

	v.SetDefault("strategy.target_delta", 0.07)
	v.SetDefault("strategy.delta_lower", 0.0)
	v.SetDefault("strategy.delta_upper", 0.0)
	v.SetDefault("strategy.delta_ceiling", 0.20)
	v.SetDefault("strategy.entry_dte", 14)
	v.SetDefault("strategy.exit_dte", 7)
	v.SetDefault("strategy.profit_target", 0.50)
	v.SetDefault("strategy.signal_duration", "300s")
	v.SetDefault("strategy.max_trades_per_day", 0)

	v.SetDefault("capital.total", 100000.0)
	v.SetDefault("capital.parts", 6)
	v.SetDefault("capital.max_entries_per_day", 2)

	v.SetDefault("windows", []map[string]interface{}{
		{"name": "morning", "start": "09:30", "end": "13:15", "max_trades": 1},
		{"name": "afternoon", "start": "13:15", "end": "15:15", "max_trades": 1},
	})

	v.SetDefault("greeks.risk_free_rate", 0.07)
	v.SetDefault("greeks.dividend_yield", 0.0)

	v.SetDefault("storage.db_path", "")
	v.SetDefault("storage.export_dir", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 7)
	v.SetDefault("logging.max_age", 30)

	v.SetDefault("notify.level", "all")
	v.SetDefault("notify.terminal", true)
	v.SetDefault("notify.bell", true)
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.telegram_chat_id", 0)
}

func loadConfigFile(configDir, name string, target *Config) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		// Config file not found, write the template and load it
		if err := createTemplateConfig(configDir, name); err != nil {
			return err
		}
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading generated %s: %w", name, err)
		}
	}

	return v.Unmarshal(target)
}

func (c *Config) resolvePaths(configDir string) {
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = filepath.Join(configDir, "data", "strangler.db")
	}
	if c.Storage.ExportDir == "" {
		c.Storage.ExportDir = filepath.Join(configDir, "exports")
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KITE_API_KEY"); v != "" {
		cfg.Credentials.APIKey = v
	}
	if v := os.Getenv("KITE_API_SECRET"); v != "" {
		cfg.Credentials.APISecret = v
	}
	if v := os.Getenv("KITE_ACCESS_TOKEN"); v != "" {
		cfg.Credentials.AccessToken = v
	}

	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Credentials.TelegramToken = v
	}

	if v := os.Getenv("TRADING_MODE"); v != "" {
		cfg.Trading.Mode = v
	}
	if v := os.Getenv("TOTAL_CAPITAL"); v != "" {
		if total, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Capital.Total = total
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Trading.Mode != "live" && c.Trading.Mode != "paper" {
		return errors.NewValidationError("trading.mode", c.Trading.Mode, "must be 'live' or 'paper'")
	}
	if c.Trading.LotSize <= 0 {
		return errors.NewValidationError("trading.lot_size", c.Trading.LotSize, "must be positive")
	}
	if c.Trading.Lots <= 0 {
		return errors.NewValidationError("trading.lots", c.Trading.Lots, "must be positive")
	}
	if c.Trading.StrikeStep <= 0 {
		return errors.NewValidationError("trading.strike_step", c.Trading.StrikeStep, "must be positive")
	}
	if c.Trading.TickInterval <= 0 {
		return errors.NewValidationError("trading.tick_interval", c.Trading.TickInterval, "must be positive")
	}
	if c.Trading.PaperSlippage < 0 || c.Trading.PaperSlippage >= 0.1 {
		return errors.NewValidationError("trading.paper_slippage", c.Trading.PaperSlippage, "must be in [0, 0.1)")
	}
	if _, err := c.MarketHours(); err != nil {
		return errors.NewValidationError("trading.holidays", c.Trading.Holidays, err.Error())
	}

	s := c.Strategy
	if s.TargetDelta <= 0 || s.TargetDelta >= 0.5 {
		return errors.NewValidationError("strategy.target_delta", s.TargetDelta, "must be in (0, 0.5)")
	}
	lower, upper := c.DeltaBand()
	if lower <= 0 || lower > s.TargetDelta || upper < s.TargetDelta {
		return errors.NewValidationError("strategy.delta_band", fmt.Sprintf("[%.3f, %.3f]", lower, upper),
			"band must bracket the target delta")
	}
	if s.ProfitTarget <= 0 || s.ProfitTarget > 1 {
		return errors.NewValidationError("strategy.profit_target", s.ProfitTarget, "must be in (0, 1]")
	}
	if s.SignalDuration <= 0 {
		return errors.NewValidationError("strategy.signal_duration", s.SignalDuration, "must be positive")
	}
	if s.EntryDTE < 0 || s.ExitDTE < 0 {
		return errors.NewValidationError("strategy.dte", s.EntryDTE, "DTE targets must be non-negative")
	}

	if c.Capital.Total <= 0 {
		return errors.NewValidationError("capital.total", c.Capital.Total, "must be positive")
	}
	if c.Capital.Parts <= 0 {
		return errors.NewValidationError("capital.parts", c.Capital.Parts, "must be positive")
	}
	if c.Capital.MaxEntriesPerDay <= 0 {
		return errors.NewValidationError("capital.max_entries_per_day", c.Capital.MaxEntriesPerDay, "must be positive")
	}

	switch c.Notify.Level {
	case "", "all", "trades_only", "errors_only":
	default:
		return errors.NewValidationError("notify.level", c.Notify.Level, "must be all, trades_only or errors_only")
	}

	_, err := c.ParsedWindows()
	return err
}

// MarketHours returns the NSE session with the configured holidays.
func (c *Config) MarketHours() (utils.MarketHours, error) {
	return utils.DefaultMarketHours().WithHolidays(c.Trading.Holidays)
}

// DeltaBand resolves the acceptance band: unset bounds default to [d/2, 2d],
// and the upper bound never exceeds the ceiling.
func (c *Config) DeltaBand() (lower, upper float64) {
	s := c.Strategy
	lower, upper = s.DeltaLower, s.DeltaUpper
	if lower <= 0 {
		lower = s.TargetDelta / 2
	}
	if upper <= 0 {
		upper = s.TargetDelta * 2
	}
	if s.DeltaCeiling > 0 {
		upper = math.Min(upper, s.DeltaCeiling)
	}
	return lower, upper
}

// Window is a parsed trading window.
type Window struct {
	Name      string
	Start     utils.TimeOfDay
	End       utils.TimeOfDay
	MaxTrades int
}

// ParsedWindows parses and checks the configured windows. Windows must be
// well-formed, uniquely named and non-overlapping; they are returned sorted by start.
func (c *Config) ParsedWindows() ([]Window, error) {
	if len(c.Windows) == 0 {
		return nil, errors.NewValidationError("windows", 0, "at least one trading window is required")
	}

	windows := make([]Window, 0, len(c.Windows))
	names := make(map[string]bool)
	for _, wc := range c.Windows {
		if wc.Name == "" || names[wc.Name] {
			return nil, errors.NewValidationError("windows.name", wc.Name, "must be unique and non-empty")
		}
		names[wc.Name] = true

		start, err := utils.ParseTimeOfDay(wc.Start)
		if err != nil {
			return nil, errors.NewValidationError("windows.start", wc.Start, err.Error())
		}
		end, err := utils.ParseTimeOfDay(wc.End)
		if err != nil {
			return nil, errors.NewValidationError("windows.end", wc.End, err.Error())
		}
		if end <= start {
			return nil, errors.NewValidationError("windows."+wc.Name, wc.Start+"-"+wc.End, "end must be after start")
		}
		if wc.MaxTrades < 0 {
			return nil, errors.NewValidationError("windows.max_trades", wc.MaxTrades, "must be non-negative")
		}
		windows = append(windows, Window{Name: wc.Name, Start: start, End: end, MaxTrades: wc.MaxTrades})
	}

	sort.Slice(windows, func(i, j int) bool { return windows[i].Start < windows[j].Start })
	for i := 1; i < len(windows); i++ {
		if windows[i].Start < windows[i-1].End {
			return nil, errors.NewValidationError("windows", windows[i].Name, "overlaps "+windows[i-1].Name)
		}
	}

	return windows, nil
}

// IsPaperMode returns true if paper trading mode is enabled.
func (c *Config) IsPaperMode() bool {
	return c.Trading.Mode == "paper"
}

// Quantity is the order quantity per leg.
func (c *Config) Quantity() int {
	return c.Trading.Lots * c.Trading.LotSize
}
