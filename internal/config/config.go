// Package config loads and validates the buydip YAML configuration and
// applies environment variable overrides.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"buydip/internal/domain"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for buydip.
type Config struct {
	Strategy Strategy `yaml:"strategy"`
	Storage  Storage  `yaml:"storage"`
	Alpaca   Alpaca   `yaml:"alpaca"`
	Logging  Logging  `yaml:"logging"`
}

// Strategy holds the dip-trigger strategy parameters. It is immutable per
// run: loaded once and passed by value into the engine.
type Strategy struct {
	Ticker            string  `yaml:"ticker"`
	RollingWindowDays int     `yaml:"rolling_window_days"`
	PercentageTrigger float64 `yaml:"percentage_trigger"`
	InvestmentAmount  float64 `yaml:"investment_amount"`
	// MinDaysBetweenInvestments is the spacing rule: a previous investment
	// blocks a new one while the day difference is strictly below this value.
	MinDaysBetweenInvestments int  `yaml:"min_days_between_investments"`
	UseTradingDays            bool `yaml:"use_trading_days"`
	// CacheFreshDays bounds how old the newest cached price may be before a
	// range query re-fetches the trailing edge.
	CacheFreshDays int `yaml:"cache_fresh_days"`
}

// Trigger returns the percentage trigger as a decimal.
func (s Strategy) Trigger() decimal.Decimal {
	return decimal.NewFromFloat(s.PercentageTrigger)
}

// Amount returns the per-investment dollar amount as a decimal.
func (s Strategy) Amount() decimal.Decimal {
	return decimal.NewFromFloat(s.InvestmentAmount)
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	LedgerPath string `yaml:"ledger_path"`
}

// Alpaca holds credentials and endpoints for the Alpaca market-data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns the built-in configuration. Load starts from these values,
// so a sparse YAML file only needs the fields it changes.
func Default() *Config {
	return &Config{
		Strategy: Strategy{
			Ticker:                    "SPY",
			RollingWindowDays:         90,
			PercentageTrigger:         0.90,
			InvestmentAmount:          2000,
			MinDaysBetweenInvestments: 28,
			CacheFreshDays:            1,
		},
		Storage: Storage{
			DataDir: defaultDataDir(),
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".buydip"
	}
	return filepath.Join(home, ".buydip")
}

// Load reads the YAML configuration file at the given path on top of the
// defaults, applies environment variable overrides, and validates the result.
func Load(path string) (*Config, error) {
	return load(path, true)
}

// LoadOrDefault behaves like Load but treats a missing file as an empty one,
// leaving the defaults and environment overrides in effect.
func LoadOrDefault(path string) (*Config, error) {
	return load(path, false)
}

func load(path string, required bool) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !required && os.IsNotExist(err) {
			data = nil
		} else {
			return nil, err
		}
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if cfg.Storage.LedgerPath == "" {
		cfg.Storage.LedgerPath = filepath.Join(cfg.Storage.DataDir, "investments.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BUYDIP_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("BUYDIP_LEDGER_PATH"); v != "" {
		cfg.Storage.LedgerPath = v
	}
	if v := os.Getenv("BUYDIP_TICKER"); v != "" {
		cfg.Strategy.Ticker = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	// Standard Alpaca env vars (canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// Validate rejects out-of-range strategy parameters before any evaluation
// begins.
func (c *Config) Validate() error {
	s := c.Strategy
	if strings.TrimSpace(s.Ticker) == "" {
		return &domain.InvalidConfigError{Field: "strategy.ticker", Reason: "must not be empty"}
	}
	if s.RollingWindowDays < 1 {
		return &domain.InvalidConfigError{Field: "strategy.rolling_window_days", Reason: "must be at least 1"}
	}
	if s.PercentageTrigger <= 0 || s.PercentageTrigger > 1 {
		return &domain.InvalidConfigError{Field: "strategy.percentage_trigger", Reason: "must be in (0, 1]"}
	}
	if s.InvestmentAmount <= 0 {
		return &domain.InvalidConfigError{Field: "strategy.investment_amount", Reason: "must be positive"}
	}
	if s.MinDaysBetweenInvestments < 1 {
		return &domain.InvalidConfigError{Field: "strategy.min_days_between_investments", Reason: "must be at least 1"}
	}
	if s.CacheFreshDays < 1 {
		return &domain.InvalidConfigError{Field: "strategy.cache_fresh_days", Reason: "must be at least 1"}
	}
	return nil
}
