// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tradewire/execd/internal/types"
	"gopkg.in/yaml.v3"
)

// Config represents the full application configuration.
type Config struct {
	Broker      BrokerConfig      `yaml:"broker"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	Constraints ConstraintsConfig `yaml:"constraints"`
	Risk        RiskConfig        `yaml:"risk"`
	Execution   ExecutionConfig   `yaml:"execution"`
	Reconcile   ReconcileConfig   `yaml:"reconcile"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Alerting    AlertingConfig    `yaml:"alerting"`
}

// BrokerConfig holds broker connectivity settings.
type BrokerConfig struct {
	Type               string `yaml:"type"` // sim | alpaca
	BaseURL            string `yaml:"base_url"`
	APIKey             string `yaml:"api_key"`
	APISecret          string `yaml:"api_secret"`
	RateLimitPerSecond int    `yaml:"rate_limit_per_second"`
}

// LedgerConfig holds ledger store settings.
type LedgerConfig struct {
	Path               string `yaml:"path"`
	BusyWaitSec        int    `yaml:"busy_wait_sec"`
	GuardRetentionDays int    `yaml:"guard_retention_days"`
}

// ConstraintsConfig holds pre-flight hard-constraint settings.
type ConstraintsConfig struct {
	MinPositionValue float64 `yaml:"min_position_value"`
	MaxPositionPct   float64 `yaml:"max_position_pct"` // of deployable capital
	MaxOpenPositions int     `yaml:"max_open_positions"`
	Timezone         string  `yaml:"timezone"`
	SessionStart     string  `yaml:"session_start"` // HH:MM
	SessionEnd       string  `yaml:"session_end"`   // HH:MM
}

// RiskConfig holds protective bracket settings for BUY entries.
type RiskConfig struct {
	StopLossPct   float64 `yaml:"stop_loss_pct"`   // e.g. 0.08 for 8% below entry
	TakeProfitPct float64 `yaml:"take_profit_pct"` // e.g. 0.16 for 16% above entry
}

// ExecutionConfig holds gateway and sequencer settings.
type ExecutionConfig struct {
	MaxRetries          int `yaml:"max_retries"`
	BackoffInitialMs    int `yaml:"backoff_initial_ms"`
	FillPollIntervalSec int `yaml:"fill_poll_interval_sec"`
	FillWaitTimeoutSec  int `yaml:"fill_wait_timeout_sec"`
}

// ReconcileConfig holds reconciliation settings.
type ReconcileConfig struct {
	GracePeriodHours int `yaml:"grace_period_hours"`
}

// MetricsConfig holds metrics server settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// AlertingConfig holds alerting settings.
type AlertingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes.
func LoadFromBytes(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration, applying defaults where the field
// is optional and collecting every error otherwise.
func (c *Config) Validate() error {
	var errs []string

	if c.Broker.Type == "" {
		c.Broker.Type = "sim"
	}
	if c.Broker.Type != "sim" && c.Broker.Type != "alpaca" {
		errs = append(errs, "broker.type must be 'sim' or 'alpaca'")
	}
	if c.Broker.RateLimitPerSecond <= 0 {
		c.Broker.RateLimitPerSecond = 4
	}

	if c.Ledger.Path == "" {
		errs = append(errs, "ledger.path is required")
	}
	if c.Ledger.BusyWaitSec <= 0 {
		c.Ledger.BusyWaitSec = 30
	}
	if c.Ledger.GuardRetentionDays <= 0 {
		c.Ledger.GuardRetentionDays = 7
	}

	if c.Constraints.MinPositionValue < 0 {
		errs = append(errs, "constraints.min_position_value must not be negative")
	}
	if c.Constraints.MaxPositionPct <= 0 || c.Constraints.MaxPositionPct > 1 {
		errs = append(errs, "constraints.max_position_pct must be between 0 and 1")
	}
	if c.Constraints.MaxOpenPositions <= 0 {
		errs = append(errs, "constraints.max_open_positions must be positive")
	}
	if c.Constraints.Timezone == "" {
		c.Constraints.Timezone = "America/New_York"
	}
	if _, err := time.LoadLocation(c.Constraints.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("constraints.timezone '%s' is not valid", c.Constraints.Timezone))
	}
	for _, v := range []struct{ name, val string }{
		{"constraints.session_start", c.Constraints.SessionStart},
		{"constraints.session_end", c.Constraints.SessionEnd},
	} {
		if v.val == "" {
			continue // empty means no session restriction
		}
		if _, err := time.Parse("15:04", v.val); err != nil {
			errs = append(errs, fmt.Sprintf("%s '%s' must be HH:MM", v.name, v.val))
		}
	}

	if c.Risk.StopLossPct <= 0 || c.Risk.StopLossPct >= 1 {
		errs = append(errs, "risk.stop_loss_pct must be between 0 and 1")
	}
	if c.Risk.TakeProfitPct <= 0 {
		errs = append(errs, "risk.take_profit_pct must be positive")
	}

	if c.Execution.MaxRetries <= 0 {
		c.Execution.MaxRetries = 3
	}
	if c.Execution.BackoffInitialMs <= 0 {
		c.Execution.BackoffInitialMs = 1000
	}
	if c.Execution.FillPollIntervalSec <= 0 {
		c.Execution.FillPollIntervalSec = 2
	}
	if c.Execution.FillWaitTimeoutSec <= 0 {
		c.Execution.FillWaitTimeoutSec = 60
	}

	if c.Reconcile.GracePeriodHours <= 0 {
		c.Reconcile.GracePeriodHours = 24
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 {
			c.Metrics.Port = 9090
		}
		if c.Metrics.Path == "" {
			c.Metrics.Path = "/metrics"
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

// Location returns the configured market timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Constraints.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// MinPositionValueDecimal returns the position value floor as a decimal.
func (c *Config) MinPositionValueDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.Constraints.MinPositionValue)
}

// MaxPositionPctDecimal returns the position value ceiling percentage.
func (c *Config) MaxPositionPctDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.Constraints.MaxPositionPct)
}

// StopLossPctDecimal returns the stop-loss distance percentage.
func (c *Config) StopLossPctDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.Risk.StopLossPct)
}

// TakeProfitPctDecimal returns the take-profit distance percentage.
func (c *Config) TakeProfitPctDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.Risk.TakeProfitPct)
}

// BusyWait returns the ledger bounded-wait duration.
func (c *Config) BusyWait() time.Duration {
	return time.Duration(c.Ledger.BusyWaitSec) * time.Second
}

// GuardRetention returns the duplicate-guard retention window.
func (c *Config) GuardRetention() time.Duration {
	return time.Duration(c.Ledger.GuardRetentionDays) * 24 * time.Hour
}

// BackoffInitial returns the first retry delay.
func (c *Config) BackoffInitial() time.Duration {
	return time.Duration(c.Execution.BackoffInitialMs) * time.Millisecond
}

// FillPollInterval returns the fill-confirmation polling interval.
func (c *Config) FillPollInterval() time.Duration {
	return time.Duration(c.Execution.FillPollIntervalSec) * time.Second
}

// FillWaitTimeout returns the phase fill-wait timeout.
func (c *Config) FillWaitTimeout() time.Duration {
	return time.Duration(c.Execution.FillWaitTimeoutSec) * time.Second
}

// GracePeriod returns the reconciliation grace period.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.Reconcile.GracePeriodHours) * time.Hour
}
