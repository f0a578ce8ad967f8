// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.canvas/config.yaml)
//  3. Default values
//
// Error handling uses sentinel errors for errors.Is() checks, wrapped with
// context via fmt.Errorf("%w: details", ErrXxx).
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidConfidence indicates the acceptance confidence is out of range.
	ErrInvalidConfidence = errors.New("invalid acceptance confidence")

	// ErrInvalidBudget indicates the recovery budget is out of range.
	ErrInvalidBudget = errors.New("invalid recovery budget")

	// ErrInvalidThreshold indicates the breaker failure threshold is out of range.
	ErrInvalidThreshold = errors.New("invalid failure threshold")

	// ErrInvalidResetTimeout indicates the breaker reset timeout is out of range.
	ErrInvalidResetTimeout = errors.New("invalid reset timeout")

	// ErrInvalidBackoff indicates the backoff multiplier cap is out of range.
	ErrInvalidBackoff = errors.New("invalid backoff multiplier")

	// ErrInvalidMaxTracked indicates the tracked-artifact bound is out of range.
	ErrInvalidMaxTracked = errors.New("invalid max tracked artifacts")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")
)

// RecoveryConfig bounds the strategy chain.
type RecoveryConfig struct {
	// AcceptConfidence is the minimum confidence a strategy or repair
	// outcome must report to be accepted.
	AcceptConfidence float64 `mapstructure:"accept_confidence"`

	// AttemptBudget is the wall-clock bound on one recovery attempt.
	AttemptBudget time.Duration `mapstructure:"attempt_budget"`

	// MaxTracked bounds the artifact slots kept per session.
	MaxTracked int `mapstructure:"max_tracked"`
}

// BreakerConfig drives the per-artifact circuit breakers.
type BreakerConfig struct {
	FailureThreshold     int           `mapstructure:"failure_threshold"`
	ResetTimeout         time.Duration `mapstructure:"reset_timeout"`
	MaxBackoffMultiplier int           `mapstructure:"max_backoff_multiplier"`
}

// StorageConfig holds the PostgreSQL connection settings.
type StorageConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"` // SENSITIVE: never logged
	DBName   string `mapstructure:"db_name"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// ConnString renders the postgres:// URL for pgx and golang-migrate.
func (s StorageConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		s.User, s.Password, s.Host, s.Port, s.DBName, s.SSLMode)
}

// RepairConfig configures the AI repair escalation.
type RepairConfig struct {
	// Enabled turns the escalation on; without it the chain is mechanical
	// strategies only.
	Enabled bool `mapstructure:"enabled"`

	// PromptDir is where the Dotprompt files live.
	PromptDir string `mapstructure:"prompt_dir"`

	// RequestsPerMinute gates the proactive rate limiter.
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
}

// Config stores application configuration.
type Config struct {
	Recovery RecoveryConfig `mapstructure:"recovery"`
	Breaker  BreakerConfig  `mapstructure:"breaker"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Repair   RepairConfig   `mapstructure:"repair"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}
	configDir := filepath.Join(home, ".canvas")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("recovery.accept_confidence", 0.7)
	v.SetDefault("recovery.attempt_budget", 8*time.Second)
	v.SetDefault("recovery.max_tracked", 10)

	v.SetDefault("breaker.failure_threshold", 3)
	v.SetDefault("breaker.reset_timeout", 30*time.Second)
	v.SetDefault("breaker.max_backoff_multiplier", 4)

	v.SetDefault("storage.host", "localhost")
	v.SetDefault("storage.port", 5432)
	v.SetDefault("storage.user", "canvas")
	v.SetDefault("storage.password", "canvas_dev_password")
	v.SetDefault("storage.db_name", "canvas")
	v.SetDefault("storage.ssl_mode", "disable")

	v.SetDefault("repair.enabled", true)
	v.SetDefault("repair.prompt_dir", "prompts")
	v.SetDefault("repair.requests_per_minute", 10)
}

// bindEnvVariables binds sensitive environment variables explicitly.
func bindEnvVariables(v *viper.Viper) {
	_ = v.BindEnv("storage.password", "CANVAS_POSTGRES_PASSWORD")
	_ = v.BindEnv("storage.host", "CANVAS_POSTGRES_HOST")
	_ = v.BindEnv("repair.enabled", "CANVAS_REPAIR_ENABLED")
}

// Validate fails fast on out-of-range values.
func (c *Config) Validate() error {
	if c.Recovery.AcceptConfidence <= 0 || c.Recovery.AcceptConfidence > 1 {
		return fmt.Errorf("%w: %v not in (0, 1]", ErrInvalidConfidence, c.Recovery.AcceptConfidence)
	}
	if c.Recovery.AttemptBudget <= 0 || c.Recovery.AttemptBudget > time.Minute {
		return fmt.Errorf("%w: %v not in (0, 1m]", ErrInvalidBudget, c.Recovery.AttemptBudget)
	}
	if c.Recovery.MaxTracked <= 0 || c.Recovery.MaxTracked > 100 {
		return fmt.Errorf("%w: %d not in [1, 100]", ErrInvalidMaxTracked, c.Recovery.MaxTracked)
	}
	if c.Breaker.FailureThreshold <= 0 || c.Breaker.FailureThreshold > 20 {
		return fmt.Errorf("%w: %d not in [1, 20]", ErrInvalidThreshold, c.Breaker.FailureThreshold)
	}
	if c.Breaker.ResetTimeout <= 0 || c.Breaker.ResetTimeout > time.Hour {
		return fmt.Errorf("%w: %v not in (0, 1h]", ErrInvalidResetTimeout, c.Breaker.ResetTimeout)
	}
	if c.Breaker.MaxBackoffMultiplier < 1 || c.Breaker.MaxBackoffMultiplier > 64 {
		return fmt.Errorf("%w: %d not in [1, 64]", ErrInvalidBackoff, c.Breaker.MaxBackoffMultiplier)
	}
	if c.Storage.Port <= 0 || c.Storage.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.Storage.Port)
	}
	return nil
}
