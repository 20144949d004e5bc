// Package config loads server configuration from an optional YAML file and
// LABORCOST_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Core     CoreConfig     `mapstructure:"core"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	API      APIConfig      `mapstructure:"api"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns host:port for http.Server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig selects and configures the store
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // sqlite or postgres
	Path         string `mapstructure:"path"`   // sqlite file, ":memory:" allowed
	DSN          string `mapstructure:"dsn"`    // postgres connection string
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// CoreConfig holds labor core settings
type CoreConfig struct {
	TxTimeout     time.Duration `mapstructure:"tx_timeout"`
	PayPolicyPath string        `mapstructure:"pay_policy_path"` // empty uses the built-in standard policy
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// APIConfig holds per-client rate limiting for the HTTP API
type APIConfig struct {
	RateLimitPerSecond float64 `mapstructure:"rate_limit_per_second"` // 0 disables limiting
	RateLimitBurst     int     `mapstructure:"rate_limit_burst"`
}

// AuthConfig maps user ids to roles. An empty map grants every permission,
// which is only suitable for local development.
type AuthConfig struct {
	UserRoles map[string][]string `mapstructure:"user_roles"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Load reads configPath when non-empty, then applies LABORCOST_* overrides.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LABORCOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)

	// Database defaults
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.path", "laborcost.db")
	v.SetDefault("database.max_open_conns", 10)

	// Core defaults
	v.SetDefault("core.tx_timeout", 5*time.Second)
	v.SetDefault("core.pay_policy_path", "")

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	// API defaults
	v.SetDefault("api.rate_limit_per_second", 20.0)
	v.SetDefault("api.rate_limit_burst", 40)
}

// bindEnvVars binds keys whose environment names differ from the prefixed form
func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("database.dsn", "LABORCOST_DATABASE_DSN", "DATABASE_URL")
	_ = v.BindEnv("server.port", "LABORCOST_SERVER_PORT", "PORT")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("database.path is required for sqlite")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.Database.Driver)
	}

	if c.Core.TxTimeout <= 0 {
		return errors.New("core.tx_timeout must be positive")
	}

	switch c.Logger.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logger.format must be json or console, got %q", c.Logger.Format)
	}

	if c.API.RateLimitPerSecond < 0 {
		return errors.New("api.rate_limit_per_second must not be negative")
	}
	if c.API.RateLimitPerSecond > 0 && c.API.RateLimitBurst <= 0 {
		return errors.New("api.rate_limit_burst must be positive when rate limiting is enabled")
	}

	return nil
}
