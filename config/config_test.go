package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	// GIVEN: no config file and no overrides
	// WHEN: loading
	cfg, err := Load("")

	// THEN: defaults apply
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "laborcost.db", cfg.Database.Path)
	assert.Equal(t, 5*time.Second, cfg.Core.TxTimeout)
	assert.Equal(t, "json", cfg.Logger.Format)
	assert.Equal(t, 40, cfg.API.RateLimitBurst)
}

func TestLoad_FileAndEnv(t *testing.T) {
	// GIVEN: a YAML file selecting postgres and an env override for the timeout
	dir := t.TempDir()
	path := filepath.Join(dir, "laborcost.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
database:
  driver: postgres
  dsn: postgres://localhost/laborcost
logger:
  format: console
auth:
  user_roles:
    alice: [approver, payroll_admin]
`), 0o644))
	t.Setenv("LABORCOST_CORE_TX_TIMEOUT", "2s")

	// WHEN: loading
	cfg, err := Load(path)

	// THEN: file values and env override both apply
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "postgres://localhost/laborcost", cfg.Database.DSN)
	assert.Equal(t, "console", cfg.Logger.Format)
	assert.Equal(t, 2*time.Second, cfg.Core.TxTimeout)
	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Addr())
	assert.Equal(t, []string{"approver", "payroll_admin"}, cfg.Auth.UserRoles["alice"])
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Server:   ServerConfig{Port: 8080},
			Database: DatabaseConfig{Driver: DriverSQLite, Path: ":memory:"},
			Core:     CoreConfig{TxTimeout: time.Second},
			Logger:   LoggerConfig{Format: "json"},
			API:      APIConfig{RateLimitPerSecond: 1, RateLimitBurst: 1},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, false},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, false},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = DriverPostgres }, false},
		{"zero timeout", func(c *Config) { c.Core.TxTimeout = 0 }, false},
		{"bad log format", func(c *Config) { c.Logger.Format = "xml" }, false},
		{"limit without burst", func(c *Config) { c.API.RateLimitBurst = 0 }, false},
		{"limiting disabled", func(c *Config) { c.API = APIConfig{} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
