/*
Package config loads server configuration with viper.

SOURCES (later wins):
  1. Defaults below
  2. Optional YAML file (-config flag, or ./airblock.yaml when present)
  3. Environment, prefixed AIRBLOCK_ with dots as underscores
     (AIRBLOCK_SERVER_PORT, AIRBLOCK_LEDGER_BLOCK_TIME=2s)
  4. Command-line flags, applied by cmd/server after Load

KEYS:
  server.port              HTTP port
  server.allowed_origins   CORS origins (comma-separated in env)
  ledger.backend           memory | sqlite
  ledger.db_path           SQLite path, ":memory:" allowed
  ledger.block_time        Delay before each mined block
  sync.refresh_interval    Periodic cache refresh, 0 disables
  log.level                debug | info | warn | error
  log.format               text | json
*/
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LedgerConfig struct {
	Backend   string        `mapstructure:"backend"`
	DBPath    string        `mapstructure:"db_path"`
	BlockTime time.Duration `mapstructure:"block_time"`
}

type SyncConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Ledger LedgerConfig `mapstructure:"ledger"`
	Sync   SyncConfig   `mapstructure:"sync"`
	Log    LogConfig    `mapstructure:"log"`
}

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"

	EnvPrefix = "AIRBLOCK"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000", "http://localhost:5173"})
	v.SetDefault("ledger.backend", BackendMemory)
	v.SetDefault("ledger.db_path", "airblock.db")
	v.SetDefault("ledger.block_time", "0s")
	v.SetDefault("sync.refresh_interval", "30s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration. An empty path looks for ./airblock.yaml and
// carries on without it; an explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("airblock")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks enumerated values and ranges.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Ledger.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Ledger.DBPath == "" {
			return errors.New("ledger.db_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("ledger.backend %q: want %s or %s", c.Ledger.Backend, BackendMemory, BackendSQLite)
	}
	if c.Ledger.BlockTime < 0 || c.Sync.RefreshInterval < 0 {
		return errors.New("durations must not be negative")
	}
	if _, err := c.Log.level(); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format %q: want text or json", c.Log.Format)
	}
	return nil
}

func (l LogConfig) level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}

// NewLogger builds the process logger described by l.
func (l LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	lvl, err := l.level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
