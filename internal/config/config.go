// Package config loads service settings from an optional YAML file,
// TASKBOARD_* environment variables and command line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. TASKBOARD_STORE_DRIVER.
const EnvPrefix = "TASKBOARD"

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverAzTables = "aztables"
	DriverMemory   = "memory"
)

// Config is the full service configuration.
type Config struct {
	Addr      string      `mapstructure:"addr"`
	StaticDir string      `mapstructure:"static_dir"`
	Log       LogConfig   `mapstructure:"log"`
	Store     StoreConfig `mapstructure:"store"`
	Redis     RedisConfig `mapstructure:"redis"`
	Auth      AuthConfig  `mapstructure:"auth"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StoreConfig struct {
	Driver                string `mapstructure:"driver"`
	SQLitePath            string `mapstructure:"sqlite_path"`
	AzureConnectionString string `mapstructure:"azure_connection_string"`
	AzureTablePrefix      string `mapstructure:"azure_table_prefix"`
}

// RedisConfig enables the change relay and query cache when URL is set.
type RedisConfig struct {
	URL      string        `mapstructure:"url"`
	Channel  string        `mapstructure:"channel"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// AuthConfig enables token verification when JWTSecret or JWKSURL is set.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	JWKSURL   string `mapstructure:"jwks_url"`
	Audience  string `mapstructure:"audience"`
	Issuer    string `mapstructure:"issuer"`
}

var defaults = map[string]any{
	"addr":                          ":8080",
	"static_dir":                    "web/dist",
	"log.level":                     "info",
	"log.format":                    "text",
	"store.driver":                  DriverSQLite,
	"store.sqlite_path":             "data/taskboard.db",
	"store.azure_connection_string": "",
	"store.azure_table_prefix":      "taskboard",
	"redis.url":                     "",
	"redis.channel":                 "taskboard:changes",
	"redis.cache_ttl":               "30s",
	"auth.jwt_secret":               "",
	"auth.jwks_url":                 "",
	"auth.audience":                 "",
	"auth.issuer":                   "",
}

// FlagKeys maps command line flag names onto configuration keys.
var FlagKeys = map[string]string{
	"addr":      "addr",
	"static":    "static_dir",
	"db":        "store.sqlite_path",
	"store":     "store.driver",
	"log-level": "log.level",
}

// Load reads the configuration. When path is empty, ./taskboard.yaml is used
// if present. Flags found in flags override file and environment values.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("taskboard")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	if flags != nil {
		for name, key := range FlagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the selected drivers have what they need.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path is required for the sqlite driver")
		}
	case DriverAzTables:
		if c.Store.AzureConnectionString == "" {
			return errors.New("store.azure_connection_string is required for the aztables driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Redis.CacheTTL < 0 {
		return errors.New("redis.cache_ttl must not be negative")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// NewLogger builds the process logger.
func (c LogConfig) NewLogger() *log.Logger {
	logger := log.New()
	logger.SetOutput(os.Stdout)
	if level, err := log.ParseLevel(c.Level); err == nil {
		logger.SetLevel(level)
	}
	if c.Format == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	} else {
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return logger
}
