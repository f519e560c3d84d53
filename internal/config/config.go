// Package config loads walktracker settings from defaults, an optional YAML
// file and WALK_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // stats time zones must resolve on hosts without zoneinfo

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. WALK_DB_PATH.
const EnvPrefix = "WALK"

// Config is the complete runtime configuration.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	DB     DBConfig     `mapstructure:"db"`
	Log    LogConfig    `mapstructure:"log"`
	Auth   AuthConfig   `mapstructure:"auth"`
	Stats  StatsConfig  `mapstructure:"stats"`
	Live   LiveConfig   `mapstructure:"live"`
	Client ClientConfig `mapstructure:"client"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
}

// AuthConfig holds the secret shared with the identity provider. An empty
// secret runs the server without authentication. With Required unset, valid
// tokens still identify walkers but anonymous requests are let through.
type AuthConfig struct {
	Secret   string        `mapstructure:"secret"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
	Required bool          `mapstructure:"required"`
}

type StatsConfig struct {
	TimeZone   string        `mapstructure:"timezone"`
	WindowDays int           `mapstructure:"window_days"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl"`
}

type LiveConfig struct {
	Backoff BackoffConfig `mapstructure:"backoff"`
}

// BackoffConfig bounds reconnect attempts of a live channel. After
// MaxElapsed without a successful reconnect the channel reports itself
// stale and keeps retrying every Max.
type BackoffConfig struct {
	Initial    time.Duration `mapstructure:"initial"`
	Max        time.Duration `mapstructure:"max"`
	MaxElapsed time.Duration `mapstructure:"max_elapsed"`
}

// ClientConfig is used by the CLI commands that talk to a running server.
type ClientConfig struct {
	Server string `mapstructure:"server"`
	Token  string `mapstructure:"token"`
}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("db.path", "./data/walks.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.token_ttl", 30*24*time.Hour)
	v.SetDefault("auth.required", true)
	v.SetDefault("stats.timezone", "UTC")
	v.SetDefault("stats.window_days", 7)
	v.SetDefault("stats.cache_ttl", 30*time.Second)
	v.SetDefault("live.backoff.initial", 500*time.Millisecond)
	v.SetDefault("live.backoff.max", 30*time.Second)
	v.SetDefault("live.backoff.max_elapsed", 2*time.Minute)
	v.SetDefault("client.server", "http://localhost:8080")
	v.SetDefault("client.token", "")
}

// Load reads the config file, if any, and decodes the merged settings.
// configFile may be empty, in which case walktracker.yaml is looked up in
// the working directory and $HOME/.config/walktracker; a missing file is not
// an error.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("walktracker")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/walktracker")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail late.
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Addr == "" {
		problems = append(problems, "server.addr must not be empty")
	}
	if c.DB.Path == "" {
		problems = append(problems, "db.path must not be empty")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	if _, err := time.LoadLocation(c.Stats.TimeZone); err != nil {
		problems = append(problems, fmt.Sprintf("stats.timezone: %v", err))
	}
	if c.Stats.WindowDays <= 0 {
		problems = append(problems, "stats.window_days must be positive")
	}
	if c.Stats.CacheTTL < 0 {
		problems = append(problems, "stats.cache_ttl must not be negative")
	}
	b := c.Live.Backoff
	if b.Initial <= 0 || b.Max < b.Initial {
		problems = append(problems, "live.backoff needs 0 < initial <= max")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// Location returns the stats time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Stats.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}
