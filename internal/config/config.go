// Package config provides configuration types, defaults and loading for
// converge.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// CONVERGE_DATABASE.
const EnvPrefix = "CONVERGE"

// DefaultFile is the config file looked up in the working directory.
const DefaultFile = "converge.yaml"

// Config holds all configuration options for converge.
type Config struct {
	// Registry is the directory of declaration files.
	Registry string `mapstructure:"registry" yaml:"registry"`

	// Predelivered is a directory of bundled declarations registered once
	// at startup. Optional.
	Predelivered string `mapstructure:"predelivered" yaml:"predelivered,omitempty"`

	// Workspaces holds one directory per workspace for publish requests.
	Workspaces string `mapstructure:"workspaces" yaml:"workspaces"`

	Database       string `mapstructure:"database" yaml:"database"`
	TargetDatabase string `mapstructure:"target_database" yaml:"target_database"`

	// Schedule is a cron expression; empty disables scheduled runs.
	Schedule string `mapstructure:"schedule" yaml:"schedule"`

	Watch         bool          `mapstructure:"watch" yaml:"watch"`
	WatchDebounce time.Duration `mapstructure:"watch_debounce" yaml:"watch_debounce"`

	// MetricsAddr is where /metrics is served; empty disables it.
	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr"`

	MaxRounds int  `mapstructure:"max_rounds" yaml:"max_rounds"`
	Enabled   bool `mapstructure:"enabled" yaml:"enabled"`
}

// Defaults returns the default configuration.
func Defaults() Config {
	return Config{
		Registry:       "registry",
		Workspaces:     "workspaces",
		Database:       "converge.db",
		TargetDatabase: "app.db",
		Schedule:       "@every 1m",
		Watch:          true,
		WatchDebounce:  500 * time.Millisecond,
		MetricsAddr:    "127.0.0.1:9464",
		MaxRounds:      10,
		Enabled:        true,
	}
}

// SetDefaults registers the defaults with v so that environment variables
// and flags can override every key.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("registry", d.Registry)
	v.SetDefault("predelivered", d.Predelivered)
	v.SetDefault("workspaces", d.Workspaces)
	v.SetDefault("database", d.Database)
	v.SetDefault("target_database", d.TargetDatabase)
	v.SetDefault("schedule", d.Schedule)
	v.SetDefault("watch", d.Watch)
	v.SetDefault("watch_debounce", d.WatchDebounce)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("max_rounds", d.MaxRounds)
	v.SetDefault("enabled", d.Enabled)
}

// Load reads configuration into v and decodes it. An explicit file must
// exist; without one, converge.yaml in the working directory is used when
// present. Environment variables prefixed with CONVERGE_ override the file.
func Load(v *viper.Viper, file string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("converge")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cfg for errors.
func Validate(cfg Config) error {
	if cfg.Registry == "" {
		return errors.New("registry is required")
	}
	if cfg.Database == "" {
		return errors.New("database is required")
	}
	if cfg.TargetDatabase == "" {
		return errors.New("target_database is required")
	}
	if cfg.MaxRounds < 1 {
		return fmt.Errorf("max_rounds must be at least 1, got %d", cfg.MaxRounds)
	}
	if cfg.WatchDebounce < 0 {
		return fmt.Errorf("watch_debounce must not be negative, got %s", cfg.WatchDebounce)
	}
	if cfg.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
			return fmt.Errorf("schedule %q: %w", cfg.Schedule, err)
		}
	}
	return nil
}
