// Package config loads gitctx settings from defaults, an optional gitctx.yaml,
// GITCTX_* environment variables and command line flags, in increasing order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/thiagokokada/gitctx/internal/git"
	"github.com/thiagokokada/gitctx/internal/watch"
	"github.com/thiagokokada/gitctx/internal/worker"
)

const (
	EnvPrefix = "GITCTX"
	fileName  = "gitctx"
)

// Config holds all configuration options for gitctx.
type Config struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // "text" or "json"

	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	BlobCacheSize    int           `mapstructure:"blob_cache_size"`
	MaxInFlight      int           `mapstructure:"max_in_flight"`
	ProgressInterval int           `mapstructure:"progress_interval"`

	Watch         bool          `mapstructure:"watch"`
	WatchDebounce time.Duration `mapstructure:"watch_debounce"`

	// MetricsAddr serves Prometheus metrics when set, e.g. ":9090".
	MetricsAddr string `mapstructure:"metrics_addr"`
}

func Defaults() Config {
	return Config{
		LogLevel:         "info",
		LogFormat:        "text",
		RequestTimeout:   worker.DefaultTimeout,
		BlobCacheSize:    git.DefaultCacheSize,
		MaxInFlight:      worker.DefaultMaxInFlight,
		ProgressInterval: git.DefaultProgressInterval,
		WatchDebounce:    watch.DefaultDebounce,
	}
}

// New returns a viper instance with defaults and environment lookup set up.
func New() *viper.Viper {
	v := viper.New()
	d := Defaults()
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("request_timeout", d.RequestTimeout)
	v.SetDefault("blob_cache_size", d.BlobCacheSize)
	v.SetDefault("max_in_flight", d.MaxInFlight)
	v.SetDefault("progress_interval", d.ProgressInterval)
	v.SetDefault("watch", d.Watch)
	v.SetDefault("watch_debounce", d.WatchDebounce)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file, if any, and decodes the result. An explicit
// configFile must exist; otherwise gitctx.yaml is looked up in the current
// directory and the user config directory, and its absence is not an error.
func Load(v *viper.Viper, configFile string) (Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(fileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, fileName))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		slog.Debug("config file loaded", slog.String("path", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout))
	}
	if c.BlobCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("blob_cache_size must be positive, got %d", c.BlobCacheSize))
	}
	if c.MaxInFlight <= 0 {
		errs = append(errs, fmt.Errorf("max_in_flight must be positive, got %d", c.MaxInFlight))
	}
	if c.ProgressInterval <= 0 {
		errs = append(errs, fmt.Errorf("progress_interval must be positive, got %d", c.ProgressInterval))
	}
	if c.WatchDebounce < 0 {
		errs = append(errs, fmt.Errorf("watch_debounce must not be negative, got %s", c.WatchDebounce))
	}
	return errors.Join(errs...)
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// WorkerOptions maps the config onto worker options.
func (c Config) WorkerOptions() worker.Options {
	return worker.Options{
		MaxInFlight: c.MaxInFlight,
		Session: git.Options{
			CacheSize:        c.BlobCacheSize,
			ProgressInterval: c.ProgressInterval,
		},
	}
}
