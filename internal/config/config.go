// Package config loads the server configuration from a YAML file overlaid
// by environment variables, then fills defaults and validates the result.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server struct {
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s" validate:"gt=0"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s" validate:"gt=0"`
		IdleTimeout     time.Duration `yaml:"idle_timeout" default:"60s"`
		RequestTimeout  time.Duration `yaml:"request_timeout" default:"30s" validate:"gt=0"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"5s" validate:"gt=0"`
	} `yaml:"server"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL      string        `yaml:"url"`
		CacheTTL time.Duration `yaml:"cache_ttl" default:"30s" validate:"gt=0"`
	} `yaml:"redis"`
	Pricing struct {
		LookupTimeout time.Duration `yaml:"lookup_timeout" default:"5s" validate:"gt=0"`
	} `yaml:"pricing"`
	Limits struct {
		// Zero disables a limit.
		MaxPerInstrument string `yaml:"max_per_instrument" default:"0" validate:"numeric"`
		MaxCorrelated    string `yaml:"max_correlated" default:"0" validate:"numeric"`
	} `yaml:"limits"`
	Log struct {
		Level string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	} `yaml:"log"`
}

var validate = validator.New()

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables on the file values.
func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if err := envDuration("CACHE_TTL", &c.Redis.CacheTTL); err != nil {
		return err
	}
	return envDuration("PRICE_LOOKUP_TIMEOUT", &c.Pricing.LookupTimeout)
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = d
	return nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Server.Port)
}

// LogLevel maps the configured level to slog.
func (c *Config) LogLevel() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ExposureLimits returns the per-instrument and correlated-group limits.
// Values are validated as numeric by Load.
func (c *Config) ExposureLimits() (perInstrument, correlated decimal.Decimal) {
	perInstrument, _ = decimal.NewFromString(c.Limits.MaxPerInstrument)
	correlated, _ = decimal.NewFromString(c.Limits.MaxCorrelated)
	return perInstrument, correlated
}
