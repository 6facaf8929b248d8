// Package config loads the vmdb configuration file and its environment
// overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DateLayout is the layout of the solarlong range dates.
const DateLayout = "2006-01-02"

// EnvPrefix prefixes every environment override, e.g. VMDB_DATABASE_DSN.
const EnvPrefix = "VMDB"

// Config represents the complete application configuration
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Normalizer NormalizerConfig `mapstructure:"normalizer"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	SolarLong  SolarLongConfig  `mapstructure:"solarlong"`
}

// DatabaseConfig selects the database
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// NormalizerConfig controls the normalization run
type NormalizerConfig struct {
	Workers int  `mapstructure:"workers"`
	Strict  bool `mapstructure:"strict"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Debug      bool   `mapstructure:"debug"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// MetricsConfig holds the metrics output
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// SolarLongConfig is the default date range of the solar longitude table.
// An empty End means tomorrow.
type SolarLongConfig struct {
	Start string `mapstructure:"start"`
	End   string `mapstructure:"end"`
}

// Range parses the configured dates. end is the zero time if End is empty.
func (c SolarLongConfig) Range() (start, end time.Time, err error) {
	start, err = time.Parse(DateLayout, c.Start)
	if err != nil {
		return start, end, fmt.Errorf("solarlong.start: %w", err)
	}
	if c.End != "" {
		end, err = time.Parse(DateLayout, c.End)
		if err != nil {
			return start, end, fmt.Errorf("solarlong.end: %w", err)
		}
	}
	return start, end, nil
}

// Load reads configuration from file and environment variables. An empty
// path uses defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "vmdb.sqlite")
	v.SetDefault("database.max_open_conns", 8)

	v.SetDefault("normalizer.workers", 1)
	v.SetDefault("normalizer.strict", false)

	v.SetDefault("logging.debug", false)
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 3)

	v.SetDefault("metrics.textfile", "")

	v.SetDefault("solarlong.start", "1980-01-01")
	v.SetDefault("solarlong.end", "")
}

// Validate checks that all configuration values are valid. It returns the
// adjustments it made, for the caller to log.
func (c *Config) Validate() (warnings []string, err error) {
	switch c.Database.Driver {
	case "sqlite", "postgres", "pgx":
	default:
		return nil, fmt.Errorf("database.driver must be one of: sqlite, postgres, pgx")
	}
	if c.Database.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	if c.Database.MaxOpenConns < 0 {
		return nil, fmt.Errorf("database.max_open_conns must not be negative")
	}

	if c.Normalizer.Workers < 1 {
		return nil, fmt.Errorf("normalizer.workers must be at least 1")
	}

	if c.Database.Driver == "sqlite" {
		if c.Normalizer.Workers > 1 {
			warnings = append(warnings, fmt.Sprintf("sqlite allows a single writer, using 1 worker instead of %d", c.Normalizer.Workers))
			c.Normalizer.Workers = 1
		}
		// a worker reads on one connection while writing on another
		if c.Database.MaxOpenConns == 1 {
			warnings = append(warnings, "sqlite needs two connections, raising database.max_open_conns to 2")
			c.Database.MaxOpenConns = 2
		}
	}

	if c.Logging.MaxSizeMB < 1 {
		return nil, fmt.Errorf("logging.max_size_mb must be at least 1")
	}
	if c.Logging.MaxBackups < 0 {
		return nil, fmt.Errorf("logging.max_backups must not be negative")
	}

	start, end, err := c.SolarLong.Range()
	if err != nil {
		return nil, err
	}
	if !end.IsZero() && end.Before(start) {
		return nil, fmt.Errorf("solarlong.end must not be before solarlong.start")
	}

	return warnings, nil
}
