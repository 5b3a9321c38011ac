// Package config loads the service configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/morbatex/matsecal/internal/retry"
	"github.com/morbatex/matsecal/notify"
)

type Config struct {
	Listen    string          `yaml:"listen"`
	Logging   LoggingConfig   `yaml:"logging"`
	Storage   StorageConfig   `yaml:"storage"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Feed      FeedConfig      `yaml:"feed"`
	NATS      *notify.Config  `yaml:"nats"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StorageConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `yaml:"backend"`
	// Path is the sqlite database file, required for the sqlite backend.
	Path string `yaml:"path"`
}

type SchedulerConfig struct {
	// HorizonDays bounds the conflict index around the wall clock.
	HorizonDays int `yaml:"horizon_days"`
}

type FeedConfig struct {
	Enabled  bool          `yaml:"enabled"`
	BaseURL  string        `yaml:"base_url"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
	Retry    *retry.Config `yaml:"retry"`
	// Import mirrors the feed into scheduler calendars on the cron
	// schedule below.
	Import         bool          `yaml:"import"`
	RefreshCron    string        `yaml:"refresh_cron"`
	RefreshTimeout time.Duration `yaml:"refresh_timeout"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen: ":8000",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
		Scheduler: SchedulerConfig{
			HorizonDays: 730,
		},
		Feed: FeedConfig{
			Enabled:        true,
			RefreshCron:    "*/15 * * * *",
			RefreshTimeout: 5 * time.Minute,
		},
	}
}

// Load reads the YAML file at configPath on top of the defaults. An empty
// path returns the defaults unchanged.
func Load(configPath string) (*Config, error) {
	config := Default()
	if configPath == "" {
		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func (c *Config) validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}

	switch c.Storage.Backend {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Scheduler.HorizonDays <= 0 {
		return fmt.Errorf("scheduler horizon must be positive")
	}

	if c.Feed.Import {
		if !c.Feed.Enabled {
			return fmt.Errorf("feed import requires the feed to be enabled")
		}
		if c.Feed.RefreshCron == "" {
			return fmt.Errorf("feed import requires a refresh schedule")
		}
		if c.Feed.RefreshTimeout <= 0 {
			c.Feed.RefreshTimeout = 5 * time.Minute
		}
	}

	if c.NATS != nil {
		if c.NATS.URL == "" {
			return fmt.Errorf("NATS URL is required")
		}
		if c.NATS.Subject == "" {
			return fmt.Errorf("NATS subject is required")
		}
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	return nil
}
