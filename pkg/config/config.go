// Package config loads and validates the YAML configuration via viper.
// Every option has a default, so the scraper runs without a config file;
// RICEWATCH_* environment variables override file values.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"ricewatch/pkg/models"
	"ricewatch/pkg/retry"
)

type Config struct {
	Categories []string                `mapstructure:"categories"`
	Retry      RetryConfig             `mapstructure:"retry"`
	Output     OutputConfig            `mapstructure:"output"`
	Cache      CacheConfig             `mapstructure:"cache"`
	Logging    LoggingConfig           `mapstructure:"logging"`
	Server     ServerConfig            `mapstructure:"server"`
	Carrefour  map[string]SourceConfig `mapstructure:"carrefour"`
	Lulu       map[string]SourceConfig `mapstructure:"lulu"`
}

type RetryConfig struct {
	MaxAttempts       int     `mapstructure:"max_attempts"`
	DelaySeconds      float64 `mapstructure:"delay_seconds"`
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
}

// Policy converts the config knobs into a retry policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts:       r.MaxAttempts,
		InitialDelay:      time.Duration(r.DelaySeconds * float64(time.Second)),
		BackoffMultiplier: r.BackoffMultiplier,
	}
}

type OutputConfig struct {
	CSVEnabled   bool   `mapstructure:"csv_enabled"`
	ExcelEnabled bool   `mapstructure:"excel_enabled"`
	OutputDir    string `mapstructure:"output_dir"`
}

type CacheConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	TTLMinutes int    `mapstructure:"ttl_minutes"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	File    string `mapstructure:"file"`
	Console bool   `mapstructure:"console"`
}

// ServerConfig configures the dashboard server started with --serve.
type ServerConfig struct {
	Port    int    `mapstructure:"port"`
	SpecDir string `mapstructure:"spec_dir"`
}

// SourceConfig is one retailer's per-country endpoint set.
type SourceConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	SearchURL  string `mapstructure:"search_url"`
	SearchTerm string `mapstructure:"search_term"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("categories", []string{"BASMATI_SELLA", "JASMINE"})

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.delay_seconds", 2.0)
	v.SetDefault("retry.backoff_multiplier", 2.0)

	v.SetDefault("output.csv_enabled", true)
	v.SetDefault("output.excel_enabled", true)
	v.SetDefault("output.output_dir", "output")

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.path", "./cache.db")
	v.SetDefault("cache.ttl_minutes", 60)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "logs/scraper.log")
	v.SetDefault("logging.console", true)

	v.SetDefault("server.port", 9090)
	v.SetDefault("server.spec_dir", "docs")

	v.SetDefault("carrefour.uae.base_url", "https://www.carrefouruae.com")
	v.SetDefault("carrefour.uae.search_url", "https://www.carrefouruae.com/api/v8/search")
	v.SetDefault("carrefour.uae.search_term", "basmati rice")
	v.SetDefault("carrefour.ksa.base_url", "https://www.carrefourksa.com")
	v.SetDefault("carrefour.ksa.search_url", "https://www.carrefourksa.com/api/v8/search")
	v.SetDefault("carrefour.ksa.search_term", "basmati rice")

	v.SetDefault("lulu.uae.base_url", "https://gcc.luluhypermarket.com")
	v.SetDefault("lulu.uae.search_url", "https://gcc.luluhypermarket.com/en-ae/search")
	v.SetDefault("lulu.uae.search_term", "basmati rice")
	v.SetDefault("lulu.ksa.base_url", "https://gcc.luluhypermarket.com")
	v.SetDefault("lulu.ksa.search_url", "https://gcc.luluhypermarket.com/en-sa/search")
	v.SetDefault("lulu.ksa.search_term", "basmati rice")
}

// Load reads configuration from path. A missing file is not an error — the
// defaults cover every option — but an unreadable or malformed one is.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RICEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Categories) == 0 {
		return fmt.Errorf("config: categories must not be empty")
	}
	if _, err := c.CategorySet(); err != nil {
		return err
	}
	if err := c.Retry.Policy().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Output.OutputDir == "" {
		return fmt.Errorf("config: output.output_dir must not be empty")
	}
	if c.Cache.Enabled && c.Cache.TTLMinutes < 1 {
		return fmt.Errorf("config: cache.ttl_minutes must be >= 1, got %d", c.Cache.TTLMinutes)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port must be in 1..65535, got %d", c.Server.Port)
	}
	return nil
}

// CategorySet resolves the configured category names into the typed
// allow-list handed to adapters.
func (c *Config) CategorySet() ([]models.Category, error) {
	set := make([]models.Category, 0, len(c.Categories))
	for _, s := range c.Categories {
		cat, err := models.ParseCategory(s)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		set = append(set, cat)
	}
	return set, nil
}

// Source returns the endpoint set for one retailer and country.
func (c *Config) Source(retailer models.Retailer, country models.Country) (SourceConfig, error) {
	var m map[string]SourceConfig
	switch retailer {
	case models.RetailerCarrefour:
		m = c.Carrefour
	case models.RetailerLulu:
		m = c.Lulu
	default:
		return SourceConfig{}, fmt.Errorf("config: no source block for retailer %q", retailer)
	}
	src, ok := m[string(country)]
	if !ok || src.SearchURL == "" {
		return SourceConfig{}, fmt.Errorf("config: no %s endpoints for country %q", retailer, country)
	}
	return src, nil
}
