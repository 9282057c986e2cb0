// Package config loads application configuration from config files,
// environment variables, and defaults, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/nkozyrev/mpcrawl/internal/logger"
)

// Defaults for the crawl engine.
const (
	DefaultMultiplier   = 1.0
	DefaultBatchSize    = 1
	DefaultBackoff      = 250 * time.Millisecond
	DefaultLeaseTimeout = 30 * time.Minute
	DefaultMaxRetries   = 3
	DefaultRetryDelay   = 5 * time.Minute

	DefaultCategoriesInterval = 7 * 24 * time.Hour
	DefaultItemFactsInterval  = 7 * 24 * time.Hour
	DefaultRevisionsInterval  = 24 * time.Hour
	DefaultImagesInterval     = 7 * 24 * time.Hour

	DefaultRequestTimeout = 30 * time.Second
)

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// CrawlerConfig holds the claim/engine settings shared by all entity types.
type CrawlerConfig struct {
	Multiplier     float64       `mapstructure:"multiplier"`
	BatchSize      int           `mapstructure:"batch_size"`
	Backoff        time.Duration `mapstructure:"backoff"`
	LeaseTimeout   time.Duration `mapstructure:"lease_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Proxies        []string      `mapstructure:"proxies"`
	UserAgents     []string      `mapstructure:"user_agents"`
	ReapEvery      string        `mapstructure:"reap_every"` // cron spec
}

// IntervalsConfig holds the per-entity refresh cadences applied to newly
// created rows. Existing rows keep their stored interval.
type IntervalsConfig struct {
	Categories time.Duration `mapstructure:"categories"`
	ItemFacts  time.Duration `mapstructure:"item_facts"`
	Revisions  time.Duration `mapstructure:"revisions"`
	Images     time.Duration `mapstructure:"images"`
}

// MarketplaceConfig identifies the crawled marketplace and its endpoints.
type MarketplaceConfig struct {
	Name          string `mapstructure:"name"`
	BaseURL       string `mapstructure:"base_url"`
	CategoriesURL string `mapstructure:"categories_url"`
	ItemsAPIURL   string `mapstructure:"items_api_url"`
	SellersAPIURL string `mapstructure:"sellers_api_url"`
	ItemsPerPage  int    `mapstructure:"items_per_page"`
}

// Config is the root configuration object.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logger      logger.Config     `mapstructure:"logger"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Crawler     CrawlerConfig     `mapstructure:"crawler"`
	Intervals   IntervalsConfig   `mapstructure:"intervals"`
	Marketplace MarketplaceConfig `mapstructure:"marketplace"`
}

// Init wires viper: .env, automatic env with `.`->`_` replacement, optional
// YAML config file, and defaults. Called once from the root command.
func Init(cfgFile string) error {
	if err := godotenv.Load(); err != nil {
		// .env is optional; environment variables still apply.
		_ = err
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// Config file is optional: defaults and environment variables
		// are enough to run.
		fmt.Fprintf(os.Stderr, "Warning: config file not found: %v\n", err)
	}

	return nil
}

// Load decodes the current viper state into a Config.
func Load() (*Config, error) {
	var cfg Config

	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)

	if err := viper.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks settings that have no sensible fallback.
func (c *Config) Validate() error {
	if c.Crawler.Multiplier < 0 {
		return fmt.Errorf("crawler.multiplier must be >= 0, got %v", c.Crawler.Multiplier)
	}
	if c.Crawler.BatchSize < 1 {
		return fmt.Errorf("crawler.batch_size must be >= 1, got %d", c.Crawler.BatchSize)
	}
	if c.Crawler.LeaseTimeout <= 0 {
		return fmt.Errorf("crawler.lease_timeout must be positive, got %v", c.Crawler.LeaseTimeout)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	return nil
}

// setDefaults sets default configuration values.
func setDefaults() {
	viper.SetDefault("app", map[string]any{
		"name":        "mpcrawl",
		"environment": "production",
		"debug":       false,
	})

	viper.SetDefault("logger", map[string]any{
		"level":       "info",
		"encoding":    "json",
		"development": false,
	})

	viper.SetDefault("database", map[string]any{
		"host":             "127.0.0.1",
		"port":             5432,
		"user":             "mpcrawl",
		"password":         "",
		"name":             "mpcrawl",
		"sslmode":          "disable",
		"max_open_conns":   25,
		"max_idle_conns":   5,
		"conn_max_lifetime": "5m",
		"migrations_path":  "migrations",
	})

	viper.SetDefault("crawler", map[string]any{
		"multiplier":      DefaultMultiplier,
		"batch_size":      DefaultBatchSize,
		"backoff":         DefaultBackoff.String(),
		"lease_timeout":   DefaultLeaseTimeout.String(),
		"max_retries":     DefaultMaxRetries,
		"retry_delay":     DefaultRetryDelay.String(),
		"request_timeout": DefaultRequestTimeout.String(),
		"reap_every":      "@every 5m",
	})

	viper.SetDefault("intervals", map[string]any{
		"categories": DefaultCategoriesInterval.String(),
		"item_facts": DefaultItemFactsInterval.String(),
		"revisions":  DefaultRevisionsInterval.String(),
		"images":     DefaultImagesInterval.String(),
	})

	viper.SetDefault("marketplace", map[string]any{
		"name":            "wildberries",
		"base_url":        "https://www.wildberries.ru",
		"categories_url":  "https://www.wildberries.ru/catalog",
		"items_api_url":   "https://nm-2-card.wildberries.ru/enrichment/v1/api?&nm=%s",
		"sellers_api_url": "https://www.wildberries.ru/product/getsellers?ids=%s",
		"items_per_page":  100,
	})
}
