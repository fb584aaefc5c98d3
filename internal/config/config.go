// Package config provides application configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the complete application configuration.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Worker     WorkerConfig
	Cache      CacheConfig
	Pipeline   PipelineConfig
	Schedule   ScheduleConfig
	Log        LogConfig
	Sources    map[string]SourceConfig `mapstructure:"sources"`
	Currencies []CurrencyConfig        `mapstructure:"currencies"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port          int  `mapstructure:"port"`
	ServeSwagger  bool `mapstructure:"serve_swagger"`
	ServeAsynqmon bool `mapstructure:"serve_asynqmon"`
	ServeMetrics  bool `mapstructure:"serve_metrics"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	Name               string `mapstructure:"name"`
	SSLMode            string `mapstructure:"sslmode"`
	MaxOpenConns       int    `mapstructure:"max_open_conns"`
	MaxIdleConns       int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSec int    `mapstructure:"conn_max_lifetime_sec"`
	DSN                string
}

// RedisConfig holds connection settings for both Redis instances.
type RedisConfig struct {
	AsynqAddr string `mapstructure:"asynq_addr"` // Redis instance for Asynq task queue (required).
	CacheAddr string `mapstructure:"cache_addr"` // Redis instance for application cache (required).
}

// WorkerConfig holds background worker and task queue settings.
type WorkerConfig struct {
	Concurrency      int `mapstructure:"concurrency"`
	MaxRetry         int `mapstructure:"max_retry"`
	TimeoutSec       int `mapstructure:"timeout_sec"`
	CheckIntervalSec int `mapstructure:"check_interval_sec"`
}

// CacheConfig holds caching settings.
type CacheConfig struct {
	LatestPriceTTLSec int `mapstructure:"latest_price_ttl_sec"`
}

// PipelineConfig tunes the ingestion, aggregation and arbitrage passes.
type PipelineConfig struct {
	RefreshMargin         time.Duration `mapstructure:"refresh_margin"`
	FetchTimeout          time.Duration `mapstructure:"fetch_timeout"`
	ArbitrageThresholdPct float64       `mapstructure:"arbitrage_threshold_pct"`
	ArbitrageSampleSize   int           `mapstructure:"arbitrage_sample_size"`
	AdvisoryLockKey       int64         `mapstructure:"advisory_lock_key"`
	OutlierStrategy       string        `mapstructure:"outlier_strategy"`
}

// ScheduleConfig holds the cron specs registered with the asynq scheduler.
// An empty spec disables that periodic task.
type ScheduleConfig struct {
	IngestCron    string `mapstructure:"ingest_cron"`
	AggregateCron string `mapstructure:"aggregate_cron"`
	ArbitrageCron string `mapstructure:"arbitrage_cron"`
}

// LogConfig selects the zap logger flavour.
type LogConfig struct {
	Development bool `mapstructure:"development"`
}

// SourceConfig holds settings for one source adapter, keyed by adapter name.
type SourceConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	CacheSeconds   int           `mapstructure:"cache_seconds"`
	ExchangeMarket bool          `mapstructure:"exchange_market"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// CurrencyConfig describes a tracked currency.
type CurrencyConfig struct {
	Code         string  `mapstructure:"code"`
	Name         string  `mapstructure:"name"`
	MinProviders int     `mapstructure:"min_providers"`
	MaxStdDev    float64 `mapstructure:"max_std_dev"`
}

// LoadConfig reads configuration from config files, environment variables, and defaults.
func LoadConfig(path string) (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		fmt.Printf("No .env file found or error loading it: %v\n", err)
	}

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("./internal/config")
	}

	v.SetEnvPrefix("PRICEAGG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// It's okay if no config file, we have defaults and env
		fmt.Printf("Config file not found: %v\n", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.applyFallbacks()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	cfg.Database.DSN = fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.User, cfg.Database.Password,
		cfg.Database.Host, cfg.Database.Port,
		cfg.Database.Name, cfg.Database.SSLMode)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.serve_swagger", true)
	v.SetDefault("server.serve_asynqmon", true)
	v.SetDefault("server.serve_metrics", true)
	v.SetDefault("database.host", "db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "pricesdb")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime_sec", 300)
	v.SetDefault("redis.asynq_addr", "redis_asynq:6380")
	v.SetDefault("redis.cache_addr", "redis_cache:6381")
	v.SetDefault("worker.concurrency", 10)
	v.SetDefault("worker.max_retry", 1)
	v.SetDefault("worker.timeout_sec", 60)
	v.SetDefault("worker.check_interval_sec", 5)
	v.SetDefault("cache.latest_price_ttl_sec", 120)
	v.SetDefault("pipeline.refresh_margin", "1m")
	v.SetDefault("pipeline.fetch_timeout", "20s")
	v.SetDefault("pipeline.arbitrage_threshold_pct", 10.0)
	v.SetDefault("pipeline.arbitrage_sample_size", 3)
	v.SetDefault("pipeline.advisory_lock_key", 7_340_211)
	v.SetDefault("pipeline.outlier_strategy", "iqr")
	v.SetDefault("schedule.ingest_cron", "@every 1m")
	v.SetDefault("schedule.aggregate_cron", "@every 5m")
	v.SetDefault("schedule.arbitrage_cron", "@every 5m")
	v.SetDefault("log.development", false)
	v.SetDefault("sources.frankfurter.enabled", true)
	v.SetDefault("sources.frankfurter.base_url", "https://api.frankfurter.dev/v1")
	v.SetDefault("sources.frankfurter.cache_seconds", 3600)
	v.SetDefault("sources.bitstamp.enabled", true)
	v.SetDefault("sources.bitstamp.base_url", "https://www.bitstamp.net/api/v2")
	v.SetDefault("sources.bitstamp.cache_seconds", 300)
	v.SetDefault("sources.bittrex.enabled", false)
	v.SetDefault("sources.bittrex.base_url", "https://api.bittrex.com/api/v1.1")
	v.SetDefault("sources.bittrex.cache_seconds", 300)
	v.SetDefault("sources.bittrex.exchange_market", true)
	v.SetDefault("sources.exchangerate_host.enabled", false)
	v.SetDefault("sources.exchangerate_host.base_url", "https://api.exchangerate.host")
	v.SetDefault("sources.exchangerate_host.cache_seconds", 3600)
}

// applyFallbacks fills zero values that would otherwise make the pool or the pipeline unusable.
func (c *Config) applyFallbacks() {
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetimeSec <= 0 {
		c.Database.ConnMaxLifetimeSec = 300
	}
	for name, src := range c.Sources {
		if src.Timeout <= 0 {
			src.Timeout = 10 * time.Second
		}
		c.Sources[name] = src
	}
}

// Validate checks that all required configuration fields are set and valid.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be positive, got %d", c.Server.Port))
	}

	if c.Database.Host == "" {
		errs = append(errs, fmt.Errorf("database.host is required"))
	}
	if c.Database.Port <= 0 {
		errs = append(errs, fmt.Errorf("database.port must be positive, got %d", c.Database.Port))
	}
	if c.Database.User == "" {
		errs = append(errs, fmt.Errorf("database.user is required"))
	}
	if c.Database.Name == "" {
		errs = append(errs, fmt.Errorf("database.name is required"))
	}

	if c.Redis.AsynqAddr == "" {
		errs = append(errs, fmt.Errorf("redis.asynq_addr is required (set PRICEAGG_REDIS_ASYNQ_ADDR)"))
	}
	if c.Redis.CacheAddr == "" {
		errs = append(errs, fmt.Errorf("redis.cache_addr is required (set PRICEAGG_REDIS_CACHE_ADDR)"))
	}

	if c.Worker.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("worker.concurrency must be positive, got %d", c.Worker.Concurrency))
	}
	if c.Worker.MaxRetry < 0 {
		errs = append(errs, fmt.Errorf("worker.max_retry must be non-negative, got %d", c.Worker.MaxRetry))
	}
	if c.Worker.TimeoutSec <= 0 {
		errs = append(errs, fmt.Errorf("worker.timeout_sec must be positive, got %d", c.Worker.TimeoutSec))
	}
	if c.Worker.CheckIntervalSec <= 0 {
		errs = append(errs, fmt.Errorf("worker.check_interval_sec must be positive, got %d", c.Worker.CheckIntervalSec))
	}

	if c.Cache.LatestPriceTTLSec <= 0 {
		errs = append(errs, fmt.Errorf("cache.latest_price_ttl_sec must be positive, got %d", c.Cache.LatestPriceTTLSec))
	}

	if c.Pipeline.RefreshMargin <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.refresh_margin must be positive, got %s", c.Pipeline.RefreshMargin))
	}
	if c.Pipeline.FetchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.fetch_timeout must be positive, got %s", c.Pipeline.FetchTimeout))
	}
	if c.Pipeline.ArbitrageThresholdPct <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.arbitrage_threshold_pct must be positive, got %v", c.Pipeline.ArbitrageThresholdPct))
	}
	if c.Pipeline.ArbitrageSampleSize < 2 {
		errs = append(errs, fmt.Errorf("pipeline.arbitrage_sample_size must be at least 2, got %d", c.Pipeline.ArbitrageSampleSize))
	}
	switch strings.ToLower(strings.TrimSpace(c.Pipeline.OutlierStrategy)) {
	case "", "iqr", "stddev":
	default:
		errs = append(errs, fmt.Errorf("pipeline.outlier_strategy must be iqr or stddev, got %q", c.Pipeline.OutlierStrategy))
	}

	for name, src := range c.Sources {
		if !src.Enabled {
			continue
		}
		if src.BaseURL == "" {
			errs = append(errs, fmt.Errorf("sources.%s.base_url is required", name))
		}
		if src.CacheSeconds <= 0 {
			errs = append(errs, fmt.Errorf("sources.%s.cache_seconds must be positive, got %d", name, src.CacheSeconds))
		}
	}

	seen := make(map[string]struct{}, len(c.Currencies))
	for i, cur := range c.Currencies {
		code := strings.ToUpper(strings.TrimSpace(cur.Code))
		if code == "" {
			errs = append(errs, fmt.Errorf("currencies[%d].code is required", i))
			continue
		}
		if _, dup := seen[code]; dup {
			errs = append(errs, fmt.Errorf("currencies[%d].code %s is duplicated", i, code))
		}
		seen[code] = struct{}{}
	}

	return errors.Join(errs...)
}
