package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Raw      RawConfig      `yaml:"raw" mapstructure:"raw"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Fetch    FetchConfig    `yaml:"fetch" mapstructure:"fetch"`
	Lookup   LookupConfig   `yaml:"lookup" mapstructure:"lookup"`
	Match    MatchConfig    `yaml:"match" mapstructure:"match"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
}

// StoreConfig configures the warehouse backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// RawConfig locates the raw bulk files.
type RawConfig struct {
	Source string   `yaml:"source" mapstructure:"source"`
	Dir    string   `yaml:"dir" mapstructure:"dir"`
	S3     S3Config `yaml:"s3" mapstructure:"s3"`
}

// S3Config configures the S3 mirror of the bulk files.
type S3Config struct {
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Prefix          string `yaml:"prefix" mapstructure:"prefix"`
	Region          string `yaml:"region" mapstructure:"region"`
	Endpoint        string `yaml:"endpoint" mapstructure:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" mapstructure:"secret_access_key"`
	PathStyle       bool   `yaml:"path_style" mapstructure:"path_style"`
}

// PipelineConfig configures cycle builds.
type PipelineConfig struct {
	Cycles     []int  `yaml:"cycles" mapstructure:"cycles"`
	Workers    int    `yaml:"workers" mapstructure:"workers"`
	TopN       int    `yaml:"top_n" mapstructure:"top_n"`
	HeaderSpec string `yaml:"header_spec" mapstructure:"header_spec"`
}

// FetchConfig configures bulk downloads from the FEC.
type FetchConfig struct {
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	APIKey            string  `yaml:"api_key" mapstructure:"api_key"`
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
	QuotaPerWindow    int     `yaml:"quota_per_window" mapstructure:"quota_per_window"`
	WindowSecs        int     `yaml:"window_secs" mapstructure:"window_secs"`
	MaxRetries        int     `yaml:"max_retries" mapstructure:"max_retries"`
	InitialBackoffMs  int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs      int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	MaxHintWaitSecs   int     `yaml:"max_hint_wait_secs" mapstructure:"max_hint_wait_secs"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier" mapstructure:"backoff_multiplier"`
	JitterFraction    float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// Window returns the quota window as a duration.
func (f FetchConfig) Window() time.Duration {
	return time.Duration(f.WindowSecs) * time.Second
}

// LookupConfig configures the profile cache.
type LookupConfig struct {
	CacheTTLSecs int    `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
	CacheSize    int    `yaml:"cache_size" mapstructure:"cache_size"`
	RedisURL     string `yaml:"redis_url" mapstructure:"redis_url"`
}

// CacheTTL returns the cache TTL as a duration.
func (l LookupConfig) CacheTTL() time.Duration {
	return time.Duration(l.CacheTTLSecs) * time.Second
}

// MatchConfig configures the local match cache.
type MatchConfig struct {
	CachePath    string `yaml:"cache_path" mapstructure:"cache_path"`
	CacheTTLSecs int    `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
}

// ServerConfig configures the HTTP lookup server.
type ServerConfig struct {
	Port         int      `yaml:"port" mapstructure:"port"`
	CORSOrigins  []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	ReloadSecs   int      `yaml:"reload_secs" mapstructure:"reload_secs"`
	MaxBatch     int      `yaml:"max_batch" mapstructure:"max_batch"`
	ShutdownSecs int      `yaml:"shutdown_secs" mapstructure:"shutdown_secs"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CAMPAIGNFIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("raw.source", "fs")
	v.SetDefault("raw.dir", "data/raw")
	v.SetDefault("raw.s3.bucket", "")
	v.SetDefault("raw.s3.prefix", "")
	v.SetDefault("raw.s3.region", "us-east-1")
	v.SetDefault("raw.s3.endpoint", "")
	v.SetDefault("raw.s3.access_key_id", "")
	v.SetDefault("raw.s3.secret_access_key", "")
	v.SetDefault("raw.s3.path_style", false)
	v.SetDefault("pipeline.workers", 3)
	v.SetDefault("pipeline.top_n", 25)
	v.SetDefault("pipeline.header_spec", "")
	v.SetDefault("fetch.base_url", "https://www.fec.gov/files/bulk-downloads")
	v.SetDefault("fetch.api_key", "")
	v.SetDefault("fetch.user_agent", "campaignfin/1.0")
	v.SetDefault("fetch.quota_per_window", 1000)
	v.SetDefault("fetch.window_secs", 3600)
	v.SetDefault("fetch.max_retries", 5)
	v.SetDefault("fetch.initial_backoff_ms", 500)
	v.SetDefault("fetch.max_backoff_ms", 30000)
	v.SetDefault("fetch.max_hint_wait_secs", 300)
	v.SetDefault("fetch.backoff_multiplier", 2.0)
	v.SetDefault("fetch.jitter_fraction", 0.25)
	v.SetDefault("fetch.requests_per_second", 5)
	v.SetDefault("fetch.timeout_secs", 600)
	v.SetDefault("lookup.cache_ttl_secs", 3600)
	v.SetDefault("lookup.cache_size", 10000)
	v.SetDefault("lookup.redis_url", "")
	v.SetDefault("match.cache_path", "data/match_cache.db")
	v.SetDefault("match.cache_ttl_secs", 0)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.reload_secs", 60)
	v.SetDefault("server.max_batch", 1000)
	v.SetDefault("server.shutdown_secs", 30)

	// Slice keys have no useful default; bind them so env still reaches them.
	_ = v.BindEnv("pipeline.cycles")
	_ = v.BindEnv("server.cors_origins")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes: build,
// fetch, migrate, status, match, lookup, serve.
func (c *Config) Validate(mode string) error {
	var errs []string
	needStore := func() {
		switch c.Store.Driver {
		case "postgres":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store.database_url is required")
			}
		case "memory":
		default:
			errs = append(errs, fmt.Sprintf("store.driver %q must be postgres or memory", c.Store.Driver))
		}
	}
	needRaw := func() {
		switch c.Raw.Source {
		case "fs":
			if c.Raw.Dir == "" {
				errs = append(errs, "raw.dir is required")
			}
		case "s3":
			if c.Raw.S3.Bucket == "" {
				errs = append(errs, "raw.s3.bucket is required")
			}
		default:
			errs = append(errs, fmt.Sprintf("raw.source %q must be fs or s3", c.Raw.Source))
		}
	}

	switch mode {
	case "build":
		needStore()
		needRaw()
		if c.Pipeline.Workers < 1 || c.Pipeline.Workers > 16 {
			errs = append(errs, "pipeline.workers must be between 1 and 16")
		}
		if c.Pipeline.TopN < 1 {
			errs = append(errs, "pipeline.top_n must be > 0")
		}
	case "fetch":
		if c.Raw.Dir == "" {
			errs = append(errs, "raw.dir is required")
		}
		if c.Fetch.BaseURL == "" {
			errs = append(errs, "fetch.base_url is required")
		}
		if c.Fetch.MaxRetries < 1 {
			errs = append(errs, "fetch.max_retries must be > 0")
		}
	case "migrate", "status", "match", "lookup":
		needStore()
	case "serve":
		needStore()
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
