// Package config loads and validates crawlrules configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. CRAWLRULES_SERVER_PORT.
const EnvPrefix = "CRAWLRULES"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Robots    RobotsConfig    `mapstructure:"robots"`
	Redirect  RedirectConfig  `mapstructure:"redirect"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Progress  ProgressConfig  `mapstructure:"progress"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs the dispatcher and crawl pipeline.
type CrawlerConfig struct {
	Concurrency        int      `mapstructure:"concurrency"`
	UserAgent          string   `mapstructure:"user_agent"`
	QueueDepth         int      `mapstructure:"queue_depth"`
	Seeds              []string `mapstructure:"seeds"`
	BlockedDomains     []string `mapstructure:"blocked_domains"`
	FollowSitemaps     bool     `mapstructure:"follow_sitemaps"`
	MaxSitemapURLs     int      `mapstructure:"max_sitemap_urls"`
	ForbiddenThreshold int      `mapstructure:"forbidden_threshold"`
	RatePerSecond      float64  `mapstructure:"rate_per_second"`
	Burst              int      `mapstructure:"burst"`
	Output             string   `mapstructure:"output"`
}

// RobotsConfig controls robots.txt enforcement.
type RobotsConfig struct {
	Respect         bool `mapstructure:"respect"`
	CacheTTLSeconds int  `mapstructure:"cache_ttl_seconds"`
	CacheSize       int  `mapstructure:"cache_size"`
	TimeoutSeconds  int  `mapstructure:"timeout_seconds"`
}

// RedirectConfig bounds redirect following.
type RedirectConfig struct {
	MaxHops int `mapstructure:"max_hops"`
}

// HTTPConfig configures HTTP client retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig configures the tracer provider.
type TelemetryConfig struct {
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
	ServiceName    string  `mapstructure:"service_name"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
}

// ProgressConfig controls crawl progress batching and its sinks.
type ProgressConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	LogEnabled     bool `mapstructure:"log_enabled"`
	BufferSize     int  `mapstructure:"buffer_size"`
	MaxBatchEvents int  `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int  `mapstructure:"max_batch_wait_ms"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.user_agent", "crawlrules-bot/0.1")
	v.SetDefault("crawler.queue_depth", 256)
	v.SetDefault("crawler.seeds", []string{})
	v.SetDefault("crawler.blocked_domains", []string{})
	v.SetDefault("crawler.follow_sitemaps", false)
	v.SetDefault("crawler.max_sitemap_urls", 1000)
	v.SetDefault("crawler.forbidden_threshold", 3)
	v.SetDefault("crawler.rate_per_second", 1.0)
	v.SetDefault("crawler.burst", 1)
	v.SetDefault("crawler.output", "")
	v.SetDefault("robots.respect", true)
	v.SetDefault("robots.cache_ttl_seconds", 3600)
	v.SetDefault("robots.cache_size", 1024)
	v.SetDefault("robots.timeout_seconds", 10)
	v.SetDefault("redirect.max_hops", 10)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 2000)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.service_name", "crawlrules")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", false)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait_ms", 250)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.QueueDepth <= 0 {
		return fmt.Errorf("crawler.queue_depth must be > 0")
	}
	if strings.TrimSpace(c.Crawler.UserAgent) == "" {
		return fmt.Errorf("crawler.user_agent must be set")
	}
	if c.Crawler.RatePerSecond < 0 {
		return fmt.Errorf("crawler.rate_per_second must be >= 0")
	}
	if c.Crawler.MaxSitemapURLs < 0 {
		return fmt.Errorf("crawler.max_sitemap_urls must be >= 0")
	}
	if c.Robots.CacheSize < 0 {
		return fmt.Errorf("robots.cache_size must be >= 0")
	}
	if c.Redirect.MaxHops < 0 {
		return fmt.Errorf("redirect.max_hops must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Progress.BufferSize < 0 || c.Progress.MaxBatchEvents < 0 || c.Progress.MaxBatchWaitMs < 0 {
		return fmt.Errorf("progress sizes must be >= 0")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	return nil
}

// FetchTimeout returns the per-request HTTP timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RobotsTimeout returns the robots.txt fetch timeout, falling back to the HTTP timeout.
func (c Config) RobotsTimeout() time.Duration {
	if c.Robots.TimeoutSeconds > 0 {
		return time.Duration(c.Robots.TimeoutSeconds) * time.Second
	}
	return c.FetchTimeout()
}

// RobotsCacheTTL returns how long a parsed robots.txt stays cached.
func (c Config) RobotsCacheTTL() time.Duration {
	return time.Duration(c.Robots.CacheTTLSeconds) * time.Second
}

// RequestTimeout returns the API handler deadline.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout returns the graceful shutdown budget for the API server.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
