// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Validation ValidationConfig `mapstructure:"validation"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Schedule   ScheduleConfig   `mapstructure:"schedule"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlerConfig governs politeness and the job loop.
type CrawlerConfig struct {
	UserAgent             string  `mapstructure:"user_agent"`
	Loader                string  `mapstructure:"loader"`
	MinDelaySeconds       float64 `mapstructure:"min_delay_seconds"`
	MaxDelaySeconds       float64 `mapstructure:"max_delay_seconds"`
	RespectRobots         bool    `mapstructure:"respect_robots"`
	RobotsCacheTTLSeconds int     `mapstructure:"robots_cache_ttl_seconds"`
	RobotsTimeoutSeconds  int     `mapstructure:"robots_timeout_seconds"`
	SourceTimeoutSeconds  int     `mapstructure:"source_timeout_seconds"`
	HistoryLimit          int     `mapstructure:"history_limit"`
	HostRequestsPerSecond float64 `mapstructure:"host_rps"`
	CatalogPath           string  `mapstructure:"catalog_path"`
}

// RetryConfig shapes the exponential backoff around source extraction.
type RetryConfig struct {
	MaxRetries      int     `mapstructure:"max_retries"`
	BaseDelayMs     int     `mapstructure:"base_delay_ms"`
	MaxDelayMs      int     `mapstructure:"max_delay_ms"`
	ExponentialBase float64 `mapstructure:"exponential_base"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	MaxParallel   int `mapstructure:"max_parallel"`
	NavTimeoutSec int `mapstructure:"nav_timeout_seconds"`
}

// HTTPConfig configures the static page loader.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// ValidationConfig sets the change significance threshold.
type ValidationConfig struct {
	SignificantChangePercent float64 `mapstructure:"significant_change_percent"`
}

// StorageConfig selects the plan store backend.
type StorageConfig struct {
	Backend      string `mapstructure:"backend"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	SQLitePath   string `mapstructure:"sqlite_path"`
}

// ArchiveConfig selects where raw page captures are kept.
type ArchiveConfig struct {
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// NotifyConfig lists the enabled alert channels.
type NotifyConfig struct {
	Log    bool         `mapstructure:"log"`
	Email  EmailConfig  `mapstructure:"email"`
	PubSub PubSubConfig `mapstructure:"pubsub"`
}

// EmailConfig holds SMTP settings for alert mail.
type EmailConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Host       string   `mapstructure:"host"`
	Port       int      `mapstructure:"port"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	From       string   `mapstructure:"from"`
	Recipients []string `mapstructure:"recipients"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ScheduleConfig drives the weekly crawl trigger.
type ScheduleConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Cron     string `mapstructure:"cron"`
	Timezone string `mapstructure:"timezone"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("JPPC")
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

// DefaultUserAgent is a desktop Chrome identifier; several utility sites
// serve reduced markup to unknown agents.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("crawler.user_agent", DefaultUserAgent)
	v.SetDefault("crawler.loader", "headless")
	v.SetDefault("crawler.min_delay_seconds", 2.0)
	v.SetDefault("crawler.max_delay_seconds", 4.0)
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.robots_cache_ttl_seconds", 3600)
	v.SetDefault("crawler.robots_timeout_seconds", 10)
	v.SetDefault("crawler.source_timeout_seconds", 600)
	v.SetDefault("crawler.history_limit", 50)
	v.SetDefault("crawler.host_rps", 1.0)
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.base_delay_ms", 1000)
	v.SetDefault("retry.max_delay_ms", 30000)
	v.SetDefault("retry.exponential_base", 2.0)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("validation.significant_change_percent", 5.0)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.max_open_conns", 4)
	v.SetDefault("storage.max_idle_conns", 1)
	v.SetDefault("storage.sqlite_path", "jppc.db")
	v.SetDefault("archive.backend", "none")
	v.SetDefault("archive.base_dir", "archive")
	v.SetDefault("archive.prefix", "raw")
	v.SetDefault("notify.log", true)
	v.SetDefault("notify.email.port", 587)
	v.SetDefault("schedule.enabled", false)
	v.SetDefault("schedule.cron", "0 0 2 * * 1")
	v.SetDefault("schedule.timezone", "Asia/Tokyo")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Crawler.MinDelaySeconds < 0 {
		return fmt.Errorf("crawler.min_delay_seconds must be >= 0")
	}
	if c.Crawler.MaxDelaySeconds < c.Crawler.MinDelaySeconds {
		return fmt.Errorf("crawler.max_delay_seconds must be >= crawler.min_delay_seconds")
	}
	switch c.Crawler.Loader {
	case "headless", "http":
	default:
		return fmt.Errorf("crawler.loader must be headless or http, got %q", c.Crawler.Loader)
	}
	if c.Crawler.HistoryLimit <= 0 {
		return fmt.Errorf("crawler.history_limit must be > 0")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0")
	}
	if c.Retry.ExponentialBase < 1 {
		return fmt.Errorf("retry.exponential_base must be >= 1")
	}
	if c.Crawler.Loader == "headless" && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when the headless loader is selected")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn must be set for the postgres backend")
		}
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path must be set for the sqlite backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	switch c.Archive.Backend {
	case "none", "memory", "local":
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("archive.backend %q is not supported", c.Archive.Backend)
	}
	if c.Notify.Email.Enabled && (c.Notify.Email.Host == "" || len(c.Notify.Email.Recipients) == 0) {
		return fmt.Errorf("notify.email requires host and recipients when enabled")
	}
	if c.Notify.PubSub.Enabled && (c.Notify.PubSub.ProjectID == "" || c.Notify.PubSub.TopicName == "") {
		return fmt.Errorf("notify.pubsub requires project_id and topic_name when enabled")
	}
	if c.Schedule.Enabled && c.Schedule.Cron == "" {
		return fmt.Errorf("schedule.cron must be set when scheduling is enabled")
	}
	return nil
}

// MinDelay returns the lower jitter bound between page requests.
func (c CrawlerConfig) MinDelay() time.Duration {
	return seconds(c.MinDelaySeconds)
}

// MaxDelay returns the upper jitter bound between page requests.
func (c CrawlerConfig) MaxDelay() time.Duration {
	return seconds(c.MaxDelaySeconds)
}

// SourceTimeout bounds the time spent on one source.
func (c CrawlerConfig) SourceTimeout() time.Duration {
	return time.Duration(c.SourceTimeoutSeconds) * time.Second
}

// RobotsCacheTTL is how long a parsed robots.txt stays valid.
func (c CrawlerConfig) RobotsCacheTTL() time.Duration {
	return time.Duration(c.RobotsCacheTTLSeconds) * time.Second
}

// RobotsTimeout bounds a robots.txt fetch.
func (c CrawlerConfig) RobotsTimeout() time.Duration {
	return time.Duration(c.RobotsTimeoutSeconds) * time.Second
}

// BaseDelay converts the configured base backoff.
func (c RetryConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMs) * time.Millisecond
}

// MaxDelay converts the configured backoff cap.
func (c RetryConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMs) * time.Millisecond
}

// ShutdownTimeout bounds graceful shutdown.
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
