// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Blob      BlobConfig      `mapstructure:"blob"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs the crawl pipeline behavior and per-job defaults.
type CrawlerConfig struct {
	Concurrency      int    `mapstructure:"concurrency"`
	WorkersDefault   int    `mapstructure:"workers_default"`
	MaxDepthDefault  int    `mapstructure:"max_depth_default"`
	DelayMinMs       int    `mapstructure:"delay_min_ms"`
	DelayMaxMs       int    `mapstructure:"delay_max_ms"`
	UserAgent        string `mapstructure:"user_agent"`
	RespectRobots    bool   `mapstructure:"respect_robots"`
	RobotsTTLMinutes int    `mapstructure:"robots_ttl_minutes"`
	QueueDepth       int    `mapstructure:"queue_depth"`
}

// HTTPConfig configures the fetch client and retry behavior.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	MaxRetries     int `mapstructure:"max_retries"`
}

// DatabaseConfig controls access to the relational store.
type DatabaseConfig struct {
	Backend  string `mapstructure:"backend"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// BlobConfig sets the raw page archive destination.
type BlobConfig struct {
	Backend     string `mapstructure:"backend"`
	Bucket      string `mapstructure:"bucket"`
	BaseDir     string `mapstructure:"base_dir"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// PublisherConfig holds metadata for terminal-job notifications.
type PublisherConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig selects the zap encoder and minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WEBHARVEST")
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
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("crawler.concurrency", 2)
	v.SetDefault("crawler.workers_default", 4)
	v.SetDefault("crawler.max_depth_default", 2)
	v.SetDefault("crawler.delay_min_ms", 1000)
	v.SetDefault("crawler.delay_max_ms", 3000)
	v.SetDefault("crawler.user_agent", "webharvest-bot/0.1")
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.robots_ttl_minutes", 60)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("database.backend", "memory")
	v.SetDefault("blob.backend", "memory")
	v.SetDefault("blob.prefix", "pages")
	v.SetDefault("blob.content_type", "text/html; charset=utf-8")
	v.SetDefault("publisher.backend", "memory")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.MaxDepthDefault < 1 || c.Crawler.MaxDepthDefault > 3 {
		return fmt.Errorf("crawler.max_depth_default must be between 1 and 3")
	}
	if c.Crawler.DelayMinMs < 0 || c.Crawler.DelayMaxMs < c.Crawler.DelayMinMs {
		return fmt.Errorf("crawler delay window [%d, %d] is invalid", c.Crawler.DelayMinMs, c.Crawler.DelayMaxMs)
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	switch c.Database.Backend {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set when database.backend is postgres")
		}
	default:
		return fmt.Errorf("unknown database.backend %q", c.Database.Backend)
	}
	switch c.Blob.Backend {
	case "memory", "none":
	case "local":
		if c.Blob.BaseDir == "" {
			return fmt.Errorf("blob.base_dir must be set when blob.backend is local")
		}
	case "gcs":
		if c.Blob.Bucket == "" {
			return fmt.Errorf("blob.bucket must be set when blob.backend is gcs")
		}
	default:
		return fmt.Errorf("unknown blob.backend %q", c.Blob.Backend)
	}
	switch c.Publisher.Backend {
	case "memory", "none":
	case "pubsub":
		if c.Publisher.ProjectID == "" || c.Publisher.Topic == "" {
			return fmt.Errorf("publisher.project_id and publisher.topic must be set when publisher.backend is pubsub")
		}
	default:
		return fmt.Errorf("unknown publisher.backend %q", c.Publisher.Backend)
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// FetchTimeout converts the HTTP timeout config into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// DelayWindow converts the politeness delay config into durations.
func (c Config) DelayWindow() (time.Duration, time.Duration) {
	return time.Duration(c.Crawler.DelayMinMs) * time.Millisecond,
		time.Duration(c.Crawler.DelayMaxMs) * time.Millisecond
}

// RobotsTTL converts the robots cache TTL config into a duration.
func (c Config) RobotsTTL() time.Duration {
	return time.Duration(c.Crawler.RobotsTTLMinutes) * time.Minute
}
