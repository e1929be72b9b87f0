// Package config loads and validates the gateway's YAML configuration.
package config

import "time"

// Config is the root gateway configuration.
type Config struct {
	Listen string `yaml:"listen"`

	ConfigService    ServiceConfig   `yaml:"config_service"`
	AnalyticsService ServiceConfig   `yaml:"analytics_service"`
	Redis            RedisConfig     `yaml:"redis"`
	JWT              JWTConfig       `yaml:"jwt"`
	Cache            CacheConfig     `yaml:"cache"`
	Proxy            ProxyConfig     `yaml:"proxy"`
	RateLimit        RateLimitConfig `yaml:"rate_limit"`
	Analytics        AnalyticsConfig `yaml:"analytics"`
	Logging          LoggingConfig   `yaml:"logging"`
	Shutdown         ShutdownConfig  `yaml:"shutdown"`
}

// ServiceConfig points at an upstream control-plane service.
type ServiceConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// RedisConfig configures the shared rate limit store.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// JWTConfig configures bearer token validation.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// CacheConfig tunes the snapshot caches.
type CacheConfig struct {
	RouteRefreshInterval time.Duration `yaml:"route_refresh_interval"`
	KeyRefreshInterval   time.Duration `yaml:"key_refresh_interval"`
	StartupTimeout       time.Duration `yaml:"startup_timeout"`
}

// ProxyConfig tunes request forwarding.
type ProxyConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// RateLimitConfig tunes the distributed limiter.
type RateLimitConfig struct {
	KeyPrefix string        `yaml:"key_prefix"`
	LimitTTL  time.Duration `yaml:"limit_ttl"`
}

// AnalyticsConfig tunes the event emitter.
type AnalyticsConfig struct {
	QueueSize int           `yaml:"queue_size"`
	Workers   int           `yaml:"workers"`
	Timeout   time.Duration `yaml:"timeout"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ShutdownConfig bounds graceful shutdown.
type ShutdownConfig struct {
	GracePeriod time.Duration `yaml:"grace_period"`
}

// DefaultConfig returns a configuration with sensible defaults. A config
// file overrides fields selectively.
func DefaultConfig() *Config {
	return &Config{
		Listen: ":8080",
		ConfigService: ServiceConfig{
			URL:     "http://localhost:8081",
			Timeout: 5 * time.Second,
		},
		AnalyticsService: ServiceConfig{
			Timeout: 5 * time.Second,
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
		},
		Cache: CacheConfig{
			RouteRefreshInterval: 30 * time.Second,
			KeyRefreshInterval:   60 * time.Second,
			StartupTimeout:       10 * time.Second,
		},
		Proxy: ProxyConfig{
			DefaultTimeout: 30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			KeyPrefix: "nexusgate",
			LimitTTL:  time.Minute,
		},
		Analytics: AnalyticsConfig{
			QueueSize: 1024,
			Workers:   2,
			Timeout:   5 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Shutdown: ShutdownConfig{
			GracePeriod: 15 * time.Second,
		},
	}
}
