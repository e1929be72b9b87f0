package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
)

// Loader handles configuration loading and parsing.
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads and parses a configuration file.
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return l.Parse(data)
}

// Parse parses configuration from YAML bytes, applying defaults first and
// expanding ${VAR} references from the environment.
func (l *Loader) Parse(data []byte) (*Config, error) {
	expanded := l.expandEnvVars(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values.
// Unset variables are left as-is.
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func (l *Loader) validate(cfg *Config) error {
	if cfg.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if err := validateServiceURL("config_service", cfg.ConfigService.URL, true); err != nil {
		return err
	}
	if err := validateServiceURL("analytics_service", cfg.AnalyticsService.URL, false); err != nil {
		return err
	}
	if cfg.Redis.Address == "" {
		return fmt.Errorf("redis.address is required")
	}
	if cfg.Cache.RouteRefreshInterval <= 0 {
		return fmt.Errorf("cache.route_refresh_interval must be > 0")
	}
	if cfg.Cache.KeyRefreshInterval <= 0 {
		return fmt.Errorf("cache.key_refresh_interval must be > 0")
	}
	if cfg.Proxy.DefaultTimeout <= 0 {
		return fmt.Errorf("proxy.default_timeout must be > 0")
	}
	if cfg.RateLimit.KeyPrefix == "" {
		return fmt.Errorf("rate_limit.key_prefix is required")
	}
	if cfg.Analytics.QueueSize < 0 {
		return fmt.Errorf("analytics.queue_size must be >= 0")
	}
	if cfg.Analytics.Workers < 0 {
		return fmt.Errorf("analytics.workers must be >= 0")
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error")
	}
	return nil
}

// validateServiceURL checks an upstream service URL. required selects
// whether an empty URL is an error; the analytics service is optional and
// an empty URL disables it.
func validateServiceURL(name, raw string, required bool) error {
	if raw == "" {
		if required {
			return fmt.Errorf("%s.url is required", name)
		}
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s.url: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s.url must start with http:// or https://", name)
	}
	if u.Host == "" {
		return fmt.Errorf("%s.url is missing a host", name)
	}
	return nil
}
