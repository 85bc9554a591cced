package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	imghttp "github.com/ligustah/imgwarm/internal/http"
	"github.com/ligustah/imgwarm/internal/logger"
	"github.com/ligustah/imgwarm/internal/progress"
)

// Config defines configuration for the imgwarm CLI.
type Config struct {
	Cache               string        `yaml:"cache"`
	CachePrefix         string        `yaml:"cache_prefix"`
	Concurrency         int           `yaml:"concurrency"`
	Progress            bool          `yaml:"progress"`
	MaxImageSize        int64         `yaml:"max_image_size"`
	MaxCacheAge         time.Duration `yaml:"max_cache_age"`
	MaxCacheSize        int64         `yaml:"max_cache_size"`
	AllowAnyContentType bool          `yaml:"allow_any_content_type"`
	MaxHostFailures     int           `yaml:"max_host_failures"`
	MetricsAddr         string        `yaml:"metrics_addr"`
	Timeout             time.Duration `yaml:"timeout"`
	UserAgent           string        `yaml:"user_agent"`
	Retry               RetryConfig   `yaml:"retry"`
	Log                 LogConfig     `yaml:"log"`
}

// RetryConfig defines retry behavior.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// LogConfig defines logging behavior.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		CachePrefix:  "images/",
		Concurrency:  6,
		MaxImageSize: 50 * 1024 * 1024,    // 50MiB
		MaxCacheAge:  60 * 24 * time.Hour, // 60 days
		MaxCacheSize: 500 * 1024 * 1024,   // 500MiB
		Timeout:      30 * time.Second,
		UserAgent:    "imgwarm",
		Retry: RetryConfig{
			Attempts:   3,
			Backoff:    500 * time.Millisecond,
			MaxBackoff: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string sizes and durations.
type yamlConfig struct {
	Cache               string          `yaml:"cache"`
	CachePrefix         string          `yaml:"cache_prefix"`
	Concurrency         int             `yaml:"concurrency"`
	Progress            bool            `yaml:"progress"`
	MaxImageSize        string          `yaml:"max_image_size"`
	MaxCacheAge         string          `yaml:"max_cache_age"`
	MaxCacheSize        string          `yaml:"max_cache_size"`
	AllowAnyContentType bool            `yaml:"allow_any_content_type"`
	MaxHostFailures     int             `yaml:"max_host_failures"`
	MetricsAddr         string          `yaml:"metrics_addr"`
	Timeout             string          `yaml:"timeout"`
	UserAgent           string          `yaml:"user_agent"`
	Retry               yamlRetryConfig `yaml:"retry"`
	Log                 LogConfig       `yaml:"log"`
}

type yamlRetryConfig struct {
	Attempts   int    `yaml:"attempts"`
	Backoff    string `yaml:"backoff"`
	MaxBackoff string `yaml:"max_backoff"`
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.Cache != "" {
		cfg.Cache = yc.Cache
	}
	if yc.CachePrefix != "" {
		cfg.CachePrefix = yc.CachePrefix
	}
	if yc.Concurrency != 0 {
		cfg.Concurrency = yc.Concurrency
	}
	cfg.Progress = yc.Progress
	cfg.AllowAnyContentType = yc.AllowAnyContentType
	if yc.MaxHostFailures != 0 {
		cfg.MaxHostFailures = yc.MaxHostFailures
	}
	if yc.MetricsAddr != "" {
		cfg.MetricsAddr = yc.MetricsAddr
	}
	if yc.UserAgent != "" {
		cfg.UserAgent = yc.UserAgent
	}

	sizes := []struct {
		name string
		in   string
		out  *int64
	}{
		{"max_image_size", yc.MaxImageSize, &cfg.MaxImageSize},
		{"max_cache_size", yc.MaxCacheSize, &cfg.MaxCacheSize},
	}
	for _, s := range sizes {
		if s.in == "" {
			continue
		}
		n, err := progress.ParseBytes(s.in)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", s.name, err)
		}
		*s.out = n
	}

	durations := []struct {
		name string
		in   string
		out  *time.Duration
	}{
		{"max_cache_age", yc.MaxCacheAge, &cfg.MaxCacheAge},
		{"timeout", yc.Timeout, &cfg.Timeout},
		{"retry.backoff", yc.Retry.Backoff, &cfg.Retry.Backoff},
		{"retry.max_backoff", yc.Retry.MaxBackoff, &cfg.Retry.MaxBackoff},
	}
	for _, d := range durations {
		if d.in == "" {
			continue
		}
		v, err := ParseDuration(d.in)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.out = v
	}

	if yc.Retry.Attempts != 0 {
		cfg.Retry.Attempts = yc.Retry.Attempts
	}
	if yc.Log.Level != "" {
		cfg.Log.Level = yc.Log.Level
	}
	if yc.Log.Format != "" {
		cfg.Log.Format = yc.Log.Format
	}
	if yc.Log.Output != "" {
		cfg.Log.Output = yc.Log.Output
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the IMGWARM_ prefix.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("IMGWARM_CACHE"); v != "" {
		c.Cache = v
	}
	if v := os.Getenv("IMGWARM_CACHE_PREFIX"); v != "" {
		c.CachePrefix = v
	}
	if v := os.Getenv("IMGWARM_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse IMGWARM_CONCURRENCY: %w", err)
		}
		c.Concurrency = n
	}
	if v := os.Getenv("IMGWARM_PROGRESS"); v != "" {
		c.Progress = v == "true" || v == "1"
	}
	if v := os.Getenv("IMGWARM_MAX_IMAGE_SIZE"); v != "" {
		size, err := progress.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse IMGWARM_MAX_IMAGE_SIZE: %w", err)
		}
		c.MaxImageSize = size
	}
	if v := os.Getenv("IMGWARM_MAX_CACHE_AGE"); v != "" {
		d, err := ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse IMGWARM_MAX_CACHE_AGE: %w", err)
		}
		c.MaxCacheAge = d
	}
	if v := os.Getenv("IMGWARM_MAX_CACHE_SIZE"); v != "" {
		size, err := progress.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse IMGWARM_MAX_CACHE_SIZE: %w", err)
		}
		c.MaxCacheSize = size
	}
	if v := os.Getenv("IMGWARM_ALLOW_ANY_CONTENT_TYPE"); v != "" {
		c.AllowAnyContentType = v == "true" || v == "1"
	}
	if v := os.Getenv("IMGWARM_MAX_HOST_FAILURES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse IMGWARM_MAX_HOST_FAILURES: %w", err)
		}
		c.MaxHostFailures = n
	}
	if v := os.Getenv("IMGWARM_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv("IMGWARM_TIMEOUT"); v != "" {
		d, err := ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse IMGWARM_TIMEOUT: %w", err)
		}
		c.Timeout = d
	}
	if v := os.Getenv("IMGWARM_USER_AGENT"); v != "" {
		c.UserAgent = v
	}
	if v := os.Getenv("IMGWARM_RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse IMGWARM_RETRY_ATTEMPTS: %w", err)
		}
		c.Retry.Attempts = n
	}
	if v := os.Getenv("IMGWARM_RETRY_BACKOFF"); v != "" {
		d, err := ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse IMGWARM_RETRY_BACKOFF: %w", err)
		}
		c.Retry.Backoff = d
	}
	if v := os.Getenv("IMGWARM_RETRY_MAX_BACKOFF"); v != "" {
		d, err := ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse IMGWARM_RETRY_MAX_BACKOFF: %w", err)
		}
		c.Retry.MaxBackoff = d
	}
	if v := os.Getenv("IMGWARM_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("IMGWARM_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("IMGWARM_LOG_OUTPUT"); v != "" {
		c.Log.Output = v
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Cache == "" {
		return errors.New("config: cache is required")
	}
	if c.Concurrency <= 0 {
		return errors.New("config: concurrency must be positive")
	}
	if c.MaxImageSize <= 0 {
		return errors.New("config: max_image_size must be positive")
	}
	if c.MaxCacheAge < 0 {
		return errors.New("config: max_cache_age must not be negative")
	}
	if c.MaxCacheSize < 0 {
		return errors.New("config: max_cache_size must not be negative")
	}
	if c.Retry.Attempts < 0 {
		return errors.New("config: retry.attempts must not be negative")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if override.Cache != "" {
		c.Cache = override.Cache
	}
	if override.CachePrefix != "" {
		c.CachePrefix = override.CachePrefix
	}
	if override.Concurrency != 0 {
		c.Concurrency = override.Concurrency
	}
	if override.Progress {
		c.Progress = override.Progress
	}
	if override.MaxImageSize != 0 {
		c.MaxImageSize = override.MaxImageSize
	}
	if override.MaxCacheAge != 0 {
		c.MaxCacheAge = override.MaxCacheAge
	}
	if override.MaxCacheSize != 0 {
		c.MaxCacheSize = override.MaxCacheSize
	}
	if override.AllowAnyContentType {
		c.AllowAnyContentType = override.AllowAnyContentType
	}
	if override.MaxHostFailures != 0 {
		c.MaxHostFailures = override.MaxHostFailures
	}
	if override.MetricsAddr != "" {
		c.MetricsAddr = override.MetricsAddr
	}
	if override.Timeout != 0 {
		c.Timeout = override.Timeout
	}
	if override.UserAgent != "" {
		c.UserAgent = override.UserAgent
	}
	if override.Retry.Attempts != 0 {
		c.Retry.Attempts = override.Retry.Attempts
	}
	if override.Retry.Backoff != 0 {
		c.Retry.Backoff = override.Retry.Backoff
	}
	if override.Retry.MaxBackoff != 0 {
		c.Retry.MaxBackoff = override.Retry.MaxBackoff
	}
	if override.Log.Level != "" {
		c.Log.Level = override.Log.Level
	}
	if override.Log.Format != "" {
		c.Log.Format = override.Log.Format
	}
	if override.Log.Output != "" {
		c.Log.Output = override.Log.Output
	}
	return c
}

// HTTPOptions returns the HTTP client options described by c.
func (c *Config) HTTPOptions() imghttp.Options {
	opts := imghttp.DefaultOptions()
	opts.Timeout = c.Timeout
	opts.RetryAttempts = c.Retry.Attempts
	opts.RetryBackoff = c.Retry.Backoff
	opts.RetryMaxBackoff = c.Retry.MaxBackoff
	if c.UserAgent != "" {
		opts.UserAgent = c.UserAgent
	}
	return opts
}

// LoggerConfig returns the logger settings described by c.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:  c.Log.Level,
		Format: c.Log.Format,
		Output: c.Log.Output,
	}
}

// ParseDuration parses a Go duration string. It also accepts a whole number
// of days with a "d" suffix, e.g. "60d".
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
