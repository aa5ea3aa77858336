// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	App       AppConfig       `yaml:"app"`
	Engine    EngineConfig    `yaml:"engine"`
	Storage   StorageConfig   `yaml:"storage"`
	Cache     CacheConfig     `yaml:"cache"`
	Order     OrderConfig     `yaml:"order"`
	System    SystemConfig    `yaml:"system"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name string `yaml:"name"`
}

// EngineConfig contains evaluation loop parameters
type EngineConfig struct {
	IntervalSeconds int    `yaml:"interval_seconds"`
	Timeframe       string `yaml:"timeframe"`
	SymbolWorkers   int    `yaml:"symbol_workers"`
	SymbolQueueSize int    `yaml:"symbol_queue_size"`
}

// Interval returns the cycle interval as a duration
func (e EngineConfig) Interval() time.Duration {
	return time.Duration(e.IntervalSeconds) * time.Second
}

// StorageConfig contains position persistence settings
type StorageConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig contains trailing-config store settings
type CacheConfig struct {
	Backend       string `yaml:"backend"` // "memory" or "redis"
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword Secret `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	TTLHours      int    `yaml:"ttl_hours"`
}

// TTL returns the cache entry lifetime; zero means no expiry
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// OrderConfig contains close-order executor settings
type OrderConfig struct {
	RateLimit          float64 `yaml:"rate_limit"`
	RateBurst          int     `yaml:"rate_burst"`
	CallTimeoutSeconds int     `yaml:"call_timeout_seconds"`
	BreakerFailures    uint    `yaml:"breaker_failures"`
	BreakerWindow      uint    `yaml:"breaker_window"`
	BreakerDelaySecs   int     `yaml:"breaker_delay_seconds"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} references with environment values
func expandEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "risk_engine"
	}
	if c.Engine.IntervalSeconds == 0 {
		c.Engine.IntervalSeconds = 1
	}
	if c.Engine.Timeframe == "" {
		c.Engine.Timeframe = "1m"
	}
	if c.Engine.SymbolWorkers == 0 {
		c.Engine.SymbolWorkers = 4
	}
	if c.Engine.SymbolQueueSize == 0 {
		c.Engine.SymbolQueueSize = 256
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.Order.RateLimit == 0 {
		c.Order.RateLimit = 25
	}
	if c.Order.RateBurst == 0 {
		c.Order.RateBurst = 30
	}
	if c.Order.CallTimeoutSeconds == 0 {
		c.Order.CallTimeoutSeconds = 10
	}
	if c.Order.BreakerFailures == 0 {
		c.Order.BreakerFailures = 5
	}
	if c.Order.BreakerWindow == 0 {
		c.Order.BreakerWindow = 10
	}
	if c.Order.BreakerDelaySecs == 0 {
		c.Order.BreakerDelaySecs = 10
	}
	if c.System.LogLevel == "" {
		c.System.LogLevel = "INFO"
	}
	if c.Telemetry.MetricsPort == 0 {
		c.Telemetry.MetricsPort = 9090
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errs []string

	if err := c.validateEngine(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateStorage(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateCache(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateSystem(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

func (c *Config) validateEngine() error {
	if c.Engine.IntervalSeconds < 1 || c.Engine.IntervalSeconds > 300 {
		return ValidationError{
			Field:   "engine.interval_seconds",
			Value:   c.Engine.IntervalSeconds,
			Message: "must be between 1 and 300",
		}
	}
	validTimeframes := []string{"1s", "1m", "3m", "5m", "15m"}
	if !contains(validTimeframes, c.Engine.Timeframe) {
		return ValidationError{
			Field:   "engine.timeframe",
			Value:   c.Engine.Timeframe,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validTimeframes, ", ")),
		}
	}
	if c.Engine.SymbolWorkers < 1 || c.Engine.SymbolWorkers > 100 {
		return ValidationError{
			Field:   "engine.symbol_workers",
			Value:   c.Engine.SymbolWorkers,
			Message: "must be between 1 and 100",
		}
	}
	return nil
}

func (c *Config) validateStorage() error {
	if c.Storage.Path == "" {
		return ValidationError{
			Field:   "storage.path",
			Message: "storage path is required",
		}
	}
	return nil
}

func (c *Config) validateCache() error {
	switch c.Cache.Backend {
	case "memory":
		return nil
	case "redis":
		if c.Cache.RedisAddr == "" {
			return ValidationError{
				Field:   "cache.redis_addr",
				Message: "redis address is required when cache backend is 'redis'",
			}
		}
		return nil
	default:
		return ValidationError{
			Field:   "cache.backend",
			Value:   c.Cache.Backend,
			Message: "must be one of: memory, redis",
		}
	}
}

func (c *Config) validateSystem() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
