// Package config loads optimizer settings from YAML files and PERFOPT_*
// environment variables.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/deeplooplabs/perfopt/memory"
	"github.com/deeplooplabs/perfopt/optimizer"
	"github.com/deeplooplabs/perfopt/rules"
	"gopkg.in/yaml.v2"
)

// Configuration represents the complete optimizer configuration
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Cache      CacheConfig      `yaml:"cache"`
	Memory     MemoryConfig     `yaml:"memory"`
	Rules      rules.Rules      `yaml:"rules"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// GlobalConfig contains process-wide settings
type GlobalConfig struct {
	LogLevel   string `yaml:"log_level"`
	ListenAddr string `yaml:"listen_addr"`
}

// CacheConfig contains cache settings
type CacheConfig struct {
	MaxEntries int           `yaml:"max_entries"`
	TTL        time.Duration `yaml:"ttl"`
}

// MemoryConfig contains memory guardian settings
type MemoryConfig struct {
	// LimitBytes is the memory the process may use. Zero discovers it from
	// the cgroup or the host.
	LimitBytes          uint64            `yaml:"limit_bytes"`
	CheckOnRequest      bool              `yaml:"check_on_request"`
	MaintenanceInterval time.Duration     `yaml:"maintenance_interval"`
	Thresholds          memory.Thresholds `yaml:"thresholds"`
	Limits              memory.Limits     `yaml:"limits"`
}

// MonitoringConfig contains metrics settings
type MonitoringConfig struct {
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	Namespace      string `yaml:"namespace"`
}

// NewDefault returns a configuration with default values
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:   "INFO",
			ListenAddr: ":8080",
		},
		Cache: CacheConfig{
			MaxEntries: 1000,
			TTL:        5 * time.Minute,
		},
		Memory: MemoryConfig{
			CheckOnRequest: true,
			Thresholds:     memory.DefaultThresholds(),
			Limits:         memory.DefaultLimits(),
		},
		Rules: rules.Defaults(),
		Monitoring: MonitoringConfig{
			MetricsEnabled: true,
			Namespace:      "perfopt",
		},
	}
}

// LoadFromFile loads configuration from a YAML file over the current values
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("PERFOPT_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = strings.ToUpper(val)
	}
	if val := os.Getenv("PERFOPT_LISTEN_ADDR"); val != "" {
		c.Global.ListenAddr = val
	}

	if err := envInt("PERFOPT_CACHE_MAX_ENTRIES", &c.Cache.MaxEntries); err != nil {
		return err
	}
	if err := envDuration("PERFOPT_CACHE_TTL", &c.Cache.TTL); err != nil {
		return err
	}

	if val := os.Getenv("PERFOPT_MEMORY_LIMIT"); val != "" {
		limit, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid PERFOPT_MEMORY_LIMIT: %w", err)
		}
		c.Memory.LimitBytes = limit
	}
	if err := envBool("PERFOPT_CHECK_ON_REQUEST", &c.Memory.CheckOnRequest); err != nil {
		return err
	}
	if err := envDuration("PERFOPT_MAINTENANCE_INTERVAL", &c.Memory.MaintenanceInterval); err != nil {
		return err
	}

	if err := envInt("PERFOPT_MAX_RESPONSE_SIZE", &c.Rules.Response.MaxResponseSize); err != nil {
		return err
	}
	if err := envInt("PERFOPT_DEFAULT_PAGE_SIZE", &c.Rules.Response.DefaultPageSize); err != nil {
		return err
	}
	if err := envInt("PERFOPT_MAX_PAGE_SIZE", &c.Rules.Response.MaxPageSize); err != nil {
		return err
	}

	if err := envBool("PERFOPT_METRICS_ENABLED", &c.Monitoring.MetricsEnabled); err != nil {
		return err
	}
	if val := os.Getenv("PERFOPT_METRICS_NAMESPACE"); val != "" {
		c.Monitoring.Namespace = val
	}

	return nil
}

func envInt(key string, dst *int) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func envBool(key string, dst *bool) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = b
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}

// SaveToFile saves configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if _, err := c.level(); err != nil {
		return err
	}

	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache max_entries must be greater than 0")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be greater than 0")
	}
	if c.Memory.MaintenanceInterval < 0 {
		return fmt.Errorf("maintenance_interval cannot be negative")
	}

	t := c.Memory.Thresholds
	if !(t.Elevated > 0 && t.Elevated < t.Reclaim && t.Reclaim < t.Emergency &&
		t.Emergency < t.Critical && t.Critical <= 100) {
		return fmt.Errorf("memory thresholds must ascend within (0, 100]: %+v", t)
	}
	if t.Heap <= 0 || t.Heap > 100 {
		return fmt.Errorf("heap threshold must be within (0, 100]")
	}

	l := c.Memory.Limits
	if l.CriticalCacheSize <= 0 || l.EmergencyCacheSize < l.CriticalCacheSize {
		return fmt.Errorf("emergency_cache_size must be at least critical_cache_size, which must be positive")
	}

	resp := c.Rules.Response
	if resp.DefaultPageSize <= 0 || resp.DefaultPageSize > resp.MaxPageSize {
		return fmt.Errorf("default_page_size must be within (0, max_page_size]")
	}
	if resp.MaxResponseSize <= 0 {
		return fmt.Errorf("max_response_size must be greater than 0")
	}
	if h := c.Rules.Memory.MaxHeapUsage; h <= 0 || h > 1 {
		return fmt.Errorf("max_heap_usage must be a fraction within (0, 1]")
	}

	if c.Monitoring.MetricsEnabled && c.Monitoring.Namespace == "" {
		return fmt.Errorf("metrics namespace is required when metrics are enabled")
	}

	return nil
}

var validLogLevels = []string{"DEBUG", "INFO", "WARN", "ERROR"}

func (c *Configuration) level() (slog.Level, error) {
	var level slog.Level
	for _, valid := range validLogLevels {
		if c.Global.LogLevel == valid {
			if err := level.UnmarshalText([]byte(valid)); err != nil {
				return level, err
			}
			return level, nil
		}
	}
	return level, fmt.Errorf("invalid log_level: %s (must be one of: %s)",
		c.Global.LogLevel, strings.Join(validLogLevels, ", "))
}

// Logger returns a text logger at the configured level. An invalid level
// falls back to INFO.
func (c *Configuration) Logger(w io.Writer) *slog.Logger {
	level, err := c.level()
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Options maps the configuration to optimizer options. Metrics and hooks
// are left to the caller since they need a registry.
func (c *Configuration) Options() []optimizer.Option {
	return []optimizer.Option{
		optimizer.WithRules(c.Rules),
		optimizer.WithCacheSize(c.Cache.MaxEntries),
		optimizer.WithDefaultTTL(c.Cache.TTL),
		optimizer.WithThresholds(c.Memory.Thresholds),
		optimizer.WithLimits(c.Memory.Limits),
		optimizer.WithSampler(memory.NewRuntimeSampler(c.Memory.LimitBytes)),
		optimizer.WithCheckOnRequest(c.Memory.CheckOnRequest),
	}
}
