// Package config provides configuration for the application wiring.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/takezou621/sedori-platform-sub003/internal/quota/core"
	"github.com/takezou621/sedori-platform-sub003/internal/quota/observability"
)

// Config captures store, transport and runtime settings.
type Config struct {
	Redis          RedisConfig                 `yaml:"redis"`
	StoreTimeout   time.Duration               `yaml:"store_timeout"`
	KeyPrefix      string                      `yaml:"key_prefix"`
	UsageRetention time.Duration               `yaml:"usage_retention"`
	Breaker        BreakerConfig               `yaml:"breaker"`
	HealthInterval time.Duration               `yaml:"health_interval"`
	UnhealthyAfter time.Duration               `yaml:"unhealthy_after"`
	HTTP           HTTPConfig                  `yaml:"http"`
	GRPC           GRPCConfig                  `yaml:"grpc"`
	Auth           AuthConfig                  `yaml:"auth"`
	LogLevel       string                      `yaml:"log_level"`
	Tracing        observability.TracingConfig `yaml:"tracing"`
	DrainTimeout   time.Duration               `yaml:"drain_timeout"`
	Quotas         []QuotaEntry                `yaml:"quotas"`
}

// RedisConfig selects the Redis store. An empty Addr uses the in-memory store.
type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	PoolSize    int           `yaml:"pool_size"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// BreakerConfig configures the store circuit breaker.
type BreakerConfig struct {
	FailureThreshold int64         `yaml:"failure_threshold"`
	OpenDuration     time.Duration `yaml:"open_duration"`
	HalfOpenMaxCalls int64         `yaml:"half_open_max_calls"`
}

// HTTPConfig configures the HTTP transport.
type HTTPConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
}

// GRPCConfig configures the gRPC health transport.
type GRPCConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Addr      string        `yaml:"addr"`
	KeepAlive time.Duration `yaml:"keepalive"`
}

// AuthConfig protects admin routes.
type AuthConfig struct {
	Enabled    bool   `yaml:"enabled"`
	AdminToken string `yaml:"admin_token"`
}

// QuotaEntry is one configured dependency quota.
type QuotaEntry struct {
	Dependency  string        `yaml:"dependency"`
	Window      time.Duration `yaml:"window"`
	MaxRequests int64         `yaml:"max_requests"`
	BurstLimit  int64         `yaml:"burst_limit,omitempty"`
}

// QuotaConfig converts and validates the entry.
func (q QuotaEntry) QuotaConfig() (core.QuotaConfig, error) {
	dependency := strings.TrimSpace(q.Dependency)
	if dependency == "" {
		return core.QuotaConfig{}, core.Wrap(core.CodeInvalidConfig, "invalid quota config", errors.New("dependency is required"))
	}
	cfg := core.QuotaConfig{
		Dependency:  dependency,
		Window:      q.Window,
		MaxRequests: q.MaxRequests,
		BurstLimit:  q.BurstLimit,
	}
	if err := cfg.Validate(); err != nil {
		return core.QuotaConfig{}, fmt.Errorf("quota %s: %w", dependency, err)
	}
	return cfg, nil
}

// QuotaConfigs converts every quota entry. Duplicates are rejected.
func (c *Config) QuotaConfigs() ([]core.QuotaConfig, error) {
	if c == nil {
		return nil, errors.New("config is required")
	}
	seen := make(map[string]struct{}, len(c.Quotas))
	out := make([]core.QuotaConfig, 0, len(c.Quotas))
	for _, entry := range c.Quotas {
		cfg, err := entry.QuotaConfig()
		if err != nil {
			return nil, err
		}
		if _, ok := seen[cfg.Dependency]; ok {
			return nil, core.Wrap(core.CodeInvalidConfig, "invalid quota config", fmt.Errorf("duplicate quota for %s", cfg.Dependency))
		}
		seen[cfg.Dependency] = struct{}{}
		out = append(out, cfg)
	}
	return out, nil
}

// BreakerOptions maps breaker settings onto the core options.
func (c *Config) BreakerOptions() core.CircuitOptions {
	return core.CircuitOptions{
		FailureThreshold: c.Breaker.FailureThreshold,
		OpenDuration:     c.Breaker.OpenDuration,
		HalfOpenMaxCalls: c.Breaker.HalfOpenMaxCalls,
	}
}

// Validate checks settings before wiring.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is required")
	}
	if c.HTTP.Enabled && c.HTTP.Addr == "" {
		return errors.New("http listen address is required")
	}
	if c.GRPC.Enabled && c.GRPC.Addr == "" {
		return errors.New("grpc listen address is required")
	}
	if c.Auth.Enabled && c.Auth.AdminToken == "" {
		return errors.New("admin token is required when auth is enabled")
	}
	durations := map[string]time.Duration{
		"store_timeout":      c.StoreTimeout,
		"usage_retention":    c.UsageRetention,
		"health_interval":    c.HealthInterval,
		"unhealthy_after":    c.UnhealthyAfter,
		"drain_timeout":      c.DrainTimeout,
		"redis.dial_timeout": c.Redis.DialTimeout,
		"breaker.open":       c.Breaker.OpenDuration,
		"http.read_timeout":  c.HTTP.ReadTimeout,
		"http.write_timeout": c.HTTP.WriteTimeout,
		"http.idle_timeout":  c.HTTP.IdleTimeout,
		"grpc.keepalive":     c.GRPC.KeepAlive,
	}
	for name, value := range durations {
		if value < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if c.HTTP.MaxBodyBytes < 0 {
		return errors.New("http.max_body_bytes must not be negative")
	}
	if c.Redis.DB < 0 || c.Redis.PoolSize < 0 {
		return errors.New("redis db and pool_size must not be negative")
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return errors.New("tracing.sample_rate must be between 0 and 1")
	}
	if _, err := c.QuotaConfigs(); err != nil {
		return err
	}
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		StoreTimeout:   250 * time.Millisecond,
		KeyPrefix:      "apiquota",
		UsageRetention: core.DefaultUsageRetention,
		Breaker: BreakerConfig{
			FailureThreshold: 10,
			OpenDuration:     time.Second,
			HalfOpenMaxCalls: 5,
		},
		HealthInterval: time.Second,
		UnhealthyAfter: 500 * time.Millisecond,
		Redis: RedisConfig{
			PoolSize:    10,
			DialTimeout: 2 * time.Second,
		},
		HTTP: HTTPConfig{
			Enabled:      true,
			Addr:         ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 90 * time.Second,
			IdleTimeout:  60 * time.Second,
			MaxBodyBytes: 1 << 20,
		},
		GRPC: GRPCConfig{
			Enabled:   true,
			Addr:      ":9090",
			KeepAlive: 60 * time.Second,
		},
		LogLevel: "info",
		Tracing: observability.TracingConfig{
			Exporter:    "none",
			SampleRate:  1,
			ServiceName: "apiquota",
		},
		DrainTimeout: 5 * time.Second,
	}
}
