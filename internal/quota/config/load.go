// Package config provides configuration loading.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadOptions controls config loading.
type LoadOptions struct {
	ConfigPath string
	Environ    []string
	// Overrides run last, after file and environment values.
	Overrides []func(*Config)
}

// Load builds configuration from defaults, file, env, and overrides.
func Load(opts LoadOptions) (*Config, error) {
	environ := opts.Environ
	if environ == nil {
		environ = os.Environ()
	}
	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = envMap(environ)[envConfigPath]
	}

	cfg := Default()
	if configPath != "" {
		file, err := loadConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		file.apply(cfg)
	}
	if err := applyEnvOverrides(cfg, environ); err != nil {
		return nil, err
	}
	for _, override := range opts.Overrides {
		if override != nil {
			override(cfg)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadQuotas reads only the quota list of a config file.
func LoadQuotas(path string) ([]QuotaEntry, error) {
	file, err := loadConfigFile(path)
	if err != nil {
		return nil, err
	}
	return file.quotaEntries(), nil
}

// Encode writes cfg as YAML.
func Encode(w io.Writer, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(cfg); err != nil {
		return err
	}
	return encoder.Close()
}

func loadConfigFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return parseConfig(data)
}

func parseConfig(data []byte) (*fileConfig, error) {
	file := &fileConfig{}
	if len(bytes.TrimSpace(data)) == 0 {
		return file, nil
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(file); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return file, nil
}

type fileConfig struct {
	Redis          *redisInput    `yaml:"redis"`
	StoreTimeout   *durationValue `yaml:"store_timeout"`
	KeyPrefix      *string        `yaml:"key_prefix"`
	UsageRetention *durationValue `yaml:"usage_retention"`
	Breaker        *breakerInput  `yaml:"breaker"`
	HealthInterval *durationValue `yaml:"health_interval"`
	UnhealthyAfter *durationValue `yaml:"unhealthy_after"`
	HTTP           *httpInput     `yaml:"http"`
	GRPC           *grpcInput     `yaml:"grpc"`
	Auth           *authInput     `yaml:"auth"`
	LogLevel       *string        `yaml:"log_level"`
	Tracing        *tracingInput  `yaml:"tracing"`
	DrainTimeout   *durationValue `yaml:"drain_timeout"`
	Quotas         []quotaInput   `yaml:"quotas"`
}

type redisInput struct {
	Addr        *string        `yaml:"addr"`
	Password    *string        `yaml:"password"`
	DB          *int           `yaml:"db"`
	PoolSize    *int           `yaml:"pool_size"`
	DialTimeout *durationValue `yaml:"dial_timeout"`
}

type breakerInput struct {
	FailureThreshold *int64         `yaml:"failure_threshold"`
	OpenDuration     *durationValue `yaml:"open_duration"`
	HalfOpenMaxCalls *int64         `yaml:"half_open_max_calls"`
}

type httpInput struct {
	Enabled      *bool          `yaml:"enabled"`
	Addr         *string        `yaml:"addr"`
	ReadTimeout  *durationValue `yaml:"read_timeout"`
	WriteTimeout *durationValue `yaml:"write_timeout"`
	IdleTimeout  *durationValue `yaml:"idle_timeout"`
	MaxBodyBytes *int64         `yaml:"max_body_bytes"`
}

type grpcInput struct {
	Enabled   *bool          `yaml:"enabled"`
	Addr      *string        `yaml:"addr"`
	KeepAlive *durationValue `yaml:"keepalive"`
}

type authInput struct {
	Enabled    *bool   `yaml:"enabled"`
	AdminToken *string `yaml:"admin_token"`
}

type tracingInput struct {
	Exporter    *string  `yaml:"exporter"`
	Endpoint    *string  `yaml:"endpoint"`
	SampleRate  *float64 `yaml:"sample_rate"`
	ServiceName *string  `yaml:"service_name"`
}

type quotaInput struct {
	Dependency  string        `yaml:"dependency"`
	Window      durationValue `yaml:"window"`
	MaxRequests int64         `yaml:"max_requests"`
	BurstLimit  int64         `yaml:"burst_limit"`
}

func (f *fileConfig) apply(cfg *Config) {
	setDuration(&cfg.StoreTimeout, f.StoreTimeout)
	setString(&cfg.KeyPrefix, f.KeyPrefix)
	setDuration(&cfg.UsageRetention, f.UsageRetention)
	setDuration(&cfg.HealthInterval, f.HealthInterval)
	setDuration(&cfg.UnhealthyAfter, f.UnhealthyAfter)
	setString(&cfg.LogLevel, f.LogLevel)
	setDuration(&cfg.DrainTimeout, f.DrainTimeout)
	if r := f.Redis; r != nil {
		setString(&cfg.Redis.Addr, r.Addr)
		setString(&cfg.Redis.Password, r.Password)
		if r.DB != nil {
			cfg.Redis.DB = *r.DB
		}
		if r.PoolSize != nil {
			cfg.Redis.PoolSize = *r.PoolSize
		}
		setDuration(&cfg.Redis.DialTimeout, r.DialTimeout)
	}
	if b := f.Breaker; b != nil {
		if b.FailureThreshold != nil {
			cfg.Breaker.FailureThreshold = *b.FailureThreshold
		}
		setDuration(&cfg.Breaker.OpenDuration, b.OpenDuration)
		if b.HalfOpenMaxCalls != nil {
			cfg.Breaker.HalfOpenMaxCalls = *b.HalfOpenMaxCalls
		}
	}
	if h := f.HTTP; h != nil {
		setBool(&cfg.HTTP.Enabled, h.Enabled)
		setString(&cfg.HTTP.Addr, h.Addr)
		setDuration(&cfg.HTTP.ReadTimeout, h.ReadTimeout)
		setDuration(&cfg.HTTP.WriteTimeout, h.WriteTimeout)
		setDuration(&cfg.HTTP.IdleTimeout, h.IdleTimeout)
		if h.MaxBodyBytes != nil {
			cfg.HTTP.MaxBodyBytes = *h.MaxBodyBytes
		}
	}
	if g := f.GRPC; g != nil {
		setBool(&cfg.GRPC.Enabled, g.Enabled)
		setString(&cfg.GRPC.Addr, g.Addr)
		setDuration(&cfg.GRPC.KeepAlive, g.KeepAlive)
	}
	if a := f.Auth; a != nil {
		setBool(&cfg.Auth.Enabled, a.Enabled)
		setString(&cfg.Auth.AdminToken, a.AdminToken)
	}
	if t := f.Tracing; t != nil {
		setString(&cfg.Tracing.Exporter, t.Exporter)
		setString(&cfg.Tracing.Endpoint, t.Endpoint)
		if t.SampleRate != nil {
			cfg.Tracing.SampleRate = *t.SampleRate
		}
		setString(&cfg.Tracing.ServiceName, t.ServiceName)
	}
	if f.Quotas != nil {
		cfg.Quotas = f.quotaEntries()
	}
}

func (f *fileConfig) quotaEntries() []QuotaEntry {
	entries := make([]QuotaEntry, 0, len(f.Quotas))
	for _, q := range f.Quotas {
		entries = append(entries, QuotaEntry{
			Dependency:  q.Dependency,
			Window:      q.Window.Value,
			MaxRequests: q.MaxRequests,
			BurstLimit:  q.BurstLimit,
		})
	}
	return entries
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *durationValue) {
	if src != nil && src.Set {
		*dst = src.Value
	}
}

// durationValue accepts Go duration strings ("60s", "24h") or integer milliseconds.
type durationValue struct {
	Value time.Duration
	Set   bool
}

func (d *durationValue) UnmarshalYAML(node *yaml.Node) error {
	if d == nil || node == nil {
		return nil
	}
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: invalid duration value", node.Line)
	}
	if node.Tag == "!!null" {
		return nil
	}
	value, err := parseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	d.Value = value
	d.Set = true
	return nil
}

func parseDuration(text string) (time.Duration, error) {
	text = strings.TrimSpace(text)
	if ms, err := strconv.ParseInt(text, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	value, err := time.ParseDuration(text)
	if err != nil {
		return 0, fmt.Errorf("invalid duration value %q", text)
	}
	return value, nil
}
