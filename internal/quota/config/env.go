// Package config provides environment config overrides.
package config

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

const envConfigPath = "APIQUOTA_CONFIG"

func applyEnvOverrides(cfg *Config, environ []string) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	values := envMap(environ)
	if value, ok := values["APIQUOTA_REDIS_ADDR"]; ok {
		cfg.Redis.Addr = value
	}
	if value, ok := values["APIQUOTA_REDIS_PASSWORD"]; ok {
		cfg.Redis.Password = value
	}
	if value, ok := values["APIQUOTA_REDIS_DB"]; ok {
		parsed, err := parseIntEnv("APIQUOTA_REDIS_DB", value)
		if err != nil {
			return err
		}
		cfg.Redis.DB = int(parsed)
	}
	if value, ok := values["APIQUOTA_STORE_TIMEOUT_MS"]; ok {
		parsed, err := parseIntEnv("APIQUOTA_STORE_TIMEOUT_MS", value)
		if err != nil {
			return err
		}
		cfg.StoreTimeout = time.Duration(parsed) * time.Millisecond
	}
	if value, ok := values["APIQUOTA_KEY_PREFIX"]; ok {
		cfg.KeyPrefix = value
	}
	if value, ok := values["APIQUOTA_ENABLE_HTTP"]; ok {
		parsed, err := parseBoolEnv("APIQUOTA_ENABLE_HTTP", value)
		if err != nil {
			return err
		}
		cfg.HTTP.Enabled = parsed
	}
	if value, ok := values["APIQUOTA_HTTP_ADDR"]; ok {
		cfg.HTTP.Addr = value
	}
	if value, ok := values["APIQUOTA_ENABLE_GRPC"]; ok {
		parsed, err := parseBoolEnv("APIQUOTA_ENABLE_GRPC", value)
		if err != nil {
			return err
		}
		cfg.GRPC.Enabled = parsed
	}
	if value, ok := values["APIQUOTA_GRPC_ADDR"]; ok {
		cfg.GRPC.Addr = value
	}
	if value, ok := values["APIQUOTA_ENABLE_AUTH"]; ok {
		parsed, err := parseBoolEnv("APIQUOTA_ENABLE_AUTH", value)
		if err != nil {
			return err
		}
		cfg.Auth.Enabled = parsed
	}
	if value, ok := values["APIQUOTA_ADMIN_TOKEN"]; ok {
		cfg.Auth.AdminToken = value
	}
	if value, ok := values["APIQUOTA_LOG_LEVEL"]; ok {
		cfg.LogLevel = value
	}
	if value, ok := values["APIQUOTA_TRACING_EXPORTER"]; ok {
		cfg.Tracing.Exporter = value
	}
	if value, ok := values["APIQUOTA_TRACING_ENDPOINT"]; ok {
		cfg.Tracing.Endpoint = value
	}
	if value, ok := values["APIQUOTA_TRACE_SAMPLE_RATE"]; ok {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return errors.New("invalid env value for APIQUOTA_TRACE_SAMPLE_RATE")
		}
		cfg.Tracing.SampleRate = parsed
	}
	if value, ok := values["APIQUOTA_BREAKER_FAILURE_THRESHOLD"]; ok {
		parsed, err := parseIntEnv("APIQUOTA_BREAKER_FAILURE_THRESHOLD", value)
		if err != nil {
			return err
		}
		cfg.Breaker.FailureThreshold = parsed
	}
	if value, ok := values["APIQUOTA_BREAKER_OPEN_MS"]; ok {
		parsed, err := parseIntEnv("APIQUOTA_BREAKER_OPEN_MS", value)
		if err != nil {
			return err
		}
		cfg.Breaker.OpenDuration = time.Duration(parsed) * time.Millisecond
	}
	return nil
}

func envMap(environ []string) map[string]string {
	values := make(map[string]string)
	for _, entry := range environ {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		values[key] = parts[1]
	}
	return values
}

func parseBoolEnv(name, value string) (bool, error) {
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return false, errors.New("invalid env value for " + name)
	}
	return parsed, nil
}

func parseIntEnv(name, value string) (int64, error) {
	parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, errors.New("invalid env value for " + name)
	}
	return parsed, nil
}
