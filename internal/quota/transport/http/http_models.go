// Package httptransport provides HTTP transport models.
package httptransport

import (
	"math"
	"time"

	"github.com/takezou621/sedori-platform-sub003/internal/quota/core"
)

type HTTPDecisionResponse struct {
	Allowed      bool      `json:"allowed"`
	Remaining    int64     `json:"remaining"`
	ResetAt      time.Time `json:"resetAt"`
	RetryAfterMs int64     `json:"retryAfterMs,omitempty"`
	FailOpen     bool      `json:"failOpen,omitempty"`
	Unlimited    bool      `json:"unlimited,omitempty"`
}

type HTTPRecordRequest struct {
	Identifier string `json:"identifier"`
	Success    *bool  `json:"success"`
}

type HTTPUpdateQuotaRequest struct {
	WindowMs    int64 `json:"windowMs"`
	MaxRequests int64 `json:"maxRequests"`
	BurstLimit  int64 `json:"burstLimit"`
}

type HTTPQuotaConfig struct {
	Dependency  string `json:"dependency"`
	WindowMs    int64  `json:"windowMs"`
	MaxRequests int64  `json:"maxRequests"`
	BurstLimit  int64  `json:"burstLimit,omitempty"`
}

type HTTPWindowCount struct {
	Count     int64     `json:"count"`
	Limit     int64     `json:"limit"`
	Remaining int64     `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

type HTTPWindowUsage struct {
	Main  HTTPWindowCount  `json:"main"`
	Burst *HTTPWindowCount `json:"burst,omitempty"`
}

type HTTPCurrentLimitsResponse struct {
	Dependency string           `json:"dependency"`
	Configured bool             `json:"configured"`
	Config     *HTTPQuotaConfig `json:"config,omitempty"`
	Current    *HTTPWindowUsage `json:"current,omitempty"`
}

type HTTPHealthResponse struct {
	StoreReachable bool     `json:"storeReachable"`
	LimiterActive  bool     `json:"limiterActive"`
	ConfiguredAPIs []string `json:"configuredApis"`
}

func fromDecision(decision core.Decision) HTTPDecisionResponse {
	return HTTPDecisionResponse{
		Allowed:      decision.Allowed,
		Remaining:    decision.Remaining,
		ResetAt:      decision.ResetAt,
		RetryAfterMs: decision.RetryAfter.Milliseconds(),
		FailOpen:     decision.FailOpen,
		Unlimited:    decision.Unlimited,
	}
}

// maxWindowMs is the largest window that fits in a time.Duration.
const maxWindowMs = math.MaxInt64 / int64(time.Millisecond)

func toQuotaConfig(dependency string, req HTTPUpdateQuotaRequest) (core.QuotaConfig, error) {
	if req.WindowMs > maxWindowMs {
		return core.QuotaConfig{}, core.ErrInvalidInput
	}
	return core.QuotaConfig{
		Dependency:  dependency,
		Window:      time.Duration(req.WindowMs) * time.Millisecond,
		MaxRequests: req.MaxRequests,
		BurstLimit:  req.BurstLimit,
	}, nil
}

func fromQuotaConfig(cfg core.QuotaConfig) HTTPQuotaConfig {
	return HTTPQuotaConfig{
		Dependency:  cfg.Dependency,
		WindowMs:    cfg.Window.Milliseconds(),
		MaxRequests: cfg.MaxRequests,
		BurstLimit:  cfg.BurstLimit,
	}
}

func fromWindowCount(count core.WindowCount) HTTPWindowCount {
	return HTTPWindowCount{
		Count:     count.Count,
		Limit:     count.Limit,
		Remaining: count.Remaining,
		ResetAt:   count.ResetAt,
	}
}

func fromCurrentLimits(dependency string, limits core.CurrentLimits) HTTPCurrentLimitsResponse {
	resp := HTTPCurrentLimitsResponse{Dependency: dependency, Configured: limits.Config.Configured}
	if limits.Config.Configured {
		cfg := fromQuotaConfig(limits.Config.Config)
		resp.Config = &cfg
	}
	if limits.Current != nil {
		usage := &HTTPWindowUsage{Main: fromWindowCount(limits.Current.Main)}
		if limits.Current.Burst != nil {
			burst := fromWindowCount(*limits.Current.Burst)
			usage.Burst = &burst
		}
		resp.Current = usage
	}
	return resp
}

func fromHealthStatus(status core.HealthStatus) HTTPHealthResponse {
	apis := status.ConfiguredAPIs
	if apis == nil {
		apis = []string{}
	}
	return HTTPHealthResponse{
		StoreReachable: status.StoreReachable,
		LimiterActive:  status.LimiterActive,
		ConfiguredAPIs: apis,
	}
}
