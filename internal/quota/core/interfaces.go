// Package core defines service interfaces.
package core

import "context"

// AdmissionService decides whether outbound calls may proceed.
type AdmissionService interface {
	CheckRateLimit(ctx context.Context, dependency, identifier string) Decision
	WaitForRateLimit(ctx context.Context, dependency, identifier string) error
	GetCurrentLimits(ctx context.Context, dependency, identifier string) CurrentLimits
}

// AdminService manages quotas and limiter state.
type AdminService interface {
	ResetRateLimit(ctx context.Context, dependency, identifier string) error
	UpdateConfig(dependency string, cfg QuotaConfig) error
	ListConfigs() []QuotaConfig
	HealthCheck(ctx context.Context) HealthStatus
}

// UsageService records and reports outbound call outcomes.
type UsageService interface {
	RecordRequest(ctx context.Context, dependency, identifier string, success bool)
	GetAPIStats(ctx context.Context, dependency, identifier string, days int) map[string]DailyStats
}

var (
	_ AdmissionService = (*Limiter)(nil)
	_ AdminService     = (*Limiter)(nil)
	_ UsageService     = (*UsageRecorder)(nil)
	_ HealthProber     = (*Limiter)(nil)
)
