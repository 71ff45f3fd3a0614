// Package core defines quota and decision models.
package core

import (
	"fmt"
	"time"
)

// UnlimitedRemaining is reported for dependencies without a quota.
const UnlimitedRemaining int64 = 1_000_000

// DefaultIdentifier scopes calls that do not name a caller-specific identifier.
const DefaultIdentifier = "global"

// BurstWindow is the fixed window length of the burst gate.
const BurstWindow = time.Second

// QuotaConfig describes the limits applied to one external dependency.
// A zero BurstLimit disables the burst gate.
type QuotaConfig struct {
	Dependency  string
	Window      time.Duration
	MaxRequests int64
	BurstLimit  int64
}

// HasBurst reports whether the burst gate applies.
func (c QuotaConfig) HasBurst() bool {
	return c.BurstLimit > 0
}

// Validate checks the config fields.
func (c QuotaConfig) Validate() error {
	if c.Window <= 0 {
		return Wrap(CodeInvalidConfig, "invalid quota config", fmt.Errorf("window must be positive, got %s", c.Window))
	}
	if c.MaxRequests <= 0 {
		return Wrap(CodeInvalidConfig, "invalid quota config", fmt.Errorf("max requests must be positive, got %d", c.MaxRequests))
	}
	if c.BurstLimit < 0 {
		return Wrap(CodeInvalidConfig, "invalid quota config", fmt.Errorf("burst limit must be positive when set, got %d", c.BurstLimit))
	}
	return nil
}

// Lookup is the result of a registry lookup: either a configured quota or
// the explicit unconfigured (unlimited) variant.
type Lookup struct {
	Config     QuotaConfig
	Configured bool
}

// Configured wraps a known quota.
func Configured(cfg QuotaConfig) Lookup {
	return Lookup{Config: cfg, Configured: true}
}

// Unconfigured is the permissive variant for dependencies without a quota.
func Unconfigured() Lookup {
	return Lookup{}
}

// WindowKind distinguishes the main quota window from the burst gate.
type WindowKind int

const (
	WindowMain WindowKind = iota
	WindowBurst
)

// String returns the window label.
func (k WindowKind) String() string {
	if k == WindowBurst {
		return "burst"
	}
	return "main"
}

// WindowKey identifies one counted scope.
type WindowKey struct {
	Dependency string
	Identifier string
	Kind       WindowKind
}

// TimestampEntry is the unique token stored per check attempt.
type TimestampEntry struct {
	At    time.Time
	Nonce string
}

// Score returns the ordering score in unix milliseconds.
func (e TimestampEntry) Score() int64 {
	return e.At.UnixMilli()
}

// Member returns the set member; the nonce keeps identical timestamps apart.
func (e TimestampEntry) Member() string {
	return fmt.Sprintf("%d-%s", e.At.UnixMilli(), e.Nonce)
}

// Decision captures an admission verdict.
type Decision struct {
	Allowed    bool
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
	// FailOpen marks decisions produced because the store could not be consulted.
	FailOpen bool
	// Unlimited marks decisions for unconfigured dependencies.
	Unlimited bool
}

// UsageRecord is one day of usage counters for a scope.
type UsageRecord struct {
	Dependency string
	Identifier string
	Date       string
	Total      int64
	Success    int64
	Error      int64
}

// DailyStats is the reported view of a UsageRecord.
type DailyStats struct {
	Total       int64   `json:"total"`
	Success     int64   `json:"success"`
	Error       int64   `json:"error"`
	SuccessRate float64 `json:"successRate"`
}

// WindowCount reports the live count of one window.
type WindowCount struct {
	Count     int64
	Limit     int64
	Remaining int64
	ResetAt   time.Time
}

// WindowUsage reports main and burst counts for a scope.
type WindowUsage struct {
	Main  WindowCount
	Burst *WindowCount
}

// CurrentLimits pairs the active config with the live usage.
// Current is nil when the dependency is unconfigured or the store could not be read.
type CurrentLimits struct {
	Config  Lookup
	Current *WindowUsage
}

// HealthStatus reports limiter health.
type HealthStatus struct {
	StoreReachable bool
	LimiterActive  bool
	ConfiguredAPIs []string
}
