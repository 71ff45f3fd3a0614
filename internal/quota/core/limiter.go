// Package core provides the admission facade.
package core

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/takezou621/sedori-platform-sub003/internal/quota/observability"
)

const tracerName = "github.com/takezou621/sedori-platform-sub003/internal/quota/core"

const defaultStoreTimeout = 250 * time.Millisecond

const (
	resultAllowed        = "allowed"
	resultRejectedBurst  = "rejected_burst"
	resultRejectedWindow = "rejected_window"
	resultUnlimited      = "unlimited"
	resultFailOpen       = "fail_open"
)

// LimiterOptions configures a Limiter.
type LimiterOptions struct {
	StoreTimeout time.Duration
	Now          func() time.Time
	Keys         *KeyBuilder
	Breaker      *CircuitBreaker
	Logger       observability.Logger
	Metrics      observability.Metrics
}

// Limiter runs the burst gate and the window counter for configured
// dependencies and fails open whenever the store cannot be consulted.
type Limiter struct {
	registry *Registry
	store    Store
	counter  *WindowCounter
	keys     *KeyBuilder
	breaker  *CircuitBreaker
	logger   observability.Logger
	metrics  observability.Metrics
	tracer   trace.Tracer
	timeout  time.Duration
	now      func() time.Time
}

// NewLimiter constructs a Limiter.
func NewLimiter(registry *Registry, store Store, opts LimiterOptions) *Limiter {
	if registry == nil {
		registry, _ = NewRegistry()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Keys == nil {
		opts.Keys = NewKeyBuilder("")
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger{}
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NopMetrics{}
	}
	return &Limiter{
		registry: registry,
		store:    store,
		counter:  NewWindowCounter(store, opts.Keys, opts.Now),
		keys:     opts.Keys,
		breaker:  opts.Breaker,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		tracer:   otel.Tracer(tracerName),
		timeout:  opts.StoreTimeout,
		now:      opts.Now,
	}
}

// Registry returns the quota registry.
func (l *Limiter) Registry() *Registry {
	if l == nil {
		return nil
	}
	return l.registry
}

// CheckRateLimit records an attempt and returns the admission decision.
// It never fails: unconfigured dependencies are unlimited and store failures admit.
func (l *Limiter) CheckRateLimit(ctx context.Context, dependency, identifier string) Decision {
	ctx, span := l.tracer.Start(ctx, "Limiter.CheckRateLimit", trace.WithAttributes(
		attribute.String("quota.dependency", dependency),
		attribute.String("quota.identifier", normalizeIdentifier(identifier)),
	))
	defer span.End()

	lookup := l.registry.Get(dependency)
	if !lookup.Configured {
		l.logger.Warn("no quota configured for dependency, allowing call", map[string]any{
			"dependency": dependency,
			"identifier": normalizeIdentifier(identifier),
		})
		l.metrics.IncDecision(dependency, resultUnlimited)
		span.SetAttributes(attribute.String("quota.result", resultUnlimited))
		return Decision{
			Allowed:   true,
			Remaining: UnlimitedRemaining,
			ResetAt:   l.now().Add(time.Minute),
			Unlimited: true,
		}
	}
	cfg := lookup.Config

	if !l.breaker.Allow() {
		return l.failOpen(span, dependency, identifier, cfg, "breaker_open", nil)
	}
	decision, result, err := l.decide(ctx, dependency, identifier, cfg)
	if err != nil {
		// A caller that gave up says nothing about the store.
		if ctx.Err() != nil {
			l.breaker.Release()
			return l.failOpen(span, dependency, identifier, cfg, "caller_canceled", err)
		}
		l.breaker.OnFailure()
		return l.failOpen(span, dependency, identifier, cfg, "store_error", err)
	}
	l.breaker.OnSuccess()
	l.metrics.IncDecision(dependency, result)
	span.SetAttributes(
		attribute.String("quota.result", result),
		attribute.Int64("quota.remaining", decision.Remaining),
	)
	return decision
}

func (l *Limiter) decide(ctx context.Context, dependency, identifier string, cfg QuotaConfig) (Decision, string, error) {
	if cfg.HasBurst() {
		burst, err := l.check(ctx, WindowKey{Dependency: dependency, Identifier: identifier, Kind: WindowBurst}, BurstWindow, cfg.BurstLimit)
		if err != nil {
			return Decision{}, "", err
		}
		if !burst.Allowed {
			return burst, resultRejectedBurst, nil
		}
	}
	decision, err := l.check(ctx, WindowKey{Dependency: dependency, Identifier: identifier, Kind: WindowMain}, cfg.Window, cfg.MaxRequests)
	if err != nil {
		return Decision{}, "", err
	}
	if !decision.Allowed {
		return decision, resultRejectedWindow, nil
	}
	return decision, resultAllowed, nil
}

func (l *Limiter) check(parent context.Context, key WindowKey, window time.Duration, maxCount int64) (Decision, error) {
	ctx, cancel := context.WithTimeout(parent, l.timeout)
	defer cancel()
	op := "check_" + key.Kind.String()
	start := time.Now()
	decision, err := l.counter.Check(ctx, key, window, maxCount)
	l.metrics.ObserveLatency(op, time.Since(start))
	if err != nil && parent.Err() == nil {
		l.metrics.IncStoreError(op)
	}
	return decision, err
}

func (l *Limiter) failOpen(span trace.Span, dependency, identifier string, cfg QuotaConfig, reason string, err error) Decision {
	fields := map[string]any{
		"dependency": dependency,
		"identifier": normalizeIdentifier(identifier),
		"reason":     reason,
	}
	if err != nil {
		fields["error"] = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, "store unavailable")
	}
	l.logger.Error("rate limit check failed, allowing call", fields)
	l.metrics.IncFailOpen(dependency, reason)
	l.metrics.IncDecision(dependency, resultFailOpen)
	span.SetAttributes(attribute.String("quota.result", resultFailOpen))
	now := l.now()
	return Decision{
		Allowed:   true,
		Remaining: cfg.MaxRequests,
		ResetAt:   WindowStart(now, cfg.Window).Add(cfg.Window),
		FailOpen:  true,
	}
}

// WaitForRateLimit checks once and, when rejected, sleeps for the advertised
// retry delay. It returns ctx.Err() if the caller gives up first.
func (l *Limiter) WaitForRateLimit(ctx context.Context, dependency, identifier string) error {
	decision := l.CheckRateLimit(ctx, dependency, identifier)
	if decision.Allowed || decision.RetryAfter <= 0 {
		return nil
	}
	l.logger.Info("rate limited, waiting", map[string]any{
		"dependency":  dependency,
		"identifier":  normalizeIdentifier(identifier),
		"retry_after": decision.RetryAfter.String(),
	})
	timer := time.NewTimer(decision.RetryAfter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// GetCurrentLimits returns the active config and live window counts.
func (l *Limiter) GetCurrentLimits(ctx context.Context, dependency, identifier string) CurrentLimits {
	lookup := l.registry.Get(dependency)
	if !lookup.Configured {
		return CurrentLimits{Config: lookup}
	}
	ctx, span := l.tracer.Start(ctx, "Limiter.GetCurrentLimits", trace.WithAttributes(
		attribute.String("quota.dependency", dependency),
	))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	cfg := lookup.Config
	mainCount, err := l.counter.Count(ctx, WindowKey{Dependency: dependency, Identifier: identifier, Kind: WindowMain}, cfg.Window, cfg.MaxRequests)
	if err != nil {
		l.logCountError(span, dependency, identifier, err)
		return CurrentLimits{Config: lookup}
	}
	usage := &WindowUsage{Main: mainCount}
	if cfg.HasBurst() {
		burst, err := l.counter.Count(ctx, WindowKey{Dependency: dependency, Identifier: identifier, Kind: WindowBurst}, BurstWindow, cfg.BurstLimit)
		if err != nil {
			l.logCountError(span, dependency, identifier, err)
			return CurrentLimits{Config: lookup}
		}
		usage.Burst = &burst
	}
	return CurrentLimits{Config: lookup, Current: usage}
}

func (l *Limiter) logCountError(span trace.Span, dependency, identifier string, err error) {
	span.RecordError(err)
	l.metrics.IncStoreError("count")
	l.logger.Error("failed to read current limits", map[string]any{
		"dependency": dependency,
		"identifier": normalizeIdentifier(identifier),
		"error":      err.Error(),
	})
}

// ResetRateLimit deletes the main and burst windows of a scope.
func (l *Limiter) ResetRateLimit(ctx context.Context, dependency, identifier string) error {
	if dependency == "" {
		return Wrap(CodeInvalidInput, "dependency is required", nil)
	}
	if l.store == nil {
		return Wrap(CodeStoreUnavailable, "store is not configured", nil)
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	keys := []string{
		l.keys.WindowKey(WindowKey{Dependency: dependency, Identifier: identifier, Kind: WindowMain}),
		l.keys.WindowKey(WindowKey{Dependency: dependency, Identifier: identifier, Kind: WindowBurst}),
	}
	if err := l.store.Delete(ctx, keys...); err != nil {
		l.metrics.IncStoreError("reset")
		l.logger.Error("failed to reset rate limit", map[string]any{
			"dependency": dependency,
			"identifier": normalizeIdentifier(identifier),
			"error":      err.Error(),
		})
		return Wrap(CodeStoreUnavailable, "failed to reset rate limit", err)
	}
	l.logger.Info("rate limit reset", map[string]any{
		"dependency": dependency,
		"identifier": normalizeIdentifier(identifier),
	})
	return nil
}

// UpdateConfig validates and installs a quota for future checks.
// Invalid input leaves the previous config in place.
func (l *Limiter) UpdateConfig(dependency string, cfg QuotaConfig) error {
	if dependency == "" {
		return Wrap(CodeInvalidConfig, "invalid quota config", errors.New("dependency is required"))
	}
	if err := cfg.Validate(); err != nil {
		l.logger.Warn("rejected quota config", map[string]any{
			"dependency": dependency,
			"error":      err.Error(),
		})
		return err
	}
	cfg.Dependency = dependency
	l.registry.Set(dependency, cfg)
	l.logger.Info("quota config updated", map[string]any{
		"dependency":   dependency,
		"window":       cfg.Window.String(),
		"max_requests": cfg.MaxRequests,
		"burst_limit":  cfg.BurstLimit,
	})
	return nil
}

// ListConfigs returns every configured quota.
func (l *Limiter) ListConfigs() []QuotaConfig {
	return l.registry.All()
}

// HealthCheck probes the store.
func (l *Limiter) HealthCheck(ctx context.Context) HealthStatus {
	reachable := l.ping(ctx) == nil
	return HealthStatus{
		StoreReachable: reachable,
		LimiterActive:  reachable,
		ConfiguredAPIs: l.registry.Names(),
	}
}

func (l *Limiter) ping(ctx context.Context) error {
	if l.store == nil {
		return Wrap(CodeStoreUnavailable, "store is not configured", nil)
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	start := time.Now()
	err := l.store.Ping(ctx)
	l.metrics.ObserveLatency("ping", time.Since(start))
	l.metrics.SetStoreUp(err == nil)
	if err != nil {
		l.metrics.IncStoreError("ping")
		return Wrap(CodeStoreUnavailable, "store ping failed", err)
	}
	return nil
}
