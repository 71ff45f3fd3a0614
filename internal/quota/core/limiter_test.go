package core_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takezou621/sedori-platform-sub003/internal/quota/core"
)

func TestLimiter_BurstThenWindowScenario(t *testing.T) {
	t.Parallel()

	f := newLimiterFixture(t, core.QuotaConfig{Dependency: "provider", Window: time.Minute, MaxRequests: 3, BurstLimit: 2})
	ctx := context.Background()

	first := f.limiter.CheckRateLimit(ctx, "provider", "")
	require.True(t, first.Allowed)
	assert.Equal(t, int64(2), first.Remaining)

	second := f.limiter.CheckRateLimit(ctx, "provider", "")
	require.True(t, second.Allowed)
	limits := f.limiter.GetCurrentLimits(ctx, "provider", "")
	require.NotNil(t, limits.Current)
	require.NotNil(t, limits.Current.Burst)
	assert.Equal(t, int64(0), limits.Current.Burst.Remaining)

	third := f.limiter.CheckRateLimit(ctx, "provider", "")
	require.False(t, third.Allowed)
	assert.Equal(t, time.Second, third.RetryAfter)
	limits = f.limiter.GetCurrentLimits(ctx, "provider", "")
	assert.Equal(t, int64(2), limits.Current.Main.Count)

	f.clock.Advance(time.Second)
	retried := f.limiter.CheckRateLimit(ctx, "provider", "")
	require.True(t, retried.Allowed)
	limits = f.limiter.GetCurrentLimits(ctx, "provider", "")
	assert.Equal(t, int64(3), limits.Current.Main.Count)

	f.clock.Advance(time.Second)
	fourth := f.limiter.CheckRateLimit(ctx, "provider", "")
	assert.False(t, fourth.Allowed)
	assert.Equal(t, int64(0), fourth.Remaining)
	assert.Equal(t, 48*time.Second, fourth.RetryAfter)
}

func TestLimiter_SequentialCallsNeverExceedQuota(t *testing.T) {
	t.Parallel()

	f := newLimiterFixture(t, core.QuotaConfig{Dependency: "keepa", Window: time.Minute, MaxRequests: 5})
	allowed := 0
	for i := 0; i < 20; i++ {
		if f.limiter.CheckRateLimit(context.Background(), "keepa", "seller-1").Allowed {
			allowed++
		}
	}
	assert.Equal(t, 5, allowed)
}

func TestLimiter_ConcurrentCallsNeverExceedQuota(t *testing.T) {
	t.Parallel()

	f := newLimiterFixture(t, core.QuotaConfig{Dependency: "keepa", Window: time.Minute, MaxRequests: 10})
	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.limiter.CheckRateLimit(context.Background(), "keepa", "").Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(10), allowed.Load())
}

func TestLimiter_ResetAtIsNextWindowBoundary(t *testing.T) {
	t.Parallel()

	f := newLimiterFixture(t, core.QuotaConfig{Dependency: "keepa", Window: time.Minute, MaxRequests: 5})
	for _, offset := range []time.Duration{0, 17 * time.Second, 49*time.Second + 999*time.Millisecond} {
		f.clock.Set(baseMillis + offset.Milliseconds())
		now := f.clock.Now()
		decision := f.limiter.CheckRateLimit(context.Background(), "keepa", offset.String())
		assert.True(t, decision.ResetAt.After(now))
		assert.False(t, decision.ResetAt.After(now.Add(time.Minute)))
		assert.Equal(t, int64(0), decision.ResetAt.UnixMilli()%time.Minute.Milliseconds())
	}
}

func TestLimiter_WindowBoundaryAdmitsTwiceTheQuota(t *testing.T) {
	t.Parallel()

	f := newLimiterFixture(t, core.QuotaConfig{Dependency: "keepa", Window: time.Minute, MaxRequests: 3})
	f.clock.Set(baseMillis + 49_500)
	allowed := 0
	for i := 0; i < 4; i++ {
		if f.limiter.CheckRateLimit(context.Background(), "keepa", "").Allowed {
			allowed++
		}
	}
	f.clock.Advance(time.Second)
	for i := 0; i < 4; i++ {
		if f.limiter.CheckRateLimit(context.Background(), "keepa", "").Allowed {
			allowed++
		}
	}
	assert.Equal(t, 6, allowed)
}

func TestLimiter_IdentifiersAreIndependent(t *testing.T) {
	t.Parallel()

	f := newLimiterFixture(t, core.QuotaConfig{Dependency: "keepa", Window: time.Minute, MaxRequests: 1})
	ctx := context.Background()
	assert.True(t, f.limiter.CheckRateLimit(ctx, "keepa", "a").Allowed)
	assert.False(t, f.limiter.CheckRateLimit(ctx, "keepa", "a").Allowed)
	assert.True(t, f.limiter.CheckRateLimit(ctx, "keepa", "b").Allowed)
	assert.True(t, f.limiter.CheckRateLimit(ctx, "keepa", "").Allowed)
	assert.False(t, f.limiter.CheckRateLimit(ctx, "keepa", core.DefaultIdentifier).Allowed)
}

func TestLimiter_UnconfiguredIsUnlimited(t *testing.T) {
	t.Parallel()

	f := newLimiterFixture(t)
	decision := f.limiter.CheckRateLimit(context.Background(), "anything", "")
	assert.True(t, decision.Allowed)
	assert.True(t, decision.Unlimited)
	assert.Equal(t, core.UnlimitedRemaining, decision.Remaining)
	assert.Equal(t, f.clock.Now().Add(time.Minute), decision.ResetAt)
	assert.Empty(t, f.store.Members("apiquota:anything:global"))

	limits := f.limiter.GetCurrentLimits(context.Background(), "anything", "")
	assert.False(t, limits.Config.Configured)
	assert.Nil(t, limits.Current)
}

func TestLimiter_FailsOpenWhenStoreIsDown(t *testing.T) {
	t.Parallel()

	f := newLimiterFixture(t, core.QuotaConfig{Dependency: "keepa", Window: time.Minute, MaxRequests: 7, BurstLimit: 2})
	f.store.SetHealthy(false)

	for i := 0; i < 5; i++ {
		decision := f.limiter.CheckRateLimit(context.Background(), "keepa", "")
		assert.True(t, decision.Allowed)
		assert.True(t, decision.FailOpen)
		assert.Equal(t, int64(7), decision.Remaining)
	}

	health := f.limiter.HealthCheck(context.Background())
	assert.False(t, health.StoreReachable)
	assert.False(t, health.LimiterActive)
	assert.Equal(t, []string{"keepa"}, health.ConfiguredAPIs)

	assert.Nil(t, f.limiter.GetCurrentLimits(context.Background(), "keepa", "").Current)
}

func TestLimiter_FailsOpenOnStoreTimeout(t *testing.T) {
	t.Parallel()

	f := newLimiterFixture(t, core.QuotaConfig{Dependency: "keepa", Window: time.Minute, MaxRequests: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	decision := f.limiter.CheckRateLimit(ctx, "keepa", "")
	assert.True(t, decision.Allowed)
	assert.True(t, decision.FailOpen)
}

func TestLimiter_CallerCancellationDoesNotTripBreaker(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(baseMillis)
	f := newLimiterFixture(t)
	registry, err := core.NewRegistry(core.QuotaConfig{Dependency: "keepa", Window: time.Minute, MaxRequests: 1})
	require.NoError(t, err)
	breaker := core.NewCircuitBreaker(core.CircuitOptions{FailureThreshold: 10, OpenDuration: time.Minute, HalfOpenMaxCalls: 1})
	breaker.SetClock(clock.Now)
	limiter := core.NewLimiter(registry, f.store, core.LimiterOptions{Now: clock.Now, Breaker: breaker})

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 10; i++ {
		assert.True(t, limiter.CheckRateLimit(canceled, "keepa", "other-caller").FailOpen)
	}
	require.Equal(t, core.CircuitClosed, breaker.State())

	ctx := context.Background()
	first := limiter.CheckRateLimit(ctx, "keepa", "victim")
	require.True(t, first.Allowed)
	second := limiter.CheckRateLimit(ctx, "keepa", "victim")
	assert.False(t, second.Allowed)
	assert.False(t, second.FailOpen)
}

func TestLimiter_OpenBreakerSkipsStore(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(baseMillis)
	f := newLimiterFixture(t)
	registry, err := core.NewRegistry(core.QuotaConfig{Dependency: "keepa", Window: time.Minute, MaxRequests: 1})
	require.NoError(t, err)
	breaker := core.NewCircuitBreaker(core.CircuitOptions{FailureThreshold: 2, OpenDuration: time.Second, HalfOpenMaxCalls: 1})
	breaker.SetClock(clock.Now)
	limiter := core.NewLimiter(registry, f.store, core.LimiterOptions{Now: clock.Now, Breaker: breaker})

	f.store.SetHealthy(false)
	limiter.CheckRateLimit(context.Background(), "keepa", "")
	limiter.CheckRateLimit(context.Background(), "keepa", "")
	require.Equal(t, core.CircuitOpen, breaker.State())

	f.store.SetHealthy(true)
	decision := limiter.CheckRateLimit(context.Background(), "keepa", "")
	assert.True(t, decision.FailOpen)
	assert.Empty(t, f.store.Members("apiquota:keepa:global"))

	clock.Advance(time.Second)
	decision = limiter.CheckRateLimit(context.Background(), "keepa", "")
	assert.True(t, decision.Allowed)
	assert.False(t, decision.FailOpen)
	assert.Equal(t, core.CircuitClosed, breaker.State())
	assert.Len(t, f.store.Members("apiquota:keepa:global"), 1)
}

func TestLimiter_SeparatorInIdentifierDoesNotShareBurstKey(t *testing.T) {
	t.Parallel()

	f := newLimiterFixture(t, core.QuotaConfig{Dependency: "keepa", Window: time.Hour, MaxRequests: 100, BurstLimit: 1})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.limiter.CheckRateLimit(ctx, "keepa", "x:burst")
	}
	decision := f.limiter.CheckRateLimit(ctx, "keepa", "x")
	assert.True(t, decision.Allowed)
	assert.Len(t, f.store.Members("apiquota:keepa:x:burst"), 1)
	assert.Len(t, f.store.Members("apiquota:keepa:x%3Aburst"), 1)
	assert.Len(t, f.store.Members("apiquota:keepa:x%3Aburst:burst"), 3)
}

func TestLimiter_BlankIdentifierIsGlobal(t *testing.T) {
	t.Parallel()

	f := newLimiterFixture(t, core.QuotaConfig{Dependency: "keepa", Window: time.Minute, MaxRequests: 1})
	ctx := context.Background()
	require.True(t, f.limiter.CheckRateLimit(ctx, "keepa", "").Allowed)
	assert.False(t, f.limiter.CheckRateLimit(ctx, "keepa", "   ").Allowed)
	assert.Len(t, f.store.Members("apiquota:keepa:global"), 2)
}

func TestLimiter_BurstRejectionLeavesMainWindowUntouched(t *testing.T) {
	t.Parallel()

	f := newLimiterFixture(t, core.QuotaConfig{Dependency: "keepa", Window: time.Hour, MaxRequests: 100, BurstLimit: 1})
	ctx := context.Background()
	require.True(t, f.limiter.CheckRateLimit(ctx, "keepa", "").Allowed)
	for i := 0; i < 3; i++ {
		require.False(t, f.limiter.CheckRateLimit(ctx, "keepa", "").Allowed)
	}
	assert.Len(t, f.store.Members("apiquota:keepa:global"), 1)
	assert.Len(t, f.store.Members("apiquota:keepa:global:burst"), 4)

	ttl, ok := f.store.TTL("apiquota:keepa:global:burst")
	require.True(t, ok)
	assert.Equal(t, time.Second, ttl)
	ttl, ok = f.store.TTL("apiquota:keepa:global")
	require.True(t, ok)
	assert.Equal(t, time.Hour, ttl)
}

func TestLimiter_WaitReturnsOnceAdmitted(t *testing.T) {
	t.Parallel()

	f := newLimiterFixture(t, core.QuotaConfig{Dependency: "keepa", Window: time.Minute, MaxRequests: 10, BurstLimit: 1})
	f.clock.Set(baseMillis + 950)
	require.NoError(t, f.limiter.WaitForRateLimit(context.Background(), "keepa", ""))

	start := time.Now()
	require.NoError(t, f.limiter.WaitForRateLimit(context.Background(), "keepa", ""))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestLimiter_WaitHonorsCancellation(t *testing.T) {
	t.Parallel()

	f := newLimiterFixture(t, core.QuotaConfig{Dependency: "keepa", Window: time.Minute, MaxRequests: 1})
	require.NoError(t, f.limiter.WaitForRateLimit(context.Background(), "keepa", ""))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := f.limiter.WaitForRateLimit(ctx, "keepa", "")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestLimiter_ResetClearsBothWindows(t *testing.T) {
	t.Parallel()

	f := newLimiterFixture(t, core.QuotaConfig{Dependency: "keepa", Window: time.Minute, MaxRequests: 1, BurstLimit: 1})
	ctx := context.Background()
	require.True(t, f.limiter.CheckRateLimit(ctx, "keepa", "x").Allowed)
	f.clock.Advance(time.Second)
	require.False(t, f.limiter.CheckRateLimit(ctx, "keepa", "x").Allowed)

	require.NoError(t, f.limiter.ResetRateLimit(ctx, "keepa", "x"))
	assert.Empty(t, f.store.Members("apiquota:keepa:x"))
	assert.Empty(t, f.store.Members("apiquota:keepa:x:burst"))
	assert.True(t, f.limiter.CheckRateLimit(ctx, "keepa", "x").Allowed)

	f.store.SetHealthy(false)
	err := f.limiter.ResetRateLimit(ctx, "keepa", "x")
	assert.True(t, errors.Is(err, core.ErrStoreUnavailable))
	assert.True(t, errors.Is(f.limiter.ResetRateLimit(ctx, "", "x"), core.ErrInvalidInput))
}

func TestLimiter_UpdateConfigValidates(t *testing.T) {
	t.Parallel()

	original := core.QuotaConfig{Dependency: "keepa", Window: time.Minute, MaxRequests: 5}
	f := newLimiterFixture(t, original)

	invalid := []core.QuotaConfig{
		{Window: 24 * time.Hour, MaxRequests: -5},
		{Window: 0, MaxRequests: 5},
		{Window: time.Minute, MaxRequests: 5, BurstLimit: -1},
	}
	for _, cfg := range invalid {
		err := f.limiter.UpdateConfig("keepa", cfg)
		assert.True(t, errors.Is(err, core.ErrInvalidConfig))
		assert.Equal(t, original, f.limiter.Registry().Get("keepa").Config)
	}
	assert.True(t, errors.Is(f.limiter.UpdateConfig("", original), core.ErrInvalidConfig))

	require.NoError(t, f.limiter.UpdateConfig("rakuten", core.QuotaConfig{Window: time.Second, MaxRequests: 1}))
	configs := f.limiter.ListConfigs()
	require.Len(t, configs, 2)
	assert.Equal(t, "keepa", configs[0].Dependency)
	assert.Equal(t, "rakuten", configs[1].Dependency)

	ctx := context.Background()
	assert.True(t, f.limiter.CheckRateLimit(ctx, "rakuten", "").Allowed)
	assert.False(t, f.limiter.CheckRateLimit(ctx, "rakuten", "").Allowed)
}

func TestLimiter_HealthyStoreReportsActive(t *testing.T) {
	t.Parallel()

	f := newLimiterFixture(t, core.QuotaConfig{Dependency: "b", Window: time.Second, MaxRequests: 1}, core.QuotaConfig{Dependency: "a", Window: time.Second, MaxRequests: 1})
	health := f.limiter.HealthCheck(context.Background())
	assert.True(t, health.StoreReachable)
	assert.True(t, health.LimiterActive)
	assert.Equal(t, []string{"a", "b"}, health.ConfiguredAPIs)
}
