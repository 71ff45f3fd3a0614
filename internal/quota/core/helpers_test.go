package core_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/takezou621/sedori-platform-sub003/internal/quota/core"
	"github.com/takezou621/sedori-platform-sub003/internal/quota/store/inmemory"
)

// 2023-11-14T22:13:10Z, ten seconds into a minute.
const baseMillis = 1_699_999_990_000

type fakeClock struct {
	ms atomic.Int64
}

func newFakeClock(ms int64) *fakeClock {
	c := &fakeClock{}
	c.ms.Store(ms)
	return c
}

func (c *fakeClock) Now() time.Time {
	return time.UnixMilli(c.ms.Load()).UTC()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.ms.Add(d.Milliseconds())
}

func (c *fakeClock) Set(ms int64) {
	c.ms.Store(ms)
}

type limiterFixture struct {
	clock   *fakeClock
	store   *inmemory.Store
	limiter *core.Limiter
	breaker *core.CircuitBreaker
}

func newLimiterFixture(t *testing.T, configs ...core.QuotaConfig) *limiterFixture {
	t.Helper()
	clock := newFakeClock(baseMillis)
	store := inmemory.NewStore(clock.Now)
	registry, err := core.NewRegistry(configs...)
	require.NoError(t, err)
	breaker := core.NewCircuitBreaker(core.CircuitOptions{FailureThreshold: 1000})
	breaker.SetClock(clock.Now)
	limiter := core.NewLimiter(registry, store, core.LimiterOptions{
		Now:     clock.Now,
		Breaker: breaker,
	})
	return &limiterFixture{clock: clock, store: store, limiter: limiter, breaker: breaker}
}
