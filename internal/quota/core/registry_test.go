package core_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takezou621/sedori-platform-sub003/internal/quota/core"
)

func TestRegistry_LookupVariants(t *testing.T) {
	t.Parallel()

	registry, err := core.NewRegistry(core.QuotaConfig{Dependency: "keepa", Window: time.Minute, MaxRequests: 5})
	require.NoError(t, err)

	lookup := registry.Get("keepa")
	assert.True(t, lookup.Configured)
	assert.Equal(t, int64(5), lookup.Config.MaxRequests)
	assert.Equal(t, core.Unconfigured(), registry.Get("missing"))

	var nilRegistry *core.Registry
	assert.False(t, nilRegistry.Get("keepa").Configured)
}

func TestRegistry_RejectsInvalidSeeds(t *testing.T) {
	t.Parallel()

	_, err := core.NewRegistry(core.QuotaConfig{Window: time.Minute, MaxRequests: 1})
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
	_, err = core.NewRegistry(core.QuotaConfig{Dependency: "keepa", Window: time.Minute})
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestRegistry_SetIsCopyOnWrite(t *testing.T) {
	t.Parallel()

	registry, err := core.NewRegistry(core.QuotaConfig{Dependency: "b", Window: time.Minute, MaxRequests: 1})
	require.NoError(t, err)
	before := registry.All()

	registry.Set("a", core.QuotaConfig{Window: time.Second, MaxRequests: 2})
	registry.Set("b", core.QuotaConfig{Window: time.Hour, MaxRequests: 3})

	require.Len(t, before, 1)
	assert.Equal(t, time.Minute, before[0].Window)
	assert.Equal(t, []string{"a", "b"}, registry.Names())
	assert.Equal(t, "a", registry.Get("a").Config.Dependency)
	assert.Equal(t, time.Hour, registry.Get("b").Config.Window)
}

func TestRegistry_ConcurrentReadersAndWriters(t *testing.T) {
	t.Parallel()

	registry, err := core.NewRegistry()
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			registry.Set(fmt.Sprintf("dep-%d", i%10), core.QuotaConfig{Window: time.Second, MaxRequests: int64(i + 1)})
		}
	}()
	for i := 0; i < 200; i++ {
		_ = registry.Get("dep-1")
		_ = registry.Names()
	}
	<-done
	assert.Len(t, registry.Names(), 10)
}

func TestKeyBuilder_Keys(t *testing.T) {
	t.Parallel()

	kb := core.NewKeyBuilder("")
	assert.Equal(t, "apiquota:keepa:global", kb.WindowKey(core.WindowKey{Dependency: "keepa"}))
	assert.Equal(t, "apiquota:keepa:seller-1:burst", kb.WindowKey(core.WindowKey{Dependency: "keepa", Identifier: "seller-1", Kind: core.WindowBurst}))

	assert.Equal(t, "apiquota:a%3Ab:x%3Aburst", kb.WindowKey(core.WindowKey{Dependency: "a:b", Identifier: "x:burst"}))
	assert.Equal(t, "apiquota:keepa:100%25", kb.WindowKey(core.WindowKey{Dependency: "keepa", Identifier: "100%"}))
	assert.Equal(t, "apiquota:keepa:global", kb.WindowKey(core.WindowKey{Dependency: "keepa", Identifier: " \t"}))

	custom := core.NewKeyBuilder(" tenant: ")
	day := time.Date(2024, 2, 29, 23, 30, 0, 0, time.FixedZone("JST", 9*3600))
	assert.Equal(t, "tenant:stats:rakuten:global:2024-02-29", custom.UsageKey("rakuten", "", day))
	assert.Equal(t, "2024-02-29", core.FormatDate(day))
}

func TestErrors_MatchByCode(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial tcp: refused")
	err := core.Wrap(core.CodeStoreUnavailable, "window batch failed", cause)
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, core.ErrInvalidConfig)
	assert.Equal(t, core.CodeStoreUnavailable, core.CodeOf(fmt.Errorf("wrapped: %w", err)))
	assert.Equal(t, core.ErrorCode(""), core.CodeOf(cause))
	assert.Equal(t, "window batch failed: dial tcp: refused", err.Error())
}
