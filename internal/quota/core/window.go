// Package core provides the fixed window counter.
package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WindowCounter counts check attempts inside calendar-aligned windows.
//
// Every attempt inserts a token, so rejected attempts count too. Insert, prune,
// count and expire run in one store transaction; two racing transactions may
// both observe a count at the limit, which bounds overshoot to the number of
// racers instead of guaranteeing an exact count.
type WindowCounter struct {
	store Store
	keys  *KeyBuilder
	now   func() time.Time
	nonce func() string
}

// NewWindowCounter constructs a WindowCounter.
func NewWindowCounter(store Store, keys *KeyBuilder, now func() time.Time) *WindowCounter {
	if now == nil {
		now = time.Now
	}
	if keys == nil {
		keys = NewKeyBuilder("")
	}
	return &WindowCounter{
		store: store,
		keys:  keys,
		now:   now,
		nonce: uuid.NewString,
	}
}

// Check records an attempt against key and evaluates it against maxCount.
func (wc *WindowCounter) Check(ctx context.Context, key WindowKey, window time.Duration, maxCount int64) (Decision, error) {
	if wc == nil || wc.store == nil {
		return Decision{}, Wrap(CodeStoreUnavailable, "window counter is not configured", nil)
	}
	if window <= 0 {
		return Decision{}, Wrap(CodeInvalidConfig, "invalid window", fmt.Errorf("window must be positive, got %s", window))
	}
	now := wc.now()
	boundary := WindowStart(now, window)
	resetAt := boundary.Add(window)
	entry := TimestampEntry{At: now, Nonce: wc.nonce()}
	storeKey := wc.keys.WindowKey(key)

	batch := wc.store.Batch()
	batch.SetAdd(storeKey, entry.Score(), entry.Member())
	batch.SetPruneBelow(storeKey, boundary.UnixMilli())
	batch.SetCard(storeKey)
	batch.Expire(storeKey, WindowTTL(window))
	results, err := batch.Exec(ctx)
	if err != nil {
		return Decision{}, Wrap(CodeStoreUnavailable, "window batch failed", err)
	}
	if len(results) != 4 {
		return Decision{}, Wrap(CodeStoreUnavailable, "window batch failed", fmt.Errorf("expected 4 results, got %d", len(results)))
	}
	count := results[2]
	return evaluate(now, resetAt, count, maxCount), nil
}

// Count reads the live count of a window without recording an attempt.
func (wc *WindowCounter) Count(ctx context.Context, key WindowKey, window time.Duration, maxCount int64) (WindowCount, error) {
	if wc == nil || wc.store == nil {
		return WindowCount{}, Wrap(CodeStoreUnavailable, "window counter is not configured", nil)
	}
	if window <= 0 {
		return WindowCount{}, Wrap(CodeInvalidConfig, "invalid window", fmt.Errorf("window must be positive, got %s", window))
	}
	boundary := WindowStart(wc.now(), window)
	count, err := wc.store.CountSince(ctx, wc.keys.WindowKey(key), boundary.UnixMilli())
	if err != nil {
		return WindowCount{}, Wrap(CodeStoreUnavailable, "window count failed", err)
	}
	remaining := maxCount - count
	if remaining < 0 {
		remaining = 0
	}
	return WindowCount{
		Count:     count,
		Limit:     maxCount,
		Remaining: remaining,
		ResetAt:   boundary.Add(window),
	}, nil
}

func evaluate(now, resetAt time.Time, count, maxCount int64) Decision {
	if count > maxCount {
		retryAfter := resetAt.Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return Decision{
			Allowed:    false,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: retryAfter,
		}
	}
	return Decision{
		Allowed:   true,
		Remaining: maxCount - count,
		ResetAt:   resetAt,
	}
}

// WindowStart returns floor(now/window)*window on the unix epoch.
func WindowStart(now time.Time, window time.Duration) time.Time {
	if window <= 0 {
		return now
	}
	ms := now.UnixMilli()
	size := window.Milliseconds()
	if size <= 0 {
		size = 1
	}
	start := ms - ms%size
	return time.UnixMilli(start).In(now.Location())
}

// WindowTTL rounds a window up to whole seconds for key expiry.
func WindowTTL(window time.Duration) time.Duration {
	if window <= time.Second {
		return time.Second
	}
	ttl := window.Truncate(time.Second)
	if ttl < window {
		ttl += time.Second
	}
	return ttl
}
