// Package core defines the store contract.
package core

import (
	"context"
	"time"
)

// Store is the backing store for window sets and usage hashes.
// Implementations must be safe for concurrent use from many processes.
type Store interface {
	Ping(ctx context.Context) error
	Batch() Batch
	CountSince(ctx context.Context, key string, minScore int64) (int64, error)
	HashGetAll(ctx context.Context, key string) (map[string]int64, error)
	Delete(ctx context.Context, keys ...string) error
}

// Batch queues commands that execute atomically on Exec.
// Exec returns one result per queued command, in order.
type Batch interface {
	SetAdd(key string, score int64, member string)
	SetPruneBelow(key string, score int64)
	SetCard(key string)
	Expire(key string, ttl time.Duration)
	HashIncr(key, field string, delta int64)
	Exec(ctx context.Context) ([]int64, error)
}
