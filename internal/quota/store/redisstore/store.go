// Package redisstore implements the quota store on Redis.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/takezou621/sedori-platform-sub003/internal/quota/core"
)

// Options configures the Redis connection.
type Options struct {
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration
}

// Store runs window and usage commands against Redis. Batches execute as
// MULTI/EXEC transactions.
type Store struct {
	client redis.UniversalClient
	owned  bool
}

// New dials Redis lazily with the given options.
func New(opts Options) (*Store, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		PoolSize:    opts.PoolSize,
		DialTimeout: opts.DialTimeout,
	})
	return &Store{client: client, owned: true}, nil
}

// NewWithClient wraps an existing client. Close leaves it open.
func NewWithClient(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

// Close releases the connection pool when the store created it.
func (s *Store) Close() error {
	if s == nil || s.client == nil || !s.owned {
		return nil
	}
	return s.client.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return errors.New("redis client is nil")
	}
	return s.client.Ping(ctx).Err()
}

// Batch starts a transaction.
func (s *Store) Batch() core.Batch {
	return &batch{pipe: s.client.TxPipeline()}
}

// CountSince counts members scored at or above minScore.
func (s *Store) CountSince(ctx context.Context, key string, minScore int64) (int64, error) {
	return s.client.ZCount(ctx, key, strconv.FormatInt(minScore, 10), "+inf").Result()
}

// HashGetAll reads every field of a usage hash.
func (s *Store) HashGetAll(ctx context.Context, key string) (map[string]int64, error) {
	raw, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for field, value := range raw {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("hash %s field %s: %w", key, field, err)
		}
		out[field] = n
	}
	return out, nil
}

// Delete removes keys.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

type batch struct {
	pipe    redis.Pipeliner
	results []func() (int64, error)
}

func (b *batch) SetAdd(key string, score int64, member string) {
	cmd := b.pipe.ZAdd(context.Background(), key, redis.Z{Score: float64(score), Member: member})
	b.results = append(b.results, cmd.Result)
}

func (b *batch) SetPruneBelow(key string, score int64) {
	cmd := b.pipe.ZRemRangeByScore(context.Background(), key, "-inf", "("+strconv.FormatInt(score, 10))
	b.results = append(b.results, cmd.Result)
}

func (b *batch) SetCard(key string) {
	cmd := b.pipe.ZCard(context.Background(), key)
	b.results = append(b.results, cmd.Result)
}

func (b *batch) Expire(key string, ttl time.Duration) {
	cmd := b.pipe.Expire(context.Background(), key, ttl)
	b.results = append(b.results, func() (int64, error) {
		ok, err := cmd.Result()
		if ok {
			return 1, err
		}
		return 0, err
	})
}

func (b *batch) HashIncr(key, field string, delta int64) {
	cmd := b.pipe.HIncrBy(context.Background(), key, field, delta)
	b.results = append(b.results, cmd.Result)
}

func (b *batch) Exec(ctx context.Context) ([]int64, error) {
	if _, err := b.pipe.Exec(ctx); err != nil {
		return nil, err
	}
	out := make([]int64, len(b.results))
	for i, result := range b.results {
		n, err := result()
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}
