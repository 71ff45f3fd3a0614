// Package inmemory provides an in-process implementation of the quota store.
package inmemory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/takezou621/sedori-platform-sub003/internal/quota/core"
)

// ErrUnavailable is returned while the store is marked unhealthy.
var ErrUnavailable = errors.New("inmemory store unavailable")

// Store keeps sorted sets, hashes and expiries in memory. All keys share one
// lock, so every batch is atomic with respect to every other call.
type Store struct {
	mu      sync.Mutex
	now     func() time.Time
	sets    map[string]map[string]int64
	hashes  map[string]map[string]int64
	expires map[string]time.Time
	healthy atomic.Bool
}

// NewStore constructs an in-memory store.
func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	store := &Store{
		now:     now,
		sets:    make(map[string]map[string]int64),
		hashes:  make(map[string]map[string]int64),
		expires: make(map[string]time.Time),
	}
	store.healthy.Store(true)
	return store
}

// SetHealthy toggles simulated reachability.
func (s *Store) SetHealthy(v bool) {
	if s == nil {
		return
	}
	s.healthy.Store(v)
}

// Ping reports store reachability.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.available(ctx); err != nil {
		return err
	}
	return nil
}

// Batch creates a new transaction.
func (s *Store) Batch() core.Batch {
	return &batch{store: s}
}

// CountSince counts set members scored at or above minScore.
func (s *Store) CountSince(ctx context.Context, key string, minScore int64) (int64, error) {
	if err := s.available(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	var count int64
	for _, score := range s.sets[key] {
		if score >= minScore {
			count++
		}
	}
	return count, nil
}

// HashGetAll returns every field of a hash; missing hashes are empty.
func (s *Store) HashGetAll(ctx context.Context, key string) (map[string]int64, error) {
	if err := s.available(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	out := make(map[string]int64, len(s.hashes[key]))
	for field, value := range s.hashes[key] {
		out[field] = value
	}
	return out, nil
}

// Delete removes keys of any type.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if err := s.available(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		s.deleteLocked(key)
	}
	return nil
}

// TTL returns the remaining time to live of a key.
func (s *Store) TTL(key string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	deadline, ok := s.expires[key]
	if !ok {
		return 0, false
	}
	return deadline.Sub(s.now()), true
}

// Members returns the members of a set ordered by score.
func (s *Store) Members(key string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	set := s.sets[key]
	members := make([]string, 0, len(set))
	for member := range set {
		members = append(members, member)
	}
	sort.Slice(members, func(i, j int) bool {
		if set[members[i]] == set[members[j]] {
			return members[i] < members[j]
		}
		return set[members[i]] < set[members[j]]
	})
	return members
}

func (s *Store) available(ctx context.Context) error {
	if s == nil {
		return errors.New("inmemory store is nil")
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if !s.healthy.Load() {
		return ErrUnavailable
	}
	return nil
}

func (s *Store) exists(key string) bool {
	_, isSet := s.sets[key]
	_, isHash := s.hashes[key]
	return isSet || isHash
}

func (s *Store) expireLocked(key string) {
	deadline, ok := s.expires[key]
	if !ok {
		return
	}
	if !s.now().Before(deadline) {
		s.deleteLocked(key)
	}
}

func (s *Store) deleteLocked(key string) {
	delete(s.sets, key)
	delete(s.hashes, key)
	delete(s.expires, key)
}

type batch struct {
	store *Store
	ops   []func() int64
}

func (b *batch) SetAdd(key string, score int64, member string) {
	b.ops = append(b.ops, func() int64 {
		s := b.store
		s.expireLocked(key)
		set := s.sets[key]
		if set == nil {
			set = make(map[string]int64)
			s.sets[key] = set
		}
		_, existed := set[member]
		set[member] = score
		if existed {
			return 0
		}
		return 1
	})
}

func (b *batch) SetPruneBelow(key string, score int64) {
	b.ops = append(b.ops, func() int64 {
		s := b.store
		s.expireLocked(key)
		set := s.sets[key]
		var removed int64
		for member, memberScore := range set {
			if memberScore < score {
				delete(set, member)
				removed++
			}
		}
		if set != nil && len(set) == 0 {
			s.deleteLocked(key)
		}
		return removed
	})
}

func (b *batch) SetCard(key string) {
	b.ops = append(b.ops, func() int64 {
		s := b.store
		s.expireLocked(key)
		return int64(len(s.sets[key]))
	})
}

func (b *batch) Expire(key string, ttl time.Duration) {
	b.ops = append(b.ops, func() int64 {
		s := b.store
		s.expireLocked(key)
		if !s.exists(key) {
			return 0
		}
		s.expires[key] = s.now().Add(ttl)
		return 1
	})
}

func (b *batch) HashIncr(key, field string, delta int64) {
	b.ops = append(b.ops, func() int64 {
		s := b.store
		s.expireLocked(key)
		hash := s.hashes[key]
		if hash == nil {
			hash = make(map[string]int64)
			s.hashes[key] = hash
		}
		hash[field] += delta
		return hash[field]
	})
}

func (b *batch) Exec(ctx context.Context) ([]int64, error) {
	if err := b.store.available(ctx); err != nil {
		return nil, err
	}
	s := b.store
	s.mu.Lock()
	defer s.mu.Unlock()
	results := make([]int64, len(b.ops))
	for i, op := range b.ops {
		results[i] = op()
	}
	b.ops = nil
	return results, nil
}
