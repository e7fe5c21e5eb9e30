// Package dedup remembers which call ids have already been run through the
// pipeline automation, so a replayed transcription event is a no-op.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long a processed call id is remembered.
	DefaultTTL = 7 * 24 * time.Hour

	keyPrefix = "dashboard:call:"

	// minSweep is the map size below which MemoryFilter skips sweeping.
	minSweep = 1024
)

// Filter tracks processed call ids in Redis.
type Filter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewFilter creates a dedup filter backed by Redis. A ttl of zero uses DefaultTTL.
func NewFilter(rdb *redis.Client, ttl time.Duration) *Filter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Filter{
		rdb: rdb,
		ttl: ttl,
	}
}

// IsNew reports whether key has not been seen before and marks it as seen
// in the same SETNX.
func (f *Filter) IsNew(ctx context.Context, key string) (bool, error) {
	set, err := f.rdb.SetNX(ctx, keyPrefix+key, 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}

	return set, nil
}

// Release forgets key so the next IsNew for it reports true again.
func (f *Filter) Release(ctx context.Context, key string) error {
	if err := f.rdb.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("dedup DEL: %w", err)
	}
	return nil
}

// MemoryFilter is an in-process Filter for single-instance deployments and tests.
type MemoryFilter struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	ttl       time.Duration
	now       func() time.Time
	nextSweep int
}

// NewMemoryFilter creates an in-memory filter. A ttl of zero uses DefaultTTL.
func NewMemoryFilter(ttl time.Duration) *MemoryFilter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryFilter{
		seen:      make(map[string]time.Time),
		ttl:       ttl,
		now:       time.Now,
		nextSweep: minSweep,
	}
}

// IsNew reports whether key has not been seen within the ttl and marks it.
func (f *MemoryFilter) IsNew(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	if expires, ok := f.seen[key]; ok && now.Before(expires) {
		return false, nil
	}
	if len(f.seen) >= f.nextSweep {
		f.sweep(now)
	}
	f.seen[key] = now.Add(f.ttl)
	return true, nil
}

// Release forgets key so the next IsNew for it reports true again.
func (f *MemoryFilter) Release(_ context.Context, key string) error {
	f.mu.Lock()
	delete(f.seen, key)
	f.mu.Unlock()
	return nil
}

// sweep drops expired keys. The next sweep runs once the map has doubled
// from what is left, which keeps inserts amortized O(1).
func (f *MemoryFilter) sweep(now time.Time) {
	for k, expires := range f.seen {
		if !now.Before(expires) {
			delete(f.seen, k)
		}
	}
	f.nextSweep = max(2*len(f.seen), minSweep)
}
