/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/atomic"

	"github.com/acronis/go-admission/lrucache"
)

// DefaultShardsNum is a default number of registry shards.
const DefaultShardsNum = 32

// entry is a per-key record of the registry.
// cfg is immutable, state and lastAccess are accessed only under mu.
type entry struct {
	mu         sync.Mutex
	cfg        LimiterConfig
	state      limiterState
	lastAccess time.Time
}

// idleLongerThan reports whether the entry hasn't been accessed for longer than d.
// It never blocks, an entry locked by someone else is considered in use.
func (e *entry) idleLongerThan(now time.Time, d time.Duration) bool {
	if !e.mu.TryLock() {
		return false
	}
	defer e.mu.Unlock()
	return now.Sub(e.lastAccess) > d
}

func (e *entry) touch(now time.Time) {
	if now.After(e.lastAccess) {
		e.lastAccess = now
	}
}

// RegistryOpts represents options for the Registry.
type RegistryOpts struct {
	// ShardsNum is a number of shards, it's rounded up to a power of two.
	// DefaultShardsNum is used if it's zero.
	ShardsNum int

	// MaxKeys limits the total number of keys, the least recently used key of the shard is evicted
	// when the limit is exceeded. Zero means that the number of keys is not limited,
	// and entries are removed only by the sweeper.
	MaxKeys int

	MetricsCollector MetricsCollector
}

// Registry is a concurrent key -> limiter entry mapping.
// Keys are distributed between shards by hash, and every shard is guarded by its own lock,
// so resolution of keys from different shards never contends.
type Registry struct {
	shards    []*lrucache.LRUCache[string, *entry]
	shardMask uint64

	metrics       MetricsCollector
	mismatches    atomic.Int64
	maxWindowSeen atomic.Duration
}

// NewRegistry creates a new Registry.
func NewRegistry(opts RegistryOpts) (*Registry, error) {
	if opts.ShardsNum < 0 {
		return nil, fmt.Errorf("shards number should not be negative, got %d", opts.ShardsNum)
	}
	if opts.MaxKeys < 0 {
		return nil, fmt.Errorf("max keys should not be negative, got %d", opts.MaxKeys)
	}
	shardsNum := opts.ShardsNum
	if shardsNum == 0 {
		shardsNum = DefaultShardsNum
	}
	shardsNum = roundUpToPowerOfTwo(shardsNum)

	maxKeysPerShard := 0
	if opts.MaxKeys > 0 {
		maxKeysPerShard = (opts.MaxKeys + shardsNum - 1) / shardsNum
	}

	metrics := opts.MetricsCollector
	if metrics == nil {
		metrics = disabledMetrics{}
	}

	r := &Registry{
		shards:    make([]*lrucache.LRUCache[string, *entry], shardsNum),
		shardMask: uint64(shardsNum - 1),
		metrics:   metrics,
	}
	for i := range r.shards {
		shard, err := lrucache.New[string, *entry](maxKeysPerShard, metrics.RegistryShardMetrics(i))
		if err != nil {
			return nil, fmt.Errorf("new registry shard: %w", err)
		}
		r.shards[i] = shard
	}
	return r, nil
}

// resolve returns the entry bound to the key, or atomically creates it with the passed configuration.
// If the key is already bound to another configuration, the bound one wins and the mismatch is counted.
func (r *Registry) resolve(key string, cfg LimiterConfig, now time.Time) *entry {
	e, exists := r.shard(key).GetOrAdd(key, func() *entry {
		return &entry{cfg: cfg, state: newLimiterState(cfg), lastAccess: now}
	})
	if !exists {
		r.observeWindow(cfg.Window)
		return e
	}
	if e.cfg != cfg {
		r.mismatches.Inc()
		r.metrics.IncConfigMismatches()
	}
	return e
}

// boundConfig returns the configuration bound to the key.
func (r *Registry) boundConfig(key string) (LimiterConfig, bool) {
	e, ok := r.shard(key).Get(key)
	if !ok {
		return LimiterConfig{}, false
	}
	return e.cfg, true
}

// Contains reports whether the key is present in the registry.
func (r *Registry) Contains(key string) bool {
	_, ok := r.shard(key).Get(key)
	return ok
}

// Remove removes the key from the registry.
// A decision that is in progress for the removed key completes against the removed entry,
// the next one starts with a fresh state.
func (r *Registry) Remove(key string) bool {
	return r.shard(key).Remove(key)
}

// Len returns the number of keys in the registry.
func (r *Registry) Len() int {
	n := 0
	for _, shard := range r.shards {
		n += shard.Len()
	}
	return n
}

// Purge removes all keys from the registry.
func (r *Registry) Purge() {
	for _, shard := range r.shards {
		shard.Purge()
	}
}

// ConfigMismatches returns how many times a key was requested with a configuration
// different from the bound one.
func (r *Registry) ConfigMismatches() int64 {
	return r.mismatches.Load()
}

// MaxWindowSeen returns the longest window among configurations that have ever been bound.
func (r *Registry) MaxWindowSeen() time.Duration {
	return r.maxWindowSeen.Load()
}

func (r *Registry) shardsNum() int {
	return len(r.shards)
}

// sweepShard removes entries of the shard that have been idle for longer than retention.
// The shard is scanned by a snapshot, so its lock is held only to copy the entries and to remove each idle one.
// Entries locked by a concurrent decision are skipped until the next pass.
func (r *Registry) sweepShard(i int, now time.Time, retention time.Duration) (removed int) {
	shard := r.shards[i]
	for _, kv := range shard.Entries() {
		if !kv.Value.idleLongerThan(now, retention) {
			continue
		}
		// The key may have been re-created or touched since the snapshot was taken.
		if shard.RemoveFunc(kv.Key, func(e *entry) bool {
			return e == kv.Value && e.idleLongerThan(now, retention)
		}) {
			removed++
		}
	}
	return removed
}

func (r *Registry) shard(key string) *lrucache.LRUCache[string, *entry] {
	return r.shards[xxhash.Sum64String(key)&r.shardMask]
}

func (r *Registry) observeWindow(window time.Duration) {
	for {
		seen := r.maxWindowSeen.Load()
		if window <= seen || r.maxWindowSeen.CompareAndSwap(seen, window) {
			return
		}
	}
}

func roundUpToPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
