package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	// defaultShardCount matches the shard fan-out named in the design: enough
	// to dissolve contention without each shard's map staying mostly empty.
	defaultShardCount = 16

	// Default cache size per shard
	defaultShardSize = 10000

	// Cleanup interval for expired entries
	cleanupInterval = 60 * time.Second

	// evictionSampleSize is how many candidates a shard inspects per evict
	// call; an approximate-LRU sample rather than a full recency list.
	evictionSampleSize = 5
)

// shard represents a single cache shard with its own lock
type shard struct {
	mu      sync.RWMutex
	entries map[uint64]*Entry // Keyed by hash
	maxSize int
}

// ShardedCache implements a thread-safe, lock-contention-free cache
// using sharding to distribute load across multiple locks
type ShardedCache struct {
	shards []*shard

	// Configuration
	shardCount int
	shardMask  uint64 // For fast modulo: hash & mask

	// Serve stale configuration
	serveStale   bool
	maxStaleTTL  time.Duration
	staleRefresh bool

	// DNSSEC gating on writes
	validationMode ValidationMode

	// accessCounter stamps entries on every read so eviction can sample
	// recency without maintaining a full linked list per shard.
	accessCounter atomic.Uint64

	// Statistics (atomic for lock-free access)
	hits         atomic.Uint64
	misses       atomic.Uint64
	negativeHits atomic.Uint64
	evictions    atomic.Uint64
	expirations  atomic.Uint64
	unvalidated  atomic.Uint64 // writes that would be rejected under Enforced

	// Cleanup goroutine management
	stopCleanup chan struct{}
	cleanupDone sync.WaitGroup
}

// Config holds cache configuration
type Config struct {
	// Total cache size (distributed across shards)
	MaxEntries int

	// Number of shards (default 16)
	ShardCount int

	// Serve stale configuration
	ServeStale   bool
	MaxStaleTTL  time.Duration
	StaleRefresh bool // Whether to trigger background refresh

	// ValidationMode gates whether DNSSEC-unvalidated responses may be
	// cached at all.
	ValidationMode ValidationMode
}

// NewShardedCache creates a new sharded cache
func NewShardedCache(cfg Config) *ShardedCache {
	if cfg.ShardCount == 0 {
		cfg.ShardCount = defaultShardCount
	}
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = defaultShardSize * cfg.ShardCount
	}

	// Ensure shard count is power of 2
	if cfg.ShardCount&(cfg.ShardCount-1) != 0 {
		// Round up to next power of 2
		n := 1
		for n < cfg.ShardCount {
			n <<= 1
		}
		cfg.ShardCount = n
	}

	shardSize := cfg.MaxEntries / cfg.ShardCount

	c := &ShardedCache{
		shards:         make([]*shard, cfg.ShardCount),
		shardCount:     cfg.ShardCount,
		shardMask:      uint64(cfg.ShardCount - 1),
		serveStale:     cfg.ServeStale,
		maxStaleTTL:    cfg.MaxStaleTTL,
		staleRefresh:   cfg.StaleRefresh,
		validationMode: cfg.ValidationMode,
		stopCleanup:    make(chan struct{}),
	}

	// Initialize shards
	for i := 0; i < cfg.ShardCount; i++ {
		c.shards[i] = &shard{
			entries: make(map[uint64]*Entry, shardSize),
			maxSize: shardSize,
		}
	}

	// Start background cleanup goroutine
	c.cleanupDone.Add(1)
	go c.cleanupExpired()

	return c
}

// getShard returns the shard for a given hash
// Uses bitmasking for fast modulo operation
func (c *ShardedCache) getShard(hash uint64) *shard {
	return c.shards[hash&c.shardMask]
}

// Get retrieves an entry from cache
func (c *ShardedCache) Get(hash uint64) (*Entry, bool) {
	shard := c.getShard(hash)

	shard.mu.RLock()
	entry, ok := shard.entries[hash]
	shard.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	// Check expiration
	if entry.IsExpired() {
		if !c.serveStale {
			c.misses.Add(1)
			return nil, false
		}

		// Check if within serve-stale window
		if !entry.IsStale(c.maxStaleTTL) {
			c.misses.Add(1)
			return nil, false
		}

		// Serve stale but increment miss counter
		c.misses.Add(1)
	} else {
		c.hits.Add(1)
		if entry.Negative {
			c.negativeHits.Add(1)
		}
	}

	atomic.AddUint64(&entry.Hits, 1)
	atomic.StoreUint64(&entry.accessStamp, c.accessCounter.Add(1))
	return entry, true
}

// Set stores an entry in cache. Writes are gated by ValidationMode: under
// Enforced, anything not DNSSECValidated is silently dropped; under
// LogOnly the entry is still stored but the rejection is still counted so
// an operator can compare modes before switching.
func (c *ShardedCache) Set(hash uint64, entry *Entry) {
	if !entry.DNSSECValidated && c.validationMode != ValidationModePass {
		c.unvalidated.Add(1)
		if c.validationMode == ValidationModeEnforced {
			return
		}
	}

	shard := c.getShard(hash)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	// Check if we need to evict
	if _, exists := shard.entries[hash]; !exists && len(shard.entries) >= shard.maxSize {
		c.evictSampled(shard)
	}

	entry.accessStamp = c.accessCounter.Add(1)
	shard.entries[hash] = entry
}

// Delete removes an entry from cache
func (c *ShardedCache) Delete(hash uint64) {
	shard := c.getShard(hash)

	shard.mu.Lock()
	delete(shard.entries, hash)
	shard.mu.Unlock()
}

// evictSampled inspects a handful of random-order map entries (Go's map
// iteration order is itself randomized per run) and evicts whichever has
// the oldest access stamp — an approximate-LRU policy that avoids the cost
// of a true recency list under lock. Must hold the shard's write lock.
func (c *ShardedCache) evictSampled(s *shard) {
	var oldestHash uint64
	var oldestStamp uint64
	found := false
	seen := 0

	for hash, entry := range s.entries {
		stamp := atomic.LoadUint64(&entry.accessStamp)
		if !found || stamp < oldestStamp {
			oldestHash = hash
			oldestStamp = stamp
			found = true
		}
		seen++
		if seen >= evictionSampleSize {
			break
		}
	}

	if found {
		delete(s.entries, oldestHash)
		c.evictions.Add(1)
	}
}

// Flush clears all entries from cache
func (c *ShardedCache) Flush() {
	for _, shard := range c.shards {
		shard.mu.Lock()
		shard.entries = make(map[uint64]*Entry, shard.maxSize)
		shard.mu.Unlock()
	}
}

// cleanupExpired periodically removes expired entries
func (c *ShardedCache) cleanupExpired() {
	defer c.cleanupDone.Done()

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.performCleanup()
		case <-c.stopCleanup:
			return
		}
	}
}

// performCleanup removes expired entries from all shards
func (c *ShardedCache) performCleanup() {
	for _, shard := range c.shards {
		shard.mu.Lock()

		// Collect expired keys
		var expired []uint64
		for hash, entry := range shard.entries {
			if c.serveStale {
				// Only remove if beyond serve-stale window
				if entry.IsExpired() && !entry.IsStale(c.maxStaleTTL) {
					expired = append(expired, hash)
				}
			} else {
				// Remove all expired
				if entry.IsExpired() {
					expired = append(expired, hash)
				}
			}
		}

		// Delete expired entries
		for _, hash := range expired {
			delete(shard.entries, hash)
			c.expirations.Add(1)
		}

		shard.mu.Unlock()

		// Yield to prevent blocking for too long
		if len(expired) > 0 {
			time.Sleep(time.Millisecond)
		}
	}
}

// Stats returns cache statistics
type Stats struct {
	Hits         uint64
	Misses       uint64
	NegativeHits uint64
	Evictions    uint64
	Expirations  uint64
	Unvalidated  uint64
	Size         int
	HitRate      float64
}

// GetStats returns current cache statistics
func (c *ShardedCache) GetStats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	total := hits + misses
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	// Count total entries across all shards
	size := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		size += len(shard.entries)
		shard.mu.RUnlock()
	}

	return Stats{
		Hits:         hits,
		Misses:       misses,
		NegativeHits: c.negativeHits.Load(),
		Evictions:    c.evictions.Load(),
		Expirations:  c.expirations.Load(),
		Unvalidated:  c.unvalidated.Load(),
		Size:         size,
		HitRate:      hitRate,
	}
}

// Close stops background goroutines
func (c *ShardedCache) Close() {
	close(c.stopCleanup)
	c.cleanupDone.Wait()
}

// ForEach iterates over all cache entries (for debugging/monitoring and for
// snapshot serialization). WARNING: locks all shards sequentially.
func (c *ShardedCache) ForEach(fn func(hash uint64, entry *Entry)) {
	for _, shard := range c.shards {
		shard.mu.RLock()
		for hash, entry := range shard.entries {
			fn(hash, entry)
		}
		shard.mu.RUnlock()
	}
}
