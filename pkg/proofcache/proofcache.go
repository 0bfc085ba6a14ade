// Copyright 2025 Certen Protocol
//
// Proof cache: LRU+TTL cache of generated proofs keyed by witness
// fingerprint. Built on hashicorp/golang-lru's eviction discipline, layered
// with TTL-on-access expiry and model-hash-scoped invalidation.

package proofcache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/certen/inference-host/pkg/witness"
)

// CachedProof is one entry: the proof data plus cache bookkeeping.
type CachedProof struct {
	Proof        witness.ProofData
	CachedAt     time.Time
	LastAccessed time.Time
	AccessCount  uint64
	SizeBytes    int
}

// Stats mirrors the cache's required counters.
type Stats struct {
	Hits        uint64
	Misses      uint64
	Evictions   uint64
	Entries     int
	MemoryBytes int64
}

// HitRate returns hits / (hits+misses), or 0 when no lookups have occurred.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Cache is the shared proof cache. Capacity 0 disables storage entirely:
// insert is a no-op, len stays 0, and every get is a recorded miss.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	inner    *lru.Cache[[32]byte, *CachedProof]
	stats    Stats
}

// New returns a proof cache with the given capacity and TTL. ttl == 0
// disables expiry.
func New(capacity int, ttl time.Duration) *Cache {
	c := &Cache{capacity: capacity, ttl: ttl}
	if capacity > 0 {
		inner, err := lru.NewWithEvict[[32]byte, *CachedProof](capacity, func(_ [32]byte, value *CachedProof) {
			c.stats.Evictions++
			c.stats.MemoryBytes -= int64(value.SizeBytes)
		})
		if err != nil {
			// capacity > 0 was checked above; NewWithEvict only errors on
			// size <= 0, so this is unreachable.
			panic(err)
		}
		c.inner = inner
	}
	return c
}

// Get looks up witness w. On a TTL-expired hit the entry is removed and
// treated as a miss. On a true hit, LastAccessed and AccessCount update and
// the key is promoted to the LRU front.
func (c *Cache) Get(w witness.Witness) (*CachedProof, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inner == nil {
		c.stats.Misses++
		return nil, false
	}

	key := w.Fingerprint()
	cp, ok := c.inner.Get(key)
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	if c.ttl > 0 && time.Since(cp.CachedAt) > c.ttl {
		c.inner.Remove(key)
		c.stats.Misses++
		return nil, false
	}

	cp.LastAccessed = time.Now()
	cp.AccessCount++
	c.stats.Hits++
	return cp, true
}

// Insert adds proof for witness w, evicting the least-recently-used entry
// if at capacity. Capacity 0 makes this a no-op.
func (c *Cache) Insert(w witness.Witness, proof witness.ProofData) {
	if c.capacity == 0 {
		return
	}
	now := time.Now()
	cp := &CachedProof{
		Proof:        proof,
		CachedAt:     now,
		LastAccessed: now,
		SizeBytes:    len(proof.ProofBytes),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Add(w.Fingerprint(), cp)
	c.stats.MemoryBytes += int64(cp.SizeBytes)
	c.stats.Entries = c.inner.Len()
}

// Invalidate clears every entry.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inner == nil {
		return
	}
	c.inner.Purge()
	c.stats.Entries = 0
	c.stats.MemoryBytes = 0
}

// ClearByModelHash removes every entry whose ProofData.ModelHash equals h.
func (c *Cache) ClearByModelHash(h [32]byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inner == nil {
		return 0
	}
	removed := 0
	for _, key := range c.inner.Keys() {
		cp, ok := c.inner.Peek(key)
		if !ok {
			continue
		}
		if cp.Proof.ModelHash == h {
			c.inner.Remove(key)
			removed++
		}
	}
	return removed
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inner == nil {
		return 0
	}
	return c.inner.Len()
}

// GetStats returns a snapshot of the cache's counters.
func (c *Cache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	if c.inner != nil {
		s.Entries = c.inner.Len()
	}
	return s
}
