// Copyright 2025 Certen Protocol
//
// Token-bucket rate limiter keyed by (chain_id, client key). Refill rate is
// rate_per_minute/60 tokens per second; capacity is the configured burst.

package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/certen/inference-host/internal/errs"
)

var rateLimitRejected = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "certen_inference_host_rate_limit_rejected_total",
		Help: "Requests rejected by the per-chain rate limiter.",
	},
	[]string{"chain_id"},
)

func init() {
	prometheus.MustRegister(rateLimitRejected)
}

type bucket struct {
	tokens       float64
	capacity     float64
	refillPerSec float64
	lastRefill   time.Time
}

func (b *bucket) take(now time.Time) bool {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refillPerSec
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.lastRefill = now
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

type rateKey struct {
	chainID uint64
	key     string
}

// RateLimiter enforces independent token buckets per (chain_id, key).
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[rateKey]*bucket
	configs map[uint64]PoolConfig
}

// NewRateLimiter builds a limiter from the same per-chain configs used for
// connection pools.
func NewRateLimiter(configs []PoolConfig) *RateLimiter {
	byChain := make(map[uint64]PoolConfig, len(configs))
	for _, cfg := range configs {
		byChain[cfg.ChainID] = cfg
	}
	return &RateLimiter{
		buckets: make(map[rateKey]*bucket),
		configs: byChain,
	}
}

// Check consumes one token for (chainID, key), or returns RateLimitExceeded
// if the bucket is empty. Buckets for different chains are independent even
// for the same key.
func (rl *RateLimiter) Check(chainID uint64, key string) error {
	cfg, ok := rl.configs[chainID]
	if !ok {
		return fmt.Errorf("chain %d is not configured", chainID)
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rk := rateKey{chainID: chainID, key: key}
	b, ok := rl.buckets[rk]
	if !ok {
		b = &bucket{
			tokens:       float64(cfg.BurstSize),
			capacity:     float64(cfg.BurstSize),
			refillPerSec: float64(cfg.RateLimitPerMinute) / 60.0,
			lastRefill:   time.Now(),
		}
		rl.buckets[rk] = b
	}

	if !b.take(time.Now()) {
		rateLimitRejected.WithLabelValues(fmt.Sprintf("%d", chainID)).Inc()
		return &errs.RateLimitExceeded{ChainID: chainID, Key: key}
	}
	return nil
}

// ResetChain clears every bucket for chainID, across all keys.
func (rl *RateLimiter) ResetChain(chainID uint64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for rk := range rl.buckets {
		if rk.chainID == chainID {
			delete(rl.buckets, rk)
		}
	}
}
