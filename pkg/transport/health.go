// Copyright 2025 Certen Protocol
//
// Per-chain health monitor. Adapted from this codebase's consensus stall
// detector: instead of watching block height progress, it watches RPC
// responsiveness and error rate per chain, and the node is ready only when
// every configured chain reports healthy.

package transport

import (
	"context"
	"log"
	"sync"
	"time"
)

// ChainHealth is one chain's current health record.
type ChainHealth struct {
	ChainID           uint64
	RPCResponsive     bool
	LastBlockTime     time.Time
	ConnectionCount   int
	ErrorRate         float64
	AverageLatencyMs  float64
	IsHealthy         bool
}

// RPCProbe checks a single chain's RPC responsiveness and returns its
// observed latency. Implemented outside this package (narrow RPC interface).
type RPCProbe interface {
	Probe(ctx context.Context, chainID uint64) (latency time.Duration, blockTime time.Time, err error)
}

// HealthMonitor tracks per-chain health and overall node readiness.
type HealthMonitor struct {
	mu      sync.RWMutex
	records map[uint64]*ChainHealth
	probe   RPCProbe
	pools   *PoolSet
	logger  *log.Logger

	errWindow  map[uint64][]bool
	windowSize int
}

// NewHealthMonitor builds a monitor for the given chains, probing via probe
// and reading active connection counts from pools.
func NewHealthMonitor(chainIDs []uint64, probe RPCProbe, pools *PoolSet) *HealthMonitor {
	records := make(map[uint64]*ChainHealth, len(chainIDs))
	errWindow := make(map[uint64][]bool, len(chainIDs))
	for _, id := range chainIDs {
		records[id] = &ChainHealth{ChainID: id}
		errWindow[id] = nil
	}
	return &HealthMonitor{
		records:    records,
		probe:      probe,
		pools:      pools,
		logger:     log.New(log.Writer(), "[HealthMonitor] ", log.LstdFlags),
		errWindow:  errWindow,
		windowSize: 20,
	}
}

// CheckChain probes a single chain and updates its health record.
func (m *HealthMonitor) CheckChain(ctx context.Context, chainID uint64) error {
	latency, blockTime, err := m.probe.Probe(ctx, chainID)

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[chainID]
	if !ok {
		return nil
	}

	window := append(m.errWindow[chainID], err == nil)
	if len(window) > m.windowSize {
		window = window[len(window)-m.windowSize:]
	}
	m.errWindow[chainID] = window

	failures := 0
	for _, ok := range window {
		if !ok {
			failures++
		}
	}
	rec.ErrorRate = float64(failures) / float64(len(window))

	if err != nil {
		rec.RPCResponsive = false
	} else {
		rec.RPCResponsive = true
		rec.LastBlockTime = blockTime
		rec.AverageLatencyMs = float64(latency.Milliseconds())
	}

	if pool, poolErr := m.pools.Pool(chainID); poolErr == nil {
		rec.ConnectionCount = pool.ActiveCount()
	}

	wasHealthy := rec.IsHealthy
	rec.IsHealthy = rec.RPCResponsive && rec.ErrorRate < 0.5
	if wasHealthy && !rec.IsHealthy {
		m.logger.Printf("chain %d transitioned to unhealthy: error_rate=%.2f", chainID, rec.ErrorRate)
	} else if !wasHealthy && rec.IsHealthy {
		m.logger.Printf("chain %d recovered", chainID)
	}

	return err
}

// ChainHealthOf returns a copy of the health record for chainID.
func (m *HealthMonitor) ChainHealthOf(chainID uint64) (ChainHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[chainID]
	if !ok {
		return ChainHealth{}, false
	}
	return *rec, true
}

// IsReady reports whether every configured chain is currently healthy.
// Readiness of the whole node is the logical AND of each chain's health.
func (m *HealthMonitor) IsReady() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.records {
		if !rec.IsHealthy {
			return false
		}
	}
	return true
}

// AcceptsNewConnections reports whether chainID may accept new connections;
// false once the chain has flipped unhealthy. Existing connections are left
// to drain by the caller — this only gates new acquisitions.
func (m *HealthMonitor) AcceptsNewConnections(chainID uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[chainID]
	if !ok {
		return false
	}
	return rec.IsHealthy
}

// RunLoop probes every configured chain on interval until ctx is cancelled.
func (m *HealthMonitor) RunLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.mu.RLock()
	chainIDs := make([]uint64, 0, len(m.records))
	for id := range m.records {
		chainIDs = append(chainIDs, id)
	}
	m.mu.RUnlock()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range chainIDs {
				_ = m.CheckChain(ctx, id)
			}
		}
	}
}
