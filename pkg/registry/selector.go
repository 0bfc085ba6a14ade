// Copyright 2025 Certen Protocol
//
// Selector ranks candidate hosts for a job by a deterministic weighted score
// over observed performance metrics, after filtering out hosts whose
// advertised capability metadata fails the job's requirements.

package registry

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
)

// Score weights. success_rate and uptime reward reliability; inverse load
// and inverse cost reward hosts with spare capacity and cheaper tokens.
// Weights sum to 1.0 and are fixed so ranking is reproducible across runs.
const (
	weightSuccessRate = 0.35
	weightInverseLoad = 0.25
	weightInverseCost = 0.20
	weightUptime      = 0.20
)

// Selector holds per-host performance metrics and scores candidates.
type Selector struct {
	mu      sync.RWMutex
	metrics map[string]PerformanceMetrics
}

// NewSelector returns an empty Selector.
func NewSelector() *Selector {
	return &Selector{metrics: make(map[string]PerformanceMetrics)}
}

// RecordMetrics sets (overwrites) the performance metrics for addr.
func (s *Selector) RecordMetrics(addr string, m PerformanceMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics[addr] = m
}

// Select filters candidates by req and returns the top-ranked address.
// Returns ("", false) if no candidate satisfies req.
func (s *Selector) Select(req JobRequirements, candidates []HostInfo) (string, bool) {
	type scored struct {
		addr  string
		score float64
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var eligible []scored
	for _, host := range candidates {
		var meta hostMetadata
		if err := json.Unmarshal([]byte(host.Metadata), &meta); err != nil {
			continue
		}
		if !satisfiesRequirements(meta, req) {
			continue
		}

		m := s.metrics[host.Address]
		eligible = append(eligible, scored{addr: host.Address, score: score(m)})
	}

	if len(eligible) == 0 {
		return "", false
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].score != eligible[j].score {
			return eligible[i].score > eligible[j].score
		}
		return strings.ToLower(eligible[i].addr) < strings.ToLower(eligible[j].addr)
	})

	return eligible[0].addr, true
}

func satisfiesRequirements(meta hostMetadata, req JobRequirements) bool {
	hasModel := false
	for _, m := range meta.Models {
		if m == req.ModelID {
			hasModel = true
			break
		}
	}
	if !hasModel {
		return false
	}
	if meta.RAMGB < req.MinRAMGB {
		return false
	}
	if req.MaxCostPerToken != nil && meta.CostPerToken > *req.MaxCostPerToken {
		return false
	}
	if req.MinReliability != nil && meta.Reliability < *req.MinReliability {
		return false
	}
	return true
}

// score combines the four performance signals into a single weighted value.
// Inverse terms use 1/(1+x) so a metric of 0 scores 1.0 and higher values
// score strictly lower without ever dividing by zero.
func score(m PerformanceMetrics) float64 {
	return weightSuccessRate*m.SuccessRate +
		weightInverseLoad*(1.0/(1.0+m.CurrentLoad)) +
		weightInverseCost*(1.0/(1.0+m.CostPerToken)) +
		weightUptime*m.UptimePercentage
}
