// Copyright 2025 Certen Protocol
//
// Shared types for the host registry, selector, and claimer: the registered
// peer record, its performance metrics, and the capability requirements a
// job is matched against.

package registry

// HostInfo is one registered peer's on-chain record.
type HostInfo struct {
	Address  string
	Metadata string // raw JSON, as advertised on-chain
	Stake    uint64
	IsOnline bool
}

// PerformanceMetrics tracks a host's observed behavior over time.
type PerformanceMetrics struct {
	JobsCompleted    uint64
	SuccessRate      float64
	AvgCompletionMs  float64
	UptimePercentage float64
	CurrentLoad      float64
	CostPerToken     float64
}

// JobRequirements constrains which hosts are eligible for a job.
type JobRequirements struct {
	ModelID          string
	MinRAMGB         float64
	MaxCostPerToken  *float64
	MinReliability   *float64
}

// hostMetadata is the advertised JSON shape read from HostInfo.Metadata.
type hostMetadata struct {
	Models      []string `json:"models"`
	RAMGB       float64  `json:"ram_gb"`
	CostPerToken float64 `json:"cost_per_token"`
	Reliability float64  `json:"reliability"`
}
