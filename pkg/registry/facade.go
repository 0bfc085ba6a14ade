// Copyright 2025 Certen Protocol
//
// Registry facade: the read-side view over the monitor's host map, including
// model-capability filtering parsed out of each host's advertised metadata.

package registry

import "encoding/json"

// Facade exposes read-only queries over a Monitor's current host set.
type Facade struct {
	monitor *Monitor
}

// NewFacade wraps monitor.
func NewFacade(monitor *Monitor) *Facade {
	return &Facade{monitor: monitor}
}

// GetRegisteredHosts returns every currently registered host.
func (f *Facade) GetRegisteredHosts() []HostInfo {
	snapshot := f.monitor.Snapshot()
	out := make([]HostInfo, 0, len(snapshot))
	for _, h := range snapshot {
		out = append(out, h)
	}
	return out
}

// GetHostMetadata returns the raw metadata JSON for addr, if registered.
func (f *Facade) GetHostMetadata(addr string) (string, bool) {
	snapshot := f.monitor.Snapshot()
	h, ok := snapshot[addr]
	if !ok {
		return "", false
	}
	return h.Metadata, true
}

// GetAvailableHosts returns every registered host whose advertised metadata
// lists modelID among its supported models. Hosts with unparseable metadata
// are skipped rather than causing the whole call to fail.
func (f *Facade) GetAvailableHosts(modelID string) []HostInfo {
	snapshot := f.monitor.Snapshot()
	out := make([]HostInfo, 0)
	for _, h := range snapshot {
		var meta hostMetadata
		if err := json.Unmarshal([]byte(h.Metadata), &meta); err != nil {
			continue
		}
		for _, m := range meta.Models {
			if m == modelID {
				out = append(out, h)
				break
			}
		}
	}
	return out
}
