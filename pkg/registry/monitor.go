// Copyright 2025 Certen Protocol
//
// Registry monitor: consumes NodeRegistered/NodeUnregistered events from a
// marketplace contract through a narrow event-source interface (the raw RPC
// client itself is a collaborator, not part of this core) and maintains the
// address -> HostInfo map. Re-registration updates metadata/stake in place.

package registry

import (
	"context"
	"log"
	"sync"
)

// NodeRegisteredEvent mirrors the contract event
// NodeRegistered(address, metadata_json, stake).
type NodeRegisteredEvent struct {
	Address  string
	Metadata string
	Stake    uint64
}

// NodeUnregisteredEvent mirrors NodeUnregistered(address).
type NodeUnregisteredEvent struct {
	Address string
}

// EventSource delivers registry contract events; the concrete subscription
// mechanism (log filter, websocket subscription, polling) lives outside this
// package.
type EventSource interface {
	Registrations(ctx context.Context) (<-chan NodeRegisteredEvent, error)
	Unregistrations(ctx context.Context) (<-chan NodeUnregisteredEvent, error)
}

// Monitor watches an EventSource and keeps the registered-host map current.
type Monitor struct {
	mu     sync.RWMutex
	hosts  map[string]HostInfo
	source EventSource
	logger *log.Logger
}

// NewMonitor builds a Monitor over source.
func NewMonitor(source EventSource) *Monitor {
	return &Monitor{
		hosts:  make(map[string]HostInfo),
		source: source,
		logger: log.New(log.Writer(), "[RegistryMonitor] ", log.LstdFlags),
	}
}

// Run consumes events from the source until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	registrations, err := m.source.Registrations(ctx)
	if err != nil {
		return err
	}
	unregistrations, err := m.source.Unregistrations(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-registrations:
			if !ok {
				registrations = nil
				continue
			}
			m.applyRegistration(ev)
		case ev, ok := <-unregistrations:
			if !ok {
				unregistrations = nil
				continue
			}
			m.applyUnregistration(ev)
		}
	}
}

func (m *Monitor) applyRegistration(ev NodeRegisteredEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hosts[ev.Address] = HostInfo{
		Address:  ev.Address,
		Metadata: ev.Metadata,
		Stake:    ev.Stake,
		IsOnline: true,
	}
	m.logger.Printf("registered host %s (stake=%d)", ev.Address, ev.Stake)
}

func (m *Monitor) applyUnregistration(ev NodeUnregisteredEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.hosts, ev.Address)
	m.logger.Printf("unregistered host %s", ev.Address)
}

// Snapshot returns a copy of the current address -> HostInfo map.
func (m *Monitor) Snapshot() map[string]HostInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]HostInfo, len(m.hosts))
	for k, v := range m.hosts {
		out[k] = v
	}
	return out
}
