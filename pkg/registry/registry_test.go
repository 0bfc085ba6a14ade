package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeEventSource struct {
	reg   chan NodeRegisteredEvent
	unreg chan NodeUnregisteredEvent
}

func (f *fakeEventSource) Registrations(ctx context.Context) (<-chan NodeRegisteredEvent, error) {
	return f.reg, nil
}

func (f *fakeEventSource) Unregistrations(ctx context.Context) (<-chan NodeUnregisteredEvent, error) {
	return f.unreg, nil
}

func TestMonitorTracksRegistrationAndUnregistration(t *testing.T) {
	src := &fakeEventSource{
		reg:   make(chan NodeRegisteredEvent, 4),
		unreg: make(chan NodeUnregisteredEvent, 4),
	}
	m := NewMonitor(src)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	src.reg <- NodeRegisteredEvent{Address: "0xA", Metadata: `{"models":["llama-3"]}`, Stake: 100}
	require.Eventually(t, func() bool {
		return len(m.Snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	src.reg <- NodeRegisteredEvent{Address: "0xA", Metadata: `{"models":["llama-3","mistral"]}`, Stake: 200}
	require.Eventually(t, func() bool {
		h, ok := m.Snapshot()["0xA"]
		return ok && h.Stake == 200
	}, time.Second, 5*time.Millisecond)

	src.unreg <- NodeUnregisteredEvent{Address: "0xA"}
	require.Eventually(t, func() bool {
		return len(m.Snapshot()) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestFacadeGetAvailableHostsFiltersByModel(t *testing.T) {
	src := &fakeEventSource{reg: make(chan NodeRegisteredEvent, 4), unreg: make(chan NodeUnregisteredEvent, 4)}
	m := NewMonitor(src)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	src.reg <- NodeRegisteredEvent{Address: "0xA", Metadata: `{"models":["llama-3"]}`}
	src.reg <- NodeRegisteredEvent{Address: "0xB", Metadata: `{"models":["mistral"]}`}
	require.Eventually(t, func() bool { return len(m.Snapshot()) == 2 }, time.Second, 5*time.Millisecond)

	f := NewFacade(m)
	hosts := f.GetAvailableHosts("llama-3")
	require.Len(t, hosts, 1)
	require.Equal(t, "0xA", hosts[0].Address)
}

func TestSelectorFiltersAndRanks(t *testing.T) {
	src := &fakeEventSource{reg: make(chan NodeRegisteredEvent, 4), unreg: make(chan NodeUnregisteredEvent, 4)}
	m := NewMonitor(src)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	src.reg <- NodeRegisteredEvent{Address: "0xA", Metadata: `{"models":["llama-3"],"ram_gb":32,"cost_per_token":0.001,"reliability":0.9}`}
	src.reg <- NodeRegisteredEvent{Address: "0xB", Metadata: `{"models":["llama-3"],"ram_gb":8,"cost_per_token":0.0005,"reliability":0.99}`}
	require.Eventually(t, func() bool { return len(m.Snapshot()) == 2 }, time.Second, 5*time.Millisecond)

	f := NewFacade(m)
	candidates := f.GetAvailableHosts("llama-3")

	sel := NewSelector()
	sel.RecordMetrics("0xA", PerformanceMetrics{SuccessRate: 0.99, CurrentLoad: 0.1, CostPerToken: 0.001, UptimePercentage: 0.999})
	sel.RecordMetrics("0xB", PerformanceMetrics{SuccessRate: 0.5, CurrentLoad: 0.9, CostPerToken: 0.0005, UptimePercentage: 0.5})

	minRAM := 16.0
	addr, ok := sel.Select(JobRequirements{ModelID: "llama-3", MinRAMGB: minRAM}, candidates)
	require.True(t, ok)
	// 0xB is filtered out by the 16GB RAM floor, leaving only 0xA.
	require.Equal(t, "0xA", addr)
}

func TestSelectorReturnsFalseWhenNoneEligible(t *testing.T) {
	sel := NewSelector()
	_, ok := sel.Select(JobRequirements{ModelID: "llama-3"}, nil)
	require.False(t, ok)
}

func TestClaimerAssignAndReassign(t *testing.T) {
	src := &fakeEventSource{reg: make(chan NodeRegisteredEvent, 4), unreg: make(chan NodeUnregisteredEvent, 4)}
	m := NewMonitor(src)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	src.reg <- NodeRegisteredEvent{Address: "0xA", Metadata: `{}`}
	src.reg <- NodeRegisteredEvent{Address: "0xB", Metadata: `{}`}
	require.Eventually(t, func() bool { return len(m.Snapshot()) == 2 }, time.Second, 5*time.Millisecond)

	f := NewFacade(m)
	c := NewClaimer()

	require.NoError(t, c.AssignJobToHost("job-1", "0xA", f))
	a, ok := c.Get("job-1")
	require.True(t, ok)
	require.Equal(t, StatusConfirmed, a.Status)

	require.NoError(t, c.ReassignJob("job-1", "0xB", f))
	a, ok = c.Get("job-1")
	require.True(t, ok)
	require.Equal(t, StatusReassigned, a.Status)
	require.Equal(t, "0xB", a.HostAddress)

	err := c.ReassignJob("job-1", "0xUnregistered", f)
	require.Error(t, err)
}
