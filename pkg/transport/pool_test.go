package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfigs() []PoolConfig {
	return []PoolConfig{
		{ChainID: 84532, MaxConnections: 2, RateLimitPerMinute: 600, BurstSize: 5, HealthCheckInterval: time.Second, ConnectTimeout: time.Second},
		{ChainID: 5611, MaxConnections: 1, RateLimitPerMinute: 60, BurstSize: 2, HealthCheckInterval: time.Second, ConnectTimeout: time.Second},
	}
}

func TestPoolsAreIndependent(t *testing.T) {
	ps := NewPoolSet(testConfigs())

	p1, err := ps.Pool(84532)
	require.NoError(t, err)
	p2, err := ps.Pool(5611)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, p1.Acquire(ctx))
	require.NoError(t, p1.Acquire(ctx))
	require.Equal(t, 2, p1.ActiveCount())
	require.Equal(t, 0, p2.ActiveCount())

	require.NoError(t, p2.Acquire(ctx))
	require.Equal(t, 1, p2.ActiveCount())
}

func TestPoolAcquireBlocksAtCapacity(t *testing.T) {
	ps := NewPoolSet(testConfigs())
	p, err := ps.Pool(5611)
	require.NoError(t, err)

	require.NoError(t, p.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = p.Acquire(ctx)
	require.Error(t, err)
}

func TestPoolReleaseFreesSlot(t *testing.T) {
	ps := NewPoolSet(testConfigs())
	p, err := ps.Pool(5611)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, p.Acquire(ctx))
	p.Release()
	require.Equal(t, 0, p.ActiveCount())
	require.NoError(t, p.Acquire(ctx))
}

func TestPoolUnknownChain(t *testing.T) {
	ps := NewPoolSet(testConfigs())
	_, err := ps.Pool(999)
	require.Error(t, err)
}
