package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRateLimiterAllowsUpToBurst(t *testing.T) {
	rl := NewRateLimiter(testConfigs())
	for i := 0; i < 2; i++ {
		require.NoError(t, rl.Check(5611, "client-a"))
	}
	err := rl.Check(5611, "client-a")
	require.Error(t, err)
}

func TestRateLimiterIndependentPerChain(t *testing.T) {
	rl := NewRateLimiter(testConfigs())
	for i := 0; i < 2; i++ {
		require.NoError(t, rl.Check(5611, "client-a"))
	}
	require.Error(t, rl.Check(5611, "client-a"))
	// Same client, different chain: independent bucket.
	require.NoError(t, rl.Check(84532, "client-a"))
}

func TestRateLimiterIndependentPerKey(t *testing.T) {
	rl := NewRateLimiter(testConfigs())
	for i := 0; i < 2; i++ {
		require.NoError(t, rl.Check(5611, "client-a"))
	}
	require.Error(t, rl.Check(5611, "client-a"))
	require.NoError(t, rl.Check(5611, "client-b"))
}

func TestRateLimiterResetChain(t *testing.T) {
	rl := NewRateLimiter(testConfigs())
	for i := 0; i < 2; i++ {
		require.NoError(t, rl.Check(5611, "client-a"))
	}
	require.Error(t, rl.Check(5611, "client-a"))

	rl.ResetChain(5611)
	require.NoError(t, rl.Check(5611, "client-a"))
}

func TestRateLimiterUnknownChain(t *testing.T) {
	rl := NewRateLimiter(testConfigs())
	err := rl.Check(999, "client-a")
	require.Error(t, err)
}
