package sessionkeys

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStoreAndGetKey(t *testing.T) {
	s := New(0)
	var key [32]byte
	key[0] = 0xAB
	s.StoreKey("sess-1", key)

	got, ok := s.GetKey("sess-1")
	require.True(t, ok)
	require.Equal(t, key, got)
}

func TestGetKeyMissingIsNotError(t *testing.T) {
	s := New(0)
	_, ok := s.GetKey("nonexistent")
	require.False(t, ok)
}

func TestOverwriteReplacesWithoutError(t *testing.T) {
	s := New(0)
	var k1, k2 [32]byte
	k1[0] = 1
	k2[0] = 2
	s.StoreKey("sess-1", k1)
	s.StoreKey("sess-1", k2)

	got, ok := s.GetKey("sess-1")
	require.True(t, ok)
	require.Equal(t, k2, got)
}

func TestClearExpiredNoopWithoutTTL(t *testing.T) {
	s := New(0)
	s.StoreKey("sess-1", [32]byte{1})
	require.Equal(t, 0, s.ClearExpired())
	require.Equal(t, 1, s.Count())
}

func TestClearExpiredRemovesStaleKeys(t *testing.T) {
	s := New(10 * time.Millisecond)
	s.StoreKey("sess-1", [32]byte{1})
	time.Sleep(20 * time.Millisecond)
	s.StoreKey("sess-2", [32]byte{2})

	removed := s.ClearExpired()
	require.Equal(t, 1, removed)
	require.Equal(t, 1, s.Count())
	_, ok := s.GetKey("sess-2")
	require.True(t, ok)
}

func TestSessionIsolation(t *testing.T) {
	s := New(0)
	s.StoreKey("a", [32]byte{1})
	s.StoreKey("b", [32]byte{2})
	s.ClearKey("a")

	_, ok := s.GetKey("a")
	require.False(t, ok)
	_, ok = s.GetKey("b")
	require.True(t, ok)
}
