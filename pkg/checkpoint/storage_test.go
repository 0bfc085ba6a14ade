package checkpoint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalBackendRoundTrip(t *testing.T) {
	b := NewLocalBackend(t.TempDir())
	ctx := context.Background()

	_, found, err := b.Get(ctx, "home/checkpoints/0xHOST/sess-1/index.json")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, b.Put(ctx, "home/checkpoints/0xHOST/sess-1/index.json", []byte("sealed-bytes")))

	data, found, err := b.Get(ctx, "home/checkpoints/0xHOST/sess-1/index.json")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("sealed-bytes"), data)

	require.NoError(t, b.Delete(ctx, "home/checkpoints/0xHOST/sess-1/index.json"))
	_, found, err = b.Get(ctx, "home/checkpoints/0xHOST/sess-1/index.json")
	require.NoError(t, err)
	require.False(t, found)
}

func TestLocalBackendDeleteMissingIsNotError(t *testing.T) {
	b := NewLocalBackend(t.TempDir())
	require.NoError(t, b.Delete(context.Background(), "never/written.json"))
}

func TestSealOpenRoundTrip(t *testing.T) {
	var key [32]byte
	key[0] = 7

	blob, err := seal(key, []byte("plaintext checkpoint delta"))
	require.NoError(t, err)

	plaintext, err := open(key, blob)
	require.NoError(t, err)
	require.Equal(t, "plaintext checkpoint delta", string(plaintext))

	var wrongKey [32]byte
	wrongKey[0] = 9
	_, err = open(wrongKey, blob)
	require.Error(t, err)
}
