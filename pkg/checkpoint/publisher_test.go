package checkpoint

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/certen/inference-host/pkg/sessionkeys"
	"github.com/certen/inference-host/pkg/signer"
)

func newTestPublisher(t *testing.T) (*Publisher, string, StorageBackend) {
	t.Helper()
	pk, err := crypto.GenerateKey()
	require.NoError(t, err)
	s := signer.New(pk)

	keys := sessionkeys.New(0)
	var sessionKey [32]byte
	sessionKey[0] = 0x42
	keys.StoreKey("sess-1", sessionKey)

	storage := NewLocalBackend(t.TempDir())
	return New(s, keys, storage), "sess-1", storage
}

func TestPublishProducesContiguousRanges(t *testing.T) {
	p, sessionID, _ := newTestPublisher(t)
	ctx := context.Background()

	p.Buffer(sessionID, Message{Role: "user", Content: "hi", Timestamp: 1})
	d1, err := p.Publish(ctx, sessionID, "0xproofA", 0, 10)
	require.NoError(t, err)
	require.Equal(t, uint64(0), d1.CheckpointIndex)
	require.Len(t, d1.HostSignature, 132)

	p.Buffer(sessionID, Message{Role: "assistant", Content: "hello", Timestamp: 2})
	d2, err := p.Publish(ctx, sessionID, "0xproofB", 10, 20)
	require.NoError(t, err)
	require.Equal(t, uint64(1), d2.CheckpointIndex)

	_, err = p.Publish(ctx, sessionID, "0xproofC", 25, 30)
	require.Error(t, err)
}

func TestPublishClearsBufferOnlyAfterSuccess(t *testing.T) {
	p, sessionID, _ := newTestPublisher(t)
	ctx := context.Background()

	p.Buffer(sessionID, Message{Role: "user", Content: "hi"})
	_, err := p.Publish(ctx, sessionID, "0xproof", 0, 5)
	require.NoError(t, err)

	require.Empty(t, p.buffers[sessionID])
}

func TestInitSessionResumesFromExistingIndex(t *testing.T) {
	p, sessionID, storage := newTestPublisher(t)
	ctx := context.Background()

	p.Buffer(sessionID, Message{Role: "user", Content: "hi"})
	_, err := p.Publish(ctx, sessionID, "0xproof", 0, 5)
	require.NoError(t, err)

	resumed := New(p.signer, p.keys, storage)
	require.NoError(t, resumed.InitSession(ctx, sessionID))

	idx := resumed.indices[sessionID]
	require.Len(t, idx.Checkpoints, 1)
	require.Equal(t, uint64(1), idx.NextIndex())
	require.Equal(t, uint64(5), idx.NextTokenStart())
}

func TestInitSessionNoopWithoutExistingIndex(t *testing.T) {
	p, sessionID, _ := newTestPublisher(t)
	require.NoError(t, p.InitSession(context.Background(), sessionID))
	require.Equal(t, uint64(0), p.indices[sessionID].NextIndex())
}

func TestCleanupRemovesEveryReferencedDelta(t *testing.T) {
	p, sessionID, storage := newTestPublisher(t)
	ctx := context.Background()

	p.Buffer(sessionID, Message{Role: "user", Content: "hi"})
	_, err := p.Publish(ctx, sessionID, "0xproof1", 0, 5)
	require.NoError(t, err)
	p.Buffer(sessionID, Message{Role: "assistant", Content: "hey"})
	_, err = p.Publish(ctx, sessionID, "0xproof2", 5, 10)
	require.NoError(t, err)

	n, err := p.Cleanup(ctx, sessionID, true, false)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	_, found, err := storage.Get(ctx, deltaPath(p.hostHex, sessionID, 0))
	require.NoError(t, err)
	require.False(t, found)
	_, found, err = storage.Get(ctx, indexPath(p.hostHex, sessionID))
	require.NoError(t, err)
	require.False(t, found)
}

func TestCleanupRetainsCompletedSessionsByDefault(t *testing.T) {
	p, sessionID, storage := newTestPublisher(t)
	ctx := context.Background()

	p.Buffer(sessionID, Message{Role: "user", Content: "hi"})
	_, err := p.Publish(ctx, sessionID, "0xproof1", 0, 5)
	require.NoError(t, err)

	n, err := p.Cleanup(ctx, sessionID, false, true)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	_, found, err := storage.Get(ctx, indexPath(p.hostHex, sessionID))
	require.NoError(t, err)
	require.True(t, found)
}
