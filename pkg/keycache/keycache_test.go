package keycache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/certen/inference-host/internal/errs"
)

func writeTestKeyFile(t *testing.T, dir string, kind Kind, circuitID string, payload []byte) string {
	t.Helper()
	path := filepath.Join(dir, "key.bin")
	require.NoError(t, os.WriteFile(path, EncodeKeyFile(kind, circuitID, payload), 0o600))
	return path
}

func TestGetLoadsAndCachesEntry(t *testing.T) {
	dir := t.TempDir()
	path := writeTestKeyFile(t, dir, KindProving, "circuit-v1", []byte("proving-bytes"))

	c := New()
	entry, err := c.Get(path, KindProving)
	require.NoError(t, err)
	require.Equal(t, "circuit-v1", entry.CircuitID)
	require.Equal(t, []byte("proving-bytes"), entry.Payload)

	stats := c.Stats()
	require.Equal(t, uint64(0), stats.Hits)
	require.Equal(t, uint64(1), stats.Misses)
	require.Equal(t, 1, stats.Cached)

	_, err = c.Get(path, KindProving)
	require.NoError(t, err)
	require.Equal(t, uint64(1), c.Stats().Hits)
}

func TestGetRejectsMarkerMismatch(t *testing.T) {
	dir := t.TempDir()
	path := writeTestKeyFile(t, dir, KindProving, "circuit-v1", []byte("proving-bytes"))

	c := New()
	_, err := c.Get(path, KindVerifying)
	require.Error(t, err)
	require.IsType(t, &errs.InvalidKey{}, err)
}

func TestGetRejectsTruncatedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "short.bin")
	require.NoError(t, os.WriteFile(path, []byte{markerProving, 0x01}, 0o600))

	c := New()
	_, err := c.Get(path, KindProving)
	require.Error(t, err)
}

func TestGetMissingFileReturnsKeyLoadFailed(t *testing.T) {
	c := New()
	_, err := c.Get(filepath.Join(t.TempDir(), "missing.bin"), KindProving)
	require.Error(t, err)
	require.IsType(t, &errs.KeyLoadFailed{}, err)
}

func TestIsCachedReflectsLoadState(t *testing.T) {
	dir := t.TempDir()
	path := writeTestKeyFile(t, dir, KindVerifying, "circuit-v2", []byte("verifying-bytes"))

	c := New()
	require.False(t, c.IsCached(path))
	_, err := c.Get(path, KindVerifying)
	require.NoError(t, err)
	require.True(t, c.IsCached(path))
}

func TestReloadReplacesCachedEntry(t *testing.T) {
	dir := t.TempDir()
	path := writeTestKeyFile(t, dir, KindProving, "circuit-v1", []byte("v1"))

	c := New()
	_, err := c.Get(path, KindProving)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, EncodeKeyFile(KindProving, "circuit-v1", []byte("v2")), 0o600))
	entry, err := c.Reload(path, KindProving)
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), entry.Payload)

	cached, err := c.Get(path, KindProving)
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), cached.Payload)
}

func TestInvalidateAllClearsEntriesAndResetsCounts(t *testing.T) {
	dir := t.TempDir()
	path := writeTestKeyFile(t, dir, KindProving, "circuit-v1", []byte("v1"))

	c := New()
	_, err := c.Get(path, KindProving)
	require.NoError(t, err)
	require.True(t, c.IsCached(path))

	c.InvalidateAll()
	require.False(t, c.IsCached(path))
	require.Equal(t, 0, c.Stats().Cached)
}

func TestPreloadStopsAtFirstError(t *testing.T) {
	dir := t.TempDir()
	ok := writeTestKeyFile(t, dir, KindProving, "circuit-v1", []byte("v1"))
	missing := filepath.Join(dir, "missing.bin")

	c := New()
	err := c.Preload([]string{ok, missing}, KindProving)
	require.Error(t, err)
	require.True(t, c.IsCached(ok))
	require.False(t, c.IsCached(missing))
}
