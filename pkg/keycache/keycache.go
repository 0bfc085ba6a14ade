// Copyright 2025 Certen Protocol
//
// Key cache: thread-safe load-and-cache of proving/verifying keys by
// canonical filesystem path. Concurrent readers never block each other;
// writers take the exclusive lock only long enough to insert an already-
// loaded entry. Loading the same path from many goroutines at once is
// coalesced onto a single disk read.

package keycache

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/certen/inference-host/internal/errs"
)

// Kind distinguishes proving keys from verifying keys; a cache instance
// enforces that the format marker on disk matches the kind requested.
type Kind int

const (
	KindProving Kind = iota
	KindVerifying
)

const (
	markerProving   byte = 0x50 // 'P'
	markerVerifying byte = 0x56 // 'V'
)

// Entry is a cached key: its canonical path, circuit identifier, the
// gnark-serialized payload with the on-disk header stripped, and
// bookkeeping fields.
type Entry struct {
	Path       string
	Kind       Kind
	CircuitID  string
	Payload    []byte
	LoadedAt   time.Time
	SizeBytes  int
}

// Stats mirrors the statistics required by the key cache's spec: hits,
// misses, cached count, and memory footprint.
type Stats struct {
	Hits        uint64
	Misses      uint64
	Cached      int
	MemoryBytes int64
}

// loadState tracks an in-flight load so concurrent callers for the same
// path coalesce onto it instead of duplicating I/O.
type loadState struct {
	done  chan struct{}
	entry *Entry
	err   error
}

// Cache is the shared key cache. Zero value is not usable; use New.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	stats   Stats

	loadMu  sync.Mutex
	loading map[string]*loadState
}

// New returns an empty key cache.
func New() *Cache {
	return &Cache{
		entries: make(map[string]*Entry),
		loading: make(map[string]*loadState),
	}
}

func canonicalPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

// Get returns the cached key for path, loading it from disk on first
// access. Concurrent callers requesting the same uncached path block on the
// single in-flight load rather than each performing their own read.
func (c *Cache) Get(path string, kind Kind) (*Entry, error) {
	canon, err := canonicalPath(path)
	if err != nil {
		return nil, &errs.KeyLoadFailed{Path: path, Reason: err.Error()}
	}

	c.mu.RLock()
	if e, ok := c.entries[canon]; ok {
		c.mu.RUnlock()
		c.mu.Lock()
		c.stats.Hits++
		c.mu.Unlock()
		return e, nil
	}
	c.mu.RUnlock()

	return c.loadCoalesced(canon, kind)
}

func (c *Cache) loadCoalesced(canon string, kind Kind) (*Entry, error) {
	c.loadMu.Lock()
	if st, ok := c.loading[canon]; ok {
		c.loadMu.Unlock()
		<-st.done
		if st.err != nil {
			return nil, st.err
		}
		return st.entry, nil
	}

	st := &loadState{done: make(chan struct{})}
	c.loading[canon] = st
	c.loadMu.Unlock()

	entry, err := loadFromDisk(canon, kind)

	c.loadMu.Lock()
	delete(c.loading, canon)
	c.loadMu.Unlock()

	if err != nil {
		st.err = err
		close(st.done)
		c.mu.Lock()
		c.stats.Misses++
		c.mu.Unlock()
		return nil, err
	}

	c.mu.Lock()
	if existing, ok := c.entries[canon]; ok {
		// Another path raced us via a non-coalesced Reload; keep whichever
		// is already present rather than double-count memory.
		entry = existing
	} else {
		c.entries[canon] = entry
		c.stats.Cached = len(c.entries)
		c.stats.MemoryBytes += int64(entry.SizeBytes)
	}
	c.stats.Misses++
	c.mu.Unlock()

	st.entry = entry
	close(st.done)
	return entry, nil
}

func loadFromDisk(path string, kind Kind) (*Entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &errs.KeyLoadFailed{Path: path, Reason: err.Error()}
	}
	entry, err := decodeKeyFile(raw, kind)
	if err != nil {
		return nil, err
	}
	entry.Path = path
	entry.LoadedAt = time.Now()
	return entry, nil
}

// decodeKeyFile parses the on-disk key format:
//
//	[1 byte marker: 'P' or 'V'][4 byte LE circuit-id length][circuit id][gnark payload]
func decodeKeyFile(raw []byte, kind Kind) (*Entry, error) {
	if len(raw) < 5 {
		return nil, &errs.InvalidKey{Reason: "file too short for header"}
	}
	marker := raw[0]
	wantMarker := markerProving
	if kind == KindVerifying {
		wantMarker = markerVerifying
	}
	if marker != wantMarker {
		return nil, &errs.InvalidKey{Reason: "format marker mismatch"}
	}

	r := bytes.NewReader(raw[1:])
	var idLen uint32
	if err := binary.Read(r, binary.LittleEndian, &idLen); err != nil {
		return nil, &errs.InvalidKey{Reason: "truncated circuit id length"}
	}
	idBytes := make([]byte, idLen)
	if _, err := io.ReadFull(r, idBytes); err != nil {
		return nil, &errs.InvalidKey{Reason: "truncated circuit id"}
	}
	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, &errs.InvalidKey{Reason: "truncated payload"}
	}

	return &Entry{
		Kind:      kind,
		CircuitID: string(idBytes),
		Payload:   payload,
		SizeBytes: len(raw),
	}, nil
}

// EncodeKeyFile produces the on-disk representation for a key payload,
// for use by the trusted-setup tool that writes keys this cache can load.
func EncodeKeyFile(kind Kind, circuitID string, payload []byte) []byte {
	marker := markerProving
	if kind == KindVerifying {
		marker = markerVerifying
	}
	buf := new(bytes.Buffer)
	buf.WriteByte(marker)
	binary.Write(buf, binary.LittleEndian, uint32(len(circuitID)))
	buf.WriteString(circuitID)
	buf.Write(payload)
	return buf.Bytes()
}

// Preload eagerly loads every path in paths, stopping at the first error.
func (c *Cache) Preload(paths []string, kind Kind) error {
	for _, p := range paths {
		if _, err := c.Get(p, kind); err != nil {
			return err
		}
	}
	return nil
}

// InvalidateAll drops every cached entry. Stats counters are not reset.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry)
	c.stats.Cached = 0
	c.stats.MemoryBytes = 0
}

// Reload forces a fresh disk read for path, replacing any cached entry.
func (c *Cache) Reload(path string, kind Kind) (*Entry, error) {
	canon, err := canonicalPath(path)
	if err != nil {
		return nil, &errs.KeyLoadFailed{Path: path, Reason: err.Error()}
	}
	entry, err := loadFromDisk(canon, kind)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if old, ok := c.entries[canon]; ok {
		c.stats.MemoryBytes -= int64(old.SizeBytes)
	} else {
		c.stats.Cached = len(c.entries) + 1
	}
	c.entries[canon] = entry
	c.stats.MemoryBytes += int64(entry.SizeBytes)
	c.stats.Cached = len(c.entries)
	c.mu.Unlock()
	return entry, nil
}

// IsCached reports whether path is currently present without triggering a
// load.
func (c *Cache) IsCached(path string) bool {
	canon, err := canonicalPath(path)
	if err != nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[canon]
	return ok
}

// Stats returns a snapshot of the cache's counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}
