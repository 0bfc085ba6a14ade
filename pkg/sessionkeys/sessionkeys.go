// Copyright 2025 Certen Protocol
//
// Session key store: session_id -> 32-byte symmetric key with installation
// timestamp. Installed by the handshake, removed on disconnect, swept by TTL.

package sessionkeys

import (
	"sync"
	"time"
)

// Entry is one installed session key.
type Entry struct {
	Key         [32]byte
	InstalledAt time.Time
}

// Store maps session ids to symmetric keys. Zero value TTL (no TTL set via
// New) disables ClearExpired entirely.
type Store struct {
	mu      sync.RWMutex
	entries map[string]Entry
	ttl     time.Duration
}

// New returns an empty store. ttl == 0 means keys never expire and
// ClearExpired is always a no-op.
func New(ttl time.Duration) *Store {
	return &Store{
		entries: make(map[string]Entry),
		ttl:     ttl,
	}
}

// StoreKey installs or overwrites the key for sessionID.
func (s *Store) StoreKey(sessionID string, key [32]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[sessionID] = Entry{Key: key, InstalledAt: time.Now()}
}

// GetKey returns a copy of the key for sessionID, and whether it exists.
// A nonexistent session is not an error.
func (s *Store) GetKey(sessionID string) ([32]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[sessionID]
	return e.Key, ok
}

// ClearKey removes sessionID's key, if any.
func (s *Store) ClearKey(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, sessionID)
}

// ClearExpired removes every key installed longer ago than the configured
// TTL and returns the count removed. A no-op (returns 0) when no TTL is set.
func (s *Store) ClearExpired() int {
	if s.ttl == 0 {
		return 0
	}
	cutoff := time.Now().Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.entries {
		if e.InstalledAt.Before(cutoff) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

// Count returns the number of currently installed keys.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
