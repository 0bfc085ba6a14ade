// Copyright 2025 Certen Protocol
//
// Result/proof store: two job_id-keyed maps holding InferenceResult and
// ProofData, the durable handoff surface between the inference host and the
// settlement validator. Persistence is pluggable but never required for the
// validator's own correctness.

package resultstore

import (
	"sync"

	"github.com/certen/inference-host/pkg/witness"
)

// InferenceResult is one completed inference's record, as produced by the
// (out of scope) inference engine.
type InferenceResult struct {
	JobID            string
	ModelID          string
	Prompt           string
	Response         string
	TokensGenerated  uint64
	InferenceTimeMs  uint64
	Timestamp        uint64
	NodeID           string
	Metadata         map[string]string
}

// Stats aggregates counts and byte totals across both maps.
type Stats struct {
	ResultCount     int
	ProofCount      int
	ResultBytes     int64
	ProofBytes      int64
}

// Persister is the optional pluggable durability hook; a nil Persister
// (memory only) is the default and satisfies every correctness property on
// its own.
type Persister interface {
	PutResult(jobID string, r InferenceResult) error
	PutProof(jobID string, p witness.ProofData) error
	DeleteResult(jobID string) error
	DeleteProof(jobID string) error
}

// Store holds results and proofs concurrently-safe, with an optional
// persistence hook invoked after each in-memory mutation.
type Store struct {
	mu        sync.RWMutex
	results   map[string]InferenceResult
	proofs    map[string]witness.ProofData
	persister Persister
}

// New returns an empty store. persister may be nil.
func New(persister Persister) *Store {
	return &Store{
		results:   make(map[string]InferenceResult),
		proofs:    make(map[string]witness.ProofData),
		persister: persister,
	}
}

// PutResult inserts or overwrites the result for jobID.
func (s *Store) PutResult(jobID string, r InferenceResult) error {
	s.mu.Lock()
	s.results[jobID] = r
	s.mu.Unlock()
	if s.persister != nil {
		return s.persister.PutResult(jobID, r)
	}
	return nil
}

// PutProof inserts or overwrites the proof for jobID.
func (s *Store) PutProof(jobID string, p witness.ProofData) error {
	s.mu.Lock()
	s.proofs[jobID] = p
	s.mu.Unlock()
	if s.persister != nil {
		return s.persister.PutProof(jobID, p)
	}
	return nil
}

// GetResult returns the stored result for jobID, if any.
func (s *Store) GetResult(jobID string) (InferenceResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[jobID]
	return r, ok
}

// GetProof returns the stored proof for jobID, if any.
func (s *Store) GetProof(jobID string) (witness.ProofData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proofs[jobID]
	return p, ok
}

// DeleteResult removes the result for jobID.
func (s *Store) DeleteResult(jobID string) error {
	s.mu.Lock()
	delete(s.results, jobID)
	s.mu.Unlock()
	if s.persister != nil {
		return s.persister.DeleteResult(jobID)
	}
	return nil
}

// DeleteProof removes the proof for jobID.
func (s *Store) DeleteProof(jobID string) error {
	s.mu.Lock()
	delete(s.proofs, jobID)
	s.mu.Unlock()
	if s.persister != nil {
		return s.persister.DeleteProof(jobID)
	}
	return nil
}

// DeleteBoth atomically removes both the result and the proof for jobID,
// used by the settlement validator's post-settlement cleanup.
func (s *Store) DeleteBoth(jobID string) error {
	s.mu.Lock()
	delete(s.results, jobID)
	delete(s.proofs, jobID)
	s.mu.Unlock()
	if s.persister != nil {
		if err := s.persister.DeleteResult(jobID); err != nil {
			return err
		}
		return s.persister.DeleteProof(jobID)
	}
	return nil
}

// GetStats returns aggregated counts and byte totals.
func (s *Store) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := Stats{
		ResultCount: len(s.results),
		ProofCount:  len(s.proofs),
	}
	for _, r := range s.results {
		stats.ResultBytes += int64(len(r.Prompt) + len(r.Response))
	}
	for _, p := range s.proofs {
		stats.ProofBytes += int64(len(p.ProofBytes))
	}
	return stats
}
