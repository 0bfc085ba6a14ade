// Copyright 2025 Certen Protocol
//
// KVPersister: optional durable persistence for the result/proof store,
// backed by cometbft-db. Adapted from the key-value adapter pattern used
// elsewhere in this codebase for ledger-style durability.

package resultstore

import (
	"encoding/json"
	"fmt"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/certen/inference-host/pkg/witness"
)

const (
	resultKeyPrefix = "result/"
	proofKeyPrefix  = "proof/"
)

// KVPersister implements Persister over a cometbft-db key-value handle.
type KVPersister struct {
	db dbm.DB
}

// NewKVPersister wraps an already-open cometbft-db database.
func NewKVPersister(db dbm.DB) *KVPersister {
	return &KVPersister{db: db}
}

func (p *KVPersister) PutResult(jobID string, r InferenceResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	return p.db.SetSync([]byte(resultKeyPrefix+jobID), data)
}

func (p *KVPersister) PutProof(jobID string, pr witness.ProofData) error {
	data, err := json.Marshal(pr)
	if err != nil {
		return fmt.Errorf("marshal proof: %w", err)
	}
	return p.db.SetSync([]byte(proofKeyPrefix+jobID), data)
}

func (p *KVPersister) DeleteResult(jobID string) error {
	return p.db.DeleteSync([]byte(resultKeyPrefix + jobID))
}

func (p *KVPersister) DeleteProof(jobID string) error {
	return p.db.DeleteSync([]byte(proofKeyPrefix + jobID))
}

// LoadResult reads a previously-persisted result back, for process restart
// recovery.
func (p *KVPersister) LoadResult(jobID string) (InferenceResult, bool, error) {
	raw, err := p.db.Get([]byte(resultKeyPrefix + jobID))
	if err != nil {
		return InferenceResult{}, false, err
	}
	if raw == nil {
		return InferenceResult{}, false, nil
	}
	var r InferenceResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return InferenceResult{}, false, fmt.Errorf("unmarshal result: %w", err)
	}
	return r, true, nil
}
