// Copyright 2025 Certen Protocol
//
// Witness: the fixed-width record binding a single inference's identifying
// hashes. Canonical serialization is the 128-byte concatenation of the four
// component hashes in a fixed order; equal witnesses always produce
// byte-identical serializations.

package witness

import (
	"bytes"
	"crypto/sha256"
)

// Witness binds job, model, input, and output identity for one inference.
// Immutable once built.
type Witness struct {
	JobIDHash  [32]byte
	ModelHash  [32]byte
	InputHash  [32]byte
	OutputHash [32]byte
}

// New builds a Witness from already-hashed 32-byte digests.
func New(jobIDHash, modelHash, inputHash, outputHash [32]byte) Witness {
	return Witness{
		JobIDHash:  jobIDHash,
		ModelHash:  modelHash,
		InputHash:  inputHash,
		OutputHash: outputHash,
	}
}

// FromStrings builds a Witness by SHA-256 hashing higher-level inputs: a
// job id string, a model path or identifier, and the raw input/output text.
func FromStrings(jobID, model, input, output string) Witness {
	return Witness{
		JobIDHash:  sha256.Sum256([]byte(jobID)),
		ModelHash:  sha256.Sum256([]byte(model)),
		InputHash:  sha256.Sum256([]byte(input)),
		OutputHash: sha256.Sum256([]byte(output)),
	}
}

// Serialize returns the canonical 128-byte concatenation
// (job_id_hash || model_hash || input_hash || output_hash).
func (w Witness) Serialize() [128]byte {
	var out [128]byte
	copy(out[0:32], w.JobIDHash[:])
	copy(out[32:64], w.ModelHash[:])
	copy(out[64:96], w.InputHash[:])
	copy(out[96:128], w.OutputHash[:])
	return out
}

// Equal reports byte-equality of the two witnesses' canonical serializations.
func (w Witness) Equal(other Witness) bool {
	a := w.Serialize()
	b := other.Serialize()
	return bytes.Equal(a[:], b[:])
}

// Fingerprint returns the SHA-256 hash of the canonical serialization; this
// is the proof cache's lookup key.
func (w Witness) Fingerprint() [32]byte {
	s := w.Serialize()
	return sha256.Sum256(s[:])
}
