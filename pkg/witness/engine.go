// Copyright 2025 Certen Protocol
//
// Proof engine: generates and verifies commitment proofs over a Witness.
// Mock and real (Groth16) paths share this interface, the same validation
// rules, and the same failure taxonomy, so downstream code (cache, store,
// settlement) behaves identically regardless of mode.

package witness

import (
	"bytes"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"github.com/certen/inference-host/internal/errs"
)

// ProofData is the serialized proof together with the three hashes it binds
// and the generation timestamp. Invariant: ModelHash, InputHash, and
// OutputHash equal those of the witness that produced it.
type ProofData struct {
	ProofBytes []byte
	Timestamp  uint64
	ModelHash  [32]byte
	InputHash  [32]byte
	OutputHash [32]byte
}

const (
	minProofSize = 10
	maxProofSize = 100000

	mockMarker  = "MOCKPROOFv1"
	mockMinSize = 200
)

// KeyMaterial is an opaque key payload with a circuit identifier, as loaded
// by the key cache. A proving/verifying pair is compatible iff their
// CircuitID fields match CircuitID.
type KeyMaterial struct {
	CircuitID string
	Payload   []byte
}

// Mode selects between the deterministic mock path (development) and the
// real Groth16 path (production).
type Mode int

const (
	ModeMock Mode = iota
	ModeReal
)

// Engine generates and verifies proofs for a fixed mode.
type Engine struct {
	mode Mode
}

// NewEngine returns an Engine running in the given mode.
func NewEngine(mode Mode) *Engine {
	return &Engine{mode: mode}
}

// GenerateProof produces a proof for w. In mock mode pk may be nil; in real
// mode pk must be a compatible proving key.
func (e *Engine) GenerateProof(w Witness, pk *KeyMaterial) (*ProofData, error) {
	switch e.mode {
	case ModeMock:
		return generateMock(w), nil
	default:
		if pk == nil {
			return nil, &errs.ProofGenerationFailed{Reason: "proving key missing"}
		}
		if pk.CircuitID != CircuitID {
			return nil, &errs.ProofGenerationFailed{Reason: "proving key circuit id mismatch"}
		}
		return generateReal(w, pk)
	}
}

// VerifyProof checks proof against w. Structural defects and hash mismatches
// return (false, nil) — a mismatch is a dispute, not a malfunction. Only
// missing/incompatible keys or internal decode failures return an error.
func (e *Engine) VerifyProof(proof *ProofData, w Witness, vk *KeyMaterial) (bool, error) {
	if proof == nil || len(proof.ProofBytes) == 0 {
		return false, nil
	}
	if len(proof.ProofBytes) < minProofSize || len(proof.ProofBytes) > maxProofSize {
		return false, nil
	}
	if proof.ModelHash != w.ModelHash || proof.InputHash != w.InputHash || proof.OutputHash != w.OutputHash {
		return false, nil
	}

	switch e.mode {
	case ModeMock:
		return verifyMock(proof, w), nil
	default:
		if vk == nil {
			return false, &errs.ProofGenerationFailed{Reason: "verifying key missing"}
		}
		if vk.CircuitID != CircuitID {
			return false, &errs.ProofGenerationFailed{Reason: "verifying key circuit id mismatch"}
		}
		return verifyReal(proof, w, vk)
	}
}

// generateMock produces a deterministic marker-prefixed proof embedding the
// full witness serialization, at least mockMinSize bytes long.
func generateMock(w Witness) *ProofData {
	ser := w.Serialize()
	body := make([]byte, 0, mockMinSize)
	body = append(body, []byte(mockMarker)...)
	body = append(body, ser[:]...)
	for len(body) < mockMinSize {
		body = append(body, 0xAA)
	}
	return &ProofData{
		ProofBytes: body,
		Timestamp:  uint64(time.Now().Unix()),
		ModelHash:  w.ModelHash,
		InputHash:  w.InputHash,
		OutputHash: w.OutputHash,
	}
}

// verifyMock checks the marker and decodes the embedded witness, comparing
// all four hashes (including job id, which ProofData itself does not carry)
// against w.
func verifyMock(proof *ProofData, w Witness) bool {
	if len(proof.ProofBytes) < len(mockMarker)+128 {
		return false
	}
	if string(proof.ProofBytes[:len(mockMarker)]) != mockMarker {
		return false
	}
	embedded := proof.ProofBytes[len(mockMarker) : len(mockMarker)+128]
	ser := w.Serialize()
	return bytes.Equal(embedded, ser[:])
}

func generateReal(w Witness, pk *KeyMaterial) (*ProofData, error) {
	var circuit WitnessCommitmentCircuit
	cs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		return nil, &errs.ProofGenerationFailed{Reason: "compile circuit: " + err.Error()}
	}

	groth16PK := groth16.NewProvingKey(ecc.BN254)
	if _, err := groth16PK.ReadFrom(bytes.NewReader(pk.Payload)); err != nil {
		return nil, &errs.ProofGenerationFailed{Reason: "decode proving key: " + err.Error()}
	}

	blinding, commitment := deriveCommitment(w)
	assignment := &WitnessCommitmentCircuit{
		JobIDHash:  bigFromHash(w.JobIDHash),
		ModelHash:  bigFromHash(w.ModelHash),
		InputHash:  bigFromHash(w.InputHash),
		OutputHash: bigFromHash(w.OutputHash),
		Blinding:   blinding,
		Commitment: commitment,
	}

	fullWitness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, &errs.ProofGenerationFailed{Reason: "build witness: " + err.Error()}
	}

	proof, err := groth16.Prove(cs, groth16PK, fullWitness)
	if err != nil {
		return nil, &errs.ProofGenerationFailed{Reason: "prove: " + err.Error()}
	}

	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, &errs.ProofGenerationFailed{Reason: "serialize proof: " + err.Error()}
	}

	return &ProofData{
		ProofBytes: buf.Bytes(),
		Timestamp:  uint64(time.Now().Unix()),
		ModelHash:  w.ModelHash,
		InputHash:  w.InputHash,
		OutputHash: w.OutputHash,
	}, nil
}

func verifyReal(proof *ProofData, w Witness, vk *KeyMaterial) (bool, error) {
	groth16VK := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := groth16VK.ReadFrom(bytes.NewReader(vk.Payload)); err != nil {
		return false, &errs.ProofGenerationFailed{Reason: "decode verifying key: " + err.Error()}
	}

	groth16Proof := groth16.NewProof(ecc.BN254)
	if _, err := groth16Proof.ReadFrom(bytes.NewReader(proof.ProofBytes)); err != nil {
		// Malformed proof bytes are a dispute outcome, not an engine failure.
		return false, nil
	}

	assignment := &WitnessCommitmentCircuit{
		JobIDHash:  bigFromHash(w.JobIDHash),
		ModelHash:  bigFromHash(w.ModelHash),
		InputHash:  bigFromHash(w.InputHash),
		OutputHash: bigFromHash(w.OutputHash),
	}
	publicWitness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return false, &errs.ProofGenerationFailed{Reason: "build public witness: " + err.Error()}
	}

	if err := groth16.Verify(groth16Proof, groth16VK, publicWitness); err != nil {
		return false, nil
	}
	return true, nil
}
