// Copyright 2025 Certen Protocol
//
// WitnessCommitmentCircuit is the Groth16 circuit backing the real proving
// path: it binds the four witness hashes as public inputs and asserts a
// deterministic linear commitment over them plus a private blinding factor,
// so the proof attests "I know a witness whose four hashes combine to this
// commitment" without revealing the blinding factor.

package witness

import (
	"crypto/sha256"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/frontend"
)

// CircuitID identifies this circuit; a proving/verifying key pair is only
// usable together if their circuit identifiers match.
const CircuitID = "witness-commitment-v1"

// WitnessCommitmentCircuit is the gnark circuit definition. JobIDHash,
// ModelHash, InputHash, and OutputHash are public; Blinding and Commitment
// are private.
type WitnessCommitmentCircuit struct {
	JobIDHash  frontend.Variable `gnark:",public"`
	ModelHash  frontend.Variable `gnark:",public"`
	InputHash  frontend.Variable `gnark:",public"`
	OutputHash frontend.Variable `gnark:",public"`

	Blinding   frontend.Variable
	Commitment frontend.Variable
}

// Define constrains Commitment to equal the fixed linear combination of the
// four public hashes and the private blinding factor.
func (c *WitnessCommitmentCircuit) Define(api frontend.API) error {
	sum := api.Mul(c.ModelHash, 3)
	sum = api.Add(sum, api.Mul(c.InputHash, 5))
	sum = api.Add(sum, api.Mul(c.OutputHash, 7))
	sum = api.Add(sum, api.Mul(c.Blinding, 11))
	sum = api.Add(sum, c.JobIDHash)
	api.AssertIsEqual(sum, c.Commitment)
	return nil
}

// scalarField returns the BN254 scalar field modulus used to reduce witness
// inputs before circuit assignment.
func scalarField() *big.Int {
	return ecc.BN254.ScalarField()
}

// deriveCommitment computes (blinding, commitment) outside the circuit,
// mirroring Define's arithmetic exactly, so the prover's assignment is
// self-consistent. Blinding is derived deterministically from the witness
// serialization so proof generation remains a pure function of its inputs.
func deriveCommitment(w Witness) (blinding *big.Int, commitment *big.Int) {
	field := scalarField()
	ser := w.Serialize()

	blindingSeed := hashToField(append([]byte("witness-commitment-blinding/"), ser[:]...), field)

	jobID := new(big.Int).Mod(new(big.Int).SetBytes(w.JobIDHash[:]), field)
	model := new(big.Int).Mod(new(big.Int).SetBytes(w.ModelHash[:]), field)
	input := new(big.Int).Mod(new(big.Int).SetBytes(w.InputHash[:]), field)
	output := new(big.Int).Mod(new(big.Int).SetBytes(w.OutputHash[:]), field)

	sum := new(big.Int).Mul(model, big.NewInt(3))
	sum.Add(sum, new(big.Int).Mul(input, big.NewInt(5)))
	sum.Add(sum, new(big.Int).Mul(output, big.NewInt(7)))
	sum.Add(sum, new(big.Int).Mul(blindingSeed, big.NewInt(11)))
	sum.Add(sum, jobID)
	sum.Mod(sum, field)

	return blindingSeed, sum
}

func hashToField(data []byte, field *big.Int) *big.Int {
	sum := sha256.Sum256(data)
	n := new(big.Int).SetBytes(sum[:])
	return n.Mod(n, field)
}

// bigFromHash reduces a 32-byte hash into the BN254 scalar field for use as
// a circuit input.
func bigFromHash(h [32]byte) *big.Int {
	n := new(big.Int).SetBytes(h[:])
	return n.Mod(n, scalarField())
}
