// Copyright 2025 Certen Protocol
//
// Trusted-setup CLI for the witness-commitment circuit: compiles the
// circuit, runs Groth16 setup, and writes the proving/verifying keys in the
// format the key cache expects.

package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"github.com/certen/inference-host/pkg/keycache"
	"github.com/certen/inference-host/pkg/witness"
)

func main() {
	var (
		pkPath = flag.String("proving-key-out", "witness_proving.key", "output path for the proving key")
		vkPath = flag.String("verifying-key-out", "witness_verifying.key", "output path for the verifying key")
	)
	flag.Parse()

	if err := run(*pkPath, *vkPath); err != nil {
		fmt.Fprintf(os.Stderr, "keysetup: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s and %s for circuit %s\n", *pkPath, *vkPath, witness.CircuitID)
}

func run(pkPath, vkPath string) error {
	var circuit witness.WitnessCommitmentCircuit
	cs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		return fmt.Errorf("compile circuit: %w", err)
	}

	pk, vk, err := groth16.Setup(cs)
	if err != nil {
		return fmt.Errorf("groth16 setup: %w", err)
	}

	if err := writeKey(pkPath, keycache.KindProving, pk); err != nil {
		return fmt.Errorf("write proving key: %w", err)
	}
	if err := writeKey(vkPath, keycache.KindVerifying, vk); err != nil {
		return fmt.Errorf("write verifying key: %w", err)
	}
	return nil
}

func writeKey(path string, kind keycache.Kind, key io.WriterTo) error {
	var buf bytes.Buffer
	if _, err := key.WriteTo(&buf); err != nil {
		return err
	}
	encoded := keycache.EncodeKeyFile(kind, witness.CircuitID, buf.Bytes())
	return os.WriteFile(path, encoded, 0600)
}
