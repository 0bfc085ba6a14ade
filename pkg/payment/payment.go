// Copyright 2025 Certen Protocol
//
// Payment flow wiring: the glue between the settlement validator, the
// result/proof store, the host's signer, and the job claim registry. A
// claim is only ever built after the validator has agreed the stored proof
// matches the stored result for the assigned host.

package payment

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log"
	"os"

	"github.com/certen/inference-host/internal/errs"
	"github.com/certen/inference-host/pkg/checkpoint"
	"github.com/certen/inference-host/pkg/registry"
	"github.com/certen/inference-host/pkg/resultstore"
	"github.com/certen/inference-host/pkg/settlement"
	"github.com/certen/inference-host/pkg/signer"
)

// Claim is a signed, ready-to-submit payment claim for one settled job.
type Claim struct {
	JobID         string
	ProofHash     [32]byte
	HostAddress   [20]byte
	TokensClaimed uint64
	Signature     string
}

// Submitter is the narrow on-chain collaborator: given a signed claim, it
// submits the corresponding transaction. The chain client itself is out of
// scope; only this interface is depended on.
type Submitter interface {
	Submit(ctx context.Context, claim Claim) error
}

// IndexProvider is the narrow collaborator that supplies a session's signed
// checkpoint index. The stored proof binds hashes, not a token count, so this
// index is the only authoritative record of how many tokens a session's
// published checkpoints actually cover.
type IndexProvider interface {
	Index(sessionID string) (checkpoint.Index, bool)
}

// Flow wires the validator, store, signer, claimer, and submitter together,
// gating every on-chain submission on validator agreement.
type Flow struct {
	store     *resultstore.Store
	validator *settlement.Validator
	signer    *signer.Signer
	claimer   *registry.Claimer
	submitter Submitter
	indexes   IndexProvider
	logger    *log.Logger
}

// New builds a Flow. submitter may be a no-op stub in environments that
// don't submit directly (e.g. a bridge process consumes claims separately).
func New(store *resultstore.Store, validator *settlement.Validator, s *signer.Signer, claimer *registry.Claimer, submitter Submitter, indexes IndexProvider) *Flow {
	return &Flow{
		store:     store,
		validator: validator,
		signer:    s,
		claimer:   claimer,
		submitter: submitter,
		indexes:   indexes,
		logger:    log.New(os.Stdout, "[Payment] ", log.LstdFlags),
	}
}

// SettleAndClaim validates jobID, confirms the assignment is held by the
// signer's own address, checks tokensClaimed against sessionID's published
// checkpoint index, builds and signs a claim, submits it, and on success
// cleans up the result/proof records. Settlement failure (dispute or missing
// records), a missing index, or a token-count mismatch all block payment
// entirely: no claim is built, signed, or submitted.
func (f *Flow) SettleAndClaim(ctx context.Context, jobID, sessionID string, tokensClaimed uint64) (Claim, error) {
	passed, err := f.validator.Validate(jobID)
	if err != nil {
		return Claim{}, fmt.Errorf("settlement validation: %w", err)
	}
	if !passed {
		return Claim{}, &errs.ValidationFailed{Field: "job_id", Reason: "settlement dispute: proof does not match stored result"}
	}

	idx, ok := f.indexes.Index(sessionID)
	if !ok {
		return Claim{}, &errs.ValidationFailed{Field: "session_id", Reason: "no published checkpoint index for this session"}
	}
	var indexTotal uint64
	for _, entry := range idx.Checkpoints {
		indexTotal += entry.TokenRange.End - entry.TokenRange.Start
	}
	if indexTotal != tokensClaimed {
		return Claim{}, &errs.TokenCountMismatch{JobID: jobID, Claimed: tokensClaimed, IndexTotal: indexTotal}
	}

	assignment, ok := f.claimer.Get(jobID)
	if !ok {
		return Claim{}, &errs.ValidationFailed{Field: "job_id", Reason: "no assignment on record"}
	}
	hostHex := f.signer.AddressHex()
	if !addressesEqual(assignment.HostAddress, hostHex) {
		return Claim{}, &errs.ValidationFailed{Field: "host_address", Reason: "assignment belongs to a different host"}
	}

	proof, ok := f.store.GetProof(jobID)
	if !ok {
		return Claim{}, &errs.ProofNotFound{JobID: jobID}
	}
	proofHash := sha256.Sum256(proof.ProofBytes)

	sig, err := f.signer.SignClaim(proofHash, tokensClaimed)
	if err != nil {
		return Claim{}, fmt.Errorf("sign claim: %w", err)
	}

	claim := Claim{
		JobID:         jobID,
		ProofHash:     proofHash,
		HostAddress:   f.signer.Address(),
		TokensClaimed: tokensClaimed,
		Signature:     sig,
	}

	if err := f.submitter.Submit(ctx, claim); err != nil {
		return Claim{}, fmt.Errorf("submit claim: %w", err)
	}

	if err := f.validator.Cleanup(jobID); err != nil {
		f.logger.Printf("claim submitted but cleanup failed job=%s: %v", jobID, err)
	}
	_ = f.claimer.Release(jobID)

	f.logger.Printf("settled job=%s tokens=%d host=%s", jobID, tokensClaimed, hostHex)
	return claim, nil
}

func addressesEqual(a, b string) bool {
	return normalizeHex(a) == normalizeHex(b)
}

func normalizeHex(s string) string {
	out := make([]byte, 0, len(s))
	for _, c := range []byte(s) {
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}
