// Copyright 2025 Certen Protocol
//
// Typed error taxonomy shared across the host node. Each error type carries
// only identifiers (paths, ids, hashes) in its message, never raw payload
// content, so that logging an error never leaks a prompt or a key.

package errs

import "fmt"

// Code is a wire-level error code surfaced in encrypted_response error frames
// and HTTP-equivalent translations.
type Code string

const (
	CodeValidationFailed   Code = "VALIDATION_FAILED"
	CodeDecryptionFailed   Code = "DECRYPTION_FAILED"
	CodeSignatureInvalid   Code = "SIGNATURE_INVALID"
	CodeRateLimitExceeded  Code = "RATE_LIMIT_EXCEEDED"
	CodePromptBlocked      Code = "PROMPT_BLOCKED"
	CodeServiceUnavailable Code = "DIFFUSION_SERVICE_UNAVAILABLE"
	CodeNotFound           Code = "NOT_FOUND"
	CodeInternal           Code = "INTERNAL"
)

// KeyLoadFailed is returned when a proving/verifying key cannot be read or
// decoded from disk.
type KeyLoadFailed struct {
	Path   string
	Reason string
}

func (e *KeyLoadFailed) Error() string {
	return fmt.Sprintf("key load failed: path=%s reason=%s", e.Path, e.Reason)
}

func (e *KeyLoadFailed) Code() Code { return CodeInternal }

// InvalidKey is returned when a loaded key's format marker or circuit
// identifier does not match what was expected.
type InvalidKey struct {
	Reason string
}

func (e *InvalidKey) Error() string { return fmt.Sprintf("invalid key: %s", e.Reason) }
func (e *InvalidKey) Code() Code    { return CodeValidationFailed }

// ProofGenerationFailed is returned when proof generation cannot proceed,
// e.g. the proving key is missing or circuit-incompatible.
type ProofGenerationFailed struct {
	Reason string
}

func (e *ProofGenerationFailed) Error() string {
	return fmt.Sprintf("proof generation failed: %s", e.Reason)
}
func (e *ProofGenerationFailed) Code() Code { return CodeInternal }

// InvalidWitness is returned when witness inputs are not well-formed.
type InvalidWitness struct {
	Reason string
}

func (e *InvalidWitness) Error() string { return fmt.Sprintf("invalid witness: %s", e.Reason) }
func (e *InvalidWitness) Code() Code    { return CodeValidationFailed }

// ResultNotFound is returned by the settlement validator when no
// InferenceResult is stored for a job id.
type ResultNotFound struct {
	JobID string
}

func (e *ResultNotFound) Error() string { return fmt.Sprintf("result not found: job=%s", e.JobID) }
func (e *ResultNotFound) Code() Code    { return CodeNotFound }

// ProofNotFound is returned by the settlement validator when no ProofData is
// stored for a job id.
type ProofNotFound struct {
	JobID string
}

func (e *ProofNotFound) Error() string { return fmt.Sprintf("proof not found: job=%s", e.JobID) }
func (e *ProofNotFound) Code() Code    { return CodeNotFound }

// CheckpointUploadFailed is returned when a delta or index upload to the
// storage backend fails. The caller must not submit an on-chain payment
// claim for the affected token range.
type CheckpointUploadFailed struct {
	SessionID string
	Reason    string
}

func (e *CheckpointUploadFailed) Error() string {
	return fmt.Sprintf("checkpoint upload failed: session=%s reason=%s", e.SessionID, e.Reason)
}
func (e *CheckpointUploadFailed) Code() Code { return CodeInternal }

// DecryptionFailed is returned when AEAD decryption of a handshake or frame
// payload fails authentication.
type DecryptionFailed struct {
	SessionID string
}

func (e *DecryptionFailed) Error() string {
	return fmt.Sprintf("decryption failed: session=%s", e.SessionID)
}
func (e *DecryptionFailed) Code() Code { return CodeDecryptionFailed }

// SignatureVerificationFailed is returned when a recovered signer does not
// match the expected address, or recovery itself fails.
type SignatureVerificationFailed struct {
	Reason string
}

func (e *SignatureVerificationFailed) Error() string {
	return fmt.Sprintf("signature verification failed: %s", e.Reason)
}
func (e *SignatureVerificationFailed) Code() Code { return CodeSignatureInvalid }

// TokenCountMismatch is returned at settlement when a claim's tokens_claimed
// does not equal the sum of token_range widths across the session's
// published checkpoint index — the stored proof binds hashes, not a token
// count, so the signed index is the only authoritative record of it.
type TokenCountMismatch struct {
	JobID      string
	Claimed    uint64
	IndexTotal uint64
}

func (e *TokenCountMismatch) Error() string {
	return fmt.Sprintf("token count mismatch: job=%s claimed=%d index_total=%d", e.JobID, e.Claimed, e.IndexTotal)
}
func (e *TokenCountMismatch) Code() Code { return CodeValidationFailed }

// RateLimitExceeded is returned by the transport rate limiter when a
// (chain, key) bucket has no tokens left.
type RateLimitExceeded struct {
	ChainID uint64
	Key     string
}

func (e *RateLimitExceeded) Error() string {
	return fmt.Sprintf("rate limit exceeded: chain=%d key=%s", e.ChainID, e.Key)
}
func (e *RateLimitExceeded) Code() Code { return CodeRateLimitExceeded }

// ValidationFailed is a generic field/shape validation error. Field never
// carries the offending value itself, only its name.
type ValidationFailed struct {
	Field  string
	Reason string
}

func (e *ValidationFailed) Error() string {
	return fmt.Sprintf("validation failed: field=%s reason=%s", e.Field, e.Reason)
}
func (e *ValidationFailed) Code() Code { return CodeValidationFailed }

// coder is satisfied by every typed error above; used to map an error to its
// wire code at the transport/server boundary.
type coder interface {
	Code() Code
}

// CodeOf returns the wire code for err, or CodeInternal if err does not carry
// one of its own.
func CodeOf(err error) Code {
	if c, ok := err.(coder); ok {
		return c.Code()
	}
	return CodeInternal
}
