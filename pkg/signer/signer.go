// Copyright 2025 Certen Protocol
//
// Signer creates and verifies recoverable secp256k1 signatures binding a
// settlement proof to a claimed token count, and recovers signer addresses
// at session handshake time. All signatures are EIP-191-style: 65 bytes
// (r: 32, s: 32, v: 27 or 28), hex-encoded with a leading 0x.

package signer

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/certen/inference-host/internal/errs"
)

const sigLen = 65

// Signer holds the host's secp256k1 key and signs payment claims.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    [20]byte
}

// New builds a Signer from an already-parsed private key.
func New(privateKey *ecdsa.PrivateKey) *Signer {
	addr := crypto.PubkeyToAddress(privateKey.PublicKey)
	var a [20]byte
	copy(a[:], addr.Bytes())
	return &Signer{privateKey: privateKey, address: a}
}

// NewFromHex builds a Signer from a hex-encoded private key (with or without
// a leading 0x).
func NewFromHex(hexKey string) (*Signer, error) {
	pk, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, &errs.InvalidKey{Reason: "malformed private key hex: " + err.Error()}
	}
	return New(pk), nil
}

// Address returns the host's 20-byte address.
func (s *Signer) Address() [20]byte {
	return s.address
}

// PrivateKey returns the underlying key, for collaborators that need it
// directly (e.g. handshake ECDH).
func (s *Signer) PrivateKey() *ecdsa.PrivateKey {
	return s.privateKey
}

// AddressHex returns the host's address as 0x<lowercase-hex>.
func (s *Signer) AddressHex() string {
	return addressHex(s.address)
}

// ClaimDigest computes Keccak-256 over the packed concatenation of
// (proof_hash: 32, host_address: 20, tokens_claimed: u256 big-endian
// zero-padded to 32), the digest the host signs to authorize a payment claim.
func ClaimDigest(proofHash [32]byte, hostAddress [20]byte, tokensClaimed uint64) [32]byte {
	var buf [84]byte
	copy(buf[0:32], proofHash[:])
	copy(buf[32:52], hostAddress[:])
	big.NewInt(0).SetUint64(tokensClaimed).FillBytes(buf[52:84])
	return crypto.Keccak256Hash(buf[:]).Bytes32()
}

// SignClaim signs a payment claim for (proofHash, tokensClaimed), binding the
// signer's own address as host_address. Changing any of proof_hash,
// host_address, or tokens_claimed changes the resulting signature.
func (s *Signer) SignClaim(proofHash [32]byte, tokensClaimed uint64) (string, error) {
	digest := ClaimDigest(proofHash, s.address, tokensClaimed)
	return signDigest(s.privateKey, digest)
}

// signDigest signs a 32-byte digest and returns the 65-byte r||s||v
// signature hex-encoded with v in {27, 28}.
func signDigest(pk *ecdsa.PrivateKey, digest [32]byte) (string, error) {
	sig, err := crypto.Sign(digest[:], pk)
	if err != nil {
		return "", fmt.Errorf("sign digest: %w", err)
	}
	// crypto.Sign returns v in {0, 1}; the wire format requires {27, 28}.
	sig[64] += 27
	return "0x" + encodeHex(sig), nil
}

// VerifyClaim recovers the signer of a claim signature and compares it to
// expectedHost, case-insensitively.
func (s *Signer) VerifyClaim(sigHex string, proofHash [32]byte, expectedHost [20]byte, tokensClaimed uint64) (bool, error) {
	digest := ClaimDigest(proofHash, expectedHost, tokensClaimed)
	recovered, err := RecoverAddress(sigHex, digest)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(addressHex(recovered), addressHex(expectedHost)), nil
}

// RecoverAddress recovers the 20-byte address that produced sigHex over
// digest. sigHex must decode to exactly 65 bytes with v in {27, 28}.
func RecoverAddress(sigHex string, digest [32]byte) ([20]byte, error) {
	var zero [20]byte
	raw, err := decodeHex(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return zero, &errs.SignatureVerificationFailed{Reason: "malformed signature hex"}
	}
	if len(raw) != sigLen {
		return zero, &errs.SignatureVerificationFailed{Reason: fmt.Sprintf("signature length %d, want %d", len(raw), sigLen)}
	}

	v := raw[64]
	if v != 27 && v != 28 {
		return zero, &errs.SignatureVerificationFailed{Reason: "invalid recovery id"}
	}

	normalized := make([]byte, sigLen)
	copy(normalized, raw)
	normalized[64] = v - 27

	pub, err := crypto.SigToPub(digest[:], normalized)
	if err != nil {
		return zero, &errs.SignatureVerificationFailed{Reason: "signature recovery failed: " + err.Error()}
	}

	addr := crypto.PubkeyToAddress(*pub)
	var out [20]byte
	copy(out[:], addr.Bytes())
	return out, nil
}

// SignMessage signs arbitrary message bytes using the EIP-191 personal
// message prefix ("\x19Ethereum Signed Message:\n" + length), as used for
// checkpoint delta and index signatures.
func (s *Signer) SignMessage(message []byte) (string, error) {
	digest := eip191Digest(message)
	return signDigest(s.privateKey, digest)
}

// VerifyMessage recovers the signer of sigHex over message's EIP-191 digest
// and compares it to expectedAddress, case-insensitively.
func VerifyMessage(sigHex string, message []byte, expectedAddress [20]byte) (bool, error) {
	recovered, err := RecoverAddress(sigHex, eip191Digest(message))
	if err != nil {
		return false, err
	}
	return strings.EqualFold(addressHex(recovered), addressHex(expectedAddress)), nil
}

func eip191Digest(message []byte) [32]byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
	return crypto.Keccak256Hash([]byte(prefix), message).Bytes32()
}

func addressHex(a [20]byte) string {
	return "0x" + encodeHex(a[:])
}

func encodeHex(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexDigits[c>>4]
		out[i*2+1] = hexDigits[c&0x0f]
	}
	return string(out)
}

func decodeHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string")
	}
	out := make([]byte, len(s)/2)
	for i := 0; i < len(out); i++ {
		hi, err := hexNibble(s[i*2])
		if err != nil {
			return nil, err
		}
		lo, err := hexNibble(s[i*2+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("invalid hex digit %q", c)
	}
}
