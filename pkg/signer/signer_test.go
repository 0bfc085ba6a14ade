package signer

import (
	"crypto/sha256"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	pk, err := crypto.GenerateKey()
	require.NoError(t, err)
	return New(pk)
}

func TestSignClaimRecoversToSignerAddress(t *testing.T) {
	s := newTestSigner(t)
	proofHash := sha256.Sum256([]byte("proof-1"))

	sig, err := s.SignClaim(proofHash, 1000)
	require.NoError(t, err)
	require.Len(t, sig, 2+sigLen*2)

	ok, err := s.VerifyClaim(sig, proofHash, s.Address(), 1000)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSignatureChangesWithAnyInput(t *testing.T) {
	s := newTestSigner(t)
	proofHash := sha256.Sum256([]byte("proof-1"))
	other := sha256.Sum256([]byte("proof-2"))

	base, err := s.SignClaim(proofHash, 1000)
	require.NoError(t, err)

	withDifferentProof, err := s.SignClaim(other, 1000)
	require.NoError(t, err)
	require.NotEqual(t, base, withDifferentProof)

	withDifferentTokens, err := s.SignClaim(proofHash, 1001)
	require.NoError(t, err)
	require.NotEqual(t, base, withDifferentTokens)
}

func TestVerifyClaimFailsForWrongHost(t *testing.T) {
	s := newTestSigner(t)
	other := newTestSigner(t)
	proofHash := sha256.Sum256([]byte("proof-1"))

	sig, err := s.SignClaim(proofHash, 1000)
	require.NoError(t, err)

	ok, err := s.VerifyClaim(sig, proofHash, other.Address(), 1000)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRecoverAddressRejectsWrongLength(t *testing.T) {
	_, err := RecoverAddress("0x1234", sha256.Sum256([]byte("x")))
	require.Error(t, err)
}

func TestRecoverAddressRejectsBadRecoveryID(t *testing.T) {
	s := newTestSigner(t)
	proofHash := sha256.Sum256([]byte("proof-1"))
	sig, err := s.SignClaim(proofHash, 1000)
	require.NoError(t, err)

	// Corrupt the trailing v byte (last 2 hex chars) to an invalid value.
	corrupted := sig[:len(sig)-2] + "99"
	_, err = RecoverAddress(corrupted, ClaimDigest(proofHash, s.Address(), 1000))
	require.Error(t, err)
}
