package handshake

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/certen/inference-host/pkg/sessionkeys"
)

func TestHandshakeRoundTrip(t *testing.T) {
	nodeKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	keys := sessionkeys.New(0)
	h := New(nodeKey, keys, 84532)

	ephPriv, err := crypto.GenerateKey()
	require.NoError(t, err)

	curve := crypto.S256()
	sharedX, _ := curve.ScalarMult(nodeKey.PublicKey.X, nodeKey.PublicKey.Y, ephPriv.D.Bytes())
	reader := hkdf.New(sha256.New, sharedX.Bytes(), nil, []byte(hkdfInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	_, err = io.ReadFull(reader, key)
	require.NoError(t, err)

	aead, err := chacha20poly1305.New(key)
	require.NoError(t, err)
	nonce := make([]byte, aead.NonceSize())
	aad := []byte("session-init")

	var sessionKeyBytes [32]byte
	sessionKeyBytes[0] = 0x42
	plaintext, err := json.Marshal(map[string]any{
		"jobId":         "job-1",
		"modelName":     "llama-3",
		"sessionKey":    hex.EncodeToString(sessionKeyBytes[:]),
		"pricePerToken": 0.001,
	})
	require.NoError(t, err)
	ciphertext := aead.Seal(nil, nonce, plaintext, aad)

	clientKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	digest := sha256.Sum256(ciphertext)
	rawSig, err := crypto.Sign(digest[:], clientKey)
	require.NoError(t, err)
	rawSig[64] += 27
	sigHex := "0x" + hex.EncodeToString(rawSig)

	msg := InitMessage{
		Type:      "encrypted_session_init",
		SessionID: "sess-1",
		Payload: InitPayload{
			EphPubHex:     hex.EncodeToString(crypto.FromECDSAPub(&ephPriv.PublicKey)),
			CiphertextHex: hex.EncodeToString(ciphertext),
			NonceHex:      hex.EncodeToString(nonce),
			SignatureHex:  sigHex,
			AADHex:        hex.EncodeToString(aad),
		},
	}

	meta, err := h.Process(msg)
	require.NoError(t, err)
	require.Equal(t, "sess-1", meta.SessionID)
	require.Equal(t, "job-1", meta.JobID)
	require.Equal(t, uint64(84532), meta.ChainID)
	require.Equal(t, crypto.PubkeyToAddress(clientKey.PublicKey).Bytes(), meta.ClientAddress[:])

	installed, ok := keys.GetKey("sess-1")
	require.True(t, ok)
	require.Equal(t, sessionKeyBytes, installed)
}

func TestHandshakeRejectsEmptySessionID(t *testing.T) {
	nodeKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	h := New(nodeKey, sessionkeys.New(0), 84532)
	_, err = h.Process(InitMessage{SessionID: ""})
	require.Error(t, err)
}

func TestHandshakeRejectsMalformedHex(t *testing.T) {
	nodeKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	h := New(nodeKey, sessionkeys.New(0), 84532)
	_, err = h.Process(InitMessage{
		SessionID: "sess-1",
		Payload:   InitPayload{EphPubHex: "not-hex"},
	})
	require.Error(t, err)
}

func TestHandshakeFailsDecryptionOnWrongKey(t *testing.T) {
	nodeKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	h := New(nodeKey, sessionkeys.New(0), 84532)

	ephPriv, err := crypto.GenerateKey()
	require.NoError(t, err)

	// Encrypt with a key derived against a *different* node key, so the
	// handshake's own ECDH derivation cannot match it.
	wrongNodeKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	curve := crypto.S256()
	sharedX, _ := curve.ScalarMult(wrongNodeKey.PublicKey.X, wrongNodeKey.PublicKey.Y, ephPriv.D.Bytes())
	reader := hkdf.New(sha256.New, sharedX.Bytes(), nil, []byte(hkdfInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	_, err = io.ReadFull(reader, key)
	require.NoError(t, err)

	aead, err := chacha20poly1305.New(key)
	require.NoError(t, err)
	nonce := make([]byte, aead.NonceSize())
	ciphertext := aead.Seal(nil, nonce, []byte(`{"jobId":"job-1"}`), []byte("aad"))

	clientKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	digest := sha256.Sum256(ciphertext)
	rawSig, err := crypto.Sign(digest[:], clientKey)
	require.NoError(t, err)
	rawSig[64] += 27

	msg := InitMessage{
		SessionID: "sess-1",
		Payload: InitPayload{
			EphPubHex:     hex.EncodeToString(crypto.FromECDSAPub(&ephPriv.PublicKey)),
			CiphertextHex: hex.EncodeToString(ciphertext),
			NonceHex:      hex.EncodeToString(nonce),
			SignatureHex:  "0x" + hex.EncodeToString(rawSig),
			AADHex:        hex.EncodeToString([]byte("aad")),
		},
	}

	_, err = h.Process(msg)
	require.Error(t, err)
}
