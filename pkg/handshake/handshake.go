// Copyright 2025 Certen Protocol
//
// Session handshake: ephemeral-ECDH key agreement, AEAD decryption of the
// session-init payload, and sender-signature verification, culminating in a
// session key installed in the session key store.

package handshake

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/certen/inference-host/internal/errs"
	"github.com/certen/inference-host/pkg/sessionkeys"
	"github.com/certen/inference-host/pkg/signer"
)

const hkdfInfo = "certen-inference-host/session-key/v1"

// InitPayload is the payload field of an encrypted_session_init message.
type InitPayload struct {
	EphPubHex     string `json:"ephPubHex"`
	CiphertextHex string `json:"ciphertextHex"`
	NonceHex      string `json:"nonceHex"`
	SignatureHex  string `json:"signatureHex"`
	AADHex        string `json:"aadHex"`
}

// InitMessage is the full encrypted_session_init wire message.
type InitMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id"`
	ChainID   *uint64     `json:"chain_id,omitempty"`
	Payload   InitPayload `json:"payload"`
}

// sessionPlaintext is the decrypted plaintext JSON carried inside the
// ciphertext.
type sessionPlaintext struct {
	JobID         string  `json:"jobId"`
	ModelName     string  `json:"modelName"`
	SessionKeyHex string  `json:"sessionKey"`
	PricePerToken float64 `json:"pricePerToken"`
}

// Metadata is the session record produced on a successful handshake.
type Metadata struct {
	SessionID     string
	ClientAddress [20]byte
	ChainID       uint64
	JobID         string
	ModelName     string
	PricePerToken float64
}

// Handshake performs session initialization against a node's long-term key
// and installs resulting session keys.
type Handshake struct {
	nodeKey     *ecdsa.PrivateKey
	keys        *sessionkeys.Store
	primaryChain uint64
}

// New builds a Handshake. primaryChain is used when a session_init message
// omits chain_id.
func New(nodeKey *ecdsa.PrivateKey, keys *sessionkeys.Store, primaryChain uint64) *Handshake {
	return &Handshake{nodeKey: nodeKey, keys: keys, primaryChain: primaryChain}
}

// Process runs steps 1-7 of session initialization for msg and returns the
// recorded session metadata on success.
func (h *Handshake) Process(msg InitMessage) (*Metadata, error) {
	if msg.SessionID == "" {
		return nil, &errs.ValidationFailed{Field: "session_id", Reason: "must not be empty"}
	}

	ephPub, err := decodeHex(msg.Payload.EphPubHex)
	if err != nil {
		return nil, &errs.ValidationFailed{Field: "ephPubHex", Reason: "malformed hex"}
	}
	ciphertext, err := decodeHex(msg.Payload.CiphertextHex)
	if err != nil {
		return nil, &errs.ValidationFailed{Field: "ciphertextHex", Reason: "malformed hex"}
	}
	nonce, err := decodeHex(msg.Payload.NonceHex)
	if err != nil {
		return nil, &errs.ValidationFailed{Field: "nonceHex", Reason: "malformed hex"}
	}
	aad, err := decodeHex(msg.Payload.AADHex)
	if err != nil {
		return nil, &errs.ValidationFailed{Field: "aadHex", Reason: "malformed hex"}
	}

	derivedKey, err := h.deriveSharedKey(ephPub)
	if err != nil {
		return nil, &errs.ValidationFailed{Field: "ephPubHex", Reason: err.Error()}
	}

	plaintext, err := aeadDecrypt(derivedKey, nonce, ciphertext, aad)
	if err != nil {
		return nil, &errs.DecryptionFailed{SessionID: msg.SessionID}
	}

	digest := sha256.Sum256(ciphertext)
	clientAddr, err := signer.RecoverAddress(msg.Payload.SignatureHex, digest)
	if err != nil {
		return nil, &errs.SignatureVerificationFailed{Reason: err.Error()}
	}

	var parsed sessionPlaintext
	if err := json.Unmarshal(plaintext, &parsed); err != nil {
		return nil, &errs.ValidationFailed{Field: "payload", Reason: "plaintext is not valid session json"}
	}

	sessionKeyBytes, err := decodeHex(parsed.SessionKeyHex)
	if err != nil || len(sessionKeyBytes) != 32 {
		return nil, &errs.ValidationFailed{Field: "sessionKey", Reason: "must be 32 bytes hex"}
	}
	var sessionKey [32]byte
	copy(sessionKey[:], sessionKeyBytes)

	chainID := h.primaryChain
	if msg.ChainID != nil {
		chainID = *msg.ChainID
	}

	h.keys.StoreKey(msg.SessionID, sessionKey)

	return &Metadata{
		SessionID:     msg.SessionID,
		ClientAddress: clientAddr,
		ChainID:       chainID,
		JobID:         parsed.JobID,
		ModelName:     parsed.ModelName,
		PricePerToken: parsed.PricePerToken,
	}, nil
}

// Ack builds the session_init_ack reply for a successfully processed
// handshake.
func Ack(sessionID string, chainID uint64) map[string]any {
	return map[string]any{
		"type":       "session_init_ack",
		"session_id": sessionID,
		"chain_id":   chainID,
		"status":     "success",
	}
}

// deriveSharedKey runs ECDH between the node's long-term key and the
// client's ephemeral public key, then HKDF-expands the shared x-coordinate
// into a 32-byte AEAD key.
func (h *Handshake) deriveSharedKey(ephPubBytes []byte) ([]byte, error) {
	ephPub, err := crypto.UnmarshalPubkey(ephPubBytes)
	if err != nil {
		return nil, fmt.Errorf("unmarshal ephemeral pubkey: %w", err)
	}

	curve := crypto.S256()
	sharedX, _ := curve.ScalarMult(ephPub.X, ephPub.Y, h.nodeKey.D.Bytes())
	if sharedX == nil {
		return nil, fmt.Errorf("ecdh produced no shared point")
	}

	reader := hkdf.New(sha256.New, sharedX.Bytes(), nil, []byte(hkdfInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return key, nil
}

func aeadDecrypt(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("build aead: %w", err)
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("bad nonce size")
	}
	return aead.Open(nil, nonce, ciphertext, aad)
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
