// Copyright 2025 Certen Protocol
//
// Dispatch: routes a decrypted frame's JSON action field to a handler.
// Handlers return a structured payload (to be re-encrypted before send) or a
// typed error; errors always travel back inside an encrypted_response
// envelope, never as a plaintext top-level field.

package transport

import (
	"encoding/json"
	"fmt"

	"github.com/certen/inference-host/internal/errs"
)

// Frame is a decrypted inbound message.
type Frame struct {
	SessionID string
	MessageID string
	Raw       json.RawMessage
}

// actionEnvelope is used only to read the action discriminator field; the
// rest of the frame is handled by the selected Handler.
type actionEnvelope struct {
	Action string `json:"action"`
}

// Handler processes a frame's raw JSON and returns a payload to encrypt and
// send, or an error.
type Handler func(frame Frame) (any, error)

// Dispatcher routes frames to registered handlers by action name.
type Dispatcher struct {
	imageGen Handler
	handlers map[string]Handler
	fallback Handler
}

// NewDispatcher builds a Dispatcher. imageGen handles action =
// "image_generation"; fallback handles any other/absent action when no more
// specific handler is registered via RegisterAction.
func NewDispatcher(imageGen Handler, fallback Handler) *Dispatcher {
	return &Dispatcher{
		imageGen: imageGen,
		handlers: make(map[string]Handler),
		fallback: fallback,
	}
}

// RegisterAction adds a handler for a specific action value, e.g.
// "rag_search" or "inference".
func (d *Dispatcher) RegisterAction(action string, h Handler) {
	d.handlers[action] = h
}

// Dispatch inspects frame.Raw for an action field and routes accordingly.
func (d *Dispatcher) Dispatch(frame Frame) (any, error) {
	var env actionEnvelope
	if err := json.Unmarshal(frame.Raw, &env); err != nil {
		return nil, &errs.ValidationFailed{Field: "action", Reason: "frame is not valid json"}
	}

	if env.Action == "image_generation" {
		if d.imageGen == nil {
			return nil, fmt.Errorf("image generation handler not configured")
		}
		return d.imageGen(frame)
	}

	if h, ok := d.handlers[env.Action]; ok {
		return h(frame)
	}

	if d.fallback == nil {
		return nil, fmt.Errorf("no handler configured for action %q", env.Action)
	}
	return d.fallback(frame)
}

// ResponseEnvelope is the always-used shape for replies, success or error.
type ResponseEnvelope struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	MessageID string          `json:"message_id,omitempty"`
	Payload   EncryptedPayload `json:"payload"`
}

// EncryptedPayload is the re-encrypted response body.
type EncryptedPayload struct {
	CiphertextHex string `json:"ciphertextHex"`
	NonceHex      string `json:"nonceHex"`
	AADHex        string `json:"aadHex"`
}

// BuildErrorEnvelope wraps a typed error's wire code and message inside the
// same encrypted_response shape used for successful payloads, so errors
// never leak as plaintext top-level fields.
func BuildErrorEnvelope(sessionID, messageID string, err error, encrypt func(plaintext []byte) (EncryptedPayload, error)) (ResponseEnvelope, error) {
	body, marshalErr := json.Marshal(map[string]string{
		"error_code":    string(errs.CodeOf(err)),
		"error_message": err.Error(),
	})
	if marshalErr != nil {
		return ResponseEnvelope{}, marshalErr
	}
	payload, encErr := encrypt(body)
	if encErr != nil {
		return ResponseEnvelope{}, encErr
	}
	return ResponseEnvelope{
		Type:      "encrypted_response",
		SessionID: sessionID,
		MessageID: messageID,
		Payload:   payload,
	}, nil
}
