// Copyright 2025 Certen Protocol
//
// Publisher buffers per-session messages and turns them into signed,
// sealed checkpoint deltas and indices on durable storage. "No proof
// without state": a failed upload never clears the buffer and never lets
// the caller proceed to submit on-chain payment for the affected range.

package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/certen/inference-host/internal/errs"
	"github.com/certen/inference-host/pkg/commitment"
	"github.com/certen/inference-host/pkg/sessionkeys"
	"github.com/certen/inference-host/pkg/signer"
)

// Publisher owns the checkpoint buffer and index state for every session on
// one host.
type Publisher struct {
	mu      sync.Mutex
	host    [20]byte
	hostHex string
	signer  *signer.Signer
	keys    *sessionkeys.Store
	storage StorageBackend
	logger  *log.Logger

	buffers map[string][]Message
	indices map[string]Index
}

// New returns a Publisher for host's signing key, sealing objects with keys
// and uploading through storage.
func New(s *signer.Signer, keys *sessionkeys.Store, storage StorageBackend) *Publisher {
	return &Publisher{
		host:    s.Address(),
		hostHex: s.AddressHex(),
		signer:  s,
		keys:    keys,
		storage: storage,
		logger:  log.New(os.Stdout, "[Checkpoint] ", log.LstdFlags),
		buffers: make(map[string][]Message),
		indices: make(map[string]Index),
	}
}

// Buffer appends msg to sessionID's pending checkpoint buffer, in arrival
// order.
func (p *Publisher) Buffer(sessionID string, msg Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buffers[sessionID] = append(p.buffers[sessionID], msg)
}

// InitSession resumes sessionID from existing storage: if an index is
// present, internal counters are populated to its highest index + 1. A
// session with no existing index is left at index 0; this is a no-op, not
// an error.
func (p *Publisher) InitSession(ctx context.Context, sessionID string) error {
	sessionKey, ok := p.keys.GetKey(sessionID)
	if !ok {
		return &errs.ValidationFailed{Field: "session_id", Reason: "no session key installed"}
	}

	blob, found, err := p.storage.Get(ctx, indexPath(p.hostHex, sessionID))
	if err != nil {
		return fmt.Errorf("fetch existing index: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !found {
		return nil
	}

	plaintext, err := open(sessionKey, blob)
	if err != nil {
		return &errs.DecryptionFailed{SessionID: sessionID}
	}
	var idx Index
	if err := json.Unmarshal(plaintext, &idx); err != nil {
		return fmt.Errorf("parse existing index: %w", err)
	}
	p.indices[sessionID] = idx
	return nil
}

// Index returns sessionID's current signed checkpoint index, if any
// checkpoint has been published for it yet. This is the authoritative
// token-count record for settlement: the stored proof binds hashes, not a
// claimed token count.
func (p *Publisher) Index(sessionID string) (Index, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx, ok := p.indices[sessionID]
	return idx, ok
}

// Publish drains sessionID's buffer into a new CheckpointDelta covering
// [tokenStart, tokenEnd), signs it, and uploads it plus the updated index.
// On any upload failure the buffer is left intact and the caller must not
// submit payment for this range.
func (p *Publisher) Publish(ctx context.Context, sessionID, proofHash string, tokenStart, tokenEnd uint64) (Delta, error) {
	sessionKey, ok := p.keys.GetKey(sessionID)
	if !ok {
		return Delta{}, &errs.ValidationFailed{Field: "session_id", Reason: "no session key installed"}
	}

	p.mu.Lock()
	idx := p.indices[sessionID]
	messages := append([]Message(nil), p.buffers[sessionID]...)
	p.mu.Unlock()

	wantStart := idx.NextTokenStart()
	if tokenStart != wantStart {
		return Delta{}, &errs.ValidationFailed{Field: "token_start", Reason: fmt.Sprintf("expected %d, got %d (ranges must be contiguous)", wantStart, tokenStart)}
	}
	if tokenEnd < tokenStart {
		return Delta{}, &errs.ValidationFailed{Field: "token_end", Reason: "must not precede token_start"}
	}

	delta := Delta{
		SessionID:       sessionID,
		CheckpointIndex: idx.NextIndex(),
		TokenRange:      TokenRange{Start: tokenStart, End: tokenEnd},
		Messages:        messages,
		ProofHash:       proofHash,
	}

	sig, err := p.signDelta(delta)
	if err != nil {
		return Delta{}, &errs.CheckpointUploadFailed{SessionID: sessionID, Reason: "sign delta: " + err.Error()}
	}
	delta.HostSignature = sig

	deltaCID, err := commitment.HashCanonical(delta)
	if err != nil {
		return Delta{}, &errs.CheckpointUploadFailed{SessionID: sessionID, Reason: "hash delta: " + err.Error()}
	}

	if err := p.uploadSealed(ctx, sessionKey, deltaPath(p.hostHex, sessionID, delta.CheckpointIndex), delta); err != nil {
		return Delta{}, &errs.CheckpointUploadFailed{SessionID: sessionID, Reason: "upload delta: " + err.Error()}
	}

	newIdx := Index{
		SessionID:   sessionID,
		HostAddress: p.hostHex,
		Checkpoints: append(append([]IndexEntry(nil), idx.Checkpoints...), IndexEntry{
			Index:      delta.CheckpointIndex,
			TokenRange: delta.TokenRange,
			ProofHash:  proofHash,
			DeltaCID:   deltaCID,
			Timestamp:  time.Now().UnixMilli(),
		}),
	}

	idxSig, err := p.signIndex(newIdx)
	if err != nil {
		return Delta{}, &errs.CheckpointUploadFailed{SessionID: sessionID, Reason: "sign index: " + err.Error()}
	}
	newIdx.HostSignature = idxSig

	if err := p.uploadSealed(ctx, sessionKey, indexPath(p.hostHex, sessionID), newIdx); err != nil {
		// The delta above is already durable and idempotent by content hash;
		// the caller may retry Publish with the same range and it will
		// re-upload the identical delta object before retrying the index.
		return Delta{}, &errs.CheckpointUploadFailed{SessionID: sessionID, Reason: "upload index: " + err.Error()}
	}

	p.mu.Lock()
	p.indices[sessionID] = newIdx
	p.buffers[sessionID] = nil
	p.mu.Unlock()

	p.logger.Printf("published checkpoint session=%s index=%d tokens=[%d,%d)", sessionID, delta.CheckpointIndex, tokenStart, tokenEnd)
	return delta, nil
}

// Cleanup removes sessionID's checkpoint objects. cancelled sessions always
// have every delta referenced by the index, then the index itself, deleted;
// completed sessions are retained unless retainCompleted is false. The
// number of deltas deleted is returned; the index deletion is not counted.
func (p *Publisher) Cleanup(ctx context.Context, sessionID string, cancelled bool, retainCompleted bool) (int, error) {
	if !cancelled && retainCompleted {
		return 0, nil
	}

	p.mu.Lock()
	idx := p.indices[sessionID]
	p.mu.Unlock()

	deleted := 0
	for _, entry := range idx.Checkpoints {
		if err := p.storage.Delete(ctx, deltaPath(p.hostHex, sessionID, entry.Index)); err != nil {
			return deleted, fmt.Errorf("delete delta %d: %w", entry.Index, err)
		}
		deleted++
	}
	if err := p.storage.Delete(ctx, indexPath(p.hostHex, sessionID)); err != nil {
		return deleted, fmt.Errorf("delete index: %w", err)
	}

	p.mu.Lock()
	delete(p.indices, sessionID)
	delete(p.buffers, sessionID)
	p.mu.Unlock()

	return deleted, nil
}

func (p *Publisher) signDelta(d Delta) (string, error) {
	unsigned := d
	unsigned.HostSignature = ""
	canon, err := commitment.MarshalCanonical(unsigned)
	if err != nil {
		return "", err
	}
	return p.signer.SignMessage(canon)
}

func (p *Publisher) signIndex(idx Index) (string, error) {
	unsigned := idx
	unsigned.HostSignature = ""
	canon, err := commitment.MarshalCanonical(unsigned)
	if err != nil {
		return "", err
	}
	return p.signer.SignMessage(canon)
}

func (p *Publisher) uploadSealed(ctx context.Context, key [32]byte, path string, v any) error {
	canon, err := commitment.MarshalCanonical(v)
	if err != nil {
		return fmt.Errorf("canonicalize: %w", err)
	}
	blob, err := seal(key, canon)
	if err != nil {
		return fmt.Errorf("seal: %w", err)
	}
	return p.storage.Put(ctx, path, blob)
}

func deltaPath(hostHex, sessionID string, index uint64) string {
	return fmt.Sprintf("home/checkpoints/%s/%s/delta_%d.json", hostHex, sessionID, index)
}

func indexPath(hostHex, sessionID string) string {
	return fmt.Sprintf("home/checkpoints/%s/%s/index.json", hostHex, sessionID)
}
