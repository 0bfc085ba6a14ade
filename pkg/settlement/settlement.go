// Copyright 2025 Certen Protocol
//
// Settlement validator: the pre-payment gate. Given a job id, it rebuilds the
// witness from the stored inference result using the same hashing rule the
// proving side used, re-verifies the stored proof against that witness, and
// reports pass/fail. A mismatch is a dispute outcome, never an error — only
// missing records or an engine malfunction are errors.

package settlement

import (
	"sync"
	"time"

	"github.com/certen/inference-host/internal/errs"
	"github.com/certen/inference-host/pkg/resultstore"
	"github.com/certen/inference-host/pkg/witness"
)

// ModelHashFunc resolves a model identifier to its content hash. Substituting
// a same-hash model for a different model id is, by construction, not
// detectable here: the validator binds identity through hashes, not names.
type ModelHashFunc func(modelID string) [32]byte

// Metrics holds the running counters the validator maintains.
type Metrics struct {
	ValidationsTotal  uint64
	ValidationsPassed uint64
	TotalDurationMs   uint64
}

// SuccessRate returns ValidationsPassed / ValidationsTotal, or 0 if none run.
func (m Metrics) SuccessRate() float64 {
	if m.ValidationsTotal == 0 {
		return 0
	}
	return float64(m.ValidationsPassed) / float64(m.ValidationsTotal)
}

// AvgValidationMs returns the mean validation duration in milliseconds.
func (m Metrics) AvgValidationMs() float64 {
	if m.ValidationsTotal == 0 {
		return 0
	}
	return float64(m.TotalDurationMs) / float64(m.ValidationsTotal)
}

// Validator checks settlement eligibility for completed jobs.
type Validator struct {
	mu       sync.Mutex
	store    *resultstore.Store
	engine   *witness.Engine
	vk       *witness.KeyMaterial
	modelHash ModelHashFunc
	metrics  Metrics
}

// New builds a Validator. vk is nil in mock mode.
func New(store *resultstore.Store, engine *witness.Engine, vk *witness.KeyMaterial, modelHash ModelHashFunc) *Validator {
	return &Validator{
		store:     store,
		engine:    engine,
		vk:        vk,
		modelHash: modelHash,
	}
}

// Validate rebuilds the witness for jobID from the stored result, re-verifies
// the stored proof against it, and records the outcome in Metrics. It returns
// (false, nil) for a dispute (proof/witness mismatch), and a non-nil error
// only when the records are absent or the engine itself malfunctions.
func (v *Validator) Validate(jobID string) (bool, error) {
	start := time.Now()

	result, ok := v.store.GetResult(jobID)
	if !ok {
		return false, &errs.ResultNotFound{JobID: jobID}
	}
	proof, ok := v.store.GetProof(jobID)
	if !ok {
		return false, &errs.ProofNotFound{JobID: jobID}
	}

	modelHash := v.modelHash(result.ModelID)
	w := witness.Witness{
		JobIDHash:  sha256JobID(jobID),
		ModelHash:  modelHash,
		InputHash:  sha256String(result.Prompt),
		OutputHash: sha256String(result.Response),
	}

	passed, err := v.engine.VerifyProof(&proof, w, v.vk)
	elapsed := time.Since(start)

	v.mu.Lock()
	v.metrics.ValidationsTotal++
	if passed {
		v.metrics.ValidationsPassed++
	}
	v.metrics.TotalDurationMs += uint64(elapsed.Milliseconds())
	v.mu.Unlock()

	if err != nil {
		return false, err
	}
	return passed, nil
}

// Cleanup removes the result and proof records for jobID after settlement
// (whether it passed or was disputed and resolved off-chain).
func (v *Validator) Cleanup(jobID string) error {
	return v.store.DeleteBoth(jobID)
}

// GetMetrics returns a snapshot of the validator's running counters.
func (v *Validator) GetMetrics() Metrics {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.metrics
}
