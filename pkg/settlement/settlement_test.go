package settlement

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/certen/inference-host/pkg/resultstore"
	"github.com/certen/inference-host/pkg/witness"
)

func fixedModelHash(_ string) [32]byte {
	return sha256String("model-a")
}

func seedPassingJob(t *testing.T, store *resultstore.Store, engine *witness.Engine, jobID string) {
	t.Helper()
	result := resultstore.InferenceResult{
		JobID:    jobID,
		ModelID:  "model-a",
		Prompt:   "hello",
		Response: "world",
	}
	require.NoError(t, store.PutResult(jobID, result))

	w := witness.Witness{
		JobIDHash:  sha256JobID(jobID),
		ModelHash:  fixedModelHash("model-a"),
		InputHash:  sha256String(result.Prompt),
		OutputHash: sha256String(result.Response),
	}
	proof, err := engine.GenerateProof(w, nil)
	require.NoError(t, err)
	require.NoError(t, store.PutProof(jobID, *proof))
}

func TestValidatePassesForMatchingProof(t *testing.T) {
	store := resultstore.New(nil)
	engine := witness.NewEngine(witness.ModeMock)
	seedPassingJob(t, store, engine, "job-1")

	v := New(store, engine, nil, fixedModelHash)
	ok, err := v.Validate("job-1")
	require.NoError(t, err)
	require.True(t, ok)

	m := v.GetMetrics()
	require.Equal(t, uint64(1), m.ValidationsTotal)
	require.Equal(t, uint64(1), m.ValidationsPassed)
	require.Equal(t, 1.0, m.SuccessRate())
}

func TestValidateFailsWhenResponseTampered(t *testing.T) {
	store := resultstore.New(nil)
	engine := witness.NewEngine(witness.ModeMock)
	seedPassingJob(t, store, engine, "job-2")

	result, ok := store.GetResult("job-2")
	require.True(t, ok)
	result.Response = "tampered"
	require.NoError(t, store.PutResult("job-2", result))

	v := New(store, engine, nil, fixedModelHash)
	ok, err := v.Validate("job-2")
	require.NoError(t, err)
	require.False(t, ok)

	m := v.GetMetrics()
	require.Equal(t, uint64(1), m.ValidationsTotal)
	require.Equal(t, uint64(0), m.ValidationsPassed)
}

func TestValidateMissingResult(t *testing.T) {
	store := resultstore.New(nil)
	engine := witness.NewEngine(witness.ModeMock)
	v := New(store, engine, nil, fixedModelHash)

	ok, err := v.Validate("missing-job")
	require.Error(t, err)
	require.False(t, ok)
}

func TestValidateMissingProof(t *testing.T) {
	store := resultstore.New(nil)
	engine := witness.NewEngine(witness.ModeMock)
	require.NoError(t, store.PutResult("job-4", resultstore.InferenceResult{
		JobID:    "job-4",
		ModelID:  "model-a",
		Prompt:   "p",
		Response: "r",
	}))

	v := New(store, engine, nil, fixedModelHash)
	ok, err := v.Validate("job-4")
	require.Error(t, err)
	require.False(t, ok)
}

func TestCleanupRemovesBothRecords(t *testing.T) {
	store := resultstore.New(nil)
	engine := witness.NewEngine(witness.ModeMock)
	seedPassingJob(t, store, engine, "job-5")

	v := New(store, engine, nil, fixedModelHash)
	ok, err := v.Validate("job-5")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, v.Cleanup("job-5"))
	_, ok = store.GetResult("job-5")
	require.False(t, ok)
	_, ok = store.GetProof("job-5")
	require.False(t, ok)
}
